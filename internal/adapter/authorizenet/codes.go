package authorizenet

import "github.com/yourorg/payment-gateway/internal/model"

// AVS response codes, AIM field 6.
var avsCodes = map[string]model.AVSResult{
	"Y": model.AVSMatch, // address and five-digit zip
	"X": model.AVSMatch, // address and nine-digit zip
	"A": model.AVSAddressMatch,
	"Z": model.AVSZipMatch, // five-digit zip only
	"W": model.AVSZipMatch, // nine-digit zip only
	"N": model.AVSNoMatch,
	"E": model.AVSError,
	"R": model.AVSNotAvailable, // system unavailable, retry
	"U": model.AVSNotAvailable, // address information unavailable
	"S": model.AVSNotSupported,
	"G": model.AVSNotSupported, // non-US issuing bank
	"P": model.AVSNotProcessed,
	"B": model.AVSNotPresent, // address not provided
	"":  model.AVSNotPresent,
}

// Card code verification, AIM field 39.
var cvvCodes = map[string]model.CVVResult{
	"M": model.CVVMatch,
	"N": model.CVVNoMatch,
	"P": model.CVVNotProcessed,
	"S": model.CVVNotPresent, // should have been present
	"U": model.CVVNotAvailable,
	"":  model.CVVNotPresent,
}
