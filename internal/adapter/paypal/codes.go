package paypal

import "github.com/yourorg/payment-gateway/internal/model"

// AVSCODE values per the NVP API reference. Domestic and international
// codes collapse onto the shared vocabulary.
var avsCodes = map[string]model.AVSResult{
	"X": model.AVSMatch, // address and nine-digit zip
	"Y": model.AVSMatch, // address and five-digit zip
	"D": model.AVSMatch, // international: address and postal code
	"F": model.AVSMatch, // UK: address and postal code
	"A": model.AVSAddressMatch,
	"B": model.AVSAddressMatch, // international: address only
	"Z": model.AVSZipMatch,
	"W": model.AVSZipMatch, // nine-digit zip only
	"P": model.AVSZipMatch, // international: postal code only
	"N": model.AVSNoMatch,
	"C": model.AVSNoMatch, // international: no match
	"S": model.AVSNotSupported,
	"U": model.AVSNotAvailable,
	"G": model.AVSNotAvailable, // global unavailable
	"I": model.AVSNotAvailable, // international unavailable
	"R": model.AVSError,        // retry, system unavailable
	"E": model.AVSError,
	"":  model.AVSNotPresent,
}

// CVV2MATCH values.
var cvvCodes = map[string]model.CVVResult{
	"M": model.CVVMatch,
	"N": model.CVVNoMatch,
	"P": model.CVVNotProcessed,
	"S": model.CVVNotSupported,
	"X": model.CVVNotSupported, // no response from association
	"U": model.CVVNotAvailable,
	"":  model.CVVNotPresent,
}

// L_ERRORCODE0 values that represent issuer or filter declines rather
// than processing errors. Everything else on a Failure ACK is an ERROR
// outcome.
var declineCodes = map[string]bool{
	"10417": true, // instruct customer to use alternative payment
	"10544": true, // declined by risk controls
	"10545": true, // declined, suspected fraud
	"10546": true, // declined by gateway risk
	"10752": true, // declined by issuing bank
	"10759": true, // declined, ask for different card
	"11611": true, // blocked by fraud management filters
	"15002": true, // general decline
}
