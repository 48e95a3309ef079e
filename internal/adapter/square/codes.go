package square

import "github.com/yourorg/payment-gateway/internal/model"

// Square reports verification outcomes as coarse statuses on
// payment.card_details rather than single-letter codes.
var avsStatuses = map[string]model.AVSResult{
	"AVS_ACCEPTED":    model.AVSMatch,
	"AVS_REJECTED":    model.AVSNoMatch,
	"AVS_NOT_CHECKED": model.AVSNotProcessed,
}

var cvvStatuses = map[string]model.CVVResult{
	"CVV_ACCEPTED":    model.CVVMatch,
	"CVV_REJECTED":    model.CVVNoMatch,
	"CVV_NOT_CHECKED": model.CVVNotProcessed,
}
