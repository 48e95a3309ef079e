package stripe

import (
	"strings"

	"github.com/yourorg/payment-gateway/internal/model"
)

// Stripe reports address verification as two separate checks on the card
// source, each pass/fail/unavailable/unchecked. combineAVS folds them
// into the single normalized result.
func combineAVS(line1Check, zipCheck string) model.AVSResult {
	l := strings.ToLower(strings.TrimSpace(line1Check))
	z := strings.ToLower(strings.TrimSpace(zipCheck))
	switch {
	case l == "pass" && z == "pass":
		return model.AVSMatch
	case l == "pass":
		return model.AVSAddressMatch
	case z == "pass":
		return model.AVSZipMatch
	case l == "fail" || z == "fail":
		return model.AVSNoMatch
	case l == "unchecked" && z == "unchecked":
		return model.AVSNotProcessed
	case l == "" && z == "":
		return model.AVSNotPresent
	default:
		return model.AVSNotAvailable
	}
}

var cvcChecks = map[string]model.CVVResult{
	"PASS":        model.CVVMatch,
	"FAIL":        model.CVVNoMatch,
	"UNAVAILABLE": model.CVVNotAvailable,
	"UNCHECKED":   model.CVVNotProcessed,
}

// brandNames translates Stripe's display names for card networks.
var brandNames = map[string]model.CardBrand{
	"visa":             model.BrandVisa,
	"mastercard":       model.BrandMastercard,
	"american express": model.BrandAmex,
	"discover":         model.BrandDiscover,
	"diners club":      model.BrandDiners,
	"jcb":              model.BrandJCB,
	"unionpay":         model.BrandUnionPay,
}
