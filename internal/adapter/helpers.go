package adapter

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/yourorg/payment-gateway/internal/model"
)

// DefaultTimeout bounds a single gateway HTTP call when the adapter is not
// given a custom client.
const DefaultTimeout = 30 * time.Second

// NewReferenceID synthesizes a merchant reference for callers that did not
// supply one: the provider name, a base-36 millisecond timestamp and six
// random characters, uppercased.
func NewReferenceID(provider string) string {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 36)
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return strings.ToUpper(provider + "-" + ts + "-" + suffix)
}

// WithinBounds reports whether an amount satisfies the provider's
// configured minimum and maximum. Unset bounds never constrain.
func WithinBounds(cfg model.ProviderConfig, amount decimal.Decimal) bool {
	if cfg.MinAmount != nil && amount.LessThan(*cfg.MinAmount) {
		return false
	}
	if cfg.MaxAmount != nil && amount.GreaterThan(*cfg.MaxAmount) {
		return false
	}
	return true
}

// CheckAmountBounds rejects out-of-bounds amounts before any network call.
func CheckAmountBounds(cfg model.ProviderConfig, amount decimal.Decimal) error {
	if cfg.MinAmount != nil && amount.LessThan(*cfg.MinAmount) {
		return &model.ValidationError{
			Field:  "amount",
			Reason: "below provider minimum " + cfg.MinAmount.StringFixed(2),
		}
	}
	if cfg.MaxAmount != nil && amount.GreaterThan(*cfg.MaxAmount) {
		return &model.ValidationError{
			Field:  "amount",
			Reason: "above provider maximum " + cfg.MaxAmount.StringFixed(2),
		}
	}
	return nil
}

// AmountString renders an amount the way form-encoded gateways expect it,
// as a fixed two-decimal string.
func AmountString(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// AmountCents converts an amount to minor units for gateways that bill in
// integer cents.
func AmountCents(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}

// CentsAmount converts integer minor units back to a decimal amount.
func CentsAmount(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// RetryableStatus reports whether an HTTP status means the gateway is
// unreachable or shedding load, in which case the call is surfaced as a
// ConnectionError and retried.
func RetryableStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests
}

// MapAVS translates a gateway AVS code through the adapter's table,
// defaulting unknown or absent codes to NOT_AVAILABLE. Tables may map the
// empty string explicitly when the gateway distinguishes "not sent".
func MapAVS(table map[string]model.AVSResult, code string) model.AVSResult {
	if r, ok := table[strings.ToUpper(strings.TrimSpace(code))]; ok {
		return r
	}
	return model.AVSNotAvailable
}

// MapCVV translates a gateway CVV code through the adapter's table,
// defaulting unknown or absent codes to NOT_PROCESSED.
func MapCVV(table map[string]model.CVVResult, code string) model.CVVResult {
	if r, ok := table[strings.ToUpper(strings.TrimSpace(code))]; ok {
		return r
	}
	return model.CVVNotProcessed
}
