// Package model defines the normalized transaction model shared by every
// provider adapter, the registry, and the orchestrator. Adapters translate
// between these types and their gateway's wire format; nothing outside an
// adapter ever sees a raw gateway payload except as the opaque RawResponse
// bytes carried for audit.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// SystemTenant is the sentinel tenant that owns system-wide default
// providers registered at startup. Ordinary tenant ids never collide with
// it by convention.
const SystemTenant = "system"

// OperationType identifies a logical payment operation.
type OperationType string

const (
	OperationSale        OperationType = "sale"
	OperationAuthorize   OperationType = "authorize"
	OperationCapture     OperationType = "capture"
	OperationVoid        OperationType = "void"
	OperationRefund      OperationType = "refund"
	OperationVerify      OperationType = "verify"
	OperationTokenize    OperationType = "tokenize"
	OperationDeleteToken OperationType = "delete_token"
)

// TransactionStatus is the normalized outcome of an adapter call.
type TransactionStatus string

const (
	StatusApproved      TransactionStatus = "APPROVED"
	StatusDeclined      TransactionStatus = "DECLINED"
	StatusError         TransactionStatus = "ERROR"
	StatusHeldForReview TransactionStatus = "HELD_FOR_REVIEW"
	StatusVoided        TransactionStatus = "VOIDED"
	StatusRefunded      TransactionStatus = "REFUNDED"
	StatusPending       TransactionStatus = "PENDING"
)

// Successful reports whether the status represents a successful terminal
// operation. VOIDED and REFUNDED are successful outcomes of their own
// operations even though the underlying charge did not stand.
func (s TransactionStatus) Successful() bool {
	switch s {
	case StatusApproved, StatusVoided, StatusRefunded:
		return true
	default:
		return false
	}
}

// Terminal reports whether the orchestrator must stop iterating fallback
// candidates once this status is observed. A decline is terminal: retrying
// a decline against another provider is a correctness bug, and a hold for
// review means a gateway already has the charge in its fraud queue.
func (s TransactionStatus) Terminal() bool {
	switch s {
	case StatusApproved, StatusDeclined, StatusHeldForReview, StatusVoided, StatusRefunded:
		return true
	default:
		return false
	}
}

// AVSResult is the shared address-verification vocabulary every gateway's
// proprietary AVS code is mapped onto.
type AVSResult string

const (
	AVSMatch        AVSResult = "MATCH"
	AVSAddressMatch AVSResult = "ADDRESS_MATCH"
	AVSZipMatch     AVSResult = "ZIP_MATCH"
	AVSNoMatch      AVSResult = "NO_MATCH"
	AVSNotAvailable AVSResult = "NOT_AVAILABLE"
	AVSNotSupported AVSResult = "NOT_SUPPORTED"
	AVSNotProcessed AVSResult = "NOT_PROCESSED"
	AVSNotPresent   AVSResult = "NOT_PRESENT"
	AVSError        AVSResult = "ERROR"
)

// CVVResult is the shared card-verification vocabulary.
type CVVResult string

const (
	CVVMatch        CVVResult = "MATCH"
	CVVNoMatch      CVVResult = "NO_MATCH"
	CVVNotAvailable CVVResult = "NOT_AVAILABLE"
	CVVNotSupported CVVResult = "NOT_SUPPORTED"
	CVVNotProcessed CVVResult = "NOT_PROCESSED"
	CVVNotPresent   CVVResult = "NOT_PRESENT"
	CVVError        CVVResult = "ERROR"
)

// CardBrand is a card network detected from the IIN prefix or reported by
// the gateway.
type CardBrand string

const (
	BrandVisa       CardBrand = "VISA"
	BrandMastercard CardBrand = "MASTERCARD"
	BrandAmex       CardBrand = "AMEX"
	BrandDiscover   CardBrand = "DISCOVER"
	BrandDiners     CardBrand = "DINERS"
	BrandJCB        CardBrand = "JCB"
	BrandUnionPay   CardBrand = "UNIONPAY"
	BrandUnknown    CardBrand = "UNKNOWN"
)

// ProviderType is the closed set of supported gateway integrations.
// Constructing an adapter switches exhaustively over this type, so adding
// a gateway is a compile-time-checked change.
type ProviderType string

const (
	ProviderPayPal       ProviderType = "paypal"
	ProviderAuthorizeNet ProviderType = "authorize_net"
	ProviderSquare       ProviderType = "square"
	ProviderStripe       ProviderType = "stripe"
)

// ParseProviderType maps an external provider identifier (as stored by the
// tenant's integration records) onto a ProviderType. Identifiers are
// matched case-insensitively and common aliases are accepted.
func ParseProviderType(s string) (ProviderType, error) {
	switch normalizeProviderName(s) {
	case "paypal", "paypalpro":
		return ProviderPayPal, nil
	case "authorizenet", "authnet":
		return ProviderAuthorizeNet, nil
	case "square", "squareup":
		return ProviderSquare, nil
	case "stripe":
		return ProviderStripe, nil
	default:
		return "", &ConfigurationError{Provider: s, Reason: "unsupported provider type"}
	}
}

func normalizeProviderName(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z':
			out = append(out, c+('a'-'A'))
		case c >= 'a' && c <= 'z' || c >= '0' && c <= '9':
			out = append(out, c)
		}
		// separators (".", "_", "-", " ") are dropped
	}
	return string(out)
}

// Card is a raw payment card. It is only ever held in memory on its way to
// a gateway or tokenizer; log statements must use the masked form.
type Card struct {
	Number      string `json:"number"`
	CVV         string `json:"cvv,omitempty"`
	ExpiryMonth int    `json:"expiry_month"`
	ExpiryYear  int    `json:"expiry_year"`
	HolderName  string `json:"holder_name,omitempty"`
}

// Validate checks structural completeness: the number looks like a card
// number and the expiry fields are plausible. Luhn and expiry-date checks
// against the clock live in the card package and run on the orchestrator's
// validation path.
func (c *Card) Validate() error {
	digits := cardDigits(c.Number)
	if digits == "" {
		return &ValidationError{Field: "card.number", Reason: "is required"}
	}
	if len(digits) < 12 || len(digits) > 19 {
		return &ValidationError{Field: "card.number", Reason: "must be 12 to 19 digits"}
	}
	if c.ExpiryMonth < 1 || c.ExpiryMonth > 12 {
		return &ValidationError{Field: "card.expiry_month", Reason: "must be between 1 and 12"}
	}
	if c.ExpiryYear <= 0 {
		return &ValidationError{Field: "card.expiry_year", Reason: "is required"}
	}
	if c.CVV != "" && (len(c.CVV) < 3 || len(c.CVV) > 4 || !allDigits(c.CVV)) {
		return &ValidationError{Field: "card.cvv", Reason: "must be 3 or 4 digits"}
	}
	return nil
}

func cardDigits(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c >= '0' && c <= '9':
			out = append(out, c)
		case c == ' ' || c == '-':
		default:
			return ""
		}
	}
	return string(out)
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}

// BankAccount is an ACH payment instrument.
type BankAccount struct {
	RoutingNumber string `json:"routing_number"`
	AccountNumber string `json:"account_number"`
	AccountType   string `json:"account_type,omitempty"` // checking or savings
	HolderName    string `json:"holder_name,omitempty"`
}

// Address carries billing or shipping address data in the normalized shape
// adapters translate into their gateway's field names.
type Address struct {
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
	Phone      string `json:"phone,omitempty"`
}

// TransactionRequest is a logical payment instruction. It is created fresh
// per call and treated as immutable once handed to an adapter; adapters
// that need a reference id generate one into the response rather than
// writing it back here.
type TransactionRequest struct {
	ReferenceID     string            `json:"reference_id,omitempty"`
	Operation       OperationType     `json:"operation,omitempty"`
	Amount          decimal.Decimal   `json:"amount"`
	Currency        string            `json:"currency,omitempty"`
	Card            *Card             `json:"card,omitempty"`
	Token           string            `json:"token,omitempty"`
	BankAccount     *BankAccount      `json:"bank_account,omitempty"`
	BillingAddress  *Address          `json:"billing_address,omitempty"`
	ShippingAddress *Address          `json:"shipping_address,omitempty"`
	OrderID         string            `json:"order_id,omitempty"`
	Description     string            `json:"description,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	ClientIP        string            `json:"client_ip,omitempty"`
}

// InstrumentCount returns how many payment instruments are present.
// Exactly one must be set for a request to be valid.
func (r *TransactionRequest) InstrumentCount() int {
	n := 0
	if r.Card != nil {
		n++
	}
	if r.Token != "" {
		n++
	}
	if r.BankAccount != nil {
		n++
	}
	return n
}

// Validate rejects malformed requests before any network call is made.
func (r *TransactionRequest) Validate() error {
	if r.Amount.IsNegative() {
		return &ValidationError{Field: "amount", Reason: "must not be negative"}
	}
	if r.Currency != "" && len(r.Currency) != 3 {
		return &ValidationError{Field: "currency", Reason: "must be a 3-letter ISO code"}
	}
	switch r.InstrumentCount() {
	case 0:
		return &ValidationError{Field: "instrument", Reason: "one of card, token or bank_account is required"}
	case 1:
	default:
		return &ValidationError{Field: "instrument", Reason: "card, token and bank_account are mutually exclusive"}
	}
	if r.Card != nil {
		if err := r.Card.Validate(); err != nil {
			return err
		}
	}
	if r.BankAccount != nil {
		if r.BankAccount.RoutingNumber == "" || r.BankAccount.AccountNumber == "" {
			return &ValidationError{Field: "bank_account", Reason: "routing and account numbers are required"}
		}
	}
	return nil
}

// Clone returns a deep-enough copy for the orchestrator to merge metadata
// onto without mutating the caller's request.
func (r *TransactionRequest) Clone() *TransactionRequest {
	out := *r
	if r.Metadata != nil {
		out.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// TransactionResponse is the normalized outcome of a single adapter call.
// It is never mutated after the adapter returns it.
type TransactionResponse struct {
	Success       bool              `json:"success"`
	Status        TransactionStatus `json:"status"`
	TransactionID string            `json:"transaction_id,omitempty"`
	ReferenceID   string            `json:"reference_id,omitempty"`
	Amount        decimal.Decimal   `json:"amount"`
	Currency      string            `json:"currency,omitempty"`
	AuthCode      string            `json:"auth_code,omitempty"`
	AVSResult     AVSResult         `json:"avs_result,omitempty"`
	CVVResult     CVVResult         `json:"cvv_result,omitempty"`
	ErrorCode     string            `json:"error_code,omitempty"`
	ErrorMessage  string            `json:"error_message,omitempty"`
	DeclineCode   string            `json:"decline_code,omitempty"`
	RawResponse   []byte            `json:"-"`
	ProcessedAt   time.Time         `json:"processed_at"`
}

// NewResponse builds a response whose Success flag is consistent with its
// status, stamped with the processing time.
func NewResponse(status TransactionStatus, referenceID string) *TransactionResponse {
	return &TransactionResponse{
		Success:     status.Successful(),
		Status:      status,
		ReferenceID: referenceID,
		ProcessedAt: time.Now().UTC(),
	}
}

// ProviderConfig is a registered adapter's identity and policy. Instances
// are immutable once registered; replacing configuration means
// re-registering a new instance under the same id.
type ProviderConfig struct {
	ID          string            `json:"id"`
	TenantID    string            `json:"tenant_id"`
	Name        string            `json:"name"`
	Type        ProviderType      `json:"type"`
	Credentials map[string]string `json:"-"`
	Environment string            `json:"environment,omitempty"` // sandbox or production
	IsDefault   bool              `json:"is_default"`
	IsActive    bool              `json:"is_active"`
	Priority    int               `json:"priority"` // lower is tried first

	SupportsTokenization bool `json:"supports_tokenization"`
	SupportsRecurring    bool `json:"supports_recurring"`
	Supports3DSecure     bool `json:"supports_3dsecure"`
	SupportsACH          bool `json:"supports_ach"`

	MinAmount *decimal.Decimal `json:"min_amount,omitempty"`
	MaxAmount *decimal.Decimal `json:"max_amount,omitempty"`

	MaxRetries int           `json:"max_retries"`
	RetryDelay time.Duration `json:"retry_delay"`
}

// HealthStatus is the coarse state derived from a provider's rolling
// statistics.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthDown     HealthStatus = "down"
)

// HealthError records the most recent failure observed for a provider.
type HealthError struct {
	Code    string    `json:"code,omitempty"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

// ProviderHealth is the rolling health snapshot for one provider. It is
// owned and mutated exclusively by the provider's adapter; the registry
// and orchestrator only ever read copies.
type ProviderHealth struct {
	ProviderID  string       `json:"provider_id"`
	Status      HealthStatus `json:"status"`
	LatencyMs   float64      `json:"latency_ms"`
	SuccessRate float64      `json:"success_rate"`
	ErrorRate   float64      `json:"error_rate"`
	LastChecked time.Time    `json:"last_checked"`
	LastError   *HealthError `json:"last_error,omitempty"`
}

// TokenizedCard is the result of exchanging raw card data for a reusable
// gateway token. The fingerprint is a deterministic non-cryptographic hash
// of the card number used for duplicate-card detection, not for security.
type TokenizedCard struct {
	Token       string    `json:"token"`
	Last4       string    `json:"last4"`
	Brand       CardBrand `json:"brand"`
	ExpiryMonth int       `json:"expiry_month"`
	ExpiryYear  int       `json:"expiry_year"`
	Fingerprint string    `json:"fingerprint"`
	ProviderID  string    `json:"provider_id,omitempty"`
}

// PaymentResult is what orchestrator callers receive: the normalized
// response annotated with which provider handled it and whether fallback
// occurred.
type PaymentResult struct {
	TransactionResponse

	ProviderID       string        `json:"provider_id"`
	ProviderName     string        `json:"provider_name"`
	ProcessingTimeMs int64         `json:"processing_time_ms"`
	FallbackUsed     bool          `json:"fallback_used"`
	TenantID         string        `json:"tenant_id,omitempty"`
	Operation        OperationType `json:"operation,omitempty"`
}
