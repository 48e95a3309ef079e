// Package paypal integrates the PayPal Payments Pro NVP API: form-encoded
// name-value pairs over HTTPS, DoDirectPayment for card charges and the
// DoCapture/DoVoid/RefundTransaction family for lifecycle operations.
package paypal

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/yourorg/payment-gateway/internal/adapter"
	"github.com/yourorg/payment-gateway/internal/card"
	"github.com/yourorg/payment-gateway/internal/health"
	"github.com/yourorg/payment-gateway/internal/model"
)

const (
	liveEndpoint    = "https://api-3t.paypal.com/nvp"
	sandboxEndpoint = "https://api-3t.sandbox.paypal.com/nvp"
	apiVersion      = "204.0"

	ackSuccess        = "Success"
	ackSuccessWarning = "SuccessWithWarning"

	// Fraud Management Filters report a pended payment with this code on
	// an otherwise successful ACK.
	codeFMFPending = "11610"
)

// Adapter speaks the PayPal NVP protocol.
type Adapter struct {
	cfg      model.ProviderConfig
	client   *http.Client
	logger   *zap.Logger
	tracker  *health.Tracker
	endpoint string
}

// Option customizes an Adapter.
type Option func(*Adapter)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Adapter) { a.logger = l }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Adapter) { a.client = c }
}

// WithEndpoint overrides the NVP endpoint, primarily for tests.
func WithEndpoint(u string) Option {
	return func(a *Adapter) { a.endpoint = u }
}

// New builds a PayPal adapter. The sandbox endpoint is selected when the
// configuration's environment is "sandbox".
func New(cfg model.ProviderConfig, opts ...Option) *Adapter {
	a := &Adapter{
		cfg:      cfg,
		client:   &http.Client{Timeout: adapter.DefaultTimeout},
		logger:   zap.NewNop(),
		tracker:  health.NewTracker(cfg.ID),
		endpoint: liveEndpoint,
	}
	if cfg.Environment == "sandbox" {
		a.endpoint = sandboxEndpoint
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) ID() string                   { return a.cfg.ID }
func (a *Adapter) Name() string                 { return a.cfg.Name }
func (a *Adapter) Type() model.ProviderType     { return model.ProviderPayPal }
func (a *Adapter) Config() model.ProviderConfig { return a.cfg }
func (a *Adapter) Health() model.ProviderHealth { return a.tracker.Snapshot() }

// Sale charges a card in one step.
func (a *Adapter) Sale(ctx context.Context, req *model.TransactionRequest) (*model.TransactionResponse, error) {
	return a.directPayment(ctx, model.OperationSale, "Sale", req, req.Amount, true)
}

// Authorize places a hold without capturing.
func (a *Adapter) Authorize(ctx context.Context, req *model.TransactionRequest) (*model.TransactionResponse, error) {
	return a.directPayment(ctx, model.OperationAuthorize, "Authorization", req, req.Amount, true)
}

// Verify runs a zero-amount authorization. PayPal places no hold for
// zero-amount authorizations, so nothing needs releasing afterwards.
func (a *Adapter) Verify(ctx context.Context, req *model.TransactionRequest) (*model.TransactionResponse, error) {
	return a.directPayment(ctx, model.OperationVerify, "Authorization", req, decimal.Zero, false)
}

func (a *Adapter) directPayment(ctx context.Context, op model.OperationType, action string, req *model.TransactionRequest, amount decimal.Decimal, enforceBounds bool) (*model.TransactionResponse, error) {
	if req.Card == nil {
		return nil, &model.ValidationError{Field: "card", Reason: "paypal direct payments require raw card data"}
	}
	if enforceBounds {
		if err := adapter.CheckAmountBounds(a.cfg, amount); err != nil {
			return nil, err
		}
	}
	ref := req.ReferenceID
	if ref == "" {
		ref = adapter.NewReferenceID("paypal")
	}

	form := a.paymentForm(action, req, amount, ref)
	a.logger.Debug("direct payment",
		zap.String("operation", string(op)),
		zap.String("reference_id", ref),
		zap.String("card", card.Mask(req.Card.Number)),
		zap.String("amount", adapter.AmountString(amount)),
	)

	fields, raw, err := a.call(ctx, string(op), "DoDirectPayment", form)
	if err != nil {
		return nil, err
	}
	return a.buildResponse(op, ref, fields, raw), nil
}

// Capture settles an authorization. The NVP DoCapture call requires an
// explicit amount, so nil is rejected rather than guessed.
func (a *Adapter) Capture(ctx context.Context, transactionID string, amount *decimal.Decimal) (*model.TransactionResponse, error) {
	if amount == nil {
		return nil, &model.ValidationError{Field: "amount", Reason: "paypal capture requires an explicit amount"}
	}
	form := url.Values{}
	form.Set("AUTHORIZATIONID", transactionID)
	form.Set("AMT", adapter.AmountString(*amount))
	form.Set("COMPLETETYPE", "Complete")

	fields, raw, err := a.call(ctx, "capture", "DoCapture", form)
	if err != nil {
		return nil, err
	}
	return a.buildResponse(model.OperationCapture, "", fields, raw), nil
}

// Void cancels an authorization.
func (a *Adapter) Void(ctx context.Context, transactionID string) (*model.TransactionResponse, error) {
	form := url.Values{}
	form.Set("AUTHORIZATIONID", transactionID)

	fields, raw, err := a.call(ctx, "void", "DoVoid", form)
	if err != nil {
		return nil, err
	}
	return a.buildResponse(model.OperationVoid, "", fields, raw), nil
}

// Refund returns settled funds, fully when amount is nil.
func (a *Adapter) Refund(ctx context.Context, transactionID string, amount *decimal.Decimal) (*model.TransactionResponse, error) {
	form := url.Values{}
	form.Set("TRANSACTIONID", transactionID)
	if amount == nil {
		form.Set("REFUNDTYPE", "Full")
	} else {
		form.Set("REFUNDTYPE", "Partial")
		form.Set("AMT", adapter.AmountString(*amount))
	}

	fields, raw, err := a.call(ctx, "refund", "RefundTransaction", form)
	if err != nil {
		return nil, err
	}
	return a.buildResponse(model.OperationRefund, "", fields, raw), nil
}

// Tokenize is unsupported: the legacy NVP API has no card vault.
func (a *Adapter) Tokenize(ctx context.Context, c *model.Card) (*model.TokenizedCard, error) {
	return nil, &model.ConfigurationError{Provider: a.cfg.ID, Reason: "paypal nvp has no tokenization support"}
}

// DeleteToken reports true: with no token lifecycle there is nothing to
// remove.
func (a *Adapter) DeleteToken(ctx context.Context, token string) (bool, error) {
	return true, nil
}

// HealthCheck pings the API with GetBalance, the cheapest authenticated
// NVP call. The outcome lands in the tracker either way.
func (a *Adapter) HealthCheck(ctx context.Context) model.ProviderHealth {
	fields, _, err := a.call(ctx, "health_check", "GetBalance", url.Values{})
	if err == nil && ack(fields) != ackSuccess && ack(fields) != ackSuccessWarning {
		a.logger.Warn("health check returned failure ack", zap.String("ack", ack(fields)))
	}
	return a.tracker.Snapshot()
}

func (a *Adapter) paymentForm(action string, req *model.TransactionRequest, amount decimal.Decimal, ref string) url.Values {
	c := req.Card
	form := url.Values{}
	form.Set("PAYMENTACTION", action)
	form.Set("AMT", adapter.AmountString(amount))
	form.Set("CURRENCYCODE", currencyOr(req.Currency, "USD"))
	form.Set("ACCT", card.Digits(c.Number))
	form.Set("EXPDATE", fmt.Sprintf("%02d%04d", c.ExpiryMonth, card.NormalizeYear(c.ExpiryYear)))
	if c.CVV != "" {
		form.Set("CVV2", c.CVV)
	}
	first, last := splitName(c.HolderName)
	if first != "" {
		form.Set("FIRSTNAME", first)
	}
	if last != "" {
		form.Set("LASTNAME", last)
	}
	form.Set("INVNUM", ref)
	if req.OrderID != "" {
		form.Set("CUSTOM", req.OrderID)
	}
	if req.ClientIP != "" {
		form.Set("IPADDRESS", req.ClientIP)
	}
	if b := req.BillingAddress; b != nil {
		form.Set("STREET", b.Line1)
		if b.Line2 != "" {
			form.Set("STREET2", b.Line2)
		}
		form.Set("CITY", b.City)
		form.Set("STATE", b.Region)
		form.Set("ZIP", b.PostalCode)
		form.Set("COUNTRYCODE", b.Country)
	}
	if s := req.ShippingAddress; s != nil {
		form.Set("SHIPTOSTREET", s.Line1)
		form.Set("SHIPTOCITY", s.City)
		form.Set("SHIPTOSTATE", s.Region)
		form.Set("SHIPTOZIP", s.PostalCode)
		form.Set("SHIPTOCOUNTRY", s.Country)
	}
	return form
}

// call posts one NVP request with credentials attached, retrying
// transport failures, and parses the name-value response. Health is
// observed once per logical call with the total elapsed time.
func (a *Adapter) call(ctx context.Context, op, method string, form url.Values) (url.Values, []byte, error) {
	form.Set("METHOD", method)
	form.Set("VERSION", apiVersion)
	form.Set("USER", a.cfg.Credentials["user"])
	form.Set("PWD", a.cfg.Credentials["pwd"])
	form.Set("SIGNATURE", a.cfg.Credentials["signature"])

	start := time.Now()
	var body []byte
	r := adapter.Retrier{
		MaxRetries: a.cfg.MaxRetries,
		Delay:      a.cfg.RetryDelay,
		Provider:   a.cfg.ID,
		Logger:     a.logger,
	}
	err := r.Do(ctx, op, func() error {
		b, err := a.post(ctx, form)
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		a.tracker.RecordFailure(time.Since(start), model.ErrorKind(err), err.Error())
		return nil, nil, err
	}

	fields, perr := url.ParseQuery(string(body))
	if perr != nil || fields.Get("ACK") == "" {
		gwErr := &model.GatewayError{Provider: a.cfg.ID, Message: "unparseable NVP response"}
		a.tracker.RecordFailure(time.Since(start), "gateway", gwErr.Message)
		return nil, body, gwErr
	}
	a.tracker.RecordSuccess(time.Since(start))
	return fields, body, nil
}

func (a *Adapter) post(ctx context.Context, form url.Values) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("building nvp request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, &model.ConnectionError{Provider: a.cfg.ID, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &model.ConnectionError{Provider: a.cfg.ID, Err: err}
	}
	if adapter.RetryableStatus(resp.StatusCode) {
		return nil, &model.ConnectionError{
			Provider: a.cfg.ID,
			Err:      fmt.Errorf("http %d from nvp endpoint", resp.StatusCode),
		}
	}
	return body, nil
}

func (a *Adapter) buildResponse(op model.OperationType, ref string, fields url.Values, raw []byte) *model.TransactionResponse {
	resp := &model.TransactionResponse{
		ReferenceID: ref,
		RawResponse: raw,
		ProcessedAt: time.Now().UTC(),
		AVSResult:   adapter.MapAVS(avsCodes, fields.Get("AVSCODE")),
		CVVResult:   adapter.MapCVV(cvvCodes, fields.Get("CVV2MATCH")),
	}
	if cur := fields.Get("CURRENCYCODE"); cur != "" {
		resp.Currency = cur
	}
	if amt := fields.Get("AMT"); amt != "" {
		if d, err := decimal.NewFromString(amt); err == nil {
			resp.Amount = d
		}
	}
	resp.TransactionID = firstNonEmpty(
		fields.Get("TRANSACTIONID"),
		fields.Get("REFUNDTRANSACTIONID"),
		fields.Get("AUTHORIZATIONID"),
	)

	code := fields.Get("L_ERRORCODE0")
	message := firstNonEmpty(fields.Get("L_LONGMESSAGE0"), fields.Get("L_SHORTMESSAGE0"))

	switch ack(fields) {
	case ackSuccess, ackSuccessWarning:
		if code == codeFMFPending {
			resp.Status = model.StatusHeldForReview
			resp.ErrorCode = code
			resp.ErrorMessage = message
		} else {
			resp.Status = successStatus(op)
		}
	default:
		resp.ErrorMessage = message
		if declineCodes[code] {
			resp.Status = model.StatusDeclined
			resp.DeclineCode = code
		} else {
			resp.Status = model.StatusError
			resp.ErrorCode = code
		}
	}
	resp.Success = resp.Status.Successful()
	return resp
}

func successStatus(op model.OperationType) model.TransactionStatus {
	switch op {
	case model.OperationVoid:
		return model.StatusVoided
	case model.OperationRefund:
		return model.StatusRefunded
	default:
		return model.StatusApproved
	}
}

func ack(fields url.Values) string {
	return fields.Get("ACK")
}

func currencyOr(cur, fallback string) string {
	if cur == "" {
		return fallback
	}
	return strings.ToUpper(cur)
}

func splitName(full string) (first, last string) {
	full = strings.TrimSpace(full)
	if full == "" {
		return "", ""
	}
	if i := strings.LastIndex(full, " "); i >= 0 {
		return full[:i], full[i+1:]
	}
	return full, ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

var _ adapter.Adapter = (*Adapter)(nil)
