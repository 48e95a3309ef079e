// Package authorizenet integrates Authorize.Net through two legacy
// surfaces: the AIM form-encoded endpoint for payment operations, which
// answers with pipe-delimited fields, and the CIM XML API for the token
// vault and credential checks.
package authorizenet

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
	liveTransactURL    = "https://secure2.authorize.net/gateway/transact.dll"
	sandboxTransactURL = "https://test.authorize.net/gateway/transact.dll"
	liveAPIURL         = "https://api.authorize.net/xml/v1/request.api"
	sandboxAPIURL      = "https://apitest.authorize.net/xml/v1/request.api"

	aimVersion   = "3.1"
	aimDelimiter = "|"

	// 1-based positions in the AIM delimited response.
	fieldResponseCode = 1
	fieldReasonCode   = 3
	fieldReasonText   = 4
	fieldAuthCode     = 5
	fieldAVS          = 6
	fieldTransID      = 7
	fieldAmount       = 10
	fieldCVV          = 39

	codeApproved = "1"
	codeDeclined = "2"
	codeError    = "3"
	codeHeld     = "4"
)

// Adapter speaks AIM for payments and CIM XML for tokens.
type Adapter struct {
	cfg         model.ProviderConfig
	client      *http.Client
	logger      *zap.Logger
	tracker     *health.Tracker
	transactURL string
	apiURL      string
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

// WithTransactURL overrides the AIM endpoint, primarily for tests.
func WithTransactURL(u string) Option {
	return func(a *Adapter) { a.transactURL = u }
}

// WithAPIURL overrides the XML API endpoint, primarily for tests.
func WithAPIURL(u string) Option {
	return func(a *Adapter) { a.apiURL = u }
}

// New builds an Authorize.Net adapter, selecting test endpoints when the
// configuration's environment is "sandbox".
func New(cfg model.ProviderConfig, opts ...Option) *Adapter {
	a := &Adapter{
		cfg:         cfg,
		client:      &http.Client{Timeout: adapter.DefaultTimeout},
		logger:      zap.NewNop(),
		tracker:     health.NewTracker(cfg.ID),
		transactURL: liveTransactURL,
		apiURL:      liveAPIURL,
	}
	if cfg.Environment == "sandbox" {
		a.transactURL = sandboxTransactURL
		a.apiURL = sandboxAPIURL
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) ID() string                   { return a.cfg.ID }
func (a *Adapter) Name() string                 { return a.cfg.Name }
func (a *Adapter) Type() model.ProviderType     { return model.ProviderAuthorizeNet }
func (a *Adapter) Config() model.ProviderConfig { return a.cfg }
func (a *Adapter) Health() model.ProviderHealth { return a.tracker.Snapshot() }

// Sale runs AUTH_CAPTURE.
func (a *Adapter) Sale(ctx context.Context, req *model.TransactionRequest) (*model.TransactionResponse, error) {
	return a.payment(ctx, model.OperationSale, "AUTH_CAPTURE", req, req.Amount, true)
}

// Authorize runs AUTH_ONLY.
func (a *Adapter) Authorize(ctx context.Context, req *model.TransactionRequest) (*model.TransactionResponse, error) {
	return a.payment(ctx, model.OperationAuthorize, "AUTH_ONLY", req, req.Amount, true)
}

// Verify runs a zero-dollar AUTH_ONLY, which Authorize.Net processes as a
// card validation without placing a hold.
func (a *Adapter) Verify(ctx context.Context, req *model.TransactionRequest) (*model.TransactionResponse, error) {
	return a.payment(ctx, model.OperationVerify, "AUTH_ONLY", req, decimal.Zero, false)
}

func (a *Adapter) payment(ctx context.Context, op model.OperationType, tranType string, req *model.TransactionRequest, amount decimal.Decimal, enforceBounds bool) (*model.TransactionResponse, error) {
	if req.Card == nil {
		return nil, &model.ValidationError{Field: "card", Reason: "authorize.net aim requires raw card data"}
	}
	if enforceBounds {
		if err := adapter.CheckAmountBounds(a.cfg, amount); err != nil {
			return nil, err
		}
	}
	ref := req.ReferenceID
	if ref == "" {
		ref = adapter.NewReferenceID("authnet")
	}

	form := a.baseForm(tranType)
	form.Set("x_amount", adapter.AmountString(amount))
	form.Set("x_card_num", card.Digits(req.Card.Number))
	form.Set("x_exp_date", fmt.Sprintf("%02d%02d", req.Card.ExpiryMonth, card.NormalizeYear(req.Card.ExpiryYear)%100))
	if req.Card.CVV != "" {
		form.Set("x_card_code", req.Card.CVV)
	}
	if req.Currency != "" {
		form.Set("x_currency_code", strings.ToUpper(req.Currency))
	}
	form.Set("x_invoice_num", ref)
	if req.Description != "" {
		form.Set("x_description", req.Description)
	}
	if req.ClientIP != "" {
		form.Set("x_customer_ip", req.ClientIP)
	}
	first, last := splitName(req.Card.HolderName)
	if first != "" {
		form.Set("x_first_name", first)
	}
	if last != "" {
		form.Set("x_last_name", last)
	}
	if b := req.BillingAddress; b != nil {
		form.Set("x_address", strings.TrimSpace(b.Line1+" "+b.Line2))
		form.Set("x_city", b.City)
		form.Set("x_state", b.Region)
		form.Set("x_zip", b.PostalCode)
		form.Set("x_country", b.Country)
	}

	a.logger.Debug("aim payment",
		zap.String("operation", string(op)),
		zap.String("reference_id", ref),
		zap.String("card", card.Mask(req.Card.Number)),
		zap.String("amount", adapter.AmountString(amount)),
	)

	fields, raw, err := a.callAIM(ctx, string(op), form)
	if err != nil {
		return nil, err
	}
	return a.buildResponse(op, ref, fields, raw), nil
}

// Capture settles a prior authorization; nil captures the full amount.
func (a *Adapter) Capture(ctx context.Context, transactionID string, amount *decimal.Decimal) (*model.TransactionResponse, error) {
	form := a.baseForm("PRIOR_AUTH_CAPTURE")
	form.Set("x_trans_id", transactionID)
	if amount != nil {
		form.Set("x_amount", adapter.AmountString(*amount))
	}

	fields, raw, err := a.callAIM(ctx, "capture", form)
	if err != nil {
		return nil, err
	}
	return a.buildResponse(model.OperationCapture, "", fields, raw), nil
}

// Void cancels an unsettled transaction.
func (a *Adapter) Void(ctx context.Context, transactionID string) (*model.TransactionResponse, error) {
	form := a.baseForm("VOID")
	form.Set("x_trans_id", transactionID)

	fields, raw, err := a.callAIM(ctx, "void", form)
	if err != nil {
		return nil, err
	}
	return a.buildResponse(model.OperationVoid, "", fields, raw), nil
}

// Refund issues a CREDIT against a settled transaction. The AIM credit
// call requires an explicit amount, so nil is rejected rather than
// guessed.
func (a *Adapter) Refund(ctx context.Context, transactionID string, amount *decimal.Decimal) (*model.TransactionResponse, error) {
	if amount == nil {
		return nil, &model.ValidationError{Field: "amount", Reason: "authorize.net credits require an explicit amount"}
	}
	form := a.baseForm("CREDIT")
	form.Set("x_trans_id", transactionID)
	form.Set("x_amount", adapter.AmountString(*amount))

	fields, raw, err := a.callAIM(ctx, "refund", form)
	if err != nil {
		return nil, err
	}
	return a.buildResponse(model.OperationRefund, "", fields, raw), nil
}

func (a *Adapter) baseForm(tranType string) url.Values {
	form := url.Values{}
	form.Set("x_login", a.cfg.Credentials["api_login_id"])
	form.Set("x_tran_key", a.cfg.Credentials["transaction_key"])
	form.Set("x_version", aimVersion)
	form.Set("x_delim_data", "TRUE")
	form.Set("x_delim_char", aimDelimiter)
	form.Set("x_encap_char", "")
	form.Set("x_relay_response", "FALSE")
	form.Set("x_method", "CC")
	form.Set("x_type", tranType)
	return form
}

// callAIM posts one form-encoded request and splits the pipe-delimited
// answer. Health is observed once per logical call.
func (a *Adapter) callAIM(ctx context.Context, op string, form url.Values) ([]string, []byte, error) {
	start := time.Now()
	var body []byte
	r := adapter.Retrier{
		MaxRetries: a.cfg.MaxRetries,
		Delay:      a.cfg.RetryDelay,
		Provider:   a.cfg.ID,
		Logger:     a.logger,
	}
	err := r.Do(ctx, op, func() error {
		b, err := a.post(ctx, a.transactURL, "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
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

	fields := strings.Split(string(body), aimDelimiter)
	if len(fields) < fieldTransID {
		gwErr := &model.GatewayError{Provider: a.cfg.ID, Message: "truncated AIM response"}
		a.tracker.RecordFailure(time.Since(start), "gateway", gwErr.Message)
		return nil, body, gwErr
	}
	a.tracker.RecordSuccess(time.Since(start))
	return fields, body, nil
}

func (a *Adapter) post(ctx context.Context, endpoint, contentType string, payload io.Reader) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, payload)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)

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
			Err:      fmt.Errorf("http %d from gateway", resp.StatusCode),
		}
	}
	return body, nil
}

// field returns the 1-based AIM response field, or "" when absent.
func field(fields []string, pos int) string {
	if pos-1 < len(fields) {
		return strings.TrimSpace(fields[pos-1])
	}
	return ""
}

func (a *Adapter) buildResponse(op model.OperationType, ref string, fields []string, raw []byte) *model.TransactionResponse {
	resp := &model.TransactionResponse{
		ReferenceID:   ref,
		TransactionID: field(fields, fieldTransID),
		AuthCode:      field(fields, fieldAuthCode),
		AVSResult:     adapter.MapAVS(avsCodes, field(fields, fieldAVS)),
		CVVResult:     adapter.MapCVV(cvvCodes, field(fields, fieldCVV)),
		RawResponse:   raw,
		ProcessedAt:   time.Now().UTC(),
	}
	if amt := field(fields, fieldAmount); amt != "" {
		if d, err := decimal.NewFromString(amt); err == nil {
			resp.Amount = d
		}
	}

	reason := field(fields, fieldReasonCode)
	text := field(fields, fieldReasonText)

	switch field(fields, fieldResponseCode) {
	case codeApproved:
		resp.Status = successStatus(op)
	case codeDeclined:
		resp.Status = model.StatusDeclined
		resp.DeclineCode = reason
		resp.ErrorMessage = text
	case codeHeld:
		resp.Status = model.StatusHeldForReview
		resp.ErrorCode = reason
		resp.ErrorMessage = text
	default:
		resp.Status = model.StatusError
		resp.ErrorCode = reason
		resp.ErrorMessage = text
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

var _ adapter.Adapter = (*Adapter)(nil)
