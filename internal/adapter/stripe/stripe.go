// Package stripe integrates the Stripe charges API: form-encoded bodies,
// bearer authentication and an Idempotency-Key on every mutating call.
// Stripe has no separate sandbox host; test mode is selected by the
// secret key.
package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/yourorg/payment-gateway/internal/adapter"
	"github.com/yourorg/payment-gateway/internal/card"
	"github.com/yourorg/payment-gateway/internal/health"
	"github.com/yourorg/payment-gateway/internal/model"
)

const (
	apiBaseURL = "https://api.stripe.com/v1"

	// verifyAmountCents is authorized without capture and refunded
	// immediately by Verify.
	verifyAmountCents = 100
)

// Adapter speaks the Stripe v1 REST API.
type Adapter struct {
	cfg     model.ProviderConfig
	client  *http.Client
	logger  *zap.Logger
	tracker *health.Tracker
	baseURL string
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

// WithBaseURL overrides the API base URL, primarily for tests.
func WithBaseURL(u string) Option {
	return func(a *Adapter) { a.baseURL = u }
}

// New builds a Stripe adapter.
func New(cfg model.ProviderConfig, opts ...Option) *Adapter {
	a := &Adapter{
		cfg:     cfg,
		client:  &http.Client{Timeout: adapter.DefaultTimeout},
		logger:  zap.NewNop(),
		tracker: health.NewTracker(cfg.ID),
		baseURL: apiBaseURL,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) ID() string                   { return a.cfg.ID }
func (a *Adapter) Name() string                 { return a.cfg.Name }
func (a *Adapter) Type() model.ProviderType     { return model.ProviderStripe }
func (a *Adapter) Config() model.ProviderConfig { return a.cfg }
func (a *Adapter) Health() model.ProviderHealth { return a.tracker.Snapshot() }

// apiError is Stripe's error envelope. A card_error carries the decline
// in decline_code ("insufficient_funds") with code as the coarse bucket
// ("card_declined").
type apiError struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	Message     string `json:"message"`
	DeclineCode string `json:"decline_code"`
	Param       string `json:"param"`
}

type cardChecks struct {
	ID                string `json:"id"`
	Brand             string `json:"brand"`
	Last4             string `json:"last4"`
	ExpMonth          int    `json:"exp_month"`
	ExpYear           int    `json:"exp_year"`
	AddressLine1Check string `json:"address_line1_check"`
	AddressZipCheck   string `json:"address_zip_check"`
	CVCCheck          string `json:"cvc_check"`
}

// chargeResult is a charge object on success or an error envelope on
// failure; Stripe returns one or the other at the top level.
type chargeResult struct {
	ID             string      `json:"id"`
	Object         string      `json:"object"`
	Status         string      `json:"status"`
	Amount         int64       `json:"amount"`
	Currency       string      `json:"currency"`
	Captured       bool        `json:"captured"`
	Refunded       bool        `json:"refunded"`
	FailureCode    string      `json:"failure_code"`
	FailureMessage string      `json:"failure_message"`
	Source         *cardChecks `json:"source"`
	Error          *apiError   `json:"error"`
}

type refundResult struct {
	ID       string    `json:"id"`
	Object   string    `json:"object"`
	Amount   int64     `json:"amount"`
	Currency string    `json:"currency"`
	Charge   string    `json:"charge"`
	Status   string    `json:"status"`
	Error    *apiError `json:"error"`
}

type tokenResult struct {
	ID    string      `json:"id"`
	Card  *cardChecks `json:"card"`
	Error *apiError   `json:"error"`
}

type balanceResult struct {
	Object string    `json:"object"`
	Error  *apiError `json:"error"`
}

// Sale charges a card or token in one step.
func (a *Adapter) Sale(ctx context.Context, req *model.TransactionRequest) (*model.TransactionResponse, error) {
	return a.createCharge(ctx, model.OperationSale, req, req.Amount, true, true)
}

// Authorize places a hold without capturing.
func (a *Adapter) Authorize(ctx context.Context, req *model.TransactionRequest) (*model.TransactionResponse, error) {
	return a.createCharge(ctx, model.OperationAuthorize, req, req.Amount, false, true)
}

// Verify authorizes a nominal amount without capture and refunds the
// uncaptured charge immediately, which releases the hold before
// returning.
func (a *Adapter) Verify(ctx context.Context, req *model.TransactionRequest) (*model.TransactionResponse, error) {
	resp, err := a.createCharge(ctx, model.OperationVerify, req, adapter.CentsAmount(verifyAmountCents), false, false)
	if err != nil || !resp.Success {
		return resp, err
	}

	release := url.Values{}
	release.Set("charge", resp.TransactionID)
	var out refundResult
	if _, _, rErr := a.do(ctx, "verify_release", http.MethodPost, "/refunds", release, &out); rErr != nil {
		return nil, &model.GatewayError{
			Provider: a.cfg.ID,
			Message:  fmt.Sprintf("verification hold %s not released: %v", resp.TransactionID, rErr),
		}
	}
	return resp, nil
}

func (a *Adapter) createCharge(ctx context.Context, op model.OperationType, req *model.TransactionRequest, amount decimal.Decimal, capture, enforceBounds bool) (*model.TransactionResponse, error) {
	if enforceBounds {
		if err := adapter.CheckAmountBounds(a.cfg, amount); err != nil {
			return nil, err
		}
	}
	ref := req.ReferenceID
	if ref == "" {
		ref = adapter.NewReferenceID("stripe")
	}

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(adapter.AmountCents(amount), 10))
	form.Set("currency", strings.ToLower(currencyOr(req.Currency)))
	if !capture {
		form.Set("capture", "false")
	}
	if req.Description != "" {
		form.Set("description", req.Description)
	}
	form.Set("metadata[reference_id]", ref)
	for k, v := range req.Metadata {
		form.Set("metadata["+k+"]", v)
	}
	if err := a.setInstrument(form, req); err != nil {
		return nil, err
	}

	var out chargeResult
	status, raw, err := a.do(ctx, string(op), http.MethodPost, "/charges", form, &out)
	if err != nil {
		return nil, err
	}
	return a.chargeResponse(op, ref, status, raw, &out)
}

func (a *Adapter) setInstrument(form url.Values, req *model.TransactionRequest) error {
	switch {
	case req.Token != "":
		form.Set("source", req.Token)
	case req.Card != nil:
		cardForm(form, req.Card, req.BillingAddress)
	default:
		return &model.ValidationError{Field: "instrument", Reason: "stripe processes cards and card tokens only"}
	}
	return nil
}

func cardForm(v url.Values, c *model.Card, billing *model.Address) {
	v.Set("card[number]", card.Digits(c.Number))
	v.Set("card[exp_month]", strconv.Itoa(c.ExpiryMonth))
	v.Set("card[exp_year]", strconv.Itoa(card.NormalizeYear(c.ExpiryYear)))
	if c.CVV != "" {
		v.Set("card[cvc]", c.CVV)
	}
	if c.HolderName != "" {
		v.Set("card[name]", c.HolderName)
	}
	if billing == nil {
		return
	}
	setIf(v, "card[address_line1]", billing.Line1)
	setIf(v, "card[address_line2]", billing.Line2)
	setIf(v, "card[address_city]", billing.City)
	setIf(v, "card[address_state]", billing.Region)
	setIf(v, "card[address_zip]", billing.PostalCode)
	setIf(v, "card[address_country]", billing.Country)
}

func setIf(v url.Values, key, val string) {
	if val != "" {
		v.Set(key, val)
	}
}

// Capture settles a previously authorized charge, optionally for a
// smaller amount.
func (a *Adapter) Capture(ctx context.Context, transactionID string, amount *decimal.Decimal) (*model.TransactionResponse, error) {
	form := url.Values{}
	if amount != nil {
		form.Set("amount", strconv.FormatInt(adapter.AmountCents(*amount), 10))
	}
	var out chargeResult
	status, raw, err := a.do(ctx, "capture", http.MethodPost, "/charges/"+transactionID+"/capture", form, &out)
	if err != nil {
		return nil, err
	}
	return a.chargeResponse(model.OperationCapture, "", status, raw, &out)
}

// Void releases an uncaptured charge. Stripe expresses this as a refund
// of the uncaptured charge.
func (a *Adapter) Void(ctx context.Context, transactionID string) (*model.TransactionResponse, error) {
	return a.refundCharge(ctx, model.OperationVoid, transactionID, nil)
}

// Refund returns settled funds, in full when amount is nil.
func (a *Adapter) Refund(ctx context.Context, transactionID string, amount *decimal.Decimal) (*model.TransactionResponse, error) {
	return a.refundCharge(ctx, model.OperationRefund, transactionID, amount)
}

func (a *Adapter) refundCharge(ctx context.Context, op model.OperationType, transactionID string, amount *decimal.Decimal) (*model.TransactionResponse, error) {
	form := url.Values{}
	form.Set("charge", transactionID)
	if amount != nil {
		form.Set("amount", strconv.FormatInt(adapter.AmountCents(*amount), 10))
	}

	var out refundResult
	_, raw, err := a.do(ctx, string(op), http.MethodPost, "/refunds", form, &out)
	if err != nil {
		return nil, err
	}
	if out.Error != nil {
		return a.errorResponse("", out.Error, raw), nil
	}
	if out.ID == "" {
		return nil, &model.GatewayError{Provider: a.cfg.ID, Message: "refund response missing id"}
	}

	status := model.StatusRefunded
	if op == model.OperationVoid {
		status = model.StatusVoided
	}
	resp := model.NewResponse(status, "")
	resp.TransactionID = out.ID
	resp.RawResponse = raw
	resp.Amount = adapter.CentsAmount(out.Amount)
	resp.Currency = strings.ToUpper(out.Currency)
	return resp, nil
}

// Tokenize exchanges raw card data for a single-use token. The brand is
// taken from the gateway when reported and detected locally otherwise;
// the fingerprint is always computed locally so it is comparable across
// providers.
func (a *Adapter) Tokenize(ctx context.Context, c *model.Card) (*model.TokenizedCard, error) {
	if c == nil || card.Digits(c.Number) == "" {
		return nil, &model.ValidationError{Field: "card.number", Reason: "is required"}
	}

	form := url.Values{}
	cardForm(form, c, nil)

	var out tokenResult
	_, _, err := a.do(ctx, "tokenize", http.MethodPost, "/tokens", form, &out)
	if err != nil {
		return nil, err
	}
	if out.Error != nil {
		code := out.Error.DeclineCode
		if code == "" {
			code = out.Error.Code
		}
		return nil, &model.GatewayError{Provider: a.cfg.ID, Code: code, Message: "tokenization rejected: " + out.Error.Message}
	}
	if out.ID == "" {
		return nil, &model.GatewayError{Provider: a.cfg.ID, Message: "token response missing id"}
	}

	brand := card.DetectBrand(c.Number)
	if out.Card != nil && out.Card.Brand != "" {
		if b, ok := brandNames[strings.ToLower(out.Card.Brand)]; ok {
			brand = b
		}
	}
	return &model.TokenizedCard{
		Token:       out.ID,
		Last4:       card.Last4(c.Number),
		Brand:       brand,
		ExpiryMonth: c.ExpiryMonth,
		ExpiryYear:  card.NormalizeYear(c.ExpiryYear),
		Fingerprint: card.Fingerprint(c.Number),
	}, nil
}

// DeleteToken reports success without a gateway call: Stripe card tokens
// are single-use and expire on their own, so there is nothing to delete.
func (a *Adapter) DeleteToken(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, &model.ValidationError{Field: "token", Reason: "is required"}
	}
	return true, nil
}

// HealthCheck reads the account balance, a cheap authenticated probe.
func (a *Adapter) HealthCheck(ctx context.Context) model.ProviderHealth {
	var out balanceResult
	if _, _, err := a.do(ctx, "health_check", http.MethodGet, "/balance", nil, &out); err == nil && out.Error != nil {
		a.logger.Warn("health check probe rejected",
			zap.String("code", out.Error.Code),
			zap.String("message", out.Error.Message))
	}
	return a.tracker.Snapshot()
}

// do executes one form-encoded call, retrying transport failures and
// recording health once per logical call. The idempotency key is
// generated once so every retry replays the same logical request.
func (a *Adapter) do(ctx context.Context, op, method, path string, form url.Values, out any) (int, []byte, error) {
	var payload string
	if form != nil {
		payload = form.Encode()
	}
	idempotencyKey := op + "-" + uuid.NewString()

	start := time.Now()
	var (
		status int
		raw    []byte
	)
	r := adapter.Retrier{
		MaxRetries: a.cfg.MaxRetries,
		Delay:      a.cfg.RetryDelay,
		Provider:   a.cfg.ID,
		Logger:     a.logger,
	}
	err := r.Do(ctx, op, func() error {
		var body io.Reader
		if payload != "" {
			body = strings.NewReader(payload)
		}
		httpReq, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
		if err != nil {
			return fmt.Errorf("building request: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+a.cfg.Credentials["secret_key"])
		if method == http.MethodPost {
			httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			httpReq.Header.Set("Idempotency-Key", idempotencyKey)
		}

		resp, err := a.client.Do(httpReq)
		if err != nil {
			return &model.ConnectionError{Provider: a.cfg.ID, Err: err}
		}
		defer resp.Body.Close()

		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return &model.ConnectionError{Provider: a.cfg.ID, Err: err}
		}
		if adapter.RetryableStatus(resp.StatusCode) {
			return &model.ConnectionError{
				Provider: a.cfg.ID,
				Err:      fmt.Errorf("http %d from stripe", resp.StatusCode),
			}
		}
		status, raw = resp.StatusCode, b
		return nil
	})
	if err != nil {
		a.tracker.RecordFailure(time.Since(start), model.ErrorKind(err), err.Error())
		return 0, nil, err
	}
	if out != nil && len(raw) > 0 {
		if jerr := json.Unmarshal(raw, out); jerr != nil {
			gwErr := &model.GatewayError{Provider: a.cfg.ID, Message: "unparseable response from stripe"}
			a.tracker.RecordFailure(time.Since(start), "gateway", gwErr.Message)
			return status, raw, gwErr
		}
	}
	a.tracker.RecordSuccess(time.Since(start))
	return status, raw, nil
}

func (a *Adapter) chargeResponse(op model.OperationType, ref string, status int, raw []byte, out *chargeResult) (*model.TransactionResponse, error) {
	if out.Error != nil {
		return a.errorResponse(ref, out.Error, raw), nil
	}
	if out.ID == "" {
		return nil, &model.GatewayError{Provider: a.cfg.ID, Message: fmt.Sprintf("http %d with empty charge body", status)}
	}

	resp := &model.TransactionResponse{
		ReferenceID:   ref,
		TransactionID: out.ID,
		RawResponse:   raw,
		ProcessedAt:   time.Now().UTC(),
		Amount:        adapter.CentsAmount(out.Amount),
		Currency:      strings.ToUpper(out.Currency),
	}
	if s := out.Source; s != nil {
		resp.AVSResult = combineAVS(s.AddressLine1Check, s.AddressZipCheck)
		resp.CVVResult = adapter.MapCVV(cvcChecks, s.CVCCheck)
	}

	switch out.Status {
	case "succeeded":
		resp.Status = model.StatusApproved
	case "pending":
		resp.Status = model.StatusPending
	case "failed":
		resp.Status = model.StatusDeclined
		resp.DeclineCode = out.FailureCode
		resp.ErrorMessage = out.FailureMessage
	default:
		resp.Status = model.StatusError
		resp.ErrorMessage = "charge reported status " + out.Status
	}
	resp.Success = resp.Status.Successful()
	return resp, nil
}

// errorResponse maps Stripe's error envelope onto a response: card errors
// are declines, everything else is an error outcome eligible for
// fallback at the orchestration layer.
func (a *Adapter) errorResponse(ref string, e *apiError, raw []byte) *model.TransactionResponse {
	resp := &model.TransactionResponse{
		ReferenceID:  ref,
		RawResponse:  raw,
		ProcessedAt:  time.Now().UTC(),
		ErrorMessage: e.Message,
	}
	if e.Type == "card_error" {
		resp.Status = model.StatusDeclined
		resp.DeclineCode = e.DeclineCode
		if resp.DeclineCode == "" {
			resp.DeclineCode = e.Code
		}
	} else {
		resp.Status = model.StatusError
		resp.ErrorCode = e.Code
		if resp.ErrorCode == "" {
			resp.ErrorCode = e.Type
		}
	}
	resp.Success = false
	return resp
}

func currencyOr(cur string) string {
	if cur == "" {
		return "USD"
	}
	return cur
}

var _ adapter.Adapter = (*Adapter)(nil)
