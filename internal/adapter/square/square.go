// Package square integrates the Square Payments API: JSON over REST with
// OAuth bearer credentials and a pinned Square-Version header. Square
// accepts only tokenized card sources, so payment calls take the token
// from the request (or its metadata under "square_source_id"); raw card
// data never goes to this gateway from here.
package square

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/yourorg/payment-gateway/internal/adapter"
	"github.com/yourorg/payment-gateway/internal/health"
	"github.com/yourorg/payment-gateway/internal/model"
)

const (
	liveBaseURL    = "https://connect.squareup.com"
	sandboxBaseURL = "https://connect.squareupsandbox.com"
	apiVersion     = "2024-08-21"

	// metadataSourceKey carries a client-side card nonce when the caller
	// has no stored token.
	metadataSourceKey = "square_source_id"

	// verifyAmountCents is authorized and immediately canceled by Verify.
	verifyAmountCents = 100
)

// Adapter speaks the Square v2 REST API.
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

// New builds a Square adapter, selecting the sandbox host when the
// configuration's environment is "sandbox".
func New(cfg model.ProviderConfig, opts ...Option) *Adapter {
	a := &Adapter{
		cfg:     cfg,
		client:  &http.Client{Timeout: adapter.DefaultTimeout},
		logger:  zap.NewNop(),
		tracker: health.NewTracker(cfg.ID),
		baseURL: liveBaseURL,
	}
	if cfg.Environment == "sandbox" {
		a.baseURL = sandboxBaseURL
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) ID() string                   { return a.cfg.ID }
func (a *Adapter) Name() string                 { return a.cfg.Name }
func (a *Adapter) Type() model.ProviderType     { return model.ProviderSquare }
func (a *Adapter) Config() model.ProviderConfig { return a.cfg }
func (a *Adapter) Health() model.ProviderHealth { return a.tracker.Snapshot() }

type money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type cardInfo struct {
	CardBrand string `json:"card_brand,omitempty"`
	Last4     string `json:"last_4,omitempty"`
	ExpMonth  int64  `json:"exp_month,omitempty"`
	ExpYear   int64  `json:"exp_year,omitempty"`
}

type cardDetails struct {
	AVSStatus string    `json:"avs_status,omitempty"`
	CVVStatus string    `json:"cvv_status,omitempty"`
	Card      *cardInfo `json:"card,omitempty"`
}

type payment struct {
	ID          string       `json:"id"`
	Status      string       `json:"status"`
	AmountMoney *money       `json:"amount_money,omitempty"`
	CardDetails *cardDetails `json:"card_details,omitempty"`
	ReferenceID string       `json:"reference_id,omitempty"`
}

type apiError struct {
	Category string `json:"category"`
	Code     string `json:"code"`
	Detail   string `json:"detail,omitempty"`
	Field    string `json:"field,omitempty"`
}

type paymentEnvelope struct {
	Payment *payment   `json:"payment,omitempty"`
	Errors  []apiError `json:"errors,omitempty"`
}

type refundObject struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	PaymentID   string `json:"payment_id"`
	AmountMoney *money `json:"amount_money,omitempty"`
}

type refundEnvelope struct {
	Refund *refundObject `json:"refund,omitempty"`
	Errors []apiError    `json:"errors,omitempty"`
}

type createPaymentRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
	SourceID       string `json:"source_id"`
	AmountMoney    money  `json:"amount_money"`
	Autocomplete   bool   `json:"autocomplete"`
	LocationID     string `json:"location_id,omitempty"`
	ReferenceID    string `json:"reference_id,omitempty"`
	Note           string `json:"note,omitempty"`
	BuyerEmail     string `json:"buyer_email_address,omitempty"`
}

type createRefundRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
	PaymentID      string `json:"payment_id"`
	AmountMoney    money  `json:"amount_money"`
	Reason         string `json:"reason,omitempty"`
}

// Sale charges in one step (autocomplete).
func (a *Adapter) Sale(ctx context.Context, req *model.TransactionRequest) (*model.TransactionResponse, error) {
	return a.createPayment(ctx, model.OperationSale, req, req.Amount, true, true)
}

// Authorize creates a delayed-capture payment.
func (a *Adapter) Authorize(ctx context.Context, req *model.TransactionRequest) (*model.TransactionResponse, error) {
	return a.createPayment(ctx, model.OperationAuthorize, req, req.Amount, false, true)
}

// Verify authorizes a nominal amount with delayed capture and cancels it
// immediately, so no hold survives the call.
func (a *Adapter) Verify(ctx context.Context, req *model.TransactionRequest) (*model.TransactionResponse, error) {
	resp, err := a.createPayment(ctx, model.OperationVerify, req, adapter.CentsAmount(verifyAmountCents), false, false)
	if err != nil || !resp.Success {
		return resp, err
	}
	if _, _, cancelErr := a.do(ctx, "verify_release", http.MethodPost, "/v2/payments/"+resp.TransactionID+"/cancel", nil, nil); cancelErr != nil {
		return nil, &model.GatewayError{
			Provider: a.cfg.ID,
			Message:  fmt.Sprintf("verification hold %s not released: %v", resp.TransactionID, cancelErr),
		}
	}
	return resp, nil
}

func (a *Adapter) createPayment(ctx context.Context, op model.OperationType, req *model.TransactionRequest, amount decimal.Decimal, autocomplete, enforceBounds bool) (*model.TransactionResponse, error) {
	source, err := a.paymentSource(req)
	if err != nil {
		return nil, err
	}
	if enforceBounds {
		if err := adapter.CheckAmountBounds(a.cfg, amount); err != nil {
			return nil, err
		}
	}
	ref := req.ReferenceID
	if ref == "" {
		ref = adapter.NewReferenceID("square")
	}

	body := createPaymentRequest{
		IdempotencyKey: uuid.NewString(),
		SourceID:       source,
		AmountMoney:    money{Amount: adapter.AmountCents(amount), Currency: currencyOr(req.Currency)},
		Autocomplete:   autocomplete,
		LocationID:     a.cfg.Credentials["location_id"],
		ReferenceID:    ref,
		Note:           req.Description,
	}

	var env paymentEnvelope
	status, raw, err := a.do(ctx, string(op), http.MethodPost, "/v2/payments", body, &env)
	if err != nil {
		return nil, err
	}
	return a.paymentResponse(op, ref, status, raw, &env)
}

// paymentSource picks the tokenized source for a payment. Square takes no
// raw card data server-side; cards are tokenized by Square's client SDK
// and arrive here as tokens or nonces.
func (a *Adapter) paymentSource(req *model.TransactionRequest) (string, error) {
	if req.Token != "" {
		return req.Token, nil
	}
	if nonce := req.Metadata[metadataSourceKey]; nonce != "" {
		return nonce, nil
	}
	return "", &model.ValidationError{
		Field:  "token",
		Reason: "square payments require a tokenized source; raw cards must be tokenized client-side",
	}
}

// Capture completes a delayed-capture payment. Square always settles the
// full authorized amount; a different partial amount cannot be requested
// here.
func (a *Adapter) Capture(ctx context.Context, transactionID string, amount *decimal.Decimal) (*model.TransactionResponse, error) {
	if amount != nil {
		a.logger.Debug("square captures the full authorized amount, ignoring explicit amount",
			zap.String("transaction_id", transactionID))
	}
	var env paymentEnvelope
	status, raw, err := a.do(ctx, "capture", http.MethodPost, "/v2/payments/"+transactionID+"/complete", struct{}{}, &env)
	if err != nil {
		return nil, err
	}
	return a.paymentResponse(model.OperationCapture, "", status, raw, &env)
}

// Void cancels a delayed-capture payment.
func (a *Adapter) Void(ctx context.Context, transactionID string) (*model.TransactionResponse, error) {
	var env paymentEnvelope
	status, raw, err := a.do(ctx, "void", http.MethodPost, "/v2/payments/"+transactionID+"/cancel", nil, &env)
	if err != nil {
		return nil, err
	}
	return a.paymentResponse(model.OperationVoid, "", status, raw, &env)
}

// Refund returns funds. Square requires an explicit refund amount, so a
// nil amount first looks up the payment and refunds it in full.
func (a *Adapter) Refund(ctx context.Context, transactionID string, amount *decimal.Decimal) (*model.TransactionResponse, error) {
	refundMoney := money{Currency: currencyOr("")}
	if amount != nil {
		refundMoney.Amount = adapter.AmountCents(*amount)
	} else {
		var lookup paymentEnvelope
		status, raw, err := a.do(ctx, "refund_lookup", http.MethodGet, "/v2/payments/"+transactionID, nil, &lookup)
		if err != nil {
			return nil, err
		}
		if lookup.Payment == nil || lookup.Payment.AmountMoney == nil {
			if status >= 400 && len(lookup.Errors) > 0 {
				return a.errorResponse("", lookup.Errors, raw), nil
			}
			return nil, &model.GatewayError{Provider: a.cfg.ID, Message: "payment lookup returned no amount"}
		}
		refundMoney = *lookup.Payment.AmountMoney
	}

	body := createRefundRequest{
		IdempotencyKey: uuid.NewString(),
		PaymentID:      transactionID,
		AmountMoney:    refundMoney,
	}
	var env refundEnvelope
	_, raw, err := a.do(ctx, "refund", http.MethodPost, "/v2/refunds", body, &env)
	if err != nil {
		return nil, err
	}
	if len(env.Errors) > 0 || env.Refund == nil {
		return a.errorResponse("", env.Errors, raw), nil
	}

	resp := model.NewResponse(model.StatusRefunded, "")
	resp.TransactionID = env.Refund.ID
	resp.RawResponse = raw
	if env.Refund.AmountMoney != nil {
		resp.Amount = adapter.CentsAmount(env.Refund.AmountMoney.Amount)
		resp.Currency = env.Refund.AmountMoney.Currency
	}
	return resp, nil
}

// Tokenize is unsupported server-side: Square issues card tokens through
// its client SDK only.
func (a *Adapter) Tokenize(ctx context.Context, c *model.Card) (*model.TokenizedCard, error) {
	return nil, &model.ConfigurationError{
		Provider: a.cfg.ID,
		Reason:   "square issues card tokens client-side; server-side tokenization is not available",
	}
}

// DeleteToken disables a card on file. A card that is already gone counts
// as deleted.
func (a *Adapter) DeleteToken(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, &model.ValidationError{Field: "token", Reason: "is required"}
	}
	var env paymentEnvelope
	status, _, err := a.do(ctx, "delete_token", http.MethodPost, "/v2/cards/"+token+"/disable", struct{}{}, &env)
	if err != nil {
		return false, err
	}
	if status == http.StatusNotFound {
		return true, nil
	}
	if status >= 400 {
		code, detail := firstError(env.Errors)
		return false, &model.GatewayError{Provider: a.cfg.ID, Code: code, Message: detail}
	}
	return true, nil
}

// HealthCheck reads the configured location, a cheap authenticated probe.
func (a *Adapter) HealthCheck(ctx context.Context) model.ProviderHealth {
	path := "/v2/locations/" + a.cfg.Credentials["location_id"]
	if status, _, err := a.do(ctx, "health_check", http.MethodGet, path, nil, nil); err == nil && status >= 400 {
		a.logger.Warn("health check probe rejected", zap.Int("status", status))
	}
	return a.tracker.Snapshot()
}

// do executes one JSON call with auth headers, retrying transport
// failures and recording health once per logical call. When out is
// non-nil the body is decoded into it; a body that cannot be decoded is
// a gateway failure.
func (a *Adapter) do(ctx context.Context, op, method, path string, body, out any) (int, []byte, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("encoding %s request: %w", op, err)
		}
	}

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
		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		httpReq, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reqBody)
		if err != nil {
			return fmt.Errorf("building request: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+a.cfg.Credentials["access_token"])
		httpReq.Header.Set("Square-Version", apiVersion)
		if payload != nil {
			httpReq.Header.Set("Content-Type", "application/json")
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
				Err:      fmt.Errorf("http %d from square", resp.StatusCode),
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
			gwErr := &model.GatewayError{Provider: a.cfg.ID, Message: "unparseable response from square"}
			a.tracker.RecordFailure(time.Since(start), "gateway", gwErr.Message)
			return status, raw, gwErr
		}
	}
	a.tracker.RecordSuccess(time.Since(start))
	return status, raw, nil
}

func (a *Adapter) paymentResponse(op model.OperationType, ref string, status int, raw []byte, env *paymentEnvelope) (*model.TransactionResponse, error) {
	if len(env.Errors) > 0 || env.Payment == nil {
		if env.Payment == nil && len(env.Errors) == 0 {
			return nil, &model.GatewayError{Provider: a.cfg.ID, Message: fmt.Sprintf("http %d with empty payment envelope", status)}
		}
		return a.errorResponse(ref, env.Errors, raw), nil
	}

	p := env.Payment
	resp := &model.TransactionResponse{
		ReferenceID:   ref,
		TransactionID: p.ID,
		RawResponse:   raw,
		ProcessedAt:   time.Now().UTC(),
	}
	if resp.ReferenceID == "" {
		resp.ReferenceID = p.ReferenceID
	}
	if p.AmountMoney != nil {
		resp.Amount = adapter.CentsAmount(p.AmountMoney.Amount)
		resp.Currency = p.AmountMoney.Currency
	}
	if cd := p.CardDetails; cd != nil {
		resp.AVSResult = adapter.MapAVS(avsStatuses, cd.AVSStatus)
		resp.CVVResult = adapter.MapCVV(cvvStatuses, cd.CVVStatus)
	}

	switch p.Status {
	case "COMPLETED", "APPROVED":
		resp.Status = successStatus(op)
	case "CANCELED":
		resp.Status = model.StatusVoided
	case "PENDING":
		resp.Status = model.StatusPending
	default:
		resp.Status = model.StatusError
		resp.ErrorMessage = "payment reported status " + p.Status
	}
	resp.Success = resp.Status.Successful()
	return resp, nil
}

func (a *Adapter) errorResponse(ref string, errs []apiError, raw []byte) *model.TransactionResponse {
	resp := &model.TransactionResponse{
		ReferenceID: ref,
		RawResponse: raw,
		ProcessedAt: time.Now().UTC(),
	}
	code, detail := firstError(errs)
	resp.ErrorMessage = detail

	category := ""
	if len(errs) > 0 {
		category = errs[0].Category
	}
	if category == "PAYMENT_METHOD_ERROR" || category == "REFUND_ERROR" {
		resp.Status = model.StatusDeclined
		resp.DeclineCode = code
	} else {
		resp.Status = model.StatusError
		resp.ErrorCode = code
	}
	resp.Success = false
	return resp
}

func firstError(errs []apiError) (code, detail string) {
	if len(errs) == 0 {
		return "", ""
	}
	return errs[0].Code, errs[0].Detail
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

func currencyOr(cur string) string {
	if cur == "" {
		return "USD"
	}
	return cur
}

var _ adapter.Adapter = (*Adapter)(nil)
