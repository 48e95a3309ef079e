// Package mock provides a configurable in-memory Adapter for tests. Each
// operation has an overridable Func field; unset operations approve with a
// fresh transaction id.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/yourorg/payment-gateway/internal/adapter"
	"github.com/yourorg/payment-gateway/internal/card"
	"github.com/yourorg/payment-gateway/internal/health"
	"github.com/yourorg/payment-gateway/internal/model"
)

// Adapter is a scriptable gateway double. The zero value is not usable;
// construct with New.
type Adapter struct {
	Cfg     model.ProviderConfig
	Tracker *health.Tracker

	SaleFunc        func(ctx context.Context, req *model.TransactionRequest) (*model.TransactionResponse, error)
	AuthorizeFunc   func(ctx context.Context, req *model.TransactionRequest) (*model.TransactionResponse, error)
	CaptureFunc     func(ctx context.Context, transactionID string, amount *decimal.Decimal) (*model.TransactionResponse, error)
	VoidFunc        func(ctx context.Context, transactionID string) (*model.TransactionResponse, error)
	RefundFunc      func(ctx context.Context, transactionID string, amount *decimal.Decimal) (*model.TransactionResponse, error)
	VerifyFunc      func(ctx context.Context, req *model.TransactionRequest) (*model.TransactionResponse, error)
	TokenizeFunc    func(ctx context.Context, c *model.Card) (*model.TokenizedCard, error)
	DeleteTokenFunc func(ctx context.Context, token string) (bool, error)

	mu    sync.Mutex
	calls []string
}

// New returns a mock that approves everything, registered under the given
// id as an active stripe-typed provider.
func New(id string) *Adapter {
	return &Adapter{
		Cfg: model.ProviderConfig{
			ID:                   id,
			TenantID:             "tenant-1",
			Name:                 "Mock " + id,
			Type:                 model.ProviderStripe,
			IsActive:             true,
			SupportsTokenization: true,
			MaxRetries:           0,
			RetryDelay:           time.Millisecond,
		},
		Tracker: health.NewTracker(id),
	}
}

// WithConfig replaces the registered configuration.
func (m *Adapter) WithConfig(cfg model.ProviderConfig) *Adapter {
	m.Cfg = cfg
	if m.Tracker == nil {
		m.Tracker = health.NewTracker(cfg.ID)
	}
	return m
}

func (m *Adapter) record(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, op)
}

// Calls returns the operations invoked, in order.
func (m *Adapter) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *Adapter) ID() string                   { return m.Cfg.ID }
func (m *Adapter) Name() string                 { return m.Cfg.Name }
func (m *Adapter) Type() model.ProviderType     { return m.Cfg.Type }
func (m *Adapter) Config() model.ProviderConfig { return m.Cfg }
func (m *Adapter) Health() model.ProviderHealth { return m.Tracker.Snapshot() }

func (m *Adapter) approve(refID string) *model.TransactionResponse {
	resp := model.NewResponse(model.StatusApproved, refID)
	resp.TransactionID = uuid.NewString()
	resp.AuthCode = "MOCK01"
	m.Tracker.RecordSuccess(5 * time.Millisecond)
	return resp
}

func (m *Adapter) refFor(req *model.TransactionRequest) string {
	if req.ReferenceID != "" {
		return req.ReferenceID
	}
	return adapter.NewReferenceID("mock")
}

func (m *Adapter) Sale(ctx context.Context, req *model.TransactionRequest) (*model.TransactionResponse, error) {
	m.record("sale")
	if m.SaleFunc != nil {
		return m.SaleFunc(ctx, req)
	}
	return m.approve(m.refFor(req)), nil
}

func (m *Adapter) Authorize(ctx context.Context, req *model.TransactionRequest) (*model.TransactionResponse, error) {
	m.record("authorize")
	if m.AuthorizeFunc != nil {
		return m.AuthorizeFunc(ctx, req)
	}
	return m.approve(m.refFor(req)), nil
}

func (m *Adapter) Capture(ctx context.Context, transactionID string, amount *decimal.Decimal) (*model.TransactionResponse, error) {
	m.record("capture")
	if m.CaptureFunc != nil {
		return m.CaptureFunc(ctx, transactionID, amount)
	}
	resp := m.approve("")
	resp.TransactionID = transactionID
	return resp, nil
}

func (m *Adapter) Void(ctx context.Context, transactionID string) (*model.TransactionResponse, error) {
	m.record("void")
	if m.VoidFunc != nil {
		return m.VoidFunc(ctx, transactionID)
	}
	resp := model.NewResponse(model.StatusVoided, "")
	resp.TransactionID = transactionID
	m.Tracker.RecordSuccess(5 * time.Millisecond)
	return resp, nil
}

func (m *Adapter) Refund(ctx context.Context, transactionID string, amount *decimal.Decimal) (*model.TransactionResponse, error) {
	m.record("refund")
	if m.RefundFunc != nil {
		return m.RefundFunc(ctx, transactionID, amount)
	}
	resp := model.NewResponse(model.StatusRefunded, "")
	resp.TransactionID = transactionID
	if amount != nil {
		resp.Amount = *amount
	}
	m.Tracker.RecordSuccess(5 * time.Millisecond)
	return resp, nil
}

func (m *Adapter) Verify(ctx context.Context, req *model.TransactionRequest) (*model.TransactionResponse, error) {
	m.record("verify")
	if m.VerifyFunc != nil {
		return m.VerifyFunc(ctx, req)
	}
	return m.approve(m.refFor(req)), nil
}

func (m *Adapter) Tokenize(ctx context.Context, c *model.Card) (*model.TokenizedCard, error) {
	m.record("tokenize")
	if m.TokenizeFunc != nil {
		return m.TokenizeFunc(ctx, c)
	}
	m.Tracker.RecordSuccess(5 * time.Millisecond)
	return &model.TokenizedCard{
		Token:       "mock_tok_" + uuid.NewString()[:8],
		Last4:       card.Last4(c.Number),
		Brand:       card.DetectBrand(c.Number),
		ExpiryMonth: c.ExpiryMonth,
		ExpiryYear:  card.NormalizeYear(c.ExpiryYear),
		Fingerprint: card.Fingerprint(c.Number),
	}, nil
}

func (m *Adapter) DeleteToken(ctx context.Context, token string) (bool, error) {
	m.record("delete_token")
	if m.DeleteTokenFunc != nil {
		return m.DeleteTokenFunc(ctx, token)
	}
	return true, nil
}

func (m *Adapter) HealthCheck(ctx context.Context) model.ProviderHealth {
	m.record("health_check")
	m.Tracker.RecordSuccess(time.Millisecond)
	return m.Tracker.Snapshot()
}

var _ adapter.Adapter = (*Adapter)(nil)
