package orchestrator

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yourorg/payment-gateway/internal/adapter"
	"github.com/yourorg/payment-gateway/internal/events"
	"github.com/yourorg/payment-gateway/internal/model"
)

// Capture settles a prior authorization, in full when amount is nil.
// The transaction already lives on one gateway, so there is no fallback:
// the call goes to the named provider or nowhere.
func (o *Orchestrator) Capture(ctx context.Context, tenantID, providerID, transactionID string, amount *decimal.Decimal) (*model.PaymentResult, error) {
	return o.followUp(ctx, model.OperationCapture, tenantID, providerID, transactionID, amount)
}

// Void cancels an unsettled transaction.
func (o *Orchestrator) Void(ctx context.Context, tenantID, providerID, transactionID string) (*model.PaymentResult, error) {
	return o.followUp(ctx, model.OperationVoid, tenantID, providerID, transactionID, nil)
}

// Refund returns settled funds, in full when amount is nil.
func (o *Orchestrator) Refund(ctx context.Context, tenantID, providerID, transactionID string, amount *decimal.Decimal) (*model.PaymentResult, error) {
	return o.followUp(ctx, model.OperationRefund, tenantID, providerID, transactionID, amount)
}

func (o *Orchestrator) followUp(ctx context.Context, op model.OperationType, tenantID, providerID, transactionID string, amount *decimal.Decimal) (*model.PaymentResult, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator."+string(op), trace.WithAttributes(
		attribute.String("provider.id", providerID),
	))
	defer span.End()
	started := time.Now()

	if tenantID == "" {
		return nil, &model.ValidationError{Field: "tenant_id", Reason: "required"}
	}
	if providerID == "" {
		return nil, &model.ValidationError{Field: "provider_id", Reason: "follow-up operations run against the provider that holds the transaction"}
	}
	if transactionID == "" {
		return nil, &model.ValidationError{Field: "transaction_id", Reason: "required"}
	}
	if amount != nil && amount.IsNegative() {
		return nil, &model.ValidationError{Field: "amount", Reason: "must not be negative"}
	}

	// No availability filter here: an inactive or degraded provider still
	// holds the original transaction and must accept follow-ups on it.
	a, err := o.providers.FetchProvider(ctx, tenantID, providerID)
	if err != nil {
		return nil, err
	}

	attemptStart := time.Now()
	var resp *model.TransactionResponse
	switch op {
	case model.OperationCapture:
		resp, err = a.Capture(ctx, transactionID, amount)
	case model.OperationVoid:
		resp, err = a.Void(ctx, transactionID)
	case model.OperationRefund:
		resp, err = a.Refund(ctx, transactionID, amount)
	}
	latency := time.Since(attemptStart)

	if err == nil && resp == nil {
		err = &model.GatewayError{Provider: a.ID(), Message: "adapter returned neither response nor error"}
	}
	if err != nil {
		o.metrics.ObserveTransaction(a.ID(), op, model.StatusError, latency)
		span.RecordError(err)
		span.SetStatus(codes.Error, model.ErrorKind(err))
		return nil, err
	}
	o.metrics.ObserveTransaction(a.ID(), op, resp.Status, latency)
	if resp.Status == model.StatusError {
		return nil, &model.GatewayError{Provider: a.ID(), Code: resp.ErrorCode, Message: resp.ErrorMessage}
	}

	result := o.assemble(resp, a, op, tenantID, started, false)
	o.settle(ctx, false, "", result)
	return result, nil
}

// Tokenize exchanges raw card data for a reusable token on the explicit
// provider, or on the tenant's best active provider that supports
// tokenization when none is named.
func (o *Orchestrator) Tokenize(ctx context.Context, c *model.Card, tenantID, providerID string) (*model.TokenizedCard, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.tokenize")
	defer span.End()

	if tenantID == "" {
		return nil, &model.ValidationError{Field: "tenant_id", Reason: "required"}
	}
	if c == nil {
		return nil, &model.ValidationError{Field: "card", Reason: "required"}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if err := checkCard(c); err != nil {
		return nil, err
	}

	a, err := o.tokenizer(ctx, tenantID, providerID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("provider.id", a.ID()))

	attemptStart := time.Now()
	tok, err := a.Tokenize(ctx, c)
	latency := time.Since(attemptStart)
	if err != nil {
		o.metrics.ObserveTransaction(a.ID(), model.OperationTokenize, model.StatusError, latency)
		span.RecordError(err)
		span.SetStatus(codes.Error, model.ErrorKind(err))
		return nil, err
	}
	tok.ProviderID = a.ID()
	o.metrics.ObserveTransaction(a.ID(), model.OperationTokenize, model.StatusApproved, latency)
	o.emit(ctx, events.TypeTokenCreated, tenantID, a.ID(), map[string]any{
		"token":       tok.Token,
		"last4":       tok.Last4,
		"brand":       string(tok.Brand),
		"fingerprint": tok.Fingerprint,
	})
	return tok, nil
}

// tokenizer picks the provider that will hold the token.
func (o *Orchestrator) tokenizer(ctx context.Context, tenantID, providerID string) (adapter.Adapter, error) {
	if providerID != "" {
		return o.providers.FetchProvider(ctx, tenantID, providerID)
	}
	active, err := o.providers.FetchActiveProviders(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	for _, a := range active {
		if a.Config().SupportsTokenization {
			return a, nil
		}
	}
	return nil, &model.NotFoundError{Resource: "tokenization provider for tenant", ID: tenantID}
}

// DeleteToken removes a stored token from the provider that issued it.
func (o *Orchestrator) DeleteToken(ctx context.Context, tenantID, providerID, token string) (bool, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.delete_token", trace.WithAttributes(
		attribute.String("provider.id", providerID),
	))
	defer span.End()

	if tenantID == "" {
		return false, &model.ValidationError{Field: "tenant_id", Reason: "required"}
	}
	if providerID == "" {
		return false, &model.ValidationError{Field: "provider_id", Reason: "token deletion runs against the provider that issued the token"}
	}
	if token == "" {
		return false, &model.ValidationError{Field: "token", Reason: "required"}
	}

	a, err := o.providers.FetchProvider(ctx, tenantID, providerID)
	if err != nil {
		return false, err
	}

	ok, err := a.DeleteToken(ctx, token)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, model.ErrorKind(err))
		return false, err
	}
	if ok {
		o.emit(ctx, events.TypeTokenDeleted, tenantID, a.ID(), map[string]any{"token": token})
	}
	return ok, nil
}

// ProviderSummary is the dashboard view of one registered provider.
type ProviderSummary struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Type        model.ProviderType   `json:"type"`
	IsDefault   bool                 `json:"is_default"`
	IsAvailable bool                 `json:"is_available"`
	Health      model.ProviderHealth `json:"health"`
}

// AvailableProviders lists every provider registered for the tenant with
// its availability and health snapshot.
func (o *Orchestrator) AvailableProviders(ctx context.Context, tenantID string) ([]ProviderSummary, error) {
	adapters, err := o.providers.FetchProvidersByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	summaries := make([]ProviderSummary, 0, len(adapters))
	for _, a := range adapters {
		cfg := a.Config()
		summaries = append(summaries, ProviderSummary{
			ID:          cfg.ID,
			Name:        cfg.Name,
			Type:        cfg.Type,
			IsDefault:   cfg.IsDefault,
			IsAvailable: available(a),
			Health:      a.Health(),
		})
	}
	return summaries, nil
}

// ProvidersHealth returns the current health snapshot of every provider
// registered for the tenant and refreshes the health gauges.
func (o *Orchestrator) ProvidersHealth(ctx context.Context, tenantID string) ([]model.ProviderHealth, error) {
	adapters, err := o.providers.FetchProvidersByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	snapshots := make([]model.ProviderHealth, 0, len(adapters))
	for _, a := range adapters {
		h := a.Health()
		o.metrics.SetProviderHealth(a.ID(), h.Status)
		snapshots = append(snapshots, h)
	}
	return snapshots, nil
}
