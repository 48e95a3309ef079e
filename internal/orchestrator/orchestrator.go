// Package orchestrator is the single entry point for payment operations.
// It hides provider selection from callers: a request comes in with a
// tenant id and optional targeting, the orchestrator resolves the
// candidate adapters from the registry, walks them in priority order
// with the fallback policy, and hands back one normalized PaymentResult
// annotated with which provider settled it.
//
// Declines are terminal. A gateway that declines a card has answered the
// question, and asking another gateway the same question would double
// the customer's exposure, so fallback only continues past transport
// trouble and unusable gateway responses.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/yourorg/payment-gateway/internal/adapter"
	"github.com/yourorg/payment-gateway/internal/card"
	"github.com/yourorg/payment-gateway/internal/events"
	"github.com/yourorg/payment-gateway/internal/idempotency"
	"github.com/yourorg/payment-gateway/internal/journal"
	"github.com/yourorg/payment-gateway/internal/metrics"
	"github.com/yourorg/payment-gateway/internal/model"
	"github.com/yourorg/payment-gateway/internal/policy"
)

// ProviderSource is the slice of the registry the orchestrator consumes.
// *registry.Registry satisfies it.
type ProviderSource interface {
	FetchProvider(ctx context.Context, tenantID, providerID string) (adapter.Adapter, error)
	FetchDefaultProvider(ctx context.Context, tenantID string) (adapter.Adapter, error)
	FetchActiveProviders(ctx context.Context, tenantID string) ([]adapter.Adapter, error)
	FetchProvidersByTenant(ctx context.Context, tenantID string) ([]adapter.Adapter, error)
}

// Options target one payment call. ProviderID pins the call to a single
// provider; AllowFallback widens it to the tenant's full active list in
// priority order; with neither set the tenant's default provider is
// used. Metadata is merged onto the request before the first attempt.
type Options struct {
	TenantID      string
	ProviderID    string
	AllowFallback bool
	Metadata      map[string]string
}

// Orchestrator coordinates registry, adapters, policy, events and the
// optional stores. Construct with New; the zero value is not usable.
type Orchestrator struct {
	providers ProviderSource
	policy    *policy.Engine
	events    *events.Dispatcher
	idem      idempotency.Store
	journal   journal.Store
	metrics   *metrics.Collector
	logger    *zap.Logger
	tracer    trace.Tracer
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger replaces the default no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithPolicy replaces the default fallback rule set.
func WithPolicy(e *policy.Engine) Option {
	return func(o *Orchestrator) { o.policy = e }
}

// WithEvents attaches the lifecycle event dispatcher.
func WithEvents(d *events.Dispatcher) Option {
	return func(o *Orchestrator) { o.events = d }
}

// WithIdempotencyStore enables the duplicate-submission guard for
// caller-supplied reference ids.
func WithIdempotencyStore(s idempotency.Store) Option {
	return func(o *Orchestrator) { o.idem = s }
}

// WithJournal enables transaction history recording.
func WithJournal(s journal.Store) Option {
	return func(o *Orchestrator) { o.journal = s }
}

// WithMetrics attaches the Prometheus collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *Orchestrator) { o.metrics = c }
}

// New wires an orchestrator over the given provider source.
func New(providers ProviderSource, opts ...Option) *Orchestrator {
	if providers == nil {
		panic("orchestrator: provider source is required")
	}
	o := &Orchestrator{
		providers: providers,
		logger:    zap.NewNop(),
		tracer:    otel.Tracer("orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.policy == nil {
		o.policy = policy.Default(o.logger)
	}
	return o
}

// Sale authorizes and captures in one step.
func (o *Orchestrator) Sale(ctx context.Context, req *model.TransactionRequest, opts Options) (*model.PaymentResult, error) {
	return o.process(ctx, model.OperationSale, req, opts)
}

// Authorize places a hold without capturing funds.
func (o *Orchestrator) Authorize(ctx context.Context, req *model.TransactionRequest, opts Options) (*model.PaymentResult, error) {
	return o.process(ctx, model.OperationAuthorize, req, opts)
}

// Verify confirms the payment instrument is chargeable without moving
// money. Provider amount bounds do not apply.
func (o *Orchestrator) Verify(ctx context.Context, req *model.TransactionRequest, opts Options) (*model.PaymentResult, error) {
	return o.process(ctx, model.OperationVerify, req, opts)
}

func (o *Orchestrator) process(ctx context.Context, op model.OperationType, req *model.TransactionRequest, opts Options) (*model.PaymentResult, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator."+string(op))
	defer span.End()
	started := time.Now()

	if req == nil {
		return nil, &model.ValidationError{Field: "request", Reason: "required"}
	}
	if opts.TenantID == "" {
		return nil, &model.ValidationError{Field: "tenant_id", Reason: "required"}
	}

	work := req.Clone()
	work.Operation = op
	if work.Currency == "" {
		work.Currency = "USD"
	}
	work.Currency = strings.ToUpper(work.Currency)
	if err := work.Validate(); err != nil {
		return nil, err
	}
	if work.Card != nil {
		if err := checkCard(work.Card); err != nil {
			return nil, err
		}
	}
	for k, v := range opts.Metadata {
		if work.Metadata == nil {
			work.Metadata = make(map[string]string, len(opts.Metadata))
		}
		work.Metadata[k] = v
	}

	claimed, prior, err := o.claim(ctx, opts.TenantID, work.ReferenceID)
	if err != nil {
		return nil, err
	}
	if prior != nil {
		return prior, nil
	}

	candidates, err := o.candidates(ctx, opts)
	if err != nil {
		o.unclaim(ctx, claimed, opts.TenantID, work.ReferenceID)
		return nil, err
	}

	result, err := o.walk(ctx, op, work, opts, candidates, started)
	if err != nil {
		o.unclaim(ctx, claimed, opts.TenantID, work.ReferenceID)
		o.emit(ctx, events.TypePaymentFailed, opts.TenantID, "", map[string]any{
			"operation":    string(op),
			"reference_id": work.ReferenceID,
			"error":        err.Error(),
			"error_kind":   model.ErrorKind(err),
		})
		return nil, err
	}

	o.settle(ctx, claimed, work.ReferenceID, result)
	return result, nil
}

// candidates resolves the ordered provider list for one call. The three
// shapes are mutually exclusive: explicit provider, fallback chain, or
// the tenant's default.
func (o *Orchestrator) candidates(ctx context.Context, opts Options) ([]adapter.Adapter, error) {
	if opts.ProviderID != "" {
		a, err := o.providers.FetchProvider(ctx, opts.TenantID, opts.ProviderID)
		if err != nil {
			return nil, err
		}
		if !available(a) {
			return nil, &model.NotFoundError{Resource: "available provider", ID: opts.ProviderID}
		}
		return []adapter.Adapter{a}, nil
	}
	if opts.AllowFallback {
		active, err := o.providers.FetchActiveProviders(ctx, opts.TenantID)
		if err != nil {
			return nil, err
		}
		if len(active) == 0 {
			return nil, &model.NotFoundError{Resource: "providers for tenant", ID: opts.TenantID}
		}
		return active, nil
	}
	a, err := o.providers.FetchDefaultProvider(ctx, opts.TenantID)
	if err != nil {
		return nil, err
	}
	return []adapter.Adapter{a}, nil
}

func available(a adapter.Adapter) bool {
	return a.Config().IsActive && a.Health().Status != model.HealthDown
}

// checkCard runs the checks that need no gateway: checksum and expiry.
// Structural completeness is already covered by the model's Validate.
func checkCard(c *model.Card) error {
	if !card.ValidLuhn(c.Number) {
		return &model.ValidationError{Field: "card.number", Reason: "failed checksum validation"}
	}
	if card.Expired(c.ExpiryMonth, c.ExpiryYear, time.Now()) {
		return &model.ValidationError{Field: "card.expiry", Reason: "card is expired"}
	}
	return nil
}

// walk iterates the candidates in order until one produces a terminal
// outcome. Bounds violations skip a provider without charging a failure
// against it; everything the policy engine rules recoverable moves on to
// the next candidate.
func (o *Orchestrator) walk(ctx context.Context, op model.OperationType, work *model.TransactionRequest, opts Options, candidates []adapter.Adapter, started time.Time) (*model.PaymentResult, error) {
	var (
		lastErr   error
		attempted int
	)

	for i, a := range candidates {
		if op != model.OperationVerify {
			if err := adapter.CheckAmountBounds(a.Config(), work.Amount); err != nil {
				o.logger.Debug("provider skipped by amount bounds",
					zap.String("provider", a.ID()),
					zap.String("amount", work.Amount.String()))
				continue
			}
		}
		attempted++

		attemptStart := time.Now()
		resp, err := o.invoke(ctx, op, a, work)
		latency := time.Since(attemptStart)

		var status model.TransactionStatus
		switch {
		case err != nil:
			lastErr = err
			o.metrics.ObserveTransaction(a.ID(), op, model.StatusError, latency)
			o.logger.Warn("provider attempt failed",
				zap.String("provider", a.ID()),
				zap.String("operation", string(op)),
				zap.Error(err))
		case resp.Status == model.StatusError:
			status = resp.Status
			lastErr = &model.GatewayError{Provider: a.ID(), Code: resp.ErrorCode, Message: resp.ErrorMessage}
			o.metrics.ObserveTransaction(a.ID(), op, resp.Status, latency)
			o.logger.Warn("provider reported failure",
				zap.String("provider", a.ID()),
				zap.String("operation", string(op)),
				zap.String("code", resp.ErrorCode))
		default:
			// Approvals, declines, holds and pending outcomes all stop
			// the chain here.
			o.metrics.ObserveTransaction(a.ID(), op, resp.Status, latency)
			o.metrics.ObserveFallbackDepth(i)
			return o.assemble(resp, a, op, opts.TenantID, started, i > 0), nil
		}

		if i == len(candidates)-1 {
			break
		}

		decision := o.policy.Decide(policy.Attempt{
			Operation:  op,
			TenantID:   opts.TenantID,
			ProviderID: a.ID(),
			Attempt:    attempted,
			Remaining:  len(candidates) - i - 1,
			Amount:     work.Amount,
			Currency:   work.Currency,
			Status:     status,
			ErrorKind:  model.ErrorKind(err),
		})
		if !decision.Continue {
			if decision.EscalateManual {
				o.logger.Error("fallback halted for manual review",
					zap.String("tenant", opts.TenantID),
					zap.String("provider", a.ID()),
					zap.String("rule", decision.Rule))
			}
			break
		}
	}

	if lastErr == nil {
		// Every candidate was skipped by its amount bounds.
		return nil, &model.ValidationError{Field: "amount", Reason: "no provider accepts this amount"}
	}
	return nil, lastErr
}

// invoke runs one adapter call under its own span.
func (o *Orchestrator) invoke(ctx context.Context, op model.OperationType, a adapter.Adapter, req *model.TransactionRequest) (*model.TransactionResponse, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.attempt", trace.WithAttributes(
		attribute.String("provider.id", a.ID()),
		attribute.String("provider.type", string(a.Type())),
		attribute.String("operation", string(op)),
	))
	defer span.End()

	var (
		resp *model.TransactionResponse
		err  error
	)
	switch op {
	case model.OperationSale:
		resp, err = a.Sale(ctx, req)
	case model.OperationAuthorize:
		resp, err = a.Authorize(ctx, req)
	case model.OperationVerify:
		resp, err = a.Verify(ctx, req)
	default:
		err = &model.ValidationError{Field: "operation", Reason: fmt.Sprintf("%s does not run through provider selection", op)}
	}
	if err == nil && resp == nil {
		err = &model.GatewayError{Provider: a.ID(), Message: "adapter returned neither response nor error"}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, model.ErrorKind(err))
		return nil, err
	}
	span.SetAttributes(attribute.String("status", string(resp.Status)))
	return resp, nil
}

func (o *Orchestrator) assemble(resp *model.TransactionResponse, a adapter.Adapter, op model.OperationType, tenantID string, started time.Time, fellBack bool) *model.PaymentResult {
	return &model.PaymentResult{
		TransactionResponse: *resp,
		ProviderID:          a.ID(),
		ProviderName:        a.Name(),
		ProcessingTimeMs:    time.Since(started).Milliseconds(),
		FallbackUsed:        fellBack,
		TenantID:            tenantID,
		Operation:           op,
	}
}

// claim acquires the replay guard for a caller-supplied reference id. It
// returns the journaled prior result when the same reference id already
// completed, so client retries see the original outcome instead of a
// second charge.
func (o *Orchestrator) claim(ctx context.Context, tenantID, referenceID string) (bool, *model.PaymentResult, error) {
	if o.idem == nil || referenceID == "" {
		return false, nil, nil
	}
	err := o.idem.Begin(ctx, tenantID, referenceID)
	if err == nil {
		return true, nil, nil
	}
	if !errors.Is(err, idempotency.ErrDuplicate) {
		// A broken guard must not take payments down with it.
		o.logger.Warn("idempotency store unavailable, proceeding unguarded",
			zap.String("tenant", tenantID),
			zap.Error(err))
		return false, nil, nil
	}
	if done, derr := o.idem.Completed(ctx, tenantID, referenceID); derr == nil && done && o.journal != nil {
		if prior, ferr := o.journal.Find(ctx, tenantID, referenceID); ferr == nil {
			o.logger.Info("duplicate reference id answered from journal",
				zap.String("tenant", tenantID),
				zap.String("reference_id", referenceID))
			return false, prior, nil
		}
	}
	return false, nil, err
}

func (o *Orchestrator) unclaim(ctx context.Context, claimed bool, tenantID, referenceID string) {
	if !claimed {
		return
	}
	if err := o.idem.Release(ctx, tenantID, referenceID); err != nil {
		o.logger.Warn("idempotency release failed",
			zap.String("reference_id", referenceID),
			zap.Error(err))
	}
}

// settle lands a terminal result in the journal, the replay guard and
// the event stream. Nothing here may fail the payment; storage and
// listener trouble is logged and swallowed.
func (o *Orchestrator) settle(ctx context.Context, claimed bool, claimRef string, result *model.PaymentResult) {
	if o.journal != nil && result.ReferenceID != "" {
		if _, _, err := o.journal.Record(ctx, result); err != nil {
			o.logger.Warn("journal write failed",
				zap.String("reference_id", result.ReferenceID),
				zap.Error(err))
		}
	}
	if claimed {
		if err := o.idem.Complete(ctx, result.TenantID, claimRef); err != nil {
			o.logger.Warn("idempotency completion failed",
				zap.String("reference_id", claimRef),
				zap.Error(err))
		}
	}
	if typ, ok := events.ForStatus(result.Status); ok {
		o.emit(ctx, typ, result.TenantID, result.ProviderID, result)
	}
}

func (o *Orchestrator) emit(ctx context.Context, typ events.Type, tenantID, providerID string, payload any) {
	if o.events == nil {
		return
	}
	o.events.Emit(ctx, typ, tenantID, providerID, payload)
}
