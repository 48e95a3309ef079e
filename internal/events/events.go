// Package events publishes payment lifecycle events to external
// billing and audit listeners. The orchestrator only emits; it never
// consumes, and a failing listener never fails a payment. Event ids are
// snowflakes so listeners can order and deduplicate without coordination.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/yourorg/payment-gateway/internal/model"
)

// Type names one lifecycle event.
type Type string

const (
	TypePaymentApproved Type = "payment.approved"
	TypePaymentDeclined Type = "payment.declined"
	TypePaymentHeld     Type = "payment.held"
	TypePaymentFailed   Type = "payment.failed"
	TypePaymentVoided   Type = "payment.voided"
	TypePaymentRefunded Type = "payment.refunded"
	TypeTokenCreated    Type = "token.created"
	TypeTokenDeleted    Type = "token.deleted"
)

// ForStatus maps a terminal transaction status onto its event type.
// Non-terminal statuses emit nothing.
func ForStatus(status model.TransactionStatus) (Type, bool) {
	switch status {
	case model.StatusApproved:
		return TypePaymentApproved, true
	case model.StatusDeclined:
		return TypePaymentDeclined, true
	case model.StatusHeldForReview:
		return TypePaymentHeld, true
	case model.StatusVoided:
		return TypePaymentVoided, true
	case model.StatusRefunded:
		return TypePaymentRefunded, true
	case model.StatusError:
		return TypePaymentFailed, true
	default:
		return "", false
	}
}

// Event is the envelope listeners receive.
type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	TenantID   string    `json:"tenant_id"`
	ProviderID string    `json:"provider_id"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload,omitempty"`
}

// Sink receives published events. Implementations must tolerate
// concurrent calls; slow sinks delay payments, so anything expensive
// should hand off internally.
type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

// Dispatcher fans events out to its sinks. Sink errors are logged and
// swallowed: lifecycle publication is best-effort by contract.
type Dispatcher struct {
	node   *snowflake.Node
	sinks  []Sink
	logger *zap.Logger
}

// NewDispatcher builds a dispatcher whose event ids come from the given
// snowflake node id. Node ids must differ between processes that share
// a listener, or ids may collide.
func NewDispatcher(nodeID int64, logger *zap.Logger, sinks ...Sink) (*Dispatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, err
	}
	return &Dispatcher{node: node, sinks: sinks, logger: logger}, nil
}

// Emit publishes one event to every sink. It never returns an error and
// never panics a payment flow on listener trouble.
func (d *Dispatcher) Emit(ctx context.Context, typ Type, tenantID, providerID string, payload any) Event {
	ev := Event{
		ID:         d.node.Generate().String(),
		Type:       typ,
		TenantID:   tenantID,
		ProviderID: providerID,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
	for _, s := range d.sinks {
		if err := s.Publish(ctx, ev); err != nil {
			d.logger.Warn("event sink failed",
				zap.String("event_id", ev.ID),
				zap.String("event_type", string(typ)),
				zap.Error(err),
			)
		}
	}
	return ev
}

// MemorySink collects events in memory for tests and local runs.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// NewMemorySink returns an empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (m *MemorySink) Publish(_ context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

// Events returns a copy of everything published so far.
func (m *MemorySink) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// Types returns just the event types, in publication order.
func (m *MemorySink) Types() []Type {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Type, len(m.events))
	for i, ev := range m.events {
		out[i] = ev.Type
	}
	return out
}
