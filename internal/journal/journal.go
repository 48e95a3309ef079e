// Package journal persists terminal payment outcomes keyed by tenant and
// reference id. The orchestrator records every result it returns; the
// history endpoint and the idempotency replay path read them back.
//
// Writes are first-write-wins. A replayed request or an orchestrator
// retry can never overwrite the record of the attempt that actually
// charged the customer, so recording the same reference id twice simply
// returns the stored record.
package journal

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/yourorg/payment-gateway/internal/model"
)

// ErrNotFound is returned when a reference id has no journal record.
var ErrNotFound = errors.New("transaction not found")

// ErrNoReference is returned by Record when the result carries no
// reference id to key it by.
var ErrNoReference = errors.New("reference id required")

// Store is the journal port the orchestrator and handlers depend on.
// Implementations must be safe for concurrent use.
type Store interface {
	// Record persists the result under its tenant and reference id.
	// It returns the stored record and whether this call created it;
	// when the reference id was already recorded the original record is
	// returned unchanged.
	Record(ctx context.Context, result *model.PaymentResult) (*model.PaymentResult, bool, error)

	// Find returns the record for a tenant's reference id, or
	// ErrNotFound.
	Find(ctx context.Context, tenantID, referenceID string) (*model.PaymentResult, error)

	// List returns all of a tenant's records ordered by processing time.
	List(ctx context.Context, tenantID string) ([]model.PaymentResult, error)
}

func key(tenantID, referenceID string) string {
	return tenantID + "/" + referenceID
}

// sanitize copies the result and strips the raw gateway body, which must
// never be persisted.
func sanitize(result *model.PaymentResult) model.PaymentResult {
	entry := *result
	entry.RawResponse = nil
	return entry
}

// MemoryStore is a single-process Store for tests and deployments that
// do not need the history to survive a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]model.PaymentResult
}

// NewMemoryStore returns an empty in-memory journal.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]model.PaymentResult)}
}

func (m *MemoryStore) Record(_ context.Context, result *model.PaymentResult) (*model.PaymentResult, bool, error) {
	if result.ReferenceID == "" {
		return nil, false, ErrNoReference
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(result.TenantID, result.ReferenceID)
	if existing, ok := m.entries[k]; ok {
		return &existing, false, nil
	}
	entry := sanitize(result)
	m.entries[k] = entry
	return &entry, true, nil
}

func (m *MemoryStore) Find(_ context.Context, tenantID, referenceID string) (*model.PaymentResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[key(tenantID, referenceID)]
	if !ok {
		return nil, ErrNotFound
	}
	return &entry, nil
}

func (m *MemoryStore) List(_ context.Context, tenantID string) ([]model.PaymentResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	prefix := tenantID + "/"
	entries := make([]model.PaymentResult, 0)
	for k, entry := range m.entries {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ProcessedAt.Before(entries[j].ProcessedAt)
	})
	return entries, nil
}

var _ Store = (*MemoryStore)(nil)
