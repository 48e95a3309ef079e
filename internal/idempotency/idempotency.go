// Package idempotency guards payment operations against duplicate
// submission. A caller-supplied reference id is claimed before the first
// gateway attempt and marked completed after a terminal outcome, so a
// client retry is answered from the journal instead of charging twice.
//
// Markers expire. An in-progress claim lives only a few seconds so a
// crashed process cannot block retries forever; a completed marker lives
// long enough to cover any realistic client retry window.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	statusInProgress = "IN_PROGRESS"
	statusCompleted  = "COMPLETED"
)

const (
	// InProgressTTL bounds how long a crashed attempt can hold its claim.
	InProgressTTL = 10 * time.Second

	// CompletedTTL is the replay-detection window for finished operations.
	CompletedTTL = 24 * time.Hour
)

// ErrDuplicate is returned by Begin when the reference id is already
// claimed by an in-flight submission or was completed earlier.
var ErrDuplicate = errors.New("duplicate reference id")

// Store tracks the lifecycle of caller-supplied reference ids. Reference
// ids are scoped per tenant; two tenants may reuse the same id freely.
type Store interface {
	// Begin atomically claims the reference id for the caller.
	// ErrDuplicate means another submission holds or finished it.
	Begin(ctx context.Context, tenantID, referenceID string) error

	// Complete marks the reference id finished for CompletedTTL.
	Complete(ctx context.Context, tenantID, referenceID string) error

	// Release drops an unfinished claim so the caller may retry at once.
	// Only the holder of the claim may call it.
	Release(ctx context.Context, tenantID, referenceID string) error

	// Completed reports whether the reference id finished earlier.
	Completed(ctx context.Context, tenantID, referenceID string) (bool, error)
}

func key(tenantID, referenceID string) string {
	return fmt.Sprintf("idem:%s:%s", tenantID, referenceID)
}

type memoryEntry struct {
	status  string
	expires time.Time
}

// MemoryStore is a single-process Store for tests and deployments that
// run without Redis. Entries expire lazily on access.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// live returns the entry for k if it exists and has not expired.
// Callers must hold mu.
func (m *MemoryStore) live(k string) (memoryEntry, bool) {
	e, ok := m.entries[k]
	if !ok {
		return memoryEntry{}, false
	}
	if m.now().After(e.expires) {
		delete(m.entries, k)
		return memoryEntry{}, false
	}
	return e, true
}

func (m *MemoryStore) Begin(_ context.Context, tenantID, referenceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(tenantID, referenceID)
	if _, ok := m.live(k); ok {
		return ErrDuplicate
	}
	m.entries[k] = memoryEntry{status: statusInProgress, expires: m.now().Add(InProgressTTL)}
	return nil
}

func (m *MemoryStore) Complete(_ context.Context, tenantID, referenceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key(tenantID, referenceID)] = memoryEntry{status: statusCompleted, expires: m.now().Add(CompletedTTL)}
	return nil
}

func (m *MemoryStore) Release(_ context.Context, tenantID, referenceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(tenantID, referenceID)
	// Never drop a completed marker; Release only undoes a claim.
	if e, ok := m.live(k); ok && e.status == statusInProgress {
		delete(m.entries, k)
	}
	return nil
}

func (m *MemoryStore) Completed(_ context.Context, tenantID, referenceID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key(tenantID, referenceID))
	return ok && e.status == statusCompleted, nil
}

// RedisStore is a Store backed by Redis, safe across processes. The
// in-progress claim is a single SETNX on the marker key, so two racing
// submissions of the same reference id can never both acquire it.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing client. The caller owns the client's
// lifecycle and closes it on shutdown.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) Begin(ctx context.Context, tenantID, referenceID string) error {
	set, err := r.client.SetNX(ctx, key(tenantID, referenceID), statusInProgress, InProgressTTL).Result()
	if err != nil {
		return fmt.Errorf("idempotency setnx: %w", err)
	}
	if !set {
		return ErrDuplicate
	}
	return nil
}

func (r *RedisStore) Complete(ctx context.Context, tenantID, referenceID string) error {
	if err := r.client.Set(ctx, key(tenantID, referenceID), statusCompleted, CompletedTTL).Err(); err != nil {
		return fmt.Errorf("idempotency set: %w", err)
	}
	return nil
}

func (r *RedisStore) Release(ctx context.Context, tenantID, referenceID string) error {
	// Only the claim holder calls Release, so a plain DEL cannot clobber
	// another submission's marker.
	if err := r.client.Del(ctx, key(tenantID, referenceID)).Err(); err != nil {
		return fmt.Errorf("idempotency del: %w", err)
	}
	return nil
}

func (r *RedisStore) Completed(ctx context.Context, tenantID, referenceID string) (bool, error) {
	status, err := r.client.Get(ctx, key(tenantID, referenceID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("idempotency get: %w", err)
	}
	return status == statusCompleted, nil
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*RedisStore)(nil)
)
