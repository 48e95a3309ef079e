// Package tenant defines the port through which the registry discovers
// which payment integrations a tenant has configured. The backing system
// of record (accounts service, admin database) lives outside this module;
// the registry only depends on the Resolver interface.
package tenant

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrUnknownTenant is returned by resolvers for tenants that have no
// account. The registry treats it as an empty integration set, not a
// failure.
var ErrUnknownTenant = errors.New("unknown tenant")

// Account is the billing account a tenant maps onto.
type Account struct {
	ID   string
	Name string
}

// Integration is one configured payment integration as the external system
// records it. Credentials arrive either inline as an encrypted blob or as
// a reference to a platform-level shared credential set, never both.
type Integration struct {
	ID          string
	Provider    string // external identifier, e.g. "authorize.net"
	DisplayName string
	Priority    int // lower is tried first
	IsActive    bool
	IsDefault   bool
	Environment string // sandbox or production

	Credentials        []byte // encrypted blob; empty when shared
	SharedCredentialID string

	SupportsTokenization bool
	SupportsRecurring    bool
	Supports3DSecure     bool
	SupportsACH          bool

	// Optional processing limits, rendered as fixed-point strings so the
	// record stays storage-agnostic. Empty means unbounded.
	MinAmount string
	MaxAmount string

	MaxRetries   int
	RetryDelayMs int
}

// Resolver looks up a tenant's account and its active payment
// integrations. Implementations are safe for concurrent use.
type Resolver interface {
	// AccountForTenant maps a tenant id onto its account, returning
	// ErrUnknownTenant when none exists.
	AccountForTenant(ctx context.Context, tenantID string) (Account, error)

	// PaymentIntegrations lists an account's payment integrations in
	// priority order.
	PaymentIntegrations(ctx context.Context, accountID string) ([]Integration, error)
}

// MemoryResolver is an in-memory Resolver for tests and local runs.
type MemoryResolver struct {
	mu           sync.RWMutex
	accounts     map[string]Account       // tenant id -> account
	integrations map[string][]Integration // account id -> integrations
}

// NewMemoryResolver returns an empty resolver.
func NewMemoryResolver() *MemoryResolver {
	return &MemoryResolver{
		accounts:     map[string]Account{},
		integrations: map[string][]Integration{},
	}
}

// AddTenant registers a tenant's account and integrations, replacing any
// previous registration.
func (m *MemoryResolver) AddTenant(tenantID string, account Account, integrations ...Integration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[tenantID] = account
	m.integrations[account.ID] = append([]Integration(nil), integrations...)
}

func (m *MemoryResolver) AccountForTenant(_ context.Context, tenantID string) (Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acct, ok := m.accounts[tenantID]
	if !ok {
		return Account{}, ErrUnknownTenant
	}
	return acct, nil
}

func (m *MemoryResolver) PaymentIntegrations(_ context.Context, accountID string) ([]Integration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := append([]Integration(nil), m.integrations[accountID]...)
	sort.SliceStable(list, func(i, j int) bool { return list[i].Priority < list[j].Priority })
	return list, nil
}
