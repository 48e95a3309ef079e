// Package registry owns the mapping from tenants to their configured
// provider adapters. All state lives behind one mutex-guarded type:
// adapters by id, per-tenant ordering, and per-tenant loaded markers for
// lazy integration loading. Construction of concrete adapters happens
// here, through one exhaustive switch over the supported provider types.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/yourorg/payment-gateway/internal/adapter"
	"github.com/yourorg/payment-gateway/internal/adapter/authorizenet"
	"github.com/yourorg/payment-gateway/internal/adapter/paypal"
	"github.com/yourorg/payment-gateway/internal/adapter/square"
	"github.com/yourorg/payment-gateway/internal/adapter/stripe"
	"github.com/yourorg/payment-gateway/internal/credentials"
	"github.com/yourorg/payment-gateway/internal/model"
	"github.com/yourorg/payment-gateway/internal/tenant"
)

// Registry is the single source of truth for registered providers. It is
// safe for concurrent use. Loading a tenant's integrations is lazy and
// tolerates concurrent first access: both loaders may run, and duplicate
// registrations overwrite rather than append.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]adapter.Adapter // provider id -> adapter
	byTenant map[string][]string        // tenant id -> provider ids in registration order
	loaded   map[string]bool            // tenant id -> integrations loaded

	resolver tenant.Resolver
	creds    credentials.Store
	logger   *zap.Logger
}

// New builds a registry. resolver and creds may be nil when every provider
// is registered explicitly and lazy loading is never exercised.
func New(resolver tenant.Resolver, creds credentials.Store, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		adapters: map[string]adapter.Adapter{},
		byTenant: map[string][]string{},
		loaded:   map[string]bool{},
		resolver: resolver,
		creds:    creds,
		logger:   logger,
	}
}

// RegisterProvider validates the configuration, constructs the concrete
// adapter for its type and stores it. Registering an id twice replaces the
// earlier adapter in place; the tenant's ordering gains no duplicate
// entry.
func (r *Registry) RegisterProvider(cfg model.ProviderConfig) error {
	if cfg.ID == "" {
		return &model.ValidationError{Field: "provider.id", Reason: "is required"}
	}
	if cfg.TenantID == "" {
		cfg.TenantID = model.SystemTenant
	}
	if err := credentials.ValidateShape(cfg.Type, cfg.Credentials); err != nil {
		return err
	}

	a, err := r.buildAdapter(cfg)
	if err != nil {
		return err
	}
	r.storeAdapter(cfg, a)
	return nil
}

// RegisterAdapter stores a pre-built adapter, bypassing construction. It
// exists for custom adapters and tests; the same overwrite semantics
// apply.
func (r *Registry) RegisterAdapter(a adapter.Adapter) error {
	cfg := a.Config()
	if cfg.ID == "" {
		return &model.ValidationError{Field: "provider.id", Reason: "is required"}
	}
	if cfg.TenantID == "" {
		cfg.TenantID = model.SystemTenant
	}
	r.storeAdapter(cfg, a)
	return nil
}

func (r *Registry) storeAdapter(cfg model.ProviderConfig, a adapter.Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.adapters[cfg.ID]; !exists {
		r.byTenant[cfg.TenantID] = append(r.byTenant[cfg.TenantID], cfg.ID)
	}
	r.adapters[cfg.ID] = a

	r.logger.Info("provider registered",
		zap.String("provider_id", cfg.ID),
		zap.String("tenant_id", cfg.TenantID),
		zap.String("type", string(cfg.Type)),
		zap.Bool("default", cfg.IsDefault),
	)
}

// buildAdapter is the one place a ProviderType becomes a concrete adapter.
// The switch is exhaustive over the supported set; anything else is a
// configuration error.
func (r *Registry) buildAdapter(cfg model.ProviderConfig) (adapter.Adapter, error) {
	logger := r.logger.Named(string(cfg.Type))
	switch cfg.Type {
	case model.ProviderPayPal:
		return paypal.New(cfg, paypal.WithLogger(logger)), nil
	case model.ProviderAuthorizeNet:
		return authorizenet.New(cfg, authorizenet.WithLogger(logger)), nil
	case model.ProviderSquare:
		return square.New(cfg, square.WithLogger(logger)), nil
	case model.ProviderStripe:
		return stripe.New(cfg, stripe.WithLogger(logger)), nil
	default:
		return nil, &model.ConfigurationError{
			Provider: string(cfg.Type),
			Reason:   "unsupported provider type",
		}
	}
}

// GetProvider returns an adapter by id regardless of tenant. Callers that
// must respect tenant scoping use FetchProvider.
func (r *Registry) GetProvider(id string) (adapter.Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[id]
	return a, ok
}

// GetProvidersByTenant returns the tenant's own providers in registration
// order. Providers registered to other tenants, including the system
// tenant, never appear.
func (r *Registry) GetProvidersByTenant(tenantID string) []adapter.Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(r.byTenant[tenantID])
}

// GetDefaultProvider returns the tenant's default provider. A tenant
// without a default of its own inherits the system tenant's default.
func (r *Registry) GetDefaultProvider(tenantID string) (adapter.Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if a, ok := r.defaultOf(tenantID); ok {
		return a, true
	}
	if tenantID != model.SystemTenant {
		return r.defaultOf(model.SystemTenant)
	}
	return nil, false
}

func (r *Registry) defaultOf(tenantID string) (adapter.Adapter, bool) {
	for _, id := range r.byTenant[tenantID] {
		a := r.adapters[id]
		if cfg := a.Config(); cfg.IsDefault && cfg.IsActive {
			return a, true
		}
	}
	return nil, false
}

// GetActiveProviders returns the tenant's active, non-down providers in
// priority order. A tenant with no providers of its own falls through to
// the system tenant's providers, so platform-level defaults serve tenants
// that configured nothing.
func (r *Registry) GetActiveProviders(tenantID string) []adapter.Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.byTenant[tenantID]
	if len(ids) == 0 && tenantID != model.SystemTenant {
		ids = r.byTenant[model.SystemTenant]
	}

	out := make([]adapter.Adapter, 0, len(ids))
	for _, id := range ids {
		a := r.adapters[id]
		if !a.Config().IsActive {
			continue
		}
		if a.Health().Status == model.HealthDown {
			continue
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Config().Priority < out[j].Config().Priority
	})
	return out
}

// GetProviderByType returns the tenant's first provider of the given type,
// in priority order among its active providers.
func (r *Registry) GetProviderByType(tenantID string, typ model.ProviderType) (adapter.Adapter, bool) {
	for _, a := range r.GetActiveProviders(tenantID) {
		if a.Type() == typ {
			return a, true
		}
	}
	return nil, false
}

func (r *Registry) collect(ids []string) []adapter.Adapter {
	out := make([]adapter.Adapter, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.adapters[id])
	}
	return out
}

// EnsureLoaded loads the tenant's integrations on first access. Resolution
// and decryption run outside the lock, so two racing first calls may both
// load; overwrite-on-register makes that harmless. A tenant unknown to the
// resolver is recorded as loaded with zero providers.
func (r *Registry) EnsureLoaded(ctx context.Context, tenantID string) error {
	r.mu.RLock()
	done := r.loaded[tenantID]
	r.mu.RUnlock()
	if done || tenantID == "" {
		return nil
	}
	if r.resolver == nil {
		r.markLoaded(tenantID)
		return nil
	}

	acct, err := r.resolver.AccountForTenant(ctx, tenantID)
	if errors.Is(err, tenant.ErrUnknownTenant) {
		r.logger.Warn("tenant has no account, registering no providers", zap.String("tenant_id", tenantID))
		r.markLoaded(tenantID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolving tenant %s: %w", tenantID, err)
	}

	integrations, err := r.resolver.PaymentIntegrations(ctx, acct.ID)
	if err != nil {
		return fmt.Errorf("listing integrations for tenant %s: %w", tenantID, err)
	}

	shared, err := r.resolveShared(ctx, integrations)
	if err != nil {
		return err
	}

	for _, in := range integrations {
		if err := r.registerIntegration(ctx, tenantID, in, shared); err != nil {
			r.logger.Warn("skipping integration",
				zap.String("tenant_id", tenantID),
				zap.String("integration_id", in.ID),
				zap.String("provider", in.Provider),
				zap.Error(err),
			)
		}
	}
	r.markLoaded(tenantID)
	return nil
}

func (r *Registry) markLoaded(tenantID string) {
	r.mu.Lock()
	r.loaded[tenantID] = true
	r.mu.Unlock()
}

// resolveShared batch-fetches every shared credential set referenced by
// the integration list in a single store call.
func (r *Registry) resolveShared(ctx context.Context, integrations []tenant.Integration) (map[string][]byte, error) {
	seen := map[string]bool{}
	var ids []string
	for _, in := range integrations {
		if in.SharedCredentialID != "" && !seen[in.SharedCredentialID] {
			seen[in.SharedCredentialID] = true
			ids = append(ids, in.SharedCredentialID)
		}
	}
	if len(ids) == 0 {
		return map[string][]byte{}, nil
	}
	shared, err := r.creds.ResolveShared(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("resolving shared credentials: %w", err)
	}
	return shared, nil
}

func (r *Registry) registerIntegration(ctx context.Context, tenantID string, in tenant.Integration, shared map[string][]byte) error {
	typ, err := model.ParseProviderType(in.Provider)
	if err != nil {
		return err
	}

	blob := in.Credentials
	if in.SharedCredentialID != "" {
		var ok bool
		blob, ok = shared[in.SharedCredentialID]
		if !ok {
			return &model.ConfigurationError{
				Provider: in.Provider,
				Reason:   "shared credential set " + in.SharedCredentialID + " not found",
			}
		}
	}
	creds, err := r.creds.Decrypt(ctx, blob)
	if err != nil {
		return fmt.Errorf("decrypting credentials: %w", err)
	}

	cfg := model.ProviderConfig{
		ID:                   in.ID,
		TenantID:             tenantID,
		Name:                 in.DisplayName,
		Type:                 typ,
		Credentials:          creds,
		Environment:          in.Environment,
		IsDefault:            in.IsDefault,
		IsActive:             in.IsActive,
		Priority:             in.Priority,
		SupportsTokenization: in.SupportsTokenization,
		SupportsRecurring:    in.SupportsRecurring,
		Supports3DSecure:     in.Supports3DSecure,
		SupportsACH:          in.SupportsACH,
		MaxRetries:           in.MaxRetries,
		RetryDelay:           time.Duration(in.RetryDelayMs) * time.Millisecond,
	}
	if in.MinAmount != "" {
		if d, err := decimal.NewFromString(in.MinAmount); err == nil {
			cfg.MinAmount = &d
		} else {
			r.logger.Warn("ignoring unparseable min amount",
				zap.String("integration_id", in.ID), zap.String("min_amount", in.MinAmount))
		}
	}
	if in.MaxAmount != "" {
		if d, err := decimal.NewFromString(in.MaxAmount); err == nil {
			cfg.MaxAmount = &d
		} else {
			r.logger.Warn("ignoring unparseable max amount",
				zap.String("integration_id", in.ID), zap.String("max_amount", in.MaxAmount))
		}
	}
	return r.RegisterProvider(cfg)
}

// FetchProvider is the tenant-scoped, lazily loading lookup: the provider
// must belong to the tenant (or be a system provider) to be visible.
func (r *Registry) FetchProvider(ctx context.Context, tenantID, providerID string) (adapter.Adapter, error) {
	if err := r.EnsureLoaded(ctx, tenantID); err != nil {
		return nil, err
	}
	a, ok := r.GetProvider(providerID)
	if !ok {
		return nil, &model.NotFoundError{Resource: "provider", ID: providerID}
	}
	if owner := a.Config().TenantID; owner != tenantID && owner != model.SystemTenant {
		return nil, &model.NotFoundError{Resource: "provider", ID: providerID}
	}
	return a, nil
}

// FetchProvidersByTenant is GetProvidersByTenant with lazy loading.
func (r *Registry) FetchProvidersByTenant(ctx context.Context, tenantID string) ([]adapter.Adapter, error) {
	if err := r.EnsureLoaded(ctx, tenantID); err != nil {
		return nil, err
	}
	return r.GetProvidersByTenant(tenantID), nil
}

// FetchDefaultProvider is GetDefaultProvider with lazy loading.
func (r *Registry) FetchDefaultProvider(ctx context.Context, tenantID string) (adapter.Adapter, error) {
	if err := r.EnsureLoaded(ctx, tenantID); err != nil {
		return nil, err
	}
	a, ok := r.GetDefaultProvider(tenantID)
	if !ok {
		return nil, &model.NotFoundError{Resource: "default provider for tenant", ID: tenantID}
	}
	return a, nil
}

// FetchActiveProviders is GetActiveProviders with lazy loading.
func (r *Registry) FetchActiveProviders(ctx context.Context, tenantID string) ([]adapter.Adapter, error) {
	if err := r.EnsureLoaded(ctx, tenantID); err != nil {
		return nil, err
	}
	return r.GetActiveProviders(tenantID), nil
}

// FetchProviderByType is GetProviderByType with lazy loading.
func (r *Registry) FetchProviderByType(ctx context.Context, tenantID string, typ model.ProviderType) (adapter.Adapter, error) {
	if err := r.EnsureLoaded(ctx, tenantID); err != nil {
		return nil, err
	}
	a, ok := r.GetProviderByType(tenantID, typ)
	if !ok {
		return nil, &model.NotFoundError{Resource: "provider of type", ID: string(typ)}
	}
	return a, nil
}

// InvalidateTenantCache forgets the tenant's providers and loaded marker
// so the next access reloads fresh configuration. System providers are
// untouched.
func (r *Registry) InvalidateTenantCache(tenantID string) {
	if tenantID == model.SystemTenant {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.byTenant[tenantID] {
		delete(r.adapters, id)
	}
	delete(r.byTenant, tenantID)
	delete(r.loaded, tenantID)

	r.logger.Info("tenant cache invalidated", zap.String("tenant_id", tenantID))
}
