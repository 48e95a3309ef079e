package registry

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/payment-gateway/internal/adapter/mock"
	"github.com/yourorg/payment-gateway/internal/credentials"
	"github.com/yourorg/payment-gateway/internal/model"
	"github.com/yourorg/payment-gateway/internal/tenant"
)

func validCredentials(typ model.ProviderType) map[string]string {
	switch typ {
	case model.ProviderPayPal:
		return map[string]string{"user": "u", "pwd": "p", "signature": "s"}
	case model.ProviderAuthorizeNet:
		return map[string]string{"api_login_id": "login", "transaction_key": "key"}
	case model.ProviderSquare:
		return map[string]string{"access_token": "tok", "location_id": "loc"}
	case model.ProviderStripe:
		return map[string]string{"secret_key": "sk_test_x"}
	}
	return nil
}

func registerMock(t *testing.T, r *Registry, id, tenantID string, priority int, active, isDefault bool) *mock.Adapter {
	t.Helper()
	m := mock.New(id)
	m.Cfg.TenantID = tenantID
	m.Cfg.Priority = priority
	m.Cfg.IsActive = active
	m.Cfg.IsDefault = isDefault
	require.NoError(t, r.RegisterAdapter(m))
	return m
}

func TestRegisterProvider_BuildsConcreteAdapters(t *testing.T) {
	r := New(nil, nil, nil)

	for _, typ := range []model.ProviderType{
		model.ProviderPayPal,
		model.ProviderAuthorizeNet,
		model.ProviderSquare,
		model.ProviderStripe,
	} {
		cfg := model.ProviderConfig{
			ID:          "p-" + string(typ),
			TenantID:    "tenant-1",
			Name:        string(typ),
			Type:        typ,
			Credentials: validCredentials(typ),
			IsActive:    true,
		}
		require.NoError(t, r.RegisterProvider(cfg), typ)

		a, ok := r.GetProvider("p-" + string(typ))
		require.True(t, ok)
		assert.Equal(t, typ, a.Type())
	}
}

func TestRegisterProvider_UnsupportedType(t *testing.T) {
	r := New(nil, nil, nil)
	err := r.RegisterProvider(model.ProviderConfig{ID: "p1", Type: model.ProviderType("braintree")})

	var cfgErr *model.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func TestRegisterProvider_RequiresID(t *testing.T) {
	r := New(nil, nil, nil)
	err := r.RegisterProvider(model.ProviderConfig{Type: model.ProviderStripe})

	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "provider.id", verr.Field)
}

func TestRegisterProvider_RejectsBadCredentialShape(t *testing.T) {
	r := New(nil, nil, nil)
	err := r.RegisterProvider(model.ProviderConfig{
		ID:          "pp-1",
		Type:        model.ProviderPayPal,
		Credentials: map[string]string{"user": "u", "pwd": "p"}, // signature missing
	})

	var cfgErr *model.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Reason, "signature")
}

func TestRegisterAdapter_OverwriteReplacesInPlace(t *testing.T) {
	r := New(nil, nil, nil)

	first := registerMock(t, r, "p1", "tenant-1", 0, true, false)
	first.Cfg.Name = "First"

	second := mock.New("p1")
	second.Cfg.TenantID = "tenant-1"
	second.Cfg.Name = "Second"
	require.NoError(t, r.RegisterAdapter(second))

	got, ok := r.GetProvider("p1")
	require.True(t, ok)
	assert.Equal(t, "Second", got.Name())
	assert.Len(t, r.GetProvidersByTenant("tenant-1"), 1, "re-registration must not duplicate ordering")
}

func TestGetProvidersByTenant_StrictIsolation(t *testing.T) {
	r := New(nil, nil, nil)
	registerMock(t, r, "a1", "tenant-a", 0, true, false)
	registerMock(t, r, "a2", "tenant-a", 1, true, false)
	registerMock(t, r, "b1", "tenant-b", 0, true, false)
	registerMock(t, r, "sys1", model.SystemTenant, 0, true, false)

	ids := func(tenantID string) []string {
		var out []string
		for _, a := range r.GetProvidersByTenant(tenantID) {
			out = append(out, a.ID())
		}
		return out
	}

	assert.Equal(t, []string{"a1", "a2"}, ids("tenant-a"))
	assert.Equal(t, []string{"b1"}, ids("tenant-b"))
	assert.Empty(t, ids("tenant-c"))
}

func TestGetDefaultProvider(t *testing.T) {
	t.Run("tenant default wins", func(t *testing.T) {
		r := New(nil, nil, nil)
		registerMock(t, r, "own", "tenant-a", 0, true, true)
		registerMock(t, r, "sys", model.SystemTenant, 0, true, true)

		a, ok := r.GetDefaultProvider("tenant-a")
		require.True(t, ok)
		assert.Equal(t, "own", a.ID())
	})

	t.Run("falls back to system default", func(t *testing.T) {
		r := New(nil, nil, nil)
		registerMock(t, r, "own", "tenant-a", 0, true, false)
		registerMock(t, r, "sys", model.SystemTenant, 0, true, true)

		a, ok := r.GetDefaultProvider("tenant-a")
		require.True(t, ok)
		assert.Equal(t, "sys", a.ID())
	})

	t.Run("inactive default is ignored", func(t *testing.T) {
		r := New(nil, nil, nil)
		registerMock(t, r, "own", "tenant-a", 0, false, true)

		_, ok := r.GetDefaultProvider("tenant-a")
		assert.False(t, ok)
	})
}

func TestGetActiveProviders_PriorityOrderAndFilters(t *testing.T) {
	r := New(nil, nil, nil)
	registerMock(t, r, "slow", "tenant-a", 3, true, false)
	registerMock(t, r, "primary", "tenant-a", 1, true, false)
	registerMock(t, r, "backup", "tenant-a", 2, true, false)
	registerMock(t, r, "off", "tenant-a", 0, false, false)

	down := registerMock(t, r, "down", "tenant-a", 0, true, false)
	for i := 0; i < 10; i++ {
		down.Tracker.RecordFailure(10*time.Millisecond, "timeout", "dial timeout")
	}

	var ids []string
	for _, a := range r.GetActiveProviders("tenant-a") {
		ids = append(ids, a.ID())
	}
	assert.Equal(t, []string{"primary", "backup", "slow"}, ids)
}

func TestGetActiveProviders_SystemFallThrough(t *testing.T) {
	r := New(nil, nil, nil)
	registerMock(t, r, "sys1", model.SystemTenant, 0, true, false)
	registerMock(t, r, "a1", "tenant-a", 0, true, false)

	t.Run("tenant with providers sees only its own", func(t *testing.T) {
		got := r.GetActiveProviders("tenant-a")
		require.Len(t, got, 1)
		assert.Equal(t, "a1", got[0].ID())
	})

	t.Run("tenant with none inherits system providers", func(t *testing.T) {
		got := r.GetActiveProviders("tenant-empty")
		require.Len(t, got, 1)
		assert.Equal(t, "sys1", got[0].ID())
	})
}

func TestGetProviderByType(t *testing.T) {
	r := New(nil, nil, nil)
	pp := registerMock(t, r, "pp", "tenant-a", 1, true, false)
	pp.Cfg.Type = model.ProviderPayPal
	registerMock(t, r, "st", "tenant-a", 2, true, false)

	a, ok := r.GetProviderByType("tenant-a", model.ProviderPayPal)
	require.True(t, ok)
	assert.Equal(t, "pp", a.ID())

	_, ok = r.GetProviderByType("tenant-a", model.ProviderSquare)
	assert.False(t, ok)
}

type countingResolver struct {
	inner    tenant.Resolver
	accounts atomic.Int32
}

func (c *countingResolver) AccountForTenant(ctx context.Context, tenantID string) (tenant.Account, error) {
	c.accounts.Add(1)
	return c.inner.AccountForTenant(ctx, tenantID)
}

func (c *countingResolver) PaymentIntegrations(ctx context.Context, accountID string) ([]tenant.Integration, error) {
	return c.inner.PaymentIntegrations(ctx, accountID)
}

func acmeResolver() *tenant.MemoryResolver {
	res := tenant.NewMemoryResolver()
	res.AddTenant("acme", tenant.Account{ID: "acct-1", Name: "Acme"},
		tenant.Integration{
			ID:          "acme-anet",
			Provider:    "authorize.net",
			DisplayName: "Acme AuthNet",
			Priority:    1,
			IsActive:    true,
			IsDefault:   true,
			Credentials: []byte(`{"api_login_id":"login","transaction_key":"key"}`),
			MinAmount:   "1.00",
			MaxAmount:   "not-a-number",
		},
		tenant.Integration{
			ID:                 "acme-paypal",
			Provider:           "paypal",
			DisplayName:        "Acme PayPal",
			Priority:           2,
			IsActive:           true,
			SharedCredentialID: "shared-pp",
		},
	)
	return res
}

func plaintextStore() *credentials.Plaintext {
	return credentials.NewPlaintext(map[string][]byte{
		"shared-pp": []byte(`{"user":"u","pwd":"p","signature":"s"}`),
	})
}

func TestEnsureLoaded_LazyLoadsOnce(t *testing.T) {
	counting := &countingResolver{inner: acmeResolver()}
	r := New(counting, plaintextStore(), nil)
	ctx := context.Background()

	got, err := r.FetchActiveProviders(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "acme-anet", got[0].ID())
	assert.Equal(t, model.ProviderAuthorizeNet, got[0].Type())
	assert.Equal(t, "acme-paypal", got[1].ID())
	assert.Equal(t, model.ProviderPayPal, got[1].Type())

	// Limits survive the translation; the unparseable max is dropped.
	cfg := got[0].Config()
	require.NotNil(t, cfg.MinAmount)
	assert.Equal(t, "1.00", cfg.MinAmount.StringFixed(2))
	assert.Nil(t, cfg.MaxAmount)

	_, err = r.FetchActiveProviders(ctx, "acme")
	require.NoError(t, err)
	assert.EqualValues(t, 1, counting.accounts.Load(), "second fetch must hit the cache")
}

func TestEnsureLoaded_UnknownTenantLoadsEmpty(t *testing.T) {
	counting := &countingResolver{inner: tenant.NewMemoryResolver()}
	r := New(counting, plaintextStore(), nil)
	ctx := context.Background()

	got, err := r.FetchActiveProviders(ctx, "ghost")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = r.FetchActiveProviders(ctx, "ghost")
	require.NoError(t, err)
	assert.EqualValues(t, 1, counting.accounts.Load(), "unknown tenant is still marked loaded")
}

func TestEnsureLoaded_SkipsBrokenIntegrations(t *testing.T) {
	res := tenant.NewMemoryResolver()
	res.AddTenant("acme", tenant.Account{ID: "acct-1"},
		tenant.Integration{
			ID: "bad-type", Provider: "braintree", IsActive: true,
			Credentials: []byte(`{}`),
		},
		tenant.Integration{
			ID: "bad-shared", Provider: "paypal", IsActive: true,
			SharedCredentialID: "missing",
		},
		tenant.Integration{
			ID: "good", Provider: "stripe", IsActive: true,
			Credentials: []byte(`{"secret_key":"sk_test_x"}`),
		},
	)
	r := New(res, plaintextStore(), nil)

	got, err := r.FetchActiveProviders(context.Background(), "acme")
	require.NoError(t, err, "broken integrations are skipped, not fatal")
	require.Len(t, got, 1)
	assert.Equal(t, "good", got[0].ID())
}

func TestFetchProvider_TenantScope(t *testing.T) {
	r := New(nil, nil, nil)
	registerMock(t, r, "a1", "tenant-a", 0, true, false)
	registerMock(t, r, "b1", "tenant-b", 0, true, false)
	registerMock(t, r, "sys1", model.SystemTenant, 0, true, false)
	ctx := context.Background()

	a, err := r.FetchProvider(ctx, "tenant-a", "a1")
	require.NoError(t, err)
	assert.Equal(t, "a1", a.ID())

	_, err = r.FetchProvider(ctx, "tenant-a", "b1")
	var nfErr *model.NotFoundError
	require.ErrorAs(t, err, &nfErr, "another tenant's provider must be invisible")

	a, err = r.FetchProvider(ctx, "tenant-a", "sys1")
	require.NoError(t, err, "system providers are visible to every tenant")
	assert.Equal(t, "sys1", a.ID())

	_, err = r.FetchProvider(ctx, "tenant-a", "nope")
	require.ErrorAs(t, err, &nfErr)
}

func TestFetchDefaultProvider_NoneConfigured(t *testing.T) {
	r := New(nil, nil, nil)
	registerMock(t, r, "a1", "tenant-a", 0, true, false)

	_, err := r.FetchDefaultProvider(context.Background(), "tenant-a")
	var nfErr *model.NotFoundError
	require.ErrorAs(t, err, &nfErr)
}

func TestInvalidateTenantCache_Reloads(t *testing.T) {
	counting := &countingResolver{inner: acmeResolver()}
	r := New(counting, plaintextStore(), nil)
	ctx := context.Background()

	_, err := r.FetchActiveProviders(ctx, "acme")
	require.NoError(t, err)

	r.InvalidateTenantCache("acme")
	assert.Empty(t, r.GetProvidersByTenant("acme"))
	_, ok := r.GetProvider("acme-anet")
	assert.False(t, ok, "invalidation drops the tenant's adapters")

	got, err := r.FetchActiveProviders(ctx, "acme")
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.EqualValues(t, 2, counting.accounts.Load(), "next access reloads")
}

func TestInvalidateTenantCache_SystemIsUntouchable(t *testing.T) {
	r := New(nil, nil, nil)
	registerMock(t, r, "sys1", model.SystemTenant, 0, true, false)

	r.InvalidateTenantCache(model.SystemTenant)

	_, ok := r.GetProvider("sys1")
	assert.True(t, ok)
}

func TestConcurrentFirstAccess(t *testing.T) {
	counting := &countingResolver{inner: acmeResolver()}
	r := New(counting, plaintextStore(), nil)
	ctx := context.Background()

	done := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			_, err := r.FetchActiveProviders(ctx, "acme")
			done <- err
		}()
	}
	for i := 0; i < 8; i++ {
		require.NoError(t, <-done)
	}

	assert.Len(t, r.GetProvidersByTenant("acme"), 2, "racing loads overwrite, never duplicate")
}
