package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/payment-gateway/internal/model"
)

func TestObserveTransaction(t *testing.T) {
	c := New(prometheus.NewRegistry())

	c.ObserveTransaction("acme-paypal", model.OperationSale, model.StatusApproved, 120*time.Millisecond)
	c.ObserveTransaction("acme-paypal", model.OperationSale, model.StatusApproved, 90*time.Millisecond)
	c.ObserveTransaction("acme-stripe", model.OperationSale, model.StatusDeclined, 200*time.Millisecond)

	approved := c.transactions.WithLabelValues("acme-paypal", "sale", "APPROVED")
	assert.Equal(t, 2.0, testutil.ToFloat64(approved))

	declined := c.transactions.WithLabelValues("acme-stripe", "sale", "DECLINED")
	assert.Equal(t, 1.0, testutil.ToFloat64(declined))

	// One latency series per provider and operation pair.
	assert.Equal(t, 2, testutil.CollectAndCount(c.latency))
}

func TestObserveFallbackDepth(t *testing.T) {
	c := New(prometheus.NewRegistry())

	c.ObserveFallbackDepth(0)
	c.ObserveFallbackDepth(2)

	expected := `
# HELP payment_fallback_depth Extra providers tried beyond the first for each payment.
# TYPE payment_fallback_depth histogram
payment_fallback_depth_bucket{le="0"} 1
payment_fallback_depth_bucket{le="1"} 1
payment_fallback_depth_bucket{le="2"} 2
payment_fallback_depth_bucket{le="3"} 2
payment_fallback_depth_bucket{le="4"} 2
payment_fallback_depth_bucket{le="5"} 2
payment_fallback_depth_bucket{le="+Inf"} 2
payment_fallback_depth_sum 2
payment_fallback_depth_count 2
`
	require.NoError(t, testutil.CollectAndCompare(c.fallbackDepth, strings.NewReader(expected)))
}

func TestSetProviderHealth(t *testing.T) {
	c := New(prometheus.NewRegistry())

	c.SetProviderHealth("acme-paypal", model.HealthHealthy)
	c.SetProviderHealth("acme-stripe", model.HealthDegraded)
	c.SetProviderHealth("acme-anet", model.HealthDown)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.health.WithLabelValues("acme-paypal")))
	assert.Equal(t, 0.5, testutil.ToFloat64(c.health.WithLabelValues("acme-stripe")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.health.WithLabelValues("acme-anet")))

	// Health is a gauge: a later snapshot replaces the value.
	c.SetProviderHealth("acme-anet", model.HealthHealthy)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.health.WithLabelValues("acme-anet")))
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector

	assert.NotPanics(t, func() {
		c.ObserveTransaction("acme-paypal", model.OperationSale, model.StatusApproved, time.Second)
		c.ObserveFallbackDepth(1)
		c.SetProviderHealth("acme-paypal", model.HealthHealthy)
	})
}
