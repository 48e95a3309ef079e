// Package metrics exposes the gateway's operational counters to
// Prometheus. A Collector is registered once at startup and shared; a
// nil *Collector is a valid no-op so wiring metrics stays optional.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/yourorg/payment-gateway/internal/model"
)

const namespace = "payment"

// latencyBuckets cover the realistic gateway range: sub-100ms card
// networks up to the 30s adapter timeout.
var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// Collector holds every metric the orchestrator and registry report.
type Collector struct {
	transactions  *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	fallbackDepth prometheus.Histogram
	health        *prometheus.GaugeVec
}

// New registers the gateway metrics with reg and returns the collector.
// Pass prometheus.DefaultRegisterer in production and a fresh
// prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		transactions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Terminal transaction outcomes by provider, operation and status.",
		}, []string{"provider", "operation", "status"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_latency_seconds",
			Help:      "Wall time of individual provider attempts.",
			Buckets:   latencyBuckets,
		}, []string{"provider", "operation"}),
		fallbackDepth: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fallback_depth",
			Help:      "Extra providers tried beyond the first for each payment.",
			Buckets:   prometheus.LinearBuckets(0, 1, 6),
		}),
		health: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "provider_health",
			Help:      "Provider availability: 1 healthy, 0.5 degraded, 0 down.",
		}, []string{"provider"}),
	}
}

// ObserveTransaction records one terminal outcome and the latency of the
// attempt that produced it.
func (c *Collector) ObserveTransaction(providerID string, op model.OperationType, status model.TransactionStatus, latency time.Duration) {
	if c == nil {
		return
	}
	c.transactions.WithLabelValues(providerID, string(op), string(status)).Inc()
	c.latency.WithLabelValues(providerID, string(op)).Observe(latency.Seconds())
}

// ObserveFallbackDepth records how many providers beyond the first a
// payment consumed. Zero means the first candidate settled it.
func (c *Collector) ObserveFallbackDepth(depth int) {
	if c == nil {
		return
	}
	c.fallbackDepth.Observe(float64(depth))
}

// SetProviderHealth publishes a provider's health snapshot.
func (c *Collector) SetProviderHealth(providerID string, status model.HealthStatus) {
	if c == nil {
		return
	}
	var v float64
	switch status {
	case model.HealthHealthy:
		v = 1
	case model.HealthDegraded:
		v = 0.5
	case model.HealthDown:
		v = 0
	}
	c.health.WithLabelValues(providerID).Set(v)
}
