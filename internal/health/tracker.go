// Package health maintains per-provider rolling statistics and derives a
// coarse availability status from them. Each adapter owns one Tracker and
// feeds it after every gateway call; the registry reads snapshots when it
// assembles candidate lists.
package health

import (
	"sync"
	"time"

	"github.com/yourorg/payment-gateway/internal/model"
)

const (
	// Weight is the smoothing factor of the exponential moving averages.
	// Each observation contributes 10% and history decays accordingly.
	Weight = 0.1

	// DownErrorRate marks a provider down when its error rate crosses it.
	DownErrorRate = 0.5

	// DegradedErrorRate and DegradedLatencyMs mark a provider degraded.
	DegradedErrorRate = 0.2
	DegradedLatencyMs = 5000.0
)

// Tracker accumulates exponentially weighted success, error and latency
// statistics for one provider. All methods are safe for concurrent use.
type Tracker struct {
	mu          sync.Mutex
	providerID  string
	successRate float64
	errorRate   float64
	latencyMs   float64
	seenLatency bool
	lastChecked time.Time
	lastError   *model.HealthError
}

// NewTracker returns a tracker that reports healthy until observations say
// otherwise. New providers start optimistic so they are eligible for
// traffic immediately after registration.
func NewTracker(providerID string) *Tracker {
	return &Tracker{
		providerID:  providerID,
		successRate: 1.0,
		errorRate:   0.0,
	}
}

// RecordSuccess folds a successful gateway interaction into the averages.
// Business declines count as successes here: a gateway that answers and
// declines is operating correctly.
func (t *Tracker) RecordSuccess(latency time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observe(1.0, latency)
}

// RecordFailure folds a transport or gateway failure into the averages and
// remembers it as the most recent error.
func (t *Tracker) RecordFailure(latency time.Duration, code, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observe(0.0, latency)
	t.lastError = &model.HealthError{Code: code, Message: message, At: t.lastChecked}
}

func (t *Tracker) observe(outcome float64, latency time.Duration) {
	t.successRate = t.successRate*(1-Weight) + outcome*Weight
	t.errorRate = t.errorRate*(1-Weight) + (1-outcome)*Weight

	ms := float64(latency) / float64(time.Millisecond)
	if !t.seenLatency {
		// Seed with the first observation so one slow call is reported
		// as slow instead of being diluted toward zero.
		t.latencyMs = ms
		t.seenLatency = true
	} else {
		t.latencyMs = t.latencyMs*(1-Weight) + ms*Weight
	}
	t.lastChecked = time.Now().UTC()
}

// Snapshot returns a copy of the current health. The returned value is
// safe to hand to other goroutines.
func (t *Tracker) Snapshot() model.ProviderHealth {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := model.ProviderHealth{
		ProviderID:  t.providerID,
		Status:      t.status(),
		LatencyMs:   t.latencyMs,
		SuccessRate: t.successRate,
		ErrorRate:   t.errorRate,
		LastChecked: t.lastChecked,
	}
	if t.lastError != nil {
		e := *t.lastError
		h.LastError = &e
	}
	return h
}

// Status derives the coarse state without copying the full snapshot.
func (t *Tracker) Status() model.HealthStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status()
}

func (t *Tracker) status() model.HealthStatus {
	switch {
	case t.errorRate > DownErrorRate:
		return model.HealthDown
	case t.errorRate > DegradedErrorRate || t.latencyMs > DegradedLatencyMs:
		return model.HealthDegraded
	default:
		return model.HealthHealthy
	}
}
