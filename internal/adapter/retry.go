package adapter

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/yourorg/payment-gateway/internal/model"
)

// Retrier re-attempts gateway calls that fail at the transport level.
// Only ConnectionErrors are retried: a gateway that answered, even
// unhelpfully, must not be asked the same question twice, and business
// declines never reach the retry path at all.
type Retrier struct {
	// MaxRetries is the number of re-attempts after the first call.
	MaxRetries int
	// Delay is the linear backoff unit; attempt n waits Delay*n before
	// running.
	Delay    time.Duration
	Provider string
	Logger   *zap.Logger
}

// Do runs fn until it succeeds, fails non-retryably, or the attempt
// budget is exhausted. The last error is returned. Context cancellation
// during backoff surfaces as a ConnectionError.
func (r Retrier) Do(ctx context.Context, op string, fn func() error) error {
	attempts := r.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		var connErr *model.ConnectionError
		if !errors.As(err, &connErr) {
			return err
		}
		if attempt == attempts {
			break
		}

		delay := r.Delay * time.Duration(attempt)
		logger.Warn("gateway call failed, retrying",
			zap.String("provider", r.Provider),
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return &model.ConnectionError{Provider: r.Provider, Err: ctx.Err()}
		case <-time.After(delay):
		}
	}
	return err
}
