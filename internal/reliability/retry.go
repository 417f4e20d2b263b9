// Package reliability provides the bounded retry/backoff policy used
// around persistence calls.
package reliability

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/paperbull/engine/internal/domain"
)

// RetryPolicy defines bounded retries with multiplicative backoff.
// A zero value is unusable; construct via NewRetryPolicy or DefaultPolicy.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
}

// NewRetryPolicy creates a retry policy with the given bounds.
func NewRetryPolicy(maxAttempts int, initialDelay time.Duration, multiplier float64) RetryPolicy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if multiplier < 1 {
		multiplier = 1
	}
	return RetryPolicy{
		MaxAttempts:  maxAttempts,
		InitialDelay: initialDelay,
		Multiplier:   multiplier,
	}
}

// DefaultPolicy is suitable for per-tick persistence calls: retries must
// stay well inside the tick interval.
func DefaultPolicy() RetryPolicy {
	return NewRetryPolicy(3, 100*time.Millisecond, 2.0)
}

// Do runs fn, retrying on failure until the attempt budget is exhausted
// or the context is done. Integrity errors are never retried: retrying
// cannot make inconsistent data consistent.
func (p RetryPolicy) Do(ctx context.Context, log zerolog.Logger, operation string, fn func(context.Context) error) error {
	delay := p.InitialDelay

	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrDataIntegrity) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if attempt < p.MaxAttempts {
			log.Warn().
				Err(err).
				Str("operation", operation).
				Int("attempt", attempt).
				Dur("next_delay", delay).
				Msg("Operation failed, retrying")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * p.Multiplier)
		}
	}

	log.Error().
		Err(err).
		Str("operation", operation).
		Int("attempts", p.MaxAttempts).
		Msg("Operation failed after all retries")

	return errors.Join(domain.ErrTransientPersistence, err)
}
