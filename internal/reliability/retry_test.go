package reliability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperbull/engine/internal/domain"
)

func fastPolicy() RetryPolicy {
	return NewRetryPolicy(3, time.Millisecond, 2.0)
}

func TestRetrySucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), zerolog.Nop(), "op", func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), zerolog.Nop(), "op", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("disk hiccup")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryExhaustionWrapsTransient(t *testing.T) {
	boom := errors.New("still broken")
	calls := 0
	err := fastPolicy().Do(context.Background(), zerolog.Nop(), "op", func(ctx context.Context) error {
		calls++
		return boom
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, domain.ErrTransientPersistence)
	assert.ErrorIs(t, err, boom)
}

func TestRetryNeverRetriesIntegrityErrors(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), zerolog.Nop(), "op", func(ctx context.Context) error {
		calls++
		return domain.ErrDataIntegrity
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, domain.ErrDataIntegrity)
	assert.NotErrorIs(t, err, domain.ErrTransientPersistence)
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := fastPolicy().Do(ctx, zerolog.Nop(), "op", func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("transient")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestNewRetryPolicyClampsBounds(t *testing.T) {
	p := NewRetryPolicy(0, time.Millisecond, 0.5)
	assert.Equal(t, 1, p.MaxAttempts)
	assert.Equal(t, 1.0, p.Multiplier)
}
