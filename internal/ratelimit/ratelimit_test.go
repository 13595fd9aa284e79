package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoWithBackoffSucceedsAfterRetries(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BackoffBase = time.Millisecond
	cfg.BackoffMax = 5 * time.Millisecond
	cfg.MaxRetries = 5
	lim := New(cfg)

	attempts := 0
	err := lim.DoWithBackoff(context.Background(), "acct-1",
		func(error) bool { return true },
		func(ctx context.Context) error {
			attempts++
			if attempts < 3 {
				return errors.New("transient failure")
			}
			return nil
		})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoWithBackoffStopsOnNonRetryable(t *testing.T) {
	lim := New(DefaultConfig())

	attempts := 0
	err := lim.DoWithBackoff(context.Background(), "acct-1",
		func(error) bool { return false },
		func(ctx context.Context) error {
			attempts++
			return errors.New("permanent failure")
		})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDoWithBackoffExhaustsRetries(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BackoffBase = time.Millisecond
	cfg.BackoffMax = 2 * time.Millisecond
	cfg.MaxRetries = 3
	lim := New(cfg)

	attempts := 0
	err := lim.DoWithBackoff(context.Background(), "acct-1",
		func(error) bool { return true },
		func(ctx context.Context) error {
			attempts++
			return errors.New("always fails")
		})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
}

func TestPerAccountLimitersAreIndependent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PerAccountBurst = 1
	cfg.GlobalBurst = 100
	lim := New(cfg)

	assert.True(t, lim.TryAcquire("acct-a"))
	assert.False(t, lim.TryAcquire("acct-a"))
	assert.True(t, lim.TryAcquire("acct-b"))
}
