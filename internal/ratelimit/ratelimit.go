// Package ratelimit throttles outbound provider calls with a process-global
// bucket plus one per-account bucket, and retries transient failures with
// exponential backoff.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config controls bucket sizing and backoff behavior.
type Config struct {
	// GlobalRPS is the process-wide request rate across every account.
	GlobalRPS rate.Limit
	// GlobalBurst is the process-wide burst allowance.
	GlobalBurst int
	// PerAccountRPS is the per-account request rate.
	PerAccountRPS rate.Limit
	// PerAccountBurst is the per-account burst allowance.
	PerAccountBurst int
	// MaxRetries caps the number of attempts DoWithBackoff makes.
	MaxRetries int
	// BackoffBase is the initial backoff delay, doubled on each retry.
	BackoffBase time.Duration
	// BackoffMax caps the computed backoff delay.
	BackoffMax time.Duration
}

// DefaultConfig matches the spec's default poll cadence: gentle enough to
// stay well under Gmail/Calendar API quota for a handful of accounts.
func DefaultConfig() Config {
	return Config{
		GlobalRPS:       rate.Limit(10),
		GlobalBurst:     20,
		PerAccountRPS:   rate.Limit(5),
		PerAccountBurst: 10,
		MaxRetries:      5,
		BackoffBase:     500 * time.Millisecond,
		BackoffMax:      30 * time.Second,
	}
}

// Limiter gates outbound IMAP/CalDAV calls behind a global limiter and a
// per-account limiter, so one busy account cannot starve the others and the
// whole daemon respects a single process-wide ceiling.
type Limiter struct {
	cfg    Config
	global *rate.Limiter

	mu       sync.Mutex
	accounts map[string]*rate.Limiter
}

// New constructs a Limiter from cfg.
func New(cfg Config) *Limiter {
	return &Limiter{
		cfg:      cfg,
		global:   rate.NewLimiter(cfg.GlobalRPS, cfg.GlobalBurst),
		accounts: make(map[string]*rate.Limiter),
	}
}

func (l *Limiter) accountLimiter(accountID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.accounts[accountID]
	if !ok {
		lim = rate.NewLimiter(l.cfg.PerAccountRPS, l.cfg.PerAccountBurst)
		l.accounts[accountID] = lim
	}
	return lim
}

// Wait blocks until both the global and the account's bucket have a token,
// or ctx is cancelled first.
func (l *Limiter) Wait(ctx context.Context, accountID string) error {
	if err := l.global.Wait(ctx); err != nil {
		return err
	}
	return l.accountLimiter(accountID).Wait(ctx)
}

// TryAcquire attempts a non-blocking reservation from both buckets,
// reporting whether a call may proceed immediately.
func (l *Limiter) TryAcquire(accountID string) bool {
	return l.global.Allow() && l.accountLimiter(accountID).Allow()
}

// RetryableFunc is one attempt at an outbound call. It returns nil on
// success; a non-nil error is handed to the Classifier to decide whether
// DoWithBackoff tries again.
type RetryableFunc func(ctx context.Context) error

// Classifier decides whether an error returned by a RetryableFunc should be
// retried. Callers typically wrap this around models.KindOf, retrying only
// on KindTransient.
type Classifier func(err error) (retryable bool)

// DoWithBackoff waits for a token, invokes fn, and on a retryable error
// sleeps with exponential backoff before trying again, up to MaxRetries
// attempts. It returns the last error if every attempt fails.
func (l *Limiter) DoWithBackoff(ctx context.Context, accountID string, classify Classifier, fn RetryableFunc) error {
	var lastErr error
	for attempt := 0; attempt < l.cfg.MaxRetries; attempt++ {
		if err := l.Wait(ctx, accountID); err != nil {
			return err
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !classify(err) {
			return err
		}

		delay := l.backoffDelay(attempt)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("ratelimit: exhausted %d retries: %w", l.cfg.MaxRetries, lastErr)
}

func (l *Limiter) backoffDelay(attempt int) time.Duration {
	d := time.Duration(float64(l.cfg.BackoffBase) * math.Pow(2, float64(attempt)))
	if d > l.cfg.BackoffMax {
		d = l.cfg.BackoffMax
	}
	return d
}
