package classifier

import (
	"context"
	"time"
)

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// RetryPolicy is the attempt budget and delays shared by the strategies.
type RetryPolicy struct {
	MaxAttempts int
	// RateLimitBackoff is multiplied by the attempt number after a rate-limit
	// signal: 60s, 120s, 180s for the default.
	RateLimitBackoff time.Duration
	// RetryDelay is the fixed wait after any other retryable failure.
	RetryDelay time.Duration
	Sleep      Sleeper
}

// DefaultRetryPolicy mirrors the hosted inference free tier limits.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:      3,
		RateLimitBackoff: 60 * time.Second,
		RetryDelay:       10 * time.Second,
		Sleep:            SleepContext,
	}
}

// SleepContext waits for d unless ctx is cancelled first.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

func (p RetryPolicy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep == nil {
		return SleepContext(ctx, d)
	}
	return p.Sleep(ctx, d)
}

func (p RetryPolicy) rateLimitDelay(attempt int) time.Duration {
	return p.RateLimitBackoff * time.Duration(attempt)
}
