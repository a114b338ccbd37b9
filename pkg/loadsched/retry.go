package loadsched

import (
	"context"
	"math"
	"time"
)

// Default retry configuration values
const (
	DEF_BASE_DELAY     = 500 * time.Millisecond
	DEF_BACKOFF_FACTOR = 2.0
	DEF_TIMEOUT        = 30 * time.Second
)

// RetryPolicy controls the delay between attempts of one resource.
type RetryPolicy struct {
	BaseDelay     time.Duration // Delay before the second attempt
	BackoffFactor float64       // Multiplier applied per further attempt
}

// DefaultRetryPolicy returns a policy producing 500ms, 1s, 2s, ...
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay:     DEF_BASE_DELAY,
		BackoffFactor: DEF_BACKOFF_FACTOR,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.BaseDelay <= 0 {
		p.BaseDelay = DEF_BASE_DELAY
	}
	if p.BackoffFactor < 1 {
		p.BackoffFactor = DEF_BACKOFF_FACTOR
	}
	return p
}

// Backoff returns the delay that follows the given failed attempt.
// Attempts are counted from 1: baseDelay * factor^(attempt-1).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.BaseDelay) * math.Pow(p.BackoffFactor, float64(attempt-1))
	if delay > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

// wait blocks for the backoff of attempt or until ctx is done.
func (p RetryPolicy) wait(ctx context.Context, attempt int) error {
	timer := time.NewTimer(p.Backoff(attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
