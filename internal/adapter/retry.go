package adapter

import (
	"context"
	"errors"
	"time"

	"github.com/weaver-engine/weaver/internal/domain"
)

// RetryPolicy governs how many times and how long to wait between retries
// of a transient adapter error. Durable errors (domain.ErrDurable) are
// never retried; they propagate immediately so the caller can reject the
// order.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryPolicy is three attempts with exponential backoff starting
// at 250ms, matching the single fixed-delay retry in the teacher's
// executor generalized to the spec's N-attempt backoff requirement.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, BaseDelay: 250 * time.Millisecond}

// WithRetry calls fn up to policy.MaxAttempts times in total, retrying on
// domain.ErrTransientExternal with exponential backoff. A domain.ErrDurable
// or any other error is returned immediately without retrying.
func WithRetry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error) error {
	var lastErr error
	delay := policy.BaseDelay

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !errors.Is(err, domain.ErrTransientExternal) {
			return err
		}
		if attempt == policy.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return lastErr
}
