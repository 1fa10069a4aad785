// Package retry provides a bounded exponential-backoff helper for transient
// infrastructure operations.
package retry

import (
	"context"
	"time"
)

// Policy controls the retry loop.
type Policy struct {
	Attempts  int           // total attempts, including the first
	BaseDelay time.Duration // delay before the second attempt, doubled each retry
	MaxDelay  time.Duration // cap on the per-retry delay; 0 means no cap
}

// DefaultPolicy covers persistence and subprocess-spawn retries.
var DefaultPolicy = Policy{
	Attempts:  3,
	BaseDelay: 100 * time.Millisecond,
	MaxDelay:  2 * time.Second,
}

// Do runs fn until it succeeds, the attempts are exhausted, or the context
// is canceled. The last error is returned.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	delay := p.BaseDelay
	var err error
	for attempt := 0; attempt < p.Attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if p.MaxDelay > 0 && delay > p.MaxDelay {
				delay = p.MaxDelay
			}
		}
		if err = fn(ctx); err == nil {
			return nil
		}
	}
	return err
}
