package transfer

import (
	"context"
	"fmt"
	"time"
)

// DefaultRetryDelay is the wait between claim attempts on a locked batch.
const DefaultRetryDelay = 5 * time.Second

// RetryPolicy retries an operation at a fixed delay. MaxAttempts <= 0
// retries until the error stops being retryable or ctx ends.
type RetryPolicy struct {
	Delay       time.Duration
	MaxAttempts int
}

// Do runs fn until it succeeds, fails with an error retryable rejects, or
// the attempts run out. onRetry, if set, is called before each wait.
func (p RetryPolicy) Do(ctx context.Context, retryable func(error) bool, onRetry func(attempt int, err error), fn func() error) error {
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || !retryable(err) {
			return err
		}
		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt, err)
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}

		timer := time.NewTimer(p.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
