// Package retry runs an operation again with exponential backoff.
package retry

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

type Policy struct {
	// MaxRetries is the number of additional attempts after the first one.
	MaxRetries int
	BaseDelay  time.Duration
	Multiplier float64
	// Sleep waits for d or until ctx is done. Nil uses a real timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Default waits 1s, 2s and 4s between four attempts.
func Default() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		Multiplier: 2,
	}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var perm *permanentError
	return errors.As(err, &perm)
}

// Delay is the wait before retry number n (0-based).
func (p Policy) Delay(n int) time.Duration {
	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	delay := float64(p.BaseDelay)
	for i := 0; i < n; i++ {
		delay *= multiplier
	}
	return time.Duration(delay)
}

// Do calls fn until it succeeds, returns a permanent error, the retries run
// out, or ctx is cancelled. The last error from fn is returned.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, p.Delay(attempt-1)); err != nil {
				return errors.Wrapf(lastErr, "retry aborted: %v", err)
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if IsPermanent(lastErr) {
			return lastErr
		}
		if ctx.Err() != nil {
			return lastErr
		}
	}
	return errors.Wrapf(lastErr, "gave up after %d attempts", p.MaxRetries+1)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
