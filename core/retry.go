package core

import (
	"context"
	"time"
)

// sleepFunc pauses for d or until the context is done. Injected so backoff is
// deterministic under test.
type sleepFunc func(ctx context.Context, d time.Duration) error

// sleepWithContext is the production sleep implementation.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// withRetries runs fn up to attempts times, sleeping backoff*n between
// attempt n and n+1. It retries only while shouldRetry reports the returned
// error as transient; any other error surfaces immediately.
func withRetries(
	ctx context.Context,
	attempts int,
	backoff time.Duration,
	sleep sleepFunc,
	shouldRetry func(error) bool,
	fn func() error,
) error {
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if err == nil || !shouldRetry(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		if serr := sleep(ctx, backoff*time.Duration(attempt)); serr != nil {
			return serr
		}
	}
	return err
}
