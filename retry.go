package eventpulse

import (
	"context"
	"errors"

	"github.com/cenkalti/backoff/v4"
)

// RunWithRetry runs fn as a unit of work on a fresh session and runs it again
// on a new session whenever the flush fails with ErrConcurrencyConflict.
// Every other error stops the retries. A nil strategy never retries.
//
// The aggregate must be loaded inside fn so each attempt sees the revisions
// persisted by the writer that won.
//
// Usage:
//
//	err := eventpulse.RunWithRetry(ctx, factory, payBooking,
//	    backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3))
func RunWithRetry(ctx context.Context, factory *SessionFactory, fn func(ctx context.Context, s *Session) error, strategy backoff.BackOff) error {
	if strategy == nil {
		strategy = &backoff.StopBackOff{}
	}

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := factory.Run(ctx, fn)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrConcurrencyConflict) {
			factory.logger.WithError(err).WithField("attempt", attempt).Warn("unit of work conflicted, retrying")
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(strategy, ctx))
}
