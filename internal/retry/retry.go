// Package retry runs fallible network operations under an exponential
// backoff policy. Transient failures are retried, permanent failures are
// returned at once, and waits between attempts end as soon as the context is
// done.
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/aviregistry/operator-ingest/internal/ingest"
)

const (
	// DefaultMaxAttempts is used when a policy does not set MaxAttempts
	DefaultMaxAttempts = 3

	// DefaultBaseDelay is used when a policy does not set BaseDelay
	DefaultBaseDelay = 500 * time.Millisecond

	// MaxRetryAfter caps a server-requested delay
	MaxRetryAfter = 2 * time.Minute
)

// Operation is a single attempt of a fallible call.
type Operation[T any] func(ctx context.Context) (T, error)

// Policy describes how an operation is retried.
type Policy struct {
	// Source names the system being called; it is carried by the returned errors
	Source string

	// MaxAttempts is the total number of attempts, including the first one
	MaxAttempts int

	// BaseDelay is the wait before the second attempt; each later wait doubles it
	BaseDelay time.Duration

	// Notify, when set, is called before each wait
	Notify func(attempt int, err error, delay time.Duration)

	// jitter overrides the random jitter source in tests
	jitter func(limit time.Duration) time.Duration
}

func (p Policy) maxAttempts() int {
	if p.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return p.MaxAttempts
}

func (p Policy) baseDelay() time.Duration {
	if p.BaseDelay <= 0 {
		return DefaultBaseDelay
	}
	return p.BaseDelay
}

// Execute runs op until it succeeds, fails permanently, exhausts the policy's
// attempts, or ctx is done.
//
// A permanent failure is returned as *ingest.PermanentSourceError after one
// attempt. Exhaustion is returned as *ingest.SourceUnavailableError carrying
// the last cause. Cancellation returns the context's cause.
func Execute[T any](ctx context.Context, p Policy, op Operation[T]) (T, error) {
	var (
		zero      T
		attempts  int
		lastErr   error
		permanent bool
	)

	maxAttempts := p.maxAttempts()
	result, err := backoff.Retry(ctx, func() (T, error) {
		attempts++
		value, err := op(ctx)
		if err == nil {
			return value, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, backoff.Permanent(err)
		}
		if !IsTransient(err) {
			permanent = true
			return zero, backoff.Permanent(err)
		}
		if delay, ok := retryAfter(err); ok {
			return zero, &backoff.RetryAfterError{Duration: min(delay, MaxRetryAfter)}
		}
		return zero, err
	},
		backoff.WithBackOff(newExponentialJitter(p.baseDelay(), p.jitter)),
		backoff.WithMaxTries(uint(maxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, delay time.Duration) {
			slog.Debug("Retrying after transient failure",
				"source", p.Source,
				"attempt", attempts,
				"delay", delay,
				"error", lastErr)
			if p.Notify != nil {
				p.Notify(attempts, lastErr, delay)
			}
		}),
	)
	if err == nil {
		return result, nil
	}

	switch {
	case ctx.Err() != nil:
		return zero, context.Cause(ctx)
	case permanent:
		return zero, &ingest.PermanentSourceError{Source: p.Source, Err: lastErr}
	default:
		return zero, &ingest.SourceUnavailableError{Source: p.Source, Attempts: attempts, Err: lastErr}
	}
}
