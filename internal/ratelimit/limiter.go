// Package ratelimit gates outbound requests with one request budget per
// source key. Budgets are owned by the Limiter and change only with the
// passage of time and with granted acquisitions.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

var (
	// ErrUnknownSource is returned when acquiring for a key that has no budget
	ErrUnknownSource = errors.New("no rate budget registered for source")

	// ErrDuplicateSource is returned when two budgets are registered for one key
	ErrDuplicateSource = errors.New("rate budget already registered for source")
)

// Budget describes how many requests a source may issue per interval.
type Budget struct {
	Key      string
	Requests int
	Interval time.Duration
}

// Validate checks that the budget can be enforced.
func (b Budget) Validate() error {
	if b.Key == "" {
		return fmt.Errorf("budget key is required")
	}
	if b.Requests <= 0 {
		return fmt.Errorf("budget %s: requests must be positive, got %d", b.Key, b.Requests)
	}
	if b.Interval <= 0 {
		return fmt.Errorf("budget %s: interval must be positive, got %s", b.Key, b.Interval)
	}
	return nil
}

// spacing is the minimum gap between two grants. Grants spaced this far apart
// never exceed Requests within any window of length Interval.
func (b Budget) spacing() time.Duration {
	return b.Interval / time.Duration(b.Requests)
}

// Limiter holds one token bucket per source key. It is safe for concurrent use;
// the key set is fixed by New.
type Limiter struct {
	budgets map[string]*rate.Limiter
}

// New creates a Limiter with the given budgets.
func New(budgets ...Budget) (*Limiter, error) {
	l := &Limiter{
		budgets: make(map[string]*rate.Limiter, len(budgets)),
	}
	for _, b := range budgets {
		if err := b.Validate(); err != nil {
			return nil, err
		}
		if _, exists := l.budgets[b.Key]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSource, b.Key)
		}
		// Burst 1: a bucket with a larger burst admits burst+N requests in a window.
		l.budgets[b.Key] = rate.NewLimiter(rate.Every(b.spacing()), 1)
	}
	return l, nil
}

// Acquire blocks until the source identified by key may issue one request,
// or until ctx is done. Waiting for one key never blocks another.
func (l *Limiter) Acquire(ctx context.Context, key string) error {
	bucket, err := l.bucket(key)
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	reservation := bucket.Reserve()
	if !reservation.OK() {
		return fmt.Errorf("rate budget for %s cannot grant a request", key)
	}

	delay := reservation.Delay()
	if delay == 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		// Hand the slot back so the next caller is not delayed by an abandoned reservation
		reservation.Cancel()
		return context.Cause(ctx)
	}
}

func (l *Limiter) bucket(key string) (*rate.Limiter, error) {
	bucket, ok := l.budgets[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, key)
	}
	return bucket, nil
}
