package ratelimit

import "time"

// allowAt reports whether a request at t fits the budget and consumes it if so.
func (l *Limiter) allowAt(key string, t time.Time) (bool, error) {
	bucket, err := l.bucket(key)
	if err != nil {
		return false, err
	}
	return bucket.AllowN(t, 1), nil
}
