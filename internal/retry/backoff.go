package retry

import (
	"math/rand/v2"
	"time"
)

// maxShift keeps the doubling below time.Duration overflow
const maxShift = 30

// exponentialJitter yields base*2^(n-1) plus a jitter in [0, base) for the
// n-th wait. Since the jitter stays below base, every wait is strictly longer
// than the one before it.
type exponentialJitter struct {
	base   time.Duration
	n      int
	jitter func(limit time.Duration) time.Duration
}

func newExponentialJitter(base time.Duration, jitter func(time.Duration) time.Duration) *exponentialJitter {
	if jitter == nil {
		jitter = randomJitter
	}
	return &exponentialJitter{base: base, jitter: jitter}
}

// NextBackOff implements backoff.BackOff.
func (b *exponentialJitter) NextBackOff() time.Duration {
	shift := min(b.n, maxShift)
	b.n++
	return b.base<<shift + b.jitter(b.base)
}

// Reset implements backoff.BackOff.
func (b *exponentialJitter) Reset() {
	b.n = 0
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	//nolint:gosec // G404: Non-cryptographic randomness is sufficient for retry jitter
	return time.Duration(rand.Int64N(int64(limit)))
}
