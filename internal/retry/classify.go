package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
	"time"
)

// transient is implemented by errors that know whether they may be retried,
// such as *httpclient.HTTPError and the ingest error types.
type transient interface {
	Transient() bool
}

// retryAfterer is implemented by errors carrying a server-requested delay.
type retryAfterer interface {
	RetryAfterDelay() (time.Duration, bool)
}

// IsTransient reports whether err is expected to succeed on retry: timeouts,
// connection resets, 5xx, 408 and 429 responses. Anything else, including
// other 4xx responses and malformed requests, is permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var classified transient
	if errors.As(err, &classified) {
		return classified.Transient()
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	switch {
	case errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.EOF):
		return true
	}

	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func retryAfter(err error) (time.Duration, bool) {
	var ra retryAfterer
	if errors.As(err, &ra) {
		return ra.RetryAfterDelay()
	}
	return 0, false
}
