package ingest

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthentication is matched by every AuthenticationError
	ErrAuthentication = errors.New("authentication failed")

	// ErrRunTimeout marks work cut short by the run deadline
	ErrRunTimeout = errors.New("run deadline exceeded")

	// ErrRunCanceled marks a run canceled by its caller
	ErrRunCanceled = errors.New("run canceled")
)

// TransientSourceError is a failure that is expected to succeed on retry.
type TransientSourceError struct {
	Source string
	Err    error
}

func (e *TransientSourceError) Error() string {
	return fmt.Sprintf("transient failure from source %s: %v", e.Source, e.Err)
}

func (e *TransientSourceError) Unwrap() error {
	return e.Err
}

// Transient reports that the error may be retried.
func (*TransientSourceError) Transient() bool {
	return true
}

// PermanentSourceError is a failure that retrying cannot fix.
type PermanentSourceError struct {
	Source string
	Err    error
}

func (e *PermanentSourceError) Error() string {
	return fmt.Sprintf("permanent failure from source %s: %v", e.Source, e.Err)
}

func (e *PermanentSourceError) Unwrap() error {
	return e.Err
}

// Transient reports that the error must not be retried.
func (*PermanentSourceError) Transient() bool {
	return false
}

// SourceUnavailableError is returned once a retry budget is exhausted.
// Err carries the last underlying cause.
type SourceUnavailableError struct {
	Source   string
	Attempts int
	Err      error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("source %s unavailable after %d attempts: %v", e.Source, e.Attempts, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error {
	return e.Err
}

// ItemError reports a single item that could not be parsed. The item is
// skipped and the fetch continues.
type ItemError struct {
	Source   string
	Position int
	Err      error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("source %s: item %d skipped: %v", e.Source, e.Position, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

// RejectionReason explains why the validator dropped a candidate.
type RejectionReason struct {
	Source   string `json:"source"`
	Position int    `json:"position"`
	Field    string `json:"field,omitempty"`
	Reason   string `json:"reason"`
}

func (r *RejectionReason) Error() string {
	if r.Field == "" {
		return fmt.Sprintf("record %d from %s rejected: %s", r.Position, r.Source, r.Reason)
	}
	return fmt.Sprintf("record %d from %s rejected: %s: %s", r.Position, r.Source, r.Field, r.Reason)
}

// AuthenticationError wraps a failure to obtain registry credentials.
type AuthenticationError struct {
	Err error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed: %v", e.Err)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrAuthentication) match.
func (*AuthenticationError) Is(target error) bool {
	return target == ErrAuthentication
}

// Transient reports that credential failures are not retried at the chunk level.
func (*AuthenticationError) Transient() bool {
	return false
}

// ChunkFailure records a delivery chunk that could not be upserted.
type ChunkFailure struct {
	Index int
	Keys  []string
	Err   error
}

func (e *ChunkFailure) Error() string {
	return fmt.Sprintf("chunk %d (%d records) failed: %v", e.Index, len(e.Keys), e.Err)
}

func (e *ChunkFailure) Unwrap() error {
	return e.Err
}

// IsTerminal reports whether a fetch error ends the source's run, as opposed
// to a skipped item or a skipped page.
func IsTerminal(err error) bool {
	if err == nil {
		return false
	}
	var itemErr *ItemError
	if errors.As(err, &itemErr) {
		return false
	}
	var permanent *PermanentSourceError
	return !errors.As(err, &permanent)
}
