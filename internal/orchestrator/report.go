package orchestrator

import (
	"time"

	"github.com/aviregistry/operator-ingest/internal/delivery"
	"github.com/aviregistry/operator-ingest/internal/ingest"
)

// Status is the state of a run
type Status string

const (
	// StatusIdle means no run is active
	StatusIdle Status = "idle"
	// StatusRunning means a run is fetching or delivering
	StatusRunning Status = "running"
	// StatusCompleted means every source and every chunk succeeded
	StatusCompleted Status = "completed"
	// StatusPartiallyFailed means something failed but the run still produced results
	StatusPartiallyFailed Status = "partially_failed"
	// StatusFailed means the run produced nothing or hit a run-fatal error
	StatusFailed Status = "failed"
)

// maxRejectionsPerSource bounds the rejection details kept per source.
// Rejected always holds the full count.
const maxRejectionsPerSource = 100

// SourceReport holds the counts of one source
type SourceReport struct {
	Name            string                   `json:"name"`
	Fetched         int                      `json:"fetched"`
	Validated       int                      `json:"validated"`
	Rejected        int                      `json:"rejected"`
	Skipped         int                      `json:"skipped"`
	PermanentErrors int                      `json:"permanentErrors"`
	Upserted        int                      `json:"upserted"`
	Failed          int                      `json:"failed"`
	Failure         string                   `json:"failure,omitempty"`
	Rejections      []ingest.RejectionReason `json:"rejections,omitempty"`
}

// Succeeded reports whether the source finished without a failure
func (s *SourceReport) Succeeded() bool {
	return s.Failure == ""
}

// ChunkReport is the outcome of one delivery chunk
type ChunkReport struct {
	Index     int    `json:"index"`
	Records   int    `json:"records"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Error     string `json:"error,omitempty"`
}

// RunReport describes one ingestion run. A returned report is never modified.
type RunReport struct {
	RunID          string         `json:"runId"`
	Status         Status         `json:"status"`
	StartedAt      time.Time      `json:"startedAt"`
	FinishedAt     time.Time      `json:"finishedAt"`
	Sources        []SourceReport `json:"sources"`
	Chunks         []ChunkReport  `json:"chunks,omitempty"`
	Duplicates     int            `json:"duplicates"`
	DeliveryErrors []string       `json:"deliveryErrors,omitempty"`
	TimedOut       bool           `json:"timedOut"`
	Error          string         `json:"error,omitempty"`
}

// Source returns the report of the named source, or nil
func (r *RunReport) Source(name string) *SourceReport {
	for i := range r.Sources {
		if r.Sources[i].Name == name {
			return &r.Sources[i]
		}
	}
	return nil
}

// Totals sums the source counts
func (r *RunReport) Totals() SourceReport {
	var t SourceReport
	for _, s := range r.Sources {
		t.Fetched += s.Fetched
		t.Validated += s.Validated
		t.Rejected += s.Rejected
		t.Skipped += s.Skipped
		t.PermanentErrors += s.PermanentErrors
		t.Upserted += s.Upserted
		t.Failed += s.Failed
	}
	return t
}

// Duration is how long the run took
func (r *RunReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// applyOutcome folds a delivery outcome into the report
func (r *RunReport) applyOutcome(outcome *delivery.Outcome) {
	r.Duplicates = outcome.Duplicates
	for _, c := range outcome.Chunks {
		chunk := ChunkReport{
			Index:     c.Index,
			Records:   len(c.Keys),
			Succeeded: len(c.Succeeded),
			Failed:    len(c.Failed),
		}
		if c.Err != nil {
			chunk.Error = c.Err.Error()
			r.DeliveryErrors = append(r.DeliveryErrors, c.Err.Error())
		}
		r.Chunks = append(r.Chunks, chunk)
	}
	for name, counts := range outcome.BySource {
		if s := r.Source(name); s != nil {
			s.Upserted += counts.Upserted
			s.Failed += counts.Failed
		}
	}
}

// decideStatus applies the end-of-run rules
func (r *RunReport) decideStatus(deliveryAttempted bool) Status {
	totals := r.Totals()

	failedSources := 0
	for i := range r.Sources {
		if !r.Sources[i].Succeeded() {
			failedSources++
		}
	}

	switch {
	case failedSources == len(r.Sources) && totals.Upserted == 0:
		return StatusFailed
	case deliveryAttempted && totals.Upserted == 0 && totals.Failed > 0:
		return StatusFailed
	case failedSources == 0 && len(r.DeliveryErrors) == 0 && totals.Failed == 0 && !r.TimedOut:
		return StatusCompleted
	default:
		return StatusPartiallyFailed
	}
}
