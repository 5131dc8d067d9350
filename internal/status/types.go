// Package status persists the outcome of ingestion runs so that later
// invocations can report on them.
package status

import (
	"time"

	"github.com/aviregistry/operator-ingest/internal/orchestrator"
)

// MaxHistory is how many run summaries the status file keeps
const MaxHistory = 20

// SourceSummary holds the counts of one source in a finished run
type SourceSummary struct {
	Name      string `json:"name"`
	Fetched   int    `json:"fetched"`
	Validated int    `json:"validated"`
	Rejected  int    `json:"rejected"`
	Skipped   int    `json:"skipped"`
	Upserted  int    `json:"upserted"`
	Failed    int    `json:"failed"`
	Failure   string `json:"failure,omitempty"`
}

// RunSummary is the persisted form of a run report. Rejection details and
// chunk outcomes are dropped.
type RunSummary struct {
	RunID      string              `json:"runId"`
	Status     orchestrator.Status `json:"status"`
	StartedAt  time.Time           `json:"startedAt"`
	FinishedAt time.Time           `json:"finishedAt"`
	Upserted   int                 `json:"upserted"`
	Failed     int                 `json:"failed"`
	Rejected   int                 `json:"rejected"`
	Duplicates int                 `json:"duplicates"`
	TimedOut   bool                `json:"timedOut,omitempty"`
	Error      string              `json:"error,omitempty"`
	Sources    []SourceSummary     `json:"sources"`
}

// Duration is how long the run took
func (s *RunSummary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// File is the content of the status file, newest run first
type File struct {
	// WriterVersion is the version of the binary that last wrote the file
	WriterVersion string       `json:"writerVersion"`
	UpdatedAt     time.Time    `json:"updatedAt"`
	Runs          []RunSummary `json:"runs"`
}

// LastRun returns the most recent run, or nil if none was recorded
func (f *File) LastRun() *RunSummary {
	if f == nil || len(f.Runs) == 0 {
		return nil
	}
	return &f.Runs[0]
}

// Summarize converts a run report to its persisted form
func Summarize(report *orchestrator.RunReport) RunSummary {
	totals := report.Totals()
	summary := RunSummary{
		RunID:      report.RunID,
		Status:     report.Status,
		StartedAt:  report.StartedAt,
		FinishedAt: report.FinishedAt,
		Upserted:   totals.Upserted,
		Failed:     totals.Failed,
		Rejected:   totals.Rejected,
		Duplicates: report.Duplicates,
		TimedOut:   report.TimedOut,
		Error:      report.Error,
		Sources:    make([]SourceSummary, 0, len(report.Sources)),
	}
	for _, s := range report.Sources {
		summary.Sources = append(summary.Sources, SourceSummary{
			Name:      s.Name,
			Fetched:   s.Fetched,
			Validated: s.Validated,
			Rejected:  s.Rejected,
			Skipped:   s.Skipped,
			Upserted:  s.Upserted,
			Failed:    s.Failed,
			Failure:   s.Failure,
		})
	}
	return summary
}
