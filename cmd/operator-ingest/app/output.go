package app

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/aviregistry/operator-ingest/internal/orchestrator"
	"github.com/aviregistry/operator-ingest/internal/status"
)

func validateFormat(format string) error {
	switch format {
	case formatTable, formatJSON:
		return nil
	default:
		return fmt.Errorf("unsupported output format %q, use %s or %s", format, formatTable, formatJSON)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeReport prints a run report as a per-source table followed by the run summary
func writeReport(w io.Writer, format string, report *orchestrator.RunReport) error {
	if format == formatJSON {
		return writeJSON(w, report)
	}

	table := tablewriter.NewWriter(w)
	table.Header("Source", "Fetched", "Validated", "Rejected", "Skipped", "Upserted", "Failed", "Failure")
	for _, s := range report.Sources {
		if err := table.Append([]string{
			s.Name,
			strconv.Itoa(s.Fetched),
			strconv.Itoa(s.Validated),
			strconv.Itoa(s.Rejected),
			strconv.Itoa(s.Skipped),
			strconv.Itoa(s.Upserted),
			strconv.Itoa(s.Failed),
			s.Failure,
		}); err != nil {
			return err
		}
	}
	totals := report.Totals()
	table.Footer("Total",
		strconv.Itoa(totals.Fetched),
		strconv.Itoa(totals.Validated),
		strconv.Itoa(totals.Rejected),
		strconv.Itoa(totals.Skipped),
		strconv.Itoa(totals.Upserted),
		strconv.Itoa(totals.Failed),
		"")
	if err := table.Render(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "\nRun %s: %s in %s (%d duplicates, %d chunks)\n",
		report.RunID, report.Status, report.Duration().Round(time.Millisecond), report.Duplicates, len(report.Chunks))
	if err != nil {
		return err
	}
	if report.TimedOut {
		if _, err := fmt.Fprintln(w, "Fetch phase timed out; records validated before the deadline were delivered"); err != nil {
			return err
		}
	}
	for _, msg := range report.DeliveryErrors {
		if _, err := fmt.Fprintf(w, "Delivery error: %s\n", msg); err != nil {
			return err
		}
	}
	if report.Error != "" {
		if _, err := fmt.Fprintf(w, "Error: %s\n", report.Error); err != nil {
			return err
		}
	}
	return nil
}

// writeStatus prints the recorded runs, newest first
func writeStatus(w io.Writer, format string, file *status.File) error {
	if format == formatJSON {
		return writeJSON(w, file)
	}

	if len(file.Runs) == 0 {
		_, err := fmt.Fprintln(w, "No runs recorded")
		return err
	}

	table := tablewriter.NewWriter(w)
	table.Header("Run", "Status", "Started", "Duration", "Upserted", "Failed", "Rejected", "Failed Sources")
	for _, run := range file.Runs {
		failedSources := 0
		for _, s := range run.Sources {
			if s.Failure != "" {
				failedSources++
			}
		}
		if err := table.Append([]string{
			run.RunID,
			string(run.Status),
			run.StartedAt.Local().Format(time.DateTime),
			run.Duration().Round(time.Second).String(),
			strconv.Itoa(run.Upserted),
			strconv.Itoa(run.Failed),
			strconv.Itoa(run.Rejected),
			strconv.Itoa(failedSources),
		}); err != nil {
			return err
		}
	}
	return table.Render()
}
