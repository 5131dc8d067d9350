// Package app wires the ingestion components together and manages their lifecycle.
package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/aviregistry/operator-ingest/internal/config"
	"github.com/aviregistry/operator-ingest/internal/orchestrator"
)

// ErrNoSchedule is returned by Start when the configuration has no schedule
var ErrNoSchedule = errors.New("no schedule configured")

// IngestApp encapsulates all components needed to run ingestion passes
type IngestApp struct {
	config     *config.Config
	components *AppComponents
}

// RunOnce performs a single ingestion pass and records it in the status store.
// The report is returned even when the run failed.
func (app *IngestApp) RunOnce(ctx context.Context) (*orchestrator.RunReport, error) {
	report, err := app.components.Orchestrator.Run(ctx)
	if report != nil {
		if recErr := app.components.StatusStore.Record(context.WithoutCancel(ctx), report); recErr != nil {
			slog.Error("Failed to record run status", "run_id", report.RunID, "error", recErr)
		}
	}
	return report, err
}

// Start runs the schedule. Blocks until the context is cancelled or Stop is called.
func (app *IngestApp) Start(ctx context.Context) error {
	if app.components.Coordinator == nil {
		return ErrNoSchedule
	}
	return app.components.Coordinator.Start(ctx)
}

// Stop stops the schedule. An active run is cancelled and still recorded.
func (app *IngestApp) Stop() error {
	slog.Info("Shutting down ingestion...")
	if app.components.Coordinator == nil {
		return nil
	}
	return app.components.Coordinator.Stop()
}

// GetConfig returns the application configuration
func (app *IngestApp) GetConfig() *config.Config {
	return app.config
}

// GetComponents returns the wired components
func (app *IngestApp) GetComponents() *AppComponents {
	return app.components
}
