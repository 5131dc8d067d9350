package app

import (
	"github.com/aviregistry/operator-ingest/internal/coordinator"
	"github.com/aviregistry/operator-ingest/internal/orchestrator"
	"github.com/aviregistry/operator-ingest/internal/status"
)

// AppComponents groups all application components
//
//nolint:revive // This name is fine
type AppComponents struct {
	// Orchestrator performs ingestion runs
	Orchestrator *orchestrator.Orchestrator

	// Coordinator schedules runs, nil when no schedule is configured
	Coordinator coordinator.Coordinator

	// StatusStore records finished runs
	StatusStore status.Store
}
