package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	ingestapp "github.com/aviregistry/operator-ingest/internal/app"
	"github.com/aviregistry/operator-ingest/internal/config"
	"github.com/aviregistry/operator-ingest/internal/orchestrator"
	"github.com/aviregistry/operator-ingest/internal/telemetry"
	"github.com/aviregistry/operator-ingest/internal/versions"
)

// telemetryShutdownTimeout bounds the final flush of spans and metrics
const telemetryShutdownTimeout = 10 * time.Second

func newRunCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one ingestion pass",
		Long: `Run one ingestion pass: fetch every configured source, validate the records
and upsert them into the registry. The run report is printed to stdout.

The command exits with a non-zero status when the run failed or was cancelled.
A partially failed run exits with status zero.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := cmd.Flags().GetString("format")
			if err != nil {
				return err
			}
			if err := validateFormat(format); err != nil {
				return err
			}

			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ingest, shutdown, err := buildIngestApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer shutdown()

			report, runErr := ingest.RunOnce(ctx)
			if report != nil {
				if err := writeReport(cmd.OutOrStdout(), format, report); err != nil {
					return fmt.Errorf("failed to write report: %w", err)
				}
			}
			if runErr != nil {
				return runErr
			}
			if report.Status == orchestrator.StatusFailed {
				return fmt.Errorf("run %s failed", report.RunID)
			}
			return nil
		},
	}
	cmd.Flags().String("format", formatTable, "Output format (table or json)")
	return cmd
}

// buildIngestApp sets up telemetry and wires the ingest app. The returned
// function flushes telemetry and must be called once the app is done.
func buildIngestApp(ctx context.Context, cfg *config.Config) (*ingestapp.IngestApp, func(), error) {
	if cfg.Telemetry != nil && cfg.Telemetry.ServiceVersion == "" {
		cfg.Telemetry.ServiceVersion = versions.Get().Version
	}

	tel, err := telemetry.New(ctx, cfg.Telemetry)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	shutdown := func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), telemetryShutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown telemetry", "error", err)
		}
	}

	ingest, err := ingestapp.NewIngestApp(ctx,
		ingestapp.WithConfig(cfg),
		ingestapp.WithMeterProvider(tel.MeterProvider()),
		ingestapp.WithTracerProvider(tel.TracerProvider()),
	)
	if err != nil {
		shutdown()
		return nil, nil, fmt.Errorf("failed to build ingest app: %w", err)
	}
	return ingest, shutdown, nil
}
