package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	ingestapp "github.com/aviregistry/operator-ingest/internal/app"
)

func newScheduleCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Run ingestion passes on the configured schedule",
		Long: `Run an ingestion pass immediately and then once per schedule.interval, until
interrupted. Every run is recorded in the status file.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			if cfg.GetScheduleInterval() <= 0 {
				return fmt.Errorf("schedule.interval must be set to use the schedule command")
			}

			ingest, shutdown, err := buildIngestApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer shutdown()

			errCh := make(chan error, 1)
			go func() {
				errCh <- ingest.Start(cmd.Context())
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(quit)

			select {
			case sig := <-quit:
				slog.Info("Received signal, stopping", "signal", sig.String())
				if err := ingest.Stop(); err != nil {
					return fmt.Errorf("failed to stop scheduler: %w", err)
				}
				return <-errCh
			case err := <-errCh:
				if errors.Is(err, ingestapp.ErrNoSchedule) {
					return fmt.Errorf("schedule.interval must be set to use the schedule command")
				}
				return err
			}
		},
	}
}
