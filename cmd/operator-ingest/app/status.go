package app

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aviregistry/operator-ingest/internal/status"
)

func newStatusCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show recorded ingestion runs",
		Long: `Show the runs recorded in the status file, newest first. The status file is
taken from --status-file, or from the configuration file when not given.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := cmd.Flags().GetString("format")
			if err != nil {
				return err
			}
			if err := validateFormat(format); err != nil {
				return err
			}

			path, err := cmd.Flags().GetString("status-file")
			if err != nil {
				return err
			}
			if path == "" {
				cfg, err := loadConfig(v)
				if err != nil {
					return err
				}
				path = cfg.GetStatusFile()
			}

			file, err := status.NewFileStore(path).Load(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to load status: %w", err)
			}
			return writeStatus(cmd.OutOrStdout(), format, file)
		},
	}
	cmd.Flags().String("status-file", "", "Path to the status file (overrides the configuration)")
	cmd.Flags().String("format", formatTable, "Output format (table or json)")
	return cmd
}
