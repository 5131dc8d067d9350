package app

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aviregistry/operator-ingest/internal/validation"
)

func newValidateCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			if _, err := validation.NewValidator(cfg.Sources); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "✓ Valid configuration\n")
			_, _ = fmt.Fprintf(out, "  Registry: %s\n", cfg.Registry.BaseURL)
			for _, src := range cfg.Sources {
				_, _ = fmt.Fprintf(out, "  Source: %s (%s, %d requests per %s)\n",
					src.Name, src.Type, src.RateLimit.Requests, src.GetRateInterval())
			}
			if interval := cfg.GetScheduleInterval(); interval > 0 {
				_, _ = fmt.Fprintf(out, "  Schedule: every %s\n", interval)
			}
			return nil
		},
	}
}
