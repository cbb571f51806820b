package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xkilldash9x/authgate/internal/config"
	"github.com/xkilldash9x/authgate/internal/observability"
)

// newCheckCmd creates the `check` command: a read-only preflight that
// reports whether the stored session for the target still authenticates.
// It never starts a login flow and never needs credentials.
func newCheckCmd() *cobra.Command {
	checkCmd := &cobra.Command{
		Use:   "check [target-url]",
		Short: "Validates the stored session for the target without logging in",
		Args:  cobra.MaximumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return viper.BindPFlag("target.probe_url", cmd.Flags().Lookup("probe-url"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			if len(args) > 0 {
				viper.Set("target.url", args[0])
			}
			loaded, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return err
			}
			cfg = loaded

			if cfg.Target.URL == "" {
				return fmt.Errorf("no target: pass a target URL argument or set target.url")
			}

			components, err := initializeEngine(cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize engine: %w", err)
			}
			defer components.Shutdown()

			outcome, err := components.Orchestrator.Preflight(ctx)
			if err != nil {
				return err
			}

			asJSON, _ := cmd.Flags().GetBool("json")
			if err := printOutcome(cmd, outcome, asJSON); err != nil {
				return err
			}
			if !outcome.Authenticated() {
				return fmt.Errorf("stored session is absent or no longer authenticates")
			}
			return nil
		},
	}

	checkCmd.Flags().String("probe-url", "", "Protected URL used to verify authentication. (Overrides config/env)")
	checkCmd.Flags().Bool("json", false, "Print the structured outcome as JSON on stdout.")

	return checkCmd
}
