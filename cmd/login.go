package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/authgate/api/schemas"
	"github.com/xkilldash9x/authgate/internal/auth"
	"github.com/xkilldash9x/authgate/internal/browser"
	"github.com/xkilldash9x/authgate/internal/config"
	"github.com/xkilldash9x/authgate/internal/flow"
	"github.com/xkilldash9x/authgate/internal/observability"
	"github.com/xkilldash9x/authgate/internal/session"
)

// newLoginCmd creates and configures the `login` command.
func newLoginCmd() *cobra.Command {
	loginCmd := &cobra.Command{
		Use:   "login [target-url]",
		Short: "Acquires an authenticated session for the target, reusing a stored one when possible",
		Args:  cobra.MaximumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind flags to their viper keys so command-line flags override
			// values from the config file and environment.
			if err := viper.BindPFlag("target.probe_url", cmd.Flags().Lookup("probe-url")); err != nil {
				return err
			}
			if err := viper.BindPFlag("auth.principal", cmd.Flags().Lookup("principal")); err != nil {
				return err
			}
			if err := viper.BindPFlag("browser.headless", cmd.Flags().Lookup("headless")); err != nil {
				return err
			}
			return nil
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
			creds := cfg.Credentials()
			if creds.Principal == "" || creds.Secret.Reveal() == "" {
				return fmt.Errorf("credentials not configured: set AUTHGATE_AUTH_PRINCIPAL and AUTHGATE_AUTH_SECRET")
			}

			components, err := initializeEngine(cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize engine: %w", err)
			}
			defer components.Shutdown()

			outcome, err := components.Orchestrator.Acquire(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					logger.Warn("Login aborted by signal")
					return fmt.Errorf("login aborted by user signal")
				}
				return err
			}

			asJSON, _ := cmd.Flags().GetBool("json")
			if err := printOutcome(cmd, outcome, asJSON); err != nil {
				return err
			}
			if !outcome.Authenticated() {
				return fmt.Errorf("authentication failed: %s", outcome.FailureClass)
			}
			return nil
		},
	}

	loginCmd.Flags().String("probe-url", "", "Protected URL used to verify authentication. (Overrides config/env)")
	loginCmd.Flags().StringP("principal", "u", "", "Login principal (username). (Overrides config/env)")
	loginCmd.Flags().Bool("headless", true, "Run the browser headless. Disable to watch or complete 2FA. (Overrides config/env)")
	loginCmd.Flags().Bool("json", false, "Print the structured outcome as JSON on stdout.")

	return loginCmd
}

// engineComponents holds the initialized services behind a command run.
type engineComponents struct {
	Manager      *browser.Manager
	Orchestrator *auth.Orchestrator
}

// Shutdown releases the browser. A fresh timeout context is used so cleanup
// still runs after the command context was canceled.
func (ec *engineComponents) Shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if ec.Manager != nil {
		if err := ec.Manager.Shutdown(shutdownCtx); err != nil {
			observability.GetLogger().Warn("Error during browser shutdown", zap.Error(err))
		}
	}
}

// initializeEngine handles dependency injection for the session engine.
func initializeEngine(cfg *config.Config, logger *zap.Logger) (*engineComponents, error) {
	components := &engineComponents{}

	store, err := session.NewFileStore(cfg.Store.Dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize session store: %w", err)
	}

	detector, err := flow.NewDetector(cfg.Target.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize flow detector: %w", err)
	}

	waiter := flow.NewWaiter(
		cfg.Timeouts.Short,
		cfg.Timeouts.Medium,
		cfg.Timeouts.Long,
		cfg.Timeouts.PollInterval,
		logger,
	)

	manager := browser.NewManager(cfg, logger)
	components.Manager = manager

	validator, err := auth.NewValidator(manager, detector, logger)
	if err != nil {
		return components, fmt.Errorf("failed to initialize session validator: %w", err)
	}

	orch, err := auth.NewOrchestrator(cfg, logger, store, validator, manager, detector, waiter)
	if err != nil {
		return components, fmt.Errorf("failed to create orchestrator: %w", err)
	}
	components.Orchestrator = orch

	return components, nil
}

// printOutcome renders the result for the calling harness: JSON on stdout
// when requested, a short human summary otherwise.
func printOutcome(cmd *cobra.Command, outcome *schemas.Outcome, asJSON bool) error {
	if asJSON {
		data, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(outcome, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding outcome: %w", err)
		}
		fmt.Fprintln(os.Stdout, string(data))
		return nil
	}

	if outcome.Authenticated() {
		how := "acquired"
		if outcome.Reused {
			how = "reused"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "AUTHENTICATED (%s session, %d cookies, domain %s)\n",
			how, len(outcome.Session.Cookies), outcome.Session.TargetDomain)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "FAILED (%s)\n", outcome.FailureClass)
	return nil
}
