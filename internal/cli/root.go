// Package cli wires configuration, storage, telemetry and the engine behind
// cobra commands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/adaptivestudy/internal/config"
	"github.com/example/adaptivestudy/internal/logging"
)

// app is the state shared by every command of one invocation
type app struct {
	envFile  string
	logLevel string

	cfg    *config.Config
	logger *zap.Logger
}

// NewRootCmd builds the command tree
func NewRootCmd() *cobra.Command {
	return newRootCmd(&app{})
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "adaptivestudy",
		Short: "Adaptive practice and spaced review scheduler",
		Long: `adaptivestudy picks the next learning objective and item for a learner,
updates ability estimates from their answers and plans spaced reviews of
mastered material.

Settings come from the environment or a .env file (DB_TYPE, DB_PATH,
DATABASE_URL, ENGINE_CONFIG, LOG_LEVEL, SWEEP_INTERVAL, ...).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.envFile)
			if err != nil {
				return err
			}
			if a.logLevel != "" {
				cfg.LogLevel = a.logLevel
			}
			a.cfg = cfg
			if a.logger == nil {
				a.logger, err = logging.New(cfg.LogLevel, cfg.LogDevelopment)
				if err != nil {
					return err
				}
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&a.envFile, "env", ".env", "Environment file to load (missing file is ignored)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Override LOG_LEVEL (debug, info, warn, error)")

	root.AddCommand(newServeCmd(a))
	root.AddCommand(newImportCmd(a))
	root.AddCommand(newNextCmd(a))
	root.AddCommand(newAnswerCmd(a))
	root.AddCommand(newPlanCmd(a))
	root.AddCommand(newRemindCmd(a))
	root.AddCommand(newEventsCmd(a))
	return root
}

// Execute runs the root command with ctx, which is cancelled on shutdown signals
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
