package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/adaptivestudy/internal/database"
	"github.com/example/adaptivestudy/internal/engine"
	"github.com/example/adaptivestudy/internal/excel"
	"github.com/example/adaptivestudy/internal/scheduler"
)

func newImportCmd(a *app) *cobra.Command {
	importCfg := excel.DefaultImportConfig()
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import catalog items from an .xlsx or .csv file",
		Long: `Import catalog items. Columns: item id, LO ids (";"-separated), difficulty,
partial-credit thresholds (";"-separated, may be empty), median seconds.
Existing items with the same id are updated.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(a.cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			importCfg.FilePath = args[0]
			result, err := excel.ImportItems(cmd.Context(), importCfg, database.NewItemRepository(db))
			if err != nil {
				return err
			}
			a.logger.Info("Import finished",
				zap.String("file", args[0]),
				zap.Int("processed", result.TotalProcessed),
				zap.Int("created", result.Created),
				zap.Int("updated", result.Updated),
				zap.Int("skipped", result.Skipped))
			return printJSON(cmd, result)
		},
	}
	cmd.Flags().StringVar(&importCfg.SheetName, "sheet", importCfg.SheetName, "Sheet to read from an Excel file")
	cmd.Flags().IntVar(&importCfg.StartRow, "start-row", importCfg.StartRow, "First data row (1-based)")
	return cmd
}

func newNextCmd(a *app) *cobra.Command {
	var learnerID, sessionID string
	cmd := &cobra.Command{
		Use:   "next",
		Short: "Recommend the next item for a learner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessionID == "" {
				sessionID = uuid.NewString()
			}
			rt, err := openRuntime(cmd.Context(), a)
			if err != nil {
				return err
			}
			defer rt.Close()

			rec, err := rt.engine.NextItem(cmd.Context(), learnerID, sessionID)
			if err != nil {
				return err
			}
			return printJSON(cmd, rec)
		},
	}
	cmd.Flags().StringVar(&learnerID, "learner", "", "Learner id")
	cmd.Flags().StringVar(&sessionID, "session", "", "Session id (a new one is generated when empty)")
	_ = cmd.MarkFlagRequired("learner")
	return cmd
}

func newAnswerCmd(a *app) *cobra.Command {
	var (
		attempt engine.Attempt
		score   float64
	)
	cmd := &cobra.Command{
		Use:   "answer",
		Short: "Record a learner's response to an item",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("score") {
				attempt.PartialScore = &score
			}
			rt, err := openRuntime(cmd.Context(), a)
			if err != nil {
				return err
			}
			defer rt.Close()

			out, err := rt.engine.SubmitAttempt(cmd.Context(), attempt)
			if err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
	cmd.Flags().StringVar(&attempt.LearnerID, "learner", "", "Learner id")
	cmd.Flags().StringVar(&attempt.SessionID, "session", "", "Session id")
	cmd.Flags().StringVar(&attempt.ItemID, "item", "", "Item id")
	cmd.Flags().BoolVar(&attempt.Correct, "correct", false, "The response was correct")
	cmd.Flags().Float64Var(&score, "score", 0, "Partial-credit score in [0,1]")
	cmd.Flags().Int64Var(&attempt.ResponseMs, "response-ms", 0, "Response time in milliseconds")
	for _, name := range []string{"learner", "session", "item"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func newPlanCmd(a *app) *cobra.Command {
	var (
		learnerID string
		minutes   float64
	)
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the spaced-review part of a session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if minutes <= 0 {
				minutes = a.cfg.SessionMinutes
			}
			rt, err := openRuntime(cmd.Context(), a)
			if err != nil {
				return err
			}
			defer rt.Close()

			plan, err := rt.engine.RetentionPlan(cmd.Context(), learnerID, minutes)
			if err != nil {
				return err
			}
			return printJSON(cmd, plan)
		},
	}
	cmd.Flags().StringVar(&learnerID, "learner", "", "Learner id")
	cmd.Flags().Float64Var(&minutes, "minutes", 0, "Session length (defaults to SESSION_MINUTES)")
	_ = cmd.MarkFlagRequired("learner")
	return cmd
}

func newRemindCmd(a *app) *cobra.Command {
	var learnerID string
	cmd := &cobra.Command{
		Use:   "remind",
		Short: "Check one learner for due reviews now, ignoring notification hours",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), a)
			if err != nil {
				return err
			}
			defer rt.Close()

			sweep := scheduler.New(rt.learners, scheduler.TelemetryNotifier{Recorder: rt.sink}, scheduler.Options{
				Logger: a.logger,
			})
			notified, err := sweep.RunManualCheck(cmd.Context(), learnerID)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"learner_id": learnerID, "notified": notified})
		},
	}
	cmd.Flags().StringVar(&learnerID, "learner", "", "Learner id")
	_ = cmd.MarkFlagRequired("learner")
	return cmd
}

func newEventsCmd(a *app) *cobra.Command {
	var (
		learnerID string
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List a learner's most recent telemetry events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive")
			}
			db, err := openDB(a.cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			events, err := database.NewEventRepository(db).ListByLearner(cmd.Context(), learnerID, limit)
			if err != nil {
				return err
			}
			return printJSON(cmd, events)
		},
	}
	cmd.Flags().StringVar(&learnerID, "learner", "", "Learner id")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of events")
	_ = cmd.MarkFlagRequired("learner")
	return cmd
}
