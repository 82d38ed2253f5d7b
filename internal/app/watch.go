package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"stream-auditor/internal/batch"
	"stream-auditor/internal/common/logging"
	"stream-auditor/internal/common/utils"
)

// cronLogger adapts logging.Logger to cron.Logger.
type cronLogger struct {
	logger logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, err, kvFields(keysAndValues)...)
}

func kvFields(kv []interface{}) []logging.Field {
	fields := make([]logging.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields = append(fields, logging.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return fields
}

// scheduledRun executes one batch and logs its summary. Failures are logged
// so that the next tick still runs.
func scheduledRun(ctx context.Context, app *App, ids []string, cfg batch.Config) {
	report, err := app.Orchestrator.Process(ctx, ids, cfg)
	if err != nil {
		app.Logger.Error("Scheduled batch failed", err, logging.Int("identifiers", len(ids)))
		return
	}
	app.Logger.Info("Scheduled batch complete",
		logging.String("run_id", report.RunID),
		logging.Int("total", report.Summary.Total),
		logging.Int("flagged", report.Summary.Flagged),
		logging.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
		logging.Bool("cancelled", report.Cancelled),
	)
	for _, r := range report.Results {
		if r.Flagged() {
			app.Logger.Warn("Identifier flagged",
				logging.String("run_id", report.RunID),
				logging.String("identifier", r.Identifier),
				logging.Any("flags", r.Flags),
			)
		}
	}
}

func newWatchCommand(c *cli) *cobra.Command {
	flags := &batchFlags{}
	var schedule string
	var runNow bool

	cmd := &cobra.Command{
		Use:   "watch [ISRC...]",
		Short: "Re-run the same batch on a cron schedule and log flagged identifiers",
		RunE: func(cmd *cobra.Command, args []string) error {
			sched, err := cron.ParseStandard(schedule)
			if err != nil {
				return fmt.Errorf("invalid schedule %q: %w", schedule, err)
			}
			ids, err := flags.identifiers(cmd, args)
			if err != nil {
				return err
			}
			if err := c.cfg.RequireCredentials(); err != nil {
				return err
			}

			app, err := New(c.cfg)
			if err != nil {
				return err
			}
			defer app.Close()

			batchCfg, err := flags.config(cmd.Flags(), app.Defaults())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			scheduler := cron.New(
				cron.WithLogger(cronLogger{logger: app.Logger}),
				cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger: app.Logger})),
			)
			scheduler.Schedule(sched, cron.FuncJob(func() { scheduledRun(ctx, app, ids, batchCfg) }))

			if runNow {
				scheduledRun(ctx, app, ids, batchCfg)
			}

			scheduler.Start()
			app.Logger.Info("Watching identifiers",
				logging.Int("identifiers", len(ids)),
				logging.String("schedule", schedule),
				logging.String("next_run_in", utils.FormatDuration(time.Until(sched.Next(time.Now())))),
			)

			<-ctx.Done()
			<-scheduler.Stop().Done()
			app.Logger.Info("Watch stopped")
			return nil
		},
	}
	flags.register(cmd.Flags())
	cmd.Flags().StringVar(&schedule, "schedule", "@daily", "standard cron expression or descriptor")
	cmd.Flags().BoolVar(&runNow, "now", false, "run once immediately before waiting for the schedule")
	return cmd
}
