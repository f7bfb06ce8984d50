package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/abdul-hamid-achik/aidb-smoke/packages/core/config"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var scheduleFlag string

// parseSchedule accepts a standard five-field cron expression or a
// descriptor such as @hourly or @every 5m
func parseSchedule(spec string) (cron.Schedule, error) {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid --schedule %q: %w", spec, err)
	}
	return sched, nil
}

// schedule repeats the scenario on sched until ctx is done. A run still in
// progress when the next one is due causes that tick to be skipped.
func (s *smokeSession) schedule(ctx context.Context, cfg *config.Config, sched cron.Schedule) error {
	logger := cronLogger{s.logger.Sugar().Named("schedule")}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	out := s.cmd.OutOrStdout()
	c.Schedule(sched, cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.runOnce(ctx, cfg); err != nil {
			s.logger.Error("scheduled run failed to start", zap.Error(err))
		}
		fmt.Fprintf(out, "\nNext run at %s (press Ctrl+C to stop)\n", sched.Next(time.Now()).Format(time.RFC3339))
	}))

	fmt.Fprintf(out, "\nNext run at %s (press Ctrl+C to stop)\n", sched.Next(time.Now()).Format(time.RFC3339))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// cronLogger routes cron's own diagnostics through zap
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
