// Package schedule repeats an import on a cron schedule.
//
// The job runs once immediately, then on every tick until the context is
// cancelled. A tick that arrives while the previous run is still going is
// skipped, and a failing run is logged without stopping the schedule.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one scheduled unit of work.
type Job func(ctx context.Context) error

// Run parses expr as a standard five-field cron expression (descriptors
// such as "@hourly" are accepted) and runs job on it until ctx is done.
func Run(ctx context.Context, expr string, job Job) error {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return fmt.Errorf("parse schedule %q: %w", expr, err)
	}
	return RunSchedule(ctx, sched, job)
}

// RunSchedule is Run with an already parsed schedule.
func RunSchedule(ctx context.Context, sched cron.Schedule, job Job) error {
	logger := cronLogger{slog.Default()}

	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(
			cron.SkipIfStillRunning(logger),
			cron.Recover(logger),
		),
	)
	c.Schedule(sched, cron.FuncJob(func() { runJob(ctx, job) }))

	slog.Info("import scheduler started", "next_run", sched.Next(time.Now()))

	// Run immediately on startup
	runJob(ctx, job)

	c.Start()
	<-ctx.Done()

	<-c.Stop().Done()
	slog.Info("import scheduler stopped")
	return nil
}

func runJob(ctx context.Context, job Job) {
	if ctx.Err() != nil {
		return
	}

	start := time.Now()
	if err := job(ctx); err != nil {
		slog.Error("scheduled import failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		return
	}
	slog.Info("scheduled import completed", "duration_ms", time.Since(start).Milliseconds())
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
