// Command import loads the Flume CSV extract into the hospitals, doctors and
// doctor_hospitals tables through the configured backend.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/lenmed/importer/internal/backend"
	"github.com/lenmed/importer/internal/config"
	"github.com/lenmed/importer/internal/core"
	"github.com/lenmed/importer/internal/logging"
	"github.com/lenmed/importer/internal/metrics"
	"github.com/lenmed/importer/internal/reconcile"
	"github.com/lenmed/importer/internal/schedule"
	"github.com/lenmed/importer/internal/store"
)

const pushTimeout = 10 * time.Second

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Debug("no .env file found, using environment variables")
	}

	cfg, err := config.Load(config.ModeLive)
	if err != nil {
		fail(err)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Debug("configuration loaded", "config", cfg.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Stdout); err != nil {
		fail(err)
	}
}

func fail(err error) {
	core.NewUserError(err).Print(os.Stderr)
	os.Exit(1)
}

func run(ctx context.Context, cfg *config.Config, out io.Writer) error {
	s, err := backend.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	var rec *metrics.Recorder
	if cfg.Metrics.Enabled() {
		rec = metrics.NewRecorder()
	}

	job := func(ctx context.Context) error {
		return importOnce(ctx, cfg, s, rec, out)
	}

	if cfg.Import.Schedule == "" {
		return job(ctx)
	}
	return schedule.Run(ctx, cfg.Import.Schedule, job)
}

func importOnce(ctx context.Context, cfg *config.Config, s store.Store, rec *metrics.Recorder, out io.Writer) error {
	ctx, runID := logging.NewRun(ctx)
	logger := logging.FromContext(ctx)
	logger.Info("import started", "input", cfg.Import.Input, "backend", cfg.Import.Backend)

	fmt.Fprintln(out, "🔄 Reading CSV file...")
	ds, err := core.LoadFile(cfg.Import.Input)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "📊 Found %d records in CSV\n\n", ds.Records)
	fmt.Fprintf(out, "🏥 Found %d unique hospitals\n", len(ds.Hospitals))
	fmt.Fprintf(out, "👨‍⚕️ Found %d unique doctors\n", ds.Doctors.Len())
	fmt.Fprintf(out, "🔗 Found %d doctor-hospital pairs\n\n", len(ds.Links))

	w := reconcile.New(s, reconcile.WithProgress(progressPrinter(out)))
	rep, runErr := w.Run(ctx, ds)

	if rec != nil {
		rec.Observe(rep, runErr)
		pushMetrics(ctx, cfg.Metrics, rec)
	}

	if runErr != nil {
		return runErr
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "═══════════════════════════════════════")
	fmt.Fprintln(out, "✅ IMPORT COMPLETE!")
	fmt.Fprintln(out, "═══════════════════════════════════════")
	fmt.Fprintln(out, rep.Summary())
	fmt.Fprintln(out, "═══════════════════════════════════════")

	logger.Info("import finished",
		"run_id", runID,
		"hospitals", rep.Hospitals.Resolved,
		"doctors", rep.Doctors.Resolved,
		"links_written", rep.Links.Written,
		"links_orphaned", rep.Links.Orphaned,
		"duration_ms", rep.Duration.Milliseconds(),
	)
	return nil
}

// pushMetrics logs push failures; metrics never fail an import.
func pushMetrics(ctx context.Context, cfg config.MetricsConfig, rec *metrics.Recorder) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pushTimeout)
	defer cancel()

	if err := rec.Push(ctx, cfg.PushgatewayURL, cfg.Job); err != nil {
		logging.FromContext(ctx).Warn("metrics push failed", "error", err)
	}
}

func progressPrinter(out io.Writer) reconcile.ProgressCallback {
	var last reconcile.Entity
	return func(p reconcile.Progress) {
		if p.Entity != last {
			last = p.Entity
			fmt.Fprintf(out, "📥 Writing %s...\n", p.Entity)
		}
		fmt.Fprintf(out, "   %s: %d/%d (%d%%)\n", p.Stage, p.Done, p.Total, p.Percent())
	}
}
