// Command gensql renders the Flume CSV extract as a SQL script that can be
// pasted into the Supabase SQL editor. It makes no database calls.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"github.com/lenmed/importer/internal/archive"
	"github.com/lenmed/importer/internal/config"
	"github.com/lenmed/importer/internal/core"
	"github.com/lenmed/importer/internal/logging"
	"github.com/lenmed/importer/internal/metrics"
	"github.com/lenmed/importer/internal/sqlgen"
)

const remoteTimeout = 30 * time.Second

func main() {
	if err := godotenv.Overload(); err != nil {
		slog.Debug("no .env file found, using environment variables")
	}

	cfg, err := config.Load(config.ModeOffline)
	if err != nil {
		fail(err)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	if err := run(context.Background(), cfg, os.Stdout); err != nil {
		fail(err)
	}
}

func fail(err error) {
	core.NewUserError(err).Print(os.Stderr)
	os.Exit(1)
}

func run(ctx context.Context, cfg *config.Config, out io.Writer) error {
	ctx, _ = logging.NewRun(ctx)
	logger := logging.FromContext(ctx)

	fmt.Fprintln(out, "Reading CSV file...")
	ds, err := core.LoadFile(cfg.Import.Input)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Found %d records\n", ds.Records)
	fmt.Fprintf(out, "Found %d unique hospitals\n", len(ds.Hospitals))
	fmt.Fprintf(out, "Found %d unique doctors\n", ds.Doctors.Len())
	fmt.Fprintf(out, "Found %d doctor-hospital relationships\n", len(ds.Links))

	if err := writeScript(cfg.Import.Output, cfg.Import.Input, ds); err != nil {
		return err
	}
	logger.Info("script generated", "path", cfg.Import.Output)

	fmt.Fprintf(out, "\n✅ SQL file generated: %s\n", cfg.Import.Output)
	fmt.Fprintln(out, "   Copy and paste this into Supabase SQL Editor to import data")

	if cfg.Archive.Enabled() {
		if err := archiveScript(ctx, cfg.Archive, cfg.Import.Output, out); err != nil {
			return err
		}
	}

	if cfg.Metrics.Enabled() {
		rec := metrics.NewRecorder()
		rec.ObserveScript(ds)

		pctx, cancel := context.WithTimeout(ctx, remoteTimeout)
		defer cancel()
		if err := rec.Push(pctx, cfg.Metrics.PushgatewayURL, cfg.Metrics.Job); err != nil {
			logger.Warn("metrics push failed", "error", err)
		}
	}
	return nil
}

func writeScript(path, source string, ds *core.Dataset) (err error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create script: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close script: %w", cerr)
		}
	}()

	return sqlgen.Emit(f, ds, sqlgen.WithSource(filepath.Base(source)))
}

func archiveScript(ctx context.Context, cfg config.ArchiveConfig, path string, out io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, remoteTimeout)
	defer cancel()

	a, err := archive.New(ctx, cfg)
	if err != nil {
		return err
	}
	loc, err := a.UploadFile(ctx, path)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "   Archived to %s\n", loc)
	return nil
}
