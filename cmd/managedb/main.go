// Command managedb runs cleanup operations against an imported database.
//
// Usage:
//
//	managedb reset-status       set status to NULL for all doctors
//	managedb find-duplicates    list doctors sharing a name
//	managedb remove-duplicates  delete all but the earliest of each name
//	managedb stats              show row counts
//	managedb all                stats, remove-duplicates, reset-status, stats
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/lenmed/importer/internal/backend"
	"github.com/lenmed/importer/internal/config"
	"github.com/lenmed/importer/internal/core"
	"github.com/lenmed/importer/internal/logging"
	"github.com/lenmed/importer/internal/maintenance"
)

func main() {
	if err := godotenv.Overload(); err != nil {
		slog.Debug("no .env file found, using environment variables")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		core.NewUserError(err).Print(os.Stderr)
		os.Exit(1)
	}
}

// opener builds a Manager for one command invocation.
type opener func(ctx context.Context, out io.Writer) (*maintenance.Manager, func() error, error)

func openFromEnv(ctx context.Context, out io.Writer) (*maintenance.Manager, func() error, error) {
	cfg, err := config.Load(config.ModeMaintenance)
	if err != nil {
		return nil, nil, err
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	s, err := backend.Open(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return maintenance.New(s, out), s.Close, nil
}

func newRootCmd(out io.Writer) *cobra.Command {
	return newRootCmdWith(out, openFromEnv)
}

func newRootCmdWith(out io.Writer, open opener) *cobra.Command {
	root := &cobra.Command{
		Use:           "managedb",
		Short:         "Maintenance operations for the Lenmed doctors database",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.SetOut(out)

	action := func(use, short string, fn func(ctx context.Context, m *maintenance.Manager) error) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, _ := logging.NewRun(cmd.Context())

				m, closeFn, err := open(ctx, cmd.OutOrStdout())
				if err != nil {
					return err
				}
				defer closeFn()

				if err := fn(ctx, m); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "\n✅ Done!")
				return nil
			},
		}
	}

	root.AddCommand(
		action("reset-status", "Set status to NULL for all doctors", func(ctx context.Context, m *maintenance.Manager) error {
			_, err := m.ResetStatus(ctx)
			return err
		}),
		action("find-duplicates", "List doctors that share a full name", func(ctx context.Context, m *maintenance.Manager) error {
			_, err := m.FindDuplicates(ctx)
			return err
		}),
		action("remove-duplicates", "Delete all but the earliest doctor of each duplicated name", func(ctx context.Context, m *maintenance.Manager) error {
			_, err := m.RemoveDuplicates(ctx)
			return err
		}),
		action("stats", "Show row counts", func(ctx context.Context, m *maintenance.Manager) error {
			_, err := m.Stats(ctx)
			return err
		}),
		action("all", "Run stats, remove-duplicates, reset-status and stats", func(ctx context.Context, m *maintenance.Manager) error {
			return m.RunAll(ctx)
		}),
	)

	return root
}
