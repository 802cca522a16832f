// Package watchcmder provides the watch command, which keeps the index in
// sync with a directory of markdown files.
package watchcmder

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/papercomputeco/kdb/cmd/kdb/appflags"
	"github.com/papercomputeco/kdb/pkg/app"
	"github.com/papercomputeco/kdb/pkg/config"
	"github.com/papercomputeco/kdb/pkg/ingest"
	"github.com/papercomputeco/kdb/pkg/source/local"
	"github.com/papercomputeco/kdb/pkg/watch"
	"github.com/papercomputeco/kdb/pkg/worker"
)

type watchCommander struct {
	workers     uint
	initialSync bool

	logger *zap.Logger
}

const watchLongDesc string = `Watch a directory and keep its markdown files indexed.

Every .md file below the directory is indexed under its path relative to the
directory. Writes are debounced, so an editor saving a file several times in
a row causes one ingestion. Removing a file deletes its records.

With --initial-sync (the default) every existing file is queued on start.
Unchanged documents write nothing, so restarting the watcher is cheap.

Examples:
  kdb watch docs/
  kdb watch docs/ --workers 4 --initial-sync=false`

const watchShortDesc string = "Re-index markdown files as they change"

func NewWatchCmd() *cobra.Command {
	cmder := &watchCommander{}

	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: watchShortDesc,
		Long:  watchLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, log, err := appflags.NewApp(cmd, config.IngestFlags)
			defer func() { _ = log.Sync() }()
			if err != nil {
				return err
			}
			defer a.Close()

			cmder.logger = log

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return cmder.run(ctx, a, args[0])
		},
	}

	cmd.Flags().UintVarP(&cmder.workers, "workers", "w", 2, "Documents indexed in parallel")
	cmd.Flags().BoolVar(&cmder.initialSync, "initial-sync", true, "Queue every existing document on start")
	appflags.Register(cmd, config.IngestFlags)

	return cmd
}

func (c *watchCommander) run(ctx context.Context, a *app.App, dir string) error {
	store, err := local.NewStore(dir)
	if err != nil {
		return err
	}

	if err := a.EnsureReady(ctx); err != nil {
		return err
	}

	pool, err := worker.NewPool(&worker.Config{
		Indexer:    a.Pipeline,
		Loader:     store,
		NumWorkers: c.workers,
		OnReport:   c.logReport,
		Logger:     c.logger,
	})
	if err != nil {
		return fmt.Errorf("starting workers: %w", err)
	}
	defer pool.Close()

	w, err := watch.New(&watch.Config{
		Store:       store,
		Jobs:        pool,
		InitialSync: c.initialSync,
		Logger:      c.logger,
	})
	if err != nil {
		return err
	}

	return w.Run(ctx)
}

func (c *watchCommander) logReport(r *ingest.Report) {
	fields := []zap.Field{
		zap.String("source_id", r.SourceID),
		zap.String("status", string(r.Status)),
		zap.Int("added", r.Added),
		zap.Int("updated", r.Updated),
		zap.Int("deleted", r.Deleted),
		zap.Int("unchanged", r.Unchanged),
		zap.Duration("duration", r.Duration),
	}
	if r.Failed() {
		c.logger.Warn("ingestion failed", fields...)
		return
	}
	c.logger.Info("ingested", fields...)
}
