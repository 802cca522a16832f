// Package ingestcmder provides the ingest command, which chunks, enriches and
// indexes markdown documents.
package ingestcmder

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/papercomputeco/kdb/cmd/kdb/appflags"
	"github.com/papercomputeco/kdb/pkg/app"
	"github.com/papercomputeco/kdb/pkg/cliui"
	"github.com/papercomputeco/kdb/pkg/config"
	"github.com/papercomputeco/kdb/pkg/ingest"
	"github.com/papercomputeco/kdb/pkg/source/local"
)

// Document is one markdown file to ingest under SourceID.
type Document struct {
	SourceID string
	Path     string
}

type ingestCommander struct {
	sourceID string
	dryRun   bool
	output   string

	out    io.Writer
	logger *zap.Logger
}

const ingestLongDesc string = `Chunk, enrich and index markdown documents.

Each path is either a markdown file or a directory. Files are indexed under
their path as given (or --source-id for a single file). Directories are
walked for .md files, each indexed under its path relative to the directory,
the same source ids "kdb watch" uses.

Re-ingesting an unchanged document writes nothing. Chunks that disappeared
from a document are deleted from the vector store.

Use --dry-run to split and enrich without touching the vector store or the
record manager. The enriched chunks are written as JSON to stdout or --output.

Examples:
  kdb ingest docs/billing.md
  kdb ingest docs/ --concurrency 8
  kdb ingest notes.md --source-id handbook/notes
  kdb ingest docs/ --dry-run --output chunks.json`

const ingestShortDesc string = "Index markdown documents"

func NewIngestCmd() *cobra.Command {
	cmder := &ingestCommander{}

	cmd := &cobra.Command{
		Use:   "ingest <path>...",
		Short: ingestShortDesc,
		Long:  ingestLongDesc,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmder.sourceID != "" && len(args) > 1 {
				return fmt.Errorf("--source-id needs exactly one file, got %d paths", len(args))
			}

			docs, err := Collect(cmd.Context(), args)
			if err != nil {
				return err
			}
			if cmder.sourceID != "" {
				if len(docs) != 1 {
					return fmt.Errorf("--source-id needs exactly one file, %s holds %d", args[0], len(docs))
				}
				docs[0].SourceID = cmder.sourceID
			}

			a, log, err := appflags.NewApp(cmd, config.IngestFlags)
			defer func() { _ = log.Sync() }()
			if err != nil {
				return err
			}
			defer a.Close()

			cmder.logger = log
			cmder.out = cmd.OutOrStdout()

			if cmder.dryRun {
				return cmder.preview(cmd.Context(), a, docs)
			}
			return cmder.run(cmd.Context(), a, docs)
		},
	}

	cmd.Flags().StringVar(&cmder.sourceID, "source-id", "", "Source id for a single file (default: its path)")
	cmd.Flags().BoolVar(&cmder.dryRun, "dry-run", false, "Split and enrich only, writing chunks as JSON")
	cmd.Flags().StringVarP(&cmder.output, "output", "o", "", "File for --dry-run output (default: stdout)")
	appflags.Register(cmd, config.IngestFlags)

	return cmd
}

func (c *ingestCommander) run(ctx context.Context, a *app.App, docs []Document) error {
	if err := cliui.Step(c.out, "Provisioning vector store and record manager", func() error {
		return a.EnsureReady(ctx)
	}); err != nil {
		return err
	}

	failed := 0
	for _, doc := range docs {
		content, err := os.ReadFile(doc.Path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", doc.Path, err)
		}

		report, err := a.Pipeline.Ingest(ctx, doc.SourceID, string(content))
		if report != nil {
			cliui.RenderReport(c.out, report)
		}
		if err != nil {
			c.logger.Debug("ingestion failed", zap.String("source_id", doc.SourceID), zap.Error(err))
			failed++
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(docs))
	}
	return nil
}

func (c *ingestCommander) preview(ctx context.Context, a *app.App, docs []Document) error {
	previews := make([]*ingest.Preview, 0, len(docs))
	for _, doc := range docs {
		content, err := os.ReadFile(doc.Path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", doc.Path, err)
		}

		p, err := a.Pipeline.Preview(ctx, doc.SourceID, string(content))
		if err != nil {
			return fmt.Errorf("previewing %s: %w", doc.SourceID, err)
		}
		previews = append(previews, p)
	}

	data, err := json.MarshalIndent(previews, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding chunks: %w", err)
	}
	data = append(data, '\n')

	if c.output == "" {
		_, err = c.out.Write(data)
		return err
	}
	if err := os.WriteFile(c.output, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", c.output, err)
	}
	fmt.Fprintf(c.out, "  %s Wrote %d documents to %s\n", cliui.SuccessMark, len(previews), c.output)
	return nil
}

// Collect expands paths into documents. Directories contribute every
// markdown file below them keyed relative to the directory.
func Collect(ctx context.Context, paths []string) ([]Document, error) {
	var docs []Document
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}

		if !info.IsDir() {
			docs = append(docs, Document{SourceID: filepath.ToSlash(filepath.Clean(p)), Path: p})
			continue
		}

		store, err := local.NewStore(p)
		if err != nil {
			return nil, err
		}
		keys, err := store.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", p, err)
		}
		for _, key := range keys {
			path, err := store.Path(key)
			if err != nil {
				return nil, err
			}
			docs = append(docs, Document{SourceID: key, Path: path})
		}
	}
	return docs, nil
}
