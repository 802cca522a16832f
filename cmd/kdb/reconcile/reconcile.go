// Package reconcilecmder provides the reconcile command, which compares the
// record manager's view of a source with the vector store.
package reconcilecmder

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/kdb/cmd/kdb/appflags"
	"github.com/papercomputeco/kdb/pkg/cliui"
	"github.com/papercomputeco/kdb/pkg/config"
	"github.com/papercomputeco/kdb/pkg/recordmanager"
)

const reconcileLongDesc string = `Compare recorded ids of a source with the vector store.

Orphans are records in the store the record manager does not know about.
Missing ids are recorded but absent from the store. Without --repair the
command exits non-zero when either list is non-empty. With --repair orphans
are deleted and missing ids are forgotten, so the next ingestion rewrites them.

Examples:
  kdb reconcile docs/billing.md
  kdb reconcile docs/billing.md --repair`

const reconcileShortDesc string = "Check a source for drift between state and store"

func NewReconcileCmd() *cobra.Command {
	var repair bool

	cmd := &cobra.Command{
		Use:   "reconcile <source_id>",
		Short: reconcileShortDesc,
		Long:  reconcileLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, log, err := appflags.NewApp(cmd, config.IngestFlags)
			defer func() { _ = log.Sync() }()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			if err := a.EnsureReady(ctx); err != nil {
				return err
			}

			report, err := a.Manager.Reconcile(ctx, args[0], repair)
			if report != nil {
				printReport(cmd.OutOrStdout(), report)
			}
			if errors.Is(err, recordmanager.ErrStateInconsistency) {
				return fmt.Errorf("%w (run with --repair to fix)", err)
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&repair, "repair", false, "Delete orphans and forget missing ids")
	appflags.Register(cmd, config.IngestFlags)

	return cmd
}

func printReport(w io.Writer, r *recordmanager.ReconcileReport) {
	if r.Consistent() {
		fmt.Fprintf(w, "  %s %s is consistent\n", cliui.SuccessMark, cliui.KeyStyle.Render(r.SourceID))
		return
	}

	mark := cliui.FailMark
	if r.Repaired {
		mark = cliui.SuccessMark
	}
	fmt.Fprintf(w, "  %s %s %s\n", mark, cliui.KeyStyle.Render(r.SourceID),
		cliui.DimStyle.Render(fmt.Sprintf("%d orphans, %d missing", len(r.Orphans), len(r.Missing))))
	for _, id := range r.Orphans {
		fmt.Fprintf(w, "      orphan   %s\n", id)
	}
	for _, id := range r.Missing {
		fmt.Fprintf(w, "      missing  %s\n", id)
	}
	if r.Repaired {
		fmt.Fprintf(w, "      %s\n", cliui.DimStyle.Render("repaired"))
	}
}
