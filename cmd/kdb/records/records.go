// Package recordscmder provides the records command for inspecting what the
// record manager knows about indexed sources.
package recordscmder

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/kdb/cmd/kdb/appflags"
	"github.com/papercomputeco/kdb/pkg/cliui"
	"github.com/papercomputeco/kdb/pkg/config"
	"github.com/papercomputeco/kdb/pkg/recordmanager"
)

const recordsLongDesc string = `List indexed sources, or the record ids of one source.

Without arguments every source id in the namespace is listed. With a source
id, each record id is shown with its fingerprint. Records written by an
interrupted run are marked pending.

Examples:
  kdb records
  kdb records docs/billing.md
  kdb records docs/billing.md --namespace staging`

const recordsShortDesc string = "List indexed sources and record ids"

func NewRecordsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "records [source_id]",
		Short: recordsShortDesc,
		Long:  recordsLongDesc,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, log, err := appflags.NewApp(cmd, config.IngestFlags)
			defer func() { _ = log.Sync() }()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			if err := a.Manager.EnsureSchema(ctx); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(args) == 0 {
				sources, err := a.Manager.Sources(ctx)
				if err != nil {
					return err
				}
				if len(sources) == 0 {
					fmt.Fprintln(out, "No sources indexed.")
					return nil
				}
				for _, s := range sources {
					fmt.Fprintln(out, s)
				}
				return nil
			}

			entries, err := a.Manager.Entries(ctx, args[0])
			if err != nil {
				return err
			}
			printEntries(out, args[0], entries)
			return nil
		},
	}

	appflags.Register(cmd, config.IngestFlags)

	return cmd
}

func printEntries(w io.Writer, sourceID string, entries []recordmanager.Entry) {
	if len(entries) == 0 {
		fmt.Fprintf(w, "No records for %s.\n", sourceID)
		return
	}

	fmt.Fprintf(w, "\n  %s %s\n\n", cliui.KeyStyle.Render(sourceID),
		cliui.DimStyle.Render(fmt.Sprintf("%d records", len(entries))))
	for _, e := range entries {
		status := cliui.ValueStyle.Render(e.Fingerprint)
		if e.Pending() {
			status = cliui.DimStyle.Render("pending")
		}
		fmt.Fprintf(w, "  %s  %s\n", e.Key, status)
	}
	fmt.Fprintln(w)
}
