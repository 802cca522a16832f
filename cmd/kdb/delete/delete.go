// Package deletecmder provides the delete command, which removes every record
// of a source from the vector store and the record manager.
package deletecmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/kdb/cmd/kdb/appflags"
	"github.com/papercomputeco/kdb/pkg/cliui"
	"github.com/papercomputeco/kdb/pkg/config"
)

const deleteLongDesc string = `Delete every indexed chunk of one or more sources.

Records are removed from the vector store first, then forgotten by the
record manager. Deleting an unknown source is not an error.

Examples:
  kdb delete docs/billing.md
  kdb delete docs/a.md docs/b.md`

const deleteShortDesc string = "Delete the records of a source"

func NewDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <source_id>...",
		Short: deleteShortDesc,
		Long:  deleteLongDesc,
		Args:  cobra.MinimumNArgs(1),
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

			out := cmd.OutOrStdout()
			for _, sourceID := range args {
				n, err := a.Pipeline.Delete(ctx, sourceID)
				if err != nil {
					fmt.Fprintf(out, "  %s %s\n", cliui.FailMark, sourceID)
					return fmt.Errorf("deleting %s: %w", sourceID, err)
				}
				fmt.Fprintf(out, "  %s %s %s\n", cliui.SuccessMark, cliui.KeyStyle.Render(sourceID),
					cliui.DimStyle.Render(fmt.Sprintf("%d records deleted", n)))
			}
			return nil
		},
	}

	appflags.Register(cmd, config.IngestFlags)

	return cmd
}
