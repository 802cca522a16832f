// Package kdbcmder
package kdbcmder

import (
	"os"

	"github.com/spf13/cobra"

	configcmder "github.com/papercomputeco/kdb/cmd/kdb/config"
	deletecmder "github.com/papercomputeco/kdb/cmd/kdb/delete"
	ingestcmder "github.com/papercomputeco/kdb/cmd/kdb/ingest"
	initcmder "github.com/papercomputeco/kdb/cmd/kdb/init"
	provisioncmder "github.com/papercomputeco/kdb/cmd/kdb/provision"
	reconcilecmder "github.com/papercomputeco/kdb/cmd/kdb/reconcile"
	recordscmder "github.com/papercomputeco/kdb/cmd/kdb/records"
	searchcmder "github.com/papercomputeco/kdb/cmd/kdb/search"
	servecmder "github.com/papercomputeco/kdb/cmd/kdb/serve"
	versioncmder "github.com/papercomputeco/kdb/cmd/kdb/version"
	watchcmder "github.com/papercomputeco/kdb/cmd/kdb/watch"
	"github.com/papercomputeco/kdb/pkg/cliui"
)

const kdbLongDesc string = `kdb turns markdown documents into searchable, context-enriched chunks.

Each chunk is paired with a short LLM-generated context that situates it in
its document, embedded, and written to a vector store. A record manager
remembers what was written so re-indexing only touches what changed.

Get started:
  kdb init                 Create .kdb/config.toml
  kdb provision            Create the vector store and state schema
  kdb ingest docs/         Index a directory of markdown files
  kdb search "question"    Search indexed chunks
  kdb watch docs/          Keep a directory indexed
  kdb serve                Run the HTTP API and MCP server`

const kdbShortDesc string = "kdb - Contextual Knowledge Indexing"

func NewKdbCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "kdb",
		Short:        kdbShortDesc,
		Long:         kdbLongDesc,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			if noColor, _ := cmd.Flags().GetBool("no-color"); noColor || os.Getenv("NO_COLOR") != "" {
				cliui.DisableColor()
			}
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override path to .kdb/ config directory")
	cmd.PersistentFlags().Bool("no-color", false, "Disable colored output")

	cmd.AddCommand(initcmder.NewInitCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(provisioncmder.NewProvisionCmd())
	cmd.AddCommand(ingestcmder.NewIngestCmd())
	cmd.AddCommand(searchcmder.NewSearchCmd())
	cmd.AddCommand(recordscmder.NewRecordsCmd())
	cmd.AddCommand(deletecmder.NewDeleteCmd())
	cmd.AddCommand(reconcilecmder.NewReconcileCmd())
	cmd.AddCommand(watchcmder.NewWatchCmd())
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
