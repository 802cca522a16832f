// Package searchcmder provides the search command for semantic search over
// indexed chunks.
package searchcmder

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/papercomputeco/kdb/cmd/kdb/appflags"
	"github.com/papercomputeco/kdb/pkg/cliui"
	"github.com/papercomputeco/kdb/pkg/config"
	"github.com/papercomputeco/kdb/pkg/vector"
)

type searchCommander struct {
	topK     int
	sourceID string
	json     bool
}

const searchLongDesc string = `Search indexed chunks.

The query is embedded with the configured embedding model and compared with
every stored chunk. Results show the generated context and the chunk text.

Output is rendered markdown on a terminal, plain markdown when piped, and
JSON with --json.

Examples:
  kdb search "how are refunds issued"
  kdb search "seat pricing" --source docs/billing.md --top-k 3
  kdb search "seat pricing" --json | jq '.[0].content'`

const searchShortDesc string = "Search indexed chunks"

func NewSearchCmd() *cobra.Command {
	cmder := &searchCommander{}

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: searchShortDesc,
		Long:  searchLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmder.topK <= 0 {
				return fmt.Errorf("--top-k must be positive, got %d", cmder.topK)
			}

			a, log, err := appflags.NewApp(cmd, config.IngestFlags)
			defer func() { _ = log.Sync() }()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Store.Configure(cmd.Context()); err != nil {
				return err
			}

			results, err := a.Search(cmd.Context(), args[0], cmder.topK, cmder.sourceID)
			if err != nil {
				return fmt.Errorf("searching: %w", err)
			}
			return cmder.print(cmd.OutOrStdout(), args[0], results)
		},
	}

	cmd.Flags().IntVarP(&cmder.topK, "top-k", "k", 5, "Number of results to return")
	cmd.Flags().StringVarP(&cmder.sourceID, "source", "s", "", "Restrict results to one source id")
	cmd.Flags().BoolVar(&cmder.json, "json", false, "Output results as JSON")
	appflags.Register(cmd, config.IngestFlags)

	return cmd
}

func (c *searchCommander) print(w io.Writer, query string, results []vector.SearchResult) error {
	if c.json {
		if results == nil {
			results = []vector.SearchResult{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	md := cliui.SearchMarkdown(query, results)
	if !isTerminal(w) {
		_, err := io.WriteString(w, md)
		return err
	}

	rendered, err := cliui.RenderMarkdown(md)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, rendered)
	return err
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
