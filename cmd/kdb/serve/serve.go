// Package servecmder provides the serve command, which runs the HTTP API with
// the MCP tool server mounted at /mcp.
package servecmder

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/papercomputeco/kdb/api"
	"github.com/papercomputeco/kdb/api/mcp"
	"github.com/papercomputeco/kdb/cmd/kdb/appflags"
	"github.com/papercomputeco/kdb/pkg/config"
)

// serveFlags are the ingest flags plus the listen address.
var serveFlags = append([]string{config.FlagAPIListen}, config.IngestFlags...)

const serveLongDesc string = `Run the kdb API server.

Endpoints:
  GET    /ping
  GET    /v1/search?query=...&top_k=5&source_id=...
  GET    /v1/sources
  POST   /v1/documents                           {"source_id", "content", "tags"}
  GET    /v1/documents/:source_id
  DELETE /v1/documents/:source_id
  POST   /v1/documents/:source_id/reconcile?repair=true
  *      /mcp                                    MCP streamable HTTP (search, list_sources)

Source ids in paths are percent-encoded. When documents.root is configured,
documents posted to the API are also saved below it.

Examples:
  kdb serve
  kdb serve --listen :9000 --vector-store-provider qdrant --vector-store-target localhost:6334`

const serveShortDesc string = "Run the kdb API and MCP server"

func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, log, err := appflags.NewApp(cmd, serveFlags)
			defer func() { _ = log.Sync() }()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := a.EnsureReady(ctx); err != nil {
				return err
			}

			mcpServer, err := mcp.NewServer(mcp.Config{
				Searcher: a,
				Sources:  a.Manager,
				Logger:   log,
			})
			if err != nil {
				return fmt.Errorf("creating MCP server: %w", err)
			}

			apiConfig := api.Config{
				ListenAddr: a.Config.API.Listen,
				Indexer:    a.Pipeline,
				Searcher:   a,
				Records:    a.Manager,
				MCP:        mcpServer.Handler(),
			}
			if a.Documents != nil {
				apiConfig.Documents = a.Documents
			}

			server, err := api.NewServer(apiConfig, log)
			if err != nil {
				return fmt.Errorf("creating API server: %w", err)
			}

			errChan := make(chan error, 1)
			go func() {
				errChan <- server.Run()
			}()

			select {
			case err := <-errChan:
				return err
			case <-ctx.Done():
				log.Info("shutting down", zap.String("listen", apiConfig.ListenAddr))
				return server.Shutdown()
			}
		},
	}

	appflags.Register(cmd, serveFlags)

	return cmd
}
