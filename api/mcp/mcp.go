// Package mcp provides an MCP (Model Context Protocol) server exposing kdb
// search to agents.
package mcp

import (
	"context"
	"errors"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/papercomputeco/kdb/pkg/utils"
	"github.com/papercomputeco/kdb/pkg/vector"
)

// Searcher answers similarity queries, optionally scoped to one source.
type Searcher interface {
	Search(ctx context.Context, query string, topK int, sourceID string) ([]vector.SearchResult, error)
}

// SourceLister lists indexed source ids.
type SourceLister interface {
	Sources(ctx context.Context) ([]string, error)
}

type Config struct {
	// Searcher runs semantic search over indexed chunks
	Searcher Searcher

	// Sources enables the list_sources tool when set
	Sources SourceLister

	// Logger is the configured zap logger
	Logger *zap.Logger
}

type Server struct {
	config    Config
	mcpServer *mcp.Server
	handler   *mcp.StreamableHTTPHandler
}

// NewServer creates a new MCP server with the search tool.
func NewServer(c Config) (*Server, error) {
	if c.Searcher == nil {
		return nil, errors.New("searcher is required")
	}
	if c.Logger == nil {
		return nil, errors.New("logger is required")
	}

	s := &Server{
		config: c,
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "kdb",
			Version: utils.Version,
		},
		&mcp.ServerOptions{},
	)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        searchToolName,
		Description: searchDescription,
	}, s.handleSearch)

	if c.Sources != nil {
		mcp.AddTool(mcpServer, &mcp.Tool{
			Name:        listSourcesToolName,
			Description: listSourcesDescription,
		}, s.handleListSources)
	}

	s.mcpServer = mcpServer

	// Create a streamable HTTP net/http handler for stateless operations
	s.handler = mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server {
			return mcpServer
		},
		&mcp.StreamableHTTPOptions{
			Stateless: true,
		},
	)

	return s, nil
}

// Handler returns the HTTP handler for the MCP server.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// MCPServer returns the underlying server, for in-process transports.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcpServer
}
