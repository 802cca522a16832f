// Package api provides the HTTP API for ingesting, searching and managing
// indexed documents.
package api

import (
	"context"
	"net/http"

	"github.com/papercomputeco/kdb/pkg/ingest"
	"github.com/papercomputeco/kdb/pkg/recordmanager"
	"github.com/papercomputeco/kdb/pkg/vector"
)

// Indexer ingests and removes documents.
type Indexer interface {
	Ingest(ctx context.Context, sourceID, markdown string) (*ingest.Report, error)
	Delete(ctx context.Context, sourceID string) (int, error)
}

// Searcher answers similarity queries, optionally scoped to one source.
type Searcher interface {
	Search(ctx context.Context, query string, topK int, sourceID string) ([]vector.SearchResult, error)
}

// Records exposes record manager state.
type Records interface {
	Entries(ctx context.Context, sourceID string) ([]recordmanager.Entry, error)
	Sources(ctx context.Context) ([]string, error)
	Reconcile(ctx context.Context, sourceID string, repair bool) (*recordmanager.ReconcileReport, error)
}

// DocumentSaver persists posted documents before they are ingested.
type DocumentSaver interface {
	Save(ctx context.Context, key, content string, tags map[string]string) error
}

// Config is the API server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8081")
	ListenAddr string

	Indexer  Indexer
	Searcher Searcher
	Records  Records

	// Documents, when set, receives every posted document.
	Documents DocumentSaver

	// MCP, when set, is mounted at /mcp.
	MCP http.Handler
}
