package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/papercomputeco/kdb/pkg/vector"
)

var (
	searchToolName    = "search"
	searchDescription = "Search the knowledge base using semantic search. Returns the most relevant document chunks for the query, each with the generated context that situates it within its source document."

	listSourcesToolName    = "list_sources"
	listSourcesDescription = "List the source ids of every indexed document."
)

// SearchInput represents the input arguments for the search tool.
type SearchInput struct {
	Query    string `json:"query" jsonschema:"the search query text"`
	TopK     int    `json:"top_k,omitempty" jsonschema:"number of results to return (default: 5)"`
	SourceID string `json:"source_id,omitempty" jsonschema:"restrict results to one source document"`
}

// SearchResult represents a single search result.
type SearchResult struct {
	ID            string  `json:"id"`
	SourceID      string  `json:"source_id"`
	SequenceIndex int     `json:"sequence_index"`
	Score         float32 `json:"score"`
	Context       string  `json:"context"`
	Content       string  `json:"content"`
}

// SearchOutput represents the output of the search tool.
type SearchOutput struct {
	Query   string         `json:"query"`
	Results []SearchResult `json:"results"`
	Count   int            `json:"count"`
}

// ListSourcesOutput represents the output of the list_sources tool.
type ListSourcesOutput struct {
	Sources []string `json:"sources"`
}

// handleSearch processes a search request.
func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	logger := s.config.Logger

	topK := input.TopK
	if topK <= 0 {
		topK = 5
	}

	logger.Debug("MCP search request",
		zap.String("query", input.Query),
		zap.Int("topK", topK),
		zap.String("source_id", input.SourceID),
	)

	if input.Query == "" {
		return errorResult("query is required"), SearchOutput{}, nil
	}

	results, err := s.config.Searcher.Search(ctx, input.Query, topK, input.SourceID)
	if err != nil {
		logger.Error("failed to search", zap.Error(err))
		return errorResult(fmt.Sprintf("Failed to search: %v", err)), SearchOutput{}, nil
	}

	searchResults := make([]SearchResult, 0, len(results))
	for _, result := range results {
		searchResults = append(searchResults, buildSearchResult(result))
	}

	output := SearchOutput{
		Query:   input.Query,
		Results: searchResults,
		Count:   len(searchResults),
	}

	// Tools returning structured content also return it serialized in a
	// TextContent block for older clients.
	jsonBytes, err := json.Marshal(output)
	if err != nil {
		logger.Error("failed to marshal search output", zap.Error(err))
		return errorResult(fmt.Sprintf("Failed to serialize results: %v", err)), SearchOutput{}, nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(jsonBytes)},
		},
	}, output, nil
}

func (s *Server) handleListSources(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, ListSourcesOutput, error) {
	sources, err := s.config.Sources.Sources(ctx)
	if err != nil {
		s.config.Logger.Error("failed to list sources", zap.Error(err))
		return errorResult(fmt.Sprintf("Failed to list sources: %v", err)), ListSourcesOutput{}, nil
	}
	if sources == nil {
		sources = []string{}
	}

	output := ListSourcesOutput{Sources: sources}
	jsonBytes, err := json.Marshal(output)
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to serialize sources: %v", err)), ListSourcesOutput{}, nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(jsonBytes)},
		},
	}, output, nil
}

// buildSearchResult flattens a vector search result for tool output.
func buildSearchResult(result vector.SearchResult) SearchResult {
	seq, _ := strconv.Atoi(result.Metadata[vector.MetaSequenceIndex])
	return SearchResult{
		ID:            result.ID,
		SourceID:      result.SourceID(),
		SequenceIndex: seq,
		Score:         result.Score,
		Context:       result.Metadata[vector.MetaContext],
		Content:       result.Content,
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: msg},
		},
	}
}
