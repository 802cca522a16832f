package api

import (
	"errors"
	"net/url"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/papercomputeco/kdb/pkg/ingest"
	"github.com/papercomputeco/kdb/pkg/recordmanager"
	"github.com/papercomputeco/kdb/pkg/vector"
)

const defaultTopK = 5

// IngestRequest is the body of POST /v1/documents.
type IngestRequest struct {
	SourceID string            `json:"source_id"`
	Content  string            `json:"content"`
	Tags     map[string]string `json:"tags,omitempty"`
}

// SearchResponse is the body of GET /v1/search.
type SearchResponse struct {
	Query   string                `json:"query"`
	Results []vector.SearchResult `json:"results"`
	Count   int                   `json:"count"`
}

// RecordEntry is one record id of a source.
type RecordEntry struct {
	ID          string    `json:"id"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	Pending     bool      `json:"pending"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DocumentResponse is the body of GET /v1/documents/:source_id.
type DocumentResponse struct {
	SourceID string        `json:"source_id"`
	Records  []RecordEntry `json:"records"`
	Count    int           `json:"count"`
}

// DeleteResponse is the body of DELETE /v1/documents/:source_id.
type DeleteResponse struct {
	SourceID string `json:"source_id"`
	Deleted  int    `json:"deleted"`
}

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

// handleSearch handles GET /v1/search.
// Query parameters:
//   - query (required): the search query text
//   - top_k (optional, default 5): number of results to return
//   - source_id (optional): restrict results to one source
func (s *Server) handleSearch(c *fiber.Ctx) error {
	query := c.Query("query")
	if query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "query parameter is required"})
	}

	topK := defaultTopK
	if topKStr := c.Query("top_k"); topKStr != "" {
		parsed, err := strconv.Atoi(topKStr)
		if err != nil || parsed <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "top_k must be a positive integer"})
		}
		topK = parsed
	}

	results, err := s.config.Searcher.Search(c.UserContext(), query, topK, c.Query("source_id"))
	if err != nil {
		s.logger.Error("search failed", zap.String("query", query), zap.Error(err))
		return s.errorStatus(c, err)
	}

	return c.JSON(SearchResponse{Query: query, Results: results, Count: len(results)})
}

// handleListSources handles GET /v1/sources.
func (s *Server) handleListSources(c *fiber.Ctx) error {
	sources, err := s.config.Records.Sources(c.UserContext())
	if err != nil {
		return s.errorStatus(c, err)
	}
	if sources == nil {
		sources = []string{}
	}
	return c.JSON(map[string]any{
		"sources": sources,
		"count":   len(sources),
	})
}

// handleIngest handles POST /v1/documents. The report is returned for
// failed runs too, with a status derived from its last error kind.
func (s *Server) handleIngest(c *fiber.Ctx) error {
	var req IngestRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}
	if req.SourceID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "source_id is required"})
	}

	ctx := c.UserContext()
	if s.config.Documents != nil {
		if err := s.config.Documents.Save(ctx, req.SourceID, req.Content, req.Tags); err != nil {
			s.logger.Error("saving document", zap.String("source_id", req.SourceID), zap.Error(err))
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
		}
	}

	report, err := s.config.Indexer.Ingest(ctx, req.SourceID, req.Content)
	if report == nil {
		return s.errorStatus(c, err)
	}
	if report.Failed() {
		return c.Status(statusOf(err)).JSON(report)
	}

	return c.JSON(report)
}

// handleGetDocument handles GET /v1/documents/:source_id.
func (s *Server) handleGetDocument(c *fiber.Ctx) error {
	sourceID, err := sourceParam(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
	}

	entries, err := s.config.Records.Entries(c.UserContext(), sourceID)
	if err != nil {
		return s.errorStatus(c, err)
	}
	if len(entries) == 0 {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "source not found"})
	}

	records := make([]RecordEntry, len(entries))
	for i, e := range entries {
		records[i] = RecordEntry{
			ID:          e.Key,
			Fingerprint: e.Fingerprint,
			Pending:     e.Pending(),
			UpdatedAt:   e.UpdatedAt,
		}
	}

	return c.JSON(DocumentResponse{SourceID: sourceID, Records: records, Count: len(records)})
}

// handleDeleteDocument handles DELETE /v1/documents/:source_id.
func (s *Server) handleDeleteDocument(c *fiber.Ctx) error {
	sourceID, err := sourceParam(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
	}

	deleted, err := s.config.Indexer.Delete(c.UserContext(), sourceID)
	if err != nil {
		s.logger.Error("delete failed", zap.String("source_id", sourceID), zap.Error(err))
		return s.errorStatus(c, err)
	}

	return c.JSON(DeleteResponse{SourceID: sourceID, Deleted: deleted})
}

// handleReconcile handles POST /v1/documents/:source_id/reconcile?repair=true.
func (s *Server) handleReconcile(c *fiber.Ctx) error {
	sourceID, err := sourceParam(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
	}

	report, err := s.config.Records.Reconcile(c.UserContext(), sourceID, c.QueryBool("repair"))
	switch {
	case report != nil && errors.Is(err, recordmanager.ErrStateInconsistency):
		return c.Status(fiber.StatusConflict).JSON(report)
	case err != nil:
		return s.errorStatus(c, err)
	}

	return c.JSON(report)
}

// sourceParam returns the unescaped :source_id. Source ids are usually
// paths, so clients send them percent-encoded.
func sourceParam(c *fiber.Ctx) (string, error) {
	sourceID, err := url.PathUnescape(c.Params("source_id"))
	if err != nil {
		return "", errors.New("invalid source_id")
	}
	if sourceID == "" {
		return "", errors.New("source_id is required")
	}
	return sourceID, nil
}

func (s *Server) errorStatus(c *fiber.Ctx, err error) error {
	if err == nil {
		err = errors.New("unknown error")
	}
	return c.Status(statusOf(err)).JSON(ErrorResponse{Error: err.Error()})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, ingest.ErrNotReady):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, recordmanager.ErrEmptySourceID):
		return fiber.StatusBadRequest
	}

	switch ingest.KindOf(err) {
	case ingest.ErrorKindInvalidInput:
		return fiber.StatusBadRequest
	case ingest.ErrorKindEnrichment:
		return fiber.StatusBadGateway
	case ingest.ErrorKindStoreUnavailable:
		return fiber.StatusServiceUnavailable
	case ingest.ErrorKindSchemaConflict, ingest.ErrorKindStateInconsistency:
		return fiber.StatusConflict
	case ingest.ErrorKindCancelled:
		return fiber.StatusRequestTimeout
	default:
		return fiber.StatusInternalServerError
	}
}
