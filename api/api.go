package api

import (
	"errors"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Server is the kdb API server.
type Server struct {
	config Config
	logger *zap.Logger
	app    *fiber.App
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// NewServer creates a new API server.
func NewServer(config Config, logger *zap.Logger) (*Server, error) {
	if config.Indexer == nil {
		return nil, errors.New("indexer is required")
	}
	if config.Searcher == nil {
		return nil, errors.New("searcher is required")
	}
	if config.Records == nil {
		return nil, errors.New("records are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		config: config,
		logger: logger,
		app:    app,
	}

	app.Get("/ping", s.handlePing)

	v1 := app.Group("/v1")
	v1.Get("/search", s.handleSearch)
	v1.Get("/sources", s.handleListSources)
	v1.Post("/documents", s.handleIngest)
	v1.Get("/documents/:source_id", s.handleGetDocument)
	v1.Delete("/documents/:source_id", s.handleDeleteDocument)
	v1.Post("/documents/:source_id/reconcile", s.handleReconcile)

	if config.MCP != nil {
		app.All("/mcp", adaptor.HTTPHandler(config.MCP))
	}

	return s, nil
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server",
		zap.String("listen", s.config.ListenAddr),
	)
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
