package vector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/kdb/pkg/embeddings"
	"github.com/papercomputeco/kdb/pkg/utils"
)

// DefaultTopK is used when a search asks for a non-positive number of results.
const DefaultTopK = 5

// Store is the vector store adapter used by the rest of kdb. It pairs a
// Driver with the embedder that turns text into vectors and enforces the
// configured layout.
type Store struct {
	driver       Driver
	embedder     embeddings.Embedder
	layout       Layout
	embedContext bool
	logger       *zap.Logger

	retryAttempts int
	retryDelay    time.Duration

	mu         sync.RWMutex
	configured bool
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithEmbedContext embeds the generated context together with the chunk
// content instead of the content alone.
func WithEmbedContext(enabled bool) StoreOption {
	return func(s *Store) {
		s.embedContext = enabled
	}
}

// WithLogger sets the store logger.
func WithLogger(logger *zap.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithRetry retries embedding calls that fail with ErrStoreUnavailable,
// using the same backoff as RetryDriver. Zero attempts disables it.
func WithRetry(attempts int, delay time.Duration) StoreOption {
	return func(s *Store) {
		s.retryAttempts = attempts
		s.retryDelay = delay
	}
}

// NewStore creates a store over driver. Configure must be called before any
// other operation.
func NewStore(driver Driver, embedder embeddings.Embedder, layout Layout, opts ...StoreOption) *Store {
	s := &Store{
		driver:   driver,
		embedder: embedder,
		layout:   layout.WithDefaults(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Layout returns the store layout with defaults applied.
func (s *Store) Layout() Layout {
	return s.layout
}

// Configure creates the backing schema if needed. It is idempotent.
func (s *Store) Configure(ctx context.Context) error {
	if err := s.layout.Validate(); err != nil {
		return err
	}
	if err := s.driver.Configure(ctx, s.layout); err != nil {
		return err
	}

	s.mu.Lock()
	s.configured = true
	s.mu.Unlock()

	s.logger.Debug("vector store configured",
		zap.String("name", s.layout.Name),
		zap.Int("vector_size", s.layout.VectorSize),
	)
	return nil
}

// Configured reports whether Configure has succeeded.
func (s *Store) Configured() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.configured
}

// EmbeddingText returns the text embedded for r.
func (s *Store) EmbeddingText(r Record) string {
	if s.embedContext {
		if c := r.Metadata[MetaContext]; c != "" {
			return c + "\n\n" + r.Content
		}
	}
	return r.Content
}

// Embed embeds text and checks the result against the layout vector size.
// Embedding failures are reported as ErrStoreUnavailable.
func (s *Store) Embed(ctx context.Context, text string) ([]float32, error) {
	if s.retryAttempts <= 0 {
		return s.embed(ctx, text)
	}

	var vec []float32
	attempt := 0
	err := utils.RetryWithBackoff(ctx, s.retryAttempts, s.retryDelay, isUnavailable, func() error {
		attempt++
		var err error
		vec, err = s.embed(ctx, text)
		if err != nil && isUnavailable(err) && attempt < s.retryAttempts {
			s.logger.Warn("embedding failed, retrying",
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return vec, nil
}

func (s *Store) embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if len(vec) != s.layout.VectorSize {
		return nil, fmt.Errorf("%w: embedding has %d dimensions, store expects %d",
			ErrSchemaConflict, len(vec), s.layout.VectorSize)
	}
	return vec, nil
}

// Upsert writes records, embedding any that arrive without an embedding.
func (s *Store) Upsert(ctx context.Context, records []Record) (int, error) {
	if !s.Configured() {
		return 0, ErrNotConfigured
	}
	if len(records) == 0 {
		return 0, nil
	}

	prepared := make([]Record, len(records))
	for i, r := range records {
		if r.ID == "" {
			return 0, fmt.Errorf("record at position %d has no id", i)
		}
		if len(r.Embedding) == 0 {
			vec, err := s.Embed(ctx, s.EmbeddingText(r))
			if err != nil {
				return 0, fmt.Errorf("embedding record %s: %w", r.ID, err)
			}
			r.Embedding = vec
		} else if len(r.Embedding) != s.layout.VectorSize {
			return 0, fmt.Errorf("%w: record %s has %d dimensions, store expects %d",
				ErrSchemaConflict, r.ID, len(r.Embedding), s.layout.VectorSize)
		}
		prepared[i] = r
	}

	n, err := s.driver.Upsert(ctx, prepared)
	if err != nil {
		return n, err
	}

	s.logger.Debug("upserted records", zap.Int("count", n))
	return n, nil
}

// Search embeds query and returns the topK most similar records matching
// filter.
func (s *Store) Search(ctx context.Context, query string, topK int, filter Filter) ([]SearchResult, error) {
	if !s.Configured() {
		return nil, ErrNotConfigured
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	vec, err := s.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	results, err := s.driver.Query(ctx, vec, topK, filter)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("searched vector store",
		zap.Int("top_k", topK),
		zap.Int("results", len(results)),
	)
	return results, nil
}

// DeleteByFilter removes all records matching filter.
func (s *Store) DeleteByFilter(ctx context.Context, filter Filter) (int, error) {
	if !s.Configured() {
		return 0, ErrNotConfigured
	}
	if filter.IsEmpty() {
		return 0, ErrEmptyFilter
	}
	return s.driver.DeleteByFilter(ctx, filter)
}

// List returns the records matching filter.
func (s *Store) List(ctx context.Context, filter Filter) ([]Record, error) {
	if !s.Configured() {
		return nil, ErrNotConfigured
	}
	return s.driver.List(ctx, filter)
}

// Close closes the driver and the embedder.
func (s *Store) Close() error {
	return errors.Join(s.driver.Close(), s.embedder.Close())
}
