// Package app assembles a kdb pipeline from configuration: the vector store
// driver, the record manager state, the embedder, the context LLM and the
// event publisher. One App is built per command and passed explicitly.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/kdb/pkg/chunk"
	"github.com/papercomputeco/kdb/pkg/config"
	"github.com/papercomputeco/kdb/pkg/dotdir"
	"github.com/papercomputeco/kdb/pkg/embeddings"
	embeddingutils "github.com/papercomputeco/kdb/pkg/embeddings/utils"
	"github.com/papercomputeco/kdb/pkg/enrich"
	"github.com/papercomputeco/kdb/pkg/eventstream"
	"github.com/papercomputeco/kdb/pkg/eventstream/kafka"
	"github.com/papercomputeco/kdb/pkg/eventstream/nop"
	"github.com/papercomputeco/kdb/pkg/ingest"
	"github.com/papercomputeco/kdb/pkg/llm"
	"github.com/papercomputeco/kdb/pkg/llm/provider"
	"github.com/papercomputeco/kdb/pkg/recordmanager"
	stateutils "github.com/papercomputeco/kdb/pkg/recordmanager/utils"
	"github.com/papercomputeco/kdb/pkg/source/local"
	"github.com/papercomputeco/kdb/pkg/vector"
	vectorutils "github.com/papercomputeco/kdb/pkg/vector/utils"
)

const (
	vectorDBFile = "kdb.sqlite"
	stateDBFile  = "kdb_state.sqlite"
)

// Options configures New. Any collaborator left nil is built from Config.
type Options struct {
	Config *config.Config

	// ConfigDir overrides .kdb/ resolution for default SQLite paths.
	ConfigDir string

	Driver    vector.Driver
	State     recordmanager.State
	Embedder  embeddings.Embedder
	Completer llm.Completer
	Publisher eventstream.Publisher

	Logger *zap.Logger
}

// App holds the wired components of one kdb process.
type App struct {
	Config    *config.Config
	Store     *vector.Store
	Manager   *recordmanager.Manager
	Pipeline  *ingest.Pipeline
	Publisher eventstream.Publisher

	// Documents is set when documents.root is configured.
	Documents *local.Store

	logger  *zap.Logger
	state   recordmanager.State
	closers []func() error
}

// New builds an App. Nothing touches the network until EnsureReady.
func New(o Options) (*App, error) {
	if o.Config == nil {
		return nil, errors.New("config is required")
	}
	cfg := o.Config
	logger := o.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &App{Config: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	mode, err := recordmanager.ParseMode(cfg.Ingest.Mode)
	if err != nil {
		return nil, err
	}
	policy, err := ingest.ParseFailurePolicy(cfg.Ingest.FailurePolicy)
	if err != nil {
		return nil, err
	}
	retryDelay, err := parseDuration("ingest.retry_delay", cfg.Ingest.RetryDelay)
	if err != nil {
		return nil, err
	}
	storeRetryDelay, err := parseDuration("ingest.store_retry_delay", cfg.Ingest.StoreRetryDelay)
	if err != nil {
		return nil, err
	}

	driver := o.Driver
	if driver == nil {
		driver, err = a.newDriver(o.ConfigDir)
		if err != nil {
			return nil, err
		}
	}
	if cfg.Ingest.StoreRetries > 0 {
		driver = vector.NewRetryDriver(driver, int(cfg.Ingest.StoreRetries), storeRetryDelay, logger)
	}

	embedder := o.Embedder
	if embedder == nil {
		embedder, err = embeddingutils.NewEmbedder(&embeddingutils.NewEmbedderOpts{
			ProviderType: cfg.Embedding.Provider,
			TargetURL:    cfg.Embedding.Target,
			Model:        cfg.Embedding.Model,
			APIKey:       cfg.Embedding.APIKey,
		})
		if err != nil {
			_ = driver.Close()
			return nil, fmt.Errorf("creating embedder: %w", err)
		}
	}

	a.Store = vector.NewStore(driver, embedder, vector.Layout{
		Name:           cfg.VectorStore.Name,
		VectorSize:     int(cfg.VectorStore.VectorSize),
		ContentColumn:  cfg.VectorStore.ContentColumn,
		IDColumn:       cfg.VectorStore.IDColumn,
		MetadataColumn: cfg.VectorStore.MetadataColumn,
		HNSW:           cfg.VectorStore.HNSW,
	},
		vector.WithEmbedContext(cfg.Ingest.EmbedContext),
		vector.WithRetry(int(cfg.Ingest.StoreRetries), storeRetryDelay),
		vector.WithLogger(logger),
	)
	a.closers = append(a.closers, a.Store.Close)

	state := o.State
	if state == nil {
		state, err = a.newState(o.ConfigDir)
		if err != nil {
			return nil, err
		}
	}
	a.state = state
	a.closers = append(a.closers, state.Close)

	a.Manager = recordmanager.NewManager(state, a.Store,
		recordmanager.WithNamespace(cfg.RecordManager.Namespace),
		recordmanager.WithMode(mode),
		recordmanager.WithLogger(logger),
	)

	completer := o.Completer
	if completer == nil {
		completer, err = provider.NewCompleter(&provider.NewCompleterOpts{
			ProviderType: cfg.LLM.Provider,
			TargetURL:    cfg.LLM.Target,
			Model:        cfg.LLM.Model,
			APIKey:       cfg.LLM.APIKey,
		})
		if err != nil {
			return nil, fmt.Errorf("creating context llm: %w", err)
		}
	}

	enricherOpts := []enrich.Option{
		enrich.WithAdditionalInstructions(cfg.Ingest.AdditionalInstructions),
		enrich.WithTemperature(cfg.LLM.Temperature),
		enrich.WithLogger(logger),
	}
	if cfg.LLM.ContextModelVersion != "" {
		enricherOpts = append(enricherOpts, enrich.WithContextModelVersion(cfg.LLM.ContextModelVersion))
	}
	enricher, err := enrich.New(completer, enricherOpts...)
	if err != nil {
		return nil, err
	}

	splitter, err := chunk.NewSplitter(
		chunk.WithStrategy(cfg.Splitter.Strategy),
		chunk.WithChunkSize(int(cfg.Splitter.ChunkSize)),
		chunk.WithChunkOverlap(int(cfg.Splitter.ChunkOverlap)),
	)
	if err != nil {
		return nil, err
	}

	a.Publisher = o.Publisher
	if a.Publisher == nil {
		a.Publisher, err = NewPublisher(cfg.Events, logger)
		if err != nil {
			return nil, err
		}
	}
	a.closers = append(a.closers, a.Publisher.Close)

	a.Pipeline, err = ingest.New(&ingest.Config{
		Splitter:      splitter,
		Enricher:      enricher,
		Store:         a.Store,
		Manager:       a.Manager,
		Publisher:     a.Publisher,
		Concurrency:   int(cfg.Ingest.Concurrency),
		MaxRetries:    int(cfg.Ingest.MaxRetries),
		RetryDelay:    retryDelay,
		FailurePolicy: policy,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error { a.Pipeline.Close(); return nil })

	if cfg.Documents.Root != "" {
		a.Documents, err = local.NewStore(cfg.Documents.Root)
		if err != nil {
			return nil, err
		}
	}

	ok = true
	return a, nil
}

// NewPublisher returns the event publisher for events.provider.
func NewPublisher(c config.EventsConfig, logger *zap.Logger) (eventstream.Publisher, error) {
	switch strings.ToLower(c.Provider) {
	case "", "none":
		return nop.NewPublisher(), nil
	case "kafka":
		p, err := kafka.NewPublisher(kafka.Config{Brokers: c.Brokers, Topic: c.Topic}, logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unsupported events provider: %s", c.Provider)
	}
}

func (a *App) newDriver(configDir string) (vector.Driver, error) {
	target := a.Config.VectorStore.Target
	if strings.EqualFold(a.Config.VectorStore.Provider, vectorutils.SQLite) {
		var err error
		target, err = sqlitePath(configDir, target, vectorDBFile)
		if err != nil {
			return nil, err
		}
	}

	driver, err := vectorutils.NewVectorDriver(&vectorutils.NewVectorDriverOpts{
		ProviderType: a.Config.VectorStore.Provider,
		TargetURL:    target,
		APIKey:       a.Config.VectorStore.APIKey,
		Tenant:       a.Config.VectorStore.Tenant,
		Database:     a.Config.VectorStore.Database,
		Logger:       a.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating vector store driver: %w", err)
	}
	return driver, nil
}

func (a *App) newState(configDir string) (recordmanager.State, error) {
	rm := a.Config.RecordManager
	target := rm.Target

	switch strings.ToLower(rm.Provider) {
	case stateutils.SQLite:
		var err error
		target, err = sqlitePath(configDir, target, stateDBFile)
		if err != nil {
			return nil, err
		}
	case stateutils.Postgres:
		// Share the pgvector database unless told otherwise.
		if target == "" && strings.EqualFold(a.Config.VectorStore.Provider, vectorutils.PGVector) {
			target = a.Config.VectorStore.Target
		}
	}

	state, err := stateutils.NewState(&stateutils.NewStateOpts{
		ProviderType: rm.Provider,
		TargetURL:    target,
	})
	if err != nil {
		return nil, fmt.Errorf("creating record manager state: %w", err)
	}
	return state, nil
}

func sqlitePath(configDir, target, fallback string) (string, error) {
	if target == "" {
		target = fallback
	}
	return dotdir.NewManager().File(configDir, target)
}

func parseDuration(key, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return d, nil
}

// EnsureReady provisions the vector store and the record manager schema.
func (a *App) EnsureReady(ctx context.Context) error {
	return a.Pipeline.EnsureReady(ctx)
}

// Search embeds query and returns the topK most similar chunks, optionally
// restricted to one source.
func (a *App) Search(ctx context.Context, query string, topK int, sourceID string) ([]vector.SearchResult, error) {
	var filter vector.Filter
	if sourceID != "" {
		filter = vector.SourceFilter(sourceID)
	}
	return a.Store.Search(ctx, query, topK, filter)
}

// Close releases every component in reverse construction order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
