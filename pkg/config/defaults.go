package config

const (
	defaultOllamaTarget = "http://localhost:11434"

	defaultVectorProvider       = "sqlite"
	defaultVectorName           = "kdb_chunks"
	defaultVectorSize           = 768
	defaultVectorContentColumn  = "document"
	defaultVectorIDColumn       = "id"
	defaultVectorMetadataColumn = "metadata"

	defaultRecordManagerProvider  = "sqlite"
	defaultRecordManagerNamespace = "kdb_records"

	defaultEmbeddingProvider = "ollama"
	defaultEmbeddingModel    = "nomic-embed-text"

	defaultLLMProvider = "ollama"
	defaultLLMModel    = "llama3.2"

	defaultSplitterStrategy  = "markdown"
	defaultSplitterChunkSize = 1000

	defaultIngestConcurrency     = 4
	defaultIngestMaxRetries      = 1
	defaultIngestRetryDelay      = "500ms"
	defaultIngestFailurePolicy   = "skip"
	defaultIngestMode            = "skip-unchanged"
	defaultIngestStoreRetries    = 3
	defaultIngestStoreRetryDelay = "500ms"

	defaultAPIListen = ":8081"

	defaultEventsProvider = "none"
	defaultEventsTopic    = "kdb.events"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		VectorStore: VectorStoreConfig{
			Provider:       defaultVectorProvider,
			Name:           defaultVectorName,
			VectorSize:     defaultVectorSize,
			ContentColumn:  defaultVectorContentColumn,
			IDColumn:       defaultVectorIDColumn,
			MetadataColumn: defaultVectorMetadataColumn,
		},
		RecordManager: RecordManagerConfig{
			Provider:  defaultRecordManagerProvider,
			Namespace: defaultRecordManagerNamespace,
		},
		Embedding: EmbeddingConfig{
			Provider: defaultEmbeddingProvider,
			Target:   defaultOllamaTarget,
			Model:    defaultEmbeddingModel,
		},
		LLM: LLMConfig{
			Provider: defaultLLMProvider,
			Target:   defaultOllamaTarget,
			Model:    defaultLLMModel,
		},
		Splitter: SplitterConfig{
			Strategy:  defaultSplitterStrategy,
			ChunkSize: defaultSplitterChunkSize,
		},
		Ingest: IngestConfig{
			Concurrency:     defaultIngestConcurrency,
			MaxRetries:      defaultIngestMaxRetries,
			RetryDelay:      defaultIngestRetryDelay,
			FailurePolicy:   defaultIngestFailurePolicy,
			Mode:            defaultIngestMode,
			EmbedContext:    true,
			StoreRetries:    defaultIngestStoreRetries,
			StoreRetryDelay: defaultIngestStoreRetryDelay,
		},
		API: APIConfig{
			Listen: defaultAPIListen,
		},
		Events: EventsConfig{
			Provider: defaultEventsProvider,
			Topic:    defaultEventsTopic,
		},
	}
}
