package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/papercomputeco/kdb/pkg/dotdir"
)

// EnvPrefix is prepended to every environment variable viper reads.
const EnvPrefix = "KDB"

// InitViper creates and returns a configured *viper.Viper.
// It sets defaults from NewDefaultConfig(), reads the config.toml file
// (if found via dotdir resolution), and binds environment variables
// with the KDB_ prefix.
//
// Config precedence (highest to lowest):
//  1. CLI flags (once bound via BindRegisteredFlags)
//  2. Environment variables (KDB_VECTOR_STORE_PROVIDER, KDB_LLM_MODEL, etc.)
//  3. config.toml file values
//  4. Defaults from NewDefaultConfig()
func InitViper(configDir string) (*viper.Viper, error) {
	v := viper.New()

	setViperDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("toml")

	ddm := dotdir.NewManager()
	target, err := ddm.Target(configDir)
	if err != nil {
		return nil, fmt.Errorf("resolving config dir: %w", err)
	}

	if target != "" {
		v.AddConfigPath(target)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found errors are fine, defaults will apply.
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

// FromViper materializes the effective Config from v after flags, env and the
// config file have been layered.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Version: v.GetInt("version"),
		VectorStore: VectorStoreConfig{
			Provider:       v.GetString("vector_store.provider"),
			Target:         v.GetString("vector_store.target"),
			Name:           v.GetString("vector_store.name"),
			VectorSize:     v.GetUint("vector_store.vector_size"),
			ContentColumn:  v.GetString("vector_store.content_column"),
			IDColumn:       v.GetString("vector_store.id_column"),
			MetadataColumn: v.GetString("vector_store.metadata_column"),
			APIKey:         v.GetString("vector_store.api_key"),
			HNSW:           v.GetBool("vector_store.hnsw"),
			Tenant:         v.GetString("vector_store.tenant"),
			Database:       v.GetString("vector_store.database"),
		},
		RecordManager: RecordManagerConfig{
			Provider:  v.GetString("record_manager.provider"),
			Target:    v.GetString("record_manager.target"),
			Namespace: v.GetString("record_manager.namespace"),
		},
		Embedding: EmbeddingConfig{
			Provider: v.GetString("embedding.provider"),
			Target:   v.GetString("embedding.target"),
			Model:    v.GetString("embedding.model"),
			APIKey:   v.GetString("embedding.api_key"),
		},
		LLM: LLMConfig{
			Provider:            v.GetString("llm.provider"),
			Target:              v.GetString("llm.target"),
			Model:               v.GetString("llm.model"),
			APIKey:              v.GetString("llm.api_key"),
			Temperature:         v.GetFloat64("llm.temperature"),
			ContextModelVersion: v.GetString("llm.context_model_version"),
		},
		Splitter: SplitterConfig{
			Strategy:     v.GetString("splitter.strategy"),
			ChunkSize:    v.GetUint("splitter.chunk_size"),
			ChunkOverlap: v.GetUint("splitter.chunk_overlap"),
		},
		Ingest: IngestConfig{
			Concurrency:            v.GetUint("ingest.concurrency"),
			MaxRetries:             v.GetUint("ingest.max_retries"),
			RetryDelay:             v.GetString("ingest.retry_delay"),
			FailurePolicy:          v.GetString("ingest.failure_policy"),
			Mode:                   v.GetString("ingest.mode"),
			EmbedContext:           v.GetBool("ingest.embed_context"),
			AdditionalInstructions: v.GetString("ingest.additional_instructions"),
			StoreRetries:           v.GetUint("ingest.store_retries"),
			StoreRetryDelay:        v.GetString("ingest.store_retry_delay"),
		},
		API: APIConfig{
			Listen: v.GetString("api.listen"),
		},
		Events: EventsConfig{
			Provider: v.GetString("events.provider"),
			Brokers:  brokers(v),
			Topic:    v.GetString("events.topic"),
		},
		Documents: DocumentsConfig{
			Root: v.GetString("documents.root"),
		},
	}

	// The ollama URL is only a default for ollama; other providers use
	// their SDK's endpoint unless a target is given.
	if cfg.Embedding.Provider != defaultEmbeddingProvider && cfg.Embedding.Target == defaultOllamaTarget {
		cfg.Embedding.Target = ""
	}
	if cfg.LLM.Provider != defaultLLMProvider && cfg.LLM.Target == defaultOllamaTarget {
		cfg.LLM.Target = ""
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// brokers accepts either a TOML array or a comma separated env value.
func brokers(v *viper.Viper) []string {
	var out []string
	for _, b := range v.GetStringSlice("events.brokers") {
		out = append(out, splitList(b)...)
	}
	return out
}

// setViperDefaults registers defaults from NewDefaultConfig() into viper
// using dotted-key notation. This keeps defaults.go as the single source of truth.
func setViperDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("version", d.Version)

	// Vector store
	v.SetDefault("vector_store.provider", d.VectorStore.Provider)
	v.SetDefault("vector_store.target", d.VectorStore.Target)
	v.SetDefault("vector_store.name", d.VectorStore.Name)
	v.SetDefault("vector_store.vector_size", d.VectorStore.VectorSize)
	v.SetDefault("vector_store.content_column", d.VectorStore.ContentColumn)
	v.SetDefault("vector_store.id_column", d.VectorStore.IDColumn)
	v.SetDefault("vector_store.metadata_column", d.VectorStore.MetadataColumn)
	v.SetDefault("vector_store.api_key", d.VectorStore.APIKey)
	v.SetDefault("vector_store.hnsw", d.VectorStore.HNSW)
	v.SetDefault("vector_store.tenant", d.VectorStore.Tenant)
	v.SetDefault("vector_store.database", d.VectorStore.Database)

	// Record manager
	v.SetDefault("record_manager.provider", d.RecordManager.Provider)
	v.SetDefault("record_manager.target", d.RecordManager.Target)
	v.SetDefault("record_manager.namespace", d.RecordManager.Namespace)

	// Embedding
	v.SetDefault("embedding.provider", d.Embedding.Provider)
	v.SetDefault("embedding.target", d.Embedding.Target)
	v.SetDefault("embedding.model", d.Embedding.Model)
	v.SetDefault("embedding.api_key", d.Embedding.APIKey)

	// LLM
	v.SetDefault("llm.provider", d.LLM.Provider)
	v.SetDefault("llm.target", d.LLM.Target)
	v.SetDefault("llm.model", d.LLM.Model)
	v.SetDefault("llm.api_key", d.LLM.APIKey)
	v.SetDefault("llm.temperature", d.LLM.Temperature)
	v.SetDefault("llm.context_model_version", d.LLM.ContextModelVersion)

	// Splitter
	v.SetDefault("splitter.strategy", d.Splitter.Strategy)
	v.SetDefault("splitter.chunk_size", d.Splitter.ChunkSize)
	v.SetDefault("splitter.chunk_overlap", d.Splitter.ChunkOverlap)

	// Ingest
	v.SetDefault("ingest.concurrency", d.Ingest.Concurrency)
	v.SetDefault("ingest.max_retries", d.Ingest.MaxRetries)
	v.SetDefault("ingest.retry_delay", d.Ingest.RetryDelay)
	v.SetDefault("ingest.failure_policy", d.Ingest.FailurePolicy)
	v.SetDefault("ingest.mode", d.Ingest.Mode)
	v.SetDefault("ingest.embed_context", d.Ingest.EmbedContext)
	v.SetDefault("ingest.additional_instructions", d.Ingest.AdditionalInstructions)
	v.SetDefault("ingest.store_retries", d.Ingest.StoreRetries)
	v.SetDefault("ingest.store_retry_delay", d.Ingest.StoreRetryDelay)

	// API
	v.SetDefault("api.listen", d.API.Listen)

	// Events
	v.SetDefault("events.provider", d.Events.Provider)
	v.SetDefault("events.brokers", d.Events.Brokers)
	v.SetDefault("events.topic", d.Events.Topic)

	// Documents
	v.SetDefault("documents.root", d.Documents.Root)
}
