package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Config represents the persistent kdb configuration stored as config.toml
// in the .kdb/ directory. The TOML layout uses sections for logical grouping.
type Config struct {
	Version       int                 `toml:"version"`
	VectorStore   VectorStoreConfig   `toml:"vector_store"`
	RecordManager RecordManagerConfig `toml:"record_manager"`
	Embedding     EmbeddingConfig     `toml:"embedding"`
	LLM           LLMConfig           `toml:"llm"`
	Splitter      SplitterConfig      `toml:"splitter"`
	Ingest        IngestConfig        `toml:"ingest"`
	API           APIConfig           `toml:"api"`
	Events        EventsConfig        `toml:"events"`
	Documents     DocumentsConfig     `toml:"documents"`
}

// VectorStoreConfig holds vector store settings.
type VectorStoreConfig struct {
	Provider string `toml:"provider,omitempty"`

	// Target is a Postgres connection string, a redis:// URL, the Chroma
	// endpoint, the Qdrant host:port or a SQLite path. An empty SQLite target
	// resolves to kdb.sqlite in the .kdb/ directory.
	Target string `toml:"target,omitempty"`

	Name           string `toml:"name,omitempty"`
	VectorSize     uint   `toml:"vector_size,omitempty"`
	ContentColumn  string `toml:"content_column,omitempty"`
	IDColumn       string `toml:"id_column,omitempty"`
	MetadataColumn string `toml:"metadata_column,omitempty"`
	APIKey         string `toml:"api_key,omitempty"`
	HNSW           bool   `toml:"hnsw,omitempty"`

	// Tenant and Database select the Chroma tenant and database. Empty
	// values use Chroma's defaults.
	Tenant   string `toml:"tenant,omitempty"`
	Database string `toml:"database,omitempty"`
}

// RecordManagerConfig holds record manager state settings.
type RecordManagerConfig struct {
	Provider  string `toml:"provider,omitempty"`
	Target    string `toml:"target,omitempty"`
	Namespace string `toml:"namespace,omitempty"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider string `toml:"provider,omitempty"`
	Target   string `toml:"target,omitempty"`
	Model    string `toml:"model,omitempty"`
	APIKey   string `toml:"api_key,omitempty"`
}

// LLMConfig holds the completion provider used for chunk contexts.
type LLMConfig struct {
	Provider    string  `toml:"provider,omitempty"`
	Target      string  `toml:"target,omitempty"`
	Model       string  `toml:"model,omitempty"`
	APIKey      string  `toml:"api_key,omitempty"`
	Temperature float64 `toml:"temperature,omitempty"`

	// ContextModelVersion is recorded on every record. Defaults to Model.
	ContextModelVersion string `toml:"context_model_version,omitempty"`
}

// SplitterConfig holds chunking settings.
type SplitterConfig struct {
	Strategy     string `toml:"strategy,omitempty"`
	ChunkSize    uint   `toml:"chunk_size,omitempty"`
	ChunkOverlap uint   `toml:"chunk_overlap,omitempty"`
}

// IngestConfig holds orchestrator settings. Durations use Go syntax ("500ms").
type IngestConfig struct {
	Concurrency            uint   `toml:"concurrency,omitempty"`
	MaxRetries             uint   `toml:"max_retries"`
	RetryDelay             string `toml:"retry_delay,omitempty"`
	FailurePolicy          string `toml:"failure_policy,omitempty"`
	Mode                   string `toml:"mode,omitempty"`
	EmbedContext           bool   `toml:"embed_context"`
	AdditionalInstructions string `toml:"additional_instructions,omitempty"`
	StoreRetries           uint   `toml:"store_retries,omitempty"`
	StoreRetryDelay        string `toml:"store_retry_delay,omitempty"`
}

// APIConfig holds API server settings.
type APIConfig struct {
	Listen string `toml:"listen,omitempty"`
}

// EventsConfig holds event stream settings.
type EventsConfig struct {
	Provider string   `toml:"provider,omitempty"`
	Brokers  []string `toml:"brokers,omitempty"`
	Topic    string   `toml:"topic,omitempty"`
}

// DocumentsConfig holds where documents posted to the API are saved.
type DocumentsConfig struct {
	Root string `toml:"root,omitempty"`
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

func stringKey(field func(c *Config) *string) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return *field(c) },
		set: func(c *Config, v string) error { *field(c) = v; return nil },
	}
}

func uintKey(name string, field func(c *Config) *uint) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string {
			if *field(c) == 0 {
				return ""
			}
			return strconv.FormatUint(uint64(*field(c)), 10)
		},
		set: func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*field(c) = uint(n)
			return nil
		},
	}
}

func boolKey(name string, field func(c *Config) *bool) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return strconv.FormatBool(*field(c)) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*field(c) = b
			return nil
		},
	}
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"vector_store.provider":        stringKey(func(c *Config) *string { return &c.VectorStore.Provider }),
	"vector_store.target":          stringKey(func(c *Config) *string { return &c.VectorStore.Target }),
	"vector_store.name":            stringKey(func(c *Config) *string { return &c.VectorStore.Name }),
	"vector_store.vector_size":     uintKey("vector_store.vector_size", func(c *Config) *uint { return &c.VectorStore.VectorSize }),
	"vector_store.content_column":  stringKey(func(c *Config) *string { return &c.VectorStore.ContentColumn }),
	"vector_store.id_column":       stringKey(func(c *Config) *string { return &c.VectorStore.IDColumn }),
	"vector_store.metadata_column": stringKey(func(c *Config) *string { return &c.VectorStore.MetadataColumn }),
	"vector_store.api_key":         stringKey(func(c *Config) *string { return &c.VectorStore.APIKey }),
	"vector_store.hnsw":            boolKey("vector_store.hnsw", func(c *Config) *bool { return &c.VectorStore.HNSW }),
	"vector_store.tenant":          stringKey(func(c *Config) *string { return &c.VectorStore.Tenant }),
	"vector_store.database":        stringKey(func(c *Config) *string { return &c.VectorStore.Database }),

	"record_manager.provider":  stringKey(func(c *Config) *string { return &c.RecordManager.Provider }),
	"record_manager.target":    stringKey(func(c *Config) *string { return &c.RecordManager.Target }),
	"record_manager.namespace": stringKey(func(c *Config) *string { return &c.RecordManager.Namespace }),

	"embedding.provider": stringKey(func(c *Config) *string { return &c.Embedding.Provider }),
	"embedding.target":   stringKey(func(c *Config) *string { return &c.Embedding.Target }),
	"embedding.model":    stringKey(func(c *Config) *string { return &c.Embedding.Model }),
	"embedding.api_key":  stringKey(func(c *Config) *string { return &c.Embedding.APIKey }),

	"llm.provider": stringKey(func(c *Config) *string { return &c.LLM.Provider }),
	"llm.target":   stringKey(func(c *Config) *string { return &c.LLM.Target }),
	"llm.model":    stringKey(func(c *Config) *string { return &c.LLM.Model }),
	"llm.api_key":  stringKey(func(c *Config) *string { return &c.LLM.APIKey }),
	"llm.temperature": {
		get: func(c *Config) string { return strconv.FormatFloat(c.LLM.Temperature, 'g', -1, 64) },
		set: func(c *Config, v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("invalid value for llm.temperature: %w", err)
			}
			c.LLM.Temperature = f
			return nil
		},
	},
	"llm.context_model_version": stringKey(func(c *Config) *string { return &c.LLM.ContextModelVersion }),

	"splitter.strategy":      stringKey(func(c *Config) *string { return &c.Splitter.Strategy }),
	"splitter.chunk_size":    uintKey("splitter.chunk_size", func(c *Config) *uint { return &c.Splitter.ChunkSize }),
	"splitter.chunk_overlap": uintKey("splitter.chunk_overlap", func(c *Config) *uint { return &c.Splitter.ChunkOverlap }),

	"ingest.concurrency": uintKey("ingest.concurrency", func(c *Config) *uint { return &c.Ingest.Concurrency }),
	"ingest.max_retries": {
		get: func(c *Config) string { return strconv.FormatUint(uint64(c.Ingest.MaxRetries), 10) },
		set: uintKey("ingest.max_retries", func(c *Config) *uint { return &c.Ingest.MaxRetries }).set,
	},
	"ingest.retry_delay":             stringKey(func(c *Config) *string { return &c.Ingest.RetryDelay }),
	"ingest.failure_policy":          stringKey(func(c *Config) *string { return &c.Ingest.FailurePolicy }),
	"ingest.mode":                    stringKey(func(c *Config) *string { return &c.Ingest.Mode }),
	"ingest.embed_context":           boolKey("ingest.embed_context", func(c *Config) *bool { return &c.Ingest.EmbedContext }),
	"ingest.additional_instructions": stringKey(func(c *Config) *string { return &c.Ingest.AdditionalInstructions }),
	"ingest.store_retries":           uintKey("ingest.store_retries", func(c *Config) *uint { return &c.Ingest.StoreRetries }),
	"ingest.store_retry_delay":       stringKey(func(c *Config) *string { return &c.Ingest.StoreRetryDelay }),

	"api.listen": stringKey(func(c *Config) *string { return &c.API.Listen }),

	"events.provider": stringKey(func(c *Config) *string { return &c.Events.Provider }),
	"events.brokers": {
		get: func(c *Config) string { return strings.Join(c.Events.Brokers, ",") },
		set: func(c *Config, v string) error {
			c.Events.Brokers = splitList(v)
			return nil
		},
	},
	"events.topic": stringKey(func(c *Config) *string { return &c.Events.Topic }),

	"documents.root": stringKey(func(c *Config) *string { return &c.Documents.Root }),
}

// orderedKeys lists configKeys in TOML section order.
var orderedKeys = []string{
	"vector_store.provider",
	"vector_store.target",
	"vector_store.name",
	"vector_store.vector_size",
	"vector_store.content_column",
	"vector_store.id_column",
	"vector_store.metadata_column",
	"vector_store.api_key",
	"vector_store.hnsw",
	"vector_store.tenant",
	"vector_store.database",
	"record_manager.provider",
	"record_manager.target",
	"record_manager.namespace",
	"embedding.provider",
	"embedding.target",
	"embedding.model",
	"embedding.api_key",
	"llm.provider",
	"llm.target",
	"llm.model",
	"llm.api_key",
	"llm.temperature",
	"llm.context_model_version",
	"splitter.strategy",
	"splitter.chunk_size",
	"splitter.chunk_overlap",
	"ingest.concurrency",
	"ingest.max_retries",
	"ingest.retry_delay",
	"ingest.failure_policy",
	"ingest.mode",
	"ingest.embed_context",
	"ingest.additional_instructions",
	"ingest.store_retries",
	"ingest.store_retry_delay",
	"api.listen",
	"events.provider",
	"events.brokers",
	"events.topic",
	"documents.root",
}

// splitList splits a comma separated list, dropping blanks.
func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
