package config

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flag is the single source of truth for a CLI flag.
// Commands reference flags by registry key rather than hard-coding names,
// shorthands, defaults, and descriptions inline, so the same logical flag
// reads the same on "kdb ingest", "kdb serve" and "kdb watch".
type Flag struct {
	// Name is the long flag name (e.g. "vector-store-provider").
	Name string

	// Shorthand is the one-letter short flag. Empty for no shorthand.
	Shorthand string

	// ViperKey is the dotted config key this flag maps to (e.g. "vector_store.provider").
	ViperKey string

	// Description is the help text shown in --help output.
	Description string
}

// FlagSet is a mapping of flag names to Flag structs that hold their name,
// shorthand, viper key, etc.
type FlagSet map[string]Flag

// Flag registry keys.
// Use these constants when calling the Add*Flag helpers and
// BindRegisteredFlags to avoid drift from one command to another.
const (
	FlagVectorStoreProv   = "vector-store-provider"
	FlagVectorStoreTgt    = "vector-store-target"
	FlagVectorStoreName   = "vector-store-name"
	FlagVectorSize        = "vector-size"
	FlagRecordManagerProv = "record-manager-provider"
	FlagRecordManagerTgt  = "record-manager-target"
	FlagNamespace         = "namespace"
	FlagEmbeddingProv     = "embedding-provider"
	FlagEmbeddingTgt      = "embedding-target"
	FlagEmbeddingModel    = "embedding-model"
	FlagLLMProv           = "llm-provider"
	FlagLLMTgt            = "llm-target"
	FlagLLMModel          = "llm-model"
	FlagContextVersion    = "context-model-version"
	FlagChunkSize         = "chunk-size"
	FlagChunkOverlap      = "chunk-overlap"
	FlagConcurrency       = "concurrency"
	FlagMaxRetries        = "max-retries"
	FlagFailurePolicy     = "failure-policy"
	FlagMode              = "mode"
	FlagEmbedContext      = "embed-context"
	FlagAPIListen         = "listen"
	FlagEventsProv        = "events-provider"
	FlagEventsTopic       = "events-topic"
)

// Flags is the registry shared by every kdb subcommand.
var Flags = FlagSet{
	FlagVectorStoreProv:   {Name: "vector-store-provider", ViperKey: "vector_store.provider", Description: "Vector store provider (pgvector, redis, chroma, qdrant, sqlite, memory)"},
	FlagVectorStoreTgt:    {Name: "vector-store-target", ViperKey: "vector_store.target", Description: "Vector store connection target"},
	FlagVectorStoreName:   {Name: "vector-store-name", ViperKey: "vector_store.name", Description: "Collection, table or index name"},
	FlagVectorSize:        {Name: "vector-size", ViperKey: "vector_store.vector_size", Description: "Embedding vector size"},
	FlagRecordManagerProv: {Name: "record-manager-provider", ViperKey: "record_manager.provider", Description: "Record manager provider (postgres, sqlite, memory)"},
	FlagRecordManagerTgt:  {Name: "record-manager-target", ViperKey: "record_manager.target", Description: "Record manager connection target"},
	FlagNamespace:         {Name: "namespace", Shorthand: "n", ViperKey: "record_manager.namespace", Description: "Record manager namespace"},
	FlagEmbeddingProv:     {Name: "embedding-provider", ViperKey: "embedding.provider", Description: "Embedding provider (ollama, openai)"},
	FlagEmbeddingTgt:      {Name: "embedding-target", ViperKey: "embedding.target", Description: "Embedding provider URL"},
	FlagEmbeddingModel:    {Name: "embedding-model", ViperKey: "embedding.model", Description: "Embedding model name"},
	FlagLLMProv:           {Name: "llm-provider", ViperKey: "llm.provider", Description: "Context LLM provider (ollama, openai, anthropic)"},
	FlagLLMTgt:            {Name: "llm-target", ViperKey: "llm.target", Description: "Context LLM provider URL"},
	FlagLLMModel:          {Name: "llm-model", Shorthand: "m", ViperKey: "llm.model", Description: "Context LLM model name"},
	FlagContextVersion:    {Name: "context-model-version", ViperKey: "llm.context_model_version", Description: "Version recorded on every chunk (defaults to the LLM model)"},
	FlagChunkSize:         {Name: "chunk-size", ViperKey: "splitter.chunk_size", Description: "Maximum chunk size in characters"},
	FlagChunkOverlap:      {Name: "chunk-overlap", ViperKey: "splitter.chunk_overlap", Description: "Characters shared by adjacent chunks"},
	FlagConcurrency:       {Name: "concurrency", Shorthand: "c", ViperKey: "ingest.concurrency", Description: "Concurrent context generations"},
	FlagMaxRetries:        {Name: "max-retries", ViperKey: "ingest.max_retries", Description: "Retries per chunk after a failed context generation"},
	FlagFailurePolicy:     {Name: "failure-policy", ViperKey: "ingest.failure_policy", Description: "What a chunk failure does to the run (skip, abort)"},
	FlagMode:              {Name: "mode", ViperKey: "ingest.mode", Description: "Indexing mode (skip-unchanged, always-upsert)"},
	FlagEmbedContext:      {Name: "embed-context", ViperKey: "ingest.embed_context", Description: "Embed the generated context together with the chunk text"},
	FlagAPIListen:         {Name: "listen", Shorthand: "l", ViperKey: "api.listen", Description: "Address for the API server to listen on"},
	FlagEventsProv:        {Name: "events-provider", ViperKey: "events.provider", Description: "Event stream provider (none, kafka)"},
	FlagEventsTopic:       {Name: "events-topic", ViperKey: "events.topic", Description: "Event stream topic"},
}

// IngestFlags are the registry keys shared by every command that builds an
// ingestion pipeline.
var IngestFlags = []string{
	FlagVectorStoreProv,
	FlagVectorStoreTgt,
	FlagVectorStoreName,
	FlagVectorSize,
	FlagRecordManagerProv,
	FlagRecordManagerTgt,
	FlagNamespace,
	FlagEmbeddingProv,
	FlagEmbeddingTgt,
	FlagEmbeddingModel,
	FlagLLMProv,
	FlagLLMTgt,
	FlagLLMModel,
	FlagContextVersion,
	FlagChunkSize,
	FlagChunkOverlap,
	FlagConcurrency,
	FlagMaxRetries,
	FlagFailurePolicy,
	FlagMode,
	FlagEmbedContext,
	FlagEventsProv,
	FlagEventsTopic,
}

// AddStringFlag registers a string flag on cmd from the given FlagSet.
// The flag's name, shorthand, default, and description all come from the
// FlagSet entry so they cannot drift across commands.
func AddStringFlag(cmd *cobra.Command, fs FlagSet, key string, target *string) {
	def, ok := fs[key]
	if !ok {
		return
	}

	defaultVal := defaultString(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().StringVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().StringVar(target, def.Name, defaultVal, def.Description)
	}
}

// AddUintFlag registers a uint flag on cmd from the given FlagSet.
func AddUintFlag(cmd *cobra.Command, fs FlagSet, registryKey string, target *uint) {
	def, ok := fs[registryKey]
	if !ok {
		return
	}

	defaultVal := defaultUint(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().UintVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().UintVar(target, def.Name, defaultVal, def.Description)
	}
}

// AddBoolFlag registers a bool flag on cmd from the given FlagSet.
func AddBoolFlag(cmd *cobra.Command, fs FlagSet, registryKey string, target *bool) {
	def, ok := fs[registryKey]
	if !ok {
		return
	}

	defaultVal := defaultBool(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().BoolVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().BoolVar(target, def.Name, defaultVal, def.Description)
	}
}

// AddRegisteredFlags registers every key in registryKeys on cmd, choosing the
// flag type from the default value's kind. Values are read back through viper.
func AddRegisteredFlags(cmd *cobra.Command, fs FlagSet, registryKeys []string) {
	for _, key := range registryKeys {
		def, ok := fs[key]
		if !ok {
			continue
		}

		switch defaults().Get(def.ViperKey).(type) {
		case uint:
			AddUintFlag(cmd, fs, key, new(uint))
		case bool:
			AddBoolFlag(cmd, fs, key, new(bool))
		default:
			AddStringFlag(cmd, fs, key, new(string))
		}
	}
}

// BindRegisteredFlags binds already-registered flags to viper using definitions
// from the given FlagSet. Call this in PreRunE after InitViper to connect flags
// to the viper precedence chain (flag > env > config file > default).
func BindRegisteredFlags(v *viper.Viper, cmd *cobra.Command, fs FlagSet, registryKeys []string) {
	for _, registryKey := range registryKeys {
		def, ok := fs[registryKey]
		if !ok {
			continue
		}

		f := cmd.Flags().Lookup(def.Name)
		if f == nil {
			continue
		}

		_ = v.BindPFlag(def.ViperKey, f)
	}
}

func defaults() *viper.Viper {
	v := viper.New()
	setViperDefaults(v)
	return v
}

// defaultString returns the default string value for a viper key from NewDefaultConfig.
func defaultString(viperKey string) string {
	return defaults().GetString(viperKey)
}

// defaultUint returns the default uint value for a viper key from NewDefaultConfig.
func defaultUint(viperKey string) uint {
	return defaults().GetUint(viperKey)
}

// defaultBool returns the default bool value for a viper key from NewDefaultConfig.
func defaultBool(viperKey string) bool {
	return defaults().GetBool(viperKey)
}
