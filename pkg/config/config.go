package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/papercomputeco/kdb/pkg/dotdir"
)

const (
	configFile = "config.toml"

	// v0 is the alpha version of the config
	v0 = 0

	// CurrentV is the currently supported version, points to v0
	CurrentV = v0
)

type Configer struct {
	ddm        *dotdir.Manager
	targetPath string
}

func NewConfiger(override string) (*Configer, error) {
	cfger := &Configer{}

	cfger.ddm = dotdir.NewManager()
	target, err := cfger.ddm.Target(override)
	if err != nil {
		return nil, err
	}

	// No .kdb/ directory: LoadConfig returns defaults and SaveConfig errors.
	if target == "" {
		return cfger, nil
	}

	path := filepath.Join(target, configFile)
	_, err = os.Stat(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfger.targetPath = path

	return cfger, nil
}

// ValidConfigKeys returns all supported configuration key names in TOML
// section order.
func ValidConfigKeys() []string {
	result := make([]string, 0, len(configKeys))
	seen := make(map[string]bool, len(configKeys))
	for _, k := range orderedKeys {
		if _, ok := configKeys[k]; ok {
			result = append(result, k)
			seen[k] = true
		}
	}
	for k := range configKeys {
		if !seen[k] {
			result = append(result, k)
		}
	}
	return result
}

// IsValidConfigKey returns true if the given key is a supported configuration key.
func IsValidConfigKey(key string) bool {
	_, ok := configKeys[key]
	return ok
}

func (c *Configer) GetTarget() string {
	return c.targetPath
}

// Dir returns the resolved .kdb/ directory, or "" when none was found.
func (c *Configer) Dir() string {
	if c.targetPath == "" {
		return ""
	}
	return filepath.Dir(c.targetPath)
}

// LoadConfig loads config.toml from the target .kdb/ directory.
// A missing file yields NewDefaultConfig(); fields set in the file override
// the defaults.
func (c *Configer) LoadConfig() (*Config, error) {
	if c.targetPath == "" {
		return NewDefaultConfig(), nil
	}

	data, err := os.ReadFile(c.targetPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewDefaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg, md, err := parseConfigTOML(data)
	if err != nil {
		return nil, err
	}

	applyDefaults(cfg)

	// Zero is meaningful for these, so only absent keys take the default.
	d := NewDefaultConfig()
	if !md.IsDefined("ingest", "embed_context") {
		cfg.Ingest.EmbedContext = d.Ingest.EmbedContext
	}
	if !md.IsDefined("ingest", "max_retries") {
		cfg.Ingest.MaxRetries = d.Ingest.MaxRetries
	}

	return cfg, nil
}

// applyDefaults fills zero-value fields in cfg with values from NewDefaultConfig().
func applyDefaults(cfg *Config) {
	d := NewDefaultConfig()

	if cfg.Version == 0 {
		cfg.Version = d.Version
	}

	setString(&cfg.VectorStore.Provider, d.VectorStore.Provider)
	setString(&cfg.VectorStore.Name, d.VectorStore.Name)
	setUint(&cfg.VectorStore.VectorSize, d.VectorStore.VectorSize)
	setString(&cfg.VectorStore.ContentColumn, d.VectorStore.ContentColumn)
	setString(&cfg.VectorStore.IDColumn, d.VectorStore.IDColumn)
	setString(&cfg.VectorStore.MetadataColumn, d.VectorStore.MetadataColumn)

	setString(&cfg.RecordManager.Provider, d.RecordManager.Provider)
	setString(&cfg.RecordManager.Namespace, d.RecordManager.Namespace)

	setString(&cfg.Embedding.Provider, d.Embedding.Provider)
	setString(&cfg.Embedding.Model, d.Embedding.Model)
	if cfg.Embedding.Target == "" && cfg.Embedding.Provider == d.Embedding.Provider {
		cfg.Embedding.Target = d.Embedding.Target
	}

	setString(&cfg.LLM.Provider, d.LLM.Provider)
	setString(&cfg.LLM.Model, d.LLM.Model)
	if cfg.LLM.Target == "" && cfg.LLM.Provider == d.LLM.Provider {
		cfg.LLM.Target = d.LLM.Target
	}

	setString(&cfg.Splitter.Strategy, d.Splitter.Strategy)
	setUint(&cfg.Splitter.ChunkSize, d.Splitter.ChunkSize)

	setUint(&cfg.Ingest.Concurrency, d.Ingest.Concurrency)
	setString(&cfg.Ingest.RetryDelay, d.Ingest.RetryDelay)
	setString(&cfg.Ingest.FailurePolicy, d.Ingest.FailurePolicy)
	setString(&cfg.Ingest.Mode, d.Ingest.Mode)
	setUint(&cfg.Ingest.StoreRetries, d.Ingest.StoreRetries)
	setString(&cfg.Ingest.StoreRetryDelay, d.Ingest.StoreRetryDelay)

	setString(&cfg.API.Listen, d.API.Listen)

	setString(&cfg.Events.Provider, d.Events.Provider)
	setString(&cfg.Events.Topic, d.Events.Topic)
}

func setString(field *string, def string) {
	if *field == "" {
		*field = def
	}
}

func setUint(field *uint, def uint) {
	if *field == 0 {
		*field = def
	}
}

// SaveConfig persists the configuration to config.toml in the target .kdb/ directory.
func (c *Configer) SaveConfig(cfg *Config) error {
	if cfg == nil {
		return errors.New("cannot save nil config")
	}

	if c.targetPath == "" {
		return errors.New("cannot save empty target path")
	}

	var buf bytes.Buffer
	encoder := toml.NewEncoder(&buf)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.WriteFile(c.targetPath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}

// SetConfigValue loads the config, sets the given key to the given value, and saves it.
// Returns an error if the key is not a valid config key.
func (c *Configer) SetConfigValue(key string, value string) error {
	info, ok := configKeys[key]
	if !ok {
		return fmt.Errorf("unknown config key: %q", key)
	}

	cfg, err := c.LoadConfig()
	if err != nil {
		return err
	}

	if err := info.set(cfg, value); err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	return c.SaveConfig(cfg)
}

// GetConfigValue loads the config and returns the string representation of the given key.
// Returns an error if the key is not a valid config key.
func (c *Configer) GetConfigValue(key string) (string, error) {
	info, ok := configKeys[key]
	if !ok {
		return "", fmt.Errorf("unknown config key: %q", key)
	}

	cfg, err := c.LoadConfig()
	if err != nil {
		return "", err
	}

	return info.get(cfg), nil
}

// Validate checks values that cannot be caught by TOML decoding.
func (cfg *Config) Validate() error {
	for key, val := range map[string]string{
		"ingest.retry_delay":       cfg.Ingest.RetryDelay,
		"ingest.store_retry_delay": cfg.Ingest.StoreRetryDelay,
	} {
		if val == "" {
			continue
		}
		if _, err := time.ParseDuration(val); err != nil {
			return fmt.Errorf("invalid value for %s: %w", key, err)
		}
	}

	switch strings.ToLower(cfg.Ingest.FailurePolicy) {
	case "", "skip", "abort":
	default:
		return fmt.Errorf("invalid value for ingest.failure_policy: %q (expected skip or abort)", cfg.Ingest.FailurePolicy)
	}

	switch strings.ToLower(cfg.Ingest.Mode) {
	case "", "skip-unchanged", "always-upsert":
	default:
		return fmt.Errorf("invalid value for ingest.mode: %q (expected skip-unchanged or always-upsert)", cfg.Ingest.Mode)
	}

	switch strings.ToLower(cfg.Events.Provider) {
	case "", "none", "kafka":
	default:
		return fmt.Errorf("invalid value for events.provider: %q (expected none or kafka)", cfg.Events.Provider)
	}

	if cfg.Splitter.ChunkSize != 0 && cfg.Splitter.ChunkOverlap >= cfg.Splitter.ChunkSize {
		return fmt.Errorf("splitter.chunk_overlap (%d) must be smaller than splitter.chunk_size (%d)",
			cfg.Splitter.ChunkOverlap, cfg.Splitter.ChunkSize)
	}

	return nil
}

// PresetConfig returns a Config with sane defaults for the named provider preset.
// Supported presets: "openai", "anthropic", "ollama".
// Returns an error if the preset name is not recognized.
func PresetConfig(name string) (*Config, error) {
	cfg := NewDefaultConfig()

	switch strings.ToLower(name) {
	case "ollama":
		return cfg, nil

	case "openai":
		cfg.Embedding = EmbeddingConfig{
			Provider: "openai",
			Model:    "text-embedding-3-small",
		}
		cfg.VectorStore.VectorSize = 1536
		cfg.LLM = LLMConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
		}
		return cfg, nil

	case "anthropic":
		// Anthropic has no embeddings API; contexts come from Claude and
		// vectors from a local ollama model.
		cfg.LLM = LLMConfig{
			Provider: "anthropic",
			Model:    "claude-3-5-haiku-latest",
		}
		return cfg, nil

	default:
		return nil, fmt.Errorf("unknown preset: %q (available: openai, anthropic, ollama)", name)
	}
}

// ValidPresetNames returns the list of recognized preset names.
func ValidPresetNames() []string {
	return []string{"openai", "anthropic", "ollama"}
}

// ParseConfigTOML parses raw TOML bytes into a Config.
// Returns an error if the version field is present and not equal to CurrentV.
func ParseConfigTOML(data []byte) (*Config, error) {
	cfg, _, err := parseConfigTOML(data)
	return cfg, err
}

func parseConfigTOML(data []byte) (*Config, toml.MetaData, error) {
	cfg := &Config{}
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, md, fmt.Errorf("parsing config TOML: %w", err)
	}

	if cfg.Version != 0 && cfg.Version != CurrentV {
		return nil, md, fmt.Errorf("unsupported config version %d (expected %d)", cfg.Version, CurrentV)
	}

	return cfg, md, nil
}
