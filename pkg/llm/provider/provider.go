// Package provider builds an llm.Completer from configuration.
package provider

import (
	"fmt"
	"os"
	"strings"

	"github.com/papercomputeco/kdb/pkg/llm"
	"github.com/papercomputeco/kdb/pkg/llm/provider/anthropic"
	"github.com/papercomputeco/kdb/pkg/llm/provider/ollama"
	"github.com/papercomputeco/kdb/pkg/llm/provider/openai"
)

const (
	Anthropic = "anthropic"
	Ollama    = "ollama"
	OpenAI    = "openai"
)

// NewCompleterOpts selects and configures a completion provider.
type NewCompleterOpts struct {
	ProviderType string
	TargetURL    string
	Model        string

	// APIKey takes precedence over OPENAI_API_KEY / ANTHROPIC_API_KEY.
	APIKey string
}

// NewCompleter returns the completer for o.ProviderType.
func NewCompleter(o *NewCompleterOpts) (llm.Completer, error) {
	provider := strings.ToLower(o.ProviderType)

	apiKey := o.APIKey
	if apiKey == "" {
		apiKey = resolveAPIKeyFromEnv(provider)
	}

	switch provider {
	case OpenAI:
		return openai.NewCompleter(openai.Config{
			BaseURL: o.TargetURL,
			APIKey:  apiKey,
			Model:   o.Model,
		})
	case Anthropic:
		return anthropic.NewCompleter(anthropic.Config{
			BaseURL: o.TargetURL,
			APIKey:  apiKey,
			Model:   o.Model,
		})
	case Ollama:
		return ollama.NewCompleter(ollama.Config{
			BaseURL: o.TargetURL,
			Model:   o.Model,
		})
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", o.ProviderType)
	}
}

// SupportedProviders lists the provider names NewCompleter accepts.
func SupportedProviders() []string {
	return []string{Anthropic, Ollama, OpenAI}
}

func resolveAPIKeyFromEnv(provider string) string {
	switch provider {
	case Anthropic:
		return os.Getenv("ANTHROPIC_API_KEY")
	case OpenAI:
		return os.Getenv("OPENAI_API_KEY")
	default:
		return ""
	}
}
