// Package embeddingutils is the embeddings utility package
package embeddingutils

import (
	"fmt"
	"os"
	"strings"

	"github.com/papercomputeco/kdb/pkg/embeddings"
	"github.com/papercomputeco/kdb/pkg/embeddings/ollama"
	"github.com/papercomputeco/kdb/pkg/embeddings/openai"
)

const (
	Ollama = "ollama"
	OpenAI = "openai"
)

type NewEmbedderOpts struct {
	ProviderType string
	TargetURL    string
	Model        string

	// APIKey takes precedence over OPENAI_API_KEY.
	APIKey string
}

func NewEmbedder(o *NewEmbedderOpts) (embeddings.Embedder, error) {
	switch strings.ToLower(o.ProviderType) {
	case Ollama:
		return ollama.NewEmbedder(ollama.EmbedderConfig{
			BaseURL: o.TargetURL,
			Model:   o.Model,
		})
	case OpenAI:
		apiKey := o.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		return openai.NewEmbedder(openai.EmbedderConfig{
			BaseURL: o.TargetURL,
			APIKey:  apiKey,
			Model:   o.Model,
		})
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", o.ProviderType)
	}
}
