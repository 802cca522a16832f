// Package enrich generates a search context for each chunk of a document
// with a language model.
package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/papercomputeco/kdb/pkg/chunk"
	"github.com/papercomputeco/kdb/pkg/llm"
	"github.com/papercomputeco/kdb/pkg/utils"
)

// contextResponse is the structured answer expected from the model.
type contextResponse struct {
	Context string `json:"context" validate:"required,max=8000"`
}

// Enricher annotates chunks with model generated contexts. It is safe for
// concurrent use.
type Enricher struct {
	completer    llm.Completer
	modelVersion string
	instructions string
	temperature  *float64
	validate     *validator.Validate
	logger       *zap.Logger
}

// Option configures an Enricher.
type Option func(*Enricher)

// WithContextModelVersion overrides the version recorded on enriched chunks.
// Defaults to the completer's model name.
func WithContextModelVersion(version string) Option {
	return func(e *Enricher) {
		if version != "" {
			e.modelVersion = version
		}
	}
}

// WithAdditionalInstructions appends free-form instructions to the prompt.
func WithAdditionalInstructions(instructions string) Option {
	return func(e *Enricher) {
		e.instructions = instructions
	}
}

// WithTemperature sets the sampling temperature sent to the model.
func WithTemperature(t float64) Option {
	return func(e *Enricher) {
		e.temperature = &t
	}
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Enricher) {
		e.logger = logger
	}
}

// New creates an Enricher backed by completer.
func New(completer llm.Completer, opts ...Option) (*Enricher, error) {
	if completer == nil {
		return nil, errors.New("completer is required")
	}

	e := &Enricher{
		completer:    completer,
		modelVersion: completer.Model(),
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}

	return e, nil
}

// ContextModelVersion returns the version recorded on enriched chunks.
func (e *Enricher) ContextModelVersion() string {
	return e.modelVersion
}

// Enrich makes one model call for c with wholeDocument as grounding and
// returns the annotated chunk. Content is never modified.
func (e *Enricher) Enrich(ctx context.Context, c chunk.Chunk, wholeDocument string) (chunk.EnrichedChunk, error) {
	req := &llm.CompletionRequest{
		System:      systemPrompt(wholeDocument, e.instructions),
		Messages:    []llm.Message{llm.NewTextMessage(llm.RoleUser, userPrompt(c.Content))},
		JSON:        true,
		Temperature: e.temperature,
	}

	raw, err := e.completer.Complete(ctx, req)
	if err != nil {
		return chunk.EnrichedChunk{}, fmt.Errorf("%w: chunk %d of %q: %w", ErrEnrichment, c.SequenceIndex, c.SourceID, err)
	}

	generated, err := e.parse(raw)
	if err != nil {
		e.logger.Debug("unparseable context response",
			zap.String("source_id", c.SourceID),
			zap.Int("sequence_index", c.SequenceIndex),
			zap.String("response", utils.Truncate(raw, 200)),
		)
		return chunk.EnrichedChunk{}, fmt.Errorf("%w: chunk %d of %q: %v", ErrEnrichment, c.SequenceIndex, c.SourceID, err)
	}

	return chunk.EnrichedChunk{
		Chunk:               c,
		Context:             generated,
		ContextModelVersion: e.modelVersion,
	}, nil
}

// parse decodes and validates the structured model answer.
func (e *Enricher) parse(raw string) (string, error) {
	payload := extractJSONObject(stripCodeFences(raw))
	if payload == "" {
		return "", errors.New("response contains no JSON object")
	}

	var resp contextResponse
	if err := json.Unmarshal([]byte(payload), &resp); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}

	resp.Context = strings.TrimSpace(resp.Context)
	if err := e.validate.Struct(resp); err != nil {
		return "", fmt.Errorf("validating response: %w", err)
	}

	return resp.Context, nil
}

// stripCodeFences removes a surrounding ```json ... ``` block.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// extractJSONObject returns the outermost {...} span of s.
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
