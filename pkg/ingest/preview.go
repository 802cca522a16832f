package ingest

import (
	"context"
	"time"

	"github.com/papercomputeco/kdb/pkg/chunk"
	"github.com/papercomputeco/kdb/pkg/identity"
)

// PreviewChunk is an enriched chunk with the record id it would be stored
// under.
type PreviewChunk struct {
	ID string `json:"id"`
	chunk.EnrichedChunk
}

// Preview is the outcome of a dry run.
type Preview struct {
	SourceID string         `json:"source_id"`
	Chunks   []PreviewChunk `json:"chunks"`
	Failures []ChunkFailure `json:"failures,omitempty"`
	Duration time.Duration  `json:"duration"`
}

// Preview splits and enriches markdown without touching the vector store or
// the record manager. Every chunk is enriched regardless of what is stored.
// It does not require EnsureReady.
func (p *Pipeline) Preview(ctx context.Context, sourceID, markdown string) (*Preview, error) {
	started := time.Now()

	chunks, err := p.config.Splitter.Split(markdown, sourceID)
	if err != nil {
		return nil, err
	}

	enriched, failures := p.enrichAll(ctx, chunks, markdown)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	preview := &Preview{
		SourceID: sourceID,
		Chunks:   make([]PreviewChunk, len(enriched)),
		Failures: failures,
	}
	for i, ec := range enriched {
		preview.Chunks[i] = PreviewChunk{ID: identity.Identify(ec), EnrichedChunk: ec}
	}
	preview.Duration = time.Since(started)
	return preview, nil
}
