package ingest

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/papercomputeco/kdb/pkg/chunk"
	"github.com/papercomputeco/kdb/pkg/utils"
)

// enrichWithRetry makes up to MaxRetries+1 attempts at enriching c with the
// same chunk and document.
func (p *Pipeline) enrichWithRetry(ctx context.Context, c chunk.Chunk, document string) (chunk.EnrichedChunk, error) {
	var (
		result  chunk.EnrichedChunk
		attempt int
	)

	retryable := func(err error) bool {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}

	err := utils.RetryWithBackoff(ctx, p.config.MaxRetries+1, p.config.RetryDelay, retryable, func() error {
		attempt++
		ec, err := p.config.Enricher.Enrich(ctx, c, document)
		if err != nil {
			p.logger.Debug("enrichment attempt failed",
				zap.String("source_id", c.SourceID),
				zap.Int("sequence_index", c.SequenceIndex),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return err
		}
		result = ec
		return nil
	})
	return result, err
}
