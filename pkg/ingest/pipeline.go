// Package ingest sequences splitting, enrichment, identity and incremental
// indexing for one document at a time.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/papercomputeco/kdb/pkg/chunk"
	"github.com/papercomputeco/kdb/pkg/eventstream"
	"github.com/papercomputeco/kdb/pkg/eventstream/nop"
	"github.com/papercomputeco/kdb/pkg/identity"
	"github.com/papercomputeco/kdb/pkg/recordmanager"
	"github.com/papercomputeco/kdb/pkg/vector"
)

// Splitter splits a markdown document into ordered chunks.
type Splitter interface {
	Split(markdown, sourceID string) ([]chunk.Chunk, error)
}

// Enricher attaches a generated context to a chunk.
type Enricher interface {
	Enrich(ctx context.Context, c chunk.Chunk, wholeDocument string) (chunk.EnrichedChunk, error)
	ContextModelVersion() string
}

// Pipeline ingests documents into the vector store.
type Pipeline struct {
	config    *Config
	pool      *ants.Pool
	publisher eventstream.Publisher
	logger    *zap.Logger
	ready     atomic.Bool
}

// New creates a pipeline. EnsureReady must succeed before Ingest or Delete.
func New(config *Config) (*Pipeline, error) {
	c := *config
	if err := c.validate(); err != nil {
		return nil, err
	}

	pool, err := ants.NewPool(c.Concurrency)
	if err != nil {
		return nil, fmt.Errorf("creating enrichment pool: %w", err)
	}

	publisher := c.Publisher
	if publisher == nil {
		publisher = nop.NewPublisher()
	}

	return &Pipeline{
		config:    &c,
		pool:      pool,
		publisher: publisher,
		logger:    c.Logger,
	}, nil
}

// EnsureReady configures the vector store and prepares the record manager
// schema. It is idempotent.
func (p *Pipeline) EnsureReady(ctx context.Context) error {
	if err := p.config.Store.Configure(ctx); err != nil {
		return fmt.Errorf("configuring vector store: %w", err)
	}
	if err := p.config.Manager.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("preparing record manager state: %w", err)
	}

	p.ready.Store(true)
	p.logger.Debug("pipeline ready",
		zap.String("collection", p.config.Store.Layout().Name),
		zap.Int("vector_size", p.config.Store.Layout().VectorSize),
		zap.String("namespace", p.config.Manager.Namespace()),
	)
	return nil
}

// Ready reports whether EnsureReady succeeded.
func (p *Pipeline) Ready() bool {
	return p.ready.Load()
}

// Close releases the enrichment pool. The store, manager and publisher are
// owned by the caller.
func (p *Pipeline) Close() {
	p.pool.Release()
}

// Ingest brings the records of sourceID in line with markdown. The returned
// report is never nil; err is non-nil exactly when the report is failed.
func (p *Pipeline) Ingest(ctx context.Context, sourceID, markdown string) (*Report, error) {
	started := time.Now()
	report := &Report{SourceID: sourceID, Status: StatusDone, Errors: []ErrorKind{}}

	err := p.ingest(ctx, sourceID, markdown, report)
	if err != nil && report.Status != StatusFailed {
		report.fail(err)
	}
	report.Duration = time.Since(started)

	fields := []zap.Field{
		zap.String("source_id", sourceID),
		zap.String("status", string(report.Status)),
		zap.Int("added", report.Added),
		zap.Int("updated", report.Updated),
		zap.Int("deleted", report.Deleted),
		zap.Int("skipped", report.Skipped),
		zap.Int("unchanged", report.Unchanged),
		zap.Duration("duration", report.Duration),
	}
	if err != nil {
		p.logger.Error("ingestion failed", append(fields, zap.Error(err))...)
	} else {
		p.logger.Info("ingestion complete", fields...)
	}

	p.publish(ctx, p.ingestionEvent(report, started))
	return report, err
}

func (p *Pipeline) ingest(ctx context.Context, sourceID, markdown string, report *Report) error {
	if !p.ready.Load() {
		return ErrNotReady
	}

	chunks, err := p.config.Splitter.Split(markdown, sourceID)
	if err != nil {
		return err
	}

	session, err := p.config.Manager.Begin(ctx, sourceID)
	if err != nil {
		return err
	}
	defer session.Close()

	modelVersion := p.config.Enricher.ContextModelVersion()
	candidates := make([]recordmanager.Candidate, len(chunks))
	byID := make(map[string]chunk.Chunk, len(chunks))
	for i, c := range chunks {
		id := identity.Of(c)
		candidates[i] = recordmanager.Candidate{ID: id, Fingerprint: identity.Fingerprint(id, modelVersion)}
		byID[id] = c
	}

	plan, err := session.Plan(ctx, candidates)
	if err != nil {
		return err
	}

	toEnrich := make([]chunk.Chunk, 0, len(plan.ToWrite))
	for _, id := range plan.ToWrite {
		toEnrich = append(toEnrich, byID[id])
	}

	enriched, failures := p.enrichAll(ctx, toEnrich, markdown)
	for _, f := range failures {
		report.addFailure(f)
	}
	report.Skipped = len(failures)

	if err := ctx.Err(); err != nil {
		session.Fail(err)
		return err
	}
	if len(failures) > 0 && p.config.FailurePolicy == PolicyAbort {
		report.Status = StatusFailed
		err := fmt.Errorf("aborting %q: %d chunk(s) failed enrichment: %s",
			sourceID, len(failures), failures[0].Message)
		session.Fail(err)
		return err
	}

	records := make([]vector.Record, len(enriched))
	for i, ec := range enriched {
		records[i] = toRecord(ec)
	}

	result, err := session.Apply(ctx, records)
	if err != nil {
		return err
	}

	report.Added = result.Added
	report.Updated = result.Updated
	report.Deleted = result.Deleted
	report.Unchanged = result.Unchanged
	return nil
}

// Delete removes every record of sourceID and its state.
func (p *Pipeline) Delete(ctx context.Context, sourceID string) (int, error) {
	if !p.ready.Load() {
		return 0, ErrNotReady
	}

	started := time.Now()
	deleted, err := p.config.Manager.DeleteSource(ctx, sourceID)
	if err != nil {
		return deleted, err
	}

	event := eventstream.NewEvent(eventstream.EventTypeSourceDeleted, sourceID)
	event.Status = string(StatusDone)
	event.Counts.Deleted = deleted
	event.Run = eventstream.EventRunMeta{
		StartedAt:  started.UTC(),
		DurationMs: time.Since(started).Milliseconds(),
	}
	p.publish(ctx, event)
	return deleted, nil
}

// enrichAll enriches chunks on the pool. It returns the enriched chunks in
// sequence order and the chunks that exhausted their retries. Under
// PolicyAbort the first failure stops further enrichment calls.
func (p *Pipeline) enrichAll(ctx context.Context, chunks []chunk.Chunk, document string) ([]chunk.EnrichedChunk, []ChunkFailure) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]*chunk.EnrichedChunk, len(chunks))
	errs := make([]error, len(chunks))

	done := make(chan struct{}, len(chunks))
	submitted := 0
	for i, c := range chunks {
		if runCtx.Err() != nil {
			break
		}

		task := func() {
			defer func() { done <- struct{}{} }()
			if runCtx.Err() != nil {
				return
			}

			ec, err := p.enrichWithRetry(runCtx, c, document)
			if err != nil {
				errs[i] = err
				if p.config.FailurePolicy == PolicyAbort && !errors.Is(err, context.Canceled) {
					cancel()
				}
				return
			}
			results[i] = &ec
		}

		if err := p.pool.Submit(task); err != nil {
			errs[i] = fmt.Errorf("submitting enrichment of chunk %d: %w", c.SequenceIndex, err)
			continue
		}
		submitted++
	}
	for range submitted {
		<-done
	}

	var (
		enriched []chunk.EnrichedChunk
		failures []ChunkFailure
	)
	for i, c := range chunks {
		switch {
		case results[i] != nil:
			enriched = append(enriched, *results[i])
		case errs[i] != nil && !(errors.Is(errs[i], context.Canceled) && runCtx.Err() != nil):
			p.logger.Warn("chunk enrichment failed",
				zap.String("source_id", c.SourceID),
				zap.Int("sequence_index", c.SequenceIndex),
				zap.Error(errs[i]),
			)
			failures = append(failures, ChunkFailure{
				SequenceIndex: c.SequenceIndex,
				Kind:          KindOf(errs[i]),
				Message:       errs[i].Error(),
			})
		}
	}

	sort.Slice(enriched, func(i, j int) bool { return enriched[i].SequenceIndex < enriched[j].SequenceIndex })
	sort.Slice(failures, func(i, j int) bool { return failures[i].SequenceIndex < failures[j].SequenceIndex })
	return enriched, failures
}

func toRecord(ec chunk.EnrichedChunk) vector.Record {
	metadata := make(map[string]string, len(ec.Metadata)+4)
	for k, v := range ec.Metadata {
		metadata[k] = v
	}
	metadata[vector.MetaSourceID] = ec.SourceID
	metadata[vector.MetaContext] = ec.Context
	metadata[vector.MetaSequenceIndex] = strconv.Itoa(ec.SequenceIndex)
	metadata[vector.MetaContextModelVersion] = ec.ContextModelVersion

	return vector.Record{
		ID:       identity.Identify(ec),
		Content:  ec.Content,
		Metadata: metadata,
	}
}

func (p *Pipeline) ingestionEvent(report *Report, started time.Time) *eventstream.Event {
	event := eventstream.NewEvent(eventstream.EventTypeIngestionCompleted, report.SourceID)
	event.Status = string(report.Status)
	event.Counts = eventstream.EventCounts{
		Added:     report.Added,
		Updated:   report.Updated,
		Deleted:   report.Deleted,
		Skipped:   report.Skipped,
		Unchanged: report.Unchanged,
	}
	for _, kind := range report.Errors {
		event.Errors = append(event.Errors, string(kind))
	}
	event.Run = eventstream.EventRunMeta{
		StartedAt:           started.UTC(),
		DurationMs:          report.Duration.Milliseconds(),
		Mode:                string(p.config.Manager.Mode()),
		ContextModelVersion: p.config.Enricher.ContextModelVersion(),
	}
	return event
}

// publish sends event without failing the run; the index is already
// written when it is called.
func (p *Pipeline) publish(ctx context.Context, event *eventstream.Event) {
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := p.publisher.Publish(pubCtx, event); err != nil {
		p.logger.Warn("failed to publish event",
			zap.String("event_type", event.EventType),
			zap.String("source_id", event.SourceID),
			zap.Error(err),
		)
	}
}
