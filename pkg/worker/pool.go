// Package worker provides an asynchronous worker pool that keeps the index in
// sync with documents as they change on disk.
//
// The pool decouples indexing from whatever notices the change (a file
// watcher, an API handler) so that slow enrichment never blocks it.
package worker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/papercomputeco/kdb/pkg/ingest"
	"github.com/papercomputeco/kdb/pkg/source"
)

var (
	defaultNumWorkers   uint = 2
	defaultJobQueueSize uint = 256
)

// Op is the change that triggered a job.
type Op string

const (
	OpIngest Op = "ingest"
	OpDelete Op = "delete"
)

// Job is a unit of work for the worker pool to execute against.
type Job struct {
	SourceID string
	Op       Op
}

// Indexer is the part of the ingestion pipeline the pool drives.
type Indexer interface {
	Ingest(ctx context.Context, sourceID, markdown string) (*ingest.Report, error)
	Delete(ctx context.Context, sourceID string) (int, error)
}

// Config is the configuration options for the worker pool.
type Config struct {
	// Indexer ingests and deletes documents.
	Indexer Indexer

	// Loader reads the current content of a document by source id.
	Loader source.Loader

	// NumWorkers is the number of background workers in the pool.
	NumWorkers uint

	// QueueSize is the capacity of the buffered job channel (defaults to 256).
	QueueSize uint

	// OnReport, when set, is called with the report of every ingestion.
	OnReport func(*ingest.Report)

	// Logger is the provided zap logger
	Logger *zap.Logger
}

// Pool processes indexing jobs asynchronously via a worker pool.
type Pool struct {
	config *Config
	queue  chan Job
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger

	// mu guards closed against concurrent Enqueue and Close.
	mu     sync.RWMutex
	closed bool
}

// NewPool creates a new Pool and starts its worker goroutines.
func NewPool(c *Config) (*Pool, error) {
	if c.Indexer == nil || c.Loader == nil {
		return nil, errors.New("indexer and loader are required")
	}

	if c.NumWorkers == 0 {
		c.NumWorkers = defaultNumWorkers
	}

	if c.QueueSize == 0 {
		c.QueueSize = defaultJobQueueSize
	}

	if c.NumWorkers > uint(math.MaxInt) {
		return nil, fmt.Errorf("NumWorkers %d exceeds max int", c.NumWorkers)
	}

	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	wp := &Pool{
		config: c,
		queue:  make(chan Job, c.QueueSize),
		ctx:    ctx,
		cancel: cancel,
		logger: c.Logger,
	}

	wp.wg.Add(int(c.NumWorkers))
	for i := range c.NumWorkers {
		go wp.worker(i)
	}

	return wp, nil
}

// Enqueue submits a job for processing by the worker pool.
// Returns true if enqueued, false if the queue is full or the pool is closed,
// resulting in the job being dropped
func (p *Pool) Enqueue(job Job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.logger.Warn("job not queued, pool closed",
			zap.String("source_id", job.SourceID),
			zap.String("op", string(job.Op)),
		)
		return false
	}

	select {
	case p.queue <- job:
		p.logger.Debug("job queued",
			zap.String("source_id", job.SourceID),
			zap.String("op", string(job.Op)),
		)
		return true
	default:
		p.logger.Error("job not queued, queue full, job dropped",
			zap.String("source_id", job.SourceID),
			zap.String("op", string(job.Op)),
		)
		return false
	}
}

// Close signals workers to stop and waits for in-flight jobs to drain. Jobs
// enqueued afterwards are dropped.
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	p.wg.Wait()
	p.cancel()
}

// Abort cancels in-flight jobs, then closes the pool. Queued jobs are
// dropped.
func (p *Pool) Abort() {
	p.cancel()
	p.Close()
}

// worker is the inner worker thread that continuously pulls jobs off the jobs queue
func (p *Pool) worker(id uint) {
	defer p.wg.Done()
	p.logger.Debug("worker started", zap.Uint("worker_id", id))

	for job := range p.queue {
		if p.ctx.Err() != nil {
			continue
		}
		p.processJob(p.ctx, job)
	}

	p.logger.Debug("index worker stopped", zap.Uint("worker_id", id))
}

// processJob syncs one source with its current content. A job never trusts
// its Op: a document that is gone is deleted and one that exists is
// ingested, so jobs for the same source converge whatever order they run in.
func (p *Pool) processJob(ctx context.Context, job Job) {
	markdown, err := p.config.Loader.Load(ctx, job.SourceID)
	switch {
	case errors.Is(err, source.ErrNotFound):
		deleted, err := p.config.Indexer.Delete(ctx, job.SourceID)
		if err != nil {
			p.logger.Error("deleting source failed",
				zap.String("source_id", job.SourceID),
				zap.Error(err),
			)
			return
		}
		p.logger.Info("source removed",
			zap.String("source_id", job.SourceID),
			zap.Int("deleted", deleted),
		)
		return
	case err != nil:
		p.logger.Error("loading source failed",
			zap.String("source_id", job.SourceID),
			zap.Error(err),
		)
		return
	}

	report, err := p.config.Indexer.Ingest(ctx, job.SourceID, markdown)
	if p.config.OnReport != nil && report != nil {
		p.config.OnReport(report)
	}
	if err != nil {
		p.logger.Error("ingesting source failed",
			zap.String("source_id", job.SourceID),
			zap.String("op", string(job.Op)),
			zap.Error(err),
		)
	}
}
