package ingest

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/kdb/pkg/eventstream"
	"github.com/papercomputeco/kdb/pkg/recordmanager"
	"github.com/papercomputeco/kdb/pkg/vector"
)

// FailurePolicy decides what happens to a run when a chunk exhausts its
// enrichment retries.
type FailurePolicy string

const (
	// PolicySkip drops the failing chunk from the run and writes the rest.
	PolicySkip FailurePolicy = "skip"

	// PolicyAbort fails the whole run and writes nothing.
	PolicyAbort FailurePolicy = "abort"
)

const (
	DefaultConcurrency = 4
	DefaultMaxRetries  = 1
	DefaultRetryDelay  = 500 * time.Millisecond
)

// ParseFailurePolicy parses a configured policy name. The empty string
// selects PolicySkip.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(s) {
	case "", PolicySkip:
		return PolicySkip, nil
	case PolicyAbort:
		return PolicyAbort, nil
	default:
		return "", fmt.Errorf("unknown failure policy %q (want %s or %s)", s, PolicySkip, PolicyAbort)
	}
}

// Config is the configuration for a Pipeline.
type Config struct {
	// Splitter turns markdown into chunks.
	Splitter Splitter

	// Enricher annotates chunks with a generated context.
	Enricher Enricher

	// Store is the vector store adapter. It must be the same store the
	// Manager writes through.
	Store *vector.Store

	// Manager tracks which records were written per source.
	Manager *recordmanager.Manager

	// Publisher receives an event after every run. Optional.
	Publisher eventstream.Publisher

	// Concurrency bounds in-flight enrichment calls (defaults to 4).
	Concurrency int

	// MaxRetries is how many times a failed enrichment is retried before
	// FailurePolicy applies.
	MaxRetries int

	// RetryDelay is the base backoff between enrichment attempts (defaults to
	// 500ms).
	RetryDelay time.Duration

	// FailurePolicy is PolicySkip unless set.
	FailurePolicy FailurePolicy

	// Logger is the provided zap logger.
	Logger *zap.Logger
}

func (c *Config) validate() error {
	switch {
	case c.Splitter == nil:
		return fmt.Errorf("splitter is required")
	case c.Enricher == nil:
		return fmt.Errorf("enricher is required")
	case c.Store == nil:
		return fmt.Errorf("vector store is required")
	case c.Manager == nil:
		return fmt.Errorf("record manager is required")
	case c.MaxRetries < 0:
		return fmt.Errorf("max retries must not be negative, got %d", c.MaxRetries)
	}

	if c.FailurePolicy == "" {
		c.FailurePolicy = PolicySkip
	}
	if _, err := ParseFailurePolicy(string(c.FailurePolicy)); err != nil {
		return err
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return nil
}
