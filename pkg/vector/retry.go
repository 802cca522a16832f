package vector

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/kdb/pkg/utils"
)

const (
	DefaultRetryAttempts = 3
	DefaultRetryDelay    = 500 * time.Millisecond
)

// RetryDriver wraps a Driver and retries calls that fail with
// ErrStoreUnavailable using exponential backoff. Other errors are returned
// immediately.
type RetryDriver struct {
	driver      Driver
	maxAttempts int
	baseDelay   time.Duration
	logger      *zap.Logger
}

// NewRetryDriver wraps driver. Non-positive values fall back to
// DefaultRetryAttempts and DefaultRetryDelay.
func NewRetryDriver(driver Driver, maxAttempts int, baseDelay time.Duration, logger *zap.Logger) *RetryDriver {
	if maxAttempts <= 0 {
		maxAttempts = DefaultRetryAttempts
	}
	if baseDelay <= 0 {
		baseDelay = DefaultRetryDelay
	}
	return &RetryDriver{
		driver:      driver,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		logger:      logger,
	}
}

func (d *RetryDriver) do(ctx context.Context, op string, fn func() error) error {
	attempt := 0
	return utils.RetryWithBackoff(ctx, d.maxAttempts, d.baseDelay, isUnavailable, func() error {
		attempt++
		err := fn()
		if err != nil && isUnavailable(err) && attempt < d.maxAttempts {
			d.logger.Warn("vector store call failed, retrying",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
		return err
	})
}

func isUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// Configure implements Driver.
func (d *RetryDriver) Configure(ctx context.Context, layout Layout) error {
	return d.do(ctx, "configure", func() error {
		return d.driver.Configure(ctx, layout)
	})
}

// Upsert implements Driver.
func (d *RetryDriver) Upsert(ctx context.Context, records []Record) (int, error) {
	var n int
	err := d.do(ctx, "upsert", func() error {
		var err error
		n, err = d.driver.Upsert(ctx, records)
		return err
	})
	return n, err
}

// Query implements Driver.
func (d *RetryDriver) Query(ctx context.Context, embedding []float32, topK int, filter Filter) ([]SearchResult, error) {
	var results []SearchResult
	err := d.do(ctx, "query", func() error {
		var err error
		results, err = d.driver.Query(ctx, embedding, topK, filter)
		return err
	})
	return results, err
}

// DeleteByFilter implements Driver.
func (d *RetryDriver) DeleteByFilter(ctx context.Context, filter Filter) (int, error) {
	var n int
	err := d.do(ctx, "delete", func() error {
		var err error
		n, err = d.driver.DeleteByFilter(ctx, filter)
		return err
	})
	return n, err
}

// List implements Driver.
func (d *RetryDriver) List(ctx context.Context, filter Filter) ([]Record, error) {
	var records []Record
	err := d.do(ctx, "list", func() error {
		var err error
		records, err = d.driver.List(ctx, filter)
		return err
	})
	return records, err
}

// Close implements Driver.
func (d *RetryDriver) Close() error {
	return d.driver.Close()
}

var _ Driver = (*RetryDriver)(nil)
