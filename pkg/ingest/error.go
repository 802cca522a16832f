package ingest

import (
	"context"
	"errors"

	"github.com/papercomputeco/kdb/pkg/chunk"
	"github.com/papercomputeco/kdb/pkg/enrich"
	"github.com/papercomputeco/kdb/pkg/recordmanager"
	"github.com/papercomputeco/kdb/pkg/vector"
)

// ErrNotReady is returned when Ingest or Delete is called before
// EnsureReady succeeded.
var ErrNotReady = errors.New("pipeline not ready: call EnsureReady first")

// ErrorKind names a failure class in reports.
type ErrorKind string

const (
	ErrorKindInvalidInput       ErrorKind = "InvalidInputError"
	ErrorKindEnrichment         ErrorKind = "EnrichmentError"
	ErrorKindStoreUnavailable   ErrorKind = "StoreUnavailableError"
	ErrorKindSchemaConflict     ErrorKind = "SchemaConflictError"
	ErrorKindStateInconsistency ErrorKind = "StateInconsistencyError"
	ErrorKindCancelled          ErrorKind = "CancelledError"
	ErrorKindInternal           ErrorKind = "InternalError"
)

// KindOf classifies err.
func KindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, chunk.ErrInvalidInput):
		return ErrorKindInvalidInput
	case errors.Is(err, enrich.ErrEnrichment):
		return ErrorKindEnrichment
	case errors.Is(err, vector.ErrSchemaConflict):
		return ErrorKindSchemaConflict
	case errors.Is(err, vector.ErrStoreUnavailable):
		return ErrorKindStoreUnavailable
	case errors.Is(err, recordmanager.ErrStateInconsistency):
		return ErrorKindStateInconsistency
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrorKindCancelled
	default:
		return ErrorKindInternal
	}
}
