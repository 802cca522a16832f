package vector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
)

var (
	// ErrStoreUnavailable is returned for transient failures reaching the
	// vector store. Callers may retry.
	ErrStoreUnavailable = errors.New("vector store unavailable")

	// ErrSchemaConflict is returned when an existing schema does not match
	// the requested layout or a record does not fit it. Not retryable.
	ErrSchemaConflict = errors.New("vector store schema conflict")

	// ErrEmptyFilter is returned when a delete would match every record.
	ErrEmptyFilter = errors.New("refusing to delete with an empty filter")

	// ErrUnsupportedFilter is returned when a backend cannot express a filter.
	ErrUnsupportedFilter = errors.New("unsupported filter")

	// ErrNotConfigured is returned when the store is used before Configure.
	ErrNotConfigured = errors.New("vector store not configured")
)

// IsTransient reports whether err looks like a temporary transport failure:
// refused or reset connections, timeouts and unexpected EOFs.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrStoreUnavailable) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// Classify wraps err in ErrStoreUnavailable when it is transient and returns
// it with op as context otherwise.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrSchemaConflict) {
		return err
	}
	if IsTransient(err) {
		return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// StatusError converts an unexpected HTTP status into an error, treating
// 429 and 5xx as ErrStoreUnavailable.
func StatusError(op string, status int, body []byte) error {
	if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
		return fmt.Errorf("%w: %s: status %d: %s", ErrStoreUnavailable, op, status, string(body))
	}
	return fmt.Errorf("%s: status %d: %s", op, status, string(body))
}
