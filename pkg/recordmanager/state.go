// Package recordmanager implements incremental indexing: it remembers which
// record ids were written for each source document and turns a new set of
// chunks into the minimal set of upserts and deletes.
package recordmanager

import (
	"context"
	"time"
)

// DefaultNamespace scopes state rows when no namespace is configured.
const DefaultNamespace = "kdb_records"

// Entry is one row of record manager state: a record id written under a
// source (group) with the fingerprint of the content that produced it.
type Entry struct {
	Key         string    `json:"key"`
	GroupID     string    `json:"group_id"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Pending reports whether the entry was staged by a run that never committed.
func (e Entry) Pending() bool {
	return e.Fingerprint == ""
}

// State persists entries. Implementations must be safe for concurrent use.
type State interface {
	// EnsureSchema creates the backing tables if absent.
	EnsureSchema(ctx context.Context) error

	// Lock takes an exclusive lock on (namespace, groupID) that is held
	// until the returned function is called.
	Lock(ctx context.Context, namespace, groupID string) (func(), error)

	// List returns the entries of a group ordered by key.
	List(ctx context.Context, namespace, groupID string) ([]Entry, error)

	// Stage inserts entries that do not exist yet with an empty
	// fingerprint. Existing entries are left untouched.
	Stage(ctx context.Context, namespace string, entries []Entry) error

	// Commit inserts or replaces entries.
	Commit(ctx context.Context, namespace string, entries []Entry) error

	// Delete removes entries by key.
	Delete(ctx context.Context, namespace string, keys []string) error

	// Groups returns every group id with at least one entry.
	Groups(ctx context.Context, namespace string) ([]string, error)

	// Close releases resources held by the state.
	Close() error
}
