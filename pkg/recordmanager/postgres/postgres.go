// Package postgres provides a recordmanager.State stored in PostgreSQL, with
// advisory locks for cross-process exclusion per source.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/papercomputeco/kdb/pkg/postgres"
	"github.com/papercomputeco/kdb/pkg/recordmanager"
	"github.com/papercomputeco/kdb/pkg/vector"
)

// State stores entries in the kdb_record_manager table.
type State struct {
	db *sql.DB
}

// NewState opens a handle for connStr. No connection is made until first use.
func NewState(connStr string) (*State, error) {
	db, err := postgres.Open(connStr)
	if err != nil {
		return nil, err
	}
	return &State{db: db}, nil
}

// NewStateFromDB wraps an existing handle. Close closes it.
func NewStateFromDB(db *sql.DB) *State {
	return &State{db: db}
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if postgres.IsTransient(err) {
		return fmt.Errorf("%w: %s: %w", vector.ErrStoreUnavailable, op, err)
	}
	return vector.Classify(op, err)
}

func (s *State) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS kdb_record_manager (
			namespace TEXT NOT NULL,
			key TEXT NOT NULL,
			group_id TEXT NOT NULL,
			fingerprint TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (namespace, key)
		)`,
		`CREATE INDEX IF NOT EXISTS kdb_record_manager_group_idx
			ON kdb_record_manager(namespace, group_id)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return classify("creating record manager table", err)
		}
	}
	return nil
}

// Lock takes a session-level advisory lock on a dedicated connection. The
// lock is released, and the connection returned to the pool, by the returned
// function.
func (s *State) Lock(ctx context.Context, namespace, groupID string) (func(), error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, classify("acquiring connection", err)
	}

	lockKey := namespace + "/" + groupID
	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock(hashtextextended($1, 0))`, lockKey); err != nil {
		conn.Close()
		return nil, classify("taking advisory lock", err)
	}

	return func() {
		_, _ = conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock(hashtextextended($1, 0))`, lockKey)
		conn.Close()
	}, nil
}

func (s *State) List(ctx context.Context, namespace, groupID string) ([]recordmanager.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, group_id, fingerprint, updated_at
		FROM kdb_record_manager
		WHERE namespace = $1 AND group_id = $2
		ORDER BY key
	`, namespace, groupID)
	if err != nil {
		return nil, classify("listing entries", err)
	}
	defer rows.Close()

	var entries []recordmanager.Entry
	for rows.Next() {
		var e recordmanager.Entry
		if err := rows.Scan(&e.Key, &e.GroupID, &e.Fingerprint, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterating entries", err)
	}
	return entries, nil
}

func (s *State) write(ctx context.Context, stmt, namespace string, entries []recordmanager.Entry, withFingerprint bool) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("beginning transaction", err)
	}
	defer tx.Rollback()

	for _, e := range entries {
		fingerprint := ""
		if withFingerprint {
			fingerprint = e.Fingerprint
		}
		if _, err := tx.ExecContext(ctx, stmt, namespace, e.Key, e.GroupID, fingerprint, e.UpdatedAt); err != nil {
			return classify("writing entry "+e.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return classify("committing transaction", err)
	}
	return nil
}

func (s *State) Stage(ctx context.Context, namespace string, entries []recordmanager.Entry) error {
	return s.write(ctx, `
		INSERT INTO kdb_record_manager(namespace, key, group_id, fingerprint, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (namespace, key) DO NOTHING
	`, namespace, entries, false)
}

func (s *State) Commit(ctx context.Context, namespace string, entries []recordmanager.Entry) error {
	return s.write(ctx, `
		INSERT INTO kdb_record_manager(namespace, key, group_id, fingerprint, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (namespace, key) DO UPDATE SET
			group_id = EXCLUDED.group_id,
			fingerprint = EXCLUDED.fingerprint,
			updated_at = EXCLUDED.updated_at
	`, namespace, entries, true)
}

func (s *State) Delete(ctx context.Context, namespace string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM kdb_record_manager WHERE namespace = $1 AND key = ANY($2)`,
		namespace, keys)
	if err != nil {
		return classify("deleting entries", err)
	}
	return nil
}

func (s *State) Groups(ctx context.Context, namespace string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT group_id FROM kdb_record_manager
		WHERE namespace = $1
		ORDER BY group_id
	`, namespace)
	if err != nil {
		return nil, classify("listing groups", err)
	}
	defer rows.Close()

	var groups []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, fmt.Errorf("scanning group: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func (s *State) Close() error {
	return s.db.Close()
}

var _ recordmanager.State = (*State)(nil)
