// Package sqlite provides a recordmanager.State stored in a SQLite table.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/papercomputeco/kdb/pkg/recordmanager"
)

// State stores entries in the kdb_record_manager table.
type State struct {
	db *sql.DB
}

// NewState opens the database at path. Use ":memory:" for a throwaway
// database.
func NewState(path string) (*State, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)
	return &State{db: db}, nil
}

func (s *State) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS kdb_record_manager (
			namespace TEXT NOT NULL,
			key TEXT NOT NULL,
			group_id TEXT NOT NULL,
			fingerprint TEXT NOT NULL DEFAULT '',
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (namespace, key)
		);
		CREATE INDEX IF NOT EXISTS kdb_record_manager_group_idx
			ON kdb_record_manager(namespace, group_id);
	`)
	if err != nil {
		return fmt.Errorf("creating record manager table: %w", err)
	}
	return nil
}

// Lock is a no-op. SQLite serializes writers itself and kdb holds the
// in-process lock; concurrent kdb processes on one file are not coordinated.
func (s *State) Lock(context.Context, string, string) (func(), error) {
	return func() {}, nil
}

func (s *State) List(ctx context.Context, namespace, groupID string) ([]recordmanager.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, group_id, fingerprint, updated_at
		FROM kdb_record_manager
		WHERE namespace = ? AND group_id = ?
		ORDER BY key
	`, namespace, groupID)
	if err != nil {
		return nil, fmt.Errorf("listing entries: %w", err)
	}
	defer rows.Close()

	var entries []recordmanager.Entry
	for rows.Next() {
		var (
			e       recordmanager.Entry
			updated int64
		)
		if err := rows.Scan(&e.Key, &e.GroupID, &e.Fingerprint, &updated); err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		e.UpdatedAt = time.UnixMilli(updated).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entries: %w", err)
	}
	return entries, nil
}

func (s *State) write(ctx context.Context, stmt string, namespace string, entries []recordmanager.Entry, withFingerprint bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, e := range entries {
		fingerprint := ""
		if withFingerprint {
			fingerprint = e.Fingerprint
		}
		if _, err := tx.ExecContext(ctx, stmt,
			namespace, e.Key, e.GroupID, fingerprint, e.UpdatedAt.UnixMilli(),
		); err != nil {
			return fmt.Errorf("writing entry %s: %w", e.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *State) Stage(ctx context.Context, namespace string, entries []recordmanager.Entry) error {
	return s.write(ctx, `
		INSERT INTO kdb_record_manager(namespace, key, group_id, fingerprint, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(namespace, key) DO NOTHING
	`, namespace, entries, false)
}

func (s *State) Commit(ctx context.Context, namespace string, entries []recordmanager.Entry) error {
	return s.write(ctx, `
		INSERT INTO kdb_record_manager(namespace, key, group_id, fingerprint, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET
			group_id = excluded.group_id,
			fingerprint = excluded.fingerprint,
			updated_at = excluded.updated_at
	`, namespace, entries, true)
}

func (s *State) Delete(ctx context.Context, namespace string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	placeholders := make([]string, len(keys))
	args := make([]any, 0, len(keys)+1)
	args = append(args, namespace)
	for i, k := range keys {
		placeholders[i] = "?"
		args = append(args, k)
	}

	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM kdb_record_manager WHERE namespace = ? AND key IN (%s)`,
		strings.Join(placeholders, ","),
	), args...)
	if err != nil {
		return fmt.Errorf("deleting entries: %w", err)
	}
	return nil
}

func (s *State) Groups(ctx context.Context, namespace string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT group_id FROM kdb_record_manager
		WHERE namespace = ?
		ORDER BY group_id
	`, namespace)
	if err != nil {
		return nil, fmt.Errorf("listing groups: %w", err)
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
