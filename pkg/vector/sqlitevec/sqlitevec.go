// Package sqlitevec provides a SQLite-backed vector driver using sqlite-vec.
package sqlitevec

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/papercomputeco/kdb/pkg/vector"
)

// Driver implements vector.Driver using SQLite with sqlite-vec.
//
// Each layout maps to three tables: <name> holds id, content and metadata,
// <name>_vec is the vec0 virtual table holding embeddings keyed by the same
// rowid, and <name>_meta records the configured vector size.
type Driver struct {
	db     *sql.DB
	logger *zap.Logger

	mu     sync.RWMutex
	layout *vector.Layout
}

// Config holds configuration for the SQLite vec driver.
type Config struct {
	// DBPath is the path to the SQLite database file.
	// Use ":memory:" for an in-memory database.
	DBPath string
}

// NewDriver creates a new SQLite vector driver backed by sqlite-vec.
func NewDriver(c Config, logger *zap.Logger) (*Driver, error) {
	// enable connection to have sqlite-vec extension
	sqlite_vec.Auto()

	if c.DBPath == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := sql.Open("sqlite3", c.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	// Verify sqlite-vec is loaded
	var vecVersion string
	if err := db.QueryRow("SELECT vec_version()").Scan(&vecVersion); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite-vec not available: %w", err)
	}

	logger.Info("sqlite-vec vector driver initialized",
		zap.String("db_path", c.DBPath),
		zap.String("vec_version", vecVersion),
	)

	return &Driver{
		db:     db,
		logger: logger,
	}, nil
}

// DB exposes the underlying handle so the record manager can share the file.
func (d *Driver) DB() *sql.DB {
	return d.db
}

func (d *Driver) current() (vector.Layout, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.layout == nil {
		return vector.Layout{}, vector.ErrNotConfigured
	}
	return *d.layout, nil
}

// Configure implements vector.Driver.
func (d *Driver) Configure(ctx context.Context, layout vector.Layout) error {
	if err := layout.Validate(); err != nil {
		return err
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s_meta (key TEXT PRIMARY KEY, value TEXT NOT NULL)`, layout.Name,
	)); err != nil {
		return fmt.Errorf("creating meta table: %w", err)
	}

	var stored string
	err = tx.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT value FROM %s_meta WHERE key = 'vector_size'`, layout.Name,
	)).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(
			`INSERT INTO %s_meta(key, value) VALUES ('vector_size', ?)`, layout.Name,
		), strconv.Itoa(layout.VectorSize)); err != nil {
			return fmt.Errorf("recording vector size: %w", err)
		}
	case err != nil:
		return fmt.Errorf("reading vector size: %w", err)
	default:
		if existing, _ := strconv.Atoi(stored); existing != layout.VectorSize {
			return fmt.Errorf("%w: table %q has vector size %d, requested %d",
				vector.ErrSchemaConflict, layout.Name, existing, layout.VectorSize)
		}
	}

	// vec0 virtual tables use integer rowids, so the document table maps
	// string record IDs to rowids.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			%[2]s TEXT NOT NULL UNIQUE,
			%[3]s TEXT NOT NULL DEFAULT '',
			%[4]s TEXT NOT NULL DEFAULT '{}',
			source_id TEXT NOT NULL DEFAULT ''
		)`, layout.Name, layout.IDColumn, layout.ContentColumn, layout.MetadataColumn,
	)); err != nil {
		return fmt.Errorf("creating documents table: %w", err)
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS %[1]s_source_id_idx ON %[1]s(source_id)`, layout.Name,
	)); err != nil {
		return fmt.Errorf("creating source index: %w", err)
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS %s_vec USING vec0(embedding float[%d] distance_metric=cosine)`,
		layout.Name, layout.VectorSize,
	)); err != nil {
		return fmt.Errorf("creating vec0 table: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	d.mu.Lock()
	d.layout = &layout
	d.mu.Unlock()

	d.logger.Debug("sqlite-vec schema ready",
		zap.String("table", layout.Name),
		zap.Int("vector_size", layout.VectorSize),
	)
	return nil
}

// serializeFloat32 converts a float32 slice to a little-endian byte slice
// suitable for sqlite-vec BLOB format.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// Upsert implements vector.Driver. The batch is written in one transaction.
func (d *Driver) Upsert(ctx context.Context, records []vector.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	layout, err := d.current()
	if err != nil {
		return 0, err
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, r := range records {
		if len(r.Embedding) != layout.VectorSize {
			return 0, fmt.Errorf("%w: record %s has %d dimensions, table expects %d",
				vector.ErrSchemaConflict, r.ID, len(r.Embedding), layout.VectorSize)
		}
		metaJSON, err := json.Marshal(r.Metadata)
		if err != nil {
			return 0, fmt.Errorf("encoding metadata for %s: %w", r.ID, err)
		}

		var rowID int64
		err = tx.QueryRowContext(ctx, fmt.Sprintf(
			`SELECT rowid FROM %s WHERE %s = ?`, layout.Name, layout.IDColumn,
		), r.ID).Scan(&rowID)

		switch {
		case err == nil:
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(
				`UPDATE %s SET %s = ?, %s = ?, source_id = ? WHERE rowid = ?`,
				layout.Name, layout.ContentColumn, layout.MetadataColumn,
			), r.Content, string(metaJSON), r.SourceID(), rowID); err != nil {
				return 0, fmt.Errorf("updating record %s: %w", r.ID, err)
			}

			// vec0 does not support UPDATE
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(
				`DELETE FROM %s_vec WHERE rowid = ?`, layout.Name,
			), rowID); err != nil {
				return 0, fmt.Errorf("deleting old embedding for %s: %w", r.ID, err)
			}
		case errors.Is(err, sql.ErrNoRows):
			result, err := tx.ExecContext(ctx, fmt.Sprintf(
				`INSERT INTO %s(%s, %s, %s, source_id) VALUES (?, ?, ?, ?)`,
				layout.Name, layout.IDColumn, layout.ContentColumn, layout.MetadataColumn,
			), r.ID, r.Content, string(metaJSON), r.SourceID())
			if err != nil {
				return 0, fmt.Errorf("inserting record %s: %w", r.ID, err)
			}
			rowID, err = result.LastInsertId()
			if err != nil {
				return 0, fmt.Errorf("getting rowid for %s: %w", r.ID, err)
			}
		default:
			return 0, fmt.Errorf("checking for existing record %s: %w", r.ID, err)
		}

		if _, err := tx.ExecContext(ctx, fmt.Sprintf(
			`INSERT INTO %s_vec(rowid, embedding) VALUES (?, ?)`, layout.Name,
		), rowID, serializeFloat32(r.Embedding)); err != nil {
			return 0, fmt.Errorf("inserting embedding for %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing transaction: %w", err)
	}

	d.logger.Debug("upserted records to sqlite-vec",
		zap.Int("count", len(records)),
	)
	return len(records), nil
}

// whereClause renders filter as a SQL condition over the documents table
// aliased as d.
func whereClause(layout vector.Layout, filter vector.Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if len(filter.IDs) > 0 {
		placeholders := make([]string, len(filter.IDs))
		for i, id := range filter.IDs {
			placeholders[i] = "?"
			args = append(args, id)
		}
		conds = append(conds, fmt.Sprintf("d.%s IN (%s)", layout.IDColumn, strings.Join(placeholders, ",")))
	}
	for _, k := range filter.Keys() {
		if k == vector.MetaSourceID {
			conds = append(conds, "d.source_id = ?")
			args = append(args, filter.Metadata[k])
			continue
		}
		conds = append(conds, fmt.Sprintf("json_extract(d.%s, ?) = ?", layout.MetadataColumn))
		args = append(args, `$."`+k+`"`, filter.Metadata[k])
	}
	if len(conds) == 0 {
		return "1 = 1", nil
	}
	return strings.Join(conds, " AND "), args
}

// Query implements vector.Driver. Unfiltered queries use the vec0 KNN index;
// filtered queries compute cosine distance over the matching rows so the
// filter never starves the result set.
func (d *Driver) Query(ctx context.Context, embedding []float32, topK int, filter vector.Filter) ([]vector.SearchResult, error) {
	layout, err := d.current()
	if err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = vector.DefaultTopK
	}
	queryBlob := serializeFloat32(embedding)

	var rows *sql.Rows
	if filter.IsEmpty() {
		rows, err = d.db.QueryContext(ctx, fmt.Sprintf(`
			SELECT d.%[2]s, d.%[3]s, d.%[4]s, v.distance
			FROM %[1]s_vec v
			INNER JOIN %[1]s d ON d.rowid = v.rowid
			WHERE v.embedding MATCH ?
				AND v.k = ?
			ORDER BY v.distance
		`, layout.Name, layout.IDColumn, layout.ContentColumn, layout.MetadataColumn), queryBlob, topK)
	} else {
		where, args := whereClause(layout, filter)
		args = append([]any{queryBlob}, args...)
		args = append(args, topK)
		rows, err = d.db.QueryContext(ctx, fmt.Sprintf(`
			SELECT d.%[2]s, d.%[3]s, d.%[4]s, vec_distance_cosine(v.embedding, ?) AS distance
			FROM %[1]s d
			INNER JOIN %[1]s_vec v ON v.rowid = d.rowid
			WHERE %[5]s
			ORDER BY distance
			LIMIT ?
		`, layout.Name, layout.IDColumn, layout.ContentColumn, layout.MetadataColumn, where), args...)
	}
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	var results []vector.SearchResult
	for rows.Next() {
		var (
			r        vector.SearchResult
			metaJSON string
			distance float64
		)
		if err := rows.Scan(&r.ID, &r.Content, &metaJSON, &distance); err != nil {
			return nil, fmt.Errorf("scanning query result: %w", err)
		}
		if err := json.Unmarshal([]byte(metaJSON), &r.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata for %s: %w", r.ID, err)
		}
		r.Score = float32(1 - distance)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating query results: %w", err)
	}

	d.logger.Debug("queried sqlite-vec",
		zap.Int("results", len(results)),
	)
	return results, nil
}

// List implements vector.Driver.
func (d *Driver) List(ctx context.Context, filter vector.Filter) ([]vector.Record, error) {
	layout, err := d.current()
	if err != nil {
		return nil, err
	}

	where, args := whereClause(layout, filter)
	rows, err := d.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT d.%[2]s, d.%[3]s, d.%[4]s
		FROM %[1]s d
		WHERE %[5]s
		ORDER BY d.%[2]s
	`, layout.Name, layout.IDColumn, layout.ContentColumn, layout.MetadataColumn, where), args...)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	defer rows.Close()

	var records []vector.Record
	for rows.Next() {
		var (
			r        vector.Record
			metaJSON string
		)
		if err := rows.Scan(&r.ID, &r.Content, &metaJSON); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		if err := json.Unmarshal([]byte(metaJSON), &r.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata for %s: %w", r.ID, err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating records: %w", err)
	}
	return records, nil
}

// DeleteByFilter implements vector.Driver.
func (d *Driver) DeleteByFilter(ctx context.Context, filter vector.Filter) (int, error) {
	if filter.IsEmpty() {
		return 0, vector.ErrEmptyFilter
	}
	layout, err := d.current()
	if err != nil {
		return 0, err
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	where, args := whereClause(layout, filter)
	rows, err := tx.QueryContext(ctx, fmt.Sprintf(
		`SELECT d.rowid FROM %s d WHERE %s`, layout.Name, where,
	), args...)
	if err != nil {
		return 0, fmt.Errorf("querying rowids for deletion: %w", err)
	}

	var rowIDs []int64
	for rows.Next() {
		var rowID int64
		if err := rows.Scan(&rowID); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scanning rowid: %w", err)
		}
		rowIDs = append(rowIDs, rowID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterating rowids: %w", err)
	}

	for _, rowID := range rowIDs {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(
			`DELETE FROM %s_vec WHERE rowid = ?`, layout.Name,
		), rowID); err != nil {
			return 0, fmt.Errorf("deleting embedding rowid %d: %w", rowID, err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(
			`DELETE FROM %s WHERE rowid = ?`, layout.Name,
		), rowID); err != nil {
			return 0, fmt.Errorf("deleting record rowid %d: %w", rowID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing transaction: %w", err)
	}

	d.logger.Debug("deleted records from sqlite-vec",
		zap.Int("count", len(rowIDs)),
	)
	return len(rowIDs), nil
}

// Close releases resources held by the driver.
func (d *Driver) Close() error {
	return d.db.Close()
}

var _ vector.Driver = (*Driver)(nil)
