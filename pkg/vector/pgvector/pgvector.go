// Package pgvector provides a PostgreSQL vector driver using the pgvector
// extension.
package pgvector

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	pgv "github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/papercomputeco/kdb/pkg/postgres"
	"github.com/papercomputeco/kdb/pkg/vector"
)

// embeddingColumn is fixed; the layout only names the id, content and
// metadata columns.
const embeddingColumn = "embedding"

// Driver implements vector.Driver on a pgvector table.
type Driver struct {
	db     *sql.DB
	logger *zap.Logger

	mu     sync.RWMutex
	layout *vector.Layout
}

// Config holds configuration for the pgvector driver.
type Config struct {
	// ConnStr is a PostgreSQL connection string or URI.
	ConnStr string
}

// NewDriver opens a handle to the database. No connection is made until
// Configure.
func NewDriver(c Config, logger *zap.Logger) (*Driver, error) {
	db, err := postgres.Open(c.ConnStr)
	if err != nil {
		return nil, err
	}
	return &Driver{db: db, logger: logger}, nil
}

// NewDriverFromDB wraps an existing handle. Close closes it.
func NewDriverFromDB(db *sql.DB, logger *zap.Logger) *Driver {
	return &Driver{db: db, logger: logger}
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

func (d *Driver) current() (vector.Layout, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.layout == nil {
		return vector.Layout{}, vector.ErrNotConfigured
	}
	return *d.layout, nil
}

// Configure implements vector.Driver. It enables the extension, creates the
// table and indexes if absent, and checks the dimension of an existing
// embedding column.
func (d *Driver) Configure(ctx context.Context, layout vector.Layout) error {
	if err := layout.Validate(); err != nil {
		return err
	}

	if _, err := d.db.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return classify("creating vector extension", err)
	}

	table := postgres.QuoteIdentifier(layout.Name)

	// For vector columns atttypmod holds the declared dimension. to_regclass
	// folds unquoted names, so it gets the quoted form the table is created with.
	var existing int
	err := d.db.QueryRowContext(ctx, `
		SELECT atttypmod FROM pg_attribute
		WHERE attrelid = to_regclass($1) AND attname = $2 AND NOT attisdropped
	`, table, embeddingColumn).Scan(&existing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return classify("inspecting table", err)
	case existing != layout.VectorSize:
		return fmt.Errorf("%w: table %q has vector size %d, requested %d",
			vector.ErrSchemaConflict, layout.Name, existing, layout.VectorSize)
	}

	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			%s TEXT PRIMARY KEY,
			%s TEXT NOT NULL,
			%s vector(%d) NOT NULL,
			%s JSONB NOT NULL DEFAULT '{}'::jsonb
		)`, table,
			postgres.QuoteIdentifier(layout.IDColumn),
			postgres.QuoteIdentifier(layout.ContentColumn),
			embeddingColumn, layout.VectorSize,
			postgres.QuoteIdentifier(layout.MetadataColumn)),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s ((%s->>'source_id'))`,
			postgres.QuoteIdentifier(layout.Name+"_source_id_idx"), table,
			postgres.QuoteIdentifier(layout.MetadataColumn)),
	}
	if layout.HNSW {
		statements = append(statements, fmt.Sprintf(
			`CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (%s vector_cosine_ops)`,
			postgres.QuoteIdentifier(layout.Name+"_embedding_hnsw_idx"), table, embeddingColumn))
	}

	for _, stmt := range statements {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return classify("creating schema", err)
		}
	}

	d.mu.Lock()
	d.layout = &layout
	d.mu.Unlock()

	d.logger.Info("pgvector table ready",
		zap.String("table", layout.Name),
		zap.Int("vector_size", layout.VectorSize),
		zap.Bool("hnsw", layout.HNSW),
	)
	return nil
}

// Upsert implements vector.Driver using INSERT ... ON CONFLICT in one
// transaction.
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
		return 0, classify("beginning transaction", err)
	}
	defer tx.Rollback()

	stmt := fmt.Sprintf(`
		INSERT INTO %[1]s (%[2]s, %[3]s, %[5]s, %[4]s)
		VALUES ($1, $2, $3, $4::jsonb)
		ON CONFLICT (%[2]s) DO UPDATE SET
			%[3]s = EXCLUDED.%[3]s,
			%[5]s = EXCLUDED.%[5]s,
			%[4]s = EXCLUDED.%[4]s
	`, postgres.QuoteIdentifier(layout.Name),
		postgres.QuoteIdentifier(layout.IDColumn),
		postgres.QuoteIdentifier(layout.ContentColumn),
		postgres.QuoteIdentifier(layout.MetadataColumn),
		embeddingColumn)

	for _, r := range records {
		if len(r.Embedding) != layout.VectorSize {
			return 0, fmt.Errorf("%w: record %s has %d dimensions, table expects %d",
				vector.ErrSchemaConflict, r.ID, len(r.Embedding), layout.VectorSize)
		}
		metaJSON, err := json.Marshal(r.Metadata)
		if err != nil {
			return 0, fmt.Errorf("encoding metadata for %s: %w", r.ID, err)
		}
		if _, err := tx.ExecContext(ctx, stmt, r.ID, r.Content, pgv.NewVector(r.Embedding), string(metaJSON)); err != nil {
			return 0, classify("upserting record "+r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, classify("committing upsert", err)
	}

	d.logger.Debug("upserted records to pgvector",
		zap.Int("count", len(records)),
	)
	return len(records), nil
}

// buildWhere renders filter as a condition with placeholders starting at
// $firstArg.
func buildWhere(layout vector.Layout, filter vector.Filter, firstArg int) (string, []any, error) {
	var (
		conds []string
		args  []any
	)
	next := firstArg

	if len(filter.IDs) > 0 {
		conds = append(conds, fmt.Sprintf("%s = ANY($%d)", postgres.QuoteIdentifier(layout.IDColumn), next))
		args = append(args, filter.IDs)
		next++
	}
	if len(filter.Metadata) > 0 {
		containment, err := json.Marshal(filter.Metadata)
		if err != nil {
			return "", nil, fmt.Errorf("encoding filter: %w", err)
		}
		conds = append(conds, fmt.Sprintf("%s @> $%d::jsonb", postgres.QuoteIdentifier(layout.MetadataColumn), next))
		args = append(args, string(containment))
	}

	if len(conds) == 0 {
		return "TRUE", nil, nil
	}
	return strings.Join(conds, " AND "), args, nil
}

// Query implements vector.Driver. Scores are cosine similarities.
func (d *Driver) Query(ctx context.Context, embedding []float32, topK int, filter vector.Filter) ([]vector.SearchResult, error) {
	layout, err := d.current()
	if err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = vector.DefaultTopK
	}

	where, args, err := buildWhere(layout, filter, 3)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT %[2]s, %[3]s, %[4]s, 1 - (%[5]s <=> $1) AS score
		FROM %[1]s
		WHERE %[6]s
		ORDER BY %[5]s <=> $1
		LIMIT $2
	`, postgres.QuoteIdentifier(layout.Name),
		postgres.QuoteIdentifier(layout.IDColumn),
		postgres.QuoteIdentifier(layout.ContentColumn),
		postgres.QuoteIdentifier(layout.MetadataColumn),
		embeddingColumn, where)

	rows, err := d.db.QueryContext(ctx, query, append([]any{pgv.NewVector(embedding), topK}, args...)...)
	if err != nil {
		return nil, classify("querying vectors", err)
	}
	defer rows.Close()

	var results []vector.SearchResult
	for rows.Next() {
		var (
			r        vector.SearchResult
			metaJSON []byte
			score    float64
		)
		if err := rows.Scan(&r.ID, &r.Content, &metaJSON, &score); err != nil {
			return nil, fmt.Errorf("scanning query result: %w", err)
		}
		if err := json.Unmarshal(metaJSON, &r.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata for %s: %w", r.ID, err)
		}
		r.Score = float32(score)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterating query results", err)
	}

	d.logger.Debug("queried pgvector",
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

	where, args, err := buildWhere(layout, filter, 1)
	if err != nil {
		return nil, err
	}

	rows, err := d.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT %[2]s, %[3]s, %[4]s FROM %[1]s WHERE %[5]s ORDER BY %[2]s`,
		postgres.QuoteIdentifier(layout.Name),
		postgres.QuoteIdentifier(layout.IDColumn),
		postgres.QuoteIdentifier(layout.ContentColumn),
		postgres.QuoteIdentifier(layout.MetadataColumn),
		where), args...)
	if err != nil {
		return nil, classify("listing records", err)
	}
	defer rows.Close()

	var records []vector.Record
	for rows.Next() {
		var (
			r        vector.Record
			metaJSON []byte
		)
		if err := rows.Scan(&r.ID, &r.Content, &metaJSON); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		if err := json.Unmarshal(metaJSON, &r.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata for %s: %w", r.ID, err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterating records", err)
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

	where, args, err := buildWhere(layout, filter, 1)
	if err != nil {
		return 0, err
	}

	res, err := d.db.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE %s`, postgres.QuoteIdentifier(layout.Name), where), args...)
	if err != nil {
		return 0, classify("deleting records", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading deleted count: %w", err)
	}

	d.logger.Debug("deleted records from pgvector",
		zap.Int64("count", n),
	)
	return int(n), nil
}

// Close releases the database handle.
func (d *Driver) Close() error {
	return d.db.Close()
}

var _ vector.Driver = (*Driver)(nil)
