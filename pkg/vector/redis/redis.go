// Package redis provides a Redis Stack (RediSearch) vector driver.
package redis

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/papercomputeco/kdb/pkg/vector"
)

const (
	embeddingField = "embedding"
	scoreField     = "__score"

	// sourceKeyField indexes a hex digest of the source id so that TAG
	// tokenization and case folding never apply to the id itself.
	sourceKeyField = "source_key"

	// listPageSize bounds each FT.SEARCH page when listing records.
	listPageSize = 1000
)

// Driver implements vector.Driver on a RediSearch index over hashes. Each
// record is a hash under "<name>:<id>".
type Driver struct {
	client *goredis.Client
	logger *zap.Logger

	mu     sync.RWMutex
	layout *vector.Layout
}

// Config holds configuration for the Redis driver.
type Config struct {
	// URL is a redis:// or rediss:// URL.
	URL string
}

// NewDriver creates a client for c.URL. No connection is made until
// Configure.
func NewDriver(c Config, logger *zap.Logger) (*Driver, error) {
	if c.URL == "" {
		return nil, fmt.Errorf("redis URL is required")
	}

	opts, err := goredis.ParseURL(c.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}
	// FT.* replies are parsed in their RESP2 array form.
	opts.Protocol = 2
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 3 * time.Second
	}

	return &Driver{
		client: goredis.NewClient(opts),
		logger: logger,
	}, nil
}

func (d *Driver) current() (vector.Layout, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.layout == nil {
		return vector.Layout{}, vector.ErrNotConfigured
	}
	return *d.layout, nil
}

func keyPrefix(layout vector.Layout) string {
	return layout.Name + ":"
}

// Configure implements vector.Driver. The index is created with FT.CREATE
// when FT.INFO does not know it; otherwise its embedding dimension is
// compared with the layout.
func (d *Driver) Configure(ctx context.Context, layout vector.Layout) error {
	if err := layout.Validate(); err != nil {
		return err
	}

	info, err := d.client.Do(ctx, "FT.INFO", layout.Name).Result()
	switch {
	case err == nil:
		if dim, ok := parseDim(info); ok && dim != layout.VectorSize {
			return fmt.Errorf("%w: index %q has vector size %d, requested %d",
				vector.ErrSchemaConflict, layout.Name, dim, layout.VectorSize)
		}
	case isUnknownIndex(err):
		if err := d.createIndex(ctx, layout); err != nil {
			return err
		}
	default:
		return vector.Classify("inspecting index", err)
	}

	d.mu.Lock()
	d.layout = &layout
	d.mu.Unlock()

	d.logger.Info("redis index ready",
		zap.String("index", layout.Name),
		zap.Int("vector_size", layout.VectorSize),
	)
	return nil
}

func isUnknownIndex(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unknown index") || strings.Contains(msg, "no such index")
}

func (d *Driver) createIndex(ctx context.Context, layout vector.Layout) error {
	algorithm := "FLAT"
	if layout.HNSW {
		algorithm = "HNSW"
	}

	args := []any{
		"FT.CREATE", layout.Name,
		"ON", "HASH",
		"PREFIX", 1, keyPrefix(layout),
		"SCHEMA",
		layout.ContentColumn, "TEXT",
		sourceKeyField, "TAG", "CASESENSITIVE",
		vector.MetaContext, "TEXT",
		vector.MetaSequenceIndex, "NUMERIC",
		embeddingField, "VECTOR", algorithm, 6,
		"TYPE", "FLOAT32",
		"DIM", layout.VectorSize,
		"DISTANCE_METRIC", "COSINE",
	}
	if err := d.client.Do(ctx, args...).Err(); err != nil {
		// Another process may have created it in the meantime.
		if strings.Contains(strings.ToLower(err.Error()), "index already exists") {
			return nil
		}
		return vector.Classify("creating index", err)
	}
	return nil
}

// parseDim finds the DIM of the embedding attribute in an FT.INFO reply.
func parseDim(info any) (int, bool) {
	pairs, ok := info.([]any)
	if !ok {
		return 0, false
	}
	for i := 0; i+1 < len(pairs); i += 2 {
		if name, _ := pairs[i].(string); name != "attributes" {
			continue
		}
		attrs, _ := pairs[i+1].([]any)
		for _, raw := range attrs {
			attr, _ := raw.([]any)
			if !attrHasIdentifier(attr, embeddingField) {
				continue
			}
			for j := 0; j+1 < len(attr); j++ {
				if key, _ := attr[j].(string); strings.EqualFold(key, "dim") {
					return toInt(attr[j+1])
				}
			}
		}
	}
	return 0, false
}

func attrHasIdentifier(attr []any, name string) bool {
	for j := 0; j+1 < len(attr); j += 2 {
		key, _ := attr[j].(string)
		val, _ := attr[j+1].(string)
		if (key == "identifier" || key == "attribute") && val == name {
			return true
		}
	}
	return false
}

func toInt(v any) (int, bool) {
	switch t := v.(type) {
	case int64:
		return int(t), true
	case string:
		n, err := strconv.Atoi(t)
		return n, err == nil
	default:
		return 0, false
	}
}

func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// Upsert implements vector.Driver. Each record is replaced inside its own
// MULTI/EXEC so stale fields never survive a rewrite.
func (d *Driver) Upsert(ctx context.Context, records []vector.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	layout, err := d.current()
	if err != nil {
		return 0, err
	}

	for _, r := range records {
		if len(r.Embedding) != layout.VectorSize {
			return 0, fmt.Errorf("%w: record %s has %d dimensions, index expects %d",
				vector.ErrSchemaConflict, r.ID, len(r.Embedding), layout.VectorSize)
		}
	}

	written := 0
	for _, r := range records {
		metaJSON, err := json.Marshal(r.Metadata)
		if err != nil {
			return written, fmt.Errorf("encoding metadata for %s: %w", r.ID, err)
		}

		fields := map[string]any{
			layout.IDColumn:       r.ID,
			layout.ContentColumn:  r.Content,
			layout.MetadataColumn: string(metaJSON),
			embeddingField:        serializeFloat32(r.Embedding),
		}
		for _, k := range []string{vector.MetaSourceID, vector.MetaContext, vector.MetaSequenceIndex} {
			if v, ok := r.Metadata[k]; ok {
				fields[k] = v
			}
		}
		if v, ok := r.Metadata[vector.MetaSourceID]; ok {
			fields[sourceKeyField] = sourceKey(v)
		}

		key := keyPrefix(layout) + r.ID
		_, err = d.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.HSet(ctx, key, fields)
			return nil
		})
		if err != nil {
			return written, vector.Classify("upserting record "+r.ID, err)
		}
		written++
	}

	d.logger.Debug("upserted records to redis",
		zap.Int("count", written),
	)
	return written, nil
}

func sourceKey(sourceID string) string {
	sum := sha256.Sum256([]byte(sourceID))
	return hex.EncodeToString(sum[:])
}

// searchQuery renders the metadata conditions the index can answer.
// Remaining keys are returned for filtering in Go.
func searchQuery(filter vector.Filter) (string, map[string]string) {
	var (
		clauses []string
		rest    = map[string]string{}
	)
	for _, k := range filter.Keys() {
		v := filter.Metadata[k]
		switch k {
		case vector.MetaSourceID:
			clauses = append(clauses, fmt.Sprintf("@%s:{%s}", sourceKeyField, sourceKey(v)))
		case vector.MetaSequenceIndex:
			if _, err := strconv.Atoi(v); err == nil {
				clauses = append(clauses, fmt.Sprintf("@%s:[%s %s]", k, v, v))
				continue
			}
			rest[k] = v
		default:
			rest[k] = v
		}
	}
	if len(clauses) == 0 {
		return "*", rest
	}
	return strings.Join(clauses, " "), rest
}

type searchDoc struct {
	key    string
	fields map[string]string
}

// parseSearch decodes a RESP2 FT.SEARCH reply: total, then key and field
// list pairs.
func parseSearch(res any) (int, []searchDoc, error) {
	arr, ok := res.([]any)
	if !ok || len(arr) == 0 {
		return 0, nil, fmt.Errorf("unexpected FT.SEARCH reply %T", res)
	}
	total, _ := arr[0].(int64)

	docs := make([]searchDoc, 0, (len(arr)-1)/2)
	for i := 1; i+1 < len(arr); i += 2 {
		key, _ := arr[i].(string)
		raw, _ := arr[i+1].([]any)
		doc := searchDoc{key: key, fields: make(map[string]string, len(raw)/2)}
		for j := 0; j+1 < len(raw); j += 2 {
			name, _ := raw[j].(string)
			value, _ := raw[j+1].(string)
			doc.fields[name] = value
		}
		docs = append(docs, doc)
	}
	return int(total), docs, nil
}

func toRecord(layout vector.Layout, doc searchDoc) (vector.Record, error) {
	r := vector.Record{
		ID:      doc.fields[layout.IDColumn],
		Content: doc.fields[layout.ContentColumn],
	}
	if r.ID == "" {
		r.ID = strings.TrimPrefix(doc.key, keyPrefix(layout))
	}
	if raw := doc.fields[layout.MetadataColumn]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &r.Metadata); err != nil {
			return r, fmt.Errorf("decoding metadata for %s: %w", r.ID, err)
		}
	}
	return r, nil
}

// Query implements vector.Driver with a KNN query. Only source_id and
// sequence_index can restrict a KNN search.
func (d *Driver) Query(ctx context.Context, embedding []float32, topK int, filter vector.Filter) ([]vector.SearchResult, error) {
	layout, err := d.current()
	if err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = vector.DefaultTopK
	}

	prefilter, rest := searchQuery(filter)
	if len(rest) > 0 || len(filter.IDs) > 0 {
		return nil, fmt.Errorf("%w: redis search can only filter by %s and %s",
			vector.ErrUnsupportedFilter, vector.MetaSourceID, vector.MetaSequenceIndex)
	}
	if prefilter != "*" {
		prefilter = "(" + prefilter + ")"
	}

	query := fmt.Sprintf("%s=>[KNN %d @%s $vec AS %s]", prefilter, topK, embeddingField, scoreField)
	res, err := d.client.Do(ctx,
		"FT.SEARCH", layout.Name, query,
		"PARAMS", 2, "vec", serializeFloat32(embedding),
		"SORTBY", scoreField,
		"RETURN", 4, layout.IDColumn, layout.ContentColumn, layout.MetadataColumn, scoreField,
		"LIMIT", 0, topK,
		"DIALECT", 2,
	).Result()
	if err != nil {
		return nil, vector.Classify("searching index", err)
	}

	_, docs, err := parseSearch(res)
	if err != nil {
		return nil, err
	}

	results := make([]vector.SearchResult, 0, len(docs))
	for _, doc := range docs {
		r, err := toRecord(layout, doc)
		if err != nil {
			return nil, err
		}
		if !filter.Matches(r) {
			continue
		}
		distance, _ := strconv.ParseFloat(doc.fields[scoreField], 32)
		results = append(results, vector.SearchResult{Record: r, Score: float32(1 - distance)})
	}

	d.logger.Debug("queried redis",
		zap.Int("results", len(results)),
	)
	return results, nil
}

// List implements vector.Driver. Conditions the index cannot express are
// applied to each page in Go.
func (d *Driver) List(ctx context.Context, filter vector.Filter) ([]vector.Record, error) {
	layout, err := d.current()
	if err != nil {
		return nil, err
	}

	query, _ := searchQuery(filter)

	var records []vector.Record
	for offset := 0; ; offset += listPageSize {
		res, err := d.client.Do(ctx,
			"FT.SEARCH", layout.Name, query,
			"RETURN", 3, layout.IDColumn, layout.ContentColumn, layout.MetadataColumn,
			"SORTBY", vector.MetaSequenceIndex,
			"LIMIT", offset, listPageSize,
			"DIALECT", 2,
		).Result()
		if err != nil {
			return nil, vector.Classify("listing records", err)
		}

		total, docs, err := parseSearch(res)
		if err != nil {
			return nil, err
		}
		for _, doc := range docs {
			r, err := toRecord(layout, doc)
			if err != nil {
				return nil, err
			}
			if filter.Matches(r) {
				records = append(records, r)
			}
		}
		if len(docs) == 0 || offset+len(docs) >= total {
			break
		}
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

	matching, err := d.List(ctx, filter)
	if err != nil {
		return 0, err
	}
	if len(matching) == 0 {
		return 0, nil
	}

	keys := make([]string, len(matching))
	for i, r := range matching {
		keys[i] = keyPrefix(layout) + r.ID
	}

	n, err := d.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, vector.Classify("deleting records", err)
	}

	d.logger.Debug("deleted records from redis",
		zap.Int64("count", n),
	)
	return int(n), nil
}

// Close closes the client.
func (d *Driver) Close() error {
	if err := d.client.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
		return err
	}
	return nil
}

var _ vector.Driver = (*Driver)(nil)
