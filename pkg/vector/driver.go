// Package vector provides the vector store adapter: a backend-neutral Driver
// interface, the Store that pairs a Driver with an embedder, and helpers shared
// by every backend.
package vector

import "context"

// Metadata keys every indexed record carries.
const (
	MetaSourceID            = "source_id"
	MetaContext             = "context"
	MetaSequenceIndex       = "sequence_index"
	MetaContextModelVersion = "context_model_version"
)

// Record is the unit written to a vector store.
type Record struct {
	// ID is the content-derived record identity.
	ID string `json:"id"`

	// Embedding is the vector representation of the record. Store.Upsert
	// fills it in when empty.
	Embedding []float32 `json:"-"`

	// Content is the verbatim chunk text.
	Content string `json:"content"`

	// Metadata holds the structural metadata of the chunk plus the keys above.
	Metadata map[string]string `json:"metadata"`
}

// SourceID returns the source_id metadata value.
func (r Record) SourceID() string {
	return r.Metadata[MetaSourceID]
}

// SearchResult is a record with its similarity score. Higher is more similar.
type SearchResult struct {
	Record

	Score float32 `json:"score"`
}

// Driver is a vector store backend.
type Driver interface {
	// Configure creates the physical schema described by layout if absent. It
	// is a no-op when the schema already exists with the same vector size and
	// fails with ErrSchemaConflict when the sizes differ.
	Configure(ctx context.Context, layout Layout) error

	// Upsert writes or replaces records by ID and returns how many were
	// written. Each record is written atomically.
	Upsert(ctx context.Context, records []Record) (int, error)

	// Query returns up to topK records most similar to embedding, restricted
	// by filter, ordered by descending score.
	Query(ctx context.Context, embedding []float32, topK int, filter Filter) ([]SearchResult, error)

	// DeleteByFilter removes every record matching filter and returns how
	// many were removed. An empty filter is rejected with ErrEmptyFilter.
	DeleteByFilter(ctx context.Context, filter Filter) (int, error)

	// List returns the records matching filter without their embeddings.
	List(ctx context.Context, filter Filter) ([]Record, error)

	// Close releases any resources held by the driver.
	Close() error
}
