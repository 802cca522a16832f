package vector

import (
	"fmt"
	"regexp"
)

const (
	DefaultName           = "kdb_chunks"
	DefaultVectorSize     = 768
	DefaultContentColumn  = "document"
	DefaultIDColumn       = "id"
	DefaultMetadataColumn = "metadata"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Layout describes the physical shape of a vector store: the table, index or
// collection name, the embedding size and the column names used by backends
// with a tabular layout.
type Layout struct {
	Name           string
	VectorSize     int
	ContentColumn  string
	IDColumn       string
	MetadataColumn string

	// HNSW requests an approximate nearest neighbour index where the backend
	// supports one.
	HNSW bool
}

// WithDefaults returns l with empty fields filled from the package defaults.
func (l Layout) WithDefaults() Layout {
	if l.Name == "" {
		l.Name = DefaultName
	}
	if l.VectorSize == 0 {
		l.VectorSize = DefaultVectorSize
	}
	if l.ContentColumn == "" {
		l.ContentColumn = DefaultContentColumn
	}
	if l.IDColumn == "" {
		l.IDColumn = DefaultIDColumn
	}
	if l.MetadataColumn == "" {
		l.MetadataColumn = DefaultMetadataColumn
	}
	return l
}

// Validate checks the layout is usable. Names end up in SQL and index
// definitions, so they are restricted to plain identifiers.
func (l Layout) Validate() error {
	if l.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive, got %d", ErrSchemaConflict, l.VectorSize)
	}
	for _, ident := range []string{l.Name, l.ContentColumn, l.IDColumn, l.MetadataColumn} {
		if !identifierPattern.MatchString(ident) {
			return fmt.Errorf("invalid identifier %q in layout", ident)
		}
	}
	return nil
}
