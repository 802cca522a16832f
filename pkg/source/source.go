// Package source defines how kdb reads and writes the markdown documents it
// indexes. The pipeline itself only ever receives text plus a source id.
package source

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a document key does not exist.
var ErrNotFound = errors.New("document not found")

// Loader loads a document by key.
type Loader interface {
	Load(ctx context.Context, key string) (string, error)
}

// Saver stores a document under key with optional tags.
type Saver interface {
	Save(ctx context.Context, key, content string, tags map[string]string) error
}

// Lister enumerates document keys.
type Lister interface {
	List(ctx context.Context) ([]string, error)
}
