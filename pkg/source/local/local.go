// Package local stores documents as files under a root directory. Keys are
// slash separated paths relative to the root and double as source ids.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/papercomputeco/kdb/pkg/source"
)

// tagsSuffix names the sidecar file holding a document's tags.
const tagsSuffix = ".tags.json"

// Store reads and writes documents below Root.
type Store struct {
	root string

	// Extensions limits List to these file extensions. Defaults to .md.
	Extensions []string
}

// NewStore returns a store rooted at root.
func NewStore(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", root, err)
	}
	return &Store{root: abs, Extensions: []string{".md", ".markdown"}}, nil
}

// Root returns the absolute root directory.
func (s *Store) Root() string {
	return s.root
}

// Path resolves key to a file path below the root.
func (s *Store) Path(key string) (string, error) {
	if key == "" {
		return "", errors.New("document key is required")
	}
	p := filepath.Join(s.root, filepath.FromSlash(key))
	rel, err := filepath.Rel(s.root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("document key %q escapes %s", key, s.root)
	}
	return p, nil
}

// Key returns the key of the file at path, which must be below the root.
func (s *Store) Key(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(s.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is not below %s", path, s.root)
	}
	return filepath.ToSlash(rel), nil
}

func (s *Store) Load(_ context.Context, key string) (string, error) {
	p, err := s.Path(key)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", source.ErrNotFound, key)
	}
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", key, err)
	}
	return string(data), nil
}

func (s *Store) Save(_ context.Context, key, content string, tags map[string]string) error {
	p, err := s.Path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", key, err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}

	if len(tags) == 0 {
		return nil
	}
	data, err := json.MarshalIndent(tags, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding tags of %s: %w", key, err)
	}
	if err := os.WriteFile(p+tagsSuffix, data, 0o644); err != nil {
		return fmt.Errorf("writing tags of %s: %w", key, err)
	}
	return nil
}

// Tags returns the tags saved with key, or nil when there are none.
func (s *Store) Tags(_ context.Context, key string) (map[string]string, error) {
	p, err := s.Path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p + tagsSuffix)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading tags of %s: %w", key, err)
	}
	var tags map[string]string
	if err := json.Unmarshal(data, &tags); err != nil {
		return nil, fmt.Errorf("decoding tags of %s: %w", key, err)
	}
	return tags, nil
}

// Matches reports whether path has one of the store's extensions.
func (s *Store) Matches(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range s.Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// List returns the keys of every matching document below the root, sorted.
func (s *Store) List(ctx context.Context) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if p != s.root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !s.Matches(p) {
			return nil
		}
		key, err := s.Key(p)
		if err != nil {
			return err
		}
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", s.root, err)
	}
	sort.Strings(keys)
	return keys, nil
}

var (
	_ source.Loader = (*Store)(nil)
	_ source.Saver  = (*Store)(nil)
	_ source.Lister = (*Store)(nil)
)
