// Package inmemory provides a process-local vector.Driver. It is used for
// tests and for trying kdb without running a database.
package inmemory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/papercomputeco/kdb/pkg/vector"
)

// Driver keeps records in a map and answers queries by exhaustive cosine
// similarity.
type Driver struct {
	mu      sync.RWMutex
	layout  *vector.Layout
	records map[string]vector.Record
}

// NewDriver creates an empty in-memory driver.
func NewDriver() *Driver {
	return &Driver{
		records: make(map[string]vector.Record),
	}
}

// Configure implements vector.Driver.
func (d *Driver) Configure(_ context.Context, layout vector.Layout) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.layout != nil && d.layout.VectorSize != layout.VectorSize {
		return fmt.Errorf("%w: %q has vector size %d, requested %d",
			vector.ErrSchemaConflict, d.layout.Name, d.layout.VectorSize, layout.VectorSize)
	}
	d.layout = &layout
	return nil
}

// Upsert implements vector.Driver.
func (d *Driver) Upsert(_ context.Context, records []vector.Record) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.layout == nil {
		return 0, vector.ErrNotConfigured
	}
	for _, r := range records {
		if len(r.Embedding) != d.layout.VectorSize {
			return 0, fmt.Errorf("%w: record %s has %d dimensions", vector.ErrSchemaConflict, r.ID, len(r.Embedding))
		}
	}
	for _, r := range records {
		d.records[r.ID] = clone(r, true)
	}
	return len(records), nil
}

// Query implements vector.Driver.
func (d *Driver) Query(_ context.Context, embedding []float32, topK int, filter vector.Filter) ([]vector.SearchResult, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.layout == nil {
		return nil, vector.ErrNotConfigured
	}

	results := make([]vector.SearchResult, 0, len(d.records))
	for _, r := range d.records {
		if !filter.Matches(r) {
			continue
		}
		results = append(results, vector.SearchResult{
			Record: clone(r, false),
			Score:  cosine(embedding, r.Embedding),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score == results[j].Score {
			return results[i].ID < results[j].ID
		}
		return results[i].Score > results[j].Score
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// DeleteByFilter implements vector.Driver.
func (d *Driver) DeleteByFilter(_ context.Context, filter vector.Filter) (int, error) {
	if filter.IsEmpty() {
		return 0, vector.ErrEmptyFilter
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	deleted := 0
	for id, r := range d.records {
		if filter.Matches(r) {
			delete(d.records, id)
			deleted++
		}
	}
	return deleted, nil
}

// List implements vector.Driver.
func (d *Driver) List(_ context.Context, filter vector.Filter) ([]vector.Record, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []vector.Record
	for _, r := range d.records {
		if filter.Matches(r) {
			out = append(out, clone(r, false))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Len returns the number of stored records.
func (d *Driver) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.records)
}

// Close implements vector.Driver.
func (d *Driver) Close() error {
	return nil
}

func clone(r vector.Record, withEmbedding bool) vector.Record {
	out := vector.Record{
		ID:       r.ID,
		Content:  r.Content,
		Metadata: make(map[string]string, len(r.Metadata)),
	}
	for k, v := range r.Metadata {
		out.Metadata[k] = v
	}
	if withEmbedding {
		out.Embedding = append([]float32(nil), r.Embedding...)
	}
	return out
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

var _ vector.Driver = (*Driver)(nil)
