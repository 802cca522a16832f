package vector

import (
	"slices"
	"sort"
)

// Filter restricts records by metadata equality and, optionally, by ID. All
// conditions must hold.
type Filter struct {
	Metadata map[string]string
	IDs      []string
}

// SourceFilter matches every record of a source document.
func SourceFilter(sourceID string) Filter {
	return Filter{Metadata: map[string]string{MetaSourceID: sourceID}}
}

// IsEmpty reports whether the filter has no conditions and would match every
// record.
func (f Filter) IsEmpty() bool {
	return len(f.Metadata) == 0 && len(f.IDs) == 0
}

// Matches reports whether r satisfies the filter.
func (f Filter) Matches(r Record) bool {
	if len(f.IDs) > 0 && !slices.Contains(f.IDs, r.ID) {
		return false
	}
	for k, v := range f.Metadata {
		if r.Metadata[k] != v {
			return false
		}
	}
	return true
}

// Keys returns the metadata keys of the filter in sorted order.
func (f Filter) Keys() []string {
	keys := make([]string, 0, len(f.Metadata))
	for k := range f.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
