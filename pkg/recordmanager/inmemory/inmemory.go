// Package inmemory provides a process-local recordmanager.State.
package inmemory

import (
	"context"
	"sort"
	"sync"

	"github.com/papercomputeco/kdb/pkg/recordmanager"
)

// State keeps entries in nested maps keyed by namespace and key.
type State struct {
	mu         sync.RWMutex
	namespaces map[string]map[string]recordmanager.Entry
}

// NewState creates an empty state.
func NewState() *State {
	return &State{namespaces: make(map[string]map[string]recordmanager.Entry)}
}

func (s *State) EnsureSchema(context.Context) error {
	return nil
}

// Lock is a no-op; the manager's in-process lock already covers a single
// process.
func (s *State) Lock(context.Context, string, string) (func(), error) {
	return func() {}, nil
}

func (s *State) List(_ context.Context, namespace, groupID string) ([]recordmanager.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []recordmanager.Entry
	for _, e := range s.namespaces[namespace] {
		if e.GroupID == groupID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *State) ns(namespace string) map[string]recordmanager.Entry {
	entries, ok := s.namespaces[namespace]
	if !ok {
		entries = make(map[string]recordmanager.Entry)
		s.namespaces[namespace] = entries
	}
	return entries
}

func (s *State) Stage(_ context.Context, namespace string, entries []recordmanager.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns := s.ns(namespace)
	for _, e := range entries {
		if _, ok := ns[e.Key]; ok {
			continue
		}
		e.Fingerprint = ""
		ns[e.Key] = e
	}
	return nil
}

func (s *State) Commit(_ context.Context, namespace string, entries []recordmanager.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns := s.ns(namespace)
	for _, e := range entries {
		ns[e.Key] = e
	}
	return nil
}

func (s *State) Delete(_ context.Context, namespace string, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns := s.namespaces[namespace]
	for _, k := range keys {
		delete(ns, k)
	}
	return nil
}

func (s *State) Groups(_ context.Context, namespace string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := map[string]struct{}{}
	for _, e := range s.namespaces[namespace] {
		seen[e.GroupID] = struct{}{}
	}
	groups := make([]string, 0, len(seen))
	for g := range seen {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	return groups, nil
}

func (s *State) Close() error {
	return nil
}

var _ recordmanager.State = (*State)(nil)
