package recordmanager

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/papercomputeco/kdb/pkg/vector"
)

// Phase is the state of an ingestion session.
type Phase string

const (
	PhasePlanning Phase = "planning"
	PhaseDiffing  Phase = "diffing"
	PhaseWriting  Phase = "writing"
	PhaseDone     Phase = "done"
	PhaseFailed   Phase = "failed"
)

// Candidate is a record id the current version of a source produces, with
// the fingerprint of what it would be written with.
type Candidate struct {
	ID          string
	Fingerprint string
}

// Plan is the outcome of diffing candidates against recorded state.
type Plan struct {
	// ToWrite are candidate ids that must be (re)written.
	ToWrite []string `json:"to_write"`

	// Unchanged are candidate ids whose recorded fingerprint matches.
	Unchanged []string `json:"unchanged"`

	// ToDelete are recorded ids no longer produced by the source.
	ToDelete []string `json:"to_delete"`

	// Previous is the number of recorded ids before the run.
	Previous int `json:"previous"`
}

// Result counts what a session wrote.
type Result struct {
	Added     int `json:"added"`
	Updated   int `json:"updated"`
	Deleted   int `json:"deleted"`
	Unchanged int `json:"unchanged"`
}

// Session is one ingestion run for a source: Planning, then Plan moves it
// to Diffing, then Apply moves it through Writing to Done or Failed.
type Session struct {
	manager  *Manager
	sourceID string

	mu           sync.Mutex
	phase        Phase
	previous     map[string]Entry
	fingerprints map[string]string
	plan         *Plan

	unlock    func()
	closeOnce sync.Once
}

// SourceID returns the source the session works on.
func (s *Session) SourceID() string {
	return s.sourceID
}

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *Session) transition(from, to Phase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != from {
		return fmt.Errorf("%w: %s -> %s from %s", ErrInvalidTransition, from, to, s.phase)
	}
	s.phase = to
	return nil
}

// Plan compares candidates with the recorded state of the source.
func (s *Session) Plan(ctx context.Context, candidates []Candidate) (*Plan, error) {
	if err := s.transition(PhasePlanning, PhaseDiffing); err != nil {
		return nil, err
	}

	entries, err := s.manager.state.List(ctx, s.manager.namespace, s.sourceID)
	if err != nil {
		s.Fail(err)
		return nil, fmt.Errorf("listing state for %q: %w", s.sourceID, err)
	}

	previous := make(map[string]Entry, len(entries))
	for _, e := range entries {
		previous[e.Key] = e
	}

	plan := &Plan{Previous: len(previous)}
	current := make(map[string]string, len(candidates))
	for _, c := range candidates {
		if _, dup := current[c.ID]; dup {
			s.Fail(nil)
			return nil, fmt.Errorf("%w: duplicate record id %s for %q", ErrStateInconsistency, c.ID, s.sourceID)
		}
		current[c.ID] = c.Fingerprint

		prev, ok := previous[c.ID]
		if ok && !prev.Pending() && prev.Fingerprint == c.Fingerprint && s.manager.mode == ModeSkipUnchanged {
			plan.Unchanged = append(plan.Unchanged, c.ID)
			continue
		}
		plan.ToWrite = append(plan.ToWrite, c.ID)
	}

	for key := range previous {
		if _, ok := current[key]; !ok {
			plan.ToDelete = append(plan.ToDelete, key)
		}
	}
	slices.Sort(plan.ToDelete)

	s.mu.Lock()
	s.previous = previous
	s.fingerprints = current
	s.plan = plan
	s.mu.Unlock()

	s.manager.logger.Debug("planned ingestion",
		zap.String("source_id", s.sourceID),
		zap.Int("previous", plan.Previous),
		zap.Int("to_write", len(plan.ToWrite)),
		zap.Int("unchanged", len(plan.Unchanged)),
		zap.Int("to_delete", len(plan.ToDelete)),
	)
	return plan, nil
}

// Apply writes records and removes the ids the source no longer produces.
// records must belong to the plan's ToWrite set; ids from ToWrite without a
// record are left as they are in the store.
//
// State is staged before the store is touched and committed afterwards, so
// a run interrupted at any point converges when re-driven with the same
// chunks.
func (s *Session) Apply(ctx context.Context, records []vector.Record) (*Result, error) {
	if err := s.transition(PhaseDiffing, PhaseWriting); err != nil {
		return nil, err
	}

	result, err := s.apply(ctx, records)
	if err != nil {
		s.Fail(err)
		return nil, err
	}

	s.mu.Lock()
	s.phase = PhaseDone
	s.mu.Unlock()
	return result, nil
}

func (s *Session) apply(ctx context.Context, records []vector.Record) (*Result, error) {
	m := s.manager
	ns := m.namespace
	now := m.now()

	toWrite := make(map[string]struct{}, len(s.plan.ToWrite))
	for _, id := range s.plan.ToWrite {
		toWrite[id] = struct{}{}
	}

	result := &Result{Unchanged: len(s.plan.Unchanged)}
	var staged, committed []Entry
	for _, r := range records {
		if _, ok := toWrite[r.ID]; !ok {
			return nil, fmt.Errorf("%w: record %s is not part of the plan for %q", ErrInvalidTransition, r.ID, s.sourceID)
		}
		if r.SourceID() != s.sourceID {
			return nil, fmt.Errorf("record %s belongs to %q, not %q", r.ID, r.SourceID(), s.sourceID)
		}

		prev, existed := s.previous[r.ID]
		switch {
		case !existed:
			staged = append(staged, Entry{Key: r.ID, GroupID: s.sourceID, UpdatedAt: now})
			result.Added++
		case prev.Pending():
			result.Added++
		default:
			result.Updated++
		}
		committed = append(committed, Entry{
			Key:         r.ID,
			GroupID:     s.sourceID,
			Fingerprint: s.fingerprints[r.ID],
			UpdatedAt:   now,
		})
	}

	if len(staged) > 0 {
		if err := m.state.Stage(ctx, ns, staged); err != nil {
			return nil, fmt.Errorf("staging state for %q: %w", s.sourceID, err)
		}
	}

	if len(records) > 0 {
		if _, err := m.store.Upsert(ctx, records); err != nil {
			return nil, fmt.Errorf("upserting records of %q: %w", s.sourceID, err)
		}
	}

	if len(s.plan.ToDelete) > 0 {
		filter := vector.Filter{
			IDs:      s.plan.ToDelete,
			Metadata: map[string]string{vector.MetaSourceID: s.sourceID},
		}
		if _, err := m.store.DeleteByFilter(ctx, filter); err != nil {
			return nil, fmt.Errorf("deleting stale records of %q: %w", s.sourceID, err)
		}
		result.Deleted = len(s.plan.ToDelete)
	}

	if len(committed) > 0 {
		if err := m.state.Commit(ctx, ns, committed); err != nil {
			return nil, fmt.Errorf("committing state for %q: %w", s.sourceID, err)
		}
	}
	if len(s.plan.ToDelete) > 0 {
		if err := m.state.Delete(ctx, ns, s.plan.ToDelete); err != nil {
			return nil, fmt.Errorf("dropping state for %q: %w", s.sourceID, err)
		}
	}

	m.logger.Debug("applied ingestion",
		zap.String("source_id", s.sourceID),
		zap.Int("added", result.Added),
		zap.Int("updated", result.Updated),
		zap.Int("deleted", result.Deleted),
		zap.Int("unchanged", result.Unchanged),
	)
	return result, nil
}

// Fail marks the session failed. It is a no-op once the session is done.
func (s *Session) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == PhaseDone || s.phase == PhaseFailed {
		return
	}
	s.phase = PhaseFailed
	if err != nil {
		s.manager.logger.Warn("ingestion session failed",
			zap.String("source_id", s.sourceID),
			zap.Error(err),
		)
	}
}

// Close releases the source lock. It is safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.unlock != nil {
			s.unlock()
		}
	})
}
