package recordmanager

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/papercomputeco/kdb/pkg/vector"
)

// ReconcileReport describes how recorded state and the store differ for a
// source.
type ReconcileReport struct {
	SourceID string `json:"source_id"`

	// Orphans are ids in the store the state does not know about.
	Orphans []string `json:"orphans"`

	// Missing are ids recorded in state but absent from the store.
	Missing []string `json:"missing"`

	Repaired bool `json:"repaired"`
}

// Consistent reports whether state and store agree.
func (r *ReconcileReport) Consistent() bool {
	return len(r.Orphans) == 0 && len(r.Missing) == 0
}

// Reconcile compares the recorded ids of sourceID with the ids the store
// holds for it. When they disagree and repair is false the report is
// returned with ErrStateInconsistency. With repair, orphans are deleted from
// the store and missing ids are dropped from state so the next ingestion
// rewrites them.
func (m *Manager) Reconcile(ctx context.Context, sourceID string, repair bool) (*ReconcileReport, error) {
	unlock, err := m.lock(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	entries, err := m.state.List(ctx, m.namespace, sourceID)
	if err != nil {
		return nil, fmt.Errorf("listing state for %q: %w", sourceID, err)
	}
	records, err := m.store.List(ctx, vector.SourceFilter(sourceID))
	if err != nil {
		return nil, fmt.Errorf("listing records of %q: %w", sourceID, err)
	}

	inState := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		inState[e.Key] = struct{}{}
	}
	inStore := make(map[string]struct{}, len(records))
	for _, r := range records {
		inStore[r.ID] = struct{}{}
	}

	report := &ReconcileReport{SourceID: sourceID}
	for id := range inStore {
		if _, ok := inState[id]; !ok {
			report.Orphans = append(report.Orphans, id)
		}
	}
	for id := range inState {
		if _, ok := inStore[id]; !ok {
			report.Missing = append(report.Missing, id)
		}
	}
	slices.Sort(report.Orphans)
	slices.Sort(report.Missing)

	if report.Consistent() {
		return report, nil
	}

	m.logger.Warn("record manager state inconsistent",
		zap.String("source_id", sourceID),
		zap.Int("orphans", len(report.Orphans)),
		zap.Int("missing", len(report.Missing)),
	)

	if !repair {
		return report, fmt.Errorf("%w: %q has %d orphaned and %d missing records",
			ErrStateInconsistency, sourceID, len(report.Orphans), len(report.Missing))
	}

	if len(report.Orphans) > 0 {
		filter := vector.Filter{
			IDs:      report.Orphans,
			Metadata: map[string]string{vector.MetaSourceID: sourceID},
		}
		if _, err := m.store.DeleteByFilter(ctx, filter); err != nil {
			return report, fmt.Errorf("deleting orphans of %q: %w", sourceID, err)
		}
	}
	if len(report.Missing) > 0 {
		if err := m.state.Delete(ctx, m.namespace, report.Missing); err != nil {
			return report, fmt.Errorf("dropping missing entries of %q: %w", sourceID, err)
		}
	}
	report.Repaired = true
	return report, nil
}
