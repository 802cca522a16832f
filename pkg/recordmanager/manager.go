package recordmanager

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/kdb/pkg/vector"
)

// Mode selects how candidates whose fingerprint is unchanged are treated.
type Mode string

const (
	// ModeSkipUnchanged leaves records with an unchanged fingerprint alone.
	ModeSkipUnchanged Mode = "skip-unchanged"

	// ModeAlwaysUpsert rewrites every current record on each run.
	ModeAlwaysUpsert Mode = "always-upsert"
)

// ParseMode parses a configured mode name. The empty string selects
// ModeSkipUnchanged.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeSkipUnchanged:
		return ModeSkipUnchanged, nil
	case ModeAlwaysUpsert:
		return ModeAlwaysUpsert, nil
	default:
		return "", fmt.Errorf("unknown ingest mode %q (want %s or %s)", s, ModeSkipUnchanged, ModeAlwaysUpsert)
	}
}

// Store is the part of the vector store adapter the manager writes through.
type Store interface {
	Upsert(ctx context.Context, records []vector.Record) (int, error)
	DeleteByFilter(ctx context.Context, filter vector.Filter) (int, error)
	List(ctx context.Context, filter vector.Filter) ([]vector.Record, error)
}

// Manager coordinates record manager state with the vector store.
type Manager struct {
	state     State
	store     Store
	namespace string
	mode      Mode
	locks     *keyedLock
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithNamespace scopes state rows.
func WithNamespace(namespace string) Option {
	return func(m *Manager) {
		if namespace != "" {
			m.namespace = namespace
		}
	}
}

// WithMode sets the diff mode.
func WithMode(mode Mode) Option {
	return func(m *Manager) {
		m.mode = mode
	}
}

// WithLogger sets the manager logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a manager over state and store.
func NewManager(state State, store Store, opts ...Option) *Manager {
	m := &Manager{
		state:     state,
		store:     store,
		namespace: DefaultNamespace,
		mode:      ModeSkipUnchanged,
		locks:     newKeyedLock(),
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Namespace returns the state namespace.
func (m *Manager) Namespace() string {
	return m.namespace
}

// Mode returns the diff mode.
func (m *Manager) Mode() Mode {
	return m.mode
}

// EnsureSchema prepares the state backend.
func (m *Manager) EnsureSchema(ctx context.Context) error {
	return m.state.EnsureSchema(ctx)
}

// lock takes the in-process lock and the backend lock for sourceID.
func (m *Manager) lock(ctx context.Context, sourceID string) (func(), error) {
	if sourceID == "" {
		return nil, ErrEmptySourceID
	}

	release, err := m.locks.lock(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("waiting for lock on %q: %w", sourceID, err)
	}

	unlock, err := m.state.Lock(ctx, m.namespace, sourceID)
	if err != nil {
		release()
		return nil, fmt.Errorf("locking %q: %w", sourceID, err)
	}

	return func() {
		unlock()
		release()
	}, nil
}

// Begin starts an ingestion session for sourceID. The session holds the
// per-source lock until Close, so concurrent runs for the same source are
// serialized while different sources proceed in parallel.
func (m *Manager) Begin(ctx context.Context, sourceID string) (*Session, error) {
	unlock, err := m.lock(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	return &Session{
		manager:  m,
		sourceID: sourceID,
		phase:    PhasePlanning,
		unlock:   unlock,
	}, nil
}

// Entries returns the recorded entries of sourceID.
func (m *Manager) Entries(ctx context.Context, sourceID string) ([]Entry, error) {
	return m.state.List(ctx, m.namespace, sourceID)
}

// Sources returns every source id with recorded entries.
func (m *Manager) Sources(ctx context.Context) ([]string, error) {
	return m.state.Groups(ctx, m.namespace)
}

// DeleteSource removes every record of sourceID from the store and drops its
// state. It returns the number of records the store removed.
func (m *Manager) DeleteSource(ctx context.Context, sourceID string) (int, error) {
	unlock, err := m.lock(ctx, sourceID)
	if err != nil {
		return 0, err
	}
	defer unlock()

	entries, err := m.state.List(ctx, m.namespace, sourceID)
	if err != nil {
		return 0, fmt.Errorf("listing state for %q: %w", sourceID, err)
	}

	deleted, err := m.store.DeleteByFilter(ctx, vector.SourceFilter(sourceID))
	if err != nil {
		return 0, fmt.Errorf("deleting records of %q: %w", sourceID, err)
	}

	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.Key
	}
	if err := m.state.Delete(ctx, m.namespace, keys); err != nil {
		return deleted, fmt.Errorf("dropping state for %q: %w", sourceID, err)
	}

	m.logger.Info("deleted source",
		zap.String("source_id", sourceID),
		zap.Int("records", deleted),
	)
	return deleted, nil
}
