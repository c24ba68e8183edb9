package feedback

import (
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu           sync.Mutex
	outcomes     []Outcome
	keys         map[string]bool
	calibrations []Calibration
	snapshots    []PerformanceSnapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[string]bool)}
}

func (m *MemoryStore) InsertOutcome(_ context.Context, o Outcome) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o.IdempotencyKey != "" && m.keys[o.IdempotencyKey] {
		return false, nil
	}
	m.keys[o.IdempotencyKey] = true
	m.outcomes = append(m.outcomes, o)
	return true, nil
}

func (m *MemoryStore) CountOutcomesSince(ctx context.Context, accountID string, since time.Time) (int, error) {
	list, err := m.ListOutcomesSince(ctx, accountID, since, 0)
	return len(list), err
}

// ListOutcomesSince returns the newest outcomes first. A limit of zero means
// no limit.
func (m *MemoryStore) ListOutcomesSince(_ context.Context, accountID string, since time.Time, limit int) ([]Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Outcome
	for _, o := range m.outcomes {
		if o.AccountID == accountID && !o.CreatedAt.Before(since) {
			out = append(out, o)
		}
	}
	slices.SortStableFunc(out, func(a, b Outcome) int { return b.CreatedAt.Compare(a.CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) SaveCalibration(_ context.Context, c Calibration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.calibrations {
		if existing.ID == c.ID {
			return nil
		}
	}
	m.calibrations = append(m.calibrations, c)
	return nil
}

func (m *MemoryStore) LatestCalibration(_ context.Context, accountID string) (Calibration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *Calibration
	for i := range m.calibrations {
		c := &m.calibrations[i]
		if c.AccountID != accountID {
			continue
		}
		if latest == nil || !c.CreatedAt.Before(latest.CreatedAt) {
			latest = c
		}
	}
	if latest == nil {
		return Calibration{}, ErrNoCalibration
	}
	return *latest, nil
}

func (m *MemoryStore) SavePerformance(_ context.Context, s PerformanceSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.snapshots {
		if existing.ID == s.ID {
			return nil
		}
	}
	m.snapshots = append(m.snapshots, s)
	return nil
}

// Calibrations lists stored calibrations in insertion order.
func (m *MemoryStore) Calibrations() []Calibration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calibrations)
}

// Snapshots lists stored performance snapshots in insertion order.
func (m *MemoryStore) Snapshots() []PerformanceSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.snapshots)
}

var _ Store = (*MemoryStore)(nil)
