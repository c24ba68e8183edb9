package calling

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu     sync.Mutex
	agents map[string]Agent
	calls  map[uuid.UUID]CallRecord
	now    func() time.Time
}

// NewMemoryStore stamps new calls with now, time.Now when nil.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryStore{agents: make(map[string]Agent), calls: make(map[uuid.UUID]CallRecord), now: now}
}

// PutAgent stores an agent.
func (m *MemoryStore) PutAgent(a Agent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents[a.AccountID+"|"+a.ID] = a
}

func (m *MemoryStore) GetAgent(_ context.Context, accountID, agentID string) (Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[accountID+"|"+agentID]
	if !ok {
		return Agent{}, ErrAgentNotFound
	}
	return a, nil
}

func (m *MemoryStore) CreateCall(_ context.Context, rec CallRecord) (CallRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if existing, ok := m.calls[rec.ID]; ok {
		return existing, nil
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = m.now()
	}
	m.calls[rec.ID] = rec
	return rec, nil
}

func (m *MemoryStore) GetCall(_ context.Context, id uuid.UUID) (CallRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.calls[id]
	if !ok {
		return CallRecord{}, ErrCallNotFound
	}
	rec.Transcript = slices.Clone(rec.Transcript)
	return rec, nil
}

func (m *MemoryStore) GetCallByProviderID(_ context.Context, providerCallID string) (CallRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.calls {
		if rec.ProviderCallID == providerCallID && providerCallID != "" {
			return rec, nil
		}
	}
	return CallRecord{}, ErrCallNotFound
}

func (m *MemoryStore) update(id uuid.UUID, fn func(rec *CallRecord)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.calls[id]
	if !ok {
		return ErrCallNotFound
	}
	fn(&rec)
	m.calls[id] = rec
	return nil
}

func (m *MemoryStore) MarkDialed(_ context.Context, id uuid.UUID, providerCallID string) error {
	return m.update(id, func(rec *CallRecord) {
		rec.ProviderCallID = providerCallID
		rec.Status = StatusRinging
	})
}

func (m *MemoryStore) UpdateStatus(_ context.Context, id uuid.UUID, status string, durationSecs int) error {
	return m.update(id, func(rec *CallRecord) {
		rec.Status = status
		if durationSecs > 0 {
			rec.DurationSecs = durationSecs
		}
	})
}

func (m *MemoryStore) MarkAnswered(_ context.Context, id uuid.UUID, at time.Time) error {
	return m.update(id, func(rec *CallRecord) {
		rec.Status = StatusInProgress
		if rec.AnsweredAt == nil {
			rec.AnsweredAt = &at
		}
	})
}

func (m *MemoryStore) SaveConversation(_ context.Context, id uuid.UUID, transcript []TranscriptEntry, usage Usage) error {
	return m.update(id, func(rec *CallRecord) {
		rec.Transcript = slices.Clone(transcript)
		rec.Usage = usage
	})
}

func (m *MemoryStore) SetAnsweredBy(_ context.Context, id uuid.UUID, answeredBy string) error {
	return m.update(id, func(rec *CallRecord) { rec.AnsweredBy = answeredBy })
}

func (m *MemoryStore) SetRecordingKey(_ context.Context, id uuid.UUID, key string) error {
	return m.update(id, func(rec *CallRecord) { rec.RecordingKey = key })
}

func (m *MemoryStore) Finalize(_ context.Context, id uuid.UUID, f Finalization) error {
	return m.update(id, func(rec *CallRecord) {
		rec.Status = StatusCompleted
		rec.DurationSecs = f.DurationSecs
		rec.Transcript = slices.Clone(f.Transcript)
		analysis, cost := f.Analysis, f.Cost
		rec.Analysis = &analysis
		rec.Cost = &cost
	})
}

func (m *MemoryStore) CountCallsSince(_ context.Context, accountID string, contactID uuid.UUID, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, rec := range m.calls {
		if rec.AccountID == accountID && rec.ContactID == contactID && !rec.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) ListCallsSince(_ context.Context, accountID string, since time.Time) ([]CallRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []CallRecord
	for _, rec := range m.calls {
		if rec.AccountID == accountID && !rec.CreatedAt.Before(since) {
			out = append(out, rec)
		}
	}
	slices.SortFunc(out, func(a, b CallRecord) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

// Calls lists every stored call, oldest first.
func (m *MemoryStore) Calls() []CallRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CallRecord, 0, len(m.calls))
	for _, rec := range m.calls {
		out = append(out, rec)
	}
	slices.SortFunc(out, func(a, b CallRecord) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}

var _ Store = (*MemoryStore)(nil)
