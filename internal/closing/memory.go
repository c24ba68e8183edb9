package closing

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu       sync.Mutex
	plans    map[uuid.UUID]Plan
	meetings map[uuid.UUID]Meeting
	invoices map[uuid.UUID]Invoice
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		plans:    make(map[uuid.UUID]Plan),
		meetings: make(map[uuid.UUID]Meeting),
		invoices: make(map[uuid.UUID]Invoice),
	}
}

func clonePlan(p Plan) Plan {
	p.Steps = slices.Clone(p.Steps)
	return p
}

func (m *MemoryStore) CreatePlan(_ context.Context, p Plan) (Plan, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.plans {
		if existing.ContactID == p.ContactID {
			return clonePlan(existing), false, nil
		}
	}
	m.plans[p.ID] = clonePlan(p)
	return clonePlan(p), true, nil
}

func (m *MemoryStore) GetPlan(_ context.Context, id uuid.UUID) (Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[id]
	if !ok {
		return Plan{}, ErrPlanNotFound
	}
	return clonePlan(p), nil
}

func (m *MemoryStore) ListActivePlans(_ context.Context, limit int) ([]Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Plan
	for _, p := range m.plans {
		if p.Status == StatusActive {
			out = append(out, clonePlan(p))
		}
	}
	slices.SortFunc(out, func(a, b Plan) int { return a.StartedAt.Compare(b.StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) SavePlan(_ context.Context, p Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.plans[p.ID]; !ok {
		return ErrPlanNotFound
	}
	m.plans[p.ID] = clonePlan(p)
	return nil
}

// Plans returns every stored plan.
func (m *MemoryStore) Plans() []Plan {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Plan, 0, len(m.plans))
	for _, p := range m.plans {
		out = append(out, clonePlan(p))
	}
	slices.SortFunc(out, func(a, b Plan) int { return a.StartedAt.Compare(b.StartedAt) })
	return out
}

// PutMeeting stores a meeting, assigning an id when missing.
func (m *MemoryStore) PutMeeting(mt Meeting) Meeting {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mt.ID == uuid.Nil {
		mt.ID = uuid.New()
	}
	if mt.Status == "" {
		mt.Status = MeetingScheduled
	}
	m.meetings[mt.ID] = mt
	return mt
}

// Meeting returns a stored meeting.
func (m *MemoryStore) Meeting(id uuid.UUID) Meeting {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.meetings[id]
}

func (m *MemoryStore) UpcomingMeetings(_ context.Context, from, to time.Time) ([]Meeting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Meeting
	for _, mt := range m.meetings {
		if mt.Status == MeetingScheduled && mt.RemindedAt == nil && !mt.StartsAt.Before(from) && !mt.StartsAt.After(to) {
			out = append(out, mt)
		}
	}
	slices.SortFunc(out, func(a, b Meeting) int { return a.StartsAt.Compare(b.StartsAt) })
	return out, nil
}

func (m *MemoryStore) MarkReminded(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mt, ok := m.meetings[id]
	if !ok {
		return nil
	}
	mt.RemindedAt = &at
	m.meetings[id] = mt
	return nil
}

// PutInvoice stores an invoice, assigning an id when missing.
func (m *MemoryStore) PutInvoice(inv Invoice) Invoice {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	m.invoices[inv.ID] = inv
	return inv
}

// Invoice returns a stored invoice.
func (m *MemoryStore) Invoice(id uuid.UUID) Invoice {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.invoices[id]
}

func (m *MemoryStore) ListOverdueInvoices(_ context.Context, dueBefore time.Time, limit int) ([]Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Invoice
	for _, inv := range m.invoices {
		if inv.Status == InvoiceSent && inv.DueDate.Before(dueBefore) {
			out = append(out, inv)
		}
	}
	slices.SortFunc(out, func(a, b Invoice) int { return a.DueDate.Compare(b.DueDate) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) MarkInvoiceOverdue(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok || inv.Status != InvoiceSent {
		return false, nil
	}
	inv.Status = InvoiceOverdue
	m.invoices[id] = inv
	return true, nil
}

var _ Store = (*MemoryStore)(nil)
