package followups

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu        sync.Mutex
	sequences []Sequence
	messages  map[uuid.UUID]Message
	keys      map[string]uuid.UUID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{messages: make(map[uuid.UUID]Message), keys: make(map[string]uuid.UUID)}
}

// PutSequence stores a sequence, assigning an id when missing.
func (m *MemoryStore) PutSequence(seq Sequence) Sequence {
	m.mu.Lock()
	defer m.mu.Unlock()
	if seq.ID == uuid.Nil {
		seq.ID = uuid.New()
	}
	m.sequences = append(m.sequences, seq)
	return seq
}

func (m *MemoryStore) ActiveSequences(_ context.Context, accountID string, triggers []string) ([]Sequence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Sequence
	for _, seq := range m.sequences {
		if seq.AccountID == accountID && seq.Active && slices.Contains(triggers, seq.Trigger) {
			out = append(out, seq)
		}
	}
	return out, nil
}

func (m *MemoryStore) CreateMessage(_ context.Context, msg Message) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[msg.DedupeKey]; ok {
		return false, nil
	}
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	m.keys[msg.DedupeKey] = msg.ID
	m.messages[msg.ID] = msg
	return true, nil
}

func (m *MemoryStore) GetMessage(_ context.Context, id uuid.UUID) (Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return Message{}, ErrMessageNotFound
	}
	return msg, nil
}

func (m *MemoryStore) ListDue(_ context.Context, now time.Time, limit int) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Message
	for _, msg := range m.messages {
		if msg.Status == StatusPending && !msg.SendAt.After(now) {
			out = append(out, msg)
		}
	}
	slices.SortFunc(out, func(a, b Message) int { return a.SendAt.Compare(b.SendAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) transition(id uuid.UUID, from []string, fn func(msg *Message)) bool {
	msg, ok := m.messages[id]
	if !ok || (len(from) > 0 && !slices.Contains(from, msg.Status)) {
		return false
	}
	fn(&msg)
	m.messages[id] = msg
	return true
}

func (m *MemoryStore) ClaimMessage(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transition(id, []string{StatusPending}, func(msg *Message) { msg.Status = StatusSending }), nil
}

func (m *MemoryStore) MarkSent(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.transition(id, nil, func(msg *Message) {
		msg.Status = StatusSent
		msg.SentAt = &at
	}) {
		return ErrMessageNotFound
	}
	return nil
}

func (m *MemoryStore) MarkFailed(_ context.Context, id uuid.UUID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.transition(id, nil, func(msg *Message) {
		msg.Status = StatusFailed
		msg.LastError = reason
	}) {
		return ErrMessageNotFound
	}
	return nil
}

func (m *MemoryStore) CancelMessage(_ context.Context, accountID string, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg, ok := m.messages[id]; !ok || msg.AccountID != accountID {
		return false, nil
	}
	return m.transition(id, []string{StatusPending}, func(msg *Message) { msg.Status = StatusCancelled }), nil
}

// Messages lists all messages ordered by send time.
func (m *MemoryStore) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, 0, len(m.messages))
	for _, msg := range m.messages {
		out = append(out, msg)
	}
	slices.SortFunc(out, func(a, b Message) int { return a.SendAt.Compare(b.SendAt) })
	return out
}

var _ Store = (*MemoryStore)(nil)
