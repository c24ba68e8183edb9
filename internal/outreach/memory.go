package outreach

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process EnrollmentStore and ChannelLimiter.
type MemoryStore struct {
	mu          sync.Mutex
	enrollments map[uuid.UUID]Enrollment
	usage       map[string]int
	limits      map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		enrollments: make(map[uuid.UUID]Enrollment),
		usage:       make(map[string]int),
		limits:      make(map[string]int),
	}
}

func cloneEnrollment(e Enrollment) Enrollment {
	e.Steps = slices.Clone(e.Steps)
	return e
}

func (m *MemoryStore) Enroll(_ context.Context, accountID string, contactID uuid.UUID, template string, preset Preset, at time.Time) (Enrollment, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.enrollments {
		if e.ContactID == contactID && e.Template == template && e.Active() {
			return cloneEnrollment(e), false, nil
		}
	}
	e := Enrollment{
		ID:         uuid.New(),
		AccountID:  accountID,
		ContactID:  contactID,
		SequenceID: uuid.New(),
		Template:   template,
		Steps:      slices.Clone(preset.Steps),
		Status:     StatusActive,
		EnrolledAt: at.UTC(),
	}
	m.enrollments[e.ID] = e
	return cloneEnrollment(e), true, nil
}

func (m *MemoryStore) Get(_ context.Context, accountID string, id uuid.UUID) (Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.enrollments[id]
	if !ok || e.AccountID != accountID {
		return Enrollment{}, ErrNotFound
	}
	return cloneEnrollment(e), nil
}

func (m *MemoryStore) update(id uuid.UUID, fn func(e *Enrollment) bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.enrollments[id]
	if !ok || !fn(&e) {
		return false
	}
	m.enrollments[id] = e
	return true
}

func (m *MemoryStore) Advance(_ context.Context, id uuid.UUID, from, to int) (bool, error) {
	return m.update(id, func(e *Enrollment) bool {
		if !e.Active() || e.CurrentStep != from {
			return false
		}
		e.CurrentStep = to
		return true
	}), nil
}

func (m *MemoryStore) Complete(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	return m.update(id, func(e *Enrollment) bool {
		if !e.Active() {
			return false
		}
		e.Status = StatusCompleted
		e.CompletedAt = &at
		return true
	}), nil
}

func (m *MemoryStore) Pause(_ context.Context, accountID string, id uuid.UUID, reason string, at time.Time) (bool, error) {
	return m.update(id, func(e *Enrollment) bool {
		if e.AccountID != accountID || !e.Active() {
			return false
		}
		e.Status = StatusPaused
		e.PausedAt = &at
		e.PauseReason = reason
		return true
	}), nil
}

func (m *MemoryStore) PauseActiveForContact(_ context.Context, accountID string, contactID uuid.UUID, reason string, at time.Time) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var paused []uuid.UUID
	for id, e := range m.enrollments {
		if e.AccountID != accountID || e.ContactID != contactID || !e.Active() {
			continue
		}
		e.Status = StatusPaused
		e.PausedAt = &at
		e.PauseReason = reason
		m.enrollments[id] = e
		paused = append(paused, id)
	}
	slices.SortFunc(paused, func(a, b uuid.UUID) int { return strings.Compare(a.String(), b.String()) })
	return paused, nil
}

func (m *MemoryStore) HasActiveEnrollment(_ context.Context, accountID string, contactID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.enrollments {
		if e.AccountID == accountID && e.ContactID == contactID && e.Active() {
			return true, nil
		}
	}
	return false, nil
}

// ForContact lists a contact's enrollments.
func (m *MemoryStore) ForContact(contactID uuid.UUID) []Enrollment {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Enrollment
	for _, e := range m.enrollments {
		if e.ContactID == contactID {
			out = append(out, cloneEnrollment(e))
		}
	}
	return out
}

func usageKey(accountID, channel string, day time.Time) string {
	return accountID + "|" + channel + "|" + dayOf(day).Format(time.DateOnly)
}

// SetDailyLimit overrides a channel's cap for an account.
func (m *MemoryStore) SetDailyLimit(accountID, channel string, limit int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limits[accountID+"|"+channel] = limit
}

func (m *MemoryStore) Allow(_ context.Context, accountID, channel string, day time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit, ok := m.limits[accountID+"|"+channel]
	if !ok {
		limit = DefaultDailyLimit(channel)
	}
	return m.usage[usageKey(accountID, channel, day)] < limit, nil
}

func (m *MemoryStore) Record(_ context.Context, accountID, channel string, day time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage[usageKey(accountID, channel, day)]++
	return nil
}

// Sent returns the recorded sends for a channel on day.
func (m *MemoryStore) Sent(accountID, channel string, day time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usage[usageKey(accountID, channel, day)]
}

var (
	_ EnrollmentStore = (*MemoryStore)(nil)
	_ ChannelLimiter  = (*MemoryStore)(nil)
)
