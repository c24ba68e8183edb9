package contacts

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-process Store for tests and single-node runs.
type MemoryRepository struct {
	mu         sync.Mutex
	now        func() time.Time
	contacts   map[uuid.UUID]Contact
	activities []Activity
	settings   map[string]AccountSettings
}

// NewMemoryRepository creates an empty MemoryRepository. now defaults to
// time.Now.
func NewMemoryRepository(now func() time.Time) *MemoryRepository {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryRepository{
		now:      now,
		contacts: make(map[uuid.UUID]Contact),
		settings: make(map[string]AccountSettings),
	}
}

func cloneContact(c Contact) Contact {
	c.ExtensionFields = maps.Clone(c.ExtensionFields)
	if c.ExtensionFields == nil {
		c.ExtensionFields = map[string]any{}
	}
	return c
}

func (m *MemoryRepository) Create(_ context.Context, params CreateParams) (Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	source := params.Source
	if source == "" {
		source = "manual"
	}
	c := Contact{
		ID:              uuid.New(),
		AccountID:       params.AccountID,
		FirstName:       params.FirstName,
		LastName:        params.LastName,
		Email:           params.Email,
		Phone:           params.Phone,
		Company:         params.Company,
		Title:           params.Title,
		Source:          source,
		Stage:           StageLead,
		DealValue:       params.DealValue,
		ExtensionFields: maps.Clone(params.ExtensionFields),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	c = cloneContact(c)
	m.contacts[c.ID] = c
	return cloneContact(c), nil
}

// Put stores c as-is. Tests use it to seed fixtures.
func (m *MemoryRepository) Put(c Contact) Contact {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Stage == "" {
		c.Stage = StageLead
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = m.now()
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	c = cloneContact(c)
	m.contacts[c.ID] = c
	return cloneContact(c)
}

// PutAccountSettings stores routing settings for an account.
func (m *MemoryRepository) PutAccountSettings(s AccountSettings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[s.AccountID] = s
}

func (m *MemoryRepository) Get(_ context.Context, accountID string, id uuid.UUID) (Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[id]
	if !ok || c.AccountID != accountID {
		return Contact{}, ErrNotFound
	}
	return cloneContact(c), nil
}

func (m *MemoryRepository) update(accountID string, id uuid.UUID, fn func(c *Contact)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[id]
	if !ok || c.AccountID != accountID {
		return ErrNotFound
	}
	fn(&c)
	c.UpdatedAt = m.now()
	m.contacts[id] = c
	return nil
}

func (m *MemoryRepository) UpdateScore(_ context.Context, accountID string, id uuid.UUID, score int) error {
	return m.update(accountID, id, func(c *Contact) { c.Score = score })
}

func (m *MemoryRepository) MergeExtensionFields(_ context.Context, accountID string, id uuid.UUID, fields map[string]any) error {
	return m.update(accountID, id, func(c *Contact) {
		if c.ExtensionFields == nil {
			c.ExtensionFields = map[string]any{}
		}
		maps.Copy(c.ExtensionFields, fields)
	})
}

func (m *MemoryRepository) SetStage(_ context.Context, accountID string, id uuid.UUID, stage Stage, from ...Stage) (bool, error) {
	moved := false
	err := m.update(accountID, id, func(c *Contact) {
		if len(from) > 0 && !slices.Contains(from, c.Stage) {
			return
		}
		c.Stage = stage
		moved = true
	})
	return moved, err
}

func (m *MemoryRepository) SetRouting(_ context.Context, accountID string, id uuid.UUID, mode string) error {
	return m.update(accountID, id, func(c *Contact) { c.RoutingMode = mode })
}

func (m *MemoryRepository) SetAssignedRep(_ context.Context, accountID string, id uuid.UUID, rep string) error {
	return m.update(accountID, id, func(c *Contact) { c.AssignedRep = rep })
}

func (m *MemoryRepository) SetConsent(_ context.Context, accountID string, id uuid.UUID, doNotCall, doNotEmail *bool) error {
	return m.update(accountID, id, func(c *Contact) {
		if doNotCall != nil {
			c.DoNotCall = *doNotCall
		}
		if doNotEmail != nil {
			c.DoNotEmail = *doNotEmail
		}
	})
}

func (m *MemoryRepository) MarkContacted(_ context.Context, accountID string, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[id]
	if !ok || c.AccountID != accountID {
		return ErrNotFound
	}
	c.LastContactedAt = &at
	m.contacts[id] = c
	return nil
}

func (m *MemoryRepository) ListStale(_ context.Context, stages []Stage, updatedBefore time.Time, limit int) ([]Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Contact
	for _, c := range m.contacts {
		if slices.Contains(stages, c.Stage) && c.UpdatedAt.Before(updatedBefore) {
			out = append(out, cloneContact(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryRepository) ListAccounts(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, c := range m.contacts {
		if !seen[c.AccountID] {
			seen[c.AccountID] = true
			out = append(out, c.AccountID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryRepository) LogActivity(_ context.Context, activity Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if activity.ID == uuid.Nil {
		activity.ID = uuid.New()
	}
	for _, a := range m.activities {
		if a.ID == activity.ID {
			return nil
		}
	}
	if activity.CreatedAt.IsZero() {
		activity.CreatedAt = m.now()
	}
	m.activities = append(m.activities, activity)
	return nil
}

func (m *MemoryRepository) ListActivities(_ context.Context, accountID string, contactID uuid.UUID, limit int) ([]Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Activity
	for i := len(m.activities) - 1; i >= 0; i-- {
		a := m.activities[i]
		if a.AccountID == accountID && a.ContactID != nil && *a.ContactID == contactID {
			out = append(out, a)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *MemoryRepository) CountActivities(ctx context.Context, accountID string, contactID uuid.UUID) (int, error) {
	items, err := m.ListActivities(ctx, accountID, contactID, 0)
	return len(items), err
}

func (m *MemoryRepository) CountActivitiesByType(_ context.Context, accountID string, types []string, since time.Time) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[string]int)
	for _, a := range m.activities {
		if a.AccountID == accountID && slices.Contains(types, a.Type) && !a.CreatedAt.Before(since) {
			counts[a.Type]++
		}
	}
	return counts, nil
}

// ActivitiesOfType returns logged activities with the given type, oldest first.
func (m *MemoryRepository) ActivitiesOfType(typ string) []Activity {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Activity
	for _, a := range m.activities {
		if a.Type == typ {
			out = append(out, a)
		}
	}
	return out
}

func (m *MemoryRepository) GetAccountSettings(_ context.Context, accountID string) (AccountSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.settings[accountID]; ok {
		return s, nil
	}
	return DefaultAccountSettings(accountID), nil
}

var _ Store = (*MemoryRepository)(nil)
