package workflow

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"salespipeline_backend/platform/events"

	"github.com/google/uuid"
)

type memEvent struct {
	env       events.Envelope
	status    string
	lastError string
	seq       int
}

// MemoryStore is a process-local Store used by tests and single-binary
// development runs. It survives engine restarts within one process.
type MemoryStore struct {
	mu       sync.Mutex
	events   map[string]*memEvent
	eventSeq int
	runs     map[uuid.UUID]*RunRecord
	keys     map[string]uuid.UUID
	steps    map[uuid.UUID]map[string]StepRecord
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events: make(map[string]*memEvent),
		runs:   make(map[uuid.UUID]*RunRecord),
		keys:   make(map[string]uuid.UUID),
		steps:  make(map[uuid.UUID]map[string]StepRecord),
	}
}

func (s *MemoryStore) AppendEvents(_ context.Context, envs []events.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(envs)
	return nil
}

func (s *MemoryStore) appendLocked(envs []events.Envelope) {
	for _, env := range envs {
		if _, exists := s.events[env.ID]; exists {
			continue
		}
		s.eventSeq++
		s.events[env.ID] = &memEvent{env: env, status: "pending", seq: s.eventSeq}
	}
}

func (s *MemoryStore) ClaimPendingEvents(_ context.Context, _ time.Time, limit int) ([]events.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make([]*memEvent, 0)
	for _, e := range s.events {
		if e.status == "pending" {
			pending = append(pending, e)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].seq < pending[j].seq })
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}

	out := make([]events.Envelope, 0, len(pending))
	for _, e := range pending {
		e.status = "dispatching"
		out = append(out, e.env)
	}
	return out, nil
}

func (s *MemoryStore) MarkEventsDispatched(_ context.Context, ids []string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if e, ok := s.events[id]; ok {
			e.status = "dispatched"
		}
	}
	return nil
}

func (s *MemoryStore) ReleaseEvent(_ context.Context, id string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.events[id]; ok {
		e.status = "pending"
		e.lastError = reason
	}
	return nil
}

// Events returns every appended envelope in insertion order.
func (s *MemoryStore) Events() []events.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]*memEvent, 0, len(s.events))
	for _, e := range s.events {
		list = append(list, e)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].seq < list[j].seq })
	out := make([]events.Envelope, 0, len(list))
	for _, e := range list {
		out = append(out, e.env)
	}
	return out
}

// EventsNamed returns appended envelopes with the given name.
func (s *MemoryStore) EventsNamed(name string) []events.Envelope {
	var out []events.Envelope
	for _, env := range s.Events() {
		if env.Name == name {
			out = append(out, env)
		}
	}
	return out
}

func (s *MemoryStore) CreateRun(_ context.Context, run RunRecord) (RunRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, exists := s.keys[run.IdempotencyKey]; exists {
		return *s.runs[id], false, nil
	}
	stored := run
	s.runs[run.ID] = &stored
	s.keys[run.IdempotencyKey] = run.ID
	return stored, true, nil
}

func (s *MemoryStore) GetRun(_ context.Context, id uuid.UUID) (RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return RunRecord{}, ErrRunNotFound
	}
	return *run, nil
}

func (s *MemoryStore) ClaimRun(_ context.Context, id uuid.UUID, now time.Time) (RunRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return RunRecord{}, false, ErrRunNotFound
	}
	if run.Status != StatusQueued && run.Status != StatusSuspended {
		return *run, false, nil
	}
	if run.WakeAt != nil && run.WakeAt.After(now) {
		return *run, false, nil
	}
	run.Status = StatusRunning
	run.UpdatedAt = now
	return *run, true, nil
}

func (s *MemoryStore) TransitionRun(_ context.Context, from []Status, u RunUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[u.ID]
	if !ok {
		return false, ErrRunNotFound
	}
	if !slices.Contains(from, run.Status) {
		return false, nil
	}
	run.Status = u.Status
	run.Attempt = u.Attempt
	run.WakeAt = u.WakeAt
	run.LastError = u.LastError
	if u.Output != nil {
		run.Output = u.Output
	}
	run.FinishedAt = u.FinishedAt
	run.UpdatedAt = u.UpdatedAt
	return true, nil
}

func (s *MemoryStore) ClaimDueRuns(_ context.Context, opts SweepOptions) ([]RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*RunRecord
	for _, run := range s.runs {
		switch run.Status {
		case StatusSuspended:
			if run.WakeAt == nil || !run.WakeAt.After(opts.Now) {
				due = append(due, run)
			}
		case StatusQueued:
			if run.WakeAt == nil || !run.WakeAt.Add(opts.QueuedGrace).After(opts.Now) {
				due = append(due, run)
			}
		case StatusRunning:
			if opts.RunningLease > 0 && !run.UpdatedAt.Add(opts.RunningLease).After(opts.Now) {
				due = append(due, run)
			}
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if opts.Limit > 0 && len(due) > opts.Limit {
		due = due[:opts.Limit]
	}

	out := make([]RunRecord, 0, len(due))
	for _, run := range due {
		run.Status = StatusQueued
		run.UpdatedAt = opts.Now
		out = append(out, *run)
	}
	return out, nil
}

func (s *MemoryStore) ListRuns(_ context.Context, f RunFilter) ([]RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RunRecord, 0)
	for _, run := range s.runs {
		if f.Status != "" && run.Status != f.Status {
			continue
		}
		if f.FunctionID != "" && run.FunctionID != f.FunctionID {
			continue
		}
		if f.AccountID != "" && run.AccountID != f.AccountID {
			continue
		}
		out = append(out, *run)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) DeleteFinishedRuns(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, run := range s.runs {
		if run.Status.Terminal() && run.FinishedAt != nil && run.FinishedAt.Before(cutoff) {
			delete(s.runs, id)
			delete(s.keys, run.IdempotencyKey)
			delete(s.steps, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) LoadSteps(_ context.Context, runID uuid.UUID) (map[string]StepRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]StepRecord, len(s.steps[runID]))
	for k, v := range s.steps[runID] {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) SaveStep(_ context.Context, rec StepRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveStepLocked(rec)
	return nil
}

func (s *MemoryStore) saveStepLocked(rec StepRecord) {
	steps, ok := s.steps[rec.RunID]
	if !ok {
		steps = make(map[string]StepRecord)
		s.steps[rec.RunID] = steps
	}
	if _, exists := steps[rec.Name]; exists {
		return
	}
	steps[rec.Name] = rec
}

func (s *MemoryStore) SaveStepWithEvents(_ context.Context, rec StepRecord, envs []events.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(envs)
	s.saveStepLocked(rec)
	return nil
}
