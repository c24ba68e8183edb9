// Package workflowtest runs functions against an in-memory engine with a
// manual clock. It is used by the tests of the pipeline packages.
package workflowtest

import (
	"context"
	"testing"
	"time"

	"salespipeline_backend/internal/workflow"
	"salespipeline_backend/platform/events"
	"salespipeline_backend/platform/logger"
)

// Start is the default clock origin, a Monday morning.
var Start = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type Harness struct {
	Engine *workflow.Engine
	Store  *workflow.MemoryStore
	Clock  *workflow.ManualClock
}

// New registers fns on a fresh engine.
func New(t *testing.T, fns ...workflow.Function) *Harness {
	t.Helper()
	clock := workflow.NewManualClock(Start)
	store := workflow.NewMemoryStore()
	engine := workflow.New(workflow.Options{
		Store:     store,
		Queue:     workflow.NewLocalQueue(),
		Clock:     clock,
		Logger:    logger.Discard(),
		RetryBase: time.Second,
	})
	if err := engine.Register(fns...); err != nil {
		t.Fatalf("register: %v", err)
	}
	return &Harness{Engine: engine, Store: store, Clock: clock}
}

// Now returns the manual clock's time. Pass it to in-memory repositories.
func (h *Harness) Now() time.Time {
	return h.Clock.Now()
}

// Publish appends evts and drains the engine.
func (h *Harness) Publish(t *testing.T, evts ...events.Event) {
	t.Helper()
	if _, err := h.Engine.Publish(context.Background(), evts...); err != nil {
		t.Fatalf("publish: %v", err)
	}
	h.Drain(t)
}

// Drain executes everything due at the current clock time.
func (h *Harness) Drain(t *testing.T) {
	t.Helper()
	if err := h.Engine.Drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
}

// Advance moves the clock forward and drains.
func (h *Harness) Advance(t *testing.T, d time.Duration) {
	t.Helper()
	h.Clock.Advance(d)
	h.Drain(t)
}

// Runs lists runs of functionID, newest first.
func (h *Harness) Runs(t *testing.T, functionID string) []workflow.RunRecord {
	t.Helper()
	runs, err := h.Store.ListRuns(context.Background(), workflow.RunFilter{FunctionID: functionID})
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	return runs
}

// Decode returns the events named like proto, decoded to T.
func Decode[T events.Event](t *testing.T, h *Harness) []T {
	t.Helper()
	var zero T
	registry := events.NewRegistry(zero)
	var out []T
	for _, env := range h.Store.EventsNamed(zero.EventName()) {
		evt, err := registry.Decode(env)
		if err != nil {
			t.Fatalf("decode %s: %v", env.Name, err)
		}
		out = append(out, evt.(T))
	}
	return out
}

// Tick starts a schedule run of functionID at the current clock time and
// drains.
func (h *Harness) Tick(t *testing.T, functionID string) {
	t.Helper()
	if _, err := h.Engine.TriggerCron(context.Background(), functionID, h.Now()); err != nil {
		t.Fatalf("trigger cron %s: %v", functionID, err)
	}
	h.Drain(t)
}
