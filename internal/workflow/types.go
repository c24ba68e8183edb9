// Package workflow implements the durable, event-driven function runtime:
// functions triggered by events or cron schedules, composed of memoized
// steps, able to suspend for days without holding a goroutine.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"salespipeline_backend/platform/events"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a function run.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSuspended Status = "suspended"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further execution will happen.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CronEventName is recorded on runs started by a schedule tick.
const CronEventName = "cron.tick"

// RunRecord is one durable invocation of a function against one event or tick.
type RunRecord struct {
	ID             uuid.UUID
	FunctionID     string
	IdempotencyKey string
	EventID        string
	EventName      string
	EventPayload   json.RawMessage
	AccountID      string
	Status         Status
	Attempt        int
	WakeAt         *time.Time
	LastError      string
	Output         json.RawMessage
	CreatedAt      time.Time
	UpdatedAt      time.Time
	FinishedAt     *time.Time
}

// Envelope rebuilds the triggering envelope stored on the run.
func (r RunRecord) Envelope() events.Envelope {
	return events.Envelope{
		ID:        r.EventID,
		Name:      r.EventName,
		AccountID: r.AccountID,
		Payload:   r.EventPayload,
	}
}

// StepRecord is the memoized result of one completed step.
type StepRecord struct {
	RunID       uuid.UUID
	Name        string
	Seq         int
	Output      json.RawMessage
	CompletedAt time.Time
}

// Trigger starts a function: either an event name or a cron expression.
type Trigger struct {
	Event string
	Cron  string
}

// OnEvent is a Trigger for an event name.
func OnEvent(name string) Trigger { return Trigger{Event: name} }

// OnCron is a Trigger for a standard five-field cron expression (UTC).
func OnCron(spec string) Trigger { return Trigger{Cron: spec} }

// Throttle caps runs started per rolling period, bucketed by Key.
type Throttle struct {
	Limit  int
	Period time.Duration
	Key    func(env events.Envelope) string
}

// ByAccount buckets throttles by the envelope's account.
func ByAccount(env events.Envelope) string {
	return env.AccountID
}

// HandlerFunc is the body of a function. It must route all side effects
// through the StepContext so replays converge.
type HandlerFunc func(ctx context.Context, sc *StepContext) (any, error)

// Function is a registered unit of durable work.
type Function struct {
	ID          string
	Triggers    []Trigger
	Retries     int
	Concurrency int
	Throttle    *Throttle
	Handler     HandlerFunc
}

// DefaultRetries is used when a Function leaves Retries at zero.
const DefaultRetries = 3

// NoRetries can be set on Function.Retries to fail on the first error.
const NoRetries = -1

func (f Function) maxRetries() int {
	switch {
	case f.Retries < 0:
		return 0
	case f.Retries == 0:
		return DefaultRetries
	default:
		return f.Retries
	}
}

// Suspended is returned by a sleep that has not reached its wake time. The
// handler must return it unchanged so the engine can park the run.
type Suspended struct {
	Step   string
	WakeAt time.Time
}

func (s *Suspended) Error() string {
	return fmt.Sprintf("run suspended at %s until %s", s.Step, s.WakeAt.Format(time.RFC3339))
}

// IsSuspended reports whether err parks the run.
func IsSuspended(err error) (*Suspended, bool) {
	var s *Suspended
	if errors.As(err, &s) {
		return s, true
	}
	return nil, false
}

type nonRetriable struct {
	err error
}

func (e *nonRetriable) Error() string { return e.err.Error() }
func (e *nonRetriable) Unwrap() error { return e.err }

// NonRetriable marks err as permanent: the run fails without further attempts.
func NonRetriable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetriable{err: err}
}

// Clock abstracts time for the runtime.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// ManualClock is a settable clock for tests and simulations.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock starts a manual clock at t.
func NewManualClock(t time.Time) *ManualClock {
	return &ManualClock{now: t.UTC()}
}

// Now returns the current manual time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Set moves the clock to t.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t.UTC()
	c.mu.Unlock()
}
