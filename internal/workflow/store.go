package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"salespipeline_backend/platform/events"

	"github.com/google/uuid"
)

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("workflow run not found")

// RunUpdate is the new state written by TransitionRun.
type RunUpdate struct {
	ID         uuid.UUID
	Status     Status
	Attempt    int
	WakeAt     *time.Time
	LastError  string
	Output     json.RawMessage
	FinishedAt *time.Time
	UpdatedAt  time.Time
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	Status     Status
	FunctionID string
	AccountID  string
	Limit      int
}

// SweepOptions tells ClaimDueRuns which runs are eligible for re-enqueueing.
type SweepOptions struct {
	Now time.Time
	// QueuedGrace skips queued runs that became due less than this long ago;
	// they are most likely still sitting in the task queue.
	QueuedGrace time.Duration
	// RunningLease reclaims runs stuck in running longer than this.
	RunningLease time.Duration
	Limit        int
}

// Store is the durable state behind the engine: the event log, runs and
// memoized steps. Implementations must make SaveStepWithEvents atomic.
type Store interface {
	// AppendEvents inserts envelopes as pending. Duplicate ids are ignored.
	AppendEvents(ctx context.Context, envs []events.Envelope) error
	// ClaimPendingEvents locks up to limit pending events for dispatch.
	ClaimPendingEvents(ctx context.Context, now time.Time, limit int) ([]events.Envelope, error)
	// MarkEventsDispatched finalizes claimed events.
	MarkEventsDispatched(ctx context.Context, ids []string, now time.Time) error
	// ReleaseEvent returns a claimed event to pending after a dispatch error.
	ReleaseEvent(ctx context.Context, id string, reason string) error

	// CreateRun inserts run unless its idempotency key exists. It returns the
	// stored run and whether it was newly created.
	CreateRun(ctx context.Context, run RunRecord) (RunRecord, bool, error)
	GetRun(ctx context.Context, id uuid.UUID) (RunRecord, error)
	// ClaimRun moves a due queued or suspended run to running. It reports
	// false when another worker owns the run or it is not due yet.
	ClaimRun(ctx context.Context, id uuid.UUID, now time.Time) (RunRecord, bool, error)
	// TransitionRun applies update only while the run is in one of from.
	TransitionRun(ctx context.Context, from []Status, update RunUpdate) (bool, error)
	// ClaimDueRuns re-queues runs whose wake time passed or whose lease expired.
	ClaimDueRuns(ctx context.Context, opts SweepOptions) ([]RunRecord, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]RunRecord, error)
	// DeleteFinishedRuns purges terminal runs finished before cutoff.
	DeleteFinishedRuns(ctx context.Context, cutoff time.Time) (int64, error)

	LoadSteps(ctx context.Context, runID uuid.UUID) (map[string]StepRecord, error)
	// SaveStep records a step result. An existing record wins.
	SaveStep(ctx context.Context, rec StepRecord) error
	// SaveStepWithEvents records a step and appends its events atomically.
	SaveStepWithEvents(ctx context.Context, rec StepRecord, envs []events.Envelope) error
}
