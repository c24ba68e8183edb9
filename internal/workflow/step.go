package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"salespipeline_backend/platform/events"
	"salespipeline_backend/platform/logger"

	"github.com/google/uuid"
)

// eventNamespace seeds deterministic ids for events emitted from steps.
var eventNamespace = uuid.MustParse("7d3f6a52-93a1-4c1e-9b55-0f2f4a8e6c11")

// startedStep marks that a run passed its throttle gate.
const startedStep = "$started"

// StepContext is handed to a function handler. It exposes the triggering
// event and the durable step primitives.
type StepContext struct {
	RunID      uuid.UUID
	FunctionID string
	Attempt    int
	Envelope   events.Envelope
	// Event is the decoded trigger, or nil for cron runs and unknown names.
	Event events.Event
	// CronTick is set for schedule-triggered runs.
	CronTick time.Time

	engine *Engine
	steps  map[string]StepRecord
	log    *logger.Logger
}

// Now returns the engine clock's current time.
func (sc *StepContext) Now() time.Time {
	return sc.engine.clock.Now()
}

// Logger returns a logger scoped to this run.
func (sc *StepContext) Logger() *logger.Logger {
	return sc.log
}

func (sc *StepContext) record(name string) (StepRecord, bool) {
	rec, ok := sc.steps[name]
	return rec, ok
}

func (sc *StepContext) newRecord(name string, output json.RawMessage) StepRecord {
	return StepRecord{
		RunID:       sc.RunID,
		Name:        name,
		Seq:         len(sc.steps) + 1,
		Output:      output,
		CompletedAt: sc.Now(),
	}
}

func (sc *StepContext) save(ctx context.Context, rec StepRecord) error {
	if err := sc.engine.store.SaveStep(ctx, rec); err != nil {
		return fmt.Errorf("save step %s: %w", rec.Name, err)
	}
	sc.steps[rec.Name] = rec
	return nil
}

// Run executes fn at most once per run: on replay the recorded output is
// decoded instead. Step names must be unique within a function.
func Run[T any](ctx context.Context, sc *StepContext, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if rec, ok := sc.record(name); ok {
		var out T
		if len(rec.Output) > 0 {
			if err := json.Unmarshal(rec.Output, &out); err != nil {
				return zero, NonRetriable(fmt.Errorf("decode step %s: %w", name, err))
			}
		}
		return out, nil
	}

	out, err := fn(ctx)
	if err != nil {
		sc.log.StepFailed(name, sc.Attempt, err)
		return zero, fmt.Errorf("step %s: %w", name, err)
	}

	raw, err := json.Marshal(out)
	if err != nil {
		return zero, NonRetriable(fmt.Errorf("encode step %s: %w", name, err))
	}
	if err := sc.save(ctx, sc.newRecord(name, raw)); err != nil {
		return zero, err
	}
	return out, nil
}

// Do runs a step that produces no output.
func Do(ctx context.Context, sc *StepContext, name string, fn func(ctx context.Context) error) error {
	_, err := Run(ctx, sc, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

type sleepRecord struct {
	WakeAt time.Time `json:"wakeAt"`
}

// SleepUntil parks the run until wakeAt. The first call records the wake
// time; replays reuse it, so relative sleeps do not drift. It returns a
// *Suspended error while the wake time is in the future.
func (sc *StepContext) SleepUntil(ctx context.Context, name string, wakeAt time.Time) error {
	now := sc.Now()
	if rec, ok := sc.record(name); ok {
		var sr sleepRecord
		if err := json.Unmarshal(rec.Output, &sr); err != nil {
			return NonRetriable(fmt.Errorf("decode sleep %s: %w", name, err))
		}
		if !sr.WakeAt.After(now) {
			return nil
		}
		return &Suspended{Step: name, WakeAt: sr.WakeAt}
	}

	wakeAt = wakeAt.UTC()
	raw, err := json.Marshal(sleepRecord{WakeAt: wakeAt})
	if err != nil {
		return err
	}
	if err := sc.save(ctx, sc.newRecord(name, raw)); err != nil {
		return err
	}
	if !wakeAt.After(now) {
		return nil
	}
	return &Suspended{Step: name, WakeAt: wakeAt}
}

// Sleep parks the run for d, measured from the first time the step is reached.
func (sc *StepContext) Sleep(ctx context.Context, name string, d time.Duration) error {
	return sc.SleepUntil(ctx, name, sc.Now().Add(d))
}

type sendRecord struct {
	IDs []string `json:"ids"`
}

// SendEvent durably publishes evts as one step. Event ids derive from the
// run, the step name and the position, and the step record commits in the
// same transaction as the events, so retries never duplicate a send.
func (sc *StepContext) SendEvent(ctx context.Context, name string, evts ...events.Event) ([]string, error) {
	if rec, ok := sc.record(name); ok {
		var sr sendRecord
		_ = json.Unmarshal(rec.Output, &sr)
		return sr.IDs, nil
	}

	envs := make([]events.Envelope, 0, len(evts))
	ids := make([]string, 0, len(evts))
	for i, evt := range evts {
		id := uuid.NewSHA1(eventNamespace, []byte(sc.RunID.String()+":"+name+":"+strconv.Itoa(i))).String()
		env, err := events.Seal(id, evt)
		if err != nil {
			return nil, NonRetriable(err)
		}
		envs = append(envs, env)
		ids = append(ids, id)
	}

	raw, err := json.Marshal(sendRecord{IDs: ids})
	if err != nil {
		return nil, err
	}
	rec := sc.newRecord(name, raw)
	if err := sc.engine.store.SaveStepWithEvents(ctx, rec, envs); err != nil {
		return nil, fmt.Errorf("send %s: %w", name, err)
	}
	sc.steps[name] = rec
	return ids, nil
}

// EventAs returns the trigger decoded as T. A mismatch is permanent.
func EventAs[T events.Event](sc *StepContext) (T, error) {
	evt, ok := sc.Event.(T)
	if !ok {
		var zero T
		return zero, NonRetriable(fmt.Errorf("function %s: unexpected trigger %q", sc.FunctionID, sc.Envelope.Name))
	}
	return evt, nil
}
