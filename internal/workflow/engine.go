package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	pipelineevents "salespipeline_backend/internal/events"
	"salespipeline_backend/platform/apperr"
	"salespipeline_backend/platform/events"
	"salespipeline_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

const (
	defaultRetryBase        = 10 * time.Second
	defaultRetryCap         = 10 * time.Minute
	defaultConcurrencyRetry = 2 * time.Second
	defaultConcurrencyLease = 15 * time.Minute
	maxDrainRounds          = 1000
)

// Options configures an Engine. Store, Queue and Registry are required.
type Options struct {
	Store     Store
	Queue     Queue
	Throttler Throttler
	// Concurrency enforces Function.Concurrency. The default only counts
	// runs in this process; use RedisConcurrency when several workers share
	// the store.
	Concurrency ConcurrencyLimiter
	Registry    *events.Registry
	// Observers receives every dispatched event after its runs exist.
	Observers events.Bus
	Clock     Clock
	Logger    *logger.Logger

	RetryBase        time.Duration
	RetryCap         time.Duration
	ConcurrencyRetry time.Duration
	// QueuedGrace and RunningLease are passed to the store on each sweep.
	QueuedGrace  time.Duration
	RunningLease time.Duration
}

type registered struct {
	fn Function
}

// CronEntry is a schedule a function is bound to.
type CronEntry struct {
	FunctionID string
	Spec       string
}

// Engine registers functions, dispatches events into runs and executes runs
// against the durable store.
type Engine struct {
	store       Store
	queue       Queue
	throttler   Throttler
	concurrency ConcurrencyLimiter
	registry    *events.Registry
	observers   events.Bus
	clock       Clock
	log         *logger.Logger

	retryBase        time.Duration
	retryCap         time.Duration
	concurrencyRetry time.Duration
	queuedGrace      time.Duration
	runningLease     time.Duration

	mu        sync.RWMutex
	functions map[string]*registered
	subs      map[string][]string
	crons     []CronEntry
}

// New creates an Engine.
func New(opts Options) *Engine {
	e := &Engine{
		store:            opts.Store,
		queue:            opts.Queue,
		throttler:        opts.Throttler,
		concurrency:      opts.Concurrency,
		registry:         opts.Registry,
		observers:        opts.Observers,
		clock:            opts.Clock,
		log:              opts.Logger,
		retryBase:        opts.RetryBase,
		retryCap:         opts.RetryCap,
		concurrencyRetry: opts.ConcurrencyRetry,
		queuedGrace:      opts.QueuedGrace,
		runningLease:     opts.RunningLease,
		functions:        make(map[string]*registered),
		subs:             make(map[string][]string),
	}
	if e.clock == nil {
		e.clock = SystemClock{}
	}
	if e.log == nil {
		e.log = logger.Discard()
	}
	if e.throttler == nil {
		e.throttler = NewMemoryThrottler()
	}
	if e.concurrency == nil {
		e.concurrency = NewLocalConcurrency()
	}
	if e.registry == nil {
		e.registry = pipelineevents.NewRegistry()
	}
	if e.retryBase <= 0 {
		e.retryBase = defaultRetryBase
	}
	if e.retryCap <= 0 {
		e.retryCap = defaultRetryCap
	}
	if e.concurrencyRetry <= 0 {
		e.concurrencyRetry = defaultConcurrencyRetry
	}
	return e
}

// Register adds functions and binds their triggers.
func (e *Engine) Register(fns ...Function) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, fn := range fns {
		if fn.ID == "" {
			return fmt.Errorf("register: function id is required")
		}
		if fn.Handler == nil {
			return fmt.Errorf("register %s: handler is required", fn.ID)
		}
		if _, exists := e.functions[fn.ID]; exists {
			return fmt.Errorf("register %s: already registered", fn.ID)
		}
		if fn.Throttle != nil && (fn.Throttle.Limit <= 0 || fn.Throttle.Period <= 0) {
			return fmt.Errorf("register %s: throttle needs a positive limit and period", fn.ID)
		}

		reg := &registered{fn: fn}
		for _, t := range fn.Triggers {
			switch {
			case t.Event != "":
				e.subs[t.Event] = appendUnique(e.subs[t.Event], fn.ID)
			case t.Cron != "":
				if _, err := cron.ParseStandard(t.Cron); err != nil {
					return fmt.Errorf("register %s: cron %q: %w", fn.ID, t.Cron, err)
				}
				e.crons = append(e.crons, CronEntry{FunctionID: fn.ID, Spec: t.Cron})
			default:
				return fmt.Errorf("register %s: empty trigger", fn.ID)
			}
		}
		e.functions[fn.ID] = reg
	}
	return nil
}

// MustRegister panics when Register fails. Composition roots use it.
func (e *Engine) MustRegister(fns ...Function) {
	if err := e.Register(fns...); err != nil {
		panic(err)
	}
}

// Subscribe binds an additional event name to a registered function.
func (e *Engine) Subscribe(eventName, functionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.functions[functionID]; !ok {
		return fmt.Errorf("subscribe %s: unknown function %q", eventName, functionID)
	}
	e.subs[eventName] = appendUnique(e.subs[eventName], functionID)
	return nil
}

// RegisterCron adds a schedule to a registered function.
func (e *Engine) RegisterCron(spec, functionID string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("register cron %q: %w", spec, err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.functions[functionID]; !ok {
		return fmt.Errorf("register cron %q: unknown function %q", spec, functionID)
	}
	for _, c := range e.crons {
		if c.FunctionID == functionID && c.Spec == spec {
			return nil
		}
	}
	e.crons = append(e.crons, CronEntry{FunctionID: functionID, Spec: spec})
	return nil
}

// Functions lists registered function ids, sorted.
func (e *Engine) Functions() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.functions))
	for id := range e.functions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CronEntries lists every schedule registered so far.
func (e *Engine) CronEntries() []CronEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]CronEntry(nil), e.crons...)
}

// Subscribers lists the functions bound to eventName.
func (e *Engine) Subscribers(eventName string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]string(nil), e.subs[eventName]...)
}

func (e *Engine) function(id string) (*registered, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	reg, ok := e.functions[id]
	return reg, ok
}

// Publish appends events to the durable log. They are fanned out to
// functions by Dispatch.
func (e *Engine) Publish(ctx context.Context, evts ...events.Event) ([]string, error) {
	envs := make([]events.Envelope, 0, len(evts))
	ids := make([]string, 0, len(evts))
	for _, evt := range evts {
		env, err := events.Seal("", evt)
		if err != nil {
			return nil, apperr.BadRequest(err.Error())
		}
		envs = append(envs, env)
		ids = append(ids, env.ID)
	}
	if err := e.PublishEnvelopes(ctx, envs...); err != nil {
		return nil, err
	}
	return ids, nil
}

// PublishEnvelopes appends pre-sealed envelopes. Ids act as dedupe keys.
func (e *Engine) PublishEnvelopes(ctx context.Context, envs ...events.Envelope) error {
	if len(envs) == 0 {
		return nil
	}
	if err := e.store.AppendEvents(ctx, envs); err != nil {
		return fmt.Errorf("append events: %w", err)
	}
	return nil
}

// Dispatch claims pending events and creates one run per subscribed
// function. It returns the number of events processed.
func (e *Engine) Dispatch(ctx context.Context, limit int) (int, error) {
	now := e.clock.Now()
	envs, err := e.store.ClaimPendingEvents(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("claim events: %w", err)
	}

	done := make([]string, 0, len(envs))
	for _, env := range envs {
		if err := e.fanOut(ctx, env, now); err != nil {
			e.log.Error("event_dispatch_failed", "event", env.Name, "event_id", env.ID, "error", err)
			if rerr := e.store.ReleaseEvent(ctx, env.ID, err.Error()); rerr != nil {
				e.log.DatabaseError("release_event", rerr)
			}
			continue
		}
		done = append(done, env.ID)
		e.notifyObservers(ctx, env)
	}

	if len(done) > 0 {
		if err := e.store.MarkEventsDispatched(ctx, done, now); err != nil {
			return len(envs), fmt.Errorf("mark dispatched: %w", err)
		}
	}
	return len(envs), nil
}

func (e *Engine) fanOut(ctx context.Context, env events.Envelope, now time.Time) error {
	for _, fnID := range e.Subscribers(env.Name) {
		wake := now
		run := RunRecord{
			ID:             uuid.New(),
			FunctionID:     fnID,
			IdempotencyKey: fnID + ":" + env.ID,
			EventID:        env.ID,
			EventName:      env.Name,
			EventPayload:   env.Payload,
			AccountID:      env.AccountID,
			Status:         StatusQueued,
			WakeAt:         &wake,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := e.startRun(ctx, run); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) startRun(ctx context.Context, run RunRecord) error {
	stored, created, err := e.store.CreateRun(ctx, run)
	if err != nil {
		return fmt.Errorf("create run for %s: %w", run.FunctionID, err)
	}
	if created {
		e.enqueue(ctx, stored.ID, *stored.WakeAt)
	}
	return nil
}

func (e *Engine) enqueue(ctx context.Context, runID uuid.UUID, at time.Time) {
	if e.queue == nil {
		return
	}
	if err := e.queue.Enqueue(ctx, runID, at); err != nil {
		// The sweeper picks the run up from the store.
		e.log.Warn("run_enqueue_failed", "run_id", runID.String(), "error", err)
	}
}

func (e *Engine) notifyObservers(ctx context.Context, env events.Envelope) {
	if e.observers == nil || !e.registry.Known(env.Name) {
		return
	}
	evt, err := e.registry.Decode(env)
	if err != nil {
		e.log.Warn("event_decode_failed", "event", env.Name, "event_id", env.ID, "error", err)
		return
	}
	e.observers.Publish(events.WithEnvelopeID(ctx, env.ID), evt)
}

type cronPayload struct {
	Tick time.Time `json:"tick"`
}

// TriggerCron starts fnID for one schedule tick. Ticks are truncated to the
// minute, so duplicate deliveries of the same tick yield one run.
func (e *Engine) TriggerCron(ctx context.Context, fnID string, tick time.Time) (uuid.UUID, error) {
	if _, ok := e.function(fnID); !ok {
		return uuid.Nil, apperr.NotFound(fmt.Sprintf("function %q", fnID))
	}
	tick = tick.UTC().Truncate(time.Minute)
	payload, err := json.Marshal(cronPayload{Tick: tick})
	if err != nil {
		return uuid.Nil, err
	}

	now := e.clock.Now()
	run := RunRecord{
		ID:             uuid.New(),
		FunctionID:     fnID,
		IdempotencyKey: fnID + ":cron:" + tick.Format(time.RFC3339),
		EventName:      CronEventName,
		EventPayload:   payload,
		Status:         StatusQueued,
		WakeAt:         &now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	stored, created, err := e.store.CreateRun(ctx, run)
	if err != nil {
		return uuid.Nil, fmt.Errorf("create cron run for %s: %w", fnID, err)
	}
	if created {
		e.enqueue(ctx, stored.ID, now)
	}
	return stored.ID, nil
}

// Execute claims runID and drives its handler until it completes, suspends
// or fails. Handler errors are recorded on the run; only store failures are
// returned.
func (e *Engine) Execute(ctx context.Context, runID uuid.UUID) error {
	now := e.clock.Now()
	run, claimed, err := e.store.ClaimRun(ctx, runID, now)
	if err != nil {
		if errors.Is(err, ErrRunNotFound) {
			return nil
		}
		return fmt.Errorf("claim run %s: %w", runID, err)
	}
	if !claimed {
		return nil
	}

	log := e.log.WithRun(run.FunctionID, run.ID.String())
	if run.AccountID != "" {
		log = log.WithAccountID(run.AccountID)
	}

	reg, ok := e.function(run.FunctionID)
	if !ok {
		return e.fail(ctx, run, log, fmt.Errorf("function %q is not registered", run.FunctionID))
	}

	if limit := reg.fn.Concurrency; limit > 0 {
		lease := e.runningLease
		if lease <= 0 {
			lease = defaultConcurrencyLease
		}
		token, ok, err := e.concurrency.Acquire(ctx, run.FunctionID, limit, lease, now)
		if err != nil {
			log.Warn("concurrency_check_failed", "error", err)
			return e.requeue(ctx, run, now.Add(e.concurrencyRetry), run.Attempt, run.LastError)
		}
		if !ok {
			return e.requeue(ctx, run, now.Add(e.concurrencyRetry), run.Attempt, run.LastError)
		}
		defer func() {
			if err := e.concurrency.Release(context.WithoutCancel(ctx), run.FunctionID, token); err != nil {
				log.Warn("concurrency_release_failed", "error", err)
			}
		}()
	}

	steps, err := e.store.LoadSteps(ctx, run.ID)
	if err != nil {
		_ = e.requeue(ctx, run, now.Add(e.concurrencyRetry), run.Attempt, run.LastError)
		return fmt.Errorf("load steps for %s: %w", run.ID, err)
	}

	sc := &StepContext{
		RunID:      run.ID,
		FunctionID: run.FunctionID,
		Attempt:    run.Attempt,
		Envelope:   run.Envelope(),
		engine:     e,
		steps:      steps,
		log:        log,
	}

	if fn := reg.fn; fn.Throttle != nil {
		if _, started := steps[startedStep]; !started {
			key := run.FunctionID
			if fn.Throttle.Key != nil {
				key += ":" + fn.Throttle.Key(sc.Envelope)
			}
			allowed, wait, err := e.throttler.Allow(ctx, key, fn.Throttle.Limit, fn.Throttle.Period, now)
			if err != nil {
				log.Warn("throttle_check_failed", "error", err)
				return e.requeue(ctx, run, now.Add(e.concurrencyRetry), run.Attempt, run.LastError)
			}
			if !allowed {
				log.ThrottleExceeded(run.FunctionID, key, wait.Milliseconds())
				return e.requeue(ctx, run, now.Add(wait), run.Attempt, run.LastError)
			}
			if err := sc.save(ctx, sc.newRecord(startedStep, json.RawMessage(`{}`))); err != nil {
				_ = e.requeue(ctx, run, now.Add(e.concurrencyRetry), run.Attempt, run.LastError)
				return err
			}
		}
	}

	if err := e.decodeTrigger(sc, run); err != nil {
		return e.fail(ctx, run, log, err)
	}

	runCtx := context.WithValue(ctx, logger.RunIDKey, run.ID.String())
	if run.AccountID != "" {
		runCtx = context.WithValue(runCtx, logger.AccountIDKey, run.AccountID)
	}
	output, herr := invoke(runCtx, reg.fn.Handler, sc)
	return e.settle(ctx, run, reg.fn, log, output, herr)
}

func (e *Engine) decodeTrigger(sc *StepContext, run RunRecord) error {
	if run.EventName == CronEventName {
		var p cronPayload
		if err := json.Unmarshal(run.EventPayload, &p); err != nil {
			return fmt.Errorf("decode cron payload: %w", err)
		}
		sc.CronTick = p.Tick
		return nil
	}
	if !e.registry.Known(run.EventName) {
		return nil
	}
	evt, err := e.registry.Decode(run.Envelope())
	if err != nil {
		return err
	}
	sc.Event = evt
	return nil
}

func invoke(ctx context.Context, h HandlerFunc, sc *StepContext) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, sc)
}

func (e *Engine) settle(ctx context.Context, run RunRecord, fn Function, log *logger.Logger, output any, herr error) error {
	now := e.clock.Now()

	if herr == nil {
		raw, err := json.Marshal(output)
		if err != nil {
			raw = nil
		}
		finished := now
		_, err = e.store.TransitionRun(ctx, []Status{StatusRunning}, RunUpdate{
			ID:         run.ID,
			Status:     StatusCompleted,
			Attempt:    run.Attempt,
			Output:     raw,
			FinishedAt: &finished,
			UpdatedAt:  now,
		})
		if err != nil {
			return fmt.Errorf("complete run %s: %w", run.ID, err)
		}
		log.Debug("run_completed")
		return nil
	}

	if s, ok := IsSuspended(herr); ok {
		wake := s.WakeAt
		moved, err := e.store.TransitionRun(ctx, []Status{StatusRunning}, RunUpdate{
			ID:        run.ID,
			Status:    StatusSuspended,
			Attempt:   run.Attempt,
			WakeAt:    &wake,
			LastError: run.LastError,
			UpdatedAt: now,
		})
		if err != nil {
			return fmt.Errorf("suspend run %s: %w", run.ID, err)
		}
		if moved {
			e.enqueue(ctx, run.ID, wake)
			log.Debug("run_suspended", "step", s.Step, "wake_at", wake)
		}
		return nil
	}

	if ctx.Err() != nil {
		return e.requeue(context.WithoutCancel(ctx), run, now, run.Attempt, run.LastError)
	}

	if permanent(herr) || run.Attempt >= fn.maxRetries() {
		return e.fail(ctx, run, log, herr)
	}

	attempt := run.Attempt + 1
	wake := now.Add(e.backoff(attempt))
	log.Warn("run_retry_scheduled", "attempt", attempt, "retry_at", wake, "error", herr.Error())
	return e.requeue(ctx, run, wake, attempt, herr.Error())
}

func (e *Engine) requeue(ctx context.Context, run RunRecord, at time.Time, attempt int, lastError string) error {
	moved, err := e.store.TransitionRun(ctx, []Status{StatusRunning}, RunUpdate{
		ID:        run.ID,
		Status:    StatusQueued,
		Attempt:   attempt,
		WakeAt:    &at,
		LastError: lastError,
		UpdatedAt: e.clock.Now(),
	})
	if err != nil {
		return fmt.Errorf("requeue run %s: %w", run.ID, err)
	}
	if moved {
		e.enqueue(ctx, run.ID, at)
	}
	return nil
}

func (e *Engine) fail(ctx context.Context, run RunRecord, log *logger.Logger, cause error) error {
	now := e.clock.Now()
	finished := now
	moved, err := e.store.TransitionRun(ctx, []Status{StatusRunning}, RunUpdate{
		ID:         run.ID,
		Status:     StatusFailed,
		Attempt:    run.Attempt,
		LastError:  cause.Error(),
		FinishedAt: &finished,
		UpdatedAt:  now,
	})
	if err != nil {
		return fmt.Errorf("fail run %s: %w", run.ID, err)
	}
	if !moved {
		return nil
	}

	log.Error("run_failed", "trigger", run.EventName, "attempt", run.Attempt, "error", cause.Error())

	failed := pipelineevents.RunFailed{
		BaseEvent:  events.BaseEvent{Timestamp: now},
		AccountRef: pipelineevents.AccountRef{AccountID: run.AccountID},
		RunID:      run.ID,
		FunctionID: run.FunctionID,
		Trigger:    run.EventName,
		Error:      cause.Error(),
	}
	id := uuid.NewSHA1(eventNamespace, []byte(run.ID.String()+":failed:"+strconv.Itoa(run.Attempt))).String()
	env, err := events.Seal(id, failed)
	if err != nil {
		return err
	}
	if err := e.store.AppendEvents(ctx, []events.Envelope{env}); err != nil {
		log.DatabaseError("append_run_failed", err)
	}
	return nil
}

func (e *Engine) backoff(attempt int) time.Duration {
	d := time.Duration(attempt*attempt) * e.retryBase
	if d > e.retryCap {
		return e.retryCap
	}
	return d
}

func permanent(err error) bool {
	var nr *nonRetriable
	if errors.As(err, &nr) {
		return true
	}
	return apperr.IsPermanent(err)
}

// Sweep re-enqueues runs whose wake time passed or whose lease expired. It
// is how suspended runs resume after a restart.
func (e *Engine) Sweep(ctx context.Context, limit int) (int, error) {
	runs, err := e.store.ClaimDueRuns(ctx, SweepOptions{
		Now:          e.clock.Now(),
		QueuedGrace:  e.queuedGrace,
		RunningLease: e.runningLease,
		Limit:        limit,
	})
	if err != nil {
		return 0, fmt.Errorf("claim due runs: %w", err)
	}
	now := e.clock.Now()
	for _, run := range runs {
		e.enqueue(ctx, run.ID, now)
	}
	return len(runs), nil
}

// Drain dispatches, sweeps and executes until nothing due remains. It only
// works with a LocalQueue and is meant for tests and single-process mode.
func (e *Engine) Drain(ctx context.Context) error {
	lq, ok := e.queue.(*LocalQueue)
	if !ok {
		return errors.New("drain requires a local queue")
	}
	for range maxDrainRounds {
		dispatched, err := e.Dispatch(ctx, 100)
		if err != nil {
			return err
		}
		swept, err := e.Sweep(ctx, 100)
		if err != nil {
			return err
		}
		due := lq.PopDue(e.clock.Now())
		for _, id := range due {
			if err := e.Execute(ctx, id); err != nil {
				return err
			}
		}
		if dispatched == 0 && swept == 0 && len(due) == 0 {
			return nil
		}
	}
	return errors.New("drain did not settle")
}

// Cancel stops a run that has not finished. A running handler is not
// interrupted but its result is discarded.
func (e *Engine) Cancel(ctx context.Context, runID uuid.UUID) error {
	now := e.clock.Now()
	moved, err := e.store.TransitionRun(ctx, []Status{StatusQueued, StatusSuspended, StatusRunning}, RunUpdate{
		ID:         runID,
		Status:     StatusCancelled,
		LastError:  "cancelled",
		FinishedAt: &now,
		UpdatedAt:  now,
	})
	if err != nil {
		if errors.Is(err, ErrRunNotFound) {
			return apperr.NotFound("workflow run")
		}
		return err
	}
	if !moved {
		return apperr.Conflict("workflow run already finished")
	}
	return nil
}

// Replay re-queues a failed or cancelled run. Completed steps are kept, so
// execution resumes at the first step that did not finish.
func (e *Engine) Replay(ctx context.Context, runID uuid.UUID) error {
	now := e.clock.Now()
	moved, err := e.store.TransitionRun(ctx, []Status{StatusFailed, StatusCancelled}, RunUpdate{
		ID:        runID,
		Status:    StatusQueued,
		WakeAt:    &now,
		UpdatedAt: now,
	})
	if err != nil {
		if errors.Is(err, ErrRunNotFound) {
			return apperr.NotFound("workflow run")
		}
		return err
	}
	if !moved {
		return apperr.Conflict("only failed or cancelled runs can be replayed")
	}
	e.enqueue(ctx, runID, now)
	return nil
}

// GetRun returns one run.
func (e *Engine) GetRun(ctx context.Context, runID uuid.UUID) (RunRecord, error) {
	run, err := e.store.GetRun(ctx, runID)
	if errors.Is(err, ErrRunNotFound) {
		return RunRecord{}, apperr.NotFound("workflow run")
	}
	return run, err
}

// ListRuns lists runs, newest first.
func (e *Engine) ListRuns(ctx context.Context, filter RunFilter) ([]RunRecord, error) {
	return e.store.ListRuns(ctx, filter)
}

// Purge deletes finished runs older than retention.
func (e *Engine) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	return e.store.DeleteFinishedRuns(ctx, e.clock.Now().Add(-retention))
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
