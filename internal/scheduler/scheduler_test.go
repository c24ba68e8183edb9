package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

type fakeEngine struct {
	mu        sync.Mutex
	executed  []uuid.UUID
	triggered []string
	ticks     []time.Time
	execErr   error
}

func (f *fakeEngine) Execute(_ context.Context, runID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, runID)
	return f.execErr
}

func (f *fakeEngine) TriggerCron(_ context.Context, fnID string, tick time.Time) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggered = append(f.triggered, fnID)
	f.ticks = append(f.ticks, tick)
	return uuid.New(), nil
}

type schedulerConfig struct {
	redisURL string
	queue    string
}

func (c schedulerConfig) GetRedisURL() string       { return c.redisURL }
func (c schedulerConfig) GetRedisTLSInsecure() bool { return false }
func (c schedulerConfig) GetAsynqQueueName() string { return c.queue }
func (c schedulerConfig) GetAsynqConcurrency() int  { return 0 }

func TestRunTaskRoundTrip(t *testing.T) {
	id := uuid.New()
	task, err := NewRunTask(id)
	if err != nil {
		t.Fatalf("new task: %v", err)
	}
	if task.Type() != TaskRunExecute {
		t.Fatalf("unexpected type %s", task.Type())
	}
	got, err := ParseRunPayload(task)
	if err != nil || got != id {
		t.Fatalf("expected %s, got %s (%v)", id, got, err)
	}
}

func TestRunTaskIDDependsOnWakeTime(t *testing.T) {
	id := uuid.New()
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	if runTaskID(id, at) != runTaskID(id, at.In(time.FixedZone("CET", 3600))) {
		t.Fatalf("expected the same id for the same instant")
	}
	if runTaskID(id, at) == runTaskID(id, at.Add(time.Minute)) {
		t.Fatalf("expected a new id for a new wake time")
	}
}

func TestWorkerHandlesRunTask(t *testing.T) {
	engine := &fakeEngine{}
	w := newHandlers(engine, nil)
	id := uuid.New()
	task, _ := NewRunTask(id)

	if err := w.handleRunExecute(context.Background(), task); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(engine.executed) != 1 || engine.executed[0] != id {
		t.Fatalf("expected the run executed, got %v", engine.executed)
	}

	engine.execErr = errors.New("store down")
	if err := w.handleRunExecute(context.Background(), task); err == nil {
		t.Fatalf("expected the store error returned for a retry")
	}
}

func TestWorkerSkipsRetryForBadPayload(t *testing.T) {
	w := newHandlers(&fakeEngine{}, nil)

	err := w.handleRunExecute(context.Background(), asynq.NewTask(TaskRunExecute, []byte(`{"runId":"nope"}`)))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
	err = w.handleCronTick(context.Background(), asynq.NewTask(TaskCronTick, []byte(`{}`)))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
}

func TestWorkerTriggersCron(t *testing.T) {
	engine := &fakeEngine{}
	w := newHandlers(engine, nil)
	now := time.Date(2026, 3, 2, 9, 0, 12, 0, time.UTC)
	w.now = func() time.Time { return now }
	task, _ := NewCronTickTask("followups.check-stale")

	if err := w.handleCronTick(context.Background(), task); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(engine.triggered) != 1 || engine.triggered[0] != "followups.check-stale" || !engine.ticks[0].Equal(now) {
		t.Fatalf("unexpected trigger %v %v", engine.triggered, engine.ticks)
	}
}

func TestConstructorsRequireRedis(t *testing.T) {
	cfg := schedulerConfig{}
	if _, err := NewQueue(cfg); err == nil {
		t.Fatalf("expected queue error without redis url")
	}
	if _, err := NewWorker(cfg, &fakeEngine{}, nil); err == nil {
		t.Fatalf("expected worker error without redis url")
	}
	if _, err := NewCronScheduler(cfg, nil, nil); err == nil {
		t.Fatalf("expected scheduler error without redis url")
	}
	if queueName(cfg) != defaultQueue || queueName(schedulerConfig{queue: "pipeline"}) != "pipeline" {
		t.Fatalf("unexpected queue names")
	}
}

func TestRedisClientOpt(t *testing.T) {
	opt, err := redisClientOpt("rediss://:secret@cache.internal:6380/2", true)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if opt.Addr != "cache.internal:6380" || opt.Password != "secret" || opt.DB != 2 {
		t.Fatalf("unexpected options %+v", opt)
	}
	if opt.TLSConfig == nil || !opt.TLSConfig.InsecureSkipVerify {
		t.Fatalf("expected insecure tls")
	}
}

type fakePump struct {
	mu         sync.Mutex
	dispatches int
	sweeps     int
	pending    int
}

func (f *fakePump) Dispatch(_ context.Context, limit int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatches++
	n := min(f.pending, limit)
	f.pending -= n
	return n, nil
}

func (f *fakePump) Sweep(context.Context, int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweeps++
	return 0, nil
}

func TestDispatcherDrainsFullBatches(t *testing.T) {
	pump := &fakePump{pending: dispatchBatch*2 + 5}
	d := NewDispatcher(pump, nil, 0, 0)

	d.dispatch(context.Background())
	if pump.pending != 0 || pump.dispatches != 3 {
		t.Fatalf("expected three batches, got %d with %d left", pump.dispatches, pump.pending)
	}
}

func TestDispatcherRunSweepsOnStart(t *testing.T) {
	pump := &fakePump{}
	d := NewDispatcher(pump, nil, time.Millisecond, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		pump.mu.Lock()
		dispatched := pump.dispatches
		pump.mu.Unlock()
		if dispatched > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("dispatcher never ran")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done
	if pump.sweeps != 1 {
		t.Fatalf("expected one sweep at start, got %d", pump.sweeps)
	}
}

type fakePurger struct {
	retention time.Duration
	calls     int
}

func (f *fakePurger) Purge(_ context.Context, retention time.Duration) (int64, error) {
	f.calls++
	f.retention = retention
	return 3, nil
}

func TestRunRetentionPurgesWithConfiguredWindow(t *testing.T) {
	purger := &fakePurger{}
	r := NewRunRetention(purger, nil, 0, 7*24*time.Hour)

	r.cleanup(context.Background())
	if purger.calls != 1 || purger.retention != 7*24*time.Hour {
		t.Fatalf("unexpected purge %+v", purger)
	}
	if NewRunRetention(purger, nil, 0, 0).retention != defaultRunRetention {
		t.Fatalf("expected the default retention")
	}
}
