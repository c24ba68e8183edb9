package scheduler

import (
	"context"
	"fmt"
	"time"

	"salespipeline_backend/platform/config"
	"salespipeline_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const defaultConcurrency = 10

// Executor is the part of the workflow engine the worker drives.
type Executor interface {
	Execute(ctx context.Context, runID uuid.UUID) error
	TriggerCron(ctx context.Context, fnID string, tick time.Time) (uuid.UUID, error)
}

type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	engine Executor
	now    func() time.Time
	log    *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, engine Executor, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = defaultConcurrency
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queueName(cfg): 1,
		},
	})

	w := newHandlers(engine, log)
	w.server = server
	return w, nil
}

func newHandlers(engine Executor, log *logger.Logger) *Worker {
	if log == nil {
		log = logger.Discard()
	}
	mux := asynq.NewServeMux()
	w := &Worker{
		mux:    mux,
		engine: engine,
		now:    time.Now,
		log:    log,
	}
	mux.HandleFunc(TaskRunExecute, w.handleRunExecute)
	mux.HandleFunc(TaskCronTick, w.handleCronTick)
	return w
}

// Run processes tasks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil || w.server == nil {
		return nil
	}

	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	<-ctx.Done()
	w.server.Shutdown()
	return nil
}

func (w *Worker) handleRunExecute(ctx context.Context, task *asynq.Task) error {
	runID, err := ParseRunPayload(task)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	return w.engine.Execute(ctx, runID)
}

func (w *Worker) handleCronTick(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseCronTickPayload(task)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	runID, err := w.engine.TriggerCron(ctx, payload.FunctionID, w.now())
	if err != nil {
		return err
	}
	w.log.Debug("cron tick started run", "function_id", payload.FunctionID, "run_id", runID.String())
	return nil
}
