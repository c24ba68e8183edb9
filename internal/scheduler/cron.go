package scheduler

import (
	"context"
	"fmt"
	"time"

	"salespipeline_backend/internal/workflow"
	"salespipeline_backend/platform/config"
	"salespipeline_backend/platform/logger"

	"github.com/hibiken/asynq"
)

// CronScheduler turns the engine's schedules into cron tick tasks. Several
// replicas may run it; TriggerCron collapses duplicate ticks of a minute.
type CronScheduler struct {
	scheduler *asynq.Scheduler
	log       *logger.Logger
}

func NewCronScheduler(cfg config.SchedulerConfig, entries []workflow.CronEntry, log *logger.Logger) (*CronScheduler, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Discard()
	}

	scheduler := asynq.NewScheduler(opt, &asynq.SchedulerOpts{
		Location: time.UTC,
		PostEnqueueFunc: func(info *asynq.TaskInfo, err error) {
			if err != nil {
				log.Warn("cron tick enqueue failed", "error", err)
			}
		},
	})

	queue := queueName(cfg)
	for _, entry := range entries {
		task, err := NewCronTickTask(entry.FunctionID)
		if err != nil {
			return nil, err
		}
		if _, err := scheduler.Register(entry.Spec, task, asynq.Queue(queue), asynq.MaxRetry(1)); err != nil {
			return nil, fmt.Errorf("register %s (%s): %w", entry.FunctionID, entry.Spec, err)
		}
		log.Info("cron schedule registered", "function_id", entry.FunctionID, "spec", entry.Spec)
	}

	return &CronScheduler{scheduler: scheduler, log: log}, nil
}

// Run fires schedules until ctx is cancelled.
func (s *CronScheduler) Run(ctx context.Context) error {
	if s == nil || s.scheduler == nil {
		return nil
	}

	if err := s.scheduler.Start(); err != nil {
		return fmt.Errorf("start cron scheduler: %w", err)
	}
	<-ctx.Done()
	s.scheduler.Shutdown()
	return nil
}
