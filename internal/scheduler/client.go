package scheduler

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"salespipeline_backend/internal/workflow"
	"salespipeline_backend/platform/config"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

const (
	defaultQueue     = "default"
	runTaskRetention = time.Hour
	runTaskMaxRetry  = 5
)

// Queue delivers run executions through asynq. It is the workflow.Queue of
// the multi-process deployment.
type Queue struct {
	client *asynq.Client
	queue  string
}

func NewQueue(cfg config.SchedulerConfig) (*Queue, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	return &Queue{
		client: asynq.NewClient(opt),
		queue:  queueName(cfg),
	}, nil
}

func queueName(cfg config.SchedulerConfig) string {
	if queue := cfg.GetAsynqQueueName(); queue != "" {
		return queue
	}
	return defaultQueue
}

func (q *Queue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}

// Enqueue schedules runID for at. A second delivery for the same wake time
// is collapsed by its task id.
func (q *Queue) Enqueue(ctx context.Context, runID uuid.UUID, at time.Time) error {
	if q == nil || q.client == nil {
		return nil
	}

	task, err := NewRunTask(runID)
	if err != nil {
		return err
	}

	_, err = q.client.EnqueueContext(ctx, task,
		asynq.ProcessAt(at),
		asynq.Queue(q.queue),
		asynq.TaskID(runTaskID(runID, at)),
		asynq.MaxRetry(runTaskMaxRetry),
		asynq.Retention(runTaskRetention),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

var _ workflow.Queue = (*Queue)(nil)

func redisClientOpt(redisURL string, tlsInsecure bool) (asynq.RedisClientOpt, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}

	var tlsConfig *tls.Config
	if opt.TLSConfig != nil {
		clone := opt.TLSConfig.Clone()
		if tlsInsecure {
			clone.InsecureSkipVerify = true
		}
		tlsConfig = clone
	} else if tlsInsecure {
		tlsConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: tlsConfig,
	}, nil
}

// NewRedisClient opens a go-redis client on the scheduler's Redis, used for
// the shared workflow throttles.
func NewRedisClient(cfg config.SchedulerConfig) (*redis.Client, error) {
	if cfg.GetRedisURL() == "" {
		return nil, fmt.Errorf("redis url not configured")
	}
	opt, err := redis.ParseURL(cfg.GetRedisURL())
	if err != nil {
		return nil, err
	}
	if cfg.GetRedisTLSInsecure() {
		if opt.TLSConfig == nil {
			opt.TLSConfig = &tls.Config{}
		}
		opt.TLSConfig.InsecureSkipVerify = true
	}
	return redis.NewClient(opt), nil
}
