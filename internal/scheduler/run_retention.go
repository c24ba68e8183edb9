package scheduler

import (
	"context"
	"time"

	"salespipeline_backend/platform/logger"
)

const (
	defaultRetentionInterval = time.Hour
	defaultRunRetention      = 30 * 24 * time.Hour
)

type RunPurger interface {
	Purge(ctx context.Context, retention time.Duration) (int64, error)
}

// RunRetention periodically removes finished runs and their step records.
type RunRetention struct {
	purger    RunPurger
	log       *logger.Logger
	interval  time.Duration
	retention time.Duration
}

func NewRunRetention(purger RunPurger, log *logger.Logger, interval, retention time.Duration) *RunRetention {
	if interval <= 0 {
		interval = defaultRetentionInterval
	}
	if retention <= 0 {
		retention = defaultRunRetention
	}
	if log == nil {
		log = logger.Discard()
	}

	return &RunRetention{
		purger:    purger,
		log:       log,
		interval:  interval,
		retention: retention,
	}
}

func (c *RunRetention) Run(ctx context.Context) {
	if c == nil || c.purger == nil {
		return
	}

	c.cleanup(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.cleanup(ctx)
		}
	}
}

func (c *RunRetention) cleanup(ctx context.Context) {
	deleted, err := c.purger.Purge(ctx, c.retention)
	if err != nil {
		c.log.Warn("run retention cleanup failed", "error", err)
		return
	}

	if deleted > 0 {
		c.log.Info("run retention deleted finished runs", "deleted", deleted)
	}
}
