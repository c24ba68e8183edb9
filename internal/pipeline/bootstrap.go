package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"salespipeline_backend/internal/adapters/storage"
	"salespipeline_backend/internal/eventstream"
	"salespipeline_backend/migrations"
	"salespipeline_backend/platform/config"
	"salespipeline_backend/platform/db"
	"salespipeline_backend/platform/events"
	"salespipeline_backend/platform/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	connectAttempts = 5
	connectDelay    = 2 * time.Second
)

// Connect opens the database pool and, when enabled, applies migrations.
func Connect(ctx context.Context, cfg *config.Config, log *logger.Logger) (*pgxpool.Pool, error) {
	var pool *pgxpool.Pool
	if err := WithRetry(ctx, log, "database connection", connectAttempts, connectDelay, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		return nil, err
	}
	log.Info("database connection established")

	if !cfg.MigrationsEnabled {
		return pool, nil
	}
	if err := WithRetry(ctx, log, "database migrations", connectAttempts, connectDelay, func() error {
		return db.RunMigrations(ctx, pool, migrations.FS)
	}); err != nil {
		pool.Close()
		return nil, err
	}
	log.Info("database migrations complete")
	return pool, nil
}

// OpenStorage returns the object store, or nil when MinIO is not configured.
func OpenStorage(ctx context.Context, cfg *config.Config, log *logger.Logger) (storage.StorageService, error) {
	if !cfg.IsMinIOEnabled() {
		log.Warn("MinIO not configured; call recordings and synthesized speech are not stored")
		return nil, nil
	}
	svc, err := storage.NewMinIOService(cfg)
	if err != nil {
		return nil, err
	}
	if err := WithRetry(ctx, log, "ensure call-recordings bucket", connectAttempts, connectDelay, func() error {
		return EnsureBuckets(ctx, svc, cfg)
	}); err != nil {
		return nil, err
	}
	log.Info("storage service initialized", "callRecordingsBucket", cfg.GetMinioBucketCallRecordings())
	return svc, nil
}

// StartMirror attaches the Kafka event mirror to bus when Kafka is
// configured. The returned func closes the writer.
func StartMirror(cfg config.KafkaConfig, bus events.Bus, log *logger.Logger) (func(), error) {
	if !cfg.IsKafkaEnabled() {
		return func() {}, nil
	}
	writer, err := eventstream.NewKafkaWriter(cfg)
	if err != nil {
		return nil, err
	}
	mirror := eventstream.NewMirror(eventstream.Options{Writer: writer, Logger: log})
	mirror.Attach(bus)
	log.Info("event mirror enabled", "topic", cfg.GetKafkaTopic())
	return func() {
		if err := mirror.Close(); err != nil {
			log.Warn("event mirror close failed", "error", err)
		}
	}, nil
}

// WithRetry calls fn until it succeeds, backing off quadratically.
func WithRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
