package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	apphttp "salespipeline_backend/internal/http"
	"salespipeline_backend/internal/http/router"
	"salespipeline_backend/internal/ingest"
	"salespipeline_backend/internal/pipeline"
	"salespipeline_backend/internal/scheduler"
	"salespipeline_backend/internal/workflow"
	"salespipeline_backend/platform/config"
	"salespipeline_backend/platform/logger"
	"salespipeline_backend/platform/validator"
)

const localTick = time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize structured logger
	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	pool, err := pipeline.Connect(ctx, cfg, log)
	if err != nil {
		log.Error("failed to prepare database", "error", err)
		panic("failed to prepare database: " + err.Error())
	}
	defer pool.Close()

	storageSvc, err := pipeline.OpenStorage(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize storage service", "error", err)
		panic("failed to initialize storage service: " + err.Error())
	}

	queue, throttler, limiter, local, closeQueue := initQueue(cfg, log)
	defer closeQueue()

	// ========================================================================
	// Pipeline (Composition Root)
	// ========================================================================

	p, err := pipeline.New(ctx, pipeline.Deps{
		Config:      cfg,
		Pool:        pool,
		Queue:       queue,
		Throttler:   throttler,
		Concurrency: limiter,
		Storage:     storageSvc,
		Logger:      log,
	})
	if err != nil {
		log.Error("failed to initialize pipeline", "error", err)
		panic("failed to initialize pipeline: " + err.Error())
	}

	if local {
		startLocalRuntime(ctx, cfg, p, log)
	}

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	ingestOpts := ingest.Options{
		Publisher:      p.Engine,
		Contacts:       p.Contacts,
		Enrollments:    p.Outreach,
		Runs:           p.Engine,
		Calls:          p.Webhooks,
		WebhookBaseURL: cfg.GetWebhookBaseURL(),
		PhoneRegion:    cfg.GetPhoneRegion(),
		Validator:      validator.New(),
		Logger:         log,
	}
	if p.Telephony != nil {
		ingestOpts.Signatures = p.Telephony
	}

	app := &apphttp.App{
		Config: cfg,
		Logger: log,
		Health: pool,
		Modules: []apphttp.Module{
			ingest.NewModule(ingestOpts),
		},
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router.New(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown failed", "error", err)
		}
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

// initQueue picks the asynq queue when Redis is configured. Without Redis
// the API runs the whole pipeline in-process.
func initQueue(cfg *config.Config, log *logger.Logger) (workflow.Queue, workflow.Throttler, workflow.ConcurrencyLimiter, bool, func()) {
	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; running workflows in-process")
		return workflow.NewLocalQueue(), workflow.NewMemoryThrottler(), workflow.NewLocalConcurrency(), true, func() {}
	}

	queue, err := scheduler.NewQueue(cfg)
	if err != nil {
		log.Error("failed to initialize run queue", "error", err)
		panic("failed to initialize run queue: " + err.Error())
	}
	rdb, err := scheduler.NewRedisClient(cfg)
	if err != nil {
		log.Error("failed to initialize redis client", "error", err)
		panic("failed to initialize redis client: " + err.Error())
	}

	return queue, workflow.NewRedisThrottler(rdb, ""), workflow.NewRedisConcurrency(rdb, ""), false, func() {
		_ = queue.Close()
		_ = rdb.Close()
	}
}

// startLocalRuntime drives dispatch, execution, schedules and retention from
// this process.
func startLocalRuntime(ctx context.Context, cfg *config.Config, p *pipeline.Pipeline, log *logger.Logger) {
	closeMirror, err := pipeline.StartMirror(cfg, p.Observers, log)
	if err != nil {
		log.Error("failed to initialize event mirror", "error", err)
		panic("failed to initialize event mirror: " + err.Error())
	}

	crons, err := workflow.NewCronRunner(ctx, p.Engine)
	if err != nil {
		log.Error("failed to initialize cron runner", "error", err)
		panic("failed to initialize cron runner: " + err.Error())
	}
	crons.Start()

	go p.Engine.RunLocal(ctx, localTick)
	go scheduler.NewRunRetention(p.Engine, log, 0, cfg.GetRunRetention()).Run(ctx)

	go func() {
		<-ctx.Done()
		crons.Stop()
		p.Observers.Wait()
		closeMirror()
	}()
}
