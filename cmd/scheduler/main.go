package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"salespipeline_backend/internal/pipeline"
	"salespipeline_backend/internal/scheduler"
	"salespipeline_backend/internal/workflow"
	"salespipeline_backend/platform/config"
	"salespipeline_backend/platform/logger"

	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting scheduler", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	queue, err := scheduler.NewQueue(cfg)
	if err != nil {
		log.Error("failed to initialize run queue", "error", err)
		panic("failed to initialize run queue: " + err.Error())
	}
	defer func() { _ = queue.Close() }()

	rdb, err := scheduler.NewRedisClient(cfg)
	if err != nil {
		log.Error("failed to initialize redis client", "error", err)
		panic("failed to initialize redis client: " + err.Error())
	}
	defer func() { _ = rdb.Close() }()

	p, err := pipeline.New(ctx, pipeline.Deps{
		Config:      cfg,
		Pool:        pool,
		Queue:       queue,
		Throttler:   workflow.NewRedisThrottler(rdb, ""),
		Concurrency: workflow.NewRedisConcurrency(rdb, ""),
		Storage:     storageSvc,
		Logger:      log,
	})
	if err != nil {
		log.Error("failed to initialize pipeline", "error", err)
		panic("failed to initialize pipeline: " + err.Error())
	}

	closeMirror, err := pipeline.StartMirror(cfg, p.Observers, log)
	if err != nil {
		log.Error("failed to initialize event mirror", "error", err)
		panic("failed to initialize event mirror: " + err.Error())
	}
	defer closeMirror()
	defer p.Observers.Wait()

	worker, err := scheduler.NewWorker(cfg, p.Engine, log)
	if err != nil {
		log.Error("failed to initialize scheduler worker", "error", err)
		panic("failed to initialize scheduler worker: " + err.Error())
	}

	crons, err := scheduler.NewCronScheduler(cfg, p.Engine.CronEntries(), log)
	if err != nil {
		log.Error("failed to initialize cron scheduler", "error", err)
		panic("failed to initialize cron scheduler: " + err.Error())
	}

	dispatcher := scheduler.NewDispatcher(p.Engine, log, cfg.GetDispatchInterval(), cfg.GetSweepInterval())
	retention := scheduler.NewRunRetention(p.Engine, log, 0, cfg.GetRunRetention())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error { return crons.Run(gctx) })
	g.Go(func() error {
		dispatcher.Run(gctx)
		return nil
	})
	g.Go(func() error {
		retention.Run(gctx)
		return nil
	})
	if err := g.Wait(); err != nil {
		log.Error("scheduler stopped", "error", err)
		return
	}
	log.Info("scheduler stopped")
}
