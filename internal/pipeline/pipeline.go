// Package pipeline is the composition root shared by the api and scheduler
// binaries: it builds the stores, capabilities and services and registers
// every workflow function on one engine.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"salespipeline_backend/internal/adapters/storage"
	"salespipeline_backend/internal/calling"
	"salespipeline_backend/internal/closing"
	"salespipeline_backend/internal/contacts"
	"salespipeline_backend/internal/email"
	pipelineevents "salespipeline_backend/internal/events"
	"salespipeline_backend/internal/feedback"
	"salespipeline_backend/internal/followups"
	"salespipeline_backend/internal/llm"
	"salespipeline_backend/internal/orchestrator"
	"salespipeline_backend/internal/outreach"
	"salespipeline_backend/internal/qualification"
	"salespipeline_backend/internal/routing"
	"salespipeline_backend/internal/scoring"
	"salespipeline_backend/internal/telephony"
	"salespipeline_backend/internal/tts"
	"salespipeline_backend/internal/whatsapp"
	"salespipeline_backend/internal/workflow"
	"salespipeline_backend/internal/workflow/pgstore"
	"salespipeline_backend/platform/config"
	"salespipeline_backend/platform/events"
	"salespipeline_backend/platform/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Deps are the infrastructure pieces the binaries own.
type Deps struct {
	Config      *config.Config
	Pool        *pgxpool.Pool
	Queue       workflow.Queue
	Throttler   workflow.Throttler
	// Concurrency is shared by every worker when it is Redis backed.
	Concurrency workflow.ConcurrencyLimiter
	// Storage is nil when object storage is not configured; recordings and
	// synthesized speech are then skipped.
	Storage storage.StorageService
	Logger  *logger.Logger
}

// Pipeline holds what the binaries expose over HTTP or drive from queues.
type Pipeline struct {
	Engine    *workflow.Engine
	Observers *events.InMemoryBus
	Contacts  *contacts.Repository
	Outreach  *outreach.Service
	Webhooks  *calling.Webhooks
	// Telephony is nil when the provider is not configured.
	Telephony *telephony.Client
}

// New wires the pipeline. Every workflow function is registered, so the
// result can both accept events and execute runs.
func New(ctx context.Context, deps Deps) (*Pipeline, error) {
	cfg, log := deps.Config, deps.Logger
	if log == nil {
		log = logger.Discard()
	}
	if deps.Pool == nil {
		return nil, fmt.Errorf("pipeline: database pool required")
	}
	if deps.Queue == nil {
		return nil, fmt.Errorf("pipeline: run queue required")
	}

	observers := events.NewInMemoryBus(log)
	engine := workflow.New(workflow.Options{
		Store:        pgstore.New(deps.Pool),
		Queue:        deps.Queue,
		Throttler:    deps.Throttler,
		Concurrency:  deps.Concurrency,
		Registry:     pipelineevents.NewRegistry(),
		Observers:    observers,
		Logger:       log,
		QueuedGrace:  cfg.GetQueuedGrace(),
		RunningLease: cfg.GetRunningLease(),
	})

	completer, err := llm.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pipeline: language model: %w", err)
	}
	if !completer.Available() {
		log.Warn("no language model configured; rule-based fallbacks only")
	}

	sender, err := email.NewSender(cfg)
	if err != nil {
		return nil, fmt.Errorf("pipeline: email sender: %w", err)
	}

	region := cfg.GetPhoneRegion()
	phoneClient := telephony.NewClient(cfg, region)
	var sms outreach.SMSSender
	if phoneClient != nil {
		sms = phoneClient
	} else {
		log.Warn("telephony not configured; calls and sms disabled")
	}
	chat := whatsapp.NewClient(cfg, region, log)

	contactRepo := contacts.New(deps.Pool)
	enrollments := outreach.New(deps.Pool)
	callRepo := calling.New(deps.Pool)
	feedbackRepo := feedback.New(deps.Pool)
	calibrations := feedback.NewCalibrations(feedbackRepo)

	channels := outreach.Channels{Email: sender, WhatsApp: chat, SMS: sms}

	outreachSvc := outreach.NewService(outreach.Options{
		Contacts:    contactRepo,
		Enrollments: enrollments,
		Limiter:     outreach.NewChannelUsage(deps.Pool),
		Composer:    outreach.NewComposer(completer, log),
		Classifier:  outreach.NewReplyClassifier(completer, log),
		Channels:    channels,
		Calibration: calibrations,
		AgentID:     cfg.GetDefaultAgentID(),
		Logger:      log,
	})

	bucket := cfg.GetMinioBucketCallRecordings()
	coordinator := calling.NewCoordinator(calling.CoordinatorOptions{
		Calls:     callRepo,
		Contacts:  contactRepo,
		Completer: completer,
		Voices:    tts.New(cfg),
		Audio:     deps.Storage,
		Bucket:    bucket,
		GatherURL: phoneClient.VoiceURL,
		Logger:    log,
	})

	var placer calling.Telephony
	var recordings calling.RecordingFetcher
	if phoneClient != nil {
		placer = phoneClient
		recordings = phoneClient
	}
	callingSvc := calling.NewService(calling.Options{
		Contacts:    contactRepo,
		Calls:       callRepo,
		Telephony:   placer,
		Coordinator: coordinator,
		Analyzer:    calling.NewAnalyzer(completer),
		Gate: calling.GateConfig{
			Window: calling.Window{
				StartHour: cfg.GetCallWindowStartHour(),
				EndHour:   cfg.GetCallWindowEndHour(),
				Location:  cfg.GetCallLocation(),
			},
			MaxAttempts: cfg.GetMaxDailyCallAttempts(),
			Region:      region,
		},
		RetryDelay:     cfg.GetCallRetryDelay(),
		DefaultAgentID: cfg.GetDefaultAgentID(),
		Logger:         log,
	})

	webhooks := calling.NewWebhooks(calling.WebhookOptions{
		Calls:       callRepo,
		Coordinator: coordinator,
		Publisher:   engine,
		Recordings:  recordings,
		Audio:       deps.Storage,
		Bucket:      bucket,
		Logger:      log,
	})

	selector := qualification.NewSelector(qualification.NewLLMQualifier(completer), qualification.RuleQualifier{}, log)

	services := []interface{ Functions() []workflow.Function }{
		scoring.NewService(contactRepo, calibrations),
		qualification.NewService(contactRepo, calibrations, selector),
		routing.NewService(contactRepo, enrollments),
		outreachSvc,
		callingSvc,
		followups.NewService(followups.Options{
			Store:    followups.New(deps.Pool),
			Sender:   channels,
			Activity: contactRepo,
			Logger:   log,
		}),
		closing.NewService(closing.Options{
			Store:    closing.New(deps.Pool),
			Contacts: contactRepo,
			Email:    sender,
			Logger:   log,
		}),
		feedback.NewService(feedback.Options{
			Store:    feedbackRepo,
			Contacts: contactRepo,
			Calls:    callRepo,
			Logger:   log,
		}),
		orchestrator.NewService(contactRepo),
	}
	for _, svc := range services {
		if err := engine.Register(svc.Functions()...); err != nil {
			return nil, fmt.Errorf("pipeline: register functions: %w", err)
		}
	}
	log.Info("workflow functions registered", "count", len(engine.Functions()), "schedules", len(engine.CronEntries()))

	return &Pipeline{
		Engine:    engine,
		Observers: observers,
		Contacts:  contactRepo,
		Outreach:  outreachSvc,
		Webhooks:  webhooks,
		Telephony: phoneClient,
	}, nil
}

// EnsureBuckets creates the buckets the pipeline writes to.
func EnsureBuckets(ctx context.Context, svc storage.StorageService, cfg config.MinIOConfig) error {
	if svc == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return svc.EnsureBucketExists(ctx, cfg.GetMinioBucketCallRecordings())
}
