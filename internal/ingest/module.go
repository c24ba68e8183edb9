// Package ingest is the HTTP surface of the pipeline: it turns contact,
// deal, outreach and call requests into events on the durable log, serves
// the telephony provider's callbacks and exposes run operations.
package ingest

import (
	"time"

	apphttp "salespipeline_backend/internal/http"
	"salespipeline_backend/platform/logger"
	"salespipeline_backend/platform/phone"
	"salespipeline_backend/platform/validator"
)

type Options struct {
	Publisher   Publisher
	Contacts    ContactStore
	Enrollments Enrollments
	Runs        Runs
	Calls       CallWebhooks
	// Signatures is nil when the provider is not configured.
	Signatures SignatureValidator
	// WebhookBaseURL is the public origin the provider calls back on.
	WebhookBaseURL string
	PhoneRegion    string
	Validator      *validator.Validator
	Now            func() time.Time
	Logger         *logger.Logger
}

// Module is the ingest bounded context implementing http.Module.
type Module struct {
	handler   *Handler
	telephony *TelephonyHandler
	ops       *OperationsHandler
}

func NewModule(opts Options) *Module {
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	val := opts.Validator
	if val == nil {
		val = validator.New()
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	region := opts.PhoneRegion
	if region == "" {
		region = phone.DefaultRegion
	}
	return &Module{
		handler: &Handler{
			publisher:   opts.Publisher,
			contacts:    opts.Contacts,
			enrollments: opts.Enrollments,
			val:         val,
			region:      region,
			now:         now,
			log:         log,
		},
		telephony: &TelephonyHandler{
			webhooks:  opts.Calls,
			validator: opts.Signatures,
			baseURL:   opts.WebhookBaseURL,
			log:       log,
		},
		ops: &OperationsHandler{runs: opts.Runs},
	}
}

func (m *Module) Name() string {
	return "ingest"
}

func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.Scoped.POST("/contacts", m.handler.CreateContact)
	ctx.Scoped.POST("/contacts/:id/enriched", m.handler.EnrichContact)
	ctx.Scoped.POST("/contacts/:id/consent", m.handler.SetConsent)

	ctx.Scoped.POST("/deals/:contactId/won", m.handler.DealWon)
	ctx.Scoped.POST("/deals/:contactId/lost", m.handler.DealLost)

	ctx.Scoped.POST("/outreach/replies", m.handler.Reply)
	ctx.Scoped.POST("/outreach/enroll", m.handler.Enroll)
	ctx.Scoped.GET("/enrollments/:id", m.handler.EnrollmentProgress)
	ctx.Scoped.POST("/enrollments/:id/cancel", m.handler.CancelEnrollment)

	ctx.Scoped.POST("/calls", m.handler.StartCall)

	if m.ops.runs != nil {
		ctx.Scoped.GET("/runs", m.ops.ListRuns)
		ctx.Scoped.POST("/runs/:id/replay", m.ops.ReplayRun)
		ctx.Scoped.POST("/runs/:id/cancel", m.ops.CancelRun)
	}

	if m.telephony.webhooks != nil {
		tel := ctx.V1.Group("/telephony")
		tel.Use(m.telephony.VerifySignature())
		tel.POST("/voice", m.telephony.Voice)
		tel.POST("/status", m.telephony.Status)
		tel.POST("/recording", m.telephony.Recording)
		tel.POST("/amd", m.telephony.AMD)
	}
}

var _ apphttp.Module = (*Module)(nil)
