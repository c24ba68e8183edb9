// Package orchestrator holds the cross-cutting pipeline reactions that do not
// belong to a single stage: enrichment requests for new contacts, weekly
// re-engagement of stuck leads and escalation of high-value deals.
package orchestrator

import (
	"context"
	"errors"
	"time"

	"salespipeline_backend/internal/contacts"
	"salespipeline_backend/internal/events"
	"salespipeline_backend/internal/outreach"
	"salespipeline_backend/internal/workflow"

	"github.com/google/uuid"
)

const (
	ContactCreatedFunctionID = "orchestrator.contact-created"
	StuckLeadsFunctionID     = "orchestrator.stuck-leads"
	EscalationFunctionID     = "orchestrator.escalation"
)

const (
	stuckAfter      = 7 * 24 * time.Hour
	stuckLeadsLimit = 100

	escalationDealValue = 10000
	escalationScore     = 80

	recommendedAction = "human_follow_up_within_2_hours"
)

var stuckStages = []contacts.Stage{contacts.StageLead, contacts.StageContacted, contacts.StageQualified}

// ContactStore is the contact access the orchestrator needs.
type ContactStore interface {
	Get(ctx context.Context, accountID string, id uuid.UUID) (contacts.Contact, error)
	ListStale(ctx context.Context, stages []contacts.Stage, updatedBefore time.Time, limit int) ([]contacts.Contact, error)
	SetStage(ctx context.Context, accountID string, id uuid.UUID, stage contacts.Stage, from ...contacts.Stage) (bool, error)
	contacts.ActivityLogger
}

type Service struct {
	contacts ContactStore
}

func NewService(store ContactStore) *Service {
	return &Service{contacts: store}
}

func (s *Service) Functions() []workflow.Function {
	return []workflow.Function{
		{
			ID:       ContactCreatedFunctionID,
			Triggers: []workflow.Trigger{workflow.OnEvent(events.ContactCreated{}.EventName())},
			Retries:  2,
			Handler:  s.contactCreated,
		},
		{
			ID:       StuckLeadsFunctionID,
			Triggers: []workflow.Trigger{workflow.OnCron("0 9 * * 1")},
			Retries:  1,
			Handler:  s.stuckLeads,
		},
		{
			ID: EscalationFunctionID,
			Triggers: []workflow.Trigger{
				workflow.OnEvent(events.OutreachReplyReceived{}.EventName()),
				workflow.OnEvent(events.LeadEscalation{}.EventName()),
			},
			Retries: 2,
			Handler: s.escalate,
		},
	}
}

type enrichmentCheck struct {
	Found    bool   `json:"found"`
	Enriched bool   `json:"enriched"`
	Email    string `json:"email"`
	Company  string `json:"company"`
}

func (s *Service) contactCreated(ctx context.Context, sc *workflow.StepContext) (any, error) {
	evt, err := workflow.EventAs[events.ContactCreated](sc)
	if err != nil {
		return nil, err
	}

	err = workflow.Do(ctx, sc, "log-orchestration", func(ctx context.Context) error {
		return contacts.Log(ctx, s.contacts, evt.AccountID, evt.ContactID, contacts.ActivityOrchestratorRouting, map[string]any{
			"event":    evt.EventName(),
			"decision": "enrich_then_score",
			"source":   evt.Source,
		})
	})
	if err != nil {
		return nil, err
	}

	check, err := workflow.Run(ctx, sc, "check-enrichment", func(ctx context.Context) (enrichmentCheck, error) {
		c, err := s.contacts.Get(ctx, evt.AccountID, evt.ContactID)
		if errors.Is(err, contacts.ErrNotFound) {
			return enrichmentCheck{}, nil
		}
		if err != nil {
			return enrichmentCheck{}, err
		}
		return enrichmentCheck{Found: true, Enriched: c.Enriched(), Email: c.Email, Company: c.Company}, nil
	})
	if err != nil {
		return nil, err
	}
	if !check.Found || check.Enriched || (check.Email == "" && check.Company == "") {
		return map[string]any{"enrichmentRequested": false}, nil
	}

	err = workflow.Do(ctx, sc, "log-enrichment-queued", func(ctx context.Context) error {
		return contacts.Log(ctx, s.contacts, evt.AccountID, evt.ContactID, contacts.ActivityQueueForEnrichment, map[string]any{
			"reason": "new_contact_needs_research",
		})
	})
	if err != nil {
		return nil, err
	}
	_, err = sc.SendEvent(ctx, "request-enrichment", events.ContactEnrichmentRequested{
		BaseEvent:  events.NewBaseEvent(),
		AccountRef: evt.AccountRef,
		ContactID:  evt.ContactID,
		Email:      check.Email,
		Company:    check.Company,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"enrichmentRequested": true}, nil
}

type stuckLead struct {
	AccountID string    `json:"accountId"`
	ContactID uuid.UUID `json:"contactId"`
}

// StuckLeadsResult is the output of a stuck-leads run.
type StuckLeadsResult struct {
	Stuck  int    `json:"stuck"`
	Action string `json:"action"`
}

func (s *Service) stuckLeads(ctx context.Context, sc *workflow.StepContext) (any, error) {
	now := sc.CronTick
	if now.IsZero() {
		now = sc.Now()
	}

	stuck, err := workflow.Run(ctx, sc, "find-stuck-leads", func(ctx context.Context) ([]stuckLead, error) {
		list, err := s.contacts.ListStale(ctx, stuckStages, now.Add(-stuckAfter), stuckLeadsLimit)
		if err != nil {
			return nil, err
		}
		out := make([]stuckLead, 0, len(list))
		for _, c := range list {
			out = append(out, stuckLead{AccountID: c.AccountID, ContactID: c.ID})
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	if len(stuck) == 0 {
		return StuckLeadsResult{Action: "none"}, nil
	}

	enrolls := make([]events.Event, 0, len(stuck))
	for _, l := range stuck {
		enrolls = append(enrolls, events.OutreachEnroll{
			BaseEvent:        events.NewBaseEvent(),
			AccountRef:       events.AccountRef{AccountID: l.AccountID},
			ContactID:        l.ContactID,
			SequenceTemplate: outreach.TemplateReEngagement,
		})
	}
	if _, err := sc.SendEvent(ctx, "re-engage-stuck-leads", enrolls...); err != nil {
		return nil, err
	}

	err = workflow.Do(ctx, sc, "log-stuck-handling", func(ctx context.Context) error {
		for _, l := range stuck {
			err := contacts.Log(ctx, s.contacts, l.AccountID, l.ContactID, contacts.ActivityStuckLeadReengaged, map[string]any{
				"reason": "no_activity_7_days",
				"action": "enrolled_in_re_engagement",
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sc.Logger().Info("stuck leads re-engaged", "count", len(stuck))
	return StuckLeadsResult{Stuck: len(stuck), Action: "re_engagement_enrolled"}, nil
}

// EscalationResult is the output of an escalation run.
type EscalationResult struct {
	Escalated bool    `json:"escalated"`
	Reason    string  `json:"reason,omitempty"`
	DealValue float64 `json:"dealValue"`
	LeadScore int     `json:"leadScore"`
}

// ShouldEscalate reports whether a deal needs a human within hours.
func ShouldEscalate(dealValue float64, score int) bool {
	return dealValue > escalationDealValue || score > escalationScore
}

func (s *Service) escalate(ctx context.Context, sc *workflow.StepContext) (any, error) {
	var (
		accountID string
		contactID uuid.UUID
		reason    string
	)
	switch evt := sc.Event.(type) {
	case events.OutreachReplyReceived:
		if evt.Sentiment != outreach.SentimentPositive {
			return EscalationResult{}, nil
		}
		accountID, contactID, reason = evt.AccountID, evt.ContactID, "high_value_positive_reply"
	case events.LeadEscalation:
		accountID, contactID, reason = evt.AccountID, evt.ContactID, evt.Reason
	default:
		return nil, workflow.NonRetriable(errors.New("unexpected trigger " + sc.Envelope.Name))
	}

	c, err := workflow.Run(ctx, sc, "check-deal-value", func(ctx context.Context) (*contacts.Contact, error) {
		c, err := s.contacts.Get(ctx, accountID, contactID)
		if errors.Is(err, contacts.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &c, nil
	})
	if err != nil {
		return nil, err
	}
	if c == nil {
		return EscalationResult{}, nil
	}
	res := EscalationResult{DealValue: c.DealValue, LeadScore: c.Score}
	if !ShouldEscalate(c.DealValue, c.Score) {
		return res, nil
	}
	// A positive reply also produces lead.escalation; the second one finds
	// the contact already in negotiation.
	if c.Stage == contacts.StageNegotiation || c.Stage.Terminal() {
		res.Reason = "already_escalated"
		return res, nil
	}

	err = workflow.Do(ctx, sc, "create-escalation", func(ctx context.Context) error {
		err := contacts.Log(ctx, s.contacts, accountID, contactID, contacts.ActivityDealEscalation, map[string]any{
			"reason":             reason,
			"deal_value":         c.DealValue,
			"lead_score":         c.Score,
			"contact_name":       c.FullName(),
			"company":            c.Company,
			"recommended_action": recommendedAction,
		})
		if err != nil {
			return err
		}
		_, err = s.contacts.SetStage(ctx, accountID, contactID, contacts.StageNegotiation)
		return err
	})
	if err != nil {
		return nil, err
	}
	sc.Logger().Info("deal escalated", "contact_id", contactID, "deal_value", c.DealValue, "score", c.Score)
	res.Escalated = true
	res.Reason = reason
	return res, nil
}
