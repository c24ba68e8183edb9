package routing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"salespipeline_backend/internal/contacts"
	"salespipeline_backend/internal/events"
	"salespipeline_backend/internal/workflow"

	"github.com/google/uuid"
)

const FunctionID = "routing.route-qualified-lead"

// ContactStore is the contact access routing needs.
type ContactStore interface {
	Get(ctx context.Context, accountID string, id uuid.UUID) (contacts.Contact, error)
	GetAccountSettings(ctx context.Context, accountID string) (contacts.AccountSettings, error)
	SetStage(ctx context.Context, accountID string, id uuid.UUID, stage contacts.Stage, from ...contacts.Stage) (bool, error)
	SetRouting(ctx context.Context, accountID string, id uuid.UUID, mode string) error
	SetAssignedRep(ctx context.Context, accountID string, id uuid.UUID, rep string) error
	MergeExtensionFields(ctx context.Context, accountID string, id uuid.UUID, fields map[string]any) error
	contacts.ActivityLogger
}

// EnrollmentChecker reports whether a contact is already in an outreach
// sequence.
type EnrollmentChecker interface {
	HasActiveEnrollment(ctx context.Context, accountID string, contactID uuid.UUID) (bool, error)
}

type Service struct {
	contacts    ContactStore
	enrollments EnrollmentChecker
}

func NewService(store ContactStore, enrollments EnrollmentChecker) *Service {
	return &Service{contacts: store, enrollments: enrollments}
}

func (s *Service) Functions() []workflow.Function {
	return []workflow.Function{{
		ID:       FunctionID,
		Triggers: []workflow.Trigger{workflow.OnEvent(events.LeadQualified{}.EventName())},
		Retries:  2,
		Handler:  s.route,
	}}
}

type routeContext struct {
	Found         bool                     `json:"found"`
	AlreadyRouted bool                     `json:"alreadyRouted"`
	Mode          string                   `json:"mode"`
	Score         int                      `json:"score"`
	DealValue     float64                  `json:"dealValue"`
	Stage         contacts.Stage           `json:"stage"`
	Settings      contacts.AccountSettings `json:"settings"`
}

func (s *Service) route(ctx context.Context, sc *workflow.StepContext) (any, error) {
	evt, err := workflow.EventAs[events.LeadQualified](sc)
	if err != nil {
		return nil, err
	}

	rc, err := workflow.Run(ctx, sc, "fetch-context", func(ctx context.Context) (routeContext, error) {
		c, err := s.contacts.Get(ctx, evt.AccountID, evt.ContactID)
		if errors.Is(err, contacts.ErrNotFound) {
			return routeContext{}, nil
		}
		if err != nil {
			return routeContext{}, err
		}
		settings, err := s.contacts.GetAccountSettings(ctx, evt.AccountID)
		if err != nil {
			return routeContext{}, fmt.Errorf("load account settings: %w", err)
		}
		rc := routeContext{Found: true, Mode: c.RoutingMode, Score: c.Score, DealValue: c.DealValue, Stage: c.Stage, Settings: settings}
		if c.RoutingMode != "" && s.enrollments != nil {
			active, err := s.enrollments.HasActiveEnrollment(ctx, evt.AccountID, evt.ContactID)
			if err != nil {
				return routeContext{}, fmt.Errorf("check enrollment: %w", err)
			}
			rc.AlreadyRouted = active
		}
		return rc, nil
	})
	if err != nil {
		return nil, err
	}
	if !rc.Found {
		return GateResult{Reason: SkipContactNotFound}, nil
	}
	if rc.AlreadyRouted {
		err := workflow.Do(ctx, sc, "log-skip", func(ctx context.Context) error {
			return contacts.Log(ctx, s.contacts, evt.AccountID, evt.ContactID, contacts.ActivityRoutingSkipped, map[string]any{
				"reason":       SkipAlreadyRouted,
				"routing_mode": rc.Mode,
			})
		})
		return GateResult{Reason: SkipAlreadyRouted}, err
	}

	decision := Decide(Input{BANT: evt.BANT, DealValue: rc.DealValue, Settings: rc.Settings})
	assignedTo := ""
	if decision.Mode == contacts.ModeHybrid {
		assignedTo = evt.AccountID
	}

	err = workflow.Do(ctx, sc, "execute-routing", func(ctx context.Context) error {
		switch decision.Mode {
		case contacts.ModeAutonomous:
			if _, err := s.contacts.SetStage(ctx, evt.AccountID, evt.ContactID, contacts.StageContacted, contacts.StageLead, contacts.StageQualified); err != nil {
				return err
			}
		case contacts.ModeHybrid:
			if err := s.contacts.SetAssignedRep(ctx, evt.AccountID, evt.ContactID, assignedTo); err != nil {
				return err
			}
		case contacts.ModeSelfService:
			if _, err := s.contacts.SetStage(ctx, evt.AccountID, evt.ContactID, contacts.StageProposal); err != nil {
				return err
			}
		}
		if err := s.contacts.SetRouting(ctx, evt.AccountID, evt.ContactID, decision.Mode); err != nil {
			return err
		}
		return s.contacts.MergeExtensionFields(ctx, evt.AccountID, evt.ContactID, map[string]any{
			contacts.FieldRoutingReason: decision.Reason,
			contacts.FieldRoutedAt:      sc.Now().Format(time.RFC3339),
		})
	})
	if err != nil {
		return nil, err
	}

	err = workflow.Do(ctx, sc, "log-routing-activity", func(ctx context.Context) error {
		return contacts.Log(ctx, s.contacts, evt.AccountID, evt.ContactID, contacts.ActivityLeadRouted, map[string]any{
			"mode":   decision.Mode,
			"reason": decision.Reason,
			"bant":   evt.BANT,
		})
	})
	if err != nil {
		return nil, err
	}

	_, err = sc.SendEvent(ctx, "emit-routed", events.LeadRouted{
		BaseEvent:  events.NewBaseEvent(),
		AccountRef: evt.AccountRef,
		ContactID:  evt.ContactID,
		Mode:       decision.Mode,
		AssignedTo: assignedTo,
		Reason:     decision.Reason,
		Score:      rc.Score,
	})
	if err != nil {
		return nil, err
	}

	sc.Logger().Info("lead routed", "contact_id", evt.ContactID, "mode", decision.Mode)
	return decision, nil
}
