package qualification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"salespipeline_backend/internal/contacts"
	"salespipeline_backend/internal/events"
	"salespipeline_backend/internal/routing"
	"salespipeline_backend/internal/scoring"
	"salespipeline_backend/internal/workflow"

	"github.com/google/uuid"
)

const FunctionID = "qualification.qualify-lead"

// ContactStore is the contact access qualification needs.
type ContactStore interface {
	Get(ctx context.Context, accountID string, id uuid.UUID) (contacts.Contact, error)
	MergeExtensionFields(ctx context.Context, accountID string, id uuid.UUID, fields map[string]any) error
	SetStage(ctx context.Context, accountID string, id uuid.UUID, stage contacts.Stage, from ...contacts.Stage) (bool, error)
	contacts.ActivityLogger
}

type Service struct {
	contacts    ContactStore
	calibration scoring.CalibrationReader
	selector    *Selector
}

func NewService(store ContactStore, calibration scoring.CalibrationReader, selector *Selector) *Service {
	if calibration == nil {
		calibration = scoring.StaticCalibration(scoring.DefaultThresholds())
	}
	if selector == nil {
		selector = NewSelector(nil, nil, nil)
	}
	return &Service{contacts: store, calibration: calibration, selector: selector}
}

func (s *Service) Functions() []workflow.Function {
	return []workflow.Function{{
		ID:          FunctionID,
		Triggers:    []workflow.Trigger{workflow.OnEvent(events.LeadScored{}.EventName())},
		Concurrency: 5,
		Retries:     2,
		Handler:     s.qualify,
	}}
}

type loaded struct {
	Found   bool             `json:"found"`
	Contact contacts.Contact `json:"contact"`
	Floor   int              `json:"floor"`
}

func (s *Service) qualify(ctx context.Context, sc *workflow.StepContext) (any, error) {
	evt, err := workflow.EventAs[events.LeadScored](sc)
	if err != nil {
		return nil, err
	}

	ld, err := workflow.Run(ctx, sc, "load-contact", func(ctx context.Context) (loaded, error) {
		c, err := s.contacts.Get(ctx, evt.AccountID, evt.ContactID)
		if errors.Is(err, contacts.ErrNotFound) {
			return loaded{}, nil
		}
		if err != nil {
			return loaded{}, fmt.Errorf("load contact: %w", err)
		}
		th, err := s.calibration.Thresholds(ctx, evt.AccountID)
		if err != nil {
			return loaded{}, fmt.Errorf("load calibration: %w", err)
		}
		return loaded{Found: true, Contact: c, Floor: th.QualifiedFloor}, nil
	})
	if err != nil {
		return nil, err
	}
	if !ld.Found {
		return routing.GateResult{Reason: routing.SkipContactNotFound}, nil
	}

	gate, err := routing.ApplyGate(ctx, sc, s.contacts, ld.Contact, evt.Score, ld.Floor)
	if err != nil {
		return nil, err
	}
	if !gate.Proceed {
		sc.Logger().Info("qualification skipped", "contact_id", evt.ContactID, "reason", gate.Reason)
		return gate, nil
	}

	assessment, err := workflow.Run(ctx, sc, "assess", func(ctx context.Context) (Assessment, error) {
		c := ld.Contact
		c.Score = evt.Score
		return s.selector.Assess(ctx, ContextFor(c, sc.Now()))
	})
	if err != nil {
		return nil, err
	}

	err = workflow.Do(ctx, sc, "persist-qualification", func(ctx context.Context) error {
		err := s.contacts.MergeExtensionFields(ctx, evt.AccountID, evt.ContactID, map[string]any{
			contacts.FieldQualificationStatus: assessment.Outcome,
			"bant":                            assessment.BANT,
			"qualification_notes":             assessment.Notes,
			"recommended_action":              assessment.RecommendedAction,
			"qualified_at":                    sc.Now().Format(time.RFC3339),
			"qualification_method":            assessment.Method,
		})
		if err != nil {
			return err
		}
		if assessment.Outcome == OutcomeQualified {
			if _, err := s.contacts.SetStage(ctx, evt.AccountID, evt.ContactID, contacts.StageQualified, contacts.StageLead); err != nil {
				return err
			}
		}
		return contacts.Log(ctx, s.contacts, evt.AccountID, evt.ContactID, contacts.ActivityLeadQualified, map[string]any{
			"outcome":            assessment.Outcome,
			"bant":               assessment.BANT,
			"method":             assessment.Method,
			"recommended_action": assessment.RecommendedAction,
		})
	})
	if err != nil {
		return nil, err
	}

	if assessment.Outcome == OutcomeQualified {
		_, err = sc.SendEvent(ctx, "emit-qualified", events.LeadQualified{
			BaseEvent:  events.NewBaseEvent(),
			AccountRef: evt.AccountRef,
			ContactID:  evt.ContactID,
			Outcome:    assessment.Outcome,
			BANT:       assessment.BANT,
			Notes:      assessment.Notes,
			Method:     assessment.Method,
		})
		if err != nil {
			return nil, err
		}
	}

	sc.Logger().Info("lead qualified", "contact_id", evt.ContactID, "outcome", assessment.Outcome, "method", assessment.Method)
	return assessment, nil
}
