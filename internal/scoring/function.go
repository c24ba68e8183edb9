package scoring

import (
	"context"
	"errors"
	"fmt"

	"salespipeline_backend/internal/contacts"
	"salespipeline_backend/internal/events"
	"salespipeline_backend/internal/workflow"

	"github.com/google/uuid"
)

const (
	FunctionID         = "scoring.score-lead"
	EnrichedFunctionID = "scoring.rescore-enriched"

	// SourceEnrichment marks a rescore triggered by new enrichment data.
	SourceEnrichment = "enrichment"
)

// ContactReader is the contact access scoring needs.
type ContactReader interface {
	Get(ctx context.Context, accountID string, id uuid.UUID) (contacts.Contact, error)
	CountActivities(ctx context.Context, accountID string, contactID uuid.UUID) (int, error)
	UpdateScore(ctx context.Context, accountID string, id uuid.UUID, score int) error
	contacts.ActivityLogger
}

type Service struct {
	contacts    ContactReader
	calibration CalibrationReader
	weights     Weights
}

func NewService(store ContactReader, calibration CalibrationReader) *Service {
	if calibration == nil {
		calibration = StaticCalibration(DefaultThresholds())
	}
	return &Service{contacts: store, calibration: calibration, weights: DefaultWeights()}
}

// Functions returns the durable functions owned by scoring.
func (s *Service) Functions() []workflow.Function {
	return []workflow.Function{
		{
			ID:       FunctionID,
			Triggers: []workflow.Trigger{workflow.OnEvent(events.ContactCreated{}.EventName())},
			Retries:  3,
			Handler:  s.scoreLead,
		},
		{
			ID:       EnrichedFunctionID,
			Triggers: []workflow.Trigger{workflow.OnEvent(events.ContactEnriched{}.EventName())},
			Retries:  3,
			Handler:  s.rescoreEnriched,
		},
	}
}

type computed struct {
	Found       bool           `json:"found"`
	Score       int            `json:"score"`
	Previous    int            `json:"previous"`
	Signals     map[string]int `json:"signals"`
	Calibration string         `json:"calibration,omitempty"`
}

func (s *Service) scoreLead(ctx context.Context, sc *workflow.StepContext) (any, error) {
	evt, err := workflow.EventAs[events.ContactCreated](sc)
	if err != nil {
		return nil, err
	}

	result, err := workflow.Run(ctx, sc, "compute-score", func(ctx context.Context) (computed, error) {
		c, err := s.contacts.Get(ctx, evt.AccountID, evt.ContactID)
		if errors.Is(err, contacts.ErrNotFound) {
			return computed{}, nil
		}
		if err != nil {
			return computed{}, fmt.Errorf("load contact: %w", err)
		}
		activities, err := s.contacts.CountActivities(ctx, evt.AccountID, evt.ContactID)
		if err != nil {
			return computed{}, fmt.Errorf("count activities: %w", err)
		}
		th, err := s.calibration.Thresholds(ctx, evt.AccountID)
		if err != nil {
			return computed{}, fmt.Errorf("load calibration: %w", err)
		}
		r := Compute(SnapshotOf(c), activities, th.Apply(s.weights))
		return computed{Found: true, Score: r.Score, Previous: c.Score, Signals: r.Signals, Calibration: th.Version}, nil
	})
	if err != nil {
		return nil, err
	}
	if !result.Found {
		sc.Logger().Info("scoring skipped, contact not found", "contact_id", evt.ContactID)
		return map[string]string{"status": "contact_not_found"}, nil
	}

	err = workflow.Do(ctx, sc, "persist-score", func(ctx context.Context) error {
		if err := s.contacts.UpdateScore(ctx, evt.AccountID, evt.ContactID, result.Score); err != nil {
			return err
		}
		return contacts.Log(ctx, s.contacts, evt.AccountID, evt.ContactID, contacts.ActivityLeadScored, map[string]any{
			"score":          result.Score,
			"previous_score": result.Previous,
			"signals":        result.Signals,
			"source":         evt.Source,
			"calibration":    result.Calibration,
		})
	})
	if err != nil {
		return nil, err
	}

	_, err = sc.SendEvent(ctx, "emit-lead-scored", events.LeadScored{
		BaseEvent:     events.NewBaseEvent(),
		AccountRef:    evt.AccountRef,
		ContactID:     evt.ContactID,
		Score:         result.Score,
		PreviousScore: result.Previous,
		Signals:       result.Signals,
		Calibration:   result.Calibration,
	})
	if err != nil {
		return nil, err
	}

	sc.Logger().Info("lead scored", "contact_id", evt.ContactID, "score", result.Score, "previous_score", result.Previous)
	return result, nil
}

// rescoreEnriched re-enters the pipeline after enrichment so the new data
// is scored.
func (s *Service) rescoreEnriched(ctx context.Context, sc *workflow.StepContext) (any, error) {
	evt, err := workflow.EventAs[events.ContactEnriched](sc)
	if err != nil {
		return nil, err
	}
	ids, err := sc.SendEvent(ctx, "emit-contact-created", events.ContactCreated{
		BaseEvent:  events.NewBaseEvent(),
		AccountRef: evt.AccountRef,
		ContactID:  evt.ContactID,
		Source:     SourceEnrichment,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"reemitted": ids}, nil
}
