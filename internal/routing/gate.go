package routing

import (
	"context"
	"time"

	"salespipeline_backend/internal/contacts"
	"salespipeline_backend/internal/workflow"

	"github.com/google/uuid"
)

// Skip reasons recorded on routing_skipped activities.
const (
	SkipBelowThreshold   = "below_threshold"
	SkipAlreadyQualified = "already_qualified"
	SkipAlreadyRouted    = "already_routed"
	SkipContactNotFound  = "contact_not_found"

	QualificationPending   = "pending"
	QualificationQualified = "qualified"
)

// GateResult says whether a scored lead goes on to qualification.
type GateResult struct {
	Proceed bool   `json:"proceed"`
	Reason  string `json:"reason,omitempty"`
}

// Gate checks a freshly scored contact against the qualified floor.
func Gate(c contacts.Contact, score, floor int) GateResult {
	if score < floor {
		return GateResult{Reason: SkipBelowThreshold}
	}
	if c.Field(contacts.FieldQualificationStatus) == QualificationQualified {
		return GateResult{Reason: SkipAlreadyQualified}
	}
	return GateResult{Proceed: true}
}

// GateWriter is the contact access the gate step needs.
type GateWriter interface {
	MergeExtensionFields(ctx context.Context, accountID string, id uuid.UUID, fields map[string]any) error
	contacts.ActivityLogger
}

// ApplyGate records the gate outcome as a memoized step: either an explicit
// routing_skipped activity or a pending qualification marker.
func ApplyGate(ctx context.Context, sc *workflow.StepContext, store GateWriter, c contacts.Contact, score, floor int) (GateResult, error) {
	res := Gate(c, score, floor)
	err := workflow.Do(ctx, sc, "routing-gate", func(ctx context.Context) error {
		if !res.Proceed {
			return contacts.Log(ctx, store, c.AccountID, c.ID, contacts.ActivityRoutingSkipped, map[string]any{
				"reason":    res.Reason,
				"score":     score,
				"threshold": floor,
			})
		}
		err := store.MergeExtensionFields(ctx, c.AccountID, c.ID, map[string]any{
			contacts.FieldQualificationStatus: QualificationPending,
			"qualification_score":             score,
			"queued_for_qualification_at":     sc.Now().Format(time.RFC3339),
		})
		if err != nil {
			return err
		}
		return contacts.Log(ctx, store, c.AccountID, c.ID, contacts.ActivityQualificationQueued, map[string]any{
			"score":     score,
			"threshold": floor,
		})
	})
	return res, err
}
