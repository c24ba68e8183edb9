package routing

import (
	"context"
	"testing"

	"salespipeline_backend/internal/contacts"
	"salespipeline_backend/internal/events"
	"salespipeline_backend/internal/workflow/workflowtest"

	"github.com/google/uuid"
)

// tieBreakBANT has mean 66 and passes the self-service budget and timeline
// gates while failing the hybrid authority floor.
var tieBreakBANT = events.BANT{Budget: 75, Authority: 40, Need: 80, Timeline: 75, Competition: 60}

func hybridSettings(selfService int) contacts.AccountSettings {
	s := contacts.DefaultAccountSettings("acct-1")
	s.EnabledModes = []string{contacts.ModeAutonomous, contacts.ModeHybrid}
	s.SelfServiceThreshold = selfService
	return s
}

func TestDecideTieBreak(t *testing.T) {
	tests := []struct {
		name        string
		selfService int
		want        string
	}{
		{name: "default threshold 80 fails self-service mean, hybrid wins", selfService: 80, want: contacts.ModeHybrid},
		{name: "threshold 66 lets self-service win over hybrid", selfService: 66, want: contacts.ModeSelfService},
		{name: "threshold 50 lets self-service win over hybrid", selfService: 50, want: contacts.ModeSelfService},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decide(Input{BANT: tieBreakBANT, DealValue: 12000, Settings: hybridSettings(tt.selfService)})
			if got.Mode != tt.want {
				t.Fatalf("expected mode %s, got %s (%s)", tt.want, got.Mode, got.Reason)
			}
		})
	}
}

func TestDecideRules(t *testing.T) {
	strong := events.BANT{Budget: 90, Authority: 90, Need: 90, Timeline: 90, Competition: 90}
	tests := []struct {
		name     string
		bant     events.BANT
		deal     float64
		settings contacts.AccountSettings
		want     string
	}{
		{name: "self-service needs a deal value", bant: strong, deal: 0, settings: hybridSettings(80), want: contacts.ModeAutonomous},
		{name: "self-service needs timeline 70", bant: events.BANT{Budget: 90, Authority: 90, Need: 90, Timeline: 65, Competition: 95}, deal: 100, settings: hybridSettings(80), want: contacts.ModeAutonomous},
		{name: "self-service does not need hybrid enabled", bant: strong, deal: 100, settings: contacts.DefaultAccountSettings("a"), want: contacts.ModeSelfService},
		{name: "large deal goes hybrid", bant: events.BANT{Budget: 60, Authority: 80, Need: 60, Timeline: 60, Competition: 60}, deal: 20000, settings: hybridSettings(80), want: contacts.ModeHybrid},
		{name: "hybrid disabled falls back to autonomous", bant: tieBreakBANT, deal: 12000, settings: contacts.DefaultAccountSettings("a"), want: contacts.ModeAutonomous},
		{name: "deal exactly at threshold is not large", bant: events.BANT{Budget: 60, Authority: 80, Need: 60, Timeline: 60, Competition: 60}, deal: 10000, settings: hybridSettings(80), want: contacts.ModeAutonomous},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Decide(Input{BANT: tt.bant, DealValue: tt.deal, Settings: tt.settings}); got.Mode != tt.want {
				t.Fatalf("expected %s, got %s (%s)", tt.want, got.Mode, got.Reason)
			}
		})
	}
}

func TestDecideIsDeterministic(t *testing.T) {
	in := Input{BANT: tieBreakBANT, DealValue: 12000, Settings: hybridSettings(80)}
	first := Decide(in)
	for range 10 {
		if got := Decide(in); got != first {
			t.Fatalf("decision changed: %+v vs %+v", got, first)
		}
	}
}

func TestGate(t *testing.T) {
	qualified := contacts.Contact{ExtensionFields: map[string]any{contacts.FieldQualificationStatus: QualificationQualified}}
	if got := Gate(contacts.Contact{}, 39, 40); got.Proceed || got.Reason != SkipBelowThreshold {
		t.Fatalf("expected below_threshold skip, got %+v", got)
	}
	if got := Gate(qualified, 90, 40); got.Proceed || got.Reason != SkipAlreadyQualified {
		t.Fatalf("expected already_qualified skip, got %+v", got)
	}
	if got := Gate(contacts.Contact{}, 40, 40); !got.Proceed {
		t.Fatalf("expected score at the floor to proceed")
	}
}

type fakeEnrollments struct{ active bool }

func (f fakeEnrollments) HasActiveEnrollment(context.Context, string, uuid.UUID) (bool, error) {
	return f.active, nil
}

func TestRouteFunctionAppliesHybrid(t *testing.T) {
	repo := contacts.NewMemoryRepository(nil)
	repo.PutAccountSettings(hybridSettings(80))
	c := repo.Put(contacts.Contact{AccountID: "acct-1", Stage: contacts.StageQualified, DealValue: 12000, Score: 80})

	h := workflowtest.New(t, NewService(repo, fakeEnrollments{}).Functions()...)
	h.Publish(t, events.LeadQualified{AccountRef: events.AccountRef{AccountID: "acct-1"}, ContactID: c.ID, Outcome: "qualified", BANT: tieBreakBANT})

	got, _ := repo.Get(context.Background(), "acct-1", c.ID)
	if got.RoutingMode != contacts.ModeHybrid || got.AssignedRep != "acct-1" {
		t.Fatalf("expected hybrid routing assigned to the account, got mode=%s rep=%s", got.RoutingMode, got.AssignedRep)
	}
	if got.Field(contacts.FieldRoutingReason) == "" {
		t.Fatalf("expected routing_reason to be recorded")
	}
	routed := workflowtest.Decode[events.LeadRouted](t, h)
	if len(routed) != 1 || routed[0].Mode != contacts.ModeHybrid {
		t.Fatalf("unexpected lead.routed %+v", routed)
	}
}

func TestRouteFunctionDoesNotClobberRoutedLead(t *testing.T) {
	repo := contacts.NewMemoryRepository(nil)
	c := repo.Put(contacts.Contact{AccountID: "acct-1", Stage: contacts.StageContacted, RoutingMode: contacts.ModeAutonomous})

	h := workflowtest.New(t, NewService(repo, fakeEnrollments{active: true}).Functions()...)
	h.Publish(t, events.LeadQualified{AccountRef: events.AccountRef{AccountID: "acct-1"}, ContactID: c.ID, BANT: tieBreakBANT})

	if n := len(repo.ActivitiesOfType(contacts.ActivityRoutingSkipped)); n != 1 {
		t.Fatalf("expected a routing_skipped activity, got %d", n)
	}
	if len(workflowtest.Decode[events.LeadRouted](t, h)) != 0 {
		t.Fatalf("expected no lead.routed for an already routed lead")
	}
}
