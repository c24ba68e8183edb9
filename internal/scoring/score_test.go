package scoring

import (
	"context"
	"testing"

	"salespipeline_backend/internal/contacts"
	"salespipeline_backend/internal/events"
	"salespipeline_backend/internal/workflow/workflowtest"

	"github.com/google/uuid"
)

func exampleSnapshot() Snapshot {
	return Snapshot{
		HasEmail:   true,
		HasPhone:   true,
		HasCompany: true,
		HasTitle:   true,
		Enriched:   true,
		DealValue:  12000,
		Stage:      contacts.StageQualified,
		Source:     "referral",
	}
}

func TestComputeExampleScenario(t *testing.T) {
	got := Compute(exampleSnapshot(), 3, DefaultWeights())
	if got.Score != 80 {
		t.Fatalf("expected 80, got %d (%v)", got.Score, got.Signals)
	}
	want := map[string]int{"completeness": 20, "enrichment": 15, "deal_value": 15, "engagement": 12, "stage": 8, "source": 10}
	for k, v := range want {
		if got.Signals[k] != v {
			t.Fatalf("signal %s: expected %d, got %d", k, v, got.Signals[k])
		}
	}
}

func TestComputeIsIdempotent(t *testing.T) {
	first := Compute(exampleSnapshot(), 3, DefaultWeights())
	for range 5 {
		if again := Compute(exampleSnapshot(), 3, DefaultWeights()); again.Score != first.Score {
			t.Fatalf("score drifted: %d vs %d", again.Score, first.Score)
		}
	}
}

func TestComputeBounds(t *testing.T) {
	tests := []struct {
		name       string
		snapshot   Snapshot
		activities int
		want       int
	}{
		{name: "empty contact", snapshot: Snapshot{Stage: contacts.StageLead}, want: 0},
		{name: "consent penalty floors at zero", snapshot: Snapshot{HasEmail: true, DoNotCall: true, DoNotEmail: true}, want: 0},
		{name: "engagement caps at 20", snapshot: Snapshot{}, activities: 50, want: 20},
		{
			name: "clamped at 100",
			snapshot: Snapshot{
				HasEmail: true, HasPhone: true, HasCompany: true, HasTitle: true, Enriched: true,
				DealValue: 50000, Stage: contacts.StageNegotiation, Source: "referral",
			},
			activities: 10,
			want:       100,
		},
		{name: "small deal gets base bonus only", snapshot: Snapshot{DealValue: 500, Source: "cold"}, want: 11},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Compute(tt.snapshot, tt.activities, DefaultWeights()).Score; got != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestScoreFunctionPersistsAndEmits(t *testing.T) {
	repo := contacts.NewMemoryRepository(nil)
	c := repo.Put(contacts.Contact{
		AccountID: "acct-1", Email: "ana@example.com", Phone: "+12015550123", Company: "Acme", Title: "CTO",
		Stage: contacts.StageQualified, Source: "referral", DealValue: 12000,
		ExtensionFields: map[string]any{contacts.FieldEnrichmentStatus: contacts.EnrichmentComplete},
	})
	for range 3 {
		_ = contacts.Log(context.Background(), repo, "acct-1", c.ID, "note", nil)
	}

	svc := NewService(repo, StaticCalibration(Thresholds{Version: "cal-7", QualifiedFloor: 40, HotFloor: 60}))
	h := workflowtest.New(t, svc.Functions()...)
	h.Publish(t, events.ContactCreated{AccountRef: events.AccountRef{AccountID: "acct-1"}, ContactID: c.ID, Source: "referral"})

	got, _ := repo.Get(context.Background(), "acct-1", c.ID)
	if got.Score != 80 {
		t.Fatalf("expected stored score 80, got %d", got.Score)
	}
	scored := workflowtest.Decode[events.LeadScored](t, h)
	if len(scored) != 1 || scored[0].Score != 80 || scored[0].Calibration != "cal-7" {
		t.Fatalf("unexpected lead.scored events %+v", scored)
	}
	if n := len(repo.ActivitiesOfType(contacts.ActivityLeadScored)); n != 1 {
		t.Fatalf("expected one lead_scored activity, got %d", n)
	}
}

func TestCalibratedSourceWeights(t *testing.T) {
	th := Thresholds{Version: "cal-8", SourceBonus: map[string]int{"referral": 2, "partner": 12}}
	base := DefaultWeights()
	w := th.Apply(base)

	if base.SourceBonus["referral"] != 10 {
		t.Fatalf("apply must not modify the base weights")
	}
	got := Compute(exampleSnapshot(), 3, w)
	if got.Score != 72 || got.Signals["source"] != 2 {
		t.Fatalf("expected the calibrated referral points, got %d (%v)", got.Score, got.Signals)
	}
	if again := Compute(exampleSnapshot(), 3, th.Apply(base)); again.Score != got.Score {
		t.Fatalf("calibrated score drifted: %d vs %d", again.Score, got.Score)
	}
	if w.SourceBonus["inbound"] != 8 || w.SourceBonus["partner"] != 12 {
		t.Fatalf("expected uncalibrated sources kept and new ones added, got %v", w.SourceBonus)
	}
	if d := DefaultThresholds().Apply(base); d.SourceBonus["referral"] != 10 {
		t.Fatalf("expected defaults without a calibration")
	}
}

func TestScoreFunctionUsesCalibration(t *testing.T) {
	repo := contacts.NewMemoryRepository(nil)
	c := repo.Put(contacts.Contact{AccountID: "acct-1", Email: "ana@example.com", Source: "referral", Stage: contacts.StageLead})

	cal := Thresholds{Version: "cal-9", QualifiedFloor: 40, HotFloor: 60, SourceBonus: map[string]int{"referral": 1}}
	h := workflowtest.New(t, NewService(repo, StaticCalibration(cal)).Functions()...)
	h.Publish(t, events.ContactCreated{AccountRef: events.AccountRef{AccountID: "acct-1"}, ContactID: c.ID})

	scored := workflowtest.Decode[events.LeadScored](t, h)
	if len(scored) != 1 || scored[0].Score != 6 || scored[0].Signals["source"] != 1 {
		t.Fatalf("expected completeness 5 plus calibrated source 1, got %+v", scored)
	}
}

func TestScoreFunctionSkipsMissingContact(t *testing.T) {
	repo := contacts.NewMemoryRepository(nil)
	h := workflowtest.New(t, NewService(repo, nil).Functions()...)
	h.Publish(t, events.ContactCreated{AccountRef: events.AccountRef{AccountID: "acct-1"}, ContactID: uuid.New()})

	runs := h.Runs(t, FunctionID)
	if len(runs) != 1 || runs[0].Status != "completed" {
		t.Fatalf("expected one completed run, got %+v", runs)
	}
	if len(workflowtest.Decode[events.LeadScored](t, h)) != 0 {
		t.Fatalf("expected no lead.scored for a missing contact")
	}
}

func TestEnrichmentReentersPipeline(t *testing.T) {
	repo := contacts.NewMemoryRepository(nil)
	c := repo.Put(contacts.Contact{AccountID: "acct-1", Email: "a@b.co"})
	h := workflowtest.New(t, NewService(repo, nil).Functions()...)

	h.Publish(t, events.ContactEnriched{AccountRef: events.AccountRef{AccountID: "acct-1"}, ContactID: c.ID})

	created := workflowtest.Decode[events.ContactCreated](t, h)
	if len(created) != 1 || created[0].Source != SourceEnrichment {
		t.Fatalf("expected re-emitted contact.created from enrichment, got %+v", created)
	}
	if len(h.Runs(t, FunctionID)) != 1 {
		t.Fatalf("expected the re-emitted event to be scored")
	}
}
