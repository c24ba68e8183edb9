package orchestrator

import (
	"encoding/json"
	"testing"
	"time"

	"salespipeline_backend/internal/contacts"
	"salespipeline_backend/internal/events"
	"salespipeline_backend/internal/outreach"
	"salespipeline_backend/internal/workflow/workflowtest"

	"github.com/google/uuid"
)

const acct = "acct-1"

func setup(t *testing.T) (*workflowtest.Harness, *contacts.MemoryRepository) {
	t.Helper()
	var h *workflowtest.Harness
	repo := contacts.NewMemoryRepository(func() time.Time { return h.Now() })
	h = workflowtest.New(t, NewService(repo).Functions()...)
	return h, repo
}

func created(c contacts.Contact) events.ContactCreated {
	return events.ContactCreated{BaseEvent: events.NewBaseEvent(), AccountRef: events.AccountRef{AccountID: c.AccountID}, ContactID: c.ID, Source: "web"}
}

func TestContactCreatedRequestsEnrichment(t *testing.T) {
	tests := []struct {
		name    string
		contact contacts.Contact
		want    bool
	}{
		{"email only", contacts.Contact{Email: "ada@acme.test"}, true},
		{"company only", contacts.Contact{Company: "Acme"}, true},
		{"nothing to research", contacts.Contact{FirstName: "Ada"}, false},
		{"already enriched", contacts.Contact{Email: "ada@acme.test", ExtensionFields: map[string]any{contacts.FieldEnrichmentStatus: contacts.EnrichmentComplete}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, repo := setup(t)
			tt.contact.AccountID = acct
			c := repo.Put(tt.contact)

			h.Publish(t, created(c))

			if len(repo.ActivitiesOfType(contacts.ActivityOrchestratorRouting)) != 1 {
				t.Fatalf("expected the routing decision logged")
			}
			requests := workflowtest.Decode[events.ContactEnrichmentRequested](t, h)
			if got := len(requests) == 1; got != tt.want {
				t.Fatalf("expected enrichment requested=%v, got %d requests", tt.want, len(requests))
			}
			if got := len(repo.ActivitiesOfType(contacts.ActivityQueueForEnrichment)) == 1; got != tt.want {
				t.Fatalf("expected queue_for_enrichment logged=%v", tt.want)
			}
			if tt.want && (requests[0].ContactID != c.ID || requests[0].Email != c.Email || requests[0].Company != c.Company) {
				t.Fatalf("unexpected request %+v", requests[0])
			}
		})
	}
}

func TestContactCreatedUnknownContact(t *testing.T) {
	h, repo := setup(t)
	h.Publish(t, created(contacts.Contact{ID: uuid.New(), AccountID: acct}))

	if len(workflowtest.Decode[events.ContactEnrichmentRequested](t, h)) != 0 {
		t.Fatalf("expected no enrichment for a missing contact")
	}
	if len(repo.ActivitiesOfType(contacts.ActivityOrchestratorRouting)) != 1 {
		t.Fatalf("expected the routing decision logged")
	}
}

func TestStuckLeadsAreReengaged(t *testing.T) {
	h, repo := setup(t)
	old := h.Now().Add(-8 * 24 * time.Hour)

	stuckLead := repo.Put(contacts.Contact{AccountID: acct, Stage: contacts.StageLead, CreatedAt: old})
	stuckQualified := repo.Put(contacts.Contact{AccountID: "acct-2", Stage: contacts.StageQualified, CreatedAt: old})
	repo.Put(contacts.Contact{AccountID: acct, Stage: contacts.StageNegotiation, CreatedAt: old})
	repo.Put(contacts.Contact{AccountID: acct, Stage: contacts.StageLead, CreatedAt: h.Now().Add(-2 * 24 * time.Hour)})

	h.Tick(t, StuckLeadsFunctionID)

	enrolls := workflowtest.Decode[events.OutreachEnroll](t, h)
	if len(enrolls) != 2 {
		t.Fatalf("expected two enrollments, got %d", len(enrolls))
	}
	seen := map[uuid.UUID]string{}
	for _, e := range enrolls {
		if e.SequenceTemplate != outreach.TemplateReEngagement {
			t.Fatalf("unexpected template %q", e.SequenceTemplate)
		}
		seen[e.ContactID] = e.AccountID
	}
	if seen[stuckLead.ID] != acct || seen[stuckQualified.ID] != "acct-2" {
		t.Fatalf("expected both stuck leads with their accounts, got %v", seen)
	}
	if n := len(repo.ActivitiesOfType(contacts.ActivityStuckLeadReengaged)); n != 2 {
		t.Fatalf("expected two re-engagement activities, got %d", n)
	}
}

func TestStuckLeadsNothingToDo(t *testing.T) {
	h, repo := setup(t)
	repo.Put(contacts.Contact{AccountID: acct, Stage: contacts.StageLead})

	h.Tick(t, StuckLeadsFunctionID)

	if len(workflowtest.Decode[events.OutreachEnroll](t, h)) != 0 {
		t.Fatalf("expected no enrollments")
	}
	runs := h.Runs(t, StuckLeadsFunctionID)
	var res StuckLeadsResult
	if len(runs) != 1 || json.Unmarshal(runs[0].Output, &res) != nil || res.Action != "none" {
		t.Fatalf("unexpected runs %+v", runs)
	}
}

func TestShouldEscalate(t *testing.T) {
	tests := []struct {
		value float64
		score int
		want  bool
	}{
		{10000, 80, false},
		{10000.01, 0, true},
		{0, 81, true},
		{500, 40, false},
	}
	for _, tt := range tests {
		if got := ShouldEscalate(tt.value, tt.score); got != tt.want {
			t.Fatalf("ShouldEscalate(%v, %d) = %v", tt.value, tt.score, got)
		}
	}
}

func reply(c contacts.Contact, sentiment string) events.OutreachReplyReceived {
	return events.OutreachReplyReceived{
		BaseEvent:  events.NewBaseEvent(),
		AccountRef: events.AccountRef{AccountID: c.AccountID},
		ContactID:  c.ID,
		Channel:    "email",
		Sentiment:  sentiment,
	}
}

func TestPositiveReplyEscalatesHighValueDeal(t *testing.T) {
	h, repo := setup(t)
	c := repo.Put(contacts.Contact{AccountID: acct, FirstName: "Ada", LastName: "Lovelace", Company: "Acme", Stage: contacts.StageQualified, DealValue: 25000})

	h.Publish(t, reply(c, outreach.SentimentPositive))

	escalations := repo.ActivitiesOfType(contacts.ActivityDealEscalation)
	if len(escalations) != 1 {
		t.Fatalf("expected one escalation, got %d", len(escalations))
	}
	d := escalations[0].Details
	if d["recommended_action"] != recommendedAction || d["reason"] != "high_value_positive_reply" || d["contact_name"] != "Ada Lovelace" {
		t.Fatalf("unexpected details %+v", d)
	}
	stored, _ := repo.Get(t.Context(), acct, c.ID)
	if stored.Stage != contacts.StageNegotiation {
		t.Fatalf("expected negotiation, got %s", stored.Stage)
	}

	// The matching lead.escalation finds the deal already escalated.
	h.Publish(t, events.LeadEscalation{BaseEvent: events.NewBaseEvent(), AccountRef: events.AccountRef{AccountID: acct}, ContactID: c.ID, Reason: "positive_reply"})
	if n := len(repo.ActivitiesOfType(contacts.ActivityDealEscalation)); n != 1 {
		t.Fatalf("expected a single escalation, got %d", n)
	}
}

func TestEscalationSkips(t *testing.T) {
	tests := []struct {
		name      string
		contact   contacts.Contact
		sentiment string
	}{
		{"neutral reply", contacts.Contact{DealValue: 50000}, outreach.SentimentNeutral},
		{"small deal", contacts.Contact{DealValue: 2000, Score: 60}, outreach.SentimentPositive},
		{"closed deal", contacts.Contact{DealValue: 50000, Stage: contacts.StageWon}, outreach.SentimentPositive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, repo := setup(t)
			tt.contact.AccountID = acct
			c := repo.Put(tt.contact)

			h.Publish(t, reply(c, tt.sentiment))

			if n := len(repo.ActivitiesOfType(contacts.ActivityDealEscalation)); n != 0 {
				t.Fatalf("expected no escalation, got %d", n)
			}
		})
	}
}

func TestLeadEscalationByScore(t *testing.T) {
	h, repo := setup(t)
	c := repo.Put(contacts.Contact{AccountID: acct, Score: 91, Stage: contacts.StageContacted})

	h.Publish(t, events.LeadEscalation{BaseEvent: events.NewBaseEvent(), AccountRef: events.AccountRef{AccountID: acct}, ContactID: c.ID, Reason: "hot_lead"})

	escalations := repo.ActivitiesOfType(contacts.ActivityDealEscalation)
	if len(escalations) != 1 || escalations[0].Details["reason"] != "hot_lead" {
		t.Fatalf("expected an escalation with the event reason, got %+v", escalations)
	}
}
