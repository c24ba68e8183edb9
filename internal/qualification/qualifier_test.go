package qualification

import (
	"context"
	"errors"
	"testing"
	"time"

	"salespipeline_backend/internal/contacts"
	"salespipeline_backend/internal/events"
	"salespipeline_backend/internal/llm"
	"salespipeline_backend/internal/workflow/workflowtest"
)

type fakeCompleter struct {
	text  string
	err   error
	calls int
	got   llm.Request
}

func (f *fakeCompleter) Available() bool { return true }

func (f *fakeCompleter) Complete(_ context.Context, req llm.Request) (llm.Response, error) {
	f.calls++
	f.got = req
	if f.err != nil {
		return llm.Response{}, f.err
	}
	return llm.Response{Text: f.text}, nil
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		bant events.BANT
		want string
	}{
		{name: "strong", bant: events.BANT{Budget: 80, Authority: 90, Need: 70, Timeline: 60, Competition: 50}, want: OutcomeQualified},
		{name: "high mean but only two strong", bant: events.BANT{Budget: 100, Authority: 100, Need: 49, Timeline: 49, Competition: 49}, want: OutcomeNurture},
		{name: "middling", bant: events.BANT{Budget: 40, Authority: 55, Need: 40, Timeline: 35, Competition: 50}, want: OutcomeNurture},
		{name: "weak", bant: events.BANT{Budget: 10, Authority: 30, Need: 20, Timeline: 20, Competition: 30}, want: OutcomeDisqualified},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.bant); got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestRuleAuthorityByTitle(t *testing.T) {
	tests := []struct {
		title string
		want  int
	}{
		{"CEO", 90},
		{"Co-Founder & CTO", 90},
		{"Chief Revenue Officer", 90},
		{"VP Sales", 75},
		{"Head of Growth", 75},
		{"Engineering Manager", 55},
		{"Team Lead", 55},
		{"Analyst", 30},
		{"", 30},
	}
	for _, tt := range tests {
		if got := ruleAuthority(tt.title); got != tt.want {
			t.Fatalf("%q: expected %d, got %d", tt.title, tt.want, got)
		}
	}
}

func TestRuleQualifierScoresFromContactData(t *testing.T) {
	now := workflowtest.Start
	contacted := now.Add(-3 * 24 * time.Hour)
	qc := Context{
		Title:           "VP Operations",
		Stage:           contacts.StageContacted,
		DealValue:       12000,
		Funding:         "Series B",
		CompanySize:     "51-200",
		PainPoints:      []string{"manual reporting"},
		TechStack:       []string{"HubSpot CRM"},
		LastContactedAt: &contacted,
		Now:             now,
	}
	a, err := RuleQualifier{}.Assess(context.Background(), qc)
	if err != nil {
		t.Fatalf("assess: %v", err)
	}
	want := events.BANT{Budget: 90, Authority: 75, Need: 85, Timeline: 70, Competition: 30}
	if a.BANT != want {
		t.Fatalf("expected %+v, got %+v", want, a.BANT)
	}
	if a.Outcome != OutcomeQualified || a.Method != MethodRules {
		t.Fatalf("unexpected assessment %+v", a)
	}
}

func TestLLMQualifierClampsDimensions(t *testing.T) {
	fc := &fakeCompleter{text: "Here you go:\n{\"outcome\":\"qualified\",\"budget\":140,\"authority\":90,\"need\":-5,\"timeline\":70,\"competition\":60,\"notes\":\"fit\",\"recommended_action\":\"book demo\"}"}
	a, err := NewLLMQualifier(fc).Assess(context.Background(), Context{Name: "Ada Lovelace", DoNotCall: true})
	if err != nil {
		t.Fatalf("assess: %v", err)
	}
	if a.BANT.Budget != 100 || a.BANT.Need != 0 {
		t.Fatalf("expected clamped dimensions, got %+v", a.BANT)
	}
	if a.Method != MethodLLM {
		t.Fatalf("expected llm method, got %s", a.Method)
	}
	if !fc.got.JSON || len(fc.got.Messages) != 1 {
		t.Fatalf("unexpected request %+v", fc.got)
	}
}

func TestSelectorFallsBackOnFailure(t *testing.T) {
	tests := []struct {
		name string
		fc   *fakeCompleter
	}{
		{name: "provider error", fc: &fakeCompleter{err: errors.New("503")}},
		{name: "malformed json", fc: &fakeCompleter{text: "I think they are a great fit"}},
		{name: "missing dimension", fc: &fakeCompleter{text: `{"outcome":"qualified","budget":90}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel := NewSelector(NewLLMQualifier(tt.fc), nil, nil)
			a, err := sel.Assess(context.Background(), Context{Title: "CEO", Now: workflowtest.Start})
			if err != nil {
				t.Fatalf("expected fallback, got error %v", err)
			}
			if a.Method != MethodRuleFallback {
				t.Fatalf("expected %s, got %s", MethodRuleFallback, a.Method)
			}
		})
	}
}

func TestSelectorUsesRulesWhenLLMUnavailable(t *testing.T) {
	sel := NewSelector(NewLLMQualifier(llm.Disabled{}), nil, nil)
	a, err := sel.Assess(context.Background(), Context{Now: workflowtest.Start})
	if err != nil {
		t.Fatalf("assess: %v", err)
	}
	if a.Method != MethodRules {
		t.Fatalf("expected %s, got %s", MethodRules, a.Method)
	}
}

func TestQualifyFunctionPromotesQualifiedLead(t *testing.T) {
	repo := contacts.NewMemoryRepository(nil)
	c := repo.Put(contacts.Contact{AccountID: "acct-1", FirstName: "Ada", Title: "CEO", Stage: contacts.StageLead, DealValue: 20000})

	fc := &fakeCompleter{text: `{"outcome":"qualified","budget":80,"authority":90,"need":70,"timeline":65,"competition":55,"notes":"strong","recommended_action":"Route to outreach sequence"}`}
	svc := NewService(repo, nil, NewSelector(NewLLMQualifier(fc), nil, nil))
	h := workflowtest.New(t, svc.Functions()...)
	h.Publish(t, events.LeadScored{AccountRef: events.AccountRef{AccountID: "acct-1"}, ContactID: c.ID, Score: 72})

	got, _ := repo.Get(context.Background(), "acct-1", c.ID)
	if got.Stage != contacts.StageQualified {
		t.Fatalf("expected stage qualified, got %s", got.Stage)
	}
	if got.Field(contacts.FieldQualificationStatus) != OutcomeQualified || got.Field("qualification_method") != MethodLLM {
		t.Fatalf("unexpected extension fields %+v", got.ExtensionFields)
	}
	if n := len(repo.ActivitiesOfType(contacts.ActivityQualificationQueued)); n != 1 {
		t.Fatalf("expected one qualification_queued activity, got %d", n)
	}
	qualified := workflowtest.Decode[events.LeadQualified](t, h)
	if len(qualified) != 1 || qualified[0].BANT.Authority != 90 {
		t.Fatalf("unexpected lead.qualified %+v", qualified)
	}
}

func TestQualifyFunctionSkipsBelowFloor(t *testing.T) {
	repo := contacts.NewMemoryRepository(nil)
	c := repo.Put(contacts.Contact{AccountID: "acct-1", Stage: contacts.StageLead})

	fc := &fakeCompleter{}
	h := workflowtest.New(t, NewService(repo, nil, NewSelector(NewLLMQualifier(fc), nil, nil)).Functions()...)
	h.Publish(t, events.LeadScored{AccountRef: events.AccountRef{AccountID: "acct-1"}, ContactID: c.ID, Score: 20})

	if fc.calls != 0 {
		t.Fatalf("expected no model call below the floor")
	}
	if n := len(repo.ActivitiesOfType(contacts.ActivityRoutingSkipped)); n != 1 {
		t.Fatalf("expected a routing_skipped activity, got %d", n)
	}
	if len(workflowtest.Decode[events.LeadQualified](t, h)) != 0 {
		t.Fatalf("expected no lead.qualified")
	}
}

func TestQualifyFunctionSurvivesLLMOutage(t *testing.T) {
	repo := contacts.NewMemoryRepository(nil)
	c := repo.Put(contacts.Contact{AccountID: "acct-1", Title: "Analyst", Stage: contacts.StageLead})

	fc := &fakeCompleter{err: errors.New("connection refused")}
	h := workflowtest.New(t, NewService(repo, nil, NewSelector(NewLLMQualifier(fc), nil, nil)).Functions()...)
	h.Publish(t, events.LeadScored{AccountRef: events.AccountRef{AccountID: "acct-1"}, ContactID: c.ID, Score: 45})

	got, _ := repo.Get(context.Background(), "acct-1", c.ID)
	if got.Field("qualification_method") != MethodRuleFallback {
		t.Fatalf("expected rule fallback, got %+v", got.ExtensionFields)
	}
	if got.Field(contacts.FieldQualificationStatus) != OutcomeNurture {
		t.Fatalf("expected nurture, got %s", got.Field(contacts.FieldQualificationStatus))
	}
	if got.Stage != contacts.StageLead {
		t.Fatalf("expected stage to stay lead, got %s", got.Stage)
	}
}
