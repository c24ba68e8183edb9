package calling

import (
	"context"
	"testing"
	"time"

	"salespipeline_backend/internal/contacts"

	"github.com/google/uuid"
)

func TestWindowContains(t *testing.T) {
	amsterdam, err := time.LoadLocation("Europe/Amsterdam")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	w := Window{StartHour: 9, EndHour: 18, Location: amsterdam}

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"before opening", time.Date(2026, 3, 2, 7, 59, 0, 0, time.UTC), false},
		{"opening hour", time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC), true},
		{"last hour", time.Date(2026, 3, 2, 16, 59, 0, 0, time.UTC), true},
		{"closing hour", time.Date(2026, 3, 2, 17, 0, 0, 0, time.UTC), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := w.Contains(tt.at); got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}

	if !(Window{}).Contains(time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC)) {
		t.Fatalf("an unset window must always be open")
	}
}

func TestOvernightWindowContains(t *testing.T) {
	w := Window{StartHour: 22, EndHour: 6, Location: time.UTC}
	tests := []struct {
		hour int
		want bool
	}{
		{21, false},
		{22, true},
		{23, true},
		{0, true},
		{5, true},
		{6, false},
		{12, false},
	}
	for _, tt := range tests {
		if got := w.Contains(time.Date(2026, 3, 2, tt.hour, 30, 0, 0, time.UTC)); got != tt.want {
			t.Fatalf("hour %d: expected %v, got %v", tt.hour, tt.want, got)
		}
	}
}

func TestGateReasons(t *testing.T) {
	ctx := context.Background()
	morning := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	evening := time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		configured bool
		contact    func(c *contacts.Contact)
		missing    bool
		agent      func(a *Agent)
		priorCalls int
		at         time.Time
		want       string
	}{
		{name: "passes", configured: true, at: morning},
		{name: "telephony off", configured: false, at: morning, want: ReasonTelephonyNotConfigured},
		{name: "unknown contact", configured: true, missing: true, at: morning, want: ReasonContactNotFound},
		{name: "no phone", configured: true, contact: func(c *contacts.Contact) { c.Phone = "" }, at: morning, want: ReasonNoPhoneNumber},
		{name: "undialable phone", configured: true, contact: func(c *contacts.Contact) { c.Phone = "12" }, at: morning, want: ReasonInvalidPhoneNumber},
		{name: "garbage phone", configured: true, contact: func(c *contacts.Contact) { c.Phone = "call me maybe" }, at: morning, want: ReasonInvalidPhoneNumber},
		{name: "do not call", configured: true, contact: func(c *contacts.Contact) { c.DoNotCall = true }, at: morning, want: ReasonDoNotCall},
		{name: "do not call wins over hours", configured: true, contact: func(c *contacts.Contact) { c.DoNotCall = true }, at: evening, want: ReasonDoNotCall},
		{name: "after hours", configured: true, at: evening, want: ReasonOutsideCallingHours},
		{name: "attempt cap", configured: true, priorCalls: 3, at: morning, want: ReasonMaxDailyAttempts},
		{name: "under cap", configured: true, priorCalls: 2, at: morning},
		{name: "inactive agent", configured: true, agent: func(a *Agent) { a.Active = false }, at: morning, want: ReasonAgentUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := contacts.NewMemoryRepository(nil)
			calls := NewMemoryStore(func() time.Time { return tt.at.Add(-time.Hour) })

			agent := testAgent()
			if tt.agent != nil {
				tt.agent(&agent)
			}
			calls.PutAgent(agent)

			c := contacts.Contact{AccountID: acct, FirstName: "Ada", Phone: "+31612345678"}
			if tt.contact != nil {
				tt.contact(&c)
			}
			c = repo.Put(c)
			contactID := c.ID
			if tt.missing {
				contactID = uuid.New()
			}
			for i := 0; i < tt.priorCalls; i++ {
				if _, err := calls.CreateCall(ctx, CallRecord{AccountID: acct, ContactID: c.ID, Status: StatusCompleted}); err != nil {
					t.Fatalf("seed call: %v", err)
				}
			}

			gate := Gate{
				Telephony: &fakeTelephony{configured: tt.configured},
				Contacts:  repo,
				Calls:     calls,
				Config:    GateConfig{Window: Window{StartHour: 9, EndHour: 18, Location: time.UTC}},
			}
			res, err := gate.Check(ctx, acct, contactID, agent.ID, tt.at)
			if err != nil {
				t.Fatalf("check: %v", err)
			}
			if res.Reason != tt.want || res.Pass != (tt.want == "") {
				t.Fatalf("expected reason %q, got %+v", tt.want, res)
			}
			if res.Pass && (res.Contact.ID != c.ID || res.Agent.ID != agent.ID) {
				t.Fatalf("expected the contact and agent on a pass")
			}
		})
	}
}

func TestGateUnknownAgent(t *testing.T) {
	repo := contacts.NewMemoryRepository(nil)
	c := repo.Put(contacts.Contact{AccountID: acct, Phone: "+31612345678"})
	gate := Gate{Telephony: &fakeTelephony{configured: true}, Contacts: repo, Calls: NewMemoryStore(nil)}

	res, err := gate.Check(context.Background(), acct, c.ID, "missing", time.Now())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.Reason != ReasonAgentUnavailable {
		t.Fatalf("expected %s, got %s", ReasonAgentUnavailable, res.Reason)
	}
}
