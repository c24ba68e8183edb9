package followups

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"salespipeline_backend/internal/contacts"
	"salespipeline_backend/internal/events"
	"salespipeline_backend/internal/outreach"
	"salespipeline_backend/internal/workflow/workflowtest"

	"github.com/google/uuid"
)

const acct = "acct-1"

type sent struct {
	channel string
	to      string
	msg     outreach.Message
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (f *fakeSender) Send(_ context.Context, channel string, c contacts.Contact, msg outreach.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	to := c.Email
	if channel != outreach.ChannelEmail {
		to = c.Phone
	}
	f.sent = append(f.sent, sent{channel: channel, to: to, msg: msg})
	return nil
}

func trigger(outcome string) events.FollowUpTrigger {
	return events.FollowUpTrigger{
		BaseEvent:    events.NewBaseEvent(),
		AccountRef:   events.AccountRef{AccountID: acct},
		ContactID:    uuid.New(),
		CallID:       uuid.New(),
		Outcome:      outcome,
		ContactName:  "Ada",
		ContactEmail: "ada@acme.test",
		ContactPhone: "+31612345678",
		CallSummary:  "Discussed the pilot.",
		NextSteps:    "Send the proposal.",
		AgentName:    "Sam",
	}
}

func TestInterpolate(t *testing.T) {
	got := Interpolate("Hi {{contact_name}}, {{agent_name}} here. {{next_steps}} {{unknown}}", Vars{ContactName: "Ada", AgentName: "Sam", NextSteps: "Talk soon."})
	if got != "Hi Ada, Sam here. Talk soon. {{unknown}}" {
		t.Fatalf("unexpected text %q", got)
	}
}

func TestPlan(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	seq := Sequence{ID: uuid.New(), AccountID: acct, Trigger: TriggerAnyCompleted, Active: true, Steps: []Step{
		{Channel: outreach.ChannelEmail, Subject: "Thanks {{contact_name}}", Template: "Summary: {{call_summary}}"},
		{Channel: outreach.ChannelSMS, DelayMinutes: 60, Template: "Hi {{contact_name}}"},
	}}

	evt := trigger("interested")
	msgs := Plan(evt, []Sequence{seq}, now, "evt-1")
	if len(msgs) != 2 {
		t.Fatalf("expected two messages, got %d", len(msgs))
	}
	if msgs[0].Recipient != evt.ContactEmail || msgs[0].Subject != "Thanks Ada" || msgs[0].Body != "Summary: Discussed the pilot." || !msgs[0].SendAt.Equal(now) {
		t.Fatalf("unexpected email message %+v", msgs[0])
	}
	if msgs[1].Recipient != evt.ContactPhone || !msgs[1].SendAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("unexpected sms message %+v", msgs[1])
	}
	if again := Plan(evt, []Sequence{seq}, now, "evt-1"); again[0].ID != msgs[0].ID || again[0].DedupeKey != msgs[0].DedupeKey {
		t.Fatalf("expected stable ids for the same trigger")
	}

	evt.ContactEmail = ""
	if msgs := Plan(evt, []Sequence{seq}, now, "evt-2"); len(msgs) != 1 || msgs[0].Channel != outreach.ChannelSMS {
		t.Fatalf("expected the email step dropped without an address, got %+v", msgs)
	}
}

type fixture struct {
	h        *workflowtest.Harness
	store    *MemoryStore
	sender   *fakeSender
	activity *contacts.MemoryRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: NewMemoryStore(), sender: &fakeSender{}}
	f.activity = contacts.NewMemoryRepository(func() time.Time { return f.h.Now() })
	svc := NewService(Options{Store: f.store, Sender: f.sender, Activity: f.activity})
	f.h = workflowtest.New(t, svc.Functions()...)
	return f
}

func TestTriggerSchedulesAndCronSends(t *testing.T) {
	f := newFixture(t)
	f.store.PutSequence(Sequence{AccountID: acct, Trigger: "interested", Active: true, Steps: []Step{
		{Channel: outreach.ChannelEmail, Subject: "Next steps", Template: "Hi {{contact_name}}, {{next_steps}}"},
		{Channel: outreach.ChannelWhatsApp, DelayMinutes: 120, Template: "Hi {{contact_name}}, any questions?"},
	}})
	f.store.PutSequence(Sequence{AccountID: acct, Trigger: "voicemail", Active: true, Steps: []Step{{Channel: outreach.ChannelSMS, Template: "Sorry we missed you"}}})
	f.store.PutSequence(Sequence{AccountID: acct, Trigger: TriggerAnyCompleted, Active: false, Steps: []Step{{Channel: outreach.ChannelSMS, Template: "inactive"}}})

	evt := trigger("interested")
	f.h.Publish(t, evt)

	msgs := f.store.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected two scheduled messages, got %d", len(msgs))
	}
	if len(f.sender.sent) != 0 {
		t.Fatalf("expected nothing sent before the sweep")
	}

	f.h.Tick(t, ProcessDueFunctionID)
	if len(f.sender.sent) != 1 || f.sender.sent[0].to != "ada@acme.test" || f.sender.sent[0].msg.Body != "Hi Ada, Send the proposal." {
		t.Fatalf("expected the email sent, got %+v", f.sender.sent)
	}
	if got := f.activity.ActivitiesOfType(contacts.ActivityFollowUpSent); len(got) != 1 || *got[0].ContactID != evt.ContactID {
		t.Fatalf("expected a followup_sent activity, got %+v", got)
	}

	f.h.Clock.Advance(2 * time.Hour)
	f.h.Tick(t, ProcessDueFunctionID)
	if len(f.sender.sent) != 2 || f.sender.sent[1].channel != outreach.ChannelWhatsApp || f.sender.sent[1].to != evt.ContactPhone {
		t.Fatalf("expected the delayed whatsapp sent, got %+v", f.sender.sent)
	}
	for _, m := range f.store.Messages() {
		if m.Status != StatusSent || m.SentAt == nil {
			t.Fatalf("expected all messages sent, got %+v", m)
		}
	}

	f.h.Clock.Advance(5 * time.Minute)
	f.h.Tick(t, ProcessDueFunctionID)
	if len(f.sender.sent) != 2 {
		t.Fatalf("expected no resends, got %d", len(f.sender.sent))
	}
}

func TestTriggerWithoutSequences(t *testing.T) {
	f := newFixture(t)
	f.h.Publish(t, trigger("not_interested"))
	if len(f.store.Messages()) != 0 {
		t.Fatalf("expected no messages")
	}
}

func TestSendSkipsClaimedMessage(t *testing.T) {
	f := newFixture(t)
	msg := Message{ID: uuid.New(), DedupeKey: "k", AccountID: acct, Channel: outreach.ChannelSMS, Status: StatusPending, Recipient: "+31612345678", Body: "hi", SendAt: f.h.Now()}
	if _, err := f.store.CreateMessage(context.Background(), msg); err != nil {
		t.Fatalf("create: %v", err)
	}

	send := func() {
		f.h.Publish(t, events.FollowUpSend{BaseEvent: events.NewBaseEvent(), AccountRef: events.AccountRef{AccountID: acct}, MessageID: msg.ID})
	}
	send()
	send()

	if len(f.sender.sent) != 1 {
		t.Fatalf("expected a single delivery, got %d", len(f.sender.sent))
	}
}

func TestSendMarksFailedAfterRetries(t *testing.T) {
	f := newFixture(t)
	f.sender.err = errors.New("provider down")
	msg := Message{ID: uuid.New(), DedupeKey: "k", AccountID: acct, Channel: outreach.ChannelEmail, Status: StatusPending, Recipient: "ada@acme.test", Body: "hi", SendAt: f.h.Now()}
	if _, err := f.store.CreateMessage(context.Background(), msg); err != nil {
		t.Fatalf("create: %v", err)
	}

	f.h.Publish(t, events.FollowUpSend{BaseEvent: events.NewBaseEvent(), AccountRef: events.AccountRef{AccountID: acct}, MessageID: msg.ID})
	got, _ := f.store.GetMessage(context.Background(), msg.ID)
	if got.Status != StatusSending {
		t.Fatalf("expected the message in flight while retrying, got %s", got.Status)
	}

	f.h.Advance(t, time.Minute)
	f.h.Advance(t, time.Minute)

	got, _ = f.store.GetMessage(context.Background(), msg.ID)
	if got.Status != StatusFailed || got.LastError != "provider down" {
		t.Fatalf("expected the message failed, got %+v", got)
	}
	if len(f.activity.ActivitiesOfType(contacts.ActivityFollowUpSent)) != 0 {
		t.Fatalf("expected no followup_sent activity")
	}
}

func TestCancelMessage(t *testing.T) {
	store := NewMemoryStore()
	msg := Message{ID: uuid.New(), DedupeKey: "k", AccountID: acct, Status: StatusPending}
	if _, err := store.CreateMessage(context.Background(), msg); err != nil {
		t.Fatalf("create: %v", err)
	}
	if ok, _ := store.CancelMessage(context.Background(), "other", msg.ID); ok {
		t.Fatalf("expected another account unable to cancel")
	}
	if ok, _ := store.CancelMessage(context.Background(), acct, msg.ID); !ok {
		t.Fatalf("expected the cancel to apply")
	}
	due, _ := store.ListDue(context.Background(), time.Now().Add(time.Hour), 10)
	if len(due) != 0 {
		t.Fatalf("expected cancelled messages excluded from the sweep")
	}
}
