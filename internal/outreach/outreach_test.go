package outreach

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"salespipeline_backend/internal/contacts"
	"salespipeline_backend/internal/email"
	"salespipeline_backend/internal/events"
	"salespipeline_backend/internal/llm"
	"salespipeline_backend/internal/workflow/workflowtest"

	"github.com/google/uuid"
)

const acct = "acct-1"

type sentEmail struct {
	to      string
	subject string
	html    string
}

type recordingEmail struct {
	mu   sync.Mutex
	sent []sentEmail
}

func (r *recordingEmail) Send(_ context.Context, msg email.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentEmail{to: msg.To, subject: msg.Subject, html: msg.HTML})
	return nil
}

func (r *recordingEmail) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

type fakeText struct {
	configured bool
	messages   []string
}

func (f *fakeText) Configured() bool { return f.configured }

func (f *fakeText) SendMessage(_ context.Context, phone, message string) error {
	f.messages = append(f.messages, phone+": "+message)
	return nil
}

type fakeCompleter struct {
	text string
	err  error
}

func (f *fakeCompleter) Available() bool { return true }

func (f *fakeCompleter) Complete(context.Context, llm.Request) (llm.Response, error) {
	if f.err != nil {
		return llm.Response{}, f.err
	}
	return llm.Response{Text: f.text}, nil
}

type fixture struct {
	repo  *contacts.MemoryRepository
	store *MemoryStore
	mail  *recordingEmail
	svc   *Service
}

func newFixture(channels Channels) *fixture {
	f := &fixture{
		repo:  contacts.NewMemoryRepository(nil),
		store: NewMemoryStore(),
		mail:  &recordingEmail{},
	}
	if channels.Email == nil {
		channels.Email = f.mail
	}
	f.svc = NewService(Options{
		Contacts:    f.repo,
		Enrollments: f.store,
		Limiter:     f.store,
		Channels:    channels,
	})
	return f
}

func enrollEvent(c contacts.Contact, template string) events.OutreachEnroll {
	return events.OutreachEnroll{AccountRef: events.AccountRef{AccountID: acct}, ContactID: c.ID, SequenceTemplate: template}
}

func skipReasons(repo *contacts.MemoryRepository) []string {
	var out []string
	for _, a := range repo.ActivitiesOfType(contacts.ActivityOutreachSkipped) {
		out = append(out, a.Details["reason"].(string))
	}
	return out
}

func TestResolveChannel(t *testing.T) {
	whatsapp := Step{Channel: ChannelWhatsApp, FallbackChannel: ChannelSMS}
	tests := []struct {
		name     string
		step     Step
		hasEmail bool
		hasPhone bool
		want     string
		ok       bool
	}{
		{"email reachable", Step{Channel: ChannelEmail}, true, false, ChannelEmail, true},
		{"email missing", Step{Channel: ChannelEmail}, false, true, ChannelEmail, false},
		{"phone reachable", whatsapp, false, true, ChannelWhatsApp, true},
		{"no phone no fallback target", whatsapp, true, false, ChannelWhatsApp, false},
		{"fallback to email", Step{Channel: ChannelSMS, FallbackChannel: ChannelEmail}, true, false, ChannelEmail, true},
		{"linkedin needs nothing", Step{Channel: ChannelLinkedIn}, false, false, ChannelLinkedIn, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ResolveChannel(tt.step, tt.hasEmail, tt.hasPhone)
			if got != tt.want || ok != tt.ok {
				t.Fatalf("expected (%s, %v), got (%s, %v)", tt.want, tt.ok, got, ok)
			}
		})
	}
}

func TestTemplateForScore(t *testing.T) {
	tests := map[int]string{
		95: TemplateAggressive,
		70: TemplateAggressive,
		69: TemplateStandardB2B,
		40: TemplateStandardB2B,
		39: TemplateNurture,
		0:  TemplateNurture,
	}
	for score, want := range tests {
		if got := TemplateForScore(score); got != want {
			t.Fatalf("score %d: expected %s, got %s", score, want, got)
		}
	}
}

func TestPresetsHaveIncreasingOffsets(t *testing.T) {
	for name, p := range Presets {
		if len(p.Steps) == 0 {
			t.Fatalf("%s has no steps", name)
		}
		for i := 1; i < len(p.Steps); i++ {
			if p.Steps[i].DayOffset <= p.Steps[i-1].DayOffset {
				t.Fatalf("%s step %d is not after step %d", name, i, i-1)
			}
		}
	}
}

func TestMemoryStoreEnrollIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	contactID := uuid.New()

	first, created, err := store.Enroll(ctx, acct, contactID, TemplateNurture, Presets[TemplateNurture], workflowtest.Start)
	if err != nil || !created {
		t.Fatalf("expected a new enrollment, got created=%v err=%v", created, err)
	}
	second, created, err := store.Enroll(ctx, acct, contactID, TemplateNurture, Presets[TemplateNurture], workflowtest.Start)
	if err != nil || created {
		t.Fatalf("expected the existing enrollment, got created=%v err=%v", created, err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected the same enrollment id")
	}

	if ok, _ := store.Advance(ctx, first.ID, 1, 2); ok {
		t.Fatalf("advance from the wrong step must not apply")
	}
	if ok, _ := store.Advance(ctx, first.ID, 0, 1); !ok {
		t.Fatalf("expected advance from step 0")
	}
	if ok, _ := store.Pause(ctx, "other", first.ID, "manual", workflowtest.Start); ok {
		t.Fatalf("pause from another account must not apply")
	}
}

func TestComposerFallsBackToTemplate(t *testing.T) {
	c := contacts.Contact{FirstName: "Ada", Company: "Acme"}
	step := Presets[TemplateStandardB2B].Steps[0]

	msg, err := NewComposer(&fakeCompleter{err: errors.New("timeout")}, nil).Compose(context.Background(), c, step, ChannelEmail)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if msg.Generated {
		t.Fatalf("expected the fallback template")
	}
	if !strings.HasPrefix(msg.Body, "Hi Ada,") || !strings.Contains(msg.Subject, "Acme") {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestComposerSplitsGeneratedSubject(t *testing.T) {
	fc := &fakeCompleter{text: "Subject: Faster follow-up at Acme\n\nHi Ada,\nshort note."}
	msg, err := NewComposer(fc, nil).Compose(context.Background(), contacts.Contact{FirstName: "Ada"}, Step{Template: "intro"}, ChannelEmail)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if !msg.Generated || msg.Subject != "Faster follow-up at Acme" || msg.Body != "Hi Ada,\nshort note." {
		t.Fatalf("unexpected message %+v", msg)
	}

	fc.text = "Hi Ada, no subject here"
	msg, _ = NewComposer(fc, nil).Compose(context.Background(), contacts.Contact{FirstName: "Ada"}, Step{Template: "intro"}, ChannelEmail)
	if msg.Generated {
		t.Fatalf("a draft without subject must fall back to the template")
	}
}

func TestStandardSequenceRunsToCompletion(t *testing.T) {
	f := newFixture(Channels{})
	c := f.repo.Put(contacts.Contact{AccountID: acct, FirstName: "Ada", Company: "Acme", Email: "ada@acme.test", Phone: "+12015550123", Stage: contacts.StageLead})
	h := workflowtest.New(t, f.svc.Functions()...)
	day := 24 * time.Hour

	h.Publish(t, enrollEvent(c, TemplateStandardB2B))
	if f.mail.count() != 1 {
		t.Fatalf("expected the intro email on day 0, got %d", f.mail.count())
	}
	got, _ := f.repo.Get(context.Background(), acct, c.ID)
	if got.Stage != contacts.StageContacted || got.LastContactedAt == nil {
		t.Fatalf("expected contacted stage after the first send, got %s", got.Stage)
	}

	h.Advance(t, 2*day)
	h.Advance(t, 3*day)
	if f.mail.count() != 2 {
		t.Fatalf("expected the follow-up email on day 5, got %d", f.mail.count())
	}
	h.Advance(t, 2*day)
	h.Advance(t, 3*day)
	h.Advance(t, 4*day)
	if calls := workflowtest.Decode[events.CallInitiated](t, h); len(calls) != 1 || calls[0].AgentID != "default" {
		t.Fatalf("expected one call.initiated on day 14, got %+v", calls)
	}
	h.Advance(t, 7*day)
	if f.mail.count() != 4 {
		t.Fatalf("expected four emails, got %d", f.mail.count())
	}

	reasons := skipReasons(f.repo)
	if len(reasons) != 2 || reasons[0] != SkipChannelUnavailable || reasons[1] != SkipChannelUnavailable {
		t.Fatalf("expected linkedin and whatsapp to be skipped, got %v", reasons)
	}

	enrollments := f.store.ForContact(c.ID)
	if len(enrollments) != 1 || enrollments[0].Status != StatusCompleted || enrollments[0].CurrentStep != 7 {
		t.Fatalf("unexpected enrollment state %+v", enrollments)
	}
	done := workflowtest.Decode[events.OutreachSequenceCompleted](t, h)
	if len(done) != 1 || done[0].Outcome != OutcomeCompleted {
		t.Fatalf("expected one completed sequence, got %+v", done)
	}
	got, _ = f.repo.Get(context.Background(), acct, c.ID)
	if got.Field("outreach_outcome") != "no_response" {
		t.Fatalf("expected outreach_outcome no_response, got %+v", got.ExtensionFields)
	}
}

func TestWhatsAppStepSendsWhenConfigured(t *testing.T) {
	wa := &fakeText{configured: true}
	f := newFixture(Channels{WhatsApp: wa})
	c := f.repo.Put(contacts.Contact{AccountID: acct, FirstName: "Ada", Email: "ada@acme.test", Phone: "+12015550123"})
	h := workflowtest.New(t, f.svc.Functions()...)

	h.Publish(t, enrollEvent(c, TemplateReEngagement))
	h.Advance(t, 5*24*time.Hour)
	h.Advance(t, 5*24*time.Hour)
	h.Advance(t, 5*24*time.Hour)

	if len(wa.messages) != 1 || !strings.HasPrefix(wa.messages[0], "+12015550123: Hi Ada") {
		t.Fatalf("expected one whatsapp message, got %v", wa.messages)
	}
	if n := f.store.Sent(acct, ChannelWhatsApp, h.Now()); n != 1 {
		t.Fatalf("expected whatsapp usage recorded, got %d", n)
	}
}

func TestStepPausesEnrollmentOnDoNotEmail(t *testing.T) {
	f := newFixture(Channels{})
	c := f.repo.Put(contacts.Contact{AccountID: acct, Email: "ada@acme.test", DoNotEmail: true})
	h := workflowtest.New(t, f.svc.Functions()...)

	h.Publish(t, enrollEvent(c, TemplateNurture))

	if f.mail.count() != 0 {
		t.Fatalf("expected no email to an opted-out contact")
	}
	enrollments := f.store.ForContact(c.ID)
	if len(enrollments) != 1 || enrollments[0].Status != StatusPaused || enrollments[0].PauseReason != SkipDoNotEmail {
		t.Fatalf("expected a paused enrollment, got %+v", enrollments)
	}
	if reasons := skipReasons(f.repo); len(reasons) != 1 || reasons[0] != SkipDoNotEmail {
		t.Fatalf("unexpected skip reasons %v", reasons)
	}
	if due := workflowtest.Decode[events.OutreachStepDue](t, h); len(due) != 1 {
		t.Fatalf("expected no further steps, got %d step events", len(due))
	}
}

func TestStepWaitsForDailyLimitReset(t *testing.T) {
	f := newFixture(Channels{})
	f.store.SetDailyLimit(acct, ChannelEmail, 0)
	c := f.repo.Put(contacts.Contact{AccountID: acct, Email: "ada@acme.test"})
	h := workflowtest.New(t, f.svc.Functions()...)

	h.Publish(t, enrollEvent(c, TemplateNurture))
	if f.mail.count() != 0 {
		t.Fatalf("expected the capped step to wait")
	}

	f.store.SetDailyLimit(acct, ChannelEmail, 50)
	h.Advance(t, 15*time.Hour)
	if f.mail.count() != 1 {
		t.Fatalf("expected the step to send after midnight, got %d", f.mail.count())
	}
	if n := f.store.Sent(acct, ChannelEmail, h.Now()); n != 1 {
		t.Fatalf("expected usage on the new day, got %d", n)
	}
}

func TestStepSkippedAfterRepeatedDailyLimit(t *testing.T) {
	f := newFixture(Channels{})
	f.store.SetDailyLimit(acct, ChannelEmail, 0)
	c := f.repo.Put(contacts.Contact{AccountID: acct, Email: "ada@acme.test"})
	h := workflowtest.New(t, f.svc.Functions()...)

	h.Publish(t, enrollEvent(c, TemplateNurture))
	h.Advance(t, 15*time.Hour)
	for range maxLimitDeferrals {
		h.Advance(t, 24*time.Hour)
	}

	if reasons := skipReasons(f.repo); len(reasons) != 1 || reasons[0] != SkipDailyLimit {
		t.Fatalf("expected a daily_limit_reached skip, got %v", reasons)
	}
	if e := f.store.ForContact(c.ID)[0]; e.CurrentStep != 1 || !e.Active() {
		t.Fatalf("expected the sequence to move on, got %+v", e)
	}
}

func TestCancelStopsPendingSteps(t *testing.T) {
	f := newFixture(Channels{})
	c := f.repo.Put(contacts.Contact{AccountID: acct, Email: "ada@acme.test"})
	h := workflowtest.New(t, f.svc.Functions()...)

	h.Publish(t, enrollEvent(c, TemplateNurture))
	e := f.store.ForContact(c.ID)[0]
	cancelled, err := f.svc.Cancel(context.Background(), acct, e.ID, h.Now())
	if err != nil || cancelled.Status != StatusPaused {
		t.Fatalf("cancel: %+v %v", cancelled, err)
	}

	h.Advance(t, 8*24*time.Hour)
	if f.mail.count() != 1 {
		t.Fatalf("expected no sends after cancel, got %d", f.mail.count())
	}
	p, err := f.svc.Progress(context.Background(), acct, e.ID)
	if err != nil || p.CompletedSteps != 1 || p.NextDueAt != nil {
		t.Fatalf("unexpected progress %+v %v", p, err)
	}
}

func TestReplyPausesActiveSequence(t *testing.T) {
	f := newFixture(Channels{})
	c := f.repo.Put(contacts.Contact{AccountID: acct, FirstName: "Ada", Email: "ada@acme.test", Phone: "+12015550123", Stage: contacts.StageLead})
	h := workflowtest.New(t, f.svc.Functions()...)

	h.Publish(t, enrollEvent(c, TemplateStandardB2B))
	h.Advance(t, 24*time.Hour)
	h.Publish(t, events.OutreachReplyReceived{AccountRef: events.AccountRef{AccountID: acct}, ContactID: c.ID, Channel: ChannelEmail, Sentiment: SentimentPositive})
	h.Advance(t, 30*24*time.Hour)

	if f.mail.count() != 1 {
		t.Fatalf("expected no sends after the reply, got %d", f.mail.count())
	}
	if calls := workflowtest.Decode[events.CallInitiated](t, h); len(calls) != 0 {
		t.Fatalf("expected no calls after the reply, got %+v", calls)
	}
	enrollments := f.store.ForContact(c.ID)
	if len(enrollments) != 1 || enrollments[0].Status != StatusPaused || enrollments[0].PauseReason != "positive reply via email" {
		t.Fatalf("expected the enrollment paused by the reply, got %+v", enrollments)
	}
	done := workflowtest.Decode[events.OutreachSequenceCompleted](t, h)
	if len(done) != 1 || done[0].Outcome != OutcomeReplied || done[0].EnrollmentID != enrollments[0].ID {
		t.Fatalf("expected one replied sequence, got %+v", done)
	}
	got, _ := f.repo.Get(context.Background(), acct, c.ID)
	if got.Field("outreach_outcome") == "no_response" {
		t.Fatalf("a replied sequence must not be recorded as no_response")
	}
}

func TestUnlabelledReplyIsClassified(t *testing.T) {
	tests := []struct {
		name      string
		completer *fakeCompleter
		body      string
		wantStage contacts.Stage
		want      string
	}{
		{"model label", &fakeCompleter{text: "Positive."}, "Can we talk on Friday?", contacts.StageQualified, SentimentPositive},
		{"model failure falls back to keywords", &fakeCompleter{err: errors.New("quota")}, "Please unsubscribe me, not interested", contacts.StageContacted, SentimentNegative},
		{"unknown label falls back to keywords", &fakeCompleter{text: "maybe"}, "Send me a demo", contacts.StageQualified, SentimentPositive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(Channels{})
			f.svc.classifier = NewReplyClassifier(tt.completer, nil)
			c := f.repo.Put(contacts.Contact{AccountID: acct, Stage: contacts.StageContacted})
			h := workflowtest.New(t, f.svc.Functions()...)
			h.Publish(t, events.OutreachReplyReceived{AccountRef: events.AccountRef{AccountID: acct}, ContactID: c.ID, Channel: ChannelEmail, Body: tt.body})

			got, _ := f.repo.Get(context.Background(), acct, c.ID)
			if got.Stage != tt.wantStage || got.Field("reply_sentiment") != tt.want {
				t.Fatalf("expected %s/%s, got %s/%v", tt.wantStage, tt.want, got.Stage, got.Field("reply_sentiment"))
			}
		})
	}
}

func TestKeywordSentiment(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{"I'm not interested in this", SentimentNegative},
		{"Interested! Tell me more", SentimentPositive},
		{"Out of office until Monday", SentimentNeutral},
		{"", SentimentNeutral},
	}
	for _, tt := range tests {
		if got := NewReplyClassifier(nil, nil).Classify(context.Background(), tt.body); got != tt.want {
			t.Fatalf("%q: expected %s, got %s", tt.body, tt.want, got)
		}
	}
}

func TestPositiveReplyEscalatesHotLead(t *testing.T) {
	f := newFixture(Channels{})
	c := f.repo.Put(contacts.Contact{AccountID: acct, Score: 75, Stage: contacts.StageContacted})
	h := workflowtest.New(t, f.svc.Functions()...)

	h.Publish(t, events.OutreachReplyReceived{AccountRef: events.AccountRef{AccountID: acct}, ContactID: c.ID, Channel: ChannelEmail, Sentiment: SentimentPositive})

	got, _ := f.repo.Get(context.Background(), acct, c.ID)
	if got.Stage != contacts.StageQualified || got.Field("reply_sentiment") != SentimentPositive {
		t.Fatalf("unexpected contact %+v", got)
	}
	if n := len(f.repo.ActivitiesOfType(contacts.ActivityHotLeadIdentified)); n != 1 {
		t.Fatalf("expected hot_lead_identified, got %d", n)
	}
	esc := workflowtest.Decode[events.LeadEscalation](t, h)
	if len(esc) != 1 || esc[0].Reason != "positive_reply" {
		t.Fatalf("expected a positive_reply escalation, got %+v", esc)
	}
}

func TestReplySentiments(t *testing.T) {
	tests := []struct {
		name       string
		score      int
		sentiment  string
		wantStage  contacts.Stage
		escalation bool
	}{
		{"positive cold lead", 30, SentimentPositive, contacts.StageQualified, false},
		{"neutral", 90, SentimentNeutral, contacts.StageContacted, false},
		{"negative", 90, SentimentNegative, contacts.StageContacted, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(Channels{})
			c := f.repo.Put(contacts.Contact{AccountID: acct, Score: tt.score, Stage: contacts.StageContacted})
			h := workflowtest.New(t, f.svc.Functions()...)
			h.Publish(t, events.OutreachReplyReceived{AccountRef: events.AccountRef{AccountID: acct}, ContactID: c.ID, Channel: ChannelSMS, Sentiment: tt.sentiment})

			got, _ := f.repo.Get(context.Background(), acct, c.ID)
			if got.Stage != tt.wantStage {
				t.Fatalf("expected stage %s, got %s", tt.wantStage, got.Stage)
			}
			if tt.sentiment == SentimentNegative && got.Field("disqualified_reason") != "negative_reply" {
				t.Fatalf("expected disqualified_reason, got %+v", got.ExtensionFields)
			}
			if n := len(workflowtest.Decode[events.LeadEscalation](t, h)); (n == 1) != tt.escalation {
				t.Fatalf("unexpected escalation count %d", n)
			}
			if n := len(f.repo.ActivitiesOfType(contacts.ActivityOutreachReply)); n != 1 {
				t.Fatalf("expected an outreach_reply activity, got %d", n)
			}
		})
	}
}

func TestAutoEnrollOnRouting(t *testing.T) {
	tests := []struct {
		name     string
		mode     string
		score    int
		template string
	}{
		{"hot lead", contacts.ModeAutonomous, 82, TemplateAggressive},
		{"warm lead", contacts.ModeSelfService, 55, TemplateStandardB2B},
		{"human owned", contacts.ModeHybrid, 82, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(Channels{})
			c := f.repo.Put(contacts.Contact{AccountID: acct, Email: "ada@acme.test", Score: tt.score})
			h := workflowtest.New(t, f.svc.Functions()...)
			h.Publish(t, events.LeadRouted{AccountRef: events.AccountRef{AccountID: acct}, ContactID: c.ID, Mode: tt.mode, Score: tt.score})

			enrolls := workflowtest.Decode[events.OutreachEnroll](t, h)
			if tt.template == "" {
				if len(enrolls) != 0 || len(f.store.ForContact(c.ID)) != 0 {
					t.Fatalf("expected no enrollment for mode %s", tt.mode)
				}
				return
			}
			if len(enrolls) != 1 || enrolls[0].SequenceTemplate != tt.template {
				t.Fatalf("expected %s enrollment, got %+v", tt.template, enrolls)
			}
			if e := f.store.ForContact(c.ID); len(e) != 1 || e[0].Template != tt.template {
				t.Fatalf("expected an active %s enrollment, got %+v", tt.template, e)
			}
		})
	}
}

func TestEnrollUnknownTemplateIsSkipped(t *testing.T) {
	f := newFixture(Channels{})
	c := f.repo.Put(contacts.Contact{AccountID: acct, Email: "ada@acme.test"})
	h := workflowtest.New(t, f.svc.Functions()...)

	h.Publish(t, enrollEvent(c, "cold_blast"))

	if len(f.store.ForContact(c.ID)) != 0 || f.mail.count() != 0 {
		t.Fatalf("expected nothing to happen for an unknown template")
	}
	if runs := h.Runs(t, EnrollFunctionID); len(runs) != 1 {
		t.Fatalf("expected one enroll run, got %d", len(runs))
	}
}
