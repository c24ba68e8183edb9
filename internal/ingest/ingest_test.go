package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"salespipeline_backend/internal/calling"
	"salespipeline_backend/internal/contacts"
	"salespipeline_backend/internal/events"
	apphttp "salespipeline_backend/internal/http"
	"salespipeline_backend/internal/http/router"
	"salespipeline_backend/internal/outreach"
	"salespipeline_backend/internal/telephony"
	"salespipeline_backend/internal/workflow"
	platformevents "salespipeline_backend/platform/events"
	"salespipeline_backend/platform/httpkit"
	"salespipeline_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	acct       = "acct-1"
	authToken  = "twilio-secret"
	publicBase = "https://hooks.example.com"
)

type routerConfig struct{}

func (routerConfig) GetHTTPAddr() string      { return ":0" }
func (routerConfig) GetCORSAllowAll() bool    { return true }
func (routerConfig) GetCORSOrigins() []string { return nil }
func (routerConfig) GetCORSAllowCreds() bool  { return false }
func (routerConfig) GetJWTSecret() string     { return "" }
func (routerConfig) IsAuthEnabled() bool      { return false }

type recordingPublisher struct {
	mu     sync.Mutex
	events []platformevents.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, evts ...platformevents.Event) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	ids := make([]string, 0, len(evts))
	for range evts {
		ids = append(ids, platformevents.NewID())
	}
	p.events = append(p.events, evts...)
	return ids, nil
}

func (p *recordingPublisher) only(t *testing.T) platformevents.Event {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) != 1 {
		t.Fatalf("expected one event, got %d", len(p.events))
	}
	return p.events[0]
}

type fakeEnrollments struct {
	cancelled []uuid.UUID
}

func (f *fakeEnrollments) Cancel(_ context.Context, _ string, id uuid.UUID, now time.Time) (outreach.Enrollment, error) {
	if id == uuid.Nil {
		return outreach.Enrollment{}, outreach.ErrNotFound
	}
	f.cancelled = append(f.cancelled, id)
	return outreach.Enrollment{ID: id, Status: outreach.StatusPaused}, nil
}

func (f *fakeEnrollments) Progress(_ context.Context, _ string, id uuid.UUID) (outreach.Progress, error) {
	return outreach.Progress{}, outreach.ErrNotFound
}

type fakeRuns struct {
	runs     map[uuid.UUID]workflow.RunRecord
	filter   workflow.RunFilter
	replayed []uuid.UUID
}

func (f *fakeRuns) ListRuns(_ context.Context, filter workflow.RunFilter) ([]workflow.RunRecord, error) {
	f.filter = filter
	var out []workflow.RunRecord
	for _, r := range f.runs {
		if r.AccountID == filter.AccountID && r.Status == filter.Status {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRuns) GetRun(_ context.Context, id uuid.UUID) (workflow.RunRecord, error) {
	r, ok := f.runs[id]
	if !ok {
		return workflow.RunRecord{}, workflow.ErrRunNotFound
	}
	return r, nil
}

func (f *fakeRuns) Replay(_ context.Context, id uuid.UUID) error {
	f.replayed = append(f.replayed, id)
	return nil
}

func (f *fakeRuns) Cancel(context.Context, uuid.UUID) error { return nil }

type fakeWebhooks struct {
	statuses []calling.StatusUpdate
	speech   []string
}

func (f *fakeWebhooks) HandleStatus(_ context.Context, u calling.StatusUpdate) error {
	if u.ProviderCallID == "CA-unknown" {
		return calling.ErrCallNotFound
	}
	f.statuses = append(f.statuses, u)
	return nil
}

func (f *fakeWebhooks) HandleRecording(context.Context, uuid.UUID, string) error { return nil }

func (f *fakeWebhooks) HandleAMD(context.Context, uuid.UUID, string) error { return nil }

func (f *fakeWebhooks) Voice(_ context.Context, _ uuid.UUID, speech string) ([]byte, error) {
	f.speech = append(f.speech, speech)
	return telephony.RenderTurn(telephony.Turn{Text: "Hello there", Hangup: true})
}

type tokenValidator struct{}

func (tokenValidator) ValidateSignature(fullURL string, params url.Values, signature string) bool {
	return signature != "" && telephony.Sign(authToken, fullURL, params) == signature
}

type fixture struct {
	engine      *gin.Engine
	publisher   *recordingPublisher
	contacts    *contacts.MemoryRepository
	enrollments *fakeEnrollments
	runs        *fakeRuns
	webhooks    *fakeWebhooks
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := &fixture{
		publisher:   &recordingPublisher{},
		contacts:    contacts.NewMemoryRepository(func() time.Time { return time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC) }),
		enrollments: &fakeEnrollments{},
		runs:        &fakeRuns{runs: map[uuid.UUID]workflow.RunRecord{}},
		webhooks:    &fakeWebhooks{},
	}
	module := NewModule(Options{
		Publisher:      f.publisher,
		Contacts:       f.contacts,
		Enrollments:    f.enrollments,
		Runs:           f.runs,
		Calls:          f.webhooks,
		Signatures:     tokenValidator{},
		WebhookBaseURL: publicBase,
		PhoneRegion:    "NL",
	})
	f.engine = router.New(&apphttp.App{Config: routerConfig{}, Logger: logger.Discard(), Modules: []apphttp.Module{module}})
	return f
}

func (f *fixture) do(t *testing.T, method, path, account string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if account != "" {
		req.Header.Set(httpkit.AccountHeader, account)
	}
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) seed() contacts.Contact {
	return f.contacts.Put(contacts.Contact{AccountID: acct, FirstName: "Ada", Email: "ada@acme.test", Phone: "+31612345678", DealValue: 5000})
}

func TestCreateContactPublishesContactCreated(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/contacts", acct, map[string]any{
		"firstName": "Ada",
		"email":     "Ada@Acme.test",
		"phone":     "06 12345678",
		"company":   "Acme",
		"source":    "webinar",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp AcceptedResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || resp.ContactID == nil || len(resp.EventIDs) != 1 {
		t.Fatalf("unexpected response %s", rec.Body.String())
	}

	evt, ok := f.publisher.only(t).(events.ContactCreated)
	if !ok || evt.ContactID != *resp.ContactID || evt.AccountID != acct || evt.Source != "webinar" {
		t.Fatalf("unexpected event %+v", f.publisher.events)
	}
	stored, err := f.contacts.Get(context.Background(), acct, *resp.ContactID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Email != "ada@acme.test" || stored.Phone != "+31612345678" {
		t.Fatalf("expected normalized contact data, got %q %q", stored.Email, stored.Phone)
	}
}

func TestCreateContactRejectsBadInput(t *testing.T) {
	tests := []struct {
		name    string
		account string
		body    map[string]any
		want    int
	}{
		{"no account", "", map[string]any{"firstName": "Ada", "email": "ada@acme.test"}, http.StatusUnauthorized},
		{"missing name", acct, map[string]any{"email": "ada@acme.test"}, http.StatusBadRequest},
		{"bad email", acct, map[string]any{"firstName": "Ada", "email": "not-an-email"}, http.StatusBadRequest},
		{"no way to reach", acct, map[string]any{"firstName": "Ada"}, http.StatusBadRequest},
		{"negative deal", acct, map[string]any{"firstName": "Ada", "email": "ada@acme.test", "dealValue": -1}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rec := f.do(t, http.MethodPost, "/api/v1/contacts", tt.account, tt.body)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
			if len(f.publisher.events) != 0 {
				t.Fatalf("expected nothing published")
			}
		})
	}
}

func TestCreateContactEventLogDown(t *testing.T) {
	f := newFixture(t)
	f.publisher.err = context.DeadlineExceeded

	rec := f.do(t, http.MethodPost, "/api/v1/contacts", acct, map[string]any{"firstName": "Ada", "email": "ada@acme.test"})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestEnrichContactMarksEnrichment(t *testing.T) {
	f := newFixture(t)
	c := f.seed()

	rec := f.do(t, http.MethodPost, "/api/v1/contacts/"+c.ID.String()+"/enriched", acct, map[string]any{
		"fields": map[string]any{"industry": "saas", "company_size": "51-200"},
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	stored, _ := f.contacts.Get(context.Background(), acct, c.ID)
	if !stored.Enriched() || stored.Field("industry") != "saas" {
		t.Fatalf("expected enrichment merged, got %+v", stored.ExtensionFields)
	}
	if _, ok := f.publisher.only(t).(events.ContactEnriched); !ok {
		t.Fatalf("expected contact.enriched")
	}
}

func TestContactOfAnotherAccountIsNotFound(t *testing.T) {
	f := newFixture(t)
	c := f.seed()

	rec := f.do(t, http.MethodPost, "/api/v1/deals/"+c.ID.String()+"/won", "acct-2", map[string]any{"dealValue": 100})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	rec = f.do(t, http.MethodPost, "/api/v1/deals/not-a-uuid/won", acct, map[string]any{"dealValue": 100})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a bad id, got %d", rec.Code)
	}
}

func TestDeals(t *testing.T) {
	f := newFixture(t)
	c := f.seed()

	rec := f.do(t, http.MethodPost, "/api/v1/deals/"+c.ID.String()+"/won", acct, map[string]any{})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	won, ok := f.publisher.only(t).(events.DealWon)
	if !ok || won.DealValue != 5000 {
		t.Fatalf("expected the contact's deal value, got %+v", f.publisher.events)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/deals/"+c.ID.String()+"/lost", acct, map[string]any{"dealValue": 100})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected a lost reason to be required, got %d", rec.Code)
	}
	rec = f.do(t, http.MethodPost, "/api/v1/deals/"+c.ID.String()+"/lost", acct, map[string]any{"lostReason": " price "})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	lost, ok := f.publisher.events[1].(events.DealLost)
	if !ok || lost.LostReason != "price" {
		t.Fatalf("unexpected lost event %+v", f.publisher.events[1])
	}
}

func TestConsent(t *testing.T) {
	f := newFixture(t)
	c := f.seed()

	rec := f.do(t, http.MethodPost, "/api/v1/contacts/"+c.ID.String()+"/consent", acct, map[string]any{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an empty consent update, got %d", rec.Code)
	}
	rec = f.do(t, http.MethodPost, "/api/v1/contacts/"+c.ID.String()+"/consent", acct, map[string]any{"doNotCall": true})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp ConsentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || !resp.DoNotCall || resp.DoNotEmail {
		t.Fatalf("unexpected consent %s", rec.Body.String())
	}
}

func TestOutreachEndpoints(t *testing.T) {
	f := newFixture(t)
	c := f.seed()

	rec := f.do(t, http.MethodPost, "/api/v1/outreach/enroll", acct, map[string]any{"contactId": c.ID, "sequenceTemplate": "cold_calls_only"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected an unknown template rejected, got %d", rec.Code)
	}
	rec = f.do(t, http.MethodPost, "/api/v1/outreach/enroll", acct, map[string]any{"contactId": c.ID, "sequenceTemplate": outreach.TemplateNurture})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if evt, ok := f.publisher.only(t).(events.OutreachEnroll); !ok || evt.SequenceTemplate != outreach.TemplateNurture {
		t.Fatalf("unexpected event %+v", f.publisher.events)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/outreach/replies", acct, map[string]any{"contactId": c.ID, "channel": "email", "sentiment": "ecstatic"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected an unknown sentiment rejected, got %d", rec.Code)
	}
	rec = f.do(t, http.MethodPost, "/api/v1/outreach/replies", acct, map[string]any{"contactId": c.ID, "channel": "email", "sentiment": "positive", "body": "Sounds good"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if _, ok := f.publisher.events[1].(events.OutreachReplyReceived); !ok {
		t.Fatalf("expected outreach.reply.received")
	}

	rec = f.do(t, http.MethodPost, "/api/v1/outreach/replies", acct, map[string]any{"contactId": c.ID, "channel": "sms"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected a reply with neither sentiment nor body rejected, got %d", rec.Code)
	}
	rec = f.do(t, http.MethodPost, "/api/v1/outreach/replies", acct, map[string]any{"contactId": c.ID, "channel": "sms", "body": "Not interested, thanks"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected an unlabelled reply accepted for classification, got %d", rec.Code)
	}
	if evt, ok := f.publisher.events[2].(events.OutreachReplyReceived); !ok || evt.Sentiment != "" || evt.Body == "" {
		t.Fatalf("unexpected reply event %+v", f.publisher.events[2])
	}
}

func TestEnrollmentOperations(t *testing.T) {
	f := newFixture(t)
	id := uuid.New()

	rec := f.do(t, http.MethodPost, "/api/v1/enrollments/"+id.String()+"/cancel", acct, nil)
	if rec.Code != http.StatusOK || len(f.enrollments.cancelled) != 1 {
		t.Fatalf("expected the enrollment cancelled, got %d", rec.Code)
	}
	rec = f.do(t, http.MethodPost, "/api/v1/enrollments/"+uuid.Nil.String()+"/cancel", acct, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	rec = f.do(t, http.MethodGet, "/api/v1/enrollments/"+id.String(), acct, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestStartCallNeedsPhone(t *testing.T) {
	f := newFixture(t)
	noPhone := f.contacts.Put(contacts.Contact{AccountID: acct, FirstName: "Bob", Email: "bob@acme.test"})
	c := f.seed()

	rec := f.do(t, http.MethodPost, "/api/v1/calls", acct, map[string]any{"contactId": noPhone.ID})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	rec = f.do(t, http.MethodPost, "/api/v1/calls", acct, map[string]any{"contactId": c.ID, "agentId": "closer"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if evt, ok := f.publisher.only(t).(events.CallInitiated); !ok || evt.AgentID != "closer" {
		t.Fatalf("unexpected event %+v", f.publisher.events)
	}
}

func signedForm(t *testing.T, f *fixture, path string, form url.Values, sign bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if sign {
		req.Header.Set(signatureHeader, telephony.Sign(authToken, publicBase+path, form))
	}
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	return rec
}

func TestTelephonyCallbacksRequireSignature(t *testing.T) {
	f := newFixture(t)
	callID := uuid.New()
	path := telephony.PathStatus + "?call_id=" + callID.String()
	form := url.Values{"CallSid": {"CA123"}, "CallStatus": {"completed"}, "CallDuration": {"42"}}

	if rec := signedForm(t, f, path, form, false); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without a signature, got %d", rec.Code)
	}
	if rec := signedForm(t, f, path, form, true); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(f.webhooks.statuses) != 1 {
		t.Fatalf("expected one status update, got %d", len(f.webhooks.statuses))
	}
	got := f.webhooks.statuses[0]
	if got.CallID != callID || got.ProviderCallID != "CA123" || got.Status != "completed" || got.DurationSecs != 42 {
		t.Fatalf("unexpected status update %+v", got)
	}

	unknown := url.Values{"CallSid": {"CA-unknown"}, "CallStatus": {"ringing"}}
	if rec := signedForm(t, f, telephony.PathStatus, unknown, true); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for an unknown call, got %d", rec.Code)
	}
}

func TestVoiceReturnsTwiML(t *testing.T) {
	f := newFixture(t)
	path := telephony.PathVoice + "?call_id=" + uuid.NewString()

	rec := signedForm(t, f, path, url.Values{"SpeechResult": {"Tell me more"}}, true)
	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Header().Get("Content-Type"), twimlType) {
		t.Fatalf("expected TwiML, got %d %s", rec.Code, rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Body.String(), "Hello there") || f.webhooks.speech[0] != "Tell me more" {
		t.Fatalf("unexpected voice response %s", rec.Body.String())
	}

	if rec := signedForm(t, f, telephony.PathVoice, url.Values{}, true); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without a call id, got %d", rec.Code)
	}
}

func TestRunsAreAccountScoped(t *testing.T) {
	f := newFixture(t)
	own := workflow.RunRecord{ID: uuid.New(), FunctionID: "scoring.score-lead", AccountID: acct, Status: workflow.StatusFailed, LastError: "boom"}
	other := workflow.RunRecord{ID: uuid.New(), FunctionID: "scoring.score-lead", AccountID: "acct-2", Status: workflow.StatusFailed}
	f.runs.runs[own.ID] = own
	f.runs.runs[other.ID] = other

	rec := f.do(t, http.MethodGet, "/api/v1/runs", acct, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var list struct {
		Items []RunResponse `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil || len(list.Items) != 1 || list.Items[0].ID != own.ID {
		t.Fatalf("unexpected runs %s", rec.Body.String())
	}
	if f.runs.filter.Status != workflow.StatusFailed || f.runs.filter.Limit != defaultRunLimit {
		t.Fatalf("expected failed runs by default, got %+v", f.runs.filter)
	}

	if rec := f.do(t, http.MethodGet, "/api/v1/runs?status=exploded", acct, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an unknown status, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/api/v1/runs/"+other.ID.String()+"/replay", acct, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected another account's run hidden, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/api/v1/runs/"+own.ID.String()+"/replay", acct, nil); rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if len(f.runs.replayed) != 1 || f.runs.replayed[0] != own.ID {
		t.Fatalf("expected the own run replayed, got %v", f.runs.replayed)
	}
}
