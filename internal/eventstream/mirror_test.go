package eventstream

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"salespipeline_backend/internal/events"
	platformevents "salespipeline_backend/platform/events"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

type fakeWriter struct {
	mu       sync.Mutex
	failures int
	attempts int
	written  []kafka.Message
	closed   bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.attempts++
	if w.failures > 0 {
		w.failures--
		return errors.New("leader not available")
	}
	w.written = append(w.written, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func created(account string) events.ContactCreated {
	return events.ContactCreated{
		BaseEvent:  events.BaseEvent{Timestamp: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)},
		AccountRef: events.AccountRef{AccountID: account},
		ContactID:  uuid.New(),
		Source:     "web",
	}
}

func TestMessageKeepsEnvelopeID(t *testing.T) {
	ctx := platformevents.WithEnvelopeID(context.Background(), "01JNP4ZQ0000000000000000AB")

	msg, err := Message(ctx, created("acct-1"))
	if err != nil {
		t.Fatalf("message: %v", err)
	}
	if string(msg.Key) != "acct-1" {
		t.Fatalf("expected the account as key, got %q", msg.Key)
	}
	var env platformevents.Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.ID != "01JNP4ZQ0000000000000000AB" || env.Name != "contact.created" || env.AccountID != "acct-1" {
		t.Fatalf("unexpected envelope %+v", env)
	}
	if !msg.Time.Equal(env.OccurredAt) {
		t.Fatalf("expected the event time on the message")
	}
}

func TestMessageWithoutAccountUsesEventName(t *testing.T) {
	msg, err := Message(context.Background(), created(""))
	if err != nil {
		t.Fatalf("message: %v", err)
	}
	if string(msg.Key) != "contact.created" {
		t.Fatalf("expected the event name as key, got %q", msg.Key)
	}
}

func TestHandleRetriesTransientFailures(t *testing.T) {
	w := &fakeWriter{failures: 1}
	m := NewMirror(Options{Writer: w})

	if err := m.Handle(context.Background(), created("acct-1")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if w.attempts != 2 || len(w.written) != 1 {
		t.Fatalf("expected one retry then a write, got %d attempts %d written", w.attempts, len(w.written))
	}
}

func TestHandleGivesUp(t *testing.T) {
	w := &fakeWriter{failures: 10}
	m := NewMirror(Options{Writer: w, MaxAttempts: 1})

	if err := m.Handle(context.Background(), created("acct-1")); err == nil {
		t.Fatalf("expected an error")
	}
	if w.attempts != 1 {
		t.Fatalf("expected one attempt, got %d", w.attempts)
	}
}

func TestAttachMirrorsBusEvents(t *testing.T) {
	w := &fakeWriter{}
	m := NewMirror(Options{Writer: w})
	bus := platformevents.NewInMemoryBus(nil)
	m.Attach(bus)

	if err := bus.PublishSync(context.Background(), created("acct-1")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(w.written) != 1 {
		t.Fatalf("expected the event mirrored, got %d", len(w.written))
	}
	if err := m.Close(); err != nil || !w.closed {
		t.Fatalf("expected the writer closed")
	}
}
