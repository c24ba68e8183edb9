package calling

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"salespipeline_backend/internal/adapters/storage"
	"salespipeline_backend/internal/events"
	"salespipeline_backend/internal/telephony"
	platformevents "salespipeline_backend/platform/events"
	"salespipeline_backend/platform/logger"

	"github.com/google/uuid"
)

const (
	recordingFolder      = "recordings"
	recordingContentType = "audio/mpeg"
)

// Publisher appends events to the durable log.
type Publisher interface {
	Publish(ctx context.Context, evts ...platformevents.Event) ([]string, error)
}

// RecordingFetcher downloads a finished recording from the provider.
type RecordingFetcher interface {
	FetchRecording(ctx context.Context, recordingURL string) (io.ReadCloser, int64, error)
}

// StatusUpdate is a provider status callback.
type StatusUpdate struct {
	CallID         uuid.UUID
	ProviderCallID string
	Status         string
	DurationSecs   int
}

type WebhookOptions struct {
	Calls       Store
	Coordinator *Coordinator
	Publisher   Publisher
	Recordings  RecordingFetcher
	Audio       storage.StorageService
	Bucket      string
	Logger      *logger.Logger
}

// Webhooks handles the telephony provider's callbacks.
type Webhooks struct {
	calls       Store
	coordinator *Coordinator
	publisher   Publisher
	recordings  RecordingFetcher
	audio       storage.StorageService
	bucket      string
	log         *logger.Logger
}

func NewWebhooks(opts WebhookOptions) *Webhooks {
	w := &Webhooks{
		calls:       opts.Calls,
		coordinator: opts.Coordinator,
		publisher:   opts.Publisher,
		recordings:  opts.Recordings,
		audio:       opts.Audio,
		bucket:      opts.Bucket,
		log:         opts.Logger,
	}
	if w.log == nil {
		w.log = logger.Discard()
	}
	return w
}

func terminal(status string) bool {
	switch status {
	case StatusCompleted, StatusBusy, StatusNoAnswer, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// endsConversation reports whether a final status should be analyzed.
func endsConversation(status string) bool {
	return status == StatusCompleted || status == StatusBusy || status == StatusNoAnswer
}

func (w *Webhooks) lookup(ctx context.Context, callID uuid.UUID, providerCallID string) (CallRecord, error) {
	if callID != uuid.Nil {
		return w.calls.GetCall(ctx, callID)
	}
	return w.calls.GetCallByProviderID(ctx, providerCallID)
}

// HandleStatus records a status change. The first final status publishes
// call.completed; repeated callbacks for a finished call are ignored.
func (w *Webhooks) HandleStatus(ctx context.Context, u StatusUpdate) error {
	rec, err := w.lookup(ctx, u.CallID, u.ProviderCallID)
	if err != nil {
		return err
	}
	if terminal(rec.Status) {
		return nil
	}

	status := StatusFromProvider(u.Status)
	if status == rec.Status && u.DurationSecs == 0 {
		return nil
	}
	if err := w.calls.UpdateStatus(ctx, rec.ID, status, u.DurationSecs); err != nil {
		return fmt.Errorf("update call status: %w", err)
	}
	w.log.Debug("call status", "call_id", rec.ID, "status", status)

	if !terminal(status) {
		return nil
	}
	if !endsConversation(status) {
		if w.coordinator != nil {
			w.coordinator.conversations.End(rec.ID)
		}
		return nil
	}

	duration := u.DurationSecs
	if duration <= 0 {
		duration = rec.DurationSecs
	}
	_, err = w.publisher.Publish(ctx, events.CallCompleted{
		BaseEvent:      events.NewBaseEvent(),
		AccountRef:     events.AccountRef{AccountID: rec.AccountID},
		ContactID:      rec.ContactID,
		CallID:         rec.ID,
		ProviderCallID: rec.ProviderCallID,
		DurationSecs:   duration,
	})
	if err != nil {
		return fmt.Errorf("publish call completed: %w", err)
	}
	return nil
}

// HandleRecording copies the provider's recording into object storage.
func (w *Webhooks) HandleRecording(ctx context.Context, callID uuid.UUID, recordingURL string) error {
	if recordingURL == "" {
		return errors.New("recording url is required")
	}
	if w.recordings == nil || w.audio == nil || w.bucket == "" {
		w.log.Warn("recording storage not configured", "call_id", callID)
		return nil
	}
	if _, err := w.calls.GetCall(ctx, callID); err != nil {
		return err
	}

	body, size, err := w.recordings.FetchRecording(ctx, recordingURL)
	if err != nil {
		return fmt.Errorf("fetch recording: %w", err)
	}
	defer func() {
		_ = body.Close()
	}()

	key, err := w.audio.UploadFile(ctx, w.bucket, recordingFolder+"/"+callID.String(), "recording.mp3", recordingContentType, body, size)
	if err != nil {
		return fmt.Errorf("store recording: %w", err)
	}
	return w.calls.SetRecordingKey(ctx, callID, key)
}

// HandleAMD stores the machine detection verdict.
func (w *Webhooks) HandleAMD(ctx context.Context, callID uuid.UUID, answeredBy string) error {
	answeredBy = strings.TrimSpace(answeredBy)
	if answeredBy == "" {
		return nil
	}
	return w.calls.SetAnsweredBy(ctx, callID, answeredBy)
}

// Voice produces the TwiML for one conversation turn. An empty speech means
// the call was just answered.
func (w *Webhooks) Voice(ctx context.Context, callID uuid.UUID, speech string) ([]byte, error) {
	var (
		turn telephony.Turn
		err  error
	)
	if strings.TrimSpace(speech) == "" {
		turn, err = w.coordinator.Answer(ctx, callID)
	} else {
		turn, err = w.coordinator.Respond(ctx, callID, speech)
	}
	if err != nil {
		w.log.Error("conversation turn failed", "call_id", callID, "error", err)
		turn = telephony.Turn{Text: lineLostConversation, Hangup: true}
	}
	return telephony.RenderTurn(turn)
}
