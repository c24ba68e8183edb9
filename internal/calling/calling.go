// Package calling places autonomous outbound calls, runs the spoken
// conversation turn by turn and analyzes the result once the provider
// reports the call finished.
package calling

import (
	"context"
	"errors"
	"time"

	"salespipeline_backend/internal/telephony"

	"github.com/google/uuid"
)

var (
	ErrCallNotFound  = errors.New("call not found")
	ErrAgentNotFound = errors.New("agent not found")
)

// Call record statuses.
const (
	StatusQueued     = "queued"
	StatusRinging    = "ringing"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusBusy       = "busy"
	StatusNoAnswer   = "no_answer"
	StatusFailed     = "failed"
	StatusCanceled   = "canceled"
)

// Call outcomes produced by analysis.
const (
	OutcomeMeetingBooked     = "meeting_booked"
	OutcomeCallbackScheduled = "callback_scheduled"
	OutcomeInterested        = "interested"
	OutcomeNotInterested     = "not_interested"
	OutcomeWrongNumber       = "wrong_number"
	OutcomeVoicemail         = "voicemail"
	OutcomeNoAnswer          = "no_answer"
	OutcomeCompleted         = "completed"
)

// Agent is a configured calling persona.
type Agent struct {
	ID                 string
	AccountID          string
	Name               string
	Greeting           string
	SystemPrompt       string
	Objective          string
	VoiceProvider      string
	Voice              string
	EndCallPhrases     []string
	MaxCallDuration    time.Duration
	ObjectionResponses map[string]string
	Active             bool
}

// TranscriptEntry is one utterance; Offset is seconds since the call started.
type TranscriptEntry struct {
	Speaker string  `json:"speaker"`
	Text    string  `json:"text"`
	Offset  float64 `json:"timestamp"`
}

// Speakers.
const (
	SpeakerAgent   = "agent"
	SpeakerContact = "contact"
)

// Usage counts what a conversation consumed.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
	TTSChars     int `json:"ttsChars"`
}

type ScoreBreakdown struct {
	Discovery         int `json:"discovery"`
	Rapport           int `json:"rapport"`
	ObjectionHandling int `json:"objection_handling"`
	Closing           int `json:"closing"`
	Overall           int `json:"overall"`
}

// Analysis is the structured review of a finished call.
type Analysis struct {
	Summary        string         `json:"summary"`
	Outcome        string         `json:"outcome"`
	Sentiment      string         `json:"sentiment"`
	Score          int            `json:"score"`
	ScoreBreakdown ScoreBreakdown `json:"scoreBreakdown"`
	Objections     []string       `json:"objections"`
	Topics         []string       `json:"topics"`
	NextSteps      string         `json:"nextSteps"`
}

// CostBreakdown is in dollars, rounded to four decimals.
type CostBreakdown struct {
	Telephony float64 `json:"telephony"`
	STT       float64 `json:"stt"`
	LLM       float64 `json:"llm"`
	TTS       float64 `json:"tts"`
	Total     float64 `json:"total"`
}

// CallRecord is one row of ai_calls.
type CallRecord struct {
	ID             uuid.UUID
	AccountID      string
	ContactID      uuid.UUID
	AgentID        string
	PhoneNumber    string
	ProviderCallID string
	Status         string
	Transcript     []TranscriptEntry
	Usage          Usage
	Analysis       *Analysis
	Cost           *CostBreakdown
	DurationSecs   int
	RecordingKey   string
	AnsweredBy     string
	AnsweredAt     *time.Time
	CreatedAt      time.Time
}

// Finalization is written once analysis is done.
type Finalization struct {
	DurationSecs int
	Transcript   []TranscriptEntry
	Analysis     Analysis
	Cost         CostBreakdown
}

// Store is implemented by the Postgres Repository and MemoryStore.
type Store interface {
	GetAgent(ctx context.Context, accountID, agentID string) (Agent, error)
	CreateCall(ctx context.Context, rec CallRecord) (CallRecord, error)
	GetCall(ctx context.Context, id uuid.UUID) (CallRecord, error)
	GetCallByProviderID(ctx context.Context, providerCallID string) (CallRecord, error)
	MarkDialed(ctx context.Context, id uuid.UUID, providerCallID string) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status string, durationSecs int) error
	MarkAnswered(ctx context.Context, id uuid.UUID, at time.Time) error
	SaveConversation(ctx context.Context, id uuid.UUID, transcript []TranscriptEntry, usage Usage) error
	SetAnsweredBy(ctx context.Context, id uuid.UUID, answeredBy string) error
	SetRecordingKey(ctx context.Context, id uuid.UUID, key string) error
	Finalize(ctx context.Context, id uuid.UUID, f Finalization) error
	CountCallsSince(ctx context.Context, accountID string, contactID uuid.UUID, since time.Time) (int, error)
	ListCallsSince(ctx context.Context, accountID string, since time.Time) ([]CallRecord, error)
}

// Telephony dials calls.
type Telephony interface {
	Configured() bool
	PlaceCall(ctx context.Context, req telephony.CallRequest) (string, error)
}

// StatusFromProvider maps a provider status callback onto a record status.
func StatusFromProvider(status string) string {
	switch status {
	case telephony.StatusQueued, telephony.StatusInitiated:
		return StatusQueued
	case telephony.StatusRinging:
		return StatusRinging
	case telephony.StatusInProgress, telephony.StatusAnswered:
		return StatusInProgress
	case telephony.StatusCompleted:
		return StatusCompleted
	case telephony.StatusBusy:
		return StatusBusy
	case telephony.StatusNoAnswer:
		return StatusNoAnswer
	case telephony.StatusCanceled:
		return StatusCanceled
	default:
		return StatusFailed
	}
}
