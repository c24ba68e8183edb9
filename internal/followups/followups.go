// Package followups turns analyzed calls into scheduled follow-up messages
// and delivers them when they fall due.
package followups

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrMessageNotFound = errors.New("follow-up message not found")

// TriggerAnyCompleted matches every analyzed call regardless of outcome.
const TriggerAnyCompleted = "any_completed"

// Message statuses.
const (
	StatusPending   = "pending"
	StatusSending   = "sending"
	StatusSent      = "sent"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Step is one message of a follow-up sequence.
type Step struct {
	Channel      string `json:"channel"`
	DelayMinutes int    `json:"delay_minutes"`
	Subject      string `json:"subject,omitempty"`
	Template     string `json:"template"`
}

// Sequence is an account rule: when a call ends with Trigger, send Steps.
type Sequence struct {
	ID        uuid.UUID `json:"id"`
	AccountID string    `json:"accountId"`
	Name      string    `json:"name"`
	Trigger   string    `json:"trigger"`
	Steps     []Step    `json:"steps"`
	Active    bool      `json:"active"`
}

// Message is one scheduled follow-up.
type Message struct {
	ID         uuid.UUID  `json:"id"`
	DedupeKey  string     `json:"dedupeKey"`
	AccountID  string     `json:"accountId"`
	SequenceID uuid.UUID  `json:"sequenceId"`
	ContactID  uuid.UUID  `json:"contactId"`
	CallID     uuid.UUID  `json:"callId"`
	Channel    string     `json:"channel"`
	Status     string     `json:"status"`
	Recipient  string     `json:"recipient"`
	Subject    string     `json:"subject,omitempty"`
	Body       string     `json:"body"`
	SendAt     time.Time  `json:"sendAt"`
	SentAt     *time.Time `json:"sentAt,omitempty"`
	LastError  string     `json:"lastError,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// Store persists sequences and messages.
type Store interface {
	ActiveSequences(ctx context.Context, accountID string, triggers []string) ([]Sequence, error)
	// CreateMessage reports false when the dedupe key already exists.
	CreateMessage(ctx context.Context, m Message) (bool, error)
	GetMessage(ctx context.Context, id uuid.UUID) (Message, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]Message, error)
	// ClaimMessage moves a pending message to sending.
	ClaimMessage(ctx context.Context, id uuid.UUID) (bool, error)
	MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	CancelMessage(ctx context.Context, accountID string, id uuid.UUID) (bool, error)
}

// Vars are the template variables of a follow-up.
type Vars struct {
	ContactName string
	CallSummary string
	NextSteps   string
	AgentName   string
}

// Interpolate replaces {{contact_name}}, {{call_summary}}, {{next_steps}}
// and {{agent_name}} in text.
func Interpolate(text string, v Vars) string {
	return strings.NewReplacer(
		"{{contact_name}}", v.ContactName,
		"{{call_summary}}", v.CallSummary,
		"{{next_steps}}", v.NextSteps,
		"{{agent_name}}", v.AgentName,
	).Replace(text)
}
