package outreach

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("enrollment not found")

// Enrollment statuses.
const (
	StatusActive       = "active"
	StatusPaused       = "paused"
	StatusCompleted    = "completed"
	StatusReplied      = "replied"
	StatusBounced      = "bounced"
	StatusUnsubscribed = "unsubscribed"
)

// Enrollment is a contact's progress through one sequence.
type Enrollment struct {
	ID          uuid.UUID  `json:"id"`
	AccountID   string     `json:"accountId"`
	ContactID   uuid.UUID  `json:"contactId"`
	SequenceID  uuid.UUID  `json:"sequenceId"`
	Template    string     `json:"template"`
	Steps       []Step     `json:"steps"`
	CurrentStep int        `json:"currentStep"`
	Status      string     `json:"status"`
	EnrolledAt  time.Time  `json:"enrolledAt"`
	PausedAt    *time.Time `json:"pausedAt,omitempty"`
	PauseReason string     `json:"pauseReason,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

func (e Enrollment) Active() bool { return e.Status == StatusActive }

// DueAt is when step i becomes due.
func (e Enrollment) DueAt(i int) time.Time {
	if i < 0 || i >= len(e.Steps) {
		return e.EnrolledAt
	}
	return e.EnrolledAt.Add(time.Duration(e.Steps[i].DayOffset) * 24 * time.Hour)
}

// Progress summarizes an enrollment for the operator API.
type Progress struct {
	Enrollment     Enrollment `json:"enrollment"`
	TotalSteps     int        `json:"totalSteps"`
	CompletedSteps int        `json:"completedSteps"`
	NextDueAt      *time.Time `json:"nextDueAt,omitempty"`
}

func ProgressOf(e Enrollment) Progress {
	p := Progress{Enrollment: e, TotalSteps: len(e.Steps), CompletedSteps: e.CurrentStep}
	if e.Active() && e.CurrentStep < len(e.Steps) {
		due := e.DueAt(e.CurrentStep)
		p.NextDueAt = &due
	}
	return p
}

// EnrollmentStore persists enrollments. Enroll is idempotent per
// (contact, template) while an enrollment is active.
type EnrollmentStore interface {
	Enroll(ctx context.Context, accountID string, contactID uuid.UUID, template string, preset Preset, at time.Time) (Enrollment, bool, error)
	Get(ctx context.Context, accountID string, id uuid.UUID) (Enrollment, error)
	// Advance moves current_step from one index to the next and reports
	// whether this caller won.
	Advance(ctx context.Context, id uuid.UUID, from, to int) (bool, error)
	Complete(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	Pause(ctx context.Context, accountID string, id uuid.UUID, reason string, at time.Time) (bool, error)
	// PauseActiveForContact pauses every active enrollment of a contact and
	// returns the ids it paused.
	PauseActiveForContact(ctx context.Context, accountID string, contactID uuid.UUID, reason string, at time.Time) ([]uuid.UUID, error)
	HasActiveEnrollment(ctx context.Context, accountID string, contactID uuid.UUID) (bool, error)
}

// ChannelLimiter enforces per-account daily send caps.
type ChannelLimiter interface {
	Allow(ctx context.Context, accountID, channel string, day time.Time) (bool, error)
	Record(ctx context.Context, accountID, channel string, day time.Time) error
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
