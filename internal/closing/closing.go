// Package closing runs the post-sale crons: onboarding plans for won deals,
// meeting reminders and overdue invoice checks.
package closing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPlanNotFound    = errors.New("onboarding plan not found")
	ErrInvoiceNotFound = errors.New("invoice not found")
)

// Onboarding step types.
const (
	StepEmail = "email"
	StepCall  = "call"
	StepTask  = "task"
)

// Step and plan statuses.
const (
	StatusPending   = "pending"
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusSkipped   = "skipped"
)

// Meeting and invoice statuses.
const (
	MeetingScheduled = "scheduled"
	InvoiceSent      = "sent"
	InvoiceOverdue   = "overdue"
)

// OnboardingStep is one scheduled action of an onboarding plan.
type OnboardingStep struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Type        string     `json:"type"`
	DayOffset   int        `json:"dayOffset"`
	Subject     string     `json:"subject,omitempty"`
	TemplateKey string     `json:"templateKey,omitempty"`
	Status      string     `json:"status"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Plan is the onboarding plan of one won contact.
type Plan struct {
	ID          uuid.UUID        `json:"id"`
	AccountID   string           `json:"accountId"`
	ContactID   uuid.UUID        `json:"contactId"`
	Status      string           `json:"status"`
	Steps       []OnboardingStep `json:"steps"`
	StartedAt   time.Time        `json:"startedAt"`
	CompletedAt *time.Time       `json:"completedAt,omitempty"`
}

type Meeting struct {
	ID            uuid.UUID
	AccountID     string
	ContactID     uuid.UUID
	AttendeeEmail string
	AttendeeName  string
	Title         string
	StartsAt      time.Time
	Status        string
	RemindedAt    *time.Time
}

type Invoice struct {
	ID        uuid.UUID
	AccountID string
	ContactID uuid.UUID
	Number    string
	Amount    float64
	Status    string
	DueDate   time.Time
}

// Store persists plans, meetings and invoices.
type Store interface {
	// CreatePlan returns the existing plan when the contact already has one.
	CreatePlan(ctx context.Context, p Plan) (Plan, bool, error)
	GetPlan(ctx context.Context, id uuid.UUID) (Plan, error)
	ListActivePlans(ctx context.Context, limit int) ([]Plan, error)
	SavePlan(ctx context.Context, p Plan) error
	UpcomingMeetings(ctx context.Context, from, to time.Time) ([]Meeting, error)
	MarkReminded(ctx context.Context, id uuid.UUID, at time.Time) error
	ListOverdueInvoices(ctx context.Context, dueBefore time.Time, limit int) ([]Invoice, error)
	// MarkInvoiceOverdue moves a sent invoice to overdue.
	MarkInvoiceOverdue(ctx context.Context, id uuid.UUID) (bool, error)
}

// DefaultSteps is the standard onboarding sequence.
func DefaultSteps() []OnboardingStep {
	steps := []OnboardingStep{
		{Name: "Welcome email", Type: StepEmail, DayOffset: 0, TemplateKey: "welcome", Subject: "Welcome aboard! Here's how to get started"},
		{Name: "Account setup guide", Type: StepEmail, DayOffset: 1, TemplateKey: "setup_guide", Subject: "Quick setup: your first results in five minutes"},
		{Name: "Schedule kickoff call", Type: StepCall, DayOffset: 2, TemplateKey: "kickoff_invite", Subject: "Let's set up your workspace together"},
		{Name: "Tips and best practices", Type: StepEmail, DayOffset: 3, TemplateKey: "tips", Subject: "Three tips our best customers use from day one"},
		{Name: "First week check-in", Type: StepEmail, DayOffset: 7, TemplateKey: "checkin", Subject: "How's your first week going?"},
		{Name: "Feature deep dive", Type: StepEmail, DayOffset: 14, TemplateKey: "deep_dive", Subject: "Get more out of the features most teams miss"},
		{Name: "30-day success review", Type: StepCall, DayOffset: 30, TemplateKey: "success_review", Subject: "Your 30-day results are in"},
	}
	for i := range steps {
		steps[i].ID = fmt.Sprintf("step_%d", i+1)
		steps[i].Status = StatusPending
	}
	return steps
}

var onboardingBodies = map[string]string{
	"welcome":        "Welcome, {{name}}!\n\nYour account is active. Log in, import your contacts and launch your first campaign.",
	"setup_guide":    "Hi {{name}},\n\nConnect your email, import ten to twenty contacts to test with and start a pre-built sequence. Most teams see first replies within 48 hours.",
	"tips":           "Hi {{name}},\n\nLet the first touch be automated, combine channels in one sequence and spend your own time on the highest scored leads.",
	"checkin":        "Hi {{name}},\n\nHow is your first week going? Reply and tell us what works, what is confusing and what you would like to see.",
	"deep_dive":      "Hi {{name}},\n\nTwo weeks in. Have a look at follow-up sequences, calling agents and the performance reports.",
	"kickoff_invite": "Hi {{name}},\n\nLet's book a 30 minute call to set up {{company}} properly.",
	"success_review": "Hi {{name}},\n\nYou have been with us for a month. Let's review the results and plan the next 90 days.",
}

// OnboardingBody renders the plain-text body for a step template.
func OnboardingBody(templateKey, name, company string) string {
	body, ok := onboardingBodies[templateKey]
	if !ok {
		body = onboardingBodies["welcome"]
	}
	if name == "" {
		name = "there"
	}
	return strings.NewReplacer("{{name}}", name, "{{company}}", company).Replace(body)
}

// DueSteps returns the indexes of pending steps whose day offset has been
// reached at now.
func DueSteps(p Plan, now time.Time) []int {
	days := int(now.Sub(p.StartedAt) / (24 * time.Hour))
	var due []int
	for i, s := range p.Steps {
		if s.Status == StatusPending && s.DayOffset <= days {
			due = append(due, i)
		}
	}
	return due
}

// Done reports whether every step is completed or skipped.
func (p Plan) Done() bool {
	for _, s := range p.Steps {
		if s.Status != StatusCompleted && s.Status != StatusSkipped {
			return false
		}
	}
	return true
}
