package closing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"salespipeline_backend/internal/contacts"
	"salespipeline_backend/internal/email"
	"salespipeline_backend/internal/events"
	"salespipeline_backend/internal/workflow"
	"salespipeline_backend/platform/logger"

	"github.com/google/uuid"
)

const (
	StartOnboardingFunctionID  = "closing.start-onboarding"
	OnboardingStepsFunctionID  = "closing.onboarding-steps"
	MeetingRemindersFunctionID = "closing.meeting-reminders"
	OverdueInvoicesFunctionID  = "closing.overdue-invoices"
)

const (
	activePlanBatch = 200
	invoiceBatch    = 200
	reminderWindow  = 24 * time.Hour
)

// ContactStore is the contact access closing needs.
type ContactStore interface {
	Get(ctx context.Context, accountID string, id uuid.UUID) (contacts.Contact, error)
	contacts.ActivityLogger
}

type Options struct {
	Store    Store
	Contacts ContactStore
	Email    email.Sender
	Logger   *logger.Logger
}

type Service struct {
	store    Store
	contacts ContactStore
	mail     email.Sender
	log      *logger.Logger
}

func NewService(opts Options) *Service {
	s := &Service{store: opts.Store, contacts: opts.Contacts, mail: opts.Email, log: opts.Logger}
	if s.mail == nil {
		s.mail = email.NoopSender{}
	}
	if s.log == nil {
		s.log = logger.Discard()
	}
	return s
}

func (s *Service) Functions() []workflow.Function {
	return []workflow.Function{
		{
			ID:       StartOnboardingFunctionID,
			Triggers: []workflow.Trigger{workflow.OnEvent(events.DealWon{}.EventName())},
			Retries:  2,
			Handler:  s.startOnboarding,
		},
		{
			ID:       OnboardingStepsFunctionID,
			Triggers: []workflow.Trigger{workflow.OnCron("0 8 * * *")},
			Retries:  1,
			Handler:  s.onboardingSteps,
		},
		{
			ID:       MeetingRemindersFunctionID,
			Triggers: []workflow.Trigger{workflow.OnCron("0 7 * * *")},
			Retries:  1,
			Handler:  s.meetingReminders,
		},
		{
			ID:       OverdueInvoicesFunctionID,
			Triggers: []workflow.Trigger{workflow.OnCron("0 9 * * 1")},
			Retries:  1,
			Handler:  s.overdueInvoices,
		},
	}
}

func tickOf(sc *workflow.StepContext) time.Time {
	if sc.CronTick.IsZero() {
		return sc.Now()
	}
	return sc.CronTick
}

func (s *Service) contact(ctx context.Context, accountID string, id uuid.UUID) (contacts.Contact, error) {
	if id == uuid.Nil {
		return contacts.Contact{}, nil
	}
	c, err := s.contacts.Get(ctx, accountID, id)
	if errors.Is(err, contacts.ErrNotFound) {
		return contacts.Contact{}, nil
	}
	return c, err
}

func (s *Service) startOnboarding(ctx context.Context, sc *workflow.StepContext) (any, error) {
	evt, err := workflow.EventAs[events.DealWon](sc)
	if err != nil {
		return nil, err
	}

	planID, err := workflow.Run(ctx, sc, "start-onboarding", func(ctx context.Context) (uuid.UUID, error) {
		plan, created, err := s.store.CreatePlan(ctx, Plan{
			ID:        uuid.NewSHA1(sc.RunID, []byte("onboarding")),
			AccountID: evt.AccountID,
			ContactID: evt.ContactID,
			Status:    StatusActive,
			Steps:     DefaultSteps(),
			StartedAt: sc.Now(),
		})
		if err != nil {
			return uuid.Nil, err
		}
		if !created {
			return plan.ID, nil
		}
		err = contacts.Log(ctx, s.contacts, evt.AccountID, evt.ContactID, contacts.ActivityOnboardingStarted, map[string]any{
			"plan_id":       plan.ID.String(),
			"total_steps":   len(plan.Steps),
			"duration_days": plan.Steps[len(plan.Steps)-1].DayOffset,
		})
		return plan.ID, err
	})
	if err != nil {
		return nil, err
	}

	processed, err := workflow.Run(ctx, sc, "run-due-steps", func(ctx context.Context) (int, error) {
		return s.advancePlan(ctx, planID, sc.Now())
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"planId": planID, "processed": processed}, nil
}

func (s *Service) onboardingSteps(ctx context.Context, sc *workflow.StepContext) (any, error) {
	now := tickOf(sc)
	ids, err := workflow.Run(ctx, sc, "list-active-plans", func(ctx context.Context) ([]uuid.UUID, error) {
		plans, err := s.store.ListActivePlans(ctx, activePlanBatch)
		if err != nil {
			return nil, err
		}
		out := make([]uuid.UUID, 0, len(plans))
		for _, p := range plans {
			out = append(out, p.ID)
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}

	total := 0
	for _, id := range ids {
		n, err := workflow.Run(ctx, sc, "plan-"+id.String(), func(ctx context.Context) (int, error) {
			return s.advancePlan(ctx, id, now)
		})
		if err != nil {
			return nil, err
		}
		total += n
	}
	return map[string]int{"plans": len(ids), "processed": total}, nil
}

// advancePlan executes the due steps of one plan. Each step is saved as
// soon as it is done so a retry does not repeat it.
func (s *Service) advancePlan(ctx context.Context, id uuid.UUID, now time.Time) (int, error) {
	plan, err := s.store.GetPlan(ctx, id)
	if err != nil {
		return 0, err
	}
	if plan.Status != StatusActive {
		return 0, nil
	}
	due := DueSteps(plan, now)
	if len(due) == 0 {
		return 0, nil
	}
	c, err := s.contact(ctx, plan.AccountID, plan.ContactID)
	if err != nil {
		return 0, fmt.Errorf("load contact: %w", err)
	}

	processed := 0
	for _, i := range due {
		step := &plan.Steps[i]
		if err := s.executeStep(ctx, plan, c, step); err != nil {
			return processed, fmt.Errorf("onboarding step %s: %w", step.ID, err)
		}
		at := now
		step.CompletedAt = &at
		if plan.Done() {
			plan.Status = StatusCompleted
			plan.CompletedAt = &at
		}
		if err := s.store.SavePlan(ctx, plan); err != nil {
			return processed, err
		}
		processed++
	}
	if plan.Status == StatusCompleted {
		s.log.Info("onboarding completed", "plan_id", plan.ID, "contact_id", plan.ContactID)
	}
	return processed, nil
}

func (s *Service) executeStep(ctx context.Context, plan Plan, c contacts.Contact, step *OnboardingStep) error {
	details := map[string]any{
		"plan_id":   plan.ID.String(),
		"step_id":   step.ID,
		"step_name": step.Name,
	}
	switch step.Type {
	case StepEmail:
		if c.Email == "" {
			step.Status = StatusSkipped
			return nil
		}
		html, err := email.RenderMessage(step.Subject, OnboardingBody(step.TemplateKey, c.FirstName, c.Company))
		if err != nil {
			return err
		}
		if err := s.mail.Send(ctx, email.Message{To: c.Email, Subject: step.Subject, HTML: html, Tag: "onboarding"}); err != nil {
			return err
		}
	default:
		taskDetails := map[string]any{"type": step.Type, "subject": step.Subject}
		for k, v := range details {
			taskDetails[k] = v
		}
		if err := contacts.Log(ctx, s.contacts, plan.AccountID, plan.ContactID, contacts.ActivityOnboardingTask, taskDetails); err != nil {
			return err
		}
	}
	step.Status = StatusCompleted
	return contacts.Log(ctx, s.contacts, plan.AccountID, plan.ContactID, contacts.ActivityOnboardingStep, details)
}

func (s *Service) meetingReminders(ctx context.Context, sc *workflow.StepContext) (any, error) {
	now := tickOf(sc)
	meetings, err := workflow.Run(ctx, sc, "find-upcoming", func(ctx context.Context) ([]Meeting, error) {
		return s.store.UpcomingMeetings(ctx, now, now.Add(reminderWindow))
	})
	if err != nil {
		return nil, err
	}

	sent := 0
	for _, m := range meetings {
		err := workflow.Do(ctx, sc, "remind-"+m.ID.String(), func(ctx context.Context) error {
			html, err := email.RenderMeetingReminder(email.MeetingReminder{
				Name:         m.AttendeeName,
				MeetingTitle: m.Title,
				StartsAt:     m.StartsAt.UTC().Format("Mon 2 Jan 15:04 MST"),
			})
			if err != nil {
				return err
			}
			if err := s.mail.Send(ctx, email.Message{To: m.AttendeeEmail, Subject: email.MeetingReminderSubject(), HTML: html, Tag: "meeting_reminder"}); err != nil {
				return err
			}
			if err := s.store.MarkReminded(ctx, m.ID, sc.Now()); err != nil {
				return err
			}
			if m.ContactID == uuid.Nil {
				return nil
			}
			return contacts.Log(ctx, s.contacts, m.AccountID, m.ContactID, contacts.ActivityMeetingReminded, map[string]any{
				"meeting_id": m.ID.String(),
				"starts_at":  m.StartsAt.Format(time.RFC3339),
			})
		})
		if err != nil {
			return nil, err
		}
		sent++
	}
	return map[string]int{"sent": sent}, nil
}

func (s *Service) overdueInvoices(ctx context.Context, sc *workflow.StepContext) (any, error) {
	now := tickOf(sc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	invoices, err := workflow.Run(ctx, sc, "find-overdue", func(ctx context.Context) ([]Invoice, error) {
		return s.store.ListOverdueInvoices(ctx, today, invoiceBatch)
	})
	if err != nil {
		return nil, err
	}

	marked := 0
	for _, inv := range invoices {
		moved, err := workflow.Run(ctx, sc, "invoice-"+inv.ID.String(), func(ctx context.Context) (bool, error) {
			return s.markOverdue(ctx, inv, today)
		})
		if err != nil {
			return nil, err
		}
		if moved {
			marked++
		}
	}
	if marked > 0 {
		sc.Logger().Info("invoices overdue", "count", marked)
	}
	return map[string]int{"count": marked}, nil
}

func (s *Service) markOverdue(ctx context.Context, inv Invoice, today time.Time) (bool, error) {
	moved, err := s.store.MarkInvoiceOverdue(ctx, inv.ID)
	if err != nil || !moved {
		return false, err
	}
	if inv.ContactID == uuid.Nil {
		return true, nil
	}
	err = contacts.Log(ctx, s.contacts, inv.AccountID, inv.ContactID, contacts.ActivityInvoiceOverdue, map[string]any{
		"invoice_id":     inv.ID.String(),
		"invoice_number": inv.Number,
		"total":          inv.Amount,
		"due_date":       inv.DueDate.Format(time.DateOnly),
	})
	if err != nil {
		return true, err
	}

	c, err := s.contact(ctx, inv.AccountID, inv.ContactID)
	if err != nil || c.Email == "" {
		return true, err
	}
	html, err := email.RenderInvoiceOverdue(email.InvoiceOverdue{
		Name:          c.FirstName,
		InvoiceNumber: inv.Number,
		Amount:        fmt.Sprintf("%.2f", inv.Amount),
		DueDate:       inv.DueDate.Format(time.DateOnly),
		DaysOverdue:   int(today.Sub(inv.DueDate) / (24 * time.Hour)),
	})
	if err != nil {
		return true, err
	}
	if err := s.mail.Send(ctx, email.Message{To: c.Email, Subject: email.InvoiceOverdueSubject(inv.Number), HTML: html, Tag: "invoice_overdue"}); err != nil {
		s.log.Warn("overdue invoice email failed", "invoice_id", inv.ID, "error", err)
	}
	return true, nil
}
