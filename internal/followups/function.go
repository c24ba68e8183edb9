package followups

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"salespipeline_backend/internal/contacts"
	"salespipeline_backend/internal/events"
	"salespipeline_backend/internal/outreach"
	"salespipeline_backend/internal/workflow"
	"salespipeline_backend/platform/logger"

	"github.com/google/uuid"
)

const (
	ScheduleFunctionID   = "followups.schedule"
	SendFunctionID       = "followups.send"
	ProcessDueFunctionID = "followups.process-due"
)

const (
	sendRetries = 2
	dueBatch    = 50
)

// Sender delivers a message on a channel. outreach.Channels implements it.
type Sender interface {
	Send(ctx context.Context, channel string, c contacts.Contact, msg outreach.Message) error
}

type Options struct {
	Store    Store
	Sender   Sender
	Activity contacts.ActivityLogger
	Logger   *logger.Logger
}

type Service struct {
	store    Store
	sender   Sender
	activity contacts.ActivityLogger
	log      *logger.Logger
}

func NewService(opts Options) *Service {
	s := &Service{store: opts.Store, sender: opts.Sender, activity: opts.Activity, log: opts.Logger}
	if s.log == nil {
		s.log = logger.Discard()
	}
	return s
}

func (s *Service) Functions() []workflow.Function {
	return []workflow.Function{
		{
			ID:       ScheduleFunctionID,
			Triggers: []workflow.Trigger{workflow.OnEvent(events.FollowUpTrigger{}.EventName())},
			Retries:  2,
			Handler:  s.schedule,
		},
		{
			ID:       SendFunctionID,
			Triggers: []workflow.Trigger{workflow.OnEvent(events.FollowUpSend{}.EventName())},
			Retries:  sendRetries,
			Throttle: &workflow.Throttle{Limit: 10, Period: time.Minute, Key: workflow.ByAccount},
			Handler:  s.send,
		},
		{
			ID:       ProcessDueFunctionID,
			Triggers: []workflow.Trigger{workflow.OnCron("*/5 * * * *")},
			Retries:  1,
			Handler:  s.processDue,
		},
	}
}

// Plan builds the messages a follow-up trigger produces from the matching
// sequences. Steps whose channel has no recipient are dropped.
func Plan(evt events.FollowUpTrigger, sequences []Sequence, now time.Time, keyPrefix string) []Message {
	vars := Vars{ContactName: evt.ContactName, CallSummary: evt.CallSummary, NextSteps: evt.NextSteps, AgentName: evt.AgentName}
	var out []Message
	for _, seq := range sequences {
		for i, step := range seq.Steps {
			recipient := evt.ContactPhone
			if step.Channel == outreach.ChannelEmail {
				recipient = evt.ContactEmail
			}
			if recipient == "" {
				continue
			}
			key := keyPrefix + ":" + seq.ID.String() + ":" + strconv.Itoa(i)
			out = append(out, Message{
				ID:         uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)),
				DedupeKey:  key,
				AccountID:  evt.AccountID,
				SequenceID: seq.ID,
				ContactID:  evt.ContactID,
				CallID:     evt.CallID,
				Channel:    step.Channel,
				Status:     StatusPending,
				Recipient:  recipient,
				Subject:    Interpolate(step.Subject, vars),
				Body:       Interpolate(step.Template, vars),
				SendAt:     now.Add(time.Duration(step.DelayMinutes) * time.Minute),
				CreatedAt:  now,
			})
		}
	}
	return out
}

func (s *Service) schedule(ctx context.Context, sc *workflow.StepContext) (any, error) {
	evt, err := workflow.EventAs[events.FollowUpTrigger](sc)
	if err != nil {
		return nil, err
	}

	sequences, err := workflow.Run(ctx, sc, "load-sequences", func(ctx context.Context) ([]Sequence, error) {
		return s.store.ActiveSequences(ctx, evt.AccountID, []string{evt.Outcome, TriggerAnyCompleted})
	})
	if err != nil {
		return nil, err
	}
	if len(sequences) == 0 {
		return map[string]int{"created": 0}, nil
	}

	created, err := workflow.Run(ctx, sc, "create-messages", func(ctx context.Context) (int, error) {
		n := 0
		for _, m := range Plan(evt, sequences, sc.Now(), sc.Envelope.ID) {
			ok, err := s.store.CreateMessage(ctx, m)
			if err != nil {
				return n, fmt.Errorf("create message: %w", err)
			}
			if ok {
				n++
			}
		}
		return n, nil
	})
	if err != nil {
		return nil, err
	}
	sc.Logger().Info("follow-ups scheduled", "contact_id", evt.ContactID, "call_id", evt.CallID, "messages", created)
	return map[string]int{"created": created}, nil
}

func (s *Service) processDue(ctx context.Context, sc *workflow.StepContext) (any, error) {
	now := sc.CronTick
	if now.IsZero() {
		now = sc.Now()
	}
	due, err := workflow.Run(ctx, sc, "find-due", func(ctx context.Context) ([]Message, error) {
		return s.store.ListDue(ctx, now, dueBatch)
	})
	if err != nil {
		return nil, err
	}
	if len(due) == 0 {
		return map[string]int{"due": 0}, nil
	}

	sends := make([]events.Event, 0, len(due))
	for _, m := range due {
		sends = append(sends, events.FollowUpSend{
			BaseEvent:  events.NewBaseEvent(),
			AccountRef: events.AccountRef{AccountID: m.AccountID},
			MessageID:  m.ID,
		})
	}
	if _, err := sc.SendEvent(ctx, "fan-out", sends...); err != nil {
		return nil, err
	}
	return map[string]int{"due": len(due)}, nil
}

// SendResult is the output of a send run.
type SendResult struct {
	Status  string `json:"status"`
	Skipped string `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *Service) send(ctx context.Context, sc *workflow.StepContext) (any, error) {
	evt, err := workflow.EventAs[events.FollowUpSend](sc)
	if err != nil {
		return nil, err
	}

	msg, err := workflow.Run(ctx, sc, "claim", func(ctx context.Context) (*Message, error) {
		m, err := s.store.GetMessage(ctx, evt.MessageID)
		if errors.Is(err, ErrMessageNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		claimed, err := s.store.ClaimMessage(ctx, m.ID)
		if err != nil || !claimed {
			return nil, err
		}
		m.Status = StatusSending
		return &m, nil
	})
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return SendResult{Skipped: "not_pending"}, nil
	}

	recipient := contacts.Contact{ID: msg.ContactID, AccountID: msg.AccountID}
	if msg.Channel == outreach.ChannelEmail {
		recipient.Email = msg.Recipient
	} else {
		recipient.Phone = msg.Recipient
	}

	deliverErr := workflow.Do(ctx, sc, "deliver", func(ctx context.Context) error {
		return s.sender.Send(ctx, msg.Channel, recipient, outreach.Message{Subject: msg.Subject, Body: msg.Body})
	})
	if deliverErr != nil {
		if sc.Attempt < sendRetries {
			return nil, deliverErr
		}
		err := workflow.Do(ctx, sc, "mark-failed", func(ctx context.Context) error {
			return s.store.MarkFailed(ctx, msg.ID, deliverErr.Error())
		})
		if err != nil {
			return nil, err
		}
		sc.Logger().Warn("follow-up failed", "message_id", msg.ID, "channel", msg.Channel, "error", deliverErr)
		return SendResult{Status: StatusFailed, Error: deliverErr.Error()}, nil
	}

	err = workflow.Do(ctx, sc, "mark-sent", func(ctx context.Context) error {
		if err := s.store.MarkSent(ctx, msg.ID, sc.Now()); err != nil {
			return err
		}
		if s.activity == nil || msg.ContactID == uuid.Nil {
			return nil
		}
		return contacts.Log(ctx, s.activity, msg.AccountID, msg.ContactID, contacts.ActivityFollowUpSent, map[string]any{
			"message_id":  msg.ID.String(),
			"sequence_id": msg.SequenceID.String(),
			"channel":     msg.Channel,
			"call_id":     msg.CallID.String(),
		})
	})
	if err != nil {
		return nil, err
	}
	return SendResult{Status: StatusSent}, nil
}
