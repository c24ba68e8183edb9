package outreach

import (
	"context"
	"errors"
	"fmt"
	"time"

	"salespipeline_backend/internal/contacts"
	"salespipeline_backend/internal/events"
	"salespipeline_backend/internal/scoring"
	"salespipeline_backend/internal/workflow"
	"salespipeline_backend/platform/logger"

	"github.com/google/uuid"
)

const (
	EnrollFunctionID     = "outreach.enroll"
	StepFunctionID       = "outreach.execute-step"
	ReplyFunctionID      = "outreach.handle-reply"
	AutoEnrollFunctionID = "outreach.auto-enroll"
	CompletedFunctionID  = "outreach.sequence-completed"
)

// Sequence outcomes carried by outreach.sequence.completed.
const (
	OutcomeCompleted = "completed"
	OutcomeCancelled = "cancelled"
	OutcomeReplied   = "replied"
)

// Reply sentiments.
const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
)

// Reasons recorded when a step or an enrollment is skipped.
const (
	SkipNotActive          = "enrollment_not_active"
	SkipStepNotFound       = "step_not_found"
	SkipAlreadyExecuted    = "step_already_executed"
	SkipContactNotFound    = "contact_not_found"
	SkipDoNotEmail         = "do_not_email"
	SkipDoNotCall          = "do_not_call"
	SkipNoContactChannel   = "no_contact_channel"
	SkipChannelUnavailable = "channel_unavailable"
	SkipDailyLimit         = "daily_limit_reached"
	SkipUnknownTemplate    = "unknown_template"
	SkipHumanOwned         = "human_owned"
)

// maxLimitDeferrals is how many times a step waits for the next day when a
// channel's daily cap is exhausted before it is skipped.
const maxLimitDeferrals = 3

// ContactStore is the contact access outreach needs.
type ContactStore interface {
	Get(ctx context.Context, accountID string, id uuid.UUID) (contacts.Contact, error)
	SetStage(ctx context.Context, accountID string, id uuid.UUID, stage contacts.Stage, from ...contacts.Stage) (bool, error)
	MergeExtensionFields(ctx context.Context, accountID string, id uuid.UUID, fields map[string]any) error
	MarkContacted(ctx context.Context, accountID string, id uuid.UUID, at time.Time) error
	contacts.ActivityLogger
}

type Options struct {
	Contacts    ContactStore
	Enrollments EnrollmentStore
	Limiter     ChannelLimiter
	Composer    *Composer
	Classifier  *ReplyClassifier
	Channels    Channels
	Calibration scoring.CalibrationReader

	// AgentID is the calling agent used for call steps.
	AgentID string
	Logger  *logger.Logger
}

type Service struct {
	contacts    ContactStore
	enrollments EnrollmentStore
	limiter     ChannelLimiter
	composer    *Composer
	classifier  *ReplyClassifier
	channels    Channels
	calibration scoring.CalibrationReader
	agentID     string
	log         *logger.Logger
}

func NewService(opts Options) *Service {
	s := &Service{
		contacts:    opts.Contacts,
		enrollments: opts.Enrollments,
		limiter:     opts.Limiter,
		composer:    opts.Composer,
		classifier:  opts.Classifier,
		channels:    opts.Channels,
		calibration: opts.Calibration,
		agentID:     opts.AgentID,
		log:         opts.Logger,
	}
	if s.log == nil {
		s.log = logger.Discard()
	}
	if s.composer == nil {
		s.composer = NewComposer(nil, s.log)
	}
	if s.classifier == nil {
		s.classifier = NewReplyClassifier(nil, s.log)
	}
	if s.calibration == nil {
		s.calibration = scoring.StaticCalibration(scoring.DefaultThresholds())
	}
	if s.agentID == "" {
		s.agentID = "default"
	}
	return s
}

func (s *Service) Functions() []workflow.Function {
	return []workflow.Function{
		{
			ID:       EnrollFunctionID,
			Triggers: []workflow.Trigger{workflow.OnEvent(events.OutreachEnroll{}.EventName())},
			Retries:  3,
			Handler:  s.enroll,
		},
		{
			ID:          StepFunctionID,
			Triggers:    []workflow.Trigger{workflow.OnEvent(events.OutreachStepDue{}.EventName())},
			Retries:     3,
			Concurrency: 10,
			Throttle:    &workflow.Throttle{Limit: 5, Period: time.Minute, Key: workflow.ByAccount},
			Handler:     s.executeStep,
		},
		{
			ID:       ReplyFunctionID,
			Triggers: []workflow.Trigger{workflow.OnEvent(events.OutreachReplyReceived{}.EventName())},
			Retries:  2,
			Handler:  s.handleReply,
		},
		{
			ID:       AutoEnrollFunctionID,
			Triggers: []workflow.Trigger{workflow.OnEvent(events.LeadRouted{}.EventName())},
			Retries:  2,
			Handler:  s.autoEnroll,
		},
		{
			ID:       CompletedFunctionID,
			Triggers: []workflow.Trigger{workflow.OnEvent(events.OutreachSequenceCompleted{}.EventName())},
			Retries:  2,
			Handler:  s.sequenceCompleted,
		},
	}
}

// StepResult is the output of one step run.
type StepResult struct {
	EnrollmentID uuid.UUID `json:"enrollmentId"`
	StepIndex    int       `json:"stepIndex"`
	Sent         bool      `json:"sent"`
	Channel      string    `json:"channel,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	Completed    bool      `json:"completed,omitempty"`
}

type enrollResult struct {
	Enrollment Enrollment `json:"enrollment"`
	Created    bool       `json:"created"`
}

func (s *Service) enroll(ctx context.Context, sc *workflow.StepContext) (any, error) {
	evt, err := workflow.EventAs[events.OutreachEnroll](sc)
	if err != nil {
		return nil, err
	}
	preset, ok := Presets[evt.SequenceTemplate]
	if !ok {
		sc.Logger().Warn("unknown sequence template", "template", evt.SequenceTemplate, "contact_id", evt.ContactID)
		return map[string]string{"skipped": SkipUnknownTemplate}, nil
	}

	res, err := workflow.Run(ctx, sc, "enroll-contact", func(ctx context.Context) (enrollResult, error) {
		e, created, err := s.enrollments.Enroll(ctx, evt.AccountID, evt.ContactID, evt.SequenceTemplate, preset, sc.Now())
		return enrollResult{Enrollment: e, Created: created}, err
	})
	if err != nil {
		return nil, err
	}
	if !res.Created {
		sc.Logger().Info("contact already enrolled", "contact_id", evt.ContactID, "enrollment_id", res.Enrollment.ID)
		return res, nil
	}

	if len(res.Enrollment.Steps) > 0 {
		_, err = sc.SendEvent(ctx, "schedule-first-step", stepDue(evt.AccountRef, res.Enrollment, 0))
		if err != nil {
			return nil, err
		}
	}
	sc.Logger().Info("contact enrolled", "contact_id", evt.ContactID, "template", evt.SequenceTemplate, "enrollment_id", res.Enrollment.ID)
	return res, nil
}

func stepDue(acct events.AccountRef, e Enrollment, index int) events.OutreachStepDue {
	return events.OutreachStepDue{
		BaseEvent:    events.NewBaseEvent(),
		AccountRef:   acct,
		ContactID:    e.ContactID,
		EnrollmentID: e.ID,
		StepIndex:    index,
		Channel:      e.Steps[index].Channel,
	}
}

type enrollmentSnapshot struct {
	Found      bool       `json:"found"`
	Enrollment Enrollment `json:"enrollment"`
}

// Precheck actions.
const (
	actionSend  = "send"
	actionSkip  = "skip"  // log and advance
	actionAbort = "abort" // log and pause the enrollment
	actionStop  = "stop"  // nothing to do
	actionDefer = "defer" // daily cap reached
)

type precheck struct {
	Action  string           `json:"action"`
	Reason  string           `json:"reason,omitempty"`
	Channel string           `json:"channel"`
	Contact contacts.Contact `json:"contact"`
}

func (s *Service) executeStep(ctx context.Context, sc *workflow.StepContext) (any, error) {
	evt, err := workflow.EventAs[events.OutreachStepDue](sc)
	if err != nil {
		return nil, err
	}
	result := StepResult{EnrollmentID: evt.EnrollmentID, StepIndex: evt.StepIndex, Channel: evt.Channel}

	snap, err := workflow.Run(ctx, sc, "get-enrollment", func(ctx context.Context) (enrollmentSnapshot, error) {
		e, err := s.enrollments.Get(ctx, evt.AccountID, evt.EnrollmentID)
		if errors.Is(err, ErrNotFound) {
			return enrollmentSnapshot{}, nil
		}
		return enrollmentSnapshot{Found: err == nil, Enrollment: e}, err
	})
	if err != nil {
		return nil, err
	}
	if !snap.Found || !snap.Enrollment.Active() {
		result.Reason = SkipNotActive
		return result, nil
	}
	enr := snap.Enrollment
	if evt.StepIndex < 0 || evt.StepIndex >= len(enr.Steps) {
		result.Reason = SkipStepNotFound
		return result, nil
	}
	step := enr.Steps[evt.StepIndex]

	if err := sc.SleepUntil(ctx, "wait-for-due-time", enr.DueAt(evt.StepIndex)); err != nil {
		return nil, err
	}

	var chk precheck
	for attempt := 0; ; attempt++ {
		chk, err = workflow.Run(ctx, sc, fmt.Sprintf("recheck-%d", attempt), func(ctx context.Context) (precheck, error) {
			return s.precheck(ctx, evt, step, sc.Now())
		})
		if err != nil {
			return nil, err
		}
		if chk.Action != actionDefer {
			break
		}
		if attempt >= maxLimitDeferrals {
			chk.Action, chk.Reason = actionSkip, SkipDailyLimit
			break
		}
		sc.Logger().Info("daily channel limit reached, deferring step", "channel", chk.Channel, "enrollment_id", enr.ID)
		nextDay := dayOf(sc.Now()).Add(24 * time.Hour)
		if err := sc.SleepUntil(ctx, fmt.Sprintf("wait-limit-reset-%d", attempt), nextDay); err != nil {
			return nil, err
		}
	}
	result.Channel = chk.Channel

	switch chk.Action {
	case actionStop:
		result.Reason = chk.Reason
		return result, nil
	case actionAbort:
		result.Reason = chk.Reason
		err := workflow.Do(ctx, sc, "abort-enrollment", func(ctx context.Context) error {
			if _, err := s.enrollments.Pause(ctx, evt.AccountID, enr.ID, chk.Reason, sc.Now()); err != nil {
				return err
			}
			return s.logSkipped(ctx, evt, step, chk)
		})
		return result, err
	case actionSkip:
		result.Reason = chk.Reason
		err := workflow.Do(ctx, sc, "log-skipped", func(ctx context.Context) error {
			return s.logSkipped(ctx, evt, step, chk)
		})
		if err != nil {
			return nil, err
		}
		return s.advance(ctx, sc, evt, enr, result)
	}

	if chk.Channel == ChannelCall {
		_, err = sc.SendEvent(ctx, "initiate-call", events.CallInitiated{
			BaseEvent:  events.NewBaseEvent(),
			AccountRef: evt.AccountRef,
			ContactID:  evt.ContactID,
			AgentID:    s.agentID,
			Priority:   "outreach",
		})
		if err != nil {
			return nil, err
		}
	} else {
		msg, err := workflow.Run(ctx, sc, "compose-message", func(ctx context.Context) (Message, error) {
			return s.composer.Compose(ctx, chk.Contact, step, chk.Channel)
		})
		if err != nil {
			return nil, err
		}
		err = workflow.Do(ctx, sc, "send-message", func(ctx context.Context) error {
			return s.channels.Send(ctx, chk.Channel, chk.Contact, msg)
		})
		if err != nil {
			return nil, err
		}
	}

	err = workflow.Do(ctx, sc, "record-send", func(ctx context.Context) error {
		if err := s.limiter.Record(ctx, evt.AccountID, chk.Channel, sc.Now()); err != nil {
			return fmt.Errorf("record channel usage: %w", err)
		}
		if err := s.contacts.MarkContacted(ctx, evt.AccountID, evt.ContactID, sc.Now()); err != nil {
			return err
		}
		if _, err := s.contacts.SetStage(ctx, evt.AccountID, evt.ContactID, contacts.StageContacted, contacts.StageLead); err != nil {
			return err
		}
		return contacts.Log(ctx, s.contacts, evt.AccountID, evt.ContactID, contacts.ActivityOutreachSent, map[string]any{
			"channel":       chk.Channel,
			"step_index":    evt.StepIndex,
			"enrollment_id": enr.ID,
			"sequence_id":   enr.SequenceID,
			"template":      step.Template,
		})
	})
	if err != nil {
		return nil, err
	}
	result.Sent = true
	sc.Logger().Info("outreach step sent", "enrollment_id", enr.ID, "step_index", evt.StepIndex, "channel", chk.Channel)

	return s.advance(ctx, sc, evt, enr, result)
}

// precheck re-reads the enrollment and contact after every wake-up so
// pauses and consent changes are honoured.
func (s *Service) precheck(ctx context.Context, evt events.OutreachStepDue, step Step, now time.Time) (precheck, error) {
	e, err := s.enrollments.Get(ctx, evt.AccountID, evt.EnrollmentID)
	if errors.Is(err, ErrNotFound) {
		return precheck{Action: actionStop, Reason: SkipNotActive, Channel: step.Channel}, nil
	}
	if err != nil {
		return precheck{}, fmt.Errorf("reload enrollment: %w", err)
	}
	if !e.Active() {
		return precheck{Action: actionStop, Reason: SkipNotActive, Channel: step.Channel}, nil
	}
	if e.CurrentStep > evt.StepIndex {
		return precheck{Action: actionStop, Reason: SkipAlreadyExecuted, Channel: step.Channel}, nil
	}

	c, err := s.contacts.Get(ctx, evt.AccountID, evt.ContactID)
	if errors.Is(err, contacts.ErrNotFound) {
		return precheck{Action: actionAbort, Reason: SkipContactNotFound, Channel: step.Channel}, nil
	}
	if err != nil {
		return precheck{}, fmt.Errorf("load contact: %w", err)
	}

	channel, reachable := ResolveChannel(step, c.Email != "", c.Phone != "")
	out := precheck{Channel: channel, Contact: c}
	switch {
	case !reachable:
		out.Action, out.Reason = actionSkip, SkipNoContactChannel
	case channel == ChannelEmail && c.DoNotEmail:
		out.Action, out.Reason = actionAbort, SkipDoNotEmail
	case isPhoneChannel(channel) && c.DoNotCall:
		out.Action, out.Reason = actionAbort, SkipDoNotCall
	case !s.channels.Available(channel):
		out.Action, out.Reason = actionSkip, SkipChannelUnavailable
	default:
		allowed, err := s.limiter.Allow(ctx, evt.AccountID, channel, now)
		if err != nil {
			return precheck{}, fmt.Errorf("check channel limit: %w", err)
		}
		out.Action = actionSend
		if !allowed {
			out.Action, out.Reason = actionDefer, SkipDailyLimit
		}
	}
	return out, nil
}

func isPhoneChannel(channel string) bool {
	return channel == ChannelWhatsApp || channel == ChannelSMS || channel == ChannelCall
}

func (s *Service) logSkipped(ctx context.Context, evt events.OutreachStepDue, step Step, chk precheck) error {
	return contacts.Log(ctx, s.contacts, evt.AccountID, evt.ContactID, contacts.ActivityOutreachSkipped, map[string]any{
		"reason":        chk.Reason,
		"channel":       chk.Channel,
		"step_index":    evt.StepIndex,
		"enrollment_id": evt.EnrollmentID,
		"template":      step.Template,
	})
}

type advanceResult struct {
	Advanced  bool `json:"advanced"`
	Completed bool `json:"completed"`
}

func (s *Service) advance(ctx context.Context, sc *workflow.StepContext, evt events.OutreachStepDue, enr Enrollment, result StepResult) (any, error) {
	next := evt.StepIndex + 1
	adv, err := workflow.Run(ctx, sc, "advance-enrollment", func(ctx context.Context) (advanceResult, error) {
		ok, err := s.enrollments.Advance(ctx, enr.ID, evt.StepIndex, next)
		if err != nil || !ok {
			return advanceResult{}, err
		}
		if next < len(enr.Steps) {
			return advanceResult{Advanced: true}, nil
		}
		done, err := s.enrollments.Complete(ctx, enr.ID, sc.Now())
		return advanceResult{Advanced: true, Completed: done}, err
	})
	if err != nil {
		return nil, err
	}
	if !adv.Advanced {
		sc.Logger().Info("enrollment moved on without this step", "enrollment_id", enr.ID, "step_index", evt.StepIndex)
		return result, nil
	}

	if next < len(enr.Steps) {
		_, err = sc.SendEvent(ctx, "schedule-next-step", stepDue(evt.AccountRef, enr, next))
	} else if adv.Completed {
		result.Completed = true
		_, err = sc.SendEvent(ctx, "emit-sequence-completed", events.OutreachSequenceCompleted{
			BaseEvent:    events.NewBaseEvent(),
			AccountRef:   evt.AccountRef,
			ContactID:    evt.ContactID,
			EnrollmentID: enr.ID,
			Outcome:      OutcomeCompleted,
		})
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

type replyContext struct {
	Found     bool    `json:"found"`
	Score     int     `json:"score"`
	DealValue float64 `json:"dealValue"`
	HotFloor  int     `json:"hotFloor"`
}

func (s *Service) handleReply(ctx context.Context, sc *workflow.StepContext) (any, error) {
	evt, err := workflow.EventAs[events.OutreachReplyReceived](sc)
	if err != nil {
		return nil, err
	}
	if evt.Sentiment == "" {
		evt.Sentiment, err = workflow.Run(ctx, sc, "classify-reply", func(ctx context.Context) (string, error) {
			return s.classifier.Classify(ctx, evt.Body), nil
		})
		if err != nil {
			return nil, err
		}
	}

	paused, err := workflow.Run(ctx, sc, "pause-enrollment", func(ctx context.Context) ([]uuid.UUID, error) {
		reason := fmt.Sprintf("%s reply via %s", evt.Sentiment, evt.Channel)
		return s.enrollments.PauseActiveForContact(ctx, evt.AccountID, evt.ContactID, reason, sc.Now())
	})
	if err != nil {
		return nil, err
	}
	if len(paused) > 0 {
		replied := make([]events.Event, 0, len(paused))
		for _, id := range paused {
			replied = append(replied, events.OutreachSequenceCompleted{
				BaseEvent:    events.NewBaseEvent(),
				AccountRef:   evt.AccountRef,
				ContactID:    evt.ContactID,
				EnrollmentID: id,
				Outcome:      OutcomeReplied,
			})
		}
		if _, err := sc.SendEvent(ctx, "emit-sequence-replied", replied...); err != nil {
			return nil, err
		}
		sc.Logger().Info("outreach paused on reply", "contact_id", evt.ContactID, "enrollments", len(paused))
	}

	err = workflow.Do(ctx, sc, "update-contact", func(ctx context.Context) error {
		fields := map[string]any{
			"last_reply_channel": evt.Channel,
			"reply_sentiment":    evt.Sentiment,
			"replied_at":         sc.Now().Format(time.RFC3339),
		}
		switch evt.Sentiment {
		case SentimentPositive:
			if _, err := s.contacts.SetStage(ctx, evt.AccountID, evt.ContactID, contacts.StageQualified, contacts.StageLead, contacts.StageContacted); err != nil {
				return err
			}
		case SentimentNegative:
			fields["disqualified_reason"] = "negative_reply"
		}
		if err := s.contacts.MergeExtensionFields(ctx, evt.AccountID, evt.ContactID, fields); err != nil && !errors.Is(err, contacts.ErrNotFound) {
			return err
		}
		return contacts.Log(ctx, s.contacts, evt.AccountID, evt.ContactID, contacts.ActivityOutreachReply, map[string]any{
			"channel":   evt.Channel,
			"sentiment": evt.Sentiment,
		})
	})
	if err != nil {
		return nil, err
	}
	if evt.Sentiment != SentimentPositive {
		return map[string]any{"handled": true, "sentiment": evt.Sentiment}, nil
	}

	rc, err := workflow.Run(ctx, sc, "check-lead-score", func(ctx context.Context) (replyContext, error) {
		c, err := s.contacts.Get(ctx, evt.AccountID, evt.ContactID)
		if errors.Is(err, contacts.ErrNotFound) {
			return replyContext{}, nil
		}
		if err != nil {
			return replyContext{}, err
		}
		th, err := s.calibration.Thresholds(ctx, evt.AccountID)
		if err != nil {
			return replyContext{}, fmt.Errorf("load calibration: %w", err)
		}
		return replyContext{Found: true, Score: c.Score, DealValue: c.DealValue, HotFloor: th.HotFloor}, nil
	})
	if err != nil {
		return nil, err
	}
	if !rc.Found || rc.Score < rc.HotFloor {
		return map[string]any{"handled": true, "sentiment": evt.Sentiment, "hot": false}, nil
	}

	err = workflow.Do(ctx, sc, "log-hot-lead", func(ctx context.Context) error {
		return contacts.Log(ctx, s.contacts, evt.AccountID, evt.ContactID, contacts.ActivityHotLeadIdentified, map[string]any{
			"source":     "outreach_reply",
			"channel":    evt.Channel,
			"lead_score": rc.Score,
			"deal_value": rc.DealValue,
		})
	})
	if err != nil {
		return nil, err
	}
	_, err = sc.SendEvent(ctx, "emit-escalation", events.LeadEscalation{
		BaseEvent:  events.NewBaseEvent(),
		AccountRef: evt.AccountRef,
		ContactID:  evt.ContactID,
		Reason:     "positive_reply",
	})
	if err != nil {
		return nil, err
	}
	sc.Logger().Info("hot lead identified", "contact_id", evt.ContactID, "score", rc.Score)
	return map[string]any{"handled": true, "sentiment": evt.Sentiment, "hot": true}, nil
}

type scoreSnapshot struct {
	Found bool `json:"found"`
	Score int  `json:"score"`
}

func (s *Service) autoEnroll(ctx context.Context, sc *workflow.StepContext) (any, error) {
	evt, err := workflow.EventAs[events.LeadRouted](sc)
	if err != nil {
		return nil, err
	}
	if evt.Mode == contacts.ModeHybrid {
		return map[string]string{"skipped": SkipHumanOwned}, nil
	}

	snap, err := workflow.Run(ctx, sc, "get-contact-score", func(ctx context.Context) (scoreSnapshot, error) {
		c, err := s.contacts.Get(ctx, evt.AccountID, evt.ContactID)
		if errors.Is(err, contacts.ErrNotFound) {
			return scoreSnapshot{}, nil
		}
		return scoreSnapshot{Found: err == nil, Score: c.Score}, err
	})
	if err != nil {
		return nil, err
	}
	if !snap.Found {
		return map[string]string{"skipped": SkipContactNotFound}, nil
	}

	template := TemplateForScore(snap.Score)
	_, err = sc.SendEvent(ctx, "enroll-in-outreach", events.OutreachEnroll{
		BaseEvent:        events.NewBaseEvent(),
		AccountRef:       evt.AccountRef,
		ContactID:        evt.ContactID,
		SequenceTemplate: template,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"template": template, "score": snap.Score}, nil
}

func (s *Service) sequenceCompleted(ctx context.Context, sc *workflow.StepContext) (any, error) {
	evt, err := workflow.EventAs[events.OutreachSequenceCompleted](sc)
	if err != nil {
		return nil, err
	}
	err = workflow.Do(ctx, sc, "log-completion", func(ctx context.Context) error {
		err := contacts.Log(ctx, s.contacts, evt.AccountID, evt.ContactID, contacts.ActivityOutreachCompleted, map[string]any{
			"enrollment_id": evt.EnrollmentID,
			"outcome":       evt.Outcome,
		})
		if err != nil {
			return err
		}
		if evt.Outcome != OutcomeCompleted {
			return nil
		}
		err = s.contacts.MergeExtensionFields(ctx, evt.AccountID, evt.ContactID, map[string]any{
			"outreach_outcome":      "no_response",
			"outreach_completed_at": sc.Now().Format(time.RFC3339),
		})
		if errors.Is(err, contacts.ErrNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return map[string]string{"outcome": evt.Outcome}, nil
}

// Cancel pauses an active enrollment. The pending step run sees the pause at
// its next resume point and stops.
func (s *Service) Cancel(ctx context.Context, accountID string, id uuid.UUID, now time.Time) (Enrollment, error) {
	e, err := s.enrollments.Get(ctx, accountID, id)
	if err != nil {
		return Enrollment{}, err
	}
	if _, err := s.enrollments.Pause(ctx, accountID, id, OutcomeCancelled, now); err != nil {
		return Enrollment{}, err
	}
	return s.enrollments.Get(ctx, accountID, e.ID)
}

// Progress reports how far an enrollment has come.
func (s *Service) Progress(ctx context.Context, accountID string, id uuid.UUID) (Progress, error) {
	e, err := s.enrollments.Get(ctx, accountID, id)
	if err != nil {
		return Progress{}, err
	}
	return ProgressOf(e), nil
}
