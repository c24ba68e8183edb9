package calling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"salespipeline_backend/internal/contacts"
	"salespipeline_backend/internal/events"
	"salespipeline_backend/internal/telephony"
	"salespipeline_backend/internal/workflow"
	"salespipeline_backend/platform/logger"

	"github.com/google/uuid"
)

const (
	InitiateFunctionID = "calling.initiate-call"
	AnalyzeFunctionID  = "calling.analyze-call"
)

const (
	defaultRetryDelay = 4 * time.Hour
	priorityRetry     = "retry"
)

// ContactStore is the contact access calling needs.
type ContactStore interface {
	ContactReader
	SetStage(ctx context.Context, accountID string, id uuid.UUID, stage contacts.Stage, from ...contacts.Stage) (bool, error)
	contacts.ActivityLogger
}

type Options struct {
	Contacts    ContactStore
	Calls       Store
	Telephony   Telephony
	Coordinator *Coordinator
	Analyzer    *Analyzer
	Gate        GateConfig

	// RetryDelay is how long a voicemail or unanswered call waits before
	// it is placed again.
	RetryDelay     time.Duration
	DefaultAgentID string
	Logger         *logger.Logger
}

type Service struct {
	contacts       ContactStore
	calls          Store
	telephony      Telephony
	coordinator    *Coordinator
	analyzer       *Analyzer
	gate           Gate
	retryDelay     time.Duration
	defaultAgentID string
	log            *logger.Logger
}

func NewService(opts Options) *Service {
	s := &Service{
		contacts:       opts.Contacts,
		calls:          opts.Calls,
		telephony:      opts.Telephony,
		coordinator:    opts.Coordinator,
		analyzer:       opts.Analyzer,
		retryDelay:     opts.RetryDelay,
		defaultAgentID: opts.DefaultAgentID,
		log:            opts.Logger,
	}
	if s.log == nil {
		s.log = logger.Discard()
	}
	if s.coordinator == nil {
		s.coordinator = NewCoordinator(CoordinatorOptions{Calls: opts.Calls, Contacts: opts.Contacts, Logger: s.log})
	}
	if s.analyzer == nil {
		s.analyzer = NewAnalyzer(nil)
	}
	if s.retryDelay <= 0 {
		s.retryDelay = defaultRetryDelay
	}
	if s.defaultAgentID == "" {
		s.defaultAgentID = "default"
	}
	s.gate = Gate{Telephony: opts.Telephony, Contacts: opts.Contacts, Calls: opts.Calls, Config: opts.Gate}
	return s
}

func (s *Service) Functions() []workflow.Function {
	return []workflow.Function{
		{
			ID:          InitiateFunctionID,
			Triggers:    []workflow.Trigger{workflow.OnEvent(events.CallInitiated{}.EventName())},
			Retries:     2,
			Concurrency: 5,
			Throttle:    &workflow.Throttle{Limit: 10, Period: time.Minute, Key: workflow.ByAccount},
			Handler:     s.initiate,
		},
		{
			ID:       AnalyzeFunctionID,
			Triggers: []workflow.Trigger{workflow.OnEvent(events.CallCompleted{}.EventName())},
			Retries:  2,
			Handler:  s.analyze,
		},
	}
}

// InitiateResult is the output of an initiate-call run.
type InitiateResult struct {
	Placed         bool      `json:"placed"`
	Reason         string    `json:"reason,omitempty"`
	CallID         uuid.UUID `json:"callId,omitempty"`
	ProviderCallID string    `json:"providerCallId,omitempty"`
}

func (s *Service) initiate(ctx context.Context, sc *workflow.StepContext) (any, error) {
	evt, err := workflow.EventAs[events.CallInitiated](sc)
	if err != nil {
		return nil, err
	}
	agentID := evt.AgentID
	if agentID == "" {
		agentID = s.defaultAgentID
	}

	gate, err := workflow.Run(ctx, sc, "pre-call-checks", func(ctx context.Context) (GateResult, error) {
		return s.gate.Check(ctx, evt.AccountID, evt.ContactID, agentID, sc.Now())
	})
	if err != nil {
		return nil, err
	}
	if !gate.Pass {
		err := workflow.Do(ctx, sc, "log-skip", func(ctx context.Context) error {
			return contacts.Log(ctx, s.contacts, evt.AccountID, evt.ContactID, contacts.ActivityCallSkipped, map[string]any{
				"reason":   gate.Reason,
				"agent_id": agentID,
			})
		})
		sc.Logger().Info("call skipped", "contact_id", evt.ContactID, "reason", gate.Reason)
		return InitiateResult{Reason: gate.Reason}, err
	}

	rec, err := workflow.Run(ctx, sc, "create-call-record", func(ctx context.Context) (CallRecord, error) {
		return s.calls.CreateCall(ctx, CallRecord{
			ID:          uuid.NewSHA1(sc.RunID, []byte("call")),
			AccountID:   evt.AccountID,
			ContactID:   evt.ContactID,
			AgentID:     gate.Agent.ID,
			PhoneNumber: gate.Contact.Phone,
			Status:      StatusQueued,
		})
	})
	if err != nil {
		return nil, err
	}

	s.coordinator.Begin(rec, gate.Agent, gate.Contact)

	providerCallID, err := workflow.Run(ctx, sc, "dial", func(ctx context.Context) (string, error) {
		id, err := s.telephony.PlaceCall(ctx, telephony.CallRequest{
			CallID:        rec.ID.String(),
			To:            rec.PhoneNumber,
			MaxDuration:   gate.Agent.MaxCallDuration,
			Record:        true,
			DetectMachine: true,
		})
		if errors.Is(err, telephony.ErrNotConfigured) {
			return "", workflow.NonRetriable(err)
		}
		return id, err
	})
	if err != nil {
		s.coordinator.conversations.End(rec.ID)
		if uerr := s.calls.UpdateStatus(ctx, rec.ID, StatusFailed, 0); uerr != nil {
			s.log.Warn("mark call failed", "call_id", rec.ID, "error", uerr)
		}
		return nil, fmt.Errorf("dial contact: %w", err)
	}

	err = workflow.Do(ctx, sc, "mark-ringing", func(ctx context.Context) error {
		return s.calls.MarkDialed(ctx, rec.ID, providerCallID)
	})
	if err != nil {
		return nil, err
	}

	err = workflow.Do(ctx, sc, "log-initiated", func(ctx context.Context) error {
		return contacts.Log(ctx, s.contacts, evt.AccountID, evt.ContactID, contacts.ActivityCallInitiated, map[string]any{
			"call_id":          rec.ID.String(),
			"provider_call_id": providerCallID,
			"agent_id":         gate.Agent.ID,
			"priority":         evt.Priority,
			"retry":            evt.Retry,
		})
	})
	if err != nil {
		return nil, err
	}

	sc.Logger().Info("call placed", "contact_id", evt.ContactID, "call_id", rec.ID)
	return InitiateResult{Placed: true, CallID: rec.ID, ProviderCallID: providerCallID}, nil
}

type callContext struct {
	Found     bool             `json:"found"`
	Finalized bool             `json:"finalized"`
	Call      CallRecord       `json:"call"`
	Agent     Agent            `json:"agent"`
	Contact   contacts.Contact `json:"contact"`
}

type conversationResult struct {
	Transcript []TranscriptEntry `json:"transcript"`
	Usage      Usage             `json:"usage"`
}

// AnalyzeResult is the output of an analyze-call run.
type AnalyzeResult struct {
	Outcome    string        `json:"outcome,omitempty"`
	NextAction string        `json:"nextAction,omitempty"`
	Cost       CostBreakdown `json:"cost"`
	Skipped    string        `json:"skipped,omitempty"`
}

func (s *Service) analyze(ctx context.Context, sc *workflow.StepContext) (any, error) {
	evt, err := workflow.EventAs[events.CallCompleted](sc)
	if err != nil {
		return nil, err
	}

	cc, err := workflow.Run(ctx, sc, "load-call", func(ctx context.Context) (callContext, error) {
		rec, err := s.calls.GetCall(ctx, evt.CallID)
		if errors.Is(err, ErrCallNotFound) {
			return callContext{}, nil
		}
		if err != nil {
			return callContext{}, err
		}
		out := callContext{Found: true, Finalized: rec.Analysis != nil, Call: rec}
		if agent, err := s.calls.GetAgent(ctx, rec.AccountID, rec.AgentID); err == nil {
			out.Agent = agent
		}
		if c, err := s.contacts.Get(ctx, rec.AccountID, rec.ContactID); err == nil {
			out.Contact = c
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	if !cc.Found {
		return AnalyzeResult{Skipped: "call_not_found"}, nil
	}
	if cc.Finalized {
		return AnalyzeResult{Skipped: "already_analyzed", Outcome: cc.Call.Analysis.Outcome}, nil
	}
	rec := cc.Call

	conv, err := workflow.Run(ctx, sc, "end-conversation", func(ctx context.Context) (conversationResult, error) {
		transcript, usage, err := s.coordinator.End(ctx, rec.ID)
		if err != nil {
			return conversationResult{}, err
		}
		return conversationResult{Transcript: transcript, Usage: usage}, nil
	})
	if err != nil {
		return nil, err
	}

	analysis, err := workflow.Run(ctx, sc, "analyze", func(ctx context.Context) (Analysis, error) {
		a, err := s.analyzer.Analyze(ctx, cc.Agent, conv.Transcript, rec.AnsweredBy)
		if err != nil {
			sc.Logger().Warn("call analysis fell back to neutral", "call_id", rec.ID, "error", err)
		}
		return a, nil
	})
	if err != nil {
		return nil, err
	}

	duration := evt.DurationSecs
	if duration <= 0 {
		duration = rec.DurationSecs
	}
	cost := ComputeCost(duration, conv.Usage, cc.Agent.VoiceProvider)

	err = workflow.Do(ctx, sc, "finalize", func(ctx context.Context) error {
		return s.calls.Finalize(ctx, rec.ID, Finalization{
			DurationSecs: duration,
			Transcript:   conv.Transcript,
			Analysis:     analysis,
			Cost:         cost,
		})
	})
	if err != nil {
		return nil, err
	}

	action := NextAction(analysis.Outcome)
	err = workflow.Do(ctx, sc, "apply-next-action", func(ctx context.Context) error {
		switch action {
		case ActionMoveToNegotiation:
			if _, err := s.contacts.SetStage(ctx, rec.AccountID, rec.ContactID, contacts.StageNegotiation,
				contacts.StageLead, contacts.StageContacted, contacts.StageQualified, contacts.StageProposal); err != nil {
				return err
			}
		case ActionMoveToNurture:
			if _, err := s.contacts.SetStage(ctx, rec.AccountID, rec.ContactID, contacts.StageLost,
				contacts.StageLead, contacts.StageContacted, contacts.StageQualified); err != nil {
				return err
			}
		}
		return contacts.Log(ctx, s.contacts, rec.AccountID, rec.ContactID, contacts.ActivityCallAnalyzed, map[string]any{
			"call_id":     rec.ID.String(),
			"outcome":     analysis.Outcome,
			"sentiment":   analysis.Sentiment,
			"score":       analysis.Score,
			"summary":     analysis.Summary,
			"next_action": action,
			"cost":        cost.Total,
			"duration":    duration,
		})
	})
	if err != nil {
		return nil, err
	}

	_, err = sc.SendEvent(ctx, "emit-followup", events.FollowUpTrigger{
		BaseEvent:    events.NewBaseEvent(),
		AccountRef:   events.AccountRef{AccountID: rec.AccountID},
		ContactID:    rec.ContactID,
		CallID:       rec.ID,
		Outcome:      analysis.Outcome,
		ContactName:  cc.Contact.FullName(),
		ContactEmail: cc.Contact.Email,
		ContactPhone: cc.Contact.Phone,
		CallSummary:  analysis.Summary,
		NextSteps:    analysis.NextSteps,
		AgentName:    cc.Agent.Name,
	})
	if err != nil {
		return nil, err
	}

	result := AnalyzeResult{Outcome: analysis.Outcome, NextAction: action, Cost: cost}
	if action != ActionRetryLater {
		return result, nil
	}

	// The gate's daily attempt cap bounds how often this repeats.
	if err := sc.Sleep(ctx, "wait-retry-delay", s.retryDelay); err != nil {
		return nil, err
	}
	_, err = sc.SendEvent(ctx, "schedule-retry", events.CallInitiated{
		BaseEvent:  events.NewBaseEvent(),
		AccountRef: events.AccountRef{AccountID: rec.AccountID},
		ContactID:  rec.ContactID,
		AgentID:    rec.AgentID,
		Priority:   priorityRetry,
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
