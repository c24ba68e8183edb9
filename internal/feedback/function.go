package feedback

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"time"

	"salespipeline_backend/internal/calling"
	"salespipeline_backend/internal/contacts"
	"salespipeline_backend/internal/events"
	"salespipeline_backend/internal/workflow"
	"salespipeline_backend/platform/logger"

	"github.com/google/uuid"
)

const (
	RecordFunctionID           = "feedback.record-outcome"
	RecalibrateFunctionID      = "feedback.recalibrate"
	MonthlyFunctionID          = "feedback.recalibrate-monthly"
	AgentPerformanceFunctionID = "feedback.agent-performance"
)

const (
	TriggerOutcomeThreshold = "outcome_threshold"
	TriggerMonthly          = "monthly"
)

// SkipContactNotFound marks a closed deal whose contact no longer exists.
const SkipContactNotFound = "contact_not_found"

const (
	journeyActivityLimit = 50
	performancePeriod    = 7 * 24 * time.Hour
)

var outreachActivityTypes = []string{
	contacts.ActivityOutreachSent,
	contacts.ActivityOutreachReply,
	contacts.ActivityOutreachSkipped,
	contacts.ActivityOutreachCompleted,
}

// ContactStore is the contact access feedback needs.
type ContactStore interface {
	Get(ctx context.Context, accountID string, id uuid.UUID) (contacts.Contact, error)
	ListActivities(ctx context.Context, accountID string, contactID uuid.UUID, limit int) ([]contacts.Activity, error)
	SetStage(ctx context.Context, accountID string, id uuid.UUID, stage contacts.Stage, from ...contacts.Stage) (bool, error)
	ListAccounts(ctx context.Context) ([]string, error)
	CountActivitiesByType(ctx context.Context, accountID string, types []string, since time.Time) (map[string]int, error)
	contacts.ActivityLogger
}

// CallLister reads call records for performance snapshots.
type CallLister interface {
	ListCallsSince(ctx context.Context, accountID string, since time.Time) ([]calling.CallRecord, error)
}

type Options struct {
	Store    Store
	Contacts ContactStore
	Calls    CallLister
	Logger   *logger.Logger
}

type Service struct {
	store    Store
	contacts ContactStore
	calls    CallLister
	log      *logger.Logger
}

func NewService(opts Options) *Service {
	s := &Service{store: opts.Store, contacts: opts.Contacts, calls: opts.Calls, log: opts.Logger}
	if s.log == nil {
		s.log = logger.Discard()
	}
	return s
}

func (s *Service) Functions() []workflow.Function {
	return []workflow.Function{
		{
			ID: RecordFunctionID,
			Triggers: []workflow.Trigger{
				workflow.OnEvent(events.DealWon{}.EventName()),
				workflow.OnEvent(events.DealLost{}.EventName()),
			},
			Handler: s.record,
		},
		{
			ID:          RecalibrateFunctionID,
			Triggers:    []workflow.Trigger{workflow.OnEvent(events.FeedbackRecalibrate{}.EventName())},
			Concurrency: 1,
			Handler:     s.recalibrate,
		},
		{
			ID:       MonthlyFunctionID,
			Triggers: []workflow.Trigger{workflow.OnCron("0 3 1 * *")},
			Handler:  s.recalibrateMonthly,
		},
		{
			ID:       AgentPerformanceFunctionID,
			Triggers: []workflow.Trigger{workflow.OnCron("0 4 * * 0")},
			Handler:  s.agentPerformance,
		},
	}
}

type closedDeal struct {
	AccountID  string
	ContactID  uuid.UUID
	Outcome    string
	Stage      contacts.Stage
	Activity   string
	DealValue  float64
	LostReason string
}

func dealFromEvent(evt any) (closedDeal, error) {
	switch e := evt.(type) {
	case events.DealWon:
		return closedDeal{AccountID: e.AccountID, ContactID: e.ContactID, Outcome: OutcomeWon,
			Stage: contacts.StageWon, Activity: contacts.ActivityDealWon, DealValue: e.DealValue}, nil
	case events.DealLost:
		return closedDeal{AccountID: e.AccountID, ContactID: e.ContactID, Outcome: OutcomeLost,
			Stage: contacts.StageLost, Activity: contacts.ActivityDealLost, DealValue: e.DealValue, LostReason: e.LostReason}, nil
	default:
		return closedDeal{}, workflow.NonRetriable(fmt.Errorf("unexpected trigger %T", evt))
	}
}

// RecordResult is the output of a record-outcome run.
type RecordResult struct {
	Outcome       string `json:"outcome"`
	Duplicate     bool   `json:"duplicate,omitempty"`
	Skipped       string `json:"skipped,omitempty"`
	RecentCount   int    `json:"recentCount"`
	Recalibration bool   `json:"recalibration,omitempty"`
}

func (s *Service) record(ctx context.Context, sc *workflow.StepContext) (any, error) {
	deal, err := dealFromEvent(sc.Event)
	if err != nil {
		return nil, err
	}

	outcome, err := workflow.Run(ctx, sc, "snapshot", func(ctx context.Context) (Outcome, error) {
		c, err := s.contacts.Get(ctx, deal.AccountID, deal.ContactID)
		if errors.Is(err, contacts.ErrNotFound) {
			return Outcome{}, nil
		}
		if err != nil {
			return Outcome{}, fmt.Errorf("load contact: %w", err)
		}
		activities, err := s.contacts.ListActivities(ctx, deal.AccountID, deal.ContactID, journeyActivityLimit)
		if err != nil {
			return Outcome{}, fmt.Errorf("load activities: %w", err)
		}
		return Outcome{
			ID:                 uuid.NewSHA1(sc.RunID, []byte("outcome")),
			IdempotencyKey:     sc.Envelope.ID,
			AccountID:          deal.AccountID,
			ContactID:          deal.ContactID,
			Outcome:            deal.Outcome,
			DealValue:          deal.DealValue,
			LostReason:         deal.LostReason,
			LeadScoreAtClose:   c.Score,
			Source:             c.Source,
			EnrichmentSnapshot: c.ExtensionFields,
			Journey:            journeyOf(c, activities, sc.Now()),
			CreatedAt:          sc.Now(),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	if outcome.ID == uuid.Nil {
		sc.Logger().Warn("deal closed for unknown contact", "contact_id", deal.ContactID, "outcome", deal.Outcome)
		return RecordResult{Outcome: deal.Outcome, Skipped: SkipContactNotFound}, nil
	}

	inserted, err := workflow.Run(ctx, sc, "insert-outcome", func(ctx context.Context) (bool, error) {
		return s.store.InsertOutcome(ctx, outcome)
	})
	if err != nil {
		return nil, err
	}
	if !inserted {
		sc.Logger().Info("outcome already recorded", "contact_id", deal.ContactID, "key", outcome.IdempotencyKey)
		return RecordResult{Outcome: deal.Outcome, Duplicate: true}, nil
	}

	err = workflow.Do(ctx, sc, "close-deal", func(ctx context.Context) error {
		if _, err := s.contacts.SetStage(ctx, deal.AccountID, deal.ContactID, deal.Stage); err != nil {
			return err
		}
		details := map[string]any{"deal_value": deal.DealValue}
		if deal.LostReason != "" {
			details["lost_reason"] = deal.LostReason
		}
		return contacts.Log(ctx, s.contacts, deal.AccountID, deal.ContactID, deal.Activity, details)
	})
	if err != nil {
		return nil, err
	}

	count, err := workflow.Run(ctx, sc, "check-recalibration", func(ctx context.Context) (int, error) {
		return s.store.CountOutcomesSince(ctx, deal.AccountID, sc.Now().Add(-recentOutcomeWindow))
	})
	if err != nil {
		return nil, err
	}
	res := RecordResult{Outcome: deal.Outcome, RecentCount: count}
	if count > 0 && count%recalibrateEvery == 0 {
		_, err := sc.SendEvent(ctx, "request-recalibration", events.FeedbackRecalibrate{
			BaseEvent:  events.NewBaseEvent(),
			AccountRef: events.AccountRef{AccountID: deal.AccountID},
			Trigger:    TriggerOutcomeThreshold,
		})
		if err != nil {
			return nil, err
		}
		res.Recalibration = true
	}
	return res, nil
}

func journeyOf(c contacts.Contact, activities []contacts.Activity, now time.Time) Journey {
	j := Journey{Touchpoints: len(activities), Channels: []string{}}
	if !c.CreatedAt.IsZero() {
		j.Days = int(now.Sub(c.CreatedAt).Hours() / 24)
	}
	seen := make(map[string]bool)
	for _, a := range activities {
		if !seen[a.Type] {
			seen[a.Type] = true
			j.Channels = append(j.Channels, a.Type)
		}
	}
	slices.Sort(j.Channels)
	return j
}

// RecalibrationResult is the output of a recalibration.
type RecalibrationResult struct {
	Status        string     `json:"status"`
	OutcomeCount  int        `json:"outcomeCount"`
	CalibrationID *uuid.UUID `json:"calibrationId,omitempty"`
}

// Recalibrate analyzes the trailing outcomes of an account and stores a new
// calibration when there are enough of them.
func (s *Service) Recalibrate(ctx context.Context, accountID string, id uuid.UUID, now time.Time) (RecalibrationResult, error) {
	outcomes, err := s.store.ListOutcomesSince(ctx, accountID, now.Add(-calibrationWindow), calibrationLimit)
	if err != nil {
		return RecalibrationResult{}, fmt.Errorf("list outcomes: %w", err)
	}
	if len(outcomes) < minOutcomesForCalibration {
		return RecalibrationResult{Status: StatusInsufficientData, OutcomeCount: len(outcomes)}, nil
	}

	analysis, recs := Analyze(outcomes)
	cal := Calibration{
		ID:              id,
		AccountID:       accountID,
		Analysis:        analysis,
		Recommendations: recs,
		OutcomeCount:    len(outcomes),
		CreatedAt:       now,
	}
	if err := s.store.SaveCalibration(ctx, cal); err != nil {
		return RecalibrationResult{}, fmt.Errorf("save calibration: %w", err)
	}
	s.log.Info("scoring recalibrated", "account_id", accountID, "outcomes", len(outcomes),
		"qualified_floor", recs.QualifiedFloor, "hot_floor", recs.HotFloor)
	return RecalibrationResult{Status: StatusCalibrated, OutcomeCount: len(outcomes), CalibrationID: &cal.ID}, nil
}

func (s *Service) recalibrate(ctx context.Context, sc *workflow.StepContext) (any, error) {
	evt, err := workflow.EventAs[events.FeedbackRecalibrate](sc)
	if err != nil {
		return nil, err
	}
	return workflow.Run(ctx, sc, "recalibrate", func(ctx context.Context) (RecalibrationResult, error) {
		return s.Recalibrate(ctx, evt.AccountID, uuid.NewSHA1(sc.RunID, []byte("calibration")), sc.Now())
	})
}

func (s *Service) recalibrateMonthly(ctx context.Context, sc *workflow.StepContext) (any, error) {
	accounts, err := workflow.Run(ctx, sc, "list-accounts", func(ctx context.Context) ([]string, error) {
		return s.contacts.ListAccounts(ctx)
	})
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return map[string]int{"accounts": 0}, nil
	}

	evts := make([]events.Event, 0, len(accounts))
	for _, acct := range accounts {
		evts = append(evts, events.FeedbackRecalibrate{
			BaseEvent:  events.NewBaseEvent(),
			AccountRef: events.AccountRef{AccountID: acct},
			Trigger:    TriggerMonthly,
		})
	}
	if _, err := sc.SendEvent(ctx, "fan-out", evts...); err != nil {
		return nil, err
	}
	return map[string]int{"accounts": len(accounts)}, nil
}

func (s *Service) agentPerformance(ctx context.Context, sc *workflow.StepContext) (any, error) {
	accounts, err := workflow.Run(ctx, sc, "list-accounts", func(ctx context.Context) ([]string, error) {
		return s.contacts.ListAccounts(ctx)
	})
	if err != nil {
		return nil, err
	}

	end := sc.CronTick
	if end.IsZero() {
		end = sc.Now()
	}
	start := end.Add(-performancePeriod)

	saved := 0
	for _, acct := range accounts {
		err := workflow.Do(ctx, sc, "snapshot-"+acct, func(ctx context.Context) error {
			snap, err := s.Snapshot(ctx, acct, start, end)
			if err != nil {
				return err
			}
			snap.ID = uuid.NewSHA1(sc.RunID, []byte(acct))
			return s.store.SavePerformance(ctx, snap)
		})
		if err != nil {
			return nil, err
		}
		saved++
	}
	return map[string]int{"snapshots": saved}, nil
}

// Snapshot aggregates call and outreach activity for one account between
// start and end.
func (s *Service) Snapshot(ctx context.Context, accountID string, start, end time.Time) (PerformanceSnapshot, error) {
	snap := PerformanceSnapshot{AccountID: accountID, PeriodStart: start, PeriodEnd: end, Agents: []AgentStats{}, CreatedAt: end}
	if s.calls != nil {
		calls, err := s.calls.ListCallsSince(ctx, accountID, start)
		if err != nil {
			return PerformanceSnapshot{}, fmt.Errorf("list calls: %w", err)
		}
		snap.Agents = AggregateCalls(calls, end)
	}
	outreach, err := s.contacts.CountActivitiesByType(ctx, accountID, outreachActivityTypes, start)
	if err != nil {
		return PerformanceSnapshot{}, fmt.Errorf("count outreach: %w", err)
	}
	snap.Outreach = outreach
	return snap, nil
}

// AggregateCalls groups calls created before end by agent. Only analyzed
// calls contribute to the average score.
func AggregateCalls(calls []calling.CallRecord, end time.Time) []AgentStats {
	type acc struct {
		stats    AgentStats
		scored   int
		score    float64
		duration float64
	}
	byAgent := make(map[string]*acc)
	for _, c := range calls {
		if !c.CreatedAt.Before(end) {
			continue
		}
		a, ok := byAgent[c.AgentID]
		if !ok {
			a = &acc{stats: AgentStats{AgentID: c.AgentID, Outcomes: map[string]int{}}}
			byAgent[c.AgentID] = a
		}
		a.stats.Calls++
		a.duration += float64(c.DurationSecs)
		if c.Analysis != nil {
			a.scored++
			a.score += float64(c.Analysis.Score)
			a.stats.Outcomes[c.Analysis.Outcome]++
		}
		if c.Cost != nil {
			a.stats.TotalCost += c.Cost.Total
		}
	}

	out := make([]AgentStats, 0, len(byAgent))
	for _, id := range slices.Sorted(maps.Keys(byAgent)) {
		a := byAgent[id]
		a.stats.AvgScore = round2(mean(a.score, a.scored))
		a.stats.AvgDurationSecs = round2(mean(a.duration, a.stats.Calls))
		a.stats.TotalCost = math.Round(a.stats.TotalCost*1e4) / 1e4
		out = append(out, a.stats)
	}
	slices.SortStableFunc(out, func(x, y AgentStats) int { return cmp.Compare(y.Calls, x.Calls) })
	return out
}
