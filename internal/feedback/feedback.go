// Package feedback closes the loop from won and lost deals back into lead
// scoring: it records every closed deal, periodically recalibrates the score
// floors from those outcomes and snapshots agent performance.
package feedback

import (
	"cmp"
	"context"
	"errors"
	"math"
	"slices"
	"time"

	"salespipeline_backend/internal/scoring"

	"github.com/google/uuid"
)

var ErrNoCalibration = errors.New("no calibration")

// Deal outcomes.
const (
	OutcomeWon  = "won"
	OutcomeLost = "lost"
)

// Recalibration statuses.
const (
	StatusCalibrated       = "calibrated"
	StatusInsufficientData = "insufficient_data"
)

const (
	minOutcomesForCalibration = 10
	recalibrateEvery          = 20
	calibrationWindow         = 90 * 24 * time.Hour
	calibrationLimit          = 500
	recentOutcomeWindow       = 30 * 24 * time.Hour
	topLossReasons            = 5

	// A source needs minSourceOutcomes closed deals before its score points
	// are recalibrated. Its points are its win rate scaled to maxSourceBonus.
	minSourceOutcomes = 3
	maxSourceBonus    = 15
)

// Journey summarizes how a contact got to a closed deal.
type Journey struct {
	Days        int      `json:"days"`
	Touchpoints int      `json:"touchpoints"`
	Channels    []string `json:"channels"`
}

// Outcome is one closed deal. Outcomes are append-only.
type Outcome struct {
	ID                 uuid.UUID      `json:"id"`
	IdempotencyKey     string         `json:"idempotencyKey"`
	AccountID          string         `json:"accountId"`
	ContactID          uuid.UUID      `json:"contactId"`
	Outcome            string         `json:"outcome"`
	DealValue          float64        `json:"dealValue"`
	LostReason         string         `json:"lostReason,omitempty"`
	LeadScoreAtClose   int            `json:"leadScoreAtClose"`
	Source             string         `json:"source"`
	EnrichmentSnapshot map[string]any `json:"enrichmentSnapshot,omitempty"`
	Journey            Journey        `json:"journey"`
	CreatedAt          time.Time      `json:"createdAt"`
}

type SourceStat struct {
	Won  int `json:"won"`
	Lost int `json:"lost"`
}

type ReasonCount struct {
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}

// Analysis describes what separates won from lost deals.
type Analysis struct {
	AvgWinScore     float64               `json:"avgWinScore"`
	AvgLoseScore    float64               `json:"avgLoseScore"`
	ScoreSeparation float64               `json:"scoreSeparation"`
	Sources         map[string]SourceStat `json:"sources"`
	AvgWinDealValue float64               `json:"avgWinDealValue"`
	AvgDaysToWin    float64               `json:"avgDaysToWin"`
	WinRate         float64               `json:"winRate"`
	TopLossReasons  []ReasonCount         `json:"topLossReasons"`
}

type Recommendations struct {
	QualifiedFloor  int            `json:"qualifiedFloor"`
	HotFloor        int            `json:"hotFloor"`
	BestSources     []string       `json:"bestSources"`
	SourceBonus     map[string]int `json:"sourceBonus,omitempty"`
	AvgPipelineDays float64        `json:"avgPipelineDays"`
}

// Calibration is one recalibration result. The newest row per account is in
// force.
type Calibration struct {
	ID              uuid.UUID       `json:"id"`
	AccountID       string          `json:"accountId"`
	Analysis        Analysis        `json:"analysis"`
	Recommendations Recommendations `json:"recommendations"`
	OutcomeCount    int             `json:"outcomeCount"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// AgentStats aggregates one agent's calls over a period.
type AgentStats struct {
	AgentID         string         `json:"agentId"`
	Calls           int            `json:"calls"`
	AvgScore        float64        `json:"avgScore"`
	Outcomes        map[string]int `json:"outcomes"`
	TotalCost       float64        `json:"totalCost"`
	AvgDurationSecs float64        `json:"avgDurationSecs"`
}

// PerformanceSnapshot is the weekly agent and outreach summary.
type PerformanceSnapshot struct {
	ID          uuid.UUID      `json:"id"`
	AccountID   string         `json:"accountId"`
	PeriodStart time.Time      `json:"periodStart"`
	PeriodEnd   time.Time      `json:"periodEnd"`
	Agents      []AgentStats   `json:"agents"`
	Outreach    map[string]int `json:"outreach"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// Store persists outcomes, calibrations and performance snapshots.
type Store interface {
	// InsertOutcome reports false when the idempotency key already exists.
	InsertOutcome(ctx context.Context, o Outcome) (bool, error)
	CountOutcomesSince(ctx context.Context, accountID string, since time.Time) (int, error)
	ListOutcomesSince(ctx context.Context, accountID string, since time.Time, limit int) ([]Outcome, error)
	SaveCalibration(ctx context.Context, c Calibration) error
	LatestCalibration(ctx context.Context, accountID string) (Calibration, error)
	SavePerformance(ctx context.Context, s PerformanceSnapshot) error
}

func mean(sum float64, n int) float64 {
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Analyze computes the calibration analysis and recommendations for a set
// of outcomes.
func Analyze(outcomes []Outcome) (Analysis, Recommendations) {
	var (
		won, lost           int
		winScore, loseScore float64
		winValue, winDays   float64
	)
	sources := make(map[string]SourceStat)
	reasons := make(map[string]int)
	for _, o := range outcomes {
		source := o.Source
		if source == "" {
			source = "unknown"
		}
		stat := sources[source]
		switch o.Outcome {
		case OutcomeWon:
			won++
			stat.Won++
			winScore += float64(o.LeadScoreAtClose)
			winValue += o.DealValue
			winDays += float64(o.Journey.Days)
		case OutcomeLost:
			lost++
			stat.Lost++
			loseScore += float64(o.LeadScoreAtClose)
			if o.LostReason != "" {
				reasons[o.LostReason]++
			}
		}
		sources[source] = stat
	}

	a := Analysis{
		AvgWinScore:     round2(mean(winScore, won)),
		AvgLoseScore:    round2(mean(loseScore, lost)),
		Sources:         sources,
		AvgWinDealValue: round2(mean(winValue, won)),
		AvgDaysToWin:    round2(mean(winDays, won)),
		WinRate:         round2(mean(float64(won), won+lost)),
	}
	a.ScoreSeparation = round2(a.AvgWinScore - a.AvgLoseScore)

	for reason, n := range reasons {
		a.TopLossReasons = append(a.TopLossReasons, ReasonCount{Reason: reason, Count: n})
	}
	slices.SortFunc(a.TopLossReasons, func(x, y ReasonCount) int {
		if c := cmp.Compare(y.Count, x.Count); c != 0 {
			return c
		}
		return cmp.Compare(x.Reason, y.Reason)
	})
	if len(a.TopLossReasons) > topLossReasons {
		a.TopLossReasons = a.TopLossReasons[:topLossReasons]
	}

	r := Recommendations{
		QualifiedFloor:  max(30, int(math.Round(a.AvgLoseScore+10))),
		HotFloor:        max(60, int(math.Round(a.AvgWinScore-15))),
		AvgPipelineDays: a.AvgDaysToWin,
		BestSources:     []string{},
		SourceBonus:     make(map[string]int),
	}
	for source, stat := range sources {
		if stat.Won > stat.Lost {
			r.BestSources = append(r.BestSources, source)
		}
		if closed := stat.Won + stat.Lost; closed >= minSourceOutcomes && source != "unknown" {
			r.SourceBonus[source] = int(math.Round(float64(stat.Won) / float64(closed) * maxSourceBonus))
		}
	}
	slices.Sort(r.BestSources)
	return a, r
}

// Calibrations reads the thresholds in force from the latest calibration,
// falling back to the defaults.
type Calibrations struct {
	store Store
}

func NewCalibrations(store Store) *Calibrations {
	return &Calibrations{store: store}
}

func (c *Calibrations) Thresholds(ctx context.Context, accountID string) (scoring.Thresholds, error) {
	latest, err := c.store.LatestCalibration(ctx, accountID)
	if errors.Is(err, ErrNoCalibration) {
		return scoring.DefaultThresholds(), nil
	}
	if err != nil {
		return scoring.Thresholds{}, err
	}
	return scoring.Thresholds{
		Version:        latest.ID.String(),
		QualifiedFloor: latest.Recommendations.QualifiedFloor,
		HotFloor:       latest.Recommendations.HotFloor,
		SourceBonus:    latest.Recommendations.SourceBonus,
	}, nil
}

var _ scoring.CalibrationReader = (*Calibrations)(nil)
