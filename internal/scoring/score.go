// Package scoring computes the 0-100 lead score and runs the scoring
// function on contact.created.
package scoring

import (
	"strings"

	"salespipeline_backend/internal/contacts"
)

const (
	minScore = 0
	maxScore = 100

	// engagementPerActivity is awarded per logged activity up to engagementCap.
	engagementPerActivity = 4
	engagementCap         = 20
)

// Weights is the point table used by Compute.
type Weights struct {
	CompletenessField int // per present email, phone, company, title
	EnrichmentBonus   int
	DealValueBonus    int // any positive deal value
	LargeDealBonus    int // on top of DealValueBonus above LargeDealValue
	LargeDealValue    float64
	ConsentPenalty    int // both do-not-call and do-not-email
	StageBonus        map[contacts.Stage]int
	SourceBonus       map[string]int
}

// DefaultWeights returns the stock point table.
func DefaultWeights() Weights {
	return Weights{
		CompletenessField: 5,
		EnrichmentBonus:   15,
		DealValueBonus:    10,
		LargeDealBonus:    5,
		LargeDealValue:    10000,
		ConsentPenalty:    20,
		StageBonus: map[contacts.Stage]int{
			contacts.StageLead:        0,
			contacts.StageContacted:   3,
			contacts.StageQualified:   8,
			contacts.StageProposal:    12,
			contacts.StageNegotiation: 15,
		},
		SourceBonus: map[string]int{
			"referral": 10,
			"inbound":  8,
			"linkedin": 6,
			"website":  5,
			"import":   3,
			"manual":   2,
			"cold":     1,
		},
	}
}

// Snapshot is the subset of a contact the score depends on.
type Snapshot struct {
	HasEmail   bool
	HasPhone   bool
	HasCompany bool
	HasTitle   bool
	Enriched   bool
	DealValue  float64
	Stage      contacts.Stage
	Source     string
	DoNotCall  bool
	DoNotEmail bool
}

// SnapshotOf extracts the scoring inputs from c.
func SnapshotOf(c contacts.Contact) Snapshot {
	return Snapshot{
		HasEmail:   strings.TrimSpace(c.Email) != "",
		HasPhone:   strings.TrimSpace(c.Phone) != "",
		HasCompany: strings.TrimSpace(c.Company) != "",
		HasTitle:   strings.TrimSpace(c.Title) != "",
		Enriched:   c.Enriched(),
		DealValue:  c.DealValue,
		Stage:      c.Stage,
		Source:     strings.ToLower(strings.TrimSpace(c.Source)),
		DoNotCall:  c.DoNotCall,
		DoNotEmail: c.DoNotEmail,
	}
}

// Result is a score with the points each signal contributed.
type Result struct {
	Score   int            `json:"score"`
	Signals map[string]int `json:"signals"`
}

// Compute scores a snapshot. It is pure: the same inputs always give the
// same result.
func Compute(s Snapshot, activityCount int, w Weights) Result {
	signals := make(map[string]int)
	add := func(name string, points int) {
		if points != 0 {
			signals[name] = points
		}
	}

	completeness := 0
	for _, present := range []bool{s.HasEmail, s.HasPhone, s.HasCompany, s.HasTitle} {
		if present {
			completeness += w.CompletenessField
		}
	}
	add("completeness", completeness)

	if s.Enriched {
		add("enrichment", w.EnrichmentBonus)
	}

	deal := 0
	if s.DealValue > 0 {
		deal += w.DealValueBonus
		if s.DealValue > w.LargeDealValue {
			deal += w.LargeDealBonus
		}
	}
	add("deal_value", deal)

	add("engagement", min(engagementPerActivity*max(activityCount, 0), engagementCap))
	add("stage", w.StageBonus[s.Stage])
	add("source", w.SourceBonus[s.Source])

	if s.DoNotCall && s.DoNotEmail {
		add("consent_penalty", -w.ConsentPenalty)
	}

	total := 0
	for _, points := range signals {
		total += points
	}
	return Result{Score: clamp(total), Signals: signals}
}

func clamp(v int) int {
	return max(minScore, min(maxScore, v))
}
