package qualification

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"salespipeline_backend/internal/contacts"
	"salespipeline_backend/internal/events"
)

var (
	executiveTitles = []string{"ceo", "founder", "owner", "president", "chief", "cto", "cfo", "coo", "cmo", "cro", "cio"}
	seniorTitles    = []string{"vp", "vice president", "director", "head"}
	managerTitles   = []string{"manager", "lead"}
	crmCompetitors  = []string{"salesforce", "hubspot"}
)

// RuleQualifier scores BANT from contact data alone. It is always available.
type RuleQualifier struct{}

func (RuleQualifier) Name() string    { return "rules" }
func (RuleQualifier) Available() bool { return true }

func (RuleQualifier) Assess(_ context.Context, qc Context) (Assessment, error) {
	b := events.BANT{
		Budget:      ruleBudget(qc),
		Authority:   ruleAuthority(qc.Title),
		Need:        ruleNeed(qc),
		Timeline:    ruleTimeline(qc),
		Competition: ruleCompetition(qc.TechStack),
	}
	outcome := Classify(b)
	return Assessment{
		Outcome:           outcome,
		BANT:              b,
		Notes:             fmt.Sprintf("Rule-based qualification. Score: %d. Average BANT: %d.", qc.Score, int(math.Round(b.Mean()))),
		RecommendedAction: recommendedAction(outcome),
		Method:            MethodRules,
	}, nil
}

func ruleBudget(qc Context) int {
	v := 30
	if qc.DealValue > 5000 {
		v += 30
	}
	if qc.Funding != "" && !strings.EqualFold(qc.Funding, "unknown") {
		v += 20
	}
	if qc.CompanySize != "" {
		v += 10
	}
	return min(v, 100)
}

func ruleAuthority(title string) int {
	words := strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
		return r == ' ' || r == ',' || r == '/' || r == '-' || r == '&'
	})
	has := func(keys []string) bool {
		lower := strings.Join(words, " ")
		for _, k := range keys {
			if strings.Contains(k, " ") {
				if strings.Contains(lower, k) {
					return true
				}
				continue
			}
			for _, w := range words {
				if w == k {
					return true
				}
			}
		}
		return false
	}
	switch {
	case has(executiveTitles):
		return 90
	case has(seniorTitles):
		return 75
	case has(managerTitles):
		return 55
	default:
		return 30
	}
}

func ruleNeed(qc Context) int {
	v := 40
	if len(qc.PainPoints) > 0 {
		v += 30
	}
	if qc.Stage == contacts.StageContacted || qc.Stage == contacts.StageQualified {
		v += 15
	}
	return min(v, 100)
}

func ruleTimeline(qc Context) int {
	v := 35
	if qc.LastContactedAt != nil {
		since := qc.Now.Sub(*qc.LastContactedAt)
		switch {
		case since < 7*24*time.Hour:
			v += 35
		case since < 30*24*time.Hour:
			v += 15
		}
	}
	return min(v, 100)
}

func ruleCompetition(stack []string) int {
	for _, tool := range stack {
		lower := strings.ToLower(tool)
		for _, c := range crmCompetitors {
			if strings.Contains(lower, c) {
				return 30
			}
		}
	}
	return 50
}
