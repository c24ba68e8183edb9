package qualification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"salespipeline_backend/internal/events"
	"salespipeline_backend/internal/llm"
)

var errMalformed = errors.New("malformed qualification response")

const rubricPrompt = `You are a B2B sales qualification analyst. Assess the lead on the BANT+ framework.
Rate each dimension from 0 to 100:
- budget: ability and willingness to pay
- authority: decision-making power of the contact
- need: strength of the pain this product solves
- timeline: urgency to buy soon
- competition: how open the account is to switching (100 means no entrenched competitor)

Choose an outcome:
- qualified: strong fit, ready for sales engagement
- nurture: some fit, not ready yet
- disqualified: poor fit or a hard blocker

Respond with JSON only:
{"outcome":"qualified|nurture|disqualified","budget":0,"authority":0,"need":0,"timeline":0,"competition":0,"notes":"...","recommended_action":"..."}`

type llmAssessment struct {
	Outcome           string   `json:"outcome"`
	Budget            *float64 `json:"budget"`
	Authority         *float64 `json:"authority"`
	Need              *float64 `json:"need"`
	Timeline          *float64 `json:"timeline"`
	Competition       *float64 `json:"competition"`
	Notes             string   `json:"notes"`
	RecommendedAction string   `json:"recommended_action"`
}

// LLMQualifier asks a language model to rate the lead.
type LLMQualifier struct {
	completer llm.Completer
}

func NewLLMQualifier(c llm.Completer) *LLMQualifier {
	return &LLMQualifier{completer: c}
}

func (q *LLMQualifier) Name() string { return "llm" }

func (q *LLMQualifier) Available() bool {
	return q != nil && q.completer != nil && q.completer.Available()
}

func (q *LLMQualifier) Assess(ctx context.Context, qc Context) (Assessment, error) {
	if !q.Available() {
		return Assessment{}, llm.ErrUnavailable
	}
	req := llm.Prompt(rubricPrompt, "Qualify this lead:\n\n"+qc.Describe())
	req.JSON = true
	req.Temperature = 0.3
	req.MaxTokens = 500

	resp, err := q.completer.Complete(ctx, req)
	if err != nil {
		return Assessment{}, err
	}
	return parseAssessment(resp.Text)
}

func parseAssessment(text string) (Assessment, error) {
	raw := llm.ExtractJSON(text)
	if raw == "" {
		return Assessment{}, errMalformed
	}
	var out llmAssessment
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return Assessment{}, fmt.Errorf("%w: %v", errMalformed, err)
	}
	if out.Budget == nil || out.Authority == nil || out.Need == nil || out.Timeline == nil || out.Competition == nil {
		return Assessment{}, fmt.Errorf("%w: missing BANT dimension", errMalformed)
	}
	b := events.BANT{
		Budget:      clampScore(*out.Budget),
		Authority:   clampScore(*out.Authority),
		Need:        clampScore(*out.Need),
		Timeline:    clampScore(*out.Timeline),
		Competition: clampScore(*out.Competition),
	}

	// The model may flag a hard blocker the dimensions cannot express.
	outcome := Classify(b)
	if strings.EqualFold(strings.TrimSpace(out.Outcome), OutcomeDisqualified) {
		outcome = OutcomeDisqualified
	}
	action := strings.TrimSpace(out.RecommendedAction)
	if action == "" || outcome != strings.ToLower(strings.TrimSpace(out.Outcome)) {
		action = recommendedAction(outcome)
	}
	return Assessment{
		Outcome:           outcome,
		BANT:              b,
		Notes:             strings.TrimSpace(out.Notes),
		RecommendedAction: action,
		Method:            MethodLLM,
	}, nil
}

func clampScore(v float64) int {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return int(v + 0.5)
	}
}
