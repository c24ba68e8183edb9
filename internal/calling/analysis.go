package calling

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strings"

	"salespipeline_backend/internal/llm"
	"salespipeline_backend/internal/tts"
)

// Next actions derived from a call outcome.
const (
	ActionMoveToNegotiation = "move_to_negotiation"
	ActionMoveToNurture     = "move_to_nurture"
	ActionRetryLater        = "retry_later"
	ActionScheduleCallback  = "schedule_callback"
	ActionNone              = "none"
)

var outcomes = []string{
	OutcomeMeetingBooked, OutcomeCallbackScheduled, OutcomeInterested, OutcomeNotInterested,
	OutcomeWrongNumber, OutcomeVoicemail, OutcomeNoAnswer, OutcomeCompleted,
}

// NextAction maps a call outcome onto the pipeline's next move.
func NextAction(outcome string) string {
	switch outcome {
	case OutcomeMeetingBooked, OutcomeInterested:
		return ActionMoveToNegotiation
	case OutcomeNotInterested:
		return ActionMoveToNurture
	case OutcomeVoicemail, OutcomeNoAnswer:
		return ActionRetryLater
	case OutcomeCallbackScheduled:
		return ActionScheduleCallback
	default:
		return ActionNone
	}
}

// NeutralAnalysis is stored when the transcript could not be analyzed.
func NeutralAnalysis() Analysis {
	return Analysis{
		Summary:   "Call completed. Transcript analysis failed.",
		Outcome:   OutcomeCompleted,
		Sentiment: "neutral",
		Score:     50,
		ScoreBreakdown: ScoreBreakdown{
			Discovery: 50, Rapport: 50, ObjectionHandling: 50, Closing: 50, Overall: 50,
		},
		Objections: []string{},
		Topics:     []string{},
		NextSteps:  "Manual review required.",
	}
}

// Per-unit prices in dollars.
const (
	telephonyPerMinute   = 0.04
	sttPerMinute         = 0.0077
	llmInputPer1kTokens  = 0.00015
	llmOutputPer1kTokens = 0.0006
)

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// ComputeCost prices a finished call.
func ComputeCost(durationSecs int, usage Usage, ttsProvider string) CostBreakdown {
	minutes := float64(durationSecs) / 60
	c := CostBreakdown{
		Telephony: round4(minutes * telephonyPerMinute),
		STT:       round4(minutes * sttPerMinute),
		LLM: round4(float64(usage.InputTokens)/1000*llmInputPer1kTokens +
			float64(usage.OutputTokens)/1000*llmOutputPer1kTokens),
		TTS: round4(tts.EstimateCost(usage.TTSChars, ttsProvider)),
	}
	c.Total = round4(c.Telephony + c.STT + c.LLM + c.TTS)
	return c
}

const analysisSystemPrompt = `You analyze sales call transcripts. Respond with a single JSON object:
{"summary": string, "outcome": one of [meeting_booked, callback_scheduled, interested, not_interested, wrong_number, voicemail, no_answer, completed],
"sentiment": one of [positive, neutral, negative], "score": 0-100,
"scoreBreakdown": {"discovery": 0-100, "rapport": 0-100, "objection_handling": 0-100, "closing": 0-100, "overall": 0-100},
"objections": [string], "topics": [string], "nextSteps": string}`

// Analyzer reviews finished calls with the language model.
type Analyzer struct {
	completer llm.Completer
}

func NewAnalyzer(completer llm.Completer) *Analyzer {
	if completer == nil {
		completer = llm.Disabled{}
	}
	return &Analyzer{completer: completer}
}

// FormatTranscript renders a transcript one utterance per line.
func FormatTranscript(entries []TranscriptEntry) string {
	var b strings.Builder
	for _, e := range entries {
		speaker := "Agent"
		if e.Speaker == SpeakerContact {
			speaker = "Contact"
		}
		fmt.Fprintf(&b, "[%.0fs] %s: %s\n", e.Offset, speaker, e.Text)
	}
	return b.String()
}

func spokeToContact(entries []TranscriptEntry) bool {
	return slices.ContainsFunc(entries, func(e TranscriptEntry) bool {
		return e.Speaker == SpeakerContact && strings.TrimSpace(e.Text) != ""
	})
}

// Analyze reviews a transcript. answeredBy is the machine detection verdict;
// calls that reached a machine or where the contact never spoke are settled
// without the model. A model failure returns NeutralAnalysis and the error.
func (a *Analyzer) Analyze(ctx context.Context, agent Agent, transcript []TranscriptEntry, answeredBy string) (Analysis, error) {
	if strings.HasPrefix(answeredBy, "machine") {
		out := NeutralAnalysis()
		out.Outcome = OutcomeVoicemail
		out.Summary = "Reached voicemail."
		out.NextSteps = "Retry later."
		return out, nil
	}
	if !spokeToContact(transcript) {
		out := NeutralAnalysis()
		out.Outcome = OutcomeNoAnswer
		out.Summary = "The contact did not speak."
		out.NextSteps = "Retry later."
		return out, nil
	}
	if !a.completer.Available() {
		return NeutralAnalysis(), llm.ErrUnavailable
	}

	user := fmt.Sprintf("Agent objective: %s\n\nTranscript:\n%s", agent.Objective, FormatTranscript(transcript))
	req := llm.Prompt(analysisSystemPrompt, user)
	req.JSON = true
	req.Temperature = 0.3
	resp, err := a.completer.Complete(ctx, req)
	if err != nil {
		return NeutralAnalysis(), fmt.Errorf("analyze call: %w", err)
	}

	raw := llm.ExtractJSON(resp.Text)
	if raw == "" {
		return NeutralAnalysis(), fmt.Errorf("analyze call: no json in response")
	}
	var out Analysis
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return NeutralAnalysis(), fmt.Errorf("analyze call: %w", err)
	}
	return normalize(out), nil
}

func clampScore(v int) int {
	return max(0, min(100, v))
}

func normalize(a Analysis) Analysis {
	if !slices.Contains(outcomes, a.Outcome) {
		a.Outcome = OutcomeCompleted
	}
	switch a.Sentiment {
	case "positive", "neutral", "negative":
	default:
		a.Sentiment = "neutral"
	}
	a.Score = clampScore(a.Score)
	b := &a.ScoreBreakdown
	b.Discovery, b.Rapport = clampScore(b.Discovery), clampScore(b.Rapport)
	b.ObjectionHandling, b.Closing = clampScore(b.ObjectionHandling), clampScore(b.Closing)
	b.Overall = clampScore(b.Overall)
	if a.Objections == nil {
		a.Objections = []string{}
	}
	if a.Topics == nil {
		a.Topics = []string{}
	}
	return a
}
