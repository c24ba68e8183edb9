package calling

import (
	"context"
	"errors"
	"testing"

	"salespipeline_backend/internal/llm"
)

type stubCompleter struct {
	text string
	err  error
}

func (s stubCompleter) Available() bool { return true }

func (s stubCompleter) Complete(context.Context, llm.Request) (llm.Response, error) {
	return llm.Response{Text: s.text}, s.err
}

func TestNextAction(t *testing.T) {
	tests := map[string]string{
		OutcomeMeetingBooked:     ActionMoveToNegotiation,
		OutcomeInterested:        ActionMoveToNegotiation,
		OutcomeNotInterested:     ActionMoveToNurture,
		OutcomeVoicemail:         ActionRetryLater,
		OutcomeNoAnswer:          ActionRetryLater,
		OutcomeCallbackScheduled: ActionScheduleCallback,
		OutcomeWrongNumber:       ActionNone,
		OutcomeCompleted:         ActionNone,
	}
	for outcome, want := range tests {
		if got := NextAction(outcome); got != want {
			t.Fatalf("%s: expected %s, got %s", outcome, want, got)
		}
	}
}

func TestComputeCost(t *testing.T) {
	got := ComputeCost(180, Usage{InputTokens: 4000, OutputTokens: 2000, TTSChars: 2000}, "elevenlabs")
	want := CostBreakdown{Telephony: 0.12, STT: 0.0231, LLM: 0.0018, TTS: 0.6, Total: 0.7449}
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}

	openai := ComputeCost(0, Usage{TTSChars: 1000}, "openai")
	if openai.TTS != 0.015 || openai.Total != 0.015 {
		t.Fatalf("expected openai tts pricing, got %+v", openai)
	}
}

func spoken() []TranscriptEntry {
	return []TranscriptEntry{
		{Speaker: SpeakerAgent, Text: "Hi, this is Sam."},
		{Speaker: SpeakerContact, Text: "Hello."},
	}
}

func TestAnalyzeShortcuts(t *testing.T) {
	a := NewAnalyzer(stubCompleter{err: errors.New("must not be called")})

	got, err := a.Analyze(context.Background(), testAgent(), spoken(), "machine_start")
	if err != nil || got.Outcome != OutcomeVoicemail {
		t.Fatalf("expected voicemail without the model, got %+v %v", got, err)
	}

	silent := []TranscriptEntry{{Speaker: SpeakerAgent, Text: "Hi, this is Sam."}}
	got, err = a.Analyze(context.Background(), testAgent(), silent, "human")
	if err != nil || got.Outcome != OutcomeNoAnswer {
		t.Fatalf("expected no_answer when the contact never spoke, got %+v %v", got, err)
	}
}

func TestAnalyzeFallsBackToNeutral(t *testing.T) {
	tests := []struct {
		name      string
		completer llm.Completer
	}{
		{"model error", stubCompleter{err: errors.New("boom")}},
		{"no json", stubCompleter{text: "I could not analyze that."}},
		{"unavailable", llm.Disabled{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewAnalyzer(tt.completer).Analyze(context.Background(), testAgent(), spoken(), "")
			if err == nil {
				t.Fatalf("expected the failure reported")
			}
			want := NeutralAnalysis()
			if got.Outcome != want.Outcome || got.Score != 50 || got.NextSteps != "Manual review required." {
				t.Fatalf("expected the neutral analysis, got %+v", got)
			}
		})
	}
}

func TestAnalyzeNormalizesModelOutput(t *testing.T) {
	text := "```json\n{\"summary\":\"ok\",\"outcome\":\"maybe\",\"sentiment\":\"ecstatic\",\"score\":140,\"scoreBreakdown\":{\"closing\":-5}}\n```"
	got, err := NewAnalyzer(stubCompleter{text: text}).Analyze(context.Background(), testAgent(), spoken(), "")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if got.Outcome != OutcomeCompleted || got.Sentiment != "neutral" || got.Score != 100 || got.ScoreBreakdown.Closing != 0 {
		t.Fatalf("expected clamped values, got %+v", got)
	}
	if got.Objections == nil || got.Topics == nil {
		t.Fatalf("expected empty lists instead of nil")
	}
}
