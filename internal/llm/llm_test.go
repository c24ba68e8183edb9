package llm

import (
	"context"
	"errors"
	"iter"
	"testing"

	"google.golang.org/adk/model"
	"google.golang.org/genai"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "bare object", in: `{"a":1}`, want: `{"a":1}`},
		{name: "fenced with prose", in: "Sure:\n```json\n{\"a\":{\"b\":2}}\n```\nDone", want: `{"a":{"b":2}}`},
		{name: "braces inside strings", in: `{"note":"use } carefully"} trailing`, want: `{"note":"use } carefully"}`},
		{name: "no object", in: "no json here", want: ""},
		{name: "unterminated", in: `{"a":1`, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractJSON(tt.in); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

type stubLLM struct {
	got  *model.LLMRequest
	text string
	err  error
}

func (s *stubLLM) Name() string { return "stub" }

func (s *stubLLM) GenerateContent(_ context.Context, req *model.LLMRequest, _ bool) iter.Seq2[*model.LLMResponse, error] {
	s.got = req
	return func(yield func(*model.LLMResponse, error) bool) {
		if s.err != nil {
			yield(nil, s.err)
			return
		}
		yield(&model.LLMResponse{
			Content:       &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{genai.NewPartFromText(s.text)}},
			UsageMetadata: &genai.GenerateContentResponseUsageMetadata{PromptTokenCount: 30, CandidatesTokenCount: 7},
		}, nil)
	}
}

func TestModelCompleterMapsRequestAndUsage(t *testing.T) {
	stub := &stubLLM{text: ` {"outcome":"qualified"} `}
	c := NewModelCompleter(stub)

	req := Prompt("rubric", "assess this lead")
	req.JSON = true
	resp, err := c.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp.Text != `{"outcome":"qualified"}` || resp.InputTokens != 30 || resp.OutputTokens != 7 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if stub.got.Config.ResponseMIMEType != "application/json" || stub.got.Config.SystemInstruction == nil {
		t.Fatalf("expected JSON mode and a system instruction, got %+v", stub.got.Config)
	}
	if len(stub.got.Contents) != 1 || stub.got.Contents[0].Role != genai.RoleUser {
		t.Fatalf("unexpected contents %+v", stub.got.Contents)
	}
}

func TestModelCompleterPropagatesErrors(t *testing.T) {
	c := NewModelCompleter(&stubLLM{err: errors.New("boom")})
	if _, err := c.Complete(context.Background(), Prompt("", "hi")); err == nil {
		t.Fatalf("expected provider error")
	}
}

func TestFirstSkipsUnavailable(t *testing.T) {
	var nilGemini *GeminiCompleter
	got := First(nilGemini, Disabled{})
	if got.Available() {
		t.Fatalf("expected disabled completer")
	}
	stub := NewModelCompleter(&stubLLM{text: "ok"})
	if First(nilGemini, stub) != Completer(stub) {
		t.Fatalf("expected the model completer to be picked")
	}
}

type llmConfig struct {
	provider    string
	moonshotKey string
}

func (c llmConfig) GetGeminiAPIKey() string   { return "" }
func (c llmConfig) GetGeminiModel() string    { return "" }
func (c llmConfig) GetMoonshotAPIKey() string { return c.moonshotKey }
func (c llmConfig) GetMoonshotModel() string  { return "" }
func (c llmConfig) GetLLMProvider() string    { return c.provider }

func TestNewPicksConfiguredProvider(t *testing.T) {
	c, err := New(context.Background(), llmConfig{provider: ProviderGemini})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if c.Available() {
		t.Fatalf("expected no provider without credentials")
	}

	c, err = New(context.Background(), llmConfig{provider: ProviderGemini, moonshotKey: "sk-test"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, ok := c.(*ModelCompleter); !ok {
		t.Fatalf("expected the moonshot fallback, got %T", c)
	}
}
