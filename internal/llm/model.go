package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/adk/model"
)

// ModelCompleter adapts any adk model.LLM, such as the Moonshot Kimi model,
// to Completer.
type ModelCompleter struct {
	llm model.LLM
}

func NewModelCompleter(m model.LLM) *ModelCompleter {
	return &ModelCompleter{llm: m}
}

func (m *ModelCompleter) Available() bool {
	return m != nil && m.llm != nil
}

func (m *ModelCompleter) Complete(ctx context.Context, req Request) (Response, error) {
	if !m.Available() {
		return Response{}, ErrUnavailable
	}
	contents, cfg := toGenai(req)
	llmReq := &model.LLMRequest{
		Model:    m.llm.Name(),
		Contents: contents,
		Config:   cfg,
	}

	var out Response
	var text strings.Builder
	for resp, err := range m.llm.GenerateContent(ctx, llmReq, false) {
		if err != nil {
			return Response{}, fmt.Errorf("%s generate: %w", m.llm.Name(), err)
		}
		if resp == nil {
			continue
		}
		if resp.Content != nil {
			for _, part := range resp.Content.Parts {
				if part != nil {
					text.WriteString(part.Text)
				}
			}
		}
		if u := resp.UsageMetadata; u != nil {
			out.InputTokens += int(u.PromptTokenCount)
			out.OutputTokens += int(u.CandidatesTokenCount)
		}
	}
	out.Text = strings.TrimSpace(text.String())
	if out.Text == "" {
		return out, fmt.Errorf("%s generate: empty response", m.llm.Name())
	}
	return out, nil
}

// First returns the first available completer, or Disabled.
func First(candidates ...Completer) Completer {
	for _, c := range candidates {
		if c != nil && c.Available() {
			return c
		}
	}
	return Disabled{}
}
