package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.5-flash"

// GeminiCompleter calls the Gemini API through the genai SDK.
type GeminiCompleter struct {
	client *genai.Client
	model  string
}

// NewGeminiCompleter returns a completer, or a nil completer and no error
// when apiKey is empty so callers can fall back.
func NewGeminiCompleter(ctx context.Context, apiKey, model string) (*GeminiCompleter, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	if model == "" {
		model = defaultGeminiModel
	}
	return &GeminiCompleter{client: client, model: model}, nil
}

func (g *GeminiCompleter) Available() bool {
	return g != nil && g.client != nil
}

func (g *GeminiCompleter) Complete(ctx context.Context, req Request) (Response, error) {
	if !g.Available() {
		return Response{}, ErrUnavailable
	}
	contents, cfg := toGenai(req)
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return Response{}, fmt.Errorf("gemini generate: %w", err)
	}
	out := Response{Text: strings.TrimSpace(resp.Text())}
	if resp.UsageMetadata != nil {
		out.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	if out.Text == "" {
		return out, fmt.Errorf("gemini generate: empty response")
	}
	return out, nil
}

// toGenai converts a Request into genai contents and config. It is shared
// with ModelCompleter, whose adk requests carry the same types.
func toGenai(req Request) ([]*genai.Content, *genai.GenerateContentConfig) {
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := genai.RoleUser
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{genai.NewPartFromText(m.Text)},
		})
	}

	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{
			Role:  genai.RoleUser,
			Parts: []*genai.Part{genai.NewPartFromText(req.System)},
		}
	}
	if req.Temperature > 0 {
		t := req.Temperature
		cfg.Temperature = &t
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = req.MaxTokens
	}
	if req.JSON {
		cfg.ResponseMIMEType = "application/json"
	}
	return contents, cfg
}
