package llm

import (
	"context"
	"strings"

	"salespipeline_backend/platform/ai/moonshot"
	"salespipeline_backend/platform/config"
)

// Providers.
const (
	ProviderGemini   = "gemini"
	ProviderMoonshot = "moonshot"
)

// New returns the completer for the configured provider, preferring it and
// falling back to any other provider that has credentials. With none
// configured the result is Disabled.
func New(ctx context.Context, cfg config.LLMConfig) (Completer, error) {
	gemini, err := NewGeminiCompleter(ctx, cfg.GetGeminiAPIKey(), cfg.GetGeminiModel())
	if err != nil {
		return nil, err
	}

	var kimi Completer = Disabled{}
	if strings.TrimSpace(cfg.GetMoonshotAPIKey()) != "" {
		kimi = NewModelCompleter(moonshot.NewModel(moonshot.Config{
			APIKey: cfg.GetMoonshotAPIKey(),
			Model:  cfg.GetMoonshotModel(),
		}))
	}

	if cfg.GetLLMProvider() == ProviderMoonshot {
		return First(kimi, gemini), nil
	}
	return First(gemini, kimi), nil
}
