// Package tts turns agent replies into speech for the telephony provider.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"

	"salespipeline_backend/platform/config"
)

// Providers.
const (
	ProviderOpenAI     = "openai"
	ProviderElevenLabs = "elevenlabs"
)

const (
	openAIEndpoint     = "https://api.openai.com/v1/audio/speech"
	elevenLabsEndpoint = "https://api.elevenlabs.io/v1/text-to-speech/"

	defaultOpenAIVoice     = "alloy"
	defaultElevenLabsVoice = "EXAVITQu4vr4xnSDxMaL"
	elevenLabsModel        = "eleven_turbo_v2_5"

	// ContentType of every synthesized clip.
	ContentType = "audio/mpeg"
)

var openAIVoices = []string{"alloy", "echo", "fable", "onyx", "nova", "shimmer"}

var ErrNotConfigured = errors.New("tts provider not configured")

// Synthesizer renders text as mp3 audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
}

// CostPer1kChars is the provider's price in dollars per thousand characters.
func CostPer1kChars(provider string) float64 {
	if provider == ProviderElevenLabs {
		return 0.30
	}
	return 0.015
}

// EstimateCost prices chars synthesized with provider.
func EstimateCost(chars int, provider string) float64 {
	return float64(chars) / 1000 * CostPer1kChars(provider)
}

type OpenAI struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

func NewOpenAI(apiKey string) *OpenAI {
	return &OpenAI{apiKey: apiKey, endpoint: openAIEndpoint, client: &http.Client{Timeout: 20 * time.Second}}
}

type openAIRequest struct {
	Model          string  `json:"model"`
	Voice          string  `json:"voice"`
	Input          string  `json:"input"`
	Speed          float64 `json:"speed"`
	ResponseFormat string  `json:"response_format"`
}

func (o *OpenAI) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	if !slices.Contains(openAIVoices, voice) {
		voice = defaultOpenAIVoice
	}
	req, err := newJSONRequest(ctx, o.endpoint, openAIRequest{
		Model:          "tts-1",
		Voice:          voice,
		Input:          text,
		Speed:          1.0,
		ResponseFormat: "mp3",
	})
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	return do(o.client, req, "openai")
}

type ElevenLabs struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

func NewElevenLabs(apiKey string) *ElevenLabs {
	return &ElevenLabs{apiKey: apiKey, endpoint: elevenLabsEndpoint, client: &http.Client{Timeout: 20 * time.Second}}
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

type elevenLabsRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

func (e *ElevenLabs) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	if voice == "" {
		voice = defaultElevenLabsVoice
	}
	req, err := newJSONRequest(ctx, e.endpoint+voice, elevenLabsRequest{
		Text:    text,
		ModelID: elevenLabsModel,
		VoiceSettings: voiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
			UseSpeakerBoost: true,
		},
	})
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", e.apiKey)
	return do(e.client, req, "elevenlabs")
}

func newJSONRequest(ctx context.Context, endpoint string, payload any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", ContentType)
	return req, nil
}

func do(client *http.Client, req *http.Request, provider string) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s tts failed: status %d: %s", provider, resp.StatusCode, string(data))
	}
	return data, nil
}

// Router selects a synthesizer by provider name.
type Router struct {
	providers map[string]Synthesizer
}

// New registers every provider that has an API key.
func New(cfg config.TTSConfig) *Router {
	r := &Router{providers: make(map[string]Synthesizer)}
	if key := cfg.GetOpenAIAPIKey(); key != "" {
		r.providers[ProviderOpenAI] = NewOpenAI(key)
	}
	if key := cfg.GetElevenLabsAPIKey(); key != "" {
		r.providers[ProviderElevenLabs] = NewElevenLabs(key)
	}
	return r
}

// NewRouter builds a Router from explicit providers.
func NewRouter(providers map[string]Synthesizer) *Router {
	return &Router{providers: providers}
}

// Synthesizer returns the provider, falling back to OpenAI.
func (r *Router) Synthesizer(provider string) (Synthesizer, error) {
	if r == nil {
		return nil, ErrNotConfigured
	}
	if s, ok := r.providers[provider]; ok {
		return s, nil
	}
	if s, ok := r.providers[ProviderOpenAI]; ok {
		return s, nil
	}
	return nil, ErrNotConfigured
}
