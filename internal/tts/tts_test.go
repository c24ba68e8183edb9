package tts

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAIRequest(t *testing.T) {
	var got openAIRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", ContentType)
		_, _ = w.Write([]byte("mp3"))
	}))
	defer srv.Close()

	o := NewOpenAI("sk-test")
	o.endpoint = srv.URL
	audio, err := o.Synthesize(context.Background(), "Hello there", "robot")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if string(audio) != "mp3" {
		t.Fatalf("unexpected audio %q", audio)
	}
	if auth != "Bearer sk-test" || got.Voice != defaultOpenAIVoice || got.Input != "Hello there" || got.ResponseFormat != "mp3" {
		t.Fatalf("unexpected request %+v auth=%q", got, auth)
	}
}

func TestElevenLabsRequest(t *testing.T) {
	var path, key string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path, key = r.URL.Path, r.Header.Get("xi-api-key")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"bad key"}`))
	}))
	defer srv.Close()

	e := NewElevenLabs("xi-test")
	e.endpoint = srv.URL + "/v1/text-to-speech/"
	if _, err := e.Synthesize(context.Background(), "Hi", ""); err == nil {
		t.Fatalf("expected an error on 401")
	}
	if path != "/v1/text-to-speech/"+defaultElevenLabsVoice || key != "xi-test" {
		t.Fatalf("unexpected request path=%s key=%s", path, key)
	}
}

func TestEstimateCost(t *testing.T) {
	if got := EstimateCost(2000, ProviderOpenAI); math.Abs(got-0.03) > 1e-9 {
		t.Fatalf("expected 0.03, got %v", got)
	}
	if got := EstimateCost(1000, ProviderElevenLabs); math.Abs(got-0.30) > 1e-9 {
		t.Fatalf("expected 0.30, got %v", got)
	}
}

type stubSynth struct{ name string }

func (s stubSynth) Synthesize(context.Context, string, string) ([]byte, error) {
	return []byte(s.name), nil
}

func TestRouterFallsBackToOpenAI(t *testing.T) {
	r := NewRouter(map[string]Synthesizer{ProviderOpenAI: stubSynth{"openai"}})
	s, err := r.Synthesizer(ProviderElevenLabs)
	if err != nil {
		t.Fatalf("expected fallback, got %v", err)
	}
	if out, _ := s.Synthesize(context.Background(), "", ""); string(out) != "openai" {
		t.Fatalf("expected openai synthesizer, got %s", out)
	}
	if _, err := NewRouter(nil).Synthesizer(ProviderOpenAI); err != ErrNotConfigured {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
