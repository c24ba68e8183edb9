package email

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"salespipeline_backend/platform/config"
)

func TestBrevoSenderPostsPayload(t *testing.T) {
	var got brevoRequest
	var apiKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey = r.Header.Get("api-key")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	s := NewBrevoSender("key-1", Address{Name: "Sales", Email: "sales@example.com"})
	s.endpoint = srv.URL
	err := s.Send(context.Background(), Message{To: "ada@example.com", Subject: "Hello", HTML: "<p>hi &amp; bye</p>", Tag: "outreach"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if apiKey != "key-1" {
		t.Fatalf("expected api key header, got %q", apiKey)
	}
	if len(got.To) != 1 || got.To[0].Email != "ada@example.com" || got.Subject != "Hello" || got.Sender.Name != "Sales" {
		t.Fatalf("unexpected payload %+v", got)
	}
	if got.TextContent != "hi & bye" {
		t.Fatalf("expected a derived text part, got %q", got.TextContent)
	}
	if len(got.Tags) != 1 || got.Tags[0] != "outreach" {
		t.Fatalf("expected the tag, got %v", got.Tags)
	}
}

func TestBrevoSenderReportsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "invalid sender", http.StatusBadRequest)
	}))
	defer srv.Close()

	s := NewBrevoSender("key-1", Address{Email: "sales@example.com"})
	s.endpoint = srv.URL
	err := s.Send(context.Background(), Message{To: "ada@example.com", Subject: "Hello", HTML: "<p>hi</p>"})
	if err == nil || !strings.Contains(err.Error(), "status 400") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestSendRejectsIncompleteMessages(t *testing.T) {
	s := NewBrevoSender("key-1", Address{Email: "sales@example.com"})
	s.endpoint = "http://127.0.0.1:0"
	tests := []Message{
		{Subject: "Hello", HTML: "<p>hi</p>"},
		{To: "ada@example.com", HTML: "<p>hi</p>"},
	}
	for _, msg := range tests {
		if err := s.Send(context.Background(), msg); err == nil || !strings.HasPrefix(err.Error(), "email:") {
			t.Fatalf("expected a validation error for %+v, got %v", msg, err)
		}
	}
}

func TestSMTPSenderBuildsAlternatives(t *testing.T) {
	s := NewSMTPSender(SMTPSettings{Host: "smtp.example.com"}, Address{Name: "Sales", Email: "sales@example.com"})
	if s.settings.Port != 587 || s.settings.Timeout != 15*time.Second {
		t.Fatalf("expected defaults, got %+v", s.settings)
	}

	m, err := s.build(Message{To: "ada@example.com", Subject: "Hello", HTML: "<p>Hi Ada</p>", Tag: "onboarding"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	raw := buf.String()
	for _, want := range []string{"multipart/alternative", "text/plain", "text/html", "X-Pipeline-Tag: onboarding", "Hi Ada"} {
		if !strings.Contains(raw, want) {
			t.Fatalf("expected %q in message:\n%s", want, raw)
		}
	}
}

func TestNewSenderSelection(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *config.Config
		want    string
		wantErr bool
	}{
		{"disabled", &config.Config{}, "noop", false},
		{"smtp", &config.Config{EmailEnabled: true, EmailFromAddress: "a@example.com", SMTPHost: "smtp.example.com"}, "smtp", false},
		{"brevo", &config.Config{EmailEnabled: true, EmailFromAddress: "a@example.com", BrevoAPIKey: "k"}, "brevo", false},
		{"no transport", &config.Config{EmailEnabled: true, EmailFromAddress: "a@example.com"}, "", true},
		{"no from", &config.Config{EmailEnabled: true, BrevoAPIKey: "k"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewSender(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("new sender: %v", err)
			}
			var got string
			switch s.(type) {
			case NoopSender:
				got = "noop"
			case *SMTPSender:
				got = "smtp"
			case *BrevoSender:
				got = "brevo"
			}
			if got != tt.want {
				t.Fatalf("expected %s, got %T", tt.want, s)
			}
		})
	}
}

func TestRenderMessageSplitsParagraphs(t *testing.T) {
	html, err := RenderMessage("Quick question", "Hi Ada,\n\nSaw the Series B news. <Congrats>\n\nBest")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if strings.Count(html, "<p style=\"font-size:15px") != 3 {
		t.Fatalf("expected three paragraphs, got %s", html)
	}
	if !strings.Contains(html, "&lt;Congrats&gt;") {
		t.Fatalf("expected body to be escaped")
	}
}

func TestRenderInvoiceOverdue(t *testing.T) {
	html, err := RenderInvoiceOverdue(InvoiceOverdue{Name: "Ada", InvoiceNumber: "INV-7", Amount: "$1,200.00", DueDate: "2026-03-01", DaysOverdue: 8, PayURL: "https://pay.example.com/INV-7"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	for _, want := range []string{"INV-7", "8 days overdue", "https://pay.example.com/INV-7"} {
		if !strings.Contains(html, want) {
			t.Fatalf("expected %q in %s", want, html)
		}
	}
}
