// Package llm is the language-model capability used by qualification, call
// analysis and the conversation engine. Callers always carry a
// deterministic fallback, so every error here is recoverable.
package llm

import (
	"context"
	"errors"
	"strings"
)

// ErrUnavailable is returned when no provider is configured.
var ErrUnavailable = errors.New("llm: no provider configured")

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role string
	Text string
}

type Request struct {
	System      string
	Messages    []Message
	JSON        bool
	Temperature float32
	MaxTokens   int32
}

// Prompt builds a single-turn request.
func Prompt(system, user string) Request {
	return Request{System: system, Messages: []Message{{Role: RoleUser, Text: user}}}
}

type Response struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// Completer generates one completion.
type Completer interface {
	Available() bool
	Complete(ctx context.Context, req Request) (Response, error)
}

// Disabled is a Completer that is never available.
type Disabled struct{}

func (Disabled) Available() bool { return false }

func (Disabled) Complete(context.Context, Request) (Response, error) {
	return Response{}, ErrUnavailable
}

// ExtractJSON returns the first balanced {...} object in text, skipping
// prose or code fences around it. It returns "" when none is found.
func ExtractJSON(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}
