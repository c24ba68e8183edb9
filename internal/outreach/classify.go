package outreach

import (
	"context"
	"strings"

	"salespipeline_backend/internal/llm"
	"salespipeline_backend/platform/logger"
)

const classifierPrompt = `You classify replies to sales outreach.
Answer with exactly one word: positive, neutral or negative.
positive: interest, a meeting request, a question about pricing or next steps.
negative: a refusal, an unsubscribe request, annoyance.
neutral: anything else, including out-of-office replies.`

var (
	negativeKeywords = []string{"unsubscribe", "not interested", "no thanks", "no thank you", "stop emailing", "remove me", "do not contact", "don't contact"}
	positiveKeywords = []string{"interested", "let's talk", "lets talk", "book a", "schedule", "call me", "sounds good", "tell me more", "pricing", "demo", "meeting"}
)

// ReplyClassifier labels a reply body with a sentiment. It asks the model
// first and falls back to keyword matching.
type ReplyClassifier struct {
	completer llm.Completer
	log       *logger.Logger
}

func NewReplyClassifier(c llm.Completer, log *logger.Logger) *ReplyClassifier {
	if c == nil {
		c = llm.Disabled{}
	}
	if log == nil {
		log = logger.Discard()
	}
	return &ReplyClassifier{completer: c, log: log}
}

func (r *ReplyClassifier) Classify(ctx context.Context, body string) string {
	if strings.TrimSpace(body) == "" {
		return SentimentNeutral
	}
	if r.completer.Available() {
		req := llm.Prompt(classifierPrompt, body)
		req.Temperature = 0
		req.MaxTokens = 5
		resp, err := r.completer.Complete(ctx, req)
		if err == nil {
			if s, ok := parseSentiment(resp.Text); ok {
				return s
			}
			r.log.Warn("unrecognised reply label, using keywords", "label", resp.Text)
		} else {
			r.log.Warn("reply classification failed, using keywords", "error", err)
		}
	}
	return keywordSentiment(body)
}

func parseSentiment(label string) (string, bool) {
	label = strings.Trim(strings.ToLower(strings.TrimSpace(label)), ".!\"'")
	switch label {
	case SentimentPositive, SentimentNeutral, SentimentNegative:
		return label, true
	}
	return "", false
}

// keywordSentiment checks negative phrases first so "not interested" is
// never read as interest.
func keywordSentiment(body string) string {
	text := strings.ToLower(body)
	for _, k := range negativeKeywords {
		if strings.Contains(text, k) {
			return SentimentNegative
		}
	}
	for _, k := range positiveKeywords {
		if strings.Contains(text, k) {
			return SentimentPositive
		}
	}
	return SentimentNeutral
}
