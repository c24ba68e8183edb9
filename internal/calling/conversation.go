package calling

import (
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"salespipeline_backend/internal/llm"

	"github.com/google/uuid"
)

// ContactContext personalizes prompts and greetings.
type ContactContext struct {
	Name    string
	Company string
	Title   string
	Notes   string
}

// ConversationState is the live state of one call.
type ConversationState struct {
	mu sync.Mutex

	CallID     uuid.UUID
	AccountID  string
	Agent      Agent
	Contact    ContactContext
	System     string
	Messages   []llm.Message
	Transcript []TranscriptEntry
	StartedAt  time.Time
	Usage      Usage
}

func (s *ConversationState) elapsed(now time.Time) float64 {
	return now.Sub(s.StartedAt).Seconds()
}

func (s *ConversationState) add(speaker, text string, now time.Time) {
	role := llm.RoleUser
	if speaker == SpeakerAgent {
		role = llm.RoleAssistant
	}
	s.Messages = append(s.Messages, llm.Message{Role: role, Text: text})
	s.Transcript = append(s.Transcript, TranscriptEntry{Speaker: speaker, Text: text, Offset: s.elapsed(now)})
}

// Snapshot copies the fields needed after the call ends.
func (s *ConversationState) Snapshot() (transcript []TranscriptEntry, usage Usage, startedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.Transcript), s.Usage, s.StartedAt
}

// Conversations holds the live calls of this process, keyed by call ID.
type Conversations struct {
	mu     sync.Mutex
	active map[uuid.UUID]*ConversationState
}

func NewConversations() *Conversations {
	return &Conversations{active: make(map[uuid.UUID]*ConversationState)}
}

// Start registers state unless the call already has one, and returns the
// registered state.
func (c *Conversations) Start(state *ConversationState) *ConversationState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.active[state.CallID]; ok {
		return existing
	}
	c.active[state.CallID] = state
	return state
}

func (c *Conversations) Get(callID uuid.UUID) (*ConversationState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.active[callID]
	return s, ok
}

// End removes and returns the call's state.
func (c *Conversations) End(callID uuid.UUID) (*ConversationState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.active[callID]
	delete(c.active, callID)
	return s, ok
}

func (c *Conversations) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// NewConversation builds the initial state for a call.
func NewConversation(callID uuid.UUID, accountID string, agent Agent, cc ContactContext, startedAt time.Time) *ConversationState {
	return &ConversationState{
		CallID:    callID,
		AccountID: accountID,
		Agent:     agent,
		Contact:   cc,
		System:    SystemPrompt(agent, cc),
		StartedAt: startedAt,
	}
}

// SystemPrompt expands the agent's prompt for one contact.
func SystemPrompt(agent Agent, cc ContactContext) string {
	prompt := agent.SystemPrompt
	if cc.Name != "" {
		prompt = strings.ReplaceAll(prompt, "{{contact_name}}", cc.Name)
	}
	if cc.Company != "" {
		prompt = strings.ReplaceAll(prompt, "{{company}}", cc.Company)
	}

	objective := agent.Objective
	if objective == "" {
		objective = "Have a productive conversation"
	}
	var b strings.Builder
	b.WriteString(prompt)
	fmt.Fprintf(&b, `

IMPORTANT RULES:
- Keep responses concise (1-3 sentences max)
- Be conversational, not robotic
- If the person wants to end the call, say goodbye politely
- Never make up information you don't have
- Your objective: %s`, objective)

	if len(agent.ObjectionResponses) > 0 {
		b.WriteString("\n\nOBJECTION HANDLING:")
		for _, objection := range slices.Sorted(maps.Keys(agent.ObjectionResponses)) {
			fmt.Fprintf(&b, "\n- If they say %q: %s", objection, agent.ObjectionResponses[objection])
		}
	}
	if cc.Title != "" {
		fmt.Fprintf(&b, "\n\nTHE CONTACT'S ROLE: %s", cc.Title)
	}
	if cc.Notes != "" {
		fmt.Fprintf(&b, "\n\nPREVIOUS NOTES ABOUT THIS CONTACT:\n%s", cc.Notes)
	}
	return b.String()
}

var placeholder = regexp.MustCompile(`\{\{[^}]+\}\}`)

// Greeting fills the agent's opening line and drops unknown placeholders.
func Greeting(agent Agent, cc ContactContext) string {
	g := strings.ReplaceAll(agent.Greeting, "{{agent_name}}", agent.Name)
	if cc.Name != "" {
		g = strings.ReplaceAll(g, "{{contact_name}}", cc.Name)
	}
	if cc.Company != "" {
		g = strings.ReplaceAll(g, "{{company}}", cc.Company)
	}
	g = placeholder.ReplaceAllString(g, "")
	return strings.Join(strings.Fields(g), " ")
}

// Canned lines spoken without the language model.
const (
	lineLostConversation = "I'm sorry, I seem to have lost our conversation. Goodbye."
	lineMaxDuration      = "I appreciate your time. I need to wrap up, but I'd love to continue this conversation. Can I call you back?"
	lineGoodbye          = "I understand. Thank you for your time today. Have a great day!"
	lineRepeat           = "I'm sorry, could you repeat that?"
	lineDefaultGreeting  = "Hi, this is {{agent_name}}. Do you have a quick minute?"
)

// wantsToEnd reports whether speech contains one of the agent's end phrases.
func wantsToEnd(agent Agent, speech string) bool {
	lower := strings.ToLower(speech)
	for _, phrase := range agent.EndCallPhrases {
		if phrase != "" && strings.Contains(lower, strings.ToLower(phrase)) {
			return true
		}
	}
	return false
}
