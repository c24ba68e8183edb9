package calling

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"salespipeline_backend/internal/adapters/storage"
	"salespipeline_backend/internal/contacts"
	"salespipeline_backend/internal/llm"
	"salespipeline_backend/internal/telephony"
	"salespipeline_backend/internal/tts"
	"salespipeline_backend/platform/logger"

	"github.com/google/uuid"
)

const (
	defaultMaxCallDuration = 5 * time.Minute
	replyTemperature       = 0.7
	replyMaxTokens         = 150
	speechFolder           = "tts"
)

// CoordinatorOptions wires a Coordinator. Voices and Audio are optional:
// without them replies are spoken by the provider's own voice.
type CoordinatorOptions struct {
	Calls     Store
	Contacts  ContactReader
	Completer llm.Completer
	Voices    *tts.Router
	Audio     storage.StorageService
	Bucket    string
	// GatherURL returns the webhook the provider posts the contact's next
	// utterance to.
	GatherURL func(callID string) string
	Now       func() time.Time
	Logger    *logger.Logger
}

// Coordinator runs live conversations. Conversation state is kept in memory
// and persisted after every turn so another process can pick the call up.
type Coordinator struct {
	calls         Store
	contacts      ContactReader
	conversations *Conversations
	completer     llm.Completer
	voices        *tts.Router
	audio         storage.StorageService
	bucket        string
	gatherURL     func(callID string) string
	now           func() time.Time
	log           *logger.Logger
}

func NewCoordinator(opts CoordinatorOptions) *Coordinator {
	c := &Coordinator{
		calls:         opts.Calls,
		contacts:      opts.Contacts,
		conversations: NewConversations(),
		completer:     opts.Completer,
		voices:        opts.Voices,
		audio:         opts.Audio,
		bucket:        opts.Bucket,
		gatherURL:     opts.GatherURL,
		now:           opts.Now,
		log:           opts.Logger,
	}
	if c.completer == nil {
		c.completer = llm.Disabled{}
	}
	if c.gatherURL == nil {
		c.gatherURL = (*telephony.Client)(nil).VoiceURL
	}
	if c.now == nil {
		c.now = func() time.Time { return time.Now().UTC() }
	}
	if c.log == nil {
		c.log = logger.Discard()
	}
	return c
}

// Active is the number of conversations held by this process.
func (c *Coordinator) Active() int {
	return c.conversations.Len()
}

func contactContext(ct contacts.Contact) ContactContext {
	return ContactContext{
		Name:    ct.FullName(),
		Company: ct.Company,
		Title:   ct.Title,
		Notes:   ct.Field("notes"),
	}
}

// Begin registers the conversation for a call that is about to be dialed.
func (c *Coordinator) Begin(rec CallRecord, agent Agent, contact contacts.Contact) {
	c.conversations.Start(NewConversation(rec.ID, rec.AccountID, agent, contactContext(contact), c.now()))
}

// conversation returns the live state, rebuilding it from the stored record
// when this process has none.
func (c *Coordinator) conversation(ctx context.Context, callID uuid.UUID) (*ConversationState, error) {
	if s, ok := c.conversations.Get(callID); ok {
		return s, nil
	}
	rec, err := c.calls.GetCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	agent, err := c.calls.GetAgent(ctx, rec.AccountID, rec.AgentID)
	if err != nil {
		return nil, fmt.Errorf("load agent: %w", err)
	}
	var cc ContactContext
	if c.contacts != nil {
		if ct, err := c.contacts.Get(ctx, rec.AccountID, rec.ContactID); err == nil {
			cc = contactContext(ct)
		}
	}
	startedAt := rec.CreatedAt
	if rec.AnsweredAt != nil {
		startedAt = *rec.AnsweredAt
	}
	state := NewConversation(rec.ID, rec.AccountID, agent, cc, startedAt)
	state.Usage = rec.Usage
	for _, entry := range rec.Transcript {
		role := llm.RoleUser
		if entry.Speaker == SpeakerAgent {
			role = llm.RoleAssistant
		}
		state.Messages = append(state.Messages, llm.Message{Role: role, Text: entry.Text})
		state.Transcript = append(state.Transcript, entry)
	}
	return c.conversations.Start(state), nil
}

// Answer produces the opening turn once the contact picks up.
func (c *Coordinator) Answer(ctx context.Context, callID uuid.UUID) (telephony.Turn, error) {
	state, err := c.conversation(ctx, callID)
	if errors.Is(err, ErrCallNotFound) {
		return telephony.Turn{Text: lineLostConversation, Hangup: true}, nil
	}
	if err != nil {
		return telephony.Turn{}, err
	}

	now := c.now()
	if err := c.calls.MarkAnswered(ctx, callID, now); err != nil {
		return telephony.Turn{}, fmt.Errorf("mark answered: %w", err)
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	if len(state.Transcript) == 0 {
		state.StartedAt = now
	}

	template := state.Agent
	if template.Greeting == "" {
		template.Greeting = lineDefaultGreeting
	}
	greeting := Greeting(template, state.Contact)
	state.add(SpeakerAgent, greeting, now)
	turn := c.speak(ctx, state, greeting, false)
	c.save(ctx, state)
	return turn, nil
}

// Respond records what the contact said and produces the agent's next turn.
func (c *Coordinator) Respond(ctx context.Context, callID uuid.UUID, speech string) (telephony.Turn, error) {
	state, err := c.conversation(ctx, callID)
	if errors.Is(err, ErrCallNotFound) {
		return telephony.Turn{Text: lineLostConversation, Hangup: true}, nil
	}
	if err != nil {
		return telephony.Turn{}, err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	now := c.now()
	state.add(SpeakerContact, speech, now)

	maxDuration := state.Agent.MaxCallDuration
	if maxDuration <= 0 {
		maxDuration = defaultMaxCallDuration
	}

	var reply string
	hangup := true
	switch {
	case now.Sub(state.StartedAt) >= maxDuration:
		reply = lineMaxDuration
	case wantsToEnd(state.Agent, speech):
		reply = lineGoodbye
	default:
		hangup = false
		reply = c.generate(ctx, state)
	}

	state.add(SpeakerAgent, reply, now)
	turn := c.speak(ctx, state, reply, hangup)
	c.save(ctx, state)
	return turn, nil
}

func (c *Coordinator) generate(ctx context.Context, state *ConversationState) string {
	if !c.completer.Available() {
		return lineRepeat
	}
	resp, err := c.completer.Complete(ctx, llm.Request{
		System:      state.System,
		Messages:    state.Messages,
		Temperature: replyTemperature,
		MaxTokens:   replyMaxTokens,
	})
	state.Usage.InputTokens += resp.InputTokens
	state.Usage.OutputTokens += resp.OutputTokens
	if err != nil || resp.Text == "" {
		c.log.Warn("conversation reply failed", "call_id", state.CallID, "error", err)
		return lineRepeat
	}
	return resp.Text
}

// speak renders text as synthesized audio when a voice provider and audio
// storage are available, and as provider speech otherwise.
func (c *Coordinator) speak(ctx context.Context, state *ConversationState, text string, hangup bool) telephony.Turn {
	turn := telephony.Turn{Text: text, Hangup: hangup}
	if !hangup {
		turn.GatherURL = c.gatherURL(state.CallID.String())
	}
	if c.voices == nil || c.audio == nil || c.bucket == "" {
		return turn
	}

	synth, err := c.voices.Synthesizer(state.Agent.VoiceProvider)
	if err != nil {
		return turn
	}
	audio, err := synth.Synthesize(ctx, text, state.Agent.Voice)
	if err != nil {
		c.log.Warn("speech synthesis failed", "call_id", state.CallID, "error", err)
		return turn
	}
	state.Usage.TTSChars += len(text)

	folder := speechFolder + "/" + state.CallID.String()
	name := fmt.Sprintf("turn-%03d.mp3", len(state.Transcript))
	key, err := c.audio.UploadFile(ctx, c.bucket, folder, name, tts.ContentType, bytes.NewReader(audio), int64(len(audio)))
	if err != nil {
		c.log.Warn("store speech failed", "call_id", state.CallID, "error", err)
		return turn
	}
	url, err := c.audio.GenerateDownloadURL(ctx, c.bucket, key)
	if err != nil {
		c.log.Warn("presign speech failed", "call_id", state.CallID, "error", err)
		return turn
	}
	turn.AudioURL = url.URL
	return turn
}

func (c *Coordinator) save(ctx context.Context, state *ConversationState) {
	if err := c.calls.SaveConversation(ctx, state.CallID, state.Transcript, state.Usage); err != nil {
		c.log.Warn("persist conversation failed", "call_id", state.CallID, "error", err)
	}
}

// End drops the live state and returns the final transcript and usage,
// falling back to what was persisted.
func (c *Coordinator) End(ctx context.Context, callID uuid.UUID) ([]TranscriptEntry, Usage, error) {
	if state, ok := c.conversations.End(callID); ok {
		transcript, usage, _ := state.Snapshot()
		return transcript, usage, nil
	}
	rec, err := c.calls.GetCall(ctx, callID)
	if err != nil {
		return nil, Usage{}, err
	}
	return rec.Transcript, rec.Usage, nil
}
