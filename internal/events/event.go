// Package events provides domain event definitions for decoupled,
// event-driven communication between pipeline modules.
// Infrastructure (Bus, Handler, Envelope) is in platform/events.
package events

import (
	"salespipeline_backend/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
	Envelope    = events.Envelope
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// AccountRef is embedded by every pipeline event so throttles and logs can be
// keyed per account.
type AccountRef struct {
	AccountID string `json:"accountId"`
}

// Account implements events.AccountScoped.
func (a AccountRef) Account() string { return a.AccountID }

// BANT holds the five 0-100 qualification dimensions.
type BANT struct {
	Budget      int `json:"budget"`
	Authority   int `json:"authority"`
	Need        int `json:"need"`
	Timeline    int `json:"timeline"`
	Competition int `json:"competition"`
}

// Mean returns the arithmetic mean of the five dimensions.
func (b BANT) Mean() float64 {
	return float64(b.Budget+b.Authority+b.Need+b.Timeline+b.Competition) / 5
}

// Values returns the dimensions in rubric order.
func (b BANT) Values() []int {
	return []int{b.Budget, b.Authority, b.Need, b.Timeline, b.Competition}
}

// =============================================================================
// Contact Events
// =============================================================================

// ContactCreated starts the pipeline for a contact.
type ContactCreated struct {
	BaseEvent
	AccountRef
	ContactID uuid.UUID `json:"contactId"`
	Source    string    `json:"source"`
}

func (e ContactCreated) EventName() string { return "contact.created" }

// ContactEnriched is published after enrichment data was merged onto a contact.
type ContactEnriched struct {
	BaseEvent
	AccountRef
	ContactID uuid.UUID `json:"contactId"`
}

func (e ContactEnriched) EventName() string { return "contact.enriched" }

// ContactEnrichmentRequested asks an external enricher to fill company data.
type ContactEnrichmentRequested struct {
	BaseEvent
	AccountRef
	ContactID uuid.UUID `json:"contactId"`
	Email     string    `json:"email,omitempty"`
	Company   string    `json:"company,omitempty"`
}

func (e ContactEnrichmentRequested) EventName() string { return "contact.enrichment.requested" }

// =============================================================================
// Lead Pipeline Events
// =============================================================================

// LeadScored carries a freshly computed score and its signal breakdown.
type LeadScored struct {
	BaseEvent
	AccountRef
	ContactID     uuid.UUID      `json:"contactId"`
	Score         int            `json:"score"`
	PreviousScore int            `json:"previousScore"`
	Signals       map[string]int `json:"signals"`
	Calibration   string         `json:"calibration,omitempty"`
}

func (e LeadScored) EventName() string { return "lead.scored" }

// LeadQualified is published only when qualification concluded "qualified".
type LeadQualified struct {
	BaseEvent
	AccountRef
	ContactID uuid.UUID `json:"contactId"`
	Outcome   string    `json:"outcome"`
	BANT      BANT      `json:"bant"`
	Notes     string    `json:"notes"`
	Method    string    `json:"method"`
}

func (e LeadQualified) EventName() string { return "lead.qualified" }

// LeadRouted records the routing mode chosen for a qualified lead.
type LeadRouted struct {
	BaseEvent
	AccountRef
	ContactID  uuid.UUID `json:"contactId"`
	Mode       string    `json:"mode"`
	AssignedTo string    `json:"assignedTo"`
	Reason     string    `json:"reason"`
	Score      int       `json:"score"`
}

func (e LeadRouted) EventName() string { return "lead.routed" }

// LeadEscalation flags a hot lead for human follow-up.
type LeadEscalation struct {
	BaseEvent
	AccountRef
	ContactID uuid.UUID `json:"contactId"`
	Reason    string    `json:"reason"`
}

func (e LeadEscalation) EventName() string { return "lead.escalation" }

// =============================================================================
// Outreach Events
// =============================================================================

// OutreachEnroll requests enrollment of a contact into a sequence template.
type OutreachEnroll struct {
	BaseEvent
	AccountRef
	ContactID        uuid.UUID `json:"contactId"`
	SequenceTemplate string    `json:"sequenceTemplate"`
	Priority         string    `json:"priority,omitempty"`
}

func (e OutreachEnroll) EventName() string { return "outreach.enroll" }

// OutreachStepDue schedules execution of one sequence step.
type OutreachStepDue struct {
	BaseEvent
	AccountRef
	ContactID    uuid.UUID `json:"contactId"`
	EnrollmentID uuid.UUID `json:"enrollmentId"`
	StepIndex    int       `json:"stepIndex"`
	Channel      string    `json:"channel"`
}

func (e OutreachStepDue) EventName() string { return "outreach.step.due" }

// OutreachReplyReceived is an inbound reply on any outreach channel.
type OutreachReplyReceived struct {
	BaseEvent
	AccountRef
	ContactID uuid.UUID `json:"contactId"`
	Channel   string    `json:"channel"`
	Sentiment string    `json:"sentiment"`
	Body      string    `json:"body,omitempty"`
}

func (e OutreachReplyReceived) EventName() string { return "outreach.reply.received" }

// OutreachSequenceCompleted marks the end of an enrollment.
type OutreachSequenceCompleted struct {
	BaseEvent
	AccountRef
	ContactID    uuid.UUID `json:"contactId"`
	EnrollmentID uuid.UUID `json:"enrollmentId"`
	Outcome      string    `json:"outcome"`
}

func (e OutreachSequenceCompleted) EventName() string { return "outreach.sequence.completed" }

// =============================================================================
// Calling Events
// =============================================================================

// CallInitiated requests an autonomous outbound call.
type CallInitiated struct {
	BaseEvent
	AccountRef
	ContactID uuid.UUID `json:"contactId"`
	AgentID   string    `json:"agentId"`
	Priority  string    `json:"priority,omitempty"`
	Retry     int       `json:"retry,omitempty"`
}

func (e CallInitiated) EventName() string { return "call.initiated" }

// CallCompleted is published when the provider reports a finished call.
type CallCompleted struct {
	BaseEvent
	AccountRef
	ContactID      uuid.UUID `json:"contactId"`
	CallID         uuid.UUID `json:"callId"`
	ProviderCallID string    `json:"providerCallId"`
	DurationSecs   int       `json:"durationSecs"`
}

func (e CallCompleted) EventName() string { return "call.completed" }

// =============================================================================
// Follow-up Events
// =============================================================================

// FollowUpTrigger creates post-call follow-up messages.
type FollowUpTrigger struct {
	BaseEvent
	AccountRef
	ContactID    uuid.UUID `json:"contactId"`
	CallID       uuid.UUID `json:"callId"`
	Outcome      string    `json:"outcome"`
	ContactName  string    `json:"contactName"`
	ContactEmail string    `json:"contactEmail,omitempty"`
	ContactPhone string    `json:"contactPhone,omitempty"`
	CallSummary  string    `json:"callSummary"`
	NextSteps    string    `json:"nextSteps"`
	AgentName    string    `json:"agentName"`
}

func (e FollowUpTrigger) EventName() string { return "followup.trigger" }

// FollowUpSend sends one pending follow-up message.
type FollowUpSend struct {
	BaseEvent
	AccountRef
	MessageID uuid.UUID `json:"messageId"`
}

func (e FollowUpSend) EventName() string { return "followup.send" }

// =============================================================================
// Deal & Feedback Events
// =============================================================================

// DealWon closes a contact as won.
type DealWon struct {
	BaseEvent
	AccountRef
	ContactID uuid.UUID `json:"contactId"`
	DealValue float64   `json:"dealValue"`
}

func (e DealWon) EventName() string { return "deal.won" }

// DealLost closes a contact as lost.
type DealLost struct {
	BaseEvent
	AccountRef
	ContactID  uuid.UUID `json:"contactId"`
	DealValue  float64   `json:"dealValue"`
	LostReason string    `json:"lostReason"`
}

func (e DealLost) EventName() string { return "deal.lost" }

// FeedbackRecalibrate asks for a new scoring calibration.
type FeedbackRecalibrate struct {
	BaseEvent
	AccountRef
	Trigger string `json:"trigger"`
}

func (e FeedbackRecalibrate) EventName() string { return "feedback.recalibrate" }

// =============================================================================
// Runtime Events
// =============================================================================

// RunFailed is published when a function run exhausts its retries.
type RunFailed struct {
	BaseEvent
	AccountRef
	RunID      uuid.UUID `json:"runId"`
	FunctionID string    `json:"functionId"`
	Trigger    string    `json:"trigger"`
	Error      string    `json:"error"`
}

func (e RunFailed) EventName() string { return "workflow.run.failed" }

// NewRegistry returns a registry that can decode every pipeline event.
func NewRegistry() *events.Registry {
	return events.NewRegistry(
		ContactCreated{},
		ContactEnriched{},
		ContactEnrichmentRequested{},
		LeadScored{},
		LeadQualified{},
		LeadRouted{},
		LeadEscalation{},
		OutreachEnroll{},
		OutreachStepDue{},
		OutreachReplyReceived{},
		OutreachSequenceCompleted{},
		CallInitiated{},
		CallCompleted{},
		FollowUpTrigger{},
		FollowUpSend{},
		DealWon{},
		DealLost{},
		FeedbackRecalibrate{},
		RunFailed{},
	)
}
