package ingest

import "github.com/google/uuid"

type CreateContactRequest struct {
	FirstName       string         `json:"firstName" validate:"required,max=100"`
	LastName        string         `json:"lastName" validate:"max=100"`
	Email           string         `json:"email" validate:"omitempty,email,max=254"`
	Phone           string         `json:"phone" validate:"omitempty,max=32"`
	Company         string         `json:"company" validate:"max=200"`
	Title           string         `json:"title" validate:"max=200"`
	Source          string         `json:"source" validate:"max=50"`
	DealValue       float64        `json:"dealValue" validate:"gte=0"`
	ExtensionFields map[string]any `json:"extensionFields"`
}

type EnrichContactRequest struct {
	Fields map[string]any `json:"fields" validate:"required,min=1"`
}

type ConsentRequest struct {
	DoNotCall  *bool `json:"doNotCall"`
	DoNotEmail *bool `json:"doNotEmail"`
}

type DealWonRequest struct {
	DealValue float64 `json:"dealValue" validate:"gte=0"`
}

type DealLostRequest struct {
	DealValue  float64 `json:"dealValue" validate:"gte=0"`
	LostReason string  `json:"lostReason" validate:"required,max=200"`
}

type ReplyRequest struct {
	ContactID uuid.UUID `json:"contactId" validate:"required"`
	Channel   string    `json:"channel" validate:"required,oneof=email sms whatsapp linkedin call"`
	Sentiment string    `json:"sentiment" validate:"omitempty,oneof=positive neutral negative"`
	Body      string    `json:"body" validate:"required_without=Sentiment,max=10000"`
}

type EnrollRequest struct {
	ContactID        uuid.UUID `json:"contactId" validate:"required"`
	SequenceTemplate string    `json:"sequenceTemplate" validate:"required,max=50"`
	Priority         string    `json:"priority" validate:"max=20"`
}

type StartCallRequest struct {
	ContactID uuid.UUID `json:"contactId" validate:"required"`
	AgentID   string    `json:"agentId" validate:"max=100"`
	Priority  string    `json:"priority" validate:"max=20"`
}

// AcceptedResponse is returned for work handed to the pipeline.
type AcceptedResponse struct {
	EventIDs  []string   `json:"eventIds"`
	ContactID *uuid.UUID `json:"contactId,omitempty"`
}

type ConsentResponse struct {
	ContactID  uuid.UUID `json:"contactId"`
	DoNotCall  bool      `json:"doNotCall"`
	DoNotEmail bool      `json:"doNotEmail"`
}

type RunResponse struct {
	ID         uuid.UUID `json:"id"`
	FunctionID string    `json:"functionId"`
	EventName  string    `json:"eventName"`
	EventID    string    `json:"eventId"`
	Status     string    `json:"status"`
	Attempt    int       `json:"attempt"`
	LastError  string    `json:"lastError,omitempty"`
	CreatedAt  string    `json:"createdAt"`
	UpdatedAt  string    `json:"updatedAt"`
}
