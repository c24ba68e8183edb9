// Package events holds the event contracts shared by the workflow engine and
// its observers: the Event interface, envelopes and the in-process bus.
package events

import (
	"context"
	"time"
)

// Event is anything the pipeline publishes. The name selects the functions
// and observers it reaches.
type Event interface {
	EventName() string
	OccurredAt() time.Time
}

// AccountScoped events carry the account used for throttle keys and log
// scoping.
type AccountScoped interface {
	Account() string
}

// BaseEvent is embedded by every concrete event for its timestamp.
type BaseEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// NewBaseEvent stamps an event with the current UTC time.
func NewBaseEvent() BaseEvent {
	return BaseEvent{Timestamp: time.Now().UTC()}
}

// Handler observes dispatched events.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

type HandlerFunc func(ctx context.Context, event Event) error

func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Wildcard subscribes a handler to every event name.
const Wildcard = "*"

// Bus fans dispatched events out to observers. Observers never own pipeline
// state; durable work happens in workflow functions.
type Bus interface {
	// Publish hands the event to its observers without waiting for them.
	Publish(ctx context.Context, event Event)
	// PublishSync runs the observers inline and returns their joined errors.
	PublishSync(ctx context.Context, event Event) error
	// Subscribe adds an observer for one event name, or for Wildcard.
	Subscribe(eventName string, handler Handler)
}
