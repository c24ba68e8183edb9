package events

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Envelope is the durable, serialized form of an Event.
type Envelope struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	AccountID  string          `json:"accountId"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurredAt"`
}

// NewID returns a lexically sortable event identifier.
func NewID() string {
	return ulid.Make().String()
}

// Seal encodes event into an Envelope. An empty id gets a fresh ULID.
func Seal(id string, event Event) (Envelope, error) {
	if event == nil {
		return Envelope{}, fmt.Errorf("seal: nil event")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return Envelope{}, fmt.Errorf("seal %s: %w", event.EventName(), err)
	}
	if id == "" {
		id = NewID()
	}
	occurred := event.OccurredAt()
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	env := Envelope{
		ID:         id,
		Name:       event.EventName(),
		Payload:    payload,
		OccurredAt: occurred,
	}
	if scoped, ok := event.(AccountScoped); ok {
		env.AccountID = scoped.Account()
	}
	return env, nil
}

// Registry maps event names to their concrete Go types so envelopes can be
// decoded back into typed events.
type Registry struct {
	mu    sync.RWMutex
	types map[string]reflect.Type
}

// NewRegistry creates a registry pre-populated with prototypes.
func NewRegistry(prototypes ...Event) *Registry {
	r := &Registry{types: make(map[string]reflect.Type)}
	r.Register(prototypes...)
	return r
}

// Register adds prototypes. Each prototype must be a non-pointer struct value.
func (r *Registry) Register(prototypes ...Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range prototypes {
		t := reflect.TypeOf(p)
		if t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		r.types[p.EventName()] = t
	}
}

// Known reports whether name has a registered type.
func (r *Registry) Known(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.types[name]
	return ok
}

// Decode turns env back into its concrete event type.
func (r *Registry) Decode(env Envelope) (Event, error) {
	r.mu.RLock()
	t, ok := r.types[env.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("decode: unknown event %q", env.Name)
	}

	ptr := reflect.New(t)
	if err := json.Unmarshal(env.Payload, ptr.Interface()); err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Name, err)
	}
	evt, ok := ptr.Elem().Interface().(Event)
	if !ok {
		return nil, fmt.Errorf("decode: %s does not implement Event", env.Name)
	}
	return evt, nil
}

type envelopeIDKey struct{}

// WithEnvelopeID attaches the id of the envelope an event was decoded from.
func WithEnvelopeID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, envelopeIDKey{}, id)
}

// EnvelopeIDFrom returns the id set by WithEnvelopeID, or "".
func EnvelopeIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(envelopeIDKey{}).(string)
	return id
}
