package calling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"salespipeline_backend/internal/contacts"
	"salespipeline_backend/platform/phone"

	"github.com/google/uuid"
)

// Reasons a call is not placed, in the order they are checked.
const (
	ReasonTelephonyNotConfigured = "telephony_not_configured"
	ReasonContactNotFound        = "contact_not_found"
	ReasonNoPhoneNumber          = "no_phone_number"
	ReasonInvalidPhoneNumber     = "invalid_phone_number"
	ReasonDoNotCall              = "do_not_call"
	ReasonOutsideCallingHours    = "outside_calling_hours"
	ReasonMaxDailyAttempts       = "max_daily_attempts_reached"
	ReasonAgentUnavailable       = "agent_not_found_or_inactive"
)

// Window is the local calling window [StartHour, EndHour) in Location. A
// window whose start is after its end runs past midnight.
type Window struct {
	StartHour int
	EndHour   int
	Location  *time.Location
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	if w.StartHour == 0 && w.EndHour == 0 {
		return true
	}
	loc := w.Location
	if loc == nil {
		loc = time.UTC
	}
	h := t.In(loc).Hour()
	if w.StartHour > w.EndHour {
		return h >= w.StartHour || h < w.EndHour
	}
	return h >= w.StartHour && h < w.EndHour
}

// GateConfig holds the limits the gate enforces.
type GateConfig struct {
	Window      Window
	MaxAttempts int
	// Region is the default region for numbers without a country code.
	Region string
}

// GateResult is the gate's verdict. Contact and Agent are set when it passed.
type GateResult struct {
	Pass    bool             `json:"pass"`
	Reason  string           `json:"reason,omitempty"`
	Contact contacts.Contact `json:"contact"`
	Agent   Agent            `json:"agent"`
}

type ContactReader interface {
	Get(ctx context.Context, accountID string, id uuid.UUID) (contacts.Contact, error)
}

// Gate runs the pre-call checks. The first failing check decides the reason.
type Gate struct {
	Telephony Telephony
	Contacts  ContactReader
	Calls     Store
	Config    GateConfig
}

func fail(reason string) GateResult {
	return GateResult{Reason: reason}
}

func (g Gate) Check(ctx context.Context, accountID string, contactID uuid.UUID, agentID string, now time.Time) (GateResult, error) {
	if g.Telephony == nil || !g.Telephony.Configured() {
		return fail(ReasonTelephonyNotConfigured), nil
	}

	c, err := g.Contacts.Get(ctx, accountID, contactID)
	if errors.Is(err, contacts.ErrNotFound) {
		return fail(ReasonContactNotFound), nil
	}
	if err != nil {
		return GateResult{}, fmt.Errorf("load contact: %w", err)
	}
	if strings.TrimSpace(c.Phone) == "" {
		return fail(ReasonNoPhoneNumber), nil
	}
	if !phone.IsDialable(c.Phone, g.Config.Region) {
		return fail(ReasonInvalidPhoneNumber), nil
	}
	if c.DoNotCall {
		return fail(ReasonDoNotCall), nil
	}
	if !g.Config.Window.Contains(now) {
		return fail(ReasonOutsideCallingHours), nil
	}

	maxAttempts := g.Config.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	recent, err := g.Calls.CountCallsSince(ctx, accountID, contactID, now.Add(-24*time.Hour))
	if err != nil {
		return GateResult{}, fmt.Errorf("count recent calls: %w", err)
	}
	if recent >= maxAttempts {
		return fail(ReasonMaxDailyAttempts), nil
	}

	agent, err := g.Calls.GetAgent(ctx, accountID, agentID)
	if errors.Is(err, ErrAgentNotFound) || (err == nil && !agent.Active) {
		return fail(ReasonAgentUnavailable), nil
	}
	if err != nil {
		return GateResult{}, fmt.Errorf("load agent: %w", err)
	}
	return GateResult{Pass: true, Contact: c, Agent: agent}, nil
}
