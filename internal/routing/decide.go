// Package routing decides how a qualified lead is worked: autonomously (A),
// by a human rep with AI support (B) or through self-service checkout (C).
package routing

import (
	"fmt"
	"math"

	"salespipeline_backend/internal/contacts"
	"salespipeline_backend/internal/events"
)

const (
	selfServiceBudgetFloor   = 70
	selfServiceTimelineFloor = 70
	hybridAuthorityFloor     = 50
)

// Input is everything Decide looks at.
type Input struct {
	BANT      events.BANT
	DealValue float64
	Settings  contacts.AccountSettings
}

// Decision is a routing mode with a human-readable reason.
type Decision struct {
	Mode   string `json:"mode"`
	Reason string `json:"reason"`
}

// Decide applies the routing rules in order; the first match wins:
// self-service (C), then hybrid (B) when enabled, then autonomous (A).
// C's gates are checked first, so an input that satisfies both C and B
// routes to C.
func Decide(in Input) Decision {
	b := in.BANT
	mean := b.Mean()
	s := in.Settings

	if mean >= float64(s.SelfServiceThreshold) &&
		b.Budget >= selfServiceBudgetFloor &&
		b.Timeline >= selfServiceTimelineFloor &&
		in.DealValue > 0 {
		return Decision{
			Mode:   contacts.ModeSelfService,
			Reason: fmt.Sprintf("high-intent lead (BANT avg %d, budget %d, timeline %d), direct to payment", round(mean), b.Budget, b.Timeline),
		}
	}

	largeDeal := in.DealValue > s.LargeDealThreshold
	if s.ModeEnabled(contacts.ModeHybrid) && (largeDeal || b.Authority < hybridAuthorityFloor) {
		why := "authority below threshold"
		if largeDeal {
			why = "high-value deal"
		}
		return Decision{Mode: contacts.ModeHybrid, Reason: why + ", route to sales rep for closing"}
	}

	return Decision{
		Mode:   contacts.ModeAutonomous,
		Reason: fmt.Sprintf("standard qualified lead (BANT avg %d), autonomous pipeline", round(mean)),
	}
}

func round(v float64) int {
	return int(math.Round(v))
}
