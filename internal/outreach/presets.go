// Package outreach runs multi-channel outreach sequences as durable
// functions: enrollment, one function run per step, replies and completion.
package outreach

// Channels a sequence step can use.
const (
	ChannelEmail    = "email"
	ChannelLinkedIn = "linkedin"
	ChannelWhatsApp = "whatsapp"
	ChannelSMS      = "sms"
	ChannelCall     = "call"
)

// Preset template names.
const (
	TemplateStandardB2B  = "standard_b2b"
	TemplateAggressive   = "aggressive"
	TemplateNurture      = "nurture"
	TemplateReEngagement = "re_engagement"
)

// Step is one touch in a sequence, due DayOffset days after enrollment.
type Step struct {
	DayOffset       int    `json:"day"`
	Channel         string `json:"channel"`
	Template        string `json:"template"`
	Subject         string `json:"subject,omitempty"`
	FallbackChannel string `json:"fallbackChannel,omitempty"`
}

// Preset is a named, fixed list of steps.
type Preset struct {
	Name  string
	Steps []Step
}

const aiSubject = "ai_generated"

var Presets = map[string]Preset{
	TemplateStandardB2B: {
		Name: "Standard B2B Outreach",
		Steps: []Step{
			{DayOffset: 0, Channel: ChannelEmail, Template: "intro", Subject: aiSubject},
			{DayOffset: 2, Channel: ChannelLinkedIn, Template: "connection_request"},
			{DayOffset: 5, Channel: ChannelEmail, Template: "followup_1", Subject: aiSubject},
			{DayOffset: 7, Channel: ChannelWhatsApp, Template: "casual_checkin", FallbackChannel: ChannelSMS},
			{DayOffset: 10, Channel: ChannelEmail, Template: "value_add", Subject: aiSubject},
			{DayOffset: 14, Channel: ChannelCall, Template: "discovery_call"},
			{DayOffset: 21, Channel: ChannelEmail, Template: "breakup", Subject: aiSubject},
		},
	},
	TemplateAggressive: {
		Name: "Aggressive (High-Intent Leads)",
		Steps: []Step{
			{DayOffset: 0, Channel: ChannelEmail, Template: "intro", Subject: aiSubject},
			{DayOffset: 1, Channel: ChannelLinkedIn, Template: "connection_request"},
			{DayOffset: 2, Channel: ChannelCall, Template: "discovery_call"},
			{DayOffset: 3, Channel: ChannelWhatsApp, Template: "casual_checkin", FallbackChannel: ChannelSMS},
			{DayOffset: 5, Channel: ChannelEmail, Template: "followup_1", Subject: aiSubject},
			{DayOffset: 7, Channel: ChannelCall, Template: "followup_call"},
			{DayOffset: 10, Channel: ChannelEmail, Template: "breakup", Subject: aiSubject},
		},
	},
	TemplateNurture: {
		Name: "Nurture (Low-Score Leads)",
		Steps: []Step{
			{DayOffset: 0, Channel: ChannelEmail, Template: "value_add", Subject: aiSubject},
			{DayOffset: 7, Channel: ChannelEmail, Template: "case_study", Subject: aiSubject},
			{DayOffset: 14, Channel: ChannelLinkedIn, Template: "connection_request"},
			{DayOffset: 21, Channel: ChannelEmail, Template: "value_add_2", Subject: aiSubject},
			{DayOffset: 30, Channel: ChannelEmail, Template: "checkin", Subject: aiSubject},
		},
	},
	TemplateReEngagement: {
		Name: "Re-engagement (Lost/Stalled Deals)",
		Steps: []Step{
			{DayOffset: 0, Channel: ChannelEmail, Template: "re_engage", Subject: aiSubject},
			{DayOffset: 5, Channel: ChannelLinkedIn, Template: "reconnect"},
			{DayOffset: 10, Channel: ChannelEmail, Template: "new_value", Subject: aiSubject},
			{DayOffset: 15, Channel: ChannelWhatsApp, Template: "casual_reconnect", FallbackChannel: ChannelSMS},
		},
	},
}

// TemplateForScore picks the preset for an auto-enrolled lead.
func TemplateForScore(score int) string {
	switch {
	case score >= 70:
		return TemplateAggressive
	case score >= 40:
		return TemplateStandardB2B
	default:
		return TemplateNurture
	}
}

// ResolveChannel applies the step's fallback when the contact cannot be
// reached on the primary channel. ok is false when neither works.
func ResolveChannel(step Step, hasEmail, hasPhone bool) (channel string, ok bool) {
	reachable := func(ch string) bool {
		switch ch {
		case ChannelEmail:
			return hasEmail
		case ChannelWhatsApp, ChannelSMS, ChannelCall:
			return hasPhone
		default:
			return true
		}
	}
	if reachable(step.Channel) {
		return step.Channel, true
	}
	if step.FallbackChannel != "" && reachable(step.FallbackChannel) {
		return step.FallbackChannel, true
	}
	return step.Channel, false
}

// DefaultDailyLimit is the per-account daily send cap for a channel.
func DefaultDailyLimit(channel string) int {
	switch channel {
	case ChannelEmail:
		return 50
	case ChannelLinkedIn:
		return 25
	default:
		return 100
	}
}
