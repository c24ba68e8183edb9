package contacts

import (
	"context"

	"github.com/google/uuid"
)

// Activity types logged by pipeline functions.
const (
	ActivityLeadScored          = "lead_scored"
	ActivityRoutingSkipped      = "routing_skipped"
	ActivityQualificationQueued = "qualification_queued"
	ActivityLeadQualified       = "lead_qualified"
	ActivityLeadRouted          = "lead_routed"
	ActivityOutreachSent        = "outreach_sent"
	ActivityOutreachSkipped     = "outreach_skipped"
	ActivityOutreachReply       = "outreach_reply"
	ActivityOutreachCompleted   = "outreach_completed"
	ActivityHotLeadIdentified   = "hot_lead_identified"
	ActivityCallSkipped         = "autonomous_call_skipped"
	ActivityCallInitiated       = "autonomous_call_initiated"
	ActivityCallAnalyzed        = "autonomous_call_analyzed"
	ActivityDealWon             = "deal_won"
	ActivityDealLost            = "deal_lost"
	ActivityOrchestratorRouting = "orchestrator_routing"
	ActivityQueueForEnrichment  = "queue_for_enrichment"
	ActivityStuckLeadReengaged  = "stuck_lead_reengaged"
	ActivityDealEscalation      = "deal_escalation"
	ActivityFollowUpSent        = "followup_sent"
	ActivityOnboardingStarted   = "onboarding_started"
	ActivityOnboardingStep      = "onboarding_step_completed"
	ActivityOnboardingTask      = "onboarding_task_created"
	ActivityInvoiceOverdue      = "invoice_overdue"
	ActivityMeetingReminded     = "meeting_reminder_sent"
)

// ActivityLogger is the write side of the activity log.
type ActivityLogger interface {
	LogActivity(ctx context.Context, activity Activity) error
}

// Log appends one activity for a contact.
func Log(ctx context.Context, store ActivityLogger, accountID string, contactID uuid.UUID, typ string, details map[string]any) error {
	var ref *uuid.UUID
	if contactID != uuid.Nil {
		ref = &contactID
	}
	return store.LogActivity(ctx, Activity{
		ID:        uuid.New(),
		AccountID: accountID,
		ContactID: ref,
		Type:      typ,
		Details:   details,
	})
}
