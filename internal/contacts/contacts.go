// Package contacts owns the shared contact record and its activity log.
// Writers never replace a whole record: each pipeline function updates only
// the fields it owns through the narrow methods on Store.
package contacts

import (
	"context"
	"time"

	"salespipeline_backend/platform/apperr"

	"github.com/google/uuid"
)

// ErrNotFound is a not-found apperr, so workflow steps that surface it do
// not retry.
var ErrNotFound error = apperr.NotFound("contact not found")

// Stage is the sales stage of a contact.
type Stage string

const (
	StageLead        Stage = "lead"
	StageContacted   Stage = "contacted"
	StageQualified   Stage = "qualified"
	StageProposal    Stage = "proposal"
	StageNegotiation Stage = "negotiation"
	StageWon         Stage = "won"
	StageLost        Stage = "lost"
)

// Terminal reports whether the stage closes the contact.
func (s Stage) Terminal() bool {
	return s == StageWon || s == StageLost
}

// Extension field keys written by pipeline functions.
const (
	FieldEnrichmentStatus    = "enrichment_status"
	FieldCompanyOverview     = "company_overview"
	FieldIndustry            = "industry"
	FieldCompanySize         = "company_size"
	FieldFunding             = "funding"
	FieldTechStack           = "tech_stack"
	FieldPainPoints          = "pain_points"
	FieldRecentNews          = "recent_news"
	FieldQualificationStatus = "qualification_status"
	FieldRoutingReason       = "routing_reason"
	FieldRoutedAt            = "routed_at"

	EnrichmentComplete = "complete"
)

type Contact struct {
	ID              uuid.UUID
	AccountID       string
	FirstName       string
	LastName        string
	Email           string
	Phone           string
	Company         string
	Title           string
	Source          string
	Score           int
	Stage           Stage
	RoutingMode     string
	DealValue       float64
	AssignedRep     string
	ExtensionFields map[string]any
	DoNotCall       bool
	DoNotEmail      bool
	LastContactedAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// FullName joins first and last name.
func (c Contact) FullName() string {
	switch {
	case c.FirstName == "":
		return c.LastName
	case c.LastName == "":
		return c.FirstName
	default:
		return c.FirstName + " " + c.LastName
	}
}

// Enriched reports whether enrichment data has been merged.
func (c Contact) Enriched() bool {
	return c.Field(FieldEnrichmentStatus) == EnrichmentComplete
}

// Field returns an extension field as a string, or "" when absent.
func (c Contact) Field(key string) string {
	if c.ExtensionFields == nil {
		return ""
	}
	v, ok := c.ExtensionFields[key].(string)
	if !ok {
		return ""
	}
	return v
}

// HasField reports whether key is set to a non-empty value.
func (c Contact) HasField(key string) bool {
	if c.ExtensionFields == nil {
		return false
	}
	switch v := c.ExtensionFields[key].(type) {
	case nil:
		return false
	case string:
		return v != ""
	case []any:
		return len(v) > 0
	default:
		return true
	}
}

type CreateParams struct {
	AccountID       string
	FirstName       string
	LastName        string
	Email           string
	Phone           string
	Company         string
	Title           string
	Source          string
	DealValue       float64
	ExtensionFields map[string]any
}

// Activity is an append-only log line attached to a contact.
type Activity struct {
	ID        uuid.UUID
	AccountID string
	ContactID *uuid.UUID
	Type      string
	Details   map[string]any
	CreatedAt time.Time
}

// Routing modes.
const (
	ModeAutonomous  = "A"
	ModeHybrid      = "B"
	ModeSelfService = "C"
)

// AccountSettings are the per-account routing knobs.
type AccountSettings struct {
	AccountID            string
	DefaultMode          string
	EnabledModes         []string
	SelfServiceThreshold int
	LargeDealThreshold   float64
}

// DefaultAccountSettings is used for accounts without a settings row.
func DefaultAccountSettings(accountID string) AccountSettings {
	return AccountSettings{
		AccountID:            accountID,
		DefaultMode:          ModeAutonomous,
		EnabledModes:         []string{ModeAutonomous},
		SelfServiceThreshold: 80,
		LargeDealThreshold:   10000,
	}
}

// ModeEnabled reports whether mode is enabled for the account.
func (s AccountSettings) ModeEnabled(mode string) bool {
	for _, m := range s.EnabledModes {
		if m == mode {
			return true
		}
	}
	return false
}

// Store is implemented by the Postgres Repository and MemoryRepository.
type Store interface {
	Create(ctx context.Context, params CreateParams) (Contact, error)
	Get(ctx context.Context, accountID string, id uuid.UUID) (Contact, error)
	UpdateScore(ctx context.Context, accountID string, id uuid.UUID, score int) error
	MergeExtensionFields(ctx context.Context, accountID string, id uuid.UUID, fields map[string]any) error
	// SetStage moves the contact to stage. When from is non-empty the move
	// only happens if the current stage is one of from.
	SetStage(ctx context.Context, accountID string, id uuid.UUID, stage Stage, from ...Stage) (bool, error)
	SetRouting(ctx context.Context, accountID string, id uuid.UUID, mode string) error
	SetAssignedRep(ctx context.Context, accountID string, id uuid.UUID, rep string) error
	SetConsent(ctx context.Context, accountID string, id uuid.UUID, doNotCall, doNotEmail *bool) error
	MarkContacted(ctx context.Context, accountID string, id uuid.UUID, at time.Time) error
	ListStale(ctx context.Context, stages []Stage, updatedBefore time.Time, limit int) ([]Contact, error)
	ListAccounts(ctx context.Context) ([]string, error)

	LogActivity(ctx context.Context, activity Activity) error
	ListActivities(ctx context.Context, accountID string, contactID uuid.UUID, limit int) ([]Activity, error)
	CountActivities(ctx context.Context, accountID string, contactID uuid.UUID) (int, error)
	CountActivitiesByType(ctx context.Context, accountID string, types []string, since time.Time) (map[string]int, error)

	GetAccountSettings(ctx context.Context, accountID string) (AccountSettings, error)
}
