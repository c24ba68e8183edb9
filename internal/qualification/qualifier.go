// Package qualification assesses scored leads on the BANT+ rubric and
// publishes lead.qualified for the ones worth routing.
package qualification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"salespipeline_backend/internal/contacts"
	"salespipeline_backend/internal/events"
	"salespipeline_backend/platform/logger"
)

// Outcomes.
const (
	OutcomeQualified    = "qualified"
	OutcomeNurture      = "nurture"
	OutcomeDisqualified = "disqualified"
)

// Methods recorded as qualification_method.
const (
	MethodLLM          = "llm"
	MethodRules        = "rule_based"
	MethodRuleFallback = "rule_based_fallback"
)

// Context is what a Qualifier sees about a lead.
type Context struct {
	Name            string
	Email           string
	Phone           string
	Company         string
	Title           string
	Source          string
	Stage           contacts.Stage
	Score           int
	DealValue       float64
	LastContactedAt *time.Time
	CompanyOverview string
	Industry        string
	CompanySize     string
	Funding         string
	TechStack       []string
	PainPoints      []string
	RecentNews      []string
	DoNotCall       bool
	DoNotEmail      bool
	Now             time.Time
}

// ContextFor builds a qualifier Context from a contact and its enrichment
// extension fields.
func ContextFor(c contacts.Contact, now time.Time) Context {
	return Context{
		Name:            c.FullName(),
		Email:           c.Email,
		Phone:           c.Phone,
		Company:         c.Company,
		Title:           c.Title,
		Source:          c.Source,
		Stage:           c.Stage,
		Score:           c.Score,
		DealValue:       c.DealValue,
		LastContactedAt: c.LastContactedAt,
		CompanyOverview: c.Field(contacts.FieldCompanyOverview),
		Industry:        c.Field(contacts.FieldIndustry),
		CompanySize:     c.Field(contacts.FieldCompanySize),
		Funding:         c.Field(contacts.FieldFunding),
		TechStack:       stringList(c.ExtensionFields[contacts.FieldTechStack]),
		PainPoints:      stringList(c.ExtensionFields[contacts.FieldPainPoints]),
		RecentNews:      stringList(c.ExtensionFields[contacts.FieldRecentNews]),
		DoNotCall:       c.DoNotCall,
		DoNotEmail:      c.DoNotEmail,
		Now:             now,
	}
}

func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if strings.TrimSpace(list) == "" {
			return nil
		}
		return []string{list}
	default:
		return nil
	}
}

// Describe renders the context as the prompt body sent to a model.
func (c Context) Describe() string {
	var b strings.Builder
	line := func(label, value string) {
		if strings.TrimSpace(value) != "" {
			fmt.Fprintf(&b, "%s: %s\n", label, value)
		}
	}
	line("Name", c.Name)
	line("Email", c.Email)
	line("Company", c.Company)
	line("Title", c.Title)
	line("Phone", c.Phone)
	if c.DealValue > 0 {
		line("Deal Value", fmt.Sprintf("$%.0f", c.DealValue))
	}
	line("Current Stage", string(c.Stage))
	if c.Score > 0 {
		line("Lead Score", fmt.Sprintf("%d/100", c.Score))
	}
	line("Source", c.Source)
	line("Company Overview", c.CompanyOverview)
	line("Industry", c.Industry)
	line("Company Size", c.CompanySize)
	line("Funding", c.Funding)
	line("Tech Stack", strings.Join(c.TechStack, ", "))
	line("Pain Points", strings.Join(c.PainPoints, "; "))
	line("Recent News", strings.Join(c.RecentNews, "; "))
	if c.DoNotCall {
		b.WriteString("FLAG: Do Not Call\n")
	}
	if c.DoNotEmail {
		b.WriteString("FLAG: Do Not Email\n")
	}
	return strings.TrimSpace(b.String())
}

// Assessment is the qualification verdict for one lead.
type Assessment struct {
	Outcome           string      `json:"outcome"`
	BANT              events.BANT `json:"bant"`
	Notes             string      `json:"notes"`
	RecommendedAction string      `json:"recommendedAction"`
	Method            string      `json:"method"`
}

// Qualifier produces an Assessment.
type Qualifier interface {
	Name() string
	Available() bool
	Assess(ctx context.Context, qc Context) (Assessment, error)
}

// Classify maps BANT dimensions to an outcome.
func Classify(b events.BANT) string {
	strong := 0
	for _, v := range b.Values() {
		if v >= 50 {
			strong++
		}
	}
	mean := b.Mean()
	switch {
	case mean >= 60 && strong >= 3:
		return OutcomeQualified
	case mean < 30:
		return OutcomeDisqualified
	default:
		return OutcomeNurture
	}
}

func recommendedAction(outcome string) string {
	switch outcome {
	case OutcomeQualified:
		return "Route to outreach sequence"
	case OutcomeNurture:
		return "Add to nurture campaign"
	default:
		return "Archive or deprioritize"
	}
}

// Selector prefers the primary qualifier and falls back to the rules when it
// is unavailable or fails.
type Selector struct {
	primary  Qualifier
	fallback Qualifier
	log      *logger.Logger
}

func NewSelector(primary Qualifier, fallback Qualifier, log *logger.Logger) *Selector {
	if fallback == nil {
		fallback = RuleQualifier{}
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Selector{primary: primary, fallback: fallback, log: log}
}

// Assess never fails because of the primary qualifier.
func (s *Selector) Assess(ctx context.Context, qc Context) (Assessment, error) {
	if s.primary == nil || !s.primary.Available() {
		return s.fallback.Assess(ctx, qc)
	}
	a, err := s.primary.Assess(ctx, qc)
	if err == nil {
		return a, nil
	}
	s.log.Warn("qualifier failed, using rules", "qualifier", s.primary.Name(), "error", err)
	a, ferr := s.fallback.Assess(ctx, qc)
	if ferr != nil {
		return Assessment{}, ferr
	}
	a.Method = MethodRuleFallback
	return a, nil
}
