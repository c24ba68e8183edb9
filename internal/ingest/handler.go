package ingest

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"salespipeline_backend/internal/contacts"
	"salespipeline_backend/internal/events"
	"salespipeline_backend/internal/outreach"
	"salespipeline_backend/platform/apperr"
	platformevents "salespipeline_backend/platform/events"
	"salespipeline_backend/platform/httpkit"
	"salespipeline_backend/platform/logger"
	"salespipeline_backend/platform/phone"
	"salespipeline_backend/platform/sanitize"
	"salespipeline_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	errInvalidRequest   = "invalid request body"
	errInvalidContactID = "invalid contact ID"
	errContactRequired  = "email or phone is required"
	errUnknownTemplate  = "unknown sequence template"
)

// Publisher appends events to the durable log.
type Publisher interface {
	Publish(ctx context.Context, evts ...platformevents.Event) ([]string, error)
}

// ContactStore is the contact access ingest needs.
type ContactStore interface {
	Create(ctx context.Context, params contacts.CreateParams) (contacts.Contact, error)
	Get(ctx context.Context, accountID string, id uuid.UUID) (contacts.Contact, error)
	MergeExtensionFields(ctx context.Context, accountID string, id uuid.UUID, fields map[string]any) error
	SetConsent(ctx context.Context, accountID string, id uuid.UUID, doNotCall, doNotEmail *bool) error
}

// Enrollments cancels and reports outreach enrollments.
type Enrollments interface {
	Cancel(ctx context.Context, accountID string, id uuid.UUID, now time.Time) (outreach.Enrollment, error)
	Progress(ctx context.Context, accountID string, id uuid.UUID) (outreach.Progress, error)
}

// Handler serves the account-scoped ingest API.
type Handler struct {
	publisher   Publisher
	contacts    ContactStore
	enrollments Enrollments
	val         *validator.Validator
	region      string
	now         func() time.Time
	log         *logger.Logger
}

func (h *Handler) bindAndValidate(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, errInvalidRequest, err.Error())
		return false
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.HandleError(c, err)
		return false
	}
	return true
}

func pathUUID(c *gin.Context, name, message string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, message, nil)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) publish(c *gin.Context, evts ...platformevents.Event) ([]string, bool) {
	ids, err := h.publisher.Publish(c.Request.Context(), evts...)
	if err != nil {
		h.log.WithContext(c.Request.Context()).Error("publish failed", "error", err)
		httpkit.HandleError(c, apperr.Wrap(apperr.KindUnavailable, "event log unavailable", err))
		return nil, false
	}
	return ids, true
}

// contact loads a contact of the scoped account, mapping a miss to 404.
func (h *Handler) contact(c *gin.Context, accountID string, id uuid.UUID) (contacts.Contact, bool) {
	contact, err := h.contacts.Get(c.Request.Context(), accountID, id)
	if errors.Is(err, contacts.ErrNotFound) {
		httpkit.HandleError(c, apperr.NotFound("contact not found"))
		return contacts.Contact{}, false
	}
	if httpkit.HandleError(c, err) {
		return contacts.Contact{}, false
	}
	return contact, true
}

// CreateContact stores a contact and starts its pipeline.
// POST /api/v1/contacts
func (h *Handler) CreateContact(c *gin.Context) {
	accountID, ok := httpkit.MustAccountID(c)
	if !ok {
		return
	}
	var req CreateContactRequest
	if !h.bindAndValidate(c, &req) {
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	phoneNumber := phone.NormalizeE164(req.Phone, h.region)
	if email == "" && phoneNumber == "" {
		httpkit.HandleError(c, apperr.Validation(errContactRequired))
		return
	}
	source := strings.TrimSpace(req.Source)
	if source == "" {
		source = "api"
	}

	created, err := h.contacts.Create(c.Request.Context(), contacts.CreateParams{
		AccountID:       accountID,
		FirstName:       sanitize.Text(req.FirstName),
		LastName:        sanitize.Text(req.LastName),
		Email:           email,
		Phone:           phoneNumber,
		Company:         sanitize.Text(req.Company),
		Title:           sanitize.Text(req.Title),
		Source:          source,
		DealValue:       req.DealValue,
		ExtensionFields: req.ExtensionFields,
	})
	if httpkit.HandleError(c, err) {
		return
	}

	ids, ok := h.publish(c, events.ContactCreated{
		BaseEvent:  events.NewBaseEvent(),
		AccountRef: events.AccountRef{AccountID: accountID},
		ContactID:  created.ID,
		Source:     source,
	})
	if !ok {
		return
	}
	c.JSON(http.StatusCreated, AcceptedResponse{EventIDs: ids, ContactID: &created.ID})
}

// EnrichContact merges enrichment data and re-scores the contact.
// POST /api/v1/contacts/:id/enriched
func (h *Handler) EnrichContact(c *gin.Context) {
	accountID, ok := httpkit.MustAccountID(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id", errInvalidContactID)
	if !ok {
		return
	}
	var req EnrichContactRequest
	if !h.bindAndValidate(c, &req) {
		return
	}
	if _, ok := h.contact(c, accountID, id); !ok {
		return
	}

	fields := make(map[string]any, len(req.Fields)+1)
	for k, v := range req.Fields {
		fields[k] = v
	}
	fields[contacts.FieldEnrichmentStatus] = contacts.EnrichmentComplete
	if err := h.contacts.MergeExtensionFields(c.Request.Context(), accountID, id, fields); httpkit.HandleError(c, err) {
		return
	}

	ids, ok := h.publish(c, events.ContactEnriched{
		BaseEvent:  events.NewBaseEvent(),
		AccountRef: events.AccountRef{AccountID: accountID},
		ContactID:  id,
	})
	if !ok {
		return
	}
	httpkit.Accepted(c, AcceptedResponse{EventIDs: ids, ContactID: &id})
}

// SetConsent records do-not-call and do-not-email flags.
// POST /api/v1/contacts/:id/consent
func (h *Handler) SetConsent(c *gin.Context) {
	accountID, ok := httpkit.MustAccountID(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id", errInvalidContactID)
	if !ok {
		return
	}
	var req ConsentRequest
	if !h.bindAndValidate(c, &req) {
		return
	}
	if req.DoNotCall == nil && req.DoNotEmail == nil {
		httpkit.HandleError(c, apperr.Validation("doNotCall or doNotEmail is required"))
		return
	}
	if _, ok := h.contact(c, accountID, id); !ok {
		return
	}
	if err := h.contacts.SetConsent(c.Request.Context(), accountID, id, req.DoNotCall, req.DoNotEmail); httpkit.HandleError(c, err) {
		return
	}
	updated, ok := h.contact(c, accountID, id)
	if !ok {
		return
	}
	httpkit.OK(c, ConsentResponse{ContactID: id, DoNotCall: updated.DoNotCall, DoNotEmail: updated.DoNotEmail})
}

// DealWon closes a deal as won.
// POST /api/v1/deals/:contactId/won
func (h *Handler) DealWon(c *gin.Context) {
	accountID, ok := httpkit.MustAccountID(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "contactId", errInvalidContactID)
	if !ok {
		return
	}
	var req DealWonRequest
	if !h.bindAndValidate(c, &req) {
		return
	}
	contact, ok := h.contact(c, accountID, id)
	if !ok {
		return
	}
	value := req.DealValue
	if value == 0 {
		value = contact.DealValue
	}

	ids, ok := h.publish(c, events.DealWon{
		BaseEvent:  events.NewBaseEvent(),
		AccountRef: events.AccountRef{AccountID: accountID},
		ContactID:  id,
		DealValue:  value,
	})
	if !ok {
		return
	}
	httpkit.Accepted(c, AcceptedResponse{EventIDs: ids, ContactID: &id})
}

// DealLost closes a deal as lost.
// POST /api/v1/deals/:contactId/lost
func (h *Handler) DealLost(c *gin.Context) {
	accountID, ok := httpkit.MustAccountID(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "contactId", errInvalidContactID)
	if !ok {
		return
	}
	var req DealLostRequest
	if !h.bindAndValidate(c, &req) {
		return
	}
	contact, ok := h.contact(c, accountID, id)
	if !ok {
		return
	}
	value := req.DealValue
	if value == 0 {
		value = contact.DealValue
	}

	ids, ok := h.publish(c, events.DealLost{
		BaseEvent:  events.NewBaseEvent(),
		AccountRef: events.AccountRef{AccountID: accountID},
		ContactID:  id,
		DealValue:  value,
		LostReason: sanitize.Text(req.LostReason),
	})
	if !ok {
		return
	}
	httpkit.Accepted(c, AcceptedResponse{EventIDs: ids, ContactID: &id})
}

// Reply records an inbound reply to outreach.
// POST /api/v1/outreach/replies
func (h *Handler) Reply(c *gin.Context) {
	accountID, ok := httpkit.MustAccountID(c)
	if !ok {
		return
	}
	var req ReplyRequest
	if !h.bindAndValidate(c, &req) {
		return
	}
	if _, ok := h.contact(c, accountID, req.ContactID); !ok {
		return
	}

	ids, ok := h.publish(c, events.OutreachReplyReceived{
		BaseEvent:  events.NewBaseEvent(),
		AccountRef: events.AccountRef{AccountID: accountID},
		ContactID:  req.ContactID,
		Channel:    req.Channel,
		Sentiment:  req.Sentiment,
		Body:       sanitize.ReplyBody(req.Body),
	})
	if !ok {
		return
	}
	httpkit.Accepted(c, AcceptedResponse{EventIDs: ids, ContactID: &req.ContactID})
}

// Enroll starts an outreach sequence.
// POST /api/v1/outreach/enroll
func (h *Handler) Enroll(c *gin.Context) {
	accountID, ok := httpkit.MustAccountID(c)
	if !ok {
		return
	}
	var req EnrollRequest
	if !h.bindAndValidate(c, &req) {
		return
	}
	if _, known := outreach.Presets[req.SequenceTemplate]; !known {
		httpkit.HandleError(c, apperr.Validation(errUnknownTemplate).WithDetails(map[string]string{"sequenceTemplate": req.SequenceTemplate}))
		return
	}
	if _, ok := h.contact(c, accountID, req.ContactID); !ok {
		return
	}

	ids, ok := h.publish(c, events.OutreachEnroll{
		BaseEvent:        events.NewBaseEvent(),
		AccountRef:       events.AccountRef{AccountID: accountID},
		ContactID:        req.ContactID,
		SequenceTemplate: req.SequenceTemplate,
		Priority:         req.Priority,
	})
	if !ok {
		return
	}
	httpkit.Accepted(c, AcceptedResponse{EventIDs: ids, ContactID: &req.ContactID})
}

func (h *Handler) enrollmentError(c *gin.Context, err error) bool {
	if errors.Is(err, outreach.ErrNotFound) {
		return httpkit.HandleError(c, apperr.NotFound("enrollment not found"))
	}
	return httpkit.HandleError(c, err)
}

// CancelEnrollment pauses an enrollment.
// POST /api/v1/enrollments/:id/cancel
func (h *Handler) CancelEnrollment(c *gin.Context) {
	accountID, ok := httpkit.MustAccountID(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id", "invalid enrollment ID")
	if !ok {
		return
	}
	enrollment, err := h.enrollments.Cancel(c.Request.Context(), accountID, id, h.now())
	if h.enrollmentError(c, err) {
		return
	}
	httpkit.OK(c, outreach.ProgressOf(enrollment))
}

// EnrollmentProgress reports how far an enrollment has come.
// GET /api/v1/enrollments/:id
func (h *Handler) EnrollmentProgress(c *gin.Context) {
	accountID, ok := httpkit.MustAccountID(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id", "invalid enrollment ID")
	if !ok {
		return
	}
	progress, err := h.enrollments.Progress(c.Request.Context(), accountID, id)
	if h.enrollmentError(c, err) {
		return
	}
	httpkit.OK(c, progress)
}

// StartCall asks the calling coordinator to dial a contact.
// POST /api/v1/calls
func (h *Handler) StartCall(c *gin.Context) {
	accountID, ok := httpkit.MustAccountID(c)
	if !ok {
		return
	}
	var req StartCallRequest
	if !h.bindAndValidate(c, &req) {
		return
	}
	contact, ok := h.contact(c, accountID, req.ContactID)
	if !ok {
		return
	}
	if contact.Phone == "" {
		httpkit.HandleError(c, apperr.Validation("contact has no phone number"))
		return
	}

	ids, ok := h.publish(c, events.CallInitiated{
		BaseEvent:  events.NewBaseEvent(),
		AccountRef: events.AccountRef{AccountID: accountID},
		ContactID:  req.ContactID,
		AgentID:    strings.TrimSpace(req.AgentID),
		Priority:   req.Priority,
	})
	if !ok {
		return
	}
	httpkit.Accepted(c, AcceptedResponse{EventIDs: ids, ContactID: &req.ContactID})
}
