package ingest

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"salespipeline_backend/internal/calling"
	"salespipeline_backend/platform/httpkit"
	"salespipeline_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	signatureHeader = "X-Twilio-Signature"
	twimlType       = "application/xml"
)

// CallWebhooks handles the telephony provider's callbacks.
type CallWebhooks interface {
	HandleStatus(ctx context.Context, u calling.StatusUpdate) error
	HandleRecording(ctx context.Context, callID uuid.UUID, recordingURL string) error
	HandleAMD(ctx context.Context, callID uuid.UUID, answeredBy string) error
	Voice(ctx context.Context, callID uuid.UUID, speech string) ([]byte, error)
}

// SignatureValidator checks a provider webhook signature against the public
// URL that was called.
type SignatureValidator interface {
	ValidateSignature(fullURL string, params url.Values, signature string) bool
}

// TelephonyHandler serves the provider callbacks. They are not account
// scoped; the provider signature authenticates them.
type TelephonyHandler struct {
	webhooks  CallWebhooks
	validator SignatureValidator
	baseURL   string
	log       *logger.Logger
}

// VerifySignature rejects callbacks whose signature does not match. With no
// validator configured every callback is accepted.
func (h *TelephonyHandler) VerifySignature() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.validator == nil {
			c.Next()
			return
		}
		if err := c.Request.ParseForm(); err != nil {
			httpkit.Error(c, http.StatusBadRequest, "invalid form body", nil)
			c.Abort()
			return
		}
		fullURL := h.baseURL + c.Request.URL.RequestURI()
		if !h.validator.ValidateSignature(fullURL, c.Request.PostForm, c.GetHeader(signatureHeader)) {
			h.log.Warn("telephony signature rejected", "path", c.Request.URL.Path, "client_ip", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusForbidden, httpkit.ErrorResponse{Error: "invalid signature"})
			return
		}
		c.Next()
	}
}

func queryCallID(c *gin.Context) uuid.UUID {
	id, err := uuid.Parse(c.Query("call_id"))
	if err != nil {
		return uuid.Nil
	}
	return id
}

func requireCallID(c *gin.Context) (uuid.UUID, bool) {
	id := queryCallID(c)
	if id == uuid.Nil {
		httpkit.Error(c, http.StatusBadRequest, "call_id is required", nil)
		return uuid.Nil, false
	}
	return id, true
}

func (h *TelephonyHandler) callbackError(c *gin.Context, err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, calling.ErrCallNotFound) {
		httpkit.Error(c, http.StatusNotFound, "call not found", nil)
		return true
	}
	h.log.Error("telephony callback failed", "path", c.Request.URL.Path, "error", err)
	httpkit.Error(c, http.StatusInternalServerError, "callback failed", nil)
	return true
}

// Voice answers one conversation turn with TwiML.
// POST /api/v1/telephony/voice
func (h *TelephonyHandler) Voice(c *gin.Context) {
	callID, ok := requireCallID(c)
	if !ok {
		return
	}
	twiml, err := h.webhooks.Voice(c.Request.Context(), callID, c.PostForm("SpeechResult"))
	if h.callbackError(c, err) {
		return
	}
	c.Data(http.StatusOK, twimlType, twiml)
}

// Status records a call status change.
// POST /api/v1/telephony/status
func (h *TelephonyHandler) Status(c *gin.Context) {
	update := calling.StatusUpdate{
		CallID:         queryCallID(c),
		ProviderCallID: strings.TrimSpace(c.PostForm("CallSid")),
		Status:         strings.TrimSpace(c.PostForm("CallStatus")),
	}
	if update.CallID == uuid.Nil && update.ProviderCallID == "" {
		httpkit.Error(c, http.StatusBadRequest, "call_id or CallSid is required", nil)
		return
	}
	if update.Status == "" {
		httpkit.Error(c, http.StatusBadRequest, "CallStatus is required", nil)
		return
	}
	if raw := c.PostForm("CallDuration"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil {
			update.DurationSecs = secs
		}
	}
	if h.callbackError(c, h.webhooks.HandleStatus(c.Request.Context(), update)) {
		return
	}
	c.Status(http.StatusNoContent)
}

// Recording archives a finished recording.
// POST /api/v1/telephony/recording
func (h *TelephonyHandler) Recording(c *gin.Context) {
	callID, ok := requireCallID(c)
	if !ok {
		return
	}
	recordingURL := strings.TrimSpace(c.PostForm("RecordingUrl"))
	if recordingURL == "" {
		httpkit.Error(c, http.StatusBadRequest, "RecordingUrl is required", nil)
		return
	}
	if h.callbackError(c, h.webhooks.HandleRecording(c.Request.Context(), callID, recordingURL)) {
		return
	}
	c.Status(http.StatusNoContent)
}

// AMD stores the answering machine detection verdict.
// POST /api/v1/telephony/amd
func (h *TelephonyHandler) AMD(c *gin.Context) {
	callID, ok := requireCallID(c)
	if !ok {
		return
	}
	if h.callbackError(c, h.webhooks.HandleAMD(c.Request.Context(), callID, c.PostForm("AnsweredBy"))) {
		return
	}
	c.Status(http.StatusNoContent)
}
