// Package whatsapp delivers outreach messages through a gowa gateway.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"salespipeline_backend/platform/config"
	"salespipeline_backend/platform/logger"
	"salespipeline_backend/platform/phone"

	"golang.org/x/time/rate"
)

var (
	ErrNotConfigured = errors.New("whatsapp gateway not configured")
	ErrInvalidNumber = errors.New("whatsapp: number is not dialable")
)

// The gateway drives a single phone session; bursts get the number flagged.
const (
	sendRate  = rate.Limit(1)
	sendBurst = 3
)

// Client sends WhatsApp messages through a gowa gateway. A nil client is
// valid and reports Configured() == false.
type Client struct {
	baseURL  string
	auth     string
	deviceID string
	region   string
	pace     *rate.Limiter
	http     *http.Client
	log      *logger.Logger
}

type sendRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

type sendResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Results struct {
		MessageID string `json:"message_id"`
		Status    string `json:"status"`
	} `json:"results"`
}

// NewClient returns nil when no gateway URL is configured.
func NewClient(cfg config.WhatsAppConfig, region string, log *logger.Logger) *Client {
	if cfg.GetWhatsAppURL() == "" {
		return nil
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.GetWhatsAppURL(), "/"),
		auth:     basicAuth(cfg.GetWhatsAppKey()),
		deviceID: cfg.GetWhatsAppDeviceID(),
		region:   region,
		pace:     rate.NewLimiter(sendRate, sendBurst),
		http:     &http.Client{Timeout: 10 * time.Second},
		log:      log,
	}
}

func (c *Client) Configured() bool {
	return c != nil && c.baseURL != ""
}

// SendMessage delivers one text message. Sends are paced per client; a
// cancelled ctx aborts the wait.
func (c *Client) SendMessage(ctx context.Context, phoneNumber, message string) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	if !phone.IsDialable(phoneNumber, c.region) {
		return ErrInvalidNumber
	}
	jid := strings.TrimPrefix(phone.NormalizeE164(phoneNumber, c.region), "+")

	if err := c.pace.Wait(ctx); err != nil {
		return fmt.Errorf("whatsapp pacing: %w", err)
	}

	body, err := json.Marshal(sendRequest{Phone: jid, Message: message})
	if err != nil {
		return fmt.Errorf("marshal whatsapp payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/send/message", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.auth != "" {
		req.Header.Set("Authorization", c.auth)
	}
	if c.deviceID != "" {
		req.Header.Set("X-Device-Id", c.deviceID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("whatsapp gateway returned %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	var out sendResponse
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &out); err != nil {
			return fmt.Errorf("decode whatsapp response: %w", err)
		}
		if out.Code != "" && !strings.EqualFold(out.Code, "SUCCESS") {
			return fmt.Errorf("whatsapp gateway rejected message: %s %s", out.Code, out.Message)
		}
	}
	c.log.Debug("whatsapp message sent", "message_id", out.Results.MessageID)
	return nil
}

// basicAuth accepts either "user:pass" or a ready "Basic ..." value.
func basicAuth(key string) string {
	switch {
	case key == "":
		return ""
	case strings.HasPrefix(strings.ToLower(key), "basic "):
		return key
	default:
		return "Basic " + base64.StdEncoding.EncodeToString([]byte(key))
	}
}
