// Package telephony places outbound calls and sends SMS through the Twilio
// REST API, and validates Twilio webhook signatures.
package telephony

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"salespipeline_backend/platform/config"
	"salespipeline_backend/platform/phone"
)

const defaultBaseURL = "https://api.twilio.com"

var ErrNotConfigured = errors.New("telephony provider not configured")

// CallRequest describes one outbound call.
type CallRequest struct {
	CallID        string
	To            string
	MaxDuration   time.Duration
	Record        bool
	DetectMachine bool
}

// Webhook paths, relative to the public webhook base URL.
const (
	PathVoice     = "/api/v1/telephony/voice"
	PathStatus    = "/api/v1/telephony/status"
	PathRecording = "/api/v1/telephony/recording"
	PathAMD       = "/api/v1/telephony/amd"
)

// Client talks to Twilio. A nil or unconfigured client reports
// Configured() == false.
type Client struct {
	accountSID  string
	authToken   string
	fromNumber  string
	baseURL     string
	webhookBase string
	region      string
	http        *http.Client
}

func NewClient(cfg config.TelephonyConfig, region string) *Client {
	if !cfg.IsTelephonyEnabled() {
		return nil
	}
	base := strings.TrimRight(cfg.GetTwilioBaseURL(), "/")
	if base == "" {
		base = defaultBaseURL
	}
	return &Client{
		accountSID:  cfg.GetTwilioAccountSID(),
		authToken:   cfg.GetTwilioAuthToken(),
		fromNumber:  cfg.GetTwilioFromNumber(),
		baseURL:     base,
		webhookBase: strings.TrimRight(cfg.GetWebhookBaseURL(), "/"),
		region:      region,
		http:        &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) Configured() bool {
	return c != nil && c.accountSID != "" && c.authToken != "" && c.fromNumber != ""
}

type resourceResponse struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// PlaceCall dials req.To and returns the provider call SID. Conversation
// turns, status changes, recordings and machine detection call back into the
// webhook base URL, tagged with req.CallID.
func (c *Client) PlaceCall(ctx context.Context, req CallRequest) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}
	q := url.Values{"call_id": {req.CallID}}.Encode()

	form := url.Values{}
	form.Set("To", phone.NormalizeE164(req.To, c.region))
	form.Set("From", c.fromNumber)
	form.Set("Url", c.webhookBase+PathVoice+"?"+q)
	form.Set("StatusCallback", c.webhookBase+PathStatus+"?"+q)
	for _, evt := range []string{"initiated", "ringing", "answered", "completed"} {
		form.Add("StatusCallbackEvent", evt)
	}
	if req.MaxDuration > 0 {
		form.Set("TimeLimit", fmt.Sprintf("%d", int(req.MaxDuration.Seconds())))
	}
	if req.Record {
		form.Set("Record", "true")
		form.Set("RecordingStatusCallback", c.webhookBase+PathRecording+"?"+q)
	}
	if req.DetectMachine {
		form.Set("MachineDetection", "Enable")
		form.Set("AsyncAmd", "true")
		form.Set("AsyncAmdStatusCallback", c.webhookBase+PathAMD+"?"+q)
	}

	var out resourceResponse
	if err := c.post(ctx, "Calls.json", form, &out); err != nil {
		return "", fmt.Errorf("place call: %w", err)
	}
	return out.SID, nil
}

// SendSMS sends a text message and returns the message SID.
func (c *Client) SendSMS(ctx context.Context, to, body string) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}
	form := url.Values{}
	form.Set("To", phone.NormalizeE164(to, c.region))
	form.Set("From", c.fromNumber)
	form.Set("Body", body)

	var out resourceResponse
	if err := c.post(ctx, "Messages.json", form, &out); err != nil {
		return "", fmt.Errorf("send sms: %w", err)
	}
	return out.SID, nil
}

// FetchRecording downloads a finished recording as mp3. The caller closes
// the body. size is -1 when the provider does not send a length.
func (c *Client) FetchRecording(ctx context.Context, recordingURL string) (io.ReadCloser, int64, error) {
	if !c.Configured() {
		return nil, 0, ErrNotConfigured
	}
	if !strings.HasSuffix(recordingURL, ".mp3") {
		recordingURL += ".mp3"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, recordingURL, nil)
	if err != nil {
		return nil, 0, err
	}
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, 0, fmt.Errorf("fetch recording: twilio returned %d", resp.StatusCode)
	}
	return resp.Body, resp.ContentLength, nil
}

// VoiceURL is the conversation webhook for callID.
func (c *Client) VoiceURL(callID string) string {
	if c == nil {
		return PathVoice + "?" + url.Values{"call_id": {callID}}.Encode()
	}
	return c.webhookBase + PathVoice + "?" + url.Values{"call_id": {callID}}.Encode()
}

func (c *Client) post(ctx context.Context, resource string, form url.Values, out any) error {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/%s", c.baseURL, c.accountSID, resource)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr errorResponse
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("twilio returned %d (code %d): %s", resp.StatusCode, apiErr.Code, apiErr.Message)
		}
		return fmt.Errorf("twilio returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return json.Unmarshal(data, out)
}

// ValidateSignature checks the X-Twilio-Signature header of a form-encoded
// webhook. fullURL must be the exact public URL Twilio called, query
// included.
func (c *Client) ValidateSignature(fullURL string, params url.Values, signature string) bool {
	if c == nil || c.authToken == "" || signature == "" {
		return false
	}
	expected := Sign(c.authToken, fullURL, params)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// Sign computes the Twilio request signature.
func Sign(authToken, fullURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		for _, v := range params[k] {
			b.WriteString(k)
			b.WriteString(v)
		}
	}
	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
