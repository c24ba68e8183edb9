package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const brevoEndpoint = "https://api.brevo.com/v3/smtp/email"

// BrevoSender posts transactional mail to the Brevo HTTP API.
type BrevoSender struct {
	apiKey   string
	from     Address
	endpoint string
	client   *http.Client
}

type brevoRequest struct {
	Sender      Address   `json:"sender"`
	To          []Address `json:"to"`
	Subject     string    `json:"subject"`
	HTMLContent string    `json:"htmlContent"`
	TextContent string    `json:"textContent,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
}

func NewBrevoSender(apiKey string, from Address) *BrevoSender {
	return &BrevoSender{
		apiKey:   apiKey,
		from:     from,
		endpoint: brevoEndpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (b *BrevoSender) Send(ctx context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}
	payload := brevoRequest{
		Sender:      b.from,
		To:          []Address{{Email: msg.To}},
		Subject:     msg.Subject,
		HTMLContent: msg.HTML,
		TextContent: msg.plain(),
	}
	if msg.Tag != "" {
		payload.Tags = []string{msg.Tag}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("api-key", b.apiKey)
	req.Header.Set("content-type", "application/json")
	req.Header.Set("accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("brevo send: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("brevo send failed: status %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}
	return nil
}
