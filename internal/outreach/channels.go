package outreach

import (
	"context"
	"errors"
	"fmt"

	"salespipeline_backend/internal/contacts"
	"salespipeline_backend/internal/email"
)

var errChannelUnavailable = errors.New("channel unavailable")

// TextSender sends a chat message to a phone number (WhatsApp).
type TextSender interface {
	Configured() bool
	SendMessage(ctx context.Context, phoneNumber, message string) error
}

// SMSSender sends a text message through the telephony provider.
type SMSSender interface {
	Configured() bool
	SendSMS(ctx context.Context, to, body string) (string, error)
}

// Channels holds the providers for message channels. Calls are not sent
// here; a call step publishes call.initiated instead.
type Channels struct {
	Email    email.Sender
	WhatsApp TextSender
	SMS      SMSSender
}

// Available reports whether a provider exists for channel.
func (ch Channels) Available(channel string) bool {
	switch channel {
	case ChannelEmail:
		return ch.Email != nil
	case ChannelWhatsApp:
		return ch.WhatsApp != nil && ch.WhatsApp.Configured()
	case ChannelSMS:
		return ch.SMS != nil && ch.SMS.Configured()
	case ChannelCall:
		return true
	default:
		return false
	}
}

// Send delivers msg to the contact on a message channel.
func (ch Channels) Send(ctx context.Context, channel string, c contacts.Contact, msg Message) error {
	if !ch.Available(channel) {
		return errChannelUnavailable
	}
	switch channel {
	case ChannelEmail:
		html, err := email.RenderMessage(msg.Subject, msg.Body)
		if err != nil {
			return err
		}
		return ch.Email.Send(ctx, email.Message{To: c.Email, Subject: msg.Subject, HTML: html, Text: msg.Body, Tag: "outreach"})
	case ChannelWhatsApp:
		return ch.WhatsApp.SendMessage(ctx, c.Phone, msg.Body)
	case ChannelSMS:
		_, err := ch.SMS.SendSMS(ctx, c.Phone, msg.Body)
		return err
	default:
		return fmt.Errorf("channel %s has no message sender", channel)
	}
}
