package outreach

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"

	"salespipeline_backend/internal/contacts"
	"salespipeline_backend/internal/llm"
	"salespipeline_backend/platform/logger"
)

// Message is the content of one outreach touch.
type Message struct {
	Subject   string `json:"subject,omitempty"`
	Body      string `json:"body"`
	Generated bool   `json:"generated"`
}

const copywriterPrompt = `You are an expert B2B sales copywriter. Write highly personalized outreach messages.

Rules:
- Never use generic filler ("I hope this email finds you well", "I wanted to reach out")
- Always reference specific company or person details from the context
- Keep messages concise and value-focused
- Include a clear, specific call to action
- Output only the message content, no explanations`

var channelInstructions = map[string]string{
	ChannelEmail: `Format: subject line on the first line prefixed with "Subject: ", then a blank line, then the body.
Keep it under 150 words. End with a specific call to action.`,
	ChannelLinkedIn: `Format: just the message body. Keep it under 300 characters. Be conversational and curious, no hard selling.`,
	ChannelWhatsApp: `Format: just the message body. Keep it under 120 words, casual, and get to the point fast.`,
	ChannelSMS:      `Format: just the message body. Keep it under 160 characters and include the prospect's first name.`,
}

type templateData struct {
	FirstName string
	Company   string
	Title     string
	PainPoint string
	Industry  string
}

var fallbackTemplates = template.Must(template.New("outreach").Parse(`
{{define "intro"}}Hi {{.FirstName}},

Teams like {{.Company}} often tell us {{.PainPoint}} slows the pipeline down. We help sales teams automate the busywork from first touch to close.

Would a 15 minute call next week be useful?{{end}}
{{define "followup_1"}}Hi {{.FirstName}},

Following up on my note about {{.PainPoint}} at {{.Company}}. Happy to share how similar {{.Industry}} teams approached it.

Is Tuesday or Thursday better for a short call?{{end}}
{{define "value_add"}}Hi {{.FirstName}},

One idea for {{.Company}}: route every inbound lead within five minutes and let automation handle the follow-ups. It usually lifts reply rates noticeably.

Want the short playbook?{{end}}
{{define "breakup"}}Hi {{.FirstName}},

I have reached out a few times and do not want to crowd your inbox. If {{.PainPoint}} becomes a priority at {{.Company}}, just reply and I will pick it up from there.{{end}}
{{define "generic"}}Hi {{.FirstName}}, quick note about how we help {{.Company}} with {{.PainPoint}}. Open to a short chat?{{end}}
`))

var fallbackSubjects = map[string]string{
	"intro":      "{{.Company}} and faster pipeline follow-up",
	"followup_1": "Re: {{.Company}} pipeline",
	"value_add":  "An idea for {{.Company}}",
	"breakup":    "Closing the loop",
}

// Composer drafts outreach messages with a language model and falls back
// to fixed templates when the model is unavailable or fails.
type Composer struct {
	completer llm.Completer
	log       *logger.Logger
}

func NewComposer(c llm.Completer, log *logger.Logger) *Composer {
	if c == nil {
		c = llm.Disabled{}
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Composer{completer: c, log: log}
}

func (c *Composer) Compose(ctx context.Context, contact contacts.Contact, step Step, channel string) (Message, error) {
	if c.completer.Available() {
		msg, err := c.generate(ctx, contact, step, channel)
		if err == nil {
			return msg, nil
		}
		c.log.Warn("outreach draft failed, using template", "template", step.Template, "channel", channel, "error", err)
	}
	return fallbackMessage(contact, step, channel)
}

func (c *Composer) generate(ctx context.Context, contact contacts.Contact, step Step, channel string) (Message, error) {
	var prompt strings.Builder
	prompt.WriteString(channelInstructions[channel])
	fmt.Fprintf(&prompt, "\n\nPurpose: %s\n\nProspect:\n", step.Template)
	for _, kv := range [][2]string{
		{"Name", contact.FullName()},
		{"Title", contact.Title},
		{"Company", contact.Company},
		{"Industry", contact.Field(contacts.FieldIndustry)},
		{"Company Overview", contact.Field(contacts.FieldCompanyOverview)},
		{"Funding", contact.Field(contacts.FieldFunding)},
	} {
		if kv[1] != "" {
			fmt.Fprintf(&prompt, "%s: %s\n", kv[0], kv[1])
		}
	}
	if pains := firstString(contact.ExtensionFields[contacts.FieldPainPoints]); pains != "" {
		fmt.Fprintf(&prompt, "Pain Point: %s\n", pains)
	}

	req := llm.Prompt(copywriterPrompt, prompt.String())
	req.Temperature = 0.7
	req.MaxTokens = 400
	resp, err := c.completer.Complete(ctx, req)
	if err != nil {
		return Message{}, err
	}
	msg := Message{Body: strings.TrimSpace(resp.Text), Generated: true}
	if channel == ChannelEmail {
		msg.Subject, msg.Body = splitSubject(msg.Body)
		if msg.Subject == "" {
			return Message{}, fmt.Errorf("draft has no subject line")
		}
	}
	if msg.Body == "" {
		return Message{}, fmt.Errorf("empty draft")
	}
	return msg, nil
}

func splitSubject(text string) (subject, body string) {
	first, rest, _ := strings.Cut(text, "\n")
	first = strings.TrimSpace(first)
	if len(first) > len("subject:") && strings.EqualFold(first[:len("subject:")], "subject:") {
		return strings.TrimSpace(first[len("subject:"):]), strings.TrimSpace(rest)
	}
	return "", strings.TrimSpace(text)
}

func firstString(v any) string {
	switch list := v.(type) {
	case string:
		return list
	case []string:
		if len(list) > 0 {
			return list[0]
		}
	case []any:
		for _, item := range list {
			if s, ok := item.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func fallbackMessage(contact contacts.Contact, step Step, channel string) (Message, error) {
	data := templateData{
		FirstName: contact.FirstName,
		Company:   contact.Company,
		Title:     contact.Title,
		PainPoint: firstString(contact.ExtensionFields[contacts.FieldPainPoints]),
		Industry:  contact.Field(contacts.FieldIndustry),
	}
	if data.FirstName == "" {
		data.FirstName = "there"
	}
	if data.Company == "" {
		data.Company = "your team"
	}
	if data.PainPoint == "" {
		data.PainPoint = "manual follow-up"
	}
	if data.Industry == "" {
		data.Industry = "B2B"
	}

	name := step.Template
	if channel != ChannelEmail || fallbackTemplates.Lookup(name) == nil {
		name = "generic"
	}
	var body bytes.Buffer
	if err := fallbackTemplates.ExecuteTemplate(&body, name, data); err != nil {
		return Message{}, fmt.Errorf("render %s template: %w", name, err)
	}
	msg := Message{Body: strings.TrimSpace(body.String())}
	if channel == ChannelEmail {
		subject := fallbackSubjects[step.Template]
		if subject == "" {
			subject = "Quick question for {{.Company}}"
		}
		tmpl, err := template.New("subject").Parse(subject)
		if err != nil {
			return Message{}, err
		}
		var out bytes.Buffer
		if err := tmpl.Execute(&out, data); err != nil {
			return Message{}, err
		}
		msg.Subject = out.String()
	}
	return msg, nil
}
