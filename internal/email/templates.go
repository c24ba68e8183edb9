package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"
)

//go:embed templates/*.html
var templateFS embed.FS

type baseEmailData struct {
	Title    string
	Heading  string
	CTALabel string
	CTAURL   string
	Footer   string
}

type messageEmailData struct {
	baseEmailData
	Paragraphs []string
}

// MeetingReminder is rendered by RenderMeetingReminder.
type MeetingReminder struct {
	Name         string
	MeetingTitle string
	StartsAt     string
}

type meetingReminderEmailData struct {
	baseEmailData
	MeetingReminder
}

// InvoiceOverdue is rendered by RenderInvoiceOverdue.
type InvoiceOverdue struct {
	Name          string
	InvoiceNumber string
	Amount        string
	DueDate       string
	DaysOverdue   int
	PayURL        string
}

type invoiceOverdueEmailData struct {
	baseEmailData
	InvoiceOverdue
}

func renderEmailTemplate(name string, data any) (string, error) {
	templates := []string{"templates/base.html", "templates/" + name}
	tmpl, err := template.New("base.html").ParseFS(templateFS, templates...)
	if err != nil {
		return "", fmt.Errorf("parse email template %s: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "email", data); err != nil {
		return "", fmt.Errorf("execute email template %s: %w", name, err)
	}
	return buf.String(), nil
}

// RenderMessage wraps a plain-text body in the HTML layout. Blank lines
// separate paragraphs.
func RenderMessage(subject, body string) (string, error) {
	var paragraphs []string
	for _, p := range strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	return renderEmailTemplate("message.html", messageEmailData{
		baseEmailData: baseEmailData{Title: subject},
		Paragraphs:    paragraphs,
	})
}

func RenderMeetingReminder(r MeetingReminder) (string, error) {
	return renderEmailTemplate("meeting_reminder.html", meetingReminderEmailData{
		baseEmailData:   baseEmailData{Title: subjectMeetingReminder, Heading: r.MeetingTitle},
		MeetingReminder: r,
	})
}

func RenderInvoiceOverdue(inv InvoiceOverdue) (string, error) {
	return renderEmailTemplate("invoice_overdue.html", invoiceOverdueEmailData{
		baseEmailData: baseEmailData{
			Title:    fmt.Sprintf(subjectInvoiceOverdueFmt, inv.InvoiceNumber),
			Heading:  "Payment reminder",
			CTALabel: "Pay invoice",
			CTAURL:   inv.PayURL,
		},
		InvoiceOverdue: inv,
	})
}

const (
	subjectMeetingReminder   = "Reminder: your upcoming meeting"
	subjectInvoiceOverdueFmt = "Invoice %s is overdue"
)

// MeetingReminderSubject returns the subject line for a meeting reminder.
func MeetingReminderSubject() string { return subjectMeetingReminder }

// InvoiceOverdueSubject returns the subject line for an overdue invoice.
func InvoiceOverdueSubject(number string) string {
	return fmt.Sprintf(subjectInvoiceOverdueFmt, number)
}
