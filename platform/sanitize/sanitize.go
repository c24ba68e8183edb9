// Package sanitize cleans inbound free text before it is stored or handed
// to a language model.
package sanitize

import (
	"regexp"
	"strings"
)

const maxReplyLength = 4000

var (
	htmlTagRegex = regexp.MustCompile(`<[^>]*>`)
	spaceRegex   = regexp.MustCompile(`[ \t]+`)
	// quoteHeaderRegex matches the line a mail client puts above the quoted
	// original, e.g. "On Mon, 2 Mar 2026 at 09:00, Sam <sam@x.io> wrote:".
	quoteHeaderRegex = regexp.MustCompile(`(?i)^(on\s.+\swrote:|op\s.+\sschreef.*:|-+\s*original message\s*-+)$`)
	entityReplacer   = strings.NewReplacer("&lt;", "<", "&gt;", ">", "&amp;", "&", "&quot;", "\"", "&#39;", "'", "&nbsp;", " ")
)

// StripHTML removes tags, decodes common entities and strips again so
// encoded tags do not survive.
func StripHTML(s string) string {
	result := htmlTagRegex.ReplaceAllString(s, "")
	result = entityReplacer.Replace(result)
	result = htmlTagRegex.ReplaceAllString(result, "")
	return strings.TrimSpace(result)
}

// Text is StripHTML plus collapsed inline whitespace. Use it for names,
// titles and other single-line fields.
func Text(s string) string {
	return strings.TrimSpace(spaceRegex.ReplaceAllString(StripHTML(s), " "))
}

// ReplyBody reduces an inbound reply to what the contact wrote: markup is
// removed, the quoted original and "> " lines are dropped and the result is
// capped in length.
func ReplyBody(s string) string {
	lines := strings.Split(strings.ReplaceAll(StripHTML(s), "\r\n", "\n"), "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if quoteHeaderRegex.MatchString(trimmed) {
			break
		}
		if strings.HasPrefix(trimmed, ">") {
			continue
		}
		kept = append(kept, spaceRegex.ReplaceAllString(trimmed, " "))
	}
	body := strings.TrimSpace(strings.Join(kept, "\n"))
	if r := []rune(body); len(r) > maxReplyLength {
		body = string(r[:maxReplyLength])
	}
	return body
}
