package sanitize

import (
	"strings"
	"testing"
)

func TestText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  Ada   Lovelace ", "Ada Lovelace"},
		{"<b>Acme</b> Corp", "Acme Corp"},
		{"&lt;script&gt;alert(1)&lt;/script&gt;CTO", "alert(1)CTO"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Text(tt.in); got != tt.want {
			t.Fatalf("Text(%q): expected %q, got %q", tt.in, tt.want, got)
		}
	}
}

func TestReplyBodyDropsQuotedOriginal(t *testing.T) {
	in := "<p>Sounds good,   let's talk Tuesday.</p>\r\n\r\nOn Mon, 2 Mar 2026 at 09:00, Sam <sam@acme.test> wrote:\r\n> Hi Ada,\r\n> would you have time?"

	got := ReplyBody(in)
	if got != "Sounds good, let's talk Tuesday." {
		t.Fatalf("unexpected body %q", got)
	}
}

func TestReplyBodySkipsInlineQuotes(t *testing.T) {
	got := ReplyBody("> what about pricing?\nWe have budget in Q3.")
	if got != "We have budget in Q3." {
		t.Fatalf("unexpected body %q", got)
	}
}

func TestReplyBodyIsCapped(t *testing.T) {
	got := ReplyBody(strings.Repeat("a", maxReplyLength+50))
	if len(got) != maxReplyLength {
		t.Fatalf("expected %d characters, got %d", maxReplyLength, len(got))
	}
}
