// Package redact removes personally identifying substrings from customer
// messages before any text leaves the process boundary.
package redact

import (
	"regexp"
	"strings"
)

var (
	emailPattern = regexp.MustCompile(`\b[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}\b`)
	phonePattern = regexp.MustCompile(`(\+?\d{1,3}[\s-]?)?(\(?\d{2,4}\)?[\s-]?)?\d{3}[\s-]\d{3,4}\b`)
)

// Result holds the redacted text plus whether anything was replaced.
type Result struct {
	Text    string
	Applied bool
}

// Apply replaces email addresses and phone numbers with placeholder tokens.
func Apply(text string) Result {
	if text == "" {
		return Result{}
	}
	redacted := emailPattern.ReplaceAllString(text, "[REDACTED_EMAIL]")
	redacted = phonePattern.ReplaceAllString(redacted, "[REDACTED_PHONE]")
	return Result{Text: redacted, Applied: redacted != text}
}

// Normalize collapses whitespace runs within lines and runs of blank lines,
// producing the canonical form used for idempotency keys.
func Normalize(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		trimmed := strings.Join(strings.Fields(line), " ")
		if trimmed == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, trimmed)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
