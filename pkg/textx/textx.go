// Package textx provides small text utilities used across the project.
package textx

import (
	"regexp"
	"strings"
	"unicode"
)

// SanitizeText removes control characters except tab/newline/CR and trims spaces.
func SanitizeText(s string) string {
	// strip control chars outside tab/newline/carriage return
	var b strings.Builder
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// WordCount counts whitespace separated words.
func WordCount(s string) int { return len(strings.Fields(s)) }

var sentenceEnd = regexp.MustCompile(`[^.!?]+[.!?]*`)

// Sentences splits s into trimmed sentences on terminal punctuation.
// Text without punctuation comes back as a single sentence.
func Sentences(s string) []string {
	var out []string
	for _, m := range sentenceEnd.FindAllString(s, -1) {
		m = strings.Join(strings.Fields(m), " ")
		if strings.IndexFunc(m, func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }) >= 0 {
			out = append(out, m)
		}
	}
	return out
}

// Truncate shortens s to at most n runes, appending an ellipsis when cut.
func Truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n])) + "..."
}
