package ai

import (
	"regexp"
	"strings"
)

var (
	thinkBlock = regexp.MustCompile(`(?is)<think>.*?</think>`)
	fenceOpen  = regexp.MustCompile("^```[a-zA-Z]*\\s*\n")
)

// CleanReply removes reasoning blocks and an enclosing code fence that some
// models wrap around their answer. Everything else is left for the parser.
func CleanReply(s string) string {
	s = thinkBlock.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	if loc := fenceOpen.FindStringIndex(s); loc != nil && strings.HasSuffix(s, "```") {
		s = strings.TrimSpace(strings.TrimSuffix(s[loc[1]:], "```"))
	}
	return s
}
