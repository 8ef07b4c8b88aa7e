// Package ai holds helpers shared by the chat provider clients.
package ai

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// maxBodySnippet bounds how much of an error body is kept.
const maxBodySnippet = 512

// ProviderError is returned when a provider answers with a non-2xx status.
type ProviderError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// ReadSnippet reads at most maxBodySnippet bytes of r.
func ReadSnippet(r io.Reader) string {
	if r == nil {
		return ""
	}
	b, _ := io.ReadAll(io.LimitReader(r, maxBodySnippet))
	return strings.TrimSpace(string(b))
}

// Snippet trims b to maxBodySnippet bytes.
func Snippet(b []byte) string {
	if len(b) > maxBodySnippet {
		b = b[:maxBodySnippet]
	}
	return strings.TrimSpace(string(b))
}

// ShouldFallback reports whether a primary failure means the account is out
// of credit, in which case the secondary provider is tried. The decision is
// made on the error text so wrapped and foreign errors qualify too.
func ShouldFallback(err error) bool {
	if err == nil {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) && pe.StatusCode == 402 {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "402") || strings.Contains(msg, "insufficient")
}
