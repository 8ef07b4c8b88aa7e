// Package stub is a deterministic chat provider for local runs without
// provider credentials.
package stub

import (
	"time"

	"github.com/fairyhunter13/ielts-writing-coach/internal/domain"
	"github.com/fairyhunter13/ielts-writing-coach/internal/feedback/fallback"
	"github.com/fairyhunter13/ielts-writing-coach/internal/feedback/prompt"
)

// ProviderName labels submissions answered by the stub.
const ProviderName = "stub"

// Client answers every conversation with the template-shaped local analysis.
type Client struct {
	gen     *fallback.Generator
	latency time.Duration
}

// New returns a stub client. latency simulates provider think time.
func New(latency time.Duration) *Client {
	return &Client{gen: fallback.NewGenerator(fallback.StaticEnhancer{}), latency: latency}
}

// Complete implements domain.ChatProvider.
func (c *Client) Complete(ctx domain.Context, msgs []domain.Message) (domain.Completion, error) {
	if c.latency > 0 {
		select {
		case <-time.After(c.latency):
		case <-ctx.Done():
			return domain.Completion{}, ctx.Err()
		}
	}
	return domain.Completion{
		Text:     c.gen.CannedAnalysis(prompt.EssayFrom(msgs), "6.5"),
		Provider: ProviderName,
	}, nil
}
