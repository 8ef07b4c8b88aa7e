// Package primary is the client for the primary chat provider, any
// OpenAI-compatible chat completions endpoint.
package primary

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/ielts-writing-coach/internal/adapter/ai"
	"github.com/fairyhunter13/ielts-writing-coach/internal/adapter/observability"
	"github.com/fairyhunter13/ielts-writing-coach/internal/config"
	"github.com/fairyhunter13/ielts-writing-coach/internal/domain"
)

// ProviderName labels logs, metrics and submissions.
const ProviderName = "primary"

// Client implements domain.ChatProvider. It never retries; fallback policy
// belongs to the caller.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	hc          *http.Client
}

// New constructs a primary client from configuration.
func New(cfg config.Config) *Client {
	timeout := cfg.PrimaryTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.PrimaryBaseURL, "/"),
		apiKey:      cfg.PrimaryAPIKey,
		model:       cfg.PrimaryModel,
		temperature: cfg.PrimaryTemperature,
		maxTokens:   cfg.PrimaryMaxTokens,
		hc: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Model returns the configured model id.
func (c *Client) Model() string { return c.model }

type chatRequest struct {
	Model       string           `json:"model"`
	Messages    []domain.Message `json:"messages"`
	Temperature float64          `json:"temperature"`
	MaxTokens   int              `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete sends msgs to the chat completions endpoint and returns the first choice.
func (c *Client) Complete(ctx domain.Context, msgs []domain.Message) (domain.Completion, error) {
	lg := observability.LoggerFromContext(ctx).With(slog.String("provider", ProviderName), slog.String("op", "chat"))
	if c.apiKey == "" {
		return domain.Completion{}, fmt.Errorf("op=primary.Complete: %w: PRIMARY_API_KEY missing", domain.ErrInvalidArgument)
	}
	b, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    msgs,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return domain.Completion{}, fmt.Errorf("op=primary.Complete: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(b))
	if err != nil {
		return domain.Completion{}, fmt.Errorf("op=primary.Complete: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if rid := observability.RequestIDFromContext(ctx); rid != "" {
		req.Header.Set("X-Request-Id", rid)
	}

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		observability.ObserveAIRequest(ProviderName, "chat", 0, time.Since(start))
		lg.Error("ai provider request failed", slog.Any("error", err))
		return domain.Completion{}, fmt.Errorf("op=primary.Complete: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	observability.ObserveAIRequest(ProviderName, "chat", resp.StatusCode, time.Since(start))

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Completion{}, fmt.Errorf("op=primary.Complete: read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		pe := &ai.ProviderError{Provider: ProviderName, StatusCode: resp.StatusCode, Body: ai.Snippet(body)}
		lg.Warn("ai provider non-2xx",
			slog.Int("status", resp.StatusCode),
			slog.String("model", c.model),
			slog.String("x_request_id", resp.Header.Get("X-Request-Id")),
			slog.String("body", pe.Body))
		return domain.Completion{}, pe
	}

	var out chatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		lg.Error("ai provider decode error", slog.Any("error", err))
		return domain.Completion{}, fmt.Errorf("op=primary.Complete: decode: %w", err)
	}
	if len(out.Choices) == 0 {
		return domain.Completion{}, fmt.Errorf("op=primary.Complete: %w: empty choices", domain.ErrUpstream)
	}
	lg.Debug("ai provider answered", slog.Int("status", resp.StatusCode), slog.Duration("took", time.Since(start)))
	return domain.Completion{Text: out.Choices[0].Message.Content, Provider: ProviderName}, nil
}
