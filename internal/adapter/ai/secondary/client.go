// Package secondary is the client for the fallback provider: a proxy
// function in front of a hosted inference model that may be cold.
package secondary

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/ielts-writing-coach/internal/adapter/ai"
	"github.com/fairyhunter13/ielts-writing-coach/internal/adapter/observability"
	"github.com/fairyhunter13/ielts-writing-coach/internal/config"
	"github.com/fairyhunter13/ielts-writing-coach/internal/domain"
	"github.com/fairyhunter13/ielts-writing-coach/internal/feedback/fallback"
	"github.com/fairyhunter13/ielts-writing-coach/internal/feedback/prompt"
)

// ProviderName labels logs, metrics and submissions.
const ProviderName = "secondary"

// Reasons for answering with canned text.
const (
	ReasonModelLoading = "model_loading"
	ReasonForbidden    = "forbidden"
	ReasonFallbackFlag = "fallback_flag"
)

// Client implements domain.ChatProvider.
type Client struct {
	url          string
	apiKey       string
	maxAttempts  int
	defaultDelay time.Duration
	maxDelay     time.Duration
	gen          *fallback.Generator
	hc           *http.Client
}

// New constructs a secondary client. gen produces the canned analysis.
func New(cfg config.Config, gen *fallback.Generator) *Client {
	policy := cfg.SecondaryRetryPolicy()
	timeout := cfg.SecondaryTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	if gen == nil {
		gen = fallback.NewGenerator(nil)
	}
	return &Client{
		url:          cfg.SecondaryProxyURL,
		apiKey:       cfg.SecondaryAPIKey,
		maxAttempts:  policy.MaxAttempts,
		defaultDelay: policy.DefaultDelay,
		maxDelay:     policy.MaxDelay,
		gen:          gen,
		hc: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type proxyRequest struct {
	Messages []domain.Message `json:"messages"`
}

type generated struct {
	GeneratedText string `json:"generated_text"`
}

type proxyObject struct {
	Fallback      bool     `json:"fallback"`
	GeneratedText string   `json:"generated_text"`
	Error         string   `json:"error"`
	EstimatedTime *float64 `json:"estimated_time"`
}

// loadingError is returned by an attempt that got a 503.
type loadingError struct {
	wait time.Duration
}

func (e *loadingError) Error() string { return fmt.Sprintf("model loading, retry in %s", e.wait) }

// cannedError ends the retry loop with a canned answer.
type cannedError struct {
	reason string
}

func (e *cannedError) Error() string { return "canned: " + e.reason }

// suggestedBackOff waits for whatever the last 503 asked for, up to max.
type suggestedBackOff struct {
	next time.Duration
	def  time.Duration
	max  time.Duration
}

func (b *suggestedBackOff) NextBackOff() time.Duration {
	d := b.def
	if b.next > 0 {
		d = b.next
	}
	if b.max > 0 && d > b.max {
		d = b.max
	}
	return d
}

func (b *suggestedBackOff) Reset() { b.next = 0 }

// Complete forwards msgs to the proxy. A cold model is waited for; when it
// stays cold, or the proxy refuses or asks for a fallback, a locally
// generated analysis is returned with Canned set.
func (c *Client) Complete(ctx domain.Context, msgs []domain.Message) (domain.Completion, error) {
	lg := observability.LoggerFromContext(ctx).With(slog.String("provider", ProviderName), slog.String("op", "chat"))
	if c.url == "" {
		return domain.Completion{}, fmt.Errorf("op=secondary.Complete: %w: SECONDARY_PROXY_URL missing", domain.ErrInvalidArgument)
	}
	payload, err := json.Marshal(proxyRequest{Messages: msgs})
	if err != nil {
		return domain.Completion{}, fmt.Errorf("op=secondary.Complete: %w", err)
	}

	sb := &suggestedBackOff{def: c.defaultDelay, max: c.maxDelay}
	var bo backoff.BackOff = backoff.WithMaxRetries(sb, uint64(max(c.maxAttempts-1, 0)))
	bo = backoff.WithContext(bo, ctx)

	var text string
	attempt := 0
	op := func() error {
		attempt++
		t, err := c.call(ctx, payload, lg)
		var le *loadingError
		if errors.As(err, &le) {
			sb.next = le.wait
			if attempt < c.maxAttempts && !fitsDeadline(ctx, sb.NextBackOff()) {
				lg.Warn("secondary model loading past the deadline, not waiting",
					slog.Int("attempt", attempt),
					slog.Duration("wait", sb.NextBackOff()))
				return backoff.Permanent(&cannedError{reason: ReasonModelLoading})
			}
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		text = t
		return nil
	}
	notify := func(err error, wait time.Duration) {
		lg.Warn("secondary model loading, retrying",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", c.maxAttempts),
			slog.Duration("wait", wait))
	}

	err = backoff.RetryNotify(op, bo, notify)
	var le *loadingError
	var ce *cannedError
	switch {
	case err == nil:
		return domain.Completion{Text: text, Provider: ProviderName}, nil
	case errors.As(err, &ce):
		return c.canned(msgs, ce.reason, lg), nil
	case errors.As(err, &le):
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.Completion{}, fmt.Errorf("op=secondary.Complete: %w", ctxErr)
		}
		return c.canned(msgs, ReasonModelLoading, lg), nil
	default:
		lg.Error("secondary provider failed", slog.Int("attempts", attempt), slog.Any("error", err))
		return domain.Completion{}, fmt.Errorf("op=secondary.Complete: %w", err)
	}
}

// fitsDeadline reports whether ctx allows waiting d before the next attempt.
func fitsDeadline(ctx domain.Context, d time.Duration) bool {
	deadline, ok := ctx.Deadline()
	return !ok || time.Until(deadline) > d
}

func (c *Client) canned(msgs []domain.Message, reason string, lg *slog.Logger) domain.Completion {
	lg.Warn("secondary provider unavailable, answering with canned analysis", slog.String("reason", reason))
	observability.ObserveCanned(reason)
	return domain.Completion{
		Text:         c.gen.CannedAnalysis(prompt.EssayFrom(msgs), domain.DefaultScore),
		Provider:     ProviderName,
		Canned:       true,
		CannedReason: reason,
	}
}

// call performs one request. It returns *loadingError on 503 and
// *cannedError when the proxy refuses or asks for a fallback.
func (c *Client) call(ctx domain.Context, payload []byte, lg *slog.Logger) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("apikey", c.apiKey)
	}

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		observability.ObserveAIRequest(ProviderName, "chat", 0, time.Since(start))
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	observability.ObserveAIRequest(ProviderName, "chat", resp.StatusCode, time.Since(start))

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusServiceUnavailable:
		wait := c.defaultDelay
		var obj proxyObject
		if json.Unmarshal(body, &obj) == nil && obj.EstimatedTime != nil && *obj.EstimatedTime > 0 {
			wait = time.Duration(*obj.EstimatedTime * float64(time.Second))
		}
		lg.Info("secondary model loading", slog.Int("status", resp.StatusCode), slog.Duration("estimated", wait))
		return "", &loadingError{wait: wait}
	case resp.StatusCode == http.StatusForbidden:
		return "", &cannedError{reason: ReasonForbidden}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		pe := &ai.ProviderError{Provider: ProviderName, StatusCode: resp.StatusCode, Body: ai.Snippet(body)}
		lg.Warn("ai provider non-2xx", slog.Int("status", resp.StatusCode), slog.String("body", pe.Body))
		return "", pe
	}
	return decode(body)
}

func decode(body []byte) (string, error) {
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '[' {
		var arr []generated
		if err := json.Unmarshal(body, &arr); err != nil {
			return "", fmt.Errorf("decode: %w", err)
		}
		if len(arr) == 0 {
			return "", fmt.Errorf("decode: %w: empty result", domain.ErrUpstream)
		}
		return arr[0].GeneratedText, nil
	}
	var obj proxyObject
	if err := json.Unmarshal(body, &obj); err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	if obj.Fallback {
		return "", &cannedError{reason: ReasonFallbackFlag}
	}
	if obj.GeneratedText != "" {
		return obj.GeneratedText, nil
	}
	return "", fmt.Errorf("decode: %w: unexpected body %s", domain.ErrUpstream, ai.Snippet(body))
}
