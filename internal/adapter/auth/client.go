// Package auth resolves bearer tokens to owners through the hosted auth service.
package auth

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/ielts-writing-coach/internal/adapter/observability"
	"github.com/fairyhunter13/ielts-writing-coach/internal/domain"
)

// Client calls GET {baseURL}/user with the caller's token.
type Client struct {
	baseURL string
	apiKey  string
	hc      *http.Client
}

// NewClient constructs a hosted auth client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		hc: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Authenticate implements domain.Authenticator.
func (c *Client) Authenticate(ctx domain.Context, token string) (domain.Owner, error) {
	if strings.TrimSpace(token) == "" {
		return domain.Owner{}, fmt.Errorf("op=auth.Authenticate: %w", domain.ErrUnauthenticated)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/user", nil)
	if err != nil {
		return domain.Owner{}, fmt.Errorf("op=auth.Authenticate: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return domain.Owner{}, fmt.Errorf("op=auth.Authenticate: %w: %v", domain.ErrUpstream, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return domain.Owner{}, fmt.Errorf("op=auth.Authenticate: %w", domain.ErrUnauthenticated)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		observability.LoggerFromContext(ctx).Warn("auth service non-2xx",
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(body)))
		return domain.Owner{}, fmt.Errorf("op=auth.Authenticate: %w: status %d", domain.ErrUpstream, resp.StatusCode)
	}

	var u userResponse
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return domain.Owner{}, fmt.Errorf("op=auth.Authenticate: %w: decode: %v", domain.ErrUpstream, err)
	}
	if u.ID == "" {
		return domain.Owner{}, fmt.Errorf("op=auth.Authenticate: %w", domain.ErrUnauthenticated)
	}
	return domain.Owner{ID: u.ID, Email: u.Email}, nil
}
