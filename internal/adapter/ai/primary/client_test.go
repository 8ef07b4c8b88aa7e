package primary

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ielts-writing-coach/internal/adapter/ai"
	"github.com/fairyhunter13/ielts-writing-coach/internal/config"
	"github.com/fairyhunter13/ielts-writing-coach/internal/domain"
)

func newTestClient(url string) *Client {
	return New(config.Config{
		PrimaryAPIKey:      "sk-test",
		PrimaryBaseURL:     url + "/",
		PrimaryModel:       "gpt-4o-mini",
		PrimaryTemperature: 0.7,
		PrimaryMaxTokens:   3000,
	})
}

var msgs = []domain.Message{
	{Role: domain.RoleSystem, Content: "sys"},
	{Role: domain.RoleUser, Content: "Essay:\nhello"},
}

func TestComplete_Success(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req.Model)
		assert.Equal(t, 3000, req.MaxTokens)
		assert.InDelta(t, 0.7, req.Temperature, 1e-9)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, domain.RoleSystem, req.Messages[0].Role)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": "**Score**\n7.5"}}},
		})
	}))
	defer ts.Close()

	out, err := newTestClient(ts.URL).Complete(context.Background(), msgs)
	require.NoError(t, err)
	assert.Equal(t, "**Score**\n7.5", out.Text)
	assert.Equal(t, ProviderName, out.Provider)
	assert.False(t, out.Canned)
}

func TestComplete_PaymentRequired(t *testing.T) {
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error":{"message":"Insufficient credits"}}`))
	}))
	defer ts.Close()

	_, err := newTestClient(ts.URL).Complete(context.Background(), msgs)
	require.Error(t, err)
	var pe *ai.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, http.StatusPaymentRequired, pe.StatusCode)
	assert.Contains(t, err.Error(), "402")
	assert.Contains(t, err.Error(), "Insufficient credits")
	assert.True(t, ai.ShouldFallback(err))
	assert.Equal(t, 1, calls, "primary must not retry")
}

func TestComplete_ServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer ts.Close()

	_, err := newTestClient(ts.URL).Complete(context.Background(), msgs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "primary status 500")
	assert.False(t, ai.ShouldFallback(err))
}

func TestComplete_EmptyChoices(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer ts.Close()

	_, err := newTestClient(ts.URL).Complete(context.Background(), msgs)
	require.ErrorIs(t, err, domain.ErrUpstream)
}

func TestComplete_BadJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer ts.Close()

	_, err := newTestClient(ts.URL).Complete(context.Background(), msgs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode")
}

func TestComplete_NetworkError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := ts.URL
	ts.Close()

	_, err := newTestClient(url).Complete(context.Background(), msgs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "op=primary.Complete")
}

func TestComplete_MissingKey(t *testing.T) {
	c := New(config.Config{PrimaryBaseURL: "http://unused"})
	_, err := c.Complete(context.Background(), msgs)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}
