package ai

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ielts-writing-coach/internal/domain"
)

type scriptedProvider struct {
	errs  []error
	calls int
}

func (p *scriptedProvider) Complete(_ domain.Context, _ []domain.Message) (domain.Completion, error) {
	i := p.calls
	p.calls++
	if i < len(p.errs) && p.errs[i] != nil {
		return domain.Completion{}, p.errs[i]
	}
	return domain.Completion{Text: "ok", Provider: "primary"}, nil
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(p domain.ChatProvider) (*CircuitBreaker, *fakeClock) {
	clk := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker("primary", p, 2, time.Minute)
	cb.now = clk.now
	return cb, clk
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	boom := errors.New("status 500")
	p := &scriptedProvider{errs: []error{boom, boom}}
	cb, _ := newTestBreaker(p)
	ctx := context.Background()

	_, err := cb.Complete(ctx, nil)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, CircuitClosed, cb.State())
	_, err = cb.Complete(ctx, nil)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, CircuitOpen, cb.State())

	_, err = cb.Complete(ctx, nil)
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.ErrorIs(t, err, boom, "last provider error is kept")
	assert.Equal(t, 2, p.calls, "open circuit does not call the provider")
}

func TestCircuitBreaker_KeepsCreditExhaustionVisible(t *testing.T) {
	credit := &ProviderError{Provider: "primary", StatusCode: 402, Body: "insufficient credits"}
	p := &scriptedProvider{errs: []error{credit, credit}}
	cb, _ := newTestBreaker(p)
	for i := 0; i < 2; i++ {
		_, _ = cb.Complete(context.Background(), nil)
	}
	_, err := cb.Complete(context.Background(), nil)
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.True(t, ShouldFallback(err))
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	boom := errors.New("timeout")
	p := &scriptedProvider{errs: []error{boom, boom, boom}}
	cb, clk := newTestBreaker(p)
	ctx := context.Background()
	_, _ = cb.Complete(ctx, nil)
	_, _ = cb.Complete(ctx, nil)
	require.Equal(t, CircuitOpen, cb.State())

	// failed probe reopens
	clk.advance(2 * time.Minute)
	_, err := cb.Complete(ctx, nil)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, CircuitOpen, cb.State())
	assert.Equal(t, 3, p.calls)

	// successful probe closes
	clk.advance(2 * time.Minute)
	comp, err := cb.Complete(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", comp.Text)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_SuccessResetsCount(t *testing.T) {
	boom := errors.New("eof")
	p := &scriptedProvider{errs: []error{boom, nil, boom}}
	cb, _ := newTestBreaker(p)
	for i := 0; i < 3; i++ {
		_, _ = cb.Complete(context.Background(), nil)
	}
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_CancelledCallerNotCounted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &scriptedProvider{errs: []error{context.Canceled, context.Canceled, context.Canceled}}
	cb, _ := newTestBreaker(p)
	for i := 0; i < 3; i++ {
		_, err := cb.Complete(ctx, nil)
		require.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half-open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(9).String())
}
