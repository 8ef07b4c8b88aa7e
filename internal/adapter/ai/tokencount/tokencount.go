// Package tokencount counts tokens the way OpenAI-compatible providers do.
//
// It uses tiktoken-go, a Go port of OpenAI's tiktoken library, so essay
// limits can be enforced before a request is sent.
package tokencount

import (
	"log/slog"
	"strings"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"

	"github.com/fairyhunter13/ielts-writing-coach/internal/domain"
)

// fallbackEncoding is used for models tiktoken does not know.
const fallbackEncoding = "cl100k_base"

func init() {
	// Embedded BPE ranks; no download on first use.
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

// Counter provides thread-safe token counting for LLM models.
type Counter struct {
	mu            sync.RWMutex
	encodingCache map[string]*tiktoken.Tiktoken
}

// NewCounter creates a new token counter instance.
func NewCounter() *Counter {
	return &Counter{encodingCache: make(map[string]*tiktoken.Tiktoken)}
}

// DefaultCounter is a process-wide counter.
var DefaultCounter = NewCounter()

func (c *Counter) encodingFor(model string) (*tiktoken.Tiktoken, error) {
	name := normalizeModelName(model)

	c.mu.RLock()
	enc, ok := c.encodingCache[name]
	c.mu.RUnlock()
	if ok {
		return enc, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if enc, ok := c.encodingCache[name]; ok {
		return enc, nil
	}
	enc, err := tiktoken.EncodingForModel(name)
	if err != nil {
		slog.Debug("falling back to cl100k_base encoding", slog.String("model", model), slog.Any("error", err))
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
		if err != nil {
			return nil, err
		}
	}
	c.encodingCache[name] = enc
	return enc, nil
}

// normalizeModelName maps provider model ids onto names tiktoken knows.
func normalizeModelName(model string) string {
	model = strings.ToLower(model)
	if i := strings.LastIndex(model, "/"); i >= 0 {
		model = model[i+1:]
	}
	switch {
	case strings.HasPrefix(model, "gpt-4o"):
		return "gpt-4o"
	case strings.Contains(model, "gpt-3.5"):
		return "gpt-3.5-turbo"
	default:
		// gpt-4 and open-weight models are close enough to cl100k_base
		return "gpt-4"
	}
}

// CountTokens counts the tokens of text for model.
func (c *Counter) CountTokens(text, model string) (int, error) {
	enc, err := c.encodingFor(model)
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(text, nil, nil)), nil
}

// CountMessages counts the tokens of a chat request, including the per
// message overhead used by OpenAI-compatible APIs.
func (c *Counter) CountMessages(msgs []domain.Message, model string) (int, error) {
	enc, err := c.encodingFor(model)
	if err != nil {
		return 0, err
	}
	const tokensPerMessage = 3
	n := 3 // reply priming
	for _, m := range msgs {
		n += tokensPerMessage
		n += len(enc.Encode(string(m.Role), nil, nil))
		n += len(enc.Encode(m.Content, nil, nil))
	}
	return n, nil
}

// Within reports whether text fits in limit tokens. A non-positive limit
// disables the check. When the encoding cannot be loaded the count is
// estimated at four characters per token.
func (c *Counter) Within(text, model string, limit int) (count int, ok bool) {
	if limit <= 0 {
		return 0, true
	}
	n, err := c.CountTokens(text, model)
	if err != nil {
		slog.Warn("token count unavailable, using estimate", slog.String("model", model), slog.Any("error", err))
		n = len(text) / 4
	}
	return n, n <= limit
}
