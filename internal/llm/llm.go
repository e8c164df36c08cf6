// Package llm streams text completions from a generative model service.
package llm

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/soudan/internal/config"
	"github.com/hyperjump/soudan/internal/upstream"
)

// ErrTruncated means the completion stopped at the output token limit.
var ErrTruncated = errors.New("completion truncated at max tokens")

// Stop reasons, normalized across providers.
const (
	StopEndTurn   = "end_turn"
	StopMaxTokens = "max_tokens"
	StopRefusal   = "refusal"
)

// Message is one turn of the conversation sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is one generation call. An empty Model uses the generator's configured model.
type Request struct {
	Model     string
	System    string
	Messages  []Message
	MaxTokens int
}

// Completion is the finished result of a stream.
type Completion struct {
	Text         string
	Model        string
	StopReason   string
	InputTokens  int
	OutputTokens int
}

// Truncated reports whether the output hit the token limit.
func (c *Completion) Truncated() bool {
	return c != nil && c.StopReason == StopMaxTokens
}

// Err returns ErrTruncated for a truncated completion and nil otherwise.
func (c *Completion) Err() error {
	if c.Truncated() {
		return ErrTruncated
	}
	return nil
}

// Generator streams a completion. onDelta is called with every text fragment in order;
// an error from onDelta aborts the stream and is returned. The returned Completion holds the
// whole text. On error the text delivered so far is what onDelta saw.
type Generator interface {
	Stream(ctx context.Context, req Request, onDelta func(string) error) (*Completion, error)
}

// New builds the generator named by cfg.Provider, wrapped with retries and model fallback.
func New(cfg *config.LLMConfig, logger *zap.Logger) (Generator, error) {
	var (
		base Generator
		err  error
	)
	switch cfg.Provider {
	case config.LLMAnthropic:
		base, err = NewAnthropic(AnthropicConfig{
			APIKey:  cfg.APIKey(),
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		})
	case config.LLMOpenAI:
		base, err = NewOpenAI(OpenAIConfig{
			APIKey:  cfg.APIKey(),
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		})
	case config.LLMMock:
		base = NewMockGenerator()
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s generator: %w", cfg.Provider, err)
	}
	retrier := upstream.NewRetrier(
		upstream.RetryPolicy{MaxAttempts: cfg.MaxAttempts},
		upstream.WithRateLimit(cfg.RequestsPerSecond),
		upstream.WithRetryLogger(logger),
	)
	return NewRetrying(base, retrier, WithFallbackModel(cfg.FallbackModel), WithLogger(logger)), nil
}
