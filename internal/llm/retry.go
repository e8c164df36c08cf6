package llm

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/hyperjump/soudan/internal/upstream"
)

// Retrying retries transient failures of a Generator as long as no fragment has reached the
// caller, then falls back to a secondary model when one is configured.
type Retrying struct {
	next          Generator
	retrier       *upstream.Retrier
	fallbackModel string
	logger        *zap.Logger
}

// RetryingOption configures a Retrying generator.
type RetryingOption func(*Retrying)

// WithFallbackModel sets the model tried after the primary model fails or refuses.
func WithFallbackModel(model string) RetryingOption {
	return func(r *Retrying) {
		r.fallbackModel = model
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) RetryingOption {
	return func(r *Retrying) {
		r.logger = l
	}
}

// NewRetrying wraps next. A nil retrier uses the default policy.
func NewRetrying(next Generator, retrier *upstream.Retrier, opts ...RetryingOption) *Retrying {
	if retrier == nil {
		retrier = upstream.NewRetrier(upstream.DefaultRetryPolicy())
	}
	r := &Retrying{next: next, retrier: retrier}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Stream implements Generator.
func (r *Retrying) Stream(ctx context.Context, req Request, onDelta func(string) error) (*Completion, error) {
	comp, delivered, err := r.attempt(ctx, req, onDelta)
	if delivered || r.fallbackModel == "" || r.fallbackModel == req.Model || ctx.Err() != nil {
		return comp, err
	}
	refused := err == nil && comp.StopReason == StopRefusal
	if err == nil && !refused {
		return comp, nil
	}
	if r.logger != nil {
		r.logger.Warn("primary model failed, trying fallback",
			zap.String("fallback", r.fallbackModel),
			zap.Bool("refused", refused),
			zap.Error(err))
	}
	req.Model = r.fallbackModel
	fcomp, _, ferr := r.attempt(ctx, req, onDelta)
	if ferr != nil {
		return fcomp, errors.Join(err, ferr)
	}
	return fcomp, nil
}

// attempt runs one model under the retry policy and reports whether any fragment was delivered.
func (r *Retrying) attempt(ctx context.Context, req Request, onDelta func(string) error) (*Completion, bool, error) {
	var (
		comp      *Completion
		delivered bool
	)
	err := r.retrier.Do(ctx, "generate", func(ctx context.Context) (bool, error) {
		var err error
		comp, err = r.next.Stream(ctx, req, func(s string) error {
			delivered = true
			return onDelta(s)
		})
		return delivered, err
	})
	if comp != nil && r.logger != nil && err == nil {
		r.logger.Info("generation finished",
			zap.String("model", comp.Model),
			zap.String("stop_reason", comp.StopReason),
			zap.Int("input_tokens", comp.InputTokens),
			zap.Int("output_tokens", comp.OutputTokens))
	}
	return comp, delivered, err
}
