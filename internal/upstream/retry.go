package upstream

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RetryPolicy bounds retries of transient upstream failures.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy is three attempts with exponential backoff from 500ms up to 8s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 8 * time.Second}
}

// Delay returns the wait before retry number attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return d
}

// Retrier runs upstream calls under a retry policy and an optional request rate limit.
type Retrier struct {
	policy  RetryPolicy
	limiter *rate.Limiter
	logger  *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// RetrierOption configures a Retrier.
type RetrierOption func(*Retrier)

// WithRateLimit throttles calls to perSecond requests per second.
func WithRateLimit(perSecond float64) RetrierOption {
	return func(r *Retrier) {
		if perSecond > 0 {
			r.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// WithRetryLogger sets the logger.
func WithRetryLogger(l *zap.Logger) RetrierOption {
	return func(r *Retrier) {
		r.logger = l
	}
}

// NewRetrier creates a Retrier. Zero policy fields take the defaults.
func NewRetrier(policy RetryPolicy, opts ...RetrierOption) *Retrier {
	def := DefaultRetryPolicy()
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = def.MaxAttempts
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = def.BaseDelay
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = def.MaxDelay
	}
	r := &Retrier{policy: policy, sleep: sleepContext}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Do calls fn until it succeeds, fails with a non-retryable error, or attempts run out.
// fn reports whether it already produced observable output; such failures are never retried.
func (r *Retrier) Do(ctx context.Context, op string, fn func(ctx context.Context) (committed bool, err error)) error {
	var err error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if r.limiter != nil {
			if werr := r.limiter.Wait(ctx); werr != nil {
				return werr
			}
		}
		var committed bool
		committed, err = fn(ctx)
		if err == nil {
			return nil
		}
		class := ClassifyError(err)
		if committed || !class.Retryable() || attempt == r.policy.MaxAttempts {
			return err
		}
		delay := r.policy.Delay(attempt)
		if r.logger != nil {
			r.logger.Warn("retrying upstream call",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.String("class", string(class)),
				zap.Duration("delay", delay),
				zap.Error(err))
		}
		if serr := r.sleep(ctx, delay); serr != nil {
			return serr
		}
	}
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
