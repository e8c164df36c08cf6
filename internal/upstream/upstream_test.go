package upstream

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorType
	}{
		{&StatusError{Service: "anthropic", StatusCode: 429, Body: "slow down"}, ErrorRate},
		{&StatusError{Service: "openai", StatusCode: 429, Body: "insufficient_quota"}, ErrorQuota},
		{&StatusError{Service: "anthropic", StatusCode: 529, Body: "overloaded"}, ErrorTransient},
		{&StatusError{Service: "openai", StatusCode: 400, Body: "bad request"}, ErrorPermanent},
		{fmt.Errorf("wrapped: %w", &StatusError{StatusCode: 503}), ErrorTransient},
		{errors.New("prompt is too long"), ErrorContext},
		{errors.New("i/o timeout"), ErrorTransient},
		{context.Canceled, ErrorCanceled},
		{errors.New("invalid api key"), ErrorPermanent},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyError(tt.err), tt.err.Error())
	}
	assert.Equal(t, ErrorType(""), ClassifyError(nil))
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, BaseDelay: 500 * time.Millisecond, MaxDelay: 2 * time.Second}
	assert.Equal(t, 500*time.Millisecond, p.Delay(1))
	assert.Equal(t, time.Second, p.Delay(2))
	assert.Equal(t, 2*time.Second, p.Delay(3))
	assert.Equal(t, 2*time.Second, p.Delay(4))
}

func newTestRetrier(attempts int) (*Retrier, *[]time.Duration) {
	var slept []time.Duration
	r := NewRetrier(RetryPolicy{MaxAttempts: attempts})
	r.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return r, &slept
}

func TestRetrier_RetriesTransient(t *testing.T) {
	r, slept := newTestRetrier(3)
	calls := 0
	err := r.Do(context.Background(), "test", func(context.Context) (bool, error) {
		calls++
		if calls < 3 {
			return false, &StatusError{StatusCode: 503}
		}
		return false, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Len(t, *slept, 2)
}

func TestRetrier_DoesNotRetryPermanent(t *testing.T) {
	r, _ := newTestRetrier(3)
	calls := 0
	err := r.Do(context.Background(), "test", func(context.Context) (bool, error) {
		calls++
		return false, &StatusError{StatusCode: 401, Body: "unauthorized"}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetrier_DoesNotRetryAfterCommit(t *testing.T) {
	r, _ := newTestRetrier(3)
	calls := 0
	err := r.Do(context.Background(), "test", func(context.Context) (bool, error) {
		calls++
		return true, &StatusError{StatusCode: 503}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetrier_GivesUp(t *testing.T) {
	r, _ := newTestRetrier(2)
	calls := 0
	err := r.Do(context.Background(), "test", func(context.Context) (bool, error) {
		calls++
		return false, errors.New("service temporarily unavailable")
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
}
