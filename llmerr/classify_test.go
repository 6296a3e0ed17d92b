package llmerr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromStatus(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		header    http.Header
		body      string
		kind      Kind
		message   string
		retry     time.Duration
		retryable bool
	}{
		{
			name:      "rate limited with retry after",
			status:    http.StatusTooManyRequests,
			header:    http.Header{"Retry-After": []string{"12"}},
			body:      `{"error":{"message":"slow down"}}`,
			kind:      KindRateLimited,
			message:   "slow down",
			retry:     12 * time.Second,
			retryable: true,
		},
		{
			name:      "rate limited without hint",
			status:    http.StatusTooManyRequests,
			kind:      KindRateLimited,
			retryable: true,
		},
		{
			name:    "quota",
			status:  http.StatusPaymentRequired,
			body:    `{"error":{"message":"Insufficient credits"}}`,
			kind:    KindQuotaExceeded,
			message: "Insufficient credits",
		},
		{
			name:    "model not found",
			status:  http.StatusNotFound,
			body:    `{"message":"no such model"}`,
			kind:    KindModelNotFound,
			message: "no such model",
		},
		{
			name:   "context too large",
			status: http.StatusRequestEntityTooLarge,
			kind:   KindContextTooLarge,
		},
		{
			name:      "server error",
			status:    http.StatusBadGateway,
			body:      `{"error":{"message":"upstream failed","code":502}}`,
			kind:      KindHTTPStatus,
			message:   "upstream failed",
			retryable: true,
		},
		{
			name:    "plain text body",
			status:  http.StatusBadRequest,
			body:    "bad things\n",
			kind:    KindHTTPStatus,
			message: "bad things",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := FromStatus(tt.status, tt.header, []byte(tt.body))
			assert.Equal(t, tt.kind, e.Kind)
			assert.Equal(t, tt.status, e.StatusCode)
			assert.Equal(t, tt.message, e.Message)
			assert.Equal(t, tt.retry, e.RetryAfter)
			assert.Equal(t, tt.retryable, e.Retryable())
			assert.NotEmpty(t, e.Remediation())
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	now = func() time.Time { return fixed }
	t.Cleanup(func() { now = time.Now })

	assert.Equal(t, 3*time.Second, ParseRetryAfter("3"))
	assert.Equal(t, 1500*time.Millisecond, ParseRetryAfter("1.5"))
	assert.Equal(t, 30*time.Second, ParseRetryAfter(fixed.Add(30*time.Second).Format(http.TimeFormat)))
	assert.Zero(t, ParseRetryAfter(fixed.Add(-time.Minute).Format(http.TimeFormat)))
	assert.Zero(t, ParseRetryAfter("soon"))
	assert.Zero(t, ParseRetryAfter(""))
	assert.Zero(t, ParseRetryAfter("-4"))
}

func TestFromErrorFrame(t *testing.T) {
	t.Run("numeric code", func(t *testing.T) {
		e := FromErrorFrame([]byte(`{"error":{"code":429,"message":"Rate limit exceeded"}}`))
		assert.Equal(t, KindRateLimited, e.Kind)
		assert.Equal(t, "Rate limit exceeded", e.Message)
	})

	t.Run("string code", func(t *testing.T) {
		e := FromErrorFrame([]byte(`{"error":{"code":"server_error","message":"overloaded"}}`))
		assert.Equal(t, KindInvalidResponse, e.Kind)
		assert.Equal(t, "overloaded", e.Message)
	})
}

func TestClassify(t *testing.T) {
	assert.Nil(t, Classify(nil))

	classified := FromStatus(http.StatusNotFound, nil, nil)
	wrapped := fmt.Errorf("send: %w", classified)
	assert.Same(t, classified, Classify(wrapped))

	netErr := Classify(errors.New("connection reset"))
	assert.Equal(t, KindNetwork, netErr.Kind)
	assert.True(t, netErr.Retryable())

	timeout := Classify(context.DeadlineExceeded)
	assert.Equal(t, KindNetwork, timeout.Kind)
	assert.ErrorIs(t, timeout, context.DeadlineExceeded)
}

func TestError(t *testing.T) {
	e := &Error{Kind: KindRateLimited, StatusCode: 429, RetryAfter: 1500 * time.Millisecond}
	assert.Equal(t, "llm rate_limited (http 429): Too Many Requests", e.Error())
	assert.Equal(t, "wait 2 seconds before retrying", e.Remediation())

	require.ErrorIs(t, fmt.Errorf("wrapped: %w", e), &Error{Kind: KindRateLimited})
	assert.NotErrorIs(t, e, &Error{Kind: KindNetwork})

	got, ok := As(fmt.Errorf("x: %w", e))
	require.True(t, ok)
	assert.Same(t, e, got)

	interrupted := Interrupted(errors.New("unexpected EOF"))
	assert.Equal(t, "llm interrupted: stream ended before completion", interrupted.Error())
	assert.True(t, interrupted.Retryable())
}
