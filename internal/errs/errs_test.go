package errs

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		kind      Kind
		retryable bool
	}{
		{"network", errors.New("connection refused"), KindNetwork, true},
		{"timeout", errors.New("request timed out"), KindNetwork, true},
		{"rate limit", errors.New("rate limit exceeded"), KindNetwork, true},
		{"server", errors.New("503 service unavailable"), KindServer, true},
		{"auth", errors.New("401 unauthorized"), KindAuth, false},
		{"validation", errors.New("invalid order payload"), KindInvalidData, false},
		{"unknown", errors.New("something odd happened"), KindUnknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := Classify(tt.err)
			assert.Equal(t, tt.kind, classified.Kind)
			assert.Equal(t, tt.retryable, classified.Retryable)
		})
	}
}

func TestClassifyPassthrough(t *testing.T) {
	orig := New(KindQueueFull, "queue at capacity")
	wrapped := fmt.Errorf("enqueue failed: %w", orig)

	classified := Classify(wrapped)
	require.Same(t, orig, classified)
	assert.Equal(t, 10*time.Second, classified.RetryAfter)
	assert.True(t, classified.Retryable)
}

func TestFromStatusCode(t *testing.T) {
	assert.Equal(t, KindAuth, FromStatusCode(401, "x").Kind)
	assert.Equal(t, KindAuth, FromStatusCode(403, "x").Kind)
	assert.Equal(t, KindConflict, FromStatusCode(409, "x").Kind)
	assert.Equal(t, KindInvalidData, FromStatusCode(422, "x").Kind)
	assert.Equal(t, KindServer, FromStatusCode(429, "x").Kind)
	assert.Equal(t, KindServer, FromStatusCode(500, "x").Kind)
	assert.Equal(t, KindClient, FromStatusCode(404, "x").Kind)

	assert.True(t, FromStatusCode(503, "x").Retryable)
	assert.False(t, FromStatusCode(400, "x").Retryable)
}

func TestRetryAfterDefaults(t *testing.T) {
	assert.Equal(t, 5*time.Second, New(KindNetwork, "x").RetryAfter)
	assert.Equal(t, 30*time.Second, New(KindServer, "x").RetryAfter)
	assert.Zero(t, New(KindAuth, "x").RetryAfter)
}

func TestUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := Wrap(KindServer, "push failed", inner)
	assert.ErrorIs(t, err, inner)
}
