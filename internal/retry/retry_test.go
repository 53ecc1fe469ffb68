package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordingPolicy(delays *[]time.Duration) Policy {
	p := DefaultPolicy()
	p.Sleep = func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
	return p
}

func TestDoRetriesTransientThenSucceeds(t *testing.T) {
	var delays []time.Duration
	p := recordingPolicy(&delays)

	attempts := 0
	result, err := DoValue(context.Background(), p, zerolog.Nop(), "test", func(ctx context.Context) (string, error) {
		attempts++
		if attempts <= 2 {
			return "", &openai.APIError{HTTPStatusCode: 429, Message: "rate limited"}
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, attempts)
	// Two delays, each double the previous.
	require.Len(t, delays, 2)
	assert.Equal(t, time.Second, delays[0])
	assert.Equal(t, 2*time.Second, delays[1])
}

func TestDoNonRetryablePropagatesImmediately(t *testing.T) {
	var delays []time.Duration
	p := recordingPolicy(&delays)

	attempts := 0
	authErr := &openai.APIError{HTTPStatusCode: 401, Message: "invalid api key"}
	err := p.Do(context.Background(), zerolog.Nop(), "test", func(ctx context.Context) error {
		attempts++
		return authErr
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, error(authErr))
	assert.Equal(t, 1, attempts)
	assert.Empty(t, delays)
}

func TestDoExhaustsAttempts(t *testing.T) {
	var delays []time.Duration
	p := recordingPolicy(&delays)

	attempts := 0
	err := p.Do(context.Background(), zerolog.Nop(), "test", func(ctx context.Context) error {
		attempts++
		return fmt.Errorf("api error (status 503): unavailable")
	})

	require.Error(t, err)
	assert.Equal(t, p.MaxAttempts, attempts)
	// No delay after the final attempt.
	assert.Len(t, delays, p.MaxAttempts-1)
	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
	}, delays)
}

func TestDoDelayCeiling(t *testing.T) {
	var delays []time.Duration
	p := recordingPolicy(&delays)
	p.MaxAttempts = 8
	p.MaxDelay = 4 * time.Second

	_ = p.Do(context.Background(), zerolog.Nop(), "test", func(ctx context.Context) error {
		return errors.New("resource_exhausted")
	})

	require.Len(t, delays, 7)
	assert.Equal(t, 4*time.Second, delays[len(delays)-1])
}

func TestDoSuccessFirstTry(t *testing.T) {
	var delays []time.Duration
	p := recordingPolicy(&delays)

	err := p.Do(context.Background(), zerolog.Nop(), "test", func(ctx context.Context) error {
		return nil
	})

	require.NoError(t, err)
	assert.Empty(t, delays)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"openai 429", &openai.APIError{HTTPStatusCode: 429}, true},
		{"openai 500", &openai.APIError{HTTPStatusCode: 500}, true},
		{"openai 503", &openai.APIError{HTTPStatusCode: 503}, true},
		{"openai 401", &openai.APIError{HTTPStatusCode: 401}, false},
		{"openai 400", &openai.APIError{HTTPStatusCode: 400}, false},
		{"quota text", errors.New("Quota exceeded for requests per minute"), true},
		{"resource exhausted", errors.New("api error (status 429, RESOURCE_EXHAUSTED): slow down"), true},
		{"internal error text", errors.New("internal error encountered"), true},
		{"plain failure", errors.New("invalid request payload"), false},
		{"wrapped transient", fmt.Errorf("embed: %w", errors.New("rate limit reached")), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}
