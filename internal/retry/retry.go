// Package retry wraps remote calls in bounded exponential-backoff retry.
// Every remote call made by the indexer, the extraction phase, and the
// synthesis phase goes through this harness.
package retry

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
	"google.golang.org/api/googleapi"
)

// Policy configures the harness. The zero value is not usable; use
// DefaultPolicy.
type Policy struct {
	// MaxAttempts bounds the total number of tries, including the first.
	MaxAttempts int

	// InitialDelay is the wait after the first retryable failure; it
	// doubles on each subsequent one.
	InitialDelay time.Duration

	// MaxDelay caps the doubling. With the default attempt count the cap
	// is never reached; it only matters for tuned-up policies.
	MaxDelay time.Duration

	// Sleep overrides the wait between attempts. Tests inject a recorder
	// here; nil means a real context-aware sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy returns the harness settings used throughout the pipeline.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
	}
}

// Do runs fn under the policy. Retryable failures wait then retry with the
// delay doubling each time; the final attempt's error is returned as-is.
// Non-retryable errors propagate immediately without consuming the retry
// budget or issuing a delay.
func (p Policy) Do(ctx context.Context, log zerolog.Logger, op string, fn func(ctx context.Context) error) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	delay := p.InitialDelay
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}

		log.Warn().
			Err(err).
			Str("op", op).
			Int("attempt", attempt).
			Int("max_attempts", p.MaxAttempts).
			Dur("delay", delay).
			Msg("Transient provider failure, retrying")

		if err := sleep(ctx, delay); err != nil {
			return err
		}
		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return lastErr
}

// DoValue is Do for operations that return a value.
func DoValue[T any](ctx context.Context, p Policy, log zerolog.Logger, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := p.Do(ctx, log, op, func(ctx context.Context) error {
		var innerErr error
		result, innerErr = fn(ctx)
		return innerErr
	})
	return result, err
}

// Do runs fn under the default policy.
func Do(ctx context.Context, log zerolog.Logger, op string, fn func(ctx context.Context) error) error {
	return DefaultPolicy().Do(ctx, log, op, fn)
}

// retryableMarkers are textual signals of rate limiting or transient server
// failure, matched case-insensitively against the error chain's message.
var retryableMarkers = []string{
	"quota",
	"resource_exhausted",
	"resource exhausted",
	"rate limit",
	"internal error",
	"unavailable",
	"status 429",
	"status 500",
	"status 503",
}

// IsRetryable classifies an error as transient (rate limit or server-side
// failure) or fatal. HTTP status codes are checked on the typed errors the
// SDKs return; everything else falls back to textual markers.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var oaiErr *openai.APIError
	if errors.As(err, &oaiErr) {
		return retryableStatus(oaiErr.HTTPStatusCode)
	}
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return retryableStatus(gErr.Code)
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range retryableMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func retryableStatus(code int) bool {
	switch code {
	case 429, 500, 503:
		return true
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
