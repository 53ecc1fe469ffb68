// Package provider selects and authenticates one of the interchangeable AI
// backends and exposes a uniform call surface to the pipeline: a vision/text
// completion and a text embedding. The higher layers depend only on the
// Provider interface, never on provider identity; per-provider rate and
// output-size policies are published through Capabilities.
package provider

import (
	"context"
	"fmt"
	"time"

	"invoicemap/pkg/models"
)

// Provider is the uniform surface over an AI backend. Implementations hide
// the materially different request shapes (multimodal chat parts vs.
// inline-data JSON bodies, schema-constrained vs. free-text generation).
type Provider interface {
	// Name returns the backend identifier ("openai", "gemini").
	Name() string

	// Capabilities returns the static rate and batching policy for this
	// backend. Keyed on provider identity, never measured at runtime.
	Capabilities() Capabilities

	// CompleteVision sends the encoded images plus a text prompt and
	// returns the model's text response. Images may be empty for
	// text-only completions (the synthesis phase uses it that way).
	CompleteVision(ctx context.Context, images []models.ImageChunk, prompt string) (string, error)

	// Embed returns a fixed-length vector for the given text.
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Capabilities is the static per-provider policy consumed by the indexer and
// the synthesis phase.
type Capabilities struct {
	// EmbedBatchSize is how many catalog records are embedded concurrently
	// per batch. 1 means strictly sequential.
	EmbedBatchSize int

	// EmbedBatchDelay is the pause between embedding batches.
	EmbedBatchDelay time.Duration

	// SynthesisChunkSize bounds how many raw items go into one
	// adjudication call, to avoid response truncation.
	SynthesisChunkSize int

	// ParallelSynthesis reports whether adjudication chunks may be
	// dispatched concurrently.
	ParallelSynthesis bool
}

// Config selects a backend for one pipeline invocation. Immutable during
// that invocation.
type Config struct {
	// Provider is the mapping (embedding + synthesis) backend.
	Provider string

	// APIKey overrides the process-level default credential when set.
	APIKey string

	// VisionProvider is the backend used for invoice OCR. Empty means the
	// mapping provider is used for vision too. This is the explicit hybrid
	// rule: vision quality and reasoning quality are independently
	// selectable.
	VisionProvider string
}

// Defaults carries the process-level default credentials, injected from
// configuration. Credential resolution never reads the environment directly.
type Defaults struct {
	OpenAIAPIKey string
	GeminiAPIKey string
}

// New builds the mapping provider for the given config.
func New(cfg Config, defaults Defaults) (Provider, error) {
	return build(cfg.Provider, cfg.APIKey, defaults)
}

// NewVision builds the extraction (vision) provider for the given config,
// honoring the VisionProvider override. The explicit key only applies when
// the vision backend is the selected mapping backend; a diverging vision
// backend authenticates with its process default.
func NewVision(cfg Config, defaults Defaults) (Provider, error) {
	name := cfg.VisionProvider
	if name == "" {
		name = cfg.Provider
	}
	key := ""
	if name == cfg.Provider {
		key = cfg.APIKey
	}
	return build(name, key, defaults)
}

func build(name, explicitKey string, defaults Defaults) (Provider, error) {
	key, err := resolveCredential(name, explicitKey, defaults)
	if err != nil {
		return nil, err
	}
	switch name {
	case "openai":
		return newOpenAI(key), nil
	case "gemini":
		return newGemini(key), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
}

// resolveCredential applies the precedence rule: explicit per-invocation key,
// else the per-provider process default.
func resolveCredential(name, explicit string, defaults Defaults) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	var fallback string
	switch name {
	case "openai":
		fallback = defaults.OpenAIAPIKey
	case "gemini":
		fallback = defaults.GeminiAPIKey
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	if fallback == "" {
		return "", fmt.Errorf("%w: no API key for provider %s", ErrNoCredential, name)
	}
	return fallback, nil
}
