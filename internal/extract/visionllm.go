package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"invoicemap/internal/provider"
	"invoicemap/internal/retry"
	"invoicemap/pkg/models"
)

// VisionLLM extracts line items by prompting a multimodal model with one
// image chunk at a time. Chunks go out sequentially so the combined result
// preserves reading order across a multi-part photograph.
type VisionLLM struct {
	provider provider.Provider
	policy   retry.Policy
	log      zerolog.Logger
}

// NewVisionLLM creates the default extractor over the given vision provider.
func NewVisionLLM(p provider.Provider, log zerolog.Logger) *VisionLLM {
	return &VisionLLM{provider: p, policy: retry.DefaultPolicy(), log: log}
}

// NewVisionLLMWithPolicy creates the extractor with an explicit retry policy.
func NewVisionLLMWithPolicy(p provider.Provider, policy retry.Policy, log zerolog.Logger) *VisionLLM {
	return &VisionLLM{provider: p, policy: policy, log: log}
}

// Extract runs one vision call per chunk and concatenates the parsed rows in
// chunk order. A response with no recognizable rows contributes nothing; an
// invoice with no line items at all is a valid empty result, not an error.
func (v *VisionLLM) Extract(ctx context.Context, chunks []models.ImageChunk, opts Options) ([]models.RawLineItem, error) {
	const op = "Extract"

	if len(chunks) == 0 {
		return nil, wrapExtractionError(op, ErrNoImages, "")
	}

	prompt := buildExtractionPrompt(buildVocabulary(opts.Catalog, 0), opts.Feedback)

	var items []models.RawLineItem
	for i, chunk := range chunks {
		chunk := chunk
		response, err := retry.DoValue(ctx, v.policy, v.log, "CompleteVision", func(ctx context.Context) (string, error) {
			return v.provider.CompleteVision(ctx, []models.ImageChunk{chunk}, prompt)
		})
		if err != nil {
			return nil, wrapExtractionError(op, err, fmt.Sprintf("chunk %d of %d", i+1, len(chunks)))
		}

		parsed := parseLineItems(response)
		v.log.Debug().
			Int("chunk", i+1).
			Int("chunks", len(chunks)).
			Int("items", len(parsed)).
			Msg("Parsed extraction response")
		items = append(items, parsed...)
	}

	v.log.Info().
		Str("provider", v.provider.Name()).
		Int("chunks", len(chunks)).
		Int("items", len(items)).
		Msg("Line item extraction completed")
	return items, nil
}

// buildExtractionPrompt assembles the vision prompt: the table instructions,
// an optional catalog vocabulary hint, and any operator corrections from a
// previous pass.
func buildExtractionPrompt(vocabulary []string, feedback []models.ExtractionFeedback) string {
	var prompt strings.Builder

	prompt.WriteString("You are reading a photograph of a handwritten or printed supplier invoice.\n")
	prompt.WriteString("Extract every purchased line item you can see.\n\n")
	prompt.WriteString("Respond with ONLY a markdown table in exactly this format:\n\n")
	prompt.WriteString("| Item | Quantity | Total Price |\n")
	prompt.WriteString("| --- | --- | --- |\n")
	prompt.WriteString("| <item name as written> | <quantity> | <total price> |\n\n")
	prompt.WriteString("Rules:\n")
	prompt.WriteString("- Copy item names exactly as written on the invoice, including local-language words. Do not translate.\n")
	prompt.WriteString("- Quantity and price must be plain numbers. If a value is unreadable, write N/A.\n")
	prompt.WriteString("- One row per purchased item. Skip totals, taxes, and delivery charges.\n")
	prompt.WriteString("- If the image contains no line items, return the header rows only.\n")

	if len(vocabulary) > 0 {
		prompt.WriteString("\nThe supplier typically sells the following products. ")
		prompt.WriteString("Use these spellings when the handwriting is ambiguous, but never invent an item that is not on the invoice:\n")
		for _, term := range vocabulary {
			prompt.WriteString("- ")
			prompt.WriteString(term)
			prompt.WriteString("\n")
		}
	}

	if len(feedback) > 0 {
		prompt.WriteString("\nA previous reading of this invoice contained mistakes. ")
		prompt.WriteString("These lines were marked as incorrectly read; re-examine them carefully:\n")
		for _, f := range feedback {
			fmt.Fprintf(&prompt, "- %q (previously read with total price %.2f)\n", f.RawName, f.RawPrice)
		}
	}

	return prompt.String()
}
