// Package extract turns invoice photographs into raw line items. Two
// implementations exist: the default vision-LLM path that prompts a
// multimodal model for a line-item table, and a Google Document AI path for
// deployments with a trained invoice processor.
package extract

import (
	"context"

	"invoicemap/pkg/models"
)

// Extractor reads line items off invoice image chunks. Implementations must
// keep output ordered by chunk, then by visual reading order within a chunk.
type Extractor interface {
	Extract(ctx context.Context, chunks []models.ImageChunk, opts Options) ([]models.RawLineItem, error)
}

// Options carries the optional context an extraction call can exploit.
type Options struct {
	// Catalog, when present, seeds the vocabulary hint so the model can
	// spell hard product names correctly.
	Catalog []models.ProductRecord

	// Feedback lists previously extracted lines the operator flagged as
	// misread.
	Feedback []models.ExtractionFeedback
}
