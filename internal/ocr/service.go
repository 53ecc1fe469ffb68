// Package ocr extracts plain text from invoice photographs using the Google
// Cloud Vision API. It backs the standalone `ocr` command, which is the
// debugging companion to the full pipeline: when extraction misreads an
// invoice, the raw OCR text shows what the image actually contains.
//
// Required Environment Variables:
//   - GOOGLE_APPLICATION_CREDENTIALS: Path to service account JSON file, OR
//   - GOOGLE_CREDENTIALS: Inline JSON credentials string
//
// Cloud Vision API limits synchronous requests to 20MB per image.
package ocr

import (
	"context"
	"time"

	"invoicemap/pkg/models"
)

// Service defines the interface for OCR text extraction.
type Service interface {
	// ProcessImage extracts text from one invoice image.
	ProcessImage(ctx context.Context, image models.ImageChunk) (string, error)

	// ProcessImageWithMetadata extracts text with confidence and language
	// detail.
	ProcessImageWithMetadata(ctx context.Context, image models.ImageChunk) (*Result, error)
}

// Result contains the OCR output with metadata.
type Result struct {
	// Text is the detected text in reading order.
	Text string `json:"text"`

	// Confidence is the average confidence across detected blocks (0.0 to
	// 1.0).
	Confidence float32 `json:"confidence"`

	// LanguageCodes are the languages Vision detected in the image.
	LanguageCodes []string `json:"language_codes,omitempty"`

	// ProcessedAt is when processing completed.
	ProcessedAt time.Time `json:"processed_at"`

	// ProcessingDuration is how long the call took.
	ProcessingDuration time.Duration `json:"processing_duration"`
}
