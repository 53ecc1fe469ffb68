package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"invoicemap/internal/logger"
	"invoicemap/internal/ocr"
)

var ocrCmd = &cobra.Command{
	Use:   "ocr [image-file]",
	Short: "Extract raw text from an invoice image using Google Cloud Vision",
	Long: `Run Google Cloud Vision document text detection on an invoice image and
print the raw text.

This is the debugging companion to 'invoicemap process': when extraction
misreads an invoice, the raw OCR output shows what the photograph actually
contains.

Required environment variables:
  GOOGLE_APPLICATION_CREDENTIALS - Path to service account JSON file, OR
  GOOGLE_CREDENTIALS - Inline JSON credentials string`,
	Example: `  # Print the detected text
  invoicemap ocr invoice.jpg

  # Include confidence and languages, as JSON
  invoicemap ocr invoice.jpg --metadata --json -o result.json`,
	Args: cobra.ExactArgs(1),
	RunE: runOCR,
}

// ocrOutput is the JSON output structure when --json is used.
type ocrOutput struct {
	Text               string   `json:"text"`
	Confidence         float32  `json:"confidence,omitempty"`
	LanguageCodes      []string `json:"language_codes,omitempty"`
	ProcessingDuration string   `json:"processing_duration,omitempty"`
	FileName           string   `json:"file_name"`
	FileSize           int64    `json:"file_size"`
}

func init() {
	rootCmd.AddCommand(ocrCmd)

	ocrCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	ocrCmd.Flags().BoolP("metadata", "m", false, "Include metadata in output")
	ocrCmd.Flags().Bool("json", false, "Output as JSON")
	ocrCmd.Flags().Int("timeout", 300, "Processing timeout in seconds")
}

func runOCR(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("ocr")

	outputPath, _ := cmd.Flags().GetString("output")
	includeMetadata, _ := cmd.Flags().GetBool("metadata")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	imagePath := args[0]
	fileInfo, err := os.Stat(imagePath)
	if err != nil {
		return fmt.Errorf("cannot access image file %s: %w", imagePath, err)
	}
	if fileInfo.Size() > ocr.MaxImageSizeBytes {
		return fmt.Errorf("image too large (%d bytes, maximum is 20MB)", fileInfo.Size())
	}

	chunks, err := loadImageChunks([]string{imagePath})
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(time.Duration(timeoutSecs)*time.Second, log)
	defer cancel()

	service, err := ocr.NewGoogleVisionService(ctx)
	if err != nil {
		if errors.Is(err, ocr.ErrMissingCredentials) {
			return fmt.Errorf("Google Cloud credentials not configured: set GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_CREDENTIALS")
		}
		return fmt.Errorf("failed to create OCR service: %w", err)
	}

	log.Info().
		Str("file", imagePath).
		Int64("size", fileInfo.Size()).
		Msg("Starting OCR processing")

	result, err := service.ProcessImageWithMetadata(ctx, chunks[0])
	if err != nil {
		return handleOCRError(err, log)
	}

	log.Info().
		Float32("confidence", result.Confidence).
		Dur("duration", result.ProcessingDuration).
		Int("text_length", len(result.Text)).
		Msg("OCR processing completed")

	return outputOCRResult(result, fileInfo, outputPath, jsonOutput, includeMetadata)
}

// handleOCRError maps OCR failures to actionable messages.
func handleOCRError(err error, log zerolog.Logger) error {
	log.Error().Err(err).Msg("OCR processing failed")

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("OCR processing timed out, try increasing --timeout")
	case errors.Is(err, ocr.ErrImageTooLarge):
		return fmt.Errorf("image is too large (maximum 20MB), try compressing it")
	case errors.Is(err, ocr.ErrEmptyImage):
		return fmt.Errorf("no readable text found in the image")
	case strings.Contains(err.Error(), "PERMISSION_DENIED"):
		return fmt.Errorf("permission denied: ensure the service account has the 'Cloud Vision API User' role")
	case strings.Contains(strings.ToLower(err.Error()), "quota"):
		return fmt.Errorf("Cloud Vision API quota exceeded, check your project quotas")
	default:
		return fmt.Errorf("OCR processing failed: %w", err)
	}
}

func outputOCRResult(result *ocr.Result, fileInfo os.FileInfo, outputPath string, jsonOutput, includeMetadata bool) error {
	var outputData []byte

	if jsonOutput {
		out := ocrOutput{
			Text:               result.Text,
			FileName:           filepath.Base(fileInfo.Name()),
			FileSize:           fileInfo.Size(),
			Confidence:         result.Confidence,
			LanguageCodes:      result.LanguageCodes,
			ProcessingDuration: result.ProcessingDuration.String(),
		}
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to create JSON output: %w", err)
		}
		outputData = data
	} else {
		var output strings.Builder
		if includeMetadata {
			output.WriteString(fmt.Sprintf("=== OCR Results for %s ===\n", filepath.Base(fileInfo.Name())))
			output.WriteString(fmt.Sprintf("File size: %d bytes\n", fileInfo.Size()))
			if result.Confidence > 0 {
				output.WriteString(fmt.Sprintf("Confidence: %.1f%%\n", result.Confidence*100))
			}
			if len(result.LanguageCodes) > 0 {
				output.WriteString(fmt.Sprintf("Languages: %s\n", strings.Join(result.LanguageCodes, ", ")))
			}
			output.WriteString(fmt.Sprintf("Processing time: %v\n", result.ProcessingDuration))
			output.WriteString("\n=== Extracted Text ===\n\n")
		}
		output.WriteString(result.Text)
		output.WriteString("\n")
		outputData = []byte(output.String())
	}

	if outputPath != "" {
		if err := os.WriteFile(outputPath, outputData, 0644); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		return nil
	}
	_, err := os.Stdout.Write(outputData)
	return err
}
