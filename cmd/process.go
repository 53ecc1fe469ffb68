package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"invoicemap/internal/catalog"
	"invoicemap/internal/config"
	"invoicemap/internal/extract"
	"invoicemap/internal/logger"
	"invoicemap/internal/pipeline"
	"invoicemap/internal/provider"
	"invoicemap/internal/retry"
	"invoicemap/internal/synthesis"
	"invoicemap/pkg/models"
)

var processCmd = &cobra.Command{
	Use:   "process [image-files...]",
	Short: "Extract and map line items from invoice photographs",
	Long: `Process one invoice given as one or more image files. Multiple files are
treated as parts of the same photograph, top to bottom.

Extraction reads the line items off the images with the configured vision
backend; synthesis then matches every item against the indexed catalog and
returns the mapped result as JSON. Items that match nothing come back with a
null product ID and the reason.

Run 'invoicemap index' first to produce the catalog snapshot.`,
	Example: `  # Process a single-photo invoice
  invoicemap process invoice.jpg

  # A tall invoice photographed in two parts
  invoicemap process top.jpg bottom.jpg -o result.json

  # Re-run with operator corrections
  invoicemap process invoice.jpg --feedback corrections.json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runProcess,
}

// processOutput is the JSON written for one processed invoice.
type processOutput struct {
	JobID  string                     `json:"job_id"`
	Status pipeline.Status            `json:"status"`
	Items  []models.MappedInvoiceItem `json:"items,omitempty"`
	Error  string                     `json:"error,omitempty"`
}

func init() {
	rootCmd.AddCommand(processCmd)

	processCmd.Flags().StringP("snapshot", "s", "catalog.index.json", "Path of the indexed catalog snapshot")
	processCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	processCmd.Flags().String("feedback", "", "Path to a feedback JSON file from a previous run")
	processCmd.Flags().Int("timeout", 600, "Processing timeout in seconds")
}

func runProcess(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("process")

	snapshotPath, _ := cmd.Flags().GetString("snapshot")
	outputPath, _ := cmd.Flags().GetString("output")
	feedbackPath, _ := cmd.Flags().GetString("feedback")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	records, err := catalog.LoadSnapshot(snapshotPath)
	if err != nil {
		return fmt.Errorf("failed to load catalog snapshot %s (run 'invoicemap index' first): %w", snapshotPath, err)
	}

	chunks, err := loadImageChunks(args)
	if err != nil {
		return err
	}

	var feedback *models.FeedbackSet
	if feedbackPath != "" {
		feedback, err = loadFeedback(feedbackPath)
		if err != nil {
			return err
		}
	}

	ctx, cancel := signalContext(time.Duration(timeoutSecs)*time.Second, log)
	defer cancel()

	mappingProvider, err := provider.New(providerConfig(cfg), providerDefaults(cfg))
	if err != nil {
		return fmt.Errorf("failed to create provider: %w", err)
	}

	var extractor extract.Extractor
	if cfg.Extractor == "documentai" {
		docAI, err := extract.NewDocumentAI(ctx, extract.DocumentAIConfig{
			ProjectID:   cfg.GoogleCloudProject,
			Location:    cfg.GoogleCloudLocation,
			ProcessorID: cfg.DocumentAIProcessorID,
		})
		if err != nil {
			return fmt.Errorf("failed to create Document AI extractor: %w", err)
		}
		defer docAI.Close()
		extractor = docAI
	} else {
		visionProvider, err := provider.NewVision(providerConfig(cfg), providerDefaults(cfg))
		if err != nil {
			return fmt.Errorf("failed to create vision provider: %w", err)
		}
		extractor = extract.NewVisionLLM(visionProvider, log)
	}

	mapper := synthesis.NewWithOptions(mappingProvider, retry.DefaultPolicy(), cfg.RetrievalK, log)
	pipe := pipeline.New(extractor, mapper, records, cfg.MaxConcurrency, log)

	job := pipe.NewJob(chunks)
	job.Feedback = feedback

	jobLog := logger.WithInvoice(job.ID)
	jobLog.Info().Int("images", len(chunks)).Msg("Processing invoice")
	processErr := pipe.Process(ctx, job)

	out := processOutput{
		JobID:  job.ID,
		Status: job.Status,
		Items:  job.Items,
		Error:  job.Err,
	}
	if err := writeJSON(out, outputPath); err != nil {
		return err
	}
	if processErr != nil {
		return fmt.Errorf("invoice processing failed: %w", processErr)
	}
	return nil
}

func loadFeedback(path string) (*models.FeedbackSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read feedback file: %w", err)
	}
	var feedback models.FeedbackSet
	if err := json.Unmarshal(data, &feedback); err != nil {
		return nil, fmt.Errorf("failed to parse feedback file: %w", err)
	}
	return &feedback, nil
}

func writeJSON(v any, outputPath string) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	if outputPath == "" {
		fmt.Println(string(data))
		return nil
	}
	if err := os.WriteFile(outputPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	return nil
}
