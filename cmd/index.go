package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/spf13/cobra"

	"invoicemap/internal/catalog"
	"invoicemap/internal/config"
	"invoicemap/internal/indexer"
	"invoicemap/internal/logger"
	"invoicemap/internal/provider"
)

var indexCmd = &cobra.Command{
	Use:   "index [catalog-csv]",
	Short: "Embed the product catalog for invoice mapping",
	Long: `Read a product catalog CSV, compute an embedding for every record, and
save the indexed catalog as a JSON snapshot for 'invoicemap process'.

The CSV needs id and name columns; local_name, unit, and category are
recognized when present, and every other column is kept as metadata.
Indexing is incremental: when the snapshot already exists, records embedded
on a previous run are reused and only new records hit the API.`,
	Example: `  # Index a catalog with the configured provider
  invoicemap index catalog.csv --snapshot catalog.index.json

  # Re-index after adding products; existing embeddings are reused
  invoicemap index catalog.csv --snapshot catalog.index.json`,
	Args: cobra.ExactArgs(1),
	RunE: runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)

	indexCmd.Flags().StringP("snapshot", "s", "catalog.index.json", "Path of the indexed catalog snapshot")
	indexCmd.Flags().Int("timeout", 1800, "Indexing timeout in seconds")
}

func runIndex(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("index")

	snapshotPath, _ := cmd.Flags().GetString("snapshot")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")
	catalogPath := args[0]

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	p, err := provider.New(providerConfig(cfg), providerDefaults(cfg))
	if err != nil {
		return fmt.Errorf("failed to create provider: %w", err)
	}

	file, err := os.Open(catalogPath)
	if err != nil {
		return fmt.Errorf("failed to open catalog file: %w", err)
	}
	defer file.Close()

	records, err := catalog.NewReader().Read(file)
	if err != nil {
		return fmt.Errorf("failed to read catalog: %w", err)
	}
	if len(records) == 0 {
		return fmt.Errorf("catalog %s contains no usable records", catalogPath)
	}

	// Reuse embeddings from a previous snapshot when one exists.
	if previous, err := catalog.LoadSnapshot(snapshotPath); err == nil {
		records = catalog.Merge(records, previous)
		log.Info().
			Str("snapshot", snapshotPath).
			Int("previous_records", len(previous)).
			Msg("Reusing embeddings from existing snapshot")
	} else if !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Str("snapshot", snapshotPath).Msg("Ignoring unreadable snapshot")
	}

	ctx, cancel := signalContext(time.Duration(timeoutSecs)*time.Second, log)
	defer cancel()

	stats, err := indexer.New(p, log).Index(ctx, records, func(processed, total int) {
		log.Info().Int("processed", processed).Int("total", total).Msg("Indexing progress")
	})
	if err != nil {
		// Persist whatever was embedded so the next run resumes.
		if saveErr := catalog.SaveSnapshot(snapshotPath, records); saveErr != nil {
			log.Warn().Err(saveErr).Msg("Failed to save partial snapshot")
		}
		return fmt.Errorf("indexing failed: %w", err)
	}

	if err := catalog.SaveSnapshot(snapshotPath, records); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	fmt.Printf("Indexed %d records (%d embedded, %d skipped, %d failed) -> %s\n",
		stats.Total, stats.Embedded, stats.Skipped, stats.Failed, snapshotPath)
	return nil
}
