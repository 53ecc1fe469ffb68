// Package indexer computes and stores embedding vectors for catalog records.
// Indexing is incremental: records that already carry an embedding are never
// re-sent, so re-running over a grown catalog only pays for the new rows.
package indexer

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"invoicemap/internal/provider"
	"invoicemap/internal/retry"
	"invoicemap/pkg/models"
)

// Stats summarizes one indexing run.
type Stats struct {
	Total    int
	Embedded int
	Skipped  int
	Failed   int
}

// ProgressFunc receives (processed, total) after each batch.
type ProgressFunc func(processed, total int)

// Indexer embeds catalog records through a provider, batching and pacing
// according to that provider's capabilities.
type Indexer struct {
	provider provider.Provider
	policy   retry.Policy
	sleep    func(ctx context.Context, d time.Duration) error
	log      zerolog.Logger
}

// New creates an indexer over the given provider with the default retry
// policy.
func New(p provider.Provider, log zerolog.Logger) *Indexer {
	return NewWithPolicy(p, retry.DefaultPolicy(), log)
}

// NewWithPolicy creates an indexer with an explicit retry policy. Tests use
// this to inject sleep recorders.
func NewWithPolicy(p provider.Provider, policy retry.Policy, log zerolog.Logger) *Indexer {
	sleep := policy.Sleep
	if sleep == nil {
		sleep = func(ctx context.Context, d time.Duration) error {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-timer.C:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return &Indexer{provider: p, policy: policy, sleep: sleep, log: log}
}

// Index fills in missing embeddings on records in place. Records already
// embedded or with nothing to embed are skipped without any remote call; a
// batch consisting entirely of such records also skips the inter-batch
// delay. Individual embedding failures are logged and left unembedded — a
// partial index is still usable, and the next run retries the gaps.
func (ix *Indexer) Index(ctx context.Context, records []models.ProductRecord, onProgress ProgressFunc) (Stats, error) {
	caps := ix.provider.Capabilities()
	batchSize := caps.EmbedBatchSize
	if batchSize < 1 {
		batchSize = 1
	}

	stats := Stats{Total: len(records)}
	ix.log.Info().
		Str("provider", ix.provider.Name()).
		Int("records", len(records)).
		Int("batch_size", batchSize).
		Msg("Starting catalog indexing")

	for start := 0; start < len(records); start += batchSize {
		end := start + batchSize
		if end > len(records) {
			end = len(records)
		}

		called := ix.indexBatch(ctx, records[start:end], &stats)
		if onProgress != nil {
			onProgress(end, len(records))
		}

		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		// Pacing only matters between batches that actually hit the API.
		if called && end < len(records) && caps.EmbedBatchDelay > 0 {
			if err := ix.sleep(ctx, caps.EmbedBatchDelay); err != nil {
				return stats, err
			}
		}
	}

	ix.log.Info().
		Int("embedded", stats.Embedded).
		Int("skipped", stats.Skipped).
		Int("failed", stats.Failed).
		Msg("Catalog indexing finished")
	return stats, nil
}

// indexBatch embeds the pending records of one batch, concurrently when the
// batch size allows it. Returns whether any remote call was made.
func (ix *Indexer) indexBatch(ctx context.Context, batch []models.ProductRecord, stats *Stats) bool {
	var pending []int
	for i := range batch {
		if batch[i].HasEmbedding() || batch[i].EmbeddingText() == "" {
			stats.Skipped++
			continue
		}
		pending = append(pending, i)
	}
	if len(pending) == 0 {
		return false
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, i := range pending {
		i := i
		embedOne := func() {
			vec, err := retry.DoValue(ctx, ix.policy, ix.log, "Embed", func(ctx context.Context) ([]float64, error) {
				return ix.provider.Embed(ctx, batch[i].EmbeddingText())
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				stats.Failed++
				ix.log.Warn().
					Err(err).
					Str("product_id", batch[i].ID).
					Msg("Failed to embed catalog record, leaving for next run")
				return
			}
			batch[i].Embedding = vec
			stats.Embedded++
		}

		if len(pending) > 1 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				embedOne()
			}()
		} else {
			embedOne()
		}
	}
	wg.Wait()
	return true
}
