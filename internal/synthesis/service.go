// Package synthesis maps extracted line items onto catalog products. Each
// item is embedded and matched against the indexed catalog for candidates,
// then a text model adjudicates the candidates in chunks, with strict
// validation rules and null as the honest answer for no-match.
package synthesis

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"invoicemap/internal/jsonx"
	"invoicemap/internal/provider"
	"invoicemap/internal/retriever"
	"invoicemap/internal/retry"
	"invoicemap/pkg/models"
)

// workItem is one line item moving through the synthesis phase.
type workItem struct {
	item       models.RawLineItem
	candidates []models.ProductRecord
}

// Service runs the candidate retrieval and adjudication steps.
type Service struct {
	provider provider.Provider
	policy   retry.Policy
	k        int
	log      zerolog.Logger
}

// New creates a synthesis service with the default retry policy and
// retrieval depth.
func New(p provider.Provider, log zerolog.Logger) *Service {
	return &Service{
		provider: p,
		policy:   retry.DefaultPolicy(),
		k:        retriever.DefaultK,
		log:      log,
	}
}

// NewWithOptions creates a synthesis service with explicit policy and
// retrieval depth. Tests use this to disable backoff.
func NewWithOptions(p provider.Provider, policy retry.Policy, k int, log zerolog.Logger) *Service {
	if k <= 0 {
		k = retriever.DefaultK
	}
	return &Service{provider: p, policy: policy, k: k, log: log}
}

// Map resolves each raw line item to a catalog product or nil. Items whose
// embedding fails or that retrieve no candidates come back unmatched rather
// than failing the invoice. The returned slice is ordered like the input.
func (s *Service) Map(ctx context.Context, items []models.RawLineItem, catalog []models.ProductRecord, feedback []models.MappingFeedback) ([]models.MappedInvoiceItem, error) {
	const op = "Map"

	if len(items) == 0 {
		return []models.MappedInvoiceItem{}, nil
	}

	work := s.retrieveCandidates(ctx, items, catalog)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	results := make([]models.MappedInvoiceItem, len(work))
	var withCandidates []int
	for i, w := range work {
		results[i] = models.MappedInvoiceItem{
			RawLineItem: w.item,
			Candidates:  w.candidates,
		}
		if len(w.candidates) > 0 {
			withCandidates = append(withCandidates, i)
		} else {
			results[i].Reasoning = "no catalog candidates retrieved"
		}
	}

	if len(withCandidates) == 0 {
		s.log.Info().Int("items", len(items)).Msg("No items had catalog candidates, skipping adjudication")
		return results, nil
	}

	if err := s.adjudicate(ctx, work, withCandidates, results, feedback); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	matched := 0
	for _, r := range results {
		if r.MatchedProductID != nil {
			matched++
		}
	}
	s.log.Info().
		Int("items", len(items)).
		Int("matched", matched).
		Msg("Synthesis completed")
	return results, nil
}

// retrieveCandidates embeds every item concurrently and runs the k-NN lookup.
// A failed embedding logs a warning and leaves the item candidate-less.
func (s *Service) retrieveCandidates(ctx context.Context, items []models.RawLineItem, catalog []models.ProductRecord) []workItem {
	work := make([]workItem, len(items))
	var wg sync.WaitGroup
	for i, item := range items {
		i, item := i, item
		work[i].item = item
		wg.Add(1)
		go func() {
			defer wg.Done()
			vec, err := retry.DoValue(ctx, s.policy, s.log, "Embed", func(ctx context.Context) ([]float64, error) {
				return s.provider.Embed(ctx, item.RawName)
			})
			if err != nil {
				s.log.Warn().
					Err(err).
					Str("raw_name", item.RawName).
					Msg("Failed to embed line item, leaving unmatched")
				return
			}
			work[i].candidates = retriever.Nearest(vec, catalog, s.k)
		}()
	}
	wg.Wait()
	return work
}

// mappingDecision is one entry of the model's adjudication response. Some
// models volunteer a confidence score instead of (or besides) reasoning.
type mappingDecision struct {
	RawName          string   `json:"raw_name"`
	MatchedProductID *string  `json:"matched_product_id"`
	Reasoning        string   `json:"reasoning"`
	Confidence       *float64 `json:"confidence_score"`
}

// adjudicate sends the candidate-bearing items to the model in chunks sized
// by the provider's capabilities and applies the decisions onto results.
func (s *Service) adjudicate(ctx context.Context, work []workItem, indices []int, results []models.MappedInvoiceItem, feedback []models.MappingFeedback) error {
	caps := s.provider.Capabilities()
	chunkSize := caps.SynthesisChunkSize
	if chunkSize < 1 {
		chunkSize = len(indices)
	}

	var chunks [][]int
	for start := 0; start < len(indices); start += chunkSize {
		end := start + chunkSize
		if end > len(indices) {
			end = len(indices)
		}
		chunks = append(chunks, indices[start:end])
	}

	runChunk := func(chunk []int) error {
		chunkWork := make([]workItem, len(chunk))
		for j, idx := range chunk {
			chunkWork[j] = work[idx]
		}
		prompt := buildMappingPrompt(chunkWork, feedback)

		response, err := retry.DoValue(ctx, s.policy, s.log, "CompleteVision", func(ctx context.Context) (string, error) {
			return s.provider.CompleteVision(ctx, nil, prompt)
		})
		if err != nil {
			return err
		}
		s.applyDecisions(response, chunk, results)
		return nil
	}

	if caps.ParallelSynthesis && len(chunks) > 1 {
		var wg sync.WaitGroup
		errs := make([]error, len(chunks))
		for i, chunk := range chunks {
			i, chunk := i, chunk
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs[i] = runChunk(chunk)
			}()
		}
		wg.Wait()
		for _, err := range errs {
			if err != nil {
				return err
			}
		}
		return nil
	}

	for _, chunk := range chunks {
		if err := runChunk(chunk); err != nil {
			return err
		}
	}
	return nil
}

// applyDecisions merges one chunk's model response onto the results. Each
// decision is consumed at most once, keyed by raw_name, so duplicate item
// names pair up with duplicate decisions in order. A malformed response
// leaves the whole chunk unmatched instead of failing the invoice.
func (s *Service) applyDecisions(response string, chunk []int, results []models.MappedInvoiceItem) {
	var out struct {
		Mappings []mappingDecision `json:"mappings"`
	}
	if err := jsonx.Decode(response, &out); err != nil {
		s.log.Warn().
			Err(err).
			Int("chunk_items", len(chunk)).
			Msg("Unparseable adjudication response, leaving chunk unmatched")
		return
	}

	byName := make(map[string][]mappingDecision)
	for _, d := range out.Mappings {
		byName[d.RawName] = append(byName[d.RawName], d)
	}

	for _, idx := range chunk {
		queue := byName[results[idx].RawName]
		if len(queue) == 0 {
			continue
		}
		decision := queue[0]
		byName[results[idx].RawName] = queue[1:]

		reasoning := decision.Reasoning
		if reasoning == "" && decision.Confidence != nil {
			reasoning = fmt.Sprintf("confidence %.2f", *decision.Confidence)
		}
		results[idx].Reasoning = reasoning

		if decision.MatchedProductID == nil || *decision.MatchedProductID == "" {
			continue
		}
		// Guard against hallucinated IDs: the match must come from the
		// item's own candidate set.
		if !hasCandidate(results[idx].Candidates, *decision.MatchedProductID) {
			s.log.Warn().
				Str("raw_name", results[idx].RawName).
				Str("product_id", *decision.MatchedProductID).
				Msg("Model returned a product ID outside the candidate set, discarding")
			continue
		}
		id := *decision.MatchedProductID
		results[idx].MatchedProductID = &id
	}
}

func hasCandidate(candidates []models.ProductRecord, id string) bool {
	for _, c := range candidates {
		if c.ID == id {
			return true
		}
	}
	return false
}
