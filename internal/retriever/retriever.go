// Package retriever performs vector nearest-neighbor lookup over the
// in-process catalog. The catalog is read-mostly once indexing completes, so
// no locking is needed here.
package retriever

import (
	"math"
	"sort"

	"invoicemap/pkg/models"
)

// DefaultK is the candidate count fetched per raw item.
const DefaultK = 5

// Nearest returns the catalog's k nearest records to the query vector by
// cosine similarity, best first. Similarity scores are not surfaced.
//
// Records without an embedding are ignored. An empty query vector (e.g. the
// query embedding call failed upstream) or a catalog with no embedded
// records yields an empty result; this is a soft degradation, not an error.
func Nearest(query []float64, records []models.ProductRecord, k int) []models.ProductRecord {
	if len(query) == 0 || k <= 0 {
		return nil
	}

	type scored struct {
		record     models.ProductRecord
		similarity float64
	}

	candidates := make([]scored, 0, len(records))
	for _, record := range records {
		if !record.HasEmbedding() || len(record.Embedding) != len(query) {
			continue
		}
		candidates = append(candidates, scored{
			record:     record,
			similarity: cosineSimilarity(query, record.Embedding),
		})
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].similarity > candidates[j].similarity
	})

	if k > len(candidates) {
		k = len(candidates)
	}
	result := make([]models.ProductRecord, k)
	for i := 0; i < k; i++ {
		result[i] = candidates[i].record
	}
	return result
}

// cosineSimilarity computes dot(a,b) / (|a| * |b|). Zero-magnitude vectors
// yield 0.
func cosineSimilarity(a, b []float64) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
