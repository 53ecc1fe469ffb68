package extract

import (
	"sort"
	"strings"

	"invoicemap/pkg/models"
)

// vocabularyLimit caps how many catalog terms go into the extraction prompt.
// Past this size the hint stops helping and starts crowding out the image.
const vocabularyLimit = 200

// buildVocabulary selects the catalog terms most worth spelling out for the
// model. Records with a local-language name or extra metadata are the ones
// OCR most often garbles, so they score highest; among plain records, longer
// names win.
func buildVocabulary(records []models.ProductRecord, limit int) []string {
	if limit <= 0 {
		limit = vocabularyLimit
	}

	type scored struct {
		term  string
		score int
	}
	terms := make([]scored, 0, len(records))
	for _, rec := range records {
		if rec.Name == "" {
			continue
		}
		score := len(rec.Name)
		if rec.LocalName != "" {
			score += 20
		}
		if len(rec.Metadata) > 0 {
			score += 10
		}
		term := rec.Name
		if rec.LocalName != "" {
			term = rec.Name + " (" + rec.LocalName + ")"
		}
		terms = append(terms, scored{term: term, score: score})
	}

	sort.SliceStable(terms, func(i, j int) bool {
		return terms[i].score > terms[j].score
	})
	if len(terms) > limit {
		terms = terms[:limit]
	}

	out := make([]string, len(terms))
	for i, t := range terms {
		out[i] = strings.TrimSpace(t.term)
	}
	return out
}
