package synthesis

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"invoicemap/pkg/models"
)

// candidateView is the candidate shape sent to the model. Metadata keys are
// the union across the chunk's candidates so absent values show up as
// explicit empty strings instead of silently missing fields.
type candidateView struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	LocalName string            `json:"local_name,omitempty"`
	Unit      string            `json:"unit,omitempty"`
	Category  string            `json:"category,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type itemView struct {
	RawName    string          `json:"raw_name"`
	Quantity   float64         `json:"quantity"`
	TotalPrice float64         `json:"total_price"`
	UnitPrice  float64         `json:"unit_price"`
	Candidates []candidateView `json:"candidates"`
}

// buildMappingPrompt assembles the adjudication prompt for one chunk of
// items, each with its retrieved candidates, plus any operator corrections
// from a previous run.
func buildMappingPrompt(items []workItem, feedback []models.MappingFeedback) string {
	var prompt strings.Builder

	prompt.WriteString("You are matching extracted invoice line items against a product catalog.\n")
	prompt.WriteString("For each item below, decide which candidate product it refers to, or that none of them match.\n\n")
	prompt.WriteString("Rules:\n")
	prompt.WriteString("- Embedding similarity already selected the candidates; your job is validation, not ranking. A candidate being listed is NOT evidence that it matches.\n")
	prompt.WriteString("- Reject a candidate if any component of the item name contradicts it. A brand, variety, or origin word in the item name that the candidate does not carry is a contradiction, even when other metadata agrees.\n")
	prompt.WriteString("- Check each metadata field independently. Matching origin does not excuse a mismatched brand.\n")
	prompt.WriteString("- Use the unit price as a signal: a large deviation from what the candidate product plausibly costs counts against the match.\n")
	prompt.WriteString("- Item names may be in a local language or transliterated; match against local_name as well as name.\n")
	prompt.WriteString("- When no candidate survives, return null. A null with a short reason is always better than a wrong match.\n\n")

	if len(feedback) > 0 {
		prompt.WriteString("Corrections from a previous run. These mappings were marked wrong by the operator; do not repeat them:\n")
		for _, f := range feedback {
			fmt.Fprintf(&prompt, "- %q was previously mapped to product %q and that was incorrect\n", f.RawName, f.PreviousMatchID)
		}
		prompt.WriteString("\n")
	}

	prompt.WriteString("Items:\n")
	prompt.WriteString(renderItems(items))

	prompt.WriteString("\n\nRespond with ONLY a JSON object in this exact format:\n")
	prompt.WriteString(`{"mappings": [{"raw_name": "<item raw_name>", "matched_product_id": "<candidate id or null>", "reasoning": "<one short sentence>"}]}`)
	prompt.WriteString("\nReturn one mapping per item, in the same order as the items above.")

	return prompt.String()
}

func renderItems(items []workItem) string {
	keys := metadataKeyUnion(items)

	views := make([]itemView, len(items))
	for i, it := range items {
		cands := make([]candidateView, len(it.candidates))
		for j, c := range it.candidates {
			view := candidateView{
				ID:        c.ID,
				Name:      c.Name,
				LocalName: c.LocalName,
				Unit:      c.Unit,
				Category:  c.Category,
			}
			if len(keys) > 0 {
				view.Metadata = make(map[string]string, len(keys))
				for _, k := range keys {
					view.Metadata[k] = c.Metadata[k]
				}
			}
			cands[j] = view
		}
		views[i] = itemView{
			RawName:    it.item.RawName,
			Quantity:   it.item.RawQuantity,
			TotalPrice: it.item.RawPrice,
			UnitPrice:  it.item.UnitPrice(),
			Candidates: cands,
		}
	}

	rendered, err := json.MarshalIndent(views, "", "  ")
	if err != nil {
		return "[]"
	}
	return string(rendered)
}

// metadataKeyUnion collects every metadata key any candidate in the chunk
// carries. Computed per call because catalogs have open-ended columns.
func metadataKeyUnion(items []workItem) []string {
	seen := make(map[string]bool)
	for _, it := range items {
		for _, c := range it.candidates {
			for k := range c.Metadata {
				seen[k] = true
			}
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
