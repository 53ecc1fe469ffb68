package models

import "strings"

// ProductRecord is one entry of the reference catalog that extracted invoice
// lines are mapped against. The Metadata map carries whatever extra columns
// the catalog file happened to have; keys vary per catalog.
type ProductRecord struct {
	// ID is the stable catalog key. Uniqueness is assumed but not enforced
	// by the pipeline; duplicate IDs make later lookups ambiguous.
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	LocalName string            `json:"local_name,omitempty"`
	Unit      string            `json:"unit,omitempty"`
	Category  string            `json:"category,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`

	// Embedding is filled in by the indexer; nil until indexed.
	Embedding []float64 `json:"embedding,omitempty"`
}

// HasEmbedding reports whether the record has been indexed.
func (p *ProductRecord) HasEmbedding() bool {
	return len(p.Embedding) > 0
}

// EmbeddingText builds the text the record is embedded under: name, local
// name, category, and all metadata values. Returns "" for records with no
// usable text (those are skipped by the indexer).
func (p *ProductRecord) EmbeddingText() string {
	parts := make([]string, 0, 3+len(p.Metadata))
	for _, s := range []string{p.Name, p.LocalName, p.Category} {
		if strings.TrimSpace(s) != "" {
			parts = append(parts, strings.TrimSpace(s))
		}
	}
	for _, v := range p.Metadata {
		if strings.TrimSpace(v) != "" {
			parts = append(parts, strings.TrimSpace(v))
		}
	}
	return strings.Join(parts, " ")
}

// RawLineItem is one line extracted from an invoice photograph, before any
// catalog mapping. Created fresh per extraction call and never mutated.
type RawLineItem struct {
	// RawName is the verbatim extracted text, untranslated.
	RawName string `json:"raw_name"`

	// RawQuantity defaults to 1 when the extracted cell is unparseable.
	RawQuantity float64 `json:"raw_quantity"`

	// RawPrice is the numeric total for the line; 0 when unparseable.
	RawPrice float64 `json:"raw_price"`
}

// UnitPrice derives the per-unit price for adjudication prompts. Falls back
// to the raw total when the quantity is zero.
func (r RawLineItem) UnitPrice() float64 {
	if r.RawQuantity == 0 {
		return r.RawPrice
	}
	return r.RawPrice / r.RawQuantity
}

// MappedInvoiceItem is the terminal, externally visible record: a raw line
// item plus the adjudicated catalog match (or nil for no match).
type MappedInvoiceItem struct {
	RawLineItem

	// MatchedProductID points into the catalog; nil when no candidate
	// cleared the validation rules.
	MatchedProductID *string `json:"matched_product_id"`

	// Reasoning is the model's short justification for the decision.
	Reasoning string `json:"reasoning,omitempty"`

	// Candidates are the retrieved catalog records, best first, retained
	// for audit and feedback-driven retries.
	Candidates []ProductRecord `json:"candidates,omitempty"`
}

// ImageChunk is one encoded slice of a (possibly multi-part) invoice
// photograph. Chunks are produced by the external shell; the core never
// performs image geometry itself.
type ImageChunk struct {
	Data     []byte
	MIMEType string
}

// ExtractionFeedback flags a previously extracted line the operator marked
// as misread, biasing the next extraction pass.
type ExtractionFeedback struct {
	RawName  string  `json:"raw_name"`
	RawPrice float64 `json:"raw_price"`
}

// MappingFeedback flags a previously produced mapping the operator marked as
// wrong, biasing the next synthesis pass away from the same choice.
type MappingFeedback struct {
	RawName         string `json:"raw_name"`
	PreviousMatchID string `json:"previous_match_id"`
}

// FeedbackSet is the correction signal from a prior pipeline run, supplied
// on re-submission of a completed or failed invoice.
type FeedbackSet struct {
	Extraction []ExtractionFeedback `json:"extraction,omitempty"`
	Mapping    []MappingFeedback    `json:"mapping,omitempty"`
}

// Empty reports whether the set carries no correction signal at all.
func (f *FeedbackSet) Empty() bool {
	return f == nil || (len(f.Extraction) == 0 && len(f.Mapping) == 0)
}
