package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnitPrice(t *testing.T) {
	assert.Equal(t, 50.0, RawLineItem{RawQuantity: 3, RawPrice: 150}.UnitPrice())
	// Unparseable quantities default to zero upstream; the raw total is the
	// best unit-price estimate left.
	assert.Equal(t, 80.0, RawLineItem{RawQuantity: 0, RawPrice: 80}.UnitPrice())
}

func TestEmbeddingText(t *testing.T) {
	rec := ProductRecord{
		Name:      "Dried Shrimp",
		LocalName: "کلمبو کڑی",
		Category:  "Seafood",
		Metadata:  map[string]string{"Brand": "SeaKing", "Empty": " "},
	}
	text := rec.EmbeddingText()
	assert.Contains(t, text, "Dried Shrimp")
	assert.Contains(t, text, "کلمبو کڑی")
	assert.Contains(t, text, "Seafood")
	assert.Contains(t, text, "SeaKing")

	assert.Empty(t, (&ProductRecord{ID: "P1"}).EmbeddingText())
}

func TestFeedbackSetEmpty(t *testing.T) {
	var nilSet *FeedbackSet
	assert.True(t, nilSet.Empty())
	assert.True(t, (&FeedbackSet{}).Empty())
	assert.False(t, (&FeedbackSet{Mapping: []MappingFeedback{{RawName: "x"}}}).Empty())
}
