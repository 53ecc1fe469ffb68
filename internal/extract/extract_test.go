package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoicemap/internal/provider"
	"invoicemap/internal/retry"
	"invoicemap/pkg/models"
)

func TestParseMarkdownTable(t *testing.T) {
	response := strings.Join([]string{
		"Here are the extracted items:",
		"",
		"| Item | Quantity | Total Price |",
		"| --- | --- | --- |",
		"| Mango 250g | 3 | 150 |",
		"| کلمبو کڑی | 2 | Rs. 1,500/- |",
		"| Item | N/A | 80 |",
	}, "\n")

	items := parseLineItems(response)

	require.Len(t, items, 3)
	assert.Equal(t, models.RawLineItem{RawName: "Mango 250g", RawQuantity: 3, RawPrice: 150}, items[0])
	assert.Equal(t, models.RawLineItem{RawName: "کلمبو کڑی", RawQuantity: 2, RawPrice: 1500}, items[1])
	assert.Equal(t, models.RawLineItem{RawName: "Item", RawQuantity: 1, RawPrice: 80}, items[2])
}

func TestParseMarkdownTableHeaderOnly(t *testing.T) {
	response := "| Item | Quantity | Total Price |\n| --- | --- | --- |"
	assert.Empty(t, parseLineItems(response))
}

func TestParseMarkdownTableUnreadableCellsGetDefaults(t *testing.T) {
	response := strings.Join([]string{
		"| Item | Quantity | Total Price |",
		"| --- | --- | --- |",
		"| Salt | unreadable | smudged |",
		"| Mango 250g | 3 | 150 |",
	}, "\n")

	items := parseLineItems(response)

	require.Len(t, items, 2)
	assert.Equal(t, models.RawLineItem{RawName: "Salt", RawQuantity: 1, RawPrice: 0}, items[0])
	assert.Equal(t, models.RawLineItem{RawName: "Mango 250g", RawQuantity: 3, RawPrice: 150}, items[1])
}

func TestParseMarkdownTableIgnoresPipeRowsBeforeSeparator(t *testing.T) {
	response := strings.Join([]string{
		"Shop receipt | scanned 2024 | page 1",
		"| Item | Quantity | Total Price |",
		"| --- | --- | --- |",
		"| Mango 250g | 3 | 150 |",
	}, "\n")

	items := parseLineItems(response)

	require.Len(t, items, 1)
	assert.Equal(t, "Mango 250g", items[0].RawName)
}

func TestParseMarkdownTableWithoutSeparator(t *testing.T) {
	response := strings.Join([]string{
		"| Item | Quantity | Total Price |",
		"| Mango 250g | 3 | 150 |",
	}, "\n")

	items := parseLineItems(response)

	require.Len(t, items, 1)
	assert.Equal(t, models.RawLineItem{RawName: "Mango 250g", RawQuantity: 3, RawPrice: 150}, items[0])
}

func TestParseJSONVariant(t *testing.T) {
	response := "```json\n{\"items\": [" +
		"{\"name\": \"Basmati Rice\", \"quantity\": 2, \"price\": 900}," +
		"{\"raw_name\": \"Cooking Oil\", \"quantity\": \"1\", \"total\": \"450.50\"}" +
		"]}\n```"

	items := parseLineItems(response)

	require.Len(t, items, 2)
	assert.Equal(t, models.RawLineItem{RawName: "Basmati Rice", RawQuantity: 2, RawPrice: 900}, items[0])
	assert.Equal(t, models.RawLineItem{RawName: "Cooking Oil", RawQuantity: 1, RawPrice: 450.50}, items[1])
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		cell     string
		fallback float64
		want     float64
	}{
		{"3", 1, 3},
		{"2.5kg", 1, 2.5},
		{"Rs. 1,500/-", 0, 1500},
		{"N/A", 1, 1},
		{"", 0, 0},
		{"-", 1, 1},
		{"1,234.56", 0, 1234.56},
		{"approx 12 pcs", 1, 12},
	}
	for _, tt := range tests {
		t.Run(tt.cell, func(t *testing.T) {
			assert.Equal(t, tt.want, parseNumber(tt.cell, tt.fallback))
		})
	}
}

func TestBuildVocabularyScoring(t *testing.T) {
	records := []models.ProductRecord{
		{Name: "Plain"},
		{Name: "With Local", LocalName: "مقامی"},
		{Name: "With Meta", Metadata: map[string]string{"Brand": "X"}},
		{Name: "A much longer plain product name than the others"},
	}

	vocab := buildVocabulary(records, 0)

	require.Len(t, vocab, 4)
	// Long name (score 48) beats local-name bonus (score 30).
	assert.Equal(t, "A much longer plain product name than the others", vocab[0])
	assert.Equal(t, "With Local (مقامی)", vocab[1])
	assert.Equal(t, "With Meta", vocab[2])
	assert.Equal(t, "Plain", vocab[3])
}

func TestBuildVocabularyLimit(t *testing.T) {
	var records []models.ProductRecord
	for i := 0; i < 300; i++ {
		records = append(records, models.ProductRecord{Name: fmt.Sprintf("Product %03d", i)})
	}
	assert.Len(t, buildVocabulary(records, 0), vocabularyLimit)
}

type stubVision struct {
	mu        sync.Mutex
	responses []string
	prompts   []string
	err       error
}

func (s *stubVision) Name() string                        { return "stub" }
func (s *stubVision) Capabilities() provider.Capabilities { return provider.Capabilities{} }

func (s *stubVision) CompleteVision(ctx context.Context, images []models.ImageChunk, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, prompt)
	if s.err != nil {
		return "", s.err
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func (s *stubVision) Embed(ctx context.Context, text string) ([]float64, error) {
	return nil, errors.New("not used")
}

func noRetry() retry.Policy {
	p := retry.DefaultPolicy()
	p.MaxAttempts = 1
	return p
}

func TestVisionLLMExtractConcatenatesChunksInOrder(t *testing.T) {
	stub := &stubVision{responses: []string{
		"| Item | Qty | Price |\n| --- | --- | --- |\n| First 1kg | 1 | 100 |",
		"| Item | Qty | Price |\n| --- | --- | --- |\n| Second 2kg | 2 | 200 |",
	}}
	extractor := NewVisionLLMWithPolicy(stub, noRetry(), zerolog.Nop())

	chunks := []models.ImageChunk{
		{Data: []byte("top"), MIMEType: "image/jpeg"},
		{Data: []byte("bottom"), MIMEType: "image/jpeg"},
	}
	items, err := extractor.Extract(context.Background(), chunks, Options{})

	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "First 1kg", items[0].RawName)
	assert.Equal(t, "Second 2kg", items[1].RawName)
}

func TestVisionLLMExtractNoChunks(t *testing.T) {
	extractor := NewVisionLLMWithPolicy(&stubVision{}, noRetry(), zerolog.Nop())
	_, err := extractor.Extract(context.Background(), nil, Options{})
	assert.ErrorIs(t, err, ErrNoImages)
}

func TestVisionLLMExtractEmptyInvoiceIsNotAnError(t *testing.T) {
	stub := &stubVision{responses: []string{"| Item | Qty | Price |\n| --- | --- | --- |"}}
	extractor := NewVisionLLMWithPolicy(stub, noRetry(), zerolog.Nop())

	items, err := extractor.Extract(context.Background(), []models.ImageChunk{{Data: []byte("x")}}, Options{})

	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestVisionLLMExtractPromptIncludesVocabularyAndFeedback(t *testing.T) {
	stub := &stubVision{responses: []string{"| Item | Qty | Price |\n| --- | --- | --- |"}}
	extractor := NewVisionLLMWithPolicy(stub, noRetry(), zerolog.Nop())

	opts := Options{
		Catalog: []models.ProductRecord{{Name: "Dried Shrimp", LocalName: "کلمبو کڑی"}},
		Feedback: []models.ExtractionFeedback{
			{RawName: "Dry Shrimp", RawPrice: 120},
		},
	}
	_, err := extractor.Extract(context.Background(), []models.ImageChunk{{Data: []byte("x")}}, opts)

	require.NoError(t, err)
	require.Len(t, stub.prompts, 1)
	assert.Contains(t, stub.prompts[0], "Dried Shrimp (کلمبو کڑی)")
	assert.Contains(t, stub.prompts[0], `"Dry Shrimp"`)
	assert.Contains(t, stub.prompts[0], "marked as incorrectly read")
}

func TestVisionLLMExtractProviderFailure(t *testing.T) {
	stub := &stubVision{err: errors.New("invalid request")}
	extractor := NewVisionLLMWithPolicy(stub, noRetry(), zerolog.Nop())

	_, err := extractor.Extract(context.Background(), []models.ImageChunk{{Data: []byte("x")}}, Options{})

	require.Error(t, err)
	var exErr *ExtractionError
	assert.ErrorAs(t, err, &exErr)
}
