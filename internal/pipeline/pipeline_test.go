package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoicemap/internal/extract"
	"invoicemap/internal/provider"
	"invoicemap/internal/retry"
	"invoicemap/internal/synthesis"
	"invoicemap/pkg/models"
)

type stubExtractor struct {
	mu    sync.Mutex
	items []models.RawLineItem
	err   error
	opts  []extract.Options
	delay time.Duration
}

func (s *stubExtractor) Extract(ctx context.Context, chunks []models.ImageChunk, opts extract.Options) ([]models.RawLineItem, error) {
	s.mu.Lock()
	s.opts = append(s.opts, opts)
	s.mu.Unlock()
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return s.items, s.err
}

type stubMapper struct {
	mu       sync.Mutex
	mapped   []models.MappedInvoiceItem
	err      error
	calls    int
	feedback [][]models.MappingFeedback
}

func (s *stubMapper) Map(ctx context.Context, items []models.RawLineItem, catalog []models.ProductRecord, feedback []models.MappingFeedback) ([]models.MappedInvoiceItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.feedback = append(s.feedback, feedback)
	return s.mapped, s.err
}

func chunks() []models.ImageChunk {
	return []models.ImageChunk{{Data: []byte("img"), MIMEType: "image/jpeg"}}
}

func TestProcessCompletes(t *testing.T) {
	id := "P1"
	extractor := &stubExtractor{items: []models.RawLineItem{{RawName: "Tomato", RawQuantity: 2, RawPrice: 100}}}
	mapper := &stubMapper{mapped: []models.MappedInvoiceItem{{
		RawLineItem:      models.RawLineItem{RawName: "Tomato", RawQuantity: 2, RawPrice: 100},
		MatchedProductID: &id,
	}}}
	p := New(extractor, mapper, nil, 1, zerolog.Nop())

	job := p.NewJob(chunks())
	require.Equal(t, StatusPending, job.Status)

	err := p.Process(context.Background(), job)

	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, job.Status)
	require.Len(t, job.Items, 1)
	assert.Equal(t, "P1", *job.Items[0].MatchedProductID)
	assert.NotEmpty(t, job.ID)
}

func TestProcessEmptyExtractionCompletesWithoutSynthesis(t *testing.T) {
	extractor := &stubExtractor{items: nil}
	mapper := &stubMapper{}
	p := New(extractor, mapper, nil, 1, zerolog.Nop())

	job := p.NewJob(chunks())
	err := p.Process(context.Background(), job)

	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, job.Status)
	assert.NotNil(t, job.Items)
	assert.Empty(t, job.Items)
	assert.Equal(t, 0, mapper.calls)
}

func TestProcessExtractionFailure(t *testing.T) {
	extractor := &stubExtractor{err: errors.New("unreadable image")}
	p := New(extractor, &stubMapper{}, nil, 1, zerolog.Nop())

	job := p.NewJob(chunks())
	err := p.Process(context.Background(), job)

	require.Error(t, err)
	assert.Equal(t, StatusError, job.Status)
	assert.Contains(t, job.Err, "extraction failed")
	assert.Contains(t, job.Err, "unreadable image")
}

func TestProcessSynthesisFailure(t *testing.T) {
	extractor := &stubExtractor{items: []models.RawLineItem{{RawName: "Tomato"}}}
	mapper := &stubMapper{err: errors.New("provider exhausted")}
	p := New(extractor, mapper, nil, 1, zerolog.Nop())

	job := p.NewJob(chunks())
	err := p.Process(context.Background(), job)

	require.Error(t, err)
	assert.Equal(t, StatusError, job.Status)
	assert.Contains(t, job.Err, "synthesis failed")
}

func TestReprocessPassesFeedbackThrough(t *testing.T) {
	extractor := &stubExtractor{items: []models.RawLineItem{{RawName: "Tomato"}}}
	mapper := &stubMapper{}
	p := New(extractor, mapper, nil, 1, zerolog.Nop())

	job := p.NewJob(chunks())
	require.NoError(t, p.Process(context.Background(), job))

	feedback := &models.FeedbackSet{
		Extraction: []models.ExtractionFeedback{{RawName: "Tomate", RawPrice: 99}},
		Mapping:    []models.MappingFeedback{{RawName: "Tomato", PreviousMatchID: "P2"}},
	}
	require.NoError(t, p.Reprocess(context.Background(), job, feedback))

	require.Len(t, extractor.opts, 2)
	assert.Empty(t, extractor.opts[0].Feedback)
	assert.Equal(t, "Tomate", extractor.opts[1].Feedback[0].RawName)
	require.Len(t, mapper.feedback, 2)
	assert.Equal(t, "P2", mapper.feedback[1][0].PreviousMatchID)
}

func TestReprocessRejectsNonTerminalJob(t *testing.T) {
	p := New(&stubExtractor{}, &stubMapper{}, nil, 1, zerolog.Nop())
	job := p.NewJob(chunks())

	err := p.Reprocess(context.Background(), job, &models.FeedbackSet{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pending")
}

func TestProcessAllBoundsConcurrency(t *testing.T) {
	var inFlight, peak int64
	extractor := &stubExtractor{delay: 20 * time.Millisecond}
	mapper := &stubMapper{}

	// Wrap the extractor to observe concurrency.
	observer := extractorFunc(func(ctx context.Context, c []models.ImageChunk, o extract.Options) ([]models.RawLineItem, error) {
		cur := atomic.AddInt64(&inFlight, 1)
		for {
			old := atomic.LoadInt64(&peak)
			if cur <= old || atomic.CompareAndSwapInt64(&peak, old, cur) {
				break
			}
		}
		defer atomic.AddInt64(&inFlight, -1)
		return extractor.Extract(ctx, c, o)
	})

	p := New(observer, mapper, nil, 2, zerolog.Nop())
	jobs := make([]*Job, 6)
	for i := range jobs {
		jobs[i] = p.NewJob(chunks())
	}

	require.NoError(t, p.ProcessAll(context.Background(), jobs))

	assert.LessOrEqual(t, peak, int64(2))
	for _, job := range jobs {
		assert.Equal(t, StatusCompleted, job.Status)
	}
}

type extractorFunc func(ctx context.Context, chunks []models.ImageChunk, opts extract.Options) ([]models.RawLineItem, error)

func (f extractorFunc) Extract(ctx context.Context, chunks []models.ImageChunk, opts extract.Options) ([]models.RawLineItem, error) {
	return f(ctx, chunks, opts)
}

// brandStub drives the real synthesis service end to end: embeddings place
// the extracted item next to a different brand's product, and the
// adjudication response rejects it.
type brandStub struct{}

func (brandStub) Name() string { return "stub" }

func (brandStub) Capabilities() provider.Capabilities {
	return provider.Capabilities{SynthesisChunkSize: 10}
}

func (brandStub) CompleteVision(ctx context.Context, images []models.ImageChunk, prompt string) (string, error) {
	return `{"mappings": [{"raw_name": "Coke 500ml", "matched_product_id": null, "reasoning": "item brand Coke contradicts candidate brand Pepsi"}]}`, nil
}

func (brandStub) Embed(ctx context.Context, text string) ([]float64, error) {
	return []float64{0.9, 0.1, 0}, nil
}

func TestProcessRejectsBrandMismatchEndToEnd(t *testing.T) {
	catalog := []models.ProductRecord{
		{ID: "P1", Name: "Pepsi 500ml", Metadata: map[string]string{"Brand": "Pepsi"}, Embedding: []float64{1, 0, 0}},
		{ID: "P2", Name: "Tomato", Embedding: []float64{0, 1, 0}},
		{ID: "P3", Name: "Rice 5kg", Embedding: []float64{0, 0, 1}},
	}
	extractor := &stubExtractor{items: []models.RawLineItem{{RawName: "Coke 500ml", RawQuantity: 1, RawPrice: 80}}}

	policy := retry.DefaultPolicy()
	policy.MaxAttempts = 1
	mapper := synthesis.NewWithOptions(brandStub{}, policy, 2, zerolog.Nop())
	p := New(extractor, mapper, catalog, 1, zerolog.Nop())

	job := p.NewJob(chunks())
	require.NoError(t, p.Process(context.Background(), job))

	assert.Equal(t, StatusCompleted, job.Status)
	require.Len(t, job.Items, 1)
	assert.Nil(t, job.Items[0].MatchedProductID)
	assert.Contains(t, job.Items[0].Reasoning, "contradicts")
	// The rejected candidate is still recorded for audit.
	require.NotEmpty(t, job.Items[0].Candidates)
	assert.Equal(t, "P1", job.Items[0].Candidates[0].ID)
}
