// Package pipeline orchestrates one invoice's journey from photographed
// chunks to mapped line items: extraction, then synthesis against the
// indexed catalog. Jobs move pending -> processing -> completed or error,
// and completed or failed jobs can be re-run with operator feedback.
package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"invoicemap/internal/extract"
	"invoicemap/pkg/models"
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Job is one invoice submission. A job is owned by a single goroutine at a
// time; ProcessAll hands each job to exactly one worker.
type Job struct {
	ID     string
	Chunks []models.ImageChunk
	Status Status

	// Items is the terminal output, set when Status is completed.
	Items []models.MappedInvoiceItem

	// Err holds the failure message when Status is error.
	Err string

	// Feedback carries operator corrections for a re-run; nil on first
	// submission.
	Feedback *models.FeedbackSet
}

// Mapper adjudicates extracted items against the catalog. Satisfied by
// *synthesis.Service.
type Mapper interface {
	Map(ctx context.Context, items []models.RawLineItem, catalog []models.ProductRecord, feedback []models.MappingFeedback) ([]models.MappedInvoiceItem, error)
}

// Pipeline wires the extraction and synthesis phases over a shared catalog.
type Pipeline struct {
	extractor      extract.Extractor
	mapper         Mapper
	catalog        []models.ProductRecord
	maxConcurrency int
	log            zerolog.Logger
}

// New creates a pipeline. The catalog should already be indexed; unembedded
// records simply never surface as candidates. maxConcurrency bounds how many
// invoices ProcessAll works on at once.
func New(extractor extract.Extractor, mapper Mapper, catalog []models.ProductRecord, maxConcurrency int, log zerolog.Logger) *Pipeline {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return &Pipeline{
		extractor:      extractor,
		mapper:         mapper,
		catalog:        catalog,
		maxConcurrency: maxConcurrency,
		log:            log,
	}
}

// NewJob creates a pending job for the given image chunks.
func (p *Pipeline) NewJob(chunks []models.ImageChunk) *Job {
	return &Job{
		ID:     uuid.NewString(),
		Chunks: chunks,
		Status: StatusPending,
	}
}

// Process runs one job to a terminal state. The returned error mirrors
// job.Err; callers that track jobs by status can ignore it.
func (p *Pipeline) Process(ctx context.Context, job *Job) error {
	log := p.log.With().Str("job_id", job.ID).Logger()
	job.Status = StatusProcessing
	job.Items = nil
	job.Err = ""

	opts := extract.Options{Catalog: p.catalog}
	var mappingFeedback []models.MappingFeedback
	if !job.Feedback.Empty() {
		opts.Feedback = job.Feedback.Extraction
		mappingFeedback = job.Feedback.Mapping
		log.Info().
			Int("extraction_feedback", len(opts.Feedback)).
			Int("mapping_feedback", len(mappingFeedback)).
			Msg("Re-running invoice with operator feedback")
	}

	items, err := p.extractor.Extract(ctx, job.Chunks, opts)
	if err != nil {
		return p.fail(job, log, fmt.Errorf("extraction failed: %w", err))
	}

	// An invoice with no recognizable line items is a valid outcome, not a
	// failure. Skip synthesis entirely.
	if len(items) == 0 {
		job.Items = []models.MappedInvoiceItem{}
		job.Status = StatusCompleted
		log.Info().Msg("No line items extracted, completing with empty result")
		return nil
	}

	mapped, err := p.mapper.Map(ctx, items, p.catalog, mappingFeedback)
	if err != nil {
		return p.fail(job, log, fmt.Errorf("synthesis failed: %w", err))
	}

	job.Items = mapped
	job.Status = StatusCompleted
	matched := 0
	for _, m := range mapped {
		if m.MatchedProductID != nil {
			matched++
		}
	}
	log.Info().
		Int("items", len(mapped)).
		Int("matched", matched).
		Msg("Invoice processing completed")
	return nil
}

// Reprocess re-runs a terminal job with operator feedback attached. Pending
// or processing jobs cannot be re-run.
func (p *Pipeline) Reprocess(ctx context.Context, job *Job, feedback *models.FeedbackSet) error {
	if job.Status != StatusCompleted && job.Status != StatusError {
		return fmt.Errorf("job %s is %s, only completed or error jobs can be re-run", job.ID, job.Status)
	}
	job.Feedback = feedback
	return p.Process(ctx, job)
}

// ProcessAll runs the jobs with at most maxConcurrency in flight. Individual
// job failures land in the job's status; the returned error is only non-nil
// when the context dies before all jobs were dispatched.
func (p *Pipeline) ProcessAll(ctx context.Context, jobs []*Job) error {
	sem := semaphore.NewWeighted(int64(p.maxConcurrency))
	for _, job := range jobs {
		job := job
		if err := sem.Acquire(ctx, 1); err != nil {
			return err
		}
		go func() {
			defer sem.Release(1)
			_ = p.Process(ctx, job)
		}()
	}
	// Drain: once all permits are reacquired every worker has finished.
	if err := sem.Acquire(ctx, int64(p.maxConcurrency)); err != nil {
		return err
	}
	sem.Release(int64(p.maxConcurrency))
	return nil
}

func (p *Pipeline) fail(job *Job, log zerolog.Logger, err error) error {
	job.Status = StatusError
	job.Err = err.Error()
	log.Error().Err(err).Msg("Invoice processing failed")
	return err
}
