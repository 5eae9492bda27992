package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"WorkItemsETL/internal/domain"
	"WorkItemsETL/internal/ports"
)

// PipelineDeps wires all driven adapters into the orchestration pipeline.
type PipelineDeps struct {
	Source               ports.WorkItemSource
	Normalizer           ports.Normalizer
	Writer               ports.DatasetWriter
	Journal              ports.RunJournal
	Notifier             ports.Notifier
	DestPath             string
	NormalizeConcurrency int
	Logger               *slog.Logger
}

// Pipeline runs one full rebuild as a single logical transaction:
// Idle → Fetching → Normalizing → Writing → Done. Any unrecoverable stage
// error moves the run to Failed and aborts before the destination dataset is
// touched. There is no retry loop here; retries live inside the source
// client, and a failed run is terminal for the invoking scheduler.
type Pipeline struct {
	source               ports.WorkItemSource
	normalizer           ports.Normalizer
	writer               ports.DatasetWriter
	journal              ports.RunJournal
	notifier             ports.Notifier
	destPath             string
	normalizeConcurrency int
	logger               *slog.Logger
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	concurrency := deps.NormalizeConcurrency
	if concurrency < 1 {
		concurrency = 1
	}

	return &Pipeline{
		source:               deps.Source,
		normalizer:           deps.Normalizer,
		writer:               deps.Writer,
		journal:              deps.Journal,
		notifier:             deps.Notifier,
		destPath:             deps.DestPath,
		normalizeConcurrency: concurrency,
		logger:               deps.Logger,
	}
}

// Run executes one full-rebuild run and reports its outcome. The returned
// error is non-nil exactly when the report says Failed.
func (p *Pipeline) Run(ctx context.Context) (domain.RunReport, error) {
	report := domain.RunReport{Stage: domain.StageIdle, StartedAt: time.Now()}

	p.transition(&report, domain.StageFetching)
	result, err := p.source.FetchAllWorkItems(ctx)
	if err != nil {
		return p.fail(ctx, report, fmt.Errorf("fetch: %w", err))
	}
	report.ItemsFetched = len(result.Threads)
	report.CommentFailures = result.CommentFailures

	p.transition(&report, domain.StageNormalizing)
	records, err := p.normalizeAll(result.Threads)
	if err != nil {
		return p.fail(ctx, report, fmt.Errorf("normalize: %w", err))
	}
	if err := verifyCompleteness(result.Threads, records); err != nil {
		return p.fail(ctx, report, err)
	}

	p.transition(&report, domain.StageWriting)
	ds, err := p.writer.Write(ctx, records, p.destPath)
	if err != nil {
		return p.fail(ctx, report, fmt.Errorf("write dataset: %w", err))
	}
	report.RecordsWritten = ds.RecordCount

	report.Stage = domain.StageDone
	report.FinishedAt = time.Now()
	p.finish(ctx, report)
	return report, nil
}

// normalizeAll maps records in parallel; output order follows input order so
// the run stays deterministic. The first normalization error aborts the run:
// a full rebuild must not silently publish with records dropped.
func (p *Pipeline) normalizeAll(threads []domain.WorkItemThread) ([]domain.NormalizedRecord, error) {
	pool, err := ants.NewPool(p.normalizeConcurrency)
	if err != nil {
		return nil, fmt.Errorf("create normalize pool: %w", err)
	}
	defer pool.Release()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	records := make([]domain.NormalizedRecord, len(threads))

	for i := range threads {
		i := i
		thread := threads[i]
		wg.Add(1)

		task := func() {
			defer wg.Done()

			record, nErr := p.normalizer.Normalize(thread)
			if nErr != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = nErr
				}
				mu.Unlock()
				return
			}
			records[i] = record
		}

		if submitErr := pool.Submit(task); submitErr != nil {
			wg.Done()
			return nil, fmt.Errorf("submit normalize task: %w", submitErr)
		}
	}

	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}
	return records, nil
}

// verifyCompleteness guards the full-rebuild guarantee: the written ids must
// equal the fetched ids, one record per work item.
func verifyCompleteness(threads []domain.WorkItemThread, records []domain.NormalizedRecord) error {
	if len(threads) != len(records) {
		return fmt.Errorf("completeness violation: fetched %d items, normalized %d records",
			len(threads), len(records))
	}
	for i := range threads {
		if threads[i].Item.ID != records[i].ID {
			return fmt.Errorf("completeness violation: record %d does not match fetched item %d",
				records[i].ID, threads[i].Item.ID)
		}
	}
	return nil
}

func (p *Pipeline) transition(report *domain.RunReport, stage domain.RunStage) {
	if p.logger != nil {
		p.logger.Info("stage", "from", report.Stage, "to", stage)
	}
	report.Stage = stage
}

func (p *Pipeline) fail(ctx context.Context, report domain.RunReport, err error) (domain.RunReport, error) {
	report.FailedStage = report.Stage
	report.Stage = domain.StageFailed
	report.Error = err.Error()
	report.FinishedAt = time.Now()
	p.finish(ctx, report)
	return report, err
}

// finish records the outcome on best-effort collaborators; their failures
// never change the run result.
func (p *Pipeline) finish(ctx context.Context, report domain.RunReport) {
	if p.journal != nil {
		if err := p.journal.RecordRun(ctx, report); err != nil && p.logger != nil {
			p.logger.Warn("journal write failed", "error", err)
		}
	}
	if p.notifier != nil {
		if err := p.notifier.PublishSummary(ctx, report.Summary()); err != nil && p.logger != nil {
			p.logger.Warn("summary notification failed", "error", err)
		}
	}
}
