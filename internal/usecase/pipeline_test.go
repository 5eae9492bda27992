package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"WorkItemsETL/internal/config"
	"WorkItemsETL/internal/domain"
	"WorkItemsETL/internal/normalize"
)

type fakeSource struct {
	result domain.FetchResult
	err    error
}

func (f *fakeSource) FetchAllWorkItems(ctx context.Context) (domain.FetchResult, error) {
	return f.result, f.err
}

type fakeWriter struct {
	called  bool
	records []domain.NormalizedRecord
	err     error
}

func (f *fakeWriter) Write(ctx context.Context, records []domain.NormalizedRecord, dest string) (domain.Dataset, error) {
	f.called = true
	f.records = records
	if f.err != nil {
		return domain.Dataset{}, f.err
	}
	return domain.Dataset{Path: dest, RecordCount: len(records)}, nil
}

type fakeJournal struct {
	reports []domain.RunReport
}

func (f *fakeJournal) RecordRun(ctx context.Context, report domain.RunReport) error {
	f.reports = append(f.reports, report)
	return nil
}

type fakeNotifier struct {
	summaries []string
}

func (f *fakeNotifier) PublishSummary(ctx context.Context, summary string) error {
	f.summaries = append(f.summaries, summary)
	return nil
}

type failingNormalizer struct{}

func (failingNormalizer) Normalize(domain.WorkItemThread) (domain.NormalizedRecord, error) {
	return domain.NormalizedRecord{}, &normalize.RecordError{WorkItemID: 1, Err: errors.New("bad shape")}
}

func testThreads(ids ...int) []domain.WorkItemThread {
	threads := make([]domain.WorkItemThread, 0, len(ids))
	for _, id := range ids {
		threads = append(threads, domain.WorkItemThread{
			Item: domain.WorkItem{
				ID:        id,
				Title:     "Item",
				CreatedAt: time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC),
				ChangedAt: time.Date(2024, time.March, 2, 0, 0, 0, 0, time.UTC),
			},
		})
	}
	return threads
}

func testDeps(t *testing.T, source *fakeSource, writer *fakeWriter) (PipelineDeps, *fakeJournal, *fakeNotifier) {
	t.Helper()

	normalizer, err := normalize.New(config.NormalizeConfig{})
	require.NoError(t, err)

	journal := &fakeJournal{}
	notifier := &fakeNotifier{}
	return PipelineDeps{
		Source:               source,
		Normalizer:           normalizer,
		Writer:               writer,
		Journal:              journal,
		Notifier:             notifier,
		DestPath:             "/tmp/dataset",
		NormalizeConcurrency: 2,
	}, journal, notifier
}

func TestRunCompletesAndPreservesAllItems(t *testing.T) {
	t.Parallel()

	source := &fakeSource{result: domain.FetchResult{
		Threads:         testThreads(5, 2, 9),
		CommentFailures: []domain.CommentFailure{{WorkItemID: 2, Reason: "forbidden"}},
	}}
	writer := &fakeWriter{}
	deps, journal, notifier := testDeps(t, source, writer)

	report, err := NewPipeline(deps).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.StageDone, report.Stage)
	assert.Equal(t, 3, report.ItemsFetched)
	assert.Equal(t, 3, report.RecordsWritten)
	assert.Len(t, report.CommentFailures, 1)

	require.Len(t, writer.records, 3)
	got := map[int]bool{}
	for _, record := range writer.records {
		got[record.ID] = true
	}
	assert.Equal(t, map[int]bool{5: true, 2: true, 9: true}, got,
		"written ids must equal the fetched enumeration")

	require.Len(t, journal.reports, 1)
	assert.Equal(t, domain.StageDone, journal.reports[0].Stage)
	require.Len(t, notifier.summaries, 1)
	assert.Contains(t, notifier.summaries[0], "run completed")
}

func TestRunFetchFailureNeverTouchesDataset(t *testing.T) {
	t.Parallel()

	source := &fakeSource{err: errors.New("boom")}
	writer := &fakeWriter{}
	deps, journal, _ := testDeps(t, source, writer)

	report, err := NewPipeline(deps).Run(context.Background())
	require.Error(t, err)

	assert.Equal(t, domain.StageFailed, report.Stage)
	assert.Equal(t, domain.StageFetching, report.FailedStage)
	assert.False(t, writer.called, "a failed fetch must not reach the writer")

	require.Len(t, journal.reports, 1)
	assert.Equal(t, domain.StageFailed, journal.reports[0].Stage)
}

func TestRunNormalizationFailureAborts(t *testing.T) {
	t.Parallel()

	source := &fakeSource{result: domain.FetchResult{Threads: testThreads(1, 2)}}
	writer := &fakeWriter{}
	deps, _, _ := testDeps(t, source, writer)
	deps.Normalizer = failingNormalizer{}

	report, err := NewPipeline(deps).Run(context.Background())
	require.Error(t, err)

	var recordErr *normalize.RecordError
	assert.True(t, errors.As(err, &recordErr))
	assert.Equal(t, domain.StageNormalizing, report.FailedStage)
	assert.False(t, writer.called)
}

func TestRunWriteFailureIsTerminal(t *testing.T) {
	t.Parallel()

	source := &fakeSource{result: domain.FetchResult{Threads: testThreads(1)}}
	writer := &fakeWriter{err: errors.New("disk full")}
	deps, journal, notifier := testDeps(t, source, writer)

	report, err := NewPipeline(deps).Run(context.Background())
	require.Error(t, err)

	assert.Equal(t, domain.StageWriting, report.FailedStage)
	assert.Equal(t, 0, report.RecordsWritten)

	require.Len(t, journal.reports, 1)
	require.Len(t, notifier.summaries, 1)
	assert.Contains(t, notifier.summaries[0], "run failed at stage writing")
}

func TestVerifyCompleteness(t *testing.T) {
	t.Parallel()

	threads := testThreads(1, 2)
	records := []domain.NormalizedRecord{{ID: 1}, {ID: 2}}
	assert.NoError(t, verifyCompleteness(threads, records))

	assert.Error(t, verifyCompleteness(threads, records[:1]))
	assert.Error(t, verifyCompleteness(threads, []domain.NormalizedRecord{{ID: 1}, {ID: 3}}))
}
