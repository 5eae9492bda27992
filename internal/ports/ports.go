package ports

import (
	"context"

	"WorkItemsETL/internal/domain"
)

// WorkItemSource enumerates every work item in the configured project along
// with its full comment thread. Implementations hold no state between runs.
type WorkItemSource interface {
	FetchAllWorkItems(ctx context.Context) (domain.FetchResult, error)
}

// Normalizer converts one fetched thread into its flat plain-text record.
// Implementations must be pure: same thread in, byte-identical record out.
type Normalizer interface {
	Normalize(thread domain.WorkItemThread) (domain.NormalizedRecord, error)
}

// DatasetWriter persists the full record set, replacing any prior dataset
// at the destination only after the new one is complete.
type DatasetWriter interface {
	Write(ctx context.Context, records []domain.NormalizedRecord, dest string) (domain.Dataset, error)
}

// RunJournal records run outcomes for audit. It is never read by the
// pipeline; a full rebuild must not depend on prior run state.
type RunJournal interface {
	RecordRun(ctx context.Context, report domain.RunReport) error
}

// Notifier pushes the run summary to an out-of-band channel.
type Notifier interface {
	PublishSummary(ctx context.Context, summary string) error
}
