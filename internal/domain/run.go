package domain

import (
	"fmt"
	"time"
)

// RunStage enumerates pipeline milestones for one full-rebuild run.
type RunStage string

const (
	StageIdle        RunStage = "idle"
	StageFetching    RunStage = "fetching"
	StageNormalizing RunStage = "normalizing"
	StageWriting     RunStage = "writing"
	StageDone        RunStage = "done"
	StageFailed      RunStage = "failed"
)

// RunReport summarizes one run for the invoking scheduler and the journal.
type RunReport struct {
	Stage           RunStage
	FailedStage     RunStage
	Error           string
	ItemsFetched    int
	RecordsWritten  int
	CommentFailures []CommentFailure
	StartedAt       time.Time
	FinishedAt      time.Time
}

// Summary renders the human-readable outcome line logged at process exit.
func (r RunReport) Summary() string {
	if r.Stage == StageFailed {
		return fmt.Sprintf("run failed at stage %s: %s (fetched %d, written %d, comment failures %d)",
			r.FailedStage, r.Error, r.ItemsFetched, r.RecordsWritten, len(r.CommentFailures))
	}
	return fmt.Sprintf("run completed: fetched %d, written %d, comment failures %d, took %s",
		r.ItemsFetched, r.RecordsWritten, len(r.CommentFailures),
		r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
}
