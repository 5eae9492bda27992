package storage

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"WorkItemsETL/internal/domain"
	"WorkItemsETL/internal/ports"
)

// PostgresJournal appends run outcomes to Postgres for audit. It is written
// to, never read: the pipeline rebuilds from scratch every run and must not
// depend on journal state.
type PostgresJournal struct {
	db *sql.DB
}

var _ ports.RunJournal = (*PostgresJournal)(nil)

// NewPostgresJournal wires a sql.DB implementation.
func NewPostgresJournal(db *sql.DB) *PostgresJournal {
	return &PostgresJournal{db: db}
}

// RecordRun inserts the run summary and one row per recorded comment-fetch
// failure.
func (j *PostgresJournal) RecordRun(ctx context.Context, report domain.RunReport) error {
	if j.db == nil {
		return nil
	}

	builder := sq.StatementBuilder.PlaceholderFormat(sq.Dollar).RunWith(j.db)

	var runID int64
	err := builder.
		Insert("pipeline_runs").
		Columns("stage", "failed_stage", "error", "items_fetched", "records_written", "started_at", "finished_at").
		Values(string(report.Stage), string(report.FailedStage), report.Error,
			report.ItemsFetched, report.RecordsWritten, report.StartedAt, report.FinishedAt).
		Suffix("RETURNING id").
		QueryRowContext(ctx).
		Scan(&runID)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	if len(report.CommentFailures) == 0 {
		return nil
	}

	insert := builder.
		Insert("pipeline_comment_failures").
		Columns("run_id", "work_item_id", "reason")
	for _, failure := range report.CommentFailures {
		insert = insert.Values(runID, failure.WorkItemID, failure.Reason)
	}

	if _, err := insert.ExecContext(ctx); err != nil {
		return fmt.Errorf("insert comment failures: %w", err)
	}
	return nil
}
