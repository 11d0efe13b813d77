package sqlite

import (
	"context"
	"fmt"

	"github.com/medguardian/adherence-engine/adherence"
)

// =============================================================================
// MATERIALIZATION RUNS
// =============================================================================

func (e *executor) SaveMaterializationRun(ctx context.Context, r adherence.MaterializationRun) error {
	query := `
		INSERT INTO materialization_runs
		(id, plan_date, trigger_kind, medications, created, skipped, failed, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := e.q.ExecContext(ctx, query,
		r.ID, r.Date.String(), string(r.Trigger), r.Medications, r.Created, r.Skipped, r.Failed,
		r.Error, formatTime(r.StartedAt), formatTime(r.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save materialization run: %w", err)
	}
	return nil
}

// ListMaterializationRuns returns the latest runs first. limit <= 0 means all.
func (e *executor) ListMaterializationRuns(ctx context.Context, limit int) ([]adherence.MaterializationRun, error) {
	query := `
		SELECT id, plan_date, trigger_kind, medications, created, skipped, failed, error, started_at, finished_at
		FROM materialization_runs
		ORDER BY started_at DESC, id DESC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := e.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list materialization runs: %w", err)
	}
	defer rows.Close()

	var runs []adherence.MaterializationRun
	for rows.Next() {
		var (
			r                   adherence.MaterializationRun
			day, trigger        string
			started, finishedAt string
		)
		if err := rows.Scan(&r.ID, &day, &trigger, &r.Medications, &r.Created, &r.Skipped, &r.Failed,
			&r.Error, &started, &finishedAt); err != nil {
			return nil, err
		}
		if r.Date, err = adherence.ParseDate(day); err != nil {
			return nil, err
		}
		r.Trigger = adherence.RunTrigger(trigger)
		if r.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		if r.FinishedAt, err = parseTime(finishedAt); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
