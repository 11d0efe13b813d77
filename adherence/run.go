package adherence

import (
	"context"
	"time"
)

// RunTrigger names what started a materialization.
type RunTrigger string

const (
	TriggerScheduler  RunTrigger = "scheduler"
	TriggerManual     RunTrigger = "manual"
	TriggerMedication RunTrigger = "medication"
)

// MaterializationRun is the audit row written after every materialization.
type MaterializationRun struct {
	ID          string
	Date        Date
	Trigger     RunTrigger
	Medications int
	Created     int
	Skipped     int
	Failed      int
	Error       string // joined failure messages, empty on success
	StartedAt   time.Time
	FinishedAt  time.Time
}

// NewRun summarizes a result into an audit row.
func NewRun(id string, trigger RunTrigger, res MaterializeResult, started, finished time.Time) MaterializationRun {
	run := MaterializationRun{
		ID:          id,
		Date:        res.Date,
		Trigger:     trigger,
		Medications: res.Medications,
		Created:     res.Created,
		Skipped:     res.Skipped,
		Failed:      len(res.Failures),
		StartedAt:   started.UTC(),
		FinishedAt:  finished.UTC(),
	}
	if err := res.Err(); err != nil {
		run.Error = err.Error()
	}
	return run
}

// RunStore keeps the materialization audit trail, newest first.
type RunStore interface {
	SaveMaterializationRun(ctx context.Context, run MaterializationRun) error
	ListMaterializationRuns(ctx context.Context, limit int) ([]MaterializationRun, error)
}
