/*
scheduler.go - Daily plan materialization scheduler

PURPOSE:
  Materializes every active medication's plans once per calendar day,
  without a request having to arrive first.

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - Each tick compares today's date (from the injected clock) with the last
    date it materialized; a new day triggers a run
  - Runs are safe to repeat: existing plans are skipped by natural key, so a
    restart on the same day only fills gaps
  - Every run is recorded as a MaterializationRun for audit and the admin UI

CONFIGURATION:
  - CheckInterval: How often to look at the clock (default: 1 minute)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewDailyPlanScheduler(handler)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: TriggerMaterialization endpoint (manual run)
  - adherence/materializer.go: MaterializeDay
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/medguardian/adherence-engine/adherence"
)

// =============================================================================
// RUN RECORDING
// =============================================================================

// runner executes a materialization and writes its audit row. Shared by the
// scheduler and the HTTP triggers.
type runner struct {
	materializer *adherence.Materializer
	runs         adherence.RunStore
	log          *slog.Logger
	now          func() time.Time
	newID        func() string
}

// day materializes every active medication for day.
func (rn *runner) day(ctx context.Context, trigger adherence.RunTrigger, day adherence.Date) (adherence.MaterializationRun, error) {
	started := rn.now()
	res, err := rn.materializer.MaterializeDay(ctx, day)
	if err != nil {
		return adherence.MaterializationRun{}, err
	}
	return rn.record(ctx, trigger, res, started)
}

// medication materializes a single medication, used after it changes.
func (rn *runner) medication(ctx context.Context, id adherence.MedicationID, day adherence.Date) (adherence.MaterializationRun, error) {
	started := rn.now()
	res, err := rn.materializer.MaterializeMedication(ctx, id, day)
	if err != nil {
		return adherence.MaterializationRun{}, err
	}
	return rn.record(ctx, adherence.TriggerMedication, res, started)
}

func (rn *runner) record(ctx context.Context, trigger adherence.RunTrigger, res adherence.MaterializeResult, started time.Time) (adherence.MaterializationRun, error) {
	run := adherence.NewRun(rn.newID(), trigger, res, started, rn.now())
	for _, f := range res.Failures {
		rn.log.Error("materialization failed",
			"trigger", trigger, "date", res.Date.String(),
			"medication_id", f.MedicationID, "error", f.Err)
	}
	if rn.runs != nil {
		if err := rn.runs.SaveMaterializationRun(ctx, run); err != nil {
			rn.log.Error("failed to save materialization run", "run_id", run.ID, "error", err)
		}
	}
	return run, nil
}

// =============================================================================
// SCHEDULER
// =============================================================================

// DailyPlanScheduler materializes today's plans when the day changes.
type DailyPlanScheduler struct {
	CheckInterval time.Duration
	Enabled       bool

	runner *runner
	log    *slog.Logger
	now    func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	runMu    sync.Mutex // serializes runs, guards lastDate
	lastDate adherence.Date
}

// NewDailyPlanScheduler creates a scheduler sharing the handler's
// materializer, run store, clock and logger.
func NewDailyPlanScheduler(h *Handler) *DailyPlanScheduler {
	return &DailyPlanScheduler{
		CheckInterval: time.Minute,
		Enabled:       true,
		runner:        h.runner,
		log:           h.Log.With("component", "scheduler"),
		now:           h.Now,
	}
}

// Start begins the scheduler.
func (s *DailyPlanScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.log.Info("scheduler disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run()

	s.log.Info("scheduler started", "check_interval", s.CheckInterval)
}

// Stop stops the scheduler and waits for an in-flight run.
func (s *DailyPlanScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		s.log.Info("scheduler stopped")
	}
}

func (s *DailyPlanScheduler) run() {
	defer s.wg.Done()

	// Run immediately on start
	s.checkAndProcess()

	for {
		select {
		case <-s.ticker.C:
			s.checkAndProcess()
		case <-s.stop:
			return
		}
	}
}

// checkAndProcess materializes today unless it already did so.
// It reports whether a run happened.
func (s *DailyPlanScheduler) checkAndProcess() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	today := adherence.DateOf(s.now())
	if !s.lastDate.IsZero() && !today.After(s.lastDate) {
		return false
	}

	run, err := s.runner.day(context.Background(), adherence.TriggerScheduler, today)
	if err != nil {
		// lastDate stays put so the next tick retries
		s.log.Error("daily materialization failed", "date", today.String(), "error", err)
		return false
	}
	if run.Failed > 0 {
		// keyed inserts make the retry on the next tick fill only the gaps
		s.log.Warn("daily materialization incomplete, retrying next tick",
			"date", today.String(), "failed", run.Failed)
		return true
	}
	s.lastDate = today

	s.log.Info("daily materialization completed",
		"date", today.String(),
		"medications", run.Medications,
		"created", run.Created,
		"skipped", run.Skipped,
		"failed", run.Failed)
	return true
}

// RunNow forces a run for today even if one already happened.
func (s *DailyPlanScheduler) RunNow() (adherence.MaterializationRun, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	today := adherence.DateOf(s.now())
	run, err := s.runner.day(context.Background(), adherence.TriggerScheduler, today)
	if err == nil && run.Failed == 0 {
		s.lastDate = today
	}
	return run, err
}
