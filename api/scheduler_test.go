package api

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medguardian/adherence-engine/adherence"
	"github.com/medguardian/adherence-engine/factory"
)

var errDiskFull = errors.New("disk full")

// flakyStore fails plan inserts while broken is set.
type flakyStore struct {
	adherence.TxStore
	broken bool
}

func (f *flakyStore) WithTx(ctx context.Context, fn func(adherence.Store) error) error {
	return f.TxStore.WithTx(ctx, func(s adherence.Store) error {
		return fn(&flakyTx{Store: s, parent: f})
	})
}

type flakyTx struct {
	adherence.Store
	parent *flakyStore
}

func (t *flakyTx) InsertPlan(ctx context.Context, plan adherence.DailyPlan) error {
	if t.parent.broken {
		return errDiskFull
	}
	return t.Store.InsertPlan(ctx, plan)
}

func TestScheduler_RunsOncePerDay(t *testing.T) {
	ts := newTestServer(t)
	alex := ts.register("alex")
	ts.createMedication(alex.Token, factory.DailyJSON("Metformin", 500, "mg", "08:00", "20:00"))
	sched := NewDailyPlanScheduler(ts.h)

	// GIVEN: today's plans were already created on demand
	// WHEN: the first tick of the day runs
	assert.True(t, sched.checkAndProcess())

	// THEN: later ticks on the same day do nothing
	assert.False(t, sched.checkAndProcess())

	// WHEN: the clock passes midnight
	ts.now = ts.now.Add(24 * time.Hour)
	assert.True(t, sched.checkAndProcess())

	// THEN: tomorrow's plans exist
	plans := ts.plans(alex.Token, "/api/plans/today")
	require.Len(t, plans, 2)
	assert.Equal(t, "2025-03-13", plans[0].PlanDate)

	runs, err := ts.mem.ListMaterializationRuns(context.Background(), 10)
	require.NoError(t, err)
	var scheduled []adherence.MaterializationRun
	for _, r := range runs {
		if r.Trigger == adherence.TriggerScheduler {
			scheduled = append(scheduled, r)
		}
	}
	require.Len(t, scheduled, 2)
	created := map[string]int{}
	for _, r := range scheduled {
		created[r.Date.String()] = r.Created
	}
	assert.Equal(t, map[string]int{"2025-03-12": 0, "2025-03-13": 2}, created)
}

func TestScheduler_RunNowRepeatsSafely(t *testing.T) {
	ts := newTestServer(t)
	alex := ts.register("alex")
	ts.createMedication(alex.Token, factory.DailyJSON("Vitamin D", 1, "tablet", "08:00"))
	sched := NewDailyPlanScheduler(ts.h)

	for i := 0; i < 3; i++ {
		run, err := sched.RunNow()
		require.NoError(t, err)
		assert.Equal(t, 0, run.Created)
		assert.Equal(t, 1, run.Skipped)
	}
	assert.Len(t, ts.plans(alex.Token, "/api/plans/today"), 1)
}

func TestScheduler_StartStop(t *testing.T) {
	ts := newTestServer(t)
	alex := ts.register("alex")
	sched := NewDailyPlanScheduler(ts.h)
	sched.CheckInterval = 10 * time.Millisecond

	sched.Start()
	sched.Start()
	sched.Stop()
	sched.Stop()

	// the immediate first run happened before Stop returned
	rec := ts.do(http.MethodGet, "/api/admin/materializations", alex.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decodeAs[[]MaterializationRunDTO](t, rec)
	require.Len(t, runs, 1)
	assert.Equal(t, "scheduler", runs[0].Trigger)
}

func TestScheduler_Disabled(t *testing.T) {
	ts := newTestServer(t)
	sched := NewDailyPlanScheduler(ts.h)
	sched.Enabled = false

	sched.Start()
	sched.Stop()

	runs, err := ts.mem.ListMaterializationRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestScheduler_RetriesIncompleteDay(t *testing.T) {
	ts := newTestServer(t)
	alex := ts.register("alex")
	ts.createMedication(alex.Token, factory.DailyJSON("Vitamin D", 1, "tablet", "08:00"))
	ts.createMedication(alex.Token, factory.DailyJSON("Metformin", 500, "mg", "20:00"))

	// GIVEN: tomorrow, with plan inserts failing
	flaky := &flakyStore{TxStore: ts.mem, broken: true}
	h := NewHandler(Deps{
		Store: flaky,
		Runs:  ts.mem,
		Users: ts.h.Care.Store,
		Auth:  ts.h.Auth,
		Log:   ts.h.Log,
		Now:   func() time.Time { return ts.now },
	})
	sched := NewDailyPlanScheduler(h)
	ts.now = ts.now.Add(24 * time.Hour)

	// WHEN: the first tick of the day fails for every medication
	assert.True(t, sched.checkAndProcess())
	assert.Empty(t, ts.plans(alex.Token, "/api/plans/today"))

	// THEN: the next tick retries once the store recovers
	flaky.broken = false
	assert.True(t, sched.checkAndProcess())
	assert.Len(t, ts.plans(alex.Token, "/api/plans/today"), 2)

	// AND: the day is done after a clean run
	assert.False(t, sched.checkAndProcess())

	runs, err := ts.mem.ListMaterializationRuns(context.Background(), 10)
	require.NoError(t, err)
	require.NotEmpty(t, runs)
	assert.Equal(t, 2, runs[0].Created)
	assert.Equal(t, 0, runs[0].Failed)
	assert.Equal(t, 2, runs[1].Failed)
}
