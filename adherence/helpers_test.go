package adherence_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/medguardian/adherence-engine/adherence"
	"github.com/medguardian/adherence-engine/adherence/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var (
	monday    = adherence.NewDate(2025, time.March, 10)
	tuesday   = adherence.NewDate(2025, time.March, 11)
	wednesday = adherence.NewDate(2025, time.March, 12)
)

// fixture wires every component over one memory store with a fixed clock.
type fixture struct {
	store        *store.Memory
	catalog      *adherence.Catalog
	ledger       *adherence.Ledger
	materializer *adherence.Materializer
	recorder     *adherence.Recorder
	now          time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: store.NewMemory(),
		now:   time.Date(2025, time.March, 12, 7, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	ids := sequence()

	f.catalog = adherence.NewCatalog(f.store)
	f.catalog.Now, f.catalog.NewID = clock, ids("med")
	f.ledger = adherence.NewLedger(f.store)
	f.ledger.Now, f.ledger.NewID = clock, ids("plan")
	f.materializer = adherence.NewMaterializer(f.store, f.ledger)
	f.recorder = adherence.NewRecorder(f.store)
	f.recorder.Now, f.recorder.NewID = clock, ids("chk")
	return f
}

func sequence() func(prefix string) func() string {
	var n atomic.Int64
	return func(prefix string) func() string {
		return func() string { return fmt.Sprintf("%s-%d", prefix, n.Add(1)) }
	}
}

func rule(t *testing.T, at string, days ...int) adherence.Rule {
	t.Helper()
	r, err := adherence.NewRule(at, days...)
	require.NoError(t, err)
	return r
}

func dose(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func (f *fixture) createMed(t *testing.T, user adherence.UserID, name string, rules ...adherence.Rule) adherence.Medication {
	t.Helper()
	med, err := f.catalog.Create(context.Background(), adherence.Medication{
		UserID:      user,
		Name:        name,
		DefaultDose: dose(1),
		DoseUnit:    "tablet",
		Rules:       rules,
	})
	require.NoError(t, err)
	return med
}

func (f *fixture) materialize(t *testing.T, day adherence.Date) adherence.MaterializeResult {
	t.Helper()
	res, err := f.materializer.MaterializeDay(context.Background(), day)
	require.NoError(t, err)
	require.NoError(t, res.Err())
	return res
}

func (f *fixture) plans(t *testing.T, user adherence.UserID, day adherence.Date) []adherence.DailyPlan {
	t.Helper()
	plans, err := f.ledger.PlansForUserOnDate(context.Background(), user, day)
	require.NoError(t, err)
	return plans
}

func times(plans []adherence.DailyPlan) []string {
	out := make([]string, len(plans))
	for i, p := range plans {
		out[i] = p.Time.String()
	}
	return out
}
