package adherence_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medguardian/adherence-engine/adherence"
	"github.com/medguardian/adherence-engine/adherence/store"
)

// =============================================================================
// EXPANSION
// =============================================================================

func TestPlansFor_OnlyMatchingWeekdays(t *testing.T) {
	med := adherence.Medication{
		ID: "m1", UserID: "u1", Name: "Metformin",
		DefaultDose: dose(1), DoseUnit: "tablet",
		Rules: []adherence.Rule{
			rule(t, "08:00", 1, 2, 3, 4, 5, 6, 7),
			rule(t, "20:00", 1, 3, 5),
			rule(t, "12:00", 6, 7),
		},
	}

	assert.Equal(t, []string{"08:00", "20:00"}, times(adherence.PlansFor(med, wednesday)))
	assert.Equal(t, []string{"08:00"}, times(adherence.PlansFor(med, tuesday)))
	assert.Equal(t, []string{"08:00", "12:00"}, times(adherence.PlansFor(med, wednesday.AddDays(3))))
}

func TestPlansFor_RuleDoseOverridesDefault(t *testing.T) {
	r := rule(t, "08:00", 3)
	r.Dose = decimal.NewNullDecimal(dose(0.5))
	r.DoseUnit = "mg"
	med := adherence.Medication{ID: "m1", UserID: "u1", Name: "X", DefaultDose: dose(2), DoseUnit: "tablet",
		Rules: []adherence.Rule{r, rule(t, "20:00", 3)}}

	plans := adherence.PlansFor(med, wednesday)
	require.Len(t, plans, 2)
	assert.True(t, plans[0].Dose.Equal(dose(0.5)))
	assert.Equal(t, "mg", plans[0].DoseUnit)
	assert.True(t, plans[1].Dose.Equal(dose(2)))
	assert.Equal(t, "tablet", plans[1].DoseUnit)
}

// =============================================================================
// MATERIALIZE DAY
// =============================================================================

func TestMaterializeDay_WednesdayScenario(t *testing.T) {
	// GIVEN: a daily 08:00 rule and a Mon/Wed/Fri 20:00 rule
	f := newFixture(t)
	ctx := context.Background()
	med := f.createMed(t, "u1", "Metformin", rule(t, "08:00", 1, 2, 3, 4, 5, 6, 7), rule(t, "20:00", 1, 3, 5))

	// WHEN: materializing Wednesday
	res := f.materialize(t, wednesday)

	// THEN: two plans, untaken, default dose
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 0, res.Skipped)
	plans := f.plans(t, "u1", wednesday)
	require.Len(t, plans, 2)
	assert.Equal(t, []string{"08:00", "20:00"}, times(plans))
	for _, p := range plans {
		assert.False(t, p.Taken)
		assert.Equal(t, med.ID, p.MedicationID)
		assert.Equal(t, "Metformin", p.MedicationName)
		assert.True(t, p.Dose.Equal(dose(1)))
	}

	// AND: fulfilling the morning plan only flips that one
	taken, err := f.ledger.MarkFulfilled(ctx, plans[0].ID, "u1")
	require.NoError(t, err)
	assert.True(t, taken.Taken)
	plans = f.plans(t, "u1", wednesday)
	assert.True(t, plans[0].Taken)
	assert.False(t, plans[1].Taken)
}

func TestMaterializeDay_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.createMed(t, "u1", "A", rule(t, "08:00", 3), rule(t, "20:00", 3))
	f.createMed(t, "u2", "B", rule(t, "09:00", 1, 2, 3))

	first := f.materialize(t, wednesday)
	second := f.materialize(t, wednesday)

	assert.Equal(t, 3, first.Created)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 3, second.Skipped)
	assert.Len(t, f.plans(t, "u1", wednesday), 2)
	assert.Len(t, f.plans(t, "u2", wednesday), 1)
}

func TestMaterializeDay_WeekendRuleOnWednesday_NoPlans(t *testing.T) {
	f := newFixture(t)
	f.createMed(t, "u1", "Weekend", rule(t, "10:00", 6, 7))

	res := f.materialize(t, wednesday)

	assert.Equal(t, 1, res.Medications)
	assert.Equal(t, 0, res.Created)
	assert.Empty(t, f.plans(t, "u1", wednesday))
}

func TestMaterializeDay_InactiveMedicationSkipped_HistoryKept(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	med := f.createMed(t, "u1", "A", rule(t, "08:00", 1, 2, 3, 4, 5, 6, 7))
	f.materialize(t, tuesday)

	_, err := f.catalog.Deactivate(ctx, med.ID, "u1")
	require.NoError(t, err)
	res := f.materialize(t, wednesday)

	assert.Equal(t, 0, res.Medications)
	assert.Empty(t, f.plans(t, "u1", wednesday))
	assert.Len(t, f.plans(t, "u1", tuesday), 1)
}

func TestMaterializeDay_ConcurrentRuns_NoDuplicates(t *testing.T) {
	f := newFixture(t)
	for _, user := range []adherence.UserID{"u1", "u2", "u3"} {
		f.createMed(t, user, "A", rule(t, "08:00", 3), rule(t, "13:00", 3), rule(t, "20:00", 1, 3, 5))
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.materializer.MaterializeDay(context.Background(), wednesday)
			assert.NoError(t, err)
			assert.NoError(t, res.Err())
			mu.Lock()
			created += res.Created
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 9, created)
	for _, user := range []adherence.UserID{"u1", "u2", "u3"} {
		assert.Len(t, f.plans(t, user, wednesday), 3)
	}
}

func TestMaterializeDay_ZeroDateRejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.materializer.MaterializeDay(context.Background(), adherence.Date{})
	assert.ErrorIs(t, err, adherence.ErrValidation)
}

// failingStore fails InsertPlan for one medication.
type failingStore struct {
	*store.Memory
	failFor adherence.MedicationID
}

func (s *failingStore) WithTx(ctx context.Context, fn func(adherence.Store) error) error {
	return s.Memory.WithTx(ctx, func(inner adherence.Store) error {
		return fn(&failingView{Store: inner, failFor: s.failFor})
	})
}

type failingView struct {
	adherence.Store
	failFor adherence.MedicationID
}

func (v *failingView) InsertPlan(ctx context.Context, p adherence.DailyPlan) error {
	if p.MedicationID == v.failFor {
		return errors.New("disk full")
	}
	return v.Store.InsertPlan(ctx, p)
}

func TestMaterializeDay_FailureIsolatedPerMedication(t *testing.T) {
	// GIVEN: two medications, the store fails writes for the first one
	f := newFixture(t)
	bad := f.createMed(t, "u1", "Bad", rule(t, "08:00", 3), rule(t, "09:00", 3))
	f.createMed(t, "u1", "Good", rule(t, "10:00", 3))
	fs := &failingStore{Memory: f.store, failFor: bad.ID}
	m := adherence.NewMaterializer(fs, f.ledger)

	// WHEN
	res, err := m.MaterializeDay(context.Background(), wednesday)

	// THEN: the good medication is materialized, the bad one is reported
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, bad.ID, res.Failures[0].MedicationID)
	assert.ErrorContains(t, res.Err(), "disk full")
	assert.Equal(t, []string{"10:00"}, times(f.plans(t, "u1", wednesday)))

	// AND: a retry on a healthy store completes the day
	retry := f.materialize(t, wednesday)
	assert.Equal(t, 2, retry.Created)
	assert.Equal(t, 1, retry.Skipped)
}

func TestMaterializeMedication_SingleMedication(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.createMed(t, "u1", "A", rule(t, "08:00", 3))
	f.createMed(t, "u1", "B", rule(t, "09:00", 3))

	res, err := f.materializer.MaterializeMedication(ctx, a.ID, wednesday)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, []string{"08:00"}, times(f.plans(t, "u1", wednesday)))

	_, err = f.materializer.MaterializeMedication(ctx, "missing", wednesday)
	assert.ErrorIs(t, err, adherence.ErrNotFound)
}
