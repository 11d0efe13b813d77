package adherence_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medguardian/adherence-engine/adherence"
)

func setupPlan(t *testing.T, f *fixture, user adherence.UserID) (adherence.Medication, adherence.DailyPlan) {
	t.Helper()
	med := f.createMed(t, user, "Metformin", rule(t, "08:00", 3))
	f.materialize(t, wednesday)
	return med, f.plans(t, user, wednesday)[0]
}

func TestRecord_LinkedPlanDefaults(t *testing.T) {
	f := newFixture(t)
	med, plan := setupPlan(t, f, "u1")

	c, err := f.recorder.Record(context.Background(), adherence.CheckinInput{
		UserID: "u1", MedicationID: med.ID, PlanID: plan.ID,
	})
	require.NoError(t, err)

	assert.Equal(t, adherence.KindOnTime, c.Kind)
	require.NotNil(t, c.PlannedAt)
	assert.Equal(t, time.Date(2025, time.March, 12, 8, 0, 0, 0, time.UTC), *c.PlannedAt)
	assert.Equal(t, f.now, c.ActualAt)
	assert.True(t, c.Dose.Equal(dose(1)))
	assert.Equal(t, "tablet", c.DoseUnit)

	// plan untouched without FulfillPlan
	assert.False(t, f.plans(t, "u1", wednesday)[0].Taken)
}

func TestRecord_FulfillPlanMarksTakenAtomically(t *testing.T) {
	f := newFixture(t)
	med, plan := setupPlan(t, f, "u1")

	_, err := f.recorder.Record(context.Background(), adherence.CheckinInput{
		UserID: "u1", MedicationID: med.ID, PlanID: plan.ID, FulfillPlan: true,
	})
	require.NoError(t, err)
	assert.True(t, f.plans(t, "u1", wednesday)[0].Taken)

	// a skipped check-in cannot fulfill
	_, err = f.recorder.Record(context.Background(), adherence.CheckinInput{
		UserID: "u1", MedicationID: med.ID, PlanID: plan.ID, Kind: adherence.KindSkipped, FulfillPlan: true,
	})
	assert.ErrorIs(t, err, adherence.ErrValidation)
}

func TestRecord_MakeupRequiresReason(t *testing.T) {
	f := newFixture(t)
	med, _ := setupPlan(t, f, "u1")
	ctx := context.Background()

	_, err := f.recorder.Record(ctx, adherence.CheckinInput{UserID: "u1", MedicationID: med.ID, IsMakeup: true})
	assert.ErrorIs(t, err, adherence.ErrValidation)

	_, err = f.recorder.Record(ctx, adherence.CheckinInput{UserID: "u1", MedicationID: med.ID, Kind: adherence.KindMakeup, MakeupReason: "  "})
	assert.ErrorIs(t, err, adherence.ErrValidation)

	c, err := f.recorder.Record(ctx, adherence.CheckinInput{UserID: "u1", MedicationID: med.ID, IsMakeup: true, MakeupReason: "forgot at breakfast"})
	require.NoError(t, err)
	assert.Equal(t, adherence.KindMakeup, c.Kind)
	assert.Nil(t, c.PlannedAt)
}

func TestRecord_ForeignMedicationOrPlanForbidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	aliceMed, alicePlan := setupPlan(t, f, "alice")
	bobMed := f.createMed(t, "bob", "Other", rule(t, "09:00", 3))

	_, err := f.recorder.Record(ctx, adherence.CheckinInput{UserID: "bob", MedicationID: aliceMed.ID})
	assert.ErrorIs(t, err, adherence.ErrForbidden)

	_, err = f.recorder.Record(ctx, adherence.CheckinInput{UserID: "bob", MedicationID: bobMed.ID, PlanID: alicePlan.ID})
	assert.ErrorIs(t, err, adherence.ErrForbidden)

	_, err = f.recorder.Record(ctx, adherence.CheckinInput{UserID: "bob", MedicationID: bobMed.ID, PlanID: "missing"})
	assert.ErrorIs(t, err, adherence.ErrNotFound)
}

func TestRecord_DoseMustBePositiveForIntake(t *testing.T) {
	f := newFixture(t)
	med, _ := setupPlan(t, f, "u1")

	_, err := f.recorder.Record(context.Background(), adherence.CheckinInput{
		UserID: "u1", MedicationID: med.ID, Dose: decimal.NewNullDecimal(decimal.Zero),
	})
	assert.ErrorIs(t, err, adherence.ErrValidation)
}

func TestPhotos_LastWriterWinsPerSortOrder(t *testing.T) {
	// GIVEN: a check-in with two photos, one index sent twice
	f := newFixture(t)
	ctx := context.Background()
	med, _ := setupPlan(t, f, "u1")
	c, err := f.recorder.Record(ctx, adherence.CheckinInput{
		UserID: "u1", MedicationID: med.ID,
		Photos: []adherence.Photo{{URL: "a.jpg", SortOrder: 1}, {URL: "b.jpg", SortOrder: 0}, {URL: "c.jpg", SortOrder: 1}},
	})
	require.NoError(t, err)
	require.Len(t, c.Photos, 2)
	assert.Equal(t, "b.jpg", c.Photos[0].URL)
	assert.Equal(t, "c.jpg", c.Photos[1].URL)

	// WHEN: attaching to an existing index and a new one
	updated, err := f.recorder.AttachPhotos(ctx, c.ID, "u1", []adherence.Photo{{URL: "d.jpg", SortOrder: 0}, {URL: "e.jpg", SortOrder: 2}})
	require.NoError(t, err)

	// THEN
	var urls []string
	for _, p := range updated.Photos {
		urls = append(urls, p.URL)
	}
	assert.Equal(t, []string{"d.jpg", "c.jpg", "e.jpg"}, urls)

	_, err = f.recorder.AttachPhotos(ctx, c.ID, "intruder", []adherence.Photo{{URL: "x.jpg"}})
	assert.ErrorIs(t, err, adherence.ErrForbidden)
}

func TestHistory_NewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	med, _ := setupPlan(t, f, "u1")
	for _, hour := range []int{8, 20, 13} {
		_, err := f.recorder.Record(ctx, adherence.CheckinInput{
			UserID: "u1", MedicationID: med.ID,
			ActualAt: time.Date(2025, time.March, 12, hour, 0, 0, 0, time.UTC),
		})
		require.NoError(t, err)
	}

	history, err := f.recorder.History(ctx, adherence.CheckinFilter{UserID: "u1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 20, history[0].ActualAt.Hour())
	assert.Equal(t, 13, history[1].ActualAt.Hour())
	assert.Equal(t, "Metformin", history[0].MedicationName)
}

func TestRecord_PlannedAndActualShareTimeBase(t *testing.T) {
	f := newFixture(t)
	med, plan := setupPlan(t, f, "u1")

	// GIVEN: a user at UTC+8 taking the 08:00 dose at 08:05 local time
	f.now = time.Date(2025, time.March, 12, 8, 5, 0, 0, time.FixedZone("UTC+8", 8*60*60))

	c, err := f.recorder.Record(context.Background(), adherence.CheckinInput{
		UserID: "u1", MedicationID: med.ID, PlanID: plan.ID,
	})
	require.NoError(t, err)

	// THEN: the dose is five minutes late, not hours early
	require.NotNil(t, c.PlannedAt)
	assert.Equal(t, 5*time.Minute, c.ActualAt.Sub(*c.PlannedAt))
	assert.Equal(t, "2025-03-12T00:00:00Z", c.PlannedAt.Format(time.RFC3339))
	assert.Equal(t, "2025-03-12T00:05:00Z", c.ActualAt.Format(time.RFC3339))
}
