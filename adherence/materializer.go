/*
materializer.go - Expands recurrence rules into DailyPlan rows for one day

ALGORITHM (MaterializeDay):
  1. weekday = day.ISOWeekday()                  (Monday=1 ... Sunday=7)
  2. for each active medication, for each rule whose weekday set contains
     weekday: key = (user, medication, day, rule.time)
  3. key exists          -> skip
  4. key absent          -> insert plan, dose/unit from rule or medication
  5. one transaction per medication

IDEMPOTENCY:
  The result is a function of (active medications, their rules, day) modulo
  rows already persisted. Running twice, running concurrently, or re-running
  after a partial failure never duplicates a plan: the natural-key
  uniqueness constraint turns every collision into a skip.

FAILURE MODEL:
  A storage error rolls back that medication's batch only. It is reported in
  MaterializeResult.Failures and the other medications proceed. Re-running
  the whole day is always safe.

EXAMPLE:
  m := adherence.NewMaterializer(store, ledger)
  res, err := m.MaterializeDay(ctx, adherence.NewDate(2025, time.March, 12))
  // res.Created plans inserted, res.Skipped already present

SEE ALSO:
  - ledger.go: upsertIn does the insert-if-absent
  - api/scheduler.go: daily trigger
*/
package adherence

import (
	"context"
	"errors"
	"fmt"
)

type Materializer struct {
	Store  TxStore
	Ledger *Ledger
}

func NewMaterializer(store TxStore, ledger *Ledger) *Materializer {
	return &Materializer{Store: store, Ledger: ledger}
}

// MedicationFailure records a medication whose batch was rolled back.
type MedicationFailure struct {
	MedicationID MedicationID
	Err          error
}

func (f MedicationFailure) Error() string {
	return fmt.Sprintf("medication %s: %v", f.MedicationID, f.Err)
}

func (f MedicationFailure) Unwrap() error { return f.Err }

type MaterializeResult struct {
	Date        Date
	Medications int // active medications examined
	Created     int
	Skipped     int // keys that already existed
	Failures    []MedicationFailure
}

// Err joins the per-medication failures, nil when there are none.
func (r MaterializeResult) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}

func (r *MaterializeResult) add(other MaterializeResult) {
	r.Medications += other.Medications
	r.Created += other.Created
	r.Skipped += other.Skipped
	r.Failures = append(r.Failures, other.Failures...)
}

// PlansFor is the pure expansion of one medication on one day. It ignores
// the active flag and storage.
func PlansFor(med Medication, day Date) []DailyPlan {
	weekday := day.ISOWeekday()
	var plans []DailyPlan
	for _, rule := range med.Rules {
		if !rule.Days.Contains(weekday) {
			continue
		}
		dose, unit := rule.DoseFor(med)
		plans = append(plans, DailyPlan{
			UserID:         med.UserID,
			MedicationID:   med.ID,
			MedicationName: med.Name,
			Date:           day,
			Time:           rule.Time,
			Dose:           dose,
			DoseUnit:       unit,
		})
	}
	return plans
}

// MaterializeDay creates the missing plans of every active medication for day.
// The returned error covers only the listing of medications; per-medication
// problems are in the result.
func (m *Materializer) MaterializeDay(ctx context.Context, day Date) (MaterializeResult, error) {
	result := MaterializeResult{Date: day}
	if day.IsZero() {
		return result, &ValidationError{Field: "date", Message: "is required"}
	}

	meds, err := m.Store.ListMedications(ctx, MedicationFilter{ActiveOnly: true})
	if err != nil {
		return result, fmt.Errorf("list active medications: %w", err)
	}

	for _, med := range meds {
		result.add(m.materialize(ctx, med, day))
	}
	return result, nil
}

// MaterializeMedication runs the expansion for a single medication. Used
// right after a medication is created or its rules change, so a schedule
// added after the daily trigger still gets today's plans.
func (m *Materializer) MaterializeMedication(ctx context.Context, id MedicationID, day Date) (MaterializeResult, error) {
	result := MaterializeResult{Date: day}
	if day.IsZero() {
		return result, &ValidationError{Field: "date", Message: "is required"}
	}
	med, err := m.Store.GetMedication(ctx, id)
	if err != nil {
		return result, err
	}
	if !med.Active {
		return result, nil
	}
	result.add(m.materialize(ctx, med, day))
	return result, nil
}

func (m *Materializer) materialize(ctx context.Context, med Medication, day Date) MaterializeResult {
	result := MaterializeResult{Medications: 1}
	planned := PlansFor(med, day)
	if len(planned) == 0 {
		return result
	}

	var created, skipped int
	err := m.Store.WithTx(ctx, func(s Store) error {
		created, skipped = 0, 0
		for _, plan := range planned {
			_, ok, err := m.Ledger.upsertIn(ctx, s, plan)
			if err != nil {
				return fmt.Errorf("plan at %s: %w", plan.Time, err)
			}
			if ok {
				created++
			} else {
				skipped++
			}
		}
		return nil
	})
	if err != nil {
		result.Failures = []MedicationFailure{{MedicationID: med.ID, Err: err}}
		return result
	}
	result.Created = created
	result.Skipped = skipped
	return result
}
