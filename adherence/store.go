/*
store.go - Persistence contracts for medications, rules, plans and check-ins

PURPOSE:
  Defines the interface between the engine and the database. The engine
  never opens connections or reads globals; it is handed a TxStore.

KEY INTERFACES:
  MedicationStore: medication metadata (rules loaded alongside)
  RuleStore:       ordered recurrence rules, replaced as a whole
  PlanStore:       DailyPlan rows keyed by natural key
  CheckinStore:    check-ins and their ordered photos
  TxStore:         all of the above plus WithTx for atomic calls

NATURAL KEY CONTRACT:
  InsertPlan must fail with ErrDuplicatePlan when a plan with the same
  (user, medication, date, time) exists. Implementations enforce this with
  a uniqueness constraint so that concurrent materializations collide
  instead of duplicating.

NOT-FOUND CONTRACT:
  Get/Find methods return *NotFoundError, never (zero, nil).

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - adherence/store/memory.go: in-memory for tests and dev
*/
package adherence

import (
	"context"
	"time"
)

type MedicationFilter struct {
	UserID     UserID // empty: all users
	ActiveOnly bool
}

// PlanFilter selects plans. From and To are inclusive.
// Results are ordered by date ascending (descending with NewestFirst),
// then scheduled time ascending.
type PlanFilter struct {
	UserID       UserID
	MedicationID MedicationID
	From         *Date
	To           *Date
	NewestFirst  bool
}

// CheckinFilter selects check-ins, newest actual time first.
type CheckinFilter struct {
	UserID       UserID
	MedicationID MedicationID
	PlanID       PlanID
	Limit        int
}

type MedicationStore interface {
	// SaveMedication inserts or updates metadata. Rules are untouched.
	SaveMedication(ctx context.Context, med Medication) error
	GetMedication(ctx context.Context, id MedicationID) (Medication, error)
	ListMedications(ctx context.Context, filter MedicationFilter) ([]Medication, error)
	// DeleteMedication removes the medication with its rules, plans,
	// check-ins and photos.
	DeleteMedication(ctx context.Context, id MedicationID) error
}

type RuleStore interface {
	RulesFor(ctx context.Context, id MedicationID) ([]Rule, error)
	// SetRules replaces the full rule set, preserving slice order.
	SetRules(ctx context.Context, id MedicationID, rules []Rule) error
}

type PlanStore interface {
	InsertPlan(ctx context.Context, plan DailyPlan) error
	GetPlan(ctx context.Context, id PlanID) (DailyPlan, error)
	FindPlan(ctx context.Context, key NaturalKey) (DailyPlan, error)
	ListPlans(ctx context.Context, filter PlanFilter) ([]DailyPlan, error)
	SetPlanTaken(ctx context.Context, id PlanID, taken bool, at time.Time) error
	DeletePlansForMedication(ctx context.Context, id MedicationID) (int, error)
}

type CheckinStore interface {
	// InsertCheckin persists the check-in and its photos.
	InsertCheckin(ctx context.Context, c Checkin) error
	GetCheckin(ctx context.Context, id CheckinID) (Checkin, error)
	ListCheckins(ctx context.Context, filter CheckinFilter) ([]Checkin, error)
	// PutPhotos upserts photos by sort order; an existing index is replaced.
	PutPhotos(ctx context.Context, id CheckinID, photos []Photo) error
}

type Store interface {
	MedicationStore
	RuleStore
	PlanStore
	CheckinStore
}

// TxStore wraps Store with transaction support.
// If fn returns an error every write made through the passed Store is
// rolled back; otherwise all of them are committed together.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(Store) error) error
}
