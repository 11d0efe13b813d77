/*
Package adherence provides the daily plan materialization engine.

PURPOSE:
  Medications carry recurring dosage rules (time of day + ISO weekday set +
  dose). The engine expands those rules into concrete DailyPlan rows for a
  given day, keeps exactly one row per natural key, and records check-ins
  against them.

KEY CONCEPTS IN THIS FILE (types.go):
  - Medication: owner, default dose, active flag, ordered rules
  - Rule: one (time, weekdays, dose) recurrence
  - DailyPlan: dated, timed intake obligation; natural key
    (user, medication, date, time)
  - Checkin: an actual intake event, optionally linked to a plan

DESIGN PRINCIPLES:
  1. Rules are parsed and validated once, when written. Materialization
     only reads typed values.
  2. Plans are history: only the taken flag changes after creation.
  3. Doses are decimals (half tablets are common).
  4. The engine never reads a clock for the target day; callers pass it.

SEE ALSO:
  - materializer.go: rule expansion
  - ledger.go: plan persistence and fulfillment
  - checkin.go: check-in recording
*/
package adherence

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type MedicationID string
type PlanID string
type CheckinID string

// =============================================================================
// RECURRENCE RULE
// =============================================================================

// Rule describes when a medication is taken. An unset Dose or empty DoseUnit
// falls back to the medication defaults.
type Rule struct {
	Time         TimeOfDay
	Days         WeekdaySet
	Dose         decimal.NullDecimal
	DoseUnit     string
	RequirePhoto bool
}

// NewRule parses a "HH:MM" time and an ISO weekday list.
func NewRule(at string, days ...int) (Rule, error) {
	tod, err := ParseTimeOfDay(at)
	if err != nil {
		return Rule{}, err
	}
	set, err := NewWeekdaySet(days...)
	if err != nil {
		return Rule{}, err
	}
	return Rule{Time: tod, Days: set}, nil
}

func (r Rule) Validate() error {
	if r.Time < 0 || r.Time >= 24*60 {
		return &ValidationError{Field: "time", Message: fmt.Sprintf("minute offset %d is out of range", int(r.Time))}
	}
	if r.Days.IsEmpty() {
		return &ValidationError{Field: "days", Message: "at least one weekday is required"}
	}
	if _, err := WeekdaySetFromMask(r.Days.Mask()); err != nil {
		return err
	}
	if r.Dose.Valid && !r.Dose.Decimal.IsPositive() {
		return &ValidationError{Field: "dose", Message: "must be positive"}
	}
	return nil
}

// AppliesOn reports whether the rule schedules an intake on day.
func (r Rule) AppliesOn(day Date) bool {
	return r.Days.Contains(day.ISOWeekday())
}

// DoseFor resolves the dose and unit against the medication defaults.
func (r Rule) DoseFor(med Medication) (decimal.Decimal, string) {
	dose := med.DefaultDose
	if r.Dose.Valid {
		dose = r.Dose.Decimal
	}
	unit := med.DoseUnit
	if strings.TrimSpace(r.DoseUnit) != "" {
		unit = r.DoseUnit
	}
	return dose, unit
}

// =============================================================================
// MEDICATION
// =============================================================================

type Medication struct {
	ID          MedicationID
	UserID      UserID
	Name        string
	Notes       string
	Active      bool
	DefaultDose decimal.Decimal
	DoseUnit    string
	Rules       []Rule
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (m Medication) Validate() error {
	if m.UserID == "" {
		return &ValidationError{Field: "user_id", Message: "is required"}
	}
	if strings.TrimSpace(m.Name) == "" {
		return &ValidationError{Field: "name", Message: "is required"}
	}
	if !m.DefaultDose.IsPositive() {
		return &ValidationError{Field: "default_dose", Message: "must be positive"}
	}
	if strings.TrimSpace(m.DoseUnit) == "" {
		return &ValidationError{Field: "dose_unit", Message: "is required"}
	}
	return ValidateRules(m.Rules)
}

// ValidateRules checks every rule and reports the first failure with its index.
func ValidateRules(rules []Rule) error {
	for i, r := range rules {
		if err := r.Validate(); err != nil {
			var ve *ValidationError
			if errors.As(err, &ve) {
				return &ValidationError{Field: fmt.Sprintf("rules[%d].%s", i, ve.Field), Message: ve.Message}
			}
			return err
		}
	}
	return nil
}

// =============================================================================
// DAILY PLAN
// =============================================================================

// NaturalKey identifies a DailyPlan. At most one plan exists per key.
type NaturalKey struct {
	UserID       UserID
	MedicationID MedicationID
	Date         Date
	Time         TimeOfDay
}

func (k NaturalKey) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", k.UserID, k.MedicationID, k.Date, k.Time)
}

type DailyPlan struct {
	ID             PlanID
	UserID         UserID
	MedicationID   MedicationID
	MedicationName string // joined at read time, not persisted on the plan
	Date           Date
	Time           TimeOfDay
	Dose           decimal.Decimal
	DoseUnit       string
	Taken          bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (p DailyPlan) Key() NaturalKey {
	return NaturalKey{UserID: p.UserID, MedicationID: p.MedicationID, Date: p.Date, Time: p.Time}
}

// ScheduledAt is the instant the plan falls due for a user whose wall
// clock runs in loc.
func (p DailyPlan) ScheduledAt(loc *time.Location) time.Time {
	return p.Date.At(p.Time, loc)
}

func (p DailyPlan) validate() error {
	switch {
	case p.UserID == "":
		return &ValidationError{Field: "user_id", Message: "is required"}
	case p.MedicationID == "":
		return &ValidationError{Field: "medication_id", Message: "is required"}
	case p.Date.IsZero():
		return &ValidationError{Field: "plan_date", Message: "is required"}
	case !p.Dose.IsPositive():
		return &ValidationError{Field: "dose", Message: "must be positive"}
	}
	return nil
}

// =============================================================================
// CHECK-IN
// =============================================================================

type CheckinKind string

const (
	KindOnTime  CheckinKind = "on_time"
	KindMakeup  CheckinKind = "makeup"
	KindSkipped CheckinKind = "skipped"
	KindMissed  CheckinKind = "missed"
)

func (k CheckinKind) Valid() bool {
	switch k {
	case KindOnTime, KindMakeup, KindSkipped, KindMissed:
		return true
	}
	return false
}

// TookDose reports whether the kind represents an actual intake.
func (k CheckinKind) TookDose() bool {
	return k == KindOnTime || k == KindMakeup
}

// Photo is an ordered attachment. SortOrder is unique per check-in.
type Photo struct {
	URL       string
	SortOrder int
	CreatedAt time.Time
}

type Checkin struct {
	ID             CheckinID
	UserID         UserID
	MedicationID   MedicationID
	MedicationName string
	PlanID         PlanID // empty for ad-hoc doses
	PlannedAt      *time.Time
	ActualAt       time.Time
	Dose           decimal.Decimal
	DoseUnit       string
	Kind           CheckinKind
	IsMakeup       bool
	MakeupReason   string
	Notes          string
	Photos         []Photo
	CreatedAt      time.Time
}

func (c Checkin) HasPlan() bool { return c.PlanID != "" }
