/*
Package factory provides JSON to Go medication conversion.

PURPOSE:
  Converts JSON medication definitions (as sent by the mobile client and as
  used by the demo scenarios) into adherence.Medication values with typed,
  validated recurrence rules. Rules are parsed once here; the engine never
  sees raw "HH:MM" strings.

JSON SCHEMA:
  {
    "name": "Metformin",
    "default_dose": 1,
    "dose_unit": "tablet",
    "notes": "with food",
    "rules": [
      {"time": "08:00", "days": [1,2,3,4,5,6,7]},
      {"time": "20:00", "days": [1,3,5], "dose": 0.5, "require_photo": true}
    ]
  }

USAGE:
  f := factory.NewMedicationFactory()
  med, err := f.ParseMedication(jsonString)
  med.UserID = user
  med, err = catalog.Create(ctx, med)

SEE ALSO:
  - adherence/types.go: Medication and Rule
  - api/scenarios.go: presets built from this schema
*/
package factory

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/medguardian/adherence-engine/adherence"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

type MedicationJSON struct {
	ID          string     `json:"id,omitempty"`
	UserID      string     `json:"user_id,omitempty"`
	Name        string     `json:"name"`
	Notes       string     `json:"notes,omitempty"`
	DefaultDose float64    `json:"default_dose"`
	DoseUnit    string     `json:"dose_unit"`
	Active      *bool      `json:"active,omitempty"`
	Rules       []RuleJSON `json:"rules"`
}

type RuleJSON struct {
	Time         string   `json:"time"`
	Days         []int    `json:"days"`
	Dose         *float64 `json:"dose,omitempty"`
	DoseUnit     string   `json:"dose_unit,omitempty"`
	RequirePhoto bool     `json:"require_photo,omitempty"`
}

// =============================================================================
// FACTORY
// =============================================================================

type MedicationFactory struct{}

func NewMedicationFactory() *MedicationFactory {
	return &MedicationFactory{}
}

// ParseMedication decodes and converts a JSON medication.
func (f *MedicationFactory) ParseMedication(jsonStr string) (adherence.Medication, error) {
	var mj MedicationJSON
	if err := json.Unmarshal([]byte(jsonStr), &mj); err != nil {
		return adherence.Medication{}, &adherence.ValidationError{Field: "body", Message: fmt.Sprintf("invalid medication JSON: %v", err)}
	}
	return f.FromJSON(mj)
}

// FromJSON converts the schema type. Ownership and activity are left for the
// caller to decide; validation of the whole medication happens on Create.
func (f *MedicationFactory) FromJSON(mj MedicationJSON) (adherence.Medication, error) {
	rules, err := f.ParseRules(mj.Rules)
	if err != nil {
		return adherence.Medication{}, err
	}
	med := adherence.Medication{
		ID:          adherence.MedicationID(mj.ID),
		UserID:      adherence.UserID(mj.UserID),
		Name:        mj.Name,
		Notes:       mj.Notes,
		Active:      mj.Active == nil || *mj.Active,
		DefaultDose: decimal.NewFromFloat(mj.DefaultDose),
		DoseUnit:    mj.DoseUnit,
		Rules:       rules,
	}
	return med, nil
}

// ParseRules converts rule JSON, reporting the index of the first bad rule.
func (f *MedicationFactory) ParseRules(rjs []RuleJSON) ([]adherence.Rule, error) {
	rules := make([]adherence.Rule, 0, len(rjs))
	for i, rj := range rjs {
		r, err := parseRule(rj)
		if err != nil {
			return nil, indexed(i, err)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

func parseRule(rj RuleJSON) (adherence.Rule, error) {
	r, err := adherence.NewRule(rj.Time, rj.Days...)
	if err != nil {
		return adherence.Rule{}, err
	}
	if rj.Dose != nil {
		r.Dose = decimal.NewNullDecimal(decimal.NewFromFloat(*rj.Dose))
	}
	r.DoseUnit = rj.DoseUnit
	r.RequirePhoto = rj.RequirePhoto
	if err := r.Validate(); err != nil {
		return adherence.Rule{}, err
	}
	return r, nil
}

// indexed prefixes the field of a (possibly wrapped) validation error with
// the rule's position.
func indexed(i int, err error) error {
	var ve *adherence.ValidationError
	if errors.As(err, &ve) {
		return &adherence.ValidationError{Field: fmt.Sprintf("rules[%d].%s", i, ve.Field), Message: ve.Message}
	}
	return err
}

// ToJSON converts back to the schema type.
func (f *MedicationFactory) ToJSON(med adherence.Medication) MedicationJSON {
	active := med.Active
	return MedicationJSON{
		ID:          string(med.ID),
		UserID:      string(med.UserID),
		Name:        med.Name,
		Notes:       med.Notes,
		DefaultDose: med.DefaultDose.InexactFloat64(),
		DoseUnit:    med.DoseUnit,
		Active:      &active,
		Rules:       RulesToJSON(med.Rules),
	}
}

func RulesToJSON(rules []adherence.Rule) []RuleJSON {
	out := make([]RuleJSON, 0, len(rules))
	for _, r := range rules {
		rj := RuleJSON{
			Time:         r.Time.String(),
			Days:         r.Days.Days(),
			DoseUnit:     r.DoseUnit,
			RequirePhoto: r.RequirePhoto,
		}
		if r.Dose.Valid {
			d := r.Dose.Decimal.InexactFloat64()
			rj.Dose = &d
		}
		out = append(out, rj)
	}
	return out
}

// =============================================================================
// PRESETS
// =============================================================================

var everyDay = []int{1, 2, 3, 4, 5, 6, 7}

// DailyJSON is one intake per listed time, every day.
func DailyJSON(name string, dose float64, unit string, times ...string) string {
	mj := MedicationJSON{Name: name, DefaultDose: dose, DoseUnit: unit}
	for _, t := range times {
		mj.Rules = append(mj.Rules, RuleJSON{Time: t, Days: everyDay})
	}
	return mustJSON(mj)
}

// WeekdaysJSON is one intake at the given time on the listed ISO weekdays.
func WeekdaysJSON(name string, dose float64, unit, at string, days ...int) string {
	return mustJSON(MedicationJSON{
		Name: name, DefaultDose: dose, DoseUnit: unit,
		Rules: []RuleJSON{{Time: at, Days: days}},
	})
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}
