/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupling the
  adherence model from the wire contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

DOSES:
  The model keeps doses as decimal.Decimal. On the wire they are plain
  JSON numbers, so conversion happens here.

TIMES:
  Dates are YYYY-MM-DD, times of day HH:MM, instants RFC 3339 UTC.
*/
package api

import (
	"time"

	"github.com/medguardian/adherence-engine/adherence"
	"github.com/medguardian/adherence-engine/care"
	"github.com/medguardian/adherence-engine/factory"
)

// =============================================================================
// USERS
// =============================================================================

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type UserDTO struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	InviteCode string `json:"invite_code"`
	CreatedAt  string `json:"created_at"`
}

// RegisterResponse carries the account and a fresh bearer token. Login
// returns the same shape.
type RegisterResponse struct {
	User      UserDTO `json:"user"`
	Token     string  `json:"token"`
	ExpiresAt string  `json:"expires_at"`
}

// =============================================================================
// MEDICATIONS
// =============================================================================

type MedicationDTO struct {
	ID          string             `json:"id"`
	UserID      string             `json:"user_id"`
	Name        string             `json:"name"`
	Notes       string             `json:"notes,omitempty"`
	Active      bool               `json:"active"`
	DefaultDose float64            `json:"default_dose"`
	DoseUnit    string             `json:"dose_unit"`
	Rules       []factory.RuleJSON `json:"rules"`
	CreatedAt   string             `json:"created_at"`
	UpdatedAt   string             `json:"updated_at"`
}

// SetRulesRequest replaces a medication's rule set.
type SetRulesRequest struct {
	Rules []factory.RuleJSON `json:"rules"`
}

// =============================================================================
// PLANS
// =============================================================================

type PlanDTO struct {
	ID             string  `json:"id"`
	UserID         string  `json:"user_id"`
	MedicationID   string  `json:"medication_id"`
	MedicationName string  `json:"medication_name"`
	PlanDate       string  `json:"plan_date"`
	ScheduledTime  string  `json:"scheduled_time"`
	Dose           float64 `json:"dose"`
	DoseUnit       string  `json:"dose_unit"`
	IsTaken        bool    `json:"is_taken"`
}

type TakePlanRequest struct {
	PlanID string `json:"plan_id"`
}

// =============================================================================
// CHECK-INS
// =============================================================================

type PhotoDTO struct {
	URL       string `json:"url"`
	SortOrder int    `json:"sort_order"`
}

type CheckinRequest struct {
	MedicationID string     `json:"medication_id"`
	PlanID       string     `json:"plan_id,omitempty"`
	ActualAt     *time.Time `json:"actual_at,omitempty"`
	Dose         *float64   `json:"dose,omitempty"`
	DoseUnit     string     `json:"dose_unit,omitempty"`
	Kind         string     `json:"kind,omitempty"`
	IsMakeup     bool       `json:"is_makeup,omitempty"`
	MakeupReason string     `json:"makeup_reason,omitempty"`
	Notes        string     `json:"notes,omitempty"`
	Photos       []PhotoDTO `json:"photos,omitempty"`
	FulfillPlan  bool       `json:"fulfill_plan,omitempty"`
}

type CheckinDTO struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	MedicationID   string     `json:"medication_id"`
	MedicationName string     `json:"medication_name,omitempty"`
	PlanID         string     `json:"plan_id,omitempty"`
	PlannedAt      *string    `json:"planned_at,omitempty"`
	ActualAt       string     `json:"actual_at"`
	Dose           float64    `json:"dose"`
	DoseUnit       string     `json:"dose_unit"`
	Kind           string     `json:"kind"`
	IsMakeup       bool       `json:"is_makeup"`
	MakeupReason   string     `json:"makeup_reason,omitempty"`
	Notes          string     `json:"notes,omitempty"`
	Photos         []PhotoDTO `json:"photos"`
	CreatedAt      string     `json:"created_at"`
}

type AttachPhotosRequest struct {
	Photos []PhotoDTO `json:"photos"`
}

// =============================================================================
// CARE
// =============================================================================

type AddCareRequest struct {
	InviteCode   string `json:"invite_code"`
	RelationType string `json:"relation_type,omitempty"`
}

type SupervisionDTO struct {
	ID             string `json:"id"`
	SupervisorID   string `json:"supervisor_id"`
	SupervisorName string `json:"supervisor_name,omitempty"`
	SupervisedID   string `json:"supervised_id"`
	SupervisedName string `json:"supervised_name,omitempty"`
	RelationType   string `json:"relation_type"`
	Status         string `json:"status"`
	CreatedAt      string `json:"created_at"`
}

// =============================================================================
// ADMIN
// =============================================================================

// MaterializeRequest names the day to materialize; empty means today.
type MaterializeRequest struct {
	Date string `json:"date,omitempty"`
}

type MaterializationRunDTO struct {
	ID          string `json:"id"`
	Date        string `json:"date"`
	Trigger     string `json:"trigger"`
	Medications int    `json:"medications"`
	Created     int    `json:"created"`
	Skipped     int    `json:"skipped"`
	Failed      int    `json:"failed"`
	Error       string `json:"error,omitempty"`
	StartedAt   string `json:"started_at"`
	FinishedAt  string `json:"finished_at"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ScenarioLoadedDTO reports the demo accounts a scenario created, with a
// token each so a client can act as any of them.
type ScenarioLoadedDTO struct {
	ScenarioID string             `json:"scenario_id"`
	Users      []RegisterResponse `json:"users"`
	Plans      int                `json:"plans_created"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func formatInstant(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toUserDTO(u care.User) UserDTO {
	return UserDTO{
		ID:         string(u.ID),
		Username:   u.Username,
		InviteCode: u.InviteCode,
		CreatedAt:  formatInstant(u.CreatedAt),
	}
}

func toMedicationDTO(m adherence.Medication) MedicationDTO {
	return MedicationDTO{
		ID:          string(m.ID),
		UserID:      string(m.UserID),
		Name:        m.Name,
		Notes:       m.Notes,
		Active:      m.Active,
		DefaultDose: m.DefaultDose.InexactFloat64(),
		DoseUnit:    m.DoseUnit,
		Rules:       factory.RulesToJSON(m.Rules),
		CreatedAt:   formatInstant(m.CreatedAt),
		UpdatedAt:   formatInstant(m.UpdatedAt),
	}
}

func toMedicationDTOs(meds []adherence.Medication) []MedicationDTO {
	out := make([]MedicationDTO, len(meds))
	for i, m := range meds {
		out[i] = toMedicationDTO(m)
	}
	return out
}

func toPlanDTO(p adherence.DailyPlan) PlanDTO {
	return PlanDTO{
		ID:             string(p.ID),
		UserID:         string(p.UserID),
		MedicationID:   string(p.MedicationID),
		MedicationName: p.MedicationName,
		PlanDate:       p.Date.String(),
		ScheduledTime:  p.Time.String(),
		Dose:           p.Dose.InexactFloat64(),
		DoseUnit:       p.DoseUnit,
		IsTaken:        p.Taken,
	}
}

func toPlanDTOs(plans []adherence.DailyPlan) []PlanDTO {
	out := make([]PlanDTO, len(plans))
	for i, p := range plans {
		out[i] = toPlanDTO(p)
	}
	return out
}

func toPhotos(in []PhotoDTO) []adherence.Photo {
	out := make([]adherence.Photo, len(in))
	for i, p := range in {
		out[i] = adherence.Photo{URL: p.URL, SortOrder: p.SortOrder}
	}
	return out
}

func toCheckinDTO(c adherence.Checkin) CheckinDTO {
	dto := CheckinDTO{
		ID:             string(c.ID),
		UserID:         string(c.UserID),
		MedicationID:   string(c.MedicationID),
		MedicationName: c.MedicationName,
		PlanID:         string(c.PlanID),
		ActualAt:       formatInstant(c.ActualAt),
		Dose:           c.Dose.InexactFloat64(),
		DoseUnit:       c.DoseUnit,
		Kind:           string(c.Kind),
		IsMakeup:       c.IsMakeup,
		MakeupReason:   c.MakeupReason,
		Notes:          c.Notes,
		Photos:         make([]PhotoDTO, len(c.Photos)),
		CreatedAt:      formatInstant(c.CreatedAt),
	}
	if c.PlannedAt != nil {
		s := formatInstant(*c.PlannedAt)
		dto.PlannedAt = &s
	}
	for i, p := range c.Photos {
		dto.Photos[i] = PhotoDTO{URL: p.URL, SortOrder: p.SortOrder}
	}
	return dto
}

func toCheckinDTOs(cs []adherence.Checkin) []CheckinDTO {
	out := make([]CheckinDTO, len(cs))
	for i, c := range cs {
		out[i] = toCheckinDTO(c)
	}
	return out
}

func toSupervisionDTO(s care.Supervision) SupervisionDTO {
	return SupervisionDTO{
		ID:             s.ID,
		SupervisorID:   string(s.SupervisorID),
		SupervisorName: s.SupervisorName,
		SupervisedID:   string(s.SupervisedID),
		SupervisedName: s.SupervisedName,
		RelationType:   string(s.Relation),
		Status:         string(s.Status),
		CreatedAt:      formatInstant(s.CreatedAt),
	}
}

func toSupervisionDTOs(ss []care.Supervision) []SupervisionDTO {
	out := make([]SupervisionDTO, len(ss))
	for i, s := range ss {
		out[i] = toSupervisionDTO(s)
	}
	return out
}

func toRunDTO(r adherence.MaterializationRun) MaterializationRunDTO {
	return MaterializationRunDTO{
		ID:          r.ID,
		Date:        r.Date.String(),
		Trigger:     string(r.Trigger),
		Medications: r.Medications,
		Created:     r.Created,
		Skipped:     r.Skipped,
		Failed:      r.Failed,
		Error:       r.Error,
		StartedAt:   formatInstant(r.StartedAt),
		FinishedAt:  formatInstant(r.FinishedAt),
	}
}

func toRunDTOs(runs []adherence.MaterializationRun) []MaterializationRunDTO {
	out := make([]MaterializationRunDTO, len(runs))
	for i, r := range runs {
		out[i] = toRunDTO(r)
	}
	return out
}
