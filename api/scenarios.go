/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Provides pre-built scenarios that populate the database with realistic
  data for demos. Each scenario creates users, medications and care
  relationships, materializes plans and records some intakes.

AVAILABLE SCENARIOS:
  daily-routine: one user, three schedules, a week of history
  family-care:   a user supervised by a family member
  makeup-dose:   a missed morning dose taken later with a reason

HOW SCENARIOS WORK:
  1. Reset every store
  2. Register users with the shared demo password (each also gets a token
     in the response)
  3. Create medications from factory presets
  4. Materialize the relevant days through the normal run path
  5. Record check-ins against the materialized plans

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "family-care"}

NOTE:
  Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: the endpoints these loaders drive
  - factory/medication.go: DailyJSON, WeekdaysJSON presets
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/medguardian/adherence-engine/adherence"
	"github.com/medguardian/adherence-engine/care"
	"github.com/medguardian/adherence-engine/factory"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "daily-routine",
		Name:        "Daily Routine",
		Description: "Vitamin D every morning, metformin twice a day, a weekend supplement; last week taken on time",
	},
	{
		ID:          "family-care",
		Name:        "Family Care",
		Description: "A parent on blood pressure medication, supervised by their child through an invite code",
	},
	{
		ID:          "makeup-dose",
		Name:        "Makeup Dose",
		Description: "Yesterday's morning dose was missed and taken at noon with a reason",
	},
}

// scenarioBuild collects what a loader created for the response.
type scenarioBuild struct {
	users []care.User
	plans int
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the stores and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decode(w, r, &req) {
		return
	}
	ctx := r.Context()

	var load func(context.Context, *scenarioBuild) error
	switch req.ScenarioID {
	case "daily-routine":
		load = h.loadDailyRoutineScenario
	case "family-care":
		load = h.loadFamilyCareScenario
	case "makeup-dose":
		load = h.loadMakeupDoseScenario
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("no scenario %q", req.ScenarioID))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	var b scenarioBuild
	if err := load(ctx, &b); err != nil {
		h.Log.Error("scenario load failed", "scenario", req.ScenarioID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}
	h.currentScenario = req.ScenarioID

	resp := ScenarioLoadedDTO{ScenarioID: req.ScenarioID, Plans: b.plans, Users: []RegisterResponse{}}
	for _, u := range b.users {
		s, err := h.session(u)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to issue token", err)
			return
		}
		resp.Users = append(resp.Users, s)
	}
	h.Log.Info("scenario loaded", "scenario", req.ScenarioID, "users", len(b.users), "plans", b.plans)
	writeJSON(w, http.StatusOK, resp)
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) reset(ctx context.Context) error {
	for _, s := range h.stores {
		if rs, ok := s.(interface{ Reset(context.Context) error }); ok {
			if err := rs.Reset(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadDailyRoutineScenario(ctx context.Context, b *scenarioBuild) error {
	alex, err := h.scenarioUser(ctx, b, "alex")
	if err != nil {
		return err
	}
	if _, err := h.scenarioMedication(ctx, alex.ID, factory.DailyJSON("Vitamin D", 1, "tablet", "08:00")); err != nil {
		return err
	}
	if _, err := h.scenarioMedication(ctx, alex.ID, factory.DailyJSON("Metformin", 500, "mg", "08:00", "20:00")); err != nil {
		return err
	}
	if _, err := h.scenarioMedication(ctx, alex.ID, factory.WeekdaysJSON("Omega-3", 2, "capsule", "12:30", 6, 7)); err != nil {
		return err
	}

	// A week of history: every past plan taken ten minutes late.
	today := h.today()
	for day := today.AddDays(-6); !day.After(today); day = day.AddDays(1) {
		if err := h.scenarioMaterialize(ctx, b, day); err != nil {
			return err
		}
		if !day.Before(today) {
			continue
		}
		plans, err := h.Ledger.PlansForUserOnDate(ctx, alex.ID, day)
		if err != nil {
			return err
		}
		for _, p := range plans {
			if _, err := h.Recorder.Record(ctx, adherence.CheckinInput{
				UserID:       alex.ID,
				MedicationID: p.MedicationID,
				PlanID:       p.ID,
				ActualAt:     p.ScheduledAt(h.Now().Location()).Add(10 * time.Minute),
				FulfillPlan:  true,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *Handler) loadFamilyCareScenario(ctx context.Context, b *scenarioBuild) error {
	parent, err := h.scenarioUser(ctx, b, "rosa")
	if err != nil {
		return err
	}
	child, err := h.scenarioUser(ctx, b, "sam")
	if err != nil {
		return err
	}
	if _, err := h.scenarioMedication(ctx, parent.ID, factory.DailyJSON("Lisinopril", 10, "mg", "07:30")); err != nil {
		return err
	}
	if _, err := h.scenarioMedication(ctx, parent.ID, factory.WeekdaysJSON("Atorvastatin", 20, "mg", "21:00", 1, 3, 5)); err != nil {
		return err
	}
	if _, err := h.Care.AddCare(ctx, child.ID, parent.InviteCode, care.RelationFamily); err != nil {
		return err
	}
	return h.scenarioMaterialize(ctx, b, h.today())
}

func (h *Handler) loadMakeupDoseScenario(ctx context.Context, b *scenarioBuild) error {
	user, err := h.scenarioUser(ctx, b, "jordan")
	if err != nil {
		return err
	}
	med, err := h.scenarioMedication(ctx, user.ID, factory.DailyJSON("Levothyroxine", 50, "mcg", "07:00"))
	if err != nil {
		return err
	}

	yesterday := h.today().AddDays(-1)
	for _, day := range []adherence.Date{yesterday, h.today()} {
		if err := h.scenarioMaterialize(ctx, b, day); err != nil {
			return err
		}
	}
	plans, err := h.Ledger.PlansForUserOnDate(ctx, user.ID, yesterday)
	if err != nil {
		return err
	}
	for _, p := range plans {
		if _, err := h.Recorder.Record(ctx, adherence.CheckinInput{
			UserID:       user.ID,
			MedicationID: med.ID,
			PlanID:       p.ID,
			ActualAt:     yesterday.At(adherence.MustTimeOfDay("12:15"), h.Now().Location()),
			IsMakeup:     true,
			MakeupReason: "forgot before leaving for work",
			FulfillPlan:  true,
		}); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// DemoPassword is the password of every scenario user.
const DemoPassword = "demo-pass"

func (h *Handler) scenarioUser(ctx context.Context, b *scenarioBuild, username string) (care.User, error) {
	u, err := h.Care.Register(ctx, username, DemoPassword)
	if err != nil {
		return care.User{}, fmt.Errorf("register %s: %w", username, err)
	}
	b.users = append(b.users, u)
	return u, nil
}

func (h *Handler) scenarioMedication(ctx context.Context, user adherence.UserID, jsonStr string) (adherence.Medication, error) {
	med, err := h.Factory.ParseMedication(jsonStr)
	if err != nil {
		return adherence.Medication{}, err
	}
	med.UserID = user
	created, err := h.Catalog.Create(ctx, med)
	if err != nil {
		return adherence.Medication{}, fmt.Errorf("create %s: %w", med.Name, err)
	}
	return created, nil
}

func (h *Handler) scenarioMaterialize(ctx context.Context, b *scenarioBuild, day adherence.Date) error {
	run, err := h.runner.day(ctx, adherence.TriggerManual, day)
	if err != nil {
		return err
	}
	if run.Failed > 0 {
		return fmt.Errorf("materialize %s: %s", day, run.Error)
	}
	b.plans += run.Created
	return nil
}
