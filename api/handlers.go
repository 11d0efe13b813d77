/*
handlers.go - HTTP API handlers for the adherence engine

PURPOSE:
  Exposes medications, daily plans, check-ins and supervision via REST.
  Handles HTTP request/response, JSON serialization, and delegates to the
  adherence and care packages.

ENDPOINTS:
  Users:
    POST   /api/users                     Register (public), returns a token
    POST   /api/login                     Password login (public), returns a token
    GET    /api/me                        Current user

  Medications:
    GET    /api/medications               List own medications
    POST   /api/medications               Create, then materialize today
    GET    /api/medications/{id}          Get
    PUT    /api/medications/{id}/rules    Replace rules, then materialize today
    POST   /api/medications/{id}/deactivate  Stop future plans
    DELETE /api/medications/{id}          Delete with plans and check-ins

  Plans:
    GET    /api/plans/today               Today's plans
    GET    /api/plans?date= | ?from=&to=  By day or inclusive range
    GET    /api/plans/all                 Every plan, newest day first
    POST   /api/plans/take                Mark a plan taken

  Check-ins:
    POST   /api/checkins                  Record an intake
    GET    /api/checkins                  History
    POST   /api/checkins/{id}/photos      Attach photos

  Care:
    GET    /api/care/my_cares             People I supervise
    GET    /api/care/cares_me             People supervising me
    POST   /api/care/add                  Supervise by invite code
    POST   /api/care/{id}/block           Revoke a supervisor
    GET    /api/care/{id}/plans           Read a supervised user's plans

  Admin:
    POST   /api/admin/materialize         Manual run for today
    GET    /api/admin/materializations    Run history

ARCHITECTURE:
  Handler holds the engine services built over one TxStore, the care
  service (which is also the plan read policy) and the authenticator.

REQUEST FLOW:
  1. Parse HTTP request
  2. Resolve the caller from the bearer token
  3. Call domain logic (catalog, ledger, recorder, care)
  4. Serialize response
  5. Map errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 401: Missing or invalid token, failed login
  - 403: Acting on another user's data (logged)
  - 404: Resource not found
  - 409: Conflict (duplicate username, supervision)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/medguardian/adherence-engine/adherence"
	"github.com/medguardian/adherence-engine/care"
	"github.com/medguardian/adherence-engine/factory"
)

const defaultHistoryLimit = 100

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Deps are the stores and settings a Handler is built from.
type Deps struct {
	Store adherence.TxStore
	Runs  adherence.RunStore
	Users care.Store
	Auth  *Authenticator
	Log   *slog.Logger
	Now   func() time.Time // defaults to time.Now

	PasswordCost int // bcrypt cost; zero uses the bcrypt default
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Catalog      *adherence.Catalog
	Ledger       *adherence.Ledger
	Materializer *adherence.Materializer
	Recorder     *adherence.Recorder
	Care         *care.Service
	Runs         adherence.RunStore
	Auth         *Authenticator
	Factory      *factory.MedicationFactory
	Log          *slog.Logger
	Now          func() time.Time

	runner *runner
	stores []any // inspected for Reset and Ping

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler wires the services over the given stores with a shared clock.
func NewHandler(d Deps) *Handler {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	log := d.Log
	if log == nil {
		log = slog.Default()
	}

	careSvc := care.NewService(d.Users)
	careSvc.Now = now
	if d.PasswordCost != 0 {
		careSvc.PasswordCost = d.PasswordCost
	}

	catalog := adherence.NewCatalog(d.Store)
	catalog.Now = now

	ledger := adherence.NewLedger(d.Store)
	ledger.Now = now
	ledger.Access = careSvc

	recorder := adherence.NewRecorder(d.Store)
	recorder.Now = now

	materializer := adherence.NewMaterializer(d.Store, ledger)

	h := &Handler{
		Catalog:      catalog,
		Ledger:       ledger,
		Materializer: materializer,
		Recorder:     recorder,
		Care:         careSvc,
		Runs:         d.Runs,
		Auth:         d.Auth,
		Factory:      factory.NewMedicationFactory(),
		Log:          log,
		Now:          now,
		stores:       []any{d.Store, d.Runs, d.Users},
	}
	h.runner = &runner{
		materializer: materializer,
		runs:         d.Runs,
		log:          log,
		now:          func() time.Time { return h.Now() },
		newID:        uuid.NewString,
	}
	return h
}

func (h *Handler) today() adherence.Date {
	return adherence.DateOf(h.Now())
}

// =============================================================================
// USER ENDPOINTS
// =============================================================================

// Register creates an account and returns a bearer token for it.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decode(w, r, &req) {
		return
	}
	user, err := h.Care.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	resp, err := h.session(user)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// Login exchanges a username and password for a bearer token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decode(w, r, &req) {
		return
	}
	user, err := h.Care.Login(r.Context(), req.Username, req.Password)
	if errors.Is(err, care.ErrInvalidCredentials) {
		h.Log.Warn("login failed", "username", strings.TrimSpace(req.Username))
		writeError(w, http.StatusUnauthorized, "invalid username or password", nil)
		return
	}
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	resp, err := h.session(user)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) session(user care.User) (RegisterResponse, error) {
	token, exp, err := h.Auth.Issue(user.ID)
	if err != nil {
		return RegisterResponse{}, err
	}
	return RegisterResponse{User: toUserDTO(user), Token: token, ExpiresAt: formatInstant(exp)}, nil
}

// Me returns the authenticated user.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.Care.GetUser(r.Context(), UserFrom(r.Context()))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(user))
}

// =============================================================================
// MEDICATION ENDPOINTS
// =============================================================================

func (h *Handler) ListMedications(w http.ResponseWriter, r *http.Request) {
	meds, err := h.Catalog.List(r.Context(), UserFrom(r.Context()))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMedicationDTOs(meds))
}

// CreateMedication stores the medication and its rules, then fills in
// today's plans so a schedule added mid-day is visible at once.
func (h *Handler) CreateMedication(w http.ResponseWriter, r *http.Request) {
	var req factory.MedicationJSON
	if !decode(w, r, &req) {
		return
	}
	req.ID = ""
	req.UserID = string(UserFrom(r.Context()))

	med, err := h.Factory.FromJSON(req)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	med, err = h.Catalog.Create(r.Context(), med)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.materializeToday(r.Context(), med.ID)

	writeJSON(w, http.StatusCreated, toMedicationDTO(med))
}

func (h *Handler) GetMedication(w http.ResponseWriter, r *http.Request) {
	med, err := h.Catalog.Get(r.Context(), medicationID(r), UserFrom(r.Context()))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMedicationDTO(med))
}

// SetRules replaces the rule set. Plans already materialized are kept;
// today's missing ones are added.
func (h *Handler) SetRules(w http.ResponseWriter, r *http.Request) {
	var req SetRulesRequest
	if !decode(w, r, &req) {
		return
	}
	rules, err := h.Factory.ParseRules(req.Rules)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	med, err := h.Catalog.SetRules(r.Context(), medicationID(r), UserFrom(r.Context()), rules)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.materializeToday(r.Context(), med.ID)

	writeJSON(w, http.StatusOK, toMedicationDTO(med))
}

func (h *Handler) DeactivateMedication(w http.ResponseWriter, r *http.Request) {
	med, err := h.Catalog.Deactivate(r.Context(), medicationID(r), UserFrom(r.Context()))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMedicationDTO(med))
}

func (h *Handler) DeleteMedication(w http.ResponseWriter, r *http.Request) {
	if err := h.Catalog.Delete(r.Context(), medicationID(r), UserFrom(r.Context())); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// materializeToday is best effort: the daily run or a manual trigger will
// fill anything missed here.
func (h *Handler) materializeToday(ctx context.Context, id adherence.MedicationID) {
	if _, err := h.runner.medication(ctx, id, h.today()); err != nil {
		h.Log.Error("on-demand materialization failed", "medication_id", id, "error", err)
	}
}

func medicationID(r *http.Request) adherence.MedicationID {
	return adherence.MedicationID(chi.URLParam(r, "id"))
}

// =============================================================================
// PLAN ENDPOINTS
// =============================================================================

func (h *Handler) TodayPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.Ledger.PlansForUserOnDate(r.Context(), UserFrom(r.Context()), h.today())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPlanDTOs(plans))
}

// ListPlans serves ?date= for one day or ?from=&to= for a range.
// With no parameters it returns today's plans.
func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := UserFrom(ctx)
	q := r.URL.Query()

	var (
		plans []adherence.DailyPlan
		err   error
	)
	switch {
	case q.Get("from") != "" || q.Get("to") != "":
		var from, to adherence.Date
		if from, err = adherence.ParseDate(q.Get("from")); err != nil {
			h.writeDomainError(w, r, err)
			return
		}
		if to, err = adherence.ParseDate(q.Get("to")); err != nil {
			h.writeDomainError(w, r, err)
			return
		}
		plans, err = h.Ledger.PlansForUserInRange(ctx, user, from, to)
	default:
		day, derr := dateParam(q.Get("date"), h.today())
		if derr != nil {
			h.writeDomainError(w, r, derr)
			return
		}
		plans, err = h.Ledger.PlansForUserOnDate(ctx, user, day)
	}
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPlanDTOs(plans))
}

func (h *Handler) AllPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.Ledger.AllPlansForUser(r.Context(), UserFrom(r.Context()))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPlanDTOs(plans))
}

// TakePlan marks a plan fulfilled. Repeating it is a no-op.
func (h *Handler) TakePlan(w http.ResponseWriter, r *http.Request) {
	var req TakePlanRequest
	if !decode(w, r, &req) {
		return
	}
	plan, err := h.Ledger.MarkFulfilled(r.Context(), adherence.PlanID(req.PlanID), UserFrom(r.Context()))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPlanDTO(plan))
}

func dateParam(raw string, def adherence.Date) (adherence.Date, error) {
	if raw == "" {
		return def, nil
	}
	return adherence.ParseDate(raw)
}

// =============================================================================
// CHECK-IN ENDPOINTS
// =============================================================================

func (h *Handler) RecordCheckin(w http.ResponseWriter, r *http.Request) {
	var req CheckinRequest
	if !decode(w, r, &req) {
		return
	}
	in := adherence.CheckinInput{
		UserID:       UserFrom(r.Context()),
		MedicationID: adherence.MedicationID(req.MedicationID),
		PlanID:       adherence.PlanID(req.PlanID),
		DoseUnit:     req.DoseUnit,
		Kind:         adherence.CheckinKind(req.Kind),
		IsMakeup:     req.IsMakeup,
		MakeupReason: req.MakeupReason,
		Notes:        req.Notes,
		Photos:       toPhotos(req.Photos),
		FulfillPlan:  req.FulfillPlan,
	}
	if req.ActualAt != nil {
		in.ActualAt = *req.ActualAt
	}
	if req.Dose != nil {
		in.Dose = decimal.NewNullDecimal(decimal.NewFromFloat(*req.Dose))
	}

	c, err := h.Recorder.Record(r.Context(), in)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCheckinDTO(c))
}

// ListCheckins returns the caller's history, newest first. Optional
// filters: medication_id, plan_id, limit.
func (h *Handler) ListCheckins(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := adherence.CheckinFilter{
		UserID:       UserFrom(r.Context()),
		MedicationID: adherence.MedicationID(q.Get("medication_id")),
		PlanID:       adherence.PlanID(q.Get("plan_id")),
		Limit:        defaultHistoryLimit,
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.writeDomainError(w, r, &adherence.ValidationError{Field: "limit", Message: "must be a positive integer"})
			return
		}
		filter.Limit = n
	}
	cs, err := h.Recorder.History(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCheckinDTOs(cs))
}

func (h *Handler) AttachPhotos(w http.ResponseWriter, r *http.Request) {
	var req AttachPhotosRequest
	if !decode(w, r, &req) {
		return
	}
	id := adherence.CheckinID(chi.URLParam(r, "id"))
	c, err := h.Recorder.AttachPhotos(r.Context(), id, UserFrom(r.Context()), toPhotos(req.Photos))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCheckinDTO(c))
}

// =============================================================================
// CARE ENDPOINTS
// =============================================================================

func (h *Handler) MyCares(w http.ResponseWriter, r *http.Request) {
	edges, err := h.Care.MyCares(r.Context(), UserFrom(r.Context()))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSupervisionDTOs(edges))
}

func (h *Handler) CaresMe(w http.ResponseWriter, r *http.Request) {
	edges, err := h.Care.CaresMe(r.Context(), UserFrom(r.Context()))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSupervisionDTOs(edges))
}

func (h *Handler) AddCare(w http.ResponseWriter, r *http.Request) {
	var req AddCareRequest
	if !decode(w, r, &req) {
		return
	}
	edge, err := h.Care.AddCare(r.Context(), UserFrom(r.Context()), req.InviteCode, care.Relation(req.RelationType))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSupervisionDTO(edge))
}

func (h *Handler) BlockCare(w http.ResponseWriter, r *http.Request) {
	edge, err := h.Care.Block(r.Context(), UserFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSupervisionDTO(edge))
}

// SupervisedPlans lets an active supervisor read another user's plans.
func (h *Handler) SupervisedPlans(w http.ResponseWriter, r *http.Request) {
	day, err := dateParam(r.URL.Query().Get("date"), h.today())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	owner := adherence.UserID(chi.URLParam(r, "id"))
	plans, err := h.Ledger.PlansForViewer(r.Context(), UserFrom(r.Context()), owner, day)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPlanDTOs(plans))
}

// =============================================================================
// ADMIN ENDPOINTS
// =============================================================================

// TriggerMaterialization runs today's materialization and returns the audit
// row. The optional date must be today: past days are never backfilled.
func (h *Handler) TriggerMaterialization(w http.ResponseWriter, r *http.Request) {
	var req MaterializeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	today := h.today()
	day, err := dateParam(req.Date, today)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if !day.Equal(today) {
		h.writeDomainError(w, r, &adherence.ValidationError{Field: "date", Message: "only today (" + today.String() + ") can be materialized"})
		return
	}
	run, err := h.runner.day(r.Context(), adherence.TriggerManual, day)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRunDTO(run))
}

func (h *Handler) ListMaterializations(w http.ResponseWriter, r *http.Request) {
	if h.Runs == nil {
		writeJSON(w, http.StatusOK, []MaterializationRunDTO{})
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	runs, err := h.Runs.ListMaterializationRuns(r.Context(), limit)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRunDTOs(runs))
}

// Health pings every store that supports it.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	for _, s := range h.stores {
		if p, ok := s.(interface{ Ping(context.Context) error }); ok {
			if err := p.Ping(r.Context()); err != nil {
				writeError(w, http.StatusServiceUnavailable, "storage unavailable", err)
				return
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// decode reads a JSON body, answering 400 itself on failure.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// writeDomainError maps the adherence error taxonomy onto HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var authErr *adherence.AuthorizationError
	switch {
	case errors.Is(err, adherence.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation failed", err)
	case errors.As(err, &authErr):
		h.Log.Warn("authorization denied",
			"user_id", authErr.UserID,
			"resource", authErr.Resource,
			"resource_id", authErr.ID,
			"reason", authErr.Reason,
			"path", r.URL.Path)
		writeError(w, http.StatusForbidden, "forbidden", err)
	case errors.Is(err, adherence.ErrForbidden):
		h.Log.Warn("authorization denied", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusForbidden, "forbidden", err)
	case errors.Is(err, adherence.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found", err)
	case errors.Is(err, adherence.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", err)
	default:
		h.Log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error", nil)
	}
}
