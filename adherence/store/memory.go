// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/medguardian/adherence-engine/adherence"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory is safe for concurrent use. All methods share one mutex, so the
// natural-key check in InsertPlan is atomic.
type Memory struct {
	mu sync.Mutex
	st *state
}

// state holds the data. Its methods assume the caller holds the lock.
type state struct {
	meds     map[adherence.MedicationID]adherence.Medication
	rules    map[adherence.MedicationID][]adherence.Rule
	plans    map[adherence.PlanID]adherence.DailyPlan
	planKeys map[string]adherence.PlanID // NaturalKey.String() -> id
	checkins map[adherence.CheckinID]adherence.Checkin
	runs     []adherence.MaterializationRun
}

func newState() *state {
	return &state{
		meds:     make(map[adherence.MedicationID]adherence.Medication),
		rules:    make(map[adherence.MedicationID][]adherence.Rule),
		plans:    make(map[adherence.PlanID]adherence.DailyPlan),
		planKeys: make(map[string]adherence.PlanID),
		checkins: make(map[adherence.CheckinID]adherence.Checkin),
	}
}

func NewMemory() *Memory {
	return &Memory{st: newState()}
}

// Reset drops all data.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st = newState()
	return nil
}

// WithTx executes fn within a transaction.
// Simulated with a snapshot: fn works on a copy which replaces the live
// state only if fn succeeds. Transactions are serialized.
func (m *Memory) WithTx(_ context.Context, fn func(adherence.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.st.clone()
	if err := fn(snapshot); err != nil {
		return err
	}
	m.st = snapshot
	return nil
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.meds {
		c.meds[k] = v
	}
	for k, v := range s.rules {
		c.rules[k] = append([]adherence.Rule(nil), v...)
	}
	for k, v := range s.plans {
		c.plans[k] = v
	}
	for k, v := range s.planKeys {
		c.planKeys[k] = v
	}
	for k, v := range s.checkins {
		v.Photos = append([]adherence.Photo(nil), v.Photos...)
		c.checkins[k] = v
	}
	c.runs = append(c.runs, s.runs...)
	return c
}

// =============================================================================
// LOCKED WRAPPERS
// =============================================================================

func (m *Memory) SaveMedication(ctx context.Context, med adherence.Medication) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveMedication(ctx, med)
}

func (m *Memory) GetMedication(ctx context.Context, id adherence.MedicationID) (adherence.Medication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.GetMedication(ctx, id)
}

func (m *Memory) ListMedications(ctx context.Context, f adherence.MedicationFilter) ([]adherence.Medication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.ListMedications(ctx, f)
}

func (m *Memory) DeleteMedication(ctx context.Context, id adherence.MedicationID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.DeleteMedication(ctx, id)
}

func (m *Memory) RulesFor(ctx context.Context, id adherence.MedicationID) ([]adherence.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.RulesFor(ctx, id)
}

func (m *Memory) SetRules(ctx context.Context, id adherence.MedicationID, rules []adherence.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SetRules(ctx, id, rules)
}

func (m *Memory) InsertPlan(ctx context.Context, plan adherence.DailyPlan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.InsertPlan(ctx, plan)
}

func (m *Memory) GetPlan(ctx context.Context, id adherence.PlanID) (adherence.DailyPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.GetPlan(ctx, id)
}

func (m *Memory) FindPlan(ctx context.Context, key adherence.NaturalKey) (adherence.DailyPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.FindPlan(ctx, key)
}

func (m *Memory) ListPlans(ctx context.Context, f adherence.PlanFilter) ([]adherence.DailyPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.ListPlans(ctx, f)
}

func (m *Memory) SetPlanTaken(ctx context.Context, id adherence.PlanID, taken bool, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SetPlanTaken(ctx, id, taken, at)
}

func (m *Memory) DeletePlansForMedication(ctx context.Context, id adherence.MedicationID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.DeletePlansForMedication(ctx, id)
}

func (m *Memory) InsertCheckin(ctx context.Context, c adherence.Checkin) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.InsertCheckin(ctx, c)
}

func (m *Memory) GetCheckin(ctx context.Context, id adherence.CheckinID) (adherence.Checkin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.GetCheckin(ctx, id)
}

func (m *Memory) ListCheckins(ctx context.Context, f adherence.CheckinFilter) ([]adherence.Checkin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.ListCheckins(ctx, f)
}

func (m *Memory) PutPhotos(ctx context.Context, id adherence.CheckinID, photos []adherence.Photo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.PutPhotos(ctx, id, photos)
}

func (m *Memory) SaveMaterializationRun(_ context.Context, run adherence.MaterializationRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.runs = append(m.st.runs, run)
	return nil
}

func (m *Memory) ListMaterializationRuns(_ context.Context, limit int) ([]adherence.MaterializationRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []adherence.MaterializationRun
	for i := len(m.st.runs) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, m.st.runs[i])
	}
	return out, nil
}

// =============================================================================
// MEDICATIONS AND RULES
// =============================================================================

func (s *state) SaveMedication(_ context.Context, med adherence.Medication) error {
	med.Rules = nil
	s.meds[med.ID] = med
	return nil
}

func (s *state) GetMedication(_ context.Context, id adherence.MedicationID) (adherence.Medication, error) {
	med, ok := s.meds[id]
	if !ok {
		return adherence.Medication{}, &adherence.NotFoundError{Kind: "medication", ID: string(id)}
	}
	med.Rules = append([]adherence.Rule(nil), s.rules[id]...)
	return med, nil
}

func (s *state) ListMedications(ctx context.Context, f adherence.MedicationFilter) ([]adherence.Medication, error) {
	var out []adherence.Medication
	for id, med := range s.meds {
		if f.UserID != "" && med.UserID != f.UserID {
			continue
		}
		if f.ActiveOnly && !med.Active {
			continue
		}
		med.Rules = append([]adherence.Rule(nil), s.rules[id]...)
		out = append(out, med)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *state) DeleteMedication(ctx context.Context, id adherence.MedicationID) error {
	if _, ok := s.meds[id]; !ok {
		return &adherence.NotFoundError{Kind: "medication", ID: string(id)}
	}
	delete(s.meds, id)
	delete(s.rules, id)
	for cid, c := range s.checkins {
		if c.MedicationID == id {
			delete(s.checkins, cid)
		}
	}
	_, err := s.DeletePlansForMedication(ctx, id)
	return err
}

func (s *state) RulesFor(_ context.Context, id adherence.MedicationID) ([]adherence.Rule, error) {
	if _, ok := s.meds[id]; !ok {
		return nil, &adherence.NotFoundError{Kind: "medication", ID: string(id)}
	}
	return append([]adherence.Rule(nil), s.rules[id]...), nil
}

func (s *state) SetRules(_ context.Context, id adherence.MedicationID, rules []adherence.Rule) error {
	if _, ok := s.meds[id]; !ok {
		return &adherence.NotFoundError{Kind: "medication", ID: string(id)}
	}
	s.rules[id] = append([]adherence.Rule(nil), rules...)
	return nil
}

// =============================================================================
// PLANS
// =============================================================================

func (s *state) InsertPlan(_ context.Context, plan adherence.DailyPlan) error {
	k := plan.Key().String()
	if _, exists := s.planKeys[k]; exists {
		return adherence.ErrDuplicatePlan
	}
	if _, exists := s.plans[plan.ID]; exists {
		return &adherence.ConflictError{Resource: "plan", Key: string(plan.ID)}
	}
	plan.MedicationName = ""
	s.plans[plan.ID] = plan
	s.planKeys[k] = plan.ID
	return nil
}

func (s *state) withName(p adherence.DailyPlan) adherence.DailyPlan {
	p.MedicationName = s.meds[p.MedicationID].Name
	return p
}

func (s *state) GetPlan(_ context.Context, id adherence.PlanID) (adherence.DailyPlan, error) {
	p, ok := s.plans[id]
	if !ok {
		return adherence.DailyPlan{}, &adherence.NotFoundError{Kind: "plan", ID: string(id)}
	}
	return s.withName(p), nil
}

func (s *state) FindPlan(ctx context.Context, key adherence.NaturalKey) (adherence.DailyPlan, error) {
	id, ok := s.planKeys[key.String()]
	if !ok {
		return adherence.DailyPlan{}, &adherence.NotFoundError{Kind: "plan", ID: key.String()}
	}
	return s.GetPlan(ctx, id)
}

func (s *state) ListPlans(_ context.Context, f adherence.PlanFilter) ([]adherence.DailyPlan, error) {
	var out []adherence.DailyPlan
	for _, p := range s.plans {
		if f.UserID != "" && p.UserID != f.UserID {
			continue
		}
		if f.MedicationID != "" && p.MedicationID != f.MedicationID {
			continue
		}
		if f.From != nil && p.Date.Before(*f.From) {
			continue
		}
		if f.To != nil && p.Date.After(*f.To) {
			continue
		}
		out = append(out, s.withName(p))
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.Date.Equal(b.Date) {
			if f.NewestFirst {
				return a.Date.After(b.Date)
			}
			return a.Date.Before(b.Date)
		}
		if a.Time != b.Time {
			return a.Time < b.Time
		}
		return a.MedicationName < b.MedicationName
	})
	return out, nil
}

func (s *state) SetPlanTaken(_ context.Context, id adherence.PlanID, taken bool, at time.Time) error {
	p, ok := s.plans[id]
	if !ok {
		return &adherence.NotFoundError{Kind: "plan", ID: string(id)}
	}
	p.Taken = taken
	p.UpdatedAt = at
	s.plans[id] = p
	return nil
}

func (s *state) DeletePlansForMedication(_ context.Context, id adherence.MedicationID) (int, error) {
	n := 0
	for pid, p := range s.plans {
		if p.MedicationID != id {
			continue
		}
		delete(s.plans, pid)
		delete(s.planKeys, p.Key().String())
		n++
	}
	return n, nil
}

// =============================================================================
// CHECK-INS
// =============================================================================

func (s *state) InsertCheckin(_ context.Context, c adherence.Checkin) error {
	if _, exists := s.checkins[c.ID]; exists {
		return &adherence.ConflictError{Resource: "checkin", Key: string(c.ID)}
	}
	c.MedicationName = ""
	c.Photos = append([]adherence.Photo(nil), c.Photos...)
	s.checkins[c.ID] = c
	return nil
}

func (s *state) GetCheckin(_ context.Context, id adherence.CheckinID) (adherence.Checkin, error) {
	c, ok := s.checkins[id]
	if !ok {
		return adherence.Checkin{}, &adherence.NotFoundError{Kind: "checkin", ID: string(id)}
	}
	return s.checkinView(c), nil
}

func (s *state) checkinView(c adherence.Checkin) adherence.Checkin {
	c.MedicationName = s.meds[c.MedicationID].Name
	c.Photos = append([]adherence.Photo(nil), c.Photos...)
	return c
}

func (s *state) ListCheckins(_ context.Context, f adherence.CheckinFilter) ([]adherence.Checkin, error) {
	var out []adherence.Checkin
	for _, c := range s.checkins {
		if f.UserID != "" && c.UserID != f.UserID {
			continue
		}
		if f.MedicationID != "" && c.MedicationID != f.MedicationID {
			continue
		}
		if f.PlanID != "" && c.PlanID != f.PlanID {
			continue
		}
		out = append(out, s.checkinView(c))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ActualAt.Equal(out[j].ActualAt) {
			return out[i].ActualAt.After(out[j].ActualAt)
		}
		return out[i].ID < out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *state) PutPhotos(_ context.Context, id adherence.CheckinID, photos []adherence.Photo) error {
	c, ok := s.checkins[id]
	if !ok {
		return &adherence.NotFoundError{Kind: "checkin", ID: string(id)}
	}
	merged := make(map[int]adherence.Photo, len(c.Photos)+len(photos))
	for _, p := range c.Photos {
		merged[p.SortOrder] = p
	}
	for _, p := range photos {
		merged[p.SortOrder] = p
	}
	c.Photos = c.Photos[:0:0]
	for _, p := range merged {
		c.Photos = append(c.Photos, p)
	}
	sort.Slice(c.Photos, func(i, j int) bool { return c.Photos[i].SortOrder < c.Photos[j].SortOrder })
	s.checkins[id] = c
	return nil
}

var (
	_ adherence.TxStore  = (*Memory)(nil)
	_ adherence.RunStore = (*Memory)(nil)
	_ adherence.Store    = (*state)(nil)
)
