package adherence

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CheckinInput is what a caller knows when reporting an intake.
// Zero values mean "derive it": ActualAt defaults to now, Dose and DoseUnit
// to the plan's (or the medication's) values.
type CheckinInput struct {
	UserID       UserID
	MedicationID MedicationID
	PlanID       PlanID
	ActualAt     time.Time
	Dose         decimal.NullDecimal
	DoseUnit     string
	Kind         CheckinKind
	IsMakeup     bool
	MakeupReason string
	Notes        string
	Photos       []Photo

	// FulfillPlan also marks the linked plan taken, in the same transaction.
	FulfillPlan bool
}

// Recorder persists check-ins. Plans are only touched when FulfillPlan asks.
type Recorder struct {
	Store TxStore
	Now   func() time.Time
	NewID func() string
}

func NewRecorder(store TxStore) *Recorder {
	return &Recorder{Store: store, Now: time.Now, NewID: uuid.NewString}
}

// Record validates the input against the medication and plan it names and
// stores the resulting check-in.
func (r *Recorder) Record(ctx context.Context, in CheckinInput) (Checkin, error) {
	if err := requireUser(in.UserID); err != nil {
		return Checkin{}, err
	}
	if in.MedicationID == "" {
		return Checkin{}, &ValidationError{Field: "medication_id", Message: "is required"}
	}
	if in.Kind == "" {
		in.Kind = KindOnTime
		if in.IsMakeup {
			in.Kind = KindMakeup
		}
	}
	if !in.Kind.Valid() {
		return Checkin{}, &ValidationError{Field: "kind", Message: "unknown kind " + string(in.Kind)}
	}
	if in.Kind == KindMakeup {
		in.IsMakeup = true
	}
	in.MakeupReason = strings.TrimSpace(in.MakeupReason)
	if in.IsMakeup && in.MakeupReason == "" {
		return Checkin{}, &ValidationError{Field: "makeup_reason", Message: "is required for a makeup dose"}
	}
	if in.FulfillPlan {
		if in.PlanID == "" {
			return Checkin{}, &ValidationError{Field: "plan_id", Message: "is required to fulfill a plan"}
		}
		if !in.Kind.TookDose() {
			return Checkin{}, &ValidationError{Field: "kind", Message: "only an intake can fulfill a plan"}
		}
	}
	if in.Dose.Valid && !in.Dose.Decimal.IsPositive() && in.Kind.TookDose() {
		return Checkin{}, &ValidationError{Field: "dose", Message: "must be positive"}
	}
	photos, err := normalizePhotos(in.Photos)
	if err != nil {
		return Checkin{}, err
	}

	clock := r.Now()
	now := clock.UTC()
	var out Checkin
	err = r.Store.WithTx(ctx, func(s Store) error {
		med, err := s.GetMedication(ctx, in.MedicationID)
		if err != nil {
			return err
		}
		if med.UserID != in.UserID {
			return &AuthorizationError{UserID: in.UserID, Resource: "medication", ID: string(med.ID), Reason: "not the owner"}
		}

		c := Checkin{
			ID:             CheckinID(r.NewID()),
			UserID:         in.UserID,
			MedicationID:   med.ID,
			MedicationName: med.Name,
			ActualAt:       in.ActualAt,
			Dose:           med.DefaultDose,
			DoseUnit:       med.DoseUnit,
			Kind:           in.Kind,
			IsMakeup:       in.IsMakeup,
			MakeupReason:   in.MakeupReason,
			Notes:          strings.TrimSpace(in.Notes),
			CreatedAt:      now,
		}
		if c.ActualAt.IsZero() {
			c.ActualAt = now
		}

		planTaken := false
		if in.PlanID != "" {
			plan, err := s.GetPlan(ctx, in.PlanID)
			if err != nil {
				return err
			}
			if plan.UserID != in.UserID || plan.MedicationID != med.ID {
				return &AuthorizationError{UserID: in.UserID, Resource: "plan", ID: string(plan.ID), Reason: "plan belongs to another user or medication"}
			}
			// same basis as ActualAt: the plan's wall time in the clock's zone
			planned := plan.ScheduledAt(clock.Location()).UTC()
			c.PlanID = plan.ID
			c.PlannedAt = &planned
			c.Dose = plan.Dose
			c.DoseUnit = plan.DoseUnit
			planTaken = plan.Taken
		}

		if in.Dose.Valid {
			c.Dose = in.Dose.Decimal
		}
		if u := strings.TrimSpace(in.DoseUnit); u != "" {
			c.DoseUnit = u
		}
		for i := range photos {
			photos[i].CreatedAt = now
		}
		c.Photos = photos

		if err := s.InsertCheckin(ctx, c); err != nil {
			return err
		}
		if in.FulfillPlan && !planTaken {
			if err := s.SetPlanTaken(ctx, c.PlanID, true, now); err != nil {
				return err
			}
		}
		out = c
		return nil
	})
	if err != nil {
		return Checkin{}, err
	}
	return out, nil
}

// AttachPhotos adds or replaces photos on an existing check-in of user.
func (r *Recorder) AttachPhotos(ctx context.Context, id CheckinID, user UserID, photos []Photo) (Checkin, error) {
	if err := requireUser(user); err != nil {
		return Checkin{}, err
	}
	photos, err := normalizePhotos(photos)
	if err != nil {
		return Checkin{}, err
	}
	if len(photos) == 0 {
		return Checkin{}, &ValidationError{Field: "photos", Message: "at least one photo is required"}
	}

	now := r.Now().UTC()
	for i := range photos {
		photos[i].CreatedAt = now
	}

	var out Checkin
	err = r.Store.WithTx(ctx, func(s Store) error {
		c, err := s.GetCheckin(ctx, id)
		if err != nil {
			return err
		}
		if c.UserID != user {
			return &AuthorizationError{UserID: user, Resource: "checkin", ID: string(id), Reason: "not the owner"}
		}
		if err := s.PutPhotos(ctx, id, photos); err != nil {
			return err
		}
		out, err = s.GetCheckin(ctx, id)
		return err
	})
	if err != nil {
		return Checkin{}, err
	}
	return out, nil
}

// History lists check-ins, newest actual time first.
func (r *Recorder) History(ctx context.Context, filter CheckinFilter) ([]Checkin, error) {
	if err := requireUser(filter.UserID); err != nil {
		return nil, err
	}
	return r.Store.ListCheckins(ctx, filter)
}

// normalizePhotos keeps the last photo per sort order and sorts by it.
func normalizePhotos(in []Photo) ([]Photo, error) {
	byOrder := make(map[int]Photo, len(in))
	for i, p := range in {
		p.URL = strings.TrimSpace(p.URL)
		if p.URL == "" {
			return nil, &ValidationError{Field: "photos", Message: "photo " + strconv.Itoa(i) + " has no url"}
		}
		if p.SortOrder < 0 {
			return nil, &ValidationError{Field: "photos", Message: "sort order must not be negative"}
		}
		byOrder[p.SortOrder] = p
	}
	out := make([]Photo, 0, len(byOrder))
	for _, p := range byOrder {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	return out, nil
}
