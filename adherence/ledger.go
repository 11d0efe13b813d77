/*
ledger.go - DailyPlan ledger with natural-key idempotency

PURPOSE:
  The Ledger is the persisted collection of DailyPlan rows. It is the only
  writer of plans: the materializer goes through it, the API goes through it.

CRITICAL INVARIANTS:
  1. ONE ROW PER KEY: (user, medication, date, time) is unique. Upsert is
     insert-if-absent; a collision returns the existing row.
  2. HISTORY: a plan never changes after creation except its taken flag.
  3. OWNERSHIP: MarkFulfilled only touches plans of the calling user. A
     foreign plan looks exactly like a missing one.
  4. IDEMPOTENT FULFILLMENT: marking a taken plan again is a no-op and does
     not bump UpdatedAt.

READ ACCESS:
  Owners read their own plans. Anyone else needs the AccessPolicy (the care
  package) to vouch for them, and only ever gets read access.

SEE ALSO:
  - materializer.go: bulk upserts for one day
  - care/service.go: AccessPolicy implementation
*/
package adherence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// AccessPolicy decides whether viewer may read owner's plans.
type AccessPolicy interface {
	CanView(ctx context.Context, viewer, owner UserID) error
}

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	Store  TxStore
	Access AccessPolicy // nil: owners only
	Now    func() time.Time
	NewID  func() string
}

func NewLedger(store TxStore) *Ledger {
	return &Ledger{Store: store, Now: time.Now, NewID: uuid.NewString}
}

// Upsert inserts the plan unless its natural key already exists.
// Returns the stored plan and whether this call created it.
func (l *Ledger) Upsert(ctx context.Context, plan DailyPlan) (DailyPlan, bool, error) {
	var (
		stored  DailyPlan
		created bool
	)
	err := l.Store.WithTx(ctx, func(s Store) error {
		var err error
		stored, created, err = l.upsertIn(ctx, s, plan)
		return err
	})
	if err != nil {
		return DailyPlan{}, false, err
	}
	return stored, created, nil
}

func (l *Ledger) upsertIn(ctx context.Context, s Store, plan DailyPlan) (DailyPlan, bool, error) {
	if err := plan.validate(); err != nil {
		return DailyPlan{}, false, err
	}

	existing, err := s.FindPlan(ctx, plan.Key())
	if err == nil {
		return existing, false, nil
	}
	if !IsNotFound(err) {
		return DailyPlan{}, false, err
	}

	if plan.ID == "" {
		plan.ID = PlanID(l.NewID())
	}
	now := l.Now().UTC()
	plan.CreatedAt = now
	plan.UpdatedAt = now

	err = s.InsertPlan(ctx, plan)
	if errors.Is(err, ErrDuplicatePlan) {
		// Lost a race with a concurrent writer; theirs is the row.
		existing, ferr := s.FindPlan(ctx, plan.Key())
		if ferr != nil {
			return DailyPlan{}, false, ferr
		}
		return existing, false, nil
	}
	if err != nil {
		return DailyPlan{}, false, err
	}
	return plan, true, nil
}

// =============================================================================
// QUERIES
// =============================================================================

// PlansForUserOnDate returns the user's plans for day, earliest first.
func (l *Ledger) PlansForUserOnDate(ctx context.Context, user UserID, day Date) ([]DailyPlan, error) {
	if err := requireUser(user); err != nil {
		return nil, err
	}
	if day.IsZero() {
		return nil, &ValidationError{Field: "date", Message: "is required"}
	}
	return l.Store.ListPlans(ctx, PlanFilter{UserID: user, From: &day, To: &day})
}

// AllPlansForUser returns every plan, most recent day first and earliest
// time first within a day.
func (l *Ledger) AllPlansForUser(ctx context.Context, user UserID) ([]DailyPlan, error) {
	if err := requireUser(user); err != nil {
		return nil, err
	}
	return l.Store.ListPlans(ctx, PlanFilter{UserID: user, NewestFirst: true})
}

// PlansForUserInRange returns plans in [from, to] in chronological order.
func (l *Ledger) PlansForUserInRange(ctx context.Context, user UserID, from, to Date) ([]DailyPlan, error) {
	if err := requireUser(user); err != nil {
		return nil, err
	}
	if from.IsZero() || to.IsZero() {
		return nil, &ValidationError{Field: "range", Message: "from and to are required"}
	}
	if to.Before(from) {
		return nil, &ValidationError{Field: "range", Message: "to is before from"}
	}
	return l.Store.ListPlans(ctx, PlanFilter{UserID: user, From: &from, To: &to})
}

// PlansForViewer is the read path for carers: viewer reads owner's plans
// for day if the access policy allows it.
func (l *Ledger) PlansForViewer(ctx context.Context, viewer, owner UserID, day Date) ([]DailyPlan, error) {
	if err := requireUser(viewer); err != nil {
		return nil, err
	}
	if viewer != owner {
		if l.Access == nil {
			return nil, &AuthorizationError{UserID: viewer, Resource: "plans", ID: string(owner), Reason: "no access policy configured"}
		}
		if err := l.Access.CanView(ctx, viewer, owner); err != nil {
			return nil, err
		}
	}
	return l.PlansForUserOnDate(ctx, owner, day)
}

// =============================================================================
// FULFILLMENT
// =============================================================================

// MarkFulfilled flips the taken flag on a plan owned by user.
func (l *Ledger) MarkFulfilled(ctx context.Context, id PlanID, user UserID) (DailyPlan, error) {
	if err := requireUser(user); err != nil {
		return DailyPlan{}, err
	}
	var out DailyPlan
	err := l.Store.WithTx(ctx, func(s Store) error {
		plan, err := l.markIn(ctx, s, id, user)
		out = plan
		return err
	})
	if err != nil {
		return DailyPlan{}, err
	}
	return out, nil
}

func (l *Ledger) markIn(ctx context.Context, s Store, id PlanID, user UserID) (DailyPlan, error) {
	plan, err := s.GetPlan(ctx, id)
	if err != nil {
		return DailyPlan{}, err
	}
	if plan.UserID != user {
		return DailyPlan{}, &NotFoundError{Kind: "plan", ID: string(id)}
	}
	if plan.Taken {
		return plan, nil
	}
	now := l.Now().UTC()
	if err := s.SetPlanTaken(ctx, id, true, now); err != nil {
		return DailyPlan{}, err
	}
	plan.Taken = true
	plan.UpdatedAt = now
	return plan, nil
}

// DeleteForMedication removes every plan of a medication.
func (l *Ledger) DeleteForMedication(ctx context.Context, id MedicationID) (int, error) {
	var n int
	err := l.Store.WithTx(ctx, func(s Store) error {
		var err error
		n, err = s.DeletePlansForMedication(ctx, id)
		return err
	})
	return n, err
}

func requireUser(user UserID) error {
	if user == "" {
		return &ValidationError{Field: "user_id", Message: "is required"}
	}
	return nil
}
