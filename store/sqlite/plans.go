package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/medguardian/adherence-engine/adherence"
)

// =============================================================================
// PLAN STORE
// =============================================================================

// InsertPlan inserts unless the natural key exists, in which case it returns
// adherence.ErrDuplicatePlan and writes nothing.
func (e *executor) InsertPlan(ctx context.Context, p adherence.DailyPlan) error {
	query := `
		INSERT INTO daily_plans
		(id, user_id, medication_id, plan_date, scheduled_time, dose, dose_unit, is_taken, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, medication_id, plan_date, scheduled_time) DO NOTHING
	`
	res, err := e.q.ExecContext(ctx, query,
		p.ID, p.UserID, p.MedicationID, p.Date.String(), p.Time.String(),
		p.Dose.String(), p.DoseUnit, boolInt(p.Taken),
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &adherence.ConflictError{Resource: "plan", Key: string(p.ID)}
		}
		if isForeignKeyError(err) {
			return &adherence.NotFoundError{Kind: "medication", ID: string(p.MedicationID)}
		}
		return fmt.Errorf("failed to insert plan: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return adherence.ErrDuplicatePlan
	}
	return nil
}

const planSelect = `
	SELECT p.id, p.user_id, p.medication_id, m.name, p.plan_date, p.scheduled_time,
	       p.dose, p.dose_unit, p.is_taken, p.created_at, p.updated_at
	FROM daily_plans p
	JOIN medications m ON m.id = p.medication_id
`

func (e *executor) GetPlan(ctx context.Context, id adherence.PlanID) (adherence.DailyPlan, error) {
	p, err := scanPlan(e.q.QueryRowContext(ctx, planSelect+` WHERE p.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return adherence.DailyPlan{}, &adherence.NotFoundError{Kind: "plan", ID: string(id)}
	}
	return p, err
}

func (e *executor) FindPlan(ctx context.Context, k adherence.NaturalKey) (adherence.DailyPlan, error) {
	p, err := scanPlan(e.q.QueryRowContext(ctx, planSelect+`
		WHERE p.user_id = ? AND p.medication_id = ? AND p.plan_date = ? AND p.scheduled_time = ?`,
		k.UserID, k.MedicationID, k.Date.String(), k.Time.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return adherence.DailyPlan{}, &adherence.NotFoundError{Kind: "plan", ID: k.String()}
	}
	return p, err
}

func (e *executor) ListPlans(ctx context.Context, f adherence.PlanFilter) ([]adherence.DailyPlan, error) {
	var (
		where []string
		args  []any
	)
	if f.UserID != "" {
		where = append(where, "p.user_id = ?")
		args = append(args, f.UserID)
	}
	if f.MedicationID != "" {
		where = append(where, "p.medication_id = ?")
		args = append(args, f.MedicationID)
	}
	if f.From != nil {
		where = append(where, "p.plan_date >= ?")
		args = append(args, f.From.String())
	}
	if f.To != nil {
		where = append(where, "p.plan_date <= ?")
		args = append(args, f.To.String())
	}
	query := planSelect
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	// ISO dates and zero-padded HH:MM sort correctly as text
	order := "ASC"
	if f.NewestFirst {
		order = "DESC"
	}
	query += " ORDER BY p.plan_date " + order + ", p.scheduled_time ASC, m.name ASC"

	rows, err := e.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	var plans []adherence.DailyPlan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

func (e *executor) SetPlanTaken(ctx context.Context, id adherence.PlanID, taken bool, at time.Time) error {
	res, err := e.q.ExecContext(ctx, `UPDATE daily_plans SET is_taken = ?, updated_at = ? WHERE id = ?`,
		boolInt(taken), formatTime(at), id)
	if err != nil {
		return fmt.Errorf("failed to update plan: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &adherence.NotFoundError{Kind: "plan", ID: string(id)}
	}
	return nil
}

func (e *executor) DeletePlansForMedication(ctx context.Context, id adherence.MedicationID) (int, error) {
	res, err := e.q.ExecContext(ctx, `DELETE FROM daily_plans WHERE medication_id = ?`, id)
	if err != nil {
		return 0, fmt.Errorf("failed to delete plans: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func scanPlan(row scanner) (adherence.DailyPlan, error) {
	var (
		p                    adherence.DailyPlan
		day, at, dose        string
		taken                int
		createdAt, updatedAt string
	)
	if err := row.Scan(&p.ID, &p.UserID, &p.MedicationID, &p.MedicationName, &day, &at,
		&dose, &p.DoseUnit, &taken, &createdAt, &updatedAt); err != nil {
		return adherence.DailyPlan{}, err
	}
	var err error
	if p.Date, err = adherence.ParseDate(day); err != nil {
		return adherence.DailyPlan{}, err
	}
	if p.Time, err = adherence.ParseTimeOfDay(at); err != nil {
		return adherence.DailyPlan{}, err
	}
	if p.Dose, err = parseDecimal(dose); err != nil {
		return adherence.DailyPlan{}, err
	}
	p.Taken = taken == 1
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return adherence.DailyPlan{}, err
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return adherence.DailyPlan{}, err
	}
	return p, nil
}
