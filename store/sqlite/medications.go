package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/medguardian/adherence-engine/adherence"
)

// =============================================================================
// MEDICATION STORE
// =============================================================================

// SaveMedication upserts medication metadata. Rules are written by SetRules.
func (e *executor) SaveMedication(ctx context.Context, med adherence.Medication) error {
	query := `
		INSERT INTO medications (id, user_id, name, notes, active, default_dose, dose_unit, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			notes = excluded.notes,
			active = excluded.active,
			default_dose = excluded.default_dose,
			dose_unit = excluded.dose_unit,
			updated_at = excluded.updated_at
	`
	_, err := e.q.ExecContext(ctx, query,
		med.ID, med.UserID, med.Name, med.Notes, boolInt(med.Active),
		med.DefaultDose.String(), med.DoseUnit,
		formatTime(med.CreatedAt), formatTime(med.UpdatedAt),
	)
	if isForeignKeyError(err) {
		return &adherence.NotFoundError{Kind: "user", ID: string(med.UserID)}
	}
	if err != nil {
		return fmt.Errorf("failed to save medication: %w", err)
	}
	return nil
}

const medicationColumns = `id, user_id, name, notes, active, default_dose, dose_unit, created_at, updated_at`

func (e *executor) GetMedication(ctx context.Context, id adherence.MedicationID) (adherence.Medication, error) {
	row := e.q.QueryRowContext(ctx, `SELECT `+medicationColumns+` FROM medications WHERE id = ?`, id)
	med, err := scanMedication(row)
	if errors.Is(err, sql.ErrNoRows) {
		return adherence.Medication{}, &adherence.NotFoundError{Kind: "medication", ID: string(id)}
	}
	if err != nil {
		return adherence.Medication{}, err
	}
	med.Rules, err = e.loadRules(ctx, id)
	if err != nil {
		return adherence.Medication{}, err
	}
	return med, nil
}

func (e *executor) ListMedications(ctx context.Context, f adherence.MedicationFilter) ([]adherence.Medication, error) {
	var (
		where []string
		args  []any
	)
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.ActiveOnly {
		where = append(where, "active = 1")
	}
	query := `SELECT ` + medicationColumns + ` FROM medications`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"

	rows, err := e.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list medications: %w", err)
	}
	var meds []adherence.Medication
	for rows.Next() {
		med, err := scanMedication(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		meds = append(meds, med)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Rules are loaded after the cursor is closed: the pool has one connection.
	for i := range meds {
		meds[i].Rules, err = e.loadRules(ctx, meds[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return meds, nil
}

// DeleteMedication removes the row; rules, plans, check-ins and photos
// follow by cascade.
func (e *executor) DeleteMedication(ctx context.Context, id adherence.MedicationID) error {
	res, err := e.q.ExecContext(ctx, `DELETE FROM medications WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete medication: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &adherence.NotFoundError{Kind: "medication", ID: string(id)}
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMedication(row scanner) (adherence.Medication, error) {
	var (
		med                  adherence.Medication
		active               int
		dose                 string
		createdAt, updatedAt string
	)
	if err := row.Scan(&med.ID, &med.UserID, &med.Name, &med.Notes, &active, &dose, &med.DoseUnit, &createdAt, &updatedAt); err != nil {
		return adherence.Medication{}, err
	}
	var err error
	med.Active = active == 1
	if med.DefaultDose, err = parseDecimal(dose); err != nil {
		return adherence.Medication{}, err
	}
	if med.CreatedAt, err = parseTime(createdAt); err != nil {
		return adherence.Medication{}, err
	}
	if med.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return adherence.Medication{}, err
	}
	return med, nil
}

// =============================================================================
// RULE STORE
// =============================================================================

func (e *executor) RulesFor(ctx context.Context, id adherence.MedicationID) ([]adherence.Rule, error) {
	if err := e.requireMedication(ctx, id); err != nil {
		return nil, err
	}
	return e.loadRules(ctx, id)
}

// SetRules replaces the rule set. Callers wanting atomicity run it in WithTx.
func (e *executor) SetRules(ctx context.Context, id adherence.MedicationID, rules []adherence.Rule) error {
	if err := e.requireMedication(ctx, id); err != nil {
		return err
	}
	if _, err := e.q.ExecContext(ctx, `DELETE FROM recurrence_rules WHERE medication_id = ?`, id); err != nil {
		return fmt.Errorf("failed to clear rules: %w", err)
	}
	query := `
		INSERT INTO recurrence_rules (medication_id, position, time_of_day, days_mask, dose, dose_unit, require_photo)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	for i, r := range rules {
		var dose sql.NullString
		if r.Dose.Valid {
			dose = nullString(r.Dose.Decimal.String())
		}
		if _, err := e.q.ExecContext(ctx, query,
			id, i, r.Time.String(), int(r.Days.Mask()), dose, r.DoseUnit, boolInt(r.RequirePhoto),
		); err != nil {
			return fmt.Errorf("failed to insert rule %d: %w", i, err)
		}
	}
	return nil
}

func (e *executor) loadRules(ctx context.Context, id adherence.MedicationID) ([]adherence.Rule, error) {
	rows, err := e.q.QueryContext(ctx, `
		SELECT time_of_day, days_mask, dose, dose_unit, require_photo
		FROM recurrence_rules WHERE medication_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	defer rows.Close()

	var rules []adherence.Rule
	for rows.Next() {
		var (
			at           string
			mask         int
			dose         sql.NullString
			r            adherence.Rule
			requirePhoto int
		)
		if err := rows.Scan(&at, &mask, &dose, &r.DoseUnit, &requirePhoto); err != nil {
			return nil, err
		}
		if r.Time, err = adherence.ParseTimeOfDay(at); err != nil {
			return nil, fmt.Errorf("stored rule of %s: %w", id, err)
		}
		if r.Days, err = adherence.WeekdaySetFromMask(uint8(mask)); err != nil {
			return nil, fmt.Errorf("stored rule of %s: %w", id, err)
		}
		if dose.Valid {
			d, err := parseDecimal(dose.String)
			if err != nil {
				return nil, err
			}
			r.Dose = decimal.NewNullDecimal(d)
		}
		r.RequirePhoto = requirePhoto == 1
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

func (e *executor) requireMedication(ctx context.Context, id adherence.MedicationID) error {
	var one int
	err := e.q.QueryRowContext(ctx, `SELECT 1 FROM medications WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return &adherence.NotFoundError{Kind: "medication", ID: string(id)}
	}
	return err
}
