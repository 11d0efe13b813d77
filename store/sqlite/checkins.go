package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/medguardian/adherence-engine/adherence"
)

// =============================================================================
// CHECK-IN STORE
// =============================================================================

func (e *executor) InsertCheckin(ctx context.Context, c adherence.Checkin) error {
	query := `
		INSERT INTO checkins
		(id, user_id, medication_id, plan_id, planned_at, actual_at, dose, dose_unit,
		 kind, is_makeup, makeup_reason, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	var plannedAt sql.NullString
	if c.PlannedAt != nil {
		plannedAt = nullString(formatTime(*c.PlannedAt))
	}
	_, err := e.q.ExecContext(ctx, query,
		c.ID, c.UserID, c.MedicationID, nullString(string(c.PlanID)), plannedAt,
		formatTime(c.ActualAt), c.Dose.String(), c.DoseUnit,
		string(c.Kind), boolInt(c.IsMakeup), c.MakeupReason, c.Notes, formatTime(c.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &adherence.ConflictError{Resource: "checkin", Key: string(c.ID)}
		}
		return fmt.Errorf("failed to insert checkin: %w", err)
	}
	return e.PutPhotos(ctx, c.ID, c.Photos)
}

const checkinSelect = `
	SELECT c.id, c.user_id, c.medication_id, m.name, c.plan_id, c.planned_at, c.actual_at,
	       c.dose, c.dose_unit, c.kind, c.is_makeup, c.makeup_reason, c.notes, c.created_at
	FROM checkins c
	JOIN medications m ON m.id = c.medication_id
`

func (e *executor) GetCheckin(ctx context.Context, id adherence.CheckinID) (adherence.Checkin, error) {
	c, err := scanCheckin(e.q.QueryRowContext(ctx, checkinSelect+` WHERE c.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return adherence.Checkin{}, &adherence.NotFoundError{Kind: "checkin", ID: string(id)}
	}
	if err != nil {
		return adherence.Checkin{}, err
	}
	c.Photos, err = e.loadPhotos(ctx, id)
	if err != nil {
		return adherence.Checkin{}, err
	}
	return c, nil
}

func (e *executor) ListCheckins(ctx context.Context, f adherence.CheckinFilter) ([]adherence.Checkin, error) {
	var (
		where []string
		args  []any
	)
	if f.UserID != "" {
		where = append(where, "c.user_id = ?")
		args = append(args, f.UserID)
	}
	if f.MedicationID != "" {
		where = append(where, "c.medication_id = ?")
		args = append(args, f.MedicationID)
	}
	if f.PlanID != "" {
		where = append(where, "c.plan_id = ?")
		args = append(args, f.PlanID)
	}
	query := checkinSelect
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY c.actual_at DESC, c.id ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := e.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkins: %w", err)
	}
	var out []adherence.Checkin
	for rows.Next() {
		c, err := scanCheckin(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		out[i].Photos, err = e.loadPhotos(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// PutPhotos upserts by (checkin_id, sort_order); the last URL wins.
func (e *executor) PutPhotos(ctx context.Context, id adherence.CheckinID, photos []adherence.Photo) error {
	query := `
		INSERT INTO checkin_photos (checkin_id, sort_order, url, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(checkin_id, sort_order) DO UPDATE SET
			url = excluded.url,
			created_at = excluded.created_at
	`
	for _, p := range photos {
		if _, err := e.q.ExecContext(ctx, query, id, p.SortOrder, p.URL, formatTime(p.CreatedAt)); err != nil {
			if isForeignKeyError(err) {
				return &adherence.NotFoundError{Kind: "checkin", ID: string(id)}
			}
			return fmt.Errorf("failed to save photo %d: %w", p.SortOrder, err)
		}
	}
	return nil
}

func (e *executor) loadPhotos(ctx context.Context, id adherence.CheckinID) ([]adherence.Photo, error) {
	rows, err := e.q.QueryContext(ctx, `
		SELECT sort_order, url, created_at FROM checkin_photos
		WHERE checkin_id = ? ORDER BY sort_order`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load photos: %w", err)
	}
	defer rows.Close()

	var photos []adherence.Photo
	for rows.Next() {
		var (
			p         adherence.Photo
			createdAt string
		)
		if err := rows.Scan(&p.SortOrder, &p.URL, &createdAt); err != nil {
			return nil, err
		}
		if p.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		photos = append(photos, p)
	}
	return photos, rows.Err()
}

func scanCheckin(row scanner) (adherence.Checkin, error) {
	var (
		c                           adherence.Checkin
		planID, plannedAt           sql.NullString
		actualAt, dose, kind, creat string
		isMakeup                    int
	)
	if err := row.Scan(&c.ID, &c.UserID, &c.MedicationID, &c.MedicationName, &planID, &plannedAt,
		&actualAt, &dose, &c.DoseUnit, &kind, &isMakeup, &c.MakeupReason, &c.Notes, &creat); err != nil {
		return adherence.Checkin{}, err
	}
	var err error
	c.PlanID = adherence.PlanID(planID.String)
	if plannedAt.Valid {
		t, err := parseTime(plannedAt.String)
		if err != nil {
			return adherence.Checkin{}, err
		}
		c.PlannedAt = &t
	}
	if c.ActualAt, err = parseTime(actualAt); err != nil {
		return adherence.Checkin{}, err
	}
	if c.Dose, err = parseDecimal(dose); err != nil {
		return adherence.Checkin{}, err
	}
	c.Kind = adherence.CheckinKind(kind)
	c.IsMakeup = isMakeup == 1
	if c.CreatedAt, err = parseTime(creat); err != nil {
		return adherence.Checkin{}, err
	}
	return c, nil
}
