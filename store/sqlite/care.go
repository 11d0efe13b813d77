package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/medguardian/adherence-engine/adherence"
	"github.com/medguardian/adherence-engine/care"
)

// =============================================================================
// USER STORE (care.Store interface)
// =============================================================================

func (e *executor) CreateUser(ctx context.Context, u care.User) error {
	_, err := e.q.ExecContext(ctx,
		`INSERT INTO users (id, username, password_hash, invite_code, created_at) VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.PasswordHash, u.InviteCode, formatTime(u.CreatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			switch {
			case violatedColumn(err, "users.invite_code"):
				return &adherence.ConflictError{Resource: "invite_code", Key: u.InviteCode}
			case violatedColumn(err, "users.username"):
				return &adherence.ConflictError{Resource: "user", Key: u.Username}
			}
			return &adherence.ConflictError{Resource: "user", Key: string(u.ID)}
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (e *executor) GetUser(ctx context.Context, id care.UserID) (care.User, error) {
	return e.getUser(ctx, "id", string(id))
}

func (e *executor) GetUserByUsername(ctx context.Context, username string) (care.User, error) {
	return e.getUser(ctx, "username", username)
}

func (e *executor) GetUserByInviteCode(ctx context.Context, code string) (care.User, error) {
	return e.getUser(ctx, "invite_code", code)
}

// getUser looks up by one unique column; column is never user input.
func (e *executor) getUser(ctx context.Context, column, value string) (care.User, error) {
	var (
		u         care.User
		createdAt string
	)
	err := e.q.QueryRowContext(ctx,
		`SELECT id, username, password_hash, invite_code, created_at FROM users WHERE `+column+` = ?`, value,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.InviteCode, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		kind := "user"
		if column == "invite_code" {
			kind = "invite_code"
		}
		return care.User{}, &adherence.NotFoundError{Kind: kind, ID: value}
	}
	if err != nil {
		return care.User{}, err
	}
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return care.User{}, err
	}
	return u, nil
}

// =============================================================================
// SUPERVISION STORE
// =============================================================================

func (e *executor) CreateSupervision(ctx context.Context, s care.Supervision) error {
	_, err := e.q.ExecContext(ctx, `
		INSERT INTO supervisions (id, supervisor_id, supervised_id, relation_type, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		s.ID, s.SupervisorID, s.SupervisedID, string(s.Relation), string(s.Status), formatTime(s.CreatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return &adherence.ConflictError{Resource: "supervision", Key: string(s.SupervisorID) + "->" + string(s.SupervisedID)}
		}
		if isForeignKeyError(err) {
			return &adherence.NotFoundError{Kind: "user", ID: string(s.SupervisorID)}
		}
		return fmt.Errorf("failed to create supervision: %w", err)
	}
	return nil
}

const supervisionSelect = `
	SELECT s.id, s.supervisor_id, s.supervised_id, s.relation_type, s.status, s.created_at,
	       a.username, b.username
	FROM supervisions s
	JOIN users a ON a.id = s.supervisor_id
	JOIN users b ON b.id = s.supervised_id
`

func (e *executor) GetSupervision(ctx context.Context, id string) (care.Supervision, error) {
	s, err := scanSupervision(e.q.QueryRowContext(ctx, supervisionSelect+` WHERE s.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return care.Supervision{}, &adherence.NotFoundError{Kind: "supervision", ID: id}
	}
	return s, err
}

func (e *executor) FindSupervision(ctx context.Context, supervisor, supervised care.UserID) (care.Supervision, error) {
	s, err := scanSupervision(e.q.QueryRowContext(ctx,
		supervisionSelect+` WHERE s.supervisor_id = ? AND s.supervised_id = ?`, supervisor, supervised))
	if errors.Is(err, sql.ErrNoRows) {
		return care.Supervision{}, &adherence.NotFoundError{Kind: "supervision", ID: string(supervisor) + "->" + string(supervised)}
	}
	return s, err
}

func (e *executor) ListSupervisions(ctx context.Context, f care.SupervisionFilter) ([]care.Supervision, error) {
	var (
		where []string
		args  []any
	)
	if f.SupervisorID != "" {
		where = append(where, "s.supervisor_id = ?")
		args = append(args, f.SupervisorID)
	}
	if f.SupervisedID != "" {
		where = append(where, "s.supervised_id = ?")
		args = append(args, f.SupervisedID)
	}
	if f.Status != "" {
		where = append(where, "s.status = ?")
		args = append(args, string(f.Status))
	}
	query := supervisionSelect
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY s.created_at, s.id"

	rows, err := e.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list supervisions: %w", err)
	}
	defer rows.Close()

	var out []care.Supervision
	for rows.Next() {
		s, err := scanSupervision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (e *executor) SetSupervisionStatus(ctx context.Context, id string, status care.Status) error {
	res, err := e.q.ExecContext(ctx, `UPDATE supervisions SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update supervision: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &adherence.NotFoundError{Kind: "supervision", ID: id}
	}
	return nil
}

func scanSupervision(row scanner) (care.Supervision, error) {
	var (
		s                        care.Supervision
		relation, status, create string
	)
	if err := row.Scan(&s.ID, &s.SupervisorID, &s.SupervisedID, &relation, &status, &create,
		&s.SupervisorName, &s.SupervisedName); err != nil {
		return care.Supervision{}, err
	}
	s.Relation = care.Relation(relation)
	s.Status = care.Status(status)
	t, err := parseTime(create)
	if err != nil {
		return care.Supervision{}, err
	}
	s.CreatedAt = t
	return s, nil
}
