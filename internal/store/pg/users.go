package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"idvault.org/internal/auth"
)

type userStore Store

const userColumns = `id, name, username, employee_id, email, password_hash, active, created_at, updated_at, deleted_at`

func scanUser(row interface{ Scan(...any) error }) (*auth.User, error) {
	var (
		u       auth.User
		deleted sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.Name, &u.Username, &u.EmployeeID, &u.Email, &u.PasswordHash, &u.Active, &u.CreatedAt, &u.UpdatedAt, &deleted); err != nil {
		return nil, err
	}
	if deleted.Valid {
		t := deleted.Time
		u.DeletedAt = &t
	}
	return &u, nil
}

func insertUser(ctx context.Context, tx execer, u *auth.User) error {
	_, err := tx.ExecContext(ctx, `
		insert into users (id, name, username, employee_id, email, password_hash, active, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, u.ID, u.Name, u.Username, u.EmployeeID, u.Email, u.PasswordHash, u.Active, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return fmt.Errorf("%w: %s", auth.ErrConflict, uniqueFieldFromConstraint(pgErr.ConstraintName))
		}
		return err
	}
	return nil
}

// uniqueFieldFromConstraint maps the violated index back to the field named
// in the error surfaced to clients.
func uniqueFieldFromConstraint(name string) string {
	switch {
	case strings.Contains(name, "username"):
		return "username already taken"
	case strings.Contains(name, "employee"):
		return "employee_id already taken"
	case strings.Contains(name, "email"):
		return "email already taken"
	default:
		return "identity already taken"
	}
}

func (s *userStore) Create(ctx context.Context, u *auth.User) error {
	return insertUser(ctx, s.db, u)
}

func (s *userStore) Find(ctx context.Context, id string, includeDeleted bool) (*auth.User, error) {
	query := `select ` + userColumns + ` from users where id = $1`
	if !includeDeleted {
		query += ` and deleted_at is null`
	}
	u, err := scanUser(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: user %s", auth.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (s *userStore) FindByLogin(ctx context.Context, login string) (*auth.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `
		select `+userColumns+`
		from users
		where deleted_at is null
		  and (username = $1 or employee_id = $1 or email = $1)
	`, login))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no user matches login", auth.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (s *userStore) List(ctx context.Context, f auth.UserFilter) ([]*auth.User, error) {
	var (
		where []string
		args  []any
		idx   = 1
	)
	if !f.IncludeDeleted {
		where = append(where, "deleted_at is null")
	}
	if f.Active != nil {
		where = append(where, fmt.Sprintf("active = $%d", idx))
		args = append(args, *f.Active)
		idx++
	}
	query := `select ` + userColumns + ` from users`
	if len(where) > 0 {
		query += ` where ` + strings.Join(where, " and ")
	}
	query += ` order by id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*auth.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *userStore) Update(ctx context.Context, id string, upd auth.UserUpdate) (*auth.User, error) {
	var (
		sets []string
		args []any
		idx  = 1
	)
	set := func(col string, val any) {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, idx))
		args = append(args, val)
		idx++
	}
	if upd.Name != nil {
		set("name", *upd.Name)
	}
	if upd.Username != nil {
		set("username", *upd.Username)
	}
	if upd.EmployeeID != nil {
		set("employee_id", *upd.EmployeeID)
	}
	if upd.Email != nil {
		set("email", *upd.Email)
	}
	if len(sets) > 0 {
		sets = append(sets, "updated_at = now()")
		query := fmt.Sprintf(`update users set %s where id = $%d`, strings.Join(sets, ", "), idx)
		args = append(args, id)
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
				return nil, fmt.Errorf("%w: %s", auth.ErrConflict, uniqueFieldFromConstraint(pgErr.ConstraintName))
			}
			return nil, err
		}
		aff, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if aff == 0 {
			return nil, fmt.Errorf("%w: user %s", auth.ErrNotFound, id)
		}
	}
	return s.Find(ctx, id, true)
}

func (s *userStore) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, `
		update users set password_hash = $1, updated_at = now() where id = $2
	`, passwordHash, id)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return fmt.Errorf("%w: user %s", auth.ErrNotFound, id)
	}
	return nil
}
