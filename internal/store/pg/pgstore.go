// Package pg implements auth.Store on PostgreSQL via database/sql with the
// pgx stdlib driver.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"idvault.org/internal/auth"
	"idvault.org/internal/ids"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

type Store struct {
	db *sql.DB
}

var _ auth.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection; used by sqlmock tests.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Users() auth.UserStore             { return (*userStore)(s) }
func (s *Store) Roles() auth.RoleStore             { return (*roleStore)(s) }
func (s *Store) Permissions() auth.PermissionStore { return (*permStore)(s) }
func (s *Store) Tokens() auth.TokenStore           { return (*tokenStore)(s) }

func (s *Store) EnsureCatalog(ctx context.Context, c *auth.Catalog) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, g := range c.Groups() {
		var groupID string
		// Upsert that always returns the id, fresh or existing.
		if err := tx.QueryRowContext(ctx, `
			insert into permission_groups (id, name)
			values ($1, $2)
			on conflict (name) do update set name = excluded.name
			returning id
		`, ids.New(), g.Name).Scan(&groupID); err != nil {
			return fmt.Errorf("ensure group %s: %w", g.Name, err)
		}
		for _, p := range g.Permissions {
			if _, err := tx.ExecContext(ctx, `
				insert into permissions (id, key, label, group_id)
				values ($1, $2, $3, $4)
				on conflict (key) do nothing
			`, ids.New(), p.Key, p.Label, groupID); err != nil {
				return fmt.Errorf("ensure permission %s: %w", p.Key, err)
			}
		}
	}
	for _, spec := range c.Roles() {
		var roleID string
		if err := tx.QueryRowContext(ctx, `
			insert into roles (id, name)
			values ($1, $2)
			on conflict (name) do update set name = excluded.name
			returning id
		`, ids.New(), spec.Name).Scan(&roleID); err != nil {
			return fmt.Errorf("ensure role %s: %w", spec.Name, err)
		}
		for _, key := range spec.Permissions {
			if _, err := tx.ExecContext(ctx, `
				insert into role_permissions (role_id, permission_id)
				select $1, id from permissions where key = $2
				on conflict do nothing
			`, roleID, key); err != nil {
				return fmt.Errorf("attach %s to %s: %w", key, spec.Name, err)
			}
		}
	}
	return tx.Commit()
}

func (s *Store) CreateUserWithToken(ctx context.Context, u *auth.User, t *auth.AccessToken) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertUser(ctx, tx, u); err != nil {
		return err
	}
	if err := insertToken(ctx, tx, t); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) CreateRoleWithPermissions(ctx context.Context, r *auth.Role, permissionIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into roles (id, name, created_at, updated_at)
		values ($1, $2, $3, $4)
	`, r.ID, r.Name, r.CreatedAt, r.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return fmt.Errorf("%w: role name already taken", auth.ErrConflict)
		}
		return err
	}
	if err := attachRolePermissions(ctx, tx, r.ID, permissionIDs); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) UpdateRoleWithPermissions(ctx context.Context, roleID string, upd auth.RoleUpdate, permissionIDs []string) (*auth.Role, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if upd.Name != nil {
		res, err := tx.ExecContext(ctx, `update roles set name = $1, updated_at = now() where id = $2`, *upd.Name, roleID)
		if err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
				return nil, fmt.Errorf("%w: role name already taken", auth.ErrConflict)
			}
			return nil, err
		}
		aff, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if aff == 0 {
			return nil, fmt.Errorf("%w: role %s", auth.ErrNotFound, roleID)
		}
	}
	if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id = $1`, roleID); err != nil {
		return nil, err
	}
	if err := attachRolePermissions(ctx, tx, roleID, permissionIDs); err != nil {
		return nil, err
	}

	var role auth.Role
	if err := tx.QueryRowContext(ctx, `
		select id, name, created_at, updated_at from roles where id = $1
	`, roleID).Scan(&role.ID, &role.Name, &role.CreatedAt, &role.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: role %s", auth.ErrNotFound, roleID)
		}
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &role, nil
}

func (s *Store) SetUserStatus(ctx context.Context, userID string, active bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `update users set active = $1, updated_at = now() where id = $2`, active, userID)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return fmt.Errorf("%w: user %s", auth.ErrNotFound, userID)
	}
	if !active {
		if _, err := tx.ExecContext(ctx, `delete from access_tokens where user_id = $1`, userID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) SoftDeleteUser(ctx context.Context, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update users set deleted_at = now(), updated_at = now()
		where id = $1 and deleted_at is null
	`, userID)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return fmt.Errorf("%w: user %s", auth.ErrNotFound, userID)
	}
	if _, err := tx.ExecContext(ctx, `delete from access_tokens where user_id = $1`, userID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) RestoreUser(ctx context.Context, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var deletedAt sql.NullTime
	err = tx.QueryRowContext(ctx, `select deleted_at from users where id = $1 for update`, userID).Scan(&deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: user %s", auth.ErrNotFound, userID)
	}
	if err != nil {
		return err
	}
	if !deletedAt.Valid {
		return fmt.Errorf("%w: user is not deleted", auth.ErrInvalidInput)
	}
	if _, err := tx.ExecContext(ctx, `
		update users set deleted_at = null, updated_at = now() where id = $1
	`, userID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) HardDeleteUser(ctx context.Context, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var deletedAt sql.NullTime
	err = tx.QueryRowContext(ctx, `select deleted_at from users where id = $1 for update`, userID).Scan(&deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: user %s", auth.ErrNotFound, userID)
	}
	if err != nil {
		return err
	}
	if !deletedAt.Valid {
		return fmt.Errorf("%w: user must be deleted first", auth.ErrInvalidInput)
	}
	for _, q := range []string{
		`delete from access_tokens where user_id = $1`,
		`delete from user_roles where user_id = $1`,
		`delete from user_permissions where user_id = $1`,
		`delete from users where id = $1`,
	} {
		if _, err := tx.ExecContext(ctx, q, userID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func attachRolePermissions(ctx context.Context, tx execer, roleID string, permissionIDs []string) error {
	for _, pid := range permissionIDs {
		if _, err := tx.ExecContext(ctx, `
			insert into role_permissions (role_id, permission_id) values ($1, $2)
		`, roleID, pid); err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
				return fmt.Errorf("%w: permission %s", auth.ErrNotFound, pid)
			}
			return err
		}
	}
	return nil
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func nullIfZero(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
