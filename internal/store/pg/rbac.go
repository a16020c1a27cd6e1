package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"idvault.org/internal/auth"
)

type roleStore Store

func (s *roleStore) Find(ctx context.Context, id string) (*auth.Role, error) {
	var role auth.Role
	err := s.db.QueryRowContext(ctx, `
		select id, name, created_at, updated_at from roles where id = $1
	`, id).Scan(&role.ID, &role.Name, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: role %s", auth.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &role, nil
}

func (s *roleStore) List(ctx context.Context) ([]*auth.Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, name, created_at, updated_at from roles order by name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []*auth.Role
	for rows.Next() {
		var role auth.Role
		if err := rows.Scan(&role.ID, &role.Name, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, &role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

func (s *roleStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from roles where id = $1`, id)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return fmt.Errorf("%w: role %s", auth.ErrNotFound, id)
	}
	return nil
}

func (s *roleStore) PermissionsFor(ctx context.Context, roleID string) ([]auth.Permission, error) {
	if _, err := s.Find(ctx, roleID); err != nil {
		return nil, err
	}
	return queryPermissions(ctx, s.db, `
		select p.id, p.key, p.label, coalesce(g.name, ''), p.created_at
		from permissions p
		left join permission_groups g on g.id = p.group_id
		join role_permissions rp on rp.permission_id = p.id
		where rp.role_id = $1
		order by p.key
	`, roleID)
}

func (s *roleStore) RolesFor(ctx context.Context, userID string) ([]*auth.Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		select r.id, r.name, r.created_at, r.updated_at
		from roles r
		join user_roles ur on ur.role_id = r.id
		where ur.user_id = $1
		order by r.name
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []*auth.Role
	for rows.Next() {
		var role auth.Role
		if err := rows.Scan(&role.ID, &role.Name, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, &role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

func (s *roleStore) SyncForUser(ctx context.Context, userID string, roleIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `delete from user_roles where user_id = $1`, userID); err != nil {
		return err
	}
	for _, rid := range roleIDs {
		if _, err := tx.ExecContext(ctx, `
			insert into user_roles (user_id, role_id) values ($1, $2)
		`, userID, rid); err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
				return fmt.Errorf("%w: role %s", auth.ErrNotFound, rid)
			}
			return err
		}
	}
	return tx.Commit()
}

type permStore Store

func (s *permStore) List(ctx context.Context) ([]auth.Permission, error) {
	return queryPermissions(ctx, s.db, `
		select p.id, p.key, p.label, coalesce(g.name, ''), p.created_at
		from permissions p
		left join permission_groups g on g.id = p.group_id
		order by p.key
	`)
}

func (s *permStore) SyncForUser(ctx context.Context, userID string, permissionIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `delete from user_permissions where user_id = $1`, userID); err != nil {
		return err
	}
	for _, pid := range permissionIDs {
		if _, err := tx.ExecContext(ctx, `
			insert into user_permissions (user_id, permission_id) values ($1, $2)
		`, userID, pid); err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
				return fmt.Errorf("%w: permission %s", auth.ErrNotFound, pid)
			}
			return err
		}
	}
	return tx.Commit()
}

func (s *permStore) EffectiveFor(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		select p.key
		from permissions p
		join user_permissions up on up.permission_id = p.id
		where up.user_id = $1
		union
		select p.key
		from permissions p
		join role_permissions rp on rp.permission_id = p.id
		join user_roles ur on ur.role_id = rp.role_id
		where ur.user_id = $1
		order by 1
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryPermissions(ctx context.Context, db querier, query string, args ...any) ([]auth.Permission, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []auth.Permission
	for rows.Next() {
		var p auth.Permission
		if err := rows.Scan(&p.ID, &p.Key, &p.Label, &p.GroupName, &p.CreatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}
