package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth subsystem.
// The compound methods are transactional: either every write inside them
// lands or none does. Token revocation on lifecycle transitions happens
// inside the same transaction as the transition itself.
type Store interface {
	Users() UserStore
	Roles() RoleStore
	Permissions() PermissionStore
	Tokens() TokenStore

	// EnsureCatalog idempotently creates the builtin permission groups,
	// permissions and roles.
	EnsureCatalog(ctx context.Context, c *Catalog) error

	// CreateUserWithToken registers a user and its first access token
	// atomically. Neither row exists if either write fails.
	CreateUserWithToken(ctx context.Context, u *User, t *AccessToken) error

	// CreateRoleWithPermissions creates a role and attaches exactly the given
	// permission ids. Fails ErrNotFound if any id is unknown.
	CreateRoleWithPermissions(ctx context.Context, r *Role, permissionIDs []string) error

	// UpdateRoleWithPermissions updates the role and replaces its permission
	// set with exactly the given ids.
	UpdateRoleWithPermissions(ctx context.Context, roleID string, upd RoleUpdate, permissionIDs []string) (*Role, error)

	// SetUserStatus flips the active flag. Deactivation deletes every token
	// owned by the user in the same transaction.
	SetUserStatus(ctx context.Context, userID string, active bool) error

	// SoftDeleteUser marks the user deleted and deletes its tokens in the
	// same transaction.
	SoftDeleteUser(ctx context.Context, userID string) error

	// RestoreUser clears the soft-delete marker. Fails ErrInvalidInput when
	// the user is not soft-deleted.
	RestoreUser(ctx context.Context, userID string) error

	// HardDeleteUser removes the user row permanently. Requires a prior
	// soft-delete; deletes any remaining tokens in the same transaction.
	HardDeleteUser(ctx context.Context, userID string) error
}

// UserStore manages user rows. Soft-deleted visibility is an explicit
// parameter at every lookup.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string, includeDeleted bool) (*User, error)
	// FindByLogin matches username, employee id or email; soft-deleted rows
	// are never returned.
	FindByLogin(ctx context.Context, login string) (*User, error)
	List(ctx context.Context, f UserFilter) ([]*User, error)
	Update(ctx context.Context, id string, upd UserUpdate) (*User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
}

// RoleStore manages roles and user-role assignments.
type RoleStore interface {
	Find(ctx context.Context, id string) (*Role, error)
	List(ctx context.Context) ([]*Role, error)
	Delete(ctx context.Context, id string) error
	PermissionsFor(ctx context.Context, roleID string) ([]Permission, error)
	RolesFor(ctx context.Context, userID string) ([]*Role, error)
	// SyncForUser replaces the user's role set with exactly the given ids.
	// An empty list clears all assignments. Fails ErrNotFound on unknown ids
	// with no partial effect.
	SyncForUser(ctx context.Context, userID string, roleIDs []string) error
}

// PermissionStore manages the permission catalog and direct user grants.
type PermissionStore interface {
	List(ctx context.Context) ([]Permission, error)
	// SyncForUser replaces the user's direct permission set with exactly the
	// given ids; same semantics as RoleStore.SyncForUser.
	SyncForUser(ctx context.Context, userID string, permissionIDs []string) error
	// EffectiveFor returns the union of direct grants and permissions of all
	// assigned roles, as permission keys.
	EffectiveFor(ctx context.Context, userID string) ([]string, error)
}

// TokenStore manages access token rows.
type TokenStore interface {
	Create(ctx context.Context, t *AccessToken) error
	Find(ctx context.Context, id string) (*AccessToken, error)
	// ListByUser returns the user's tokens newest first.
	ListByUser(ctx context.Context, userID string) ([]*AccessToken, error)
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
	// DeleteByUser removes every token of the user; deleting an empty set
	// succeeds.
	DeleteByUser(ctx context.Context, userID string) error
}
