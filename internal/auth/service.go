package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"idvault.org/internal/ids"
	"idvault.org/internal/obs"
)

// Service provides the token lifecycle, authorization graph and account
// lifecycle operations on top of a Store.
type Service struct {
	store    Store
	catalog  *Catalog
	now      func() time.Time
	tokenTTL time.Duration
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithTokenTTL sets a default expiry for minted tokens. Zero keeps tokens
// non-expiring, matching the upstream default.
func WithTokenTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl < 0 {
			return errors.New("auth: token ttl must not be negative")
		}
		s.tokenTTL = ttl
		return nil
	}
}

// WithCatalog replaces the builtin permission catalog.
func WithCatalog(c *Catalog) ServiceOption {
	return func(s *Service) error {
		if c == nil {
			return errors.New("auth: catalog is required")
		}
		s.catalog = c
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	svc := &Service{
		store:   store,
		catalog: DefaultCatalog(),
		now:     time.Now,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// Catalog returns the injected permission catalog.
func (s *Service) Catalog() *Catalog { return s.catalog }

// EnsureBuiltins seeds the builtin permission groups, permissions and roles.
func (s *Service) EnsureBuiltins(ctx context.Context) error {
	return s.store.EnsureCatalog(ctx, s.catalog)
}

// ClientMeta carries request metadata bound to a minted token.
type ClientMeta struct {
	IP        string
	UserAgent string
}

// RegisterInput is the data needed to create an account.
type RegisterInput struct {
	Name       string
	Username   string
	EmployeeID string
	Email      string
	Password   string
}

// Credentials identify a subject at login. Login matches username,
// employee id or email.
type Credentials struct {
	Login    string
	Password string
}

func (in *RegisterInput) normalize() error {
	in.Name = strings.TrimSpace(in.Name)
	in.Username = strings.TrimSpace(strings.ToLower(in.Username))
	in.EmployeeID = strings.TrimSpace(in.EmployeeID)
	in.Email = strings.TrimSpace(strings.ToLower(in.Email))

	if len(in.Name) < 2 {
		return fmt.Errorf("%w: name must be at least 2 characters", ErrInvalidInput)
	}
	if len(in.Username) < 2 || len(in.Username) > 30 {
		return fmt.Errorf("%w: username must be 2-30 characters", ErrInvalidInput)
	}
	if len(in.EmployeeID) < 2 || len(in.EmployeeID) > 30 {
		return fmt.Errorf("%w: employee_id must be 2-30 characters", ErrInvalidInput)
	}
	if in.Email == "" || !strings.Contains(in.Email, "@") {
		return fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if len(in.Password) < 8 {
		return fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidInput)
	}
	return nil
}

func (s *Service) newUser(in RegisterInput) (*User, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	return &User{
		ID:           ids.New(),
		Name:         in.Name,
		Username:     in.Username,
		EmployeeID:   in.EmployeeID,
		Email:        in.Email,
		PasswordHash: hash,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// buildToken constructs a token record plus its plaintext without persisting.
func (s *Service) buildToken(userID, name string, abilities []string, expiresAt *time.Time, meta ClientMeta) (string, *AccessToken, error) {
	secret, err := mintSecret()
	if err != nil {
		return "", nil, err
	}
	if strings.TrimSpace(name) == "" {
		name = DefaultTokenName
	}
	if len(abilities) == 0 {
		abilities = []string{AbilityAll}
	}
	if expiresAt == nil && s.tokenTTL > 0 {
		exp := s.now().UTC().Add(s.tokenTTL)
		expiresAt = &exp
	}
	rec := &AccessToken{
		ID:         ids.New(),
		UserID:     userID,
		Name:       name,
		Abilities:  abilities,
		SecretHash: hashSecret(secret),
		IP:         meta.IP,
		UserAgent:  meta.UserAgent,
		ExpiresAt:  expiresAt,
		CreatedAt:  s.now().UTC(),
	}
	return joinToken(rec.ID, secret), rec, nil
}

// IssueToken mints and persists a token for the user, returning the plaintext
// exactly once. The plaintext is never retrievable again.
func (s *Service) IssueToken(ctx context.Context, userID, name string, abilities []string, expiresAt *time.Time, meta ClientMeta) (string, *AccessToken, error) {
	plaintext, rec, err := s.buildToken(userID, name, abilities, expiresAt, meta)
	if err != nil {
		return "", nil, err
	}
	if err := s.store.Tokens().Create(ctx, rec); err != nil {
		return "", nil, err
	}
	return plaintext, rec, nil
}

// Register creates a user and its first token atomically: the user row does
// not exist without a usable token and vice versa.
func (s *Service) Register(ctx context.Context, in RegisterInput, meta ClientMeta) (*User, string, error) {
	user, err := s.newUser(in)
	if err != nil {
		return nil, "", err
	}
	plaintext, rec, err := s.buildToken(user.ID, DefaultTokenName, nil, nil, meta)
	if err != nil {
		return nil, "", err
	}
	if err := s.store.CreateUserWithToken(ctx, user, rec); err != nil {
		return nil, "", err
	}
	// Fresh accounts start with the builtin self-service role when seeded.
	// The account itself is already usable; a failed grant is surfaced in the
	// logs so operators can re-sync instead of failing the registration.
	if err := s.grantDefaultRole(ctx, user.ID); err != nil {
		obs.Logger().Printf(`{"level":"warn","msg":"default role grant failed","user_id":%q,"error":%q}`, user.ID, err.Error())
	}
	return user, plaintext, nil
}

func (s *Service) grantDefaultRole(ctx context.Context, userID string) error {
	roles, err := s.store.Roles().List(ctx)
	if err != nil {
		return err
	}
	for _, role := range roles {
		if role.Name == RoleUser {
			return s.store.Roles().SyncForUser(ctx, userID, []string{role.ID})
		}
	}
	// Catalog not seeded yet; nothing to grant.
	return nil
}

// Login authenticates credentials and mints a fresh token. Every failure mode
// collapses to ErrUnauthorized so callers cannot probe which accounts exist.
func (s *Service) Login(ctx context.Context, creds Credentials, meta ClientMeta) (*User, string, error) {
	login := strings.TrimSpace(creds.Login)
	if login == "" || creds.Password == "" {
		return nil, "", ErrUnauthorized
	}
	user, err := s.store.Users().FindByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, "", ErrUnauthorized
		}
		return nil, "", err
	}
	if err := VerifyPassword(user.PasswordHash, creds.Password); err != nil {
		return nil, "", ErrUnauthorized
	}
	if !user.Active {
		return nil, "", ErrUnauthorized
	}
	plaintext, _, err := s.IssueToken(ctx, user.ID, DefaultTokenName, nil, nil, meta)
	if err != nil {
		return nil, "", err
	}
	return user, plaintext, nil
}

// Authenticate resolves a presented bearer token to a principal. It fails
// ErrInvalidToken for unknown or expired tokens and for tokens whose owner is
// inactive or soft-deleted. The token's last-used timestamp is updated best
// effort; a failed touch never fails the request.
func (s *Service) Authenticate(ctx context.Context, raw string) (Principal, error) {
	id, secret, err := splitToken(raw)
	if err != nil {
		return Principal{}, ErrInvalidToken
	}
	tok, err := s.store.Tokens().Find(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Principal{}, ErrInvalidToken
		}
		return Principal{}, err
	}
	if !secureCompareHash(tok.SecretHash, secret) {
		return Principal{}, ErrInvalidToken
	}
	now := s.now().UTC()
	if tok.ExpiresAt != nil && now.After(*tok.ExpiresAt) {
		return Principal{}, ErrInvalidToken
	}
	user, err := s.store.Users().Find(ctx, tok.UserID, false)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Principal{}, ErrInvalidToken
		}
		return Principal{}, err
	}
	if !user.Active {
		return Principal{}, ErrInvalidToken
	}
	perms, err := s.store.Permissions().EffectiveFor(ctx, user.ID)
	if err != nil {
		return Principal{}, err
	}
	_ = s.store.Tokens().TouchLastUsed(ctx, tok.ID, now)
	return NewPrincipal(user, tok.ID, perms), nil
}

// Sessions lists active tokens, newest first, for the principal itself or —
// given session-read permission on the user group — for another subject.
// Secret hashes are scrubbed before returning.
func (s *Service) Sessions(ctx context.Context, p Principal, targetID string) ([]*AccessToken, error) {
	if targetID == "" {
		targetID = p.User.ID
	}
	scope := ScopeOf(p.User.ID, targetID)
	if err := s.requirePermission(p, permissionForScope(scope, PermOwnSessionRead, PermUserSessionRead)); err != nil {
		return nil, err
	}
	if scope == ScopeOther {
		if _, err := s.store.Users().Find(ctx, targetID, true); err != nil {
			return nil, err
		}
	}
	tokens, err := s.store.Tokens().ListByUser(ctx, targetID)
	if err != nil {
		return nil, err
	}
	for _, t := range tokens {
		t.SecretHash = ""
	}
	return tokens, nil
}

// RevokeCurrent deletes the token that authenticated the present request.
func (s *Service) RevokeCurrent(ctx context.Context, p Principal) error {
	return s.store.Tokens().Delete(ctx, p.TokenID)
}

// RevokeSession deletes one specific token. Tokens owned by another subject
// require session-delete permission on the user group; a token id outside the
// caller's reach fails rather than deleting cross-subject.
func (s *Service) RevokeSession(ctx context.Context, p Principal, tokenID string) error {
	tok, err := s.store.Tokens().Find(ctx, tokenID)
	if err != nil {
		return err
	}
	scope := ScopeOf(p.User.ID, tok.UserID)
	if err := s.requirePermission(p, permissionForScope(scope, PermOwnSessionDelete, PermUserSessionDelete)); err != nil {
		return err
	}
	return s.store.Tokens().Delete(ctx, tok.ID)
}

// RevokeAll deletes every token owned by the subject. Revoking an already
// empty set succeeds.
func (s *Service) RevokeAll(ctx context.Context, userID string) error {
	return s.store.Tokens().DeleteByUser(ctx, userID)
}

// RevokeUserSessions is the authorized variant of RevokeAll for handlers.
func (s *Service) RevokeUserSessions(ctx context.Context, p Principal, targetID string) error {
	scope := ScopeOf(p.User.ID, targetID)
	if err := s.requirePermission(p, permissionForScope(scope, PermOwnSessionDelete, PermUserSessionDelete)); err != nil {
		return err
	}
	if scope == ScopeOther {
		if _, err := s.store.Users().Find(ctx, targetID, true); err != nil {
			return err
		}
	}
	return s.store.Tokens().DeleteByUser(ctx, targetID)
}

// --- user administration -------------------------------------------------

// CreateUser is the administrative create; no token is issued.
func (s *Service) CreateUser(ctx context.Context, p Principal, in RegisterInput) (*User, error) {
	if err := s.requirePermission(p, PermUserCreate); err != nil {
		return nil, err
	}
	user, err := s.newUser(in)
	if err != nil {
		return nil, err
	}
	if err := s.store.Users().Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// ListUsers returns users, optionally filtered by status.
func (s *Service) ListUsers(ctx context.Context, p Principal, f UserFilter) ([]*User, error) {
	if err := s.requirePermission(p, PermUserRead); err != nil {
		return nil, err
	}
	return s.store.Users().List(ctx, f)
}

// GetUser fetches one user; soft-deleted rows are visible to administrators.
// The permission key is selected from the identities at call time.
func (s *Service) GetUser(ctx context.Context, p Principal, targetID string) (*User, error) {
	scope := ScopeOf(p.User.ID, targetID)
	if err := s.requirePermission(p, permissionForScope(scope, PermOwnProfileRead, PermUserRead)); err != nil {
		return nil, err
	}
	if scope == ScopeOwn {
		return p.User, nil
	}
	return s.store.Users().Find(ctx, targetID, true)
}

// UpdateUser mutates profile fields.
func (s *Service) UpdateUser(ctx context.Context, p Principal, targetID string, upd UserUpdate) (*User, error) {
	scope := ScopeOf(p.User.ID, targetID)
	if err := s.requirePermission(p, permissionForScope(scope, PermOwnProfileUpdate, PermUserUpdate)); err != nil {
		return nil, err
	}
	if err := normalizeUserUpdate(&upd); err != nil {
		return nil, err
	}
	return s.store.Users().Update(ctx, targetID, upd)
}

// ChangePassword changes the caller's own password after re-proving the
// current one. A wrong current password fails ErrUnauthorized with no effect.
func (s *Service) ChangePassword(ctx context.Context, p Principal, current, next string) error {
	if err := s.requirePermission(p, PermOwnPasswordChange); err != nil {
		return err
	}
	if len(next) < 8 {
		return fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidInput)
	}
	if err := VerifyPassword(p.User.PasswordHash, current); err != nil {
		return ErrUnauthorized
	}
	hash, err := HashPassword(next)
	if err != nil {
		return err
	}
	return s.store.Users().UpdatePassword(ctx, p.User.ID, hash)
}

// ResetPassword sets another subject's password without the old one. A
// self-targeted reset is rejected before any permission lookup; own password
// changes go through ChangePassword.
func (s *Service) ResetPassword(ctx context.Context, p Principal, targetID, next string) error {
	if ScopeOf(p.User.ID, targetID) == ScopeOwn {
		return fmt.Errorf("%w: cannot reset own password", ErrForbidden)
	}
	if err := s.requirePermission(p, PermUserPasswordReset); err != nil {
		return err
	}
	if len(next) < 8 {
		return fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidInput)
	}
	if _, err := s.store.Users().Find(ctx, targetID, true); err != nil {
		return err
	}
	hash, err := HashPassword(next)
	if err != nil {
		return err
	}
	return s.store.Users().UpdatePassword(ctx, targetID, hash)
}

// ChangeStatus toggles another subject's active flag. Self-targeting is
// rejected before any permission lookup. Deactivation revokes every token of
// the subject inside the same transaction.
func (s *Service) ChangeStatus(ctx context.Context, p Principal, targetID string, active bool) error {
	if ScopeOf(p.User.ID, targetID) == ScopeOwn {
		return fmt.Errorf("%w: cannot change own status", ErrForbidden)
	}
	if err := s.requirePermission(p, PermUserStatusChange); err != nil {
		return err
	}
	return s.store.SetUserStatus(ctx, targetID, active)
}

// DeleteUser soft-deletes a subject and revokes its tokens transactionally.
func (s *Service) DeleteUser(ctx context.Context, p Principal, targetID string) error {
	scope := ScopeOf(p.User.ID, targetID)
	if err := s.requirePermission(p, permissionForScope(scope, PermOwnProfileDelete, PermUserDelete)); err != nil {
		return err
	}
	return s.store.SoftDeleteUser(ctx, targetID)
}

// RestoreUser undoes a soft-delete. Restoring a subject that is not
// soft-deleted fails without side effects; previously revoked tokens stay
// revoked, so the subject must authenticate again.
func (s *Service) RestoreUser(ctx context.Context, p Principal, targetID string) error {
	if err := s.requirePermission(p, PermUserRestore); err != nil {
		return err
	}
	return s.store.RestoreUser(ctx, targetID)
}

// HardDeleteUser permanently removes a previously soft-deleted subject.
func (s *Service) HardDeleteUser(ctx context.Context, p Principal, targetID string) error {
	if err := s.requirePermission(p, PermUserDeletePermanently); err != nil {
		return err
	}
	return s.store.HardDeleteUser(ctx, targetID)
}

// --- roles and permissions -----------------------------------------------

// CreateRole creates a role and attaches exactly the requested permissions in
// one transaction; the role never exists with a different set than requested.
func (s *Service) CreateRole(ctx context.Context, p Principal, name string, permissionIDs []string) (*Role, error) {
	if err := s.requirePermission(p, PermRoleCreate); err != nil {
		return nil, err
	}
	if err := s.requirePermission(p, PermPermissionAssignRole); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if len(name) < 2 {
		return nil, fmt.Errorf("%w: role name must be at least 2 characters", ErrInvalidInput)
	}
	now := s.now().UTC()
	role := &Role{ID: ids.New(), Name: name, CreatedAt: now, UpdatedAt: now}
	if err := s.store.CreateRoleWithPermissions(ctx, role, dedupeStrings(permissionIDs)); err != nil {
		return nil, err
	}
	return role, nil
}

// ListRoles returns all roles.
func (s *Service) ListRoles(ctx context.Context, p Principal) ([]*Role, error) {
	if err := s.requirePermission(p, PermRoleRead); err != nil {
		return nil, err
	}
	return s.store.Roles().List(ctx)
}

// GetRole returns one role together with its permissions.
func (s *Service) GetRole(ctx context.Context, p Principal, roleID string) (*Role, []Permission, error) {
	if err := s.requirePermission(p, PermRoleRead); err != nil {
		return nil, nil, err
	}
	role, err := s.store.Roles().Find(ctx, roleID)
	if err != nil {
		return nil, nil, err
	}
	perms, err := s.store.Roles().PermissionsFor(ctx, roleID)
	if err != nil {
		return nil, nil, err
	}
	return role, perms, nil
}

// UpdateRole renames a role and replaces its permission set atomically.
func (s *Service) UpdateRole(ctx context.Context, p Principal, roleID, name string, permissionIDs []string) (*Role, error) {
	if err := s.requirePermission(p, PermRoleUpdate); err != nil {
		return nil, err
	}
	if err := s.requirePermission(p, PermPermissionAssignRole); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if len(name) < 2 {
		return nil, fmt.Errorf("%w: role name must be at least 2 characters", ErrInvalidInput)
	}
	return s.store.UpdateRoleWithPermissions(ctx, roleID, RoleUpdate{Name: &name}, dedupeStrings(permissionIDs))
}

// DeleteRole removes a role and its assignments.
func (s *Service) DeleteRole(ctx context.Context, p Principal, roleID string) error {
	if err := s.requirePermission(p, PermRoleDelete); err != nil {
		return err
	}
	return s.store.Roles().Delete(ctx, roleID)
}

// SyncUserRoles replaces a subject's role set with exactly the given ids. An
// empty list intentionally clears all assignments. Self-assignment is
// rejected before the permission lookup.
func (s *Service) SyncUserRoles(ctx context.Context, p Principal, targetID string, roleIDs []string) error {
	if ScopeOf(p.User.ID, targetID) == ScopeOwn {
		return fmt.Errorf("%w: cannot change own roles", ErrForbidden)
	}
	if err := s.requirePermission(p, PermRoleAssign); err != nil {
		return err
	}
	if _, err := s.store.Users().Find(ctx, targetID, true); err != nil {
		return err
	}
	return s.store.Roles().SyncForUser(ctx, targetID, dedupeStrings(roleIDs))
}

// UserRoles lists the roles currently assigned to a subject.
func (s *Service) UserRoles(ctx context.Context, p Principal, targetID string) ([]*Role, error) {
	if err := s.requirePermission(p, PermRoleRead); err != nil {
		return nil, err
	}
	if _, err := s.store.Users().Find(ctx, targetID, true); err != nil {
		return nil, err
	}
	return s.store.Roles().RolesFor(ctx, targetID)
}

// ListPermissions returns the full permission catalog.
func (s *Service) ListPermissions(ctx context.Context, p Principal) ([]Permission, error) {
	if err := s.requirePermission(p, PermPermissionRead); err != nil {
		return nil, err
	}
	return s.store.Permissions().List(ctx)
}

// SyncUserPermissions replaces a subject's direct permission grants with
// exactly the given ids; an empty list clears them.
func (s *Service) SyncUserPermissions(ctx context.Context, p Principal, targetID string, permissionIDs []string) error {
	if err := s.requirePermission(p, PermPermissionAssignUser); err != nil {
		return err
	}
	if _, err := s.store.Users().Find(ctx, targetID, true); err != nil {
		return err
	}
	return s.store.Permissions().SyncForUser(ctx, targetID, dedupeStrings(permissionIDs))
}

// HasPermission recomputes the subject's effective permission set from the
// store and checks membership. Unlike Principal.HasPermission it sees grants
// made after the principal was resolved.
func (s *Service) HasPermission(ctx context.Context, userID, key string) (bool, error) {
	perms, err := s.store.Permissions().EffectiveFor(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, k := range perms {
		if k == key {
			return true, nil
		}
	}
	return false, nil
}

func (s *Service) requirePermission(p Principal, key string) error {
	if p.User == nil {
		return ErrUnauthorized
	}
	if !p.HasPermission(key) {
		return fmt.Errorf("%w: missing permission %s", ErrForbidden, key)
	}
	return nil
}

func normalizeUserUpdate(upd *UserUpdate) error {
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if len(name) < 2 {
			return fmt.Errorf("%w: name must be at least 2 characters", ErrInvalidInput)
		}
		upd.Name = &name
	}
	if upd.Username != nil {
		username := strings.TrimSpace(strings.ToLower(*upd.Username))
		if len(username) < 2 || len(username) > 30 {
			return fmt.Errorf("%w: username must be 2-30 characters", ErrInvalidInput)
		}
		upd.Username = &username
	}
	if upd.EmployeeID != nil {
		emp := strings.TrimSpace(*upd.EmployeeID)
		if len(emp) < 2 || len(emp) > 30 {
			return fmt.Errorf("%w: employee_id must be 2-30 characters", ErrInvalidInput)
		}
		upd.EmployeeID = &emp
	}
	if upd.Email != nil {
		email := strings.TrimSpace(strings.ToLower(*upd.Email))
		if email == "" || !strings.Contains(email, "@") {
			return fmt.Errorf("%w: valid email is required", ErrInvalidInput)
		}
		upd.Email = &email
	}
	return nil
}

func dedupeStrings(values []string) []string {
	if values == nil {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := set[v]; ok {
			continue
		}
		set[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
