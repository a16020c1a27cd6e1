// Package mem provides an in-memory auth.Store used by tests and by the API
// binary when no database is configured. All methods are safe for concurrent
// use; one mutex guards the whole store, which mirrors the transactional
// guarantees of the SQL store.
package mem

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"idvault.org/internal/auth"
	"idvault.org/internal/ids"
)

type Store struct {
	mu sync.RWMutex

	users  map[string]*auth.User
	roles  map[string]*auth.Role
	perms  map[string]*auth.Permission
	tokens map[string]*auth.AccessToken

	permByKey  map[string]string              // key -> permission id
	roleByName map[string]string              // name -> role id
	rolePerms  map[string]map[string]struct{} // role id -> permission ids
	userRoles  map[string]map[string]struct{} // user id -> role ids
	userPerms  map[string]map[string]struct{} // user id -> permission ids
}

func New() *Store {
	return &Store{
		users:      map[string]*auth.User{},
		roles:      map[string]*auth.Role{},
		perms:      map[string]*auth.Permission{},
		tokens:     map[string]*auth.AccessToken{},
		permByKey:  map[string]string{},
		roleByName: map[string]string{},
		rolePerms:  map[string]map[string]struct{}{},
		userRoles:  map[string]map[string]struct{}{},
		userPerms:  map[string]map[string]struct{}{},
	}
}

func (s *Store) Users() auth.UserStore             { return (*userStore)(s) }
func (s *Store) Roles() auth.RoleStore             { return (*roleStore)(s) }
func (s *Store) Permissions() auth.PermissionStore { return (*permStore)(s) }
func (s *Store) Tokens() auth.TokenStore           { return (*tokenStore)(s) }

func cloneUser(u *auth.User) *auth.User {
	c := *u
	if u.DeletedAt != nil {
		t := *u.DeletedAt
		c.DeletedAt = &t
	}
	return &c
}

func cloneRole(r *auth.Role) *auth.Role {
	c := *r
	return &c
}

func cloneToken(t *auth.AccessToken) *auth.AccessToken {
	c := *t
	c.Abilities = append([]string(nil), t.Abilities...)
	if t.LastUsedAt != nil {
		v := *t.LastUsedAt
		c.LastUsedAt = &v
	}
	if t.ExpiresAt != nil {
		v := *t.ExpiresAt
		c.ExpiresAt = &v
	}
	return &c
}

// identityConflict reports whether another row, soft-deleted or not, already
// holds one of the unique identity fields. Soft-deleted rows keep their
// identities reserved.
func (s *Store) identityConflict(u *auth.User, excludeID string) error {
	for _, other := range s.users {
		if other.ID == excludeID {
			continue
		}
		switch {
		case other.Username == u.Username:
			return fmt.Errorf("%w: username already taken", auth.ErrConflict)
		case other.Email == u.Email:
			return fmt.Errorf("%w: email already taken", auth.ErrConflict)
		case other.EmployeeID == u.EmployeeID:
			return fmt.Errorf("%w: employee_id already taken", auth.ErrConflict)
		}
	}
	return nil
}

func (s *Store) findUser(id string, includeDeleted bool) (*auth.User, error) {
	u, ok := s.users[id]
	if !ok || (!includeDeleted && u.Deleted()) {
		return nil, fmt.Errorf("%w: user %s", auth.ErrNotFound, id)
	}
	return u, nil
}

func (s *Store) deleteTokensOf(userID string) {
	for id, t := range s.tokens {
		if t.UserID == userID {
			delete(s.tokens, id)
		}
	}
}

// --- compound transactional operations -----------------------------------

func (s *Store) EnsureCatalog(_ context.Context, c *auth.Catalog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for _, g := range c.Groups() {
		for _, p := range g.Permissions {
			if _, ok := s.permByKey[p.Key]; ok {
				continue
			}
			perm := &auth.Permission{
				ID:        ids.New(),
				Key:       p.Key,
				Label:     p.Label,
				GroupName: g.Name,
				CreatedAt: now,
			}
			s.perms[perm.ID] = perm
			s.permByKey[perm.Key] = perm.ID
		}
	}
	for _, spec := range c.Roles() {
		roleID, ok := s.roleByName[spec.Name]
		if !ok {
			role := &auth.Role{ID: ids.New(), Name: spec.Name, CreatedAt: now, UpdatedAt: now}
			s.roles[role.ID] = role
			s.roleByName[role.Name] = role.ID
			roleID = role.ID
		}
		set, ok := s.rolePerms[roleID]
		if !ok {
			set = map[string]struct{}{}
			s.rolePerms[roleID] = set
		}
		for _, key := range spec.Permissions {
			if pid, ok := s.permByKey[key]; ok {
				set[pid] = struct{}{}
			}
		}
	}
	return nil
}

func (s *Store) CreateUserWithToken(_ context.Context, u *auth.User, t *auth.AccessToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.identityConflict(u, ""); err != nil {
		return err
	}
	s.users[u.ID] = cloneUser(u)
	s.tokens[t.ID] = cloneToken(t)
	return nil
}

func (s *Store) CreateRoleWithPermissions(_ context.Context, r *auth.Role, permissionIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.roleByName[r.Name]; ok {
		return fmt.Errorf("%w: role name already taken", auth.ErrConflict)
	}
	for _, pid := range permissionIDs {
		if _, ok := s.perms[pid]; !ok {
			return fmt.Errorf("%w: permission %s", auth.ErrNotFound, pid)
		}
	}
	s.roles[r.ID] = cloneRole(r)
	s.roleByName[r.Name] = r.ID
	set := map[string]struct{}{}
	for _, pid := range permissionIDs {
		set[pid] = struct{}{}
	}
	s.rolePerms[r.ID] = set
	return nil
}

func (s *Store) UpdateRoleWithPermissions(_ context.Context, roleID string, upd auth.RoleUpdate, permissionIDs []string) (*auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	role, ok := s.roles[roleID]
	if !ok {
		return nil, fmt.Errorf("%w: role %s", auth.ErrNotFound, roleID)
	}
	for _, pid := range permissionIDs {
		if _, ok := s.perms[pid]; !ok {
			return nil, fmt.Errorf("%w: permission %s", auth.ErrNotFound, pid)
		}
	}
	if upd.Name != nil && *upd.Name != role.Name {
		if _, taken := s.roleByName[*upd.Name]; taken {
			return nil, fmt.Errorf("%w: role name already taken", auth.ErrConflict)
		}
		delete(s.roleByName, role.Name)
		role.Name = *upd.Name
		s.roleByName[role.Name] = role.ID
	}
	role.UpdatedAt = time.Now().UTC()
	set := map[string]struct{}{}
	for _, pid := range permissionIDs {
		set[pid] = struct{}{}
	}
	s.rolePerms[roleID] = set
	return cloneRole(role), nil
}

func (s *Store) SetUserStatus(_ context.Context, userID string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.findUser(userID, true)
	if err != nil {
		return err
	}
	u.Active = active
	u.UpdatedAt = time.Now().UTC()
	if !active {
		s.deleteTokensOf(userID)
	}
	return nil
}

func (s *Store) SoftDeleteUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.findUser(userID, false)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	u.DeletedAt = &now
	u.UpdatedAt = now
	s.deleteTokensOf(userID)
	return nil
}

func (s *Store) RestoreUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.findUser(userID, true)
	if err != nil {
		return err
	}
	if !u.Deleted() {
		return fmt.Errorf("%w: user is not deleted", auth.ErrInvalidInput)
	}
	u.DeletedAt = nil
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) HardDeleteUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.findUser(userID, true)
	if err != nil {
		return err
	}
	if !u.Deleted() {
		return fmt.Errorf("%w: user must be deleted first", auth.ErrInvalidInput)
	}
	delete(s.users, userID)
	delete(s.userRoles, userID)
	delete(s.userPerms, userID)
	s.deleteTokensOf(userID)
	return nil
}

// --- users ----------------------------------------------------------------

type userStore Store

func (s *userStore) Create(_ context.Context, u *auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := (*Store)(s).identityConflict(u, ""); err != nil {
		return err
	}
	s.users[u.ID] = cloneUser(u)
	return nil
}

func (s *userStore) Find(_ context.Context, id string, includeDeleted bool) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, err := (*Store)(s).findUser(id, includeDeleted)
	if err != nil {
		return nil, err
	}
	return cloneUser(u), nil
}

func (s *userStore) FindByLogin(_ context.Context, login string) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.Deleted() {
			continue
		}
		if u.Username == login || u.EmployeeID == login || u.Email == login {
			return cloneUser(u), nil
		}
	}
	return nil, fmt.Errorf("%w: no user matches login", auth.ErrNotFound)
}

func (s *userStore) List(_ context.Context, f auth.UserFilter) ([]*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*auth.User, 0, len(s.users))
	for _, u := range s.users {
		if u.Deleted() && !f.IncludeDeleted {
			continue
		}
		if f.Active != nil && u.Active != *f.Active {
			continue
		}
		out = append(out, cloneUser(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *userStore) Update(_ context.Context, id string, upd auth.UserUpdate) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := (*Store)(s).findUser(id, true)
	if err != nil {
		return nil, err
	}
	next := *u
	if upd.Name != nil {
		next.Name = *upd.Name
	}
	if upd.Username != nil {
		next.Username = *upd.Username
	}
	if upd.EmployeeID != nil {
		next.EmployeeID = *upd.EmployeeID
	}
	if upd.Email != nil {
		next.Email = *upd.Email
	}
	if err := (*Store)(s).identityConflict(&next, id); err != nil {
		return nil, err
	}
	next.UpdatedAt = time.Now().UTC()
	*u = next
	return cloneUser(u), nil
}

func (s *userStore) UpdatePassword(_ context.Context, id, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := (*Store)(s).findUser(id, true)
	if err != nil {
		return err
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = time.Now().UTC()
	return nil
}

// --- roles ----------------------------------------------------------------

type roleStore Store

func (s *roleStore) Find(_ context.Context, id string) (*auth.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.roles[id]
	if !ok {
		return nil, fmt.Errorf("%w: role %s", auth.ErrNotFound, id)
	}
	return cloneRole(r), nil
}

func (s *roleStore) List(_ context.Context) ([]*auth.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*auth.Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, cloneRole(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *roleStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.roles[id]
	if !ok {
		return fmt.Errorf("%w: role %s", auth.ErrNotFound, id)
	}
	delete(s.roles, id)
	delete(s.roleByName, r.Name)
	delete(s.rolePerms, id)
	for _, set := range s.userRoles {
		delete(set, id)
	}
	return nil
}

func (s *roleStore) PermissionsFor(_ context.Context, roleID string) ([]auth.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.roles[roleID]; !ok {
		return nil, fmt.Errorf("%w: role %s", auth.ErrNotFound, roleID)
	}
	out := []auth.Permission{}
	for pid := range s.rolePerms[roleID] {
		if p, ok := s.perms[pid]; ok {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *roleStore) RolesFor(_ context.Context, userID string) ([]*auth.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*auth.Role{}
	for rid := range s.userRoles[userID] {
		if r, ok := s.roles[rid]; ok {
			out = append(out, cloneRole(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *roleStore) SyncForUser(_ context.Context, userID string, roleIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rid := range roleIDs {
		if _, ok := s.roles[rid]; !ok {
			return fmt.Errorf("%w: role %s", auth.ErrNotFound, rid)
		}
	}
	set := map[string]struct{}{}
	for _, rid := range roleIDs {
		set[rid] = struct{}{}
	}
	s.userRoles[userID] = set
	return nil
}

// --- permissions ----------------------------------------------------------

type permStore Store

func (s *permStore) List(_ context.Context) ([]auth.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]auth.Permission, 0, len(s.perms))
	for _, p := range s.perms {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *permStore) SyncForUser(_ context.Context, userID string, permissionIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, pid := range permissionIDs {
		if _, ok := s.perms[pid]; !ok {
			return fmt.Errorf("%w: permission %s", auth.ErrNotFound, pid)
		}
	}
	set := map[string]struct{}{}
	for _, pid := range permissionIDs {
		set[pid] = struct{}{}
	}
	s.userPerms[userID] = set
	return nil
}

func (s *permStore) EffectiveFor(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := map[string]struct{}{}
	for pid := range s.userPerms[userID] {
		if p, ok := s.perms[pid]; ok {
			keys[p.Key] = struct{}{}
		}
	}
	for rid := range s.userRoles[userID] {
		for pid := range s.rolePerms[rid] {
			if p, ok := s.perms[pid]; ok {
				keys[p.Key] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(keys))
	for k := range keys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

// --- tokens ---------------------------------------------------------------

type tokenStore Store

func (s *tokenStore) Create(_ context.Context, t *auth.AccessToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens[t.ID] = cloneToken(t)
	return nil
}

func (s *tokenStore) Find(_ context.Context, id string) (*auth.AccessToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tokens[id]
	if !ok {
		return nil, fmt.Errorf("%w: token %s", auth.ErrNotFound, id)
	}
	return cloneToken(t), nil
}

func (s *tokenStore) ListByUser(_ context.Context, userID string) ([]*auth.AccessToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*auth.AccessToken{}
	for _, t := range s.tokens {
		if t.UserID == userID {
			out = append(out, cloneToken(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *tokenStore) TouchLastUsed(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[id]
	if !ok {
		return fmt.Errorf("%w: token %s", auth.ErrNotFound, id)
	}
	at = at.UTC()
	t.LastUsedAt = &at
	return nil
}

func (s *tokenStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tokens[id]; !ok {
		return fmt.Errorf("%w: token %s", auth.ErrNotFound, id)
	}
	delete(s.tokens, id)
	return nil
}

func (s *tokenStore) DeleteByUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	(*Store)(s).deleteTokensOf(userID)
	return nil
}
