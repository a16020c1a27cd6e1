package auth_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"idvault.org/internal/auth"
	"idvault.org/internal/store/mem"
)

func newTestService(t *testing.T, opts ...auth.ServiceOption) (*auth.Service, *mem.Store) {
	t.Helper()
	st := mem.New()
	svc, err := auth.NewService(st, opts...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if err := svc.EnsureBuiltins(context.Background()); err != nil {
		t.Fatalf("EnsureBuiltins: %v", err)
	}
	return svc, st
}

func registerUser(t *testing.T, svc *auth.Service, username string) (*auth.User, string) {
	t.Helper()
	user, token, err := svc.Register(context.Background(), auth.RegisterInput{
		Name:       "Test " + username,
		Username:   username,
		EmployeeID: "emp-" + username,
		Email:      username + "@example.com",
		Password:   "password123",
	}, auth.ClientMeta{IP: "127.0.0.1", UserAgent: "go-test"})
	if err != nil {
		t.Fatalf("Register(%s): %v", username, err)
	}
	return user, token
}

// grantRole assigns the named builtin role directly through the store.
func grantRole(t *testing.T, st *mem.Store, userID, roleName string) {
	t.Helper()
	ctx := context.Background()
	roles, err := st.Roles().List(ctx)
	if err != nil {
		t.Fatalf("list roles: %v", err)
	}
	for _, r := range roles {
		if r.Name == roleName {
			if err := st.Roles().SyncForUser(ctx, userID, []string{r.ID}); err != nil {
				t.Fatalf("sync roles: %v", err)
			}
			return
		}
	}
	t.Fatalf("builtin role %q not seeded", roleName)
}

func principalFor(t *testing.T, svc *auth.Service, token string) auth.Principal {
	t.Helper()
	p, err := svc.Authenticate(context.Background(), token)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	return p
}

func TestRegisterAndAuthenticateRoundTrip(t *testing.T) {
	svc, _ := newTestService(t)
	user, token := registerUser(t, svc, "alice")

	if !strings.Contains(token, ".") {
		t.Fatalf("token %q lacks id.secret form", token)
	}
	p, err := svc.Authenticate(context.Background(), token)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if p.User.ID != user.ID {
		t.Fatalf("principal user %s, want %s", p.User.ID, user.ID)
	}
	if p.User.PasswordHash == "" {
		t.Fatal("principal lost password hash needed for change-password")
	}
}

func TestAuthenticateRejectsGarbage(t *testing.T) {
	svc, _ := newTestService(t)
	_, token := registerUser(t, svc, "alice")

	for _, raw := range []string{"", "no-dot", "unknown.secret", token + "x"} {
		if _, err := svc.Authenticate(context.Background(), raw); !errors.Is(err, auth.ErrInvalidToken) {
			t.Errorf("Authenticate(%q) err = %v, want ErrInvalidToken", raw, err)
		}
	}

	// Valid id with a tampered secret must not authenticate.
	id := token[:strings.IndexByte(token, '.')]
	if _, err := svc.Authenticate(context.Background(), id+".forged"); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("tampered secret err = %v, want ErrInvalidToken", err)
	}
}

func TestAuthenticateExpiredToken(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	svc, _ := newTestService(t, auth.WithClock(clock), auth.WithTokenTTL(time.Hour))
	_, token := registerUser(t, svc, "alice")

	if _, err := svc.Authenticate(context.Background(), token); err != nil {
		t.Fatalf("fresh token rejected: %v", err)
	}
	now = now.Add(2 * time.Hour)
	if _, err := svc.Authenticate(context.Background(), token); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("expired token err = %v, want ErrInvalidToken", err)
	}
}

func TestAuthenticateTouchesLastUsed(t *testing.T) {
	svc, st := newTestService(t)
	user, token := registerUser(t, svc, "alice")

	p := principalFor(t, svc, token)
	tokens, err := st.Tokens().ListByUser(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(tokens) != 1 || tokens[0].ID != p.TokenID {
		t.Fatalf("unexpected token list %+v", tokens)
	}
	if tokens[0].LastUsedAt == nil {
		t.Fatal("last_used_at not stamped on authenticate")
	}
}

func TestLoginByEachIdentity(t *testing.T) {
	svc, _ := newTestService(t)
	user, _ := registerUser(t, svc, "alice")

	for _, login := range []string{user.Username, user.EmployeeID, user.Email} {
		u, token, err := svc.Login(context.Background(), auth.Credentials{Login: login, Password: "password123"}, auth.ClientMeta{})
		if err != nil {
			t.Fatalf("Login(%s): %v", login, err)
		}
		if u.ID != user.ID || token == "" {
			t.Fatalf("Login(%s) returned wrong user or empty token", login)
		}
	}
}

func TestLoginFailuresAreUniform(t *testing.T) {
	svc, st := newTestService(t)
	user, _ := registerUser(t, svc, "alice")

	cases := map[string]auth.Credentials{
		"unknown user":   {Login: "nobody", Password: "password123"},
		"wrong password": {Login: "alice", Password: "wrong-password"},
		"empty password": {Login: "alice"},
	}
	for name, creds := range cases {
		if _, _, err := svc.Login(context.Background(), creds, auth.ClientMeta{}); !errors.Is(err, auth.ErrUnauthorized) {
			t.Errorf("%s: err = %v, want ErrUnauthorized", name, err)
		}
	}

	if err := st.SetUserStatus(context.Background(), user.ID, false); err != nil {
		t.Fatalf("SetUserStatus: %v", err)
	}
	if _, _, err := svc.Login(context.Background(), auth.Credentials{Login: "alice", Password: "password123"}, auth.ClientMeta{}); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("inactive login err = %v, want ErrUnauthorized", err)
	}
}

func TestRegisterDuplicateIdentity(t *testing.T) {
	svc, _ := newTestService(t)
	registerUser(t, svc, "alice")

	_, _, err := svc.Register(context.Background(), auth.RegisterInput{
		Name:       "Other Alice",
		Username:   "alice",
		EmployeeID: "emp-other",
		Email:      "other@example.com",
		Password:   "password123",
	}, auth.ClientMeta{})
	if !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("duplicate username err = %v, want ErrConflict", err)
	}
}

func TestDeactivationRevokesTokens(t *testing.T) {
	svc, st := newTestService(t)
	admin, adminToken := registerUser(t, svc, "admin")
	grantRole(t, st, admin.ID, auth.RoleSuperAdmin)
	target, targetToken := registerUser(t, svc, "bob")

	p := principalFor(t, svc, adminToken)
	if err := svc.ChangeStatus(context.Background(), p, target.ID, false); err != nil {
		t.Fatalf("ChangeStatus: %v", err)
	}
	if _, err := svc.Authenticate(context.Background(), targetToken); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("token survived deactivation: err = %v", err)
	}

	// Reactivation must not resurrect revoked tokens.
	if err := svc.ChangeStatus(context.Background(), p, target.ID, true); err != nil {
		t.Fatalf("ChangeStatus reactivate: %v", err)
	}
	if _, err := svc.Authenticate(context.Background(), targetToken); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("revoked token works after reactivation: err = %v", err)
	}
}

func TestSoftDeleteRestoreLifecycle(t *testing.T) {
	svc, st := newTestService(t)
	admin, adminToken := registerUser(t, svc, "admin")
	grantRole(t, st, admin.ID, auth.RoleSuperAdmin)
	target, targetToken := registerUser(t, svc, "bob")
	p := principalFor(t, svc, adminToken)
	ctx := context.Background()

	// Restore before any delete is an input error.
	if err := svc.RestoreUser(ctx, p, target.ID); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("restore of live user err = %v, want ErrInvalidInput", err)
	}
	// Hard delete requires a prior soft delete.
	if err := svc.HardDeleteUser(ctx, p, target.ID); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("hard delete of live user err = %v, want ErrInvalidInput", err)
	}

	if err := svc.DeleteUser(ctx, p, target.ID); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if _, err := svc.Authenticate(ctx, targetToken); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("token survived soft delete: err = %v", err)
	}
	// The identity stays reserved while soft-deleted.
	if _, _, err := svc.Register(ctx, auth.RegisterInput{
		Name: "Bob Again", Username: "bob", EmployeeID: "emp-bob2", Email: "bob2@example.com", Password: "password123",
	}, auth.ClientMeta{}); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("reserved identity err = %v, want ErrConflict", err)
	}

	if err := svc.RestoreUser(ctx, p, target.ID); err != nil {
		t.Fatalf("RestoreUser: %v", err)
	}
	// Restore clears the marker but not the revocation.
	if _, err := svc.Authenticate(ctx, targetToken); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("revoked token works after restore: err = %v", err)
	}
	if _, _, err := svc.Login(ctx, auth.Credentials{Login: "bob", Password: "password123"}, auth.ClientMeta{}); err != nil {
		t.Fatalf("restored user cannot log in: %v", err)
	}

	if err := svc.DeleteUser(ctx, p, target.ID); err != nil {
		t.Fatalf("second DeleteUser: %v", err)
	}
	if err := svc.HardDeleteUser(ctx, p, target.ID); err != nil {
		t.Fatalf("HardDeleteUser: %v", err)
	}
	if _, err := st.Users().Find(ctx, target.ID, true); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("hard-deleted user still findable: err = %v", err)
	}
	// The identity is free again.
	if _, _, err := svc.Register(ctx, auth.RegisterInput{
		Name: "Bob Again", Username: "bob", EmployeeID: "emp-bob", Email: "bob@example.com", Password: "password123",
	}, auth.ClientMeta{}); err != nil {
		t.Fatalf("identity not released after hard delete: %v", err)
	}
}

func TestSelfGuardsPrecedePermissionChecks(t *testing.T) {
	svc, st := newTestService(t)
	admin, adminToken := registerUser(t, svc, "admin")
	grantRole(t, st, admin.ID, auth.RoleSuperAdmin)
	p := principalFor(t, svc, adminToken)
	ctx := context.Background()

	if err := svc.ChangeStatus(ctx, p, admin.ID, false); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("self status change err = %v, want ErrForbidden", err)
	}
	if err := svc.ResetPassword(ctx, p, admin.ID, "newpassword1"); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("self password reset err = %v, want ErrForbidden", err)
	}
	if err := svc.SyncUserRoles(ctx, p, admin.ID, nil); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("self role sync err = %v, want ErrForbidden", err)
	}
	// Guard holds even for principals with no permissions at all.
	nobody, nobodyToken := registerUser(t, svc, "nobody")
	np := principalFor(t, svc, nobodyToken)
	if err := svc.ChangeStatus(ctx, np, nobody.ID, false); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("unprivileged self status change err = %v, want ErrForbidden", err)
	}
}

func TestScopeSelectsPermissionKey(t *testing.T) {
	svc, st := newTestService(t)
	self, selfToken := registerUser(t, svc, "selfish")
	grantRole(t, st, self.ID, auth.RoleUser)
	other, _ := registerUser(t, svc, "other")
	p := principalFor(t, svc, selfToken)
	ctx := context.Background()

	// Own-profile permissions reach the caller's own record only.
	if _, err := svc.GetUser(ctx, p, self.ID); err != nil {
		t.Fatalf("GetUser(self): %v", err)
	}
	if _, err := svc.GetUser(ctx, p, other.ID); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("GetUser(other) err = %v, want ErrForbidden", err)
	}
	name := "Renamed"
	if _, err := svc.UpdateUser(ctx, p, other.ID, auth.UserUpdate{Name: &name}); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("UpdateUser(other) err = %v, want ErrForbidden", err)
	}
	if _, err := svc.Sessions(ctx, p, other.ID); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("Sessions(other) err = %v, want ErrForbidden", err)
	}
	if _, err := svc.Sessions(ctx, p, ""); err != nil {
		t.Fatalf("Sessions(self): %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	svc, st := newTestService(t)
	user, token := registerUser(t, svc, "alice")
	grantRole(t, st, user.ID, auth.RoleUser)
	p := principalFor(t, svc, token)
	ctx := context.Background()

	if err := svc.ChangePassword(ctx, p, "wrong-password", "nextpassword1"); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("wrong current password err = %v, want ErrUnauthorized", err)
	}
	if err := svc.ChangePassword(ctx, p, "password123", "short"); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("short password err = %v, want ErrInvalidInput", err)
	}
	if err := svc.ChangePassword(ctx, p, "password123", "nextpassword1"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if _, _, err := svc.Login(ctx, auth.Credentials{Login: "alice", Password: "password123"}, auth.ClientMeta{}); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("old password still works: err = %v", err)
	}
	if _, _, err := svc.Login(ctx, auth.Credentials{Login: "alice", Password: "nextpassword1"}, auth.ClientMeta{}); err != nil {
		t.Fatalf("new password rejected: %v", err)
	}
}

func TestResetPassword(t *testing.T) {
	svc, st := newTestService(t)
	admin, adminToken := registerUser(t, svc, "admin")
	grantRole(t, st, admin.ID, auth.RoleSuperAdmin)
	target, _ := registerUser(t, svc, "bob")
	p := principalFor(t, svc, adminToken)
	ctx := context.Background()

	if err := svc.ResetPassword(ctx, p, target.ID, "resetpassword1"); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	if _, _, err := svc.Login(ctx, auth.Credentials{Login: "bob", Password: "resetpassword1"}, auth.ClientMeta{}); err != nil {
		t.Fatalf("reset password rejected at login: %v", err)
	}
}

func TestRoleLifecycleAndEffectivePermissions(t *testing.T) {
	svc, st := newTestService(t)
	admin, adminToken := registerUser(t, svc, "admin")
	grantRole(t, st, admin.ID, auth.RoleSuperAdmin)
	p := principalFor(t, svc, adminToken)
	ctx := context.Background()

	perms, err := svc.ListPermissions(ctx, p)
	if err != nil {
		t.Fatalf("ListPermissions: %v", err)
	}
	var readID, updateID string
	for _, perm := range perms {
		switch perm.Key {
		case auth.PermUserRead:
			readID = perm.ID
		case auth.PermUserUpdate:
			updateID = perm.ID
		}
	}
	if readID == "" || updateID == "" {
		t.Fatal("seeded permissions missing")
	}

	role, err := svc.CreateRole(ctx, p, "auditor", []string{readID})
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	got, rolePerms, err := svc.GetRole(ctx, p, role.ID)
	if err != nil {
		t.Fatalf("GetRole: %v", err)
	}
	if got.Name != "auditor" || len(rolePerms) != 1 || rolePerms[0].Key != auth.PermUserRead {
		t.Fatalf("unexpected role detail %+v %+v", got, rolePerms)
	}

	member, memberToken := registerUser(t, svc, "mallory")
	if err := svc.SyncUserRoles(ctx, p, member.ID, []string{role.ID}); err != nil {
		t.Fatalf("SyncUserRoles: %v", err)
	}
	mp := principalFor(t, svc, memberToken)
	if _, err := svc.ListUsers(ctx, mp, auth.UserFilter{}); err != nil {
		t.Fatalf("role grant not effective: %v", err)
	}

	// Replacing the role's permission set replaces, never accumulates.
	if _, err := svc.UpdateRole(ctx, p, role.ID, "auditor", []string{updateID}); err != nil {
		t.Fatalf("UpdateRole: %v", err)
	}
	mp = principalFor(t, svc, memberToken)
	if _, err := svc.ListUsers(ctx, mp, auth.UserFilter{}); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("revoked role permission still effective: err = %v", err)
	}

	// Clearing the member's roles with an empty list removes all grants.
	if err := svc.SyncUserRoles(ctx, p, member.ID, []string{}); err != nil {
		t.Fatalf("SyncUserRoles(empty): %v", err)
	}
	keys, err := st.Permissions().EffectiveFor(ctx, member.ID)
	if err != nil {
		t.Fatalf("EffectiveFor: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("cleared member still holds %v", keys)
	}

	if err := svc.DeleteRole(ctx, p, role.ID); err != nil {
		t.Fatalf("DeleteRole: %v", err)
	}
	if _, _, err := svc.GetRole(ctx, p, role.ID); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("deleted role still readable: err = %v", err)
	}
}

func TestDirectPermissionGrants(t *testing.T) {
	svc, st := newTestService(t)
	admin, adminToken := registerUser(t, svc, "admin")
	grantRole(t, st, admin.ID, auth.RoleSuperAdmin)
	p := principalFor(t, svc, adminToken)
	ctx := context.Background()

	member, memberToken := registerUser(t, svc, "carol")
	perms, err := svc.ListPermissions(ctx, p)
	if err != nil {
		t.Fatalf("ListPermissions: %v", err)
	}
	var readID string
	for _, perm := range perms {
		if perm.Key == auth.PermUserRead {
			readID = perm.ID
		}
	}
	if err := svc.SyncUserPermissions(ctx, p, member.ID, []string{readID}); err != nil {
		t.Fatalf("SyncUserPermissions: %v", err)
	}
	mp := principalFor(t, svc, memberToken)
	if _, err := svc.ListUsers(ctx, mp, auth.UserFilter{}); err != nil {
		t.Fatalf("direct grant not effective: %v", err)
	}
	ok, err := svc.HasPermission(ctx, member.ID, auth.PermUserRead)
	if err != nil || !ok {
		t.Fatalf("HasPermission = %v, %v", ok, err)
	}

	if err := svc.SyncUserPermissions(ctx, p, member.ID, []string{}); err != nil {
		t.Fatalf("SyncUserPermissions(empty): %v", err)
	}
	mp = principalFor(t, svc, memberToken)
	if _, err := svc.ListUsers(ctx, mp, auth.UserFilter{}); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("cleared direct grant still effective: err = %v", err)
	}
}

func TestSessionsAndRevocation(t *testing.T) {
	svc, st := newTestService(t)
	user, first := registerUser(t, svc, "alice")
	grantRole(t, st, user.ID, auth.RoleUser)
	ctx := context.Background()

	_, second, err := svc.Login(ctx, auth.Credentials{Login: "alice", Password: "password123"}, auth.ClientMeta{IP: "10.0.0.9", UserAgent: "cli"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	p := principalFor(t, svc, second)

	sessions, err := svc.Sessions(ctx, p, "")
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("got %d sessions, want 2", len(sessions))
	}
	for _, s := range sessions {
		if s.SecretHash != "" {
			t.Fatal("session listing leaks secret hash")
		}
	}

	// Revoking another of one's own sessions is allowed.
	var otherID string
	for _, s := range sessions {
		if s.ID != p.TokenID {
			otherID = s.ID
		}
	}
	if err := svc.RevokeSession(ctx, p, otherID); err != nil {
		t.Fatalf("RevokeSession: %v", err)
	}
	if _, err := svc.Authenticate(ctx, first); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("revoked session still valid: err = %v", err)
	}

	// Logout revokes the current token only.
	if err := svc.RevokeCurrent(ctx, p); err != nil {
		t.Fatalf("RevokeCurrent: %v", err)
	}
	if _, err := svc.Authenticate(ctx, second); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("current token survived logout: err = %v", err)
	}
}

func TestRevokeSessionOfAnotherUser(t *testing.T) {
	svc, st := newTestService(t)
	user, token := registerUser(t, svc, "alice")
	grantRole(t, st, user.ID, auth.RoleUser)
	_, otherToken := registerUser(t, svc, "bob")
	p := principalFor(t, svc, token)
	ctx := context.Background()

	otherID := otherToken[:strings.IndexByte(otherToken, '.')]
	if err := svc.RevokeSession(ctx, p, otherID); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("cross-user revoke err = %v, want ErrForbidden", err)
	}
	// Admin session permissions reach other subjects.
	admin, adminToken := registerUser(t, svc, "admin")
	grantRole(t, st, admin.ID, auth.RoleSuperAdmin)
	ap := principalFor(t, svc, adminToken)
	if err := svc.RevokeSession(ctx, ap, otherID); err != nil {
		t.Fatalf("admin revoke: %v", err)
	}
	if _, err := svc.Authenticate(ctx, otherToken); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("admin-revoked token still valid: err = %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newTestService(t)
	base := auth.RegisterInput{
		Name: "Valid Name", Username: "valid", EmployeeID: "emp-1", Email: "v@example.com", Password: "password123",
	}
	mutate := map[string]func(*auth.RegisterInput){
		"short name":     func(in *auth.RegisterInput) { in.Name = "x" },
		"short username": func(in *auth.RegisterInput) { in.Username = "x" },
		"long username":  func(in *auth.RegisterInput) { in.Username = strings.Repeat("x", 31) },
		"bad email":      func(in *auth.RegisterInput) { in.Email = "not-an-email" },
		"short password": func(in *auth.RegisterInput) { in.Password = "short" },
	}
	for name, fn := range mutate {
		in := base
		fn(&in)
		if _, _, err := svc.Register(context.Background(), in, auth.ClientMeta{}); !errors.Is(err, auth.ErrInvalidInput) {
			t.Errorf("%s: err = %v, want ErrInvalidInput", name, err)
		}
	}
}

func TestSyncUnknownIDLeavesAssignmentsUntouched(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	admin, adminToken := registerUser(t, svc, "admin")
	grantRole(t, st, admin.ID, auth.RoleSuperAdmin)
	ap := principalFor(t, svc, adminToken)
	target, _ := registerUser(t, svc, "bob")

	roles, err := svc.ListRoles(ctx, ap)
	if err != nil {
		t.Fatalf("ListRoles: %v", err)
	}
	var adminRoleID string
	for _, r := range roles {
		if r.Name == auth.RoleAdmin {
			adminRoleID = r.ID
		}
	}
	if adminRoleID == "" {
		t.Fatal("builtin admin role not seeded")
	}

	// Registration granted the builtin self-service role; a sync that names
	// one valid and one unknown role must fail without replacing it.
	err = svc.SyncUserRoles(ctx, ap, target.ID, []string{adminRoleID, "no-such-role"})
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("SyncUserRoles err = %v, want ErrNotFound", err)
	}
	after, err := svc.UserRoles(ctx, ap, target.ID)
	if err != nil {
		t.Fatalf("UserRoles: %v", err)
	}
	if len(after) != 1 || after[0].Name != auth.RoleUser {
		t.Fatalf("roles after failed sync = %+v, want only %q", after, auth.RoleUser)
	}

	perms, err := svc.ListPermissions(ctx, ap)
	if err != nil {
		t.Fatalf("ListPermissions: %v", err)
	}
	if err := svc.SyncUserPermissions(ctx, ap, target.ID, []string{perms[0].ID}); err != nil {
		t.Fatalf("SyncUserPermissions: %v", err)
	}
	err = svc.SyncUserPermissions(ctx, ap, target.ID, []string{perms[1].ID, "no-such-permission"})
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("SyncUserPermissions err = %v, want ErrNotFound", err)
	}
	if ok, err := svc.HasPermission(ctx, target.ID, perms[0].Key); err != nil || !ok {
		t.Fatalf("HasPermission(%s) = %v, %v; want true", perms[0].Key, ok, err)
	}
	if ok, _ := svc.HasPermission(ctx, target.ID, perms[1].Key); ok && !hasKey(after, perms[1].Key) {
		t.Fatalf("failed sync granted %s", perms[1].Key)
	}
}

// hasKey reports whether any of the roles carries the permission key through
// the builtin catalog; used to separate role-derived grants from direct ones.
func hasKey(roles []*auth.Role, key string) bool {
	for _, r := range roles {
		for _, spec := range auth.DefaultCatalog().Roles() {
			if spec.Name != r.Name {
				continue
			}
			for _, k := range spec.Permissions {
				if k == key {
					return true
				}
			}
		}
	}
	return false
}

// roleGrantFailStore fails every role write so registration's follow-up
// default-role grant cannot land.
type roleGrantFailStore struct {
	*mem.Store
}

func (s roleGrantFailStore) Roles() auth.RoleStore {
	return failingRoleStore{s.Store.Roles()}
}

type failingRoleStore struct {
	auth.RoleStore
}

func (failingRoleStore) SyncForUser(context.Context, string, []string) error {
	return errors.New("role backend down")
}

func TestRegisterSucceedsWhenDefaultRoleGrantFails(t *testing.T) {
	st := mem.New()
	svc, err := auth.NewService(roleGrantFailStore{st})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if err := svc.EnsureBuiltins(context.Background()); err != nil {
		t.Fatalf("EnsureBuiltins: %v", err)
	}

	user, token, err := svc.Register(context.Background(), auth.RegisterInput{
		Name: "Grant Fail", Username: "grantfail", EmployeeID: "emp-gf", Email: "gf@example.com", Password: "password123",
	}, auth.ClientMeta{})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	p, err := svc.Authenticate(context.Background(), token)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if p.User.ID != user.ID {
		t.Fatalf("principal user %s, want %s", p.User.ID, user.ID)
	}
	// The account exists with no role; it simply has no grants yet.
	if len(p.Permissions) != 0 {
		t.Fatalf("permissions = %v, want none", p.Permissions)
	}
}
