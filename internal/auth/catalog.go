package auth

// Builtin permission keys. The first path segment names the permission group;
// the "user" group guards actions on other accounts, "own_profile" the same
// actions when the actor targets itself.
const (
	PermUserCreate            = "user.create"
	PermUserRead              = "user.read"
	PermUserUpdate            = "user.update"
	PermUserDelete            = "user.delete"
	PermUserDeletePermanently = "user.delete_permanently"
	PermUserRestore           = "user.restore"
	PermUserStatusChange      = "user.status_change"
	PermUserSessionRead       = "user.session_read"
	PermUserSessionDelete     = "user.session_delete"
	PermUserPasswordReset     = "user.password_reset"

	PermOwnProfileRead    = "own_profile.read"
	PermOwnProfileUpdate  = "own_profile.update"
	PermOwnProfileDelete  = "own_profile.delete"
	PermOwnPasswordChange = "own_profile.password_change"
	PermOwnSessionRead    = "own_profile.session_read"
	PermOwnSessionDelete  = "own_profile.session_delete"

	PermRoleCreate = "role.create"
	PermRoleRead   = "role.read"
	PermRoleUpdate = "role.update"
	PermRoleDelete = "role.delete"
	PermRoleAssign = "role.assign_to_user"

	PermPermissionRead       = "permission.read"
	PermPermissionAssignRole = "permission.assign_to_role"
	PermPermissionAssignUser = "permission.assign_to_user"
)

// Builtin role names.
const (
	RoleSuperAdmin = "super_admin"
	RoleAdmin      = "admin"
	RoleUser       = "user"
)

// PermissionSpec describes one catalog entry.
type PermissionSpec struct {
	Key   string
	Label string
}

// PermissionGroupSpec is a named slice of catalog entries.
type PermissionGroupSpec struct {
	Name        string
	Permissions []PermissionSpec
}

// RoleSpec describes a builtin role and the permission keys it carries.
type RoleSpec struct {
	Name        string
	Permissions []string
}

// Catalog is the immutable set of builtin permission groups and roles.
// It is built once at startup and injected wherever authorization decisions
// or seeding need it; nothing mutates it afterwards.
type Catalog struct {
	groups []PermissionGroupSpec
	roles  []RoleSpec
	keys   map[string]string
}

// DefaultCatalog builds the builtin catalog.
func DefaultCatalog() *Catalog {
	groups := []PermissionGroupSpec{
		{
			Name: "User",
			Permissions: []PermissionSpec{
				{Key: PermUserCreate, Label: "User Create"},
				{Key: PermUserRead, Label: "User Read"},
				{Key: PermUserUpdate, Label: "User Update"},
				{Key: PermUserDelete, Label: "User Delete"},
				{Key: PermUserDeletePermanently, Label: "User Delete Permanently"},
				{Key: PermUserRestore, Label: "User Restore"},
				{Key: PermUserStatusChange, Label: "User Status Change"},
				{Key: PermUserSessionRead, Label: "User Session Read"},
				{Key: PermUserSessionDelete, Label: "User Session Delete"},
				{Key: PermUserPasswordReset, Label: "User Password Reset"},
			},
		},
		{
			Name: "Own Profile",
			Permissions: []PermissionSpec{
				{Key: PermOwnProfileRead, Label: "Own Profile Read"},
				{Key: PermOwnProfileUpdate, Label: "Own Profile Update"},
				{Key: PermOwnProfileDelete, Label: "Own Profile Delete"},
				{Key: PermOwnPasswordChange, Label: "Own Password Change"},
				{Key: PermOwnSessionRead, Label: "Own Session Read"},
				{Key: PermOwnSessionDelete, Label: "Own Session Delete"},
			},
		},
		{
			Name: "Role",
			Permissions: []PermissionSpec{
				{Key: PermRoleCreate, Label: "Role Create"},
				{Key: PermRoleRead, Label: "Role Read"},
				{Key: PermRoleUpdate, Label: "Role Update"},
				{Key: PermRoleDelete, Label: "Role Delete"},
				{Key: PermRoleAssign, Label: "Role Assign to User"},
			},
		},
		{
			Name: "Permission",
			Permissions: []PermissionSpec{
				{Key: PermPermissionRead, Label: "Permission Read"},
				{Key: PermPermissionAssignRole, Label: "Permission Assign to Role"},
				{Key: PermPermissionAssignUser, Label: "Permission Assign to User"},
			},
		},
	}

	keys := make(map[string]string)
	var all []string
	for _, g := range groups {
		for _, p := range g.Permissions {
			keys[p.Key] = p.Label
			all = append(all, p.Key)
		}
	}

	roles := []RoleSpec{
		{Name: RoleSuperAdmin, Permissions: all},
		{Name: RoleAdmin, Permissions: groupKeys(groups, "User")},
		{Name: RoleUser, Permissions: groupKeys(groups, "Own Profile")},
	}

	return &Catalog{groups: groups, roles: roles, keys: keys}
}

// Groups returns a copy of the permission groups.
func (c *Catalog) Groups() []PermissionGroupSpec {
	out := make([]PermissionGroupSpec, len(c.groups))
	for i, g := range c.groups {
		perms := make([]PermissionSpec, len(g.Permissions))
		copy(perms, g.Permissions)
		out[i] = PermissionGroupSpec{Name: g.Name, Permissions: perms}
	}
	return out
}

// Roles returns a copy of the builtin role specs.
func (c *Catalog) Roles() []RoleSpec {
	out := make([]RoleSpec, len(c.roles))
	for i, r := range c.roles {
		perms := make([]string, len(r.Permissions))
		copy(perms, r.Permissions)
		out[i] = RoleSpec{Name: r.Name, Permissions: perms}
	}
	return out
}

// Has reports whether key names a builtin permission.
func (c *Catalog) Has(key string) bool {
	_, ok := c.keys[key]
	return ok
}

func groupKeys(groups []PermissionGroupSpec, name string) []string {
	for _, g := range groups {
		if g.Name != name {
			continue
		}
		keys := make([]string, 0, len(g.Permissions))
		for _, p := range g.Permissions {
			keys = append(keys, p.Key)
		}
		return keys
	}
	return nil
}
