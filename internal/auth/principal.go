package auth

// Principal is an authenticated user together with the token that carried the
// request and the user's resolved effective permission set.
type Principal struct {
	User        *User
	TokenID     string
	Permissions map[string]struct{}
}

// NewPrincipal constructs a principal with preloaded permission keys.
func NewPrincipal(user *User, tokenID string, permissionKeys []string) Principal {
	set := make(map[string]struct{}, len(permissionKeys))
	for _, k := range permissionKeys {
		set[k] = struct{}{}
	}
	return Principal{User: user, TokenID: tokenID, Permissions: set}
}

// HasPermission reports whether the principal holds the permission key.
func (p Principal) HasPermission(key string) bool {
	_, ok := p.Permissions[key]
	return ok
}
