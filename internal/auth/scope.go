package auth

// Scope distinguishes a subject acting on its own account from acting on
// another account. Several routes serve both cases, so the variant must be
// resolved from the identities at call time, never from the route.
type Scope int

const (
	ScopeOwn Scope = iota
	ScopeOther
)

func (s Scope) String() string {
	if s == ScopeOwn {
		return "own"
	}
	return "other"
}

// ScopeOf resolves the scope for an action by actingID against targetID.
func ScopeOf(actingID, targetID string) Scope {
	if actingID != "" && actingID == targetID {
		return ScopeOwn
	}
	return ScopeOther
}

// permissionForScope selects the permission key guarding an action whose
// requirement differs between self-targeted and other-targeted calls.
func permissionForScope(scope Scope, own, other string) string {
	if scope == ScopeOwn {
		return own
	}
	return other
}
