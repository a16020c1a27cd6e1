package auth

import "time"

// User is a human account gated by the token and permission model.
type User struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Username     string     `json:"username"`
	EmployeeID   string     `json:"employee_id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Active       bool       `json:"active"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
}

// Deleted reports whether the user is soft-deleted.
func (u *User) Deleted() bool {
	return u != nil && u.DeletedAt != nil
}

// Role groups permissions.
type Role struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Permission is a fine-grained capability, optionally grouped for display.
type Permission struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	Label     string    `json:"label"`
	GroupName string    `json:"group,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AccessToken is a persisted opaque bearer token. Only the hash of the
// secret half is stored; the plaintext is returned exactly once at mint time.
type AccessToken struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Name       string     `json:"name"`
	Abilities  []string   `json:"abilities"`
	SecretHash string     `json:"-"`
	IP         string     `json:"ip_address,omitempty"`
	UserAgent  string     `json:"user_agent,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// UserFilter narrows user listings.
type UserFilter struct {
	Active         *bool
	IncludeDeleted bool
}

// UserUpdate carries optional profile mutations; nil fields stay untouched.
type UserUpdate struct {
	Name       *string
	Username   *string
	EmployeeID *string
	Email      *string
}

// RoleUpdate carries optional role mutations.
type RoleUpdate struct {
	Name *string
}
