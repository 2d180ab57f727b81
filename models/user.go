package models

import "time"

// Role names.
const (
	RoleAdmin  = "admin"
	RoleUser   = "user"
	RoleViewer = "viewer"
)

// Role is a role name.
type Role = string

// User is an account of the management UI.
type User struct {
	Context string `json:"@context"`
	Type    string `json:"@type"`

	ID  string `json:"@id" couchdb:"_id"`
	Rev string `json:"_rev,omitempty" couchdb:"_rev"`

	Username     string `json:"username"`
	FullName     string `json:"name,omitempty"`
	Email        string `json:"email,omitempty"`
	PasswordHash string `json:"passwordHash"`
	Roles        []Role `json:"roles"`
	Enabled      bool   `json:"enabled"`

	CreatedAt   time.Time  `json:"dateCreated"`
	UpdatedAt   time.Time  `json:"dateModified"`
	LastLoginAt *time.Time `json:"lastLogin,omitempty"`
}

// NewUser creates an enabled user with the given roles.
func NewUser(username string, roles ...Role) *User {
	now := time.Now()
	return &User{
		Context:   Context,
		Type:      TypeUser,
		ID:        GenerateID("user"),
		Username:  username,
		Roles:     roles,
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// HasRole reports whether the user holds the role.
func (u *User) HasRole(role Role) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the user is an administrator.
func (u *User) IsAdmin() bool {
	return u.HasRole(RoleAdmin)
}
