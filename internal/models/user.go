package models

import "time"

// UserRole represents the roles supplied by the identity provider.
type UserRole string

const (
	RoleStudent   UserRole = "STUDENT"
	RoleCounselor UserRole = "COUNSELOR"
	RoleAdmin     UserRole = "ADMIN"
)

// Valid reports whether r is a known role.
func (r UserRole) Valid() bool {
	switch r {
	case RoleStudent, RoleCounselor, RoleAdmin:
		return true
	}
	return false
}

// Actor is the caller identity passed explicitly into every booking operation.
type Actor struct {
	UserID string
	Role   UserRole
}

// User is a directory entry used to resolve display names.
type User struct {
	ID        string    `db:"id" json:"id"`
	FullName  string    `db:"full_name" json:"full_name"`
	Role      UserRole  `db:"role" json:"role"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
