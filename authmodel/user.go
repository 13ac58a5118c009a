package authmodel

import "time"

// RoleType represents an application-level user role as reported by the
// authentication service. The client never makes authorization decisions
// from it; it is display/advisory data only.
type RoleType string

const (
	RoleAdmin RoleType = "admin"
	RoleUser  RoleType = "user"
)

// User is the client-side mirror of the server's user record, as returned
// by /auth/me and inside login/register responses. The cached copy kept in
// the session store is advisory: it is refreshed from the server whenever
// the session is verified and must never be trusted for access control.
type User struct {
	ID         int64      `json:"id"`
	Email      string     `json:"email"`
	FirstName  *string    `json:"first_name,omitempty"`
	LastName   *string    `json:"last_name,omitempty"`
	Role       RoleType   `json:"role"`
	IsActive   bool       `json:"is_active"`
	IsVerified bool       `json:"is_verified"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  *time.Time `json:"updated_at,omitempty"`
	LastLogin  *time.Time `json:"last_login,omitempty"`
}

// DisplayName returns the best human-readable name for the user.
func (u *User) DisplayName() string {
	switch {
	case u.FirstName != nil && u.LastName != nil:
		return *u.FirstName + " " + *u.LastName
	case u.FirstName != nil:
		return *u.FirstName
	default:
		return u.Email
	}
}
