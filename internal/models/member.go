package models

import "time"

type Role string

const (
	RoleMember    Role = "member"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleMember, RoleModerator, RoleAdmin:
		return true
	}
	return false
}

type MemberStatus string

const (
	StatusPending   MemberStatus = "pending"
	StatusActive    MemberStatus = "active"
	StatusExpired   MemberStatus = "expired"
	StatusSuspended MemberStatus = "suspended"
)

func (s MemberStatus) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusExpired, StatusSuspended:
		return true
	}
	return false
}

type Member struct {
	ID           string       `json:"id"`
	Email        string       `json:"email"`
	FirstName    string       `json:"first_name"`
	LastName     string       `json:"last_name"`
	Phone        string       `json:"phone,omitempty"`
	Branch       string       `json:"branch,omitempty"`
	Chapter      string       `json:"chapter,omitempty"`
	Status       MemberStatus `json:"status"`
	Role         Role         `json:"role"`
	Points       int          `json:"points"`
	ExpiresAt    *time.Time   `json:"expires_at,omitempty"`
	PasswordHash string       `json:"-"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

type MemberFilter struct {
	Query  string
	Status MemberStatus
	Role   Role
	Limit  int
	Offset int
}
