package model

import "time"

const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

type Group struct {
	ID                  int64     `json:"id"`
	Name                string    `json:"name"`
	InviteCode          string    `json:"invite_code"`
	CurrentRotationWeek int       `json:"current_rotation_week"`
	LastRotationUpdate  time.Time `json:"last_rotation_update"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Member is a user's membership in a group. RotationOrder positions the
// member in the round-robin sequence; inactive members keep their history
// but are skipped by the scheduler.
type Member struct {
	ID            int64     `json:"id"`
	GroupID       int64     `json:"group_id"`
	UserID        int64     `json:"user_id"`
	Role          string    `json:"role"`
	RotationOrder *int      `json:"rotation_order"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
