package model

import "time"

// Swap request status values. PENDING is the only non-terminal state.
const (
	SwapPending   = "pending"
	SwapAccepted  = "accepted"
	SwapRejected  = "rejected"
	SwapCancelled = "cancelled"
	SwapExpired   = "expired"
)

// Swap scope values: a week swap transfers every assignment the requester
// holds for the task this week, a day swap only the selected day (and slot,
// if narrowed).
const (
	ScopeWeek = "week"
	ScopeDay  = "day"
)

type SwapRequest struct {
	ID                 int64      `json:"id"`
	AssignmentID       int64      `json:"assignment_id"`
	RequestedBy        int64      `json:"requested_by"`
	TargetUserID       *int64     `json:"target_user_id"` // nil = open to any active member
	Status             string     `json:"status"`
	Scope              string     `json:"scope"`
	SelectedDay        *time.Time `json:"selected_day"`
	SelectedTimeSlotID *int64     `json:"selected_time_slot_id"`
	Reason             string     `json:"reason"`
	ExpiresAt          time.Time  `json:"expires_at"`
	ResolvedAt         *time.Time `json:"resolved_at"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Terminal reports whether the request has left the pending state.
func (s *SwapRequest) Terminal() bool {
	return s.Status != SwapPending
}
