package model

import "time"

type PushSubscription struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"user_id"`
	GroupID    int64     `json:"group_id"`
	Endpoint   string    `json:"endpoint"`
	P256dhKey  string    `json:"p256dh_key"`
	AuthKey    string    `json:"auth_key"`
	DeviceName string    `json:"device_name"`
	CreatedAt  time.Time `json:"created_at"`
}

// Notification kinds emitted by the core operations.
const (
	NotifSwapCreated         = "swap_created"
	NotifSwapAccepted        = "swap_accepted"
	NotifSwapRejected        = "swap_rejected"
	NotifSwapCancelled       = "swap_cancelled"
	NotifSwapExpired         = "swap_expired"
	NotifAssignmentCompleted = "assignment_completed"
	NotifAssignmentVerified  = "assignment_verified"
	NotifRotationAdvanced    = "rotation_advanced"
)

type Notification struct {
	Kind      string    `json:"kind"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	URL       string    `json:"url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
