package model

import "time"

// Assignment is one materialized instance of a task for a member in a
// rotation week. Points are copied from the task at creation time so later
// task edits do not rewrite history. Verified is tri-state: nil = pending
// review, true = verified, false = rejected.
type Assignment struct {
	ID           int64     `json:"id"`
	TaskID       int64     `json:"task_id"`
	GroupID      int64     `json:"group_id"`
	UserID       int64     `json:"user_id"`
	RotationWeek int       `json:"rotation_week"`
	WeekStart    time.Time `json:"week_start"`
	WeekEnd      time.Time `json:"week_end"`
	DueDate      time.Time `json:"due_date"`
	TimeSlotID   *int64    `json:"time_slot_id"`
	Points       float64   `json:"points"`
	Completed    bool      `json:"completed"`
	CompletedAt  *time.Time `json:"completed_at"`
	Verified     *bool     `json:"verified"`
	PhotoURL     string    `json:"photo_url"`
	Notes        string    `json:"notes"`
	AdminNotes   string    `json:"admin_notes"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
