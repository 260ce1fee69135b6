package model

import "time"

const (
	FrequencyWeekly = "weekly"
	FrequencyDaily  = "daily"
)

type Task struct {
	ID                 int64     `json:"id"`
	GroupID            int64     `json:"group_id"`
	Title              string    `json:"title"`
	Description        string    `json:"description"`
	Points             float64   `json:"points"`
	IsRecurring        bool      `json:"is_recurring"`
	ExecutionFrequency string    `json:"execution_frequency"`
	RotationOrder      int       `json:"rotation_order"`
	DueDay             int       `json:"due_day"`  // 0=Monday .. 6=Sunday, weekly tasks
	DueTime            string    `json:"due_time"` // HH:MM, default 18:00
	SelectedDays       []int     `json:"selected_days,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// TimeSlot subdivides a task's day into labeled windows. Points is nil when
// the task's points should be split evenly across its slots.
type TimeSlot struct {
	ID        int64    `json:"id"`
	TaskID    int64    `json:"task_id"`
	StartTime string   `json:"start_time"` // HH:MM
	EndTime   string   `json:"end_time"`   // HH:MM
	Label     string   `json:"label"`
	Points    *float64 `json:"points"`
}
