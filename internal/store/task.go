package store

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/jwhitfield/chorewheel/internal/model"
)

type TaskStore struct {
	db *sql.DB
}

func NewTaskStore(db *sql.DB) *TaskStore {
	return &TaskStore{db: db}
}

// encodeDays stores selected weekdays as a comma-separated list ("0,2,4").
func encodeDays(days []int) string {
	if len(days) == 0 {
		return ""
	}
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = strconv.Itoa(d)
	}
	return strings.Join(parts, ",")
}

func decodeDays(s string) []int {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	days := make([]int, 0, len(parts))
	for _, p := range parts {
		d, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			continue
		}
		days = append(days, d)
	}
	return days
}

func scanTask(scanner interface{ Scan(...any) error }) (*model.Task, error) {
	var t model.Task
	var days string
	err := scanner.Scan(
		&t.ID, &t.GroupID, &t.Title, &t.Description, &t.Points, &t.IsRecurring,
		&t.ExecutionFrequency, &t.RotationOrder, &t.DueDay, &t.DueTime, &days,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.SelectedDays = decodeDays(days)
	return &t, nil
}

const taskCols = `id, group_id, title, description, points, is_recurring, execution_frequency, rotation_order, due_day, due_time, selected_days, created_at, updated_at`

func (s *TaskStore) Create(t *model.Task) (*model.Task, error) {
	if t.DueTime == "" {
		t.DueTime = model.DefaultDueTime
	}
	if t.ExecutionFrequency == "" {
		t.ExecutionFrequency = model.FrequencyWeekly
	}
	result, err := s.db.Exec(
		`INSERT INTO tasks (group_id, title, description, points, is_recurring, execution_frequency, rotation_order, due_day, due_time, selected_days)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.GroupID, t.Title, t.Description, t.Points, t.IsRecurring,
		t.ExecutionFrequency, t.RotationOrder, t.DueDay, t.DueTime, encodeDays(t.SelectedDays),
	)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *TaskStore) GetByID(id int64) (*model.Task, error) {
	row := s.db.QueryRow(`SELECT `+taskCols+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func (s *TaskStore) Update(t *model.Task) (*model.Task, error) {
	_, err := s.db.Exec(
		`UPDATE tasks SET title = ?, description = ?, points = ?, is_recurring = ?,
		        execution_frequency = ?, rotation_order = ?, due_day = ?, due_time = ?,
		        selected_days = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		t.Title, t.Description, t.Points, t.IsRecurring, t.ExecutionFrequency,
		t.RotationOrder, t.DueDay, t.DueTime, encodeDays(t.SelectedDays), t.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	return s.GetByID(t.ID)
}

func (s *TaskStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

func (s *TaskStore) ListByGroup(groupID int64) ([]model.Task, error) {
	return s.list(
		`SELECT `+taskCols+` FROM tasks WHERE group_id = ? ORDER BY rotation_order ASC, id ASC`,
		groupID,
	)
}

func (s *TaskStore) ListRecurringByGroup(groupID int64) ([]model.Task, error) {
	return s.list(
		`SELECT `+taskCols+` FROM tasks WHERE group_id = ? AND is_recurring = 1 ORDER BY rotation_order ASC, id ASC`,
		groupID,
	)
}

func (s *TaskStore) list(query string, args ...any) ([]model.Task, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// --- Time slot methods ---

func scanSlot(scanner interface{ Scan(...any) error }) (*model.TimeSlot, error) {
	var ts model.TimeSlot
	var points sql.NullFloat64
	err := scanner.Scan(&ts.ID, &ts.TaskID, &ts.StartTime, &ts.EndTime, &ts.Label, &points)
	if err != nil {
		return nil, err
	}
	if points.Valid {
		p := points.Float64
		ts.Points = &p
	}
	return &ts, nil
}

const slotCols = `id, task_id, start_time, end_time, label, points`

func (s *TaskStore) CreateSlot(taskID int64, startTime, endTime, label string, points *float64) (*model.TimeSlot, error) {
	var p any
	if points != nil {
		p = *points
	}
	result, err := s.db.Exec(
		`INSERT INTO task_time_slots (task_id, start_time, end_time, label, points) VALUES (?, ?, ?, ?, ?)`,
		taskID, startTime, endTime, label, p,
	)
	if err != nil {
		return nil, fmt.Errorf("insert time slot: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetSlot(id)
}

func (s *TaskStore) GetSlot(id int64) (*model.TimeSlot, error) {
	row := s.db.QueryRow(`SELECT `+slotCols+` FROM task_time_slots WHERE id = ?`, id)
	ts, err := scanSlot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get time slot: %w", err)
	}
	return ts, nil
}

func (s *TaskStore) ListSlots(taskID int64) ([]model.TimeSlot, error) {
	rows, err := s.db.Query(
		`SELECT `+slotCols+` FROM task_time_slots WHERE task_id = ? ORDER BY id ASC`,
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("list time slots: %w", err)
	}
	defer rows.Close()

	var slots []model.TimeSlot
	for rows.Next() {
		ts, err := scanSlot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan time slot: %w", err)
		}
		slots = append(slots, *ts)
	}
	return slots, rows.Err()
}

func (s *TaskStore) DeleteSlot(id int64) error {
	_, err := s.db.Exec(`DELETE FROM task_time_slots WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete time slot: %w", err)
	}
	return nil
}
