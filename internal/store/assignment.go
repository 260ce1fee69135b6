package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jwhitfield/chorewheel/internal/model"
)

type AssignmentStore struct {
	db *sql.DB
}

func NewAssignmentStore(db *sql.DB) *AssignmentStore {
	return &AssignmentStore{db: db}
}

func scanAssignment(scanner interface{ Scan(...any) error }) (*model.Assignment, error) {
	var a model.Assignment
	var slotID sql.NullInt64
	var completedAt sql.NullTime
	var verified sql.NullBool
	err := scanner.Scan(
		&a.ID, &a.TaskID, &a.GroupID, &a.UserID, &a.RotationWeek,
		&a.WeekStart, &a.WeekEnd, &a.DueDate, &slotID, &a.Points,
		&a.Completed, &completedAt, &verified,
		&a.PhotoURL, &a.Notes, &a.AdminNotes, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if slotID.Valid {
		a.TimeSlotID = &slotID.Int64
	}
	if completedAt.Valid {
		t := completedAt.Time
		a.CompletedAt = &t
	}
	if verified.Valid {
		v := verified.Bool
		a.Verified = &v
	}
	return &a, nil
}

const assignmentCols = `id, task_id, group_id, user_id, rotation_week, week_start, week_end, due_date, time_slot_id, points, completed, completed_at, verified, photo_url, notes, admin_notes, created_at, updated_at`

const insertAssignmentSQL = `INSERT INTO assignments
	(task_id, group_id, user_id, rotation_week, week_start, week_end, due_date, time_slot_id, points, completed, verified, photo_url, notes, admin_notes)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func assignmentArgs(a *model.Assignment) []any {
	var slotID any
	if a.TimeSlotID != nil {
		slotID = *a.TimeSlotID
	}
	var verified any
	if a.Verified != nil {
		verified = *a.Verified
	}
	return []any{
		a.TaskID, a.GroupID, a.UserID, a.RotationWeek, a.WeekStart, a.WeekEnd,
		a.DueDate, slotID, a.Points, a.Completed, verified,
		a.PhotoURL, a.Notes, a.AdminNotes,
	}
}

func (s *AssignmentStore) Create(a *model.Assignment) (*model.Assignment, error) {
	result, err := s.db.Exec(insertAssignmentSQL, assignmentArgs(a)...)
	if err != nil {
		return nil, fmt.Errorf("insert assignment: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

// CreateBatch inserts all assignments in one transaction. Used by the
// scheduler so a task's week materialization is all-or-nothing.
func (s *AssignmentStore) CreateBatch(batch []model.Assignment) ([]model.Assignment, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	ids := make([]int64, 0, len(batch))
	for i := range batch {
		result, err := tx.Exec(insertAssignmentSQL, assignmentArgs(&batch[i])...)
		if err != nil {
			return nil, fmt.Errorf("insert assignment: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("last insert id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	created := make([]model.Assignment, 0, len(ids))
	for _, id := range ids {
		a, err := s.GetByID(id)
		if err != nil {
			return nil, err
		}
		created = append(created, *a)
	}
	return created, nil
}

func (s *AssignmentStore) GetByID(id int64) (*model.Assignment, error) {
	row := s.db.QueryRow(`SELECT `+assignmentCols+` FROM assignments WHERE id = ?`, id)
	a, err := scanAssignment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get assignment: %w", err)
	}
	return a, nil
}

func (s *AssignmentStore) ListByGroupWeek(groupID int64, week int) ([]model.Assignment, error) {
	return s.list(
		`SELECT `+assignmentCols+` FROM assignments
		 WHERE group_id = ? AND rotation_week = ?
		 ORDER BY due_date ASC, id ASC`,
		groupID, week,
	)
}

func (s *AssignmentStore) ListByUserWeek(groupID, userID int64, week int) ([]model.Assignment, error) {
	return s.list(
		`SELECT `+assignmentCols+` FROM assignments
		 WHERE group_id = ? AND user_id = ? AND rotation_week = ?
		 ORDER BY due_date ASC, id ASC`,
		groupID, userID, week,
	)
}

// ListByTaskUserWeek returns the requester's assignments a week-scope swap
// would transfer.
func (s *AssignmentStore) ListByTaskUserWeek(taskID, userID int64, week int) ([]model.Assignment, error) {
	return s.list(
		`SELECT `+assignmentCols+` FROM assignments
		 WHERE task_id = ? AND user_id = ? AND rotation_week = ?
		 ORDER BY due_date ASC, id ASC`,
		taskID, userID, week,
	)
}

// ListByTaskUserWeekDay narrows the selection to one due day and optionally
// one time slot, for day-scope swaps.
func (s *AssignmentStore) ListByTaskUserWeekDay(taskID, userID int64, week int, day time.Time, slotID *int64) ([]model.Assignment, error) {
	query := `SELECT ` + assignmentCols + ` FROM assignments
		 WHERE task_id = ? AND user_id = ? AND rotation_week = ? AND date(due_date) = date(?)`
	args := []any{taskID, userID, week, day.UTC()}
	if slotID != nil {
		query += ` AND time_slot_id = ?`
		args = append(args, *slotID)
	}
	query += ` ORDER BY due_date ASC, id ASC`
	return s.list(query, args...)
}

// CountExistingForTasks reports how many assignments already exist per task
// for the given week, so materialization can skip tasks already done.
func (s *AssignmentStore) CountExistingForTasks(week int, taskIDs []int64) (map[int64]int, error) {
	counts := make(map[int64]int)
	if len(taskIDs) == 0 {
		return counts, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(taskIDs)), ",")
	args := make([]any, 0, len(taskIDs)+1)
	args = append(args, week)
	for _, id := range taskIDs {
		args = append(args, id)
	}

	rows, err := s.db.Query(
		`SELECT task_id, COUNT(*) FROM assignments
		 WHERE rotation_week = ? AND task_id IN (`+placeholders+`)
		 GROUP BY task_id`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("count assignments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var taskID int64
		var n int
		if err := rows.Scan(&taskID, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[taskID] = n
	}
	return counts, rows.Err()
}

// CountPendingForUser counts the user's incomplete assignments in the given
// week. Members with pending work cannot leave the group.
func (s *AssignmentStore) CountPendingForUser(groupID, userID int64, week int) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM assignments
		 WHERE group_id = ? AND user_id = ? AND rotation_week = ? AND completed = 0`,
		groupID, userID, week,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending assignments: %w", err)
	}
	return n, nil
}

func (s *AssignmentStore) list(query string, args ...any) ([]model.Assignment, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()

	var assignments []model.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		assignments = append(assignments, *a)
	}
	return assignments, rows.Err()
}

func (s *AssignmentStore) Complete(id int64, photoURL, notes string, completedAt time.Time) (*model.Assignment, error) {
	_, err := s.db.Exec(
		`UPDATE assignments
		 SET completed = 1, completed_at = ?, photo_url = ?, notes = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		completedAt, photoURL, notes, id,
	)
	if err != nil {
		return nil, fmt.Errorf("complete assignment: %w", err)
	}
	return s.GetByID(id)
}

func (s *AssignmentStore) Verify(id int64, verified bool, adminNotes string) (*model.Assignment, error) {
	_, err := s.db.Exec(
		`UPDATE assignments
		 SET verified = ?, admin_notes = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		verified, adminNotes, id,
	)
	if err != nil {
		return nil, fmt.Errorf("verify assignment: %w", err)
	}
	return s.GetByID(id)
}
