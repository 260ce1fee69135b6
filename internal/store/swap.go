package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jwhitfield/chorewheel/internal/model"
)

// ErrNotPending is returned when a status compare-and-set finds the request
// already resolved. Callers re-read the row to report the winning status.
var ErrNotPending = errors.New("swap request is not pending")

// ErrNothingToTransfer aborts an acceptance whose selected assignments
// vanished between selection and transfer.
var ErrNothingToTransfer = errors.New("no assignments to transfer")

type SwapStore struct {
	db *sql.DB
}

func NewSwapStore(db *sql.DB) *SwapStore {
	return &SwapStore{db: db}
}

func scanSwap(scanner interface{ Scan(...any) error }) (*model.SwapRequest, error) {
	var r model.SwapRequest
	var target sql.NullInt64
	var day sql.NullTime
	var slotID sql.NullInt64
	var resolved sql.NullTime
	err := scanner.Scan(
		&r.ID, &r.AssignmentID, &r.RequestedBy, &target, &r.Status, &r.Scope,
		&day, &slotID, &r.Reason, &r.ExpiresAt, &resolved, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if target.Valid {
		r.TargetUserID = &target.Int64
	}
	if day.Valid {
		t := day.Time
		r.SelectedDay = &t
	}
	if slotID.Valid {
		r.SelectedTimeSlotID = &slotID.Int64
	}
	if resolved.Valid {
		t := resolved.Time
		r.ResolvedAt = &t
	}
	return &r, nil
}

const swapCols = `id, assignment_id, requested_by, target_user_id, status, scope, selected_day, selected_time_slot_id, reason, expires_at, resolved_at, created_at, updated_at`

func (s *SwapStore) Create(r *model.SwapRequest) (*model.SwapRequest, error) {
	var target any
	if r.TargetUserID != nil {
		target = *r.TargetUserID
	}
	var day any
	if r.SelectedDay != nil {
		day = r.SelectedDay.UTC()
	}
	var slotID any
	if r.SelectedTimeSlotID != nil {
		slotID = *r.SelectedTimeSlotID
	}

	result, err := s.db.Exec(
		`INSERT INTO swap_requests (assignment_id, requested_by, target_user_id, status, scope, selected_day, selected_time_slot_id, reason, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.AssignmentID, r.RequestedBy, target, model.SwapPending, r.Scope, day, slotID, r.Reason, r.ExpiresAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert swap request: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *SwapStore) GetByID(id int64) (*model.SwapRequest, error) {
	row := s.db.QueryRow(`SELECT `+swapCols+` FROM swap_requests WHERE id = ?`, id)
	r, err := scanSwap(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get swap request: %w", err)
	}
	return r, nil
}

// GetPendingByAssignment returns the assignment's pending request, if any.
// The partial unique index guarantees at most one exists.
func (s *SwapStore) GetPendingByAssignment(assignmentID int64) (*model.SwapRequest, error) {
	row := s.db.QueryRow(
		`SELECT `+swapCols+` FROM swap_requests WHERE assignment_id = ? AND status = ?`,
		assignmentID, model.SwapPending,
	)
	r, err := scanSwap(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pending swap request: %w", err)
	}
	return r, nil
}

func (s *SwapStore) ListByGroupWeek(groupID int64, week int) ([]model.SwapRequest, error) {
	rows, err := s.db.Query(
		`SELECT r.id, r.assignment_id, r.requested_by, r.target_user_id, r.status, r.scope,
		        r.selected_day, r.selected_time_slot_id, r.reason, r.expires_at, r.resolved_at,
		        r.created_at, r.updated_at
		 FROM swap_requests r
		 JOIN assignments a ON a.id = r.assignment_id
		 WHERE a.group_id = ? AND a.rotation_week = ?
		 ORDER BY r.created_at DESC`,
		groupID, week,
	)
	if err != nil {
		return nil, fmt.Errorf("list swap requests: %w", err)
	}
	defer rows.Close()

	var reqs []model.SwapRequest
	for rows.Next() {
		r, err := scanSwap(rows)
		if err != nil {
			return nil, fmt.Errorf("scan swap request: %w", err)
		}
		reqs = append(reqs, *r)
	}
	return reqs, rows.Err()
}

// Resolve moves a pending request to a terminal status via compare-and-set.
// Returns ErrNotPending if another transition already won.
func (s *SwapStore) Resolve(id int64, toStatus, reason string, resolvedAt time.Time) (*model.SwapRequest, error) {
	result, err := s.db.Exec(
		`UPDATE swap_requests
		 SET status = ?, reason = CASE WHEN ? != '' THEN ? ELSE reason END,
		     resolved_at = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status = ?`,
		toStatus, reason, reason, resolvedAt.UTC(), id, model.SwapPending,
	)
	if err != nil {
		return nil, fmt.Errorf("resolve swap request: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return nil, ErrNotPending
	}
	return s.GetByID(id)
}

// AcceptTransfer performs the accept transition and the assignment handoff as
// one transaction: compare-and-set PENDING -> ACCEPTED, delete the source
// rows, and recreate them for the accepter with completion and verification
// reset. Either everything commits or nothing does.
func (s *SwapStore) AcceptTransfer(requestID, requesterID, accepterID int64, sources []model.Assignment, auditNote string, resolvedAt time.Time) (*model.SwapRequest, []model.Assignment, error) {
	if len(sources) == 0 {
		return nil, nil, ErrNothingToTransfer
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(
		`UPDATE swap_requests
		 SET status = ?, target_user_id = ?, resolved_at = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status = ?`,
		model.SwapAccepted, accepterID, resolvedAt.UTC(), requestID, model.SwapPending,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("accept swap request: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, nil, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return nil, nil, ErrNotPending
	}

	createdIDs := make([]int64, 0, len(sources))
	for i := range sources {
		src := sources[i]

		// Guard the delete on current ownership so a concurrent transfer
		// of the same row aborts the whole acceptance.
		del, err := tx.Exec(
			`DELETE FROM assignments WHERE id = ? AND user_id = ?`,
			src.ID, requesterID,
		)
		if err != nil {
			return nil, nil, fmt.Errorf("delete source assignment: %w", err)
		}
		dn, err := del.RowsAffected()
		if err != nil {
			return nil, nil, fmt.Errorf("rows affected: %w", err)
		}
		if dn == 0 {
			return nil, nil, ErrNothingToTransfer
		}

		replacement := src
		replacement.UserID = accepterID
		replacement.Completed = false
		replacement.CompletedAt = nil
		replacement.Verified = nil
		replacement.PhotoURL = ""
		replacement.Notes = ""
		replacement.AdminNotes = auditNote

		ins, err := tx.Exec(insertAssignmentSQL, assignmentArgs(&replacement)...)
		if err != nil {
			return nil, nil, fmt.Errorf("insert replacement assignment: %w", err)
		}
		id, err := ins.LastInsertId()
		if err != nil {
			return nil, nil, fmt.Errorf("last insert id: %w", err)
		}
		createdIDs = append(createdIDs, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit tx: %w", err)
	}

	req, err := s.GetByID(requestID)
	if err != nil {
		return nil, nil, err
	}
	transferred := make([]model.Assignment, 0, len(createdIDs))
	for _, id := range createdIDs {
		row := s.db.QueryRow(`SELECT `+assignmentCols+` FROM assignments WHERE id = ?`, id)
		a, err := scanAssignment(row)
		if err != nil {
			return nil, nil, fmt.Errorf("get transferred assignment: %w", err)
		}
		transferred = append(transferred, *a)
	}
	return req, transferred, nil
}

// SweepExpired flips every overdue pending request to expired in one
// statement. The status predicate is the same compare-and-set the other
// transitions use, so a concurrent accept and the sweep cannot both win.
func (s *SwapStore) SweepExpired(now time.Time) ([]model.SwapRequest, error) {
	rows, err := s.db.Query(
		`SELECT `+swapCols+` FROM swap_requests WHERE status = ? AND expires_at < ?`,
		model.SwapPending, now.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("list expired swap requests: %w", err)
	}
	candidates := []model.SwapRequest{}
	for rows.Next() {
		r, err := scanSwap(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan swap request: %w", err)
		}
		candidates = append(candidates, *r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	expired := make([]model.SwapRequest, 0, len(candidates))
	for _, c := range candidates {
		result, err := s.db.Exec(
			`UPDATE swap_requests
			 SET status = ?, resolved_at = ?, updated_at = CURRENT_TIMESTAMP
			 WHERE id = ? AND status = ?`,
			model.SwapExpired, now.UTC(), c.ID, model.SwapPending,
		)
		if err != nil {
			return nil, fmt.Errorf("expire swap request: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			continue // lost the race to an accept/reject/cancel
		}
		c.Status = model.SwapExpired
		t := now.UTC()
		c.ResolvedAt = &t
		expired = append(expired, c)
	}
	return expired, nil
}
