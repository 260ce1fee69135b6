package store

import (
	"database/sql"
	"fmt"

	"github.com/jwhitfield/chorewheel/internal/model"
)

type MemberStore struct {
	db *sql.DB
}

func NewMemberStore(db *sql.DB) *MemberStore {
	return &MemberStore{db: db}
}

func scanMember(scanner interface{ Scan(...any) error }) (*model.Member, error) {
	var m model.Member
	var order sql.NullInt64
	err := scanner.Scan(
		&m.ID, &m.GroupID, &m.UserID, &m.Role, &order, &m.IsActive,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if order.Valid {
		o := int(order.Int64)
		m.RotationOrder = &o
	}
	return &m, nil
}

const memberCols = `id, group_id, user_id, role, rotation_order, is_active, created_at, updated_at`

func (s *MemberStore) Add(groupID, userID int64, role string, rotationOrder *int) (*model.Member, error) {
	var order any
	if rotationOrder != nil {
		order = *rotationOrder
	}
	result, err := s.db.Exec(
		`INSERT INTO group_members (group_id, user_id, role, rotation_order) VALUES (?, ?, ?, ?)`,
		groupID, userID, role, order,
	)
	if err != nil {
		return nil, fmt.Errorf("add member: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *MemberStore) GetByID(id int64) (*model.Member, error) {
	row := s.db.QueryRow(`SELECT `+memberCols+` FROM group_members WHERE id = ?`, id)
	m, err := scanMember(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get member: %w", err)
	}
	return m, nil
}

func (s *MemberStore) GetByGroupAndUser(groupID, userID int64) (*model.Member, error) {
	row := s.db.QueryRow(
		`SELECT `+memberCols+` FROM group_members WHERE group_id = ? AND user_id = ?`,
		groupID, userID,
	)
	m, err := scanMember(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get member: %w", err)
	}
	return m, nil
}

func (s *MemberStore) ListByGroup(groupID int64) ([]model.Member, error) {
	return s.list(
		`SELECT `+memberCols+` FROM group_members
		 WHERE group_id = ?
		 ORDER BY rotation_order IS NULL, rotation_order ASC, created_at ASC`,
		groupID,
	)
}

// ListActiveByGroup returns the active members in rotation order, ties broken
// by join time. This is the snapshot the scheduler works from.
func (s *MemberStore) ListActiveByGroup(groupID int64) ([]model.Member, error) {
	return s.list(
		`SELECT `+memberCols+` FROM group_members
		 WHERE group_id = ? AND is_active = 1
		 ORDER BY rotation_order IS NULL, rotation_order ASC, created_at ASC`,
		groupID,
	)
}

func (s *MemberStore) list(query string, args ...any) ([]model.Member, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var members []model.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, *m)
	}
	return members, rows.Err()
}

// NextRotationOrder returns the next free ordering key in the group.
func (s *MemberStore) NextRotationOrder(groupID int64) (int, error) {
	var max sql.NullInt64
	err := s.db.QueryRow(
		`SELECT MAX(rotation_order) FROM group_members WHERE group_id = ?`,
		groupID,
	).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("next rotation order: %w", err)
	}
	if !max.Valid {
		return 1, nil
	}
	return int(max.Int64) + 1, nil
}

func (s *MemberStore) SetActive(id int64, active bool) error {
	_, err := s.db.Exec(
		`UPDATE group_members SET is_active = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		active, id,
	)
	if err != nil {
		return fmt.Errorf("set member active: %w", err)
	}
	return nil
}

func (s *MemberStore) SetRole(id int64, role string) error {
	_, err := s.db.Exec(
		`UPDATE group_members SET role = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		role, id,
	)
	if err != nil {
		return fmt.Errorf("set member role: %w", err)
	}
	return nil
}

func (s *MemberStore) Remove(id int64) error {
	_, err := s.db.Exec(`DELETE FROM group_members WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	return nil
}

// CountAdmins counts active admins in the group, used to guard against
// removing the sole admin.
func (s *MemberStore) CountAdmins(groupID int64) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM group_members WHERE group_id = ? AND role = ? AND is_active = 1`,
		groupID, model.RoleAdmin,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count admins: %w", err)
	}
	return n, nil
}
