package handler

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/jwhitfield/chorewheel/internal/auth"
	"github.com/jwhitfield/chorewheel/internal/database"
	"github.com/jwhitfield/chorewheel/internal/model"
	"github.com/jwhitfield/chorewheel/internal/rotation"
	"github.com/jwhitfield/chorewheel/internal/store"
)

type groupFixture struct {
	handler     *GroupHandler
	groups      *store.GroupStore
	members     *store.MemberStore
	tasks       *store.TaskStore
	assignments *store.AssignmentStore
	group       *model.Group
	admin       *model.User
	adminMember *model.Member
	other       *model.User
	otherMember *model.Member
}

func setupGroup(t *testing.T) *groupFixture {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	users := store.NewUserStore(db)
	groups := store.NewGroupStore(db)
	members := store.NewMemberStore(db)
	tasks := store.NewTaskStore(db)
	assignments := store.NewAssignmentStore(db)
	sessions := store.NewSessionStore(db)

	group, err := groups.Create("Test House")
	if err != nil {
		t.Fatalf("create group: %v", err)
	}

	admin, err := users.Create("admin@example.com", "Admin", "x")
	if err != nil {
		t.Fatalf("create admin: %v", err)
	}
	order := 1
	adminMember, err := members.Add(group.ID, admin.ID, model.RoleAdmin, &order)
	if err != nil {
		t.Fatalf("add admin: %v", err)
	}

	other, err := users.Create("other@example.com", "Other", "x")
	if err != nil {
		t.Fatalf("create member: %v", err)
	}
	order = 2
	otherMember, err := members.Add(group.ID, other.ID, model.RoleMember, &order)
	if err != nil {
		t.Fatalf("add member: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	scheduler := rotation.NewScheduler(groups, members, tasks, assignments, nil, logger)
	h := NewGroupHandler(groups, members, assignments, sessions, scheduler, logger)

	return &groupFixture{
		handler:     h,
		groups:      groups,
		members:     members,
		tasks:       tasks,
		assignments: assignments,
		group:       group,
		admin:       admin,
		adminMember: adminMember,
		other:       other,
		otherMember: otherMember,
	}
}

func (f *groupFixture) addAssignment(t *testing.T, userID int64, completed bool) *model.Assignment {
	t.Helper()
	task, err := f.tasks.Create(&model.Task{GroupID: f.group.ID, Title: "Dishes", Points: 2, RotationOrder: 1})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	weekStart := rotation.WeekStart(f.group, f.group.CurrentRotationWeek)
	a, err := f.assignments.Create(&model.Assignment{
		TaskID:       task.ID,
		GroupID:      f.group.ID,
		UserID:       userID,
		RotationWeek: f.group.CurrentRotationWeek,
		WeekStart:    weekStart,
		WeekEnd:      weekStart.AddDate(0, 0, 7),
		DueDate:      weekStart.Add(18 * time.Hour),
		Points:       2,
	})
	if err != nil {
		t.Fatalf("create assignment: %v", err)
	}
	if completed {
		if _, err := f.assignments.Complete(a.ID, "", "", time.Now().UTC()); err != nil {
			t.Fatalf("complete assignment: %v", err)
		}
	}
	return a
}

// kickRequest builds an admin-authed kick of the given member.
func (f *groupFixture) kick(t *testing.T, memberID int64) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", "/api/group/members/"+strconv.FormatInt(memberID, 10)+"/kick", nil)
	req.SetPathValue("id", strconv.FormatInt(memberID, 10))
	req = req.WithContext(auth.WithAuth(req.Context(), auth.AuthContext{
		UserID:  f.admin.ID,
		GroupID: f.group.ID,
		Role:    model.RoleAdmin,
	}))
	rec := httptest.NewRecorder()
	f.handler.Kick(rec, req)
	return rec
}

func TestKickBlockedByPendingAssignments(t *testing.T) {
	f := setupGroup(t)
	f.addAssignment(t, f.other.ID, false)

	rec := f.kick(t, f.otherMember.ID)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusConflict)
	}

	m, err := f.members.GetByID(f.otherMember.ID)
	if err != nil {
		t.Fatalf("reload member: %v", err)
	}
	if !m.IsActive {
		t.Error("member was deactivated despite pending assignments")
	}
}

func TestKickRemovesMemberWithNoPendingWork(t *testing.T) {
	f := setupGroup(t)
	f.addAssignment(t, f.other.ID, true)

	rec := f.kick(t, f.otherMember.ID)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	m, err := f.members.GetByID(f.otherMember.ID)
	if err != nil {
		t.Fatalf("reload member: %v", err)
	}
	if m.IsActive {
		t.Error("member still active after kick")
	}
}

func TestKickIgnoresOtherWeeksAssignments(t *testing.T) {
	f := setupGroup(t)
	f.addAssignment(t, f.other.ID, false)

	// Move the group past the assignment's week; only current-week pending
	// work blocks removal.
	if _, err := f.groups.AdvanceWeek(f.group.ID, f.group.CurrentRotationWeek, time.Now().UTC()); err != nil {
		t.Fatalf("advance week: %v", err)
	}

	rec := f.kick(t, f.otherMember.ID)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
}

func TestKickRejectsSelf(t *testing.T) {
	f := setupGroup(t)

	rec := f.kick(t, f.adminMember.ID)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}
