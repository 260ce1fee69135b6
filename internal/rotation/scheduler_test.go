package rotation

import (
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jwhitfield/chorewheel/internal/apperr"
	"github.com/jwhitfield/chorewheel/internal/database"
	"github.com/jwhitfield/chorewheel/internal/model"
	"github.com/jwhitfield/chorewheel/internal/notify"
	"github.com/jwhitfield/chorewheel/internal/store"
	"github.com/jwhitfield/chorewheel/internal/websocket"
)

type fakeNotifier struct {
	notifies   []string
	broadcasts []websocket.Message
}

func (f *fakeNotifier) Notify(userID int64, kind string, p notify.Payload) {
	f.notifies = append(f.notifies, kind)
}

func (f *fakeNotifier) Broadcast(groupID int64, msg websocket.Message) {
	f.broadcasts = append(f.broadcasts, msg)
}

type fixture struct {
	db          *sql.DB
	groups      *store.GroupStore
	members     *store.MemberStore
	tasks       *store.TaskStore
	assignments *store.AssignmentStore
	scheduler   *Scheduler
	notifier    *fakeNotifier
	group       *model.Group
	users       []int64
}

func setup(t *testing.T, memberCount int) *fixture {
	t.Helper()

	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	groups := store.NewGroupStore(db)
	members := store.NewMemberStore(db)
	tasks := store.NewTaskStore(db)
	assignments := store.NewAssignmentStore(db)
	users := store.NewUserStore(db)

	group, err := groups.Create("Test House")
	if err != nil {
		t.Fatalf("create group: %v", err)
	}

	notifier := &fakeNotifier{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	scheduler := NewScheduler(groups, members, tasks, assignments, notifier, logger)

	f := &fixture{
		db:          db,
		groups:      groups,
		members:     members,
		tasks:       tasks,
		assignments: assignments,
		scheduler:   scheduler,
		notifier:    notifier,
		group:       group,
	}
	for i := 0; i < memberCount; i++ {
		f.users = append(f.users, f.addMember(t, users, i+1))
	}
	return f
}

func (f *fixture) addMember(t *testing.T, users *store.UserStore, order int) int64 {
	t.Helper()
	u, err := users.Create(fmt.Sprintf("member%d@example.com", order), "Member", "x")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	role := model.RoleMember
	if order == 1 {
		role = model.RoleAdmin
	}
	if _, err := f.members.Add(f.group.ID, u.ID, role, &order); err != nil {
		t.Fatalf("add member: %v", err)
	}
	return u.ID
}

func (f *fixture) addTask(t *testing.T, title string, points float64, rotationOrder, dueDay int) *model.Task {
	t.Helper()
	task, err := f.tasks.Create(&model.Task{
		GroupID:            f.group.ID,
		Title:              title,
		Points:             points,
		IsRecurring:        true,
		ExecutionFrequency: model.FrequencyWeekly,
		RotationOrder:      rotationOrder,
		DueDay:             dueDay,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func TestAssigneeIndexRoundRobin(t *testing.T) {
	const memberCount = 4

	// Over memberCount weeks, each task visits every member exactly once.
	for order := 1; order <= memberCount; order++ {
		seen := make(map[int]int)
		for week := 1; week <= memberCount; week++ {
			idx := AssigneeIndex(order, week, memberCount)
			if idx < 0 || idx >= memberCount {
				t.Fatalf("order %d week %d: index %d out of range", order, week, idx)
			}
			seen[idx]++
		}
		for idx, n := range seen {
			if n != 1 {
				t.Errorf("order %d: member %d assigned %d times over %d weeks", order, idx, n, memberCount)
			}
		}
	}

	// Week 1 maps task order r to member r-1.
	for order := 1; order <= memberCount; order++ {
		if got := AssigneeIndex(order, 1, memberCount); got != order-1 {
			t.Errorf("week 1 order %d: index %d, want %d", order, got, order-1)
		}
	}
}

func TestAssigneeIndexShiftsEachWeek(t *testing.T) {
	const memberCount = 3
	for week := 1; week <= 6; week++ {
		got := AssigneeIndex(1, week, memberCount)
		want := (week - 1) % memberCount
		if got != want {
			t.Errorf("week %d: index %d, want %d", week, got, want)
		}
	}
}

func TestMaterializeWeekAssignsByOrder(t *testing.T) {
	f := setup(t, 3)
	for i := 1; i <= 3; i++ {
		f.addTask(t, "task", 2.0, i, 0)
	}

	created, err := f.scheduler.MaterializeWeek(f.group.ID, 1)
	if err != nil {
		t.Fatalf("MaterializeWeek: %v", err)
	}
	if len(created) != 3 {
		t.Fatalf("created %d assignments, want 3", len(created))
	}

	// Week 1: task with order r goes to the member with rotation order r.
	assigned := make(map[int64]bool)
	for _, a := range created {
		assigned[a.UserID] = true
		if a.RotationWeek != 1 {
			t.Errorf("assignment week = %d, want 1", a.RotationWeek)
		}
	}
	for _, uid := range f.users {
		if !assigned[uid] {
			t.Errorf("user %d received no assignment", uid)
		}
	}
}

func TestMaterializeWeekIdempotent(t *testing.T) {
	f := setup(t, 2)
	f.addTask(t, "dishes", 2.0, 1, 0)

	first, err := f.scheduler.MaterializeWeek(f.group.ID, 1)
	if err != nil {
		t.Fatalf("first MaterializeWeek: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("first run created %d, want 1", len(first))
	}

	second, err := f.scheduler.MaterializeWeek(f.group.ID, 1)
	if err != nil {
		t.Fatalf("second MaterializeWeek: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("second run created %d, want 0", len(second))
	}

	rows, err := f.assignments.ListByGroupWeek(f.group.ID, 1)
	if err != nil {
		t.Fatalf("list assignments: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("stored %d assignments, want 1", len(rows))
	}
}

func TestMaterializeWeekDueDates(t *testing.T) {
	f := setup(t, 1)
	task := f.addTask(t, "trash", 1.0, 1, 2) // Wednesday
	task.DueTime = "07:30"
	if _, err := f.tasks.Update(task); err != nil {
		t.Fatalf("update task: %v", err)
	}

	created, err := f.scheduler.MaterializeWeek(f.group.ID, 1)
	if err != nil {
		t.Fatalf("MaterializeWeek: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("created %d assignments, want 1", len(created))
	}

	group, _ := f.groups.GetByID(f.group.ID)
	want := WeekStart(group, 1).AddDate(0, 0, 2).Add(7*time.Hour + 30*time.Minute)
	if !created[0].DueDate.Equal(want) {
		t.Errorf("due date = %v, want %v", created[0].DueDate, want)
	}
}

func TestMaterializeWeekSlots(t *testing.T) {
	f := setup(t, 1)
	task := f.addTask(t, "dog walk", 2.0, 1, 0)
	for _, s := range []struct{ start, end string }{
		{"07:00", "08:00"}, {"13:00", "14:00"}, {"20:00", "21:00"},
	} {
		if _, err := f.tasks.CreateSlot(task.ID, s.start, s.end, "", nil); err != nil {
			t.Fatalf("create slot: %v", err)
		}
	}

	created, err := f.scheduler.MaterializeWeek(f.group.ID, 1)
	if err != nil {
		t.Fatalf("MaterializeWeek: %v", err)
	}
	if len(created) != 3 {
		t.Fatalf("created %d assignments, want 3", len(created))
	}

	wantPoints := []float64{0.5, 0.5, 1.0}
	sum := 0.0
	for i, a := range created {
		if a.TimeSlotID == nil {
			t.Fatalf("assignment %d has no slot", i)
		}
		if a.Points != wantPoints[i] {
			t.Errorf("slot %d points = %v, want %v", i, a.Points, wantPoints[i])
		}
		sum += a.Points
	}
	if sum != 2.0 {
		t.Errorf("points sum to %v, want 2.0", sum)
	}
}

func TestMaterializeWeekDaily(t *testing.T) {
	f := setup(t, 2)
	if _, err := f.tasks.Create(&model.Task{
		GroupID:            f.group.ID,
		Title:              "feed cat",
		Points:             1.0,
		IsRecurring:        true,
		ExecutionFrequency: model.FrequencyDaily,
		RotationOrder:      1,
		SelectedDays:       []int{0, 2, 4},
	}); err != nil {
		t.Fatalf("create task: %v", err)
	}

	created, err := f.scheduler.MaterializeWeek(f.group.ID, 1)
	if err != nil {
		t.Fatalf("MaterializeWeek: %v", err)
	}
	if len(created) != 3 {
		t.Fatalf("created %d assignments, want 3", len(created))
	}
	for _, a := range created {
		if a.UserID != created[0].UserID {
			t.Error("a task's week must go to a single assignee")
		}
	}
}

func TestMaterializeWeekNoActiveMembers(t *testing.T) {
	f := setup(t, 0)
	_, err := f.scheduler.MaterializeWeek(f.group.ID, 1)
	if !apperr.IsCode(err, apperr.CodeNoEligibleAssignee) {
		t.Fatalf("want no_eligible_assignee, got %v", err)
	}
}

func TestMaterializeWeekBounds(t *testing.T) {
	f := setup(t, 1)
	if _, err := f.scheduler.MaterializeWeek(f.group.ID, 0); apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("week 0: want validation error, got %v", err)
	}
	if _, err := f.scheduler.MaterializeWeek(f.group.ID, 2); apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("future week: want validation error, got %v", err)
	}
}

func TestAdvanceRotation(t *testing.T) {
	f := setup(t, 2)
	f.addTask(t, "dishes", 2.0, 1, 0)

	group, created, err := f.scheduler.AdvanceRotation(f.group.ID, f.users[0])
	if err != nil {
		t.Fatalf("AdvanceRotation: %v", err)
	}
	if group.CurrentRotationWeek != 2 {
		t.Fatalf("week = %d, want 2", group.CurrentRotationWeek)
	}
	if len(created) != 1 {
		t.Fatalf("created %d assignments, want 1", len(created))
	}
	if created[0].RotationWeek != 2 {
		t.Errorf("assignment week = %d, want 2", created[0].RotationWeek)
	}

	found := false
	for _, kind := range f.notifier.notifies {
		if kind == model.NotifRotationAdvanced {
			found = true
		}
	}
	if !found {
		t.Error("members were not notified of the advance")
	}
	if len(f.notifier.broadcasts) == 0 {
		t.Error("no websocket broadcast for the advance")
	}
}

func TestAdvanceRotationRequiresAdmin(t *testing.T) {
	f := setup(t, 2)
	_, _, err := f.scheduler.AdvanceRotation(f.group.ID, f.users[1])
	if apperr.KindOf(err) != apperr.KindPermission {
		t.Fatalf("want permission error, got %v", err)
	}
}

func TestAdvanceRotationRotatesAssignee(t *testing.T) {
	f := setup(t, 2)
	f.addTask(t, "dishes", 2.0, 1, 0)

	week1, err := f.scheduler.MaterializeWeek(f.group.ID, 1)
	if err != nil {
		t.Fatalf("MaterializeWeek: %v", err)
	}
	_, week2, err := f.scheduler.AdvanceRotation(f.group.ID, f.users[0])
	if err != nil {
		t.Fatalf("AdvanceRotation: %v", err)
	}
	if week1[0].UserID == week2[0].UserID {
		t.Error("assignee did not rotate between weeks")
	}
}
