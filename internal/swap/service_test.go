package swap

import (
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"sync"
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
	mu       sync.Mutex
	notifies []string
}

func (f *fakeNotifier) Notify(userID int64, kind string, p notify.Payload) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifies = append(f.notifies, kind)
}

func (f *fakeNotifier) Broadcast(groupID int64, msg websocket.Message) {}

func (f *fakeNotifier) kinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.notifies...)
}

type fixture struct {
	db          *sql.DB
	assignments *store.AssignmentStore
	swaps       *store.SwapStore
	tasks       *store.TaskStore
	members     *store.MemberStore
	service     *Service
	notifier    *fakeNotifier
	group       *model.Group
	task        *model.Task
	users       []int64 // users[0] is the group admin
	now         time.Time
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
	swaps := store.NewSwapStore(db)
	users := store.NewUserStore(db)

	group, err := groups.Create("Test House")
	if err != nil {
		t.Fatalf("create group: %v", err)
	}

	task, err := tasks.Create(&model.Task{
		GroupID:            group.ID,
		Title:              "dishes",
		Points:             2.0,
		IsRecurring:        true,
		ExecutionFrequency: model.FrequencyDaily,
		RotationOrder:      1,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	notifier := &fakeNotifier{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	service := NewService(groups, members, tasks, assignments, swaps, notifier, logger)

	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC) // a Monday
	service.now = func() time.Time { return now }

	f := &fixture{
		db:          db,
		assignments: assignments,
		swaps:       swaps,
		tasks:       tasks,
		members:     members,
		service:     service,
		notifier:    notifier,
		group:       group,
		task:        task,
		now:         now,
	}
	for i := 0; i < memberCount; i++ {
		u, err := users.Create(fmt.Sprintf("member%d@example.com", i+1), "Member", "x")
		if err != nil {
			t.Fatalf("create user: %v", err)
		}
		role := model.RoleMember
		if i == 0 {
			role = model.RoleAdmin
		}
		order := i + 1
		if _, err := members.Add(group.ID, u.ID, role, &order); err != nil {
			t.Fatalf("add member: %v", err)
		}
		f.users = append(f.users, u.ID)
	}
	return f
}

// addAssignment puts an assignment for the fixture task in week 1, due the
// given number of days after the fixture's frozen clock.
func (f *fixture) addAssignment(t *testing.T, userID int64, dueInDays int) *model.Assignment {
	t.Helper()
	due := f.now.AddDate(0, 0, dueInDays)
	a, err := f.assignments.Create(&model.Assignment{
		TaskID:       f.task.ID,
		GroupID:      f.group.ID,
		UserID:       userID,
		RotationWeek: 1,
		WeekStart:    f.now.AddDate(0, 0, -1),
		WeekEnd:      f.now.AddDate(0, 0, 6),
		DueDate:      due,
		Points:       2.0,
	})
	if err != nil {
		t.Fatalf("create assignment: %v", err)
	}
	return a
}

func (f *fixture) openSwap(t *testing.T, userID, assignmentID int64, p CreateParams) *model.SwapRequest {
	t.Helper()
	if p.Scope == "" {
		p.Scope = model.ScopeWeek
	}
	req, err := f.service.Create(userID, assignmentID, p)
	if err != nil {
		t.Fatalf("create swap request: %v", err)
	}
	return req
}

func TestCreateOnlyAssignee(t *testing.T) {
	f := setup(t, 2)
	a := f.addAssignment(t, f.users[0], 3)

	_, err := f.service.Create(f.users[1], a.ID, CreateParams{Scope: model.ScopeWeek})
	if apperr.KindOf(err) != apperr.KindPermission {
		t.Fatalf("want permission error, got %v", err)
	}
}

func TestCreateRejectsCompleted(t *testing.T) {
	f := setup(t, 2)
	a := f.addAssignment(t, f.users[0], 3)
	if _, err := f.assignments.Complete(a.ID, "", "", f.now); err != nil {
		t.Fatalf("complete: %v", err)
	}

	_, err := f.service.Create(f.users[0], a.ID, CreateParams{Scope: model.ScopeWeek})
	if apperr.KindOf(err) != apperr.KindStateConflict {
		t.Fatalf("want state conflict, got %v", err)
	}
}

func TestCreateOnePendingPerAssignment(t *testing.T) {
	f := setup(t, 2)
	a := f.addAssignment(t, f.users[0], 3)
	f.openSwap(t, f.users[0], a.ID, CreateParams{})

	_, err := f.service.Create(f.users[0], a.ID, CreateParams{Scope: model.ScopeWeek})
	if !apperr.IsCode(err, apperr.CodeAlreadySwapping) {
		t.Fatalf("want already_swapping, got %v", err)
	}
}

func TestCreateWeekScopeNeedsLeadTime(t *testing.T) {
	f := setup(t, 2)
	a := f.addAssignment(t, f.users[0], 0) // due right now

	_, err := f.service.Create(f.users[0], a.ID, CreateParams{Scope: model.ScopeWeek})
	if !apperr.IsCode(err, apperr.CodeTooLateToSwap) {
		t.Fatalf("want too_late_to_swap, got %v", err)
	}
}

func TestCreateDayScopeNeedsSelectedDay(t *testing.T) {
	f := setup(t, 2)
	a := f.addAssignment(t, f.users[0], 0)

	// Day scope skips the 24h lead check but requires a day.
	_, err := f.service.Create(f.users[0], a.ID, CreateParams{Scope: model.ScopeDay})
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("want validation error, got %v", err)
	}

	day := f.now
	req, err := f.service.Create(f.users[0], a.ID, CreateParams{Scope: model.ScopeDay, SelectedDay: &day})
	if err != nil {
		t.Fatalf("create day swap: %v", err)
	}
	if req.Status != model.SwapPending {
		t.Errorf("status = %q, want pending", req.Status)
	}
}

func TestCreateValidatesTarget(t *testing.T) {
	f := setup(t, 2)
	a := f.addAssignment(t, f.users[0], 3)

	self := f.users[0]
	if _, err := f.service.Create(f.users[0], a.ID, CreateParams{Scope: model.ScopeWeek, TargetUserID: &self}); apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("self target: want validation error, got %v", err)
	}

	stranger := int64(9999)
	if _, err := f.service.Create(f.users[0], a.ID, CreateParams{Scope: model.ScopeWeek, TargetUserID: &stranger}); apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("non-member target: want validation error, got %v", err)
	}
}

func TestCreateDefaultExpiry(t *testing.T) {
	f := setup(t, 2)
	a := f.addAssignment(t, f.users[0], 3)

	req := f.openSwap(t, f.users[0], a.ID, CreateParams{})
	want := f.now.Add(DefaultExpiry)
	if !req.ExpiresAt.Equal(want) {
		t.Errorf("expires at %v, want %v", req.ExpiresAt, want)
	}
}

func TestAcceptWeekTransfersEverything(t *testing.T) {
	f := setup(t, 2)
	f.addAssignment(t, f.users[0], 2)
	a2 := f.addAssignment(t, f.users[0], 3)
	a3 := f.addAssignment(t, f.users[0], 4)
	if _, err := f.assignments.Complete(a3.ID, "", "done early", f.now); err != nil {
		t.Fatalf("complete: %v", err)
	}

	req := f.openSwap(t, f.users[0], a2.ID, CreateParams{})
	accepted, transferred, err := f.service.Accept(req.ID, f.users[1])
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if accepted.Status != model.SwapAccepted {
		t.Fatalf("status = %q, want accepted", accepted.Status)
	}
	if len(transferred) != 3 {
		t.Fatalf("transferred %d assignments, want 3", len(transferred))
	}
	for _, a := range transferred {
		if a.UserID != f.users[1] {
			t.Errorf("assignment %d owned by %d, want %d", a.ID, a.UserID, f.users[1])
		}
		if a.Completed || a.Verified != nil {
			t.Errorf("assignment %d kept completion state across the handoff", a.ID)
		}
		if a.AdminNotes == "" {
			t.Errorf("assignment %d has no transfer audit note", a.ID)
		}
	}

	// The old rows are gone: the requester holds nothing for the week.
	remaining, err := f.assignments.ListByTaskUserWeek(f.task.ID, f.users[0], 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("requester still holds %d assignments", len(remaining))
	}
}

func TestAcceptDayTransfersOnlySelectedDay(t *testing.T) {
	f := setup(t, 2)
	a1 := f.addAssignment(t, f.users[0], 1)
	a2 := f.addAssignment(t, f.users[0], 2)

	day := f.now.AddDate(0, 0, 1)
	req := f.openSwap(t, f.users[0], a1.ID, CreateParams{Scope: model.ScopeDay, SelectedDay: &day})

	_, transferred, err := f.service.Accept(req.ID, f.users[1])
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if len(transferred) != 1 {
		t.Fatalf("transferred %d assignments, want 1", len(transferred))
	}

	kept, err := f.assignments.GetByID(a2.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if kept == nil || kept.UserID != f.users[0] {
		t.Error("assignment outside the selected day changed hands")
	}
}

func TestAcceptDirectedSwap(t *testing.T) {
	f := setup(t, 3)
	a := f.addAssignment(t, f.users[0], 3)
	target := f.users[1]
	req := f.openSwap(t, f.users[0], a.ID, CreateParams{TargetUserID: &target})

	if _, _, err := f.service.Accept(req.ID, f.users[2]); apperr.KindOf(err) != apperr.KindPermission {
		t.Fatalf("non-target accept: want permission error, got %v", err)
	}
	if _, _, err := f.service.Accept(req.ID, f.users[0]); apperr.KindOf(err) != apperr.KindPermission {
		t.Fatalf("requester accept: want permission error, got %v", err)
	}
	if _, _, err := f.service.Accept(req.ID, target); err != nil {
		t.Fatalf("target accept: %v", err)
	}
}

func TestAcceptLazyExpiry(t *testing.T) {
	f := setup(t, 2)
	a := f.addAssignment(t, f.users[0], 3)
	req := f.openSwap(t, f.users[0], a.ID, CreateParams{})

	// Move the clock past the deadline, then try to accept.
	f.service.now = func() time.Time { return f.now.Add(DefaultExpiry + time.Hour) }
	_, _, err := f.service.Accept(req.ID, f.users[1])
	if !apperr.IsCode(err, apperr.CodeExpired) {
		t.Fatalf("want expired, got %v", err)
	}

	stored, err := f.swaps.GetByID(req.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != model.SwapExpired {
		t.Errorf("status = %q, want expired", stored.Status)
	}
}

func TestAcceptAlreadyResolved(t *testing.T) {
	f := setup(t, 3)
	a := f.addAssignment(t, f.users[0], 3)
	req := f.openSwap(t, f.users[0], a.ID, CreateParams{})

	if _, err := f.service.Cancel(req.ID, f.users[0]); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	_, _, err := f.service.Accept(req.ID, f.users[1])
	if !apperr.IsCode(err, apperr.CodeAlreadyResolved) {
		t.Fatalf("want already_resolved, got %v", err)
	}
}

func TestConcurrentAcceptAtMostOnce(t *testing.T) {
	f := setup(t, 3)
	a := f.addAssignment(t, f.users[0], 3)
	req := f.openSwap(t, f.users[0], a.ID, CreateParams{})

	accepters := []int64{f.users[1], f.users[2]}
	errs := make([]error, len(accepters))
	var wg sync.WaitGroup
	for i, uid := range accepters {
		wg.Add(1)
		go func(i int, uid int64) {
			defer wg.Done()
			_, _, errs[i] = f.service.Accept(req.ID, uid)
		}(i, uid)
	}
	wg.Wait()

	wins := 0
	var winner int64
	for i, err := range errs {
		if err == nil {
			wins++
			winner = accepters[i]
		} else if apperr.KindOf(err) != apperr.KindStateConflict {
			t.Errorf("loser got %v, want state conflict", err)
		}
	}
	if wins != 1 {
		t.Fatalf("%d accepts succeeded, want exactly 1", wins)
	}

	rows, err := f.assignments.ListByTaskUserWeek(f.task.ID, winner, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("winner holds %d assignments, want 1", len(rows))
	}
}

func TestRejectByTargetAndAdmin(t *testing.T) {
	f := setup(t, 3)

	a := f.addAssignment(t, f.users[1], 3)
	target := f.users[2]
	req := f.openSwap(t, f.users[1], a.ID, CreateParams{TargetUserID: &target})

	if _, err := f.service.Reject(req.ID, target, "busy"); err != nil {
		t.Fatalf("target reject: %v", err)
	}
	stored, _ := f.swaps.GetByID(req.ID)
	if stored.Status != model.SwapRejected {
		t.Fatalf("status = %q, want rejected", stored.Status)
	}

	// Admins can reject open requests too.
	b := f.addAssignment(t, f.users[1], 4)
	req2 := f.openSwap(t, f.users[1], b.ID, CreateParams{})
	if _, err := f.service.Reject(req2.ID, f.users[0], "not this week"); err != nil {
		t.Fatalf("admin reject: %v", err)
	}

	// A plain member who is not the target cannot.
	c := f.addAssignment(t, f.users[2], 4)
	req3 := f.openSwap(t, f.users[2], c.ID, CreateParams{TargetUserID: &f.users[0]})
	if _, err := f.service.Reject(req3.ID, f.users[1], ""); apperr.KindOf(err) != apperr.KindPermission {
		t.Fatalf("bystander reject: want permission error, got %v", err)
	}
}

func TestRejectByRequesterCancels(t *testing.T) {
	f := setup(t, 2)
	a := f.addAssignment(t, f.users[0], 3)
	req := f.openSwap(t, f.users[0], a.ID, CreateParams{})

	resolved, err := f.service.Reject(req.ID, f.users[0], "")
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if resolved.Status != model.SwapCancelled {
		t.Fatalf("status = %q, want cancelled", resolved.Status)
	}
}

func TestCancelOnlyRequester(t *testing.T) {
	f := setup(t, 2)
	a := f.addAssignment(t, f.users[0], 3)
	req := f.openSwap(t, f.users[0], a.ID, CreateParams{})

	if _, err := f.service.Cancel(req.ID, f.users[1]); apperr.KindOf(err) != apperr.KindPermission {
		t.Fatalf("want permission error, got %v", err)
	}
	if _, err := f.service.Cancel(req.ID, f.users[0]); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
}

func TestSweepExpired(t *testing.T) {
	f := setup(t, 2)
	a1 := f.addAssignment(t, f.users[0], 3)
	a2 := f.addAssignment(t, f.users[0], 4)
	a3 := f.addAssignment(t, f.users[0], 5)

	soon := f.now.Add(time.Hour)
	far := f.now.Add(72 * time.Hour)
	f.openSwap(t, f.users[0], a1.ID, CreateParams{ExpiresAt: &soon})
	f.openSwap(t, f.users[0], a2.ID, CreateParams{ExpiresAt: &soon})
	keep := f.openSwap(t, f.users[0], a3.ID, CreateParams{ExpiresAt: &far})

	f.service.now = func() time.Time { return f.now.Add(2 * time.Hour) }

	n, err := f.service.SweepExpired()
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if n != 2 {
		t.Fatalf("expired %d requests, want 2", n)
	}

	// Sweeping again finds nothing: the flip is a one-shot transition.
	n, err = f.service.SweepExpired()
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if n != 0 {
		t.Fatalf("second sweep expired %d, want 0", n)
	}

	stored, _ := f.swaps.GetByID(keep.ID)
	if stored.Status != model.SwapPending {
		t.Errorf("unexpired request flipped to %q", stored.Status)
	}
}

// Two sweepers racing over the same overdue requests must split the flips
// between them, never double-count one.
func TestConcurrentSweepsCountEachRequestOnce(t *testing.T) {
	f := setup(t, 2)
	soon := f.now.Add(time.Hour)
	for days := 3; days <= 5; days++ {
		a := f.addAssignment(t, f.users[0], days)
		f.openSwap(t, f.users[0], a.ID, CreateParams{ExpiresAt: &soon})
	}

	f.service.now = func() time.Time { return f.now.Add(2 * time.Hour) }

	counts := make([]int, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range counts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			counts[i], errs[i] = f.service.SweepExpired()
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("sweep %d: %v", i, err)
		}
	}
	if total := counts[0] + counts[1]; total != 3 {
		t.Fatalf("sweeps expired %d requests combined, want exactly 3", total)
	}
}
