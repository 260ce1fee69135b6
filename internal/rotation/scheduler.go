// Package rotation computes which member each recurring task falls to in a
// given week and materializes the week's assignment rows. The assignee
// computation is pure modular arithmetic over the group's active-member
// snapshot; only assignment creation touches the store.
package rotation

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jwhitfield/chorewheel/internal/apperr"
	"github.com/jwhitfield/chorewheel/internal/model"
	"github.com/jwhitfield/chorewheel/internal/notify"
	"github.com/jwhitfield/chorewheel/internal/store"
	"github.com/jwhitfield/chorewheel/internal/websocket"
)

type Scheduler struct {
	groups      *store.GroupStore
	members     *store.MemberStore
	tasks       *store.TaskStore
	assignments *store.AssignmentStore
	notifier    notify.Dispatcher
	logger      *slog.Logger
	now         func() time.Time
}

func NewScheduler(
	groups *store.GroupStore,
	members *store.MemberStore,
	tasks *store.TaskStore,
	assignments *store.AssignmentStore,
	notifier notify.Dispatcher,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		groups:      groups,
		members:     members,
		tasks:       tasks,
		assignments: assignments,
		notifier:    notifier,
		logger:      logger,
		now:         time.Now,
	}
}

// AssigneeIndex returns the index into the ordered active-member list for a
// task with the given rotation order in the given week. Week 1 maps a task
// with order r to member r-1; each following week shifts by one, so over
// len(members) weeks every member receives every task exactly once.
func AssigneeIndex(rotationOrder, week, memberCount int) int {
	if memberCount <= 0 {
		return -1
	}
	idx := (rotationOrder - 1 + week - 1) % memberCount
	if idx < 0 {
		idx += memberCount
	}
	return idx
}

// WeekStart returns the Monday 00:00 UTC that opens the group's given
// rotation week. Weeks are anchored to the week the group was created, which
// keeps the week-number-to-dates mapping a pure function of stored data.
func WeekStart(group *model.Group, week int) time.Time {
	anchor := startOfWeek(group.CreatedAt.UTC())
	return anchor.AddDate(0, 0, (week-1)*7)
}

func startOfWeek(t time.Time) time.Time {
	daysSinceMonday := (int(t.Weekday()) + 6) % 7
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -daysSinceMonday)
}

// MaterializeWeek creates the assignment rows for every recurring task of the
// group in the given week. It is idempotent: tasks that already have rows for
// the week are skipped, so advancing twice or re-running after a partial
// failure never duplicates assignments. Each task's rows are created in one
// transaction; a validation failure on a task aborts that task whole.
func (s *Scheduler) MaterializeWeek(groupID int64, week int) ([]model.Assignment, error) {
	group, err := s.groups.GetByID(groupID)
	if err != nil {
		return nil, apperr.Store("get group", err)
	}
	if group == nil {
		return nil, apperr.NotFound("group", groupID)
	}
	if week < 1 || week > group.CurrentRotationWeek {
		return nil, apperr.Validation("week", fmt.Sprintf("week must be between 1 and %d", group.CurrentRotationWeek))
	}

	// Snapshot the rotation order once; concurrent membership edits must not
	// shift assignees mid-run.
	members, err := s.members.ListActiveByGroup(groupID)
	if err != nil {
		return nil, apperr.Store("list active members", err)
	}
	if len(members) == 0 {
		return nil, apperr.Exhausted(apperr.CodeNoEligibleAssignee, "group has no active members")
	}

	tasks, err := s.tasks.ListRecurringByGroup(groupID)
	if err != nil {
		return nil, apperr.Store("list recurring tasks", err)
	}
	taskIDs := make([]int64, len(tasks))
	for i, t := range tasks {
		taskIDs[i] = t.ID
	}
	existing, err := s.assignments.CountExistingForTasks(week, taskIDs)
	if err != nil {
		return nil, apperr.Store("count existing assignments", err)
	}

	weekStart := WeekStart(group, week)
	weekEnd := endOfDay(weekStart.AddDate(0, 0, 6))

	var created []model.Assignment
	for i := range tasks {
		task := &tasks[i]
		if existing[task.ID] > 0 {
			continue
		}

		batch, err := s.buildTaskWeek(group, task, members, week, weekStart, weekEnd)
		if err != nil {
			return nil, err
		}
		rows, err := s.assignments.CreateBatch(batch)
		if err != nil {
			return nil, apperr.Store("create assignments", err)
		}
		s.logger.Info("materialized task week",
			"group_id", groupID, "task_id", task.ID, "week", week, "assignments", len(rows))
		created = append(created, rows...)
	}
	return created, nil
}

// buildTaskWeek computes the full set of assignment rows one task needs for
// the week: one per due day, or one per (day, slot) pair when the task has
// time slots.
func (s *Scheduler) buildTaskWeek(group *model.Group, task *model.Task, members []model.Member, week int, weekStart, weekEnd time.Time) ([]model.Assignment, error) {
	assignee := members[AssigneeIndex(task.RotationOrder, week, len(members))]

	days, err := taskDays(task)
	if err != nil {
		return nil, err
	}

	dueTime := task.DueTime
	if dueTime == "" {
		dueTime = model.DefaultDueTime
	}
	dueMinutes, err := model.ParseClock(dueTime)
	if err != nil {
		return nil, apperr.Validation("due_time", err.Error())
	}

	slots, err := s.tasks.ListSlots(task.ID)
	if err != nil {
		return nil, apperr.Store("list time slots", err)
	}

	base := model.Assignment{
		TaskID:       task.ID,
		GroupID:      group.ID,
		UserID:       assignee.UserID,
		RotationWeek: week,
		WeekStart:    weekStart,
		WeekEnd:      weekEnd,
	}

	if len(slots) == 0 {
		batch := make([]model.Assignment, 0, len(days))
		for _, day := range days {
			a := base
			a.DueDate = model.ClockOn(weekStart.AddDate(0, 0, day), dueMinutes)
			a.Points = task.Points
			batch = append(batch, a)
		}
		return batch, nil
	}

	shares, err := SplitPoints(task.Points, slots)
	if err != nil {
		return nil, err
	}

	batch := make([]model.Assignment, 0, len(days)*len(slots))
	for _, day := range days {
		date := weekStart.AddDate(0, 0, day)
		for i := range slots {
			endMinutes, err := model.ParseClock(slots[i].EndTime)
			if err != nil {
				return nil, apperr.Validation("end_time", err.Error())
			}
			a := base
			slotID := slots[i].ID
			a.TimeSlotID = &slotID
			a.DueDate = model.ClockOn(date, endMinutes)
			a.Points = shares[i]
			batch = append(batch, a)
		}
	}
	return batch, nil
}

// taskDays resolves which weekday offsets (0=Monday) a task is due on.
func taskDays(task *model.Task) ([]int, error) {
	switch task.ExecutionFrequency {
	case model.FrequencyWeekly, "":
		if task.DueDay < 0 || task.DueDay > 6 {
			return nil, apperr.Validation("due_day", "due day must be between 0 and 6")
		}
		return []int{task.DueDay}, nil
	case model.FrequencyDaily:
		if len(task.SelectedDays) == 0 {
			return []int{0, 1, 2, 3, 4, 5, 6}, nil
		}
		for _, d := range task.SelectedDays {
			if d < 0 || d > 6 {
				return nil, apperr.Validation("selected_days", "days must be between 0 and 6")
			}
		}
		return task.SelectedDays, nil
	default:
		return nil, apperr.Validation("execution_frequency", fmt.Sprintf("unknown frequency %q", task.ExecutionFrequency))
	}
}

func endOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, 0, t.Location())
}

// AdvanceRotation moves the group to its next rotation week and materializes
// that week's assignments. The week bump is a compare-and-set, so two
// concurrent advances increment once; materialization is idempotent either
// way.
func (s *Scheduler) AdvanceRotation(groupID, requestedBy int64) (*model.Group, []model.Assignment, error) {
	group, err := s.groups.GetByID(groupID)
	if err != nil {
		return nil, nil, apperr.Store("get group", err)
	}
	if group == nil {
		return nil, nil, apperr.NotFound("group", groupID)
	}

	member, err := s.members.GetByGroupAndUser(groupID, requestedBy)
	if err != nil {
		return nil, nil, apperr.Store("get member", err)
	}
	if member == nil || !member.IsActive || member.Role != model.RoleAdmin {
		return nil, nil, apperr.Permission("only group admins can advance the rotation")
	}

	advanced, err := s.groups.AdvanceWeek(groupID, group.CurrentRotationWeek, s.now().UTC())
	if err != nil {
		return nil, nil, apperr.Store("advance week", err)
	}

	group, err = s.groups.GetByID(groupID)
	if err != nil {
		return nil, nil, apperr.Store("get group", err)
	}

	created, err := s.MaterializeWeek(groupID, group.CurrentRotationWeek)
	if err != nil {
		return nil, nil, err
	}

	if advanced && s.notifier != nil {
		members, err := s.members.ListActiveByGroup(groupID)
		if err == nil {
			for _, m := range members {
				s.notifier.Notify(m.UserID, model.NotifRotationAdvanced, notify.Payload{
					Title: "Rotation advanced",
					Body:  fmt.Sprintf("%s is now on week %d", group.Name, group.CurrentRotationWeek),
				})
			}
		}
		s.notifier.Broadcast(groupID, websocket.NewMessage("rotation", "advanced", groupID, map[string]any{
			"week": group.CurrentRotationWeek,
		}))
	}

	return group, created, nil
}
