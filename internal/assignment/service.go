// Package assignment covers the life of a materialized assignment after the
// scheduler creates it: completion inside the submission window, and admin
// verification afterwards.
package assignment

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jwhitfield/chorewheel/internal/apperr"
	"github.com/jwhitfield/chorewheel/internal/model"
	"github.com/jwhitfield/chorewheel/internal/notify"
	"github.com/jwhitfield/chorewheel/internal/store"
	"github.com/jwhitfield/chorewheel/internal/websocket"
	"github.com/jwhitfield/chorewheel/internal/window"
)

type Service struct {
	members     *store.MemberStore
	tasks       *store.TaskStore
	assignments *store.AssignmentStore
	notifier    notify.Dispatcher
	logger      *slog.Logger
	now         func() time.Time
}

func NewService(
	members *store.MemberStore,
	tasks *store.TaskStore,
	assignments *store.AssignmentStore,
	notifier notify.Dispatcher,
	logger *slog.Logger,
) *Service {
	return &Service{
		members:     members,
		tasks:       tasks,
		assignments: assignments,
		notifier:    notifier,
		logger:      logger,
		now:         time.Now,
	}
}

// Window reports whether the assignment can be completed right now, without
// changing anything. Handlers expose it so clients can render countdowns.
func (s *Service) Window(assignmentID int64) (*model.Assignment, window.Decision, error) {
	a, err := s.assignments.GetByID(assignmentID)
	if err != nil {
		return nil, window.Decision{}, apperr.Store("get assignment", err)
	}
	if a == nil {
		return nil, window.Decision{}, apperr.NotFound("assignment", assignmentID)
	}
	d, err := s.decide(a)
	if err != nil {
		return nil, window.Decision{}, err
	}
	return a, d, nil
}

// Complete marks the assignment done, provided the caller is the assignee and
// the submission window is open.
func (s *Service) Complete(userID, assignmentID int64, photoURL, notes string) (*model.Assignment, error) {
	a, err := s.assignments.GetByID(assignmentID)
	if err != nil {
		return nil, apperr.Store("get assignment", err)
	}
	if a == nil {
		return nil, apperr.NotFound("assignment", assignmentID)
	}
	if a.UserID != userID {
		return nil, apperr.Permission("only the assignee can complete an assignment")
	}
	if a.Completed {
		return nil, apperr.Conflict("already_completed", "", "assignment is already completed")
	}

	d, err := s.decide(a)
	if err != nil {
		return nil, err
	}
	if !d.Allowed {
		return nil, apperr.ValidationCode(string(d.Reason), "completed",
			fmt.Sprintf("submission window is not open (%s)", d.Reason))
	}

	updated, err := s.assignments.Complete(assignmentID, photoURL, notes, s.now().UTC())
	if err != nil {
		return nil, apperr.Store("complete assignment", err)
	}

	s.notifyAdmins(updated, model.NotifAssignmentCompleted, "Assignment completed",
		fmt.Sprintf("Assignment %d was marked complete", updated.ID))
	return updated, nil
}

// Verify records an admin's approval or rejection of a completed assignment.
func (s *Service) Verify(adminID, assignmentID int64, verified bool, adminNotes string) (*model.Assignment, error) {
	a, err := s.assignments.GetByID(assignmentID)
	if err != nil {
		return nil, apperr.Store("get assignment", err)
	}
	if a == nil {
		return nil, apperr.NotFound("assignment", assignmentID)
	}

	member, err := s.members.GetByGroupAndUser(a.GroupID, adminID)
	if err != nil {
		return nil, apperr.Store("get member", err)
	}
	if member == nil || !member.IsActive || member.Role != model.RoleAdmin {
		return nil, apperr.Permission("only group admins can verify assignments")
	}
	if !a.Completed {
		return nil, apperr.Conflict("not_completed", "", "assignment has not been completed")
	}

	updated, err := s.assignments.Verify(assignmentID, verified, adminNotes)
	if err != nil {
		return nil, apperr.Store("verify assignment", err)
	}

	verdict := "verified"
	if !verified {
		verdict = "sent back"
	}
	if s.notifier != nil {
		s.notifier.Notify(updated.UserID, model.NotifAssignmentVerified, notify.Payload{
			Title: "Assignment " + verdict,
			Body:  fmt.Sprintf("Assignment %d was %s", updated.ID, verdict),
		})
		s.notifier.Broadcast(updated.GroupID, websocket.NewMessage("assignment", "verified", updated.ID, map[string]any{
			"verified": verified,
		}))
	}
	return updated, nil
}

// decide loads the slot, when the assignment has one, and runs the window
// check against the service clock.
func (s *Service) decide(a *model.Assignment) (window.Decision, error) {
	var slot *model.TimeSlot
	if a.TimeSlotID != nil {
		var err error
		slot, err = s.tasks.GetSlot(*a.TimeSlotID)
		if err != nil {
			return window.Decision{}, apperr.Store("get time slot", err)
		}
	}
	d, err := window.CanSubmit(a, slot, s.now())
	if err != nil {
		return window.Decision{}, apperr.Validation("time_slot", err.Error())
	}
	return d, nil
}

func (s *Service) notifyAdmins(a *model.Assignment, kind, title, body string) {
	if s.notifier == nil {
		return
	}
	members, err := s.members.ListActiveByGroup(a.GroupID)
	if err != nil {
		s.logger.Warn("list members for notification", "error", err)
		return
	}
	for _, m := range members {
		if m.Role == model.RoleAdmin && m.UserID != a.UserID {
			s.notifier.Notify(m.UserID, kind, notify.Payload{Title: title, Body: body})
		}
	}
	s.notifier.Broadcast(a.GroupID, websocket.NewMessage("assignment", "completed", a.ID, nil))
}
