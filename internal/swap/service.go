// Package swap negotiates handing an assignment (or a whole week of a task's
// assignments) from one member to another. A request is created PENDING and
// leaves that state exactly once — accepted, rejected, cancelled, or expired —
// enforced by a single compare-and-set transition shared by every path.
package swap

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jwhitfield/chorewheel/internal/apperr"
	"github.com/jwhitfield/chorewheel/internal/model"
	"github.com/jwhitfield/chorewheel/internal/notify"
	"github.com/jwhitfield/chorewheel/internal/store"
	"github.com/jwhitfield/chorewheel/internal/websocket"
)

// Week-scope swaps must leave the counterparty at least this long before the
// assignment is due. Day-scope swaps carry no such restriction.
const minWeekSwapLead = 24 * time.Hour

// DefaultExpiry is applied when a request does not set its own deadline.
const DefaultExpiry = 48 * time.Hour

func dateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type Service struct {
	groups      *store.GroupStore
	members     *store.MemberStore
	tasks       *store.TaskStore
	assignments *store.AssignmentStore
	swaps       *store.SwapStore
	notifier    notify.Dispatcher
	logger      *slog.Logger
	now         func() time.Time
}

func NewService(
	groups *store.GroupStore,
	members *store.MemberStore,
	tasks *store.TaskStore,
	assignments *store.AssignmentStore,
	swaps *store.SwapStore,
	notifier notify.Dispatcher,
	logger *slog.Logger,
) *Service {
	return &Service{
		groups:      groups,
		members:     members,
		tasks:       tasks,
		assignments: assignments,
		swaps:       swaps,
		notifier:    notifier,
		logger:      logger,
		now:         time.Now,
	}
}

// CreateParams carries the optional fields of a new swap request.
type CreateParams struct {
	Reason             string
	TargetUserID       *int64
	Scope              string
	SelectedDay        *time.Time
	SelectedTimeSlotID *int64
	ExpiresAt          *time.Time
}

// Create opens a swap request for one of the caller's assignments.
func (s *Service) Create(userID, assignmentID int64, p CreateParams) (*model.SwapRequest, error) {
	now := s.now().UTC()

	assignment, err := s.assignments.GetByID(assignmentID)
	if err != nil {
		return nil, apperr.Store("get assignment", err)
	}
	if assignment == nil {
		return nil, apperr.NotFound("assignment", assignmentID)
	}
	if assignment.UserID != userID {
		return nil, apperr.Permission("only the current assignee can offer a swap")
	}
	if assignment.Completed {
		return nil, apperr.Conflict("already_completed", "", "completed assignments cannot be swapped")
	}

	member, err := s.members.GetByGroupAndUser(assignment.GroupID, userID)
	if err != nil {
		return nil, apperr.Store("get member", err)
	}
	if member == nil || !member.IsActive {
		return nil, apperr.Permission("caller is not an active group member")
	}

	pending, err := s.swaps.GetPendingByAssignment(assignmentID)
	if err != nil {
		return nil, apperr.Store("get pending swap request", err)
	}
	if pending != nil {
		return nil, apperr.Conflict(apperr.CodeAlreadySwapping, model.SwapPending,
			"a pending swap request already exists for this assignment")
	}

	switch p.Scope {
	case model.ScopeWeek:
		if assignment.DueDate.UTC().Sub(now) < minWeekSwapLead {
			return nil, apperr.ValidationCode(apperr.CodeTooLateToSwap, "scope",
				"week swaps require at least 24 hours before the due date")
		}
	case model.ScopeDay:
		if p.SelectedDay == nil {
			return nil, apperr.Validation("selected_day", "day-scope swaps require a selected day")
		}
		if dateOf(*p.SelectedDay).Before(dateOf(now)) {
			return nil, apperr.Validation("selected_day", "selected day is in the past")
		}
		if p.SelectedTimeSlotID != nil {
			slot, err := s.tasks.GetSlot(*p.SelectedTimeSlotID)
			if err != nil {
				return nil, apperr.Store("get time slot", err)
			}
			if slot == nil || slot.TaskID != assignment.TaskID {
				return nil, apperr.Validation("selected_time_slot_id", "time slot does not belong to the task")
			}
		}
	default:
		return nil, apperr.Validation("scope", fmt.Sprintf("scope must be %q or %q", model.ScopeWeek, model.ScopeDay))
	}

	if p.TargetUserID != nil {
		if *p.TargetUserID == userID {
			return nil, apperr.Validation("target_user_id", "cannot target yourself")
		}
		target, err := s.members.GetByGroupAndUser(assignment.GroupID, *p.TargetUserID)
		if err != nil {
			return nil, apperr.Store("get target member", err)
		}
		if target == nil || !target.IsActive {
			return nil, apperr.Validation("target_user_id", "target is not an active group member")
		}
	}

	expiresAt := now.Add(DefaultExpiry)
	if p.ExpiresAt != nil {
		if !p.ExpiresAt.After(now) {
			return nil, apperr.Validation("expires_at", "expiry must be in the future")
		}
		expiresAt = p.ExpiresAt.UTC()
	}

	req, err := s.swaps.Create(&model.SwapRequest{
		AssignmentID:       assignmentID,
		RequestedBy:        userID,
		TargetUserID:       p.TargetUserID,
		Scope:              p.Scope,
		SelectedDay:        p.SelectedDay,
		SelectedTimeSlotID: p.SelectedTimeSlotID,
		Reason:             p.Reason,
		ExpiresAt:          expiresAt,
	})
	if err != nil {
		return nil, apperr.Store("create swap request", err)
	}

	s.notifyCreated(assignment, req)
	return req, nil
}

// Accept transfers the request's assignments to the caller. The status flip
// and the assignment handoff commit in one transaction; under concurrent
// accepts exactly one caller wins and the rest observe the resolved status.
func (s *Service) Accept(requestID, userID int64) (*model.SwapRequest, []model.Assignment, error) {
	now := s.now().UTC()

	req, err := s.swaps.GetByID(requestID)
	if err != nil {
		return nil, nil, apperr.Store("get swap request", err)
	}
	if req == nil {
		return nil, nil, apperr.NotFound("swap request", requestID)
	}
	if req.Terminal() {
		return nil, nil, apperr.Conflict(apperr.CodeAlreadyResolved, req.Status,
			fmt.Sprintf("swap request is already %s", req.Status))
	}
	if expired, err := s.lazyExpire(req, now); err != nil {
		return nil, nil, err
	} else if expired != nil {
		return nil, nil, expired
	}

	if userID == req.RequestedBy {
		return nil, nil, apperr.Permission("the requester cannot accept their own swap")
	}
	if req.TargetUserID != nil && *req.TargetUserID != userID {
		return nil, nil, apperr.Permission("this swap is directed at another member")
	}

	assignment, err := s.assignments.GetByID(req.AssignmentID)
	if err != nil {
		return nil, nil, apperr.Store("get assignment", err)
	}
	if assignment == nil {
		return nil, nil, apperr.Conflict(apperr.CodeNothingToTransfer, req.Status,
			"the assignment behind this swap no longer exists")
	}

	group, err := s.groups.GetByID(assignment.GroupID)
	if err != nil {
		return nil, nil, apperr.Store("get group", err)
	}
	if group == nil {
		return nil, nil, apperr.NotFound("group", assignment.GroupID)
	}

	accepter, err := s.members.GetByGroupAndUser(group.ID, userID)
	if err != nil {
		return nil, nil, apperr.Store("get member", err)
	}
	if accepter == nil || !accepter.IsActive {
		return nil, nil, apperr.Permission("caller is not an active group member")
	}

	sources, err := s.selectSources(req, assignment, group.CurrentRotationWeek)
	if err != nil {
		return nil, nil, err
	}
	if len(sources) == 0 {
		return nil, nil, apperr.Conflict(apperr.CodeNothingToTransfer, req.Status,
			"no assignments match this swap's scope")
	}

	note := fmt.Sprintf("transferred via swap request %d", req.ID)
	accepted, transferred, err := s.swaps.AcceptTransfer(req.ID, req.RequestedBy, userID, sources, note, now)
	if errors.Is(err, store.ErrNotPending) {
		return nil, nil, s.resolvedConflict(requestID)
	}
	if errors.Is(err, store.ErrNothingToTransfer) {
		// Transaction rolled back; the request stays pending.
		return nil, nil, apperr.Conflict(apperr.CodeNothingToTransfer, model.SwapPending,
			"assignments changed hands before the transfer could commit")
	}
	if err != nil {
		return nil, nil, apperr.Store("accept swap transfer", err)
	}

	s.notifyResolved(assignment, accepted, userID)
	return accepted, transferred, nil
}

// selectSources picks the assignments the swap transfers: the requester's
// whole task week, or just the selected day (and slot, when narrowed).
func (s *Service) selectSources(req *model.SwapRequest, assignment *model.Assignment, week int) ([]model.Assignment, error) {
	var (
		sources []model.Assignment
		err     error
	)
	if req.Scope == model.ScopeDay {
		if req.SelectedDay == nil {
			return nil, apperr.Validation("selected_day", "day-scope swap has no selected day")
		}
		sources, err = s.assignments.ListByTaskUserWeekDay(
			assignment.TaskID, req.RequestedBy, week, *req.SelectedDay, req.SelectedTimeSlotID)
	} else {
		sources, err = s.assignments.ListByTaskUserWeek(assignment.TaskID, req.RequestedBy, week)
	}
	if err != nil {
		return nil, apperr.Store("select swap sources", err)
	}
	return sources, nil
}

// Reject declines a request. The designated target or any group admin may
// reject; the requester going through this path is treated as a cancel.
func (s *Service) Reject(requestID, userID int64, reason string) (*model.SwapRequest, error) {
	now := s.now().UTC()

	req, err := s.swaps.GetByID(requestID)
	if err != nil {
		return nil, apperr.Store("get swap request", err)
	}
	if req == nil {
		return nil, apperr.NotFound("swap request", requestID)
	}
	if req.RequestedBy == userID {
		return s.Cancel(requestID, userID)
	}
	if req.Terminal() {
		return nil, apperr.Conflict(apperr.CodeAlreadyResolved, req.Status,
			fmt.Sprintf("swap request is already %s", req.Status))
	}
	if expired, err := s.lazyExpire(req, now); err != nil {
		return nil, err
	} else if expired != nil {
		return nil, expired
	}

	allowed := req.TargetUserID != nil && *req.TargetUserID == userID
	if !allowed {
		assignment, err := s.assignments.GetByID(req.AssignmentID)
		if err != nil {
			return nil, apperr.Store("get assignment", err)
		}
		if assignment != nil {
			member, err := s.members.GetByGroupAndUser(assignment.GroupID, userID)
			if err != nil {
				return nil, apperr.Store("get member", err)
			}
			allowed = member != nil && member.IsActive && member.Role == model.RoleAdmin
		}
	}
	if !allowed {
		return nil, apperr.Permission("only the targeted member or a group admin can reject")
	}

	resolved, err := s.swaps.Resolve(requestID, model.SwapRejected, reason, now)
	if errors.Is(err, store.ErrNotPending) {
		return nil, s.resolvedConflict(requestID)
	}
	if err != nil {
		return nil, apperr.Store("reject swap request", err)
	}

	s.notifyTransition(resolved, model.NotifSwapRejected)
	return resolved, nil
}

// Cancel withdraws the caller's own pending request.
func (s *Service) Cancel(requestID, userID int64) (*model.SwapRequest, error) {
	now := s.now().UTC()

	req, err := s.swaps.GetByID(requestID)
	if err != nil {
		return nil, apperr.Store("get swap request", err)
	}
	if req == nil {
		return nil, apperr.NotFound("swap request", requestID)
	}
	if req.RequestedBy != userID {
		return nil, apperr.Permission("only the requester can cancel")
	}
	if req.Terminal() {
		return nil, apperr.Conflict(apperr.CodeAlreadyResolved, req.Status,
			fmt.Sprintf("swap request is already %s", req.Status))
	}
	if expired, err := s.lazyExpire(req, now); err != nil {
		return nil, err
	} else if expired != nil {
		return nil, expired
	}

	resolved, err := s.swaps.Resolve(requestID, model.SwapCancelled, "", now)
	if errors.Is(err, store.ErrNotPending) {
		return nil, s.resolvedConflict(requestID)
	}
	if err != nil {
		return nil, apperr.Store("cancel swap request", err)
	}

	s.notifyTransition(resolved, model.NotifSwapCancelled)
	return resolved, nil
}

// SweepExpired flips every pending request whose deadline passed to expired.
// Safe to run concurrently with accept/reject/cancel: the store applies the
// same status compare-and-set every transition uses.
func (s *Service) SweepExpired() (int, error) {
	expired, err := s.swaps.SweepExpired(s.now().UTC())
	if err != nil {
		return 0, apperr.Store("sweep expired swap requests", err)
	}
	for i := range expired {
		s.notifyTransition(&expired[i], model.NotifSwapExpired)
	}
	return len(expired), nil
}

// lazyExpire flips an overdue pending request to expired before the caller's
// transition is attempted, and returns the conflict the caller should see.
func (s *Service) lazyExpire(req *model.SwapRequest, now time.Time) (*apperr.Error, error) {
	if req.Status != model.SwapPending || !req.ExpiresAt.UTC().Before(now) {
		return nil, nil
	}
	_, err := s.swaps.Resolve(req.ID, model.SwapExpired, "", now)
	if err != nil && !errors.Is(err, store.ErrNotPending) {
		return nil, apperr.Store("expire swap request", err)
	}
	return apperr.Conflict(apperr.CodeExpired, model.SwapExpired, "swap request has expired"), nil
}

// resolvedConflict re-reads a request after losing a compare-and-set race and
// reports the status the winner left behind.
func (s *Service) resolvedConflict(requestID int64) error {
	req, err := s.swaps.GetByID(requestID)
	if err != nil || req == nil {
		return apperr.Conflict(apperr.CodeAlreadyResolved, "", "swap request is already resolved")
	}
	if req.Status == model.SwapExpired {
		return apperr.Conflict(apperr.CodeExpired, req.Status, "swap request has expired")
	}
	return apperr.Conflict(apperr.CodeAlreadyResolved, req.Status,
		fmt.Sprintf("swap request is already %s", req.Status))
}

func (s *Service) notifyCreated(assignment *model.Assignment, req *model.SwapRequest) {
	if s.notifier == nil {
		return
	}
	payload := notify.Payload{
		Title: "Swap offered",
		Body:  fmt.Sprintf("A member wants to swap an assignment (request %d)", req.ID),
	}
	if req.TargetUserID != nil {
		s.notifier.Notify(*req.TargetUserID, model.NotifSwapCreated, payload)
	} else {
		members, err := s.members.ListActiveByGroup(assignment.GroupID)
		if err != nil {
			s.logger.Warn("list members for swap notification", "error", err)
		}
		for _, m := range members {
			if m.UserID == req.RequestedBy {
				continue
			}
			s.notifier.Notify(m.UserID, model.NotifSwapCreated, payload)
		}
	}
	s.notifier.Broadcast(assignment.GroupID, websocket.NewMessage("swap_request", "created", req.ID, map[string]any{
		"scope": req.Scope,
	}))
}

func (s *Service) notifyResolved(assignment *model.Assignment, req *model.SwapRequest, accepterID int64) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(req.RequestedBy, model.NotifSwapAccepted, notify.Payload{
		Title: "Swap accepted",
		Body:  fmt.Sprintf("Your swap request %d was accepted", req.ID),
	})
	s.notifier.Broadcast(assignment.GroupID, websocket.NewMessage("swap_request", "accepted", req.ID, map[string]any{
		"accepted_by": accepterID,
	}))
}

func (s *Service) notifyTransition(req *model.SwapRequest, kind string) {
	if s.notifier == nil {
		return
	}
	title := "Swap " + req.Status
	s.notifier.Notify(req.RequestedBy, kind, notify.Payload{
		Title: title,
		Body:  fmt.Sprintf("Swap request %d is now %s", req.ID, req.Status),
	})
	if req.TargetUserID != nil {
		s.notifier.Notify(*req.TargetUserID, kind, notify.Payload{
			Title: title,
			Body:  fmt.Sprintf("Swap request %d is now %s", req.ID, req.Status),
		})
	}
}
