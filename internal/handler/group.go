package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jwhitfield/chorewheel/internal/auth"
	"github.com/jwhitfield/chorewheel/internal/model"
	"github.com/jwhitfield/chorewheel/internal/rotation"
	"github.com/jwhitfield/chorewheel/internal/store"
)

type GroupHandler struct {
	groups      *store.GroupStore
	members     *store.MemberStore
	assignments *store.AssignmentStore
	sessions    *store.SessionStore
	scheduler   *rotation.Scheduler
	logger      *slog.Logger
}

func NewGroupHandler(groups *store.GroupStore, members *store.MemberStore, assignments *store.AssignmentStore, sessions *store.SessionStore, scheduler *rotation.Scheduler, logger *slog.Logger) *GroupHandler {
	return &GroupHandler{
		groups:      groups,
		members:     members,
		assignments: assignments,
		sessions:    sessions,
		scheduler:   scheduler,
		logger:      logger,
	}
}

type groupRequest struct {
	Name string `json:"name"`
}

// Create makes a new group with the caller as its first admin and switches
// the session to it.
func (h *GroupHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	group, err := h.groups.Create(req.Name)
	if err != nil {
		h.logger.Error("create group", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create group")
		return
	}

	ac, _ := auth.FromContext(r.Context())
	order := 1
	if _, err := h.members.Add(group.ID, ac.UserID, model.RoleAdmin, &order); err != nil {
		h.logger.Error("add founding member", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create group")
		return
	}
	if err := h.sessions.SetGroup(ac.SessionID, group.ID); err != nil {
		h.logger.Warn("switch session group", "error", err)
	}

	writeJSON(w, http.StatusCreated, group)
}

type joinRequest struct {
	InviteCode string `json:"invite_code"`
}

// Join adds the caller to the group behind an invite code, at the end of the
// rotation order, and switches the session to it.
func (h *GroupHandler) Join(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	group, err := h.groups.GetByInviteCode(strings.ToUpper(strings.TrimSpace(req.InviteCode)))
	if err != nil {
		h.logger.Error("lookup invite code", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to join group")
		return
	}
	if group == nil {
		writeError(w, http.StatusNotFound, "invite code not recognized")
		return
	}

	ac, _ := auth.FromContext(r.Context())
	existing, err := h.members.GetByGroupAndUser(group.ID, ac.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to join group")
		return
	}
	if existing != nil {
		if !existing.IsActive {
			if err := h.members.SetActive(existing.ID, true); err != nil {
				writeError(w, http.StatusInternalServerError, "failed to rejoin group")
				return
			}
		}
	} else {
		order, err := h.members.NextRotationOrder(group.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to join group")
			return
		}
		if _, err := h.members.Add(group.ID, ac.UserID, model.RoleMember, &order); err != nil {
			h.logger.Error("add member", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to join group")
			return
		}
	}

	if err := h.sessions.SetGroup(ac.SessionID, group.ID); err != nil {
		h.logger.Warn("switch session group", "error", err)
	}
	writeJSON(w, http.StatusOK, group)
}

// Get returns the session's active group.
func (h *GroupHandler) Get(w http.ResponseWriter, r *http.Request) {
	group, err := h.groups.GetByID(auth.GroupID(r.Context()))
	if err != nil || group == nil {
		writeError(w, http.StatusInternalServerError, "failed to load group")
		return
	}
	writeJSON(w, http.StatusOK, group)
}

// Members lists the group's membership, rotation order first.
func (h *GroupHandler) Members(w http.ResponseWriter, r *http.Request) {
	members, err := h.members.ListByGroup(auth.GroupID(r.Context()))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list members")
		return
	}
	if members == nil {
		members = []model.Member{}
	}
	writeJSON(w, http.StatusOK, members)
}

// Leave deactivates the caller's membership. Members holding incomplete
// assignments in the current week must hand them off first, and the last
// admin cannot leave.
func (h *GroupHandler) Leave(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())

	group, err := h.groups.GetByID(ac.GroupID)
	if err != nil || group == nil {
		writeError(w, http.StatusInternalServerError, "failed to load group")
		return
	}

	pending, err := h.assignments.CountPendingForUser(ac.GroupID, ac.UserID, group.CurrentRotationWeek)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check assignments")
		return
	}
	if pending > 0 {
		writeError(w, http.StatusConflict, "swap away your remaining assignments before leaving")
		return
	}

	member, err := h.members.GetByGroupAndUser(ac.GroupID, ac.UserID)
	if err != nil || member == nil {
		writeError(w, http.StatusInternalServerError, "failed to load membership")
		return
	}
	if member.Role == model.RoleAdmin {
		admins, err := h.members.CountAdmins(ac.GroupID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to check admins")
			return
		}
		if admins <= 1 {
			writeError(w, http.StatusConflict, "promote another admin before leaving")
			return
		}
	}

	if err := h.members.SetActive(member.ID, false); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to leave group")
		return
	}
	if err := h.sessions.SetGroup(ac.SessionID, 0); err != nil {
		h.logger.Warn("clear session group", "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "left"})
}

// Kick deactivates another member. Admin only. Like Leave, a member still
// holding incomplete assignments in the current week cannot be removed.
func (h *GroupHandler) Kick(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	member, err := h.members.GetByID(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load member")
		return
	}
	if member == nil || member.GroupID != auth.GroupID(r.Context()) {
		writeError(w, http.StatusNotFound, "member not found")
		return
	}
	if member.UserID == auth.UserID(r.Context()) {
		writeError(w, http.StatusBadRequest, "use leave to remove yourself")
		return
	}

	group, err := h.groups.GetByID(member.GroupID)
	if err != nil || group == nil {
		writeError(w, http.StatusInternalServerError, "failed to load group")
		return
	}
	pending, err := h.assignments.CountPendingForUser(member.GroupID, member.UserID, group.CurrentRotationWeek)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check assignments")
		return
	}
	if pending > 0 {
		writeError(w, http.StatusConflict, "member still has assignments this week; swap them away first")
		return
	}

	if err := h.members.SetActive(member.ID, false); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to remove member")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

type roleRequest struct {
	Role string `json:"role"`
}

// SetRole promotes or demotes a member. Admin only; demoting the last admin
// is rejected.
func (h *GroupHandler) SetRole(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req roleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Role != model.RoleAdmin && req.Role != model.RoleMember {
		writeError(w, http.StatusBadRequest, "role must be admin or member")
		return
	}

	member, err := h.members.GetByID(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load member")
		return
	}
	if member == nil || member.GroupID != auth.GroupID(r.Context()) {
		writeError(w, http.StatusNotFound, "member not found")
		return
	}

	if member.Role == model.RoleAdmin && req.Role == model.RoleMember {
		admins, err := h.members.CountAdmins(member.GroupID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to check admins")
			return
		}
		if admins <= 1 {
			writeError(w, http.StatusConflict, "the group needs at least one admin")
			return
		}
	}

	if err := h.members.SetRole(member.ID, req.Role); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update role")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// Advance moves the group to the next rotation week and materializes its
// assignments. Admin only.
func (h *GroupHandler) Advance(w http.ResponseWriter, r *http.Request) {
	group, created, err := h.scheduler.AdvanceRotation(auth.GroupID(r.Context()), auth.UserID(r.Context()))
	if err != nil {
		writeAppError(w, err)
		return
	}
	if created == nil {
		created = []model.Assignment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"group":       group,
		"assignments": created,
	})
}
