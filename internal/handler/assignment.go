package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/jwhitfield/chorewheel/internal/assignment"
	"github.com/jwhitfield/chorewheel/internal/auth"
	"github.com/jwhitfield/chorewheel/internal/model"
	"github.com/jwhitfield/chorewheel/internal/rotation"
	"github.com/jwhitfield/chorewheel/internal/store"
)

type AssignmentHandler struct {
	groups      *store.GroupStore
	assignments *store.AssignmentStore
	service     *assignment.Service
	scheduler   *rotation.Scheduler
	logger      *slog.Logger
}

func NewAssignmentHandler(groups *store.GroupStore, assignments *store.AssignmentStore, service *assignment.Service, scheduler *rotation.Scheduler, logger *slog.Logger) *AssignmentHandler {
	return &AssignmentHandler{
		groups:      groups,
		assignments: assignments,
		service:     service,
		scheduler:   scheduler,
		logger:      logger,
	}
}

// List returns the group's assignments for a week. ?week= defaults to the
// current rotation week; ?mine=true narrows to the caller's own.
func (h *AssignmentHandler) List(w http.ResponseWriter, r *http.Request) {
	groupID := auth.GroupID(r.Context())
	group, err := h.groups.GetByID(groupID)
	if err != nil || group == nil {
		writeError(w, http.StatusInternalServerError, "failed to load group")
		return
	}

	week := group.CurrentRotationWeek
	if q := r.URL.Query().Get("week"); q != "" {
		week, err = strconv.Atoi(q)
		if err != nil || week < 1 {
			writeError(w, http.StatusBadRequest, "invalid week")
			return
		}
	}

	var list []model.Assignment
	if r.URL.Query().Get("mine") == "true" {
		list, err = h.assignments.ListByUserWeek(groupID, auth.UserID(r.Context()), week)
	} else {
		list, err = h.assignments.ListByGroupWeek(groupID, week)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list assignments")
		return
	}
	if list == nil {
		list = []model.Assignment{}
	}
	writeJSON(w, http.StatusOK, list)
}

type materializeRequest struct {
	Week int `json:"week"`
}

// Materialize fills in a week's assignment rows, for example after new tasks
// were added mid-week. Admin only; already-materialized tasks are skipped.
func (h *AssignmentHandler) Materialize(w http.ResponseWriter, r *http.Request) {
	var req materializeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	created, err := h.scheduler.MaterializeWeek(auth.GroupID(r.Context()), req.Week)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if created == nil {
		created = []model.Assignment{}
	}
	writeJSON(w, http.StatusOK, created)
}

type completeRequest struct {
	PhotoURL string `json:"photo_url"`
	Notes    string `json:"notes"`
}

func (h *AssignmentHandler) Complete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	updated, err := h.service.Complete(auth.UserID(r.Context()), id, req.PhotoURL, req.Notes)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

type verifyRequest struct {
	Verified   *bool  `json:"verified"`
	AdminNotes string `json:"admin_notes"`
}

func (h *AssignmentHandler) Verify(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Verified == nil {
		writeError(w, http.StatusBadRequest, "verified is required")
		return
	}

	updated, err := h.service.Verify(auth.UserID(r.Context()), id, *req.Verified, req.AdminNotes)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// Window reports whether the assignment can be completed right now, for
// countdown displays.
func (h *AssignmentHandler) Window(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	a, decision, err := h.service.Window(id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if a.GroupID != auth.GroupID(r.Context()) {
		writeError(w, http.StatusNotFound, "assignment not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"allowed":           decision.Allowed,
		"reason":            decision.Reason,
		"opens_in_seconds":  int(decision.OpensIn.Seconds()),
		"time_left_seconds": int(decision.TimeLeft.Seconds()),
	})
}
