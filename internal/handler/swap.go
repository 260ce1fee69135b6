package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/jwhitfield/chorewheel/internal/auth"
	"github.com/jwhitfield/chorewheel/internal/model"
	"github.com/jwhitfield/chorewheel/internal/store"
	"github.com/jwhitfield/chorewheel/internal/swap"
)

type SwapHandler struct {
	groups  *store.GroupStore
	swaps   *store.SwapStore
	service *swap.Service
	logger  *slog.Logger
}

func NewSwapHandler(groups *store.GroupStore, swaps *store.SwapStore, service *swap.Service, logger *slog.Logger) *SwapHandler {
	return &SwapHandler{groups: groups, swaps: swaps, service: service, logger: logger}
}

type swapCreateRequest struct {
	AssignmentID       int64   `json:"assignment_id"`
	Reason             string  `json:"reason"`
	TargetUserID       *int64  `json:"target_user_id"`
	Scope              string  `json:"scope"`
	SelectedDay        *string `json:"selected_day"` // YYYY-MM-DD
	SelectedTimeSlotID *int64  `json:"selected_time_slot_id"`
	ExpiresAt          *string `json:"expires_at"` // RFC 3339
}

func (h *SwapHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req swapCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	params := swap.CreateParams{
		Reason:             req.Reason,
		TargetUserID:       req.TargetUserID,
		Scope:              req.Scope,
		SelectedTimeSlotID: req.SelectedTimeSlotID,
	}
	if req.SelectedDay != nil {
		day, err := time.Parse("2006-01-02", *req.SelectedDay)
		if err != nil {
			writeError(w, http.StatusBadRequest, "selected_day must be YYYY-MM-DD")
			return
		}
		params.SelectedDay = &day
	}
	if req.ExpiresAt != nil {
		exp, err := time.Parse(time.RFC3339, *req.ExpiresAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "expires_at must be RFC 3339")
			return
		}
		params.ExpiresAt = &exp
	}

	created, err := h.service.Create(auth.UserID(r.Context()), req.AssignmentID, params)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// List returns the group's swap requests for a week, newest first.
func (h *SwapHandler) List(w http.ResponseWriter, r *http.Request) {
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

	list, err := h.swaps.ListByGroupWeek(groupID, week)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list swap requests")
		return
	}
	if list == nil {
		list = []model.SwapRequest{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *SwapHandler) Accept(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	accepted, transferred, err := h.service.Accept(id, auth.UserID(r.Context()))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"request":     accepted,
		"assignments": transferred,
	})
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (h *SwapHandler) Reject(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req rejectRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req) // reason is optional
	}

	resolved, err := h.service.Reject(id, auth.UserID(r.Context()), req.Reason)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resolved)
}

func (h *SwapHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	resolved, err := h.service.Cancel(id, auth.UserID(r.Context()))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resolved)
}
