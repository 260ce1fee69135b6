package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jwhitfield/chorewheel/internal/auth"
	"github.com/jwhitfield/chorewheel/internal/model"
	"github.com/jwhitfield/chorewheel/internal/notify"
	"github.com/jwhitfield/chorewheel/internal/rotation"
	"github.com/jwhitfield/chorewheel/internal/store"
	"github.com/jwhitfield/chorewheel/internal/websocket"
)

type TaskHandler struct {
	tasks    *store.TaskStore
	notifier notify.Dispatcher
	logger   *slog.Logger
}

func NewTaskHandler(tasks *store.TaskStore, notifier notify.Dispatcher, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{tasks: tasks, notifier: notifier, logger: logger}
}

type slotRequest struct {
	StartTime string   `json:"start_time"`
	EndTime   string   `json:"end_time"`
	Label     string   `json:"label"`
	Points    *float64 `json:"points"`
}

type taskRequest struct {
	Title              string        `json:"title"`
	Description        string        `json:"description"`
	Points             float64       `json:"points"`
	IsRecurring        *bool         `json:"is_recurring"`
	ExecutionFrequency string        `json:"execution_frequency"`
	RotationOrder      int           `json:"rotation_order"`
	DueDay             int           `json:"due_day"`
	DueTime            string        `json:"due_time"`
	SelectedDays       []int         `json:"selected_days"`
	TimeSlots          []slotRequest `json:"time_slots"`
}

func (req *taskRequest) validate() string {
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return "title is required"
	}
	if req.Points <= 0 {
		return "points must be positive"
	}
	if req.RotationOrder < 1 {
		return "rotation order must be at least 1"
	}
	switch req.ExecutionFrequency {
	case "", model.FrequencyWeekly:
		if req.DueDay < 0 || req.DueDay > 6 {
			return "due day must be between 0 (Monday) and 6 (Sunday)"
		}
	case model.FrequencyDaily:
		for _, d := range req.SelectedDays {
			if d < 0 || d > 6 {
				return "selected days must be between 0 and 6"
			}
		}
	default:
		return "execution frequency must be weekly or daily"
	}
	if req.DueTime != "" {
		if _, err := model.ParseClock(req.DueTime); err != nil {
			return "due time must be HH:MM"
		}
	}
	for _, s := range req.TimeSlots {
		start, err := model.ParseClock(s.StartTime)
		if err != nil {
			return "slot start time must be HH:MM"
		}
		end, err := model.ParseClock(s.EndTime)
		if err != nil {
			return "slot end time must be HH:MM"
		}
		if end <= start {
			return "slot end time must be after its start time"
		}
	}
	return ""
}

// slotModels converts the request slots for the point-split validation,
// which runs before anything is written.
func (req *taskRequest) slotModels() []model.TimeSlot {
	slots := make([]model.TimeSlot, len(req.TimeSlots))
	for i, s := range req.TimeSlots {
		slots[i] = model.TimeSlot{StartTime: s.StartTime, EndTime: s.EndTime, Label: s.Label, Points: s.Points}
	}
	return slots
}

func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if len(req.TimeSlots) > 0 {
		if _, err := rotation.SplitPoints(req.Points, req.slotModels()); err != nil {
			writeAppError(w, err)
			return
		}
	}

	recurring := true
	if req.IsRecurring != nil {
		recurring = *req.IsRecurring
	}
	task, err := h.tasks.Create(&model.Task{
		GroupID:            auth.GroupID(r.Context()),
		Title:              req.Title,
		Description:        req.Description,
		Points:             req.Points,
		IsRecurring:        recurring,
		ExecutionFrequency: req.ExecutionFrequency,
		RotationOrder:      req.RotationOrder,
		DueDay:             req.DueDay,
		DueTime:            req.DueTime,
		SelectedDays:       req.SelectedDays,
	})
	if err != nil {
		h.logger.Error("create task", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create task")
		return
	}

	for _, s := range req.TimeSlots {
		if _, err := h.tasks.CreateSlot(task.ID, s.StartTime, s.EndTime, s.Label, s.Points); err != nil {
			h.logger.Error("create time slot", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to create time slots")
			return
		}
	}

	h.notifier.Broadcast(task.GroupID, websocket.NewMessage("task", "created", task.ID, nil))
	writeJSON(w, http.StatusCreated, task)
}

func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.tasks.ListByGroup(auth.GroupID(r.Context()))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}
	if tasks == nil {
		tasks = []model.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	task := h.ownedTask(w, r)
	if task == nil {
		return
	}
	slots, err := h.tasks.ListSlots(task.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load time slots")
		return
	}
	if slots == nil {
		slots = []model.TimeSlot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"task":       task,
		"time_slots": slots,
	})
}

func (h *TaskHandler) Update(w http.ResponseWriter, r *http.Request) {
	task := h.ownedTask(w, r)
	if task == nil {
		return
	}

	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	// Updating never touches slots; the slot endpoints manage those. Still
	// validate the declared split against the possibly-new points value.
	slots, err := h.tasks.ListSlots(task.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load time slots")
		return
	}
	if len(slots) > 0 {
		if _, err := rotation.SplitPoints(req.Points, slots); err != nil {
			writeAppError(w, err)
			return
		}
	}

	task.Title = req.Title
	task.Description = req.Description
	task.Points = req.Points
	if req.IsRecurring != nil {
		task.IsRecurring = *req.IsRecurring
	}
	if req.ExecutionFrequency != "" {
		task.ExecutionFrequency = req.ExecutionFrequency
	}
	task.RotationOrder = req.RotationOrder
	task.DueDay = req.DueDay
	if req.DueTime != "" {
		task.DueTime = req.DueTime
	}
	task.SelectedDays = req.SelectedDays

	updated, err := h.tasks.Update(task)
	if err != nil {
		h.logger.Error("update task", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update task")
		return
	}

	h.notifier.Broadcast(updated.GroupID, websocket.NewMessage("task", "updated", updated.ID, nil))
	writeJSON(w, http.StatusOK, updated)
}

func (h *TaskHandler) Delete(w http.ResponseWriter, r *http.Request) {
	task := h.ownedTask(w, r)
	if task == nil {
		return
	}
	if err := h.tasks.Delete(task.ID); err != nil {
		h.logger.Error("delete task", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete task")
		return
	}
	h.notifier.Broadcast(task.GroupID, websocket.NewMessage("task", "deleted", task.ID, nil))
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *TaskHandler) AddSlot(w http.ResponseWriter, r *http.Request) {
	task := h.ownedTask(w, r)
	if task == nil {
		return
	}

	var req slotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	probe := taskRequest{Title: "x", Points: task.Points, RotationOrder: 1, TimeSlots: []slotRequest{req}}
	if msg := probe.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	existing, err := h.tasks.ListSlots(task.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load time slots")
		return
	}
	candidate := append(existing, model.TimeSlot{StartTime: req.StartTime, EndTime: req.EndTime, Points: req.Points})
	if _, err := rotation.SplitPoints(task.Points, candidate); err != nil {
		writeAppError(w, err)
		return
	}

	slot, err := h.tasks.CreateSlot(task.ID, req.StartTime, req.EndTime, req.Label, req.Points)
	if err != nil {
		h.logger.Error("create time slot", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create time slot")
		return
	}
	writeJSON(w, http.StatusCreated, slot)
}

func (h *TaskHandler) DeleteSlot(w http.ResponseWriter, r *http.Request) {
	task := h.ownedTask(w, r)
	if task == nil {
		return
	}
	slotID, err := parseInt64Param(r, "slot_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid slot id")
		return
	}
	slot, err := h.tasks.GetSlot(slotID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load time slot")
		return
	}
	if slot == nil || slot.TaskID != task.ID {
		writeError(w, http.StatusNotFound, "time slot not found")
		return
	}
	if err := h.tasks.DeleteSlot(slot.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete time slot")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ownedTask loads the {id} task and checks it belongs to the caller's group.
// Writes the error response and returns nil when it doesn't.
func (h *TaskHandler) ownedTask(w http.ResponseWriter, r *http.Request) *model.Task {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return nil
	}
	task, err := h.tasks.GetByID(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load task")
		return nil
	}
	if task == nil || task.GroupID != auth.GroupID(r.Context()) {
		writeError(w, http.StatusNotFound, "task not found")
		return nil
	}
	return task
}
