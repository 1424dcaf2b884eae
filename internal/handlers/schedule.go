package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/parley-chat/backend/internal/models"
	"github.com/parley-chat/backend/internal/services"
)

// ScheduleHandler contains HTTP handlers for deferred messages.
type ScheduleHandler struct {
	schedule *services.ScheduleService
}

// NewScheduleHandler creates a new ScheduleHandler instance.
func NewScheduleHandler(schedule *services.ScheduleService) *ScheduleHandler {
	return &ScheduleHandler{schedule: schedule}
}

// ScheduleMessage handles POST /schedule-message
// Persists a message for the scheduler to send at scheduledAt.
func (h *ScheduleHandler) ScheduleMessage(w http.ResponseWriter, r *http.Request) {
	var req models.ScheduleMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Missing required fields")
		return
	}

	rec, err := h.schedule.Schedule(r.Context(), req)
	if errors.Is(err, services.ErrInvalidField) {
		writeError(w, http.StatusBadRequest, "Missing required fields")
		return
	}
	if err != nil {
		log.Printf("[Schedule] Error saving scheduled message: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to schedule message")
		return
	}

	log.Printf("[Schedule] %s scheduled %s for chat %s at %d", rec.OwnerUID, rec.ID, rec.ChatID, rec.ScheduledAt)
	writeJSON(w, http.StatusOK, models.SuccessResponse{Success: true})
}

// ListScheduled handles GET /scheduled-messages
// Returns the caller's pending messages, latest deadline first.
func (h *ScheduleHandler) ListScheduled(w http.ResponseWriter, r *http.Request) {
	caller := UserFromContext(r.Context())
	messages, err := h.schedule.List(r.Context(), caller.UID)
	if err != nil {
		internalError(w, "Schedule", err)
		return
	}
	writeJSON(w, http.StatusOK, models.ScheduledMessagesResponse{Messages: messages})
}
