package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/parley-chat/backend/internal/models"
	"github.com/parley-chat/backend/internal/services"
)

// RoomHandler contains HTTP handlers for two-party room creation.
type RoomHandler struct {
	chats *services.ChatService
}

// NewRoomHandler creates a new RoomHandler instance.
func NewRoomHandler(chats *services.ChatService) *RoomHandler {
	return &RoomHandler{chats: chats}
}

// StartChat handles POST /start-chat
// Opens the room between the caller and otherUid and indexes it for both.
func (h *RoomHandler) StartChat(w http.ResponseWriter, r *http.Request) {
	caller := UserFromContext(r.Context())

	var req models.StartChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid otherUid")
		return
	}

	chatID, err := h.chats.StartChat(r.Context(), caller.UID, req.OtherUID)
	if errors.Is(err, services.ErrInvalidField) {
		writeError(w, http.StatusBadRequest, "Invalid otherUid")
		return
	}
	if err != nil {
		internalError(w, "Chat", err)
		return
	}

	log.Printf("[Chat] %s started chat %s", caller.UID, chatID)
	writeJSON(w, http.StatusOK, models.StartChatResponse{ChatID: chatID, Success: true})
}
