package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/parley-chat/backend/internal/models"
	"github.com/parley-chat/backend/internal/services"
)

// MessageHandler contains HTTP handlers for a participant's chat log.
type MessageHandler struct {
	chats *services.ChatService
	log   *services.ChatLog
}

// NewMessageHandler creates a new MessageHandler instance.
func NewMessageHandler(chats *services.ChatService, chatLog *services.ChatLog) *MessageHandler {
	return &MessageHandler{chats: chats, log: chatLog}
}

// SendMessage handles POST /chats/{chatId}/messages
// Appends a message from the caller. Only participants may post.
func (h *MessageHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	caller := UserFromContext(r.Context())
	chatID := chi.URLParam(r, "chatId")

	var req models.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !h.isParticipant(w, r, chatID, caller.UID) {
		return
	}

	msg, err := h.log.Send(r.Context(), chatID, caller.UID, req.Text)
	if errors.Is(err, services.ErrInvalidField) {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	if err != nil {
		internalError(w, "Message", err)
		return
	}
	writeJSON(w, http.StatusCreated, models.SendMessageResponse{ID: msg.ID})
}

// GetMessages handles GET /chats/{chatId}/messages
// Returns the room's log for a participant.
func (h *MessageHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	caller := UserFromContext(r.Context())
	chatID := chi.URLParam(r, "chatId")
	if !h.isParticipant(w, r, chatID, caller.UID) {
		return
	}

	messages, err := h.log.Messages(r.Context(), chatID)
	if err != nil {
		internalError(w, "Message", err)
		return
	}
	writeJSON(w, http.StatusOK, models.GetMessagesResponse{Messages: messages})
}

func (h *MessageHandler) isParticipant(w http.ResponseWriter, r *http.Request, chatID, uid string) bool {
	participants, err := h.chats.Participants(r.Context(), chatID)
	if err != nil {
		internalError(w, "Message", err)
		return false
	}
	if !participants[uid] {
		writeError(w, http.StatusForbidden, "You are not a participant of this chat")
		return false
	}
	return true
}
