package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/parley-chat/backend/internal/capability"
	"github.com/parley-chat/backend/internal/metrics"
	"github.com/parley-chat/backend/internal/models"
	"github.com/parley-chat/backend/internal/services"
)

// SpectatorHandler contains HTTP handlers for capability tokens and the
// read-only spectator views.
type SpectatorHandler struct {
	issuer  *capability.Issuer
	chat    *services.ChatLog
	metrics *metrics.Metrics
}

// NewSpectatorHandler creates a new SpectatorHandler instance.
func NewSpectatorHandler(issuer *capability.Issuer, chat *services.ChatLog, m *metrics.Metrics) *SpectatorHandler {
	return &SpectatorHandler{issuer: issuer, chat: chat, metrics: m}
}

// IssueToken handles POST /spectator-token
// Mints a 24 hour read-only token for the requested rooms.
func (h *SpectatorHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req models.SpectatorTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.RoomIDs) == 0 {
		writeError(w, http.StatusBadRequest, "Missing or invalid roomIds (array expected)")
		return
	}

	token, err := h.issuer.IssueToken(req.RoomIDs)
	if errors.Is(err, capability.ErrInvalidRequest) {
		writeError(w, http.StatusBadRequest, "Missing or invalid roomIds (array expected)")
		return
	}
	if err != nil {
		log.Printf("[Spectator] Token creation error: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}

	h.metrics.TokenIssued()
	log.Printf("[Spectator] Issued token for %d rooms", len(req.RoomIDs))
	writeJSON(w, http.StatusOK, models.TokenResponse{Token: token})
}

// Rooms handles GET /spectator/rooms
// Lists the rooms the presented token grants.
func (h *SpectatorHandler) Rooms(w http.ResponseWriter, r *http.Request) {
	claims := SpectatorFromContext(r.Context())
	writeJSON(w, http.StatusOK, models.SpectatorRoomsResponse{
		UID:       claims.UID,
		Rooms:     capability.AllowedRooms(claims),
		ExpiresAt: claims.ExpiresAt,
	})
}

// Messages handles GET /spectator/rooms/{roomId}/messages
// Returns the room's log; access was checked by RequireRoomAccess.
func (h *SpectatorHandler) Messages(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomId")
	messages, err := h.chat.Messages(r.Context(), roomID)
	if err != nil {
		internalError(w, "Spectator", err)
		return
	}
	writeJSON(w, http.StatusOK, models.GetMessagesResponse{Messages: messages})
}
