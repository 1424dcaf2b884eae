package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/parley-chat/backend/internal/store"
)

// ChatService creates two-party rooms and their membership indices.
type ChatService struct {
	db store.Store
}

// NewChatService creates a new ChatService instance.
func NewChatService(db store.Store) *ChatService {
	return &ChatService{db: db}
}

// StartChat opens (or re-opens) the room between callerUID and otherUID.
// Participants and both users' chat indices are written in one
// multi-path update, so either all three land or none do. Repeating the
// call rewrites identical values.
func (s *ChatService) StartChat(ctx context.Context, callerUID, otherUID string) (string, error) {
	if strings.TrimSpace(otherUID) == "" || otherUID == callerUID {
		return "", fmt.Errorf("%w: Invalid otherUid", ErrInvalidField)
	}

	chatID := RoomIDFor(callerUID, otherUID)
	err := s.db.Update(ctx, "", map[string]interface{}{
		store.Join("chats", chatID, "participants"): map[string]bool{
			callerUID: true,
			otherUID:  true,
		},
		store.Join("users", callerUID, "chats", chatID): otherUID,
		store.Join("users", otherUID, "chats", chatID):  callerUID,
	})
	if err != nil {
		return "", fmt.Errorf("failed to start chat %s: %w", chatID, err)
	}
	return chatID, nil
}

// Participants returns the uids recorded for chatID.
func (s *ChatService) Participants(ctx context.Context, chatID string) (map[string]bool, error) {
	raw, err := s.db.Get(ctx, store.Join("chats", chatID, "participants"))
	if err != nil {
		return nil, fmt.Errorf("failed to read participants of %s: %w", chatID, err)
	}
	out := make(map[string]bool)
	if isNull(raw) {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode participants of %s: %w", chatID, err)
	}
	return out, nil
}
