package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/parley-chat/backend/internal/models"
	"github.com/parley-chat/backend/internal/store"
)

const scheduledRoot = "scheduledMessages"

func scheduledPath(ownerUID string, parts ...string) string {
	return store.Join(append([]string{scheduledRoot, ownerUID}, parts...)...)
}

// ScheduleService persists deferred messages for the scheduler to pick up.
type ScheduleService struct {
	db  store.Store
	now func() time.Time
}

// NewScheduleService creates a new ScheduleService instance.
func NewScheduleService(db store.Store) *ScheduleService {
	return &ScheduleService{db: db, now: time.Now}
}

// Schedule validates req and stores it under the owner's pending
// collection. The owner is not checked against the room's participants.
func (s *ScheduleService) Schedule(ctx context.Context, req models.ScheduleMessageRequest) (*models.DeferredMessage, error) {
	if strings.TrimSpace(req.ChatID) == "" ||
		strings.TrimSpace(req.Text) == "" ||
		req.ScheduledAt <= 0 ||
		strings.TrimSpace(req.UID) == "" {
		return nil, fmt.Errorf("%w: Missing required fields", ErrInvalidField)
	}

	msg := models.DeferredMessage{
		OwnerUID:    req.UID,
		ChatID:      req.ChatID,
		Text:        req.Text,
		ScheduledAt: req.ScheduledAt,
		CreatedAt:   s.now().UnixMilli(),
	}
	id, err := s.db.Push(ctx, scheduledPath(req.UID), msg)
	if err != nil {
		return nil, fmt.Errorf("failed to schedule message: %w", err)
	}
	msg.ID = id
	return &msg, nil
}

// List returns the owner's pending deferred messages, latest deadline first.
func (s *ScheduleService) List(ctx context.Context, ownerUID string) ([]models.DeferredMessage, error) {
	raw, err := s.db.Get(ctx, scheduledPath(ownerUID))
	if err != nil {
		return nil, fmt.Errorf("failed to read scheduled messages: %w", err)
	}
	out := []models.DeferredMessage{}
	if isNull(raw) {
		return out, nil
	}
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode scheduled messages: %w", err)
	}
	for id, entry := range entries {
		msg, err := decodeDeferred(ownerUID, id, entry)
		if err != nil {
			log.Printf("[Schedule] Skipping malformed record %s/%s: %v", ownerUID, id, err)
			continue
		}
		out = append(out, msg)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ScheduledAt != out[j].ScheduledAt {
			return out[i].ScheduledAt > out[j].ScheduledAt
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// decodeDeferred rebuilds a record from its stored value and path.
func decodeDeferred(ownerUID, id string, raw json.RawMessage) (models.DeferredMessage, error) {
	var msg models.DeferredMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return msg, err
	}
	if msg.ChatID == "" || msg.Text == "" || msg.ScheduledAt <= 0 {
		return msg, fmt.Errorf("%w: incomplete record", ErrInvalidField)
	}
	msg.ID = id
	msg.OwnerUID = ownerUID
	return msg, nil
}
