package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/parley-chat/backend/internal/models"
	"github.com/parley-chat/backend/internal/store"
)

// RoomIDFor returns the canonical id of the two-party room between a and
// b. The result does not depend on argument order.
func RoomIDFor(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, "_")
}

func messagesPath(roomID string) string {
	return store.Join("chats", roomID, "messages")
}

// ChatLog is the append-only, per-room message log. The interactive send
// path and the scheduler both write through it.
type ChatLog struct {
	db  store.Store
	now func() time.Time
}

// NewChatLog creates a ChatLog on db.
func NewChatLog(db store.Store) *ChatLog {
	return &ChatLog{db: db, now: time.Now}
}

// Send appends a message from fromUID stamped with the current time.
// Room membership is not checked.
func (l *ChatLog) Send(ctx context.Context, roomID, fromUID, text string) (*models.Message, error) {
	if strings.TrimSpace(roomID) == "" {
		return nil, fmt.Errorf("%w: chatId is required", ErrInvalidField)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: text is required", ErrInvalidField)
	}
	msg := models.Message{Text: text, From: fromUID, Timestamp: l.now().UnixMilli()}
	id, err := l.Append(ctx, roomID, msg)
	if err != nil {
		return nil, err
	}
	msg.ID = id
	return &msg, nil
}

// Append pushes msg as-is onto the room's log and returns its id.
func (l *ChatLog) Append(ctx context.Context, roomID string, msg models.Message) (string, error) {
	msg.ID = ""
	id, err := l.db.Push(ctx, messagesPath(roomID), msg)
	if err != nil {
		return "", fmt.Errorf("failed to append message to %s: %w", roomID, err)
	}
	return id, nil
}

// Messages reads the room's log once, in key order.
func (l *ChatLog) Messages(ctx context.Context, roomID string) ([]models.Message, error) {
	raw, err := l.db.Get(ctx, messagesPath(roomID))
	if err != nil {
		return nil, fmt.Errorf("failed to read messages for %s: %w", roomID, err)
	}
	entries, err := decodeMessages(raw)
	if err != nil {
		return nil, err
	}
	out := make([]models.Message, 0, len(entries))
	for _, key := range sortedKeys(entries) {
		msg, ok := decodeMessage(key, entries[key])
		if ok {
			out = append(out, msg)
		}
	}
	return out, nil
}

// Subscribe opens a live feed of the room. It replays the current log
// in key order and then yields each appended message once.
func (l *ChatLog) Subscribe(ctx context.Context, roomID string) (*Feed, error) {
	sub, err := l.db.Subscribe(ctx, messagesPath(roomID))
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", roomID, err)
	}
	f := &Feed{
		roomID: roomID,
		sub:    sub,
		out:    make(chan models.Message, 64),
		done:   make(chan struct{}),
		seen:   make(map[string]bool),
	}
	go f.run()
	return f, nil
}

// Feed is a live, ordered view of one room's log. The owner must Close it.
type Feed struct {
	roomID string
	sub    *store.Subscription
	out    chan models.Message
	done   chan struct{}
	once   sync.Once

	// seen is only touched by run
	seen map[string]bool

	mu  sync.Mutex
	err error
}

// Messages returns the channel of messages. It closes when the feed ends.
func (f *Feed) Messages() <-chan models.Message { return f.out }

// Err returns the error that ended the feed, if any. Valid once the
// Messages channel is closed.
func (f *Feed) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Close stops the feed and releases the store subscription.
func (f *Feed) Close() {
	f.once.Do(func() {
		close(f.done)
		f.sub.Close()
	})
}

func (f *Feed) run() {
	defer close(f.out)
	defer f.sub.Close()

	for {
		select {
		case <-f.done:
			return
		case ev, ok := <-f.sub.Events():
			if !ok {
				select {
				case err := <-f.sub.Err():
					f.mu.Lock()
					f.err = err
					f.mu.Unlock()
				default:
				}
				return
			}
			for _, msg := range f.fresh(ev) {
				select {
				case f.out <- msg:
				case <-f.done:
					return
				}
			}
		}
	}
}

// fresh extracts the not yet delivered messages carried by ev, in key order.
func (f *Feed) fresh(ev store.Event) []models.Message {
	segs := store.Split(ev.Path)

	var entries map[string]json.RawMessage
	switch {
	case len(segs) == 0:
		var err error
		entries, err = decodeMessages(ev.Data)
		if err != nil {
			log.Printf("[ChatLog] Ignoring undecodable event for %s: %v", f.roomID, err)
			return nil
		}
	case len(segs) == 1 && ev.Type == store.EventPut:
		if isNull(ev.Data) {
			return nil
		}
		entries = map[string]json.RawMessage{segs[0]: ev.Data}
	default:
		// Field-level writes inside an existing message.
		return nil
	}

	var out []models.Message
	for _, key := range sortedKeys(entries) {
		if f.seen[key] || isNull(entries[key]) {
			continue
		}
		f.seen[key] = true
		if msg, ok := decodeMessage(key, entries[key]); ok {
			out = append(out, msg)
		}
	}
	return out
}

func decodeMessages(raw json.RawMessage) (map[string]json.RawMessage, error) {
	if isNull(raw) {
		return nil, nil
	}
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode message log: %w", err)
	}
	return entries, nil
}

func decodeMessage(key string, raw json.RawMessage) (models.Message, bool) {
	var msg models.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Printf("[ChatLog] Skipping malformed message %s: %v", key, err)
		return msg, false
	}
	msg.ID = key
	return msg, true
}

func sortedKeys(m map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func isNull(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "null"
}
