package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parley-chat/backend/internal/capability"
	"github.com/parley-chat/backend/internal/metrics"
	"github.com/parley-chat/backend/internal/models"
	"github.com/parley-chat/backend/internal/services"
)

// Frame types sent to spectators
const (
	FrameHistory = "history"
	FrameMessage = "message"
)

// defaultSweepEvery is how often the hub re-checks every connection's
// capability deadline.
const defaultSweepEvery = 30 * time.Second

// Frame is the envelope of every server-to-spectator websocket message
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Hub fans one live feed per room out to the spectators watching it.
// The first spectator of a room opens the feed; the last one to leave
// closes it. Every delivery is re-authorized against the connection's
// capability, so a token that expires mid-stream stops receiving.
type Hub struct {
	chat    *services.ChatLog
	metrics *metrics.Metrics

	// rooms maps roomID to its feed and watchers; owned by Run
	rooms map[string]*roomFeed

	// register requests from clients
	register chan *Client

	// unregister requests from clients
	unregister chan *Client

	// broadcast carries messages read from room feeds
	broadcast chan *roomMessage

	// ended reports feeds that stopped on their own
	ended chan *roomFeed

	// done is closed when Run returns
	done chan struct{}

	// mu guards the client counts read by RoomClientCount
	mu     sync.RWMutex
	counts map[string]int

	now        func() time.Time
	sweepEvery time.Duration
}

type roomFeed struct {
	roomID  string
	feed    *services.Feed
	clients map[*Client]bool
	history []models.Message
}

type roomMessage struct {
	room *roomFeed
	msg  models.Message
}

// NewHub creates a new Hub instance. m may be nil.
func NewHub(chat *services.ChatLog, m *metrics.Metrics) *Hub {
	return &Hub{
		chat:       chat,
		metrics:    m,
		rooms:      make(map[string]*roomFeed),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *roomMessage),
		ended:      make(chan *roomFeed),
		done:       make(chan struct{}),
		counts:     make(map[string]int),
		now:        time.Now,
		sweepEvery: defaultSweepEvery,
	}
}

// Run starts the hub's main event loop and blocks until ctx is done.
// This should be called in a goroutine: go hub.Run(ctx)
func (h *Hub) Run(ctx context.Context) {
	sweep := time.NewTicker(h.sweepEvery)
	defer func() {
		sweep.Stop()
		h.shutdown()
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.registerClient(ctx, client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case rm := <-h.broadcast:
			h.broadcastToRoom(rm)

		case rf := <-h.ended:
			h.closeRoom(rf)

		case <-sweep.C:
			h.sweepExpired()
		}
	}
}

// Register hands a connected client to the hub. It returns false when
// the hub has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client from the hub. Safe to call after Run returns.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// registerClient adds a client to its room, opening the room's feed on
// first use, and sends it the log received so far.
func (h *Hub) registerClient(ctx context.Context, client *Client) {
	if err := capability.Authorize(client.claims, client.RoomID, h.now()); err != nil {
		log.Printf("[WebSocket] Rejecting client %s for room %s: %v", client.ID, client.RoomID, err)
		h.closeClient(client, closeFor(err))
		return
	}

	rf := h.rooms[client.RoomID]
	if rf == nil {
		feed, err := h.chat.Subscribe(ctx, client.RoomID)
		if err != nil {
			log.Printf("[WebSocket] Failed to open feed for room %s: %v", client.RoomID, err)
			h.closeClient(client, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "feed unavailable"))
			return
		}
		rf = &roomFeed{roomID: client.RoomID, feed: feed, clients: make(map[*Client]bool)}
		h.rooms[client.RoomID] = rf
		go h.pump(ctx, rf)
		log.Printf("[WebSocket] Opened feed for room %s", client.RoomID)
	}

	rf.clients[client] = true
	h.setCount(rf.roomID, len(rf.clients))
	h.metrics.SpectatorConnected(1)
	log.Printf("[WebSocket] Spectator %s (%s) joined room %s (total: %d)",
		client.ID, client.claims.UID, client.RoomID, len(rf.clients))

	frame, err := encodeFrame(FrameHistory, append([]models.Message{}, rf.history...))
	if err != nil {
		log.Printf("[WebSocket] Failed to encode history for room %s: %v", rf.roomID, err)
		return
	}
	h.deliver(rf, client, frame)
}

// unregisterClient removes a client from its room
func (h *Hub) unregisterClient(client *Client) {
	rf, ok := h.rooms[client.RoomID]
	if !ok || !rf.clients[client] {
		return
	}
	h.removeClient(rf, client, nil)
	log.Printf("[WebSocket] Spectator %s left room %s (remaining: %d)",
		client.ID, client.RoomID, len(rf.clients))
}

// broadcastToRoom records a feed message and sends it to every watcher
// whose capability still covers the room.
func (h *Hub) broadcastToRoom(rm *roomMessage) {
	rf := rm.room
	if h.rooms[rf.roomID] != rf {
		// Feed was closed while the message was in flight.
		return
	}
	rf.history = append(rf.history, rm.msg)

	frame, err := encodeFrame(FrameMessage, rm.msg)
	if err != nil {
		log.Printf("[WebSocket] Failed to encode message %s: %v", rm.msg.ID, err)
		return
	}

	now := h.now()
	for client := range rf.clients {
		if err := capability.Authorize(client.claims, rf.roomID, now); err != nil {
			log.Printf("[WebSocket] Dropping spectator %s from room %s: %v", client.ID, rf.roomID, err)
			h.removeClient(rf, client, closeFor(err))
			continue
		}
		h.deliver(rf, client, frame)
	}
}

// sweepExpired disconnects spectators whose capability lapsed while
// their room was quiet.
func (h *Hub) sweepExpired() {
	now := h.now()
	for _, rf := range h.rooms {
		for client := range rf.clients {
			if err := capability.Authorize(client.claims, rf.roomID, now); err != nil {
				log.Printf("[WebSocket] Expiring spectator %s in room %s: %v", client.ID, rf.roomID, err)
				h.removeClient(rf, client, closeFor(err))
			}
		}
	}
}

// deliver queues frame for client, dropping clients that cannot keep up.
func (h *Hub) deliver(rf *roomFeed, client *Client, frame []byte) {
	select {
	case client.send <- frame:
	default:
		log.Printf("[WebSocket] Spectator %s is too slow, disconnecting", client.ID)
		h.removeClient(rf, client, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too slow"))
	}
}

func (h *Hub) removeClient(rf *roomFeed, client *Client, closeMsg []byte) {
	delete(rf.clients, client)
	h.closeClient(client, closeMsg)
	h.metrics.SpectatorConnected(-1)
	h.setCount(rf.roomID, len(rf.clients))

	if len(rf.clients) == 0 {
		h.closeRoom(rf)
	}
}

// closeRoom stops the room's feed and disconnects anyone still watching.
func (h *Hub) closeRoom(rf *roomFeed) {
	if h.rooms[rf.roomID] != rf {
		return
	}
	delete(h.rooms, rf.roomID)
	rf.feed.Close()
	if err := rf.feed.Err(); err != nil {
		log.Printf("[WebSocket] Feed for room %s ended: %v", rf.roomID, err)
	}
	for client := range rf.clients {
		delete(rf.clients, client)
		h.closeClient(client, websocket.FormatCloseMessage(websocket.CloseGoingAway, "feed closed"))
		h.metrics.SpectatorConnected(-1)
	}
	h.setCount(rf.roomID, 0)
	log.Printf("[WebSocket] Room %s has no spectators, feed closed", rf.roomID)
}

// pump forwards one room's feed into the hub loop.
func (h *Hub) pump(ctx context.Context, rf *roomFeed) {
	for msg := range rf.feed.Messages() {
		select {
		case h.broadcast <- &roomMessage{room: rf, msg: msg}:
		case <-ctx.Done():
			return
		}
	}
	select {
	case h.ended <- rf:
	case <-ctx.Done():
	}
}

func (h *Hub) shutdown() {
	for _, rf := range h.rooms {
		rf.feed.Close()
		for client := range rf.clients {
			h.closeClient(client, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			h.metrics.SpectatorConnected(-1)
		}
	}
	h.rooms = make(map[string]*roomFeed)
	h.mu.Lock()
	h.counts = make(map[string]int)
	h.mu.Unlock()
}

// closeClient ends the client's writer with the given close frame.
func (h *Hub) closeClient(client *Client, closeMsg []byte) {
	client.closeMsg = closeMsg
	close(client.send)
}

func (h *Hub) setCount(roomID string, n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n == 0 {
		delete(h.counts, roomID)
		return
	}
	h.counts[roomID] = n
}

// RoomClientCount returns the number of spectators watching a room
func (h *Hub) RoomClientCount(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.counts[roomID]
}

func closeFor(err error) []byte {
	return websocket.FormatCloseMessage(websocket.ClosePolicyViolation, closeReason(err))
}

func closeReason(err error) string {
	switch {
	case errors.Is(err, capability.ErrTokenExpired):
		return "token expired"
	case errors.Is(err, capability.ErrRoomDenied):
		return "room not granted"
	default:
		return "invalid token"
	}
}

func encodeFrame(typ string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Type: typ, Payload: raw})
}
