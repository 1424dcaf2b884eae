package websocket

import (
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/parley-chat/backend/internal/capability"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Spectators never send data; only control frames are expected
	maxMessageSize = 512

	// Frames buffered per spectator before it counts as too slow
	sendBuffer = 256
)

// Client is one spectator's connection to a room
type Client struct {
	hub *Hub

	// WebSocket connection
	conn *websocket.Conn

	// Buffered channel of outbound frames
	send chan []byte

	// closeMsg is the close frame written when send is closed; set by
	// the hub before closing send
	closeMsg []byte

	// ID identifies the connection in logs
	ID string

	// RoomID is the room being watched
	RoomID string

	claims *capability.Claims
}

// NewClient creates a new Client instance
func NewClient(hub *Hub, conn *websocket.Conn, roomID string, claims *capability.Claims) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		ID:     uuid.NewString(),
		RoomID: roomID,
		claims: claims,
	}
}

// ReadPump keeps the connection's read side alive so control frames are
// processed. Spectators are read-only: any data frame they send is
// discarded. This runs in its own goroutine per client.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("[WebSocket] Read error from %s: %v", c.ID, err)
			}
			return
		}
	}
}

// WritePump pumps frames from the hub to the WebSocket connection
// This runs in its own goroutine per client
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				closeMsg := c.closeMsg
				if closeMsg == nil {
					closeMsg = websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
				}
				c.conn.WriteMessage(websocket.CloseMessage, closeMsg)
				return
			}

			// One frame per JSON document
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
