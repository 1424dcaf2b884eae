package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parley-chat/backend/internal/models"
	ws "github.com/parley-chat/backend/internal/websocket"
)

// errAccessEnded means the server closed the stream because the
// capability no longer covers the room.
var errAccessEnded = errors.New("spectator access ended")

// watch streams roomID until ctx is done or the server closes the feed.
func watch(ctx context.Context, baseURL, roomID, token string, onMessage func(models.Message)) error {
	u, err := url.Parse(strings.TrimRight(baseURL, "/") + "/spectator/rooms/" + url.PathEscape(roomID) + "/ws")
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("connecting to %s: %s", roomID, resp.Status)
		}
		return fmt.Errorf("connecting to %s: %w", roomID, err)
	}
	defer conn.Close()

	// Unblock ReadJSON when ctx ends.
	go func() {
		<-ctx.Done()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
	}()

	for {
		var frame ws.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) && ce.Code == websocket.ClosePolicyViolation {
				return fmt.Errorf("%w: %s", errAccessEnded, ce.Text)
			}
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("reading %s: %w", roomID, err)
		}

		switch frame.Type {
		case ws.FrameHistory:
			var history []models.Message
			if err := json.Unmarshal(frame.Payload, &history); err != nil {
				return fmt.Errorf("decoding history: %w", err)
			}
			for _, m := range history {
				onMessage(m)
			}
		case ws.FrameMessage:
			var m models.Message
			if err := json.Unmarshal(frame.Payload, &m); err != nil {
				return fmt.Errorf("decoding message: %w", err)
			}
			onMessage(m)
		}
	}
}

func printMessage(m models.Message) {
	at := time.UnixMilli(m.Timestamp).Local().Format("15:04:05")
	fmt.Printf("[%s] %s: %s\n", at, m.From, m.Text)
}
