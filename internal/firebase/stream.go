package firebase

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/parley-chat/backend/internal/store"
)

// maxEventSize bounds a single server-sent event; a put at "/" carries
// the entire subtree.
const maxEventSize = 16 << 20

const maxRetryDelay = 30 * time.Second

// errStreamCancelled is reported when the server cancels a stream, which
// happens when security rules no longer allow reading the location.
var errStreamCancelled = errors.New("firebase: stream cancelled by server")

// errAuthRevoked asks the stream loop to reconnect with a fresh token.
var errAuthRevoked = errors.New("firebase: stream auth revoked")

// Subscribe opens a REST streaming connection at path. Dropped
// connections and expired credentials are retried with backoff; each
// reconnect begins with a fresh put at "/", so consumers always see a
// full replay followed by live changes.
func (d *Database) Subscribe(ctx context.Context, path string) (*store.Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	sub := store.NewSubscription(64, cancel)

	go func() {
		defer sub.Finish()
		delay := d.retryDelay
		for {
			err := d.stream(ctx, path, sub)
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, errStreamCancelled) || errors.Is(err, ErrUnauthorized) {
				log.Printf("[Firebase] Stream for %s ended: %v", path, err)
				sub.Fail(err)
				return
			}
			if errors.Is(err, errAuthRevoked) {
				delay = d.retryDelay
			} else {
				log.Printf("[Firebase] Stream for %s dropped, retrying in %v: %v", path, delay, err)
			}

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			if delay *= 2; delay > maxRetryDelay {
				delay = maxRetryDelay
			}
		}
	}()
	return sub, nil
}

// stream runs one streaming connection until it ends.
func (d *Database) stream(ctx context.Context, path string, sub *store.Subscription) error {
	req, err := d.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := d.streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("stream request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: stream status %d", ErrUnauthorized, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("firebase stream error (status %d)", resp.StatusCode)
	}

	return readEvents(ctx, bufio.NewReader(resp.Body), sub)
}

// readEvents parses the text/event-stream body and forwards data events.
func readEvents(ctx context.Context, r *bufio.Reader, sub *store.Subscription) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxEventSize)

	var eventType string
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if eventType != "" {
				if err := dispatchEvent(ctx, eventType, data.String(), sub); err != nil {
					return err
				}
			}
			eventType = ""
			data.Reset()
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading stream: %w", err)
	}
	return errors.New("stream closed by server")
}

func dispatchEvent(ctx context.Context, eventType, data string, sub *store.Subscription) error {
	switch eventType {
	case store.EventPut, store.EventPatch:
		var ev store.Event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return fmt.Errorf("malformed %s event: %w", eventType, err)
		}
		ev.Type = eventType
		if ev.Path == "" {
			ev.Path = "/"
		}
		if len(ev.Data) == 0 {
			ev.Data = json.RawMessage("null")
		}
		if !sub.Deliver(ctx, ev) {
			return ctx.Err()
		}
	case "keep-alive":
	case "cancel":
		return errStreamCancelled
	case "auth_revoked":
		return errAuthRevoked
	}
	return nil
}
