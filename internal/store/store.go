package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
)

// ErrClosed is returned when operating on a subscription or store that
// has already been shut down.
var ErrClosed = errors.New("store: closed")

// Store is the generic contract over a hierarchical document store.
// Paths are slash-separated ("chats/abc/messages"); leading and trailing
// slashes are ignored and the empty path names the root.
type Store interface {
	// Get returns the raw JSON value at path, or nil when nothing is stored there.
	Get(ctx context.Context, path string) (json.RawMessage, error)

	// Set replaces the value at path.
	Set(ctx context.Context, path string, value interface{}) error

	// Update merges children into the value at path. Keys may contain
	// slashes, in which case they address deeper locations relative to
	// path (multi-path update). All keys are applied together.
	Update(ctx context.Context, path string, children map[string]interface{}) error

	// Push appends value under path with a generated, creation-ordered id.
	Push(ctx context.Context, path string, value interface{}) (string, error)

	// Remove deletes the value at path and everything below it.
	Remove(ctx context.Context, path string) error

	// Subscribe starts a live feed of changes at path. The first event
	// is a put at "/" carrying the full current value. The caller owns
	// the returned subscription and must Close it.
	Subscribe(ctx context.Context, path string) (*Subscription, error)
}

// Event types delivered on a subscription.
const (
	EventPut   = "put"
	EventPatch = "patch"
)

// Event is one change notification. Path is relative to the subscribed
// location and always starts with "/". For a put, Data replaces the value
// at Path; for a patch, Data is an object whose children are merged into Path.
type Event struct {
	Type string          `json:"-"`
	Path string          `json:"path"`
	Data json.RawMessage `json:"data"`
}

// Subscription is a cancellable handle on a live change feed.
type Subscription struct {
	events chan Event
	errs   chan error

	once   sync.Once
	cancel func()
}

// NewSubscription builds a subscription whose Close invokes cancel.
// Backends feed it through Deliver and Fail.
func NewSubscription(buffer int, cancel func()) *Subscription {
	return &Subscription{
		events: make(chan Event, buffer),
		errs:   make(chan error, 1),
		cancel: cancel,
	}
}

// Events returns the channel of change notifications. It is closed when
// the subscription ends.
func (s *Subscription) Events() <-chan Event { return s.events }

// Err returns a channel that receives at most one terminal error.
func (s *Subscription) Err() <-chan error { return s.errs }

// Close releases the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

// Deliver sends ev to the subscriber, giving up when ctx is done.
func (s *Subscription) Deliver(ctx context.Context, ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// Fail records a terminal error. Only the first error is kept.
func (s *Subscription) Fail(err error) {
	select {
	case s.errs <- err:
	default:
	}
}

// Finish closes the event channel. Backends call it exactly once when
// their producer goroutine exits.
func (s *Subscription) Finish() {
	close(s.events)
}

// Split normalizes a path into its segments.
func Split(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	parts := strings.Split(path, "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Join builds a normalized path from segments.
func Join(parts ...string) string {
	var segs []string
	for _, p := range parts {
		segs = append(segs, Split(p)...)
	}
	return strings.Join(segs, "/")
}
