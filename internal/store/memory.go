package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process Store. It keeps the whole tree as decoded JSON
// and notifies subscribers with a full snapshot of their location after
// every write that touches it.
type Memory struct {
	mu     sync.RWMutex
	root   map[string]interface{}
	subs   map[*memorySub]struct{}
	closed bool

	now func() time.Time
}

type memorySub struct {
	path   []string
	notify chan struct{}
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		root: make(map[string]interface{}),
		subs: make(map[*memorySub]struct{}),
		now:  time.Now,
	}
}

// Get returns the JSON value at path or nil.
func (m *Memory) Get(ctx context.Context, path string) (json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	return m.snapshot(Split(path))
}

// Set replaces the value at path. A nil value removes it.
func (m *Memory) Set(ctx context.Context, path string, value interface{}) error {
	v, err := normalize(value)
	if err != nil {
		return err
	}
	segs := Split(path)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.write(segs, v)
	m.touch(segs)
	return nil
}

// Update merges children into path. Keys containing slashes address
// deeper locations; the whole update is applied under a single lock so
// readers observe either none or all of it.
func (m *Memory) Update(ctx context.Context, path string, children map[string]interface{}) error {
	base := Split(path)
	type pending struct {
		segs  []string
		value interface{}
	}
	writes := make([]pending, 0, len(children))
	for key, child := range children {
		segs := append(append([]string{}, base...), Split(key)...)
		if len(segs) == len(base) {
			return fmt.Errorf("store: empty update key under %q", path)
		}
		v, err := normalize(child)
		if err != nil {
			return err
		}
		writes = append(writes, pending{segs: segs, value: v})
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for _, w := range writes {
		m.write(w.segs, w.value)
	}
	for _, w := range writes {
		m.touch(w.segs)
	}
	return nil
}

// Push appends value under path with a fresh push id.
func (m *Memory) Push(ctx context.Context, path string, value interface{}) (string, error) {
	v, err := normalize(value)
	if err != nil {
		return "", err
	}
	id := NewPushID(m.now())
	segs := append(Split(path), id)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", ErrClosed
	}
	m.write(segs, v)
	m.touch(segs)
	return id, nil
}

// Remove deletes the value at path.
func (m *Memory) Remove(ctx context.Context, path string) error {
	segs := Split(path)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.write(segs, nil)
	m.touch(segs)
	return nil
}

// Subscribe starts a live feed at path. The feed coalesces bursts of
// writes: each delivered event is a put at "/" with the latest value.
func (m *Memory) Subscribe(ctx context.Context, path string) (*Subscription, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	ms := &memorySub{path: Split(path), notify: make(chan struct{}, 1)}
	m.subs[ms] = struct{}{}
	m.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	sub := NewSubscription(16, cancel)

	go func() {
		defer sub.Finish()
		defer func() {
			m.mu.Lock()
			delete(m.subs, ms)
			m.mu.Unlock()
		}()

		// Initial replay, then one snapshot per wake-up.
		if !m.deliverSnapshot(ctx, sub, ms.path) {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ms.notify:
				if !ok {
					return
				}
				if !m.deliverSnapshot(ctx, sub, ms.path) {
					return
				}
			}
		}
	}()
	return sub, nil
}

func (m *Memory) deliverSnapshot(ctx context.Context, sub *Subscription, path []string) bool {
	m.mu.RLock()
	data, err := m.snapshot(path)
	m.mu.RUnlock()
	if err != nil {
		sub.Fail(err)
		return false
	}
	if data == nil {
		data = json.RawMessage("null")
	}
	return sub.Deliver(ctx, Event{Type: EventPut, Path: "/", Data: data})
}

// Close ends every live subscription and rejects further operations.
func (m *Memory) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for s := range m.subs {
		close(s.notify)
		delete(m.subs, s)
	}
}

// snapshot marshals the subtree at segs. Caller holds at least a read lock.
func (m *Memory) snapshot(segs []string) (json.RawMessage, error) {
	var cur interface{} = m.root
	for _, s := range segs {
		node, ok := cur.(map[string]interface{})
		if !ok {
			return nil, nil
		}
		cur, ok = node[s]
		if !ok {
			return nil, nil
		}
	}
	if node, ok := cur.(map[string]interface{}); ok && len(node) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(cur)
	if err != nil {
		return nil, fmt.Errorf("store: encoding %q: %w", strings.Join(segs, "/"), err)
	}
	return data, nil
}

// write stores v at segs, creating intermediate objects and pruning empty
// ones when v is nil. Caller holds the write lock.
func (m *Memory) write(segs []string, v interface{}) {
	if len(segs) == 0 {
		if obj, ok := v.(map[string]interface{}); ok {
			m.root = obj
		} else {
			m.root = make(map[string]interface{})
		}
		return
	}

	parents := make([]map[string]interface{}, 0, len(segs))
	node := m.root
	for _, s := range segs[:len(segs)-1] {
		parents = append(parents, node)
		child, ok := node[s].(map[string]interface{})
		if !ok {
			if v == nil {
				return
			}
			child = make(map[string]interface{})
			node[s] = child
		}
		node = child
	}

	last := segs[len(segs)-1]
	if v == nil {
		delete(node, last)
		// Empty objects do not exist in the tree.
		for i := len(parents) - 1; i >= 0 && len(node) == 0; i-- {
			delete(parents[i], segs[i])
			node = parents[i]
		}
		return
	}
	node[last] = v
}

// touch wakes subscribers whose location overlaps segs.
func (m *Memory) touch(segs []string) {
	for s := range m.subs {
		if !overlaps(s.path, segs) {
			continue
		}
		select {
		case s.notify <- struct{}{}:
		default:
		}
	}
}

func overlaps(a, b []string) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// normalize converts v into the decoded JSON form kept in the tree so
// that stored values never alias caller memory.
func normalize(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	var raw []byte
	switch t := v.(type) {
	case json.RawMessage:
		raw = t
	case []byte:
		raw = t
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("store: encoding value: %w", err)
		}
		raw = b
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out interface{}
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("store: decoding value: %w", err)
	}
	if obj, ok := out.(map[string]interface{}); ok && len(obj) == 0 {
		return nil, nil
	}
	return out, nil
}
