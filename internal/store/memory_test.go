package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_SetGetRemove(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Set(ctx, "users/u1", map[string]interface{}{"email": "a@b.c"}))

	raw, err := m.Get(ctx, "users/u1/email")
	require.NoError(t, err)
	assert.JSONEq(t, `"a@b.c"`, string(raw))

	require.NoError(t, m.Remove(ctx, "users/u1/email"))

	raw, err = m.Get(ctx, "users")
	require.NoError(t, err)
	assert.Nil(t, raw, "empty parents are pruned")
}

func TestMemory_GetMissing(t *testing.T) {
	m := NewMemory()
	raw, err := m.Get(context.Background(), "nothing/here")
	require.NoError(t, err)
	assert.Nil(t, raw)
}

func TestMemory_MultiPathUpdate(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Set(ctx, "users/a/chats/old", "z"))

	err := m.Update(ctx, "", map[string]interface{}{
		"chats/a_b/participants": map[string]bool{"a": true, "b": true},
		"users/a/chats/a_b":      "b",
		"users/b/chats/a_b":      "a",
	})
	require.NoError(t, err)

	raw, err := m.Get(ctx, "users/a/chats")
	require.NoError(t, err)
	assert.JSONEq(t, `{"old":"z","a_b":"b"}`, string(raw), "update merges instead of replacing siblings")

	raw, err = m.Get(ctx, "chats/a_b/participants")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":true,"b":true}`, string(raw))
}

func TestMemory_UpdateRejectsEmptyKey(t *testing.T) {
	m := NewMemory()
	err := m.Update(context.Background(), "x", map[string]interface{}{"/": 1})
	assert.Error(t, err)
}

func TestMemory_PushOrdersByCreation(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	var ids []string
	for i := 0; i < 50; i++ {
		id, err := m.Push(ctx, "log", i)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		assert.Less(t, ids[i-1], ids[i])
	}

	raw, err := m.Get(ctx, "log")
	require.NoError(t, err)
	var all map[string]int
	require.NoError(t, json.Unmarshal(raw, &all))
	assert.Len(t, all, 50)
}

func TestMemory_SubscribeReplaysThenStreams(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Set(ctx, "room/1", "first"))

	sub, err := m.Subscribe(ctx, "room")
	require.NoError(t, err)
	defer sub.Close()

	ev := nextEvent(t, sub)
	assert.Equal(t, EventPut, ev.Type)
	assert.Equal(t, "/", ev.Path)
	assert.JSONEq(t, `{"1":"first"}`, string(ev.Data))

	require.NoError(t, m.Set(ctx, "room/2", "second"))
	ev = nextEvent(t, sub)
	assert.JSONEq(t, `{"1":"first","2":"second"}`, string(ev.Data))
}

func TestMemory_SubscribeIgnoresUnrelatedWrites(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	sub, err := m.Subscribe(ctx, "room/a")
	require.NoError(t, err)
	defer sub.Close()
	nextEvent(t, sub)

	require.NoError(t, m.Set(ctx, "room/b", 1))
	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemory_CloseEndsSubscriptions(t *testing.T) {
	m := NewMemory()
	sub, err := m.Subscribe(context.Background(), "x")
	require.NoError(t, err)
	nextEvent(t, sub)

	m.Close()
	select {
	case _, ok := <-sub.Events():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not finished")
	}

	_, err = m.Get(context.Background(), "x")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSplitJoin(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, Split("/a//b/"))
	assert.Nil(t, Split("/"))
	assert.Equal(t, "a/b/c", Join("a", "/b/", "c"))
}

func nextEvent(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}
