package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-chat/backend/internal/models"
	"github.com/parley-chat/backend/internal/store"
)

func TestRoomIDFor_OrderIndependent(t *testing.T) {
	pairs := [][2]string{{"u1", "u2"}, {"zed", "amy"}, {"same", "same"}, {"", "x"}}
	for _, p := range pairs {
		assert.Equal(t, RoomIDFor(p[0], p[1]), RoomIDFor(p[1], p[0]))
	}
	assert.Equal(t, "u1_u2", RoomIDFor("u2", "u1"))
}

func TestChatLog_SendAndRead(t *testing.T) {
	ctx := context.Background()
	chat := NewChatLog(store.NewMemory())
	chat.now = fixedClock(time.UnixMilli(1000))

	for _, text := range []string{"one", "two", "three"} {
		_, err := chat.Send(ctx, "u1_u2", "u1", text)
		require.NoError(t, err)
	}

	msgs, err := chat.Messages(ctx, "u1_u2")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "one", msgs[0].Text)
	assert.Equal(t, "three", msgs[2].Text)
	assert.Equal(t, int64(1000), msgs[1].Timestamp)
	assert.NotEmpty(t, msgs[0].ID)

	empty, err := chat.Messages(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestChatLog_SendValidates(t *testing.T) {
	chat := NewChatLog(store.NewMemory())
	_, err := chat.Send(context.Background(), "r", "u1", "  ")
	assert.ErrorIs(t, err, ErrInvalidField)
	_, err = chat.Send(context.Background(), "", "u1", "hi")
	assert.ErrorIs(t, err, ErrInvalidField)
}

func TestChatLog_SubscribeReplaysThenStreams(t *testing.T) {
	ctx := context.Background()
	chat := NewChatLog(store.NewMemory())
	_, err := chat.Send(ctx, "r", "u1", "before-1")
	require.NoError(t, err)
	_, err = chat.Send(ctx, "r", "u2", "before-2")
	require.NoError(t, err)

	feed, err := chat.Subscribe(ctx, "r")
	require.NoError(t, err)
	defer feed.Close()

	assert.Equal(t, "before-1", nextMessage(t, feed).Text)
	assert.Equal(t, "before-2", nextMessage(t, feed).Text)

	_, err = chat.Send(ctx, "r", "u1", "live")
	require.NoError(t, err)
	live := nextMessage(t, feed)
	assert.Equal(t, "live", live.Text)
	assert.Equal(t, "u1", live.From)

	// Re-subscribing replays the full set.
	again, err := chat.Subscribe(ctx, "r")
	require.NoError(t, err)
	defer again.Close()
	var texts []string
	for i := 0; i < 3; i++ {
		texts = append(texts, nextMessage(t, again).Text)
	}
	assert.Equal(t, []string{"before-1", "before-2", "live"}, texts)
}

func TestChatLog_SubscribeDeliversEachMessageOnce(t *testing.T) {
	ctx := context.Background()
	chat := NewChatLog(store.NewMemory())
	feed, err := chat.Subscribe(ctx, "r")
	require.NoError(t, err)
	defer feed.Close()

	for i := 0; i < 20; i++ {
		_, err := chat.Send(ctx, "r", "u1", "m")
		require.NoError(t, err)
	}
	ids := make(map[string]bool)
	for i := 0; i < 20; i++ {
		msg := nextMessage(t, feed)
		assert.False(t, ids[msg.ID], "duplicate %s", msg.ID)
		ids[msg.ID] = true
	}
	select {
	case msg := <-feed.Messages():
		t.Fatalf("unexpected extra message %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFeed_HandlesStreamingEventShapes(t *testing.T) {
	f := &Feed{roomID: "r", seen: make(map[string]bool)}

	got := f.fresh(store.Event{Type: store.EventPut, Path: "/", Data: []byte(`{"b":{"text":"2"},"a":{"text":"1"}}`)})
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)

	got = f.fresh(store.Event{Type: store.EventPut, Path: "/c", Data: []byte(`{"text":"3","from":"u1","timestamp":5}`)})
	require.Len(t, got, 1)
	assert.Equal(t, models.Message{ID: "c", Text: "3", From: "u1", Timestamp: 5}, got[0])

	got = f.fresh(store.Event{Type: store.EventPatch, Path: "/", Data: []byte(`{"c":{"text":"3"},"d":{"text":"4"}}`)})
	require.Len(t, got, 1)
	assert.Equal(t, "d", got[0].ID)

	assert.Empty(t, f.fresh(store.Event{Type: store.EventPut, Path: "/d/text", Data: []byte(`"x"`)}))
	assert.Empty(t, f.fresh(store.Event{Type: store.EventPut, Path: "/", Data: []byte(`null`)}))
}

func TestFeed_CloseEndsChannel(t *testing.T) {
	chat := NewChatLog(store.NewMemory())
	feed, err := chat.Subscribe(context.Background(), "r")
	require.NoError(t, err)
	feed.Close()
	feed.Close()

	select {
	case _, ok := <-feed.Messages():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("feed not closed")
	}
}

func nextMessage(t *testing.T, f *Feed) models.Message {
	t.Helper()
	select {
	case msg, ok := <-f.Messages():
		require.True(t, ok, "feed closed: %v", f.Err())
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
	return models.Message{}
}
