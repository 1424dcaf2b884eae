package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-chat/backend/internal/store"
)

func TestStartChat_WritesParticipantsAndIndices(t *testing.T) {
	ctx := context.Background()
	db := store.NewMemory()
	chats := NewChatService(db)

	chatID, err := chats.StartChat(ctx, "u2", "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1_u2", chatID)

	assert.JSONEq(t, `{"u1":true,"u2":true}`, string(mustGet(t, db, "chats/u1_u2/participants")))
	assert.JSONEq(t, `"u1"`, string(mustGet(t, db, "users/u2/chats/u1_u2")))
	assert.JSONEq(t, `"u2"`, string(mustGet(t, db, "users/u1/chats/u1_u2")))

	participants, err := chats.Participants(ctx, chatID)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"u1": true, "u2": true}, participants)
}

func TestStartChat_Idempotent(t *testing.T) {
	ctx := context.Background()
	db := store.NewMemory()
	chats := NewChatService(db)

	first, err := chats.StartChat(ctx, "u1", "u2")
	require.NoError(t, err)
	before := mustGet(t, db, "")

	second, err := chats.StartChat(ctx, "u2", "u1")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.JSONEq(t, string(before), string(mustGet(t, db, "")))
}

func TestStartChat_RejectsInvalidOther(t *testing.T) {
	chats := NewChatService(store.NewMemory())
	for _, other := range []string{"", "  ", "me"} {
		_, err := chats.StartChat(context.Background(), "me", other)
		assert.ErrorIs(t, err, ErrInvalidField, "other=%q", other)
	}
}

func TestStartChat_FailureLeavesNothingBehind(t *testing.T) {
	db := newFaultyStore()
	db.failUpdate = true

	_, err := NewChatService(db).StartChat(context.Background(), "u1", "u2")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidField)
	assert.Nil(t, mustGet(t, db, ""))
}
