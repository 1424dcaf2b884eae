package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-chat/backend/internal/capability"
	"github.com/parley-chat/backend/internal/handlers"
	"github.com/parley-chat/backend/internal/models"
	"github.com/parley-chat/backend/internal/services"
	"github.com/parley-chat/backend/internal/session"
	"github.com/parley-chat/backend/internal/store"
	ws "github.com/parley-chat/backend/internal/websocket"
)

type backendEnv struct {
	issuer *capability.Issuer
	chat   *services.ChatLog
	url    string
}

func newBackend(t *testing.T) *backendEnv {
	t.Helper()
	db := store.NewMemory()
	t.Cleanup(db.Close)

	auth := capability.NewLocalAuthority([]byte("cli-secret"))
	issuer := capability.NewIssuer(auth)
	chat := services.NewChatLog(db)
	chats := services.NewChatService(db)

	hub := ws.NewHub(chat, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	srv := httptest.NewServer(handlers.NewRouter(handlers.RouterConfig{
		Spectator:   handlers.NewSpectatorHandler(issuer, chat, nil),
		Rooms:       handlers.NewRoomHandler(chats),
		Messages:    handlers.NewMessageHandler(chats, chat),
		Schedule:    handlers.NewScheduleHandler(services.NewScheduleService(db)),
		Users:       auth,
		Spectators:  auth,
		SpectatorWS: ws.NewHandler(hub).ServeWS,
	}))
	t.Cleanup(srv.Close)
	return &backendEnv{issuer: issuer, chat: chat, url: srv.URL}
}

func TestRemoteVerifier(t *testing.T) {
	env := newBackend(t)
	token, err := env.issuer.IssueToken([]string{"a_b", "c_d"})
	require.NoError(t, err)

	v := newRemoteVerifier(env.url+"/", http.DefaultClient)
	claims, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, capability.RoleSpectator, claims.Role)
	assert.Equal(t, []string{"a_b", "c_d"}, capability.AllowedRooms(claims))
	assert.True(t, claims.Expiry().After(time.Now()))

	_, err = v.Verify(context.Background(), token+"x")
	assert.ErrorIs(t, err, capability.ErrInvalidToken)

	_, err = v.Verify(context.Background(), "")
	assert.ErrorIs(t, err, capability.ErrInvalidToken)
}

func TestActivateThroughBackend(t *testing.T) {
	env := newBackend(t)
	token, err := env.issuer.IssueToken([]string{"a_b"})
	require.NoError(t, err)

	provider := session.NewLocalSpectatorProvider(newRemoteVerifier(env.url, http.DefaultClient))
	mgr := session.NewManager(nil, provider, nil)
	require.NoError(t, mgr.ActivateSpectator(context.Background(), token))

	assert.NoError(t, mgr.CanRead("a_b"))
	assert.ErrorIs(t, mgr.CanRead("x_y"), capability.ErrRoomDenied)
	assert.True(t, mgr.Current().IsSpectator)
}

func TestWatch_StreamsHistoryAndLive(t *testing.T) {
	env := newBackend(t)
	bg := context.Background()
	_, err := env.chat.Send(bg, "a_b", "a", "first")
	require.NoError(t, err)

	token, err := env.issuer.IssueToken([]string{"a_b"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(bg, 5*time.Second)
	defer cancel()

	got := make(chan models.Message, 4)
	done := make(chan error, 1)
	go func() {
		done <- watch(ctx, env.url, "a_b", token, func(m models.Message) { got <- m })
	}()

	select {
	case m := <-got:
		assert.Equal(t, "first", m.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("no history")
	}

	_, err = env.chat.Send(bg, "a_b", "b", "second")
	require.NoError(t, err)
	select {
	case m := <-got:
		assert.Equal(t, "second", m.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("no live message")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestWatch_DeniedRoom(t *testing.T) {
	env := newBackend(t)
	token, err := env.issuer.IssueToken([]string{"a_b"})
	require.NoError(t, err)

	err = watch(context.Background(), env.url, "x_y", token, func(models.Message) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestRoomsCommand_KeepsProfile(t *testing.T) {
	env := newBackend(t)
	token, err := env.issuer.IssueToken([]string{"a_b"})
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "profile.json")

	rootCmd.SetArgs([]string{"rooms", "--server", env.url, "--token", token, "--profile", path})
	require.NoError(t, rootCmd.ExecuteContext(context.Background()))

	profile, err := session.NewFileProfileStore(path).Load(session.SpectatorProfileKey)
	require.NoError(t, err)
	require.NotNil(t, profile, "profile survives the command")
	assert.Contains(t, profile.UID, "spectator_")
}
