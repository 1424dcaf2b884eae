package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-chat/backend/internal/capability"
	"github.com/parley-chat/backend/internal/models"
	"github.com/parley-chat/backend/internal/services"
	"github.com/parley-chat/backend/internal/store"
)

type testServer struct {
	db     *store.Memory
	auth   *capability.LocalAuthority
	issuer *capability.Issuer
	chat   *services.ChatLog
	now    time.Time
	router http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db := store.NewMemory()
	t.Cleanup(db.Close)

	auth := capability.NewLocalAuthority([]byte("handler-secret"))
	issuer := capability.NewIssuer(auth)
	chat := services.NewChatLog(db)
	chats := services.NewChatService(db)

	ts := &testServer{db: db, auth: auth, issuer: issuer, chat: chat, now: time.Now()}
	ts.router = NewRouter(RouterConfig{
		Spectator:   NewSpectatorHandler(issuer, chat, nil),
		Rooms:       NewRoomHandler(chats),
		Messages:    NewMessageHandler(chats, chat),
		Schedule:    NewScheduleHandler(services.NewScheduleService(db)),
		Users:       auth,
		Spectators:  auth,
		DevSigner:   auth,
		CORSOrigins: []string{"http://localhost:5173"},
		Now:         func() time.Time { return ts.now },
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) userToken(t *testing.T, uid string) string {
	t.Helper()
	tok, err := ts.auth.SignUserToken(models.Profile{UID: uid, Email: uid + "@example.com"}, time.Hour)
	require.NoError(t, err)
	return tok
}

func (ts *testServer) spectatorToken(t *testing.T, rooms ...string) string {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/spectator-token", "", map[string]interface{}{"roomIds": rooms})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp models.TokenResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp.Token
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp models.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp.Error
}

func TestHealthCheck(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestSpectatorToken_Validation(t *testing.T) {
	ts := newTestServer(t)
	for name, body := range map[string]interface{}{
		"missing":   map[string]interface{}{},
		"empty":     map[string]interface{}{"roomIds": []string{}},
		"not array": map[string]interface{}{"roomIds": "u1_u2"},
		"bad json":  "{",
	} {
		t.Run(name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/spectator-token", "", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "Missing or invalid roomIds (array expected)", decodeError(t, rec))
		})
	}
}

func TestSpectator_ScopeEnforcement(t *testing.T) {
	ts := newTestServer(t)
	_, err := ts.chat.Send(context.Background(), "u1_u2", "u1", "hello")
	require.NoError(t, err)

	token := ts.spectatorToken(t, "u1_u2")

	rec := ts.do(t, http.MethodGet, "/spectator/rooms", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rooms models.SpectatorRoomsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&rooms))
	assert.Equal(t, []string{"u1_u2"}, rooms.Rooms)

	rec = ts.do(t, http.MethodGet, "/spectator/rooms/u1_u2/messages", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var msgs models.GetMessagesResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&msgs))
	require.Len(t, msgs.Messages, 1)
	assert.Equal(t, "hello", msgs.Messages[0].Text)

	rec = ts.do(t, http.MethodGet, "/spectator/rooms/u3_u4/messages", token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodGet, "/spectator/rooms/u1_u2/messages?token="+token, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "query token accepted")
}

func TestSpectator_ExpiredTokenRejected(t *testing.T) {
	ts := newTestServer(t)
	token := ts.spectatorToken(t, "u1_u2")

	ts.now = time.Now().Add(capability.TokenLifetime + time.Minute)
	rec := ts.do(t, http.MethodGet, "/spectator/rooms/u1_u2/messages", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Spectator token expired", decodeError(t, rec))
}

func TestSpectator_MissingOrForeignToken(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/spectator/rooms", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// A primary user token is not a capability.
	rec = ts.do(t, http.MethodGet, "/spectator/rooms", ts.userToken(t, "u1"), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStartChat(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/start-chat", "", map[string]string{"otherUid": "u2"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Missing auth token", decodeError(t, rec))

	rec = ts.do(t, http.MethodPost, "/start-chat", "garbage", map[string]string{"otherUid": "u2"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token := ts.userToken(t, "u1")
	rec = ts.do(t, http.MethodPost, "/start-chat", token, map[string]string{"otherUid": "u1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid otherUid", decodeError(t, rec))

	rec = ts.do(t, http.MethodPost, "/start-chat", token, map[string]interface{}{"otherUid": 42})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/start-chat", token, map[string]string{"otherUid": "u2"})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp models.StartChatResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, models.StartChatResponse{ChatID: "u1_u2", Success: true}, resp)

	raw, err := ts.db.Get(context.Background(), "users/u2/chats/u1_u2")
	require.NoError(t, err)
	assert.JSONEq(t, `"u1"`, string(raw))
}

func TestSendMessage_ParticipantsOnly(t *testing.T) {
	ts := newTestServer(t)
	u1 := ts.userToken(t, "u1")
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/start-chat", u1, map[string]string{"otherUid": "u2"}).Code)

	rec := ts.do(t, http.MethodPost, "/chats/u1_u2/messages", u1, map[string]string{"text": "hey"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(t, http.MethodPost, "/chats/u1_u2/messages", ts.userToken(t, "u3"), map[string]string{"text": "intruder"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodPost, "/chats/u1_u2/messages", u1, map[string]string{"text": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/chats/u1_u2/messages", ts.userToken(t, "u2"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var msgs models.GetMessagesResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&msgs))
	require.Len(t, msgs.Messages, 1)
	assert.Equal(t, "u1", msgs.Messages[0].From)
}

func TestScheduleMessage(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/schedule-message", "", map[string]interface{}{"chatId": "u1_u2", "text": "hi"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Missing required fields", decodeError(t, rec))

	for _, at := range []int64{2000, 3000} {
		rec = ts.do(t, http.MethodPost, "/schedule-message", "", map[string]interface{}{
			"chatId": "u1_u2", "text": "hi", "scheduledAt": at, "uid": "u1",
		})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"success":true}`, rec.Body.String())
	}

	rec = ts.do(t, http.MethodGet, "/scheduled-messages", ts.userToken(t, "u1"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list models.ScheduledMessagesResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Len(t, list.Messages, 2)
	assert.Equal(t, int64(3000), list.Messages[0].ScheduledAt)

	rec = ts.do(t, http.MethodGet, "/scheduled-messages", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDevLogin(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/dev/login", "", map[string]string{"uid": "u7", "email": "u7@example.com"})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp models.TokenResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))

	profile, err := ts.auth.VerifyUser(context.Background(), resp.Token)
	require.NoError(t, err)
	assert.Equal(t, "u7", profile.UID)

	rec = ts.do(t, http.MethodPost, "/dev/login", "", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, BearerToken(req))
	req.Header.Set("Authorization", "bearer abc")
	assert.Equal(t, "abc", BearerToken(req))
	req.Header.Set("Authorization", "Basic abc")
	assert.Empty(t, BearerToken(req))
}
