package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"casper-chat/internal/admin"
	"casper-chat/internal/ai"
	"casper-chat/internal/auth"
	"casper-chat/internal/config"
	"casper-chat/internal/database"
	"casper-chat/internal/events"
	"casper-chat/internal/models"
	"casper-chat/internal/ratelimit"
	"casper-chat/internal/router"
	"casper-chat/internal/session"
)

const adminPassword = "admin-pass"

type testApp struct {
	engine   *gin.Engine
	db       *database.MemoryDB
	admin    *admin.Service
	registry *session.Registry
}

// slowUsers delays user lookups the way a remote store round trip would.
type slowUsers struct {
	*database.MemoryDB
	delay time.Duration
}

func (s slowUsers) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	time.Sleep(s.delay)
	return s.MemoryDB.GetUserByUsername(ctx, username)
}

func newTestApp(t *testing.T) *testApp {
	return newTestAppWithLookupDelay(t, 0)
}

func newTestAppWithLookupDelay(t *testing.T, delay time.Duration) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		JWT:       config.JWTConfig{Secret: []byte("test-secret"), ExpiresIn: time.Hour, Issuer: "casper-chat-test"},
		Admin:     config.AdminConfig{Password: adminPassword},
		WebSocket: config.WebSocketConfig{RateBurst: 10, RateInterval: time.Second, MaxMessageBytes: 4096},
	}
	db := database.NewMemoryDB()
	authService, err := auth.NewService(db, cfg)
	require.NoError(t, err)

	registry := session.NewRegistry(slowUsers{MemoryDB: db, delay: delay})
	registry.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = registry.Stop(ctx)
	})

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":"pong from the model"}`))
	}))
	t.Cleanup(backend.Close)
	aiService := ai.NewService(config.AIConfig{
		BaseURL:  backend.URL,
		Backends: []config.AIBackend{{Name: "chatbot", QueryParam: "query"}},
		Timeout:  time.Second,
	}, db, backend.Client())

	adminService := admin.NewService(db, registry, events.NewAuditEmitter(nil, "casper-chat"))
	aiLimiter := ratelimit.NewLocalLimiter(2, time.Minute)
	msgRouter := router.New(registry, db, aiService, aiLimiter, adminService)

	engine := gin.New()
	Routes{
		Auth:      NewAuthHandlers(authService),
		Chat:      NewChatHandlers(db, aiService, aiLimiter, adminService),
		Admin:     NewAdminHandlers(adminService),
		WebSocket: NewWebSocketHandlers(context.Background(), authService, registry, msgRouter, cfg),
		Validator: authService,
	}.Register(engine)

	return &testApp{engine: engine, db: db, admin: adminService, registry: registry}
}

func (a *testApp) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.engine.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (a *testApp) register(t *testing.T, username string) (string, *models.User) {
	t.Helper()
	rec := a.do(http.MethodPost, "/register", "", models.RegisterRequest{Username: username, Email: username + "@example.com", Password: "secret1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decodeBody[models.LoginResponse](t, rec)
	return resp.Token, resp.User
}

func (a *testApp) adminToken(t *testing.T) string {
	t.Helper()
	rec := a.do(http.MethodPost, "/api/admin-login", "", models.AdminLoginRequest{Password: adminPassword})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeBody[map[string]string](t, rec)["token"]
}

func TestRegisterAndLoginRoutes(t *testing.T) {
	app := newTestApp(t)
	app.register(t, "alice")

	rec := app.do(http.MethodPost, "/register", "", models.RegisterRequest{Username: "Alice", Email: "other@example.com", Password: "secret1"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = app.do(http.MethodPost, "/register", "", models.RegisterRequest{Username: "x", Email: "x@example.com", Password: "secret1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = app.do(http.MethodPost, "/api/login", "", models.LoginRequest{Email: "alice@example.com", Password: "secret1"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[models.LoginResponse](t, rec)
	assert.NotEmpty(t, resp.Token)
	assert.NotContains(t, rec.Body.String(), "secret1")

	rec = app.do(http.MethodPost, "/login", "", models.LoginRequest{Username: "alice", Password: "wrong-pass"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"authentication failed: invalid credentials"}`, rec.Body.String())

	rec = app.do(http.MethodPost, "/admin-login", "", models.AdminLoginRequest{Password: "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBlockedUserCannotLogIn(t *testing.T) {
	app := newTestApp(t)
	_, bob := app.register(t, "bob")
	adminToken := app.adminToken(t)

	rec := app.do(http.MethodPost, "/admin/block-user", adminToken, models.BlockUserRequest{UserID: bob.ID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = app.do(http.MethodPost, "/login", "", models.LoginRequest{Username: "bob", Password: "secret1"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = app.do(http.MethodPost, "/admin/unblock-user", adminToken, models.BlockUserRequest{UserID: bob.ID})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = app.do(http.MethodPost, "/login", "", models.LoginRequest{Username: "bob", Password: "secret1"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = app.do(http.MethodPost, "/admin/block-user", adminToken, models.BlockUserRequest{UserID: 4242})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMessagesRoomAccess(t *testing.T) {
	app := newTestApp(t)
	aliceToken, _ := app.register(t, "alice")
	carolToken, _ := app.register(t, "carol")
	ctx := context.Background()
	require.NoError(t, app.db.SaveMessage(ctx, &models.Message{Sender: "alice", Recipient: "bob", Body: "psst", Room: "alice-bob", Type: models.MessageTypePrivate}))

	rec := app.do(http.MethodGet, "/messages", aliceToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"room":"global","messages":[]}`, rec.Body.String())

	rec = app.do(http.MethodGet, "/api/messages?room=alice-bob", aliceToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "psst")

	assert.Equal(t, http.StatusForbidden, app.do(http.MethodGet, "/messages?room=alice-bob", carolToken, nil).Code)
	assert.Equal(t, http.StatusBadRequest, app.do(http.MethodGet, "/messages?room=bob-alice", aliceToken, nil).Code)
	assert.Equal(t, http.StatusBadRequest, app.do(http.MethodGet, "/messages?limit=-3", aliceToken, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, app.do(http.MethodGet, "/messages", "", nil).Code)

	rec = app.do(http.MethodGet, "/users", carolToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, int(decodeBody[map[string]any](t, rec)["count"].(float64)))
}

func TestAdminRoutes(t *testing.T) {
	app := newTestApp(t)
	aliceToken, _ := app.register(t, "alice")
	adminToken := app.adminToken(t)

	assert.Equal(t, http.StatusForbidden, app.do(http.MethodGet, "/admin/stats", aliceToken, nil).Code)

	rec := app.do(http.MethodPost, "/api/admin/broadcast", adminToken, models.BroadcastRequest{Message: "hello everyone"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	b := decodeBody[models.Broadcast](t, rec)
	assert.Equal(t, models.DefaultBroadcastDuration, b.Duration)

	rec = app.do(http.MethodPost, "/admin/create-ad", adminToken, models.CreateAdRequest{Content: "Upgrade today", ImageURL: "https://example.com/a.png"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = app.do(http.MethodGet, "/admin/stats", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.Stats{TotalUsers: 1}, decodeBody[models.Stats](t, rec))

	rec = app.do(http.MethodGet, "/admin/dashboard", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	d := decodeBody[models.Dashboard](t, rec)
	assert.Len(t, d.Broadcasts, 1)
	assert.Len(t, d.Ads, 1)

	assert.Equal(t, http.StatusBadRequest, app.do(http.MethodGet, "/admin/tickets?status=weird", adminToken, nil).Code)
}

func TestTicketRoutes(t *testing.T) {
	app := newTestApp(t)
	aliceToken, _ := app.register(t, "alice")
	bobToken, _ := app.register(t, "bob")
	adminToken := app.adminToken(t)

	ticket, err := app.admin.SubmitFeedback(context.Background(), "alice", "bug", "chat freezes")
	require.NoError(t, err)
	path := "/tickets/" + ticket.ID.String()

	assert.Equal(t, http.StatusOK, app.do(http.MethodGet, path, aliceToken, nil).Code)
	assert.Equal(t, http.StatusForbidden, app.do(http.MethodGet, path, bobToken, nil).Code)
	assert.Equal(t, http.StatusBadRequest, app.do(http.MethodGet, "/tickets/not-a-uuid", aliceToken, nil).Code)

	rec := app.do(http.MethodGet, "/admin/tickets?status=pending", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), ticket.ID.String())

	replyPath := fmt.Sprintf("/admin/tickets/%s/reply", ticket.ID)
	rec = app.do(http.MethodPost, replyPath, adminToken, models.TicketReplyRequest{Reply: "looking into it"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, http.StatusConflict, app.do(http.MethodPost, replyPath, adminToken, models.TicketReplyRequest{Reply: "again"}).Code)

	rec = app.do(http.MethodGet, "/api/tickets", aliceToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "looking into it")
}

func TestAIChatRoute(t *testing.T) {
	app := newTestApp(t)
	token, _ := app.register(t, "alice")

	rec := app.do(http.MethodPost, "/ai-chat", token, models.AIChatRequest{Message: "ping", SessionID: "s1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"response":"pong from the model","backend":"chatbot"}`, rec.Body.String())

	rec = app.do(http.MethodPost, "/ai-chat", token, models.AIChatRequest{Message: "Who are you?", SessionID: "s1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ai.IdentityAnswer, decodeBody[models.AIChatResponse](t, rec).Response)

	assert.Equal(t, http.StatusTooManyRequests, app.do(http.MethodPost, "/ai-chat", token, models.AIChatRequest{Message: "again"}).Code)

	rec = app.do(http.MethodGet, "/ai-chat/history?sessionId=s1", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[models.AIConversation](t, rec).Turns, 4)
}

func TestWebSocketJoinAndSend(t *testing.T) {
	app := newTestApp(t)
	token, _ := app.register(t, "alice")
	srv := httptest.NewServer(app.engine)
	t.Cleanup(srv.Close)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token="+token, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	readUntil := func(eventType models.EventType) json.RawMessage {
		t.Helper()
		for {
			require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
			var event struct {
				Type    models.EventType `json:"type"`
				Payload json.RawMessage  `json:"payload"`
			}
			require.NoError(t, conn.ReadJSON(&event))
			if event.Type == eventType {
				return event.Payload
			}
		}
	}

	roster := readUntil(models.EventUserList)
	assert.Contains(t, string(roster), `"alice"`)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "sendMessage", "payload": map[string]string{"message": "hello world"}}))
	var msg models.NewMessagePayload
	require.NoError(t, json.Unmarshal(readUntil(models.EventNewMessage), &msg))
	assert.Equal(t, "alice", msg.Username)
	assert.Equal(t, "hello world", msg.Message)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "broadcastRequest", "payload": map[string]string{"message": "x"}}))
	assert.Contains(t, string(readUntil(models.EventError)), "admin access required")
}

func TestWebSocketDroppedRightAfterHandshakeLeavesRoster(t *testing.T) {
	app := newTestAppWithLookupDelay(t, 20*time.Millisecond)
	token, _ := app.register(t, "alice")
	srv := httptest.NewServer(app.engine)
	t.Cleanup(srv.Close)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool {
		users, _ := app.registry.Counts()
		return users == 0 && len(app.registry.Roster()) == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		user, err := app.db.GetUserByUsername(context.Background(), "alice")
		return err == nil && user.Status == models.StatusOffline
	}, 2*time.Second, 10*time.Millisecond)
}
