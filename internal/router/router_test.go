package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"casper-chat/internal/admin"
	"casper-chat/internal/ai"
	"casper-chat/internal/apperrors"
	"casper-chat/internal/auth"
	"casper-chat/internal/config"
	"casper-chat/internal/database"
	"casper-chat/internal/events"
	"casper-chat/internal/models"
	"casper-chat/internal/ratelimit"
	"casper-chat/internal/session"
)

type testConn struct {
	id     string
	mu     sync.Mutex
	events []models.OutboundEvent
}

func (c *testConn) ID() string       { return c.id }
func (c *testConn) RemoteIP() string { return "127.0.0.1" }
func (c *testConn) Close()           {}

func (c *testConn) Send(event models.OutboundEvent) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return true
}

func (c *testConn) received(t models.EventType) []models.OutboundEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []models.OutboundEvent
	for _, e := range c.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	router   *Router
	registry *session.Registry
	db       *database.MemoryDB
	conns    map[string]*testConn
	claims   map[string]*auth.Claims
}

func newHarness(t *testing.T, aiLimit int, usernames ...string) *harness {
	t.Helper()
	ctx := context.Background()
	db := database.NewMemoryDB()
	registry := session.NewRegistry(db)
	registry.Start()
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = registry.Stop(stopCtx)
	})

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":"42 is the answer"}`))
	}))
	t.Cleanup(backend.Close)
	aiService := ai.NewService(config.AIConfig{
		BaseURL:  backend.URL,
		Backends: []config.AIBackend{{Name: "chatbot", QueryParam: "query"}},
		Timeout:  time.Second,
	}, db, backend.Client())

	adminService := admin.NewService(db, registry, events.NewAuditEmitter(nil, "casper-chat"))
	h := &harness{
		router:   New(registry, db, aiService, ratelimit.NewLocalLimiter(aiLimit, time.Minute), adminService),
		registry: registry,
		db:       db,
		conns:    map[string]*testConn{},
		claims:   map[string]*auth.Claims{},
	}

	for _, name := range usernames {
		u, err := db.CreateUser(ctx, &models.User{Username: name, Email: name + "@example.com", PasswordHash: "x"})
		require.NoError(t, err)
		h.conns[name] = &testConn{id: name}
		h.claims[name] = &auth.Claims{UserID: u.ID, Username: u.Username}
		h.send(t, name, models.EventJoin, models.JoinPayload{Username: name})
	}
	return h
}

func (h *harness) addAdmin() *testConn {
	conn := &testConn{id: "admin"}
	h.conns[auth.AdminUsername] = conn
	h.claims[auth.AdminUsername] = &auth.Claims{Username: auth.AdminUsername, IsAdmin: true}
	h.registry.JoinAdmin(conn)
	return conn
}

func (h *harness) route(who string, eventType models.EventType, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return h.router.Route(context.Background(), h.conns[who], h.claims[who], models.InboundEvent{Type: eventType, Payload: raw})
}

func (h *harness) send(t *testing.T, who string, eventType models.EventType, payload any) {
	t.Helper()
	require.NoError(t, h.route(who, eventType, payload))
}

func TestPublicAndPrivateDelivery(t *testing.T) {
	h := newHarness(t, 5, "alice", "bob", "carol")
	alice, bob, carol := h.conns["alice"], h.conns["bob"], h.conns["carol"]

	h.send(t, "alice", models.EventSendMessage, models.SendMessagePayload{Message: "hi all"})
	for _, c := range []*testConn{alice, bob, carol} {
		got := c.received(models.EventNewMessage)
		require.Len(t, got, 1, c.id)
		payload := got[0].Payload.(models.NewMessagePayload)
		assert.Equal(t, "alice", payload.Username)
		assert.Equal(t, "hi all", payload.Message)
		assert.Equal(t, models.GlobalRoom, payload.Room)
	}

	h.send(t, "bob", models.EventJoinRoom, models.JoinRoomPayload{With: "alice"})
	history := bob.received(models.EventRoomHistory)
	require.Len(t, history, 1)
	assert.Equal(t, "alice-bob", history[0].Payload.(models.RoomHistoryPayload).Room)
	assert.Empty(t, history[0].Payload.(models.RoomHistoryPayload).Messages)

	h.send(t, "alice", models.EventPrivateMessage, models.PrivateMessagePayload{From: "alice", To: "bob", Message: "secret"})
	require.Len(t, bob.received(models.EventPrivateMessage), 1)
	require.Len(t, alice.received(models.EventPrivateMessage), 1)
	assert.Empty(t, carol.received(models.EventPrivateMessage))

	pm := bob.received(models.EventPrivateMessage)[0].Payload.(models.PrivateMessageOut)
	assert.Equal(t, "alice", pm.From)
	assert.Equal(t, "bob", pm.To)
	assert.Equal(t, "alice-bob", pm.Room)

	err := h.route("carol", models.EventJoinRoom, models.JoinRoomPayload{Room: "alice-bob"})
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	stored, err := h.db.ListMessages(context.Background(), "alice-bob", 50)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, models.MessageTypePrivate, stored[0].Type)
}

func TestPrivateMessageValidation(t *testing.T) {
	h := newHarness(t, 5, "alice", "bob")

	err := h.route("alice", models.EventPrivateMessage, models.PrivateMessagePayload{From: "bob", To: "alice", Message: "spoof"})
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	err = h.route("alice", models.EventPrivateMessage, models.PrivateMessagePayload{To: "ghost", Message: "hello?"})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	err = h.route("alice", models.EventPrivateMessage, models.PrivateMessagePayload{To: "Alice", Message: "me"})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	err = h.route("alice", models.EventPrivateMessage, models.PrivateMessagePayload{To: "bob-carol", Message: "hi"})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	assert.Empty(t, h.conns["bob"].received(models.EventPrivateMessage))

	err = h.route("alice", models.EventSendMessage, models.SendMessagePayload{Message: "x", Room: "alice-bob"})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	err = h.route("alice", models.EventSendMessage, models.SendMessagePayload{Message: "   "})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestJoinMustMatchIdentity(t *testing.T) {
	h := newHarness(t, 5, "alice", "bob")

	err := h.route("alice", models.EventJoin, models.JoinPayload{Username: "bob"})
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	h.addAdmin()
	err = h.route(auth.AdminUsername, models.EventJoin, models.JoinPayload{Username: "admin"})
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	unjoined := &testConn{id: "fresh"}
	err = h.router.Route(context.Background(), unjoined, h.claims["alice"], models.InboundEvent{Type: models.EventSendMessage, Payload: json.RawMessage(`{"message":"hi"}`)})
	assert.ErrorIs(t, err, apperrors.ErrAuth)

	err = h.route("alice", "teleport", nil)
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	err = h.router.Route(context.Background(), h.conns["alice"], h.claims["alice"], models.InboundEvent{Type: models.EventSendMessage, Payload: json.RawMessage(`{bad`)})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestRoomTimestampsNeverDecrease(t *testing.T) {
	h := newHarness(t, 5, "alice", "bob")
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := []time.Time{base, base.Add(-time.Minute), base.Add(time.Second)}
	var mu sync.Mutex
	h.router.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		next := clock[0]
		if len(clock) > 1 {
			clock = clock[1:]
		}
		return next
	}

	for _, text := range []string{"one", "two", "three"} {
		h.send(t, "alice", models.EventSendMessage, models.SendMessagePayload{Message: text})
	}

	got := h.conns["bob"].received(models.EventNewMessage)
	require.Len(t, got, 3)
	var stamps []time.Time
	for _, e := range got {
		stamps = append(stamps, e.Payload.(models.NewMessagePayload).Timestamp)
	}
	assert.Equal(t, base, stamps[0])
	assert.Equal(t, base, stamps[1])
	assert.Equal(t, base.Add(time.Second), stamps[2])
}

func TestConcurrentMessagesArriveInPersistenceOrder(t *testing.T) {
	h := newHarness(t, 5, "alice", "bob", "carol")

	var wg sync.WaitGroup
	for _, who := range []string{"alice", "bob"} {
		wg.Add(1)
		go func(who string) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				assert.NoError(t, h.route(who, models.EventSendMessage, models.SendMessagePayload{Message: who}))
			}
		}(who)
	}
	wg.Wait()

	got := h.conns["carol"].received(models.EventNewMessage)
	require.Len(t, got, 40)
	var lastID int64
	var lastTS time.Time
	for _, e := range got {
		p := e.Payload.(models.NewMessagePayload)
		assert.Greater(t, p.ID, lastID)
		assert.False(t, p.Timestamp.Before(lastTS))
		lastID, lastTS = p.ID, p.Timestamp
	}
}

func TestFeedbackNotifiesAdminsAndAcknowledges(t *testing.T) {
	h := newHarness(t, 5, "alice")
	adminConn := h.addAdmin()

	h.send(t, "alice", models.EventFeedback, models.FeedbackPayload{Category: "bug", Message: "crash on login"})

	acks := h.conns["alice"].received(models.EventFeedbackReceived)
	require.Len(t, acks, 1)
	ack := acks[0].Payload.(models.FeedbackReceivedPayload)
	assert.Equal(t, models.Acknowledgement("bug"), ack.Acknowledgement)

	notices := adminConn.received(models.EventAdminFeedback)
	require.Len(t, notices, 1)
	ticket := notices[0].Payload.(*models.Ticket)
	assert.Equal(t, ack.TicketID, ticket.ID.String())

	h.send(t, auth.AdminUsername, models.EventAdminReply, models.AdminReplyPayload{TicketID: ack.TicketID, Reply: "fixed"})
	replies := h.conns["alice"].received(models.EventTicketReply)
	require.Len(t, replies, 1)
	assert.Equal(t, "fixed", replies[0].Payload.(models.TicketReplyPayload).Reply)

	err := h.route(auth.AdminUsername, models.EventAdminReply, models.AdminReplyPayload{TicketID: ack.TicketID, Reply: "again"})
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestAdminEventsRequireAdminConnection(t *testing.T) {
	h := newHarness(t, 5, "alice")
	adminConn := h.addAdmin()

	for _, eventType := range []models.EventType{models.EventBroadcastRequest, models.EventAdminReply, models.EventDashboardRequest} {
		err := h.route("alice", eventType, map[string]any{"message": "x"})
		assert.ErrorIs(t, err, apperrors.ErrForbidden, string(eventType))
	}

	h.send(t, auth.AdminUsername, models.EventBroadcastRequest, models.BroadcastRequest{Message: "server restart"})
	got := h.conns["alice"].received(models.EventBroadcast)
	require.Len(t, got, 1)
	assert.Equal(t, models.DefaultBroadcastDuration, got[0].Payload.(*models.Broadcast).Duration)
	assert.Len(t, adminConn.received(models.EventBroadcast), 1)

	h.send(t, auth.AdminUsername, models.EventDashboardRequest, nil)
	dashboards := adminConn.received(models.EventDashboardData)
	require.Len(t, dashboards, 1)
	assert.Len(t, dashboards[0].Payload.(*models.Dashboard).Members, 1)
}

func TestAIMessageRepliesAndRateLimits(t *testing.T) {
	h := newHarness(t, 1, "alice")

	h.send(t, "alice", models.EventAIMessage, models.AIMessagePayload{Text: "meaning of life?", SessionID: "s1"})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.router.Wait(ctx))

	replies := h.conns["alice"].received(models.EventAIReply)
	require.Len(t, replies, 1)
	reply := replies[0].Payload.(models.AIReplyPayload)
	assert.Equal(t, "42 is the answer", reply.Text)
	assert.Equal(t, "chatbot", reply.Backend)
	assert.Equal(t, "s1", reply.SessionID)

	err := h.route("alice", models.EventAIMessage, models.AIMessagePayload{Text: "again"})
	assert.ErrorIs(t, err, apperrors.ErrRateLimited)

	conv, err := h.db.GetConversation(context.Background(), "alice", "s1")
	require.NoError(t, err)
	assert.Len(t, conv.Turns, 2)
}
