// Package router dispatches inbound websocket events to the registry, the
// store, the AI adapter and the admin control plane.
package router

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"casper-chat/internal/admin"
	"casper-chat/internal/ai"
	"casper-chat/internal/apperrors"
	"casper-chat/internal/auth"
	"casper-chat/internal/database"
	"casper-chat/internal/models"
	"casper-chat/internal/observability"
	"casper-chat/internal/ratelimit"
	"casper-chat/internal/session"
	"casper-chat/pkg/logger"
)

const (
	historyLimit    = 50
	maxMessageRunes = 2000
)

var tracer = otel.Tracer("casper-chat/router")

// roomClock serializes persistence and fan-out for one room and keeps its
// timestamps non-decreasing.
type roomClock struct {
	mu   sync.Mutex
	last time.Time
}

type Router struct {
	registry  *session.Registry
	store     database.Database
	ai        *ai.Service
	aiLimiter ratelimit.KeyedLimiter
	admin     *admin.Service

	mu    sync.Mutex
	rooms map[string]*roomClock

	inflight sync.WaitGroup
	now      func() time.Time
}

func New(registry *session.Registry, store database.Database, aiService *ai.Service, aiLimiter ratelimit.KeyedLimiter, adminService *admin.Service) *Router {
	return &Router{
		registry:  registry,
		store:     store,
		ai:        aiService,
		aiLimiter: aiLimiter,
		admin:     adminService,
		rooms:     make(map[string]*roomClock),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Route handles one inbound event from conn, whose token carried claims.
// A returned error is meant for the originating connection only.
func (r *Router) Route(ctx context.Context, conn session.Conn, claims *auth.Claims, event models.InboundEvent) (err error) {
	label := string(event.Type)
	ctx, span := tracer.Start(ctx, "router.route")
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, apperrors.PublicMessage(err))
		}
		span.SetAttributes(attribute.String("ws.event", label))
		span.End()
		observability.IncWSEvent(label, outcome)
	}()

	if claims == nil {
		return apperrors.Auth("missing identity")
	}

	switch event.Type {
	case models.EventJoin:
		return r.handleJoin(ctx, conn, claims, event)
	case models.EventJoinRoom:
		return r.handleJoinRoom(ctx, conn, event)
	case models.EventSendMessage:
		return r.handleSendMessage(ctx, conn, event)
	case models.EventPrivateMessage:
		return r.handlePrivateMessage(ctx, conn, event)
	case models.EventFeedback:
		return r.handleFeedback(ctx, conn, event)
	case models.EventBroadcastRequest:
		return r.handleBroadcast(ctx, conn, claims, event)
	case models.EventAdminReply:
		return r.handleAdminReply(ctx, conn, claims, event)
	case models.EventAIMessage:
		return r.handleAIMessage(ctx, conn, claims, event)
	case models.EventDashboardRequest:
		return r.handleDashboard(ctx, conn, claims)
	default:
		label = "unknown"
		return apperrors.Validation("unknown event type %q", event.Type)
	}
}

// Wait blocks until in-flight AI requests have replied or ctx is done.
func (r *Router) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func decode[T any](event models.InboundEvent) (T, error) {
	var payload T
	if len(event.Payload) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return payload, apperrors.Validation("malformed %s payload", event.Type)
	}
	return payload, nil
}

func cleanText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", apperrors.Validation("message is required")
	}
	if len([]rune(text)) > maxMessageRunes {
		return "", apperrors.Validation("message must be at most %d characters", maxMessageRunes)
	}
	return text, nil
}

func (r *Router) caller(conn session.Conn) (string, error) {
	username, ok := r.registry.Username(conn)
	if !ok {
		return "", apperrors.Auth("join before sending")
	}
	return username, nil
}

func (r *Router) requireAdmin(conn session.Conn, claims *auth.Claims) error {
	if !claims.IsAdmin || !r.registry.IsAdmin(conn) {
		return apperrors.Forbidden("admin access required")
	}
	return nil
}

func (r *Router) clock(room string) *roomClock {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.rooms[room]
	if !ok {
		c = &roomClock{}
		r.rooms[room] = c
	}
	return c
}

// persistAndFanOut stores msg and runs deliver while holding the room lock,
// so every member observes the room's messages in persistence order.
func (r *Router) persistAndFanOut(ctx context.Context, msg *models.Message, deliver func(*models.Message)) error {
	c := r.clock(msg.Room)
	c.mu.Lock()
	defer c.mu.Unlock()

	ts := r.now()
	if ts.Before(c.last) {
		ts = c.last
	}
	msg.CreatedAt = ts

	// The write completes even if the sender disconnects mid-flight.
	if err := r.store.SaveMessage(context.WithoutCancel(ctx), msg); err != nil {
		return apperrors.Store("save message", err)
	}
	c.last = ts

	deliver(msg)
	return nil
}

func (r *Router) handleJoin(ctx context.Context, conn session.Conn, claims *auth.Claims, event models.InboundEvent) error {
	if claims.IsAdmin {
		return apperrors.Forbidden("admin connections cannot join as a user")
	}
	p, err := decode[models.JoinPayload](event)
	if err != nil {
		return err
	}
	if p.Username != "" && !strings.EqualFold(p.Username, claims.Username) {
		return apperrors.Forbidden("cannot join as another user")
	}
	return r.registry.Join(ctx, conn, claims.Username)
}

func (r *Router) handleJoinRoom(ctx context.Context, conn session.Conn, event models.InboundEvent) error {
	p, err := decode[models.JoinRoomPayload](event)
	if err != nil {
		return err
	}
	username, err := r.caller(conn)
	if err != nil {
		return err
	}

	room := p.Room
	if p.With != "" {
		room = session.RoomKey(username, p.With)
	}
	if room == "" {
		return apperrors.Validation("room is required")
	}
	if err := r.registry.JoinRoom(conn, room); err != nil {
		return err
	}

	history, err := r.store.ListMessages(ctx, room, historyLimit)
	if err != nil {
		return apperrors.Store("list messages", err)
	}
	if history == nil {
		history = []*models.Message{}
	}
	conn.Send(models.NewEvent(models.EventRoomHistory, models.RoomHistoryPayload{Room: room, Messages: history}))
	return nil
}

func (r *Router) handleSendMessage(ctx context.Context, conn session.Conn, event models.InboundEvent) error {
	p, err := decode[models.SendMessagePayload](event)
	if err != nil {
		return err
	}
	username, err := r.caller(conn)
	if err != nil {
		return err
	}
	if p.Room != "" && p.Room != models.GlobalRoom {
		return apperrors.Validation("public messages go to the %s room", models.GlobalRoom)
	}
	text, err := cleanText(p.Message)
	if err != nil {
		return err
	}

	msg := &models.Message{Sender: username, Body: text, Room: models.GlobalRoom, Type: models.MessageTypePublic}
	return r.persistAndFanOut(ctx, msg, func(m *models.Message) {
		r.registry.SendAll(models.NewEvent(models.EventNewMessage, models.NewMessagePayload{
			ID:        m.ID,
			Username:  m.Sender,
			Message:   m.Body,
			Room:      m.Room,
			Timestamp: m.CreatedAt,
		}))
	})
}

func (r *Router) handlePrivateMessage(ctx context.Context, conn session.Conn, event models.InboundEvent) error {
	p, err := decode[models.PrivateMessagePayload](event)
	if err != nil {
		return err
	}
	username, err := r.caller(conn)
	if err != nil {
		return err
	}
	if p.From != "" && !strings.EqualFold(p.From, username) {
		return apperrors.Forbidden("cannot send as another user")
	}
	to := strings.TrimSpace(p.To)
	if to == "" {
		return apperrors.Validation("recipient is required")
	}
	if !auth.ValidUsername(to) {
		return apperrors.Validation("invalid recipient %q", to)
	}
	if strings.EqualFold(to, username) {
		return apperrors.Validation("cannot message yourself")
	}
	text, err := cleanText(p.Message)
	if err != nil {
		return err
	}

	recipient, err := r.store.GetUserByUsername(ctx, to)
	if err != nil {
		return apperrors.Store("get recipient", err)
	}

	room := session.RoomKey(username, recipient.Username)
	// Sending into a private room implies being in it.
	if err := r.registry.JoinRoom(conn, room); err != nil {
		return err
	}

	msg := &models.Message{
		Sender:    username,
		Recipient: recipient.Username,
		Body:      text,
		Room:      room,
		Type:      models.MessageTypePrivate,
	}
	return r.persistAndFanOut(ctx, msg, func(m *models.Message) {
		r.registry.SendRoom(room, models.NewEvent(models.EventPrivateMessage, models.PrivateMessageOut{
			ID:        m.ID,
			From:      m.Sender,
			To:        m.Recipient,
			Message:   m.Body,
			Room:      m.Room,
			Timestamp: m.CreatedAt,
		}))
	})
}

func (r *Router) handleFeedback(ctx context.Context, conn session.Conn, event models.InboundEvent) error {
	p, err := decode[models.FeedbackPayload](event)
	if err != nil {
		return err
	}
	username, err := r.caller(conn)
	if err != nil {
		return err
	}
	if p.From != "" && !strings.EqualFold(p.From, username) {
		return apperrors.Forbidden("cannot send feedback as another user")
	}

	ticket, err := r.admin.SubmitFeedback(context.WithoutCancel(ctx), username, p.Category, p.Message)
	if err != nil {
		return err
	}
	conn.Send(models.NewEvent(models.EventFeedbackReceived, models.FeedbackReceivedPayload{
		TicketID:        ticket.ID.String(),
		Acknowledgement: models.Acknowledgement(ticket.Category),
	}))
	return nil
}

func (r *Router) handleBroadcast(ctx context.Context, conn session.Conn, claims *auth.Claims, event models.InboundEvent) error {
	if err := r.requireAdmin(conn, claims); err != nil {
		return err
	}
	req, err := decode[models.BroadcastRequest](event)
	if err != nil {
		return err
	}
	_, err = r.admin.Broadcast(ctx, claims, req)
	return err
}

func (r *Router) handleAdminReply(ctx context.Context, conn session.Conn, claims *auth.Claims, event models.InboundEvent) error {
	if err := r.requireAdmin(conn, claims); err != nil {
		return err
	}
	p, err := decode[models.AdminReplyPayload](event)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(p.TicketID)
	if err != nil {
		return apperrors.Validation("invalid ticket id %q", p.TicketID)
	}
	_, err = r.admin.ReplyTicket(ctx, claims, id, p.Reply)
	return err
}

func (r *Router) handleDashboard(ctx context.Context, conn session.Conn, claims *auth.Claims) error {
	if err := r.requireAdmin(conn, claims); err != nil {
		return err
	}
	dashboard, err := r.admin.Dashboard(ctx, claims)
	if err != nil {
		return err
	}
	conn.Send(models.NewEvent(models.EventDashboardData, dashboard))
	return nil
}

// handleAIMessage replies from its own goroutine; the reader keeps serving
// the connection while the backend chain runs.
func (r *Router) handleAIMessage(ctx context.Context, conn session.Conn, claims *auth.Claims, event models.InboundEvent) error {
	p, err := decode[models.AIMessagePayload](event)
	if err != nil {
		return err
	}
	if strings.TrimSpace(p.Text) == "" {
		return apperrors.Validation("text is required")
	}

	allowed, err := r.aiLimiter.Allow(ctx, "ai:"+strings.ToLower(claims.Username))
	if err != nil {
		logger.Warn("AI rate limiter unavailable for %s: %v", claims.Username, err)
	} else if !allowed {
		observability.IncRateLimited("ai")
		return apperrors.RateLimited("too many AI requests, slow down")
	}

	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		ctx := context.WithoutCancel(ctx)

		reply, err := r.ai.Chat(ctx, claims.Username, p.SessionID, p.Text, p.Backend)
		if err != nil && reply.Text == "" {
			conn.Send(models.ErrorEvent(apperrors.PublicMessage(err)))
			return
		}
		if err != nil {
			logger.Error("Saving AI conversation for %s: %v", claims.Username, err)
		}
		conn.Send(models.NewEvent(models.EventAIReply, models.AIReplyPayload{
			Text:      reply.Text,
			Backend:   reply.Backend,
			SessionID: p.SessionID,
		}))
	}()
	return nil
}
