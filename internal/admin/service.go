// Package admin implements the operator control plane: moderation,
// broadcasts, ads, ticket replies and dashboard statistics.
package admin

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"casper-chat/internal/apperrors"
	"casper-chat/internal/auth"
	"casper-chat/internal/database"
	"casper-chat/internal/events"
	"casper-chat/internal/models"
	"casper-chat/pkg/logger"
)

const (
	maxBroadcastRunes = 1000
	maxAdRunes        = 2000
	maxReplyRunes     = 4000
	maxFeedbackRunes  = 4000
	maxDurationSecs   = 3600
	recentLimit       = 10
)

// Hub is the part of the session registry the control plane pushes to.
type Hub interface {
	SendAll(event models.OutboundEvent) int
	SendUser(username string, event models.OutboundEvent) int
	SendAdmins(event models.OutboundEvent) int
	Block(username string) int
	Unblock(username string)
	Roster() []models.RosterEntry
}

type Service struct {
	db    database.Database
	hub   Hub
	audit *events.AuditEmitter
	stats singleflight.Group
	now   func() time.Time
}

func NewService(db database.Database, hub Hub, audit *events.AuditEmitter) *Service {
	return &Service{
		db:    db,
		hub:   hub,
		audit: audit,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func requireAdmin(claims *auth.Claims) error {
	if claims == nil || !claims.IsAdmin {
		return apperrors.Forbidden("admin access required")
	}
	return nil
}

func normalizeDuration(duration int) (int, error) {
	switch {
	case duration == 0:
		return models.DefaultBroadcastDuration, nil
	case duration < 0 || duration > maxDurationSecs:
		return 0, apperrors.Validation("duration must be between 1 and %d seconds", maxDurationSecs)
	default:
		return duration, nil
	}
}

func requireText(field, value string, max int) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", apperrors.Validation("%s is required", field)
	}
	if len([]rune(value)) > max {
		return "", apperrors.Validation("%s must be at most %d characters", field, max)
	}
	return value, nil
}

// Stats counts users, online users, messages (all and private) and pending
// tickets.
// Concurrent callers share one round of queries.
func (s *Service) Stats(ctx context.Context, claims *auth.Claims) (*models.Stats, error) {
	if err := requireAdmin(claims); err != nil {
		return nil, err
	}

	v, err, _ := s.stats.Do("stats", func() (any, error) {
		return s.countAll(context.WithoutCancel(ctx))
	})
	if err != nil {
		return nil, err
	}
	stats := *v.(*models.Stats)
	return &stats, nil
}

func (s *Service) countAll(ctx context.Context) (*models.Stats, error) {
	var stats models.Stats
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() (err error) {
		stats.TotalUsers, err = s.db.CountUsers(ctx)
		return apperrors.Store("count users", err)
	})
	g.Go(func() (err error) {
		stats.OnlineUsers, err = s.db.CountOnlineUsers(ctx)
		return apperrors.Store("count online users", err)
	})
	g.Go(func() (err error) {
		stats.TotalMessages, err = s.db.CountMessages(ctx)
		return apperrors.Store("count messages", err)
	})
	g.Go(func() (err error) {
		stats.PrivateMessages, err = s.db.CountMessagesByType(ctx, models.MessageTypePrivate)
		return apperrors.Store("count private messages", err)
	})
	g.Go(func() (err error) {
		stats.PendingTickets, err = s.db.CountPendingTickets(ctx)
		return apperrors.Store("count pending tickets", err)
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Broadcast persists an announcement and pushes it to every live
// connection, admins included.
func (s *Service) Broadcast(ctx context.Context, claims *auth.Claims, req models.BroadcastRequest) (*models.Broadcast, error) {
	if err := requireAdmin(claims); err != nil {
		return nil, err
	}
	message, err := requireText("message", req.Message, maxBroadcastRunes)
	if err != nil {
		return nil, err
	}
	duration, err := normalizeDuration(req.Duration)
	if err != nil {
		return nil, err
	}

	b := &models.Broadcast{
		ID:        uuid.New(),
		Message:   message,
		Duration:  duration,
		CreatedBy: claims.Username,
		CreatedAt: s.now(),
	}
	if err := s.db.CreateBroadcast(ctx, b); err != nil {
		return nil, apperrors.Store("create broadcast", err)
	}

	delivered := s.hub.SendAll(models.NewEvent(models.EventBroadcast, b))
	logger.Info("Broadcast %s delivered to %d connections", b.ID, delivered)
	s.audit.Emit(ctx, events.AdminBroadcast, claims.Username, b)
	return b, nil
}

// BlockUser marks the account blocked and closes its live sessions.
func (s *Service) BlockUser(ctx context.Context, claims *auth.Claims, userID int) (*models.User, error) {
	if err := requireAdmin(claims); err != nil {
		return nil, err
	}
	user, err := s.setBlocked(ctx, userID, true)
	if err != nil {
		return nil, err
	}

	closed := s.hub.Block(user.Username)
	logger.Info("Blocked user %s, closed %d sessions", user.Username, closed)
	s.audit.Emit(ctx, events.UserBlocked, claims.Username, map[string]any{"userId": user.ID, "username": user.Username})
	return user, nil
}

func (s *Service) UnblockUser(ctx context.Context, claims *auth.Claims, userID int) (*models.User, error) {
	if err := requireAdmin(claims); err != nil {
		return nil, err
	}
	user, err := s.setBlocked(ctx, userID, false)
	if err != nil {
		return nil, err
	}

	s.hub.Unblock(user.Username)
	logger.Info("Unblocked user %s", user.Username)
	s.audit.Emit(ctx, events.UserUnblocked, claims.Username, map[string]any{"userId": user.ID, "username": user.Username})
	return user, nil
}

func (s *Service) setBlocked(ctx context.Context, userID int, blocked bool) (*models.User, error) {
	if userID <= 0 {
		return nil, apperrors.Validation("userId is required")
	}
	user, err := s.db.SetUserBlocked(ctx, userID, blocked)
	if err != nil {
		return nil, apperrors.Store("set user blocked", err)
	}
	return user, nil
}

func (s *Service) CreateAd(ctx context.Context, claims *auth.Claims, req models.CreateAdRequest) (*models.Ad, error) {
	if err := requireAdmin(claims); err != nil {
		return nil, err
	}
	content, err := requireText("content", req.Content, maxAdRunes)
	if err != nil {
		return nil, err
	}
	duration, err := normalizeDuration(req.Duration)
	if err != nil {
		return nil, err
	}

	ad := &models.Ad{
		ID:        uuid.New(),
		Content:   content,
		ImageURL:  strings.TrimSpace(req.ImageURL),
		Duration:  duration,
		CreatedAt: s.now(),
	}
	if err := s.db.CreateAd(ctx, ad); err != nil {
		return nil, apperrors.Store("create ad", err)
	}

	s.hub.SendAll(models.NewEvent(models.EventNewAd, ad))
	s.audit.Emit(ctx, events.AdCreated, claims.Username, ad)
	return ad, nil
}

// ReplyTicket answers a pending ticket and notifies its owner when online.
// A ticket accepts exactly one reply.
func (s *Service) ReplyTicket(ctx context.Context, claims *auth.Claims, ticketID uuid.UUID, reply string) (*models.Ticket, error) {
	if err := requireAdmin(claims); err != nil {
		return nil, err
	}
	reply, err := requireText("reply", reply, maxReplyRunes)
	if err != nil {
		return nil, err
	}

	ticket, err := s.db.ReplyTicket(ctx, ticketID, reply, s.now())
	if err != nil {
		return nil, apperrors.Store("reply ticket", err)
	}

	at := s.now()
	if ticket.RepliedAt != nil {
		at = *ticket.RepliedAt
	}
	if n := s.hub.SendUser(ticket.Username, models.NewEvent(models.EventTicketReply, models.TicketReplyPayload{
		TicketID: ticket.ID.String(),
		Message:  ticket.Message,
		Reply:    ticket.Reply,
		At:       at,
	})); n == 0 {
		logger.Debug("Ticket %s owner %s is offline, reply kept for lookup", ticket.ID, ticket.Username)
	}

	s.audit.Emit(ctx, events.TicketReplied, claims.Username, ticket)
	return ticket, nil
}

// SubmitFeedback stores a pending ticket for username and notifies the
// admins who are online.
func (s *Service) SubmitFeedback(ctx context.Context, username, category, message string) (*models.Ticket, error) {
	message, err := requireText("message", message, maxFeedbackRunes)
	if err != nil {
		return nil, err
	}

	ticket := &models.Ticket{
		ID:             uuid.New(),
		ConversationID: uuid.New(),
		Username:       username,
		Category:       models.NormalizeCategory(category),
		Message:        message,
		Status:         models.TicketPending,
		CreatedAt:      s.now(),
	}
	if err := s.db.CreateTicket(ctx, ticket); err != nil {
		return nil, apperrors.Store("create ticket", err)
	}

	if n := s.hub.SendAdmins(models.NewEvent(models.EventAdminFeedback, ticket)); n == 0 {
		logger.Info("No admin online for ticket %s from %s", ticket.ID, username)
	}
	s.audit.Emit(ctx, events.FeedbackCreated, username, ticket)
	return ticket, nil
}

// Ticket returns a ticket to its owner or to an admin.
func (s *Service) Ticket(ctx context.Context, claims *auth.Claims, ticketID uuid.UUID) (*models.Ticket, error) {
	if claims == nil {
		return nil, apperrors.Auth("missing identity")
	}
	ticket, err := s.db.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, apperrors.Store("get ticket", err)
	}
	if !claims.IsAdmin && !strings.EqualFold(ticket.Username, claims.Username) {
		return nil, apperrors.Forbidden("ticket belongs to another user")
	}
	return ticket, nil
}

func (s *Service) UserTickets(ctx context.Context, claims *auth.Claims) ([]*models.Ticket, error) {
	if claims == nil {
		return nil, apperrors.Auth("missing identity")
	}
	tickets, err := s.db.ListTicketsByUser(ctx, claims.Username)
	if err != nil {
		return nil, apperrors.Store("list user tickets", err)
	}
	return tickets, nil
}

// ListTickets lists tickets with the given status; an empty status lists all.
func (s *Service) ListTickets(ctx context.Context, claims *auth.Claims, status string) ([]*models.Ticket, error) {
	if err := requireAdmin(claims); err != nil {
		return nil, err
	}
	st := models.TicketStatus(strings.ToLower(strings.TrimSpace(status)))
	switch st {
	case "", models.TicketPending, models.TicketReplied:
	default:
		return nil, apperrors.Validation("unknown ticket status %q", status)
	}

	tickets, err := s.db.ListTickets(ctx, st)
	if err != nil {
		return nil, apperrors.Store("list tickets", err)
	}
	return tickets, nil
}

func (s *Service) Dashboard(ctx context.Context, claims *auth.Claims) (*models.Dashboard, error) {
	stats, err := s.Stats(ctx, claims)
	if err != nil {
		return nil, err
	}

	d := &models.Dashboard{Stats: *stats, Members: s.hub.Roster()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		d.Broadcasts, err = s.db.ListBroadcasts(gctx, recentLimit)
		return apperrors.Store("list broadcasts", err)
	})
	g.Go(func() (err error) {
		d.PendingTickets, err = s.db.ListTickets(gctx, models.TicketPending)
		return apperrors.Store("list pending tickets", err)
	})
	g.Go(func() (err error) {
		d.Ads, err = s.db.ListAds(gctx, recentLimit)
		return apperrors.Store("list ads", err)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return d, nil
}
