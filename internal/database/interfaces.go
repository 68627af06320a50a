package database

import (
	"context"
	"time"

	"github.com/google/uuid"

	"casper-chat/internal/models"
)

type UserRepository interface {
	CreateUser(ctx context.Context, user *models.User) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id int) (*models.User, error)
	ListUsers(ctx context.Context) ([]*models.User, error)
	SetUserPresence(ctx context.Context, username, status, ip string) error
	SetUserBlocked(ctx context.Context, id int, blocked bool) (*models.User, error)
	CountUsers(ctx context.Context) (int, error)
	CountOnlineUsers(ctx context.Context) (int, error)
}

type MessageRepository interface {
	// SaveMessage assigns the message ID.
	SaveMessage(ctx context.Context, msg *models.Message) error
	// ListMessages returns the latest limit messages of a room, oldest first.
	ListMessages(ctx context.Context, room string, limit int) ([]*models.Message, error)
	CountMessages(ctx context.Context) (int, error)
	CountMessagesByType(ctx context.Context, msgType models.MessageType) (int, error)
}

type TicketRepository interface {
	CreateTicket(ctx context.Context, ticket *models.Ticket) error
	GetTicket(ctx context.Context, id uuid.UUID) (*models.Ticket, error)
	// ReplyTicket moves a pending ticket to replied. It fails with
	// ErrTicketReplied when the ticket already carries a reply.
	ReplyTicket(ctx context.Context, id uuid.UUID, reply string, at time.Time) (*models.Ticket, error)
	ListTickets(ctx context.Context, status models.TicketStatus) ([]*models.Ticket, error)
	ListTicketsByUser(ctx context.Context, username string) ([]*models.Ticket, error)
	CountPendingTickets(ctx context.Context) (int, error)
}

type BroadcastRepository interface {
	CreateBroadcast(ctx context.Context, b *models.Broadcast) error
	ListBroadcasts(ctx context.Context, limit int) ([]*models.Broadcast, error)
	CreateAd(ctx context.Context, ad *models.Ad) error
	ListAds(ctx context.Context, limit int) ([]*models.Ad, error)
}

type ConversationRepository interface {
	AppendTurns(ctx context.Context, username, sessionID string, turns ...models.AITurn) error
	GetConversation(ctx context.Context, username, sessionID string) (*models.AIConversation, error)
}

type Database interface {
	UserRepository
	MessageRepository
	TicketRepository
	BroadcastRepository
	ConversationRepository
	Close() error
}
