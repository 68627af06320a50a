package database

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"casper-chat/internal/models"
)

// MemoryDB is the store used when no DATABASE_URL is configured. Records
// returned to callers are copies.
type MemoryDB struct {
	mu            sync.RWMutex
	users         []*models.User
	messages      []*models.Message
	tickets       map[uuid.UUID]*models.Ticket
	ticketOrder   []uuid.UUID
	broadcasts    []*models.Broadcast
	ads           []*models.Ad
	conversations map[string]*models.AIConversation
	nextUserID    int
	nextMessageID int64
}

var _ Database = (*MemoryDB)(nil)

func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		tickets:       make(map[uuid.UUID]*models.Ticket),
		conversations: make(map[string]*models.AIConversation),
	}
}

func (db *MemoryDB) Close() error {
	return nil
}

func (db *MemoryDB) CreateUser(ctx context.Context, user *models.User) (*models.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, u := range db.users {
		if strings.EqualFold(u.Username, user.Username) || strings.EqualFold(u.Email, user.Email) {
			return nil, ErrDuplicateUser
		}
	}

	db.nextUserID++
	stored := *user
	stored.ID = db.nextUserID
	if stored.Status == "" {
		stored.Status = models.StatusOffline
	}
	now := time.Now().UTC()
	stored.CreatedAt = now
	stored.LastActive = now
	db.users = append(db.users, &stored)

	out := stored
	return &out, nil
}

func (db *MemoryDB) findUser(match func(*models.User) bool) (*models.User, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	for _, u := range db.users {
		if match(u) {
			out := *u
			return &out, nil
		}
	}
	return nil, ErrUserNotFound
}

func (db *MemoryDB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return db.findUser(func(u *models.User) bool { return strings.EqualFold(u.Username, username) })
}

func (db *MemoryDB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return db.findUser(func(u *models.User) bool { return strings.EqualFold(u.Email, email) })
}

func (db *MemoryDB) GetUserByID(ctx context.Context, id int) (*models.User, error) {
	return db.findUser(func(u *models.User) bool { return u.ID == id })
}

func (db *MemoryDB) ListUsers(ctx context.Context) ([]*models.User, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	users := make([]*models.User, 0, len(db.users))
	for _, u := range db.users {
		out := *u
		users = append(users, &out)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

func (db *MemoryDB) SetUserPresence(ctx context.Context, username, status, ip string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, u := range db.users {
		if strings.EqualFold(u.Username, username) {
			u.Status = status
			u.LastActive = time.Now().UTC()
			if ip != "" {
				u.LastIP = ip
			}
			return nil
		}
	}
	return ErrUserNotFound
}

func (db *MemoryDB) SetUserBlocked(ctx context.Context, id int, blocked bool) (*models.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, u := range db.users {
		if u.ID == id {
			u.Blocked = blocked
			out := *u
			return &out, nil
		}
	}
	return nil, ErrUserNotFound
}

func (db *MemoryDB) CountUsers(ctx context.Context) (int, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.users), nil
}

func (db *MemoryDB) CountOnlineUsers(ctx context.Context) (int, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	count := 0
	for _, u := range db.users {
		if u.Status == models.StatusOnline {
			count++
		}
	}
	return count, nil
}

func (db *MemoryDB) SaveMessage(ctx context.Context, msg *models.Message) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.nextMessageID++
	msg.ID = db.nextMessageID
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	stored := *msg
	db.messages = append(db.messages, &stored)
	return nil
}

func (db *MemoryDB) ListMessages(ctx context.Context, room string, limit int) ([]*models.Message, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var messages []*models.Message
	for i := len(db.messages) - 1; i >= 0 && (limit <= 0 || len(messages) < limit); i-- {
		if db.messages[i].Room == room {
			out := *db.messages[i]
			messages = append(messages, &out)
		}
	}

	// Reverse to show oldest first
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (db *MemoryDB) CountMessages(ctx context.Context) (int, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.messages), nil
}

func (db *MemoryDB) CountMessagesByType(ctx context.Context, msgType models.MessageType) (int, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	count := 0
	for _, m := range db.messages {
		if m.Type == msgType {
			count++
		}
	}
	return count, nil
}

func (db *MemoryDB) CreateTicket(ctx context.Context, ticket *models.Ticket) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if ticket.ID == uuid.Nil {
		ticket.ID = uuid.New()
	}
	if ticket.CreatedAt.IsZero() {
		ticket.CreatedAt = time.Now().UTC()
	}
	if ticket.Status == "" {
		ticket.Status = models.TicketPending
	}
	stored := *ticket
	db.tickets[ticket.ID] = &stored
	db.ticketOrder = append(db.ticketOrder, ticket.ID)
	return nil
}

func (db *MemoryDB) GetTicket(ctx context.Context, id uuid.UUID) (*models.Ticket, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	t, ok := db.tickets[id]
	if !ok {
		return nil, ErrTicketNotFound
	}
	out := *t
	return &out, nil
}

func (db *MemoryDB) ReplyTicket(ctx context.Context, id uuid.UUID, reply string, at time.Time) (*models.Ticket, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	t, ok := db.tickets[id]
	if !ok {
		return nil, ErrTicketNotFound
	}
	if t.Status != models.TicketPending {
		return nil, ErrTicketReplied
	}
	t.Status = models.TicketReplied
	t.Reply = reply
	repliedAt := at
	t.RepliedAt = &repliedAt
	out := *t
	return &out, nil
}

func (db *MemoryDB) listTickets(match func(*models.Ticket) bool) []*models.Ticket {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var tickets []*models.Ticket
	for _, id := range db.ticketOrder {
		if t := db.tickets[id]; match(t) {
			out := *t
			tickets = append(tickets, &out)
		}
	}
	return tickets
}

func (db *MemoryDB) ListTickets(ctx context.Context, status models.TicketStatus) ([]*models.Ticket, error) {
	return db.listTickets(func(t *models.Ticket) bool { return status == "" || t.Status == status }), nil
}

func (db *MemoryDB) ListTicketsByUser(ctx context.Context, username string) ([]*models.Ticket, error) {
	return db.listTickets(func(t *models.Ticket) bool { return strings.EqualFold(t.Username, username) }), nil
}

func (db *MemoryDB) CountPendingTickets(ctx context.Context) (int, error) {
	return len(db.listTickets(func(t *models.Ticket) bool { return t.Status == models.TicketPending })), nil
}

func (db *MemoryDB) CreateBroadcast(ctx context.Context, b *models.Broadcast) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	stored := *b
	db.broadcasts = append(db.broadcasts, &stored)
	return nil
}

// ListBroadcasts returns the newest broadcasts first.
func (db *MemoryDB) ListBroadcasts(ctx context.Context, limit int) ([]*models.Broadcast, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var out []*models.Broadcast
	for i := len(db.broadcasts) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		b := *db.broadcasts[i]
		out = append(out, &b)
	}
	return out, nil
}

func (db *MemoryDB) CreateAd(ctx context.Context, ad *models.Ad) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if ad.ID == uuid.Nil {
		ad.ID = uuid.New()
	}
	if ad.CreatedAt.IsZero() {
		ad.CreatedAt = time.Now().UTC()
	}
	stored := *ad
	db.ads = append(db.ads, &stored)
	return nil
}

func (db *MemoryDB) ListAds(ctx context.Context, limit int) ([]*models.Ad, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var out []*models.Ad
	for i := len(db.ads) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		ad := *db.ads[i]
		out = append(out, &ad)
	}
	return out, nil
}

func conversationKey(username, sessionID string) string {
	return strings.ToLower(username) + "\x00" + sessionID
}

func (db *MemoryDB) AppendTurns(ctx context.Context, username, sessionID string, turns ...models.AITurn) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	key := conversationKey(username, sessionID)
	conv, ok := db.conversations[key]
	if !ok {
		conv = &models.AIConversation{Username: username, SessionID: sessionID}
		db.conversations[key] = conv
	}
	conv.Turns = append(conv.Turns, turns...)
	return nil
}

// GetConversation returns an empty conversation for unknown keys.
func (db *MemoryDB) GetConversation(ctx context.Context, username, sessionID string) (*models.AIConversation, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := &models.AIConversation{Username: username, SessionID: sessionID, Turns: []models.AITurn{}}
	if conv, ok := db.conversations[conversationKey(username, sessionID)]; ok {
		out.Turns = append(out.Turns, conv.Turns...)
	}
	return out, nil
}
