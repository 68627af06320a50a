package database

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"casper-chat/internal/models"
	"casper-chat/pkg/logger"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

var _ Database = (*PostgresDB)(nil)

type PostgresDB struct {
	pool *pgxpool.Pool
}

func NewPostgresDB(ctx context.Context, databaseURL string) (*PostgresDB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	logger.Info("Connected to database successfully")
	return &PostgresDB{pool: pool}, nil
}

func (db *PostgresDB) Close() error {
	db.pool.Close()
	return nil
}

const userColumns = `id, username, email, password_hash, status, blocked, last_active, last_ip, created_at`

func scanUser(row pgx.Row) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.Status,
		&user.Blocked, &user.LastActive, &user.LastIP, &user.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// User Repository Implementation
func (db *PostgresDB) CreateUser(ctx context.Context, user *models.User) (*models.User, error) {
	query := `
		INSERT INTO users (username, email, password_hash, status, last_active, created_at)
		VALUES ($1, $2, $3, 'offline', NOW(), NOW())
		RETURNING ` + userColumns

	created, err := scanUser(db.pool.QueryRow(ctx, query, user.Username, user.Email, user.PasswordHash))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrDuplicateUser
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return created, nil
}

func (db *PostgresDB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE LOWER(username) = LOWER($1)`
	return scanUser(db.pool.QueryRow(ctx, query, username))
}

func (db *PostgresDB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE LOWER(email) = LOWER($1)`
	return scanUser(db.pool.QueryRow(ctx, query, email))
}

func (db *PostgresDB) GetUserByID(ctx context.Context, id int) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(db.pool.QueryRow(ctx, query, id))
}

func (db *PostgresDB) ListUsers(ctx context.Context) ([]*models.User, error) {
	rows, err := db.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (db *PostgresDB) SetUserPresence(ctx context.Context, username, status, ip string) error {
	query := `
		UPDATE users
		SET status = $2, last_active = NOW(), last_ip = COALESCE(NULLIF($3, ''), last_ip)
		WHERE LOWER(username) = LOWER($1)`

	tag, err := db.pool.Exec(ctx, query, username, status, ip)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (db *PostgresDB) SetUserBlocked(ctx context.Context, id int, blocked bool) (*models.User, error) {
	query := `UPDATE users SET blocked = $2 WHERE id = $1 RETURNING ` + userColumns
	return scanUser(db.pool.QueryRow(ctx, query, id, blocked))
}

func (db *PostgresDB) count(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	err := db.pool.QueryRow(ctx, query, args...).Scan(&n)
	return n, err
}

func (db *PostgresDB) CountUsers(ctx context.Context) (int, error) {
	return db.count(ctx, `SELECT COUNT(*) FROM users`)
}

func (db *PostgresDB) CountOnlineUsers(ctx context.Context) (int, error) {
	return db.count(ctx, `SELECT COUNT(*) FROM users WHERE status = 'online'`)
}

// Message Repository Implementation
func (db *PostgresDB) SaveMessage(ctx context.Context, msg *models.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO messages (sender, recipient, body, room, type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`
	return db.pool.QueryRow(ctx, query, msg.Sender, msg.Recipient, msg.Body, msg.Room, string(msg.Type), msg.CreatedAt).Scan(&msg.ID)
}

func (db *PostgresDB) ListMessages(ctx context.Context, room string, limit int) ([]*models.Message, error) {
	query := `
		SELECT id, sender, recipient, body, room, type, created_at
		FROM messages
		WHERE room = $1
		ORDER BY id DESC
		LIMIT $2`

	rows, err := db.pool.Query(ctx, query, room, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg := &models.Message{}
		var msgType string
		if err := rows.Scan(&msg.ID, &msg.Sender, &msg.Recipient, &msg.Body, &msg.Room, &msgType, &msg.CreatedAt); err != nil {
			return nil, err
		}
		msg.Type = models.MessageType(msgType)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to show oldest first
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (db *PostgresDB) CountMessages(ctx context.Context) (int, error) {
	return db.count(ctx, `SELECT COUNT(*) FROM messages`)
}

func (db *PostgresDB) CountMessagesByType(ctx context.Context, msgType models.MessageType) (int, error) {
	return db.count(ctx, `SELECT COUNT(*) FROM messages WHERE type = $1`, string(msgType))
}

// Ticket Repository Implementation
const ticketColumns = `id, conversation_id, username, category, message, reply, status, created_at, replied_at`

func scanTicket(row pgx.Row) (*models.Ticket, error) {
	t := &models.Ticket{}
	var status string
	err := row.Scan(&t.ID, &t.ConversationID, &t.Username, &t.Category, &t.Message, &t.Reply, &status, &t.CreatedAt, &t.RepliedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTicketNotFound
	}
	if err != nil {
		return nil, err
	}
	t.Status = models.TicketStatus(status)
	return t, nil
}

func (db *PostgresDB) CreateTicket(ctx context.Context, ticket *models.Ticket) error {
	if ticket.ID == uuid.Nil {
		ticket.ID = uuid.New()
	}
	if ticket.CreatedAt.IsZero() {
		ticket.CreatedAt = time.Now().UTC()
	}
	if ticket.Status == "" {
		ticket.Status = models.TicketPending
	}
	query := `
		INSERT INTO tickets (id, conversation_id, username, category, message, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := db.pool.Exec(ctx, query, ticket.ID, ticket.ConversationID, ticket.Username, ticket.Category, ticket.Message, string(ticket.Status), ticket.CreatedAt)
	return err
}

func (db *PostgresDB) GetTicket(ctx context.Context, id uuid.UUID) (*models.Ticket, error) {
	return scanTicket(db.pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, id))
}

func (db *PostgresDB) ReplyTicket(ctx context.Context, id uuid.UUID, reply string, at time.Time) (*models.Ticket, error) {
	query := `
		UPDATE tickets SET status = 'replied', reply = $2, replied_at = $3
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + ticketColumns

	ticket, err := scanTicket(db.pool.QueryRow(ctx, query, id, reply, at))
	if errors.Is(err, ErrTicketNotFound) {
		// Either the ticket does not exist or it has already been replied.
		if _, getErr := db.GetTicket(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrTicketReplied
	}
	return ticket, err
}

func (db *PostgresDB) queryTickets(ctx context.Context, query string, args ...any) ([]*models.Ticket, error) {
	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []*models.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

func (db *PostgresDB) ListTickets(ctx context.Context, status models.TicketStatus) ([]*models.Ticket, error) {
	if status == "" {
		return db.queryTickets(ctx, `SELECT `+ticketColumns+` FROM tickets ORDER BY created_at`)
	}
	return db.queryTickets(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE status = $1 ORDER BY created_at`, string(status))
}

func (db *PostgresDB) ListTicketsByUser(ctx context.Context, username string) ([]*models.Ticket, error) {
	return db.queryTickets(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE LOWER(username) = LOWER($1) ORDER BY created_at`, username)
}

func (db *PostgresDB) CountPendingTickets(ctx context.Context) (int, error) {
	return db.count(ctx, `SELECT COUNT(*) FROM tickets WHERE status = 'pending'`)
}

// Broadcast Repository Implementation
func (db *PostgresDB) CreateBroadcast(ctx context.Context, b *models.Broadcast) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	query := `INSERT INTO broadcasts (id, message, duration, created_by, created_at) VALUES ($1, $2, $3, $4, $5)`
	_, err := db.pool.Exec(ctx, query, b.ID, b.Message, b.Duration, b.CreatedBy, b.CreatedAt)
	return err
}

func (db *PostgresDB) ListBroadcasts(ctx context.Context, limit int) ([]*models.Broadcast, error) {
	query := `SELECT id, message, duration, created_by, created_at FROM broadcasts ORDER BY created_at DESC LIMIT $1`
	rows, err := db.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Broadcast
	for rows.Next() {
		b := &models.Broadcast{}
		if err := rows.Scan(&b.ID, &b.Message, &b.Duration, &b.CreatedBy, &b.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (db *PostgresDB) CreateAd(ctx context.Context, ad *models.Ad) error {
	if ad.ID == uuid.Nil {
		ad.ID = uuid.New()
	}
	if ad.CreatedAt.IsZero() {
		ad.CreatedAt = time.Now().UTC()
	}
	query := `INSERT INTO ads (id, content, image_url, duration, created_at) VALUES ($1, $2, $3, $4, $5)`
	_, err := db.pool.Exec(ctx, query, ad.ID, ad.Content, ad.ImageURL, ad.Duration, ad.CreatedAt)
	return err
}

func (db *PostgresDB) ListAds(ctx context.Context, limit int) ([]*models.Ad, error) {
	query := `SELECT id, content, image_url, duration, created_at FROM ads ORDER BY created_at DESC LIMIT $1`
	rows, err := db.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Ad
	for rows.Next() {
		ad := &models.Ad{}
		if err := rows.Scan(&ad.ID, &ad.Content, &ad.ImageURL, &ad.Duration, &ad.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, ad)
	}
	return out, rows.Err()
}

// Conversation Repository Implementation
func (db *PostgresDB) AppendTurns(ctx context.Context, username, sessionID string, turns ...models.AITurn) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, turn := range turns {
		query := `INSERT INTO ai_turns (username, session_id, role, text, backend, created_at) VALUES ($1, $2, $3, $4, $5, $6)`
		if _, err := tx.Exec(ctx, query, username, sessionID, turn.Role, turn.Text, turn.Backend, turn.CreatedAt); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (db *PostgresDB) GetConversation(ctx context.Context, username, sessionID string) (*models.AIConversation, error) {
	query := `
		SELECT role, text, backend, created_at
		FROM ai_turns
		WHERE LOWER(username) = LOWER($1) AND session_id = $2
		ORDER BY id`

	rows, err := db.pool.Query(ctx, query, username, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	conv := &models.AIConversation{Username: username, SessionID: sessionID, Turns: []models.AITurn{}}
	for rows.Next() {
		var turn models.AITurn
		if err := rows.Scan(&turn.Role, &turn.Text, &turn.Backend, &turn.CreatedAt); err != nil {
			return nil, err
		}
		conv.Turns = append(conv.Turns, turn)
	}
	return conv, rows.Err()
}
