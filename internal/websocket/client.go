// Package websocket adapts gorilla websocket connections to session
// connections: one reader goroutine feeding the router and one writer
// goroutine draining a bounded outbound queue.
package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"casper-chat/internal/apperrors"
	"casper-chat/internal/auth"
	"casper-chat/internal/models"
	"casper-chat/internal/observability"
	"casper-chat/internal/ratelimit"
	"casper-chat/internal/session"
	"casper-chat/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 256

	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Router handles decoded inbound events.
type Router interface {
	Route(ctx context.Context, conn session.Conn, claims *auth.Claims, event models.InboundEvent) error
}

// Leaver is notified once when the connection goes away.
type Leaver interface {
	Leave(conn session.Conn) (string, bool)
}

type Options struct {
	MaxMessageBytes int64
	RateBurst       int
	RateInterval    time.Duration
}

type Client struct {
	id       string
	ip       string
	role     string
	conn     *websocket.Conn
	send     chan []byte
	quit     chan struct{}
	once     sync.Once
	claims   *auth.Claims
	router   Router
	leaver   Leaver
	bucket   *ratelimit.TokenBucket
	maxBytes int64
}

func NewClient(conn *websocket.Conn, remoteIP string, claims *auth.Claims, router Router, leaver Leaver, opts Options) *Client {
	role := RoleUser
	if claims.IsAdmin {
		role = RoleAdmin
	}
	return &Client{
		id:       uuid.NewString(),
		ip:       remoteIP,
		role:     role,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		quit:     make(chan struct{}),
		claims:   claims,
		router:   router,
		leaver:   leaver,
		bucket:   ratelimit.NewTokenBucket(opts.RateBurst, opts.RateInterval),
		maxBytes: opts.MaxMessageBytes,
	}
}

func (c *Client) ID() string       { return c.id }
func (c *Client) RemoteIP() string { return c.ip }

// Send queues event without blocking. It reports false when the queue is
// full or the connection is closing.
func (c *Client) Send(event models.OutboundEvent) bool {
	data, err := json.Marshal(event)
	if err != nil {
		logger.Error("Error marshaling %s event: %v", event.Type, err)
		return false
	}

	select {
	case <-c.quit:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Close asks the writer to flush what is queued and close the socket. Safe
// to call more than once and from any goroutine.
func (c *Client) Close() {
	c.once.Do(func() { close(c.quit) })
}

// Start runs the read and write pumps. ctx is the connection's lifetime
// context and must outlive the HTTP handler that upgraded it.
func (c *Client) Start(ctx context.Context) {
	observability.IncWSActive(c.role)
	go c.WritePump()
	go c.ReadPump(ctx)
}

func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.leaver.Leave(c)
		c.Close()
		observability.DecWSActive(c.role)
	}()

	if c.maxBytes > 0 {
		c.conn.SetReadLimit(c.maxBytes)
	}
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				logger.Error("WebSocket error on conn %s: %v", c.id, err)
			}
			return
		}

		if !c.bucket.Allow() {
			observability.IncRateLimited("ws")
			c.Send(models.ErrorEvent("rate limit exceeded, slow down"))
			continue
		}

		var event models.InboundEvent
		if err := json.Unmarshal(data, &event); err != nil || event.Type == "" {
			c.Send(models.ErrorEvent("malformed event"))
			continue
		}

		if err := c.router.Route(ctx, c, c.claims, event); err != nil {
			if apperrors.HTTPStatus(err) >= 500 {
				logger.Error("Handling %s from %s: %v", event.Type, c.claims.Username, err)
			} else {
				logger.Debug("Rejected %s from %s: %v", event.Type, c.claims.Username, err)
			}
			c.Send(models.ErrorEvent(apperrors.PublicMessage(err)))
		}
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Error("Write error on conn %s: %v", c.id, err)
				c.Close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}

		case <-c.quit:
			c.flush()
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes whatever is still queued, such as the error that explains
// a forced disconnect.
func (c *Client) flush() {
	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		default:
			return
		}
	}
}
