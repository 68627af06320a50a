package handlers

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"casper-chat/internal/apperrors"
	"casper-chat/internal/auth"
	"casper-chat/internal/config"
	"casper-chat/internal/models"
	"casper-chat/internal/observability"
	"casper-chat/internal/session"
	ws "casper-chat/internal/websocket"
	"casper-chat/pkg/logger"
)

type WebSocketHandlers struct {
	authService *auth.Service
	registry    *session.Registry
	router      ws.Router
	baseCtx     context.Context
	opts        ws.Options
	upgrader    websocket.Upgrader
}

// NewWebSocketHandlers builds the /ws handler. baseCtx bounds the lifetime
// of every connection it accepts.
func NewWebSocketHandlers(baseCtx context.Context, authService *auth.Service, registry *session.Registry, router ws.Router, cfg *config.Config) *WebSocketHandlers {
	return &WebSocketHandlers{
		authService: authService,
		registry:    registry,
		router:      router,
		baseCtx:     baseCtx,
		opts: ws.Options{
			MaxMessageBytes: cfg.WebSocket.MaxMessageBytes,
			RateBurst:       cfg.WebSocket.RateBurst,
			RateInterval:    cfg.WebSocket.RateInterval,
		},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.Server.AllowedOrigins),
		},
	}
}

// originChecker allows any origin when the list is empty or contains "*".
// Requests without an Origin header come from non-browser clients and pass.
func originChecker(allowed []string) func(r *http.Request) bool {
	hosts := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		hosts[strings.ToLower(strings.TrimRight(origin, "/"))] = struct{}{}
	}
	if len(hosts) == 0 {
		return func(*http.Request) bool { return true }
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		_, ok := hosts[strings.ToLower(u.Scheme+"://"+u.Host)]
		return ok
	}
}

func (h *WebSocketHandlers) HandleWebSocket(c *gin.Context) {
	tokenStr := c.Query("token")
	if tokenStr == "" {
		respondError(c, apperrors.Auth("missing token"))
		return
	}

	claims, err := h.authService.ValidateToken(tokenStr)
	if err != nil {
		respondError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error("Upgrade error: %v", err)
		return
	}

	client := ws.NewClient(conn, observability.IPFromRequest(c.Request), claims, h.router, h.registry, h.opts)

	// Bound before the pumps run, so a peer that drops at once is unbound
	// by ReadPump's Leave.
	if claims.IsAdmin {
		h.registry.JoinAdmin(client)
	} else if err := h.registry.Join(h.baseCtx, client, claims.Username); err != nil {
		logger.Warn("Rejected websocket for %s: %v", claims.Username, err)
		client.Send(models.ErrorEvent(apperrors.PublicMessage(err)))
		client.Close()
	}
	client.Start(h.baseCtx)
}
