package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"casper-chat/internal/admin"
	"casper-chat/internal/ai"
	"casper-chat/internal/apperrors"
	"casper-chat/internal/database"
	"casper-chat/internal/models"
	"casper-chat/internal/observability"
	"casper-chat/internal/ratelimit"
	"casper-chat/internal/session"
	"casper-chat/pkg/logger"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// ChatHandlers serves the authenticated user endpoints.
type ChatHandlers struct {
	db        database.Database
	ai        *ai.Service
	aiLimiter ratelimit.KeyedLimiter
	admin     *admin.Service
}

func NewChatHandlers(db database.Database, aiService *ai.Service, aiLimiter ratelimit.KeyedLimiter, adminService *admin.Service) *ChatHandlers {
	return &ChatHandlers{
		db:        db,
		ai:        aiService,
		aiLimiter: aiLimiter,
		admin:     adminService,
	}
}

// GetMessages returns a room's latest messages, oldest first. Private rooms
// are readable by their two participants and by admins.
func (h *ChatHandlers) GetMessages(c *gin.Context) {
	claims, ok := claimsOf(c)
	if !ok {
		return
	}

	room := c.DefaultQuery("room", models.GlobalRoom)
	if room != models.GlobalRoom {
		if _, _, ok := session.ParseRoomKey(room); !ok {
			respondError(c, apperrors.Validation("invalid room %q", room))
			return
		}
		if !claims.IsAdmin && !session.IsParticipant(room, claims.Username) {
			respondError(c, apperrors.Forbidden("not a participant of room %s", room))
			return
		}
	}

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(c, apperrors.Validation("limit must be a positive integer"))
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	messages, err := h.db.ListMessages(c.Request.Context(), room, limit)
	if err != nil {
		respondError(c, apperrors.Store("list messages", err))
		return
	}
	if messages == nil {
		messages = []*models.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"room": room, "messages": messages})
}

func (h *ChatHandlers) ListUsers(c *gin.Context) {
	users, err := h.db.ListUsers(c.Request.Context())
	if err != nil {
		respondError(c, apperrors.Store("list users", err))
		return
	}
	if users == nil {
		users = []*models.User{}
	}
	c.JSON(http.StatusOK, gin.H{"users": users, "count": len(users)})
}

func (h *ChatHandlers) AIChat(c *gin.Context) {
	claims, ok := claimsOf(c)
	if !ok {
		return
	}
	var req models.AIChatRequest
	if !bindJSON(c, &req) {
		return
	}

	allowed, err := h.aiLimiter.Allow(c.Request.Context(), "ai:"+strings.ToLower(claims.Username))
	if err != nil {
		logger.Warn("AI rate limiter unavailable for %s: %v", claims.Username, err)
	} else if !allowed {
		observability.IncRateLimited("ai")
		respondError(c, apperrors.RateLimited("too many AI requests, slow down"))
		return
	}

	reply, err := h.ai.Chat(c.Request.Context(), claims.Username, req.SessionID, req.Message, req.Backend)
	if err != nil && reply.Text == "" {
		respondError(c, err)
		return
	}
	if err != nil {
		logger.Error("Saving AI conversation for %s: %v", claims.Username, err)
	}
	c.JSON(http.StatusOK, models.AIChatResponse{Response: reply.Text, Backend: reply.Backend})
}

func (h *ChatHandlers) AIHistory(c *gin.Context) {
	claims, ok := claimsOf(c)
	if !ok {
		return
	}
	conv, err := h.ai.History(c.Request.Context(), claims.Username, c.Query("sessionId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (h *ChatHandlers) ListMyTickets(c *gin.Context) {
	claims, ok := claimsOf(c)
	if !ok {
		return
	}
	tickets, err := h.admin.UserTickets(c.Request.Context(), claims)
	if err != nil {
		respondError(c, err)
		return
	}
	if tickets == nil {
		tickets = []*models.Ticket{}
	}
	c.JSON(http.StatusOK, gin.H{"tickets": tickets})
}

func (h *ChatHandlers) GetTicket(c *gin.Context) {
	claims, ok := claimsOf(c)
	if !ok {
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, apperrors.Validation("invalid ticket id"))
		return
	}
	ticket, err := h.admin.Ticket(c.Request.Context(), claims, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ticket)
}
