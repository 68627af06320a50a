package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"casper-chat/internal/admin"
	"casper-chat/internal/apperrors"
	"casper-chat/internal/models"
)

type AdminHandlers struct {
	admin *admin.Service
}

func NewAdminHandlers(adminService *admin.Service) *AdminHandlers {
	return &AdminHandlers{admin: adminService}
}

func (h *AdminHandlers) Stats(c *gin.Context) {
	claims, ok := claimsOf(c)
	if !ok {
		return
	}
	stats, err := h.admin.Stats(c.Request.Context(), claims)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *AdminHandlers) ListTickets(c *gin.Context) {
	claims, ok := claimsOf(c)
	if !ok {
		return
	}
	tickets, err := h.admin.ListTickets(c.Request.Context(), claims, c.Query("status"))
	if err != nil {
		respondError(c, err)
		return
	}
	if tickets == nil {
		tickets = []*models.Ticket{}
	}
	c.JSON(http.StatusOK, gin.H{"tickets": tickets})
}

func (h *AdminHandlers) ReplyTicket(c *gin.Context) {
	claims, ok := claimsOf(c)
	if !ok {
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, apperrors.Validation("invalid ticket id"))
		return
	}
	var req models.TicketReplyRequest
	if !bindJSON(c, &req) {
		return
	}

	ticket, err := h.admin.ReplyTicket(c.Request.Context(), claims, id, req.Reply)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ticket)
}

func (h *AdminHandlers) Broadcast(c *gin.Context) {
	claims, ok := claimsOf(c)
	if !ok {
		return
	}
	var req models.BroadcastRequest
	if !bindJSON(c, &req) {
		return
	}

	b, err := h.admin.Broadcast(c.Request.Context(), claims, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, b)
}

func (h *AdminHandlers) BlockUser(c *gin.Context) {
	h.setBlocked(c, true)
}

func (h *AdminHandlers) UnblockUser(c *gin.Context) {
	h.setBlocked(c, false)
}

func (h *AdminHandlers) setBlocked(c *gin.Context, blocked bool) {
	claims, ok := claimsOf(c)
	if !ok {
		return
	}
	var req models.BlockUserRequest
	if !bindJSON(c, &req) {
		return
	}

	var (
		user *models.User
		err  error
	)
	if blocked {
		user, err = h.admin.BlockUser(c.Request.Context(), claims, req.UserID)
	} else {
		user, err = h.admin.UnblockUser(c.Request.Context(), claims, req.UserID)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

func (h *AdminHandlers) CreateAd(c *gin.Context) {
	claims, ok := claimsOf(c)
	if !ok {
		return
	}
	var req models.CreateAdRequest
	if !bindJSON(c, &req) {
		return
	}

	ad, err := h.admin.CreateAd(c.Request.Context(), claims, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ad)
}

func (h *AdminHandlers) Dashboard(c *gin.Context) {
	claims, ok := claimsOf(c)
	if !ok {
		return
	}
	d, err := h.admin.Dashboard(c.Request.Context(), claims)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}
