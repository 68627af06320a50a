package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"casper-chat/internal/auth"
	"casper-chat/internal/models"
	"casper-chat/pkg/logger"
)

type AuthHandlers struct {
	authService *auth.Service
}

func NewAuthHandlers(authService *auth.Service) *AuthHandlers {
	return &AuthHandlers{
		authService: authService,
	}
}

func (h *AuthHandlers) Register(c *gin.Context) {
	var req models.RegisterRequest
	if !bindJSON(c, &req) {
		return
	}

	response, err := h.authService.Register(c.Request.Context(), &req)
	if err != nil {
		logger.Warn("Registration failed for %q: %v", req.Username, err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, response)
}

func (h *AuthHandlers) Login(c *gin.Context) {
	var req models.LoginRequest
	if !bindJSON(c, &req) {
		return
	}

	response, err := h.authService.Login(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response)
}

func (h *AuthHandlers) AdminLogin(c *gin.Context) {
	var req models.AdminLoginRequest
	if !bindJSON(c, &req) {
		return
	}

	response, err := h.authService.AdminLogin(c.Request.Context(), &req)
	if err != nil {
		logger.Warn("Admin login rejected from %s: %v", c.ClientIP(), err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": response.Token})
}
