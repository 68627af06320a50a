package handlers

import (
	"github.com/gin-gonic/gin"

	"casper-chat/internal/apperrors"
	"casper-chat/internal/auth"
	"casper-chat/internal/middleware"
	"casper-chat/pkg/logger"
)

func respondError(c *gin.Context, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= 500 {
		logger.Error("%s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": apperrors.PublicMessage(err)})
}

// bindJSON decodes the request body into dst, replying 400 on failure.
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		respondError(c, apperrors.Validation("invalid request body"))
		return false
	}
	return true
}

func claimsOf(c *gin.Context) (*auth.Claims, bool) {
	claims := middleware.ClaimsFromContext(c)
	if claims == nil {
		respondError(c, apperrors.Auth("missing identity"))
		return nil, false
	}
	return claims, true
}
