package handlers

import (
	"github.com/gin-gonic/gin"

	"casper-chat/internal/middleware"
)

type Routes struct {
	Auth      *AuthHandlers
	Chat      *ChatHandlers
	Admin     *AdminHandlers
	WebSocket *WebSocketHandlers
	Validator middleware.TokenValidator
}

// Register mounts the HTTP surface on r. The auth and REST routes are
// served both at the root and under /api.
func (rt Routes) Register(r *gin.Engine) {
	for _, prefix := range []string{"/", "/api"} {
		g := r.Group(prefix)
		g.POST("/register", rt.Auth.Register)
		g.POST("/login", rt.Auth.Login)
		g.POST("/admin-login", rt.Auth.AdminLogin)

		authed := g.Group("", middleware.AuthMiddleware(rt.Validator))
		authed.GET("/messages", rt.Chat.GetMessages)
		authed.GET("/users", rt.Chat.ListUsers)
		authed.POST("/ai-chat", rt.Chat.AIChat)
		authed.GET("/ai-chat/history", rt.Chat.AIHistory)
		authed.GET("/tickets", rt.Chat.ListMyTickets)
		authed.GET("/tickets/:id", rt.Chat.GetTicket)

		adm := authed.Group("/admin", middleware.AdminOnly())
		adm.GET("/stats", rt.Admin.Stats)
		adm.GET("/tickets", rt.Admin.ListTickets)
		adm.POST("/tickets/:id/reply", rt.Admin.ReplyTicket)
		adm.POST("/broadcast", rt.Admin.Broadcast)
		adm.POST("/block-user", rt.Admin.BlockUser)
		adm.POST("/unblock-user", rt.Admin.UnblockUser)
		adm.POST("/create-ad", rt.Admin.CreateAd)
		adm.GET("/dashboard", rt.Admin.Dashboard)
	}

	if rt.WebSocket != nil {
		r.GET("/ws", rt.WebSocket.HandleWebSocket)
	}
}
