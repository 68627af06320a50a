package models

import "time"

const (
	RoleUser = "user"
	RoleAI   = "ai"
)

type AITurn struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Backend   string    `json:"backend,omitempty"`
	CreatedAt time.Time `json:"timestamp"`
}

// AIConversation is keyed by (Username, SessionID) and only ever appended to.
type AIConversation struct {
	Username  string   `json:"username"`
	SessionID string   `json:"sessionId"`
	Turns     []AITurn `json:"turns"`
}

type AIChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
	Backend   string `json:"backend"`
}

type AIChatResponse struct {
	Response string `json:"response"`
	Backend  string `json:"backend"`
}
