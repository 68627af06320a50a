package models

import (
	"time"

	"github.com/google/uuid"
)

const DefaultBroadcastDuration = 10

type Broadcast struct {
	ID        uuid.UUID `json:"id"`
	Message   string    `json:"message"`
	Duration  int       `json:"duration"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"timestamp"`
}

type Ad struct {
	ID        uuid.UUID `json:"id"`
	Content   string    `json:"content"`
	ImageURL  string    `json:"imageUrl,omitempty"`
	Duration  int       `json:"duration"`
	CreatedAt time.Time `json:"timestamp"`
}

type Stats struct {
	TotalUsers      int `json:"totalUsers"`
	OnlineUsers     int `json:"onlineUsers"`
	TotalMessages   int `json:"totalMessages"`
	PrivateMessages int `json:"privateMessages"`
	PendingTickets  int `json:"pendingTickets"`
}

type Dashboard struct {
	Stats          Stats         `json:"stats"`
	Members        []RosterEntry `json:"members"`
	Broadcasts     []*Broadcast  `json:"broadcasts"`
	PendingTickets []*Ticket     `json:"feedback"`
	Ads            []*Ad         `json:"ads"`
}

type BroadcastRequest struct {
	Message  string `json:"message"`
	Duration int    `json:"duration"`
}

type CreateAdRequest struct {
	Content  string `json:"content"`
	ImageURL string `json:"imageUrl"`
	Duration int    `json:"duration"`
}

type BlockUserRequest struct {
	UserID int `json:"userId"`
}

type TicketReplyRequest struct {
	Reply string `json:"reply"`
}
