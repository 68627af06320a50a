package models

import "time"

const GlobalRoom = "global"

type MessageType string

const (
	MessageTypePublic  MessageType = "public"
	MessageTypePrivate MessageType = "private"
)

type Message struct {
	ID        int64       `json:"id"`
	Sender    string      `json:"sender"`
	Recipient string      `json:"recipient,omitempty"`
	Body      string      `json:"message"`
	Room      string      `json:"room"`
	Type      MessageType `json:"type"`
	CreatedAt time.Time   `json:"timestamp"`
}
