package models

import (
	"encoding/json"
	"time"
)

type EventType string

// Inbound event types.
const (
	EventJoin             EventType = "join"
	EventJoinRoom         EventType = "joinRoom"
	EventSendMessage      EventType = "sendMessage"
	EventPrivateMessage   EventType = "privateMessage"
	EventFeedback         EventType = "feedback"
	EventBroadcastRequest EventType = "broadcastRequest"
	EventAdminReply       EventType = "adminReply"
	EventAIMessage        EventType = "aiMessage"
	EventDashboardRequest EventType = "dashboardRequest"
)

// Outbound event types. privateMessage is used in both directions.
const (
	EventUserList         EventType = "userList"
	EventNewMessage       EventType = "newMessage"
	EventRoomHistory      EventType = "roomHistory"
	EventAdminFeedback    EventType = "adminFeedback"
	EventFeedbackReceived EventType = "feedbackReceived"
	EventBroadcast        EventType = "broadcast"
	EventNewAd            EventType = "newAd"
	EventAIReply          EventType = "aiReply"
	EventTicketReply      EventType = "ticketReply"
	EventDashboardData    EventType = "dashboardData"
	EventError            EventType = "error"
)

type InboundEvent struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type OutboundEvent struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

func NewEvent(t EventType, payload any) OutboundEvent {
	return OutboundEvent{Type: t, Payload: payload}
}

func ErrorEvent(message string) OutboundEvent {
	return OutboundEvent{Type: EventError, Payload: ErrorPayload{Message: message}}
}

// Inbound payloads

type JoinPayload struct {
	Username string `json:"username"`
}

type JoinRoomPayload struct {
	Room string `json:"room"`
	With string `json:"with"`
}

type SendMessagePayload struct {
	Message string `json:"message"`
	Room    string `json:"room"`
}

type PrivateMessagePayload struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Message string `json:"message"`
}

type FeedbackPayload struct {
	From     string `json:"from"`
	Category string `json:"category"`
	Message  string `json:"message"`
}

type AdminReplyPayload struct {
	TicketID string `json:"ticketId"`
	Reply    string `json:"reply"`
}

type AIMessagePayload struct {
	Text      string `json:"text"`
	SessionID string `json:"sessionId"`
	Backend   string `json:"backend"`
}

// Outbound payloads

type UserListPayload struct {
	Users []RosterEntry `json:"users"`
	Count int           `json:"count"`
}

type NewMessagePayload struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Message   string    `json:"message"`
	Room      string    `json:"room"`
	Timestamp time.Time `json:"timestamp"`
}

type PrivateMessageOut struct {
	ID        int64     `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Message   string    `json:"message"`
	Room      string    `json:"room"`
	Timestamp time.Time `json:"timestamp"`
}

type RoomHistoryPayload struct {
	Room     string     `json:"room"`
	Messages []*Message `json:"messages"`
}

type FeedbackReceivedPayload struct {
	TicketID        string `json:"ticketId"`
	Acknowledgement string `json:"acknowledgement"`
}

type TicketReplyPayload struct {
	TicketID string    `json:"ticketId"`
	Message  string    `json:"message"`
	Reply    string    `json:"reply"`
	At       time.Time `json:"timestamp"`
}

type AIReplyPayload struct {
	Text      string `json:"text"`
	Backend   string `json:"backend"`
	SessionID string `json:"sessionId,omitempty"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
