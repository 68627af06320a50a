package models

import (
	"time"

	"github.com/google/uuid"
)

type TicketStatus string

const (
	TicketPending TicketStatus = "pending"
	TicketReplied TicketStatus = "replied"
)

const (
	CategoryBug        = "bug"
	CategoryThanks     = "thanks"
	CategorySuggestion = "suggestion"
	CategoryOther      = "other"
)

// Ticket is a user-to-admin feedback item. It moves pending -> replied once.
type Ticket struct {
	ID             uuid.UUID    `json:"id"`
	ConversationID uuid.UUID    `json:"conversationId"`
	Username       string       `json:"username"`
	Category       string       `json:"category"`
	Message        string       `json:"message"`
	Reply          string       `json:"reply,omitempty"`
	Status         TicketStatus `json:"status"`
	CreatedAt      time.Time    `json:"createdAt"`
	RepliedAt      *time.Time   `json:"repliedAt,omitempty"`
}

// NormalizeCategory maps unknown or empty categories to "other".
func NormalizeCategory(category string) string {
	switch category {
	case CategoryBug, CategoryThanks, CategorySuggestion:
		return category
	default:
		return CategoryOther
	}
}

// Acknowledgement is the canned text sent back to a user after feedback.
func Acknowledgement(category string) string {
	switch NormalizeCategory(category) {
	case CategoryBug:
		return "Thank you for your bug report. We'll investigate!"
	case CategoryThanks:
		return "You're most welcome! We appreciate your support."
	case CategorySuggestion:
		return "Thanks for your suggestion! The admin will review it soon."
	default:
		return "Thanks for your feedback! The admin will get back to you."
	}
}
