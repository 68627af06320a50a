package events

import (
	"context"
	"time"

	"casper-chat/pkg/logger"
)

// Audit event types, also used as routing keys.
const (
	FeedbackCreated = "feedback.created"
	TicketReplied   = "ticket.replied"
	AdminBroadcast  = "admin.broadcast"
	UserBlocked     = "admin.user_blocked"
	UserUnblocked   = "admin.user_unblocked"
	AdCreated       = "admin.ad_created"
)

type AuditEnvelope struct {
	SchemaVersion int    `json:"schema_version"`
	EventType     string `json:"event_type"`
	OccurredAt    string `json:"occurred_at"`
	Service       string `json:"service"`
	Actor         string `json:"actor"`
	Payload       any    `json:"payload"`
}

type AuditEmitter struct {
	publisher Publisher
	service   string
}

func NewAuditEmitter(publisher Publisher, service string) *AuditEmitter {
	return &AuditEmitter{publisher: publisher, service: service}
}

// Emit publishes an audit event. Failures are logged and never returned:
// the action being audited has already happened.
func (e *AuditEmitter) Emit(ctx context.Context, eventType, actor string, payload any) {
	if e == nil || e.publisher == nil {
		return
	}

	envelope := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     eventType,
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Actor:         actor,
		Payload:       payload,
	}

	if err := e.publisher.Publish(ctx, eventType, envelope); err != nil {
		logger.Error("Audit publish failed for %s: %v", eventType, err)
	}
}
