package services

import (
	"context"

	"github.com/cleaninghouse/escrow/internal/events"
	"github.com/cleaninghouse/escrow/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Notifier is fire-and-forget: delivery failures are logged, never returned,
// so they cannot abort the money movement that triggered them.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, eventType string, payload map[string]any)
}

type EventNotifier struct {
	publisher events.Publisher
	log       *zap.Logger
}

func NewEventNotifier(publisher events.Publisher, log *zap.Logger) *EventNotifier {
	return &EventNotifier{publisher: publisher, log: log}
}

func (n *EventNotifier) Notify(ctx context.Context, userID uuid.UUID, eventType string, payload map[string]any) {
	err := n.publisher.Publish(ctx, events.StreamNotify, events.Event{
		Type:    eventType,
		UserID:  userID.String(),
		Payload: payload,
	})
	if err != nil {
		n.log.Warn("notification dropped",
			zap.String("user_id", userID.String()),
			zap.String("type", eventType),
			zap.Error(err),
		)
	}
}

// recorder writes the audit trail and the internal change event for a
// transition. Both are best effort.
type recorder struct {
	audit     AuditLogger
	publisher events.Publisher
	log       *zap.Logger
}

func (r recorder) record(ctx context.Context, actor models.Actor, entityType string, entityID uuid.UUID, action string, meta map[string]any) {
	if err := r.audit.Log(ctx, models.AuditLog{
		ActorUserID: actor.AuditID(),
		ActorType:   actor.ActorType(),
		Action:      action,
		EntityType:  entityType,
		EntityID:    &entityID,
		Meta:        meta,
	}); err != nil {
		r.log.Warn("audit log write failed", zap.String("action", action), zap.Error(err))
	}

	eventType := events.EventOrderStatusChanged
	switch entityType {
	case models.EntityHold:
		eventType = events.EventHoldStatusChanged
	case models.EntityPayout:
		eventType = events.EventPayoutStatusChanged
	}
	payload := map[string]any{"entity_type": entityType, "entity_id": entityID.String(), "action": action}
	for k, v := range meta {
		payload[k] = v
	}
	if err := r.publisher.Publish(ctx, events.StreamEscrow, events.Event{Type: eventType, Payload: payload}); err != nil {
		r.log.Warn("change event dropped", zap.String("action", action), zap.Error(err))
	}
}
