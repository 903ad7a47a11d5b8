package events

import "context"

// Streams (redis pub/sub channels)
const (
	StreamNotify = "events:notify"
	StreamEscrow = "events:escrow"
)

// Notification types delivered to users.
const (
	EventInvitationReceived   = "invitation_received"
	EventInvitationAccepted   = "invitation_accepted"
	EventInvitationRejected   = "invitation_rejected"
	EventInvitationCancelled  = "invitation_cancelled"
	EventOrderCompleted       = "personalized_order_completed"
	EventOrderConfirmed       = "personalized_order_confirmed"
	EventOrderCancelled       = "personalized_order_cancelled"
	EventPaymentHoldCreated   = "payment_hold_created"
	EventPaymentHoldReleased  = "payment_hold_released"
	EventPaymentHoldCancelled = "payment_hold_cancelled"
	EventPaymentHoldExpired   = "payment_hold_expired"
	EventPaymentRefunded      = "payment_refunded"
	EventPayoutSucceeded      = "payout_succeeded"
	EventPayoutCancelled      = "payout_cancelled"
)

// Internal state-change events.
const (
	EventOrderStatusChanged  = "order_status_changed"
	EventHoldStatusChanged   = "hold_status_changed"
	EventPayoutStatusChanged = "payout_status_changed"
)

type Event struct {
	Type    string         `json:"type"`
	UserID  string         `json:"user_id,omitempty"`
	Payload map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}
