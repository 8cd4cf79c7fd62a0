package webhooks

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types subscriptions can listen for.
var eventTypes = map[string]bool{
	"rental.reserved":               true,
	"rental.picked_up":              true,
	"rental.returned":               true,
	"rental.overdue":                true,
	"sales_order.confirmed":         true,
	"sales_order.fulfilled":         true,
	"purchase_return.credited":      true,
	"inventory.unit_status_changed": true,
}

// ValidEventType reports whether t is a published event type.
func ValidEventType(t string) bool { return eventTypes[t] }

// EventTypes returns the whitelist in stable order for documentation endpoints.
func EventTypes() []string {
	out := make([]string, 0, len(eventTypes))
	for t := range eventTypes {
		out = append(out, t)
	}
	return out
}

// Subscription is a registered webhook endpoint. The signing secret never
// leaves the server; responses carry a masked form only.
type Subscription struct {
	ID          uuid.UUID `json:"id"`
	URL         string    `json:"url"`
	Secret      string    `json:"-"`
	SecretMask  string    `json:"secret,omitempty"`
	Events      []string  `json:"events"`
	Description string    `json:"description,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Event is the payload shape POSTed to subscribers.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
	Data      any       `json:"data"`
}

// DeliveryStatus tracks one delivery attempt chain.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "PENDING"
	DeliveryDelivered DeliveryStatus = "DELIVERED"
	DeliveryFailed    DeliveryStatus = "FAILED"
)

// Delivery is one event sent to one subscription. The payload is frozen at
// emit time so retries send exactly the same bytes the signature covers.
type Delivery struct {
	ID             uuid.UUID       `json:"id"`
	SubscriptionID uuid.UUID       `json:"subscription_id"`
	EventID        string          `json:"event_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	Status         DeliveryStatus  `json:"status"`
	Attempts       int             `json:"attempts"`
	LastError      string          `json:"last_error,omitempty"`
	DeliveredAt    *time.Time      `json:"delivered_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func maskSecret(secret string) string {
	if len(secret) <= 4 {
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}
