package notify

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Delivery lifecycle states as stored in webhook_deliveries.status.
const (
	DeliveryPending    = "pending"
	DeliveryDelivering = "delivering"
	DeliveryDelivered  = "delivered"
	DeliveryFailed     = "failed"
	DeliveryDLQ        = "dlq"
)

// ErrEndpointNotFound is returned when a webhook endpoint does not exist.
var ErrEndpointNotFound = errors.New("notify: endpoint not found")

// ErrDeliveryNotFound is returned when a webhook delivery does not exist.
var ErrDeliveryNotFound = errors.New("notify: delivery not found")

// ErrAlreadyScheduled is returned when a delivery for the endpoint/event pair
// already exists.
var ErrAlreadyScheduled = errors.New("notify: delivery already scheduled")

// Endpoint is a subscriber URL for domain event webhooks. An empty Topics
// slice subscribes the endpoint to every topic.
type Endpoint struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Secret    string    `json:"-"`
	Active    bool      `json:"active"`
	Topics    []string  `json:"topics"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Delivery is one webhook delivery attempt chain for an endpoint/event pair.
type Delivery struct {
	ID             uuid.UUID  `json:"id"`
	EndpointID     uuid.UUID  `json:"endpointId"`
	EventID        uuid.UUID  `json:"eventId"`
	Status         string     `json:"status"`
	Attempt        int        `json:"attempt"`
	MaxAttempt     int        `json:"maxAttempt"`
	LastError      string     `json:"lastError,omitempty"`
	ResponseStatus int        `json:"responseStatus,omitempty"`
	ResponseBody   string     `json:"responseBody,omitempty"`
	DeliveredAt    *time.Time `json:"deliveredAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// DeliveryFilter narrows admin delivery listings.
type DeliveryFilter struct {
	EndpointID *uuid.UUID
	EventID    *uuid.UUID
	Status     string
}
