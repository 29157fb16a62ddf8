package domain

import (
	"encoding/json"
	"time"
)

// WebhookPayload is the payload carried by a webhook-kind outbox row.
// Only the delivery outcome is persisted (as a DeliveryRecord); the
// payload itself lives in the outbox row until it reaches a terminal state.
type WebhookPayload struct {
	URL      string            `json:"url"`
	Event    string            `json:"event"`
	Body     json.RawMessage   `json:"body"`
	Secret   string            `json:"secret,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
	TenantID string            `json:"tenant_id,omitempty"`
}

// EmailPayload is the payload carried by an email-kind outbox row.
type EmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// DeliveryOutcome is the terminal outcome of a single outbound attempt.
type DeliveryOutcome string

// Delivery outcomes.
const (
	DeliveryDelivered DeliveryOutcome = "delivered"
	DeliveryFailed    DeliveryOutcome = "failed"
)

// DeliveryRecord is one entry in the append-only outbound delivery log.
type DeliveryRecord struct {
	ID         string
	TenantID   string
	URL        string
	Event      string
	Outcome    DeliveryOutcome
	HTTPStatus int
	Error      string
	CreatedAt  time.Time
}
