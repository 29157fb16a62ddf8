// Package domain contains core types shared across modules.
package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind identifies the delivery mechanism of an outbox item.
// The kind space is closed: adding a kind requires a new constant here,
// a dispatcher registration and a case in every switch over Kind.
type Kind string

// Outbox item kinds.
const (
	KindEmail   Kind = "email"
	KindWebhook Kind = "webhook"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindEmail, KindWebhook:
		return true
	}
	return false
}

// Status represents the delivery status of an outbox row.
type Status string

// Outbox row statuses. Delivered and Dead are terminal; Dead is exited
// only through an explicit admin requeue.
const (
	StatusQueued     Status = "queued"
	StatusDelivering Status = "delivering"
	StatusDelivered  Status = "delivered"
	StatusFailed     Status = "failed"
	StatusDead       Status = "dead"
)

// OutboxItem is the producer-side input to Enqueue. It is not persisted
// as such; the repository assigns identity and bookkeeping fields.
type OutboxItem struct {
	TenantID string          // empty for platform-scoped effects
	Kind     Kind
	Payload  json.RawMessage
}

// Validate checks item fields before enqueue.
func (i OutboxItem) Validate() error {
	if !i.Kind.Valid() {
		return fmt.Errorf("unknown outbox kind %q", i.Kind)
	}
	if len(i.Payload) == 0 {
		return fmt.Errorf("outbox payload is empty")
	}
	if !json.Valid(i.Payload) {
		return fmt.Errorf("outbox payload is not valid JSON")
	}
	return nil
}

// OutboxRow is a persisted outbox entry.
type OutboxRow struct {
	ID            string
	TenantID      string
	Kind          Kind
	Payload       json.RawMessage
	Status        Status
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
