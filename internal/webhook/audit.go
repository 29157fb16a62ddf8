package webhook

import (
	"context"
	"strings"

	"github.com/outboxlab/outpost/internal/domain"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// AuditLog is the append-only outbound delivery log, separate from the
// outbox queue. Every outbound attempt lands here regardless of outcome.
type AuditLog interface {
	Append(ctx context.Context, rec domain.DeliveryRecord) error

	// ListRecent returns the most recent records, newest first,
	// optionally scoped to one tenant.
	ListRecent(ctx context.Context, tenantID string, limit int) ([]domain.DeliveryRecord, error)
}

var titleCaser = cases.Title(language.English)

// EventTitle renders an event name like "payment.succeeded" as a
// human-readable title for the admin UI.
func EventTitle(event string) string {
	if event == "" {
		return ""
	}
	replaced := strings.NewReplacer(".", " ", "_", " ", "-", " ").Replace(event)
	return titleCaser.String(replaced)
}
