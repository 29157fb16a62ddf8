// Package outbox provides the durable outbound-effects queue: enqueue,
// at-least-once delivery with retry/backoff, dead-letter handling and
// admin operations over dead rows.
package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/outboxlab/outpost/internal/domain"
)

// Repository errors.
var (
	ErrRowNotFound = errors.New("outbox row not found")
)

// QueueStats holds per-status row counts for dashboards and gauges.
type QueueStats struct {
	Queued     int64
	Delivering int64
	Delivered  int64
	Failed     int64
	Dead       int64
}

// Repository defines the interface for outbox persistence.
//
// ClaimBatch must be atomic across concurrent callers: no two invocations
// may return the same row. Eligible rows are those in queued or failed
// status with next_attempt_at <= now; failed rows re-enter eligibility
// through the claim filter rather than an explicit failed->queued sweep.
type Repository interface {
	// Enqueue inserts a new queued row and returns its id.
	Enqueue(ctx context.Context, item domain.OutboxItem, now time.Time) (string, error)

	// ClaimBatch selects up to limit eligible rows ordered by
	// next_attempt_at ascending and flips them to delivering in the same
	// operation. An empty result is not an error.
	ClaimBatch(ctx context.Context, now time.Time, limit int) ([]domain.OutboxRow, error)

	// MarkSuccess transitions a row to delivered and clears last_error.
	// Idempotent.
	MarkSuccess(ctx context.Context, id string) error

	// MarkFailure records a failed attempt. attempts is the new attempt
	// count (previous count + 1). The row moves to dead once attempts
	// reaches the retry ceiling, otherwise to failed with the next
	// attempt scheduled per BackoffDelay.
	MarkFailure(ctx context.Context, id, errMsg string, attempts int, now time.Time) error

	// MarkDead promotes a row straight to dead, bypassing backoff. Used
	// for permanent failures that cannot succeed on retry.
	MarkDead(ctx context.Context, id, errMsg string, attempts int) error

	// ListDead returns up to limit dead rows, most recently updated first.
	ListDead(ctx context.Context, limit int) ([]domain.OutboxRow, error)

	// ListDeadPage returns a page of dead rows using seek pagination on
	// (updated_at DESC, id DESC). A nil cursor means the first page; the
	// returned cursor is nil when no further pages exist.
	ListDeadPage(ctx context.Context, limit int, cursor *Cursor) ([]domain.OutboxRow, *Cursor, error)

	// DeadIDs returns up to limit dead row ids, oldest first. Used by
	// the bounded requeue-all/purge-all admin operations.
	DeadIDs(ctx context.Context, limit int) ([]string, error)

	// Requeue resets matching dead rows to queued with next_attempt_at
	// set to now and last_error cleared. Rows not in dead status are
	// left untouched. Returns the number of rows reset.
	Requeue(ctx context.Context, ids []string, now time.Time) (int64, error)

	// CountDead returns the number of dead rows.
	CountDead(ctx context.Context) (int64, error)

	// Purge hard-deletes matching rows, restricted to dead status.
	// Returns the number of rows deleted.
	Purge(ctx context.Context, ids []string) (int64, error)

	// ReclaimStale resets delivering rows whose claim is older than
	// olderThan back to failed so they become claimable again. Guards
	// against workers that crashed mid-batch.
	ReclaimStale(ctx context.Context, olderThan time.Time) (int64, error)

	// Stats returns per-status row counts.
	Stats(ctx context.Context) (*QueueStats, error)
}
