package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/outboxlab/outpost/internal/domain"
)

// Admin exposes operator actions over the dead-letter queue. Requeue and
// purge act only on rows currently in dead status; ids in any other
// status are silently skipped.
type Admin struct {
	repo Repository
}

// NewAdmin creates an admin service.
func NewAdmin(repo Repository) *Admin {
	return &Admin{repo: repo}
}

// DeadPage is one page of dead rows plus the cursor for the next page.
type DeadPage struct {
	Rows       []domain.OutboxRow
	NextCursor string // empty when this is the last page
}

// ListDead returns a page of dead rows ordered by updated_at descending.
func (a *Admin) ListDead(ctx context.Context, limit int, cursorToken string) (*DeadPage, error) {
	var cursor *Cursor
	if cursorToken != "" {
		var err error
		cursor, err = DecodeCursor(cursorToken)
		if err != nil {
			return nil, err
		}
	}

	rows, next, err := a.repo.ListDeadPage(ctx, limit, cursor)
	if err != nil {
		return nil, fmt.Errorf("list dead: %w", err)
	}

	page := &DeadPage{Rows: rows}
	if next != nil {
		page.NextCursor = next.Encode()
	}
	return page, nil
}

// Requeue resets the given dead rows to queued, eligible immediately.
func (a *Admin) Requeue(ctx context.Context, ids []string) (int64, error) {
	n, err := a.repo.Requeue(ctx, ids, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("requeue: %w", err)
	}

	slog.Info("dead rows requeued", "requested", len(ids), "requeued", n)
	return n, nil
}

// RequeueAll requeues up to limit dead rows, oldest first.
func (a *Admin) RequeueAll(ctx context.Context, limit int) (int64, error) {
	ids, err := a.repo.DeadIDs(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("requeue all: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	return a.Requeue(ctx, ids)
}

// Purge hard-deletes the given rows. Only dead rows are deleted.
func (a *Admin) Purge(ctx context.Context, ids []string) (int64, error) {
	n, err := a.repo.Purge(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("purge: %w", err)
	}

	slog.Info("dead rows purged", "requested", len(ids), "purged", n)
	return n, nil
}

// PurgeAll purges up to limit dead rows, oldest first.
func (a *Admin) PurgeAll(ctx context.Context, limit int) (int64, error) {
	ids, err := a.repo.DeadIDs(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("purge all: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	return a.Purge(ctx, ids)
}

// CountDead returns the number of dead rows.
func (a *Admin) CountDead(ctx context.Context) (int64, error) {
	return a.repo.CountDead(ctx)
}

// Stats returns per-status queue counts.
func (a *Admin) Stats(ctx context.Context) (*QueueStats, error) {
	return a.repo.Stats(ctx)
}
