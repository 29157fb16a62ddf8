// Package postgres provides the PostgreSQL implementation of the outbox
// repository.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/outboxlab/outpost/internal/domain"
	"github.com/outboxlab/outpost/internal/outbox"
)

const rowColumns = `id, tenant_id, kind, payload, status, attempts, next_attempt_at, last_error, created_at, updated_at`

// Repository implements outbox.Repository using PostgreSQL.
type Repository struct {
	db          *pgxpool.Pool
	maxAttempts int
}

// NewRepository creates a new PostgreSQL outbox repository. maxAttempts
// is the retry ceiling; values below 1 fall back to the default.
func NewRepository(db *pgxpool.Pool, maxAttempts int) *Repository {
	if maxAttempts < 1 {
		maxAttempts = outbox.DefaultMaxAttempts
	}
	return &Repository{db: db, maxAttempts: maxAttempts}
}

// Enqueue inserts a new queued row.
func (r *Repository) Enqueue(ctx context.Context, item domain.OutboxItem, now time.Time) (string, error) {
	query := `
		INSERT INTO outbox (tenant_id, kind, payload, status, attempts, next_attempt_at, created_at, updated_at)
		VALUES (NULLIF($1, ''), $2, $3, 'queued', 0, $4, $4, $4)
		RETURNING id
	`
	var id string
	err := r.db.QueryRow(ctx, query, item.TenantID, item.Kind, []byte(item.Payload), now).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("enqueue: %w", err)
	}
	return id, nil
}

// ClaimBatch atomically claims up to limit eligible rows. The inner
// SELECT takes row locks with SKIP LOCKED so concurrent drains never
// claim the same row; the UPDATE flips them to delivering in the same
// statement.
//
// The claim filter includes failed rows: eligibility is driven by
// next_attempt_at alone, so backoff expiry re-enters a failed row into
// the queue without a separate failed->queued transition.
func (r *Repository) ClaimBatch(ctx context.Context, now time.Time, limit int) ([]domain.OutboxRow, error) {
	query := `
		UPDATE outbox SET status = 'delivering', updated_at = $1
		WHERE id IN (
			SELECT id FROM outbox
			WHERE status IN ('queued', 'failed') AND next_attempt_at <= $1
			ORDER BY next_attempt_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + rowColumns

	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	defer rows.Close()

	return scanRows(rows)
}

// MarkSuccess transitions a row to delivered. Idempotent: marking an
// already delivered row is a no-op, not an error.
func (r *Repository) MarkSuccess(ctx context.Context, id string) error {
	query := `
		UPDATE outbox
		SET status = 'delivered', last_error = NULL, updated_at = NOW()
		WHERE id = $1 AND status <> 'delivered'
	`
	if _, err := r.db.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("mark success: %w", err)
	}
	return nil
}

// MarkFailure records a failed attempt, scheduling the next one per the
// backoff schedule or promoting the row to dead at the retry ceiling.
func (r *Repository) MarkFailure(ctx context.Context, id, errMsg string, attempts int, now time.Time) error {
	if attempts >= r.maxAttempts {
		return r.MarkDead(ctx, id, errMsg, attempts)
	}

	next := now.Add(outbox.BackoffDelay(attempts))
	query := `
		UPDATE outbox
		SET status = 'failed', attempts = $2, next_attempt_at = $3, last_error = $4, updated_at = NOW()
		WHERE id = $1
	`
	res, err := r.db.Exec(ctx, query, id, attempts, next, errMsg)
	if err != nil {
		return fmt.Errorf("mark failure: %w", err)
	}
	if res.RowsAffected() == 0 {
		return outbox.ErrRowNotFound
	}
	return nil
}

// MarkDead promotes a row to dead.
func (r *Repository) MarkDead(ctx context.Context, id, errMsg string, attempts int) error {
	query := `
		UPDATE outbox
		SET status = 'dead', attempts = $2, last_error = $3, updated_at = NOW()
		WHERE id = $1
	`
	res, err := r.db.Exec(ctx, query, id, attempts, errMsg)
	if err != nil {
		return fmt.Errorf("mark dead: %w", err)
	}
	if res.RowsAffected() == 0 {
		return outbox.ErrRowNotFound
	}
	return nil
}

// ListDead returns up to limit dead rows, most recently updated first.
func (r *Repository) ListDead(ctx context.Context, limit int) ([]domain.OutboxRow, error) {
	query := `
		SELECT ` + rowColumns + `
		FROM outbox
		WHERE status = 'dead'
		ORDER BY updated_at DESC, id DESC
		LIMIT $1
	`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead: %w", err)
	}
	defer rows.Close()

	return scanRows(rows)
}

// ListDeadPage returns a page of dead rows using seek pagination on
// (updated_at DESC, id DESC). One extra row is fetched to decide whether
// a next page exists.
func (r *Repository) ListDeadPage(ctx context.Context, limit int, cursor *outbox.Cursor) ([]domain.OutboxRow, *outbox.Cursor, error) {
	var (
		rows pgx.Rows
		err  error
	)

	if cursor == nil {
		query := `
			SELECT ` + rowColumns + `
			FROM outbox
			WHERE status = 'dead'
			ORDER BY updated_at DESC, id DESC
			LIMIT $1
		`
		rows, err = r.db.Query(ctx, query, limit+1)
	} else {
		query := `
			SELECT ` + rowColumns + `
			FROM outbox
			WHERE status = 'dead' AND (updated_at, id) < ($2, $3)
			ORDER BY updated_at DESC, id DESC
			LIMIT $1
		`
		rows, err = r.db.Query(ctx, query, limit+1, cursor.UpdatedAt, cursor.ID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("list dead page: %w", err)
	}
	defer rows.Close()

	page, err := scanRows(rows)
	if err != nil {
		return nil, nil, err
	}

	if len(page) <= limit {
		return page, nil, nil
	}

	page = page[:limit]
	last := page[len(page)-1]
	return page, &outbox.Cursor{UpdatedAt: last.UpdatedAt, ID: last.ID}, nil
}

// DeadIDs returns up to limit dead row ids, oldest first.
func (r *Repository) DeadIDs(ctx context.Context, limit int) ([]string, error) {
	query := `
		SELECT id FROM outbox
		WHERE status = 'dead'
		ORDER BY updated_at ASC, id ASC
		LIMIT $1
	`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("dead ids: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Requeue resets matching dead rows to queued. Requeue is restricted to
// dead rows so an operator cannot yank a row out from under a live
// delivery.
func (r *Repository) Requeue(ctx context.Context, ids []string, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query := `
		UPDATE outbox
		SET status = 'queued', next_attempt_at = $2, last_error = NULL, updated_at = NOW()
		WHERE id = ANY($1::uuid[]) AND status = 'dead'
	`
	res, err := r.db.Exec(ctx, query, ids, now)
	if err != nil {
		return 0, fmt.Errorf("requeue: %w", err)
	}
	return res.RowsAffected(), nil
}

// CountDead returns the number of dead rows.
func (r *Repository) CountDead(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE status = 'dead'`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count dead: %w", err)
	}
	return n, nil
}

// Purge hard-deletes matching rows. Deletion outside dead status is
// ignored.
func (r *Repository) Purge(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query := `DELETE FROM outbox WHERE id = ANY($1::uuid[]) AND status = 'dead'`
	res, err := r.db.Exec(ctx, query, ids)
	if err != nil {
		return 0, fmt.Errorf("purge: %w", err)
	}
	return res.RowsAffected(), nil
}

// ReclaimStale resets delivering rows whose claim is older than olderThan
// back to failed. The attempt counter is not incremented: the worker that
// claimed them never reported an outcome.
func (r *Repository) ReclaimStale(ctx context.Context, olderThan time.Time) (int64, error) {
	query := `
		UPDATE outbox
		SET status = 'failed', last_error = 'stale delivery reclaimed', next_attempt_at = NOW(), updated_at = NOW()
		WHERE status = 'delivering' AND updated_at < $1
	`
	res, err := r.db.Exec(ctx, query, olderThan)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale: %w", err)
	}
	return res.RowsAffected(), nil
}

// Stats returns per-status row counts.
func (r *Repository) Stats(ctx context.Context) (*outbox.QueueStats, error) {
	query := `SELECT status, COUNT(*) FROM outbox GROUP BY status`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := &outbox.QueueStats{}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		switch domain.Status(status) {
		case domain.StatusQueued:
			stats.Queued = count
		case domain.StatusDelivering:
			stats.Delivering = count
		case domain.StatusDelivered:
			stats.Delivered = count
		case domain.StatusFailed:
			stats.Failed = count
		case domain.StatusDead:
			stats.Dead = count
		}
	}
	return stats, rows.Err()
}

func scanRows(rows pgx.Rows) ([]domain.OutboxRow, error) {
	out := make([]domain.OutboxRow, 0)
	for rows.Next() {
		var (
			row      domain.OutboxRow
			tenantID *string
			lastErr  *string
			payload  []byte
		)
		err := rows.Scan(
			&row.ID,
			&tenantID,
			&row.Kind,
			&payload,
			&row.Status,
			&row.Attempts,
			&row.NextAttemptAt,
			&lastErr,
			&row.CreatedAt,
			&row.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		if tenantID != nil {
			row.TenantID = *tenantID
		}
		if lastErr != nil {
			row.LastError = *lastErr
		}
		row.Payload = payload
		out = append(out, row)
	}
	return out, rows.Err()
}
