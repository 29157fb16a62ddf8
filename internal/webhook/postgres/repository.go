// Package postgres provides PostgreSQL implementations of the webhook
// audit log and the tenant allowlist resolver.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/outboxlab/outpost/internal/domain"
)

// AuditLog implements webhook.AuditLog using PostgreSQL. The table is
// append-only; records are never updated or deleted by the application.
type AuditLog struct {
	db *pgxpool.Pool
}

// NewAuditLog creates a new PostgreSQL audit log.
func NewAuditLog(db *pgxpool.Pool) *AuditLog {
	return &AuditLog{db: db}
}

// Append writes one delivery record.
func (a *AuditLog) Append(ctx context.Context, rec domain.DeliveryRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	query := `
		INSERT INTO outbound_deliveries (id, tenant_id, url, event, outcome, http_status, error, created_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, NULLIF($6, 0), NULLIF($7, ''), NOW())
	`
	_, err := a.db.Exec(ctx, query,
		rec.ID,
		rec.TenantID,
		rec.URL,
		rec.Event,
		rec.Outcome,
		rec.HTTPStatus,
		rec.Error,
	)
	if err != nil {
		return fmt.Errorf("append delivery record: %w", err)
	}
	return nil
}

// ListRecent returns the most recent delivery records, newest first. An
// empty tenantID returns records across all tenants.
func (a *AuditLog) ListRecent(ctx context.Context, tenantID string, limit int) ([]domain.DeliveryRecord, error) {
	query := `
		SELECT id, tenant_id, url, event, outcome, http_status, error, created_at
		FROM outbound_deliveries
		WHERE $1 = '' OR tenant_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`
	rows, err := a.db.Query(ctx, query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("list delivery records: %w", err)
	}
	defer rows.Close()

	records := make([]domain.DeliveryRecord, 0)
	for rows.Next() {
		var (
			rec        domain.DeliveryRecord
			tenant     *string
			httpStatus *int
			errMsg     *string
			createdAt  time.Time
		)
		if err := rows.Scan(&rec.ID, &tenant, &rec.URL, &rec.Event, &rec.Outcome, &httpStatus, &errMsg, &createdAt); err != nil {
			return nil, fmt.Errorf("scan delivery record: %w", err)
		}
		if tenant != nil {
			rec.TenantID = *tenant
		}
		if httpStatus != nil {
			rec.HTTPStatus = *httpStatus
		}
		if errMsg != nil {
			rec.Error = *errMsg
		}
		rec.CreatedAt = createdAt
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Allowlist implements webhook.AllowlistResolver using PostgreSQL.
// Entries are hostnames or dot-prefixed suffixes scoped per tenant.
type Allowlist struct {
	db *pgxpool.Pool
}

// NewAllowlist creates a new PostgreSQL allowlist resolver.
func NewAllowlist(db *pgxpool.Pool) *Allowlist {
	return &Allowlist{db: db}
}

// AllowedHosts returns the allowlist entries for a tenant. An empty
// result means the tenant has no host restriction of its own.
func (a *Allowlist) AllowedHosts(ctx context.Context, tenantID string) ([]string, error) {
	query := `SELECT host FROM webhook_allowlist WHERE tenant_id = $1`
	rows, err := a.db.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("allowed hosts: %w", err)
	}
	defer rows.Close()

	hosts := make([]string, 0)
	for rows.Next() {
		var host string
		if err := rows.Scan(&host); err != nil {
			return nil, fmt.Errorf("scan host: %w", err)
		}
		hosts = append(hosts, host)
	}
	return hosts, rows.Err()
}

// AddHost adds an allowlist entry for a tenant, ignoring duplicates.
func (a *Allowlist) AddHost(ctx context.Context, tenantID, host string) error {
	query := `INSERT INTO webhook_allowlist (tenant_id, host) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	if _, err := a.db.Exec(ctx, query, tenantID, host); err != nil {
		return fmt.Errorf("add host: %w", err)
	}
	return nil
}

// RemoveHost removes an allowlist entry for a tenant.
func (a *Allowlist) RemoveHost(ctx context.Context, tenantID, host string) error {
	query := `DELETE FROM webhook_allowlist WHERE tenant_id = $1 AND host = $2`
	if _, err := a.db.Exec(ctx, query, tenantID, host); err != nil {
		return fmt.Errorf("remove host: %w", err)
	}
	return nil
}
