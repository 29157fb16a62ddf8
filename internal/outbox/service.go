package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/outboxlab/outpost/internal/domain"
)

// Dispatcher delivers one claimed outbox row of a fixed kind.
// Implementations must be safe for at-least-once semantics: a row may be
// dispatched again after a crash between dispatch and MarkSuccess.
type Dispatcher interface {
	// Kind returns the outbox kind this dispatcher handles.
	Kind() domain.Kind

	// Dispatch performs the delivery. Returning an error routes the row
	// through the retry path; errors implementing IsRetryable() false
	// promote the row straight to dead.
	Dispatch(ctx context.Context, row domain.OutboxRow) error
}

// Dispatchers is an explicit dispatcher registry passed into DeliverBatch,
// keyed by kind. No module-level registration exists.
type Dispatchers struct {
	byKind map[domain.Kind]Dispatcher
}

// NewDispatchers builds a registry from the given dispatchers. A later
// dispatcher for the same kind replaces an earlier one.
func NewDispatchers(ds ...Dispatcher) Dispatchers {
	m := make(map[domain.Kind]Dispatcher, len(ds))
	for _, d := range ds {
		m[d.Kind()] = d
	}
	return Dispatchers{byKind: m}
}

// For returns the dispatcher registered for the given kind.
func (d Dispatchers) For(k domain.Kind) (Dispatcher, bool) {
	disp, ok := d.byKind[k]
	return disp, ok
}

// Result counts the outcomes of one DeliverBatch invocation.
type Result struct {
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
}

// Service implements enqueue and the delivery drain over a Repository.
type Service struct {
	repo Repository
}

// NewService creates an outbox service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Enqueue persists a new outbox item in queued status and returns its id.
// Storage failures propagate to the producer.
func (s *Service) Enqueue(ctx context.Context, item domain.OutboxItem) (string, error) {
	if err := item.Validate(); err != nil {
		return "", fmt.Errorf("enqueue: %w", err)
	}

	id, err := s.repo.Enqueue(ctx, item, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("enqueue: %w", err)
	}

	recordEnqueued(string(item.Kind))
	slog.Debug("outbox item enqueued", "id", id, "kind", item.Kind, "tenant_id", item.TenantID)
	return id, nil
}

// DeliverBatch claims up to limit eligible rows and dispatches each one
// sequentially. Per-row outcomes are recorded via MarkSuccess/MarkFailure;
// a repository error while claiming aborts the batch and propagates.
func (s *Service) DeliverBatch(ctx context.Context, now time.Time, limit int, dispatchers Dispatchers) (Result, error) {
	rows, err := s.repo.ClaimBatch(ctx, now, limit)
	if err != nil {
		return Result{}, fmt.Errorf("claim batch: %w", err)
	}

	if len(rows) == 0 {
		return Result{}, nil
	}

	recordBatchClaimed(len(rows))

	var res Result
	for _, row := range rows {
		if s.deliverRow(ctx, row, dispatchers) {
			res.Delivered++
		} else {
			res.Failed++
		}
	}

	slog.Info("outbox batch drained",
		"claimed", len(rows),
		"delivered", res.Delivered,
		"failed", res.Failed,
	)

	return res, nil
}

// deliverRow dispatches one claimed row and records the outcome.
// Returns true on successful delivery.
func (s *Service) deliverRow(ctx context.Context, row domain.OutboxRow, dispatchers Dispatchers) bool {
	start := time.Now()

	dispatchErr := s.dispatch(ctx, row, dispatchers)
	duration := time.Since(start)

	// The outcome is recorded even when the batch context died
	// mid-dispatch; settling on the cancelled context would strand the
	// row in delivering until a sweep reclaims it.
	settleCtx := context.WithoutCancel(ctx)

	if dispatchErr == nil {
		if err := s.repo.MarkSuccess(settleCtx, row.ID); err != nil {
			slog.Error("failed to mark delivered", "id", row.ID, "error", err)
		}
		recordDispatched(string(row.Kind), "delivered")
		recordDispatchDuration(string(row.Kind), duration)
		return true
	}

	attempts := row.Attempts + 1

	if !isRetryable(dispatchErr) {
		if err := s.repo.MarkDead(settleCtx, row.ID, dispatchErr.Error(), attempts); err != nil {
			slog.Error("failed to mark dead", "id", row.ID, "error", err)
		}
		recordDispatched(string(row.Kind), "dead")
		slog.Warn("outbox row dead-lettered on permanent failure",
			"id", row.ID,
			"kind", row.Kind,
			"error", dispatchErr,
		)
		return false
	}

	if err := s.repo.MarkFailure(settleCtx, row.ID, dispatchErr.Error(), attempts, time.Now().UTC()); err != nil {
		slog.Error("failed to mark failure", "id", row.ID, "error", err)
	}
	recordDispatched(string(row.Kind), "failed")
	recordDispatchDuration(string(row.Kind), duration)

	slog.Warn("outbox dispatch failed",
		"id", row.ID,
		"kind", row.Kind,
		"attempt", attempts,
		"error", dispatchErr,
	)

	return false
}

// dispatch routes a row to the dispatcher registered for its kind.
func (s *Service) dispatch(ctx context.Context, row domain.OutboxRow, dispatchers Dispatchers) error {
	switch row.Kind {
	case domain.KindEmail, domain.KindWebhook:
	default:
		// The kind set is closed; reaching this means a corrupt row.
		return fmt.Errorf("unknown outbox kind %q", row.Kind)
	}

	d, ok := dispatchers.For(row.Kind)
	if !ok {
		// Caller misconfiguration; routed through the normal backoff path
		// and surfaced via repeated identical last_error entries.
		return fmt.Errorf("no dispatcher configured for kind %s", row.Kind)
	}

	return d.Dispatch(ctx, row)
}

// isRetryable checks if an error is retryable.
func isRetryable(err error) bool {
	type retryable interface {
		IsRetryable() bool
	}
	if r, ok := err.(retryable); ok {
		return r.IsRetryable()
	}

	// Default: retry unknown errors
	return true
}
