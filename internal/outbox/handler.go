package outbox

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/outboxlab/outpost/internal/domain"
	"github.com/outboxlab/outpost/internal/pkg/httputil"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
	maxBulkLimit     = 1000
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrInvalidCursor, Status: http.StatusBadRequest, Message: "invalid pagination cursor"},
	{Error: ErrRowNotFound, Status: http.StatusNotFound, Message: "outbox row not found"},
}

// Handler handles HTTP requests for outbox enqueue and admin operations.
type Handler struct {
	service   *Service
	admin     *Admin
	validator *validator.Validate
}

// NewHandler creates a new outbox handler.
func NewHandler(service *Service, admin *Admin) *Handler {
	return &Handler{
		service:   service,
		admin:     admin,
		validator: validator.New(),
	}
}

// RegisterRoutes registers producer-facing outbox routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/outbox", h.Enqueue)
}

// RegisterAdminRoutes registers dead-letter admin routes.
func (h *Handler) RegisterAdminRoutes(r chi.Router) {
	r.Route("/outbox", func(r chi.Router) {
		r.Get("/dead", h.ListDead)
		r.Get("/stats", h.Stats)
		r.Post("/requeue", h.Requeue)
		r.Post("/requeue-all", h.RequeueAll)
		r.Post("/purge", h.Purge)
		r.Post("/purge-all", h.PurgeAll)
	})
}

// EnqueueRequest represents request body for enqueueing an item.
type EnqueueRequest struct {
	TenantID string          `json:"tenant_id"`
	Kind     string          `json:"kind" validate:"required,oneof=email webhook"`
	Payload  json.RawMessage `json:"payload" validate:"required"`
}

// rowResponse is the wire representation of an outbox row.
type rowResponse struct {
	ID            string          `json:"id"`
	TenantID      string          `json:"tenant_id,omitempty"`
	Kind          string          `json:"kind"`
	Status        string          `json:"status"`
	Attempts      int             `json:"attempts"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
	LastError     string          `json:"last_error,omitempty"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func toRowResponse(row domain.OutboxRow) rowResponse {
	return rowResponse{
		ID:            row.ID,
		TenantID:      row.TenantID,
		Kind:          string(row.Kind),
		Status:        string(row.Status),
		Attempts:      row.Attempts,
		NextAttemptAt: row.NextAttemptAt,
		LastError:     row.LastError,
		Payload:       row.Payload,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}
}

// Enqueue handles POST /outbox.
func (h *Handler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	id, err := h.service.Enqueue(r.Context(), domain.OutboxItem{
		TenantID: req.TenantID,
		Kind:     domain.Kind(req.Kind),
		Payload:  req.Payload,
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, map[string]string{"id": id})
}

// ListDead handles GET /outbox/dead.
func (h *Handler) ListDead(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r.URL.Query().Get("limit"), defaultPageLimit, maxPageLimit)
	cursor := r.URL.Query().Get("cursor")

	page, err := h.admin.ListDead(r.Context(), limit, cursor)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	rows := make([]rowResponse, 0, len(page.Rows))
	for _, row := range page.Rows {
		rows = append(rows, toRowResponse(row))
	}

	httputil.Success(w, http.StatusOK, map[string]interface{}{
		"rows":        rows,
		"next_cursor": page.NextCursor,
	})
}

// Stats handles GET /outbox/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.admin.Stats(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, map[string]int64{
		"queued":     stats.Queued,
		"delivering": stats.Delivering,
		"delivered":  stats.Delivered,
		"failed":     stats.Failed,
		"dead":       stats.Dead,
	})
}

// IDsRequest represents request body for bulk id operations. Entries
// must parse as UUIDs so a malformed id is rejected here instead of
// failing the uuid[] cast inside the repository.
type IDsRequest struct {
	IDs []string `json:"ids" validate:"required,min=1,max=1000,dive,uuid4"`
}

// BulkLimitRequest represents request body for bounded bulk operations.
type BulkLimitRequest struct {
	Limit int `json:"limit" validate:"omitempty,min=1,max=1000"`
}

// Requeue handles POST /outbox/requeue.
func (h *Handler) Requeue(w http.ResponseWriter, r *http.Request) {
	h.bulkIDs(w, r, h.admin.Requeue, "requeued")
}

// Purge handles POST /outbox/purge.
func (h *Handler) Purge(w http.ResponseWriter, r *http.Request) {
	h.bulkIDs(w, r, h.admin.Purge, "purged")
}

// RequeueAll handles POST /outbox/requeue-all.
func (h *Handler) RequeueAll(w http.ResponseWriter, r *http.Request) {
	h.bulkAll(w, r, h.admin.RequeueAll, "requeued")
}

// PurgeAll handles POST /outbox/purge-all.
func (h *Handler) PurgeAll(w http.ResponseWriter, r *http.Request) {
	h.bulkAll(w, r, h.admin.PurgeAll, "purged")
}

func (h *Handler) bulkIDs(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, ids []string) (int64, error), field string) {
	var req IDsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	n, err := op(r.Context(), req.IDs)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, map[string]int64{field: n})
}

func (h *Handler) bulkAll(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, limit int) (int64, error), field string) {
	var req BulkLimitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	limit := req.Limit
	if limit <= 0 {
		limit = maxBulkLimit
	}

	n, err := op(r.Context(), limit)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, map[string]int64{field: n})
}

func parseLimit(raw string, def, max int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
