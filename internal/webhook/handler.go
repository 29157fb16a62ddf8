package webhook

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/outboxlab/outpost/internal/pkg/ctxlog"
	"github.com/outboxlab/outpost/internal/pkg/httputil"
)

const maxInboundBody = 1 << 20 // 1 MiB

// InboundHandler processes a verified inbound event. Returning an error
// yields a 500; signature verification has already passed by the time it
// runs.
type InboundHandler func(ctx context.Context, provider string, body []byte) error

// Handler handles inbound webhook routes and the delivery audit admin
// surface.
type Handler struct {
	verifier *Verifier
	secrets  map[string]string // provider -> signing secret
	audit    AuditLog
	inbound  InboundHandler
}

// NewHandler creates a webhook handler. inbound may be nil, in which
// case verified events are acknowledged and dropped.
func NewHandler(verifier *Verifier, secrets map[string]string, audit AuditLog, inbound InboundHandler) *Handler {
	return &Handler{
		verifier: verifier,
		secrets:  secrets,
		audit:    audit,
		inbound:  inbound,
	}
}

// RegisterRoutes registers the public inbound webhook routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/{provider}", h.Inbound)
}

// RegisterAdminRoutes registers the delivery audit routes.
func (h *Handler) RegisterAdminRoutes(r chi.Router) {
	r.Get("/deliveries", h.ListDeliveries)
}

// Inbound handles POST /webhooks/{provider}: verify the signature, then
// hand the raw event off. Invalid signatures are rejected with 401
// before any processing.
func (h *Handler) Inbound(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	ctx := ctxlog.With(r.Context(), "provider", provider)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxInboundBody))
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "failed to read body")
		return
	}

	if !h.verifier.Verify(ctx, provider, body, r.Header, h.secrets[provider]) {
		ctxlog.FromContext(ctx).Warn("inbound webhook rejected", "reason", "invalid signature")
		httputil.Error(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	if h.inbound != nil {
		if err := h.inbound(ctx, provider, body); err != nil {
			ctxlog.FromContext(ctx).Error("inbound webhook processing failed", "error", err)
			httputil.Error(w, http.StatusInternalServerError, "processing failed")
			return
		}
	}

	httputil.Success(w, http.StatusAccepted, map[string]bool{"received": true})
}

// deliveryResponse is the wire representation of a delivery record.
type deliveryResponse struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id,omitempty"`
	URL        string    `json:"url"`
	Event      string    `json:"event"`
	EventTitle string    `json:"event_title"`
	Outcome    string    `json:"outcome"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ListDeliveries handles GET /deliveries for the admin dashboard.
func (h *Handler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	records, err := h.audit.ListRecent(r.Context(), tenantID, limit)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, nil)
		return
	}

	out := make([]deliveryResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, deliveryResponse{
			ID:         rec.ID,
			TenantID:   rec.TenantID,
			URL:        rec.URL,
			Event:      rec.Event,
			EventTitle: EventTitle(rec.Event),
			Outcome:    string(rec.Outcome),
			HTTPStatus: rec.HTTPStatus,
			Error:      rec.Error,
			CreatedAt:  rec.CreatedAt,
		})
	}

	httputil.Success(w, http.StatusOK, out)
}
