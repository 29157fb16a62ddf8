package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/outboxlab/outpost/internal/pkg/httputil"
)

// AllowlistStore manages per-tenant target allowlist entries.
type AllowlistStore interface {
	AllowlistResolver
	AddHost(ctx context.Context, tenantID, host string) error
	RemoveHost(ctx context.Context, tenantID, host string) error
}

// AllowlistHandler exposes tenant allowlist management to admins.
type AllowlistHandler struct {
	store     AllowlistStore
	validator *validator.Validate
}

// NewAllowlistHandler creates an allowlist admin handler.
func NewAllowlistHandler(store AllowlistStore) *AllowlistHandler {
	return &AllowlistHandler{
		store:     store,
		validator: validator.New(),
	}
}

// RegisterAdminRoutes registers allowlist management routes.
func (h *AllowlistHandler) RegisterAdminRoutes(r chi.Router) {
	r.Get("/allowlist/{tenantID}", h.List)
	r.Post("/allowlist/{tenantID}", h.Add)
	r.Delete("/allowlist/{tenantID}", h.Remove)
}

type allowlistEntryRequest struct {
	Host string `json:"host" validate:"required,hostname"`
}

// List handles GET /allowlist/{tenantID}.
func (h *AllowlistHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	hosts, err := h.store.AllowedHosts(r.Context(), tenantID)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, nil)
		return
	}

	httputil.Success(w, http.StatusOK, map[string]any{
		"tenant_id": tenantID,
		"hosts":     hosts,
	})
}

// Add handles POST /allowlist/{tenantID}.
func (h *AllowlistHandler) Add(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	var req allowlistEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validateEntry(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	if err := h.store.AddHost(r.Context(), tenantID, req.Host); err != nil {
		httputil.HandleError(r.Context(), w, err, nil)
		return
	}

	httputil.Success(w, http.StatusCreated, map[string]string{
		"tenant_id": tenantID,
		"host":      req.Host,
	})
}

// Remove handles DELETE /allowlist/{tenantID}.
func (h *AllowlistHandler) Remove(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	var req allowlistEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validateEntry(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	if err := h.store.RemoveHost(r.Context(), tenantID, req.Host); err != nil {
		httputil.HandleError(r.Context(), w, err, nil)
		return
	}

	httputil.Success(w, http.StatusOK, map[string]string{
		"tenant_id": tenantID,
		"host":      req.Host,
	})
}

func (h *AllowlistHandler) validateEntry(req allowlistEntryRequest) error {
	// Dot-prefixed suffix entries are valid allowlist syntax but not
	// valid hostnames; validate the bare suffix instead.
	probe := req
	probe.Host = strings.TrimPrefix(probe.Host, ".")
	return h.validator.Struct(probe)
}
