package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryAllowlist is an in-memory AllowlistStore for tests.
type memoryAllowlist struct {
	hosts map[string][]string
}

func newMemoryAllowlist() *memoryAllowlist {
	return &memoryAllowlist{hosts: make(map[string][]string)}
}

func (m *memoryAllowlist) AllowedHosts(_ context.Context, tenantID string) ([]string, error) {
	return m.hosts[tenantID], nil
}

func (m *memoryAllowlist) AddHost(_ context.Context, tenantID, host string) error {
	for _, h := range m.hosts[tenantID] {
		if h == host {
			return nil
		}
	}
	m.hosts[tenantID] = append(m.hosts[tenantID], host)
	return nil
}

func (m *memoryAllowlist) RemoveHost(_ context.Context, tenantID, host string) error {
	kept := m.hosts[tenantID][:0]
	for _, h := range m.hosts[tenantID] {
		if h != host {
			kept = append(kept, h)
		}
	}
	m.hosts[tenantID] = kept
	return nil
}

func newAllowlistRouter(store AllowlistStore) http.Handler {
	r := chi.NewRouter()
	NewAllowlistHandler(store).RegisterAdminRoutes(r)
	return r
}

func allowlistRequest(handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestAllowlistHandler_AddListRemove(t *testing.T) {
	store := newMemoryAllowlist()
	handler := newAllowlistRouter(store)

	rec := allowlistRequest(handler, http.MethodPost, "/allowlist/t1", map[string]string{"host": "hooks.example.com"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = allowlistRequest(handler, http.MethodGet, "/allowlist/t1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var listResp struct {
		Data struct {
			TenantID string   `json:"tenant_id"`
			Hosts    []string `json:"hosts"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listResp))
	assert.Equal(t, []string{"hooks.example.com"}, listResp.Data.Hosts)

	rec = allowlistRequest(handler, http.MethodDelete, "/allowlist/t1", map[string]string{"host": "hooks.example.com"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, store.hosts["t1"])
}

func TestAllowlistHandler_SuffixEntry(t *testing.T) {
	store := newMemoryAllowlist()
	handler := newAllowlistRouter(store)

	rec := allowlistRequest(handler, http.MethodPost, "/allowlist/t1", map[string]string{"host": ".partner.io"})
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, []string{".partner.io"}, store.hosts["t1"])
}

func TestAllowlistHandler_InvalidHost(t *testing.T) {
	handler := newAllowlistRouter(newMemoryAllowlist())

	tests := []struct {
		name string
		body map[string]string
	}{
		{"empty host", map[string]string{"host": ""}},
		{"not a hostname", map[string]string{"host": "https://full-url.example.com/path"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := allowlistRequest(handler, http.MethodPost, "/allowlist/t1", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}
