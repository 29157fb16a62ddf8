package outbox

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(repo *mockRepository) http.Handler {
	h := NewHandler(NewService(repo), NewAdmin(repo))
	r := chi.NewRouter()
	h.RegisterAdminRoutes(r)
	h.RegisterRoutes(r)
	return r
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandler_Enqueue(t *testing.T) {
	repo := newMockRepository()
	handler := newTestHandler(repo)

	rec := doJSON(t, handler, http.MethodPost, "/outbox", map[string]any{
		"tenant_id": "t1",
		"kind":      "webhook",
		"payload":   map[string]string{"url": "https://api.example.com/hook"},
	})

	assert.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, repo.enqueued, 1)

	var resp struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "generated-id", resp.Data.ID)
}

func TestHandler_Enqueue_Validation(t *testing.T) {
	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing kind", map[string]any{"payload": map[string]string{}}},
		{"unknown kind", map[string]any{"kind": "sms", "payload": map[string]string{}}},
		{"missing payload", map[string]any{"kind": "email"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMockRepository()
			rec := doJSON(t, newTestHandler(repo), http.MethodPost, "/outbox", tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, repo.enqueued)
		})
	}
}

func TestHandler_Enqueue_InvalidJSON(t *testing.T) {
	handler := newTestHandler(newMockRepository())

	req := httptest.NewRequest(http.MethodPost, "/outbox", bytes.NewBufferString("{broken"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_ListDead(t *testing.T) {
	repo := newMockRepository()
	repo.deadRows = deadRows(3)
	handler := newTestHandler(repo)

	rec := doJSON(t, handler, http.MethodGet, "/outbox/dead?limit=2", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data struct {
			Rows       []rowResponse `json:"rows"`
			NextCursor string        `json:"next_cursor"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Data.Rows, 2)
	assert.NotEmpty(t, resp.Data.NextCursor)
}

func TestHandler_ListDead_BadCursor(t *testing.T) {
	handler := newTestHandler(newMockRepository())

	rec := doJSON(t, handler, http.MethodGet, "/outbox/dead?cursor=@@@", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_Stats(t *testing.T) {
	repo := newMockRepository()
	repo.deadRows = deadRows(2)
	handler := newTestHandler(repo)

	rec := doJSON(t, handler, http.MethodGet, "/outbox/stats", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data map[string]int64 `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(2), resp.Data["dead"])
}

func TestHandler_Requeue(t *testing.T) {
	repo := newMockRepository()
	handler := newTestHandler(repo)

	ids := []string{
		"7c9e6679-7425-40de-944b-e07fc1f90ae7",
		"2f0c8f8b-3a3e-4b63-9f65-0d2caa1a0f55",
	}
	rec := doJSON(t, handler, http.MethodPost, "/outbox/requeue", map[string]any{
		"ids": ids,
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ids, repo.requeued)
}

func TestHandler_Requeue_MalformedID(t *testing.T) {
	repo := newMockRepository()
	handler := newTestHandler(repo)

	// A non-UUID id must be rejected up front, not surface as a 500
	// from the repository's uuid[] cast.
	rec := doJSON(t, handler, http.MethodPost, "/outbox/requeue", map[string]any{
		"ids": []string{"not-a-uuid"},
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, repo.requeued)
}

func TestHandler_Requeue_EmptyIDs(t *testing.T) {
	repo := newMockRepository()
	handler := newTestHandler(repo)

	rec := doJSON(t, handler, http.MethodPost, "/outbox/requeue", map[string]any{
		"ids": []string{},
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, repo.requeued)
}

func TestHandler_RequeueAll_DefaultLimit(t *testing.T) {
	repo := newMockRepository()
	repo.deadRows = deadRows(3)
	handler := newTestHandler(repo)

	rec := doJSON(t, handler, http.MethodPost, "/outbox/requeue-all", map[string]any{})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, repo.requeued, 3)
}

func TestHandler_Purge(t *testing.T) {
	repo := newMockRepository()
	handler := newTestHandler(repo)

	rec := doJSON(t, handler, http.MethodPost, "/outbox/purge", map[string]any{
		"ids": []string{"a6e9b2f1-89a4-4f2e-8d2a-5b9c3f1e7a10"},
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"a6e9b2f1-89a4-4f2e-8d2a-5b9c3f1e7a10"}, repo.purged)
}

func TestParseLimit(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected int
	}{
		{"empty uses default", "", 50},
		{"valid", "10", 10},
		{"zero uses default", "0", 50},
		{"negative uses default", "-5", 50},
		{"not a number uses default", "abc", 50},
		{"above max clamps", "9999", 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLimit(tt.raw, 50, 500))
		})
	}
}
