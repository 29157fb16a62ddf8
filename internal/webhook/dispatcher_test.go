package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/outboxlab/outpost/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryAudit is an in-memory AuditLog for tests.
type memoryAudit struct {
	records []domain.DeliveryRecord
}

func (m *memoryAudit) Append(_ context.Context, rec domain.DeliveryRecord) error {
	m.records = append(m.records, rec)
	return nil
}

func (m *memoryAudit) ListRecent(_ context.Context, tenantID string, limit int) ([]domain.DeliveryRecord, error) {
	out := make([]domain.DeliveryRecord, 0, limit)
	for i := len(m.records) - 1; i >= 0 && len(out) < limit; i-- {
		if tenantID == "" || m.records[i].TenantID == tenantID {
			out = append(out, m.records[i])
		}
	}
	return out, nil
}

func webhookRow(t *testing.T, payload domain.WebhookPayload) domain.OutboxRow {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return domain.OutboxRow{
		ID:      "row-1",
		Kind:    domain.KindWebhook,
		Payload: raw,
		Status:  domain.StatusDelivering,
	}
}

func TestDispatcher_Kind(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{}, NewGuard(nil, nil), nil)
	assert.Equal(t, domain.KindWebhook, d.Kind())
}

func TestDispatcher_Dispatch_MalformedPayload(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{}, NewGuard(nil, nil), nil)

	err := d.Dispatch(context.Background(), domain.OutboxRow{
		Kind:    domain.KindWebhook,
		Payload: json.RawMessage(`{broken`),
	})

	var perm *PermanentError
	require.ErrorAs(t, err, &perm)
}

func TestDispatcher_Dispatch_MissingURL(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{}, NewGuard(nil, nil), nil)

	err := d.Dispatch(context.Background(), webhookRow(t, domain.WebhookPayload{
		Event: "invoice.paid",
		Body:  json.RawMessage(`{}`),
	}))

	var perm *PermanentError
	require.ErrorAs(t, err, &perm)
}

func TestDispatcher_Dispatch_GuardRejection(t *testing.T) {
	audit := &memoryAudit{}
	d := NewDispatcher(DispatcherConfig{}, NewGuard(nil, nil), audit)

	err := d.Dispatch(context.Background(), webhookRow(t, domain.WebhookPayload{
		URL:      "https://169.254.169.254/latest/meta-data",
		Event:    "user.created",
		Body:     json.RawMessage(`{}`),
		TenantID: "t1",
	}))

	assert.ErrorIs(t, err, ErrTargetNotAllowed)

	// The rejection is still audited.
	require.Len(t, audit.records, 1)
	assert.Equal(t, domain.DeliveryFailed, audit.records[0].Outcome)
	assert.Equal(t, "target_not_allowed", audit.records[0].Error)
	assert.Equal(t, "t1", audit.records[0].TenantID)
}

func TestDispatcher_Dispatch_HostNotOnAllowlist(t *testing.T) {
	audit := &memoryAudit{}
	d := NewDispatcher(DispatcherConfig{}, NewGuard([]string{"hooks.example.com"}, nil), audit)

	err := d.Dispatch(context.Background(), webhookRow(t, domain.WebhookPayload{
		URL:   "https://other.example.net/hook",
		Event: "user.created",
		Body:  json.RawMessage(`{}`),
	}))

	assert.ErrorIs(t, err, ErrHostNotAllowed)
	require.Len(t, audit.records, 1)
	assert.Equal(t, "host_not_allowed", audit.records[0].Error)
}

func TestDispatcher_Send_Success(t *testing.T) {
	var gotSig, gotID, gotTS, gotContentType, gotCustom string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(HeaderSignature)
		gotID = r.Header.Get(HeaderID)
		gotTS = r.Header.Get(HeaderTimestamp)
		gotContentType = r.Header.Get("Content-Type")
		gotCustom = r.Header.Get("X-Custom")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	d := NewDispatcher(DispatcherConfig{}, NewGuard(nil, nil), nil)

	status, err := d.send(context.Background(), domain.WebhookPayload{
		URL:     server.URL,
		Event:   "invoice.paid",
		Body:    json.RawMessage(`{"total":1200}`),
		Secret:  "whsec_x",
		Headers: map[string]string{"X-Custom": "yes"},
	})

	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, status)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "yes", gotCustom)
	assert.NotEmpty(t, gotID)
	assert.NotEmpty(t, gotTS)
	assert.JSONEq(t, `{"total":1200}`, string(gotBody))

	// Signature covers "{timestamp}.{body}".
	assert.Equal(t, HMACSHA256Hex("whsec_x", gotTS+"."+string(gotBody)), gotSig)
}

func TestDispatcher_Send_Non2xxIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	d := NewDispatcher(DispatcherConfig{}, NewGuard(nil, nil), nil)

	status, err := d.send(context.Background(), domain.WebhookPayload{
		URL:  server.URL,
		Body: json.RawMessage(`{}`),
	})

	assert.Equal(t, http.StatusServiceUnavailable, status)
	var retry *RetryableError
	require.ErrorAs(t, err, &retry)
	assert.Contains(t, retry.Error(), "status 503")
}

func TestDispatcher_Send_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer func() {
		close(release)
		server.Close()
	}()

	d := NewDispatcher(DispatcherConfig{Timeout: 50 * time.Millisecond}, NewGuard(nil, nil), nil)

	_, err := d.send(context.Background(), domain.WebhookPayload{
		URL:  server.URL,
		Body: json.RawMessage(`{}`),
	})

	var retry *RetryableError
	require.ErrorAs(t, err, &retry)
	assert.Equal(t, "timeout", retry.Message)
}

func TestMaskURL(t *testing.T) {
	assert.Equal(t, "https://api.example.com/...", maskURL("https://api.example.com/v1/hooks?token=s3cret"))
	assert.Equal(t, "invalid-url", maskURL("::::"))
}

func TestEventTitle(t *testing.T) {
	tests := []struct {
		event    string
		expected string
	}{
		{"payment.succeeded", "Payment Succeeded"},
		{"user_signed_up", "User Signed Up"},
		{"invoice-paid", "Invoice Paid"},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, EventTitle(tt.event))
	}
}
