package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/outboxlab/outpost/internal/domain"
	"golang.org/x/time/rate"
)

const defaultTimeout = 10 * time.Second

// DispatcherConfig holds outbound delivery configuration.
type DispatcherConfig struct {
	Timeout     time.Duration // per-request hard timeout, default 10s
	RatePerHost float64       // outbound requests per second per host, 0 disables
	RateBurst   int
	UserAgent   string
}

// Dispatcher delivers webhook-kind outbox rows over HTTPS. Each delivery
// passes the target guard and gets signing headers before any network
// I/O; the outcome is appended to the audit log either way.
type Dispatcher struct {
	config DispatcherConfig
	guard  *Guard
	audit  AuditLog
	client *http.Client

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewDispatcher creates a webhook dispatcher.
func NewDispatcher(config DispatcherConfig, guard *Guard, audit AuditLog) *Dispatcher {
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	if config.RateBurst <= 0 {
		config.RateBurst = 1
	}
	if config.UserAgent == "" {
		config.UserAgent = "outpost-webhook"
	}

	return &Dispatcher{
		config:   config,
		guard:    guard,
		audit:    audit,
		client:   &http.Client{Timeout: config.Timeout},
		limiters: make(map[string]*rate.Limiter),
	}
}

// Kind returns the outbox kind this dispatcher handles.
func (d *Dispatcher) Kind() domain.Kind {
	return domain.KindWebhook
}

// Dispatch delivers one webhook row. Guard rejections and malformed
// payloads are permanent; network errors, timeouts and non-2xx responses
// are retryable.
func (d *Dispatcher) Dispatch(ctx context.Context, row domain.OutboxRow) error {
	var payload domain.WebhookPayload
	if err := json.Unmarshal(row.Payload, &payload); err != nil {
		return &PermanentError{Message: fmt.Sprintf("malformed webhook payload: %v", err)}
	}
	if payload.URL == "" {
		return &PermanentError{Message: "webhook payload has no url"}
	}

	tenantID := payload.TenantID
	if tenantID == "" {
		tenantID = row.TenantID
	}

	if err := d.guard.Check(ctx, tenantID, payload.URL); err != nil {
		d.record(ctx, tenantID, payload, domain.DeliveryFailed, 0, err.Error())
		return err
	}

	if err := d.waitRate(ctx, payload.URL); err != nil {
		return &RetryableError{Message: fmt.Sprintf("rate limiter: %v", err)}
	}

	status, err := d.send(ctx, payload)
	if err != nil {
		d.record(ctx, tenantID, payload, domain.DeliveryFailed, status, err.Error())
		return err
	}

	d.record(ctx, tenantID, payload, domain.DeliveryDelivered, status, "")
	return nil
}

// send performs the signed POST and maps the response to an outcome.
func (d *Dispatcher) send(ctx context.Context, payload domain.WebhookPayload) (int, error) {
	body, err := json.Marshal(json.RawMessage(payload.Body))
	if err != nil {
		return 0, &PermanentError{Message: fmt.Sprintf("marshal body: %v", err)}
	}

	reqCtx, cancel := context.WithTimeout(ctx, d.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, payload.URL, bytes.NewReader(body))
	if err != nil {
		return 0, &PermanentError{Message: fmt.Sprintf("create request: %v", err)}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", d.config.UserAgent)
	for k, v := range payload.Headers {
		req.Header.Set(k, v)
	}
	Sign(req.Header, body, payload.Secret, time.Now().UTC())

	resp, err := d.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return 0, &RetryableError{Message: "timeout"}
		}
		return 0, &RetryableError{Message: fmt.Sprintf("send request: %v", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		slog.Debug("webhook delivered", "url", maskURL(payload.URL), "status", resp.StatusCode)
		return resp.StatusCode, nil
	}

	return resp.StatusCode, &RetryableError{
		Code:    resp.StatusCode,
		Message: fmt.Sprintf("status %d", resp.StatusCode),
	}
}

// record appends the delivery outcome to the audit log. Audit failures
// are logged but never mask the delivery outcome.
func (d *Dispatcher) record(ctx context.Context, tenantID string, payload domain.WebhookPayload, outcome domain.DeliveryOutcome, httpStatus int, errMsg string) {
	if d.audit == nil {
		return
	}

	rec := domain.DeliveryRecord{
		TenantID:   tenantID,
		URL:        payload.URL,
		Event:      payload.Event,
		Outcome:    outcome,
		HTTPStatus: httpStatus,
		Error:      errMsg,
	}
	if err := d.audit.Append(ctx, rec); err != nil {
		slog.Error("failed to append delivery record",
			"url", maskURL(payload.URL),
			"outcome", outcome,
			"error", err,
		)
	}
}

// waitRate blocks until the per-host rate limiter admits the request.
func (d *Dispatcher) waitRate(ctx context.Context, rawURL string) error {
	if d.config.RatePerHost <= 0 {
		return nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	host := strings.ToLower(u.Hostname())

	d.mu.Lock()
	lim, ok := d.limiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(d.config.RatePerHost), d.config.RateBurst)
		d.limiters[host] = lim
	}
	d.mu.Unlock()

	return lim.Wait(ctx)
}

// maskURL hides the path and query for logging.
func maskURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "invalid-url"
	}
	return u.Scheme + "://" + u.Host + "/..."
}
