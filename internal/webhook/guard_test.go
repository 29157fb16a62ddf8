package webhook

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsAllowedTarget(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		allowed bool
	}{
		{"https public host", "https://api.example.com/hook", true},
		{"https public host with port", "https://api.example.com:8443/hook", true},
		{"plain http", "http://api.example.com/hook", false},
		{"no scheme", "api.example.com/hook", false},
		{"localhost", "https://localhost/hook", false},
		{"localhost subdomain", "https://foo.localhost/hook", false},
		{"loopback v4", "https://127.0.0.1/hook", false},
		{"loopback v4 high", "https://127.8.9.10/hook", false},
		{"loopback v6", "https://[::1]/hook", false},
		{"private 10/8", "https://10.0.0.5/hook", false},
		{"private 192.168/16", "https://192.168.1.20/hook", false},
		{"private 172.16/12", "https://172.16.0.1/hook", false},
		{"link local", "https://169.254.169.254/latest/meta-data", false},
		{"unspecified", "https://0.0.0.0/hook", false},
		{"dot local", "https://printer.local/hook", false},
		{"dot internal", "https://vault.internal/hook", false},
		{"public ip", "https://93.184.216.34/hook", true},
		{"empty host", "https:///hook", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, IsAllowedTarget(tt.url))
		})
	}
}

// staticResolver returns fixed hosts per tenant.
type staticResolver struct {
	hosts map[string][]string
	err   error
}

func (r *staticResolver) AllowedHosts(_ context.Context, tenantID string) ([]string, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.hosts[tenantID], nil
}

func TestGuard_Check_Baseline(t *testing.T) {
	guard := NewGuard(nil, nil)

	assert.NoError(t, guard.Check(context.Background(), "", "https://api.example.com/hook"))
	assert.ErrorIs(t, guard.Check(context.Background(), "", "http://api.example.com/hook"), ErrTargetNotAllowed)
	assert.ErrorIs(t, guard.Check(context.Background(), "", "https://10.1.2.3/hook"), ErrTargetNotAllowed)
}

func TestGuard_Check_GlobalAllowlist(t *testing.T) {
	guard := NewGuard([]string{"hooks.example.com", ".partner.io"}, nil)

	tests := []struct {
		name string
		url  string
		err  error
	}{
		{"exact match", "https://hooks.example.com/h", nil},
		{"suffix match", "https://eu.partner.io/h", nil},
		{"suffix matches apex", "https://partner.io/h", nil},
		{"unlisted host", "https://evil.example.net/h", ErrHostNotAllowed},
		{"suffix must align on label", "https://notpartner.io/h", ErrHostNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := guard.Check(context.Background(), "", tt.url)
			if tt.err == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.err)
			}
		})
	}
}

func TestGuard_Check_TenantAllowlistOverridesGlobal(t *testing.T) {
	resolver := &staticResolver{hosts: map[string][]string{
		"t1": {"tenant-api.example.org"},
	}}
	guard := NewGuard([]string{"hooks.example.com"}, resolver)

	// Tenant with its own allowlist: tenant entries replace global ones.
	assert.NoError(t, guard.Check(context.Background(), "t1", "https://tenant-api.example.org/h"))
	assert.ErrorIs(t, guard.Check(context.Background(), "t1", "https://hooks.example.com/h"), ErrHostNotAllowed)

	// Tenant without entries falls back to the global list.
	assert.NoError(t, guard.Check(context.Background(), "t2", "https://hooks.example.com/h"))
}

func TestGuard_Check_ResolverError(t *testing.T) {
	resolver := &staticResolver{err: errors.New("db down")}
	guard := NewGuard(nil, resolver)

	err := guard.Check(context.Background(), "t1", "https://api.example.com/h")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrHostNotAllowed)
	assert.True(t, isRetryableErr(err), "infrastructure errors must stay retryable")
}

func isRetryableErr(err error) bool {
	type retryable interface{ IsRetryable() bool }
	var r retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	return true
}

func TestHostMatches(t *testing.T) {
	tests := []struct {
		host    string
		entry   string
		matches bool
	}{
		{"api.example.com", "api.example.com", true},
		{"api.example.com", "example.com", false},
		{"api.example.com", ".example.com", true},
		{"example.com", ".example.com", true},
		{"badexample.com", ".example.com", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.matches, hostMatches(tt.host, tt.entry), "host=%s entry=%s", tt.host, tt.entry)
	}
}
