package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Structurally valid bcrypt hash; config validation only requires presence.
const testHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_FromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "9999"
database:
  url: postgres://localhost/outpost
jwt:
  secret_key: file-secret
admin:
  password_hash: "`+testHash+`"
outbox:
  batch_size: 25
  poll_interval: 2s
webhooks:
  allowed_hosts:
    - hooks.example.com
    - .partner.io
  provider_secrets:
    stripe: whsec_abc
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9999", cfg.Server.Port)
	assert.Equal(t, "postgres://localhost/outpost", cfg.Database.URL)
	assert.Equal(t, 25, cfg.Outbox.BatchSize)
	assert.Equal(t, 2*time.Second, cfg.Outbox.PollInterval)
	assert.Equal(t, []string{"hooks.example.com", ".partner.io"}, cfg.Webhooks.AllowedHosts)
	assert.Equal(t, "whsec_abc", cfg.Webhooks.Providers["stripe"])

	// Defaults fill the gaps.
	assert.Equal(t, 8, cfg.Outbox.MaxAttempts)
	assert.Equal(t, "outpost", cfg.JWT.Issuer)
	assert.Equal(t, 10*time.Second, cfg.Webhooks.Timeout)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "8080"
database:
  url: postgres://localhost/outpost
jwt:
  secret_key: file-secret
admin:
  password_hash: "`+testHash+`"
`)

	t.Setenv("OUTPOST_SERVER_PORT", "7777")
	t.Setenv("OUTPOST_JWT_SECRET_KEY", "env-secret")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "7777", cfg.Server.Port)
	assert.Equal(t, "env-secret", cfg.JWT.SecretKey)
}

func TestLoad_MissingFileUsesEnv(t *testing.T) {
	t.Setenv("OUTPOST_DATABASE_URL", "postgres://env-host/outpost")
	t.Setenv("OUTPOST_JWT_SECRET_KEY", "env-secret")
	t.Setenv("OUTPOST_ADMIN_PASSWORD_HASH", testHash)

	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "postgres://env-host/outpost", cfg.Database.URL)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := defaults()
		cfg.Database.URL = "postgres://localhost/outpost"
		cfg.JWT.SecretKey = "s"
		cfg.Admin.PasswordHash = testHash
		return cfg
	}

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing database url", func(c *Config) { c.Database.URL = "" }},
		{"missing jwt secret", func(c *Config) { c.JWT.SecretKey = "" }},
		{"missing admin hash", func(c *Config) { c.Admin.PasswordHash = "" }},
		{"zero max attempts", func(c *Config) { c.Outbox.MaxAttempts = 0 }},
		{"zero batch size", func(c *Config) { c.Outbox.BatchSize = 0 }},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
		{"email enabled without host", func(c *Config) { c.Email.Enabled = true }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
