package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	cfg, err := Load("8082")
	require.NoError(t, err)
	assert.Equal(t, "8082", cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 24*time.Hour, cfg.Loyalty.DedupRetention.Duration)
	assert.False(t, cfg.Notify.Email.Enabled())
	assert.Equal(t, 10*time.Second, cfg.Notify.SendTimeout.Duration)
	assert.Equal(t, 10*time.Minute, cfg.Notify.Lease.Duration)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loyalnexus.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
environment: staging
database:
  driver: sqlite
  url: file:/var/lib/loyalnexus/loyalty.db
loyalty:
  dedup_retention: 36h
notify:
  max_rounds: 3
  email:
    base_url: https://mail.example.com
    from: rewards@example.com
`), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "9000")
	t.Setenv("NOTIFY_MAX_ATTEMPTS", "2")
	t.Setenv("NOTIFY_LEASE", "15m")
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")

	cfg, err := Load("8082")
	require.NoError(t, err)
	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 36*time.Hour, cfg.Loyalty.DedupRetention.Duration)
	assert.Equal(t, 3, cfg.Notify.MaxRounds)
	assert.Equal(t, 2, cfg.Notify.MaxAttempts)
	assert.Equal(t, 15*time.Minute, cfg.Notify.Lease.Duration)
	assert.True(t, cfg.Notify.Email.Enabled())
	assert.True(t, cfg.Notify.Telegram.Enabled())
	assert.Equal(t, "https://api.telegram.org", cfg.Notify.Telegram.BaseURL, "unset keys keep defaults")
}

func TestLoadRejectsUnknownFileKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("loyalty:\n  threshold: 12\n"), 0o600))
	t.Setenv("CONFIG_FILE", path)

	_, err := Load("")
	assert.Error(t, err)
}

func TestApplyEnvReportsBadValues(t *testing.T) {
	cfg := Default()
	env := map[string]string{"DEDUP_RETENTION": "forever", "NOTIFY_MAX_ROUNDS": "many"}
	err := applyEnv(&cfg, func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DEDUP_RETENTION")
	assert.Contains(t, err.Error(), "NOTIFY_MAX_ROUNDS")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		valid  bool
	}{
		{"defaults", func(*Config) {}, true},
		{"memory store needs no url", func(c *Config) { c.Database = DatabaseConfig{Driver: "memory"} }, true},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, false},
		{"sqlite without url", func(c *Config) { c.Database = DatabaseConfig{Driver: "sqlite"} }, false},
		{"zero retention", func(c *Config) { c.Loyalty.DedupRetention = Duration{} }, false},
		{"registry unthrottled", func(c *Config) { c.Registry.RequestsPerMinute = 0 }, false},
		{"email without sender", func(c *Config) { c.Notify.Email.BaseURL = "https://mail" }, false},
		{"sample ratio above one", func(c *Config) { c.Telemetry.SampleRatio = 2 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
