package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tether.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
gateway:
  base_url: http://gateway:8081
  connect_timeout: 12s
reconcile:
  max_attempts: 5
  attempt_window: 10m
alerts:
  disconnect_threshold: 2m
  reauth_alerts: false
  fallback_recipient: noc@platform.test
store:
  driver: sqlite
  dsn: file:tether.db
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://gateway:8081", cfg.Gateway.BaseURL)
	assert.Equal(t, 12*time.Second, cfg.Gateway.ConnectTimeout)
	assert.Equal(t, 10*time.Second, cfg.Gateway.StatusTimeout, "untouched keys keep defaults")
	assert.Equal(t, 5, cfg.Reconcile.MaxAttempts)
	assert.Equal(t, 10*time.Minute, cfg.Reconcile.AttemptWindow)
	assert.Equal(t, time.Minute, cfg.Reconcile.ConnectingThreshold)
	assert.Equal(t, 2*time.Minute, cfg.Alerts.DisconnectThreshold)
	assert.False(t, cfg.Alerts.ReauthAlerts)
	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	require.NoError(t, cfg.Validate())

	rc := cfg.ReconcilerConfig()
	assert.Equal(t, 5, rc.MaxAttempts)
	assert.Equal(t, 12*time.Second, rc.ConnectTimeout)

	ac := cfg.AlertingConfig()
	assert.Equal(t, "noc@platform.test", ac.FallbackRecipient)
	assert.False(t, ac.ReauthAlerts)
}

func TestDefaultsMatchReferenceThresholds(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 3, cfg.Reconcile.MaxAttempts)
	assert.Equal(t, 3*time.Minute, cfg.Reconcile.AttemptWindow)
	assert.Equal(t, 500*time.Millisecond, cfg.Reconcile.InterSessionDelay)
	assert.Equal(t, 5*time.Minute, cfg.Alerts.DisconnectThreshold)
	assert.Equal(t, 30*time.Minute, cfg.Alerts.ConnectingThreshold)
	assert.True(t, cfg.Alerts.ReauthAlerts)
	assert.Equal(t, DriverBolt, cfg.Store.Driver)
}

func TestEnvOverrides(t *testing.T) {
	env := map[string]string{
		EnvGatewayToken: "gw-token",
		EnvStoreDSN:     "postgres://tether@db/tether",
		EnvRedisAddr:    "redis:6379",
		EnvAPIToken:     "api-token",
	}
	cfg := Default()
	cfg.applyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})

	assert.Equal(t, "gw-token", cfg.Gateway.Token)
	assert.Equal(t, "postgres://tether@db/tether", cfg.Store.DSN)
	assert.Equal(t, "redis:6379", cfg.Lease.RedisAddr)
	assert.Equal(t, LeaseRedis, cfg.Lease.Backend)
	assert.Equal(t, "api-token", cfg.Server.Token)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv(EnvGatewayToken, "from-env")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Gateway.Token)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := Default()
		cfg.Gateway.BaseURL = "http://gateway:8081"
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing gateway", func(c *Config) { c.Gateway.BaseURL = "" }, "gateway.base_url is required"},
		{"gateway without scheme", func(c *Config) { c.Gateway.BaseURL = "gateway:8081" }, "must be an http(s) URL"},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = DriverPostgres }, "store.dsn is required"},
		{"unknown driver", func(c *Config) { c.Store.Driver = "mongo" }, "unknown store.driver"},
		{"zero budget", func(c *Config) { c.Reconcile.MaxAttempts = 0 }, "max_attempts"},
		{"bad schedule", func(c *Config) { c.Alerts.Schedule = "sometimes" }, "alerts.schedule"},
		{"disabled schedule", func(c *Config) { c.Reconcile.Schedule = "" }, ""},
		{"redis without addr", func(c *Config) { c.Lease.Backend = LeaseRedis }, "lease.redis_addr"},
		{"unknown lease", func(c *Config) { c.Lease.Backend = "etcd" }, "unknown lease.backend"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "reconcile: [not, a, map]"))
	assert.Error(t, err)
}
