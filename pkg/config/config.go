package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/tether/pkg/alerting"
	"github.com/cuemby/tether/pkg/gateway"
	"github.com/cuemby/tether/pkg/health"
	"github.com/cuemby/tether/pkg/reconciler"
	"github.com/cuemby/tether/pkg/scheduler"
)

// Environment variables that override file values
const (
	EnvGatewayToken = "TETHER_GATEWAY_TOKEN"
	EnvStoreDSN     = "TETHER_STORE_DSN"
	EnvRedisAddr    = "TETHER_REDIS_ADDR"
	EnvAPIToken     = "TETHER_API_TOKEN"
	EnvWebhookToken = "TETHER_WEBHOOK_TOKEN"
)

// Store drivers
const (
	DriverBolt     = "bolt"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Lease backends
const (
	LeaseNone   = "none"
	LeaseMemory = "memory"
	LeaseRedis  = "redis"
)

// Config is the tether configuration file
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Store     StoreConfig     `yaml:"store"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Lease     LeaseConfig     `yaml:"lease"`
	Health    HealthConfig    `yaml:"health"`
}

type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	// GRPCAddr serves grpc.health.v1, empty disables it
	GRPCAddr string `yaml:"grpc_addr"`
	Token    string `yaml:"token"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type StoreConfig struct {
	Driver  string `yaml:"driver"`
	DataDir string `yaml:"data_dir"`
	DSN     string `yaml:"dsn"`
}

type GatewayConfig struct {
	BaseURL        string        `yaml:"base_url"`
	Token          string        `yaml:"token"`
	StatusTimeout  time.Duration `yaml:"status_timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	HealthPath     string        `yaml:"health_path"`
}

type ReconcileConfig struct {
	// Schedule is a cron spec, empty disables the in-process trigger
	Schedule              string        `yaml:"schedule"`
	ConnectingThreshold   time.Duration `yaml:"connecting_threshold"`
	DisconnectedThreshold time.Duration `yaml:"disconnected_threshold"`
	MaxAttempts           int           `yaml:"max_attempts"`
	AttemptWindow         time.Duration `yaml:"attempt_window"`
	InterSessionDelay     time.Duration `yaml:"inter_session_delay"`
	PassTimeout           time.Duration `yaml:"pass_timeout"`
}

type AlertsConfig struct {
	Schedule            string        `yaml:"schedule"`
	DisconnectThreshold time.Duration `yaml:"disconnect_threshold"`
	ConnectingThreshold time.Duration `yaml:"connecting_threshold"`
	ReauthAlerts        bool          `yaml:"reauth_alerts"`
	FallbackRecipient   string        `yaml:"fallback_recipient"`
	// WebhookURL is the mail relay endpoint, empty logs alerts instead
	WebhookURL   string        `yaml:"webhook_url"`
	WebhookToken string        `yaml:"webhook_token"`
	SendTimeout  time.Duration `yaml:"send_timeout"`
	PassTimeout  time.Duration `yaml:"pass_timeout"`
}

type LeaseConfig struct {
	Backend       string `yaml:"backend"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	Prefix        string `yaml:"prefix"`
}

type HealthConfig struct {
	Interval time.Duration `yaml:"interval"`
	Retries  int           `yaml:"retries"`
}

// Default returns the configuration used when no file is given
func Default() Config {
	rec := reconciler.DefaultConfig()
	al := alerting.DefaultConfig()
	hc := health.DefaultConfig()
	return Config{
		Server: ServerConfig{HTTPAddr: ":8080"},
		Log:    LogConfig{Level: "info", JSON: true},
		Store:  StoreConfig{Driver: DriverBolt, DataDir: "./data"},
		Gateway: GatewayConfig{
			StatusTimeout:  rec.StatusTimeout,
			ConnectTimeout: rec.ConnectTimeout,
			HealthPath:     "/health",
		},
		Reconcile: ReconcileConfig{
			Schedule:              "@every 1m",
			ConnectingThreshold:   rec.ConnectingThreshold,
			DisconnectedThreshold: rec.DisconnectedThreshold,
			MaxAttempts:           rec.MaxAttempts,
			AttemptWindow:         rec.AttemptWindow,
			InterSessionDelay:     rec.InterSessionDelay,
			PassTimeout:           rec.PassTimeout,
		},
		Alerts: AlertsConfig{
			Schedule:            "@every 1m",
			DisconnectThreshold: al.DisconnectThreshold,
			ConnectingThreshold: al.ConnectingThreshold,
			ReauthAlerts:        al.ReauthAlerts,
			SendTimeout:         al.SendTimeout,
			PassTimeout:         al.PassTimeout,
		},
		Lease:  LeaseConfig{Backend: LeaseNone, Prefix: "tether:lease"},
		Health: HealthConfig{Interval: hc.Interval, Retries: hc.Retries},
	}
}

// Load reads path over the defaults and applies environment overrides. An
// empty path only applies the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv(os.LookupEnv)
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvGatewayToken); ok {
		c.Gateway.Token = v
	}
	if v, ok := lookup(EnvStoreDSN); ok {
		c.Store.DSN = v
	}
	if v, ok := lookup(EnvRedisAddr); ok {
		c.Lease.RedisAddr = v
		if c.Lease.Backend == LeaseNone {
			c.Lease.Backend = LeaseRedis
		}
	}
	if v, ok := lookup(EnvAPIToken); ok {
		c.Server.Token = v
	}
	if v, ok := lookup(EnvWebhookToken); ok {
		c.Alerts.WebhookToken = v
	}
}

// Validate reports every problem in the configuration at once
func (c Config) Validate() error {
	var errs []error

	switch c.Store.Driver {
	case DriverBolt:
		if c.Store.DataDir == "" {
			errs = append(errs, errors.New("store.data_dir is required for the bolt driver"))
		}
	case DriverSQLite, DriverPostgres:
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store.dsn is required for the %s driver", c.Store.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}

	if c.Gateway.BaseURL == "" {
		errs = append(errs, errors.New("gateway.base_url is required"))
	} else if !strings.HasPrefix(c.Gateway.BaseURL, "http://") && !strings.HasPrefix(c.Gateway.BaseURL, "https://") {
		errs = append(errs, fmt.Errorf("gateway.base_url %q must be an http(s) URL", c.Gateway.BaseURL))
	}

	if c.Reconcile.MaxAttempts <= 0 {
		errs = append(errs, errors.New("reconcile.max_attempts must be positive"))
	}
	if c.Reconcile.AttemptWindow <= 0 {
		errs = append(errs, errors.New("reconcile.attempt_window must be positive"))
	}
	if c.Reconcile.InterSessionDelay < 0 {
		errs = append(errs, errors.New("reconcile.inter_session_delay must not be negative"))
	}
	if c.Alerts.DisconnectThreshold <= 0 || c.Alerts.ConnectingThreshold <= 0 {
		errs = append(errs, errors.New("alerts thresholds must be positive"))
	}

	for name, spec := range map[string]string{"reconcile.schedule": c.Reconcile.Schedule, "alerts.schedule": c.Alerts.Schedule} {
		if spec == "" {
			continue
		}
		if err := scheduler.ParseSpec(spec); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	switch c.Lease.Backend {
	case LeaseNone, LeaseMemory:
	case LeaseRedis:
		if c.Lease.RedisAddr == "" {
			errs = append(errs, errors.New("lease.redis_addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown lease.backend %q", c.Lease.Backend))
	}

	return errors.Join(errs...)
}

// ReconcilerConfig returns the reconciler settings
func (c Config) ReconcilerConfig() reconciler.Config {
	return reconciler.Config{
		ConnectingThreshold:   c.Reconcile.ConnectingThreshold,
		DisconnectedThreshold: c.Reconcile.DisconnectedThreshold,
		MaxAttempts:           c.Reconcile.MaxAttempts,
		AttemptWindow:         c.Reconcile.AttemptWindow,
		InterSessionDelay:     c.Reconcile.InterSessionDelay,
		StatusTimeout:         c.Gateway.StatusTimeout,
		ConnectTimeout:        c.Gateway.ConnectTimeout,
		PassTimeout:           c.Reconcile.PassTimeout,
	}
}

// AlertingConfig returns the alert monitor settings
func (c Config) AlertingConfig() alerting.Config {
	return alerting.Config{
		DisconnectThreshold: c.Alerts.DisconnectThreshold,
		ConnectingThreshold: c.Alerts.ConnectingThreshold,
		ReauthAlerts:        c.Alerts.ReauthAlerts,
		FallbackRecipient:   c.Alerts.FallbackRecipient,
		SendTimeout:         c.Alerts.SendTimeout,
		PassTimeout:         c.Alerts.PassTimeout,
	}
}

// GatewayConfig returns the gateway client settings
func (c Config) GatewayConfig() gateway.Config {
	return gateway.Config{
		BaseURL:        c.Gateway.BaseURL,
		Token:          c.Gateway.Token,
		StatusTimeout:  c.Gateway.StatusTimeout,
		ConnectTimeout: c.Gateway.ConnectTimeout,
	}
}

// HealthConfig returns the dependency probe settings
func (c Config) HealthConfig() health.Config {
	return health.Config{
		Interval: c.Health.Interval,
		Timeout:  c.Gateway.StatusTimeout,
		Retries:  c.Health.Retries,
	}
}
