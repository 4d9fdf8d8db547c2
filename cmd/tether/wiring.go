package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cuemby/tether/pkg/alerting"
	"github.com/cuemby/tether/pkg/clock"
	"github.com/cuemby/tether/pkg/config"
	"github.com/cuemby/tether/pkg/events"
	"github.com/cuemby/tether/pkg/gateway"
	"github.com/cuemby/tether/pkg/lease"
	"github.com/cuemby/tether/pkg/log"
	"github.com/cuemby/tether/pkg/reconciler"
	"github.com/cuemby/tether/pkg/sessions"
	"github.com/cuemby/tether/pkg/storage"
)

// app holds every component built from one configuration
type app struct {
	cfg        config.Config
	store      storage.Store
	redis      redis.UniversalClient
	events     *events.Broker
	reconciler *reconciler.Reconciler
	alerts     *alerting.Monitor
	sessions   *sessions.Service
}

func newApp(cfg config.Config) (*app, error) {
	store, err := openStore(cfg.Store)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, store: store, events: events.NewBroker()}

	locker, err := a.openLocker(cfg.Lease)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	gw := gateway.Instrument(gateway.NewHTTPClient(cfg.GatewayConfig()))

	var notifier alerting.Notifier = alerting.NewLogNotifier()
	if cfg.Alerts.WebhookURL != "" {
		notifier = alerting.NewWebhookNotifier(cfg.Alerts.WebhookURL, cfg.Alerts.WebhookToken, cfg.Alerts.SendTimeout)
	}

	a.reconciler = reconciler.NewReconciler(store, gw, cfg.ReconcilerConfig(),
		reconciler.WithLocker(locker),
		reconciler.WithEvents(a.events),
	)
	a.alerts = alerting.NewMonitor(store, notifier, cfg.AlertingConfig(),
		alerting.WithLocker(locker),
		alerting.WithEvents(a.events),
	)
	a.sessions = sessions.NewService(store, gw,
		sessions.WithEvents(a.events),
		sessions.WithTimeouts(cfg.Gateway.StatusTimeout, cfg.Gateway.ConnectTimeout),
	)
	return a, nil
}

func openStore(cfg config.StoreConfig) (storage.Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite, config.DriverPostgres:
		db, err := storage.OpenSQL(cfg.Driver, cfg.DSN)
		if err != nil {
			return nil, err
		}
		store, err := storage.NewSQLStore(db)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		store, err := storage.NewBoltStore(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
}

func (a *app) openLocker(cfg config.LeaseConfig) (lease.Locker, error) {
	switch cfg.Backend {
	case config.LeaseMemory:
		return lease.NewMemory(clock.Real{}), nil
	case config.LeaseRedis:
		a.redis = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.RedisAddr},
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.redis.Ping(ctx).Err(); err != nil {
			// Passes run without a lease while redis is down
			log.Logger.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("Redis lease backend unreachable")
		}
		return lease.NewRedis(a.redis, cfg.Prefix), nil
	default:
		return lease.Noop{}, nil
	}
}

func (a *app) Close() error {
	a.events.Stop()
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if err := a.store.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	return nil
}
