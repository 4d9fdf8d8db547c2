package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/tether/pkg/api"
	"github.com/cuemby/tether/pkg/health"
	"github.com/cuemby/tether/pkg/log"
	"github.com/cuemby/tether/pkg/metrics"
	"github.com/cuemby/tether/pkg/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the controller: scheduled passes, HTTP API and health probes",
	Long: `Serve runs the reconciler and the alert monitor on their cron schedules
and exposes the HTTP API, Prometheus metrics and the optional gRPC health
service until it receives SIGINT or SIGTERM.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("http-addr", "", "HTTP listen address (overrides server.http_addr)")
	serveCmd.Flags().String("grpc-addr", "", "gRPC health listen address (overrides server.grpc_addr)")
	serveCmd.Flags().Bool("no-schedule", false, "Disable the in-process pass triggers")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if !cmd.Flags().Changed("log-level") && !cmd.Flags().Changed("log-json") {
		log.Init(log.Config{Level: log.ParseLevel(cfg.Log.Level), JSONOutput: cfg.Log.JSON})
	}
	if addr, _ := cmd.Flags().GetString("http-addr"); addr != "" {
		cfg.Server.HTTPAddr = addr
	}
	if addr, _ := cmd.Flags().GetString("grpc-addr"); addr != "" {
		cfg.Server.GRPCAddr = addr
	}
	noSchedule, _ := cmd.Flags().GetBool("no-schedule")

	logger := log.WithComponent("serve")
	logger.Info().
		Str("version", Version).
		Str("store", cfg.Store.Driver).
		Str("lease", cfg.Lease.Backend).
		Msg("Starting tether")

	a, err := newApp(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error().Err(err).Msg("Shutdown error")
		}
	}()
	a.events.Start()

	metrics.SetCriticalComponents(metrics.ComponentStore, metrics.ComponentAPI)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Dependency probes
	monitor := health.NewMonitor(cfg.HealthConfig())
	monitor.Add(metrics.ComponentStore, health.PingFunc(a.store.Ping))
	if cfg.Gateway.HealthPath != "" {
		monitor.Add(metrics.ComponentGateway,
			health.NewGatewayChecker(cfg.Gateway.BaseURL, cfg.Gateway.HealthPath, cfg.Gateway.Token))
	}
	if a.redis != nil {
		monitor.Add(metrics.ComponentLease, health.PingFunc(func(ctx context.Context) error {
			return a.redis.Ping(ctx).Err()
		}))
	}
	monitor.Start(ctx)
	defer monitor.Stop()

	collector := metrics.NewCollector(a.store, 15*time.Second)
	collector.Start()
	defer collector.Stop()

	sched := scheduler.NewScheduler()
	if !noSchedule {
		if cfg.Reconcile.Schedule != "" {
			if err := sched.Add("reconcile", cfg.Reconcile.Schedule, scheduler.ReconcilePass(a.reconciler)); err != nil {
				return err
			}
		}
		if cfg.Alerts.Schedule != "" {
			if err := sched.Add("alerts", cfg.Alerts.Schedule, scheduler.AlertPass(a.alerts)); err != nil {
				return err
			}
		}
	}
	sched.Start()

	server := api.NewServer(api.Dependencies{
		Reconciler: a.reconciler,
		Alerts:     a.alerts,
		Sessions:   a.sessions,
		Events:     a.events,
		Token:      cfg.Server.Token,
	})

	errCh := make(chan error, 2)
	go func() {
		errCh <- server.Start(cfg.Server.HTTPAddr)
	}()

	var grpcHealth *api.HealthServer
	if cfg.Server.GRPCAddr != "" {
		grpcHealth = api.NewHealthServer(cfg.Health.Interval)
		go func() {
			errCh <- grpcHealth.Start(cfg.Server.GRPCAddr)
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var serveErr error
	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	case serveErr = <-errCh:
		if serveErr != nil {
			logger.Error().Err(serveErr).Msg("Listener failed, shutting down")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop triggering passes first, then drain requests
	sched.Stop(shutdownCtx)
	if grpcHealth != nil {
		grpcHealth.Stop()
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP shutdown error")
	}

	logger.Info().Msg("Shutdown complete")
	return serveErr
}
