package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/rickgao/fleet-live/internal/api"
	"github.com/rickgao/fleet-live/internal/config"
	"github.com/rickgao/fleet-live/internal/metrics"
	"github.com/rickgao/fleet-live/internal/poller"
	"github.com/rickgao/fleet-live/internal/realtime"
	"github.com/rickgao/fleet-live/internal/version"
	"github.com/rickgao/fleet-live/internal/watch"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <vehicle-id>...",
		Short: "Watch live telemetry for one or more vehicles",
		Long: `Connects to the real-time service, joins each vehicle's room and logs its live
speed, ignition and connection status. SIGHUP forces a reconnect of every
watcher; SIGINT or SIGTERM shuts down.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return runWatch(cmd.Context(), args)
		},
	}
}

func runWatch(ctx context.Context, ids []string) error {
	logger.Info("starting fleetwatch",
		"version", version.Version,
		"commit", version.Commit,
		"config", cfgFile,
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	apiClient := newAPIClient(m)

	factory := realtime.NewSocketFactory(socketConfig(cfg.Realtime), logger.With("component", "transport"))
	mgr := realtime.NewManager(realtime.ManagerConfig{
		RoomType:           cfg.Realtime.RoomType,
		MaxConnectAttempts: cfg.Realtime.MaxConnectAttempts,
	}, factory, logger.With("component", "realtime"), realtime.WithMetrics(m))

	fl := newFleet(mgr, watch.Config{
		MaxAttempts:    cfg.Watch.MaxAttempts,
		SweepInterval:  cfg.Watch.SweepInterval,
		ConnectTimeout: cfg.Watch.ConnectTimeout,
		RoomType:       cfg.Realtime.RoomType,
	}, logger.With("component", "watch"), m)

	// Start health server early so we can monitor connection progress
	var healthServer *http.Server
	if cfg.Metrics.Enabled {
		healthServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler:           createHealthHandler(mgr, fl, reg, cfg.Metrics.Path),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("starting health server", "port", cfg.Metrics.Port)
			if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
				logger.Error("health server error", "error", err)
			}
		}()
	}

	for _, id := range ids {
		fl.add(ctx, id)
	}

	refresher := poller.New(poller.Config{
		Interval:    cfg.Poller.Interval,
		Concurrency: cfg.Poller.Concurrency,
	}, apiClient, fl, fl, logger.With("component", "poller"), m)
	if err := refresher.Start(ctx); err != nil {
		return fmt.Errorf("start vehicle refresher: %w", err)
	}

	// SIGHUP is the manual reconnect.
	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)
	defer signal.Stop(hupCh)

	logger.Info("fleetwatch running", "vehicles", len(ids))

loop:
	for {
		select {
		case <-hupCh:
			logger.Info("received SIGHUP, reconnecting")
			if err := fl.ReconnectAll(ctx); err != nil {
				logger.Warn("manual reconnect failed", "error", err)
			}
		case <-ctx.Done():
			break loop
		}
	}

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := refresher.Stop(shutdownCtx); err != nil {
		logger.Warn("vehicle refresher stop", "error", err)
	}
	if err := fl.Close(); err != nil {
		logger.Warn("closing watchers", "error", err)
	}
	if err := mgr.Disconnect(); err != nil {
		logger.Warn("disconnect", "error", err)
	}
	if healthServer != nil {
		healthServer.Shutdown(shutdownCtx)
	}

	logger.Info("fleetwatch stopped")
	return nil
}

// newAPIClient builds the REST client from the api section. m may be nil.
func newAPIClient(m *metrics.Metrics) *api.Client {
	return api.NewClient(
		cfg.API.BaseURL,
		api.WithLogger(logger.With("component", "api")),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.Retries, cfg.API.RetryBackoff),
		api.WithDelayFirstAttempt(cfg.API.DelayFirstAttempt),
		api.WithRateLimit(cfg.API.RateLimit, cfg.API.RateBurst),
		api.WithHeader("User-Agent", "fleetwatch/"+version.Version),
		api.WithMetrics(m),
	)
}

// socketConfig maps the realtime section onto the transport configuration.
func socketConfig(c config.RealtimeConfig) realtime.SocketConfig {
	sc := realtime.DefaultSocketConfig(c.URL)
	sc.Path = c.Path
	sc.Transports = c.Transports
	sc.Reconnection = c.ReconnectionEnabled()
	sc.ReconnectionAttempts = c.ReconnectionAttempts
	sc.ReconnectionDelay = c.ReconnectionDelay
	sc.ReconnectionDelayMax = c.ReconnectionDelayMax
	sc.Timeout = c.Timeout
	sc.PingInterval = max(c.PingInterval, 0)
	sc.PingTimeout = c.PingTimeout
	sc.Header = http.Header{"User-Agent": {"fleetwatch/" + version.Version}}
	return sc
}
