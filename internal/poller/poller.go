package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/fleet-live/internal/metrics"
	"github.com/rickgao/fleet-live/internal/model"
)

// VehicleSource provides the vehicle ids to refresh.
type VehicleSource interface {
	WatchedVehicles() []string
}

// VehicleFetcher loads one vehicle record. *api.Client implements it.
type VehicleFetcher interface {
	GetVehicle(ctx context.Context, id string) (*model.Vehicle, error)
}

// VehicleHandler receives fetched vehicle records.
type VehicleHandler interface {
	HandleVehicle(v model.Vehicle) error
}

// VehicleHandlerFunc is a function adapter for VehicleHandler.
type VehicleHandlerFunc func(model.Vehicle) error

func (f VehicleHandlerFunc) HandleVehicle(v model.Vehicle) error {
	return f(v)
}

// Config holds poller configuration.
type Config struct {
	Interval    time.Duration // Refresh interval (default: 5m)
	Concurrency int           // Max concurrent requests (default: 4)
	Timeout     time.Duration // Per-request timeout (default: 10s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    5 * time.Minute,
		Concurrency: 4,
		Timeout:     10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	return c
}

// Poller periodically refreshes watched vehicle records via REST.
type Poller struct {
	cfg      Config
	fetcher  VehicleFetcher
	vehicles VehicleSource
	handler  VehicleHandler
	logger   *slog.Logger
	metrics  *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller. m may be nil.
func New(cfg Config, fetcher VehicleFetcher, vehicles VehicleSource, handler VehicleHandler, logger *slog.Logger, m *metrics.Metrics) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		cfg:      cfg.withDefaults(),
		fetcher:  fetcher,
		vehicles: vehicles,
		handler:  handler,
		logger:   logger,
		metrics:  m,
	}
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("vehicle refresher started",
		"interval", p.cfg.Interval,
		"concurrency", p.cfg.Concurrency,
	)

	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("vehicle refresher stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the main polling loop.
func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	// Poll immediately on start.
	p.pollAll(p.ctx)

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.pollAll(p.ctx)
		}
	}
}

// Refresh runs one refresh cycle outside the ticker.
func (p *Poller) Refresh(ctx context.Context) {
	p.pollAll(ctx)
}

// pollAll fetches every watched vehicle with bounded concurrency.
func (p *Poller) pollAll(ctx context.Context) {
	start := time.Now()

	ids := p.vehicles.WatchedVehicles()
	if len(ids) == 0 {
		p.logger.Debug("no watched vehicles to refresh")
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)

	var fetched, failed atomic.Int64
	for _, id := range ids {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := p.pollVehicle(gctx, id); err != nil {
				p.logger.Warn("failed to refresh vehicle",
					"vehicle_id", id,
					"err", err,
				)
				failed.Add(1)
				p.metrics.VehicleRefresh("error")
				return nil
			}
			fetched.Add(1)
			p.metrics.VehicleRefresh("ok")
			return nil
		})
	}

	_ = g.Wait()

	p.logger.Info("refresh cycle complete",
		"vehicles", len(ids),
		"fetched", fetched.Load(),
		"errors", failed.Load(),
		"duration", time.Since(start),
	)
}

// pollVehicle fetches and handles a single vehicle.
func (p *Poller) pollVehicle(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	v, err := p.fetcher.GetVehicle(ctx, id)
	if err != nil {
		return err
	}

	if p.handler != nil {
		if err := p.handler.HandleVehicle(*v); err != nil {
			return err
		}
	}

	return nil
}
