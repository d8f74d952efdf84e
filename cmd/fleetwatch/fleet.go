package main

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"go.uber.org/multierr"

	"github.com/rickgao/fleet-live/internal/metrics"
	"github.com/rickgao/fleet-live/internal/model"
	"github.com/rickgao/fleet-live/internal/watch"
)

// fleet is the set of watchers sharing one connection. It feeds the poller
// and routes refreshed records back to the right watcher.
type fleet struct {
	conn    watch.Conn
	cfg     watch.Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu       sync.RWMutex
	watchers map[string]*watch.Watcher
	stops    []func()
}

func newFleet(conn watch.Conn, cfg watch.Config, logger *slog.Logger, m *metrics.Metrics) *fleet {
	return &fleet{
		conn:     conn,
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		watchers: make(map[string]*watch.Watcher),
	}
}

// add starts watching id. A failed first connect is logged and left to the
// watcher's retry policy.
func (f *fleet) add(ctx context.Context, id string) {
	f.mu.Lock()
	if _, ok := f.watchers[id]; ok {
		f.mu.Unlock()
		return
	}
	log := f.logger.With("vehicle_id", id)
	w := watch.New(f.conn, f.cfg, log, watch.WithMetrics(f.metrics))
	f.watchers[id] = w
	f.stops = append(f.stops, w.OnChange(newRenderer(log).render))
	f.mu.Unlock()

	if err := w.Watch(ctx, id); err != nil {
		log.Warn("initial connect failed, retrying in background", "error", err)
	}
}

// WatchedVehicles implements poller.VehicleSource.
func (f *fleet) WatchedVehicles() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	ids := make([]string, 0, len(f.watchers))
	for id := range f.watchers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// HandleVehicle implements poller.VehicleHandler.
func (f *fleet) HandleVehicle(v model.Vehicle) error {
	f.mu.RLock()
	w, ok := f.watchers[v.ID]
	f.mu.RUnlock()
	if !ok {
		return fmt.Errorf("vehicle %s is not watched", v.ID)
	}
	w.SetVehicle(v)
	return nil
}

// Snapshots returns every watcher's view, ordered by vehicle id.
func (f *fleet) Snapshots() []watch.Snapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]watch.Snapshot, 0, len(f.watchers))
	for _, w := range f.watchers {
		out = append(out, w.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VehicleID < out[j].VehicleID })
	return out
}

// ReconnectAll triggers a manual reconnect on every watcher.
func (f *fleet) ReconnectAll(ctx context.Context) error {
	f.mu.RLock()
	ws := make([]*watch.Watcher, 0, len(f.watchers))
	for _, w := range f.watchers {
		ws = append(ws, w)
	}
	f.mu.RUnlock()

	var err error
	for _, w := range ws {
		err = multierr.Append(err, w.Reconnect(ctx))
	}
	return err
}

// Close unmounts every watcher.
func (f *fleet) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, stop := range f.stops {
		stop()
	}
	f.stops = nil

	var err error
	for id, w := range f.watchers {
		err = multierr.Append(err, w.Close())
		delete(f.watchers, id)
	}
	return err
}

// renderer logs a watcher's view whenever something visible changes.
type renderer struct {
	logger *slog.Logger

	mu   sync.Mutex
	last watch.Snapshot
	seen bool
}

func newRenderer(logger *slog.Logger) *renderer {
	return &renderer{logger: logger}
}

func (r *renderer) render(s watch.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.seen && !visiblyChanged(r.last, s) {
		return
	}
	r.last, r.seen = s, true

	attrs := []any{"status", s.Status, "text", s.StatusText}
	if s.SpeedKm != nil {
		attrs = append(attrs, "speed_km", *s.SpeedKm)
	}
	if s.IsIgnitionOn != nil {
		attrs = append(attrs, "ignition", *s.IsIgnitionOn)
	}
	if s.Location != nil {
		attrs = append(attrs, "lat", s.Location.Lat(), "lng", s.Location.Lng())
	}
	if s.Vehicle != nil {
		attrs = append(attrs, "vehicle", s.Vehicle.DisplayName())
	}
	if s.Exhausted {
		attrs = append(attrs, "attempts", s.Attempts, "hint", "send SIGHUP to reconnect")
	} else if s.Attempts > 0 {
		attrs = append(attrs, "attempts", fmt.Sprintf("%d/%d", s.Attempts, s.MaxAttempts))
	}
	r.logger.Info("vehicle", attrs...)
}

func visiblyChanged(a, b watch.Snapshot) bool {
	if a.Status != b.Status || a.StatusText != b.StatusText || a.Attempts != b.Attempts {
		return true
	}
	if !equalPtr(a.SpeedKm, b.SpeedKm) || !equalPtr(a.IsIgnitionOn, b.IsIgnitionOn) {
		return true
	}
	if (a.Location == nil) != (b.Location == nil) || (a.Location != nil && *a.Location != *b.Location) {
		return true
	}
	return (a.Vehicle == nil) != (b.Vehicle == nil) ||
		(a.Vehicle != nil && a.Vehicle.UpdatedAt != b.Vehicle.UpdatedAt)
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
