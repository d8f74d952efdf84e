package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/fleet-live/internal/metrics"
	"github.com/rickgao/fleet-live/internal/model"
	"github.com/rickgao/fleet-live/internal/realtime"
)

// Conn is the part of realtime.Manager a Watcher uses.
type Conn interface {
	Connect(ctx context.Context) error
	IsConnected() bool
	JoinRoom(roomID, roomType string)
	LeaveRoom(roomID, roomType string)
	InRoom(roomID string) bool
	On(event string, h realtime.Handler) realtime.HandlerID
	Off(event string, ids ...realtime.HandlerID)
	OnStateChange(fn func(realtime.StateChange)) (cancel func())
}

// Config holds watcher configuration.
type Config struct {
	MaxAttempts    int           // Failed attempts before automatic retries stop (default: 5)
	SweepInterval  time.Duration // Periodic retry period (default: 30s)
	ConnectTimeout time.Duration // Per-attempt connect timeout (default: 20s)
	RoomType       string        // Join type for the vehicle room (default: client)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    5,
		SweepInterval:  30 * time.Second,
		ConnectTimeout: 20 * time.Second,
		RoomType:       realtime.DefaultRoomType,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.RoomType == "" {
		c.RoomType = d.RoomType
	}
	return c
}

// Status is the connection status shown for a watched vehicle.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
)

// Attempt triggers, as reported to metrics.
const (
	triggerMount    = "mount"
	triggerSweep    = "sweep"
	triggerCooldown = "cooldown"
	triggerManual   = "manual"
)

// RetryState tracks automatic reconnection for one watcher.
type RetryState struct {
	Attempts      int
	Reconnecting  bool // manual reconnect in flight
	LastError     string
	CooldownUntil time.Time
}

// Snapshot is the renderable state of a watcher.
type Snapshot struct {
	VehicleID         string          `json:"vehicleId"`
	Status            Status          `json:"status"`
	StatusText        string          `json:"statusText"`
	SpeedKm           *float64        `json:"speedKm,omitempty"`
	IsIgnitionOn      *bool           `json:"isIgnitionOn,omitempty"`
	Location          *model.GeoPoint `json:"location,omitempty"`
	Vehicle           *model.Vehicle  `json:"vehicle,omitempty"`
	Attempts          int             `json:"attempts"`
	MaxAttempts       int             `json:"maxAttempts"`
	LastError         string          `json:"lastError,omitempty"`
	Exhausted         bool            `json:"exhausted"`
	Reconnecting      bool            `json:"reconnecting"`
	CooldownRemaining time.Duration   `json:"cooldownRemaining,omitempty"`
	UpdatedAt         time.Time       `json:"updatedAt,omitempty"`
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithClock sets the clock used for retry timers.
func WithClock(c Clock) Option {
	return func(w *Watcher) {
		w.clock = c
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Watcher) {
		w.metrics = m
	}
}

// Watcher is the live view of one vehicle at a time.
type Watcher struct {
	conn    Conn
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	clock   Clock
	sched   *Scheduler

	runCtx    context.Context
	runCancel context.CancelFunc
	stopState func()

	mu         sync.Mutex
	closed     bool
	vehicleID  string
	gen        uint64
	status     Status
	statusText string
	retry      RetryState
	inFlight   int
	handlerIDs map[string]realtime.HandlerID

	speed     *float64
	ignition  *bool
	location  *model.GeoPoint
	vehicle   *model.Vehicle
	updatedAt time.Time

	obsMu     sync.Mutex
	observers map[int]func(Snapshot)
	nextObs   int
}

// New creates an idle Watcher on conn. Call Watch to start.
func New(conn Conn, cfg Config, logger *slog.Logger, opts ...Option) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}

	w := &Watcher{
		conn:       conn,
		cfg:        cfg.withDefaults(),
		logger:     logger,
		clock:      realClock{},
		status:     StatusDisconnected,
		statusText: "Disconnected",
		observers:  make(map[int]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.sched = NewScheduler(w.clock)
	w.runCtx, w.runCancel = context.WithCancel(context.Background())
	w.stopState = conn.OnStateChange(w.onStateChange)

	return w
}

// Watch mounts vehicleID, or switches to it from the current vehicle. The
// previous vehicle's timers, handlers and room are released, retry state is
// reset, and a connect is attempted. Watching the current vehicle again is a
// no-op. The connect error, if any, is returned and also shown in Snapshot.
func (w *Watcher) Watch(ctx context.Context, vehicleID string) error {
	if vehicleID == "" {
		err := &realtime.ValidationError{Op: "watch", Reason: "vehicle id is empty"}
		w.logger.Warn("rejected call", "error", err)
		return err
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return realtime.ErrClosed
	}
	if w.vehicleID == vehicleID {
		w.mu.Unlock()
		return nil
	}

	prev := w.vehicleID
	w.detachLocked()

	w.gen++
	gen := w.gen
	w.vehicleID = vehicleID
	w.retry = RetryState{}
	w.speed, w.ignition, w.location, w.vehicle = nil, nil, nil, nil
	w.updatedAt = time.Time{}

	w.attachLocked(gen)
	w.conn.JoinRoom(vehicleID, w.cfg.RoomType)
	w.armSweepLocked(gen)
	w.mu.Unlock()

	if prev != "" {
		w.logger.Info("switched watched vehicle", "from", prev, "to", vehicleID)
	} else {
		w.logger.Info("watching vehicle", "vehicle_id", vehicleID)
	}

	return w.attempt(ctx, gen, triggerMount)
}

// Reconnect is the manual override: it clears the retry state, cancels any
// cooldown, restarts the periodic sweep and attempts a connect now.
func (w *Watcher) Reconnect(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return realtime.ErrClosed
	}
	if w.vehicleID == "" {
		w.mu.Unlock()
		return &realtime.ValidationError{Op: "reconnect", Reason: "no vehicle is being watched"}
	}
	if w.retry.Reconnecting {
		w.mu.Unlock()
		w.logger.Debug("manual reconnect already in flight")
		return nil
	}

	w.retry = RetryState{Reconnecting: true}
	w.sched.Cancel()
	gen := w.gen
	w.armSweepLocked(gen)
	id := w.vehicleID
	w.mu.Unlock()

	w.logger.Info("manual reconnect", "vehicle_id", id)
	return w.attempt(ctx, gen, triggerManual)
}

// Close unmounts the watcher: timers are cancelled, handlers removed and
// the room left. The shared connection stays up.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.gen++
	w.detachLocked()
	w.vehicleID = ""
	w.mu.Unlock()

	w.runCancel()
	if w.stopState != nil {
		w.stopState()
	}
	return nil
}

// SetVehicle stores a freshly fetched vehicle record if it is the watched one.
func (w *Watcher) SetVehicle(v model.Vehicle) {
	w.mu.Lock()
	if v.ID == "" || v.ID != w.vehicleID {
		w.mu.Unlock()
		return
	}
	w.vehicle = &v
	w.mu.Unlock()
	w.notify()
}

// VehicleID returns the watched vehicle, or "".
func (w *Watcher) VehicleID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.vehicleID
}

// Retry returns a copy of the retry state.
func (w *Watcher) Retry() RetryState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.retry
}

// Snapshot returns the current view state.
func (w *Watcher) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshotLocked()
}

// OnChange registers fn for every view change and returns a function that
// removes it.
func (w *Watcher) OnChange(fn func(Snapshot)) (cancel func()) {
	w.obsMu.Lock()
	w.nextObs++
	id := w.nextObs
	w.observers[id] = fn
	w.obsMu.Unlock()

	return func() {
		w.obsMu.Lock()
		delete(w.observers, id)
		w.obsMu.Unlock()
	}
}

func (w *Watcher) snapshotLocked() Snapshot {
	s := Snapshot{
		VehicleID:    w.vehicleID,
		Status:       w.status,
		StatusText:   w.statusText,
		Location:     w.location,
		Vehicle:      w.vehicle,
		Attempts:     w.retry.Attempts,
		MaxAttempts:  w.cfg.MaxAttempts,
		LastError:    w.retry.LastError,
		Exhausted:    w.retry.Attempts >= w.cfg.MaxAttempts,
		Reconnecting: w.retry.Reconnecting,
		UpdatedAt:    w.updatedAt,
	}
	if w.speed != nil {
		v := *w.speed
		s.SpeedKm = &v
	}
	if w.ignition != nil {
		v := *w.ignition
		s.IsIgnitionOn = &v
	}
	if !w.retry.CooldownUntil.IsZero() {
		if d := w.retry.CooldownUntil.Sub(w.clock.Now()); d > 0 {
			s.CooldownRemaining = d
		}
	}
	return s
}

func (w *Watcher) notify() {
	w.mu.Lock()
	s := w.snapshotLocked()
	w.mu.Unlock()

	w.obsMu.Lock()
	fns := make([]func(Snapshot), 0, len(w.observers))
	for _, fn := range w.observers {
		fns = append(fns, fn)
	}
	w.obsMu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}

// attempt runs one connect for generation gen.
func (w *Watcher) attempt(ctx context.Context, gen uint64, trigger string) error {
	w.mu.Lock()
	if w.closed || w.gen != gen {
		w.mu.Unlock()
		return nil
	}
	w.inFlight++
	if w.status != StatusConnected {
		w.status = StatusConnecting
		w.statusText = "Connecting..."
	}
	id := w.vehicleID
	attemptNo := w.retry.Attempts + 1
	w.mu.Unlock()

	w.metrics.WatcherRetry(trigger)
	w.logger.Debug("connect attempt", "vehicle_id", id, "trigger", trigger, "attempt", attemptNo)
	w.notify()

	ctx, cancel := context.WithTimeout(ctx, w.cfg.ConnectTimeout)
	stop := context.AfterFunc(w.runCtx, cancel)
	err := w.conn.Connect(ctx)
	stop()
	cancel()

	w.mu.Lock()
	w.inFlight--
	if w.closed || w.gen != gen {
		w.mu.Unlock()
		return err
	}
	if err == nil {
		if !w.conn.InRoom(id) {
			w.conn.JoinRoom(id, w.cfg.RoomType)
		}
		w.connectedLocked()
	} else {
		err = w.failLocked(gen, err)
	}
	w.mu.Unlock()

	w.notify()
	return err
}

// connectedLocked records a successful connect and resets retry state.
func (w *Watcher) connectedLocked() {
	w.status = StatusConnected
	w.statusText = "Connected"
	w.retry = RetryState{}
}

// failLocked records a failed attempt and decides what runs next: a single
// cooldown retry, the periodic sweep, or nothing once attempts are exhausted.
func (w *Watcher) failLocked(gen uint64, err error) error {
	w.retry.Attempts++
	w.retry.LastError = err.Error()
	w.retry.Reconnecting = false
	w.retry.CooldownUntil = time.Time{}
	w.status = StatusDisconnected

	if w.retry.Attempts >= w.cfg.MaxAttempts {
		w.sched.Cancel()
		w.statusText = fmt.Sprintf("Unable to connect after %d attempts: %s", w.retry.Attempts, w.retry.LastError)
		w.metrics.WatcherExhausted()
		w.logger.Warn("automatic reconnection stopped",
			"vehicle_id", w.vehicleID,
			"attempts", w.retry.Attempts,
			"error", err,
		)
		return err
	}

	if ce, ok := asCooldown(err); ok {
		w.retry.CooldownUntil = w.clock.Now().Add(ce.Wait)
		w.statusText = fmt.Sprintf("Rate limited, retrying in %s", ce.Wait)
		w.sched.Schedule(TimerCooldown, ce.Wait, func() { w.onCooldown(gen) })
		w.logger.Info("server cooldown, retry scheduled",
			"vehicle_id", w.vehicleID,
			"wait", ce.Wait,
			"attempt", w.retry.Attempts,
		)
		return ce
	}

	w.statusText = "Connection error: " + w.retry.LastError
	w.armSweepLocked(gen)
	w.logger.Warn("connect attempt failed",
		"vehicle_id", w.vehicleID,
		"attempt", w.retry.Attempts,
		"max_attempts", w.cfg.MaxAttempts,
		"error", err,
	)
	return err
}

// armSweepLocked ensures the periodic sweep is pending. A pending sweep is
// left alone; a pending cooldown is replaced.
func (w *Watcher) armSweepLocked(gen uint64) {
	if kind, _ := w.sched.Pending(); kind == TimerSweep {
		return
	}
	w.sched.Schedule(TimerSweep, w.cfg.SweepInterval, func() { w.onSweep(gen) })
}

// onSweep re-arms itself and retries only when disconnected, idle, outside
// any cooldown and below the attempt bound.
func (w *Watcher) onSweep(gen uint64) {
	w.mu.Lock()
	if w.closed || w.gen != gen {
		w.mu.Unlock()
		return
	}
	if w.retry.Attempts >= w.cfg.MaxAttempts {
		w.mu.Unlock()
		return
	}
	w.sched.Schedule(TimerSweep, w.cfg.SweepInterval, func() { w.onSweep(gen) })

	due := w.status == StatusDisconnected &&
		!w.retry.Reconnecting &&
		w.inFlight == 0 &&
		w.retry.CooldownUntil.IsZero() &&
		!w.conn.IsConnected()
	w.mu.Unlock()

	if due {
		w.attempt(w.runCtx, gen, triggerSweep)
	}
}

// onCooldown runs the one retry a cooldown scheduled, then resumes the sweep.
func (w *Watcher) onCooldown(gen uint64) {
	w.mu.Lock()
	if w.closed || w.gen != gen {
		w.mu.Unlock()
		return
	}
	w.retry.CooldownUntil = time.Time{}
	w.armSweepLocked(gen)
	w.mu.Unlock()

	w.attempt(w.runCtx, gen, triggerCooldown)
}

// onStateChange mirrors the shared connection's state into the view.
func (w *Watcher) onStateChange(c realtime.StateChange) {
	w.mu.Lock()
	if w.closed || w.vehicleID == "" {
		w.mu.Unlock()
		return
	}

	switch c.New {
	case realtime.StateConnected:
		if w.status == StatusConnected {
			w.mu.Unlock()
			return
		}
		if !w.conn.InRoom(w.vehicleID) {
			w.conn.JoinRoom(w.vehicleID, w.cfg.RoomType)
		}
		w.connectedLocked()
	case realtime.StateDisconnected:
		if w.inFlight > 0 || w.status == StatusDisconnected {
			w.mu.Unlock()
			return
		}
		w.status = StatusDisconnected
		if c.Reason != "" {
			w.statusText = "Connection lost: " + c.Reason
		} else {
			w.statusText = "Disconnected"
		}
		if w.retry.Attempts < w.cfg.MaxAttempts && w.retry.CooldownUntil.IsZero() {
			w.armSweepLocked(w.gen)
		}
		w.logger.Info("connection lost", "vehicle_id", w.vehicleID, "reason", c.Reason)
	default:
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	w.notify()
}

// attachLocked registers this watcher's event handlers for generation gen.
func (w *Watcher) attachLocked(gen uint64) {
	w.handlerIDs = map[string]realtime.HandlerID{
		model.EventVehicleTelemetryUpdated: w.conn.On(model.EventVehicleTelemetryUpdated, func(p json.RawMessage) error {
			return w.handleTelemetry(gen, p)
		}),
		model.EventVehicleIgnitionUpdated: w.conn.On(model.EventVehicleIgnitionUpdated, func(p json.RawMessage) error {
			return w.handleIgnition(gen, p)
		}),
		model.EventUserJoined: w.conn.On(model.EventUserJoined, func(p json.RawMessage) error {
			return w.handlePresence(gen, model.EventUserJoined, p)
		}),
		model.EventUserLeft: w.conn.On(model.EventUserLeft, func(p json.RawMessage) error {
			return w.handlePresence(gen, model.EventUserLeft, p)
		}),
	}
}

// detachLocked releases the current vehicle: timers, handlers and room.
func (w *Watcher) detachLocked() {
	w.sched.Cancel()
	for event, id := range w.handlerIDs {
		w.conn.Off(event, id)
	}
	w.handlerIDs = nil
	if w.vehicleID != "" {
		w.conn.LeaveRoom(w.vehicleID, w.cfg.RoomType)
	}
}

func (w *Watcher) handleTelemetry(gen uint64, payload json.RawMessage) error {
	var u model.TelemetryUpdate
	if err := json.Unmarshal(payload, &u); err != nil {
		return fmt.Errorf("decode telemetry: %w", err)
	}

	w.mu.Lock()
	if w.gen != gen || u.VehicleID == "" || u.VehicleID != w.vehicleID {
		w.mu.Unlock()
		return nil
	}
	speed := u.SpeedKm
	w.speed = &speed
	if u.Location != nil {
		w.location = u.Location
	}
	w.updatedAt = w.clock.Now()
	w.mu.Unlock()

	w.notify()
	return nil
}

func (w *Watcher) handleIgnition(gen uint64, payload json.RawMessage) error {
	var u model.IgnitionUpdate
	if err := json.Unmarshal(payload, &u); err != nil {
		return fmt.Errorf("decode ignition: %w", err)
	}

	w.mu.Lock()
	if w.gen != gen || u.VehicleID == "" || u.VehicleID != w.vehicleID {
		w.mu.Unlock()
		return nil
	}
	on := u.IsIgnitionOn
	w.ignition = &on
	w.updatedAt = w.clock.Now()
	w.mu.Unlock()

	w.notify()
	return nil
}

func (w *Watcher) handlePresence(gen uint64, event string, payload json.RawMessage) error {
	var p model.PresenceEvent
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode %s: %w", event, err)
	}

	w.mu.Lock()
	current := w.gen == gen && p.Room == w.vehicleID
	w.mu.Unlock()

	if current {
		w.logger.Info(event, "room", p.Room, "user", p.Who())
	}
	return nil
}
