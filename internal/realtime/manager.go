package realtime

import (
	"context"
	"log/slog"
	"sync"

	"go.uber.org/multierr"

	"github.com/rickgao/fleet-live/internal/metrics"
)

// connectAttempt is shared by every Connect call made while it is in flight.
type connectAttempt struct {
	done chan struct{}
	err  error
}

// finish records the outcome. Must be called with Manager.mu held.
func (a *connectAttempt) finish(err error) {
	a.err = err
	close(a.done)
}

func (a *connectAttempt) wait(ctx context.Context) error {
	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Manager owns the connection to the event server: the transport, the
// connection state, the room membership set and the handler registry.
// Construct one per process and share it.
type Manager struct {
	cfg        ManagerConfig
	factory    TransportFactory
	logger     *slog.Logger
	metrics    *metrics.Metrics
	dispatcher *Dispatcher

	mu        sync.Mutex
	state     ConnectionState
	transport Transport
	pending   *connectAttempt
	rooms     *roomSet
	attempts  int

	// changes queued for observers; one goroutine at a time drains them so
	// transitions are observed in the order they happened.
	changes   []StateChange
	notifying bool

	obsMu        sync.Mutex
	observers    map[int]func(StateChange)
	nextObserver int
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) ManagerOption {
	return func(mgr *Manager) {
		mgr.metrics = m
	}
}

// NewManager creates a disconnected Manager that builds transports with factory.
func NewManager(cfg ManagerConfig, factory TransportFactory, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RoomType == "" {
		cfg.RoomType = DefaultRoomType
	}

	m := &Manager{
		cfg:       cfg,
		factory:   factory,
		logger:    logger,
		rooms:     newRoomSet(),
		observers: make(map[int]func(StateChange)),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.dispatcher = NewDispatcher(logger, m.metrics)
	m.metrics.SetConnectionState(StateDisconnected.String())

	return m
}

// Connect connects to the event server and waits for the outcome.
//
// It returns nil at once when already connected, and joins the attempt in
// flight when there is one. Otherwise any stale transport is discarded and a
// new one is created. Failures are *ConnectError. If ctx ends first, Connect
// returns ctx.Err() and the attempt carries on.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()

	if m.state == StateConnected {
		m.mu.Unlock()
		m.logger.Debug("already connected, reusing connection")
		return nil
	}
	if a := m.pending; a != nil {
		m.mu.Unlock()
		return a.wait(ctx)
	}

	m.attempts++
	attempt := m.attempts
	forceNew := m.cfg.MaxConnectAttempts > 0 && attempt > m.cfg.MaxConnectAttempts

	stale := m.transport
	m.transport = nil

	m.metrics.ConnectAttempt()
	if forceNew {
		m.logger.Info("forcing new transport", "attempt", attempt)
	} else {
		m.logger.Info("connection attempt", "attempt", attempt)
	}

	if m.factory == nil {
		m.mu.Unlock()
		m.discard(stale)
		m.metrics.ConnectFailure()
		return &ConnectError{Attempt: attempt, Err: ErrNoTransport}
	}

	t, err := m.factory(DialOptions{ForceNew: forceNew})
	if err != nil {
		m.mu.Unlock()
		m.discard(stale)
		m.metrics.ConnectFailure()
		m.logger.Error("failed to create transport", "attempt", attempt, "error", err)
		return &ConnectError{Attempt: attempt, Err: err}
	}

	a := &connectAttempt{done: make(chan struct{})}
	m.pending = a
	m.transport = t
	m.wire(t)
	// Bound under mu so a concurrent Disconnect always unbinds after us.
	m.dispatcher.Bind(t)
	change := m.setStateLocked(StateConnecting, "", nil)
	m.unlockAndNotify(change)

	m.discard(stale)

	// The attempt outlives a cancelled caller.
	if err := t.Connect(context.WithoutCancel(ctx)); err != nil {
		m.mu.Lock()
		change := m.failLocked(t, err)
		m.unlockAndNotify(change)
	}

	return a.wait(ctx)
}

// Disconnect leaves every room (best effort), closes the transport and
// clears the membership set.
func (m *Manager) Disconnect() error {
	m.mu.Lock()

	t := m.transport
	m.transport = nil

	var leaveErrs error
	if t != nil && m.state == StateConnected {
		for _, r := range m.rooms.list() {
			leaveErrs = multierr.Append(leaveErrs, t.Emit(EventLeave, RoomRequest{Room: r.id, Type: r.typ}))
		}
	}
	m.rooms.clear()
	m.metrics.SetRooms(0)
	m.attempts = 0

	if a := m.pending; a != nil {
		a.finish(&ConnectError{Err: ErrClosed})
		m.pending = nil
	}
	m.dispatcher.Unbind()
	change := m.setStateLocked(StateDisconnected, ReasonClientDisconnect, nil)
	m.unlockAndNotify(change)

	if leaveErrs != nil {
		m.logger.Warn("failed to leave rooms", "error", leaveErrs)
	}

	if t == nil {
		return nil
	}
	m.logger.Info("disconnecting from event server", "transport_id", t.ID())
	return t.Disconnect()
}

// State returns the current connection state.
func (m *Manager) State() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether State is StateConnected.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// Attempts returns the number of Connect calls since the last success.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Transport returns the live transport, or nil.
func (m *Manager) Transport() Transport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transport
}

// Dispatcher returns the handler registry.
func (m *Manager) Dispatcher() *Dispatcher {
	return m.dispatcher
}

// On registers an application event handler. See Dispatcher.On.
func (m *Manager) On(event string, h Handler) HandlerID {
	return m.dispatcher.On(event, h)
}

// Off removes application event handlers. See Dispatcher.Off.
func (m *Manager) Off(event string, ids ...HandlerID) {
	m.dispatcher.Off(event, ids...)
}

// OnStateChange registers fn for every state transition and returns a
// function that removes it. Observers run without the Manager's lock held.
func (m *Manager) OnStateChange(fn func(StateChange)) (cancel func()) {
	m.obsMu.Lock()
	m.nextObserver++
	id := m.nextObserver
	m.observers[id] = fn
	m.obsMu.Unlock()

	return func() {
		m.obsMu.Lock()
		delete(m.observers, id)
		m.obsMu.Unlock()
	}
}

// wire attaches the lifecycle listeners. Each ignores events from a
// transport that is no longer current.
func (m *Manager) wire(t Transport) {
	t.On(EventConnect, func(Event) {
		m.metrics.TransportEvent(EventConnect)
		m.handleConnect(t)
	})
	t.On(EventConnectError, func(ev Event) {
		m.metrics.TransportEvent(EventConnectError)
		m.mu.Lock()
		change := m.failLocked(t, ev.Err)
		m.unlockAndNotify(change)
	})
	t.On(EventDisconnect, func(ev Event) {
		m.metrics.TransportEvent(EventDisconnect)
		m.handleDisconnect(t, ev.Reason)
	})
	t.On(EventError, func(ev Event) {
		m.metrics.TransportEvent(EventError)
		m.logger.Error("socket error", "error", &RuntimeError{TransportID: t.ID(), Err: ev.Err})
	})
	t.On(EventReconnectAttempt, func(ev Event) {
		m.metrics.TransportEvent(EventReconnectAttempt)
		m.logger.Info("socket reconnection attempt", "attempt", ev.Attempt)
	})
	t.On(EventReconnect, func(ev Event) {
		m.metrics.TransportEvent(EventReconnect)
		m.logger.Info("socket reconnected", "attempts", ev.Attempt)
	})
	t.On(EventReconnectError, func(ev Event) {
		m.metrics.TransportEvent(EventReconnectError)
		m.logger.Warn("socket reconnection error", "attempt", ev.Attempt, "error", ev.Err)
	})
	t.On(EventReconnectFailed, func(ev Event) {
		m.metrics.TransportEvent(EventReconnectFailed)
		m.logger.Warn("socket reconnection failed", "attempts", ev.Attempt)
	})
}

// handleConnect replays every room and then publishes Connected, under one
// lock so no join or leave can interleave.
func (m *Manager) handleConnect(t Transport) {
	m.mu.Lock()
	if m.transport != t {
		m.mu.Unlock()
		return
	}

	for _, r := range m.rooms.list() {
		if err := t.Emit(EventJoin, RoomRequest{Room: r.id, Type: r.typ}); err != nil {
			m.logger.Warn("failed to rejoin room", "room", r.id, "error", err)
			continue
		}
		m.logger.Debug("rejoined room", "room", r.id, "type", r.typ)
	}

	m.attempts = 0
	if a := m.pending; a != nil {
		a.finish(nil)
		m.pending = nil
	}
	change := m.setStateLocked(StateConnected, "", nil)
	rooms := m.rooms.len()
	m.unlockAndNotify(change)

	m.logger.Info("connected to event server", "transport_id", t.ID(), "rooms", rooms)
}

// failLocked fails the pending attempt of t. Must be called with mu held.
func (m *Manager) failLocked(t Transport, err error) *StateChange {
	if m.transport != t || m.state == StateConnected {
		return nil
	}

	cerr := &ConnectError{Attempt: m.attempts, Err: err}
	m.metrics.ConnectFailure()
	m.logger.Warn("socket connection error", "attempt", m.attempts, "error", err)

	if a := m.pending; a != nil {
		a.finish(cerr)
		m.pending = nil
	}
	return m.setStateLocked(StateDisconnected, "", cerr)
}

// handleDisconnect records a drop. Rooms are kept for replay.
func (m *Manager) handleDisconnect(t Transport, reason string) {
	m.mu.Lock()
	if m.transport != t {
		m.mu.Unlock()
		return
	}
	change := m.setStateLocked(StateDisconnected, reason, nil)
	rooms := m.rooms.len()
	m.unlockAndNotify(change)

	if reason == ReasonServerDisconnect {
		m.logger.Warn("server disconnected the socket, no automatic reconnection", "rooms", rooms)
		return
	}
	m.logger.Info("disconnected from event server", "reason", reason, "rooms", rooms)
}

// setStateLocked moves to s and returns the transition, or nil if s is
// already current. Must be called with mu held.
func (m *Manager) setStateLocked(s ConnectionState, reason string, err error) *StateChange {
	if m.state == s {
		return nil
	}
	change := &StateChange{Old: m.state, New: s, Reason: reason, Err: err}
	m.state = s
	m.metrics.SetConnectionState(s.String())
	return change
}

// unlockAndNotify queues change for observers and releases mu. The first
// caller to find no delivery in progress drains the queue.
func (m *Manager) unlockAndNotify(change *StateChange) {
	if change != nil {
		m.changes = append(m.changes, *change)
	}
	if m.notifying || len(m.changes) == 0 {
		m.mu.Unlock()
		return
	}

	m.notifying = true
	for len(m.changes) > 0 {
		batch := m.changes
		m.changes = nil
		m.mu.Unlock()

		m.obsMu.Lock()
		fns := make([]func(StateChange), 0, len(m.observers))
		for _, fn := range m.observers {
			fns = append(fns, fn)
		}
		m.obsMu.Unlock()

		for _, c := range batch {
			for _, fn := range fns {
				fn(c)
			}
		}

		m.mu.Lock()
	}
	m.notifying = false
	m.mu.Unlock()
}

func (m *Manager) discard(t Transport) {
	if t == nil {
		return
	}
	if err := t.Disconnect(); err != nil {
		m.logger.Debug("failed to close stale transport", "error", err)
	}
}
