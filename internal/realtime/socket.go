package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"go.uber.org/multierr"
)

// SocketTransport is the production Transport: JSON frames over a websocket,
// falling back to HTTP long-polling, with bounded automatic reconnection.
type SocketTransport struct {
	cfg     SocketConfig
	id      string
	logger  *slog.Logger
	dialers []sessionDialer

	queue *eventQueue[Event]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.RWMutex
	listeners map[string][]Listener
	sess      session
	connected bool
	started   bool
	closed    bool
}

// SocketOption configures a SocketTransport.
type SocketOption func(*socketOptions)

type socketOptions struct {
	httpClient *http.Client
}

// WithHTTPClient sets the client used by the polling transport.
func WithHTTPClient(c *http.Client) SocketOption {
	return func(o *socketOptions) {
		o.httpClient = c
	}
}

// NewSocketTransport creates an unconnected transport.
func NewSocketTransport(cfg SocketConfig, logger *slog.Logger, opts ...SocketOption) (*SocketTransport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.URL == "" {
		return nil, ErrNoURL
	}
	cfg = cfg.withDefaults()

	o := socketOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{}
	}

	id := uuid.NewString()
	logger = logger.With("transport_id", id)

	dialers := make([]sessionDialer, 0, len(cfg.Transports))
	for _, name := range cfg.Transports {
		u, err := endpoint(cfg.URL, cfg.Path, name)
		if err != nil {
			return nil, err
		}
		switch name {
		case TransportWebSocket:
			dialers = append(dialers, &wsDialer{url: u, cfg: cfg, logger: logger})
		case TransportPolling:
			dialers = append(dialers, &pollDialer{url: u, cfg: cfg, client: o.httpClient, logger: logger})
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &SocketTransport{
		cfg:       cfg,
		id:        id,
		logger:    logger,
		dialers:   dialers,
		queue:     newEventQueue[Event](cfg.BufferSize),
		ctx:       ctx,
		cancel:    cancel,
		listeners: make(map[string][]Listener),
	}, nil
}

// NewSocketFactory returns a TransportFactory producing SocketTransports that
// share one HTTP connection pool until a caller asks for ForceNew.
func NewSocketFactory(cfg SocketConfig, logger *slog.Logger) TransportFactory {
	var (
		mu     sync.Mutex
		client = &http.Client{}
	)

	return func(opts DialOptions) (Transport, error) {
		mu.Lock()
		if opts.ForceNew {
			client.CloseIdleConnections()
			client = &http.Client{}
		}
		c := client
		mu.Unlock()

		return NewSocketTransport(cfg, logger, WithHTTPClient(c))
	}
}

// ID returns the live session id, or the transport id before the first session.
func (t *SocketTransport) ID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.sess != nil {
		return t.sess.ID()
	}
	return t.id
}

// Connected reports whether a session is currently established.
func (t *SocketTransport) Connected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// On adds a listener for event. Several listeners per event are allowed.
func (t *SocketTransport) On(event string, l Listener) {
	if event == "" || l == nil {
		return
	}
	t.mu.Lock()
	t.listeners[event] = append(t.listeners[event], l)
	t.mu.Unlock()
}

// Off removes every listener for event.
func (t *SocketTransport) Off(event string) {
	t.mu.Lock()
	delete(t.listeners, event)
	t.mu.Unlock()
}

// Connect starts the connection loop. It returns immediately; the outcome is
// delivered as connect or connect_error. ctx bounds only the first open.
func (t *SocketTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	if t.started {
		return nil
	}
	t.started = true

	t.wg.Add(2)
	go t.dispatch()
	go t.run(ctx)

	t.logger.Debug("transport connecting", "url", t.cfg.URL, "transports", t.cfg.Transports)
	return nil
}

// Disconnect closes the transport for good. A connected transport delivers a
// final disconnect event with reason "io client disconnect".
func (t *SocketTransport) Disconnect() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	wasConnected := t.connected
	sess := t.sess
	t.connected = false
	t.sess = nil
	if wasConnected {
		t.queue.push(Event{Name: EventDisconnect, Reason: ReasonClientDisconnect})
	}
	t.queue.close()
	t.mu.Unlock()

	t.cancel()

	if sess != nil {
		return sess.Close()
	}
	return nil
}

// Wait blocks until the transport's goroutines have exited.
func (t *SocketTransport) Wait() {
	t.wg.Wait()
}

// Emit sends one frame on the live session.
func (t *SocketTransport) Emit(event string, payload any) error {
	if event == "" {
		return &ValidationError{Op: "emit", Reason: "event name is empty"}
	}

	t.mu.RLock()
	sess, connected := t.sess, t.connected
	t.mu.RUnlock()

	if !connected || sess == nil {
		return ErrNotConnected
	}

	f := Frame{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", event, err)
		}
		f.Data = data
	}

	if err := sess.Send(f); err != nil {
		return fmt.Errorf("emit %s: %w", event, err)
	}
	return nil
}

// publish queues ev for listeners unless the transport has been closed.
func (t *SocketTransport) publish(ev Event) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return
	}
	t.queue.push(ev)
}

// dispatch delivers queued events to listeners, one event at a time.
func (t *SocketTransport) dispatch() {
	defer t.wg.Done()

	for {
		ev, ok := t.queue.pop()
		if !ok {
			return
		}

		t.mu.RLock()
		ls := append([]Listener(nil), t.listeners[ev.Name]...)
		t.mu.RUnlock()

		for _, l := range ls {
			t.invoke(l, ev)
		}
	}
}

func (t *SocketTransport) invoke(l Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("listener panicked", "event", ev.Name, "panic", r)
		}
	}()
	l(ev)
}

// run opens sessions and serves them until the transport is closed, the
// server ends the session, or reconnection gives up.
func (t *SocketTransport) run(first context.Context) {
	defer t.wg.Done()

	b := &backoff.Backoff{
		Min:    t.cfg.ReconnectionDelay,
		Max:    t.cfg.ReconnectionDelayMax,
		Factor: 2,
		Jitter: true,
	}

	attempt := 0
	for {
		if attempt > 0 {
			if t.cfg.ReconnectionAttempts > 0 && attempt > t.cfg.ReconnectionAttempts {
				t.logger.Warn("reconnection attempts exhausted", "attempts", t.cfg.ReconnectionAttempts)
				t.publish(Event{Name: EventReconnectFailed, Attempt: t.cfg.ReconnectionAttempts})
				return
			}

			delay := b.Duration()
			t.publish(Event{Name: EventReconnectAttempt, Attempt: attempt})
			t.logger.Debug("reconnecting", "attempt", attempt, "delay", delay)

			timer := time.NewTimer(delay)
			select {
			case <-t.ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}

		var (
			sess session
			err  error
		)
		if attempt == 0 {
			sess, err = t.openFirst(first)
		} else {
			sess, err = t.open(t.ctx)
		}

		if err != nil {
			if t.ctx.Err() != nil {
				return
			}
			if attempt == 0 {
				t.publish(Event{Name: EventConnectError, Err: err})
			} else {
				t.publish(Event{Name: EventReconnectError, Err: err, Attempt: attempt})
			}
			if !t.cfg.Reconnection {
				return
			}
			attempt++
			continue
		}

		if !t.establish(sess, attempt) {
			return
		}
		b.Reset()

		reason := t.serve(sess)
		t.teardown(sess)

		if reason == ReasonClientDisconnect {
			return
		}
		t.logger.Info("transport disconnected", "reason", reason)
		t.publish(Event{Name: EventDisconnect, Reason: reason})

		if reason == ReasonServerDisconnect || !t.cfg.Reconnection {
			return
		}
		attempt = 1
	}
}

// openFirst opens the first session, additionally bounded by the caller's ctx.
func (t *SocketTransport) openFirst(first context.Context) (session, error) {
	if first == nil {
		return t.open(t.ctx)
	}
	ctx, cancel := context.WithCancel(t.ctx)
	defer cancel()
	stop := context.AfterFunc(first, cancel)
	defer stop()

	return t.open(ctx)
}

// open tries each configured transport in order within one Timeout.
func (t *SocketTransport) open(parent context.Context) (session, error) {
	if len(t.dialers) == 0 {
		return nil, ErrNoTransport
	}

	ctx, cancel := context.WithTimeout(parent, t.cfg.Timeout)
	defer cancel()

	var errs error
	for _, d := range t.dialers {
		sess, err := d.Dial(ctx)
		if err == nil {
			t.logger.Debug("session opened", "transport", d.Name(), "session", sess.ID())
			return sess, nil
		}

		t.logger.Debug("transport dial failed", "transport", d.Name(), "error", err)
		errs = multierr.Append(errs, fmt.Errorf("%s: %w", d.Name(), err))

		if ctx.Err() != nil {
			break
		}
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) && parent.Err() == nil {
		errs = multierr.Append(errs, ErrTimeout)
	}
	return nil, errs
}

// establish installs sess as the live session and announces it.
func (t *SocketTransport) establish(sess session, attempt int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		sess.Close()
		return false
	}

	t.sess = sess
	t.connected = true
	t.queue.push(Event{Name: EventConnect})
	if attempt > 0 {
		t.queue.push(Event{Name: EventReconnect, Attempt: attempt})
	}

	t.logger.Info("transport connected", "session", sess.ID(), "attempt", attempt)
	return true
}

// serve reads frames until the session fails and returns the disconnect reason.
func (t *SocketTransport) serve(sess session) string {
	for {
		f, err := sess.Receive()
		if err != nil {
			switch {
			case t.ctx.Err() != nil:
				return ReasonClientDisconnect
			case errors.Is(err, errServerClosed):
				return ReasonServerDisconnect
			case errors.Is(err, errPingTimeout):
				return ReasonPingTimeout
			default:
				t.logger.Debug("session read failed", "session", sess.ID(), "error", err)
				return ReasonTransportClose
			}
		}

		switch {
		case f.Event == EventError:
			t.publish(Event{
				Name: EventError,
				Data: f.Data,
				Err:  &RuntimeError{TransportID: sess.ID(), Err: errors.New(errorText(f.Data))},
			})
		case IsLifecycleEvent(f.Event):
			t.logger.Debug("ignoring reserved event from server", "event", f.Event)
		default:
			t.publish(Event{Name: f.Event, Data: f.Data})
		}
	}
}

func (t *SocketTransport) teardown(sess session) {
	t.mu.Lock()
	if t.sess == sess {
		t.sess = nil
		t.connected = false
	}
	t.mu.Unlock()

	sess.Close()
}

// errorText extracts a message from an error frame payload.
func errorText(data json.RawMessage) string {
	var msg string
	if json.Unmarshal(data, &msg) == nil && msg != "" {
		return msg
	}
	var obj struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &obj) == nil && obj.Message != "" {
		return obj.Message
	}
	if len(data) == 0 {
		return "unknown error"
	}
	return string(data)
}
