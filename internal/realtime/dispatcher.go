package realtime

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/rickgao/fleet-live/internal/metrics"
)

type handlerEntry struct {
	id HandlerID
	fn Handler
}

// Dispatcher keeps the application's event handlers and fans each transport
// event out to them. It holds at most one transport listener per event name,
// and re-attaches every name when bound to a new transport.
type Dispatcher struct {
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu        sync.Mutex
	nextID    HandlerID
	handlers  map[string][]handlerEntry
	transport Transport
}

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher(logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		logger:   logger,
		metrics:  m,
		handlers: make(map[string][]handlerEntry),
	}
}

// On registers h for event and returns its id. Invalid registrations are
// logged and return zero.
func (d *Dispatcher) On(event string, h Handler) HandlerID {
	switch {
	case event == "":
		d.reject(&ValidationError{Op: "subscribe", Reason: "event name is empty"})
		return 0
	case h == nil:
		d.reject(&ValidationError{Op: "subscribe", Reason: fmt.Sprintf("handler for %s is nil", event)})
		return 0
	case IsLifecycleEvent(event):
		d.reject(&ValidationError{Op: "subscribe", Reason: fmt.Sprintf("%s is a reserved lifecycle event", event)})
		return 0
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	id := d.nextID

	entries, exists := d.handlers[event]
	d.handlers[event] = append(entries, handlerEntry{id: id, fn: h})

	if !exists {
		if d.transport != nil {
			d.transport.On(event, d.fanout(event))
		} else {
			d.logger.Debug("no transport yet, handler will attach on connect", "event", event)
		}
	}

	d.logger.Debug("subscribed", "event", event, "handler", id)
	return id
}

// Off removes the given handlers for event, or all of them when no id is
// given. Removing the last handler detaches the transport listener.
func (d *Dispatcher) Off(event string, ids ...HandlerID) {
	if event == "" {
		d.reject(&ValidationError{Op: "unsubscribe", Reason: "event name is empty"})
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	entries, ok := d.handlers[event]
	if !ok {
		return
	}

	if len(ids) == 0 {
		entries = nil
	} else {
		drop := make(map[HandlerID]struct{}, len(ids))
		for _, id := range ids {
			drop[id] = struct{}{}
		}
		kept := make([]handlerEntry, 0, len(entries))
		for _, e := range entries {
			if _, gone := drop[e.id]; !gone {
				kept = append(kept, e)
			}
		}
		entries = kept
	}

	if len(entries) > 0 {
		d.handlers[event] = entries
		return
	}

	delete(d.handlers, event)
	if d.transport != nil {
		d.transport.Off(event)
	}
	d.logger.Debug("unsubscribed all handlers", "event", event)
}

// Bind attaches every registered event name to t, detaching them from the
// previously bound transport.
func (d *Dispatcher) Bind(t Transport) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.transport == t {
		return
	}
	if old := d.transport; old != nil {
		for event := range d.handlers {
			old.Off(event)
		}
	}

	d.transport = t
	if t == nil {
		return
	}
	for event := range d.handlers {
		t.On(event, d.fanout(event))
	}
}

// Unbind detaches from the current transport, keeping all handlers.
func (d *Dispatcher) Unbind() {
	d.Bind(nil)
}

// Events returns the registered event names, sorted.
func (d *Dispatcher) Events() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]string, 0, len(d.handlers))
	for event := range d.handlers {
		out = append(out, event)
	}
	sort.Strings(out)
	return out
}

// HandlerCount returns the number of handlers registered for event.
func (d *Dispatcher) HandlerCount(event string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.handlers[event])
}

func (d *Dispatcher) fanout(event string) Listener {
	return func(ev Event) {
		d.deliver(event, ev.Data)
	}
}

// deliver runs a snapshot of the handlers for event in registration order.
func (d *Dispatcher) deliver(event string, payload json.RawMessage) {
	d.mu.Lock()
	entries := append([]handlerEntry(nil), d.handlers[event]...)
	d.mu.Unlock()

	if len(entries) == 0 {
		return
	}
	d.metrics.EventDispatched(event)

	for _, e := range entries {
		if err := d.call(e, payload); err != nil {
			d.metrics.HandlerFailure(event)
			d.logger.Error("event handler failed",
				"event", event,
				"handler", e.id,
				"error", err,
			)
		}
	}
}

func (d *Dispatcher) call(e handlerEntry, payload json.RawMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return e.fn(payload)
}

func (d *Dispatcher) reject(err *ValidationError) {
	d.logger.Warn("rejected call", "error", err)
}
