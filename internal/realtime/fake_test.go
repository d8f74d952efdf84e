package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// emitted is one recorded Emit call.
type emitted struct {
	Event   string
	Payload any
}

// fakeTransport is an in-memory Transport. Tests drive it with fire; events
// are delivered synchronously on the calling goroutine.
type fakeTransport struct {
	id string

	// connectResult decides what Connect does: nil fires connect, a non-nil
	// error fires connect_error, and hold leaves the attempt pending.
	connectResult error
	hold          bool
	emitErr       error

	mu           sync.Mutex
	listeners    map[string][]Listener
	onCalls      map[string]int
	connected    bool
	closed       bool
	connectCalls int
	emits        []emitted
}

func newFakeTransport(id string) *fakeTransport {
	return &fakeTransport{
		id:        id,
		listeners: make(map[string][]Listener),
		onCalls:   make(map[string]int),
	}
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	f.connectCalls++
	if f.closed {
		f.mu.Unlock()
		return ErrClosed
	}
	hold, result := f.hold, f.connectResult
	f.mu.Unlock()

	if hold {
		return nil
	}
	go func() {
		if result != nil {
			f.fire(Event{Name: EventConnectError, Err: result})
			return
		}
		f.accept()
	}()
	return nil
}

// accept marks the transport connected and fires connect.
func (f *fakeTransport) accept() {
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	f.fire(Event{Name: EventConnect})
}

// drop marks the transport disconnected and fires disconnect.
func (f *fakeTransport) drop(reason string) {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	f.fire(Event{Name: EventDisconnect, Reason: reason})
}

// data fires an application event with a JSON payload.
func (f *fakeTransport) data(event string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		panic(fmt.Sprintf("marshal test payload: %v", err))
	}
	f.fire(Event{Name: event, Data: raw})
}

func (f *fakeTransport) fire(ev Event) {
	f.mu.Lock()
	ls := append([]Listener(nil), f.listeners[ev.Name]...)
	f.mu.Unlock()
	for _, l := range ls {
		l(ev)
	}
}

func (f *fakeTransport) Disconnect() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	was := f.connected
	f.connected = false
	f.mu.Unlock()

	if was {
		f.fire(Event{Name: EventDisconnect, Reason: ReasonClientDisconnect})
	}
	return nil
}

func (f *fakeTransport) Emit(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return ErrNotConnected
	}
	if f.emitErr != nil {
		return f.emitErr
	}
	f.emits = append(f.emits, emitted{Event: event, Payload: payload})
	return nil
}

func (f *fakeTransport) On(event string, l Listener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners[event] = append(f.listeners[event], l)
	f.onCalls[event]++
}

func (f *fakeTransport) Off(event string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.listeners, event)
}

func (f *fakeTransport) ID() string { return f.id }

func (f *fakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) failEmits(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emitErr = err
}

func (f *fakeTransport) Emits() []emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]emitted(nil), f.emits...)
}

func (f *fakeTransport) ListenerCount(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners[event])
}

func (f *fakeTransport) OnCalls(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.onCalls[event]
}

func (f *fakeTransport) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeFactory records every transport it makes. setup, if set, configures
// each new transport before it is returned.
type fakeFactory struct {
	mu    sync.Mutex
	made  []*fakeTransport
	opts  []DialOptions
	setup func(n int, t *fakeTransport)
	err   error
}

func (ff *fakeFactory) New(opts DialOptions) (Transport, error) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	ff.opts = append(ff.opts, opts)
	if ff.err != nil {
		return nil, ff.err
	}
	t := newFakeTransport(fmt.Sprintf("fake-%d", len(ff.made)+1))
	if ff.setup != nil {
		ff.setup(len(ff.made), t)
	}
	ff.made = append(ff.made, t)
	return t, nil
}

func (ff *fakeFactory) Count() int {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return len(ff.made)
}

func (ff *fakeFactory) Last() *fakeTransport {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	if len(ff.made) == 0 {
		return nil
	}
	return ff.made[len(ff.made)-1]
}

func (ff *fakeFactory) Opts() []DialOptions {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return append([]DialOptions(nil), ff.opts...)
}

var errRefused = errors.New("dial tcp: connection refused")
