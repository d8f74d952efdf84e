package watch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rickgao/fleet-live/internal/realtime"
)

// fakeClock fires timers only from Advance, on the calling goroutine.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	due     time.Time
	fn      func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, due: c.now.Add(d), fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves time forward by d, firing due timers in due order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.due.After(target) {
				continue
			}
			if next == nil || t.due.Before(next.due) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		next.fired = true
		c.now = next.due
		c.mu.Unlock()

		next.fn()
	}
}

// Active returns the number of timers neither fired nor stopped.
func (c *fakeClock) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

var (
	errRefused = errors.New("dial tcp 10.0.0.1:443: connect: connection refused")
	errLimited = errors.New("Too many connection attempts. Try again in 12s")
)

type roomCall struct {
	Op   string
	Room string
	Type string
}

// fakeConn stands in for realtime.Manager.
type fakeConn struct {
	mu        sync.Mutex
	results   []error // consumed per Connect; nil after exhaustion
	fallback  error   // used once results are exhausted
	block     chan struct{}
	connects  int
	connected bool
	rooms     map[string]bool
	calls     []roomCall
	nextID    realtime.HandlerID
	handlers  map[string]map[realtime.HandlerID]realtime.Handler
	observers map[int]func(realtime.StateChange)
	nextObs   int
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		rooms:     make(map[string]bool),
		handlers:  make(map[string]map[realtime.HandlerID]realtime.Handler),
		observers: make(map[int]func(realtime.StateChange)),
	}
}

func (c *fakeConn) setBlock(ch chan struct{}) {
	c.mu.Lock()
	c.block = ch
	c.mu.Unlock()
}

func (c *fakeConn) queue(errs ...error) {
	c.mu.Lock()
	c.results = append(c.results, errs...)
	c.mu.Unlock()
}

func (c *fakeConn) failAlways(err error) {
	c.mu.Lock()
	c.fallback = err
	c.mu.Unlock()
}

func (c *fakeConn) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.connects++
	block := c.block
	var err error
	if len(c.results) > 0 {
		err = c.results[0]
		c.results = c.results[1:]
	} else {
		err = c.fallback
	}
	c.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		c.connected = true
	}
	return err
}

func (c *fakeConn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeConn) JoinRoom(roomID, roomType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms[roomID] = true
	c.calls = append(c.calls, roomCall{Op: "join", Room: roomID, Type: roomType})
}

func (c *fakeConn) LeaveRoom(roomID, roomType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rooms, roomID)
	c.calls = append(c.calls, roomCall{Op: "leave", Room: roomID, Type: roomType})
}

func (c *fakeConn) InRoom(roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rooms[roomID]
}

func (c *fakeConn) On(event string, h realtime.Handler) realtime.HandlerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	if c.handlers[event] == nil {
		c.handlers[event] = make(map[realtime.HandlerID]realtime.Handler)
	}
	c.handlers[event][c.nextID] = h
	return c.nextID
}

func (c *fakeConn) Off(event string, ids ...realtime.HandlerID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(ids) == 0 {
		delete(c.handlers, event)
		return
	}
	for _, id := range ids {
		delete(c.handlers[event], id)
	}
	if len(c.handlers[event]) == 0 {
		delete(c.handlers, event)
	}
}

func (c *fakeConn) OnStateChange(fn func(realtime.StateChange)) func() {
	c.mu.Lock()
	c.nextObs++
	id := c.nextObs
	c.observers[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.observers, id)
		c.mu.Unlock()
	}
}

// deliver calls every handler registered for event with v encoded as JSON.
func (c *fakeConn) deliver(event string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	c.mu.Lock()
	hs := make([]realtime.Handler, 0, len(c.handlers[event]))
	for _, h := range c.handlers[event] {
		hs = append(hs, h)
	}
	c.mu.Unlock()
	for _, h := range hs {
		_ = h(payload)
	}
}

// handler returns one registered handler for event, or nil.
func (c *fakeConn) handler(event string) realtime.Handler {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, h := range c.handlers[event] {
		return h
	}
	return nil
}

// fire reports a state change to observers, as the manager would.
func (c *fakeConn) fire(change realtime.StateChange) {
	c.mu.Lock()
	c.connected = change.New == realtime.StateConnected
	fns := make([]func(realtime.StateChange), 0, len(c.observers))
	for _, fn := range c.observers {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(change)
	}
}

func (c *fakeConn) Connects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects
}

func (c *fakeConn) Calls() []roomCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]roomCall(nil), c.calls...)
}

// HandlerCount returns the number of handlers registered for event.
func (c *fakeConn) HandlerCount(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers[event])
}

// Events returns the events with at least one handler, sorted.
func (c *fakeConn) Events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for e := range c.handlers {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

func (c *fakeConn) Observers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.observers)
}

// memTransport is a minimal realtime.Transport for running a Watcher on a
// real Manager. Connect succeeds in the background.
type memTransport struct {
	id string

	mu        sync.Mutex
	listeners map[string][]realtime.Listener
	connected bool
	closed    bool
	emits     []realtime.RoomRequest
}

func newMemTransport(id string) *memTransport {
	return &memTransport{id: id, listeners: make(map[string][]realtime.Listener)}
}

func (t *memTransport) Connect(context.Context) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return realtime.ErrClosed
	}
	go func() {
		t.mu.Lock()
		t.connected = true
		t.mu.Unlock()
		t.fire(realtime.Event{Name: realtime.EventConnect})
	}()
	return nil
}

// drop ends the session the way the server would.
func (t *memTransport) drop(reason string) {
	t.mu.Lock()
	t.connected = false
	t.mu.Unlock()
	t.fire(realtime.Event{Name: realtime.EventDisconnect, Reason: reason})
}

func (t *memTransport) fire(ev realtime.Event) {
	t.mu.Lock()
	ls := append([]realtime.Listener(nil), t.listeners[ev.Name]...)
	t.mu.Unlock()
	for _, l := range ls {
		l(ev)
	}
}

func (t *memTransport) Disconnect() error {
	t.mu.Lock()
	was := t.connected
	t.closed = true
	t.connected = false
	t.mu.Unlock()
	if was {
		t.fire(realtime.Event{Name: realtime.EventDisconnect, Reason: realtime.ReasonClientDisconnect})
	}
	return nil
}

func (t *memTransport) Emit(event string, payload any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return realtime.ErrNotConnected
	}
	if req, ok := payload.(realtime.RoomRequest); ok && event == realtime.EventJoin {
		t.emits = append(t.emits, req)
	}
	return nil
}

func (t *memTransport) On(event string, l realtime.Listener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners[event] = append(t.listeners[event], l)
}

func (t *memTransport) Off(event string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.listeners, event)
}

func (t *memTransport) ID() string { return t.id }

func (t *memTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// Joins returns the join requests emitted on t.
func (t *memTransport) Joins() []realtime.RoomRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]realtime.RoomRequest(nil), t.emits...)
}

// memFactory hands out memTransports and keeps them for inspection.
type memFactory struct {
	mu   sync.Mutex
	made []*memTransport
}

func (f *memFactory) New(realtime.DialOptions) (realtime.Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := newMemTransport(fmt.Sprintf("mem-%d", len(f.made)+1))
	f.made = append(f.made, t)
	return t, nil
}

func (f *memFactory) Made() []*memTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*memTransport(nil), f.made...)
}
