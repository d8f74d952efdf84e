package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// ConnectionState is the Manager's view of the transport.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Transport lifecycle events.
const (
	EventConnect          = "connect"
	EventConnectError     = "connect_error"
	EventError            = "error"
	EventDisconnect       = "disconnect"
	EventReconnect        = "reconnect"
	EventReconnectAttempt = "reconnect_attempt"
	EventReconnectError   = "reconnect_error"
	EventReconnectFailed  = "reconnect_failed"
)

// Outbound room events.
const (
	EventJoin  = "join"
	EventLeave = "leave"
)

// Disconnect reasons.
const (
	ReasonServerDisconnect = "io server disconnect"
	ReasonClientDisconnect = "io client disconnect"
	ReasonTransportClose   = "transport close"
	ReasonPingTimeout      = "ping timeout"
)

// DefaultRoomType is the join type used when none is given.
const DefaultRoomType = "client"

// IsLifecycleEvent reports whether name is reserved for transport lifecycle.
func IsLifecycleEvent(name string) bool {
	switch name {
	case EventConnect, EventConnectError, EventError, EventDisconnect,
		EventReconnect, EventReconnectAttempt, EventReconnectError, EventReconnectFailed:
		return true
	}
	return false
}

// Event is delivered to transport listeners.
type Event struct {
	Name    string
	Data    json.RawMessage // data events
	Err     error           // connect_error, error, reconnect_error
	Reason  string          // disconnect
	Attempt int             // reconnect, reconnect_attempt, reconnect_error, reconnect_failed
}

// Listener receives transport events.
type Listener func(Event)

// Frame is the wire envelope for every message in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// RoomRequest is the payload of join and leave.
type RoomRequest struct {
	Room string `json:"room"`
	Type string `json:"type"`
}

// StateChange describes one connection state transition.
type StateChange struct {
	Old    ConnectionState
	New    ConnectionState
	Reason string // disconnect reason, if any
	Err    error  // connect failure, if any
}

// Handler processes the payload of one application event.
type Handler func(payload json.RawMessage) error

// HandlerID identifies a registered handler. Zero is never issued.
type HandlerID uint64

// Transport is a single publish/subscribe connection.
//
// Connect starts connecting in the background and returns immediately; the
// outcome is reported as a connect or connect_error event. Listeners for one
// transport are invoked sequentially on a single goroutine.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Emit(event string, payload any) error
	On(event string, l Listener)
	Off(event string)
	ID() string
	Connected() bool
}

// DialOptions are passed to a TransportFactory for each new transport.
type DialOptions struct {
	// ForceNew asks for a transport that shares no pooled connections
	// with earlier ones.
	ForceNew bool
}

// TransportFactory creates a fresh, unconnected transport.
type TransportFactory func(opts DialOptions) (Transport, error)

// ManagerConfig configures the Manager.
type ManagerConfig struct {
	RoomType           string // Join type used when callers pass none (default: client)
	MaxConnectAttempts int    // Connect calls without success before forcing a new transport (default: 5)
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		RoomType:           DefaultRoomType,
		MaxConnectAttempts: 5,
	}
}

// Transport names, in the default preference order.
const (
	TransportWebSocket = "websocket"
	TransportPolling   = "polling"
)

// SocketConfig configures a SocketTransport.
type SocketConfig struct {
	URL                  string        // Server base URL (http, https, ws or wss)
	Path                 string        // Endpoint path appended to URL (default: /realtime)
	Transports           []string      // Tried in order on every open (default: websocket, polling)
	Reconnection         bool          // Reconnect automatically after a drop
	ReconnectionAttempts int           // Max automatic reconnects per drop, 0 = unlimited (default: 3)
	ReconnectionDelay    time.Duration // First reconnect delay (default: 1s)
	ReconnectionDelayMax time.Duration // Reconnect delay cap (default: 5s)
	Timeout              time.Duration // Per-open timeout across all transports (default: 20s)
	WriteTimeout         time.Duration // Write deadline for emits (default: 5s)
	PingInterval         time.Duration // Keepalive ping period, 0 disables (default: 25s)
	PingTimeout          time.Duration // Grace after a missed pong (default: 20s)
	BufferSize           int           // Initial inbound event queue capacity (default: 64)
	Header               http.Header   // Extra handshake headers
}

// DefaultSocketConfig returns sensible defaults for url.
func DefaultSocketConfig(url string) SocketConfig {
	return SocketConfig{
		URL:                  url,
		Path:                 "/realtime",
		Transports:           []string{TransportWebSocket, TransportPolling},
		Reconnection:         true,
		ReconnectionAttempts: 3,
		ReconnectionDelay:    time.Second,
		ReconnectionDelayMax: 5 * time.Second,
		Timeout:              20 * time.Second,
		WriteTimeout:         5 * time.Second,
		PingInterval:         25 * time.Second,
		PingTimeout:          20 * time.Second,
		BufferSize:           64,
	}
}

// withDefaults fills zero durations and sizes. Booleans are left alone.
func (c SocketConfig) withDefaults() SocketConfig {
	d := DefaultSocketConfig(c.URL)
	if c.Path == "" {
		c.Path = d.Path
	}
	if len(c.Transports) == 0 {
		c.Transports = d.Transports
	}
	if c.ReconnectionDelay <= 0 {
		c.ReconnectionDelay = d.ReconnectionDelay
	}
	if c.ReconnectionDelayMax < c.ReconnectionDelay {
		c.ReconnectionDelayMax = c.ReconnectionDelay
		if d.ReconnectionDelayMax > c.ReconnectionDelayMax {
			c.ReconnectionDelayMax = d.ReconnectionDelayMax
		}
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = d.PingTimeout
	}
	if c.BufferSize <= 0 {
		c.BufferSize = d.BufferSize
	}
	return c
}
