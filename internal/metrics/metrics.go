package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fleet"

// Connection states reported by the state gauge.
var connectionStates = []string{"disconnected", "connecting", "connected"}

// Metrics holds every collector the fleet core reports.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	connectionState  *prometheus.GaugeVec
	connectAttempts  prometheus.Counter
	connectFailures  prometheus.Counter
	transportEvents  *prometheus.CounterVec
	rooms            prometheus.Gauge
	eventsDispatched *prometheus.CounterVec
	handlerFailures  *prometheus.CounterVec

	apiRequests *prometheus.CounterVec
	apiRetries  *prometheus.CounterVec
	apiLatency  *prometheus.HistogramVec

	watcherRetries   *prometheus.CounterVec
	watcherExhausted prometheus.Counter
	vehicleRefreshes *prometheus.CounterVec
}

// New registers all collectors on reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		connectionState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "realtime",
				Name:      "connection_state",
				Help:      "Current connection state (1 for the active state)",
			},
			[]string{"state"},
		),
		connectAttempts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "connect_attempts_total",
			Help:      "Total number of connect attempts started",
		}),
		connectFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "connect_failures_total",
			Help:      "Total number of connect attempts that failed",
		}),
		transportEvents: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "realtime",
				Name:      "transport_events_total",
				Help:      "Transport lifecycle events by name",
			},
			[]string{"event"},
		),
		rooms: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "rooms",
			Help:      "Number of rooms in the desired membership set",
		}),
		eventsDispatched: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "realtime",
				Name:      "events_dispatched_total",
				Help:      "Events delivered to registered handlers",
			},
			[]string{"event"},
		),
		handlerFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "realtime",
				Name:      "handler_failures_total",
				Help:      "Handler invocations that returned an error or panicked",
			},
			[]string{"event"},
		),
		apiRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "REST requests by method and status code",
			},
			[]string{"method", "code"},
		),
		apiRetries: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "retries_total",
				Help:      "REST request retries by method",
			},
			[]string{"method"},
		),
		apiLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "REST request latency in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method"},
		),
		watcherRetries: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "watch",
				Name:      "retries_total",
				Help:      "Watcher connect attempts by trigger (mount, sweep, cooldown, manual)",
			},
			[]string{"trigger"},
		),
		watcherExhausted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watch",
			Name:      "exhausted_total",
			Help:      "Times a watcher reached its maximum attempts",
		}),
		vehicleRefreshes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "poller",
				Name:      "vehicle_refreshes_total",
				Help:      "Vehicle record refreshes by result",
			},
			[]string{"result"},
		),
	}
}

// SetConnectionState marks state as the active connection state.
func (m *Metrics) SetConnectionState(state string) {
	if m == nil {
		return
	}
	for _, s := range connectionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.connectionState.WithLabelValues(s).Set(v)
	}
}

// ConnectAttempt counts a started connect attempt.
func (m *Metrics) ConnectAttempt() {
	if m == nil {
		return
	}
	m.connectAttempts.Inc()
}

// ConnectFailure counts a failed connect attempt.
func (m *Metrics) ConnectFailure() {
	if m == nil {
		return
	}
	m.connectFailures.Inc()
}

// TransportEvent counts a transport lifecycle event.
func (m *Metrics) TransportEvent(event string) {
	if m == nil {
		return
	}
	m.transportEvents.WithLabelValues(event).Inc()
}

// SetRooms records the size of the room membership set.
func (m *Metrics) SetRooms(n int) {
	if m == nil {
		return
	}
	m.rooms.Set(float64(n))
}

// EventDispatched counts an event delivered to handlers.
func (m *Metrics) EventDispatched(event string) {
	if m == nil {
		return
	}
	m.eventsDispatched.WithLabelValues(event).Inc()
}

// HandlerFailure counts a failed handler invocation.
func (m *Metrics) HandlerFailure(event string) {
	if m == nil {
		return
	}
	m.handlerFailures.WithLabelValues(event).Inc()
}

// APIRequest records a completed REST request. code is 0 for transport failures.
func (m *Metrics) APIRequest(method string, code int, seconds float64) {
	if m == nil {
		return
	}
	label := "error"
	if code > 0 {
		label = strconv.Itoa(code)
	}
	m.apiRequests.WithLabelValues(method, label).Inc()
	m.apiLatency.WithLabelValues(method).Observe(seconds)
}

// APIRetry counts a REST retry.
func (m *Metrics) APIRetry(method string) {
	if m == nil {
		return
	}
	m.apiRetries.WithLabelValues(method).Inc()
}

// WatcherRetry counts a watcher connect attempt by trigger.
func (m *Metrics) WatcherRetry(trigger string) {
	if m == nil {
		return
	}
	m.watcherRetries.WithLabelValues(trigger).Inc()
}

// WatcherExhausted counts a watcher reaching its attempt bound.
func (m *Metrics) WatcherExhausted() {
	if m == nil {
		return
	}
	m.watcherExhausted.Inc()
}

// VehicleRefresh counts a vehicle refresh by result ("ok" or "error").
func (m *Metrics) VehicleRefresh(result string) {
	if m == nil {
		return
	}
	m.vehicleRefreshes.WithLabelValues(result).Inc()
}
