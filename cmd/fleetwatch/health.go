package main

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickgao/fleet-live/internal/realtime"
	"github.com/rickgao/fleet-live/internal/watch"
)

// connectionStatus is the part of the Manager the health handler reads.
type connectionStatus interface {
	State() realtime.ConnectionState
	Attempts() int
	Rooms() []string
}

// snapshotter lists watcher views.
type snapshotter interface {
	Snapshots() []watch.Snapshot
}

// createHealthHandler creates the HTTP handler for health checks and metrics.
func createHealthHandler(conn connectionStatus, watchers snapshotter, gatherer prometheus.Gatherer, metricsPath string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		snaps := watchers.Snapshots()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		state := conn.State()
		health.Components["realtime"] = map[string]any{
			"state":    state.String(),
			"attempts": conn.Attempts(),
			"rooms":    conn.Rooms(),
		}
		health.Components["vehicles"] = snaps

		if state != realtime.StateConnected {
			health.Status = "degraded"
			// Nothing will retry without an operator.
			if allExhausted(snaps) {
				health.Status = "unhealthy"
			}
		}

		// Set response
		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.Handle(metricsPath, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return mux
}

func allExhausted(snaps []watch.Snapshot) bool {
	if len(snaps) == 0 {
		return false
	}
	for _, s := range snaps {
		if !s.Exhausted {
			return false
		}
	}
	return true
}
