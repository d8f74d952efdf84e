// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Real-time connection state, connect attempts and failures
//   - Transport lifecycle events and room membership
//   - Dispatched events and handler failures
//   - REST requests and retries
//   - Watcher retries, exhaustion and vehicle refreshes
package metrics
