// Package watch implements the per-vehicle live view: it drives a shared
// connection through bounded retries, honours server cooldowns, applies
// telemetry for the watched vehicle only, and exposes the result as
// snapshots for a renderer.
package watch
