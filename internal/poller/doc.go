// Package poller implements the Vehicle Refresher component.
//
// The Vehicle Refresher:
//   - Re-fetches every watched vehicle's record over REST on an interval (default 5 minutes)
//   - Hands fresh records to the watcher showing that vehicle
//   - Bounds concurrent requests
//   - Keeps the last good record on failure
package poller
