// Command fleetwatch follows live vehicle telemetry from the fleet real-time
// service and exposes connection health over HTTP.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := Execute(ctx); err != nil {
		os.Exit(1)
	}
}
