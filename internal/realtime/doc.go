// Package realtime implements the client side of the fleet event channel.
//
// Components:
//   - SocketTransport: one publish/subscribe connection (websocket with an
//     HTTP long-polling fallback) with bounded automatic reconnection
//   - Dispatcher: fans a single transport subscription out to many handlers
//   - Manager: owns the transport, the connection state and the room
//     membership set, and replays room joins on every connect
//
// All transport events, lifecycle and data alike, are delivered on one
// goroutine per transport in arrival order.
package realtime
