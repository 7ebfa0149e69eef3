// Package socket owns the single WebSocket connection of a client and
// multiplexes it into typed logical channels.
//
// The package implements:
//   - Manager: connect/retry state machine around one transport
//   - Mux: publish/subscribe registry that fans inbound frames out to
//     listeners per event kind and exposes the outbound Emit
//   - WebsocketDialer: the gorilla/websocket transport
//
// Every Manager state transition is dispatched through the Mux as a
// connect, disconnect or reconnect frame so dependents never poll.
package socket
