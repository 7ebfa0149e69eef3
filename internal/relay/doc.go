// Package relay is a reference server for the collaboration frame protocol.
//
// The package implements:
//   - Hub: member connections of one room
//   - HubManager: hubs by room id, created on first join and dropped when empty
//   - Handler: WebSocket read/write pumps and frame routing
//   - Responder: produces streamed AI responses (EchoResponder by default)
//   - Service: wires the above together for the HTTP layer
//
// Each connection answers in the codec of the last message it sent, so JSON
// and msgpack clients can share a room.
package relay
