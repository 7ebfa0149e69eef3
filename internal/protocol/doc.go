// Package protocol defines the frames exchanged between the collaboration
// client and the relay server.
//
// The package implements:
//   - EventKind: the closed set of frame kinds, including the local-only
//     connection lifecycle kinds
//   - Payload structs for every kind, tagged for both JSON and msgpack
//   - Codec: envelope encoding as JSON text messages or msgpack binary messages
package protocol
