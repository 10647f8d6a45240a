// Package rpc is the messaging layer of dMsg. It turns duplex byte streams into
// links that exchange typed payloads, requests with responses and raw data chunks.
//
// The package is organized into several subpackages:
//
//   - common: Configuration structures with defaults and the logger factory.
//
//   - serializer: Payload serialization (JSON, GOB, binary, protobuf) and the
//     type registry that maps Go types to wire content types.
//
//   - transport: Connector contracts, TLS security modes and the tcp, unix and
//     quic implementations.
//
//   - link: The connection session engine with its read and write loops,
//     request correlation, subscriptions and teardown.
//
//   - call: Method name based calls on top of link requests.
//
//   - server, client: Accepting and dialing links.
//
// The wire format is implemented in lib/frame, the dispatch worker pool in lib/pool.
package rpc
