// Package real provides the production signaling channel: a gorilla/websocket
// connection to a PeerJS-style broker.
//
// The dialer appends the broker key, peer ID and session token as query
// parameters, the same way hosted PeerJS servers expect them:
//
//	wss://broker.example.com/peerjs?key=peerjs&id=alice_example_com&token=...
//
// Each connection runs a single read goroutine that forwards text frames to
// Frames() until the socket fails or Close is called. Writes are serialized
// and bounded by the configured write timeout.
package real
