// Package transport implements the PeerTransport capability used by the
// call session state machine.
//
// A PeerTransport owns one registration with the signaling broker for the
// local peer ID and turns broker messages into call handles. WebRTCTransport
// is the production implementation: it negotiates pion/webrtc peer
// connections over the PeerJS-style protocol in package signaling.
//
// Outbound and inbound calls share the CallHandle type, so callers and
// callees are handled by the same code:
//
//	handle, err := tr.PlaceCall(ctx, "bob_demo_com", stream, metadata)
//	if err != nil {
//		return err
//	}
//	handle.OnStream(func(remote *media.Stream) { ... })
//	handle.OnClose(func() { ... })
//	handle.OnError(func(err error) { ... })
//
// Handle events that fire before a handler is registered are replayed on
// registration.
package transport
