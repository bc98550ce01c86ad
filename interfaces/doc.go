// Package interfaces defines the abstractions for reaching a signaling broker.
//
// The abstractions let the signaling client run against either a real
// WebSocket broker or an in-memory simulation, so the same client code serves
// production and deterministic tests.
//
// # Core Interfaces
//
// [ISignalingDialer] opens one connection to the broker for a peer ID:
//
//	dialer, _ := factory.NewSignalingFactory().CreateDialer()
//	ch, err := dialer.Dial(ctx, "alice_example_com", token)
//	if err != nil {
//	    return err
//	}
//	defer ch.Close()
//
// [ISignalingChannel] is the resulting framed, bidirectional connection.
// Inbound frames arrive on Frames(); Done() closes when the connection ends
// and Err() reports why:
//
//	for {
//	    select {
//	    case frame := <-ch.Frames():
//	        handle(frame)
//	    case <-ch.Done():
//	        return ch.Err()
//	    }
//	}
//
// # Implementations
//
//   - real.WebSocketDialer: gorilla/websocket connection to a PeerJS-style broker
//   - testing.SimulatedBroker: in-memory hub for tests and offline runs
//
// # Configuration
//
// [SignalingConfig] carries broker location and timing. Validate enforces
// positive timeouts and a ws/wss URL for real connections.
package interfaces
