// Package testing provides an in-memory signaling broker for tests and
// offline runs. It is not a real network implementation.
//
// SimulatedBroker behaves like a PeerJS-style broker:
//
//   - a peer that dials receives OPEN, or ID-TAKEN if the ID is in use
//   - frames with a "dst" are forwarded with "src" rewritten to the sender
//   - an OFFER to an unregistered peer is answered with EXPIRE
//   - HEARTBEAT frames are accepted and discarded
//
// Tests can inspect the relay log, query presence and force a peer's
// connection to drop to exercise reconnect paths:
//
//	broker := testing.NewSimulatedBroker()
//	dialer := broker.Dialer()
//	ch, _ := dialer.Dial(ctx, "alice_example_com", "token")
//	broker.Drop("alice_example_com") // simulate a network failure
//
// All operations log a simulation warning so a simulated broker is never
// mistaken for a production connection.
package testing
