// Package signaling speaks the PeerJS-style broker protocol on top of an
// interfaces.ISignalingChannel.
//
// Every frame is a JSON envelope:
//
//	{"type":"OFFER","src":"alice_example_com","dst":"bob_example_com","payload":{...}}
//
// The broker answers a new connection with OPEN, or ID-TAKEN when another
// session already holds the identifier. OFFER, ANSWER, CANDIDATE and LEAVE
// are relayed between peers; EXPIRE tells the sender that the destination is
// not registered. Clients send HEARTBEAT periodically to keep the
// registration alive.
//
// Client owns one connection at a time. When the connection drops
// unexpectedly it reports the disconnect and schedules exactly one reconnect
// after a fixed delay; further disconnects while that reconnect is pending
// are coalesced into it.
package signaling
