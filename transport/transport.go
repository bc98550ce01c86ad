package transport

import (
	"context"
	"encoding/json"

	"github.com/opd-ai/peercall/media"
)

// Presence is what the transport last learned about a peer's registration.
type Presence int

const (
	// PresenceUnknown means nothing has been observed yet.
	PresenceUnknown Presence = iota
	// PresenceOnline means the peer answered or sent an offer.
	PresenceOnline
	// PresenceOffline means the broker reported the peer unregistered.
	PresenceOffline
)

// String returns a lowercase name for the presence value.
func (p Presence) String() string {
	switch p {
	case PresenceOnline:
		return "online"
	case PresenceOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// PeerTransport is a process-wide connection to the signaling broker.
type PeerTransport interface {
	// Initialize registers selfID with the broker, tearing down any prior
	// registration first. It returns once the broker accepted the ID.
	Initialize(ctx context.Context, selfID string, servers []ICEServer) error
	// PlaceCall offers a call to target carrying stream and metadata.
	PlaceCall(ctx context.Context, target string, stream *media.Stream, metadata json.RawMessage) (CallHandle, error)
	// OnReady runs each time a broker session opens, including reconnects.
	OnReady(fn func())
	// OnIncomingCall runs for every inbound offer.
	OnIncomingCall(fn func(CallHandle))
	// OnError runs for broker errors not tied to a call.
	OnError(fn func(error))
	// OnDisconnected runs when an open broker session drops.
	OnDisconnected(fn func())
	// Presence reports what is known about peerID's registration.
	Presence(peerID string) Presence
	// Close ends every call and the broker session.
	Close() error
}

// CallHandle is one outbound or inbound call negotiation.
type CallHandle interface {
	// PeerID is the remote peer.
	PeerID() string
	// Metadata is the caller-attached bag; nil when absent.
	Metadata() json.RawMessage
	// ConnectionID identifies the negotiation on the wire.
	ConnectionID() string
	// Answer accepts an inbound call with the local stream.
	Answer(ctx context.Context, stream *media.Stream) error
	// ReplaceTrack swaps the outgoing track of kind without renegotiation.
	// A nil track sends nothing.
	ReplaceTrack(kind media.Kind, track media.Track) error
	// Decline refuses an inbound call, telling the caller why.
	Decline(reason string) error
	// Close hangs up.
	Close() error

	OnStream(fn func(*media.Stream))
	OnClose(fn func())
	OnError(fn func(error))
}

// AudioLeveler is implemented by handles that meter remote audio.
type AudioLeveler interface {
	// AudioLevel returns the remote peak level in [0, 1].
	AudioLevel() float64
}
