package transport

import (
	"errors"

	"github.com/opd-ai/peercall/signaling"
)

// Call errors reported through CallHandle.OnError.
var (
	// ErrPeerUnavailable indicates the target is not registered with the broker.
	ErrPeerUnavailable = errors.New("peer unavailable")

	// ErrPeerBusy indicates the target declined because it is in another call.
	ErrPeerBusy = errors.New("peer busy")

	// ErrCallRejected indicates the target declined the call.
	ErrCallRejected = errors.New("call rejected")

	// ErrConnectionFailed indicates ICE or DTLS failed on an established call.
	ErrConnectionFailed = errors.New("peer connection failed")
)

// Transport errors.
var (
	// ErrNotReady indicates no broker session is open.
	ErrNotReady = errors.New("transport not ready")

	// ErrInvalidPeerID indicates a peer ID outside the broker namespace.
	ErrInvalidPeerID = errors.New("invalid peer id")

	// ErrTransportClosed indicates Close has been called.
	ErrTransportClosed = errors.New("transport closed")

	// ErrIDTaken is returned by Initialize when another session holds the peer ID.
	ErrIDTaken = signaling.ErrIDTaken

	// ErrNetwork wraps broker connectivity failures.
	ErrNetwork = signaling.ErrNetwork
)

// Handle errors.
var (
	// ErrNotInbound indicates Answer on an outbound handle.
	ErrNotInbound = errors.New("handle is not an inbound call")

	// ErrAlreadyAnswered indicates a second Answer.
	ErrAlreadyAnswered = errors.New("call already answered")

	// ErrHandleClosed indicates an operation on a closed handle.
	ErrHandleClosed = errors.New("call handle closed")

	// ErrNoSender indicates ReplaceTrack for a kind the call does not send.
	ErrNoSender = errors.New("no sender for track kind")
)
