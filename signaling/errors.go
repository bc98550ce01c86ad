package signaling

import "errors"

// Connection errors.
var (
	// ErrIDTaken indicates the broker already has a session for this peer ID.
	ErrIDTaken = errors.New("peer id already taken")

	// ErrBroker indicates the broker reported an error.
	ErrBroker = errors.New("broker error")

	// ErrNetwork indicates the broker could not be reached.
	ErrNetwork = errors.New("signaling network error")

	// ErrReconnectFailed indicates the single reconnect attempt after a drop failed.
	ErrReconnectFailed = errors.New("signaling reconnect failed")
)

// Client state errors.
var (
	// ErrNotOpen indicates the client has no open broker session.
	ErrNotOpen = errors.New("signaling session not open")

	// ErrClientClosed indicates the client has been closed.
	ErrClientClosed = errors.New("signaling client closed")

	// ErrMalformedMessage indicates a frame that is not a valid envelope.
	ErrMalformedMessage = errors.New("malformed signaling message")
)
