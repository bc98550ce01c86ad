// Package limits provides centralized size constants and validation functions
// for the signaling protocol. This package ensures consistent size enforcement
// across the signaling client, the WebSocket channel and the simulated broker.
//
// # Size Hierarchy
//
//   - MaxPeerIDLength (64 bytes): the longest identifier the broker accepts for
//     a registered peer. Encoded e-mail addresses longer than this cannot be
//     routed.
//
//   - MaxMetadataSize (4096 bytes): the largest metadata bag a caller may attach
//     to an offer. Metadata only carries the call kind, a timestamp and the
//     caller identity, so anything larger is treated as malformed.
//
//   - MaxSignalingFrame (64KB): the largest single frame read from or written to
//     the broker. SDP offers with many candidates stay well under this.
//
// # Validation Functions
//
// Each validation function checks for empty input and size limit violations:
//
//	err := limits.ValidateSignalingFrame(frame)
//	if err != nil {
//	    // Handle validation error (ErrMessageEmpty or ErrMessageTooLarge)
//	}
//
// For custom size limits, use the generic ValidateMessageSize function:
//
//	err := limits.ValidateMessageSize(data, 4096)
//
// # Error Types
//
//   - ErrMessageEmpty: Returned when an empty or nil message is provided
//   - ErrMessageTooLarge: Returned when message exceeds the specified limit
package limits
