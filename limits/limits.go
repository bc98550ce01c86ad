// Package limits provides centralized message size limits for the signaling protocol.
// This ensures consistent validation across different components of the system.
package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxPeerIDLength is the longest peer identifier accepted by the broker.
	MaxPeerIDLength = 64

	// MaxMetadataSize is the largest encoded metadata bag attached to an offer.
	MaxMetadataSize = 4096

	// MaxSignalingFrame is the largest single frame exchanged with the broker.
	MaxSignalingFrame = 64 * 1024
)

var (
	// ErrMessageEmpty indicates an empty message was provided
	ErrMessageEmpty = errors.New("empty message")

	// ErrMessageTooLarge indicates message exceeds maximum size
	ErrMessageTooLarge = errors.New("message too large")
)

// ValidateMessageSize validates a message against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidateMessageSize(message []byte, maxSize int) error {
	if len(message) == 0 {
		return ErrMessageEmpty
	}
	if len(message) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrMessageTooLarge, len(message), maxSize)
	}
	return nil
}

// ValidateSignalingFrame validates a broker frame against MaxSignalingFrame.
func ValidateSignalingFrame(frame []byte) error {
	if len(frame) == 0 {
		return ErrMessageEmpty
	}
	if len(frame) > MaxSignalingFrame {
		return fmt.Errorf("%w: frame size %d exceeds limit %d", ErrMessageTooLarge, len(frame), MaxSignalingFrame)
	}
	return nil
}

// ValidateMetadata validates an encoded metadata bag against MaxMetadataSize.
// An empty bag is not an error here; callers treat absence separately.
func ValidateMetadata(encoded []byte) error {
	if len(encoded) > MaxMetadataSize {
		return fmt.Errorf("%w: metadata size %d exceeds limit %d", ErrMessageTooLarge, len(encoded), MaxMetadataSize)
	}
	return nil
}

// ValidatePeerID validates the length of a peer identifier against MaxPeerIDLength.
func ValidatePeerID(id string) error {
	if len(id) == 0 {
		return ErrMessageEmpty
	}
	if len(id) > MaxPeerIDLength {
		return fmt.Errorf("%w: peer id length %d exceeds limit %d", ErrMessageTooLarge, len(id), MaxPeerIDLength)
	}
	return nil
}
