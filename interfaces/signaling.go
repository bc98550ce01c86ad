package interfaces

import (
	"context"
	"errors"
	"fmt"
	"net/url"
)

// ISignalingDialer opens connections to a signaling broker.
type ISignalingDialer interface {
	// Dial connects as peerID. Broker-level acceptance (OPEN or ID-TAKEN)
	// arrives as the first frame on the returned channel.
	Dial(ctx context.Context, peerID, token string) (ISignalingChannel, error)

	// IsSimulation returns true if this is a simulation implementation
	IsSimulation() bool
}

// ISignalingChannel is one framed connection to the broker.
type ISignalingChannel interface {
	// WriteFrame sends one frame
	WriteFrame(ctx context.Context, frame []byte) error

	// Frames delivers inbound frames in order
	Frames() <-chan []byte

	// Done is closed when the connection ends for any reason
	Done() <-chan struct{}

	// Err reports why Done was closed; nil after a local Close
	Err() error

	// Close shuts down the connection
	Close() error

	// IsConnected returns true until the connection ends
	IsConnected() bool
}

// Configuration errors.
var (
	// ErrInvalidTimeout indicates a non-positive timeout or interval.
	ErrInvalidTimeout = errors.New("timeout must be positive")

	// ErrInvalidBrokerURL indicates a broker URL that is not ws:// or wss://.
	ErrInvalidBrokerURL = errors.New("invalid broker url")
)

// SignalingConfig holds configuration for signaling implementations.
// Durations are in milliseconds.
type SignalingConfig struct {
	// UseSimulation determines whether to use simulation or real network
	UseSimulation bool

	// BrokerURL is the ws:// or wss:// endpoint of the broker
	BrokerURL string

	// Key is the broker API key sent on connect
	Key string

	// DialTimeout bounds connection establishment
	DialTimeout int

	// WriteTimeout bounds a single frame write
	WriteTimeout int

	// HeartbeatInterval is the period between keep-alive frames
	HeartbeatInterval int

	// ReconnectDelay is the fixed wait before the single reconnect attempt
	ReconnectDelay int
}

// Validate checks the configuration for values no implementation can use.
func (c *SignalingConfig) Validate() error {
	for name, v := range map[string]int{
		"dial timeout":       c.DialTimeout,
		"write timeout":      c.WriteTimeout,
		"heartbeat interval": c.HeartbeatInterval,
		"reconnect delay":    c.ReconnectDelay,
	} {
		if v <= 0 {
			return fmt.Errorf("%w: %s is %d", ErrInvalidTimeout, name, v)
		}
	}
	if c.UseSimulation {
		return nil
	}
	u, err := url.Parse(c.BrokerURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBrokerURL, err)
	}
	if (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidBrokerURL, c.BrokerURL)
	}
	return nil
}
