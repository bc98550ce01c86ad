package av

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/opd-ai/peercall/identity"
	"github.com/opd-ai/peercall/media"
	"github.com/opd-ai/peercall/transport"
)

// Default timeouts.
const (
	DefaultCallTimeout    = 30 * time.Second
	DefaultRingTimeout    = 30 * time.Second
	DefaultConnectTimeout = 20 * time.Second
	DefaultReinitDelay    = 5 * time.Second
	DefaultReinitAttempts = 3
)

// MediaController acquires and manages local media. *media.Controller
// implements it.
type MediaController interface {
	Acquire(ctx context.Context, kind media.Kind) (*media.Stream, error)
	Release(stream *media.Stream)
	ToggleTrack(stream *media.Stream, kind media.Kind, enabled bool) error
	StartScreenShare(ctx context.Context, camera *media.Stream, replacer media.TrackReplacer) error
	StopScreenShare() error
	CancelScreenShare()
	OnScreenShareChange(fn func(active bool))
}

// Directory resolves call targets and display names. *identity.Directory
// implements it.
type Directory interface {
	DisplayName(peerID string) string
	RoutingKey(target string) (string, error)
}

// Config tunes a Manager.
type Config struct {
	// CallTimeout bounds ringing on the caller side.
	CallTimeout time.Duration
	// RingTimeout auto-rejects an unanswered inbound call.
	RingTimeout time.Duration
	// ConnectTimeout bounds the wait for media after accepting.
	ConnectTimeout time.Duration
	// ReinitDelay is the wait before re-initializing a transport that
	// failed to register.
	ReinitDelay time.Duration
	// ReinitAttempts caps consecutive re-initializations.
	ReinitAttempts int

	ICEServers []transport.ICEServer

	Clock     clock.Clock
	Ringer    Ringer
	Directory Directory
	History   *CallHistory
}

// DefaultConfig returns the default timeouts with a wall clock, no ring
// tones and an empty directory.
func DefaultConfig() Config {
	return Config{
		CallTimeout:    DefaultCallTimeout,
		RingTimeout:    DefaultRingTimeout,
		ConnectTimeout: DefaultConnectTimeout,
		ReinitDelay:    DefaultReinitDelay,
		ReinitAttempts: DefaultReinitAttempts,
		Clock:          clock.New(),
		Ringer:         NopRinger{},
		Directory:      identity.NewDirectory(identity.DefaultFallbackDomain),
		History:        NewCallHistory(DefaultMaxHistory),
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.CallTimeout <= 0 {
		c.CallTimeout = def.CallTimeout
	}
	if c.RingTimeout <= 0 {
		c.RingTimeout = def.RingTimeout
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.ReinitDelay <= 0 {
		c.ReinitDelay = def.ReinitDelay
	}
	if c.ReinitAttempts < 0 {
		c.ReinitAttempts = 0
	}
	if c.Clock == nil {
		c.Clock = def.Clock
	}
	if c.Ringer == nil {
		c.Ringer = def.Ringer
	}
	if c.Directory == nil {
		c.Directory = def.Directory
	}
	if c.History == nil {
		c.History = def.History
	}
	return c
}
