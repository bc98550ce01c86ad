package signaling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/opd-ai/peercall/interfaces"
	"github.com/sirupsen/logrus"
)

// Config tunes a Client.
type Config struct {
	// HeartbeatInterval is the period between HEARTBEAT frames
	HeartbeatInterval time.Duration
	// ReconnectDelay is the fixed wait before the reconnect attempt after a drop
	ReconnectDelay time.Duration
	// DialTimeout bounds connecting and waiting for OPEN
	DialTimeout time.Duration
	// Clock drives heartbeats and reconnects; nil selects the wall clock
	Clock clock.Clock
}

// DefaultConfig returns the PeerJS client defaults.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 5 * time.Second,
		ReconnectDelay:    3 * time.Second,
		DialTimeout:       10 * time.Second,
		Clock:             clock.New(),
	}
}

// Client holds one broker session for a local peer ID.
type Client struct {
	dialer interfaces.ISignalingDialer
	cfg    Config

	mu        sync.Mutex
	id        string
	ch        interfaces.ISignalingChannel
	conn      uint64
	stop      chan struct{}
	open      bool
	reconnect *clock.Timer
	closed    bool

	onOpen         func(id string)
	onMessage      func(Message)
	onError        func(error)
	onDisconnected func()
}

// NewClient creates a client that dials through dialer.
func NewClient(dialer interfaces.ISignalingDialer, cfg Config) (*Client, error) {
	if dialer == nil {
		return nil, errors.New("signaling dialer cannot be nil")
	}
	def := DefaultConfig()
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = def.ReconnectDelay
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = def.Clock
	}

	logrus.WithFields(logrus.Fields{
		"function":           "NewClient",
		"simulation":         dialer.IsSimulation(),
		"heartbeat_interval": cfg.HeartbeatInterval,
		"reconnect_delay":    cfg.ReconnectDelay,
	}).Debug("Signaling client created")

	return &Client{dialer: dialer, cfg: cfg}, nil
}

// OnOpen registers fn to run whenever a broker session opens, including
// after a successful reconnect.
func (c *Client) OnOpen(fn func(id string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onOpen = fn
}

// OnMessage registers fn for relayed peer messages (OFFER, ANSWER,
// CANDIDATE, LEAVE, EXPIRE).
func (c *Client) OnMessage(fn func(Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = fn
}

// OnError registers fn for session-level errors reported after Open.
func (c *Client) OnError(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = fn
}

// OnDisconnected registers fn to run when an open session drops.
func (c *Client) OnDisconnected(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnected = fn
}

// ID returns the local peer ID of the current or last session.
func (c *Client) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// IsOpen reports whether a broker session is open.
func (c *Client) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Open tears down any existing session and registers as peerID. It returns
// once the broker has answered with OPEN.
func (c *Client) Open(ctx context.Context, peerID string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	old := c.detachLocked()
	c.id = peerID
	c.mu.Unlock()

	if old != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Client.Open",
			"peer_id":  peerID,
		}).Info("Closing previous broker session before re-registering")
		_ = old.Close()
	}

	return c.connect(ctx, peerID)
}

func (c *Client) connect(ctx context.Context, peerID string) error {
	dctx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	ch, err := c.dialer.Dial(dctx, peerID, uuid.NewString())
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Client.connect",
			"peer_id":  peerID,
			"error":    err.Error(),
		}).Error("Failed to reach signaling broker")
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	if err := awaitOpen(dctx, ch); err != nil {
		_ = ch.Close()
		logrus.WithFields(logrus.Fields{
			"function": "Client.connect",
			"peer_id":  peerID,
			"error":    err.Error(),
		}).Error("Broker did not accept registration")
		return err
	}

	c.mu.Lock()
	if c.closed || c.id != peerID {
		c.mu.Unlock()
		_ = ch.Close()
		return ErrClientClosed
	}
	if c.ch != nil {
		// another connect for the same id already won
		c.mu.Unlock()
		_ = ch.Close()
		return nil
	}
	c.conn++
	gen := c.conn
	stop := make(chan struct{})
	c.ch = ch
	c.stop = stop
	c.open = true
	onOpen := c.onOpen
	c.mu.Unlock()

	go c.readLoop(gen, ch, stop)
	go c.heartbeatLoop(ch, stop)

	logrus.WithFields(logrus.Fields{
		"function":   "Client.connect",
		"peer_id":    peerID,
		"connection": gen,
	}).Info("Broker session open")

	if onOpen != nil {
		onOpen(peerID)
	}
	return nil
}

// awaitOpen waits for the broker's verdict on a new registration.
func awaitOpen(ctx context.Context, ch interfaces.ISignalingChannel) error {
	for {
		select {
		case frame, ok := <-ch.Frames():
			if !ok {
				return fmt.Errorf("%w: connection closed before OPEN", ErrNetwork)
			}
			msg, err := Decode(frame)
			if err != nil {
				continue
			}
			switch msg.Type {
			case TypeOpen:
				return nil
			case TypeIDTaken:
				return ErrIDTaken
			case TypeError:
				return brokerError(msg)
			}
		case <-ch.Done():
			return fmt.Errorf("%w: connection closed before OPEN: %v", ErrNetwork, ch.Err())
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrNetwork, ctx.Err())
		}
	}
}

func brokerError(msg Message) error {
	var p ErrorPayload
	if err := msg.DecodePayload(&p); err != nil || p.Msg == "" {
		return ErrBroker
	}
	return fmt.Errorf("%w: %s", ErrBroker, p.Msg)
}

func (c *Client) readLoop(gen uint64, ch interfaces.ISignalingChannel, stop chan struct{}) {
	for {
		select {
		case frame, ok := <-ch.Frames():
			if !ok {
				c.handleDrop(gen, ch)
				return
			}
			c.dispatch(frame)
		case <-ch.Done():
			c.handleDrop(gen, ch)
			return
		case <-stop:
			return
		}
	}
}

func (c *Client) dispatch(frame []byte) {
	msg, err := Decode(frame)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Client.dispatch",
			"error":    err.Error(),
		}).Warn("Dropping malformed broker frame")
		return
	}

	c.mu.Lock()
	onMessage, onError := c.onMessage, c.onError
	c.mu.Unlock()

	switch msg.Type {
	case TypeHeartbeat, TypeOpen:
	case TypeIDTaken:
		if onError != nil {
			onError(ErrIDTaken)
		}
	case TypeError:
		if onError != nil {
			onError(brokerError(msg))
		}
	default:
		if onMessage != nil {
			onMessage(msg)
		}
	}
}

// handleDrop reacts to the loss of connection gen. Drops of connections
// that were detached locally are ignored.
func (c *Client) handleDrop(gen uint64, ch interfaces.ISignalingChannel) {
	c.mu.Lock()
	if c.closed || gen != c.conn || c.ch != ch {
		c.mu.Unlock()
		return
	}
	c.ch = nil
	c.open = false
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	scheduled := false
	if c.reconnect == nil {
		c.reconnect = c.cfg.Clock.AfterFunc(c.cfg.ReconnectDelay, c.reconnectOnce)
		scheduled = true
	}
	onDisconnected := c.onDisconnected
	id := c.id
	c.mu.Unlock()

	fields := logrus.Fields{
		"function":            "Client.handleDrop",
		"peer_id":             id,
		"reconnect_scheduled": scheduled,
		"reconnect_delay":     c.cfg.ReconnectDelay,
	}
	if err := ch.Err(); err != nil {
		fields["error"] = err.Error()
	}
	logrus.WithFields(fields).Warn("Broker session dropped")

	_ = ch.Close()
	if onDisconnected != nil {
		onDisconnected()
	}
}

func (c *Client) reconnectOnce() {
	c.mu.Lock()
	c.reconnect = nil
	if c.closed || c.open || c.id == "" {
		c.mu.Unlock()
		return
	}
	id := c.id
	onError := c.onError
	c.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Client.reconnectOnce",
		"peer_id":  id,
	}).Info("Attempting broker reconnect")

	if err := c.connect(context.Background(), id); err != nil {
		if errors.Is(err, ErrClientClosed) {
			return
		}
		if onError != nil {
			onError(fmt.Errorf("%w: %w", ErrReconnectFailed, err))
		}
	}
}

func (c *Client) heartbeatLoop(ch interfaces.ISignalingChannel, stop chan struct{}) {
	ticker := c.cfg.Clock.Ticker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	frame, _ := Encode(Message{Type: TypeHeartbeat})
	for {
		select {
		case <-ticker.C:
			if err := ch.WriteFrame(context.Background(), frame); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "Client.heartbeatLoop",
					"error":    err.Error(),
				}).Debug("Heartbeat write failed")
			}
		case <-stop:
			return
		case <-ch.Done():
			return
		}
	}
}

// Send writes msg with the local peer ID as source.
func (c *Client) Send(ctx context.Context, msg Message) error {
	c.mu.Lock()
	ch, open, id := c.ch, c.open, c.id
	c.mu.Unlock()
	if !open || ch == nil {
		return ErrNotOpen
	}

	msg.Src = id
	frame, err := Encode(msg)
	if err != nil {
		return err
	}
	if err := ch.WriteFrame(ctx, frame); err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Client.Send",
		"type":     string(msg.Type),
		"dst":      msg.Dst,
	}).Debug("Signaling message sent")
	return nil
}

// detachLocked stops the current session's loops and any pending
// reconnect and returns the channel for the caller to close.
func (c *Client) detachLocked() interfaces.ISignalingChannel {
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	ch := c.ch
	c.ch = nil
	c.open = false
	return ch
}

// Close ends the session permanently.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	ch := c.detachLocked()
	c.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Client.Close",
		"peer_id":  c.ID(),
	}).Info("Signaling client closed")

	if ch != nil {
		return ch.Close()
	}
	return nil
}
