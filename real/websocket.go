package real

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/opd-ai/peercall/interfaces"
	"github.com/opd-ai/peercall/limits"
	"github.com/sirupsen/logrus"
)

// ErrChannelClosed indicates a write on a closed channel.
var ErrChannelClosed = errors.New("signaling channel closed")

// WebSocketDialer dials a broker over WebSocket.
type WebSocketDialer struct {
	config *interfaces.SignalingConfig
	dialer websocket.Dialer
}

// NewWebSocketDialer creates a dialer for config.
func NewWebSocketDialer(config *interfaces.SignalingConfig) *WebSocketDialer {
	logrus.WithFields(logrus.Fields{
		"function":     "NewWebSocketDialer",
		"broker_url":   config.BrokerURL,
		"dial_timeout": config.DialTimeout,
	}).Info("Creating WebSocket signaling dialer")

	return &WebSocketDialer{
		config: config,
		dialer: websocket.Dialer{
			HandshakeTimeout: time.Duration(config.DialTimeout) * time.Millisecond,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
	}
}

// IsSimulation returns false for the real implementation
func (d *WebSocketDialer) IsSimulation() bool {
	return false
}

// Dial connects to the broker as peerID.
func (d *WebSocketDialer) Dial(ctx context.Context, peerID, token string) (interfaces.ISignalingChannel, error) {
	endpoint, err := d.endpoint(peerID, token)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "WebSocketDialer.Dial",
		"peer_id":  peerID,
		"host":     endpoint.Host,
	}).Info("Dialing signaling broker")

	conn, resp, err := d.dialer.DialContext(ctx, endpoint.String(), nil)
	if err != nil {
		fields := logrus.Fields{
			"function": "WebSocketDialer.Dial",
			"peer_id":  peerID,
			"error":    err.Error(),
		}
		if resp != nil {
			fields["status"] = resp.StatusCode
		}
		logrus.WithFields(fields).Error("Failed to dial signaling broker")
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	conn.SetReadLimit(int64(limits.MaxSignalingFrame))

	ch := &webSocketChannel{
		conn:         conn,
		writeTimeout: time.Duration(d.config.WriteTimeout) * time.Millisecond,
		frames:       make(chan []byte, 32),
		done:         make(chan struct{}),
	}
	go ch.readLoop()

	logrus.WithFields(logrus.Fields{
		"function": "WebSocketDialer.Dial",
		"peer_id":  peerID,
	}).Info("Signaling broker connected")

	return ch, nil
}

func (d *WebSocketDialer) endpoint(peerID, token string) (*url.URL, error) {
	u, err := url.Parse(d.config.BrokerURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidBrokerURL, err)
	}
	q := u.Query()
	q.Set("key", d.config.Key)
	q.Set("id", peerID)
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u, nil
}

type webSocketChannel struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	writeMu sync.Mutex
	frames  chan []byte

	mu     sync.Mutex
	done   chan struct{}
	closed bool
	err    error
}

func (c *webSocketChannel) readLoop() {
	defer close(c.frames)
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			c.finish(err)
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		select {
		case c.frames <- data:
		case <-c.done:
			return
		}
	}
}

// finish records the terminal error once and closes done.
func (c *webSocketChannel) finish(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.err = err
	close(c.done)

	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "webSocketChannel.readLoop",
			"error":    err.Error(),
		}).Warn("Signaling connection lost")
	}
}

func (c *webSocketChannel) WriteFrame(ctx context.Context, frame []byte) error {
	if err := limits.ValidateSignalingFrame(frame); err != nil {
		return err
	}
	if !c.IsConnected() {
		return ErrChannelClosed
	}

	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (c *webSocketChannel) Frames() <-chan []byte { return c.frames }

func (c *webSocketChannel) Done() <-chan struct{} { return c.done }

func (c *webSocketChannel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *webSocketChannel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *webSocketChannel) Close() error {
	c.finish(nil)

	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()

	return c.conn.Close()
}
