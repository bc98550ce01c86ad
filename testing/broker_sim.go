package testing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/opd-ai/peercall/interfaces"
	"github.com/opd-ai/peercall/limits"
	"github.com/sirupsen/logrus"
)

var (
	// ErrSimulatedDrop is reported by a channel dropped with Drop.
	ErrSimulatedDrop = errors.New("simulated connection drop")

	// ErrChannelClosed indicates a write on a closed channel.
	ErrChannelClosed = errors.New("simulated channel closed")

	// ErrDialRefused is returned while dialing is disabled with RefuseDials.
	ErrDialRefused = errors.New("simulated dial refused")
)

// RelayRecord is one frame handled by the broker.
type RelayRecord struct {
	Type      string
	Src       string
	Dst       string
	Delivered bool
}

type envelope struct {
	Type    string          `json:"type"`
	Src     string          `json:"src,omitempty"`
	Dst     string          `json:"dst,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SimulatedBroker is an in-memory signaling hub.
type SimulatedBroker struct {
	mu       sync.Mutex
	peers    map[string]*simulatedChannel
	relayLog []RelayRecord
	dials    int
	refuse   bool
}

// NewSimulatedBroker creates an empty broker.
func NewSimulatedBroker() *SimulatedBroker {
	logrus.Warn("SIMULATION FUNCTION - NOT A REAL OPERATION")
	logrus.WithFields(logrus.Fields{
		"function": "NewSimulatedBroker",
	}).Info("Creating simulated signaling broker")

	return &SimulatedBroker{peers: make(map[string]*simulatedChannel)}
}

// Dialer returns an ISignalingDialer connected to this broker.
func (b *SimulatedBroker) Dialer() interfaces.ISignalingDialer {
	return &simulatedDialer{broker: b}
}

type simulatedDialer struct {
	broker *SimulatedBroker
}

func (d *simulatedDialer) IsSimulation() bool { return true }

func (d *simulatedDialer) Dial(ctx context.Context, peerID, token string) (interfaces.ISignalingChannel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return d.broker.connect(peerID)
}

func (b *SimulatedBroker) connect(peerID string) (*simulatedChannel, error) {
	logrus.Warn("SIMULATION FUNCTION - NOT A REAL OPERATION")

	ch := newSimulatedChannel(b, peerID)

	b.mu.Lock()
	b.dials++
	if b.refuse {
		b.mu.Unlock()
		return nil, ErrDialRefused
	}
	_, taken := b.peers[peerID]
	if !taken {
		b.peers[peerID] = ch
	}
	b.mu.Unlock()

	if taken {
		logrus.WithFields(logrus.Fields{
			"function": "SimulatedBroker.connect",
			"peer_id":  peerID,
		}).Info("Simulated peer ID already registered")
		ch.deliver(mustFrame(envelope{Type: "ID-TAKEN", Payload: json.RawMessage(`{"msg":"ID is taken"}`)}))
		return ch, nil
	}

	logrus.WithFields(logrus.Fields{
		"function": "SimulatedBroker.connect",
		"peer_id":  peerID,
	}).Info("Simulated peer registered")
	ch.deliver(mustFrame(envelope{Type: "OPEN"}))
	return ch, nil
}

// relay routes one frame written by from.
func (b *SimulatedBroker) relay(from *simulatedChannel, frame []byte) error {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return fmt.Errorf("simulated broker: malformed frame: %w", err)
	}
	if env.Type == "HEARTBEAT" {
		return nil
	}

	b.mu.Lock()
	if b.peers[from.peerID] != from {
		b.mu.Unlock()
		return ErrChannelClosed
	}
	target := b.peers[env.Dst]
	record := RelayRecord{Type: env.Type, Src: from.peerID, Dst: env.Dst, Delivered: target != nil}
	b.relayLog = append(b.relayLog, record)
	b.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":  "SimulatedBroker.relay",
		"type":      env.Type,
		"src":       from.peerID,
		"dst":       env.Dst,
		"delivered": record.Delivered,
	}).Debug("Simulated frame relay")

	if target == nil {
		if env.Type == "OFFER" {
			from.deliver(mustFrame(envelope{Type: "EXPIRE", Src: env.Dst, Payload: env.Payload}))
		}
		return nil
	}

	env.Src = from.peerID
	target.deliver(mustFrame(env))
	return nil
}

func (b *SimulatedBroker) unregister(ch *simulatedChannel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.peers[ch.peerID] == ch {
		delete(b.peers, ch.peerID)
	}
}

// IsOnline reports whether peerID currently holds a registration.
func (b *SimulatedBroker) IsOnline(peerID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.peers[peerID]
	return ok
}

// Drop severs peerID's connection as if the network failed.
func (b *SimulatedBroker) Drop(peerID string) bool {
	logrus.Warn("SIMULATION FUNCTION - NOT A REAL OPERATION")

	b.mu.Lock()
	ch := b.peers[peerID]
	delete(b.peers, peerID)
	b.mu.Unlock()

	if ch == nil {
		return false
	}
	ch.finish(ErrSimulatedDrop)
	return true
}

// RefuseDials makes subsequent dials fail until called with false.
func (b *SimulatedBroker) RefuseDials(refuse bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refuse = refuse
}

// DialCount returns the number of dial attempts seen.
func (b *SimulatedBroker) DialCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

// GetRelayLog returns a copy of the relay log.
func (b *SimulatedBroker) GetRelayLog() []RelayRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]RelayRecord(nil), b.relayLog...)
}

// GetStats returns simulation statistics.
func (b *SimulatedBroker) GetStats() map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()

	delivered := 0
	for _, r := range b.relayLog {
		if r.Delivered {
			delivered++
		}
	}
	return map[string]interface{}{
		"registered_peers": len(b.peers),
		"total_relays":     len(b.relayLog),
		"delivered":        delivered,
		"undeliverable":    len(b.relayLog) - delivered,
		"dial_attempts":    b.dials,
	}
}

func mustFrame(env envelope) []byte {
	data, err := json.Marshal(env)
	if err != nil {
		panic(fmt.Sprintf("simulated broker: marshal %s: %v", env.Type, err))
	}
	return data
}

// simulatedChannel is one peer's end of the in-memory broker.
type simulatedChannel struct {
	broker *SimulatedBroker
	peerID string

	mu     sync.Mutex
	queue  [][]byte
	wake   chan struct{}
	frames chan []byte
	done   chan struct{}
	closed bool
	err    error
}

func newSimulatedChannel(b *SimulatedBroker, peerID string) *simulatedChannel {
	ch := &simulatedChannel{
		broker: b,
		peerID: peerID,
		wake:   make(chan struct{}, 1),
		frames: make(chan []byte),
		done:   make(chan struct{}),
	}
	go ch.pump()
	return ch
}

// deliver queues an inbound frame without blocking the sender.
func (c *simulatedChannel) deliver(frame []byte) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.queue = append(c.queue, frame)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// pump moves queued frames to the unbuffered frames channel in order.
func (c *simulatedChannel) pump() {
	for {
		c.mu.Lock()
		if len(c.queue) == 0 {
			c.mu.Unlock()
			select {
			case <-c.wake:
				continue
			case <-c.done:
				return
			}
		}
		next := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()

		select {
		case c.frames <- next:
		case <-c.done:
			return
		}
	}
}

func (c *simulatedChannel) finish(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.err = err
	c.queue = nil
	close(c.done)
}

func (c *simulatedChannel) WriteFrame(ctx context.Context, frame []byte) error {
	if err := limits.ValidateSignalingFrame(frame); err != nil {
		return err
	}
	if !c.IsConnected() {
		return ErrChannelClosed
	}
	return c.broker.relay(c, frame)
}

func (c *simulatedChannel) Frames() <-chan []byte { return c.frames }

func (c *simulatedChannel) Done() <-chan struct{} { return c.done }

func (c *simulatedChannel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *simulatedChannel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *simulatedChannel) Close() error {
	c.broker.unregister(c)
	c.finish(nil)
	return nil
}
