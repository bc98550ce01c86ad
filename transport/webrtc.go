package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opd-ai/peercall/identity"
	"github.com/opd-ai/peercall/interfaces"
	"github.com/opd-ai/peercall/media"
	"github.com/opd-ai/peercall/signaling"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// Config tunes a WebRTCTransport.
type Config struct {
	Signaling signaling.Config
	// Codecs registers codecs on each media engine. Nil registers pion's
	// default codec set.
	Codecs func(me *webrtc.MediaEngine) error
	// ICE connectivity timeouts; zero values take the defaults.
	ICEDisconnectedTimeout time.Duration
	ICEFailedTimeout       time.Duration
	ICEKeepaliveInterval   time.Duration
	// IncludeLoopback gathers loopback host candidates, which lets two
	// transports in one process connect without a network interface.
	IncludeLoopback bool
}

// DefaultConfig returns settings that tolerate short relay outages.
func DefaultConfig() Config {
	return Config{
		Signaling:              signaling.DefaultConfig(),
		ICEDisconnectedTimeout: 30 * time.Second,
		ICEFailedTimeout:       120 * time.Second,
		ICEKeepaliveInterval:   2 * time.Second,
	}
}

// WebRTCTransport is a PeerTransport that negotiates pion/webrtc peer
// connections over the signaling broker.
type WebRTCTransport struct {
	client *signaling.Client
	api    *webrtc.API

	mu       sync.Mutex
	selfID   string
	servers  []webrtc.ICEServer
	ready    bool
	closed   bool
	calls    map[string]*call
	presence map[string]Presence

	onReady        func()
	onIncoming     func(CallHandle)
	onError        func(error)
	onDisconnected func()
}

var _ PeerTransport = (*WebRTCTransport)(nil)

// NewWebRTCTransport creates a transport that reaches the broker through dialer.
func NewWebRTCTransport(dialer interfaces.ISignalingDialer, cfg Config) (*WebRTCTransport, error) {
	client, err := signaling.NewClient(dialer, cfg.Signaling)
	if err != nil {
		return nil, err
	}
	api, err := newAPI(cfg)
	if err != nil {
		return nil, fmt.Errorf("create webrtc api: %w", err)
	}

	t := &WebRTCTransport{
		client:   client,
		api:      api,
		calls:    make(map[string]*call),
		presence: make(map[string]Presence),
	}
	client.OnOpen(t.handleOpen)
	client.OnMessage(t.handleMessage)
	client.OnError(t.handleError)
	client.OnDisconnected(t.handleDisconnected)
	return t, nil
}

func newAPI(cfg Config) (*webrtc.API, error) {
	def := DefaultConfig()
	if cfg.ICEDisconnectedTimeout <= 0 {
		cfg.ICEDisconnectedTimeout = def.ICEDisconnectedTimeout
	}
	if cfg.ICEFailedTimeout <= 0 {
		cfg.ICEFailedTimeout = def.ICEFailedTimeout
	}
	if cfg.ICEKeepaliveInterval <= 0 {
		cfg.ICEKeepaliveInterval = def.ICEKeepaliveInterval
	}

	mediaEngine := &webrtc.MediaEngine{}
	if cfg.Codecs != nil {
		if err := cfg.Codecs(mediaEngine); err != nil {
			return nil, err
		}
	} else if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, err
	}

	se := webrtc.SettingEngine{LoggerFactory: logrusFactory{}}
	se.SetICETimeouts(cfg.ICEDisconnectedTimeout, cfg.ICEFailedTimeout, cfg.ICEKeepaliveInterval)
	se.SetIncludeLoopbackCandidate(cfg.IncludeLoopback)

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	), nil
}

// Initialize registers selfID with the broker.
func (t *WebRTCTransport) Initialize(ctx context.Context, selfID string, servers []ICEServer) error {
	if !identity.ValidPeerID(selfID) {
		return fmt.Errorf("%w: %q", ErrInvalidPeerID, selfID)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTransportClosed
	}
	t.selfID = selfID
	t.servers = toWebRTCServers(servers)
	t.ready = false
	t.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":    "WebRTCTransport.Initialize",
		"peer_id":     selfID,
		"ice_servers": len(servers),
	}).Info("Initializing peer transport")

	if err := t.client.Open(ctx, selfID); err != nil {
		return fmt.Errorf("initialize %s: %w", selfID, err)
	}
	return nil
}

// IsReady reports whether the broker session is open.
func (t *WebRTCTransport) IsReady() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ready
}

// OnReady registers fn for session open events.
func (t *WebRTCTransport) OnReady(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onReady = fn
}

// OnIncomingCall registers fn for inbound offers. Offers that arrive with no
// handler registered are declined.
func (t *WebRTCTransport) OnIncomingCall(fn func(CallHandle)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onIncoming = fn
}

// OnError registers fn for broker errors.
func (t *WebRTCTransport) OnError(fn func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onError = fn
}

// OnDisconnected registers fn for broker session drops.
func (t *WebRTCTransport) OnDisconnected(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onDisconnected = fn
}

// Presence reports what is known about peerID.
func (t *WebRTCTransport) Presence(peerID string) Presence {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.presence[peerID]
}

func (t *WebRTCTransport) setPresence(peerID string, p Presence) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.presence[peerID] = p
}

// PlaceCall offers a call to target.
func (t *WebRTCTransport) PlaceCall(ctx context.Context, target string, stream *media.Stream, metadata json.RawMessage) (CallHandle, error) {
	if stream == nil {
		return nil, media.ErrNilStream
	}
	if !identity.ValidPeerID(target) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPeerID, target)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrTransportClosed
	}
	if !t.ready {
		t.mu.Unlock()
		return nil, ErrNotReady
	}
	servers := t.servers
	t.mu.Unlock()

	c := newCall(t, target, "mc_"+uuid.NewString(), metadata, false)
	if err := c.offer(ctx, stream, servers); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":      "WebRTCTransport.PlaceCall",
			"target":        target,
			"connection_id": c.connID,
			"error":         err.Error(),
		}).Error("Failed to place call")
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":      "WebRTCTransport.PlaceCall",
		"target":        target,
		"connection_id": c.connID,
		"tracks":        len(stream.Tracks()),
	}).Info("Call offer sent")
	return c, nil
}

func (t *WebRTCTransport) newPeerConnection(c *call, servers []webrtc.ICEServer) (*webrtc.PeerConnection, error) {
	pc, err := t.api.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	pc.OnICECandidate(c.handleLocalCandidate)
	pc.OnTrack(c.handleTrack)
	pc.OnConnectionStateChange(c.handleConnectionState)
	return pc, nil
}

func (t *WebRTCTransport) iceServers() []webrtc.ICEServer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.servers
}

func (t *WebRTCTransport) register(c *call) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTransportClosed
	}
	if _, dup := t.calls[c.connID]; dup {
		return fmt.Errorf("duplicate connection id %s", c.connID)
	}
	t.calls[c.connID] = c
	return nil
}

func (t *WebRTCTransport) forget(c *call) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.calls[c.connID] == c {
		delete(t.calls, c.connID)
	}
}

func (t *WebRTCTransport) lookup(connID string) *call {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls[connID]
}

// callsWith returns the calls with peerID, or only the one with connID when
// connID is set.
func (t *WebRTCTransport) callsWith(peerID, connID string) []*call {
	t.mu.Lock()
	defer t.mu.Unlock()
	if connID != "" {
		if c := t.calls[connID]; c != nil && c.peerID == peerID {
			return []*call{c}
		}
		return nil
	}
	var out []*call
	for _, c := range t.calls {
		if c.peerID == peerID {
			out = append(out, c)
		}
	}
	return out
}

func (t *WebRTCTransport) send(msg signaling.Message) error {
	return t.client.Send(context.Background(), msg)
}

func (t *WebRTCTransport) handleOpen(id string) {
	t.mu.Lock()
	t.ready = true
	fn := t.onReady
	t.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "WebRTCTransport.handleOpen",
		"peer_id":  id,
	}).Info("Peer transport ready")

	if fn != nil {
		fn()
	}
}

func (t *WebRTCTransport) handleError(err error) {
	open := t.client.IsOpen()
	t.mu.Lock()
	t.ready = open
	fn := t.onError
	t.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "WebRTCTransport.handleError",
		"ready":    open,
		"error":    err.Error(),
	}).Warn("Peer transport error")

	if fn != nil {
		fn(err)
	}
}

func (t *WebRTCTransport) handleDisconnected() {
	t.mu.Lock()
	t.ready = false
	fn := t.onDisconnected
	t.mu.Unlock()

	if fn != nil {
		fn()
	}
}

func (t *WebRTCTransport) handleMessage(msg signaling.Message) {
	switch msg.Type {
	case signaling.TypeOffer:
		t.handleOffer(msg)
	case signaling.TypeAnswer:
		var p signaling.AnswerPayload
		if err := msg.DecodePayload(&p); err != nil {
			t.dropMessage(msg, err)
			return
		}
		c := t.lookup(p.ConnectionID)
		if c == nil || c.peerID != msg.Src {
			t.dropMessage(msg, errors.New("unknown connection"))
			return
		}
		t.setPresence(msg.Src, PresenceOnline)
		c.applyAnswer(p)
	case signaling.TypeCandidate:
		var p signaling.CandidatePayload
		if err := msg.DecodePayload(&p); err != nil {
			t.dropMessage(msg, err)
			return
		}
		c := t.lookup(p.ConnectionID)
		if c == nil || c.peerID != msg.Src {
			t.dropMessage(msg, errors.New("unknown connection"))
			return
		}
		c.addRemoteCandidate(p.Candidate)
	case signaling.TypeLeave:
		var p signaling.LeavePayload
		if len(msg.Payload) > 0 {
			if err := msg.DecodePayload(&p); err != nil {
				t.dropMessage(msg, err)
				return
			}
		}
		for _, c := range t.callsWith(msg.Src, p.ConnectionID) {
			c.remoteLeave(leaveError(p.Reason))
		}
	case signaling.TypeExpire:
		var p signaling.LeavePayload
		if len(msg.Payload) > 0 {
			_ = json.Unmarshal(msg.Payload, &p)
		}
		t.setPresence(msg.Src, PresenceOffline)
		logrus.WithFields(logrus.Fields{
			"function":      "WebRTCTransport.handleMessage",
			"peer_id":       msg.Src,
			"connection_id": p.ConnectionID,
		}).Info("Broker reports peer not registered")
		for _, c := range t.callsWith(msg.Src, p.ConnectionID) {
			if !c.inbound {
				c.fail(ErrPeerUnavailable, false)
			}
		}
	default:
		t.dropMessage(msg, errors.New("unexpected message type"))
	}
}

func (t *WebRTCTransport) handleOffer(msg signaling.Message) {
	var p signaling.OfferPayload
	if err := msg.DecodePayload(&p); err != nil {
		t.dropMessage(msg, err)
		return
	}
	if p.Type != "" && p.Type != signaling.ConnectionTypeMedia {
		t.dropMessage(msg, fmt.Errorf("unsupported connection type %q", p.Type))
		return
	}
	if p.ConnectionID == "" || msg.Src == "" {
		t.dropMessage(msg, errors.New("offer missing connection id or source"))
		return
	}

	t.setPresence(msg.Src, PresenceOnline)
	c := newCall(t, msg.Src, p.ConnectionID, p.Metadata, true)
	c.remoteOffer = &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: p.SDP.SDP}
	if err := t.register(c); err != nil {
		t.dropMessage(msg, err)
		return
	}

	t.mu.Lock()
	fn := t.onIncoming
	t.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":      "WebRTCTransport.handleOffer",
		"peer_id":       msg.Src,
		"connection_id": p.ConnectionID,
		"has_metadata":  len(p.Metadata) > 0,
	}).Info("Incoming call offer")

	if fn == nil {
		_ = c.Decline(signaling.LeaveReasonDeclined)
		return
	}
	fn(c)
}

func (t *WebRTCTransport) dropMessage(msg signaling.Message, err error) {
	logrus.WithFields(logrus.Fields{
		"function": "WebRTCTransport.handleMessage",
		"type":     string(msg.Type),
		"src":      msg.Src,
		"error":    err.Error(),
	}).Warn("Dropping signaling message")
}

func leaveError(reason string) error {
	switch reason {
	case signaling.LeaveReasonBusy:
		return ErrPeerBusy
	case signaling.LeaveReasonDeclined:
		return ErrCallRejected
	default:
		return nil
	}
}

// Close ends every call and the broker session.
func (t *WebRTCTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.ready = false
	calls := make([]*call, 0, len(t.calls))
	for _, c := range t.calls {
		calls = append(calls, c)
	}
	t.calls = make(map[string]*call)
	t.mu.Unlock()

	var err error
	for _, c := range calls {
		err = multierr.Append(err, c.finish(signaling.LeaveReasonHangup, true))
	}
	err = multierr.Append(err, t.client.Close())

	logrus.WithFields(logrus.Fields{
		"function": "WebRTCTransport.Close",
		"calls":    len(calls),
	}).Info("Peer transport closed")
	return err
}
