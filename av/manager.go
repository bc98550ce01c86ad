package av

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/opd-ai/peercall/identity"
	"github.com/opd-ai/peercall/media"
	"github.com/opd-ai/peercall/signaling"
	"github.com/opd-ai/peercall/transport"
	"github.com/sirupsen/logrus"
)

// attempt is the last outbound call, kept for Retry.
type attempt struct {
	target string
	kind   media.Kind
}

// session is the single live call.
type session struct {
	gen  uint64
	role Role

	state      State
	kind       media.Kind
	kindKnown  bool
	kindLocked bool
	accepted   bool

	target     string
	remoteID   string
	remoteName string

	handle transport.CallHandle
	local  *media.Stream
	remote *media.Stream

	startedAt time.Time
	endedAt   time.Time

	noAnswer *clock.Timer
	ring     *clock.Timer
	connect  *clock.Timer
	ticker   *clock.Ticker
	tickStop chan struct{}

	ringing     bool
	leaveReason string
	lastErr     error

	audioOn bool
	videoOn bool
	sharing bool
}

// Manager is the call session state machine for one local user.
type Manager struct {
	transport transport.PeerTransport
	media     MediaController
	cfg       Config
	clock     clock.Clock

	mu          sync.Mutex
	selfEmail   string
	selfID      string
	started     bool
	ready       bool
	closed      bool
	gen         uint64
	sess        *session
	notice      *Notice
	last        *attempt
	reinit      *clock.Timer
	reinitCount int
	observers   []func(Snapshot)
	queue       []Snapshot
	flushing    bool

	// ringMu orders Ringer calls. toneGen is the session whose tone is
	// playing, zero when silent.
	ringMu  sync.Mutex
	toneGen uint64
}

// NewManager creates a manager driving tr and mc.
func NewManager(tr transport.PeerTransport, mc MediaController, cfg Config) (*Manager, error) {
	if tr == nil {
		return nil, errors.New("peer transport cannot be nil")
	}
	if mc == nil {
		return nil, errors.New("media controller cannot be nil")
	}
	cfg = cfg.withDefaults()

	m := &Manager{
		transport: tr,
		media:     mc,
		cfg:       cfg,
		clock:     cfg.Clock,
	}
	tr.OnReady(m.handleReady)
	tr.OnIncomingCall(m.handleIncoming)
	tr.OnError(m.handleTransportError)
	tr.OnDisconnected(m.handleDisconnected)
	mc.OnScreenShareChange(m.handleShareChange)

	logrus.WithFields(logrus.Fields{
		"function":        "NewManager",
		"call_timeout":    cfg.CallTimeout,
		"ring_timeout":    cfg.RingTimeout,
		"connect_timeout": cfg.ConnectTimeout,
		"ice_servers":     len(cfg.ICEServers),
	}).Info("Call manager created")

	return m, nil
}

// OnStateChange registers fn to receive every snapshot, in transition order.
func (m *Manager) OnStateChange(fn func(Snapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// Snapshot returns the current observable state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked(m.sess)
}

// History returns the log of finished calls.
func (m *Manager) History() *CallHistory {
	return m.cfg.History
}

// RemoteAudioLevel returns the remote peak audio level of the live call, or
// zero when unknown.
func (m *Manager) RemoteAudioLevel() float64 {
	m.mu.Lock()
	var h transport.CallHandle
	if m.sess != nil {
		h = m.sess.handle
	}
	m.mu.Unlock()
	if l, ok := h.(transport.AudioLeveler); ok {
		return l.AudioLevel()
	}
	return 0
}

// Start derives the local peer ID from selfEmail and registers it with the
// broker. It may be called again to re-login; an active call is unaffected.
func (m *Manager) Start(ctx context.Context, selfEmail string) error {
	peerID, err := identity.ToPeerID(selfEmail)
	if err != nil {
		return fmt.Errorf("local identity %q: %w", selfEmail, err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	m.selfEmail = strings.ToLower(strings.TrimSpace(selfEmail))
	m.selfID = peerID
	m.started = true
	m.ready = false
	m.reinitCount = 0
	if m.reinit != nil {
		m.reinit.Stop()
		m.reinit = nil
	}
	m.publishLocked(m.sess)
	m.unlockAndFlush()

	logrus.WithFields(logrus.Fields{
		"function": "Manager.Start",
		"peer_id":  peerID,
	}).Info("Starting call manager")

	return m.initialize(ctx)
}

func (m *Manager) initialize(ctx context.Context) error {
	m.mu.Lock()
	selfID := m.selfID
	m.mu.Unlock()

	if err := m.transport.Initialize(ctx, selfID, m.cfg.ICEServers); err != nil {
		m.handleTransportError(err)
		return err
	}
	m.handleReady()
	return nil
}

// StartCall places an outbound call. It returns once the offer is out, or
// with the error that ended the call.
func (m *Manager) StartCall(ctx context.Context, target string, kind media.Kind) error {
	peerID, err := m.cfg.Directory.RoutingKey(target)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}

	m.mu.Lock()
	switch {
	case m.closed:
		m.mu.Unlock()
		return ErrManagerClosed
	case !m.started:
		m.mu.Unlock()
		return ErrNotStarted
	case !m.ready:
		m.mu.Unlock()
		return ErrTransportNotReady
	case m.sess != nil:
		m.mu.Unlock()
		return ErrCallAlreadyActive
	case peerID == m.selfID:
		m.mu.Unlock()
		return ErrSelfCall
	}

	m.gen++
	s := &session{
		gen:        m.gen,
		role:       RoleCaller,
		state:      StatePlacing,
		kind:       kind,
		kindKnown:  true,
		target:     target,
		remoteID:   peerID,
		remoteName: m.cfg.Directory.DisplayName(peerID),
		ringing:    true,
	}
	gen := s.gen
	s.noAnswer = m.clock.AfterFunc(m.cfg.CallTimeout, func() { m.handleNoAnswer(gen) })
	m.sess = s
	m.notice = nil
	caller := m.selfEmail
	m.publishLocked(s)
	m.unlockAndFlush(func() { m.ringStart(gen, RingOutbound) })

	logrus.WithFields(logrus.Fields{
		"function":   "Manager.StartCall",
		"target":     peerID,
		"kind":       kind.String(),
		"generation": gen,
	}).Info("Placing call")

	stream, err := m.media.Acquire(ctx, kind)

	m.mu.Lock()
	if !m.currentLocked(s, StatePlacing) {
		m.mu.Unlock()
		m.media.Release(stream)
		logrus.WithFields(logrus.Fields{
			"function":   "Manager.StartCall",
			"generation": gen,
		}).Info("Call canceled during media acquisition, released stream")
		return ErrCallCanceled
	}
	if err != nil {
		cleanup := m.endLocked(s, terminalFor(err), err)
		m.unlockAndFlush(cleanup)
		return NewCallError(err)
	}
	s.local = stream
	s.audioOn = true
	s.videoOn = kind == media.KindVideo
	s.state = StateRinging
	s.kindLocked = true
	m.publishLocked(s)
	m.unlockAndFlush()

	meta, err := NewMetadata(kind, caller, m.clock.Now()).Encode()
	if err != nil {
		return m.failCall(s, StateRinging, err)
	}

	handle, err := m.transport.PlaceCall(ctx, peerID, stream, meta)

	m.mu.Lock()
	if !m.currentLocked(s, StateRinging) {
		m.mu.Unlock()
		if handle != nil {
			_ = handle.Close()
		}
		return ErrCallCanceled
	}
	if err != nil {
		cleanup := m.endLocked(s, terminalFor(err), err)
		m.unlockAndFlush(cleanup)
		return NewCallError(err)
	}
	s.handle = handle
	m.mu.Unlock()

	m.attach(gen, handle)
	return nil
}

// failCall ends s with err if it is still in state.
func (m *Manager) failCall(s *session, state State, err error) error {
	m.mu.Lock()
	if !m.currentLocked(s, state) {
		m.mu.Unlock()
		return ErrCallCanceled
	}
	cleanup := m.endLocked(s, terminalFor(err), err)
	m.unlockAndFlush(cleanup)
	return NewCallError(err)
}

// terminalFor picks the terminal state for a call-ending error.
func terminalFor(err error) State {
	switch {
	case errors.Is(err, transport.ErrPeerUnavailable):
		return StateOffline
	case errors.Is(err, transport.ErrCallRejected), errors.Is(err, transport.ErrPeerBusy):
		return StateRejected
	case errors.Is(err, context.Canceled):
		return StateEnded
	default:
		return StateFailed
	}
}

func (m *Manager) attach(gen uint64, h transport.CallHandle) {
	h.OnStream(func(remote *media.Stream) { m.handleRemoteStream(gen, remote) })
	h.OnError(func(err error) { m.handleCallError(gen, err) })
	h.OnClose(func() { m.handleCallClosed(gen) })
}

// AcceptCall answers the pending inbound call.
func (m *Manager) AcceptCall(ctx context.Context) error {
	m.mu.Lock()
	s := m.sess
	if s == nil || s.role != RoleCallee || s.state != StateNegotiating || s.accepted {
		m.mu.Unlock()
		return ErrNoIncomingCall
	}
	s.accepted = true
	stopTimer(&s.ring)
	ringing := s.ringing
	s.ringing = false
	gen := s.gen
	s.connect = m.clock.AfterFunc(m.cfg.ConnectTimeout, func() { m.handleConnectTimeout(gen) })
	kind := s.kind
	m.publishLocked(s)
	m.unlockAndFlush(func() {
		if ringing {
			m.ringStop(gen)
		}
	})

	logrus.WithFields(logrus.Fields{
		"function":   "Manager.AcceptCall",
		"peer_id":    s.remoteID,
		"kind":       kind.String(),
		"generation": gen,
	}).Info("Accepting call")

	stream, err := m.media.Acquire(ctx, kind)

	m.mu.Lock()
	if !m.currentLocked(s, StateNegotiating) {
		m.mu.Unlock()
		m.media.Release(stream)
		return ErrCallCanceled
	}
	if err != nil {
		cleanup := m.endLocked(s, StateFailed, err)
		m.unlockAndFlush(cleanup)
		return NewCallError(err)
	}
	s.local = stream
	s.audioOn = true
	s.videoOn = stream.HasVideo()
	h := s.handle
	m.mu.Unlock()

	if err := h.Answer(ctx, stream); err != nil {
		m.mu.Lock()
		if !m.currentLocked(s, StateNegotiating) {
			m.mu.Unlock()
			return ErrCallCanceled
		}
		cleanup := m.endLocked(s, StateFailed, err)
		m.unlockAndFlush(cleanup)
		return NewCallError(err)
	}
	return nil
}

// RejectCall declines the pending inbound call.
func (m *Manager) RejectCall() error {
	m.mu.Lock()
	s := m.sess
	if s == nil || s.role != RoleCallee || s.state != StateNegotiating || s.accepted {
		m.mu.Unlock()
		return ErrNoIncomingCall
	}
	s.leaveReason = signaling.LeaveReasonDeclined
	cleanup := m.endLocked(s, StateEnded, nil)
	m.unlockAndFlush(cleanup)

	logrus.WithFields(logrus.Fields{
		"function": "Manager.RejectCall",
		"peer_id":  s.remoteID,
	}).Info("Call rejected")
	return nil
}

// HangUp ends the session from any state. An inbound call that has not been
// accepted is declined.
func (m *Manager) HangUp() error {
	m.mu.Lock()
	s := m.sess
	if s == nil {
		m.mu.Unlock()
		return ErrNoActiveCall
	}
	if s.role == RoleCallee && !s.accepted {
		s.leaveReason = signaling.LeaveReasonDeclined
	}
	prev := s.state
	cleanup := m.endLocked(s, StateEnded, nil)
	m.unlockAndFlush(cleanup)

	logrus.WithFields(logrus.Fields{
		"function":   "Manager.HangUp",
		"peer_id":    s.remoteID,
		"from_state": prev.String(),
	}).Info("Call hung up")
	return nil
}

// Retry places the last outbound call again when its notice allows it.
func (m *Manager) Retry(ctx context.Context) error {
	m.mu.Lock()
	if m.notice == nil || !m.notice.Retryable || m.last == nil {
		m.mu.Unlock()
		return ErrNothingToRetry
	}
	last := *m.last
	m.mu.Unlock()

	return m.StartCall(ctx, last.target, last.kind)
}

// DismissNotice clears the end-of-call notice.
func (m *Manager) DismissNotice() {
	m.mu.Lock()
	if m.notice == nil {
		m.mu.Unlock()
		return
	}
	m.notice = nil
	m.publishLocked(m.sess)
	m.unlockAndFlush()
}

// ToggleAudio mutes or unmutes the local microphone.
func (m *Manager) ToggleAudio(enabled bool) error {
	return m.toggle(media.KindAudio, enabled)
}

// ToggleVideo hides or shows the local camera.
func (m *Manager) ToggleVideo(enabled bool) error {
	return m.toggle(media.KindVideo, enabled)
}

func (m *Manager) toggle(kind media.Kind, enabled bool) error {
	m.mu.Lock()
	s := m.sess
	if s == nil || s.local == nil {
		m.mu.Unlock()
		return ErrNoActiveCall
	}
	local := s.local
	m.mu.Unlock()

	if err := m.media.ToggleTrack(local, kind, enabled); err != nil {
		return err
	}

	m.mu.Lock()
	if m.sess != s {
		m.mu.Unlock()
		return nil
	}
	if kind == media.KindAudio {
		s.audioOn = enabled
	} else {
		s.videoOn = enabled
	}
	m.publishLocked(s)
	m.unlockAndFlush()
	return nil
}

// StartScreenShare replaces the outgoing camera track with a display
// capture on the connected call.
func (m *Manager) StartScreenShare(ctx context.Context) error {
	m.mu.Lock()
	s := m.sess
	if s == nil || s.state != StateConnected {
		m.mu.Unlock()
		return ErrNotConnected
	}
	local, h := s.local, s.handle
	m.mu.Unlock()

	if err := m.media.StartScreenShare(ctx, local, h); err != nil {
		return err
	}

	m.mu.Lock()
	stale := m.sess != s
	m.mu.Unlock()
	if stale {
		m.media.CancelScreenShare()
		return ErrCallCanceled
	}
	return nil
}

// StopScreenShare restores the camera track.
func (m *Manager) StopScreenShare() error {
	m.mu.Lock()
	active := m.sess != nil
	m.mu.Unlock()
	if !active {
		return ErrNoActiveCall
	}
	return m.media.StopScreenShare()
}

// Close ends any live call and stops re-initialization. The transport is
// owned by the caller.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	if m.reinit != nil {
		m.reinit.Stop()
		m.reinit = nil
	}
	cleanup := m.endLocked(m.sess, StateEnded, nil)
	m.unlockAndFlush(cleanup)

	logrus.WithFields(logrus.Fields{
		"function": "Manager.Close",
	}).Info("Call manager closed")
	return nil
}

func (m *Manager) handleIncoming(h transport.CallHandle) {
	m.mu.Lock()
	if m.closed || m.sess != nil {
		busy := m.sess != nil
		var current string
		if busy {
			current = m.sess.state.String()
		}
		m.mu.Unlock()

		logrus.WithFields(logrus.Fields{
			"function":      "Manager.handleIncoming",
			"peer_id":       h.PeerID(),
			"current_state": current,
		}).Info("Declining incoming call while busy")

		reason := signaling.LeaveReasonBusy
		if !busy {
			reason = signaling.LeaveReasonDeclined
		}
		if err := h.Decline(reason); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Manager.handleIncoming",
				"error":    err.Error(),
			}).Debug("Decline failed")
		}
		return
	}

	meta, kind, err := ParseMetadata(h.Metadata())
	kindKnown := err == nil
	if err != nil && !errors.Is(err, ErrNoMetadata) {
		logrus.WithFields(logrus.Fields{
			"function": "Manager.handleIncoming",
			"peer_id":  h.PeerID(),
			"error":    err.Error(),
		}).Warn("Ignoring malformed call metadata")
	}
	if kindKnown && meta.Caller != "" {
		if id, cerr := identity.ToPeerID(meta.Caller); cerr != nil || id != h.PeerID() {
			logrus.WithFields(logrus.Fields{
				"function": "Manager.handleIncoming",
				"peer_id":  h.PeerID(),
				"caller":   meta.Caller,
			}).Warn("Metadata caller does not match signaling source")
		}
	}

	m.gen++
	s := &session{
		gen:        m.gen,
		role:       RoleCallee,
		state:      StateNegotiating,
		kind:       kind,
		kindKnown:  kindKnown,
		remoteID:   h.PeerID(),
		remoteName: m.cfg.Directory.DisplayName(h.PeerID()),
		handle:     h,
		ringing:    true,
	}
	gen := s.gen
	s.ring = m.clock.AfterFunc(m.cfg.RingTimeout, func() { m.handleRingTimeout(gen) })
	m.sess = s
	m.notice = nil
	m.publishLocked(s)
	m.unlockAndFlush(func() { m.ringStart(gen, RingInbound) })

	logrus.WithFields(logrus.Fields{
		"function":      "Manager.handleIncoming",
		"peer_id":       s.remoteID,
		"name":          s.remoteName,
		"kind":          kind.String(),
		"from_metadata": kindKnown,
		"generation":    gen,
	}).Info("Incoming call")

	m.attach(gen, h)
}

func (m *Manager) handleRemoteStream(gen uint64, remote *media.Stream) {
	m.mu.Lock()
	s := m.sess
	if s == nil || s.gen != gen || s.state.IsTerminal() {
		m.mu.Unlock()
		m.media.Release(remote)
		return
	}
	connectable := s.state == StateRinging || (s.state == StateNegotiating && s.accepted)
	if !connectable {
		m.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function": "Manager.handleRemoteStream",
			"state":    s.state.String(),
		}).Debug("Ignoring remote stream outside negotiation")
		return
	}

	stopTimer(&s.noAnswer)
	stopTimer(&s.connect)
	ringing := s.ringing
	s.ringing = false
	s.remote = remote
	s.state = StateConnected
	s.startedAt = m.clock.Now()

	hasVideo := remote.HasVideo()
	if !s.kindKnown && !s.kindLocked {
		s.kind = media.KindAudio
		if hasVideo {
			s.kind = media.KindVideo
		}
		logrus.WithFields(logrus.Fields{
			"function": "Manager.handleRemoteStream",
			"kind":     s.kind.String(),
		}).Info("Call kind inferred from remote stream")
	} else if hasVideo != (s.kind == media.KindVideo) {
		logrus.WithFields(logrus.Fields{
			"function":     "Manager.handleRemoteStream",
			"kind":         s.kind.String(),
			"remote_video": hasVideo,
		}).Warn("Remote stream does not match call kind, keeping call kind")
	}
	s.kindLocked = true

	s.ticker = m.clock.Ticker(time.Second)
	s.tickStop = make(chan struct{})
	go m.tickLoop(gen, s.ticker, s.tickStop)

	m.publishLocked(s)
	m.unlockAndFlush(func() {
		if ringing {
			m.ringStop(gen)
		}
	})

	logrus.WithFields(logrus.Fields{
		"function":   "Manager.handleRemoteStream",
		"peer_id":    s.remoteID,
		"kind":       s.kind.String(),
		"generation": gen,
	}).Info("Call connected")
}

func (m *Manager) tickLoop(gen uint64, ticker *clock.Ticker, stop <-chan struct{}) {
	for {
		select {
		case <-ticker.C:
			m.mu.Lock()
			s := m.sess
			if s == nil || s.gen != gen || s.state != StateConnected {
				m.mu.Unlock()
				continue
			}
			m.publishLocked(s)
			m.unlockAndFlush()
		case <-stop:
			return
		}
	}
}

func (m *Manager) handleCallError(gen uint64, err error) {
	m.mu.Lock()
	s := m.sess
	if s == nil || s.gen != gen {
		m.mu.Unlock()
		return
	}
	cleanup := m.endLocked(s, terminalFor(err), err)
	m.unlockAndFlush(cleanup)
}

func (m *Manager) handleCallClosed(gen uint64) {
	m.mu.Lock()
	s := m.sess
	if s == nil || s.gen != gen {
		m.mu.Unlock()
		return
	}
	s.handle = nil
	cleanup := m.endLocked(s, StateEnded, nil)
	m.unlockAndFlush(cleanup)
}

func (m *Manager) handleNoAnswer(gen uint64) {
	m.mu.Lock()
	s := m.sess
	if s == nil || s.gen != gen {
		m.mu.Unlock()
		return
	}
	peerID := s.remoteID
	m.mu.Unlock()

	state, err := StateNoAnswer, ErrNoAnswer
	if m.transport.Presence(peerID) == transport.PresenceOffline {
		state, err = StateOffline, transport.ErrPeerUnavailable
	}

	m.mu.Lock()
	if m.sess != s || (s.state != StatePlacing && s.state != StateRinging) {
		m.mu.Unlock()
		return
	}
	cleanup := m.endLocked(s, state, err)
	m.unlockAndFlush(cleanup)
}

func (m *Manager) handleRingTimeout(gen uint64) {
	m.mu.Lock()
	s := m.sess
	if s == nil || s.gen != gen || s.state != StateNegotiating || s.accepted {
		m.mu.Unlock()
		return
	}
	s.leaveReason = signaling.LeaveReasonHangup
	cleanup := m.endLocked(s, StateEnded, ErrMissedCall)
	m.unlockAndFlush(cleanup)
}

func (m *Manager) handleConnectTimeout(gen uint64) {
	m.mu.Lock()
	s := m.sess
	if s == nil || s.gen != gen || s.state != StateNegotiating || !s.accepted {
		m.mu.Unlock()
		return
	}
	cleanup := m.endLocked(s, StateFailed, ErrConnectTimeout)
	m.unlockAndFlush(cleanup)
}

func (m *Manager) handleShareChange(active bool) {
	m.mu.Lock()
	s := m.sess
	if s == nil || s.sharing == active {
		m.mu.Unlock()
		return
	}
	s.sharing = active
	m.publishLocked(s)
	m.unlockAndFlush()
}

func (m *Manager) handleReady() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	was := m.ready
	m.ready = true
	m.reinitCount = 0
	if m.reinit != nil {
		m.reinit.Stop()
		m.reinit = nil
	}
	if was {
		m.mu.Unlock()
		return
	}
	m.publishLocked(m.sess)
	m.unlockAndFlush()
}

func (m *Manager) handleDisconnected() {
	m.mu.Lock()
	if m.closed || !m.ready {
		m.mu.Unlock()
		return
	}
	m.ready = false
	m.publishLocked(m.sess)
	m.unlockAndFlush()

	logrus.WithFields(logrus.Fields{
		"function": "Manager.handleDisconnected",
	}).Warn("Signaling connection lost")
}

// handleTransportError reacts to errors not tied to a call. They never
// touch the live session.
func (m *Manager) handleTransportError(err error) {
	class := Classify(err)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.ready = false
	scheduled := false
	if class == ClassTransportInit {
		scheduled = m.scheduleReinitLocked()
	}
	m.publishLocked(m.sess)
	m.unlockAndFlush()

	logrus.WithFields(logrus.Fields{
		"function":         "Manager.handleTransportError",
		"class":            class.String(),
		"reinit_scheduled": scheduled,
		"error":            err.Error(),
	}).Warn("Transport error")
}

func (m *Manager) scheduleReinitLocked() bool {
	if m.reinit != nil || !m.started || m.closed {
		return false
	}
	if m.reinitCount >= m.cfg.ReinitAttempts {
		logrus.WithFields(logrus.Fields{
			"function": "Manager.scheduleReinit",
			"attempts": m.reinitCount,
		}).Error("Giving up on transport re-initialization")
		return false
	}
	m.reinitCount++
	m.reinit = m.clock.AfterFunc(m.cfg.ReinitDelay, m.runReinit)
	return true
}

func (m *Manager) runReinit() {
	m.mu.Lock()
	m.reinit = nil
	if m.closed || !m.started || m.ready {
		m.mu.Unlock()
		return
	}
	n := m.reinitCount
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Manager.runReinit",
		"attempt":  n,
	}).Info("Re-initializing transport")

	_ = m.initialize(context.Background())
}

func (m *Manager) currentLocked(s *session, state State) bool {
	return m.sess == s && s.state == state
}

func stopTimer(t **clock.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func (m *Manager) stopTimersLocked(s *session) {
	stopTimer(&s.noAnswer)
	stopTimer(&s.ring)
	stopTimer(&s.connect)
	if s.ticker != nil {
		s.ticker.Stop()
		close(s.tickStop)
		s.ticker = nil
	}
}

// ringStart plays dir for session gen unless that session stopped ringing
// before the call got here.
func (m *Manager) ringStart(gen uint64, dir Direction) {
	m.ringMu.Lock()
	defer m.ringMu.Unlock()

	m.mu.Lock()
	s := m.sess
	ok := s != nil && s.gen == gen && s.ringing
	m.mu.Unlock()
	if !ok {
		return
	}
	if m.toneGen != 0 {
		m.cfg.Ringer.Stop()
	}
	m.cfg.Ringer.Start(dir)
	m.toneGen = gen
}

// ringStop silences the tone of session gen if it is playing.
func (m *Manager) ringStop(gen uint64) {
	m.ringMu.Lock()
	defer m.ringMu.Unlock()
	if m.toneGen != gen {
		return
	}
	m.cfg.Ringer.Stop()
	m.toneGen = 0
}

// endLocked moves s to a terminal state, publishes the terminal and idle
// snapshots, and returns the teardown to run after unlocking.
func (m *Manager) endLocked(s *session, state State, err error) func() {
	if s == nil || m.sess != s || s.state.IsTerminal() {
		return nil
	}
	from := s.state
	s.state = state
	s.lastErr = err
	s.endedAt = m.clock.Now()
	m.stopTimersLocked(s)
	ringing := s.ringing
	s.ringing = false

	class := Classify(err)
	retryable := s.role == RoleCaller &&
		(state == StateFailed || state == StateOffline || state == StateNoAnswer || state == StateRejected)
	m.notice = &Notice{
		State:     state,
		Class:     class,
		Message:   noticeMessage(state, class, err, s.remoteName),
		PeerID:    s.remoteID,
		Retryable: retryable,
		At:        s.endedAt,
	}
	if s.role == RoleCaller {
		m.last = &attempt{target: s.target, kind: s.kind}
	}

	record := CallRecord{
		PeerID:    s.remoteID,
		Name:      s.remoteName,
		Role:      s.role,
		Kind:      s.kind,
		State:     state,
		Class:     class,
		StartedAt: s.startedAt,
		EndedAt:   s.endedAt,
	}
	if !s.startedAt.IsZero() {
		record.Duration = s.endedAt.Sub(s.startedAt)
	}

	fields := logrus.Fields{
		"function":   "Manager.endLocked",
		"peer_id":    s.remoteID,
		"from_state": from.String(),
		"state":      state.String(),
		"generation": s.gen,
	}
	if err != nil {
		fields["error"] = err.Error()
		fields["class"] = class.String()
	}
	logrus.WithFields(fields).Info("Call session ended")

	m.publishLocked(s)
	m.sess = nil
	m.publishLocked(nil)

	handle, local, remote := s.handle, s.local, s.remote
	decline := s.role == RoleCallee && !s.accepted
	reason := s.leaveReason
	history := m.cfg.History
	gen := s.gen
	return func() {
		if ringing {
			m.ringStop(gen)
		}
		m.media.CancelScreenShare()
		if handle != nil {
			var herr error
			if decline {
				herr = handle.Decline(reason)
			} else {
				herr = handle.Close()
			}
			if herr != nil {
				logrus.WithFields(logrus.Fields{
					"function": "Manager.endLocked",
					"error":    herr.Error(),
				}).Debug("Closing call handle failed")
			}
		}
		m.media.Release(local)
		m.media.Release(remote)
		history.Record(record)
	}
}

func (m *Manager) snapshotLocked(s *session) Snapshot {
	snap := Snapshot{
		Generation:  m.gen,
		State:       StateIdle,
		LocalPeerID: m.selfID,
		Ready:       m.ready,
	}
	if m.notice != nil {
		n := *m.notice
		snap.Notice = &n
	}
	if s == nil {
		return snap
	}

	snap.Generation = s.gen
	snap.State = s.state
	snap.Role = s.role
	snap.Kind = s.kind
	snap.Accepted = s.accepted
	snap.RemotePeerID = s.remoteID
	snap.RemoteName = s.remoteName
	snap.StartedAt = s.startedAt
	snap.LastError = s.lastErr
	snap.ErrorClass = Classify(s.lastErr)
	snap.AudioEnabled = s.audioOn
	snap.VideoEnabled = s.videoOn
	snap.ScreenSharing = s.sharing
	if !s.startedAt.IsZero() {
		end := s.endedAt
		if end.IsZero() {
			end = m.clock.Now()
		}
		snap.Duration = end.Sub(s.startedAt).Truncate(time.Second)
	}
	return snap
}

func (m *Manager) publishLocked(s *session) {
	m.queue = append(m.queue, m.snapshotLocked(s))
}

// unlockAndFlush releases the lock, runs after in order, then delivers
// queued snapshots.
func (m *Manager) unlockAndFlush(after ...func()) {
	m.mu.Unlock()
	for _, fn := range after {
		if fn != nil {
			fn()
		}
	}
	m.flush()
}

// flush delivers queued snapshots FIFO. Only one goroutine delivers at a
// time; others leave their snapshots to it.
func (m *Manager) flush() {
	m.mu.Lock()
	if m.flushing {
		m.mu.Unlock()
		return
	}
	m.flushing = true
	for len(m.queue) > 0 {
		snap := m.queue[0]
		m.queue = m.queue[1:]
		observers := append([]func(Snapshot){}, m.observers...)
		m.mu.Unlock()
		for _, fn := range observers {
			fn(snap)
		}
		m.mu.Lock()
	}
	m.flushing = false
	m.mu.Unlock()
}
