package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/opd-ai/peercall/media"
	"github.com/opd-ai/peercall/media/audio"
	"github.com/opd-ai/peercall/signaling"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// localTracker is implemented by tracks backed by a real capture device.
type localTracker interface {
	TrackLocal() webrtc.TrackLocal
}

// enabledNotifier is implemented by tracks that report mute changes.
type enabledNotifier interface {
	OnEnabledChange(fn func(enabled bool))
}

// call is the WebRTC CallHandle.
type call struct {
	Events

	t        *WebRTCTransport
	peerID   string
	connID   string
	metadata json.RawMessage
	inbound  bool
	meter    *audio.LevelMeter

	mu            sync.Mutex
	pc            *webrtc.PeerConnection
	remoteOffer   *webrtc.SessionDescription
	remoteSet     bool
	signaled      bool
	pendingRemote []webrtc.ICECandidateInit
	pendingLocal  []webrtc.ICECandidateInit
	streamID      string
	senders       map[media.Kind]*webrtc.RTPSender
	sending       map[media.Kind]media.Track
	locals        map[string]webrtc.TrackLocal
	watched       map[string]bool
	answered      bool
	remote        *media.Stream
	ended         bool
}

var (
	_ CallHandle   = (*call)(nil)
	_ AudioLeveler = (*call)(nil)
)

func newCall(t *WebRTCTransport, peerID, connID string, metadata json.RawMessage, inbound bool) *call {
	return &call{
		t:        t,
		peerID:   peerID,
		connID:   connID,
		metadata: metadata,
		inbound:  inbound,
		meter:    audio.NewLevelMeter(),
		senders:  make(map[media.Kind]*webrtc.RTPSender),
		sending:  make(map[media.Kind]media.Track),
		locals:   make(map[string]webrtc.TrackLocal),
		watched:  make(map[string]bool),
	}
}

func (c *call) PeerID() string            { return c.peerID }
func (c *call) Metadata() json.RawMessage { return c.metadata }
func (c *call) ConnectionID() string      { return c.connID }

// AudioLevel returns the remote peak audio level.
func (c *call) AudioLevel() float64 { return c.meter.Level() }

func codecType(kind media.Kind) webrtc.RTPCodecType {
	if kind == media.KindVideo {
		return webrtc.RTPCodecTypeVideo
	}
	return webrtc.RTPCodecTypeAudio
}

// offer creates the peer connection and sends the OFFER.
func (c *call) offer(ctx context.Context, stream *media.Stream, servers []webrtc.ICEServer) error {
	pc, err := c.t.newPeerConnection(c, servers)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.pc = pc
	c.mu.Unlock()

	if err := c.attachLocal(stream); err != nil {
		return multierr.Append(err, pc.Close())
	}
	if err := ctx.Err(); err != nil {
		return multierr.Append(err, pc.Close())
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return multierr.Append(fmt.Errorf("create offer: %w", err), pc.Close())
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return multierr.Append(fmt.Errorf("set local description: %w", err), pc.Close())
	}
	if err := c.t.register(c); err != nil {
		return multierr.Append(err, pc.Close())
	}

	msg, err := signaling.NewMessage(signaling.TypeOffer, c.peerID, signaling.OfferPayload{
		SDP:          signaling.SessionDescription{Type: "offer", SDP: pc.LocalDescription().SDP},
		Type:         signaling.ConnectionTypeMedia,
		ConnectionID: c.connID,
		Metadata:     c.metadata,
	})
	if err == nil {
		err = c.t.send(msg)
	}
	if err != nil {
		c.t.forget(c)
		return multierr.Append(fmt.Errorf("send offer: %w", err), pc.Close())
	}
	c.markSignaled()
	return nil
}

// Answer accepts an inbound call.
func (c *call) Answer(ctx context.Context, stream *media.Stream) error {
	if !c.inbound {
		return ErrNotInbound
	}
	if stream == nil {
		return media.ErrNilStream
	}

	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return ErrHandleClosed
	}
	if c.answered {
		c.mu.Unlock()
		return ErrAlreadyAnswered
	}
	c.answered = true
	offer := *c.remoteOffer
	c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	pc, err := c.t.newPeerConnection(c, c.t.iceServers())
	if err != nil {
		return err
	}
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return multierr.Append(ErrHandleClosed, pc.Close())
	}
	c.pc = pc
	c.mu.Unlock()

	if err := c.setRemote(offer); err != nil {
		return fmt.Errorf("apply offer: %w", err)
	}
	if err := c.attachLocal(stream); err != nil {
		return err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}

	msg, err := signaling.NewMessage(signaling.TypeAnswer, c.peerID, signaling.AnswerPayload{
		SDP:          signaling.SessionDescription{Type: "answer", SDP: pc.LocalDescription().SDP},
		Type:         signaling.ConnectionTypeMedia,
		ConnectionID: c.connID,
	})
	if err != nil {
		return err
	}
	if err := c.t.send(msg); err != nil {
		return fmt.Errorf("send answer: %w", err)
	}
	c.markSignaled()

	logrus.WithFields(logrus.Fields{
		"function":      "call.Answer",
		"peer_id":       c.peerID,
		"connection_id": c.connID,
	}).Info("Call answered")
	return nil
}

// attachLocal adds one sender per track of stream.
func (c *call) attachLocal(stream *media.Stream) error {
	c.mu.Lock()
	pc := c.pc
	c.streamID = stream.ID()
	c.mu.Unlock()

	for _, track := range stream.Tracks() {
		tl, err := c.localFor(track)
		if err != nil {
			return err
		}
		sender, err := pc.AddTrack(tl)
		if err != nil {
			return fmt.Errorf("add %s track: %w", track.Kind(), err)
		}

		c.mu.Lock()
		c.senders[track.Kind()] = sender
		c.sending[track.Kind()] = track
		c.mu.Unlock()

		c.watchMute(track)
		if !track.Enabled() {
			if err := sender.ReplaceTrack(nil); err != nil {
				return fmt.Errorf("mute %s track: %w", track.Kind(), err)
			}
		}
	}
	return nil
}

// localFor returns the WebRTC track that sends track. Tracks without a
// capture device get a static placeholder that carries no packets.
func (c *call) localFor(track media.Track) (webrtc.TrackLocal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if tl, ok := c.locals[track.ID()]; ok {
		return tl, nil
	}
	var tl webrtc.TrackLocal
	if lt, ok := track.(localTracker); ok {
		tl = lt.TrackLocal()
	} else {
		capability := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
		if track.Kind() == media.KindVideo {
			capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
		}
		streamID := c.streamID
		if streamID == "" {
			streamID = c.connID
		}
		static, err := webrtc.NewTrackLocalStaticRTP(capability, track.ID(), streamID)
		if err != nil {
			return nil, fmt.Errorf("placeholder %s track: %w", track.Kind(), err)
		}
		tl = static
	}
	c.locals[track.ID()] = tl
	return tl, nil
}

// watchMute stops sending while track is disabled.
func (c *call) watchMute(track media.Track) {
	n, ok := track.(enabledNotifier)
	if !ok {
		return
	}
	c.mu.Lock()
	if c.watched[track.ID()] {
		c.mu.Unlock()
		return
	}
	c.watched[track.ID()] = true
	c.mu.Unlock()

	kind := track.Kind()
	n.OnEnabledChange(func(enabled bool) {
		c.mu.Lock()
		if c.ended || c.sending[kind] != track {
			c.mu.Unlock()
			return
		}
		sender := c.senders[kind]
		tl := c.locals[track.ID()]
		c.mu.Unlock()

		if !enabled {
			tl = nil
		}
		if err := sender.ReplaceTrack(tl); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "call.watchMute",
				"kind":     kind.String(),
				"enabled":  enabled,
				"error":    err.Error(),
			}).Warn("Failed to apply mute to sender")
		}
	})
}

// ReplaceTrack swaps the outgoing track of kind in place.
func (c *call) ReplaceTrack(kind media.Kind, track media.Track) error {
	var tl webrtc.TrackLocal
	if track != nil {
		if track.Kind() != kind {
			return fmt.Errorf("replace %s sender with %s track", kind, track.Kind())
		}
		var err error
		if tl, err = c.localFor(track); err != nil {
			return err
		}
	}

	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return ErrHandleClosed
	}
	sender := c.senders[kind]
	if sender == nil {
		c.mu.Unlock()
		return ErrNoSender
	}
	if track != nil {
		c.sending[kind] = track
	} else {
		delete(c.sending, kind)
	}
	c.mu.Unlock()

	if track != nil {
		c.watchMute(track)
		if !track.Enabled() {
			tl = nil
		}
	}
	if err := sender.ReplaceTrack(tl); err != nil {
		return fmt.Errorf("replace %s track: %w", kind, err)
	}

	logrus.WithFields(logrus.Fields{
		"function":      "call.ReplaceTrack",
		"connection_id": c.connID,
		"kind":          kind.String(),
		"cleared":       track == nil,
	}).Debug("Outgoing track replaced")
	return nil
}

func (c *call) markSignaled() {
	c.mu.Lock()
	c.signaled = true
	pending := c.pendingLocal
	c.pendingLocal = nil
	c.mu.Unlock()

	for _, init := range pending {
		c.sendCandidate(init)
	}
}

func (c *call) handleLocalCandidate(candidate *webrtc.ICECandidate) {
	if candidate == nil {
		return
	}
	init := candidate.ToJSON()

	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return
	}
	if !c.signaled {
		c.pendingLocal = append(c.pendingLocal, init)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.sendCandidate(init)
}

func (c *call) sendCandidate(init webrtc.ICECandidateInit) {
	raw, err := json.Marshal(init)
	if err != nil {
		return
	}
	msg, err := signaling.NewMessage(signaling.TypeCandidate, c.peerID, signaling.CandidatePayload{
		Candidate:    raw,
		Type:         signaling.ConnectionTypeMedia,
		ConnectionID: c.connID,
	})
	if err == nil {
		err = c.t.send(msg)
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":      "call.sendCandidate",
			"connection_id": c.connID,
			"error":         err.Error(),
		}).Debug("Failed to trickle ICE candidate")
	}
}

// addRemoteCandidate applies a trickled candidate, buffering it until the
// remote description is set.
func (c *call) addRemoteCandidate(raw json.RawMessage) {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &init); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":      "call.addRemoteCandidate",
			"connection_id": c.connID,
			"error":         err.Error(),
		}).Warn("Malformed ICE candidate")
		return
	}

	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return
	}
	if c.pc == nil || !c.remoteSet {
		c.pendingRemote = append(c.pendingRemote, init)
		c.mu.Unlock()
		return
	}
	pc := c.pc
	c.mu.Unlock()

	if err := pc.AddICECandidate(init); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":      "call.addRemoteCandidate",
			"connection_id": c.connID,
			"error":         err.Error(),
		}).Debug("Failed to add ICE candidate")
	}
}

// setRemote applies desc and flushes buffered candidates.
func (c *call) setRemote(desc webrtc.SessionDescription) error {
	c.mu.Lock()
	pc := c.pc
	c.mu.Unlock()

	if err := pc.SetRemoteDescription(desc); err != nil {
		return err
	}

	c.mu.Lock()
	c.remoteSet = true
	pending := c.pendingRemote
	c.pendingRemote = nil
	c.mu.Unlock()

	for _, init := range pending {
		if err := pc.AddICECandidate(init); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":      "call.setRemote",
				"connection_id": c.connID,
				"error":         err.Error(),
			}).Debug("Failed to add buffered ICE candidate")
		}
	}
	return nil
}

func (c *call) applyAnswer(p signaling.AnswerPayload) {
	c.mu.Lock()
	if c.inbound || c.ended || c.answered || c.pc == nil {
		c.mu.Unlock()
		return
	}
	c.answered = true
	c.mu.Unlock()

	err := c.setRemote(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: p.SDP.SDP})
	if err != nil {
		c.fail(fmt.Errorf("%w: apply answer: %v", ErrConnectionFailed, err), true)
		return
	}

	logrus.WithFields(logrus.Fields{
		"function":      "call.applyAnswer",
		"peer_id":       c.peerID,
		"connection_id": c.connID,
	}).Info("Call answer applied")
}

func (c *call) handleTrack(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	kind := media.KindAudio
	if remote.Kind() == webrtc.RTPCodecTypeVideo {
		kind = media.KindVideo
	}

	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return
	}
	track := c.remoteTrackLocked(remote.StreamID(), kind, remote.ID())
	pc := c.pc
	c.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":      "call.handleTrack",
		"connection_id": c.connID,
		"kind":          kind.String(),
		"codec":         remote.Codec().MimeType,
	}).Info("Remote track received")

	if kind == media.KindVideo {
		if err := pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(remote.SSRC())}}); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "call.handleTrack",
				"error":    err.Error(),
			}).Debug("Failed to request keyframe")
		}
	}

	metered := kind == media.KindAudio && strings.EqualFold(remote.Codec().MimeType, webrtc.MimeTypeOpus)
	go c.readRemote(remote, track, metered)
}

// remoteTrackLocked returns the remote track of kind, creating the stream
// and the track on first use. One track is kept per kind.
func (c *call) remoteTrackLocked(streamID string, kind media.Kind, trackID string) media.Track {
	if c.remote == nil {
		if streamID == "" {
			streamID = c.connID
		}
		c.remote = media.NewStreamWithID(streamID)
	}
	if existing := c.remote.TracksOf(kind); len(existing) > 0 {
		return existing[0]
	}
	if trackID == "" {
		trackID = c.connID + "-" + kind.String()
	}
	track := media.NewTrackWithStop(kind, trackID, nil)
	c.remote.AddTrack(track)
	return track
}

// emitRemote publishes the remote stream once the peer connection is up.
// Its tracks come from the negotiated remote description, so a section that
// has not carried a packet yet still counts.
func (c *call) emitRemote() {
	c.mu.Lock()
	if c.ended || c.pc == nil {
		c.mu.Unlock()
		return
	}
	for _, sec := range remoteSections(c.pc.RemoteDescription()) {
		c.remoteTrackLocked(sec.streamID, sec.kind, sec.trackID)
	}
	if c.remote == nil {
		c.remote = media.NewStreamWithID(c.connID)
	}
	stream := c.remote
	c.mu.Unlock()

	if c.EmitStream(stream) {
		logrus.WithFields(logrus.Fields{
			"function":      "call.emitRemote",
			"connection_id": c.connID,
			"tracks":        len(stream.Tracks()),
			"video":         stream.HasVideo(),
		}).Info("Remote stream available")
	}
}

// remoteSection is an audio or video section the remote side sends on.
type remoteSection struct {
	kind     media.Kind
	streamID string
	trackID  string
}

// remoteSections lists the sections of desc the remote side sends on.
func remoteSections(desc *webrtc.SessionDescription) []remoteSection {
	if desc == nil {
		return nil
	}
	parsed, err := desc.Unmarshal()
	if err != nil {
		return nil
	}
	var out []remoteSection
	for _, md := range parsed.MediaDescriptions {
		var kind media.Kind
		switch md.MediaName.Media {
		case "audio":
			kind = media.KindAudio
		case "video":
			kind = media.KindVideo
		default:
			continue
		}
		if md.MediaName.Port.Value == 0 {
			continue
		}
		if _, ok := md.Attribute("recvonly"); ok {
			continue
		}
		if _, ok := md.Attribute("inactive"); ok {
			continue
		}
		sec := remoteSection{kind: kind}
		if msid, ok := md.Attribute("msid"); ok {
			if fields := strings.Fields(msid); len(fields) == 2 {
				sec.streamID, sec.trackID = fields[0], fields[1]
			}
		}
		out = append(out, sec)
	}
	return out
}

// readRemote drains remote until the peer connection closes.
func (c *call) readRemote(remote *webrtc.TrackRemote, track media.Track, metered bool) {
	defer track.Stop()
	for {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			return
		}
		if metered {
			c.observeAudio(pkt)
		}
	}
}

func (c *call) observeAudio(pkt *rtp.Packet) {
	if len(pkt.Payload) == 0 {
		return
	}
	_ = c.meter.Write(pkt.Payload)
}

func (c *call) handleConnectionState(state webrtc.PeerConnectionState) {
	logrus.WithFields(logrus.Fields{
		"function":      "call.handleConnectionState",
		"connection_id": c.connID,
		"state":         state.String(),
	}).Debug("Peer connection state changed")

	switch state {
	case webrtc.PeerConnectionStateConnected:
		c.emitRemote()
	case webrtc.PeerConnectionStateFailed:
		c.fail(ErrConnectionFailed, true)
	case webrtc.PeerConnectionStateDisconnected:
		logrus.WithFields(logrus.Fields{
			"function":      "call.handleConnectionState",
			"connection_id": c.connID,
		}).Warn("Peer connection interrupted, waiting for ICE to recover")
	}
}

// Decline refuses the call with reason.
func (c *call) Decline(reason string) error {
	if !c.inbound {
		return ErrNotInbound
	}
	logrus.WithFields(logrus.Fields{
		"function":      "call.Decline",
		"peer_id":       c.peerID,
		"connection_id": c.connID,
		"reason":        reason,
	}).Info("Declining call")
	return c.finish(reason, true)
}

// Close hangs up.
func (c *call) Close() error {
	return c.finish(signaling.LeaveReasonHangup, true)
}

// remoteLeave handles a LEAVE from the peer.
func (c *call) remoteLeave(err error) {
	logrus.WithFields(logrus.Fields{
		"function":      "call.remoteLeave",
		"peer_id":       c.peerID,
		"connection_id": c.connID,
		"declined":      err != nil,
	}).Info("Peer left call")
	if err != nil {
		c.EmitError(err)
	}
	_ = c.finish("", false)
}

// fail reports err and tears the call down.
func (c *call) fail(err error, notify bool) {
	c.EmitError(err)
	_ = c.finish(signaling.LeaveReasonHangup, notify)
}

// finish releases the call once. notify sends LEAVE with reason.
func (c *call) finish(reason string, notify bool) error {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return nil
	}
	c.ended = true
	pc := c.pc
	c.pendingLocal = nil
	c.pendingRemote = nil
	remote := c.remote
	c.mu.Unlock()

	c.t.forget(c)
	if remote != nil {
		remote.Stop()
	}

	if notify {
		msg, err := signaling.NewMessage(signaling.TypeLeave, c.peerID, signaling.LeavePayload{
			ConnectionID: c.connID,
			Reason:       reason,
		})
		if err == nil {
			err = c.t.send(msg)
		}
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function":      "call.finish",
				"connection_id": c.connID,
				"error":         err.Error(),
			}).Debug("Could not notify peer of call end")
		}
	}

	var err error
	if pc != nil {
		err = pc.Close()
	}
	c.EmitClose()
	return err
}
