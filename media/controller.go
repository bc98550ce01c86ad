package media

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// TrackReplacer swaps the outgoing track of one kind on an active
// negotiation without renegotiating. A nil track sends nothing.
type TrackReplacer interface {
	ReplaceTrack(kind Kind, track Track) error
}

type screenShare struct {
	screen   *Stream
	camera   *Stream
	replacer TrackReplacer
}

// Controller acquires, mutes and releases local media and runs screen
// sharing for at most one negotiation at a time.
type Controller struct {
	source Source

	mu      sync.Mutex
	share   *screenShare
	onShare func(active bool)
}

// NewController creates a controller over source.
func NewController(source Source) (*Controller, error) {
	if source == nil {
		logrus.WithFields(logrus.Fields{
			"function": "NewController",
			"error":    "media source cannot be nil",
		}).Error("Media source validation failed")
		return nil, errors.New("media source cannot be nil")
	}
	return &Controller{source: source}, nil
}

// Acquire opens local media for a call of the given kind. A video call
// needs camera and microphone; an audio call needs the microphone only.
func (c *Controller) Acquire(ctx context.Context, kind Kind) (*Stream, error) {
	constraints := ConstraintsFor(kind)

	logrus.WithFields(logrus.Fields{
		"function": "Controller.Acquire",
		"kind":     kind.String(),
		"audio":    constraints.Audio,
		"video":    constraints.Video,
	}).Debug("Acquiring local media")

	stream, err := c.source.GetUserMedia(ctx, constraints)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Controller.Acquire",
			"kind":     kind.String(),
			"error":    err.Error(),
		}).Warn("Local media acquisition failed")
		return nil, fmt.Errorf("acquire %s media: %w", kind, err)
	}

	if len(stream.TracksOf(KindAudio)) == 0 || (constraints.Video && !stream.HasVideo()) {
		stream.Stop()
		return nil, fmt.Errorf("acquire %s media: %w", kind, ErrDeviceNotFound)
	}

	if err := ctx.Err(); err != nil {
		stream.Stop()
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":    "Controller.Acquire",
		"kind":        kind.String(),
		"stream_id":   stream.ID(),
		"track_count": len(stream.Tracks()),
	}).Info("Local media acquired")

	return stream, nil
}

// Release stops every track of stream. It is safe to call with nil or
// with an already released stream.
func (c *Controller) Release(stream *Stream) {
	if stream == nil {
		return
	}
	stream.Stop()
}

// ToggleTrack enables or disables every track of kind in stream without
// stopping it.
func (c *Controller) ToggleTrack(stream *Stream, kind Kind, enabled bool) error {
	if stream == nil {
		return ErrNilStream
	}
	tracks := stream.TracksOf(kind)
	if len(tracks) == 0 {
		return fmt.Errorf("%w: %s", ErrNoTrack, kind)
	}
	for _, t := range tracks {
		t.SetEnabled(enabled)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Controller.ToggleTrack",
		"kind":     kind.String(),
		"enabled":  enabled,
	}).Debug("Local track toggled")

	return nil
}

// OnScreenShareChange registers fn to run whenever sharing starts or stops.
func (c *Controller) OnScreenShareChange(fn func(active bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onShare = fn
}

// Sharing reports whether a screen share is active.
func (c *Controller) Sharing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.share != nil
}

// StartScreenShare captures the display and replaces the outgoing video
// track of camera through replacer. When the display track ends the camera
// track is restored automatically.
func (c *Controller) StartScreenShare(ctx context.Context, camera *Stream, replacer TrackReplacer) error {
	if camera == nil {
		return ErrNilStream
	}
	if !camera.HasVideo() {
		return ErrNoVideoTrack
	}
	if c.Sharing() {
		return ErrScreenShareActive
	}

	screen, err := c.source.GetDisplayMedia(ctx)
	if err != nil {
		return fmt.Errorf("acquire display media: %w", err)
	}
	screenTracks := screen.TracksOf(KindVideo)
	if len(screenTracks) == 0 {
		screen.Stop()
		return fmt.Errorf("acquire display media: %w", ErrNoVideoTrack)
	}

	share := &screenShare{screen: screen, camera: camera, replacer: replacer}

	c.mu.Lock()
	if c.share != nil {
		c.mu.Unlock()
		screen.Stop()
		return ErrScreenShareActive
	}
	c.share = share
	c.mu.Unlock()

	if err := replacer.ReplaceTrack(KindVideo, screenTracks[0]); err != nil {
		c.mu.Lock()
		if c.share == share {
			c.share = nil
		}
		c.mu.Unlock()
		screen.Stop()
		return fmt.Errorf("replace outgoing video: %w", err)
	}

	screenTracks[0].OnEnded(func() {
		if c.revert(share) {
			logrus.WithFields(logrus.Fields{
				"function":  "Controller.StartScreenShare",
				"stream_id": screen.ID(),
			}).Info("Display capture ended, reverted to camera")
		}
	})

	logrus.WithFields(logrus.Fields{
		"function":  "Controller.StartScreenShare",
		"stream_id": screen.ID(),
	}).Info("Screen share started")

	c.notifyShare(true)
	return nil
}

// StopScreenShare restores the camera track and stops the display capture.
func (c *Controller) StopScreenShare() error {
	c.mu.Lock()
	share := c.share
	c.mu.Unlock()
	if share == nil {
		return ErrNoScreenShare
	}
	c.revert(share)
	return nil
}

// CancelScreenShare stops the display capture without touching the
// negotiation. It is used when the call itself is being torn down.
func (c *Controller) CancelScreenShare() {
	c.mu.Lock()
	share := c.share
	c.share = nil
	c.mu.Unlock()
	if share == nil {
		return
	}
	share.screen.Stop()
	c.notifyShare(false)
}

// revert restores share's camera track. It reports false if share is no
// longer the active share.
func (c *Controller) revert(share *screenShare) bool {
	c.mu.Lock()
	if c.share != share {
		c.mu.Unlock()
		return false
	}
	c.share = nil
	c.mu.Unlock()

	var cameraTrack Track
	if tracks := share.camera.TracksOf(KindVideo); len(tracks) > 0 && !tracks[0].Stopped() {
		cameraTrack = tracks[0]
	}
	if err := share.replacer.ReplaceTrack(KindVideo, cameraTrack); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Controller.revert",
			"error":    err.Error(),
		}).Warn("Failed to restore camera track")
	}
	share.screen.Stop()
	c.notifyShare(false)
	return true
}

func (c *Controller) notifyShare(active bool) {
	c.mu.Lock()
	fn := c.onShare
	c.mu.Unlock()
	if fn != nil {
		fn(active)
	}
}
