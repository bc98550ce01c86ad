//go:build linux

package media

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"syscall"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
)

// DeviceSource captures camera, microphone and display through
// pion/mediadevices (V4L2, malgo and X11 drivers).
type DeviceSource struct {
	selector *mediadevices.CodecSelector
	// MaxWidth and MaxHeight cap camera resolution.
	MaxWidth  int
	MaxHeight int
}

// NewDeviceSource creates a source encoding video as VP8 and audio as Opus.
func NewDeviceSource() (*DeviceSource, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = 1_000_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}

	return &DeviceSource{
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
		MaxWidth:  640,
		MaxHeight: 480,
	}, nil
}

// PopulateMediaEngine registers the source's encoders with a WebRTC media engine.
func (s *DeviceSource) PopulateMediaEngine(me *webrtc.MediaEngine) {
	s.selector.Populate(me)
}

// GetUserMedia opens the requested devices.
func (s *DeviceSource) GetUserMedia(ctx context.Context, c Constraints) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	constraints := mediadevices.MediaStreamConstraints{Codec: s.selector}
	if c.Video {
		constraints.Video = func(mc *mediadevices.MediaTrackConstraints) {
			mc.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			mc.Width = prop.IntRanged{Max: s.MaxWidth}
			mc.Height = prop.IntRanged{Max: s.MaxHeight}
		}
	}
	if c.Audio {
		constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
	}

	ms, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, classifyDeviceError(err)
	}
	return wrapMediaStream(ms), nil
}

// GetDisplayMedia opens a screen capture stream.
func (s *DeviceSource) GetDisplayMedia(ctx context.Context) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ms, err := mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
		Codec: s.selector,
		Video: func(_ *mediadevices.MediaTrackConstraints) {},
	})
	if err != nil {
		return nil, classifyDeviceError(err)
	}
	return wrapMediaStream(ms), nil
}

// deviceTrack adapts a mediadevices track to Track and exposes it for
// sending on a peer connection.
type deviceTrack struct {
	*BaseTrack
	local mediadevices.Track
}

// TrackLocal returns the track as a WebRTC local track.
func (t *deviceTrack) TrackLocal() webrtc.TrackLocal { return t.local }

func wrapMediaStream(ms mediadevices.MediaStream) *Stream {
	stream := NewStream()
	for _, mt := range ms.GetTracks() {
		mt := mt
		kind := KindAudio
		if mt.Kind() == webrtc.RTPCodecTypeVideo {
			kind = KindVideo
		}
		dt := &deviceTrack{
			BaseTrack: NewTrackWithStop(kind, mt.ID(), func() {
				if err := mt.Close(); err != nil {
					logrus.WithFields(logrus.Fields{
						"function": "deviceTrack.Stop",
						"track_id": mt.ID(),
						"error":    err.Error(),
					}).Debug("Device track close returned error")
				}
			}),
			local: mt,
		}
		mt.OnEnded(func(err error) {
			if err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "deviceTrack.OnEnded",
					"track_id": mt.ID(),
					"error":    err.Error(),
				}).Warn("Device track ended")
			}
			dt.Stop()
		})
		stream.AddTrack(dt)
	}
	return stream
}

// classifyDeviceError maps driver failures onto the package's error kinds.
func classifyDeviceError(err error) error {
	switch {
	case errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case errors.Is(err, syscall.EBUSY):
		return fmt.Errorf("%w: %v", ErrDeviceBusy, err)
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission"):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case strings.Contains(msg, "busy"):
		return fmt.Errorf("%w: %v", ErrDeviceBusy, err)
	default:
		return fmt.Errorf("%w: %v", ErrDeviceNotFound, err)
	}
}
