package media

import (
	"context"
)

// Constraints selects which devices GetUserMedia opens.
type Constraints struct {
	Audio bool
	Video bool
}

// ConstraintsFor returns the constraints for a call of the given kind.
func ConstraintsFor(kind Kind) Constraints {
	return Constraints{Audio: true, Video: kind == KindVideo}
}

// Source is the platform capability that produces local media.
type Source interface {
	// GetUserMedia opens camera and/or microphone tracks. Failures wrap
	// ErrPermissionDenied, ErrDeviceNotFound or ErrDeviceBusy.
	GetUserMedia(ctx context.Context, c Constraints) (*Stream, error)
	// GetDisplayMedia opens a display capture stream with one video track.
	GetDisplayMedia(ctx context.Context) (*Stream, error)
}

// SyntheticSource produces tracks with no media behind them. It is used for
// signaling-only runs and by tests.
type SyntheticSource struct {
	// NoDisplay makes GetDisplayMedia fail with ErrDeviceNotFound.
	NoDisplay bool
}

// GetUserMedia returns a stream with one track per requested kind.
func (s SyntheticSource) GetUserMedia(ctx context.Context, c Constraints) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !c.Audio && !c.Video {
		return nil, ErrDeviceNotFound
	}
	stream := NewStream()
	if c.Audio {
		stream.AddTrack(NewTrack(KindAudio))
	}
	if c.Video {
		stream.AddTrack(NewTrack(KindVideo))
	}
	return stream, nil
}

// GetDisplayMedia returns a stream with one video track.
func (s SyntheticSource) GetDisplayMedia(ctx context.Context) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.NoDisplay {
		return nil, ErrDeviceNotFound
	}
	return NewStream(NewTrack(KindVideo)), nil
}
