// Package media models local and remote media for a call and owns the
// acquisition, muting and screen-share lifecycle of local tracks.
//
// A Stream is a set of Tracks. Whoever holds a Stream owns it and must Stop
// it when done; Stop is idempotent. Tracks carry an enabled flag for mute
// semantics that is independent of whether they are stopped.
//
// The Controller sits between a call session and a platform Source:
//
//	ctrl, _ := media.NewController(media.NewDeviceSource())
//	stream, err := ctrl.Acquire(ctx, media.KindVideo)
//	if errors.Is(err, media.ErrPermissionDenied) {
//	    // ask the user to check camera permissions
//	}
//	defer ctrl.Release(stream)
//
// Screen sharing swaps the outgoing video track on an active negotiation
// through a TrackReplacer and reverts to the camera when the display track
// ends, whether the user stopped it or the platform did.
package media
