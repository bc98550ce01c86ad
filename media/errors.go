package media

import "errors"

// Acquisition errors.
var (
	// ErrPermissionDenied indicates the user or platform declined device access.
	ErrPermissionDenied = errors.New("media permission denied")

	// ErrDeviceNotFound indicates no device satisfies the requested constraints.
	ErrDeviceNotFound = errors.New("media device not found")

	// ErrDeviceBusy indicates the device exists but is held by another process.
	ErrDeviceBusy = errors.New("media device busy")
)

// Controller errors.
var (
	// ErrNilStream indicates an operation was given no stream.
	ErrNilStream = errors.New("stream is nil")

	// ErrNoTrack indicates the stream has no track of the requested kind.
	ErrNoTrack = errors.New("stream has no track of requested kind")

	// ErrNoVideoTrack indicates a screen share was requested on a stream without video.
	ErrNoVideoTrack = errors.New("stream has no video track to replace")

	// ErrScreenShareActive indicates a screen share is already running.
	ErrScreenShareActive = errors.New("screen share already active")

	// ErrNoScreenShare indicates no screen share is running.
	ErrNoScreenShare = errors.New("no screen share active")
)
