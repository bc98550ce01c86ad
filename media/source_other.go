//go:build !linux

package media

import (
	"context"
	"fmt"
	"runtime"

	"github.com/pion/webrtc/v4"
)

// DeviceSource reports no devices on platforms without capture drivers.
type DeviceSource struct{}

// NewDeviceSource returns a source that always fails with ErrDeviceNotFound.
func NewDeviceSource() (*DeviceSource, error) {
	return &DeviceSource{}, nil
}

// PopulateMediaEngine registers the default codecs.
func (s *DeviceSource) PopulateMediaEngine(me *webrtc.MediaEngine) {
	_ = me.RegisterDefaultCodecs()
}

// GetUserMedia always fails.
func (s *DeviceSource) GetUserMedia(ctx context.Context, c Constraints) (*Stream, error) {
	return nil, fmt.Errorf("%w: no capture drivers on %s", ErrDeviceNotFound, runtime.GOOS)
}

// GetDisplayMedia always fails.
func (s *DeviceSource) GetDisplayMedia(ctx context.Context) (*Stream, error) {
	return nil, fmt.Errorf("%w: no capture drivers on %s", ErrDeviceNotFound, runtime.GOOS)
}
