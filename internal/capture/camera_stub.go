//go:build !gocv

package capture

import (
	"context"
	"fmt"
)

// CameraDriver is unavailable in builds without the gocv tag.
type CameraDriver struct {
	DeviceID int
}

// NewCameraDriver returns a driver whose Open always fails; build with
// -tags gocv for webcam support.
func NewCameraDriver(deviceID int) *CameraDriver {
	return &CameraDriver{DeviceID: deviceID}
}

// Open implements Driver.
func (d *CameraDriver) Open(ctx context.Context, c Constraints) (Track, error) {
	return nil, fmt.Errorf("%w: camera %d requires a build with -tags gocv", ErrDeviceUnavailable, d.DeviceID)
}
