package acquire

import (
	"context"
	"strings"

	"github.com/mikeyg42/circlecam/internal/framestream"
)

// FacingMode is the camera selection preference.
type FacingMode string

const (
	FacingUser        FacingMode = "user"        // front-facing
	FacingEnvironment FacingMode = "environment" // rear-facing
)

// Flip returns the opposite facing mode.
func (f FacingMode) Flip() FacingMode {
	if f == FacingEnvironment {
		return FacingUser
	}
	return FacingEnvironment
}

// Constraints are the ideal stream properties requested from the camera.
// DeviceID, when set, overrides facing-mode device selection.
type Constraints struct {
	Width     int        `json:"width"`
	Height    int        `json:"height"`
	FrameRate float64    `json:"frameRate"`
	Facing    FacingMode `json:"facingMode"`
	DeviceID  string     `json:"deviceId,omitempty"`
}

// DefaultConstraints requests a 640x480 front camera at 30 fps.
func DefaultConstraints() Constraints {
	return Constraints{Width: 640, Height: 480, FrameRate: 30, Facing: FacingUser}
}

// Device is a video input reported by the media source.
type Device struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// MediaSource opens camera streams.
type MediaSource interface {
	Devices() ([]Device, error)
	// Open starts a stream on the device named in c.DeviceID. The caller
	// owns the returned stream and must Stop it.
	Open(ctx context.Context, c Constraints) (framestream.Stream, error)
}

var facingHints = map[FacingMode][]string{
	FacingUser:        {"front", "user", "facetime", "integrated", "built-in"},
	FacingEnvironment: {"back", "rear", "environment", "world"},
}

// SelectDevice picks the device best matching facing. Labels are matched
// against known hints; without a match the first device is taken as the
// front camera and the last as the rear one.
func SelectDevice(devices []Device, facing FacingMode) (Device, bool) {
	if len(devices) == 0 {
		return Device{}, false
	}
	for _, d := range devices {
		label := strings.ToLower(d.Label)
		for _, hint := range facingHints[facing] {
			if strings.Contains(label, hint) {
				return d, true
			}
		}
	}
	if facing == FacingEnvironment {
		return devices[len(devices)-1], true
	}
	return devices[0], true
}
