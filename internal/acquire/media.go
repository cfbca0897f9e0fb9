package acquire

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"

	"github.com/mikeyg42/circlecam/internal/fault"
	"github.com/mikeyg42/circlecam/internal/framestream"
)

// MediaDevices is the MediaSource backed by pion/mediadevices. A camera
// driver must be registered by a blank import of
// github.com/pion/mediadevices/pkg/driver/camera.
type MediaDevices struct{}

func NewMediaDevices() *MediaDevices { return &MediaDevices{} }

func (m *MediaDevices) Devices() ([]Device, error) {
	var devices []Device
	for _, d := range mediadevices.EnumerateDevices() {
		if d.Kind != mediadevices.VideoInput {
			continue
		}
		devices = append(devices, Device{ID: d.DeviceID, Label: d.Label})
	}
	return devices, nil
}

func (m *MediaDevices) Open(ctx context.Context, c Constraints) (framestream.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkPermission(); err != nil {
		return nil, err
	}

	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: func(mc *mediadevices.MediaTrackConstraints) {
			if c.DeviceID != "" {
				mc.DeviceID = prop.String(c.DeviceID)
			}
			mc.Width = prop.Int(c.Width)
			mc.Height = prop.Int(c.Height)
			mc.FrameRate = prop.Float(c.FrameRate)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get user media: %w", err)
	}

	s := &mediaStream{id: uuid.NewString(), stream: stream}
	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		s.Stop()
		return nil, fault.ErrNoDevice
	}
	vt, ok := tracks[0].(*mediadevices.VideoTrack)
	if !ok {
		s.Stop()
		return nil, fmt.Errorf("track is not a video track: %T", tracks[0])
	}
	s.reader = vt.NewReader(false)
	return s, nil
}

type mediaStream struct {
	id     string
	stream mediadevices.MediaStream
	reader video.Reader
	once   sync.Once
}

func (s *mediaStream) ID() string { return s.id }

func (s *mediaStream) ReadFrame() (image.Image, func(), error) {
	return s.reader.Read()
}

// Stop closes every track, which releases the camera device.
func (s *mediaStream) Stop() {
	s.once.Do(func() {
		for _, track := range s.stream.GetTracks() {
			track.Close()
		}
	})
}
