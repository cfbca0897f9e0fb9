// Package streamtest provides a synthetic camera stream for tests.
package streamtest

import (
	"image"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// Stream delivers the same frame at a fixed interval until stopped.
type Stream struct {
	id       string
	img      image.Image
	interval time.Duration

	once     sync.Once
	stopCh   chan struct{}
	stopped  atomic.Bool
	reads    atomic.Int64
	released atomic.Int64
}

// New returns a stream that yields img every 2ms.
func New(id string, img image.Image) *Stream {
	return &Stream{id: id, img: img, interval: 2 * time.Millisecond, stopCh: make(chan struct{})}
}

func (s *Stream) ID() string { return s.id }

func (s *Stream) ReadFrame() (image.Image, func(), error) {
	select {
	case <-s.stopCh:
		return nil, nil, io.EOF
	case <-time.After(s.interval):
	}
	s.reads.Add(1)
	return s.img, func() { s.released.Add(1) }, nil
}

// Stop ends the stream; blocked and future reads return io.EOF.
func (s *Stream) Stop() {
	s.once.Do(func() {
		s.stopped.Store(true)
		close(s.stopCh)
	})
}

// Stopped reports whether Stop was called.
func (s *Stream) Stopped() bool { return s.stopped.Load() }

// Reads is the number of frames delivered.
func (s *Stream) Reads() int64 { return s.reads.Load() }

// Released is the number of release callbacks invoked.
func (s *Stream) Released() int64 { return s.released.Load() }

// Frame returns a solid test image of the given size.
func Frame(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	return img
}
