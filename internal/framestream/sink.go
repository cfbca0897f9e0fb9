// Package framestream is the video sink: it consumes a live camera stream,
// keeps the most recent frame for the detection loop and exposes the
// stream's negotiated dimensions and paused/ended state.
package framestream

import (
	"context"
	"errors"
	"image"
	"image/draw"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Stream is a live camera stream handle.
type Stream interface {
	ID() string
	// ReadFrame blocks until the next frame. release hands the driver
	// buffer back and must be called once the image is no longer used.
	ReadFrame() (img image.Image, release func(), err error)
	// Stop ends every track of the stream and releases the device.
	Stop()
}

// Stats tracks sink throughput.
type Stats struct {
	TotalFrames   int64
	ReadErrors    int64
	LastFrameTime time.Time
}

// Sink keeps a single-slot mailbox of the newest frame. Older unread
// frames are overwritten, never queued.
type Sink struct {
	logger        *zap.Logger
	maxReadErrors int
	stopTimeout   time.Duration

	mu       sync.RWMutex
	streamID string
	latest   image.Image
	seq      int64
	width    int
	height   int
	hasMeta  bool
	readErr  error

	bound atomic.Bool
	ended atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup

	stats struct {
		totalFrames   atomic.Int64
		readErrors    atomic.Int64
		lastFrameTime atomic.Value // time.Time
	}
}

// NewSink creates an unbound sink. It reports paused until a stream is bound.
func NewSink(logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.L().Named("sink")
	}
	s := &Sink{
		logger:        logger,
		maxReadErrors: 50,
		stopTimeout:   5 * time.Second,
	}
	s.stats.lastFrameTime.Store(time.Time{})
	return s
}

// Bind starts consuming stream, replacing any previously bound one. It does
// not stop the previous stream; the acquirer owns device lifetimes.
func (s *Sink) Bind(ctx context.Context, stream Stream) {
	s.Unbind()

	readCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.streamID = stream.ID()
	s.latest = nil
	s.seq = 0
	s.width, s.height = 0, 0
	s.hasMeta = false
	s.readErr = nil
	s.cancel = cancel
	s.mu.Unlock()

	s.ended.Store(false)
	s.bound.Store(true)

	s.wg.Add(1)
	go s.readFrames(readCtx, stream)

	s.logger.Info("Stream bound", zap.String("stream_id", stream.ID()))
}

// Unbind detaches the current stream. The stream should already be
// stopped so a blocked read returns; Unbind waits a bounded time for the
// reader to exit.
func (s *Sink) Unbind() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	id := s.streamID
	s.streamID = ""
	s.mu.Unlock()

	s.bound.Store(false)
	if cancel == nil {
		return
	}
	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Debug("Stream unbound", zap.String("stream_id", id))
	case <-time.After(s.stopTimeout):
		s.logger.Warn("Reader did not exit after unbind", zap.String("stream_id", id))
	}
}

func (s *Sink) readFrames(ctx context.Context, stream Stream) {
	defer s.wg.Done()

	id := stream.ID()
	consecutive := 0
	for {
		if ctx.Err() != nil {
			return
		}

		img, release, err := stream.ReadFrame()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.stats.readErrors.Add(1)
			consecutive++
			if errors.Is(err, io.EOF) || consecutive >= s.maxReadErrors {
				s.markEnded(id, err)
				return
			}
			time.Sleep(10 * time.Millisecond)
			continue
		}
		consecutive = 0
		s.storeFrame(id, img, release)
	}
}

// storeFrame copies img out of the driver buffer and publishes it.
func (s *Sink) storeFrame(id string, img image.Image, release func()) {
	defer func() {
		if release != nil {
			release()
		}
	}()
	if img == nil {
		return
	}
	cloned := cloneImage(img)
	b := cloned.Bounds()

	s.mu.Lock()
	if s.streamID != id {
		s.mu.Unlock()
		return
	}
	s.latest = cloned
	s.seq++
	seq := s.seq
	if !s.hasMeta {
		s.width, s.height = b.Dx(), b.Dy()
		s.hasMeta = true
	}
	s.mu.Unlock()

	total := s.stats.totalFrames.Add(1)
	s.stats.lastFrameTime.Store(time.Now())
	if total%300 == 0 {
		s.logger.Debug("Sink stats",
			zap.String("stream_id", id),
			zap.Int64("sequence", seq),
			zap.Int64("total_frames", total),
			zap.Int64("read_errors", s.stats.readErrors.Load()))
	}
}

func (s *Sink) markEnded(id string, err error) {
	s.mu.Lock()
	current := s.streamID == id
	if current {
		s.readErr = err
		s.ended.Store(true)
	}
	s.mu.Unlock()
	if !current {
		return
	}
	s.logger.Warn("Stream ended", zap.String("stream_id", id), zap.Error(err))
}

// cloneImage copies the frame so the driver buffer can be released. Camera
// drivers hand out YCbCr or RGBA; other types go through draw.Draw.
func cloneImage(img image.Image) image.Image {
	switch src := img.(type) {
	case *image.RGBA:
		dst := *src
		dst.Pix = append([]byte(nil), src.Pix...)
		return &dst
	case *image.YCbCr:
		dst := *src
		dst.Y = append([]byte(nil), src.Y...)
		dst.Cb = append([]byte(nil), src.Cb...)
		dst.Cr = append([]byte(nil), src.Cr...)
		return &dst
	case *image.Gray:
		dst := *src
		dst.Pix = append([]byte(nil), src.Pix...)
		return &dst
	default:
		bounds := img.Bounds()
		dst := image.NewRGBA(bounds)
		draw.Draw(dst, bounds, img, bounds.Min, draw.Src)
		return dst
	}
}

// Frame returns the newest frame and its sequence number within the bound
// stream. The image must be treated as read-only.
func (s *Sink) Frame() (image.Image, int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.seq, s.latest != nil
}

// Metadata returns the stream dimensions once the first frame has arrived.
func (s *Sink) Metadata() (width, height int, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.width, s.height, s.hasMeta
}

// Paused reports whether no stream is bound.
func (s *Sink) Paused() bool { return !s.bound.Load() }

// Ended reports whether the bound stream stopped delivering frames.
func (s *Sink) Ended() bool { return s.ended.Load() }

// Err returns the read error that ended the stream.
func (s *Sink) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readErr
}

// StreamID returns the ID of the bound stream, or "".
func (s *Sink) StreamID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streamID
}

func (s *Sink) Stats() Stats {
	last, _ := s.stats.lastFrameTime.Load().(time.Time)
	return Stats{
		TotalFrames:   s.stats.totalFrames.Load(),
		ReadErrors:    s.stats.readErrors.Load(),
		LastFrameTime: last,
	}
}
