// Package loop runs per-frame circle detection. The loop waits for the
// readiness gate, then captures, detects and draws once per scheduler tick
// until its context ends. Processing errors never stop it.
package loop

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mikeyg42/circlecam/internal/fault"
	"github.com/mikeyg42/circlecam/internal/render"
	"github.com/mikeyg42/circlecam/internal/state"
	"github.com/mikeyg42/circlecam/internal/vision"
)

// FrameSource is the video sink as seen by the loop.
type FrameSource interface {
	Frame() (image.Image, int64, bool)
	Paused() bool
	Ended() bool
}

// LibrarySource provides the vision library once it has loaded.
type LibrarySource interface {
	Library() (vision.Library, bool)
}

// Skip reasons reported in FrameResult.
const (
	SkipNotReady = "not ready"
	SkipPaused   = "paused"
	SkipEnded    = "ended"
	SkipNoFrame  = "no frame"
)

// FrameResult describes one iteration.
type FrameResult struct {
	Skipped    bool
	SkipReason string
	Circles    []vision.Circle
	Drawn      int
	Latency    time.Duration
	Err        error
}

// Loop is the detection loop. Run and Tick must not be called concurrently.
type Loop struct {
	app     *state.AppState
	frames  FrameSource
	libs    LibrarySource
	overlay *render.Overlay
	surface *render.Surface
	sched   Scheduler
	now     func() time.Time

	logger      *zap.Logger
	frameLogger *zap.Logger

	state      atomic.Value // string
	fps        fpsMeter
	lastSkip   string
	frameCount atomic.Int64
}

// Option configures a Loop.
type Option func(*Loop)

func WithScheduler(s Scheduler) Option { return func(l *Loop) { l.sched = s } }

// WithClock replaces time.Now for latency and FPS measurement.
func WithClock(now func() time.Time) Option { return func(l *Loop) { l.now = now } }

func WithOverlay(o *render.Overlay) Option { return func(l *Loop) { l.overlay = o } }

func WithLogger(logger *zap.Logger) Option { return func(l *Loop) { l.logger = logger } }

func New(app *state.AppState, frames FrameSource, libs LibrarySource, surface *render.Surface, opts ...Option) *Loop {
	l := &Loop{
		app:     app,
		frames:  frames,
		libs:    libs,
		surface: surface,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.overlay == nil {
		l.overlay = render.NewOverlay()
	}
	if l.sched == nil {
		l.sched = NewTicker(DefaultInterval)
	}
	if l.logger == nil {
		l.logger = zap.L().Named("loop")
	}
	// Repeated per-frame errors: first 3 per second, then every 30th.
	l.frameLogger = l.logger.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewSamplerWithOptions(c, time.Second, 3, 30)
	}))
	l.state.Store(state.LoopIdle)
	return l
}

// State returns the loop state: idle, waiting or running.
func (l *Loop) State() string { return l.state.Load().(string) }

func (l *Loop) setState(s string) {
	l.state.Store(s)
	l.app.Telemetry.SetLoopState(s)
}

// Frames is the number of frames processed without error.
func (l *Loop) Frames() int64 { return l.frameCount.Load() }

// Run blocks until ctx is done. It waits for the readiness gate, then runs
// one iteration per scheduler wakeup.
func (l *Loop) Run(ctx context.Context) error {
	l.setState(state.LoopWaiting)
	l.logger.Info("Detection loop waiting for camera and vision library")

	select {
	case <-ctx.Done():
		l.setState(state.LoopIdle)
		return ctx.Err()
	case <-l.app.Gate.Started():
	}

	l.setState(state.LoopRunning)
	l.logger.Info("Detection loop running")

	for l.sched.Wait(ctx) {
		l.Tick()
	}

	l.setState(state.LoopIdle)
	l.logger.Info("Detection loop stopped", zap.Int64("frames", l.Frames()))
	return ctx.Err()
}

// Tick runs a single iteration. When the stream is paused or ended, or a
// subsystem is not ready, it does nothing.
func (l *Loop) Tick() FrameResult {
	if reason := l.skipReason(); reason != "" {
		l.noteSkip(reason)
		return FrameResult{Skipped: true, SkipReason: reason}
	}
	lib, ok := l.libs.Library()
	if !ok {
		l.noteSkip(SkipNotReady)
		return FrameResult{Skipped: true, SkipReason: SkipNotReady}
	}
	frame, _, ok := l.frames.Frame()
	if !ok {
		l.noteSkip(SkipNoFrame)
		return FrameResult{Skipped: true, SkipReason: SkipNoFrame}
	}
	l.lastSkip = ""

	params := l.app.Params.Snapshot()
	start := l.now()
	res, err := l.process(lib, frame, params)
	res.Latency = l.now().Sub(start)

	if err != nil {
		res.Err = fault.New(fault.VisionLibraryError, "detect", err)
		l.app.Telemetry.ReportFrameError(err, res.Latency)
		l.frameLogger.Warn("Frame processing failed", zap.Error(err))
		return res
	}

	l.frameCount.Add(1)
	fps := l.fps.frame(l.now())
	l.app.Telemetry.ReportFrame(res.Drawn, res.Latency, fps)
	return res
}

func (l *Loop) skipReason() string {
	switch {
	case !l.app.Gate.Ready():
		return SkipNotReady
	case l.frames.Ended():
		return SkipEnded
	case l.frames.Paused():
		return SkipPaused
	}
	return ""
}

// noteSkip reports a newly ended stream once rather than on every tick.
func (l *Loop) noteSkip(reason string) {
	if reason == l.lastSkip {
		return
	}
	l.lastSkip = reason
	if reason == SkipEnded {
		l.app.Telemetry.SetStatus("Camera stream ended. Switch or reconnect the camera.", "")
		l.logger.Warn("Camera stream ended, loop idling")
	}
}

// process runs capture, grayscale, blur, detect and draw. Every buffer the
// library hands out is released before process returns, including when a
// step panics.
func (l *Loop) process(lib vision.Library, frame image.Image, p state.Params) (res FrameResult, err error) {
	var scope frameScope
	img := frame
	defer func() {
		if r := recover(); r != nil {
			res, err = FrameResult{}, fmt.Errorf("frame processing panicked: %v", r)
		}
		if rerr := scope.release(); rerr != nil {
			l.frameLogger.Debug("Buffer release failed", zap.Error(rerr))
		}
		if err != nil {
			l.presentPlain(img)
		}
	}()

	img = l.surface.Fit(frame)
	raw, err := scope.keep(lib.FromImage(img))
	if err != nil {
		return res, fmt.Errorf("capture: %w", err)
	}
	gray, err := scope.keep(lib.Grayscale(raw))
	if err != nil {
		return res, fmt.Errorf("grayscale: %w", err)
	}

	var blurred vision.Buffer
	if p.Blur == state.BlurGaussian {
		blurred, err = scope.keep(lib.GaussianBlur(gray, p.BlurKernel))
	} else {
		blurred, err = scope.keep(lib.MedianBlur(gray, p.BlurKernel))
	}
	if err != nil {
		return res, fmt.Errorf("%s blur: %w", p.Blur, err)
	}

	circles, err := lib.DetectCircles(blurred, vision.HoughGradient,
		p.DP, p.MinDist(blurred.Height()),
		p.EdgeThreshold, p.AccumulatorThreshold,
		p.MinRadius, p.MaxRadius)
	if err != nil {
		return res, fmt.Errorf("detect circles: %w", err)
	}

	base := img
	if p.Debug {
		if base, err = gray.Image(); err != nil {
			return res, fmt.Errorf("debug view: %w", err)
		}
	}
	out, drawn := l.overlay.Draw(base, circles)
	l.surface.Present(out)

	return FrameResult{Circles: circles, Drawn: drawn}, nil
}

// presentPlain shows the frame without markers so stale circles are not
// left on screen. A failure here is logged and the surface keeps its image.
func (l *Loop) presentPlain(img image.Image) {
	defer func() {
		if r := recover(); r != nil {
			l.frameLogger.Warn("Plain frame render panicked", zap.Any("panic", r))
		}
	}()
	plain, _ := l.overlay.Draw(img, nil)
	l.surface.Present(plain)
}

// frameScope collects the buffers of one iteration.
type frameScope struct {
	buffers []vision.Buffer
}

func (s *frameScope) keep(b vision.Buffer, err error) (vision.Buffer, error) {
	if b != nil {
		s.buffers = append(s.buffers, b)
	}
	return b, err
}

// release closes buffers newest first.
func (s *frameScope) release() error {
	var errs []error
	for i := len(s.buffers) - 1; i >= 0; i-- {
		if err := s.buffers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.buffers = nil
	return errors.Join(errs...)
}
