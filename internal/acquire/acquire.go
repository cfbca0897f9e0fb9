// Package acquire owns the camera: it requests a stream with the configured
// constraints, waits for the first frame to learn the negotiated size, and
// reports readiness or a classified failure to the shared state.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/mikeyg42/circlecam/internal/fault"
	"github.com/mikeyg42/circlecam/internal/framestream"
	"github.com/mikeyg42/circlecam/internal/state"
)

// Surface is the render target sized to the stream dimensions.
type Surface interface {
	Resize(width, height int)
}

var errMetadataPending = errors.New("stream metadata not yet available")

// Acquirer holds at most one active camera stream.
type Acquirer struct {
	source  MediaSource
	sink    *framestream.Sink
	app     *state.AppState
	surface Surface
	logger  *zap.Logger

	metadataTimeout time.Duration

	// mu serialises acquisitions. It is held across the metadata wait.
	mu     sync.Mutex
	active framestream.Stream

	// view mirrors what readers need so they never wait on mu.
	view        sync.RWMutex
	constraints Constraints
	activeID    string
}

// Option configures an Acquirer.
type Option func(*Acquirer)

// WithMetadataTimeout bounds the wait for the first frame of a new stream.
func WithMetadataTimeout(d time.Duration) Option {
	return func(a *Acquirer) { a.metadataTimeout = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(a *Acquirer) { a.logger = l }
}

func New(source MediaSource, sink *framestream.Sink, app *state.AppState, surface Surface, c Constraints, opts ...Option) *Acquirer {
	a := &Acquirer{
		source:          source,
		sink:            sink,
		app:             app,
		surface:         surface,
		constraints:     c,
		metadataTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = zap.L().Named("acquire")
	}
	return a
}

// Start acquires a stream with the configured constraints.
func (a *Acquirer) Start(ctx context.Context) error {
	_, err := a.Acquire(ctx, a.Constraints())
	return err
}

// Acquire opens a stream matching c, replacing any active one. Errors are
// *fault.Error values. A permission denial shows the retry control and is
// never retried automatically.
func (a *Acquirer) Acquire(ctx context.Context, c Constraints) (framestream.Stream, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopActiveLocked()
	return a.acquireLocked(ctx, c)
}

// Retry re-runs acquisition with the current constraints, typically after
// the user granted camera permission.
func (a *Acquirer) Retry(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logger.Info("Retrying camera acquisition")
	a.stopActiveLocked()
	_, err := a.acquireLocked(ctx, a.Constraints())
	return err
}

// Switch releases the current camera, flips the facing mode and acquires
// again. The previous stream's tracks are stopped before the new stream is
// requested.
func (a *Acquirer) Switch(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	c := a.Constraints()
	c.Facing = c.Facing.Flip()
	c.DeviceID = ""
	a.logger.Info("Switching camera", zap.String("facing_mode", string(c.Facing)))

	a.stopActiveLocked()
	_, err := a.acquireLocked(ctx, c)
	return err
}

// Close stops the active stream. It is safe to call more than once.
func (a *Acquirer) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopActiveLocked()
}

// Constraints returns the constraints of the last acquisition attempt.
func (a *Acquirer) Constraints() Constraints {
	a.view.RLock()
	defer a.view.RUnlock()
	return a.constraints
}

// Devices lists the available cameras.
func (a *Acquirer) Devices() ([]Device, error) {
	return a.source.Devices()
}

// ActiveStreamID returns the ID of the active stream, or "".
func (a *Acquirer) ActiveStreamID() string {
	a.view.RLock()
	defer a.view.RUnlock()
	return a.activeID
}

// stopActiveLocked releases the current device and clears streamReady.
func (a *Acquirer) stopActiveLocked() {
	if a.active == nil {
		return
	}
	id := a.active.ID()
	a.active.Stop()
	a.sink.Unbind()
	a.active = nil
	a.setActiveID("")
	a.app.SetStreamReady(false)
	a.logger.Info("Camera stream stopped", zap.String("stream_id", id))
}

func (a *Acquirer) setActiveID(id string) {
	a.view.Lock()
	a.activeID = id
	a.view.Unlock()
}

func (a *Acquirer) acquireLocked(ctx context.Context, c Constraints) (framestream.Stream, error) {
	a.view.Lock()
	a.constraints = c
	a.view.Unlock()
	a.app.Telemetry.SetStatus("Requesting camera access...", "")

	if c.DeviceID == "" {
		devices, err := a.source.Devices()
		if err != nil {
			return nil, a.fail(fmt.Errorf("failed to enumerate devices: %w", err))
		}
		dev, ok := SelectDevice(devices, c.Facing)
		if !ok {
			return nil, a.fail(fault.ErrNoDevice)
		}
		c.DeviceID = dev.ID
		a.logger.Debug("Selected camera",
			zap.String("device_id", dev.ID),
			zap.String("label", dev.Label),
			zap.String("facing_mode", string(c.Facing)))
	}

	stream, err := a.source.Open(ctx, c)
	if err != nil {
		return nil, a.fail(err)
	}
	a.active = stream
	a.setActiveID(stream.ID())
	a.sink.Bind(context.WithoutCancel(ctx), stream)

	width, height, err := a.waitMetadata(ctx)
	if err != nil {
		a.stopActiveLocked()
		return nil, a.fail(err)
	}

	a.surface.Resize(width, height)
	a.app.Telemetry.SetStream(stream.ID(), string(c.Facing), width, height)
	a.app.Telemetry.SetRetryVisible(false)
	if a.app.Gate.VisionReady() {
		a.app.Telemetry.SetStatus("Camera ready", "")
	} else {
		a.app.Telemetry.SetStatus("Camera ready, loading vision library...", "")
	}
	a.app.SetStreamReady(true)

	a.logger.Info("Camera stream ready",
		zap.String("stream_id", stream.ID()),
		zap.Int("width", width),
		zap.Int("height", height))
	return stream, nil
}

// waitMetadata polls the sink with exponential backoff until the first
// frame has set the stream dimensions.
func (a *Acquirer) waitMetadata(ctx context.Context) (int, int, error) {
	ebo := backoff.NewExponentialBackOff()
	ebo.InitialInterval = 5 * time.Millisecond
	ebo.MaxInterval = 250 * time.Millisecond
	ebo.MaxElapsedTime = a.metadataTimeout

	var width, height int
	op := func() error {
		if a.sink.Ended() {
			err := a.sink.Err()
			if err == nil {
				err = errors.New("stream ended before first frame")
			}
			return backoff.Permanent(err)
		}
		w, h, ok := a.sink.Metadata()
		if !ok {
			return errMetadataPending
		}
		width, height = w, h
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(ebo, ctx)); err != nil {
		if errors.Is(err, errMetadataPending) {
			return 0, 0, fmt.Errorf("no frame from camera within %v", a.metadataTimeout)
		}
		return 0, 0, err
	}
	return width, height, nil
}

// fail classifies err and reports it.
func (a *Acquirer) fail(err error) error {
	kind := fault.Classify(err)
	ferr := fault.New(kind, "acquire", err)

	a.app.Telemetry.SetStatus(fault.Message(kind), kind)
	if kind == fault.PermissionDenied {
		a.app.Telemetry.SetRetryVisible(true)
	}
	a.logger.Warn("Camera acquisition failed",
		zap.String("kind", string(kind)),
		zap.Error(err))
	return ferr
}
