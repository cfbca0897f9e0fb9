package state

import (
	"sync"
	"time"

	"github.com/mikeyg42/circlecam/internal/fault"
)

// Loop states reported to the UI.
const (
	LoopIdle    = "idle"
	LoopWaiting = "waiting"
	LoopRunning = "running"
)

// Snapshot is the UI-facing view of the application.
type Snapshot struct {
	Status       string     `json:"status"`
	ErrorKind    fault.Kind `json:"errorKind,omitempty"`
	CircleCount  int        `json:"circleCount"`
	LatencyMS    float64    `json:"latencyMs"`
	FPS          float64    `json:"fps"`
	RetryVisible bool       `json:"retryVisible"`
	LoopState    string     `json:"loopState"`
	VisionReady  bool       `json:"visionReady"`
	StreamReady  bool       `json:"streamReady"`
	StreamID     string     `json:"streamId,omitempty"`
	FacingMode   string     `json:"facingMode,omitempty"`
	Width        int        `json:"width"`
	Height       int        `json:"height"`
	Backend      string     `json:"backend,omitempty"`
	FramesTotal  int64      `json:"framesTotal"`
	FrameErrors  int64      `json:"frameErrors"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Telemetry holds the latest Snapshot and fans changes out to subscribers.
// Each subscriber has a single-slot mailbox; a slow reader only ever sees
// the newest snapshot.
type Telemetry struct {
	mu   sync.RWMutex
	snap Snapshot
	subs map[int]chan Snapshot
	next int
}

func NewTelemetry() *Telemetry {
	return &Telemetry{
		snap: Snapshot{Status: "Starting...", LoopState: LoopIdle, UpdatedAt: time.Now()},
		subs: make(map[int]chan Snapshot),
	}
}

// Snapshot returns the current view.
func (t *Telemetry) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap
}

// Subscribe returns a channel of snapshots and a function that cancels the
// subscription.
func (t *Telemetry) Subscribe() (<-chan Snapshot, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.next
	t.next++
	ch := make(chan Snapshot, 1)
	ch <- t.snap
	t.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subs, id)
			t.mu.Unlock()
			close(ch)
		})
	}
}

// update applies fn under the lock and publishes the result.
func (t *Telemetry) update(fn func(s *Snapshot)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.snap)
	t.snap.UpdatedAt = time.Now()
	for _, ch := range t.subs {
		select {
		case <-ch:
		default:
		}
		ch <- t.snap
	}
}

// SetStatus sets the status line and the error kind it reports (empty for
// informational status).
func (t *Telemetry) SetStatus(msg string, kind fault.Kind) {
	t.update(func(s *Snapshot) {
		s.Status = msg
		s.ErrorKind = kind
	})
}

// SetRetryVisible shows or hides the manual "enable camera" control.
func (t *Telemetry) SetRetryVisible(v bool) {
	t.update(func(s *Snapshot) { s.RetryVisible = v })
}

// SetStream records the active stream handle and its negotiated size.
func (t *Telemetry) SetStream(id, facing string, width, height int) {
	t.update(func(s *Snapshot) {
		s.StreamID = id
		s.FacingMode = facing
		s.Width = width
		s.Height = height
	})
}

func (t *Telemetry) SetLoopState(state string) {
	t.update(func(s *Snapshot) { s.LoopState = state })
}

func (t *Telemetry) SetBackend(name string) {
	t.update(func(s *Snapshot) { s.Backend = name })
}

func (t *Telemetry) setReadiness(vision, stream bool) {
	t.update(func(s *Snapshot) {
		s.VisionReady = vision
		s.StreamReady = stream
	})
}

// ReportFrame records a successfully processed frame. A per-frame vision
// error from an earlier frame is cleared; acquisition errors are kept.
func (t *Telemetry) ReportFrame(count int, latency time.Duration, fps float64) {
	t.update(func(s *Snapshot) {
		s.CircleCount = count
		s.LatencyMS = float64(latency.Microseconds()) / 1000
		s.FPS = fps
		s.FramesTotal++
		if s.ErrorKind == fault.VisionLibraryError || s.ErrorKind == "" {
			s.Status = "Detecting circles"
			s.ErrorKind = ""
		}
	})
}

// ReportFrameError records a frame that failed in the vision library. The
// circle count drops to zero so a stale value is never shown.
func (t *Telemetry) ReportFrameError(err error, latency time.Duration) {
	t.update(func(s *Snapshot) {
		s.CircleCount = 0
		s.LatencyMS = float64(latency.Microseconds()) / 1000
		s.FrameErrors++
		s.ErrorKind = fault.VisionLibraryError
		s.Status = fault.Message(fault.VisionLibraryError)
		if err != nil {
			s.Status += " " + err.Error()
		}
	})
}
