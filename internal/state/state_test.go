package state

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/mikeyg42/circlecam/internal/fault"
)

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestGateRequiresBothSignals(t *testing.T) {
	testCases := []struct {
		name   string
		vision bool
		stream bool
		want   bool
	}{
		{"Nothing ready", false, false, false},
		{"Vision only", true, false, false},
		{"Stream only", false, true, false},
		{"Both ready", true, true, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			g := NewGate()
			if tc.vision {
				g.SetVisionReady()
			}
			if tc.stream {
				g.SetStreamReady(true)
			}
			if got := isClosed(g.Started()); got != tc.want {
				t.Fatalf("Started closed = %v, want %v", got, tc.want)
			}
			if g.LoopRunning() != tc.want {
				t.Fatalf("LoopRunning = %v, want %v", g.LoopRunning(), tc.want)
			}
		})
	}
}

func TestGateOpensExactlyOnce(t *testing.T) {
	g := NewGate()
	if g.SetStreamReady(true) {
		t.Fatal("stream alone must not open the gate")
	}
	if !g.SetVisionReady() {
		t.Fatal("second signal should open the gate")
	}

	// A camera switch clears and restores the stream signal.
	if g.SetStreamReady(false) {
		t.Fatal("clearing the stream must not reopen the gate")
	}
	if g.Ready() {
		t.Fatal("gate should not report ready while stream is pending")
	}
	if g.SetStreamReady(true) {
		t.Fatal("gate must open only once")
	}
	if !g.LoopRunning() || !g.Ready() {
		t.Fatal("loop should stay running once started")
	}
}

func TestMinRadiusRaisesMaxRadius(t *testing.T) {
	s := NewParamStore(Params{MinRadius: 10, MaxRadius: 50, BlurKernel: 5})

	p := s.SetMinRadius(60)
	if p.MinRadius != 60 || p.MaxRadius != 70 {
		t.Fatalf("got min=%d max=%d, want min=60 max=70", p.MinRadius, p.MaxRadius)
	}

	p = s.SetMinRadius(70)
	if p.MaxRadius != 80 {
		t.Fatalf("min equal to max should raise max to 80, got %d", p.MaxRadius)
	}

	p = s.SetMinRadius(20)
	if p.MinRadius != 20 || p.MaxRadius != 80 {
		t.Fatalf("lowering min must not touch max, got min=%d max=%d", p.MinRadius, p.MaxRadius)
	}
}

func TestMaxRadiusLowersMinRadius(t *testing.T) {
	s := NewParamStore(Params{MinRadius: 30, MaxRadius: 50, BlurKernel: 5})

	p := s.SetMaxRadius(20)
	if p.MaxRadius != 20 || p.MinRadius != 10 {
		t.Fatalf("got min=%d max=%d, want min=10 max=20", p.MinRadius, p.MaxRadius)
	}

	p = s.SetMaxRadius(5)
	if p.MinRadius != 0 || p.MaxRadius != 5 {
		t.Fatalf("min should floor at zero, got min=%d max=%d", p.MinRadius, p.MaxRadius)
	}
}

func TestRadiusLimits(t *testing.T) {
	testCases := []struct {
		name    string
		set     func(s *ParamStore) Params
		wantMin int
		wantMax int
	}{
		{"Huge min radius", func(s *ParamStore) Params { return s.SetMinRadius(math.MaxInt) }, MaxRadiusLimit - 10, MaxRadiusLimit},
		{"Huge max radius", func(s *ParamStore) Params { return s.SetMaxRadius(math.MaxInt) }, 10, MaxRadiusLimit},
		{"Negative min radius", func(s *ParamStore) Params { return s.SetMinRadius(math.MinInt) }, 0, 100},
		{"Negative max radius", func(s *ParamStore) Params { return s.SetMaxRadius(math.MinInt) }, 0, 1},
		{"Huge radii through Apply", func(s *ParamStore) Params {
			minR, maxR := math.MaxInt, math.MaxInt
			p, _ := s.Apply(Update{MinRadius: &minR, MaxRadius: &maxR})
			return p
		}, MaxRadiusLimit - 10, MaxRadiusLimit},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p := tc.set(NewParamStore(DefaultParams()))
			if p.MinRadius != tc.wantMin || p.MaxRadius != tc.wantMax {
				t.Fatalf("got min=%d max=%d, want min=%d max=%d", p.MinRadius, p.MaxRadius, tc.wantMin, tc.wantMax)
			}
			if p.MinRadius >= p.MaxRadius {
				t.Fatalf("min=%d must stay below max=%d", p.MinRadius, p.MaxRadius)
			}
		})
	}

	s := NewParamStore(Params{MinRadius: math.MaxInt, MaxRadius: math.MaxInt, BlurKernel: 5})
	if p := s.Snapshot(); p.MinRadius >= p.MaxRadius || p.MaxRadius > MaxRadiusLimit {
		t.Fatalf("constructor kept out-of-range radii: min=%d max=%d", p.MinRadius, p.MaxRadius)
	}
}

func TestApply(t *testing.T) {
	s := NewParamStore(DefaultParams())

	gauss := BlurGaussian
	kernel := 4
	debug := true
	minR := 150
	p, err := s.Apply(Update{Blur: &gauss, BlurKernel: &kernel, Debug: &debug, MinRadius: &minR})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if p.Blur != BlurGaussian || p.BlurKernel != 5 || !p.Debug {
		t.Fatalf("unexpected params after apply: %+v", p)
	}
	if p.MaxRadius != 160 {
		t.Fatalf("MaxRadius = %d, want 160", p.MaxRadius)
	}

	bad := BlurKind("box")
	if _, err := s.Apply(Update{Blur: &bad}); err == nil {
		t.Fatal("unknown blur should be rejected")
	}
	if s.Snapshot().Blur != BlurGaussian {
		t.Fatal("rejected update must not change params")
	}
}

func TestMinDist(t *testing.T) {
	p := Params{MinRadius: 10}
	if got := p.MinDist(480); got != 30 {
		t.Fatalf("MinDist(480) = %v, want 30", got)
	}
	p.MinRadius = 40
	if got := p.MinDist(480); got != 80 {
		t.Fatalf("MinDist(480) with MinRadius 40 = %v, want 80", got)
	}
}

func TestTelemetryFrameError(t *testing.T) {
	tel := NewTelemetry()
	tel.ReportFrame(3, 5*time.Millisecond, 30)
	if got := tel.Snapshot().CircleCount; got != 3 {
		t.Fatalf("CircleCount = %d, want 3", got)
	}

	tel.ReportFrameError(errors.New("bad mat"), time.Millisecond)
	snap := tel.Snapshot()
	if snap.CircleCount != 0 {
		t.Fatalf("count after error = %d, want 0", snap.CircleCount)
	}
	if snap.ErrorKind != fault.VisionLibraryError {
		t.Fatalf("ErrorKind = %q, want %q", snap.ErrorKind, fault.VisionLibraryError)
	}

	tel.ReportFrame(1, time.Millisecond, 30)
	snap = tel.Snapshot()
	if snap.ErrorKind != "" || snap.CircleCount != 1 {
		t.Fatalf("next good frame should clear the error, got %+v", snap)
	}
}

func TestTelemetryKeepsAcquisitionError(t *testing.T) {
	tel := NewTelemetry()
	tel.SetStatus(fault.Message(fault.PermissionDenied), fault.PermissionDenied)
	tel.ReportFrame(0, time.Millisecond, 0)
	if tel.Snapshot().ErrorKind != fault.PermissionDenied {
		t.Fatal("frame report must not hide an acquisition error")
	}
}

func TestTelemetrySubscribe(t *testing.T) {
	tel := NewTelemetry()
	ch, cancel := tel.Subscribe()

	<-ch // initial snapshot
	tel.SetStatus("one", "")
	tel.SetStatus("two", "")

	snap := <-ch
	if snap.Status != "two" {
		t.Fatalf("subscriber should see newest snapshot, got %q", snap.Status)
	}

	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after cancel")
	}
	tel.SetStatus("three", "") // must not panic after unsubscribe
}

func TestAppStateReadiness(t *testing.T) {
	s := New(DefaultParams())
	if s.SetVisionReady() {
		t.Fatal("vision alone must not start the loop")
	}
	if !s.SetStreamReady(true) {
		t.Fatal("both signals should start the loop")
	}
	snap := s.Telemetry.Snapshot()
	if !snap.VisionReady || !snap.StreamReady {
		t.Fatalf("telemetry readiness not updated: %+v", snap)
	}
}
