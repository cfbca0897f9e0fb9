package state

import "sync"

// Gate is a two-signal barrier between the vision library and the video
// stream. Started is closed exactly once, the first time both signals are
// true at the same time.
type Gate struct {
	mu          sync.Mutex
	visionReady bool
	streamReady bool
	loopRunning bool
	started     chan struct{}
}

func NewGate() *Gate {
	return &Gate{started: make(chan struct{})}
}

// SetVisionReady records that the vision library finished initialising.
// It reports whether this call opened the gate.
func (g *Gate) SetVisionReady() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.visionReady = true
	return g.check()
}

// SetStreamReady sets or clears the stream signal. Clearing is only done by
// a camera switch while the new stream's metadata is pending; it never
// closes the gate again.
func (g *Gate) SetStreamReady(ready bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.streamReady = ready
	return g.check()
}

// check must be called with mu held.
func (g *Gate) check() bool {
	if g.loopRunning || !g.visionReady || !g.streamReady {
		return false
	}
	g.loopRunning = true
	close(g.started)
	return true
}

// Started is closed once both subsystems have been ready together.
func (g *Gate) Started() <-chan struct{} { return g.started }

func (g *Gate) VisionReady() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.visionReady
}

func (g *Gate) StreamReady() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.streamReady
}

// Ready reports whether both signals are currently true.
func (g *Gate) Ready() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.visionReady && g.streamReady
}

// LoopRunning reports whether the gate has opened.
func (g *Gate) LoopRunning() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.loopRunning
}
