package loop

import (
	"context"
	"time"
)

// DefaultInterval is the Ticker period, roughly one display frame at 30 Hz.
const DefaultInterval = 33 * time.Millisecond

// Scheduler decides when the next iteration runs. Wait is called after an
// iteration has fully completed; it returns false once ctx is done.
type Scheduler interface {
	Wait(ctx context.Context) bool
}

// Ticker waits a fixed interval after each iteration completes, so slow
// frames delay the next one instead of piling up.
type Ticker struct {
	Interval time.Duration
}

func NewTicker(interval time.Duration) *Ticker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Ticker{Interval: interval}
}

func (t *Ticker) Wait(ctx context.Context) bool {
	timer := time.NewTimer(t.Interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Manual runs one iteration per Step call.
type Manual struct {
	steps   chan chan struct{}
	pending chan struct{}
}

func NewManual() *Manual {
	return &Manual{steps: make(chan chan struct{})}
}

// Step lets the loop run one iteration and blocks until the iteration has
// finished. It returns false if ctx ends first.
func (m *Manual) Step(ctx context.Context) bool {
	done := make(chan struct{})
	select {
	case m.steps <- done:
	case <-ctx.Done():
		return false
	}
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// Wait signals completion of the previous step, then blocks for the next.
func (m *Manual) Wait(ctx context.Context) bool {
	if m.pending != nil {
		close(m.pending)
		m.pending = nil
	}
	select {
	case done := <-m.steps:
		m.pending = done
		return true
	case <-ctx.Done():
		return false
	}
}
