package loop

import "time"

// fpsMeter counts completed frames over wall-clock time. The count resets
// each time a full second has elapsed.
type fpsMeter struct {
	windowStart time.Time
	frames      int
	fps         float64
}

func (m *fpsMeter) frame(now time.Time) float64 {
	if m.windowStart.IsZero() {
		m.windowStart = now
	}
	m.frames++
	if elapsed := now.Sub(m.windowStart); elapsed >= time.Second {
		m.fps = float64(m.frames) / elapsed.Seconds()
		m.frames = 0
		m.windowStart = now
	}
	return m.fps
}
