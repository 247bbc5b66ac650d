package renderer

import "time"

const fpsWindow = 60

// fpsMeter keeps a rolling average of recent frame times.
type fpsMeter struct {
	samples [fpsWindow]time.Duration
	idx     int
	filled  int
	last    time.Time
}

// Tick records a frame boundary.
func (m *fpsMeter) Tick(now time.Time) {
	if !m.last.IsZero() {
		m.samples[m.idx] = now.Sub(m.last)
		m.idx = (m.idx + 1) % fpsWindow
		if m.filled < fpsWindow {
			m.filled++
		}
	}
	m.last = now
}

// Rate returns frames per second averaged over the window.
func (m *fpsMeter) Rate() float64 {
	if m.filled == 0 {
		return 0
	}
	var total time.Duration
	for i := 0; i < m.filled; i++ {
		total += m.samples[i]
	}
	if total <= 0 {
		return 0
	}
	return float64(m.filled) / total.Seconds()
}
