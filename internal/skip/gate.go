// Package skip implements the overlay request delay gate and the skip countdown.
package skip

import (
	"sync"
	"time"

	"github.com/coachpo/adslot/internal/clock"
)

type window struct {
	lastRequest time.Time
	delay       time.Duration
}

// Gate suppresses repeat overlay requests for a slot until its delay window has elapsed.
type Gate struct {
	clock clock.Clock

	mu      sync.Mutex
	windows map[string]window
}

// NewGate constructs a gate reading time from c.
func NewGate(c clock.Clock) *Gate {
	if c == nil {
		c = clock.Real()
	}
	return &Gate{clock: c, windows: make(map[string]window)}
}

// Record opens a delay window for slotID starting now.
func (g *Gate) Record(slotID string, delay time.Duration) {
	if delay < 0 {
		delay = 0
	}
	g.mu.Lock()
	g.windows[slotID] = window{lastRequest: g.clock.Now(), delay: delay}
	g.mu.Unlock()
}

// Check reports whether slotID is still inside its delay window and how much of it remains.
func (g *Gate) Check(slotID string) (remaining, delay time.Duration, gated bool) {
	g.mu.Lock()
	w, ok := g.windows[slotID]
	g.mu.Unlock()
	if !ok {
		return 0, 0, false
	}
	elapsed := g.clock.Now().Sub(w.lastRequest)
	if elapsed >= w.delay {
		return 0, w.delay, false
	}
	return w.delay - elapsed, w.delay, true
}

// Forget removes the window of slotID.
func (g *Gate) Forget(slotID string) {
	g.mu.Lock()
	delete(g.windows, slotID)
	g.mu.Unlock()
}

// Reset removes every window.
func (g *Gate) Reset() {
	g.mu.Lock()
	g.windows = make(map[string]window)
	g.mu.Unlock()
}

// CeilSeconds rounds d up to whole seconds.
func CeilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}
