// Package clock abstracts wall time and timers so delivery timing can be driven deterministically.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Timer is a cancellable scheduled callback.
type Timer interface {
	// Stop prevents the timer from firing. It reports whether the call stopped the timer.
	Stop() bool
}

// Clock provides the current time and one-shot timers.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Fake is a manually advanced clock. Timers fire synchronously inside Advance, in deadline order.
type Fake struct {
	mu      sync.Mutex
	current time.Time
	seq     uint64
	timers  map[uint64]*fakeTimer
}

type fakeTimer struct {
	clock *Fake
	id    uint64
	due   time.Time
	fn    func()
}

// NewFake initialises a fake clock starting at the provided timestamp.
func NewFake(start time.Time) *Fake {
	return &Fake{current: start, timers: make(map[uint64]*fakeTimer)}
}

// Now returns the current simulated time.
func (c *Fake) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// AfterFunc schedules f to run once the clock has been advanced by d.
func (c *Fake) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &fakeTimer{clock: c, id: c.seq, due: c.current.Add(d), fn: f}
	c.timers[t.id] = t
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if _, ok := t.clock.timers[t.id]; !ok {
		return false
	}
	delete(t.clock.timers, t.id)
	return true
}

// Advance moves the clock forward, firing every timer whose deadline is reached.
// Timers scheduled by fired callbacks also fire if they fall inside the window.
func (c *Fake) Advance(d time.Duration) {
	if d < 0 {
		return
	}
	c.mu.Lock()
	target := c.current.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		next := c.nextDueLocked(target)
		if next == nil {
			c.current = target
			c.mu.Unlock()
			return
		}
		delete(c.timers, next.id)
		if next.due.After(c.current) {
			c.current = next.due
		}
		c.mu.Unlock()
		next.fn()
	}
}

// Pending returns the number of scheduled timers that have neither fired nor been stopped.
func (c *Fake) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func (c *Fake) nextDueLocked(target time.Time) *fakeTimer {
	candidates := make([]*fakeTimer, 0, len(c.timers))
	for _, t := range c.timers {
		if !t.due.After(target) {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].due.Equal(candidates[j].due) {
			return candidates[i].id < candidates[j].id
		}
		return candidates[i].due.Before(candidates[j].due)
	})
	return candidates[0]
}
