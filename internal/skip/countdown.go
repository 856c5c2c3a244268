package skip

import (
	"sync"
	"time"

	"github.com/coachpo/adslot/internal/clock"
)

// Countdown ticks once per second until the skip offset elapses, then reports readiness.
// The close-button reveal, welcome countdown text and VAST skip button all run on it.
type Countdown struct {
	clock   clock.Clock
	onTick  func(remaining int)
	onReady func()

	mu        sync.Mutex
	remaining int
	timer     clock.Timer
	done      bool
}

// StartCountdown begins a countdown of offset (rounded up to whole seconds). onTick receives the
// seconds left, starting with the full value; onReady fires once when the count reaches zero.
// A non-positive offset fires onReady immediately.
func StartCountdown(c clock.Clock, offset time.Duration, onTick func(remaining int), onReady func()) *Countdown {
	if c == nil {
		c = clock.Real()
	}
	cd := &Countdown{clock: c, onTick: onTick, onReady: onReady, remaining: CeilSeconds(offset)}
	if cd.remaining <= 0 {
		cd.done = true
		if onReady != nil {
			onReady()
		}
		return cd
	}
	if onTick != nil {
		onTick(cd.remaining)
	}
	cd.mu.Lock()
	if !cd.done {
		cd.timer = c.AfterFunc(time.Second, cd.tick)
	}
	cd.mu.Unlock()
	return cd
}

func (cd *Countdown) tick() {
	cd.mu.Lock()
	if cd.done {
		cd.mu.Unlock()
		return
	}
	cd.remaining--
	remaining := cd.remaining
	if remaining <= 0 {
		cd.done = true
		cd.timer = nil
	} else {
		cd.timer = cd.clock.AfterFunc(time.Second, cd.tick)
	}
	cd.mu.Unlock()

	if remaining <= 0 {
		if cd.onReady != nil {
			cd.onReady()
		}
		return
	}
	if cd.onTick != nil {
		cd.onTick(remaining)
	}
}

// Stop cancels the countdown. It is safe to call repeatedly.
func (cd *Countdown) Stop() {
	if cd == nil {
		return
	}
	cd.mu.Lock()
	defer cd.mu.Unlock()
	cd.done = true
	if cd.timer != nil {
		cd.timer.Stop()
		cd.timer = nil
	}
}

// Remaining returns the whole seconds left.
func (cd *Countdown) Remaining() int {
	cd.mu.Lock()
	defer cd.mu.Unlock()
	return cd.remaining
}

// Ready reports whether the countdown finished without being stopped early.
func (cd *Countdown) Ready() bool {
	cd.mu.Lock()
	defer cd.mu.Unlock()
	return cd.done && cd.remaining <= 0
}
