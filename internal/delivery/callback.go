package delivery

import (
	"time"

	"github.com/coachpo/adslot/errs"
	"github.com/coachpo/adslot/internal/config"
	"github.com/coachpo/adslot/internal/fetch"
)

// Status is the outcome reported to a start callback.
type Status string

const (
	StatusSuccess  Status = "success"
	StatusError    Status = "error"
	StatusFallback Status = "fallback"
	StatusDelay    Status = "delay"
)

const delayMessage = "Ad is in delay period"

// DelayInfo describes an overlay request suppressed by its delay window.
type DelayInfo struct {
	RemainingSeconds int    `json:"remainingSeconds"`
	DelaySeconds     int    `json:"delayOffSet"`
	Message          string `json:"message"`
}

// Result is delivered to a start callback at most once per start.
type Result struct {
	Status    Status     `json:"status"`
	SlotID    string     `json:"slotId"`
	Ad        *fetch.Ad  `json:"data,omitempty"`
	Delay     *DelayInfo `json:"delay,omitempty"`
	Err       error      `json:"-"`
	Timestamp time.Time  `json:"timestamp"`
}

// Callback receives the outcome of a start.
type Callback func(Result)

// StartRequest describes one start of a slot.
type StartRequest struct {
	SlotID     string
	BannerType config.BannerType
	AdSize     string
	PositionID string
	Callback   Callback
}

// settle resolves the slot's pending callback. The slot is cleared before the callback runs.
func (o *Orchestrator) settle(st *slotState, status Status, err error) {
	cb := st.pending
	st.pending = nil
	if cb == nil {
		return
	}
	res := Result{Status: status, SlotID: st.id, Err: err, Timestamp: o.clock.Now()}
	if status == StatusSuccess {
		res.Ad = st.ad
	}
	o.invoke(cb, res)
}

func (o *Orchestrator) invoke(cb Callback, res Result) {
	defer func() {
		if rec := recover(); rec != nil {
			err := errs.New("delivery/callback", errs.CodeCallback, errs.WithSlot(res.SlotID),
				errs.WithField("status", string(res.Status)), errs.WithMessage("callback panicked"))
			o.logger.Printf("%v: %v", err, rec)
			o.metrics.callbackPanic()
		}
	}()
	cb(res)
}
