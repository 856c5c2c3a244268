// Package delivery orchestrates the slot lifecycle: generation tokens, the retrying ad
// fetch, render dispatch with completion timeouts, skip and delay gating, and teardown.
//
// All slot state is owned by a single loop goroutine. Public methods enqueue work and
// return; fetch completions, timer fires and surface callbacks are posted back onto the
// loop, where the generation token is checked before any effect is applied.
package delivery

import (
	"context"
	"fmt"
	"io"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"

	"github.com/coachpo/adslot/errs"
	"github.com/coachpo/adslot/internal/clock"
	"github.com/coachpo/adslot/internal/config"
	"github.com/coachpo/adslot/internal/events"
	"github.com/coachpo/adslot/internal/fetch"
	"github.com/coachpo/adslot/internal/identity"
	"github.com/coachpo/adslot/internal/messaging"
	"github.com/coachpo/adslot/internal/skip"
	"github.com/coachpo/adslot/internal/surface"
	"github.com/coachpo/adslot/internal/track"
)

// Deps are the collaborators of an Orchestrator. Surface is required.
type Deps struct {
	Surface   surface.Surface
	Transport fetch.Transport
	Signer    *identity.Signer
	Tracker   *track.Tracker
	Clock     clock.Clock
	Logger    *log.Logger
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithSlotIDs overrides the generator of synthesized welcome slot ids.
func WithSlotIDs(next func() string) Option {
	return func(o *Orchestrator) {
		if next != nil {
			o.nextSlotID = next
		}
	}
}

// WithBus shares an existing event bus.
func WithBus(bus *events.Bus) Option {
	return func(o *Orchestrator) {
		if bus != nil {
			o.bus = bus
		}
	}
}

// Orchestrator delivers ads into host slots.
type Orchestrator struct {
	cfg        config.SDK
	surface    surface.Surface
	fetcher    *fetch.Fetcher
	signer     *identity.Signer
	tracker    *track.Tracker
	clock      clock.Clock
	logger     *log.Logger
	bus        *events.Bus
	gate       *skip.Gate
	channel    *messaging.Channel
	metrics    deliveryMetrics
	nextSlotID func() string

	ctx      context.Context
	cancel   context.CancelFunc
	workers  conc.WaitGroup
	loopDone chan struct{}

	qmu    sync.Mutex
	queue  []func()
	wake   chan struct{}
	closed bool

	closeOnce sync.Once
	closeErr  error

	// owned by the loop
	slots map[string]*slotState
	seq   uint64

	vmu       sync.RWMutex
	views     map[string]SlotView
	welcomeID string
}

// New validates cfg and starts the orchestrator loop.
func New(cfg config.SDK, deps Deps, opts ...Option) (*Orchestrator, error) {
	cfg.Normalise()
	if err := cfg.Validate(); err != nil {
		return nil, errs.New("delivery/new", errs.CodeConfig, errs.WithCause(err))
	}
	if deps.Surface == nil {
		return nil, errs.New("delivery/new", errs.CodeConfig, errs.WithMessage("surface required"))
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real()
	}
	tracker := deps.Tracker
	if tracker == nil {
		trackOpts := []track.Option{
			track.WithClock(clk),
			track.WithLogger(logger),
			track.WithRateLimit(cfg.BeaconRate, cfg.BeaconBurst),
		}
		if cfg.TrackURL != "" {
			trackOpts = append(trackOpts, track.WithEndpoint(track.Endpoint{
				URL:      cfg.TrackURL,
				TenantID: cfg.TenantID,
				StreamID: cfg.StreamID,
				Position: cfg.PositionID,
			}))
		}
		tracker = track.NewTracker(trackOpts...)
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:     cfg,
		surface: deps.Surface,
		fetcher: fetch.NewFetcher(deps.Transport, fetch.Policy{
			Timeout: cfg.FetchTimeout,
			Retries: cfg.FetchRetries,
			Backoff: cfg.FetchBackoff,
		}, fetch.WithLogger(logger)),
		signer:     deps.Signer,
		tracker:    tracker,
		clock:      clk,
		logger:     logger,
		bus:        events.NewBus(logger),
		gate:       skip.NewGate(clk),
		metrics:    newDeliveryMetrics(),
		nextSlotID: func() string { return "welcome-slot-" + uuid.NewString() },
		ctx:        ctx,
		cancel:     cancel,
		loopDone:   make(chan struct{}),
		wake:       make(chan struct{}, 1),
		slots:      make(map[string]*slotState),
		views:      make(map[string]SlotView),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if cfg.Messaging.Enabled {
		o.channel = messaging.NewChannel(cfg.Messaging, o, logger)
	}

	go o.loop()
	return o, nil
}

// Config returns the normalised configuration.
func (o *Orchestrator) Config() config.SDK { return o.cfg }

// Channel returns the inbound command channel, or nil when messaging is disabled.
func (o *Orchestrator) Channel() *messaging.Channel { return o.channel }

// On registers handler for event name (events.Any for all events).
func (o *Orchestrator) On(name events.Name, handler events.Handler) (events.SubscriptionID, error) {
	return o.bus.On(name, handler)
}

// Off removes a handler registration.
func (o *Orchestrator) Off(name events.Name, id events.SubscriptionID) {
	o.bus.Off(name, id)
}

// Slot returns the current view of a slot without waiting for the loop.
func (o *Orchestrator) Slot(slotID string) (SlotView, bool) {
	o.vmu.RLock()
	defer o.vmu.RUnlock()
	v, ok := o.views[slotID]
	return v, ok
}

// Slots returns views of every active slot ordered by id.
func (o *Orchestrator) Slots() []SlotView {
	o.vmu.RLock()
	out := make([]SlotView, 0, len(o.views))
	for _, v := range o.views {
		out = append(out, v)
	}
	o.vmu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Flush blocks until every operation queued before the call has run.
// It must not be called from an event handler or callback.
func (o *Orchestrator) Flush(ctx context.Context) error {
	done := make(chan struct{})
	if !o.post(func() { close(done) }) {
		return errs.New("delivery/flush", errs.CodeUnavailable, errs.WithMessage("orchestrator closed"))
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("flush: %w", ctx.Err())
	}
}

// Close destroys every slot, stops the loop and waits for in-flight work or ctx expiry.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.closeOnce.Do(func() {
		o.DestroyAll()
		if err := o.Flush(ctx); err != nil {
			o.closeErr = err
		}
		o.qmu.Lock()
		o.closed = true
		o.qmu.Unlock()
		o.cancel()

		select {
		case <-o.loopDone:
		case <-ctx.Done():
			o.closeErr = fmt.Errorf("close: %w", ctx.Err())
			return
		}

		workersDone := make(chan struct{})
		go func() {
			defer close(workersDone)
			if rec := o.workers.WaitAndRecover(); rec != nil {
				o.logger.Printf("delivery worker panic: %v", rec.Value)
			}
		}()
		select {
		case <-workersDone:
		case <-ctx.Done():
			o.closeErr = fmt.Errorf("close: %w", ctx.Err())
			return
		}
		if err := o.tracker.Close(ctx); err != nil && o.closeErr == nil {
			o.closeErr = err
		}
	})
	return o.closeErr
}

// post enqueues fn for the loop. It reports false once the orchestrator is closed.
func (o *Orchestrator) post(fn func()) bool {
	o.qmu.Lock()
	if o.closed {
		o.qmu.Unlock()
		return false
	}
	o.queue = append(o.queue, fn)
	o.qmu.Unlock()
	select {
	case o.wake <- struct{}{}:
	default:
	}
	return true
}

func (o *Orchestrator) pop() func() {
	o.qmu.Lock()
	defer o.qmu.Unlock()
	if len(o.queue) == 0 {
		return nil
	}
	fn := o.queue[0]
	o.queue[0] = nil
	o.queue = o.queue[1:]
	return fn
}

func (o *Orchestrator) loop() {
	defer close(o.loopDone)
	for {
		select {
		case <-o.ctx.Done():
			return
		case <-o.wake:
		}
		for fn := o.pop(); fn != nil; fn = o.pop() {
			o.run(fn)
			if o.ctx.Err() != nil {
				return
			}
		}
	}
}

func (o *Orchestrator) run(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			o.logger.Printf("delivery task panic: %v", rec)
			o.metrics.loopPanic()
		}
	}()
	fn()
}

// after schedules fn on the loop once d elapses, guarded by the slot generation.
func (o *Orchestrator) after(st *slotState, kind timerKind, d time.Duration, fn func(*slotState)) {
	var timer clock.Timer
	timer = o.clock.AfterFunc(d, o.guard(st, func(cur *slotState) {
		if cur.timers[kind] == timer {
			delete(cur.timers, kind)
		}
		fn(cur)
	}))
	st.setTimer(kind, timer)
}

// guard returns a callback, safe to call from any goroutine, that runs fn on the loop only
// while st's generation is still current.
func (o *Orchestrator) guard(st *slotState, fn func(*slotState)) func() {
	id, token := st.id, st.token
	return func() {
		o.post(func() {
			cur := o.current(id, token)
			if cur == nil {
				o.metrics.staleDrop("continuation")
				return
			}
			fn(cur)
		})
	}
}

// current returns the slot state when token is still its generation.
func (o *Orchestrator) current(id string, token uint64) *slotState {
	st, ok := o.slots[id]
	if !ok || st.token != token {
		return nil
	}
	return st
}

// isCurrent is the goroutine-safe variant of current used by in-flight fetches.
func (o *Orchestrator) isCurrent(id string, token uint64) bool {
	o.vmu.RLock()
	defer o.vmu.RUnlock()
	v, ok := o.views[id]
	return ok && v.Token == token
}

func (o *Orchestrator) publish(st *slotState) {
	o.vmu.Lock()
	o.views[st.id] = st.view()
	o.vmu.Unlock()
}

func (o *Orchestrator) unpublish(id string) {
	o.vmu.Lock()
	delete(o.views, id)
	if o.welcomeID == id {
		o.welcomeID = ""
	}
	o.vmu.Unlock()
}

func (o *Orchestrator) emit(evt events.Event) {
	evt.Timestamp = o.clock.Now()
	if o.cfg.Debug {
		o.logger.Printf("event %s slot=%s token=%d", evt.Name, evt.SlotID, evt.Token)
	}
	o.bus.Emit(evt)
}

func (o *Orchestrator) debugf(format string, args ...any) {
	if o.cfg.Debug {
		o.logger.Printf(format, args...)
	}
}
