package delivery

import (
	"context"
	"errors"
	"strings"

	"github.com/coachpo/adslot/errs"
	"github.com/coachpo/adslot/internal/config"
	"github.com/coachpo/adslot/internal/events"
	"github.com/coachpo/adslot/internal/fetch"
	"github.com/coachpo/adslot/internal/messaging"
	"github.com/coachpo/adslot/internal/skip"
	"github.com/coachpo/adslot/internal/surface"
	"github.com/coachpo/adslot/internal/telemetry"
	"github.com/coachpo/adslot/internal/track"
)

// Start begins a new generation for a slot and returns its id. Configuration problems are
// reported synchronously; everything else is reported through events and the callback.
// Welcome orchestrators synthesize the slot id when req.SlotID is empty.
func (o *Orchestrator) Start(req StartRequest) (string, error) {
	req.SlotID = strings.TrimSpace(req.SlotID)
	req.BannerType = config.BannerType(strings.ToUpper(strings.TrimSpace(string(req.BannerType))))
	if req.BannerType == "" {
		req.BannerType = config.BannerDisplay
	}
	welcome := o.cfg.Welcome()

	var element surface.Element
	if welcome {
		if req.SlotID == "" {
			req.SlotID = o.welcomeSlotID()
		}
		element = o.surface.Overlay()
	} else {
		if req.SlotID == "" {
			o.metrics.start(string(req.BannerType), telemetry.ResultError)
			return "", errs.New("delivery/start", errs.CodeConfig, errs.WithMessage("slot id required"))
		}
		found, ok := o.surface.Lookup(req.SlotID)
		if !ok {
			o.metrics.start(string(req.BannerType), telemetry.ResultError)
			return "", errs.New("delivery/start", errs.CodeConfig, errs.WithSlot(req.SlotID),
				errs.WithMessage("target element not found"))
		}
		element = found
	}

	if !o.post(func() { o.begin(req, element, welcome, false) }) {
		return "", errs.New("delivery/start", errs.CodeUnavailable, errs.WithSlot(req.SlotID),
			errs.WithMessage("orchestrator closed"))
	}
	return req.SlotID, nil
}

// Refresh restarts a started slot with its last request. An unsettled callback carries over.
func (o *Orchestrator) Refresh(slotID string) error {
	slotID = strings.TrimSpace(slotID)
	if _, ok := o.Slot(slotID); !ok {
		return errs.New("delivery/refresh", errs.CodeNotFound, errs.WithSlot(slotID), errs.WithMessage("slot not started"))
	}
	if !o.post(func() {
		st, ok := o.slots[slotID]
		if !ok {
			return
		}
		req := st.req
		req.Callback = st.pending
		o.begin(req, st.element, st.welcome, true)
	}) {
		return errs.New("delivery/refresh", errs.CodeUnavailable, errs.WithSlot(slotID), errs.WithMessage("orchestrator closed"))
	}
	return nil
}

// Dismiss tears a slot down. An empty id dismisses every slot. Dismissing an unknown slot is a no-op.
func (o *Orchestrator) Dismiss(slotID string) {
	slotID = strings.TrimSpace(slotID)
	o.post(func() {
		if slotID == "" {
			o.dismissAll()
			return
		}
		if st, ok := o.slots[slotID]; ok {
			o.dismiss(st)
		}
	})
}

// DestroyAll dismisses every slot, clears delay windows and tracking history, detaches the
// command channel and, after emitting destroy, drops every handler registration.
func (o *Orchestrator) DestroyAll() {
	o.post(func() {
		o.dismissAll()
		o.gate.Reset()
		o.tracker.Reset()
		if o.channel != nil {
			o.channel.Detach()
		}
		o.emit(events.Event{Name: events.Destroy})
		o.bus.Clear()
	})
}

// Render draws a supplied ad into a started slot as a new generation, without fetching.
func (o *Orchestrator) Render(slotID string, ad *fetch.Ad) error {
	slotID = strings.TrimSpace(slotID)
	if _, ok := o.Slot(slotID); !ok {
		return errs.New("delivery/render", errs.CodeNotFound, errs.WithSlot(slotID), errs.WithMessage("slot not started"))
	}
	o.post(func() {
		st, ok := o.slots[slotID]
		if !ok {
			return
		}
		o.remount(st)
		st.token = o.nextToken()
		st.started = o.clock.Now()
		st.phase = PhaseRendering
		st.ad = ad
		o.publish(st)
		o.render(st)
	})
	return nil
}

func (o *Orchestrator) welcomeSlotID() string {
	o.vmu.Lock()
	defer o.vmu.Unlock()
	if o.welcomeID == "" {
		o.welcomeID = o.nextSlotID()
	}
	return o.welcomeID
}

func (o *Orchestrator) nextToken() uint64 {
	o.seq++
	return o.seq
}

// begin runs on the loop: delay gate, fresh container, new token, start and request events, fetch.
// carried marks a request whose callback is the slot's pending one.
func (o *Orchestrator) begin(req StartRequest, element surface.Element, welcome, carried bool) {
	id := req.SlotID
	if req.BannerType == config.BannerOverlay {
		if remaining, delay, gated := o.gate.Check(id); gated {
			if st, ok := o.slots[id]; ok && carried {
				st.pending = nil
			}
			o.metrics.start(string(req.BannerType), telemetry.ResultDelay)
			o.emit(events.Event{
				Name:      events.InDelay,
				SlotID:    id,
				Remaining: skip.CeilSeconds(remaining),
				Message:   delayMessage,
			})
			if req.Callback != nil {
				o.invoke(req.Callback, Result{
					Status: StatusDelay,
					SlotID: id,
					Delay: &DelayInfo{
						RemainingSeconds: skip.CeilSeconds(remaining),
						DelaySeconds:     skip.CeilSeconds(delay),
						Message:          delayMessage,
					},
					Timestamp: o.clock.Now(),
				})
			}
			return
		}
	}

	st, ok := o.slots[id]
	if !ok {
		st = newSlotState(id, welcome, element)
		o.slots[id] = st
	}
	st.element = element
	st.req = req
	st.pending = req.Callback
	o.remount(st)
	st.token = o.nextToken()
	st.started = o.clock.Now()
	st.phase = PhaseRequesting
	st.ad = nil
	o.publish(st)
	o.metrics.start(string(req.BannerType), telemetry.ResultSuccess)

	token := st.token
	o.emit(events.Event{Name: events.Start, SlotID: id, Token: token})
	o.emit(events.Event{Name: events.Request, SlotID: id, Token: token})
	o.tracker.Fire(track.Beacon{Type: track.Request, SlotID: id, Token: token})

	ctx, cancel := context.WithCancel(o.ctx)
	st.fetchCancel = cancel
	o.workers.Go(func() {
		defer cancel()
		ad, err := o.fetchAd(ctx, id, token, req)
		o.post(func() { o.fetched(id, token, ad, err) })
	})
}

// remount stops the previous generation's effects and swaps in a fresh container. The new
// container is attached before the old one is removed.
func (o *Orchestrator) remount(st *slotState) {
	st.resetEffects()
	spec := surface.ContainerSpec{Width: o.cfg.Width, Height: o.cfg.Height, Welcome: st.welcome}
	old := st.container
	st.container = st.element.Mount(spec)
	if old != nil {
		old.Remove()
	}
	st.rendered = false
	st.fallback = false
	st.format = ""
}

func (o *Orchestrator) fetchAd(ctx context.Context, id string, token uint64, req StartRequest) (*fetch.Ad, error) {
	freq := fetch.Request{
		SlotID:     id,
		BannerType: req.BannerType,
		AdSize:     req.AdSize,
		PositionID: req.PositionID,
	}
	if o.signer != nil {
		positionID := req.PositionID
		if positionID == "" {
			positionID = o.cfg.PositionID
		}
		sig, err := o.signer.Sign(ctx, positionID, o.cfg.TenantID)
		if err != nil {
			return nil, errs.New("delivery/sign", errs.CodeConfig, errs.WithSlot(id), errs.WithCause(err))
		}
		freq.Signature = sig.Value
		freq.DeviceID = sig.DeviceID
	}
	url, err := fetch.BuildURL(o.cfg, freq)
	if err != nil {
		return nil, errs.New("delivery/request", errs.CodeConfig, errs.WithSlot(id), errs.WithCause(err))
	}
	o.debugf("fetch slot=%s token=%d url=%s", id, token, url)
	return o.fetcher.Fetch(ctx, url, o.cfg.Welcome(), func() bool { return o.isCurrent(id, token) })
}

// fetched runs on the loop when a fetch finishes.
func (o *Orchestrator) fetched(id string, token uint64, ad *fetch.Ad, err error) {
	st := o.current(id, token)
	if st == nil || errors.Is(err, fetch.ErrStale) {
		o.metrics.staleDrop("fetch")
		o.debugf("stale fetch dropped slot=%s token=%d", id, token)
		return
	}
	st.fetchCancel = nil
	if err != nil {
		o.logger.Printf("ad fetch for slot %s failed: %v", id, err)
		st.phase = PhaseFailed
		st.fallback = true
		if st.welcome {
			st.container.SetOpacity(0)
			o.after(st, timerFade, welcomeFadeDuration, o.dismiss)
		} else {
			st.container.ShowPlaceholder(fallbackText)
		}
		o.publish(st)
		o.emit(events.Event{Name: events.Error, SlotID: id, Token: token, Code: string(errs.CodeOf(err)), Message: err.Error(), Err: err})
		o.metrics.render("none", telemetry.ResultError, 0)
		o.settle(st, StatusError, err)
		return
	}

	st.ad = ad
	st.phase = PhaseRendering
	if ad != nil {
		st.format = ad.Format
		if ad.DelayOffset != nil && st.bannerType() == config.BannerOverlay {
			o.gate.Record(id, *ad.DelayOffset)
		}
	}
	o.publish(st)
	evt := events.Event{Name: events.Loaded, SlotID: id, Token: token}
	if ad != nil {
		evt.Format = string(ad.Format)
	}
	o.emit(evt)
	o.render(st)
}

func (o *Orchestrator) dismissAll() {
	ids := make([]string, 0, len(o.slots))
	for id := range o.slots {
		ids = append(ids, id)
	}
	for _, id := range ids {
		o.dismiss(o.slots[id])
	}
}

func (o *Orchestrator) dismiss(st *slotState) {
	st.resetEffects()
	if st.container != nil {
		st.container.Remove()
		st.container = nil
	}
	if st.welcome {
		o.surface.RemoveOverlay()
	}
	st.pending = nil
	delete(o.slots, st.id)
	o.unpublish(st.id)
	o.tracker.Forget(st.id)
	o.emit(events.Event{Name: events.Dismiss, SlotID: st.id, Token: st.token})
}

// Dispatch executes a host command received over the messaging channel.
func (o *Orchestrator) Dispatch(cmd messaging.Command) error {
	switch cmd.Kind {
	case messaging.KindStart:
		_, err := o.Start(StartRequest{
			SlotID:     cmd.SlotID,
			BannerType: cmd.BannerType,
			AdSize:     cmd.AdSize,
			PositionID: cmd.PositionID,
		})
		return err
	case messaging.KindRender:
		ad, err := fetch.Decode(cmd.Payload, o.cfg.Welcome())
		if err != nil {
			return err
		}
		return o.Render(cmd.SlotID, ad)
	case messaging.KindDismiss:
		o.Dismiss(cmd.SlotID)
		return nil
	case messaging.KindRefresh:
		return o.Refresh(cmd.SlotID)
	case messaging.KindDestroy:
		o.DestroyAll()
		return nil
	default:
		return errs.New("delivery/dispatch", errs.CodeInvalid, errs.WithField("type", string(cmd.Kind)))
	}
}
