package delivery

import (
	"fmt"
	"time"

	"github.com/coachpo/adslot/errs"
	"github.com/coachpo/adslot/internal/config"
	"github.com/coachpo/adslot/internal/events"
	"github.com/coachpo/adslot/internal/fetch"
	"github.com/coachpo/adslot/internal/skip"
	"github.com/coachpo/adslot/internal/surface"
	"github.com/coachpo/adslot/internal/telemetry"
	"github.com/coachpo/adslot/internal/track"
)

const (
	fallbackText        = "Ad unavailable"
	welcomeFadeDuration = 300 * time.Millisecond
	closeButtonSize     = 32
)

// render dispatches the current ad of st to its format strategy.
func (o *Orchestrator) render(st *slotState) {
	if st.container == nil || st.ad == nil {
		o.debugf("render aborted slot=%s token=%d", st.id, st.token)
		o.renderFallback(st)
		return
	}
	switch st.ad.Format {
	case fetch.FormatImage:
		o.addCloseButton(st)
		o.renderImage(st)
	case fetch.FormatDocument:
		o.addCloseButton(st)
		o.renderDocument(st)
	case fetch.FormatVideo:
		o.renderVideo(st)
	default:
		o.debugf("unsupported ad source %q for slot %s", st.ad.Source, st.id)
		o.renderFallback(st)
	}
}

// renderFallback shows the neutral placeholder and settles the callback with fallback.
func (o *Orchestrator) renderFallback(st *slotState) {
	if st.container != nil {
		st.container.ShowPlaceholder(fallbackText)
		if st.welcome {
			st.container.SetOpacity(1)
		}
	}
	st.rendered = true
	st.fallback = true
	st.phase = PhaseRendered
	o.publish(st)
	o.emit(events.Event{Name: events.Rendered, SlotID: st.id, Token: st.token, Fallback: true})
	o.metrics.render(string(st.format), telemetry.ResultFallback, o.clock.Now().Sub(st.started))
	o.settle(st, StatusFallback, nil)
}

// degrade handles a terminal render error: one error event and one error callback. The welcome
// overlay fades out and dismisses; other slots show the placeholder.
func (o *Orchestrator) degrade(st *slotState, err error) {
	st.clearTimer(timerRender)
	st.setCountdown(nil)
	st.phase = PhaseFailed
	st.fallback = true
	if st.ad != nil {
		o.tracker.FireOnce(track.Beacon{Type: track.Error, SlotID: st.id, Token: st.token, URLs: st.ad.TrackingURLs("error")})
	}
	o.publish(st)
	o.emit(events.Event{Name: events.Error, SlotID: st.id, Token: st.token, Code: string(errs.CodeOf(err)), Message: err.Error(), Err: err})
	o.metrics.render(string(st.format), telemetry.ResultError, 0)

	if st.welcome {
		if st.container != nil {
			st.container.SetOpacity(0)
		}
		o.after(st, timerFade, welcomeFadeDuration, o.dismiss)
	} else if st.container != nil {
		st.container.ShowPlaceholder(fallbackText)
	}
	o.settle(st, StatusError, err)
}

// markRendered records a successful render and starts the post-render effects.
func (o *Orchestrator) markRendered(st *slotState) {
	st.rendered = true
	st.phase = PhaseRendered
	st.clearTimer(timerRender)
	if st.welcome {
		st.container.SetOpacity(1)
	}
	o.publish(st)
	o.emit(events.Event{Name: events.Rendered, SlotID: st.id, Token: st.token, Format: string(st.ad.Format)})
	o.metrics.render(string(st.ad.Format), telemetry.ResultSuccess, o.clock.Now().Sub(st.started))
}

// partnerSkip reports whether the slot shows the partner close button.
func (o *Orchestrator) partnerSkip(st *slotState) bool {
	if st.welcome {
		return o.cfg.PartnerSkipButton || o.cfg.WelcomeSkipButton
	}
	return o.cfg.PartnerSkipButton && st.bannerType() == config.BannerOverlay
}

// addCloseButton installs the hidden partner close button. It is revealed when the skip offset elapses.
func (o *Orchestrator) addCloseButton(st *slotState) {
	if !o.partnerSkip(st) {
		return
	}
	btn := st.container.AddControl(surface.ControlClose, "✕", o.guard(st, o.closeClicked))
	btn.SetVisible(false)
	st.closeButton = btn
}

func (o *Orchestrator) closeClicked(st *slotState) {
	if st.closeButton == nil {
		return
	}
	o.emit(events.Event{Name: events.Skip, SlotID: st.id, Token: st.token})
	o.tracker.Fire(track.Beacon{Type: track.Skipped, SlotID: st.id, Token: st.token, URLs: st.ad.TrackingURLs("skip")})
	st.closeButton.SetVisible(false)
	if st.welcome {
		st.container.SetOpacity(0)
		o.after(st, timerFade, welcomeFadeDuration, o.dismiss)
	}
}

// startSkip reveals the close button after the ad's skip offset. The welcome overlay also
// shows the remaining seconds.
func (o *Orchestrator) startSkip(st *slotState) {
	if st.closeButton == nil {
		return
	}
	var offset time.Duration
	if st.ad.SkipOffset != nil {
		offset = *st.ad.SkipOffset
	}
	var label surface.Control
	if st.welcome && offset > 0 {
		label = st.container.AddControl(surface.ControlStatus, welcomeCountdownText(skip.CeilSeconds(offset)), nil)
	}
	btn := st.closeButton
	onTick := func(remaining int) {
		o.guard(st, func(*slotState) {
			if label != nil {
				label.SetText(welcomeCountdownText(remaining))
			}
		})()
	}
	onReady := o.guard(st, func(*slotState) {
		btn.SetVisible(true)
		if label != nil {
			label.Remove()
		}
	})
	st.setCountdown(skip.StartCountdown(o.clock, offset, onTick, onReady))
}

func welcomeCountdownText(seconds int) string {
	return fmt.Sprintf("Bỏ qua sau %d giây", seconds)
}

// clickThrough opens the click-through URL, fires click tracking and emits click.
func (o *Orchestrator) clickThrough(st *slotState, target string, urls []string) {
	if target != "" {
		o.surface.Open(target)
	}
	o.tracker.Fire(track.Beacon{Type: track.Click, SlotID: st.id, Token: st.token, URLs: urls})
	o.emit(events.Event{Name: events.Click, SlotID: st.id, Token: st.token, URL: target})
}

func (o *Orchestrator) impression(st *slotState, urls []string) {
	o.tracker.FireOnce(track.Beacon{Type: track.Impression, SlotID: st.id, Token: st.token, URLs: urls})
}

func adClickURLs(ad *fetch.Ad) []string {
	urls := append([]string(nil), ad.ClickTracking...)
	return append(urls, ad.TrackingURLs("click")...)
}
