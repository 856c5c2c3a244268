package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/coachpo/adslot/errs"
	"github.com/coachpo/adslot/internal/events"
	"github.com/coachpo/adslot/internal/skip"
	"github.com/coachpo/adslot/internal/surface"
	"github.com/coachpo/adslot/internal/track"
	"github.com/coachpo/adslot/internal/vast"
)

const (
	videoFadeDuration = 800 * time.Millisecond
	mutedLabel        = "🔇"
	unmutedLabel      = "🔊"
	playingLabel      = "Ad playing..."
	skipReadyLabel    = "Skip Ad ▶"
)

var milestoneBeacons = map[vast.Milestone]track.Type{
	vast.MilestoneStart:         track.Start,
	vast.MilestoneFirstQuartile: track.Quartile25,
	vast.MilestoneMidpoint:      track.Quartile50,
	vast.MilestoneThirdQuartile: track.Quartile75,
	vast.MilestoneComplete:      track.Complete,
}

// renderVideo fetches and parses the VAST document off the loop, then builds the player.
func (o *Orchestrator) renderVideo(st *slotState) {
	source := st.ad.ContentRef
	if source == "" {
		o.degrade(st, errs.New("delivery/vast", errs.CodeAborted, errs.WithSlot(st.id),
			errs.WithMessage("VAST url missing")))
		return
	}
	ctx, cancel := context.WithCancel(o.ctx)
	st.fetchCancel = cancel
	o.workers.Go(func() {
		defer cancel()
		markup, err := o.fetcher.Document(ctx, source, o.cfg.VASTTimeout)
		var doc *vast.Ad
		if err == nil {
			doc, err = vast.Parse(markup)
		}
		o.guard(st, func(cur *slotState) { o.vastLoaded(cur, doc, err) })()
	})
}

func (o *Orchestrator) vastLoaded(st *slotState, doc *vast.Ad, err error) {
	st.fetchCancel = nil
	if err != nil {
		code := errs.CodeOf(err)
		if code == "" {
			code = errs.CodeParse
		}
		o.degrade(st, errs.New("delivery/vast", code, errs.WithSlot(st.id),
			errs.WithMessage("VAST render error"), errs.WithCause(err)))
		return
	}

	st.playback = vast.NewPlayback()
	var armSkip func(*slotState, time.Duration)
	video := st.container.ShowVideo(doc.MediaURL, surface.VideoHandlers{
		OnPlay: o.guard(st, func(cur *slotState) {
			o.fireMilestones(cur, doc, cur.playback.Play())
		}),
		OnProgress: func(position, duration float64) {
			o.guard(st, func(cur *slotState) {
				if armSkip != nil && duration > 0 {
					arm := armSkip
					armSkip = nil
					arm(cur, seconds(duration))
				}
				o.fireMilestones(cur, doc, cur.playback.Progress(seconds(position), seconds(duration)))
			})()
		},
		OnEnded: o.guard(st, func(cur *slotState) { o.videoEnded(cur, doc) }),
		OnError: func(err error) {
			o.guard(st, func(cur *slotState) {
				o.tracker.FireOnce(track.Beacon{Type: track.Error, SlotID: cur.id, Token: cur.token, URLs: doc.Errors})
				o.degrade(cur, errs.New("delivery/vast", errs.CodeAborted, errs.WithSlot(cur.id),
					errs.WithMessage("media error"), errs.WithCause(err)))
			})()
		},
		OnClick: o.guard(st, func(cur *slotState) {
			if doc.ClickThrough == "" {
				return
			}
			o.clickThrough(cur, doc.ClickThrough, doc.ClickTracking)
		}),
	})
	st.video = video

	var mute surface.Control
	mute = st.container.AddControl(surface.ControlMute, mutedLabel, o.guard(st, func(cur *slotState) {
		muted := !video.Muted()
		video.SetMuted(muted)
		if muted {
			mute.SetText(mutedLabel)
			o.tracker.Fire(track.Beacon{Type: track.VolumeMuted, SlotID: cur.id, Token: cur.token, URLs: doc.Tracking["mute"]})
			return
		}
		mute.SetText(unmutedLabel)
		o.tracker.Fire(track.Beacon{Type: track.VolumeOn, SlotID: cur.id, Token: cur.token, URLs: doc.Tracking["unmute"]})
	}))

	if doc.Skip != nil {
		armSkip = o.startVideoSkip(st, doc)
	} else {
		st.container.AddControl(surface.ControlStatus, playingLabel, nil)
	}

	o.markRendered(st)
	o.settle(st, StatusSuccess, nil)
}

// startVideoSkip adds the skip button. A percentage offset with no declared duration waits for
// the player to report one; the returned func arms the countdown then, and is nil otherwise.
func (o *Orchestrator) startVideoSkip(st *slotState, doc *vast.Ad) func(*slotState, time.Duration) {
	ready := false
	allowAfter := 0

	var btn surface.Control
	btn = st.container.AddControl(surface.ControlSkip, playingLabel, o.guard(st, func(cur *slotState) {
		if !ready {
			return
		}
		ready = false
		o.emit(events.Event{Name: events.VASTSkipped, SlotID: cur.id, Token: cur.token})
		o.tracker.Fire(track.Beacon{Type: track.Skipped, SlotID: cur.id, Token: cur.token, URLs: doc.Tracking["skip"]})
		o.fadeOut(cur, true)
	}))

	arm := func(cur *slotState, duration time.Duration) {
		offset := doc.Skip.Resolve(duration)
		allowAfter = skip.CeilSeconds(offset)
		btn.SetText(skipLabel(allowAfter))
		onTick := func(remaining int) {
			o.guard(cur, func(*slotState) { btn.SetText(skipLabel(remaining)) })()
		}
		onReady := o.guard(cur, func(c *slotState) {
			ready = true
			btn.SetText(skipReadyLabel)
			o.emit(events.Event{Name: events.VASTSkipAvailable, SlotID: c.id, Token: c.token, Remaining: allowAfter})
		})
		cur.setCountdown(skip.StartCountdown(o.clock, offset, onTick, onReady))
		o.emit(events.Event{Name: events.VASTSkipTimer, SlotID: cur.id, Token: cur.token, Remaining: allowAfter})
	}

	if doc.Skip.IsPercent() && doc.Duration <= 0 {
		return arm
	}
	arm(st, doc.Duration)
	return nil
}

func (o *Orchestrator) videoEnded(st *slotState, doc *vast.Ad) {
	o.fireMilestones(st, doc, st.playback.Ended())
	o.fadeOut(st, st.welcome)
}

// fadeOut fades the container and optionally dismisses the slot once the fade completes.
func (o *Orchestrator) fadeOut(st *slotState, dismiss bool) {
	st.container.SetOpacity(0)
	o.after(st, timerFade, videoFadeDuration, func(cur *slotState) {
		if dismiss {
			o.dismiss(cur)
		}
	})
}

func (o *Orchestrator) fireMilestones(st *slotState, doc *vast.Ad, milestones []vast.Milestone) {
	for _, m := range milestones {
		typ, ok := milestoneBeacons[m]
		if !ok {
			continue
		}
		if m == vast.MilestoneStart {
			o.impression(st, doc.Impressions)
		}
		o.tracker.FireOnce(track.Beacon{Type: typ, SlotID: st.id, Token: st.token, URLs: doc.Tracking[string(m)]})
	}
}

func skipLabel(seconds int) string {
	return fmt.Sprintf("Skip in %ds", seconds)
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
