package delivery

import (
	"context"
	"time"

	"github.com/coachpo/adslot/internal/clock"
	"github.com/coachpo/adslot/internal/config"
	"github.com/coachpo/adslot/internal/fetch"
	"github.com/coachpo/adslot/internal/skip"
	"github.com/coachpo/adslot/internal/surface"
	"github.com/coachpo/adslot/internal/vast"
)

// Phase is the externally visible progress of a slot's current generation.
type Phase string

const (
	PhaseRequesting Phase = "requesting"
	PhaseRendering  Phase = "rendering"
	PhaseRendered   Phase = "rendered"
	PhaseFailed     Phase = "failed"
)

// SlotView is a read-only snapshot of a slot.
type SlotView struct {
	ID         string            `json:"id"`
	Token      uint64            `json:"token"`
	BannerType config.BannerType `json:"bannerType"`
	Phase      Phase             `json:"phase"`
	Format     fetch.Format      `json:"format,omitempty"`
	Fallback   bool              `json:"fallback,omitempty"`
	StartedAt  time.Time         `json:"startedAt"`
}

// Timer slots. A slot holds at most one timer of each kind.
type timerKind string

const (
	timerRender timerKind = "render"
	timerFade   timerKind = "fade"
)

// slotState is owned by the orchestrator loop.
type slotState struct {
	id      string
	token   uint64
	welcome bool
	req     StartRequest
	element surface.Element

	container surface.Container
	ad        *fetch.Ad
	pending   Callback
	phase     Phase
	format    fetch.Format
	fallback  bool
	started   time.Time
	rendered  bool

	fetchCancel context.CancelFunc
	timers      map[timerKind]clock.Timer
	countdown   *skip.Countdown
	listeners   []surface.Cancel
	document    surface.Document
	video       surface.Video
	playback    *vast.Playback
	closeButton surface.Control
}

func newSlotState(id string, welcome bool, element surface.Element) *slotState {
	return &slotState{
		id:      id,
		welcome: welcome,
		element: element,
		timers:  make(map[timerKind]clock.Timer),
	}
}

func (s *slotState) bannerType() config.BannerType {
	if s.req.BannerType == "" {
		return config.BannerDisplay
	}
	return s.req.BannerType
}

// setTimer installs t under kind, stopping any timer it replaces.
func (s *slotState) setTimer(kind timerKind, t clock.Timer) {
	if prev, ok := s.timers[kind]; ok && prev != nil {
		prev.Stop()
	}
	s.timers[kind] = t
}

func (s *slotState) clearTimer(kind timerKind) {
	if t, ok := s.timers[kind]; ok && t != nil {
		t.Stop()
	}
	delete(s.timers, kind)
}

func (s *slotState) setCountdown(cd *skip.Countdown) {
	s.countdown.Stop()
	s.countdown = cd
}

// resetEffects cancels every timer, countdown, listener and in-flight request of the current generation.
func (s *slotState) resetEffects() {
	if s.fetchCancel != nil {
		s.fetchCancel()
		s.fetchCancel = nil
	}
	for kind := range s.timers {
		s.clearTimer(kind)
	}
	s.countdown.Stop()
	s.countdown = nil
	for _, cancel := range s.listeners {
		cancel()
	}
	s.listeners = nil
	if s.document != nil {
		s.document.Detach()
		s.document = nil
	}
	if s.video != nil {
		s.video.Stop()
		s.video = nil
	}
	s.playback = nil
	s.closeButton = nil
}

func (s *slotState) view() SlotView {
	return SlotView{
		ID:         s.id,
		Token:      s.token,
		BannerType: s.bannerType(),
		Phase:      s.phase,
		Format:     s.format,
		Fallback:   s.fallback,
		StartedAt:  s.started,
	}
}
