package vast

import "time"

// Milestone is a playback event that fires at most once per session.
type Milestone string

const (
	MilestoneStart         Milestone = "start"
	MilestoneFirstQuartile Milestone = "firstQuartile"
	MilestoneMidpoint      Milestone = "midpoint"
	MilestoneThirdQuartile Milestone = "thirdQuartile"
	MilestoneComplete      Milestone = "complete"
)

var quartiles = []struct {
	percent   float64
	milestone Milestone
}{
	{25, MilestoneFirstQuartile},
	{50, MilestoneMidpoint},
	{75, MilestoneThirdQuartile},
	{100, MilestoneComplete},
}

// Playback latches start, the {25, 50, 75, 100} quartiles and completion for one session.
// It is not safe for concurrent use.
type Playback struct {
	fired map[Milestone]bool
}

// NewPlayback starts a fresh session.
func NewPlayback() *Playback {
	return &Playback{fired: make(map[Milestone]bool, 5)}
}

// Play records first play.
func (p *Playback) Play() []Milestone {
	return p.latch(nil, MilestoneStart)
}

// Progress records the playhead and returns the milestones crossed for the first time.
// Progress implies playback has started.
func (p *Playback) Progress(position, duration time.Duration) []Milestone {
	out := p.latch(nil, MilestoneStart)
	if duration <= 0 || position < 0 {
		return out
	}
	pct := float64(position) / float64(duration) * 100
	for _, q := range quartiles {
		if pct >= q.percent {
			out = p.latch(out, q.milestone)
		}
	}
	return out
}

// Ended records end of media.
func (p *Playback) Ended() []Milestone {
	return p.latch(nil, MilestoneComplete)
}

// Fired reports whether m has fired in this session.
func (p *Playback) Fired(m Milestone) bool { return p.fired[m] }

func (p *Playback) latch(out []Milestone, m Milestone) []Milestone {
	if p.fired[m] {
		return out
	}
	p.fired[m] = true
	return append(out, m)
}
