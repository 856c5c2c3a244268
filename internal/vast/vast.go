// Package vast parses VAST video ad markup and tracks playback milestones.
package vast

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/coachpo/adslot/errs"
)

// Ad is the linear creative extracted from a VAST document.
type Ad struct {
	MediaURL      string
	MediaType     string
	ClickThrough  string
	ClickTracking []string
	Impressions   []string
	Errors        []string
	// Tracking maps a VAST event name (start, firstQuartile, midpoint, thirdQuartile,
	// complete, mute, unmute, skip, ...) to its pixel URLs.
	Tracking map[string][]string
	Duration time.Duration
	// Skip is nil when the creative is not skippable.
	Skip *Offset
}

// Offset is a skip offset expressed as a fixed time or as a fraction of the duration.
type Offset struct {
	Time    time.Duration
	Percent float64
	percent bool
}

// IsPercent reports whether the offset is relative to the media duration.
func (o Offset) IsPercent() bool { return o.percent }

// Resolve returns the offset as a time given the media duration. A percentage offset
// with an unknown duration resolves to zero.
func (o Offset) Resolve(duration time.Duration) time.Duration {
	if !o.percent {
		return o.Time
	}
	if duration <= 0 {
		return 0
	}
	return time.Duration(float64(duration) * o.Percent / 100)
}

type document struct {
	XMLName xml.Name `xml:"VAST"`
	Version string   `xml:"version,attr"`
	Ads     []adNode `xml:"Ad"`
	Errors  []string `xml:"Error"`
}

type adNode struct {
	ID      string      `xml:"id,attr"`
	InLine  *inlineNode `xml:"InLine"`
	Wrapper *inlineNode `xml:"Wrapper"`
}

type inlineNode struct {
	Impressions []string       `xml:"Impression"`
	Errors      []string       `xml:"Error"`
	Creatives   []creativeNode `xml:"Creatives>Creative"`
}

type creativeNode struct {
	Linear *linearNode `xml:"Linear"`
}

type linearNode struct {
	SkipOffset *string        `xml:"skipoffset,attr"`
	Duration   string         `xml:"Duration"`
	Tracking   []trackingNode `xml:"TrackingEvents>Tracking"`
	MediaFiles []mediaNode    `xml:"MediaFiles>MediaFile"`
	Clicks     clicksNode     `xml:"VideoClicks"`
}

type trackingNode struct {
	Event string `xml:"event,attr"`
	URL   string `xml:",chardata"`
}

type mediaNode struct {
	Type string `xml:"type,attr"`
	URL  string `xml:",chardata"`
}

type clicksNode struct {
	ClickThrough  string   `xml:"ClickThrough"`
	ClickTracking []string `xml:"ClickTracking"`
}

// Parse extracts the first linear creative of a VAST document.
func Parse(markup []byte) (*Ad, error) {
	if len(bytes.TrimSpace(markup)) == 0 {
		return nil, errs.New("vast/parse", errs.CodeParse, errs.WithMessage("empty document"))
	}
	var doc document
	if err := xml.Unmarshal(markup, &doc); err != nil {
		return nil, errs.New("vast/parse", errs.CodeParse, errs.WithMessage("invalid VAST XML"), errs.WithCause(err))
	}

	ad := &Ad{Tracking: make(map[string][]string)}
	ad.Errors = appendTrimmed(ad.Errors, doc.Errors...)

	var linear *linearNode
	for _, node := range doc.Ads {
		body := node.InLine
		if body == nil {
			body = node.Wrapper
		}
		if body == nil {
			continue
		}
		ad.Impressions = appendTrimmed(ad.Impressions, body.Impressions...)
		ad.Errors = appendTrimmed(ad.Errors, body.Errors...)
		for i := range body.Creatives {
			if l := body.Creatives[i].Linear; l != nil {
				if linear == nil {
					linear = l
				}
				collectTracking(ad.Tracking, l.Tracking)
			}
		}
	}
	if linear == nil {
		return nil, errs.New("vast/parse", errs.CodeParse, errs.WithMessage("no linear creative found"))
	}

	ad.MediaURL, ad.MediaType = pickMedia(linear.MediaFiles)
	if ad.MediaURL == "" {
		return nil, errs.New("vast/parse", errs.CodeParse, errs.WithMessage("no MediaFile found"))
	}
	ad.ClickThrough = strings.TrimSpace(linear.Clicks.ClickThrough)
	ad.ClickTracking = appendTrimmed(nil, linear.Clicks.ClickTracking...)

	if d := strings.TrimSpace(linear.Duration); d != "" {
		dur, err := parseClock(d)
		if err != nil {
			return nil, errs.New("vast/parse", errs.CodeParse, errs.WithMessage("invalid Duration"), errs.WithCause(err))
		}
		ad.Duration = dur
	}
	if linear.SkipOffset != nil {
		off, err := ParseOffset(*linear.SkipOffset)
		if err != nil {
			return nil, errs.New("vast/parse", errs.CodeParse, errs.WithMessage("invalid skipoffset"), errs.WithCause(err))
		}
		ad.Skip = &off
	}
	return ad, nil
}

// ParseOffset parses a skip offset in literal seconds, HH:MM:SS(.mmm) or percentage form.
func ParseOffset(raw string) (Offset, error) {
	s := strings.TrimSpace(raw)
	switch {
	case s == "":
		return Offset{}, fmt.Errorf("empty offset")
	case strings.HasSuffix(s, "%"):
		pct, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(s, "%")), 64)
		if err != nil || pct < 0 || pct > 100 {
			return Offset{}, fmt.Errorf("invalid percentage %q", raw)
		}
		return Offset{Percent: pct, percent: true}, nil
	case strings.Contains(s, ":"):
		d, err := parseClock(s)
		if err != nil {
			return Offset{}, err
		}
		return Offset{Time: d}, nil
	default:
		secs, err := strconv.ParseFloat(s, 64)
		if err != nil || secs < 0 {
			return Offset{}, fmt.Errorf("invalid seconds %q", raw)
		}
		return Offset{Time: time.Duration(secs * float64(time.Second))}, nil
	}
}

func parseClock(s string) (time.Duration, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("expected HH:MM:SS, got %q", s)
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil || hours < 0 {
		return 0, fmt.Errorf("invalid hours in %q", s)
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("invalid minutes in %q", s)
	}
	seconds, err := strconv.ParseFloat(parts[2], 64)
	if err != nil || seconds < 0 || seconds >= 60 {
		return 0, fmt.Errorf("invalid seconds in %q", s)
	}
	total := time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute +
		time.Duration(seconds*float64(time.Second))
	return total, nil
}

func pickMedia(files []mediaNode) (string, string) {
	var firstURL, firstType string
	for _, f := range files {
		u := strings.TrimSpace(f.URL)
		if u == "" {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(f.Type), "video/mp4") {
			return u, "video/mp4"
		}
		if firstURL == "" {
			firstURL, firstType = u, strings.TrimSpace(f.Type)
		}
	}
	return firstURL, firstType
}

func collectTracking(dst map[string][]string, nodes []trackingNode) {
	for _, n := range nodes {
		event := strings.TrimSpace(n.Event)
		u := strings.TrimSpace(n.URL)
		if event == "" || u == "" {
			continue
		}
		dst[event] = append(dst[event], u)
	}
}

func appendTrimmed(dst []string, values ...string) []string {
	for _, v := range values {
		if t := strings.TrimSpace(v); t != "" {
			dst = append(dst, t)
		}
	}
	return dst
}
