// Package fetch retrieves ad decisions from the upstream ad server with bounded retries.
package fetch

import (
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/coachpo/adslot/errs"
)

// Format is the render strategy an ad requires.
type Format string

const (
	FormatImage    Format = "image"
	FormatDocument Format = "document"
	FormatVideo    Format = "video"
	FormatUnknown  Format = "unknown"
)

// Dimensions are the intrinsic creative size in pixels.
type Dimensions struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Ad is the normalised ad descriptor consumed by the renderer.
type Ad struct {
	Format Format `json:"format"`
	// Source is the raw bannerSource value reported by the server.
	Source        string              `json:"source"`
	ContentRef    string              `json:"contentRef"`
	Dimensions    Dimensions          `json:"dimensions"`
	ClickThrough  string              `json:"clickThrough,omitempty"`
	ClickTracking []string            `json:"clickTracking,omitempty"`
	Tracking      map[string][]string `json:"tracking,omitempty"`
	SkipOffset    *time.Duration      `json:"skipOffset,omitempty"`
	DelayOffset   *time.Duration      `json:"delayOffset,omitempty"`
}

// TrackingURLs returns the pixel URLs registered for a tracking event name.
func (a *Ad) TrackingURLs(event string) []string {
	if a == nil || a.Tracking == nil {
		return nil
	}
	return a.Tracking[event]
}

// urlList accepts either a single URL string or an array of URLs.
type urlList []string

func (l *urlList) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" || trimmed == "" {
		*l = nil
		return nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var many []string
		if err := json.Unmarshal(data, &many); err != nil {
			return err
		}
		*l = compact(many)
		return nil
	}
	var one string
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	*l = compact([]string{one})
	return nil
}

// seconds accepts a JSON number or numeric string.
type seconds struct {
	set   bool
	value float64
}

func (s *seconds) UnmarshalJSON(data []byte) error {
	trimmed := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if trimmed == "" || trimmed == "null" {
		return nil
	}
	v, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return err
	}
	s.set = true
	s.value = v
	return nil
}

func (s seconds) duration() *time.Duration {
	if !s.set || s.value < 0 {
		return nil
	}
	d := time.Duration(s.value * float64(time.Second))
	return &d
}

type payload struct {
	BannerSource   string             `json:"bannerSource"`
	Content        string             `json:"content"`
	URL            string             `json:"url"`
	RatioWidth     float64            `json:"ratioWidth"`
	RatioHeight    float64            `json:"ratioHeight"`
	ClickThrough   string             `json:"clickThrough"`
	ClickTracking  urlList            `json:"clickTracking"`
	TrackingEvents map[string]urlList `json:"trackingEvents"`
	DelayOffSet    seconds            `json:"delayOffSet"`
	SkipOffSet     seconds            `json:"skipOffSet"`
	SkipOffset     seconds            `json:"skipOffset"`
}

// Decode converts an ad server response body into an Ad. Welcome responses carry the
// creative under url and the skip offset under skipOffset.
func Decode(body []byte, welcome bool) (*Ad, error) {
	if len(strings.TrimSpace(string(body))) == 0 || strings.TrimSpace(string(body)) == "null" {
		return nil, nil
	}
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, errs.New("fetch/decode", errs.CodeParse, errs.WithMessage("invalid ad payload"), errs.WithCause(err))
	}

	source := strings.ToUpper(strings.TrimSpace(p.BannerSource))
	ad := &Ad{
		Format:        FormatFor(source),
		Source:        source,
		Dimensions:    Dimensions{Width: p.RatioWidth, Height: p.RatioHeight},
		ClickThrough:  strings.TrimSpace(p.ClickThrough),
		ClickTracking: []string(p.ClickTracking),
		Tracking:      make(map[string][]string, len(p.TrackingEvents)),
		DelayOffset:   p.DelayOffSet.duration(),
	}
	for name, urls := range p.TrackingEvents {
		if len(urls) > 0 {
			ad.Tracking[name] = []string(urls)
		}
	}

	content := strings.TrimSpace(p.Content)
	if welcome || ad.Format == FormatVideo || content == "" {
		if u := strings.TrimSpace(p.URL); u != "" {
			content = u
		}
	}
	ad.ContentRef = content

	if welcome {
		ad.SkipOffset = p.SkipOffset.duration()
	} else {
		ad.SkipOffset = p.SkipOffSet.duration()
	}
	if ad.SkipOffset == nil {
		if welcome {
			ad.SkipOffset = p.SkipOffSet.duration()
		} else {
			ad.SkipOffset = p.SkipOffset.duration()
		}
	}
	return ad, nil
}

// FormatFor maps a bannerSource value to its render strategy.
func FormatFor(source string) Format {
	switch strings.ToUpper(strings.TrimSpace(source)) {
	case "IMG":
		return FormatImage
	case "URL", "HTML", "SDK":
		return FormatDocument
	case "VAST":
		return FormatVideo
	default:
		return FormatUnknown
	}
}

func compact(values []string) []string {
	out := values[:0]
	for _, v := range values {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
