package fetch

import (
	"net/url"
	"strings"

	"github.com/coachpo/adslot/internal/config"
)

// Request is one ad-decision request for a slot.
type Request struct {
	SlotID     string
	BannerType config.BannerType
	AdSize     string
	PositionID string
	// Signature and DeviceID come from the identity signer.
	Signature string
	DeviceID  string
}

// BuildURL renders the query-string contract of the ad server for req.
func BuildURL(cfg config.SDK, req Request) (string, error) {
	u, err := url.Parse(cfg.Endpoint())
	if err != nil {
		return "", err
	}
	t := cfg.Targeting
	q := u.Query()
	set := func(key, value string) {
		if v := strings.TrimSpace(value); v != "" {
			q.Set(key, v)
		}
	}
	set("t", cfg.TenantID)
	set("sid", cfg.StreamID)
	set("cid", t.ChannelID)
	set("p", string(t.Platform))
	set("dt", string(t.DeviceType))
	set("d", req.DeviceID)
	set("ai", t.AdID)
	set("ct", t.ContentType)
	set("tt", t.Title)
	set("ti", t.TransID)
	set("ctg", t.Category)
	set("kw", t.Keyword)
	set("a", t.Age)
	set("gd", string(t.Gender))
	set("sm", t.Segments)
	set("si", req.Signature)
	set("bt", string(req.BannerType))
	set("as", req.AdSize)
	positionID := req.PositionID
	if positionID == "" {
		positionID = cfg.PositionID
	}
	set("pid", positionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
