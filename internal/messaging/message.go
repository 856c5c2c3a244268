// Package messaging decodes cross-context messages: host commands addressed to the
// orchestrator and render signals posted by embedded creative documents.
package messaging

import (
	"bytes"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/coachpo/adslot/errs"
	"github.com/coachpo/adslot/internal/config"
)

// Kind identifies a host command.
type Kind string

const (
	KindStart   Kind = "start"
	KindRender  Kind = "render"
	KindDismiss Kind = "dismiss"
	KindRefresh Kind = "refresh"
	KindDestroy Kind = "destroy"
)

// Command is a decoded host command.
type Command struct {
	Channel    string            `json:"channel"`
	Kind       Kind              `json:"type"`
	SlotID     string            `json:"slotId,omitempty"`
	BannerType config.BannerType `json:"bannerType,omitempty"`
	AdSize     string            `json:"adSize,omitempty"`
	PositionID string            `json:"positionId,omitempty"`
	// Payload is the raw ad payload of a render command.
	Payload json.RawMessage `json:"payload,omitempty"`
}

type commandWire struct {
	Channel    string          `json:"channel"`
	Type       string          `json:"type"`
	SlotID     string          `json:"slotId"`
	DomID      string          `json:"domId"`
	BannerType string          `json:"bannerType"`
	AdSize     string          `json:"adSize"`
	PositionID string          `json:"positionId"`
	Payload    json.RawMessage `json:"payload"`
}

// DecodeCommand parses a host command. slotId and the legacy domId are accepted interchangeably.
// Invalid commands are returned alongside the error so callers can still filter on Channel.
func DecodeCommand(data []byte) (Command, error) {
	var wire commandWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return Command{}, errs.New("messaging/decode", errs.CodeParse, errs.WithCause(err))
	}
	slotID := strings.TrimSpace(wire.SlotID)
	if slotID == "" {
		slotID = strings.TrimSpace(wire.DomID)
	}
	cmd := Command{
		Channel:    strings.TrimSpace(wire.Channel),
		Kind:       Kind(strings.ToLower(strings.TrimSpace(wire.Type))),
		SlotID:     slotID,
		BannerType: config.BannerType(strings.ToUpper(strings.TrimSpace(wire.BannerType))),
		AdSize:     strings.TrimSpace(wire.AdSize),
		PositionID: strings.TrimSpace(wire.PositionID),
		Payload:    wire.Payload,
	}
	switch cmd.Kind {
	case KindStart, KindDismiss, KindRefresh, KindDestroy:
	case KindRender:
		if isNull(cmd.Payload) {
			return cmd, errs.New("messaging/decode", errs.CodeInvalid, errs.WithMessage("render command requires payload"))
		}
	default:
		return cmd, errs.New("messaging/decode", errs.CodeInvalid,
			errs.WithMessage("unknown command type"), errs.WithField("type", string(cmd.Kind)))
	}
	return cmd, nil
}

// Signal is the decoded meaning of a message posted by an embedded document.
type Signal int

const (
	// SignalIgnored covers every message that is not a render-completion signal.
	SignalIgnored Signal = iota
	// SignalRendered reports that the creative finished rendering.
	SignalRendered
)

type signalWire struct {
	ImageLoaded json.RawMessage `json:"imageLoaded"`
	Type        string          `json:"type"`
	Event       string          `json:"event"`
	Action      string          `json:"action"`
}

// DecodeSignal classifies a document message. Accepted render signals are
// {imageLoaded: <truthy>}, {type: "RENDERED"}, {event: "rendered"} and {action: "ADS_LOADED"}.
// Anything else, including non-object payloads, is ignored.
func DecodeSignal(data []byte) Signal {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return SignalIgnored
	}
	var wire signalWire
	if err := json.Unmarshal(trimmed, &wire); err != nil {
		return SignalIgnored
	}
	switch {
	case truthy(wire.ImageLoaded),
		wire.Type == "RENDERED",
		wire.Event == "rendered",
		wire.Action == "ADS_LOADED":
		return SignalRendered
	default:
		return SignalIgnored
	}
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func truthy(raw json.RawMessage) bool {
	trimmed := string(bytes.TrimSpace(raw))
	switch trimmed {
	case "", "null", "false", "0", "-0", `""`:
		return false
	default:
		return true
	}
}
