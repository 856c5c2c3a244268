// Package track fires fire-and-forget tracking beacons for delivery lifecycle milestones.
package track

import (
	"context"
	"time"
)

// Type names a tracked milestone.
type Type string

const (
	Request     Type = "REQUEST"
	Start       Type = "START"
	Impression  Type = "IMPRESSION"
	Click       Type = "CLICK"
	Complete    Type = "COMPLETE"
	Skipped     Type = "SKIPPED"
	UserAdBlock Type = "USER_AD_BLOCK"
	VolumeMuted Type = "VOLUME_MUTED"
	VolumeOn    Type = "VOLUME_ON"
	Error       Type = "ERROR"
	Quartile25  Type = "QUARTILE_25"
	Quartile50  Type = "QUARTILE_50"
	Quartile75  Type = "QUARTILE_75"
)

// Beacon describes one milestone and the pixel URLs to request for it.
type Beacon struct {
	Type   Type
	SlotID string
	Token  uint64
	URLs   []string
}

// JournalEntry is the durable record of a fired beacon.
type JournalEntry struct {
	DeviceID string
	SlotID   string
	Type     Type
	Token    uint64
	FiredAt  time.Time
}

// Journal durably records fired beacons.
type Journal interface {
	Record(ctx context.Context, entry JournalEntry) error
}
