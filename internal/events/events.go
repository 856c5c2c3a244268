// Package events defines the lifecycle notifications emitted by the delivery orchestrator.
package events

import (
	"time"
)

// Name identifies a lifecycle event.
type Name string

const (
	Start             Name = "start"
	Request           Name = "request"
	Loaded            Name = "loaded"
	Rendered          Name = "rendered"
	Error             Name = "error"
	Click             Name = "click"
	Skip              Name = "skip"
	Dismiss           Name = "dismiss"
	Destroy           Name = "destroy"
	InDelay           Name = "inDelay"
	VASTSkipTimer     Name = "vast_skip_timer_start"
	VASTSkipAvailable Name = "vast_skip_available"
	VASTSkipped       Name = "vast_skipped"

	// Any subscribes a handler to every event.
	Any Name = "*"
)

// Event is a single lifecycle notification. Fields irrelevant to Name are zero.
type Event struct {
	Name      Name      `json:"event"`
	SlotID    string    `json:"slotId,omitempty"`
	Token     uint64    `json:"token,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	Format   string `json:"format,omitempty"`
	Fallback bool   `json:"fallback,omitempty"`
	URL      string `json:"url,omitempty"`
	// Remaining is the delay or skip time left, rounded up to whole seconds.
	Remaining int    `json:"remaining,omitempty"`
	Message   string `json:"message,omitempty"`
	Code      string `json:"code,omitempty"`

	Err error `json:"-"`
}

// Handler receives events synchronously on the emitting goroutine.
type Handler func(Event)
