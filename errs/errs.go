// Package errs provides structured error types and helpers for adslot components.
package errs

import (
	"errors"
	"sort"
	"strconv"
	"strings"
)

// Code identifies a delivery error category.
type Code string

const (
	// CodeConfig indicates a missing or malformed configuration or start parameter.
	CodeConfig Code = "config"
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_request"
	// CodeNotFound indicates a missing slot or resource.
	CodeNotFound Code = "not_found"
	// CodeTransport indicates the ad-decision fetch failed after all retries.
	CodeTransport Code = "transport"
	// CodeTimeout indicates a network attempt exceeded its deadline.
	CodeTimeout Code = "timeout"
	// CodeStale indicates work superseded by a newer start for the same slot.
	CodeStale Code = "stale"
	// CodeRenderTimeout indicates an embedded document never signalled completion.
	CodeRenderTimeout Code = "render_timeout"
	// CodeParse indicates a malformed payload or VAST document.
	CodeParse Code = "parse"
	// CodeCallback indicates a host callback or event handler failed.
	CodeCallback Code = "callback"
	// CodeAborted indicates a render that could not proceed.
	CodeAborted Code = "aborted"
	// CodeUnavailable indicates the component is closed or temporarily unavailable.
	CodeUnavailable Code = "unavailable"
)

// E captures structured error information produced across the delivery stack.
type E struct {
	Op       string
	Code     Code
	Slot     string
	HTTP     int
	Message  string
	Metadata map[string]string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the operation and error code.
func New(op string, code Code, opts ...Option) *E {
	e := &E{
		Op:       strings.TrimSpace(op),
		Code:     code,
		Slot:     "",
		HTTP:     0,
		Message:  "",
		Metadata: nil,
		cause:    nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithSlot records the slot the failure belongs to.
func WithSlot(slotID string) Option {
	trimmed := strings.TrimSpace(slotID)
	return func(e *E) {
		e.Slot = trimmed
	}
}

// WithHTTP records the associated HTTP status code.
func WithHTTP(status int) Option {
	return func(e *E) {
		e.HTTP = status
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

// WithField appends a single metadata key/value pair.
func WithField(key, value string) Option {
	return func(e *E) {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			return
		}
		if e.Metadata == nil {
			e.Metadata = make(map[string]string, 1)
		}
		e.Metadata[trimmedKey] = strings.TrimSpace(value)
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	op := strings.TrimSpace(e.Op)
	if op == "" {
		op = "unknown"
	}
	parts = append(parts, "op="+op)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.Slot != "" {
		parts = append(parts, "slot="+strconv.Quote(e.Slot))
	}
	if e.HTTP > 0 {
		parts = append(parts, "http="+strconv.Itoa(e.HTTP))
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if len(e.Metadata) > 0 {
		keys := make([]string, 0, len(e.Metadata))
		for k := range e.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, k+"="+strconv.Quote(e.Metadata[k]))
		}
		parts = append(parts, "meta="+strings.Join(pairs, ","))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// Is reports whether any error in err's chain is an envelope carrying code.
func Is(err error, code Code) bool {
	var e *E
	for err != nil {
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.cause
	}
	return false
}

// CodeOf returns the code of the outermost envelope in err's chain, or "" when none.
func CodeOf(err error) Code {
	var e *E
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
