package events

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/adslot/errs"
	"github.com/coachpo/adslot/internal/telemetry"
)

// SubscriptionID uniquely identifies a handler registration.
type SubscriptionID uint64

// Bus is a synchronous in-process event registry. Handlers run in registration order; a
// panicking handler is recovered and logged without affecting the others.
type Bus struct {
	logger *log.Logger

	mu       sync.RWMutex
	handlers map[Name][]registration
	nextID   SubscriptionID

	emittedCounter metric.Int64Counter
	panicCounter   metric.Int64Counter
}

type registration struct {
	id SubscriptionID
	fn Handler
}

// NewBus constructs an empty bus. A nil logger discards handler failures.
func NewBus(logger *log.Logger) *Bus {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	bus := &Bus{
		logger:   logger,
		handlers: make(map[Name][]registration),
	}

	meter := otel.Meter("events")
	bus.emittedCounter, _ = meter.Int64Counter("events.emitted",
		metric.WithDescription("Number of lifecycle events emitted"),
		metric.WithUnit("{event}"))
	bus.panicCounter, _ = meter.Int64Counter("events.handler.panics",
		metric.WithDescription("Number of recovered handler panics"),
		metric.WithUnit("{panic}"))
	return bus
}

// On registers fn for the named event, or for every event when name is Any.
func (b *Bus) On(name Name, fn Handler) (SubscriptionID, error) {
	if name == "" {
		return 0, errs.New("events/on", errs.CodeInvalid, errs.WithMessage("event name required"))
	}
	if fn == nil {
		return 0, errs.New("events/on", errs.CodeInvalid, errs.WithMessage("handler required"))
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.handlers[name] = append(b.handlers[name], registration{id: id, fn: fn})
	return id, nil
}

// Off removes a registration. Unknown ids are ignored.
func (b *Bus) Off(name Name, id SubscriptionID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	regs := b.handlers[name]
	for i, reg := range regs {
		if reg.id == id {
			next := make([]registration, 0, len(regs)-1)
			next = append(next, regs[:i]...)
			next = append(next, regs[i+1:]...)
			if len(next) == 0 {
				delete(b.handlers, name)
			} else {
				b.handlers[name] = next
			}
			return
		}
	}
}

// Clear drops every registration.
func (b *Bus) Clear() {
	b.mu.Lock()
	b.handlers = make(map[Name][]registration)
	b.mu.Unlock()
}

// Len returns the number of handlers registered for name.
func (b *Bus) Len(name Name) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[name])
}

// Emit delivers evt to the handlers registered for its name followed by wildcard handlers.
func (b *Bus) Emit(evt Event) {
	b.mu.RLock()
	named := b.handlers[evt.Name]
	wildcard := b.handlers[Any]
	targets := make([]registration, 0, len(named)+len(wildcard))
	targets = append(targets, named...)
	targets = append(targets, wildcard...)
	b.mu.RUnlock()

	if b.emittedCounter != nil {
		b.emittedCounter.Add(context.Background(), 1,
			metric.WithAttributes(telemetry.EventAttributes(telemetry.Environment(), string(evt.Name))...))
	}

	for _, reg := range targets {
		b.invoke(reg, evt)
	}
}

func (b *Bus) invoke(reg registration, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			err := errs.New("events/emit", errs.CodeCallback,
				errs.WithSlot(evt.SlotID),
				errs.WithMessage(fmt.Sprintf("handler %d for %q panicked: %v", reg.id, evt.Name, r)))
			b.logger.Printf("%v", err)
			if b.panicCounter != nil {
				b.panicCounter.Add(context.Background(), 1,
					metric.WithAttributes(telemetry.ErrorAttributes(telemetry.Environment(), "handler_panic", string(evt.Name))...))
			}
		}
	}()
	reg.fn(evt)
}
