package delivery

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/adslot/internal/telemetry"
)

type deliveryMetrics struct {
	starts         metric.Int64Counter
	renders        metric.Int64Counter
	stale          metric.Int64Counter
	callbackPanics metric.Int64Counter
	loopPanics     metric.Int64Counter
	renderDuration metric.Float64Histogram
}

func newDeliveryMetrics() deliveryMetrics {
	meter := otel.Meter("delivery")
	var m deliveryMetrics
	m.starts, _ = meter.Int64Counter("delivery.starts",
		metric.WithDescription("Slot starts by banner type and result"),
		metric.WithUnit("{start}"))
	m.renders, _ = meter.Int64Counter("delivery.renders",
		metric.WithDescription("Completed renders by format and result"),
		metric.WithUnit("{render}"))
	m.stale, _ = meter.Int64Counter("delivery.stale",
		metric.WithDescription("Continuations dropped because a newer start superseded them"),
		metric.WithUnit("{continuation}"))
	m.callbackPanics, _ = meter.Int64Counter("delivery.callback.panics",
		metric.WithDescription("Recovered start callback panics"),
		metric.WithUnit("{panic}"))
	m.loopPanics, _ = meter.Int64Counter("delivery.loop.panics",
		metric.WithDescription("Recovered panics in orchestrator tasks"),
		metric.WithUnit("{panic}"))
	m.renderDuration, _ = meter.Float64Histogram("delivery.render.duration",
		metric.WithDescription("Time from start to rendered"),
		metric.WithUnit("ms"))
	return m
}

func (m deliveryMetrics) start(bannerType, result string) {
	if m.starts == nil {
		return
	}
	m.starts.Add(context.Background(), 1,
		metric.WithAttributes(telemetry.SlotAttributes(telemetry.Environment(), bannerType, result)...))
}

func (m deliveryMetrics) render(format, result string, elapsed time.Duration) {
	attrs := metric.WithAttributes(telemetry.RenderAttributes(telemetry.Environment(), format, result)...)
	if m.renders != nil {
		m.renders.Add(context.Background(), 1, attrs)
	}
	if m.renderDuration != nil && elapsed > 0 {
		m.renderDuration.Record(context.Background(), float64(elapsed.Microseconds())/1000.0, attrs)
	}
}

func (m deliveryMetrics) staleDrop(stage string) {
	if m.stale == nil {
		return
	}
	m.stale.Add(context.Background(), 1,
		metric.WithAttributes(telemetry.OperationResultAttributes(telemetry.Environment(), stage, telemetry.ResultStale)...))
}

func (m deliveryMetrics) callbackPanic() {
	if m.callbackPanics == nil {
		return
	}
	m.callbackPanics.Add(context.Background(), 1,
		metric.WithAttributes(telemetry.ErrorAttributes(telemetry.Environment(), "callback", "panic")...))
}

func (m deliveryMetrics) loopPanic() {
	if m.loopPanics == nil {
		return
	}
	m.loopPanics.Add(context.Background(), 1,
		metric.WithAttributes(telemetry.ErrorAttributes(telemetry.Environment(), "loop", "panic")...))
}
