// Package telemetry provides semantic conventions for adslot observability.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Semantic convention attribute keys for adslot-specific telemetry.
// Following OpenTelemetry naming conventions: namespace.attribute_name
const (
	// Slot attributes
	AttrSlotID     = attribute.Key("slot.id")
	AttrBannerType = attribute.Key("banner.type")
	AttrAdFormat   = attribute.Key("ad.format")

	// Event attributes
	AttrEventName = attribute.Key("event.name")
	AttrBeacon    = attribute.Key("beacon.type")

	// Operation attributes
	AttrOperation = attribute.Key("operation")
	AttrResult    = attribute.Key("result")
	AttrAttempt   = attribute.Key("attempt")

	// Environment attribute
	AttrEnvironment = attribute.Key("environment")

	// Error attributes
	AttrErrorType = attribute.Key("error.type")
	AttrReason    = attribute.Key("reason")

	// Connection attributes
	AttrConnectionState = attribute.Key("connection.state")
)

// Result values
const (
	ResultSuccess  = "success"
	ResultError    = "error"
	ResultFallback = "fallback"
	ResultDelay    = "delay"
	ResultStale    = "stale"
	ResultTimeout  = "timeout"
	ResultDropped  = "dropped"
)

// Helper functions for creating common attribute sets

// SlotAttributes returns common attributes for per-slot delivery metrics.
func SlotAttributes(environment, bannerType, result string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrBannerType.String(bannerType),
		AttrResult.String(result),
	}
}

// RenderAttributes returns attributes for render outcome metrics.
func RenderAttributes(environment, format, result string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrAdFormat.String(format),
		AttrResult.String(result),
	}
}

// EventAttributes returns attributes for emitted lifecycle event metrics.
func EventAttributes(environment, eventName string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrEventName.String(eventName),
	}
}

// BeaconAttributes returns attributes for tracking beacon metrics.
func BeaconAttributes(environment, beacon, result string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrBeacon.String(beacon),
		AttrResult.String(result),
	}
}

// ErrorAttributes returns attributes for error metrics.
func ErrorAttributes(environment, errorType, reason string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrErrorType.String(errorType),
		AttrReason.String(reason),
	}
}

// OperationResultAttributes returns attributes for operation metrics with result classification.
func OperationResultAttributes(environment, operation, result string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrOperation.String(operation),
		AttrResult.String(result),
	}
}

// ConnectionAttributes returns attributes for control channel connection metrics.
func ConnectionAttributes(environment, state string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrConnectionState.String(state),
	}
}
