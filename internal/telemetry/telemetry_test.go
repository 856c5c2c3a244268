package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDisabledProviderFallsBackToGlobalMeter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	cfg.Environment = "PRODUCTION"

	provider, err := NewProvider(context.Background(), cfg)
	require.NoError(t, err)
	require.False(t, provider.Exporting())
	require.NotNil(t, provider.Meter("adslot/test"))
	require.NoError(t, provider.Shutdown(context.Background()))
	require.Equal(t, "production", Environment())
}

func TestDefaultConfigReadsEnvironment(t *testing.T) {
	t.Setenv("OTEL_RESOURCE_ENVIRONMENT", "")
	t.Setenv("ADSLOT_ENV", "SANDBOX")
	t.Setenv("OTEL_SERVICE_NAME", "")
	t.Setenv("OTEL_METRICS_ENABLED", "false")

	cfg := DefaultConfig()
	require.Equal(t, "SANDBOX", cfg.Environment)
	require.Equal(t, "adslot", cfg.ServiceName)
	require.False(t, cfg.EnableMetrics)
}

func TestStripScheme(t *testing.T) {
	require.Equal(t, "collector:4318", stripScheme("https://collector:4318"))
	require.Equal(t, "collector:4318", stripScheme("http://collector:4318"))
	require.Equal(t, "collector:4318", stripScheme("collector:4318/"))
}

func TestHistogramViewsCoverDeliveryInstruments(t *testing.T) {
	require.Len(t, createHistogramViews(), len(histogramBuckets))
}

func TestEnvironmentLabel(t *testing.T) {
	t.Cleanup(func() { SetEnvironment("") })

	SetEnvironment("")
	require.Equal(t, "sandbox", Environment())
	SetEnvironment(" Production ")
	require.Equal(t, "production", Environment())
}
