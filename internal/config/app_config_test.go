package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatalf("expected error when config file missing")
	}
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "slotd.yaml")
	yaml := `
sdk:
  tenantId: " 21 "
  streamId: live-7
  env: production
  type: welcome
  targeting:
    platform: android
    gender: female
  fetchTimeout: 2s
  fetchRetries: 4
  renderTimeout: 1500ms
slots:
  - id: hero
    bannerType: overlay
    autoStart: true
identity:
  store: memory
control:
  addr: ":9999"
  path: ws
telemetry:
  serviceName: test-service
  enableMetrics: false
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}

	cfg, err := Load(context.Background(), path)
	require.NoError(t, err)

	require.Equal(t, "21", cfg.SDK.TenantID)
	require.Equal(t, EnvProduction, cfg.SDK.Env)
	require.Equal(t, TypeWelcome, cfg.SDK.Type)
	require.Equal(t, PlatformAndroid, cfg.SDK.Targeting.Platform)
	require.Equal(t, GenderFemale, cfg.SDK.Targeting.Gender)
	require.Equal(t, 2*time.Second, cfg.SDK.FetchTimeout)
	require.Equal(t, 4, cfg.SDK.FetchRetries)
	require.Equal(t, DefaultFetchBackoff, cfg.SDK.FetchBackoff)
	require.Equal(t, 1500*time.Millisecond, cfg.SDK.RenderTimeout)
	require.Equal(t, "/ws", cfg.Control.Path)
	require.Len(t, cfg.Slots, 1)
	require.Equal(t, BannerOverlay, cfg.Slots[0].BannerType)
	require.Equal(t, "https://pubads-wiinvent.tv360.vn/v1/adserving/welcome/campaign", cfg.SDK.Endpoint())
}

func TestLoadRejectsDuplicateSlots(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dup.yaml")
	body := `
sdk:
  streamId: s
slots:
  - id: a
  - id: a
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	_, err := Load(context.Background(), path)
	require.ErrorContains(t, err, "duplicate slot id")
}

func TestLoadOrDefaultUsesEnvironment(t *testing.T) {
	t.Setenv("ADSLOT_STREAM_ID", "env-stream")
	t.Setenv("ADSLOT_ENV", "production")

	cfg, err := LoadOrDefault(context.Background(), filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, "env-stream", cfg.SDK.StreamID)
	require.Equal(t, EnvProduction, cfg.SDK.Env)
	require.Equal(t, IdentityFile, cfg.Identity.Store)
}

func TestLoadOrDefaultPropagatesParseErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sdk: [unterminated"), 0o600))

	_, err := LoadOrDefault(context.Background(), path)
	require.ErrorContains(t, err, "unmarshal config")
}

func TestShippedConfigLoads(t *testing.T) {
	cfg, err := Load(context.Background(), filepath.Join("..", "..", "config", "slotd.yaml"))
	require.NoError(t, err)
	require.Len(t, cfg.Slots, 2)
	require.Equal(t, BannerOverlay, cfg.Slots[1].BannerType)
	require.Equal(t, IdentityFile, cfg.Identity.Store)
	require.Equal(t, "/control", cfg.Control.Path)
}
