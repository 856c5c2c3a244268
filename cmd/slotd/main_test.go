package main

import (
	"bytes"
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/adslot/internal/config"
	"github.com/coachpo/adslot/internal/delivery"
	"github.com/coachpo/adslot/internal/events"
	"github.com/coachpo/adslot/internal/fetch"
	"github.com/coachpo/adslot/internal/messaging"
)

func TestResolveConfigPath(t *testing.T) {
	require.Equal(t, "custom.yaml", resolveConfigPath("custom.yaml"))
	require.Equal(t, filepath.Clean(defaultConfigPath), resolveConfigPath(""))
}

func TestInitIdentityStoreFileCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "device.json")
	logger := log.New(io.Discard, "", 0)
	store, journal, pool, err := initIdentityStore(context.Background(), logger, config.IdentityConfig{
		Store: config.IdentityFile,
		Path:  path,
	})
	require.NoError(t, err)
	require.NotNil(t, store)
	require.Nil(t, journal)
	require.Nil(t, pool)

	require.NoError(t, store.Save(context.Background(), "device", "11111111-1111-4111-8111-111111111111"))
	got, err := store.Load(context.Background(), "device")
	require.NoError(t, err)
	require.Equal(t, "11111111-1111-4111-8111-111111111111", got)
}

func TestBuildSurfaceRegistersSlots(t *testing.T) {
	cfg := config.DefaultApp()
	cfg.Slots = []config.SlotConfig{
		{ID: "hero", Width: 300, Height: 250},
		{ID: "footer"},
	}
	surf := buildSurface(log.New(io.Discard, "", 0), cfg)
	require.Equal(t, []string{"footer", "hero"}, surf.IDs())
	require.Equal(t, float64(300), surf.Element("hero").Size().Width)
	require.Equal(t, float64(cfg.Viewport.Width), surf.Element("footer").Size().Width)
}

type nullTransport struct{}

func (nullTransport) Get(context.Context, string) (fetch.Response, error) {
	return fetch.Response{Status: http.StatusOK, Body: []byte("null")}, nil
}

func TestControlServerServesSlotsAndAutoStarts(t *testing.T) {
	cfg := config.DefaultApp()
	cfg.SDK.StreamID = "stream-1"
	cfg.SDK.FetchURL = "http://ads.test/campaign"
	cfg.Slots = []config.SlotConfig{
		{ID: "hero", BannerType: config.BannerDisplay, AutoStart: true},
		{ID: "idle", BannerType: config.BannerDisplay},
	}
	var logs bytes.Buffer
	logger := log.New(&logs, "", 0)

	orch, err := delivery.New(cfg.SDK, delivery.Deps{
		Surface:   buildSurface(logger, cfg),
		Transport: nullTransport{},
		Logger:    logger,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = orch.Close(ctx)
	})

	bridge := messaging.NewBridge(orch.Channel(), messaging.WithBridgeLogger(logger))
	t.Cleanup(bridge.Close)
	_, err = orch.On(events.Any, bridge.Broadcast)
	require.NoError(t, err)

	autoStart(logger, orch, cfg)
	require.Eventually(t, func() bool {
		view, ok := orch.Slot("hero")
		return ok && view.Phase == delivery.PhaseRendered
	}, 2*time.Second, 5*time.Millisecond)
	_, ok := orch.Slot("idle")
	require.False(t, ok)

	server := buildControlServer(cfg.Control, bridge, orch)
	require.Equal(t, cfg.Control.Addr, server.Addr)
	ts := httptest.NewServer(server.Handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/slots")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), `"id":"hero"`)
}
