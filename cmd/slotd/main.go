// Command slotd runs the ad slot orchestrator on a headless surface behind a websocket control endpoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sourcegraph/conc"

	"github.com/coachpo/adslot/internal/config"
	"github.com/coachpo/adslot/internal/delivery"
	"github.com/coachpo/adslot/internal/events"
	"github.com/coachpo/adslot/internal/fetch"
	"github.com/coachpo/adslot/internal/identity"
	"github.com/coachpo/adslot/internal/infra/persistence/migrations"
	"github.com/coachpo/adslot/internal/infra/persistence/postgres"
	"github.com/coachpo/adslot/internal/messaging"
	"github.com/coachpo/adslot/internal/surface"
	"github.com/coachpo/adslot/internal/surface/headless"
	"github.com/coachpo/adslot/internal/telemetry"
	"github.com/coachpo/adslot/internal/track"
)

const (
	defaultConfigPath            = "config/slotd.yaml"
	slotdLoggerPrefix            = "slotd "
	shutdownTimeout              = 30 * time.Second
	controlServerShutdownTimeout = 5 * time.Second
	orchestratorShutdownTimeout  = 10 * time.Second
	lifecycleShutdownTimeout     = 10 * time.Second
	telemetryShutdownTimeout     = 5 * time.Second
	controlReadHeaderTimeout     = 5 * time.Second
	migrationTimeout             = 30 * time.Second
)

func main() {
	cfgPathFlag := parseFlags()
	ctx, cancel := newSignalContext()
	defer cancel()

	logger := newSlotdLogger()

	appCfg, err := config.LoadOrDefault(ctx, resolveConfigPath(cfgPathFlag))
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if !appCfg.SDK.Messaging.Enabled {
		logger.Printf("messaging disabled in config; enabling it for the control endpoint")
		appCfg.SDK.Messaging.Enabled = true
	}
	logger.Printf("configuration initialised: env=%s, type=%s, slots=%d",
		appCfg.SDK.Env, appCfg.SDK.Type, len(appCfg.Slots))

	telemetryProvider, err := initTelemetry(ctx, logger, appCfg.SDK.Env, appCfg.Telemetry)
	if err != nil {
		logger.Fatalf("initialize telemetry: %v", err)
	}

	store, journal, pool, err := initIdentityStore(ctx, logger, appCfg.Identity)
	if err != nil {
		logger.Fatalf("initialise identity store: %v", err)
	}
	devices := identity.NewDevices(store)
	signer, err := identity.NewSigner(appCfg.SDK.SignAlgorithm, appCfg.SDK.SecretKey, devices)
	if err != nil {
		logger.Fatalf("initialise signer: %v", err)
	}

	tracker := buildTracker(ctx, logger, appCfg.SDK, journal, devices)

	surf := buildSurface(logger, appCfg)

	orch, err := delivery.New(appCfg.SDK, delivery.Deps{
		Surface:   surf,
		Transport: fetch.NewHTTPTransport(&http.Client{}),
		Signer:    signer,
		Tracker:   tracker,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatalf("initialise orchestrator: %v", err)
	}

	bridge := messaging.NewBridge(orch.Channel(), messaging.WithBridgeLogger(logger))
	if _, err := orch.On(events.Any, bridge.Broadcast); err != nil {
		logger.Fatalf("subscribe bridge: %v", err)
	}

	var lifecycle conc.WaitGroup
	server := buildControlServer(appCfg.Control, bridge, orch)
	startControlServer(&lifecycle, logger, server)
	logger.Printf("control endpoint listening on %s%s", server.Addr, appCfg.Control.Path)

	autoStart(logger, orch, appCfg)

	logger.Print("slotd started; awaiting shutdown signal")
	<-ctx.Done()
	logger.Print("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	shutdownStart := time.Now()
	performGracefulShutdown(shutdownCtx, logger, gracefulShutdownConfig{
		server:       server,
		bridge:       bridge,
		orchestrator: orch,
		mainCancel:   cancel,
		lifecycle:    &lifecycle,
		pool:         pool,
		telemetry:    telemetryProvider,
	})

	logger.Printf("shutdown completed in %v", time.Since(shutdownStart))
}

func parseFlags() string {
	cfgPath := flag.String("config", "", fmt.Sprintf("Path to slotd configuration file (default: %s)", defaultConfigPath))
	flag.Parse()
	return *cfgPath
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newSlotdLogger() *log.Logger {
	return log.New(os.Stdout, slotdLoggerPrefix, log.LstdFlags|log.Lmicroseconds)
}

func initTelemetry(ctx context.Context, logger *log.Logger, env config.Environment, cfg config.TelemetryConfig) (*telemetry.Provider, error) {
	telemetryCfg := telemetry.DefaultConfig()
	if cfg.OTLPEndpoint != "" {
		telemetryCfg.OTLPEndpoint = cfg.OTLPEndpoint
	}
	if cfg.ServiceName != "" {
		telemetryCfg.ServiceName = cfg.ServiceName
	}
	telemetryCfg.Environment = strings.ToLower(string(env))
	telemetryCfg.OTLPInsecure = cfg.OTLPInsecure
	telemetryCfg.EnableMetrics = cfg.EnableMetrics

	provider, err := telemetry.NewProvider(ctx, telemetryCfg)
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry provider: %w", err)
	}

	if provider.Exporting() {
		logger.Printf("telemetry initialized: endpoint=%s, service=%s", telemetryCfg.OTLPEndpoint, telemetryCfg.ServiceName)
	} else {
		logger.Printf("telemetry disabled")
	}
	return provider, nil
}

// initIdentityStore opens the configured device identity backend. The postgres backend also
// returns a beacon journal and the pool that must be closed on shutdown.
func initIdentityStore(ctx context.Context, logger *log.Logger, cfg config.IdentityConfig) (identity.Store, track.Journal, *pgxpool.Pool, error) {
	switch cfg.Store {
	case config.IdentityMemory:
		logger.Print("identity store: memory")
		return identity.NewMemoryStore(), nil, nil, nil
	case config.IdentityPostgres:
		migrationsPath := cfg.MigrationsPath
		if migrationsPath == "" {
			migrationsPath = migrations.Embedded
		}
		migrateCtx, cancel := context.WithTimeout(ctx, migrationTimeout)
		defer cancel()
		if err := migrations.Apply(migrateCtx, cfg.DSN, migrationsPath, logger); err != nil {
			return nil, nil, nil, fmt.Errorf("apply migrations: %w", err)
		}
		pool, err := pgxpool.New(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open postgres pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("ping postgres: %w", err)
		}
		postgres.ObservePoolMetrics(pool, "identity")
		logger.Print("identity store: postgres")
		return postgres.NewDeviceStore(pool), postgres.NewBeaconStore(pool), pool, nil
	default:
		path := filepath.Clean(cfg.Path)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, nil, nil, fmt.Errorf("create identity directory: %w", err)
		}
		logger.Printf("identity store: file %s", path)
		return identity.NewFileStore(path), nil, nil, nil
	}
}

// buildSurface registers every configured slot; slots without a size fill the viewport.
func buildSurface(logger *log.Logger, appCfg config.AppConfig) *headless.Surface {
	viewport := surface.Size{Width: float64(appCfg.Viewport.Width), Height: float64(appCfg.Viewport.Height)}
	surf := headless.New(viewport, headless.WithLogger(logger))
	for _, slot := range appCfg.Slots {
		if slot.ID == "" {
			continue
		}
		size := viewport
		if slot.Width > 0 && slot.Height > 0 {
			size = surface.Size{Width: float64(slot.Width), Height: float64(slot.Height)}
		}
		surf.Register(slot.ID, size)
	}
	return surf
}

func buildTracker(ctx context.Context, logger *log.Logger, sdk config.SDK, journal track.Journal, devices *identity.Devices) *track.Tracker {
	opts := []track.Option{
		track.WithLogger(logger),
		track.WithRateLimit(sdk.BeaconRate, sdk.BeaconBurst),
	}
	if sdk.TrackURL != "" {
		opts = append(opts, track.WithEndpoint(track.Endpoint{
			URL:      sdk.TrackURL,
			TenantID: sdk.TenantID,
			StreamID: sdk.StreamID,
			Position: sdk.PositionID,
		}))
	}
	if journal != nil {
		deviceID, err := devices.ID(ctx)
		if err != nil {
			logger.Printf("beacon journal disabled: device id: %v", err)
		} else {
			opts = append(opts, track.WithJournal(journal, deviceID))
		}
	}
	return track.NewTracker(opts...)
}

func buildControlServer(cfg config.ControlConfig, bridge *messaging.Bridge, orch *delivery.Orchestrator) *http.Server {
	handler := messaging.NewHandler(cfg.Path, bridge, func() any { return orch.Slots() })
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: controlReadHeaderTimeout,
	}
}

func startControlServer(lifecycle *conc.WaitGroup, logger *log.Logger, server *http.Server) {
	lifecycle.Go(func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("control server: %v", err)
		}
	})
}

func autoStart(logger *log.Logger, orch *delivery.Orchestrator, appCfg config.AppConfig) {
	for _, slot := range appCfg.Slots {
		if !slot.AutoStart {
			continue
		}
		slot := slot
		id, err := orch.Start(delivery.StartRequest{
			SlotID:     slot.ID,
			BannerType: slot.BannerType,
			AdSize:     slot.AdSize,
			PositionID: slot.PositionID,
			Callback: func(res delivery.Result) {
				if res.Err != nil {
					logger.Printf("slot %s settled %s: %v", res.SlotID, res.Status, res.Err)
					return
				}
				logger.Printf("slot %s settled %s", res.SlotID, res.Status)
			},
		})
		if err != nil {
			logger.Printf("auto start slot %q: %v", slot.ID, err)
			continue
		}
		logger.Printf("slot %s started", id)
	}
}

type gracefulShutdownConfig struct {
	server       *http.Server
	bridge       *messaging.Bridge
	orchestrator *delivery.Orchestrator
	mainCancel   context.CancelFunc
	lifecycle    *conc.WaitGroup
	pool         *pgxpool.Pool
	telemetry    *telemetry.Provider
}

func performGracefulShutdown(ctx context.Context, logger *log.Logger, cfg gracefulShutdownConfig) {
	shutdownStep := func(name string, timeout time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		logger.Printf("shutdown: %s...", name)
		if err := fn(stepCtx); err != nil {
			logger.Printf("shutdown: %s failed: %v", name, err)
		} else {
			logger.Printf("shutdown: %s completed", name)
		}
	}

	if cfg.server != nil {
		shutdownStep("stopping control server", controlServerShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.server.Shutdown(stepCtx)
		})
	}

	if cfg.bridge != nil {
		logger.Print("shutdown: closing control bridge")
		cfg.bridge.Close()
	}

	if cfg.orchestrator != nil {
		shutdownStep("closing orchestrator", orchestratorShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.orchestrator.Close(stepCtx)
		})
	}

	logger.Print("shutdown: cancelling main context")
	if cfg.mainCancel != nil {
		cfg.mainCancel()
	}

	if cfg.lifecycle != nil {
		shutdownStep("waiting for lifecycle goroutines", lifecycleShutdownTimeout, func(stepCtx context.Context) error {
			done := make(chan struct{})
			go func() {
				cfg.lifecycle.Wait()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-stepCtx.Done():
				return fmt.Errorf("timeout waiting for goroutines: %w", stepCtx.Err())
			}
		})
	}

	if cfg.pool != nil {
		logger.Print("shutdown: closing postgres pool")
		cfg.pool.Close()
	}

	if cfg.telemetry != nil {
		shutdownStep("shutting down telemetry", telemetryShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.telemetry.Shutdown(stepCtx)
		})
	}
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return filepath.Clean(defaultConfigPath)
}
