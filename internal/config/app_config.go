package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Identity store backends.
const (
	IdentityFile     = "file"
	IdentityPostgres = "postgres"
	IdentityMemory   = "memory"
)

// IdentityConfig selects where the persistent device identifier lives.
type IdentityConfig struct {
	Store string `yaml:"store"`
	Path  string `yaml:"path"`
	DSN   string `yaml:"dsn"`
	// MigrationsPath points at the SQL migrations applied before the postgres store opens.
	MigrationsPath string `yaml:"migrationsPath"`
}

// ControlConfig configures the websocket control endpoint of slotd.
type ControlConfig struct {
	Addr string `yaml:"addr"`
	Path string `yaml:"path"`
}

// ViewportConfig describes the headless surface dimensions.
type ViewportConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// TelemetryConfig configures OTLP exporters (metrics only).
type TelemetryConfig struct {
	OTLPEndpoint  string `yaml:"otlpEndpoint"`
	ServiceName   string `yaml:"serviceName"`
	OTLPInsecure  bool   `yaml:"otlpInsecure"`
	EnableMetrics bool   `yaml:"enableMetrics"`
}

// AppConfig is the unified slotd configuration sourced from YAML.
type AppConfig struct {
	SDK       SDK             `yaml:"sdk"`
	Slots     []SlotConfig    `yaml:"slots"`
	Identity  IdentityConfig  `yaml:"identity"`
	Control   ControlConfig   `yaml:"control"`
	Viewport  ViewportConfig  `yaml:"viewport"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// SlotConfig declares a host slot that slotd creates and starts on boot.
type SlotConfig struct {
	ID         string     `yaml:"id"`
	BannerType BannerType `yaml:"bannerType"`
	AdSize     string     `yaml:"adSize"`
	PositionID string     `yaml:"positionId"`
	Width      int        `yaml:"width"`
	Height     int        `yaml:"height"`
	AutoStart  bool       `yaml:"autoStart"`
}

// DefaultApp returns the configuration used when no file is supplied.
func DefaultApp() AppConfig {
	return AppConfig{
		SDK: DefaultSDK(),
		Identity: IdentityConfig{
			Store: IdentityFile,
			Path:  filepath.Join(os.TempDir(), "adslot", "device.json"),
		},
		Control: ControlConfig{
			Addr: ":8880",
			Path: "/control",
		},
		Viewport: ViewportConfig{Width: 1280, Height: 720},
		Telemetry: TelemetryConfig{
			ServiceName:   "slotd",
			EnableMetrics: true,
		},
	}
}

// Load reads and validates an AppConfig from the provided YAML file.
func Load(ctx context.Context, configPath string) (AppConfig, error) {
	_ = ctx

	reader, closer, err := openConfigFile(configPath)
	if err != nil {
		return AppConfig{}, err
	}
	defer closer()

	bytes, err := io.ReadAll(reader)
	if err != nil {
		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultApp()
	if err := yaml.Unmarshal(bytes, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.normalise()

	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// LoadOrDefault behaves like Load but falls back to validated defaults when the file does not exist.
func LoadOrDefault(ctx context.Context, configPath string) (AppConfig, error) {
	cfg, err := Load(ctx, configPath)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return AppConfig{}, err
	}
	cfg = DefaultApp()
	cfg.SDK = FromEnv(cfg.SDK)
	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (c *AppConfig) normalise() {
	c.SDK.Normalise()

	c.Identity.Store = strings.ToLower(strings.TrimSpace(c.Identity.Store))
	if c.Identity.Store == "" {
		c.Identity.Store = IdentityFile
	}
	c.Identity.Path = strings.TrimSpace(c.Identity.Path)
	c.Identity.DSN = strings.TrimSpace(c.Identity.DSN)
	c.Identity.MigrationsPath = strings.TrimSpace(c.Identity.MigrationsPath)

	c.Control.Addr = strings.TrimSpace(c.Control.Addr)
	c.Control.Path = strings.TrimSpace(c.Control.Path)
	if c.Control.Path == "" {
		c.Control.Path = "/control"
	}
	if !strings.HasPrefix(c.Control.Path, "/") {
		c.Control.Path = "/" + c.Control.Path
	}

	c.Telemetry.OTLPEndpoint = strings.TrimSpace(c.Telemetry.OTLPEndpoint)
	c.Telemetry.ServiceName = strings.TrimSpace(c.Telemetry.ServiceName)

	for i := range c.Slots {
		slot := &c.Slots[i]
		slot.ID = strings.TrimSpace(slot.ID)
		slot.BannerType = BannerType(strings.ToUpper(strings.TrimSpace(string(slot.BannerType))))
		slot.AdSize = strings.TrimSpace(slot.AdSize)
		slot.PositionID = strings.TrimSpace(slot.PositionID)
		if slot.BannerType == "" {
			slot.BannerType = BannerDisplay
		}
	}
}

// Validate performs semantic validation on the configuration.
func (c AppConfig) Validate() error {
	if err := c.SDK.Validate(); err != nil {
		return fmt.Errorf("sdk: %w", err)
	}

	switch c.Identity.Store {
	case IdentityFile:
		if c.Identity.Path == "" {
			return fmt.Errorf("identity path required for file store")
		}
	case IdentityPostgres:
		if c.Identity.DSN == "" {
			return fmt.Errorf("identity dsn required for postgres store")
		}
	case IdentityMemory:
	default:
		return fmt.Errorf("identity store must be one of file, postgres, memory")
	}

	if c.Viewport.Width <= 0 || c.Viewport.Height <= 0 {
		return fmt.Errorf("viewport width and height must be > 0")
	}

	seen := make(map[string]struct{}, len(c.Slots))
	for _, slot := range c.Slots {
		if slot.ID == "" && !c.SDK.Welcome() {
			return fmt.Errorf("slot id required")
		}
		if _, dup := seen[slot.ID]; dup {
			return fmt.Errorf("duplicate slot id %q", slot.ID)
		}
		seen[slot.ID] = struct{}{}
		switch slot.BannerType {
		case BannerDisplay, BannerOverlay:
		default:
			return fmt.Errorf("slot %q bannerType must be DISPLAY or OVERLAY", slot.ID)
		}
	}

	if strings.TrimSpace(c.Telemetry.ServiceName) == "" {
		return fmt.Errorf("telemetry serviceName required")
	}

	return nil
}

func openConfigFile(path string) (io.Reader, func(), error) {
	candidate := strings.TrimSpace(path)
	candidate = filepath.Clean(candidate)

	file, err := os.Open(candidate) // #nosec G304 -- path is operator controlled.
	if err != nil {
		return nil, nil, fmt.Errorf("open app config: %w", err)
	}
	return file, func() { _ = file.Close() }, nil
}
