// Package config centralises runtime configuration for the ad slot orchestrator.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

// Environment identifies the ad-decision backend the orchestrator talks to.
type Environment string

const (
	// EnvSandbox targets the development ad server.
	EnvSandbox Environment = "SANDBOX"
	// EnvProduction targets the production ad server.
	EnvProduction Environment = "PRODUCTION"
)

// Platform names the host platform reported to the ad server.
type Platform string

const (
	PlatformTV      Platform = "TV"
	PlatformWeb     Platform = "WEB"
	PlatformAndroid Platform = "ANDROID"
	PlatformIOS     Platform = "IOS"
)

// SDKType selects the delivery mode of an orchestrator instance.
type SDKType string

const (
	TypeDisplay   SDKType = "DISPLAY"
	TypeOutstream SDKType = "OUTSTREAM"
	TypeWelcome   SDKType = "WELCOME"
	TypeBanner    SDKType = "BANNER"
)

// BannerType is the placement class of a slot.
type BannerType string

const (
	BannerDisplay BannerType = "DISPLAY"
	BannerOverlay BannerType = "OVERLAY"
)

// Gender is the targeting gender sent with each request.
type Gender string

const (
	GenderMale   Gender = "MALE"
	GenderFemale Gender = "FEMALE"
	GenderOther  Gender = "OTHER"
	GenderNone   Gender = "NONE"
)

// DeviceType is the targeting device class.
type DeviceType string

const (
	DeviceDesktop DeviceType = "DESKTOP"
	DeviceMobile  DeviceType = "MOBILE"
	DeviceTablet  DeviceType = "TABLET"
	DeviceTV      DeviceType = "TV"
)

// Signature algorithms accepted by the ad server.
const (
	SignMD5        = "md5"
	SignHMACSHA256 = "hmac-sha256"
)

const (
	DefaultFetchTimeout  = 8000 * time.Millisecond
	DefaultFetchRetries  = 2
	DefaultFetchBackoff  = 300 * time.Millisecond
	DefaultRenderTimeout = 3000 * time.Millisecond
	DefaultVASTTimeout   = 10000 * time.Millisecond
	DefaultChannel       = "ad-sdk"
	DefaultTenantID      = "14"
)

type endpointSet struct {
	banner  string
	welcome string
	track   string
}

var endpoints = map[Environment]endpointSet{
	EnvSandbox: {
		banner:  "https://dev-pubads.wiinvent.tv/v1/adserving/banner/campaign",
		welcome: "https://dev-pubads.wiinvent.tv/v1/adserving/welcome/campaign",
		track:   "https://dev-pubads.wiinvent.tv/v1/track",
	},
	EnvProduction: {
		banner:  "https://pubads-wiinvent.tv360.vn/v1/adserving/banner/campaign",
		welcome: "https://pubads-wiinvent.tv360.vn/v1/adserving/welcome/campaign",
		track:   "https://pubads-wiinvent.tv360.vn/v1/track",
	},
}

// Targeting carries the viewer and content attributes sent with every ad request.
type Targeting struct {
	ChannelID   string     `yaml:"channelId"`
	AdID        string     `yaml:"adId"`
	Platform    Platform   `yaml:"platform"`
	DeviceType  DeviceType `yaml:"deviceType"`
	ContentType string     `yaml:"contentType"`
	Title       string     `yaml:"title"`
	TransID     string     `yaml:"transId"`
	Category    string     `yaml:"category"`
	Keyword     string     `yaml:"keyword"`
	Age         string     `yaml:"age"`
	Gender      Gender     `yaml:"gender"`
	Segments    string     `yaml:"segments"`
}

// Messaging configures the cross-context command channel.
type Messaging struct {
	Enabled      bool   `yaml:"enabled"`
	Channel      string `yaml:"channel"`
	TargetOrigin string `yaml:"targetOrigin"`
}

// SDK is the per-instance orchestrator configuration.
type SDK struct {
	TenantID   string      `yaml:"tenantId"`
	StreamID   string      `yaml:"streamId"`
	PositionID string      `yaml:"positionId"`
	Env        Environment `yaml:"env"`
	Type       SDKType     `yaml:"type"`
	Targeting  Targeting   `yaml:"targeting"`

	// FetchURL overrides the environment preset when set.
	FetchURL string `yaml:"fetchUrl"`
	// TrackURL enables the central tracking endpoint when set.
	TrackURL      string        `yaml:"trackUrl"`
	FetchTimeout  time.Duration `yaml:"fetchTimeout"`
	FetchRetries  int           `yaml:"fetchRetries"`
	FetchBackoff  time.Duration `yaml:"fetchBackoff"`
	RenderTimeout time.Duration `yaml:"renderTimeout"`
	VASTTimeout   time.Duration `yaml:"vastTimeout"`

	Width  int `yaml:"width"`
	Height int `yaml:"height"`

	PartnerSkipButton bool `yaml:"partnerSkipButton"`
	WelcomeSkipButton bool `yaml:"welcomeSkipButton"`

	SignAlgorithm string `yaml:"signAlgorithm"`
	SecretKey     string `yaml:"secretKey"`

	Messaging Messaging `yaml:"messaging"`

	BeaconRate  float64 `yaml:"beaconRate"`
	BeaconBurst int     `yaml:"beaconBurst"`

	Debug bool `yaml:"debug"`
}

// DefaultSDK returns the SDK defaults applied before user overrides.
func DefaultSDK() SDK {
	return SDK{
		TenantID: DefaultTenantID,
		Env:      EnvSandbox,
		Type:     TypeDisplay,
		Targeting: Targeting{
			Platform:   PlatformWeb,
			DeviceType: DeviceDesktop,
			Age:        "0",
			Gender:     GenderNone,
		},
		FetchTimeout:      DefaultFetchTimeout,
		FetchRetries:      DefaultFetchRetries,
		FetchBackoff:      DefaultFetchBackoff,
		RenderTimeout:     DefaultRenderTimeout,
		VASTTimeout:       DefaultVASTTimeout,
		WelcomeSkipButton: true,
		SignAlgorithm:     SignMD5,
		Messaging: Messaging{
			Enabled:      true,
			Channel:      DefaultChannel,
			TargetOrigin: "*",
		},
		BeaconRate:  20,
		BeaconBurst: 40,
	}
}

// FromEnv overlays environment variables on the SDK defaults.
func FromEnv(base SDK) SDK {
	cfg := base
	if env := strings.TrimSpace(os.Getenv("ADSLOT_ENV")); env != "" {
		cfg.Env = Environment(strings.ToUpper(env))
	}
	if tenant := strings.TrimSpace(os.Getenv("ADSLOT_TENANT_ID")); tenant != "" {
		cfg.TenantID = tenant
	}
	if stream := strings.TrimSpace(os.Getenv("ADSLOT_STREAM_ID")); stream != "" {
		cfg.StreamID = stream
	}
	if secret := os.Getenv("ADSLOT_SECRET_KEY"); secret != "" {
		cfg.SecretKey = secret
	}
	return cfg
}

// Option mutates SDK settings when applied via Apply.
type Option func(*SDK)

// Apply applies the provided Option set to a copy of the base settings.
func Apply(base SDK, opts ...Option) SDK {
	cfg := base
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// WithFetchPolicy overrides the retrying fetch parameters. Non-positive values keep the current setting.
func WithFetchPolicy(timeout time.Duration, retries int, backoff time.Duration) Option {
	return func(s *SDK) {
		if timeout > 0 {
			s.FetchTimeout = timeout
		}
		if retries >= 0 {
			s.FetchRetries = retries
		}
		if backoff > 0 {
			s.FetchBackoff = backoff
		}
	}
}

// WithRenderTimeout overrides the embedded document render timeout.
func WithRenderTimeout(timeout time.Duration) Option {
	return func(s *SDK) {
		if timeout > 0 {
			s.RenderTimeout = timeout
		}
	}
}

// WithFetchURL pins the ad-decision endpoint.
func WithFetchURL(raw string) Option {
	raw = strings.TrimSpace(raw)
	return func(s *SDK) {
		if raw != "" {
			s.FetchURL = raw
		}
	}
}

// Normalise trims and upper-cases enumerated fields and fills zero values with defaults.
func (s *SDK) Normalise() {
	def := DefaultSDK()

	s.TenantID = strings.TrimSpace(s.TenantID)
	s.StreamID = strings.TrimSpace(s.StreamID)
	s.PositionID = strings.TrimSpace(s.PositionID)
	s.FetchURL = strings.TrimSpace(s.FetchURL)
	s.TrackURL = strings.TrimSpace(s.TrackURL)
	s.Env = Environment(strings.ToUpper(strings.TrimSpace(string(s.Env))))
	s.Type = SDKType(strings.ToUpper(strings.TrimSpace(string(s.Type))))
	s.Targeting.Platform = Platform(strings.ToUpper(strings.TrimSpace(string(s.Targeting.Platform))))
	s.Targeting.DeviceType = DeviceType(strings.ToUpper(strings.TrimSpace(string(s.Targeting.DeviceType))))
	s.Targeting.Gender = Gender(strings.ToUpper(strings.TrimSpace(string(s.Targeting.Gender))))
	s.SignAlgorithm = strings.ToLower(strings.TrimSpace(s.SignAlgorithm))
	s.Messaging.Channel = strings.TrimSpace(s.Messaging.Channel)
	s.Messaging.TargetOrigin = strings.TrimSpace(s.Messaging.TargetOrigin)

	if s.TenantID == "" {
		s.TenantID = def.TenantID
	}
	if s.Env == "" {
		s.Env = def.Env
	}
	if s.Type == "" {
		s.Type = def.Type
	}
	if s.Targeting.Platform == "" {
		s.Targeting.Platform = def.Targeting.Platform
	}
	if s.Targeting.DeviceType == "" {
		s.Targeting.DeviceType = def.Targeting.DeviceType
	}
	if strings.TrimSpace(s.Targeting.Age) == "" {
		s.Targeting.Age = def.Targeting.Age
	}
	if s.Targeting.Gender == "" {
		s.Targeting.Gender = def.Targeting.Gender
	}
	if s.FetchTimeout <= 0 {
		s.FetchTimeout = def.FetchTimeout
	}
	if s.FetchRetries < 0 {
		s.FetchRetries = 0
	}
	if s.FetchBackoff <= 0 {
		s.FetchBackoff = def.FetchBackoff
	}
	if s.RenderTimeout <= 0 {
		s.RenderTimeout = def.RenderTimeout
	}
	if s.VASTTimeout <= 0 {
		s.VASTTimeout = def.VASTTimeout
	}
	if s.SignAlgorithm == "" {
		s.SignAlgorithm = def.SignAlgorithm
	}
	if s.Messaging.Channel == "" {
		s.Messaging.Channel = def.Messaging.Channel
	}
	if s.Messaging.TargetOrigin == "" {
		s.Messaging.TargetOrigin = def.Messaging.TargetOrigin
	}
	if s.BeaconRate <= 0 {
		s.BeaconRate = def.BeaconRate
	}
	if s.BeaconBurst <= 0 {
		s.BeaconBurst = def.BeaconBurst
	}
}

// Validate performs semantic validation on the SDK settings.
func (s SDK) Validate() error {
	if s.TenantID == "" {
		return fmt.Errorf("tenantId is required")
	}
	if s.StreamID == "" {
		return fmt.Errorf("streamId is required")
	}
	switch s.Targeting.Platform {
	case PlatformTV, PlatformWeb, PlatformAndroid, PlatformIOS:
	default:
		return fmt.Errorf("platform must be one of TV, WEB, ANDROID, IOS")
	}
	switch s.Env {
	case EnvSandbox, EnvProduction:
	default:
		return fmt.Errorf("env must be one of SANDBOX, PRODUCTION")
	}
	switch s.Type {
	case TypeDisplay, TypeOutstream, TypeWelcome, TypeBanner:
	default:
		return fmt.Errorf("type must be one of DISPLAY, OUTSTREAM, WELCOME, BANNER")
	}
	switch s.SignAlgorithm {
	case SignMD5:
	case SignHMACSHA256:
		if s.SecretKey == "" {
			return fmt.Errorf("secretKey required for %s signatures", SignHMACSHA256)
		}
	default:
		return fmt.Errorf("signAlgorithm must be one of %s, %s", SignMD5, SignHMACSHA256)
	}
	if s.FetchURL != "" {
		if err := validateAbsoluteURL(s.FetchURL); err != nil {
			return fmt.Errorf("fetchUrl: %w", err)
		}
	}
	if s.TrackURL != "" {
		if err := validateAbsoluteURL(s.TrackURL); err != nil {
			return fmt.Errorf("trackUrl: %w", err)
		}
	}
	if s.Width < 0 || s.Height < 0 {
		return fmt.Errorf("width and height must be >= 0")
	}
	return nil
}

// Endpoint returns the ad-decision URL for the configured environment and type.
func (s SDK) Endpoint() string {
	if s.FetchURL != "" {
		return s.FetchURL
	}
	set, ok := endpoints[s.Env]
	if !ok {
		set = endpoints[EnvSandbox]
	}
	if s.Type == TypeWelcome {
		return set.welcome
	}
	return set.banner
}

// DefaultTrackURL returns the tracking endpoint preset for an environment.
func DefaultTrackURL(env Environment) string {
	set, ok := endpoints[env]
	if !ok {
		return ""
	}
	return set.track
}

// Welcome reports whether the instance delivers the full-screen welcome overlay.
func (s SDK) Welcome() bool {
	return s.Type == TypeWelcome
}

func validateAbsoluteURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("host required")
	}
	return nil
}
