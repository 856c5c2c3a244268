package config

import (
	"testing"
	"time"
)

func validSDK() SDK {
	cfg := DefaultSDK()
	cfg.StreamID = "stream-1"
	return cfg
}

func TestDefaultSDKMatchesDeliveryDefaults(t *testing.T) {
	cfg := DefaultSDK()
	if cfg.FetchTimeout != 8*time.Second {
		t.Fatalf("expected 8s fetch timeout, got %v", cfg.FetchTimeout)
	}
	if cfg.FetchRetries != 2 {
		t.Fatalf("expected 2 retries, got %d", cfg.FetchRetries)
	}
	if cfg.FetchBackoff != 300*time.Millisecond {
		t.Fatalf("expected 300ms backoff, got %v", cfg.FetchBackoff)
	}
	if cfg.RenderTimeout != 3*time.Second {
		t.Fatalf("expected 3s render timeout, got %v", cfg.RenderTimeout)
	}
	if cfg.Messaging.Channel != "ad-sdk" || cfg.Messaging.TargetOrigin != "*" {
		t.Fatalf("unexpected messaging defaults: %+v", cfg.Messaging)
	}
}

func TestValidateRequiredFields(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*SDK)
	}{
		{"missing tenant", func(s *SDK) { s.TenantID = "" }},
		{"missing stream", func(s *SDK) { s.StreamID = "" }},
		{"bad platform", func(s *SDK) { s.Targeting.Platform = "FRIDGE" }},
		{"bad env", func(s *SDK) { s.Env = "STAGING" }},
		{"bad type", func(s *SDK) { s.Type = "POPUP" }},
		{"hmac without secret", func(s *SDK) { s.SignAlgorithm = SignHMACSHA256 }},
		{"relative fetch url", func(s *SDK) { s.FetchURL = "/campaign" }},
		{"negative size", func(s *SDK) { s.Width = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validSDK()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
	if err := validSDK().Validate(); err != nil {
		t.Fatalf("expected valid defaults, got %v", err)
	}
}

func TestNormaliseFillsDefaults(t *testing.T) {
	cfg := SDK{StreamID: " s ", Env: "production", Type: "banner", FetchRetries: -3}
	cfg.Normalise()

	if cfg.StreamID != "s" || cfg.TenantID != DefaultTenantID {
		t.Fatalf("unexpected ids: %+v", cfg)
	}
	if cfg.Env != EnvProduction || cfg.Type != TypeBanner {
		t.Fatalf("expected upper-cased enums, got %s/%s", cfg.Env, cfg.Type)
	}
	if cfg.FetchRetries != 0 {
		t.Fatalf("expected negative retries clamped to 0, got %d", cfg.FetchRetries)
	}
	if cfg.RenderTimeout != DefaultRenderTimeout || cfg.FetchTimeout != DefaultFetchTimeout {
		t.Fatalf("expected timeouts defaulted")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("normalised config should validate: %v", err)
	}
}

func TestEndpointSelection(t *testing.T) {
	cfg := validSDK()
	if got := cfg.Endpoint(); got != "https://dev-pubads.wiinvent.tv/v1/adserving/banner/campaign" {
		t.Fatalf("unexpected sandbox banner endpoint %s", got)
	}
	cfg.Type = TypeWelcome
	if got := cfg.Endpoint(); got != "https://dev-pubads.wiinvent.tv/v1/adserving/welcome/campaign" {
		t.Fatalf("unexpected sandbox welcome endpoint %s", got)
	}
	cfg = Apply(cfg, WithFetchURL("http://localhost:9000/campaign"))
	if got := cfg.Endpoint(); got != "http://localhost:9000/campaign" {
		t.Fatalf("expected override endpoint, got %s", got)
	}
}

func TestApplyOptions(t *testing.T) {
	base := validSDK()
	cfg := Apply(base,
		WithFetchPolicy(time.Second, 0, 50*time.Millisecond),
		WithRenderTimeout(0),
		nil,
	)
	if cfg.FetchTimeout != time.Second || cfg.FetchRetries != 0 || cfg.FetchBackoff != 50*time.Millisecond {
		t.Fatalf("fetch policy not applied: %+v", cfg)
	}
	if cfg.RenderTimeout != DefaultRenderTimeout {
		t.Fatalf("zero render timeout should keep default")
	}
	if base.FetchRetries != DefaultFetchRetries {
		t.Fatalf("Apply must not mutate base")
	}
}
