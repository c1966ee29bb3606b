package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.API.APIKeyHeader != "X-API-Key" || cfg.API.Timeout != 30*time.Second {
		t.Errorf("API defaults = %+v", cfg.API)
	}
	if cfg.Poll.Interval != 5*time.Second || cfg.Poll.MaxWait != time.Hour || cfg.Poll.MaxChecks != 0 {
		t.Errorf("poll defaults = %+v", cfg.Poll)
	}
	if cfg.MockAddr != ":8090" {
		t.Errorf("MockAddr = %q", cfg.MockAddr)
	}
	if len(cfg.ClientOptions()) != 0 {
		t.Error("rate limit enabled by default")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("ONDEMAND_BASE_URL", "https://api.example.com")
	t.Setenv("ONDEMAND_API_KEY", "secret")
	t.Setenv("ONDEMAND_PRODUCT_ID", "p-1")
	t.Setenv("ONDEMAND_POLL_INTERVAL", "250ms")
	t.Setenv("ONDEMAND_POLL_MAX_CHECKS", "12")
	t.Setenv("ONDEMAND_STATUS_PATH", "/jobs/{jobId}")
	t.Setenv("ONDEMAND_RATE_LIMIT", "2.5")
	t.Setenv("ONDEMAND_TIMEOUT", "not-a-duration")

	cfg := Load()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	cc := cfg.ClientConfig()
	if cc.BaseURL != "https://api.example.com" || cc.Timeout != 30*time.Second {
		t.Errorf("ClientConfig = %+v", cc)
	}
	if len(cfg.ClientOptions()) != 1 {
		t.Error("expected a rate limit option")
	}

	jc := cfg.JobConfig()
	if jc.Interval != 250*time.Millisecond || jc.MaxChecks != 12 || jc.StatusPath != "/jobs/{jobId}" {
		t.Errorf("JobConfig = %+v", jc)
	}
}

func TestValidateRequiresAPISettings(t *testing.T) {
	t.Setenv("ONDEMAND_BASE_URL", "https://api.example.com")
	cfg := Load()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected missing API key error")
	}
}
