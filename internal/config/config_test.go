package config

import (
	"errors"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.PMSTimeout != 30*time.Second {
		t.Errorf("expected default PMS timeout 30s, got %s", cfg.PMSTimeout)
	}
	if cfg.SyncWindowPastDays != 30 || cfg.SyncWindowDays != 90 {
		t.Errorf("unexpected sync window defaults: -%d/+%d", cfg.SyncWindowPastDays, cfg.SyncWindowDays)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PMS_BASE_URL", "https://pm.example.com/fhir")
	t.Setenv("PMS_TIMEOUT", "5s")
	t.Setenv("PMS_MAX_RETRIES", "7")
	t.Setenv("REDIS_TLS", "true")

	cfg := Load()

	if cfg.PMSBaseURL != "https://pm.example.com/fhir" {
		t.Errorf("PMSBaseURL = %s", cfg.PMSBaseURL)
	}
	if cfg.PMSTimeout != 5*time.Second {
		t.Errorf("PMSTimeout = %s", cfg.PMSTimeout)
	}
	if cfg.PMSMaxRetries != 7 {
		t.Errorf("PMSMaxRetries = %d", cfg.PMSMaxRetries)
	}
	if !cfg.RedisTLS {
		t.Error("RedisTLS should be true")
	}
}

func TestValidatePMS(t *testing.T) {
	cfg := &Config{}
	if err := cfg.ValidatePMS(); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}

	cfg = &Config{
		PMSBaseURL:      "https://pm.example.com/fhir",
		PMSClientID:     "id",
		PMSClientSecret: "secret",
	}
	if err := cfg.ValidatePMS(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
