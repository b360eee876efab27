package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.RatioMinBps != 12500 || cfg.RatioMaxBps != 20000 {
		t.Errorf("expected default window [12500,20000], got [%d,%d]", cfg.RatioMinBps, cfg.RatioMaxBps)
	}
	if cfg.DefaultRatioBps != 15500 || cfg.DefaultConfidence != 50 {
		t.Errorf("expected default mint 15500/50, got %d/%d", cfg.DefaultRatioBps, cfg.DefaultConfidence)
	}
	if cfg.ManualTimeout != 30*time.Minute ||
		cfg.EmergencyTimeout != 2*time.Hour ||
		cfg.VaultBypassTimeout != 4*time.Hour {
		t.Errorf("unexpected default ladder: %s %s %s",
			cfg.ManualTimeout, cfg.EmergencyTimeout, cfg.VaultBypassTimeout)
	}
	if cfg.FailureThreshold != 5 || cfg.BreakerCooldown != time.Hour {
		t.Errorf("unexpected breaker defaults: %d %s", cfg.FailureThreshold, cfg.BreakerCooldown)
	}
	if cfg.SweepBatchSize != 10 {
		t.Errorf("expected sweep batch 10, got %d", cfg.SweepBatchSize)
	}
	if len(cfg.SupportedAssets) != 3 {
		t.Errorf("expected 3 default assets, got %v", cfg.SupportedAssets)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
port: "9090"
owner: alice
processors:
  - bot-1
  - bot-2
ratio_min_bps: 13000
manual_timeout: 10m
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Port)
	}
	if cfg.Owner != "alice" || len(cfg.Processors) != 2 {
		t.Errorf("owner/processors not loaded: %s %v", cfg.Owner, cfg.Processors)
	}
	if cfg.RatioMinBps != 13000 {
		t.Errorf("expected ratio_min_bps 13000, got %d", cfg.RatioMinBps)
	}
	if cfg.ManualTimeout != 10*time.Minute {
		t.Errorf("expected manual_timeout 10m, got %s", cfg.ManualTimeout)
	}
	// Untouched keys keep their defaults.
	if cfg.RatioMaxBps != 20000 {
		t.Errorf("expected default ratio_max_bps, got %d", cfg.RatioMaxBps)
	}
}

func TestLoad_InvalidLadderRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("manual_timeout: 3h\nemergency_timeout: 2h\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("an unordered timeout ladder must be rejected")
	}
}

func TestValidate_DefaultRatioInsideWindow(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	cfg.DefaultRatioBps = 21000
	if err := cfg.Validate(); err == nil {
		t.Error("default ratio outside the clamp window must be rejected")
	}
}

func TestIsProcessor(t *testing.T) {
	cfg := &Config{Owner: "owner", Processors: []string{"bot-1"}}

	if !cfg.IsProcessor("owner") {
		t.Error("the owner is always a processor")
	}
	if !cfg.IsProcessor("bot-1") {
		t.Error("configured processors are processors")
	}
	if cfg.IsProcessor("anyone") {
		t.Error("unknown callers are not processors")
	}
}
