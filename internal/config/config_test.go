package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address != ":8000" {
		t.Errorf("server address = %q, want :8000", cfg.Server.Address)
	}
	if cfg.Detector.AutoTrigger != "critical" {
		t.Errorf("autoTrigger = %q, want critical", cfg.Detector.AutoTrigger)
	}
	if cfg.Cache.AnalysisTTL != 15*time.Second {
		t.Errorf("analysis TTL = %v, want 15s", cfg.Cache.AnalysisTTL)
	}
	if cfg.Reasoning.Provider != "none" {
		t.Errorf("reasoning provider = %q, want none", cfg.Reasoning.Provider)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
server:
  address: ":9090"
sources:
  loki:
    baseURL: "http://loki:3100"
    limit: 50
reasoning:
  provider: ollama
  model: llama3
detector:
  autoTrigger: high
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address != ":9090" {
		t.Errorf("server address = %q", cfg.Server.Address)
	}
	if cfg.Sources.Loki.Limit != 50 {
		t.Errorf("loki limit = %d, want 50", cfg.Sources.Loki.Limit)
	}
	if cfg.Reasoning.Provider != "ollama" || cfg.Reasoning.Model != "llama3" {
		t.Errorf("reasoning = %+v", cfg.Reasoning)
	}
	if cfg.Detector.AutoTrigger != "high" {
		t.Errorf("autoTrigger = %q", cfg.Detector.AutoTrigger)
	}
	// Untouched sections keep defaults.
	if cfg.Sources.Victoria.Timeout != 5*time.Second {
		t.Errorf("victoria timeout = %v", cfg.Sources.Victoria.Timeout)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FLEETVISOR_SERVER_ADDRESS", ":7777")
	t.Setenv("FLEETVISOR_REASONING_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("FLEETVISOR_AUTO_TRIGGER", "high")
	t.Setenv("FLEETVISOR_CACHE_ENABLED", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address != ":7777" {
		t.Errorf("server address = %q", cfg.Server.Address)
	}
	if cfg.Reasoning.Provider != "openai" || cfg.Reasoning.APIKey != "sk-test" {
		t.Errorf("reasoning = %+v", cfg.Reasoning)
	}
	if cfg.Detector.AutoTrigger != "high" {
		t.Errorf("autoTrigger = %q", cfg.Detector.AutoTrigger)
	}
	if !cfg.Cache.Enabled {
		t.Error("cache should be enabled")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Setenv("FLEETVISOR_REASONING_PROVIDER", "psychic")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for unknown reasoning provider")
	}
	t.Setenv("FLEETVISOR_REASONING_PROVIDER", "none")
	t.Setenv("FLEETVISOR_AUTO_TRIGGER", "low")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for invalid autoTrigger floor")
	}
}
