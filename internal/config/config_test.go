package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port != 8431 {
		t.Errorf("expected port 8431, got %d", cfg.Server.Port)
	}

	if cfg.Agent.CheckIntervalSec != 300 {
		t.Errorf("expected check interval 300s, got %d", cfg.Agent.CheckIntervalSec)
	}

	if !cfg.Agent.AutoApproveLowRisk {
		t.Error("low-risk auto-approval should default on")
	}

	if cfg.Agent.RetrainTimeoutSec != 3600 {
		t.Errorf("expected retrain timeout 3600s, got %d", cfg.Agent.RetrainTimeoutSec)
	}

	if cfg.MQTT.Enabled {
		t.Error("MQTT should default off")
	}

	if cfg.Paths.QueueFile == "" {
		t.Error("queue file path should have a default")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sentinel.json")

	raw := map[string]any{
		"server": map[string]any{"port": 9000, "logLevel": "debug"},
		"agent":  map[string]any{"dryRun": true, "checkIntervalSec": 60},
		"paths":  map[string]any{"dataDir": filepath.Join(dir, "data")},
	}
	data, _ := json.Marshal(raw)
	if err := os.WriteFile(path, data, 0640); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}
	if !cfg.Agent.DryRun {
		t.Error("dryRun override not applied")
	}
	if cfg.Agent.CheckIntervalSec != 60 {
		t.Errorf("expected interval 60, got %d", cfg.Agent.CheckIntervalSec)
	}
	// Untouched fields keep defaults
	if cfg.Agent.RetrainTimeoutSec != 3600 {
		t.Errorf("default retrain timeout lost on load: %d", cfg.Agent.RetrainTimeoutSec)
	}

	// Data dir is created on load
	if _, err := os.Stat(cfg.Paths.DataDir); err != nil {
		t.Errorf("data dir not created: %v", err)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "sentinel.json")

	cfg := DefaultConfig()
	cfg.Server.Port = 8765
	cfg.Paths.DataDir = filepath.Join(dir, "data")

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Server.Port != 8765 {
		t.Errorf("round trip lost port: %d", loaded.Server.Port)
	}
}
