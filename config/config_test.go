package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Server.Listen != DefaultListenAddress {
		t.Errorf("Listen = %q", cfg.Server.Listen)
	}
	if cfg.Server.MaxPayloadSize != DefaultMaxPayloadSize {
		t.Errorf("MaxPayloadSize = %d", cfg.Server.MaxPayloadSize)
	}
	if cfg.Compute.Workers != DefaultComputeWorkers {
		t.Errorf("Workers = %d", cfg.Compute.Workers)
	}
}

func TestLoadOverridesAndFills(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
server:
  listen: "0.0.0.0:7000"
session:
  api_key: "k"
storage:
  data_dir: "/tmp/cubes"
log:
  level: debug
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Listen != "0.0.0.0:7000" {
		t.Errorf("Listen = %q", cfg.Server.Listen)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Level = %q", cfg.Log.Level)
	}
	// Unset fields fall back to defaults.
	if cfg.Session.AuthTimeoutSec != DefaultAuthTimeoutSec {
		t.Errorf("AuthTimeoutSec = %d", cfg.Session.AuthTimeoutSec)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("CUBED_API_KEY", "env-key")
	t.Setenv("CUBED_DATA_DIR", "/data/env")

	cfg := Default()
	cfg.ApplyEnv()
	if cfg.Session.APIKey != "env-key" {
		t.Errorf("APIKey = %q", cfg.Session.APIKey)
	}
	if cfg.Storage.DataDir != "/data/env" {
		t.Errorf("DataDir = %q", cfg.Storage.DataDir)
	}
}

func TestValidateRejectsMissingKey(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Error("Validate accepted empty API key")
	}
}

func TestSandboxBudget(t *testing.T) {
	cfg := Default()
	if cfg.SandboxBudget() != DefaultSandboxBudget {
		t.Errorf("SandboxBudget = %v", cfg.SandboxBudget())
	}
	cfg.Compute.SandboxBudgetMs = 250
	if got := cfg.SandboxBudget().Milliseconds(); got != 250 {
		t.Errorf("SandboxBudget = %dms", got)
	}
}
