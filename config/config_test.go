package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress != Default().RPCAddress {
		t.Fatalf("expected default RPC address, got %q", cfg.RPCAddress)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config file not written: %v", err)
	}
}

func TestLoadAppliesDefaultsToPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := "RPCAddress = \"0.0.0.0:9999\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress != "0.0.0.0:9999" {
		t.Fatalf("explicit RPC address overridden: %q", cfg.RPCAddress)
	}
	if cfg.Backend != BackendLevelDB {
		t.Fatalf("expected default backend, got %q", cfg.Backend)
	}
	if cfg.DisputePeriodSeconds != 24*60*60 {
		t.Fatalf("expected default dispute period, got %d", cfg.DisputePeriodSeconds)
	}
	if cfg.RateLimitPerMinute != 600 {
		t.Fatalf("expected default rate limit, got %d", cfg.RateLimitPerMinute)
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := "Backend = \"postgres\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unsupported backend")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
	cfg.DisputePeriodSeconds = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for non-positive dispute period")
	}
}
