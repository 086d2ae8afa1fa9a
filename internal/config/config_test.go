package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "xgov.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Fatalf("Address = %q", cfg.Server.Address)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Fatalf("logging defaults = %+v", cfg.Logging)
	}
	if cfg.Registry.Driver != "file" {
		t.Fatalf("registry driver = %q", cfg.Registry.Driver)
	}
	if !filepath.IsAbs(cfg.Registry.Path) {
		t.Fatalf("registry path should be absolute: %q", cfg.Registry.Path)
	}
	if cfg.Jobs.Queue.Driver != "memory" || cfg.Jobs.Workers != 4 || cfg.Jobs.MaxRetries != 3 {
		t.Fatalf("jobs defaults = %+v", cfg.Jobs)
	}
	if cfg.Planner.Provider != "static" {
		t.Fatalf("planner provider = %q", cfg.Planner.Provider)
	}
}

func TestLoadResolvesRelativePaths(t *testing.T) {
	path := writeConfig(t, `{
		"ledger": {"definitions": "chain.yaml"},
		"selector": {"catalog": "catalog.yaml"},
		"registry": {"driver": "file", "path": "state/agents.json"}
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	base := filepath.Dir(path)
	if cfg.Ledger.Definitions != filepath.Join(base, "chain.yaml") {
		t.Fatalf("definitions = %q", cfg.Ledger.Definitions)
	}
	if cfg.Selector.Catalog != filepath.Join(base, "catalog.yaml") {
		t.Fatalf("catalog = %q", cfg.Selector.Catalog)
	}
	if cfg.Registry.Path != filepath.Join(base, "state", "agents.json") {
		t.Fatalf("registry path = %q", cfg.Registry.Path)
	}
}

func TestResolvePayerKey(t *testing.T) {
	inline := LedgerConfig{PayerKey: "abc"}
	if key, err := inline.ResolvePayerKey(); err != nil || key != "abc" {
		t.Fatalf("inline key = %q, err = %v", key, err)
	}

	t.Setenv("XGOV_TEST_PAYER_KEY", "def")
	fromEnv := LedgerConfig{PayerKeyEnv: "XGOV_TEST_PAYER_KEY"}
	if key, err := fromEnv.ResolvePayerKey(); err != nil || key != "def" {
		t.Fatalf("env key = %q, err = %v", key, err)
	}

	missing := LedgerConfig{PayerKeyEnv: "XGOV_TEST_MISSING_KEY"}
	if _, err := missing.ResolvePayerKey(); err == nil {
		t.Fatal("expected error for unset env var")
	}
	if _, err := (LedgerConfig{}).ResolvePayerKey(); err == nil {
		t.Fatal("expected error when no key source configured")
	}
}

func TestOpenAITimeoutDefault(t *testing.T) {
	if got := (OpenAIConfig{}).Timeout(); got != 60*time.Second {
		t.Fatalf("default timeout = %v", got)
	}
	if got := (OpenAIConfig{TimeoutSeconds: 5}).Timeout(); got != 5*time.Second {
		t.Fatalf("timeout = %v", got)
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for empty path")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
