package config

import (
	"os"
	"testing"
)

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("STORE_URL", "postgres://example/db")
	t.Setenv("LLM_API_KEY", "sk-test")
	t.Setenv("PORT", "9090")
	t.Setenv("RUNTIME_MODE", "production")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.URL != "postgres://example/db" {
		t.Errorf("Store.URL = %q", cfg.Store.URL)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d", cfg.Server.Port)
	}
	if cfg.RuntimeMode != ModeProduction {
		t.Errorf("RuntimeMode = %q", cfg.RuntimeMode)
	}
	if cfg.Dispatcher.RuntimeWorkers < 32 {
		t.Errorf("production mode should raise RuntimeWorkers, got %d", cfg.Dispatcher.RuntimeWorkers)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestValidateRequiresStoreURLInProduction(t *testing.T) {
	cfg := Default()
	cfg.RuntimeMode = ModeProduction
	cfg.LLM.APIKey = "sk-test"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing store URL in production")
	}
}

func TestValidateAllowsEmptyStoreURLInDevelopment(t *testing.T) {
	cfg := Default()
	cfg.LLM.APIKey = "sk-test"
	if err := cfg.Validate(); err != nil {
		t.Errorf("development mode should allow empty store URL: %v", err)
	}
}

func TestLoadFromYAMLFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "cortex-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.WriteString("server:\n  port: 9999\n"); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(f.Name())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want 9999", cfg.Server.Port)
	}
}
