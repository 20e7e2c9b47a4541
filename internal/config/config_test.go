package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SessionStore.Backend != "memory" || cfg.SessionStore.TTLMinutes != 30 {
		t.Fatalf("unexpected session store defaults: %+v", cfg.SessionStore)
	}
	if len(cfg.CORS.Origins) != 2 {
		t.Fatalf("expected default cors origins, got %v", cfg.CORS.Origins)
	}
	if cfg.Discord.BotPermissions != "66560" {
		t.Fatalf("unexpected bot permissions %q", cfg.Discord.BotPermissions)
	}
}

func TestLoadYAMLAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte(`
basic_config:
  server_address: ":9000"
session_store:
  backend: disk
  dir: sessions
providers:
  openai:
    model: gpt-test
`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("OPENAI_API_KEY", "sk-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BasicConfig.ServerAddress != ":9000" {
		t.Fatalf("unexpected address %q", cfg.BasicConfig.ServerAddress)
	}
	if cfg.SessionStore.Dir != filepath.Join(dir, "sessions") {
		t.Fatalf("session dir not resolved against config dir: %q", cfg.SessionStore.Dir)
	}
	if got := cfg.CORS.Origins; len(got) != 2 || got[1] != "https://b.example" {
		t.Fatalf("unexpected origins %v", got)
	}
	p := cfg.Provider()
	if p.APIKey != "sk-env" || p.Model != "gpt-test" {
		t.Fatalf("unexpected provider %+v", p)
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"session_store":{"backend":"s3"}}`), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unsupported backend")
	}
}
