package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("TIMERSYNC_CONFIG", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" || cfg.TokenTTL != 72*time.Hour {
		t.Fatalf("unexpected server defaults %+v", cfg)
	}
	if cfg.Push.AttemptTimeout != 30*time.Second || cfg.Push.MaxAttempts != 4 {
		t.Fatalf("unexpected push defaults %+v", cfg.Push)
	}
	if cfg.Billing.MaxRequests != 200 || cfg.Billing.Enabled() {
		t.Fatalf("unexpected billing defaults %+v", cfg.Billing)
	}
	if cfg.APNs.Enabled() {
		t.Fatal("apns should be disabled without credentials")
	}
}

func TestFileValuesYieldToEnvironment(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	path := filepath.Join(dir, "timersync.yaml")
	content := []byte(`
server:
  port: "9090"
  cors_origins: ["https://app.example.com"]
push:
  max_attempts: 6
  periodic_interval: 30s
local:
  foreground_on_stop: true
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("TIMERSYNC_CONFIG", path)
	t.Setenv("PUSH_MAX_ATTEMPTS", "2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9090" {
		t.Fatalf("expected port from file, got %s", cfg.Port)
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "https://app.example.com" {
		t.Fatalf("unexpected origins %v", cfg.CORSOrigins)
	}
	if cfg.Push.MaxAttempts != 2 {
		t.Fatalf("expected environment to win, got %d", cfg.Push.MaxAttempts)
	}
	if cfg.Push.PeriodicInterval != 30*time.Second || !cfg.Local.ForegroundOnStop {
		t.Fatalf("unexpected file values %+v %+v", cfg.Push, cfg.Local)
	}
}

func TestDotEnvIsLoaded(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	t.Setenv("TIMERSYNC_CONFIG", "")
	t.Setenv("APNS_TOPIC", "")
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("APNS_TOPIC=com.example.timer\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	// godotenv does not override variables that are already present.
	os.Unsetenv("APNS_TOPIC")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APNs.Topic != "com.example.timer" {
		t.Fatalf("expected topic from .env, got %q", cfg.APNs.Topic)
	}
}

func TestMissingConfigFileIsAnError(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("TIMERSYNC_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains: it changes
// the working directory for the duration of the test and restores it after.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatalf("restore working directory: %v", err)
		}
	})
}
