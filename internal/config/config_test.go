package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Default()
	cfg.DefaultSession = "work"
	cfg.Auth.PollInterval = 5 * time.Second
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultSession != "work" {
		t.Errorf("DefaultSession = %q, want %q", loaded.DefaultSession, "work")
	}
	if loaded.Auth.PollInterval != 5*time.Second {
		t.Errorf("PollInterval = %v, want 5s", loaded.Auth.PollInterval)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestLoadWithDefaultsMissingFile(t *testing.T) {
	cfg, err := LoadWithDefaults(filepath.Join(t.TempDir(), "none.toml"))
	if err != nil {
		t.Fatalf("LoadWithDefaults() error = %v", err)
	}
	if cfg.Server.APIURL != "http://localhost:21465/api" || cfg.Auth.MaxPolls != 60 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestLoadWithDefaultsPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
default_session = "work"

[server]
api_url = "http://wpp.internal:21465/api"
timeout = "10s"

[retry]
base = "500ms"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DefaultSession != "work" || cfg.Server.APIURL != "http://wpp.internal:21465/api" {
		t.Errorf("file values not read: %+v", cfg)
	}
	if cfg.Server.Timeout != 10*time.Second || cfg.Retry.Base != 500*time.Millisecond {
		t.Errorf("durations = %v, %v", cfg.Server.Timeout, cfg.Retry.Base)
	}
	if cfg.Server.SocketURL != "http://localhost:21465" || cfg.Retry.MaxAttempts != 3 {
		t.Errorf("unset values lost their defaults: %+v", cfg)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("WPPC_SESSION", "env-session")
	t.Setenv("WPPC_SECRET_KEY", "s3cret")
	t.Setenv("WPPC_TIMEOUT", "2s")
	t.Setenv("WPPC_MAX_POLLS", "not-a-number")

	cfg := Default()
	ApplyEnv(cfg)
	if cfg.DefaultSession != "env-session" || cfg.Server.SecretKey != "s3cret" {
		t.Errorf("env not applied: %+v", cfg)
	}
	if cfg.Server.Timeout != 2*time.Second {
		t.Errorf("Timeout = %v", cfg.Server.Timeout)
	}
	if cfg.Auth.MaxPolls != 60 {
		t.Errorf("invalid WPPC_MAX_POLLS changed MaxPolls to %d", cfg.Auth.MaxPolls)
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
