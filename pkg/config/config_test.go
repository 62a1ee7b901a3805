package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("FLEETLOCK_BACKEND_URL", "valkey://localhost:6379")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BackendURL != "valkey://localhost:6379" {
		t.Errorf("BackendURL = %q", cfg.BackendURL)
	}
	if cfg.Prefix != "fleetlock-" {
		t.Errorf("Prefix = %q, want fleetlock-", cfg.Prefix)
	}
	if cfg.HeartbeatInterval != time.Second {
		t.Errorf("HeartbeatInterval = %v, want 1s", cfg.HeartbeatInterval)
	}
	if cfg.InitialReconnectBackoff != 100*time.Millisecond {
		t.Errorf("InitialReconnectBackoff = %v, want 100ms", cfg.InitialReconnectBackoff)
	}
	if cfg.MaxReconnectBackoff != 60*time.Second {
		t.Errorf("MaxReconnectBackoff = %v, want 60s", cfg.MaxReconnectBackoff)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if len(cfg.MetricsBackends) != 0 {
		t.Errorf("MetricsBackends = %v, want empty", cfg.MetricsBackends)
	}
}

func TestLoad_MissingBackendURL(t *testing.T) {
	t.Setenv("FLEETLOCK_BACKEND_URL", "")

	if _, err := Load(); err == nil {
		t.Fatal("Load() succeeded without backend URL")
	}
}

func TestLoad_FractionalSeconds(t *testing.T) {
	t.Setenv("FLEETLOCK_BACKEND_URL", "mem://local")
	t.Setenv("FLEETLOCK_HEARTBEAT_SECONDS", "0.25")
	t.Setenv("FLEETLOCK_INITIAL_RECONNECT_BACKOFF_SECONDS", "0.5")
	t.Setenv("FLEETLOCK_MAX_RECONNECT_BACKOFF_SECONDS", "30")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HeartbeatInterval != 250*time.Millisecond {
		t.Errorf("HeartbeatInterval = %v, want 250ms", cfg.HeartbeatInterval)
	}
	if cfg.InitialReconnectBackoff != 500*time.Millisecond {
		t.Errorf("InitialReconnectBackoff = %v, want 500ms", cfg.InitialReconnectBackoff)
	}
	if cfg.MaxReconnectBackoff != 30*time.Second {
		t.Errorf("MaxReconnectBackoff = %v, want 30s", cfg.MaxReconnectBackoff)
	}
}

func TestLoad_InvalidSecondsFallsBack(t *testing.T) {
	t.Setenv("FLEETLOCK_BACKEND_URL", "mem://local")
	t.Setenv("FLEETLOCK_HEARTBEAT_SECONDS", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HeartbeatInterval != time.Second {
		t.Errorf("HeartbeatInterval = %v, want default 1s", cfg.HeartbeatInterval)
	}
}

func TestLoad_MetricsBackends(t *testing.T) {
	t.Setenv("FLEETLOCK_BACKEND_URL", "mem://local")
	t.Setenv("FLEETLOCK_METRICS_BACKENDS", "prometheus, datadog")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.MetricsBackends) != 2 || cfg.MetricsBackends[0] != "prometheus" || cfg.MetricsBackends[1] != "datadog" {
		t.Errorf("MetricsBackends = %v", cfg.MetricsBackends)
	}
}

func TestLoad_UnknownMetricsBackend(t *testing.T) {
	t.Setenv("FLEETLOCK_BACKEND_URL", "mem://local")
	t.Setenv("FLEETLOCK_METRICS_BACKENDS", "statsd2")

	if _, err := Load(); err == nil {
		t.Fatal("Load() accepted unknown metrics backend")
	}
}

func TestValidate_BackoffOrdering(t *testing.T) {
	cfg := &Config{
		BackendURL:              "mem://local",
		HeartbeatInterval:       time.Second,
		InitialReconnectBackoff: 10 * time.Second,
		MaxReconnectBackoff:     time.Second,
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() accepted max backoff below initial backoff")
	}
}

func TestLoadProfiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profiles.yaml")
	content := `profiles:
  prod:
    backend_url: valkey://prod-cache:6379
    prefix: prod-
    heartbeat_seconds: 0.5
  local:
    backend_url: mem://local
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	profiles, err := LoadProfiles(path)
	if err != nil {
		t.Fatalf("LoadProfiles() error = %v", err)
	}
	if len(profiles) != 2 {
		t.Fatalf("profiles = %d, want 2", len(profiles))
	}
	prod := profiles["prod"]
	if prod.BackendURL != "valkey://prod-cache:6379" || prod.Prefix != "prod-" || prod.HeartbeatSeconds != 0.5 {
		t.Errorf("prod profile = %+v", prod)
	}
}

func TestLoadProfiles_Errors(t *testing.T) {
	if _, err := LoadProfiles("/nonexistent/profiles.yaml"); err == nil {
		t.Error("LoadProfiles() succeeded on missing file")
	}

	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.yaml")
	if err := os.WriteFile(empty, []byte("profiles: {}\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := LoadProfiles(empty); err == nil {
		t.Error("LoadProfiles() succeeded on empty profiles")
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("profiles: [not a map"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := LoadProfiles(bad); err == nil {
		t.Error("LoadProfiles() succeeded on malformed YAML")
	}
}

func TestApplyProfile(t *testing.T) {
	cfg := &Config{
		BackendURL:        "mem://local",
		Prefix:            "fleetlock-",
		HeartbeatInterval: time.Second,
	}

	cfg.ApplyProfile(Profile{BackendURL: "valkey://cache:6379", HeartbeatSeconds: 2})
	if cfg.BackendURL != "valkey://cache:6379" {
		t.Errorf("BackendURL = %q", cfg.BackendURL)
	}
	if cfg.Prefix != "fleetlock-" {
		t.Errorf("Prefix overwritten by unset profile field: %q", cfg.Prefix)
	}
	if cfg.HeartbeatInterval != 2*time.Second {
		t.Errorf("HeartbeatInterval = %v, want 2s", cfg.HeartbeatInterval)
	}
}
