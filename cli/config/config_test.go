package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stakeout.yml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Tracking.MaxFailingSpree != 5 {
		t.Errorf("max_failing_spree = %d, want 5", cfg.Tracking.MaxFailingSpree)
	}
	if cfg.Tracking.TaskTimeout.Duration != 15*time.Minute {
		t.Errorf("task_timeout = %v, want 15m", cfg.Tracking.TaskTimeout.Duration)
	}
	if cfg.Tracking.TaskPeriod.Duration != 12*time.Hour {
		t.Errorf("task_period = %v, want 12h", cfg.Tracking.TaskPeriod.Duration)
	}
	if cfg.Redis.Addr() != "localhost:6379" {
		t.Errorf("redis addr = %q", cfg.Redis.Addr())
	}
	if cfg.API.Addr != ":5000" {
		t.Errorf("api addr = %q", cfg.API.Addr)
	}
	if cfg.MWDB.APIURL() != "https://mwdb.cert.pl/api" {
		t.Errorf("mwdb api url = %q", cfg.MWDB.APIURL())
	}
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
tracking:
  max_failing_spree: 3
  task_timeout: 5m
  task_period: 1h
log:
  dir: /var/log/stakeout
mwdb:
  url: https://repo.example.com
  api_url_override: https://repo.example.com/api/v2
  token: secret
redis:
  host: redis.internal
  port: 6380
proxy:
  default: pl
  method: file
  path: /opt/proxies.json
notify:
  type: webhook
  url: https://hooks.example.com/stakeout
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Tracking.MaxFailingSpree != 3 {
		t.Errorf("max_failing_spree = %d", cfg.Tracking.MaxFailingSpree)
	}
	if cfg.Tracking.TaskTimeout.Duration != 5*time.Minute {
		t.Errorf("task_timeout = %v", cfg.Tracking.TaskTimeout.Duration)
	}
	if cfg.Log.Dir != "/var/log/stakeout" {
		t.Errorf("log dir = %q", cfg.Log.Dir)
	}
	if cfg.MWDB.APIURL() != "https://repo.example.com/api/v2" {
		t.Errorf("mwdb api url = %q", cfg.MWDB.APIURL())
	}
	if cfg.Redis.Addr() != "redis.internal:6380" {
		t.Errorf("redis addr = %q", cfg.Redis.Addr())
	}
	if cfg.Proxy.Method != "file" || cfg.Proxy.Path != "/opt/proxies.json" {
		t.Errorf("proxy = %+v", cfg.Proxy)
	}
	if cfg.Notify.Type != "webhook" {
		t.Errorf("notify type = %q", cfg.Notify.Type)
	}
	// Untouched sections keep their defaults.
	if cfg.Database.URL == "" {
		t.Error("database url default lost")
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("STAKEOUT_TEST_TOKEN", "tok-123")
	os.Unsetenv("STAKEOUT_TEST_MISSING")

	cfg, err := Load(writeConfig(t, `
mwdb:
  token: ${STAKEOUT_TEST_TOKEN}
database:
  url: ${STAKEOUT_TEST_MISSING:-postgres://fallback:5432/stakeout}
api:
  addr: "${STAKEOUT_TEST_MISSING}:5000"
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.MWDB.Token != "tok-123" {
		t.Errorf("token = %q", cfg.MWDB.Token)
	}
	if cfg.Database.URL != "postgres://fallback:5432/stakeout" {
		t.Errorf("database url = %q", cfg.Database.URL)
	}
	if cfg.API.Addr != ":5000" {
		t.Errorf("api addr = %q, want unset var to expand empty", cfg.API.Addr)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad yaml", ":\n  - ["},
		{"bad duration", "tracking:\n  task_timeout: soonish\n"},
		{"zero spree", "tracking:\n  max_failing_spree: 0\n"},
		{"unknown proxy method", "proxy:\n  method: carrier-pigeon\n"},
		{"url method without url", "proxy:\n  method: url\n"},
		{"unknown notify type", "notify:\n  type: telegraph\n"},
		{"webhook without url", "notify:\n  type: webhook\n"},
		{"redis notify without channel", "notify:\n  type: redis\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.content)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoad_Missing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestDiscover(t *testing.T) {
	// No explicit path and no files on the search path: defaults.
	cfg, err := Discover(filepath.Join(t.TempDir(), "absent.yml"))
	if err == nil {
		t.Error("explicit missing path should error")
	}

	cfg, err = Discover("")
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if cfg.Tracking.MaxFailingSpree != 5 {
		t.Errorf("expected defaults, got %+v", cfg.Tracking)
	}

	explicit := writeConfig(t, "tracking:\n  max_failing_spree: 9\n")
	cfg, err = Discover(explicit)
	if err != nil {
		t.Fatalf("Discover explicit: %v", err)
	}
	if cfg.Tracking.MaxFailingSpree != 9 {
		t.Errorf("max_failing_spree = %d, want 9", cfg.Tracking.MaxFailingSpree)
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("STAKEOUT_TEST_VAR", "value")
	t.Setenv("STAKEOUT_TEST_EMPTY", "")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain var", "${STAKEOUT_TEST_VAR}", "value"},
		{"var with default", "${STAKEOUT_TEST_VAR:-other}", "value"},
		{"empty var uses default", "${STAKEOUT_TEST_EMPTY:-fallback}", "fallback"},
		{"unset without default", "${STAKEOUT_TEST_NOPE}", ""},
		{"unset with default", "${STAKEOUT_TEST_NOPE:-dflt}", "dflt"},
		{"embedded", "redis://${STAKEOUT_TEST_VAR}:6379", "redis://value:6379"},
		{"no pattern", "plain text $HOME", "plain text $HOME"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExpandEnv(tt.input); got != tt.want {
				t.Errorf("ExpandEnv(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
