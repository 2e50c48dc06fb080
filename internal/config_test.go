package internal

import (
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func validPaths() PathsConfig {
	return PathsConfig{
		ProjectRoot: "/proj",
		WatchDir:    "/comfy/out",
		Registry:    "/proj/master.xlsx",
	}
}

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeValid(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with token should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("token mode should be enabled")
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestConfig_RequiredPaths(t *testing.T) {
	for _, tc := range []struct {
		name  string
		strip func(*PathsConfig)
	}{
		{"project_root", func(p *PathsConfig) { p.ProjectRoot = "" }},
		{"watch_dir", func(p *PathsConfig) { p.WatchDir = "" }},
		{"registry", func(p *PathsConfig) { p.Registry = "" }},
	} {
		cfg := NewDefaultConfig()
		cfg.Paths = validPaths()
		tc.strip(&cfg.Paths)
		if err := cfg.Validate(); err == nil {
			t.Errorf("missing %s should fail validation", tc.name)
		}
	}
}

func TestConfig_NormalizeDerivesDefaults(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Paths = validPaths()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if want := filepath.Join("/proj", "Aging"); cfg.Paths.AgingRoot != want {
		t.Errorf("aging_root = %q, want %q", cfg.Paths.AgingRoot, want)
	}
	if want := filepath.Join("/proj", "ingest_ledger.db"); cfg.Paths.Ledger != want {
		t.Errorf("ledger = %q, want %q", cfg.Paths.Ledger, want)
	}
	if want := filepath.Join("/proj", "event_log.jsonl"); cfg.LedgerOpts.EventLogPath != want {
		t.Errorf("event_log_path = %q, want %q", cfg.LedgerOpts.EventLogPath, want)
	}
	if want := filepath.Join("/proj", "dataset_index.jsonl"); cfg.DatasetIndexPath() != want {
		t.Errorf("dataset index = %q, want %q", cfg.DatasetIndexPath(), want)
	}
}

func TestConfig_NormalizeTimelineFolder(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Paths = validPaths()
	cfg.Timeline = TimelineConfig{Code: "B"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Timeline.FolderName != "TimelineB" {
		t.Errorf("folder_name = %q, want TimelineB", cfg.Timeline.FolderName)
	}
}

func TestConfig_WatcherFloors(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Paths = validPaths()
	cfg.Watcher = WatcherConfig{PollInterval: 0, StabilityCycles: 1}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Watcher.PollInterval.Std() != 750*time.Millisecond {
		t.Errorf("poll_interval = %v", cfg.Watcher.PollInterval.Std())
	}
	if cfg.Watcher.StabilityCycles != 2 {
		t.Errorf("stability_cycles = %d", cfg.Watcher.StabilityCycles)
	}
}

func TestConfig_DecodesYAML(t *testing.T) {
	raw := `
app:
  log_level: warn
  http:
    port: 9000
paths:
  project_root: /proj
  watch_dir: /comfy/out
  registry: /proj/master.xlsx
watcher:
  poll_interval: 250ms
  stability_cycles: 3
channel:
  host: 0.0.0.0
  port: 9001
registry_opts:
  retry:
    attempts: 3
    base_delay: 100ms
    max_delay: 2s
auth:
  mode: token
  token: sekret
`
	cfg := NewDefaultConfig()
	if err := yaml.Unmarshal([]byte(raw), cfg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.App.LogLevel.Level() != slog.LevelWarn {
		t.Errorf("log_level = %v", cfg.App.LogLevel.Level())
	}
	if cfg.App.HTTP.Address() != ":9000" {
		t.Errorf("http address = %q", cfg.App.HTTP.Address())
	}
	if cfg.Watcher.PollInterval.Std() != 250*time.Millisecond {
		t.Errorf("poll_interval = %v", cfg.Watcher.PollInterval.Std())
	}
	if cfg.Channel.Address() != "0.0.0.0:9001" {
		t.Errorf("channel address = %q", cfg.Channel.Address())
	}
	pol := cfg.RegistryOpts.Retry.Policy()
	if pol.Attempts != 3 || pol.BaseDelay != 100*time.Millisecond || pol.MaxDelay != 2*time.Second {
		t.Errorf("retry policy = %+v", pol)
	}
	if !cfg.Auth.AuthEnabled() {
		t.Error("auth should be enabled")
	}
}

func TestConfig_RejectsBadDuration(t *testing.T) {
	cfg := NewDefaultConfig()
	err := yaml.Unmarshal([]byte("watcher:\n  poll_interval: soon\n"), cfg)
	if err == nil {
		t.Fatal("bad duration should fail to decode")
	}
}

func TestConfig_RejectsBadLogLevel(t *testing.T) {
	cfg := NewDefaultConfig()
	err := yaml.Unmarshal([]byte("app:\n  log_level: loud\n"), cfg)
	if err == nil {
		t.Fatal("bad log level should fail to decode")
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Paths = validPaths()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}
