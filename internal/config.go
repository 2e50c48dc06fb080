package internal

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"

	"github.com/ez3davatars/A360-Aging-UI/internal/registry"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Default artifact names, resolved under the project root when the
// corresponding path is left empty.
const (
	defaultAgingDirName     = "Aging"
	defaultLedgerName       = "ingest_ledger.db"
	defaultEventLogName     = "event_log.jsonl"
	defaultDatasetIndexName = "dataset_index.jsonl"
)

// Duration decodes YAML duration strings like "750ms" or "5s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// LogLevel decodes slog level names ("debug", "info", "warn", "error").
type LogLevel slog.Level

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *LogLevel) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	var lv slog.Level
	if err := lv.UnmarshalText([]byte(s)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", s, err)
	}
	*l = LogLevel(lv)
	return nil
}

// Level returns the wrapped slog.Level.
func (l LogLevel) Level() slog.Level {
	return slog.Level(l)
}

// Config represents the application configuration.
type Config struct {
	App          ApplicationConfig `yaml:"app"`
	Paths        PathsConfig       `yaml:"paths"`
	Watcher      WatcherConfig     `yaml:"watcher"`
	Channel      ChannelConfig     `yaml:"channel"`
	Timeline     TimelineConfig    `yaml:"timeline"`
	RegistryOpts RegistryConfig    `yaml:"registry_opts"`
	LedgerOpts   LedgerConfig      `yaml:"ledger_opts"`
	Auth         AuthConfig        `yaml:"auth"`
}

// Validate normalizes derived defaults and validates the configuration.
func (c *Config) Validate() error {
	c.normalize()
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Paths.Validate(); err != nil {
		return err
	}
	if err := c.Channel.Validate(); err != nil {
		return err
	}
	if err := c.Timeline.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// normalize fills paths and knobs that derive from other fields.
func (c *Config) normalize() {
	if c.Paths.ProjectRoot != "" {
		if c.Paths.AgingRoot == "" {
			c.Paths.AgingRoot = filepath.Join(c.Paths.ProjectRoot, defaultAgingDirName)
		}
		if c.Paths.Ledger == "" {
			c.Paths.Ledger = filepath.Join(c.Paths.ProjectRoot, defaultLedgerName)
		}
		if c.LedgerOpts.EventLogPath == "" {
			c.LedgerOpts.EventLogPath = filepath.Join(c.Paths.ProjectRoot, defaultEventLogName)
		}
	}
	if c.Timeline.Code == "" {
		c.Timeline.Code = "A"
	}
	if c.Timeline.FolderName == "" {
		c.Timeline.FolderName = "Timeline" + c.Timeline.Code
	}
	if c.Watcher.PollInterval <= 0 {
		c.Watcher.PollInterval = Duration(750 * time.Millisecond)
	}
	if c.Watcher.StabilityCycles < 2 {
		c.Watcher.StabilityCycles = 2
	}
}

// DatasetIndexPath returns where the JSONL dataset index lives.
func (c *Config) DatasetIndexPath() string {
	return filepath.Join(c.Paths.ProjectRoot, defaultDatasetIndexName)
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel LogLevel   `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns the HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// PathsConfig locates the project tree and the files the watcher touches.
// AgingRoot, Ledger, and the event log default under ProjectRoot.
type PathsConfig struct {
	ProjectRoot string `yaml:"project_root"`
	AgingRoot   string `yaml:"aging_root"`
	WatchDir    string `yaml:"watch_dir"`
	Registry    string `yaml:"registry"`
	Ledger      string `yaml:"ledger"`
}

// Validate validates the path configuration.
func (c *PathsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.ProjectRoot, validation.Required),
		validation.Field(&c.WatchDir, validation.Required),
		validation.Field(&c.Registry, validation.Required),
	)
}

// WatcherConfig tunes the watch loop.
type WatcherConfig struct {
	PollInterval    Duration `yaml:"poll_interval"`
	StabilityCycles int      `yaml:"stability_cycles"`
}

// ChannelConfig holds the websocket event channel listener address.
type ChannelConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Address returns the channel listener address.
func (c *ChannelConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate validates the channel configuration.
func (c *ChannelConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Host, validation.Required),
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// TimelineConfig names the aging timeline.
type TimelineConfig struct {
	Code       string `yaml:"code"`
	FolderName string `yaml:"folder_name"`
}

// Validate validates the timeline configuration.
func (c *TimelineConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Code, validation.Required, validation.Length(1, 1)),
	)
}

// RegistryConfig tunes the workbook adapter.
type RegistryConfig struct {
	SourceModelTool string      `yaml:"source_model_tool"`
	Retry           RetryConfig `yaml:"retry"`
}

// RetryConfig bounds the locked-store retry loop.
type RetryConfig struct {
	Attempts  int      `yaml:"attempts"`
	BaseDelay Duration `yaml:"base_delay"`
	MaxDelay  Duration `yaml:"max_delay"`
}

// Policy converts to the registry's retry policy. Zero values fall back to
// the registry defaults.
func (c RetryConfig) Policy() registry.RetryPolicy {
	return registry.RetryPolicy{
		Attempts:  c.Attempts,
		BaseDelay: c.BaseDelay.Std(),
		MaxDelay:  c.MaxDelay.Std(),
	}
}

// LedgerConfig toggles the optional ingest artifacts.
type LedgerConfig struct {
	DatasetIndex bool   `yaml:"dataset_index"`
	EventLog     bool   `yaml:"event_log"`
	EventLogPath string `yaml:"event_log_path"`
}

// AuthConfig holds API authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local use.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled" for backward compatibility.
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
// Paths stay empty; project_root, watch_dir, and registry have no defaults.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: LogLevel(slog.LevelInfo),
			HTTP: HTTPConfig{
				Port: 8360,
			},
		},
		Watcher: WatcherConfig{
			PollInterval:    Duration(750 * time.Millisecond),
			StabilityCycles: 2,
		},
		Channel: ChannelConfig{
			Host: "127.0.0.1",
			Port: 8765,
		},
		Timeline: TimelineConfig{
			Code:       "A",
			FolderName: "TimelineA",
		},
		RegistryOpts: RegistryConfig{
			SourceModelTool: "ComfyUI",
			Retry: RetryConfig{
				Attempts:  5,
				BaseDelay: Duration(250 * time.Millisecond),
				MaxDelay:  Duration(5 * time.Second),
			},
		},
		LedgerOpts: LedgerConfig{
			DatasetIndex: true,
			EventLog:     true,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
