// Package config loads stevedore's TOML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Store drivers.
const (
	DriverBolt     = "bolt"
	DriverPostgres = "postgres"
)

// Config represents the complete stevedore configuration.
type Config struct {
	General  GeneralConfig            `toml:"general"`
	Output   OutputConfig             `toml:"output"`
	Store    StoreConfig              `toml:"store"`
	Managers map[string]ManagerConfig `toml:"managers"`
	Aliases  map[string]string        `toml:"aliases"`
}

// GeneralConfig contains orchestration settings.
type GeneralConfig struct {
	// SafeMode blocks install, uninstall, upgrade, pin and unpin. A value
	// set with "stevedore safe-mode" overrides it.
	SafeMode bool `toml:"safe_mode"`

	// MaxParallel bounds concurrent managers within one authority phase of a
	// bulk refresh. Zero means unbounded.
	MaxParallel int `toml:"max_parallel"`

	// GracePeriod is how long an interrupted command waits after a graceful
	// cancel before aborting the task.
	GracePeriod Duration `toml:"grace_period"`

	// WaitTimeout bounds how long a bulk operation waits for one task.
	WaitTimeout Duration `toml:"wait_timeout"`

	// AutoConfirm skips confirmation prompts when true (like -y flag).
	AutoConfirm bool `toml:"auto_confirm"`

	// DryRun logs mutating commands instead of executing them.
	DryRun bool `toml:"dry_run"`
}

// OutputConfig contains output formatting settings.
type OutputConfig struct {
	// Color enables colored output (respects NO_COLOR env var).
	Color bool `toml:"color"`

	// Unicode enables unicode symbols in output.
	Unicode bool `toml:"unicode"`

	// Verbose enables debug logging.
	Verbose bool `toml:"verbose"`
}

// StoreConfig selects where task records and caches live.
type StoreConfig struct {
	// Driver is "bolt" (local file) or "postgres" (shared task history).
	// Caches, pins and the safe-mode flag always live in the bolt file.
	Driver string `toml:"driver"`

	// Path overrides the bolt database location.
	Path string `toml:"path"`

	// DSN is the postgres connection string.
	DSN string `toml:"dsn"`

	// TaskRetention is how long finished task records are kept.
	TaskRetention Duration `toml:"task_retention"`
}

// ManagerConfig contains per-manager settings keyed by manager id.
type ManagerConfig struct {
	// Enabled defaults to true when unset.
	Enabled *bool `toml:"enabled"`

	// Binary overrides the executable name or path.
	Binary string `toml:"binary"`

	// Timeout bounds each command the manager runs.
	Timeout Duration `toml:"timeout"`
}

// Duration is a time.Duration that decodes from strings such as "30s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		General: GeneralConfig{
			MaxParallel: 4,
			GracePeriod: Duration{5 * time.Second},
			WaitTimeout: Duration{30 * time.Minute},
		},
		Output: OutputConfig{
			Color:   true,
			Unicode: true,
		},
		Store: StoreConfig{
			Driver:        DriverBolt,
			TaskRetention: Duration{30 * 24 * time.Hour},
		},
		Managers: map[string]ManagerConfig{
			"softwareupdate": {
				Timeout: Duration{2 * time.Hour},
			},
		},
		Aliases: map[string]string{},
	}
}

// Load loads the configuration from the default path.
// If the config file doesn't exist, it returns the default configuration.
func Load() (*Config, error) {
	return LoadFrom(ConfigPath())
}

// LoadFrom loads the configuration from a specific path.
// If the config file doesn't exist, it returns the default configuration.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks values the decoder cannot.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverBolt:
	case DriverPostgres:
		if c.Store.DSN == "" {
			return errors.New("store.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	if c.General.MaxParallel < 0 {
		return errors.New("general.max_parallel must not be negative")
	}
	if c.General.GracePeriod.Duration < 0 || c.General.WaitTimeout.Duration < 0 {
		return errors.New("durations must not be negative")
	}
	return nil
}

// Save writes the configuration to the default path.
func (c *Config) Save() error {
	return c.SaveTo(ConfigPath())
}

// SaveTo writes the configuration to a specific path.
func (c *Config) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(c)
}

// ResolveAlias returns the actual package name for an alias, or the original name if no alias exists.
func (c *Config) ResolveAlias(pkg string) string {
	if alias, ok := c.Aliases[pkg]; ok {
		return alias
	}
	return pkg
}

// GetManagerConfig returns the configuration for a specific manager.
// Returns an empty config if no configuration exists for the manager.
func (c *Config) GetManagerConfig(id string) ManagerConfig {
	if cfg, ok := c.Managers[id]; ok {
		return cfg
	}
	return ManagerConfig{}
}

// ManagerEnabled reports whether a manager should be registered.
func (c *Config) ManagerEnabled(id string) bool {
	enabled := c.GetManagerConfig(id).Enabled
	return enabled == nil || *enabled
}

// StorePath returns the bolt database path.
func (c *Config) StorePath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	return DatabasePath()
}

// ShouldUseColor returns true if colored output should be used.
// Respects the NO_COLOR environment variable.
func (c *Config) ShouldUseColor() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return c.Output.Color
}
