// Package config loads host configuration from a file, environment
// variables, and flags, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full host configuration.
type Config struct {
	// Listen is the HTTP API bind address.
	Listen string `mapstructure:"listen"`

	// TickPeriod is the scheduler period between processing sweeps.
	TickPeriod time.Duration `mapstructure:"tick_period"`

	// ScriptDir is the directory scanned for .js plugin scripts.
	ScriptDir string `mapstructure:"script_dir"`

	// WatchScripts enables hot reload of the script directory.
	WatchScripts bool `mapstructure:"watch_scripts"`

	// DatabasePath is the sqlite file for persisted instance configs.
	// ":memory:" keeps everything in process.
	DatabasePath string `mapstructure:"database_path"`

	// ValidateConfigs rejects configuration documents that fail the
	// plugin's UI schema before they reach the plugin.
	ValidateConfigs bool `mapstructure:"validate_configs"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"log_level"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Listen:       ":8090",
		TickPeriod:   20 * time.Millisecond,
		ScriptDir:    "scripts",
		WatchScripts: true,
		DatabasePath: "patchbay.db",
		LogLevel:     "info",
	}
}

// Load reads configuration from the given file (optional, empty skips it)
// and from PATCHBAY_* environment variables.
func Load(path string) (Config, error) {
	v := viper.New()

	def := Defaults()
	v.SetDefault("listen", def.Listen)
	v.SetDefault("tick_period", def.TickPeriod)
	v.SetDefault("script_dir", def.ScriptDir)
	v.SetDefault("watch_scripts", def.WatchScripts)
	v.SetDefault("database_path", def.DatabasePath)
	v.SetDefault("validate_configs", def.ValidateConfigs)
	v.SetDefault("log_level", def.LogLevel)

	v.SetEnvPrefix("PATCHBAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks invariants the rest of the host relies on.
func (c Config) Validate() error {
	if c.Listen == "" {
		return errors.New("listen address must not be empty")
	}
	if c.TickPeriod <= 0 {
		return fmt.Errorf("tick_period must be positive, got %s", c.TickPeriod)
	}
	if c.DatabasePath == "" {
		return errors.New("database_path must not be empty")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	return nil
}
