// Package config holds the ambient evaluation limits the embedder
// configures a VM with (§6): instruction/time ceilings, rule-window
// sizing, and the dispatch cache bound, loaded from an optional TOML
// file the same way the teacher loads its emulator config.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the full set of ambient limits an embedder may tune.
type Config struct {
	// Execution settings
	Execution struct {
		MaxInstructions     uint64 `toml:"max_instructions"`
		TimerLimitMillis    int64  `toml:"timer_limit_millis"`
		TimerCheckInterval  uint64 `toml:"timer_check_interval"`
		StrictBuiltinErrors bool   `toml:"strict_builtin_errors"`
	} `toml:"execution"`

	// Dispatch settings
	Dispatch struct {
		MaxRuleWindowSize int `toml:"max_rule_window_size"`
		WindowSize        int `toml:"dispatch_window_size"`
	} `toml:"dispatch"`

	// Logging settings
	Logging struct {
		Level        string `toml:"level"` // trace, debug, info, warn, error
		GatherPrints bool   `toml:"gather_prints"`
	} `toml:"logging"`
}

// TimerLimit returns the configured timer limit as a time.Duration.
func (c *Config) TimerLimit() time.Duration {
	return time.Duration(c.Execution.TimerLimitMillis) * time.Millisecond
}

// DefaultConfig returns a configuration with the spec's documented
// defaults (§4.3 "Limits with defaults"): 25 000 instructions, a 1s
// timer with a check interval of 1, and window sizes matching the
// values compiler.Compile gives a freshly-compiled program.Program
// (256 and 1024).
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Execution.MaxInstructions = 25_000
	cfg.Execution.TimerLimitMillis = 1000
	cfg.Execution.TimerCheckInterval = 1
	cfg.Execution.StrictBuiltinErrors = false

	cfg.Dispatch.MaxRuleWindowSize = 256
	cfg.Dispatch.WindowSize = 1024

	cfg.Logging.Level = "info"
	cfg.Logging.GatherPrints = false

	return cfg
}

// GetConfigPath returns the platform-specific config file path.
func GetConfigPath() string {
	var configDir string

	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		configDir = filepath.Join(configDir, "regovm")

	case "darwin", "linux":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.toml"
		}
		configDir = filepath.Join(homeDir, ".config", "regovm")

	default:
		return "config.toml"
	}

	if err := os.MkdirAll(configDir, 0750); err != nil {
		return "config.toml"
	}

	return filepath.Join(configDir, "config.toml")
}

// Load loads configuration from the default config file.
func Load() (*Config, error) {
	return LoadFrom(GetConfigPath())
}

// LoadFrom loads configuration from the specified file. A missing
// file is not an error: the defaults are returned as-is.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Save saves configuration to the default config file.
func (c *Config) Save() error {
	return c.SaveTo(GetConfigPath())
}

// SaveTo saves configuration to the specified file.
func (c *Config) SaveTo(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path) // #nosec G304 -- user config file path
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close config file: %w", closeErr)
		}
	}()

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return nil
}
