// Package config holds the invocation configuration surface: resource
// caps, the mode switch between release and debug borrow checking, and
// the vector growth factor. Values load from an optional YAML file and
// environment variables, with flags layered on top by the CLI.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is one load of the configuration.
type Config struct {
	// MaxMemoryBytes caps total live heap bytes. Exceeding it is a
	// deterministic trap, not a host OOM.
	MaxMemoryBytes uint64 `mapstructure:"max_memory_bytes" yaml:"max_memory_bytes"`
	// MaxOutputBytes caps invocation output. Zero disables the cap.
	MaxOutputBytes int `mapstructure:"max_output_bytes" yaml:"max_output_bytes"`
	// DebugBorrowChecks enables the dynamic borrow table.
	DebugBorrowChecks bool `mapstructure:"debug_borrow_checks" yaml:"debug_borrow_checks"`
	// VecGrowthFactor is the capacity multiplier on vector growth.
	VecGrowthFactor int `mapstructure:"vec_growth_factor" yaml:"vec_growth_factor"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		MaxMemoryBytes:  64 << 20,
		MaxOutputBytes:  16 << 20,
		VecGrowthFactor: 2,
		LogLevel:        "info",
	}
}

// Load reads configuration from path (optional, "" skips the file) and
// the CEDARC_* environment, on top of the defaults.
func Load(path string) (Config, error) {
	v := viper.New()
	d := Default()
	v.SetDefault("max_memory_bytes", d.MaxMemoryBytes)
	v.SetDefault("max_output_bytes", d.MaxOutputBytes)
	v.SetDefault("debug_borrow_checks", d.DebugBorrowChecks)
	v.SetDefault("vec_growth_factor", d.VecGrowthFactor)
	v.SetDefault("log_level", d.LogLevel)

	v.SetEnvPrefix("CEDARC")
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

// Validate rejects configurations the runtime cannot honor.
func (c Config) Validate() error {
	if c.MaxMemoryBytes == 0 {
		return fmt.Errorf("max_memory_bytes must be positive")
	}
	if c.MaxOutputBytes < 0 {
		return fmt.Errorf("max_output_bytes cannot be negative")
	}
	if c.VecGrowthFactor < 2 {
		return fmt.Errorf("vec_growth_factor must be at least 2")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	return nil
}
