// Package config provides configuration for board adapters and the dynboard
// CLI. Values come from defaults, an optional YAML file (with ${VAR}
// substitution) and DYNBOARD_* environment variables, in increasing order of
// precedence.
//
// Example usage:
//
//	cfg, err := config.Load("dynboard.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	timeout := cfg.Adapter.HandshakeTimeout
package config

import (
	"fmt"
	"time"

	"github.com/ajitpratap0/dynboard/pkg/errors"
)

// Symbol roles accepted in BoardConfig.Symbols
var symbolRoles = map[string]bool{
	"initialize": true,
	"open":       true,
	"close":      true,
	"start":      true,
	"stop":       true,
	"release":    true,
	"configure":  true,
	"read":       true,
}

// Config is the root configuration
type Config struct {
	// Log configures the global zap logger
	Log LogConfig `mapstructure:"log" yaml:"log"`
	// Adapter holds lifecycle tuning shared by every adapter
	Adapter AdapterConfig `mapstructure:"adapter" yaml:"adapter"`
	// Metrics controls the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	// Tracing controls OpenTelemetry lifecycle spans
	Tracing TracingConfig `mapstructure:"tracing" yaml:"tracing"`
	// Boards declares additional config-driven vendor bindings
	Boards []BoardConfig `mapstructure:"boards" yaml:"boards"`
}

// LogConfig mirrors logger.Config
type LogConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Encoding    string `mapstructure:"encoding" yaml:"encoding"`
	Development bool   `mapstructure:"development" yaml:"development"`
}

// AdapterConfig contains the externally supplied lifecycle constants
type AdapterConfig struct {
	// HandshakeTimeout bounds how long start waits for the acquisition goroutine
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout" yaml:"handshake_timeout"`
	// JoinWarnAfter is how long stop waits before reporting a blocked vendor read
	JoinWarnAfter time.Duration `mapstructure:"join_warn_after" yaml:"join_warn_after"`
	// ReadRetryDelay is the pause after a transient read failure
	ReadRetryDelay time.Duration `mapstructure:"read_retry_delay" yaml:"read_retry_delay"`
	// LibraryDir is where vendor libraries live; empty means the OS search path
	LibraryDir string `mapstructure:"library_dir" yaml:"library_dir"`
	// MaxBufferSize caps the buffer_size accepted by start
	MaxBufferSize int `mapstructure:"max_buffer_size" yaml:"max_buffer_size"`
}

// MetricsConfig controls Prometheus exposure
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
}

// TracingConfig controls OpenTelemetry tracing
type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled" yaml:"enabled"`
	SamplingRate float64 `mapstructure:"sampling_rate" yaml:"sampling_rate"`
}

// BoardConfig declares a vendor binding entirely from configuration
type BoardConfig struct {
	Name                 string            `mapstructure:"name" yaml:"name"`
	Library              string            `mapstructure:"library" yaml:"library"`
	LibraryDir           string            `mapstructure:"library_dir" yaml:"library_dir"`
	Channels             int               `mapstructure:"channels" yaml:"channels"`
	Singleton            bool              `mapstructure:"singleton" yaml:"singleton"`
	Platforms            []string          `mapstructure:"platforms" yaml:"platforms"`
	Symbols              map[string]string `mapstructure:"symbols" yaml:"symbols"`
	FatalReadCodes       []int             `mapstructure:"fatal_read_codes" yaml:"fatal_read_codes"`
	ConfirmOnFirstSample bool              `mapstructure:"confirm_on_first_sample" yaml:"confirm_on_first_sample"`
}

// Default returns the configuration used when nothing is overridden
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:    "info",
			Encoding: "console",
		},
		Adapter: AdapterConfig{
			HandshakeTimeout: 5 * time.Second,
			JoinWarnAfter:    5 * time.Second,
			ReadRetryDelay:   time.Millisecond,
			MaxBufferSize:    86400 * 250,
		},
		Metrics: MetricsConfig{
			Listen: ":9464",
		},
		Tracing: TracingConfig{
			SamplingRate: 1.0,
		},
	}
}

// Validate checks the configuration for consistency
func (c *Config) Validate() error {
	if c.Adapter.HandshakeTimeout <= 0 {
		return errors.New(errors.ErrorTypeConfig, "adapter.handshake_timeout must be positive")
	}
	if c.Adapter.JoinWarnAfter <= 0 {
		return errors.New(errors.ErrorTypeConfig, "adapter.join_warn_after must be positive")
	}
	if c.Adapter.ReadRetryDelay < 0 {
		return errors.New(errors.ErrorTypeConfig, "adapter.read_retry_delay must not be negative")
	}
	if c.Adapter.MaxBufferSize <= 0 {
		return errors.New(errors.ErrorTypeConfig, "adapter.max_buffer_size must be positive")
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return errors.New(errors.ErrorTypeConfig, "tracing.sampling_rate must be within [0, 1]")
	}

	seen := make(map[string]bool, len(c.Boards))
	for i, b := range c.Boards {
		if err := b.Validate(); err != nil {
			return errors.Wrap(err, errors.ErrorTypeConfig, fmt.Sprintf("boards[%d] is invalid", i))
		}
		if seen[b.Name] {
			return errors.Newf(errors.ErrorTypeConfig, "board %s declared twice", b.Name)
		}
		seen[b.Name] = true
	}
	return nil
}

// Validate checks a single board declaration
func (b BoardConfig) Validate() error {
	if b.Name == "" {
		return errors.New(errors.ErrorTypeConfig, "board name is required")
	}
	if b.Library == "" {
		return errors.New(errors.ErrorTypeConfig, "board library is required").WithDetail("board", b.Name)
	}
	if b.Channels <= 0 {
		return errors.New(errors.ErrorTypeConfig, "board channels must be positive").
			WithDetail("board", b.Name).
			WithDetail("channels", b.Channels)
	}
	for role, symbol := range b.Symbols {
		if !symbolRoles[role] {
			return errors.Newf(errors.ErrorTypeConfig, "unknown symbol role %q", role).WithDetail("board", b.Name)
		}
		if symbol == "" {
			return errors.Newf(errors.ErrorTypeConfig, "symbol for role %q is empty", role).WithDetail("board", b.Name)
		}
	}
	return nil
}
