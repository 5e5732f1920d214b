package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment overrides, e.g.
// DYNBOARD_ADAPTER_HANDSHAKE_TIMEOUT=10s.
const EnvPrefix = "DYNBOARD"

// Load reads the configuration from filePath (optional) and the environment,
// then validates it.
func Load(filePath string) (*Config, error) {
	v := newViper()

	if filePath != "" {
		data, err := os.ReadFile(filePath) //nolint:gosec // G304: path supplied by the operator
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		content := substituteEnvVars(string(data))
		v.SetConfigType("yaml")
		if err := v.ReadConfig(bytes.NewReader([]byte(content))); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newViper returns a viper instance with defaults and env binding
func newViper() *viper.Viper {
	v := viper.New()
	d := Default()

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.encoding", d.Log.Encoding)
	v.SetDefault("log.development", d.Log.Development)
	v.SetDefault("adapter.handshake_timeout", d.Adapter.HandshakeTimeout)
	v.SetDefault("adapter.join_warn_after", d.Adapter.JoinWarnAfter)
	v.SetDefault("adapter.read_retry_delay", d.Adapter.ReadRetryDelay)
	v.SetDefault("adapter.library_dir", d.Adapter.LibraryDir)
	v.SetDefault("adapter.max_buffer_size", d.Adapter.MaxBufferSize)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.listen", d.Metrics.Listen)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.sampling_rate", d.Tracing.SamplingRate)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Save writes cfg to filePath as YAML
func Save(filePath string, cfg *Config) error {
	data, err := Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filePath, data, 0644); err != nil { //nolint:gosec
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Marshal renders cfg as YAML, with durations in their string form
func Marshal(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(toDocument(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal YAML: %w", err)
	}
	return data, nil
}

// document is the YAML shape of Config; yaml.v3 would otherwise write
// durations as integer nanoseconds.
type document struct {
	Log     LogConfig `yaml:"log"`
	Adapter struct {
		HandshakeTimeout string `yaml:"handshake_timeout"`
		JoinWarnAfter    string `yaml:"join_warn_after"`
		ReadRetryDelay   string `yaml:"read_retry_delay"`
		LibraryDir       string `yaml:"library_dir,omitempty"`
		MaxBufferSize    int    `yaml:"max_buffer_size"`
	} `yaml:"adapter"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
	Boards  []BoardConfig `yaml:"boards,omitempty"`
}

func toDocument(cfg *Config) document {
	var doc document
	doc.Log = cfg.Log
	doc.Adapter.HandshakeTimeout = cfg.Adapter.HandshakeTimeout.String()
	doc.Adapter.JoinWarnAfter = cfg.Adapter.JoinWarnAfter.String()
	doc.Adapter.ReadRetryDelay = cfg.Adapter.ReadRetryDelay.String()
	doc.Adapter.LibraryDir = cfg.Adapter.LibraryDir
	doc.Adapter.MaxBufferSize = cfg.Adapter.MaxBufferSize
	doc.Metrics = cfg.Metrics
	doc.Tracing = cfg.Tracing
	doc.Boards = cfg.Boards
	return doc
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values
func substituteEnvVars(content string) string {
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		varName := content[start+2 : end]
		envValue := os.Getenv(varName)
		content = content[:start] + envValue + content[end+1:]
	}
	return content
}
