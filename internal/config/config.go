// Package config provides configuration parsing and validation for the relay.
package config

import (
	"fmt"
	"net"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/postalsys/wg-relay/internal/relay"
	"github.com/postalsys/wg-relay/internal/routing"
)

// MinBufferSize is the smallest receive buffer that holds a whole
// handshake initiation.
const MinBufferSize = 148

// Config represents the complete relay configuration.
type Config struct {
	Relay   RelayConfig   `yaml:"relay"`
	Session SessionConfig `yaml:"session"`
	Log     LogConfig     `yaml:"log"`
	Health  HealthConfig  `yaml:"health"`
}

// RelayConfig contains the socket and worker settings.
type RelayConfig struct {
	Target      string `yaml:"target"`
	Bind        string `yaml:"bind"`
	Workers     int    `yaml:"workers"`
	BufferSize  int    `yaml:"buffer_size"`
	ReadBuffer  int    `yaml:"read_buffer"`
	WriteBuffer int    `yaml:"write_buffer"`
}

// SessionConfig contains session table settings.
type SessionConfig struct {
	ValidTime time.Duration `yaml:"valid_time"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// HealthConfig defines health check server settings.
type HealthConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Address      string        `yaml:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Relay: RelayConfig{
			Bind:       relay.DefaultBind,
			Workers:    relay.DefaultWorkers,
			BufferSize: relay.DefaultBufferSize,
		},
		Session: SessionConfig{
			ValidTime: routing.DefaultSessionValidTime,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Health: HealthConfig{
			Enabled:      false,
			Address:      ":9090",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse parses configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := expandEnvVars(string(data))

	// Start with defaults
	cfg := Default()

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// envVarRegex matches ${VAR} or $VAR patterns
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces environment variable references with their values.
func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}

		// ${VAR:-default}
		if idx := strings.Index(name, ":-"); idx != -1 {
			varName := name[:idx]
			defaultVal := name[idx+2:]
			if val, ok := os.LookupEnv(varName); ok {
				return val
			}
			return defaultVal
		}

		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match // Keep original if not found
	})
}

// ApplyArgs overrides relay settings with the positional command line
// arguments: target, bind address and worker count, each optional.
func (c *Config) ApplyArgs(args []string) error {
	if len(args) > 3 {
		return fmt.Errorf("too many arguments: got %d, want at most 3", len(args))
	}
	if len(args) > 0 {
		c.Relay.Target = args[0]
	}
	if len(args) > 1 {
		c.Relay.Bind = args[1]
	}
	if len(args) > 2 {
		n, err := strconv.Atoi(args[2])
		if err != nil || n < 1 {
			return fmt.Errorf("invalid thread count %q: must be a positive integer", args[2])
		}
		c.Relay.Workers = n
	}
	return nil
}

// Validate checks the configuration for errors. The target is not checked
// here since it may still come from the command line.
func (c *Config) Validate() error {
	var errs []string

	if c.Relay.Target != "" {
		if _, _, err := net.SplitHostPort(c.Relay.Target); err != nil {
			errs = append(errs, fmt.Sprintf("relay.target: %v", err))
		}
	}
	if c.Relay.Bind == "" {
		errs = append(errs, "relay.bind is required")
	} else if _, _, err := net.SplitHostPort(c.Relay.Bind); err != nil {
		errs = append(errs, fmt.Sprintf("relay.bind: %v", err))
	}
	if c.Relay.Workers < 1 {
		errs = append(errs, "relay.workers must be at least 1")
	}
	if c.Relay.BufferSize < MinBufferSize {
		errs = append(errs, fmt.Sprintf("relay.buffer_size must be at least %d", MinBufferSize))
	}
	if c.Relay.ReadBuffer < 0 || c.Relay.WriteBuffer < 0 {
		errs = append(errs, "relay.read_buffer and relay.write_buffer must not be negative")
	}

	if c.Session.ValidTime <= 0 {
		errs = append(errs, "session.valid_time must be positive")
	}

	if !isValidLogLevel(c.Log.Level) {
		errs = append(errs, fmt.Sprintf("invalid log.level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}
	if !isValidLogFormat(c.Log.Format) {
		errs = append(errs, fmt.Sprintf("invalid log.format: %s (must be text or json)", c.Log.Format))
	}

	if c.Health.Enabled && c.Health.Address == "" {
		errs = append(errs, "health.address is required when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// ToRelay converts the configuration into relay server settings.
func (c *Config) ToRelay() relay.Config {
	return relay.Config{
		Target:           c.Relay.Target,
		Bind:             c.Relay.Bind,
		Workers:          c.Relay.Workers,
		BufferSize:       c.Relay.BufferSize,
		ReadBuffer:       c.Relay.ReadBuffer,
		WriteBuffer:      c.Relay.WriteBuffer,
		SessionValidTime: c.Session.ValidTime,
		ExposeSessions:   c.Health.Enabled,
	}
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func isValidLogFormat(format string) bool {
	switch format {
	case "text", "json":
		return true
	default:
		return false
	}
}

// String returns the configuration as YAML (for debugging).
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}
