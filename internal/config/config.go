// Package config provides configuration parsing and validation for poping.
package config

import (
	"fmt"
	"net"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration.
type Config struct {
	Log    LogConfig    `yaml:"log"`
	Socket SocketConfig `yaml:"socket"`
	Client ClientConfig `yaml:"client"`
	Server ServerConfig `yaml:"server"`
	Health HealthConfig `yaml:"health"`
	Store  StoreConfig  `yaml:"store"`
	Chaos  ChaosConfig  `yaml:"chaos"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SocketConfig configures the ICMP socket.
type SocketConfig struct {
	Network       string   `yaml:"network"`
	Address       string   `yaml:"address"`
	ReceiveBuffer ByteSize `yaml:"receive_buffer"`
	TTL           int      `yaml:"ttl"`
}

// ClientConfig configures the ping command.
type ClientConfig struct {
	Timeout    time.Duration `yaml:"timeout"`
	Interval   time.Duration `yaml:"interval"`
	Count      int           `yaml:"count"`
	Identifier string        `yaml:"identifier"` // "auto" or 0-65535
	Sequence   uint16        `yaml:"sequence"`
}

// ServerConfig configures the listen command.
type ServerConfig struct {
	Reply        bool   `yaml:"reply"`
	ReplyPayload string `yaml:"reply_payload"`
	Log          bool   `yaml:"log"`
}

// HealthConfig configures the HTTP health and metrics server.
type HealthConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Address      string        `yaml:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// StoreConfig configures the observation store.
type StoreConfig struct {
	Enabled bool   `yaml:"enabled"`
	Driver  string `yaml:"driver"`
	DSN     string `yaml:"dsn"`
}

// ChaosConfig configures fault injection on received datagrams.
type ChaosConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Drop     float64       `yaml:"drop"`
	Corrupt  float64       `yaml:"corrupt"`
	Truncate float64       `yaml:"truncate"`
	Delay    float64       `yaml:"delay"`
	MinDelay time.Duration `yaml:"min_delay"`
	MaxDelay time.Duration `yaml:"max_delay"`
}

// ByteSize is a size in bytes that YAML accepts as a number or as a
// human-readable string such as "2KiB" or "64 kB".
type ByteSize uint64

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *ByteSize) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", s, err)
	}
	*b = ByteSize(n)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (b ByteSize) MarshalYAML() (any, error) {
	return b.String(), nil
}

// String formats the size with IEC units.
func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

// Default returns a configuration with default values.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Socket: SocketConfig{
			Network:       "ip4:icmp",
			Address:       "0.0.0.0",
			ReceiveBuffer: 2048,
		},
		Client: ClientConfig{
			Timeout:    5 * time.Second,
			Interval:   time.Second,
			Count:      1,
			Identifier: "auto",
			Sequence:   1,
		},
		Server: ServerConfig{
			Reply: false,
			Log:   true,
		},
		Health: HealthConfig{
			Enabled:      false,
			Address:      "127.0.0.1:9110",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Enabled: false,
			Driver:  "sqlite",
			DSN:     "./poping.db",
		},
		Chaos: ChaosConfig{
			MinDelay: 10 * time.Millisecond,
			MaxDelay: 100 * time.Millisecond,
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
	expanded := expandEnvVars(string(data))

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

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if !isValidLogLevel(c.Log.Level) {
		errs = append(errs, fmt.Sprintf("invalid log.level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}
	if !isValidLogFormat(c.Log.Format) {
		errs = append(errs, fmt.Sprintf("invalid log.format: %s (must be text or json)", c.Log.Format))
	}

	if !isValidNetwork(c.Socket.Network) {
		errs = append(errs, fmt.Sprintf("invalid socket.network: %s (must be ip4:icmp or udp4)", c.Socket.Network))
	}
	if c.Socket.Address != "" {
		if ip := net.ParseIP(c.Socket.Address); ip == nil || ip.To4() == nil {
			errs = append(errs, fmt.Sprintf("invalid socket.address: %s (must be an IPv4 address)", c.Socket.Address))
		}
	}
	if c.Socket.ReceiveBuffer < 8 || c.Socket.ReceiveBuffer > 65535 {
		errs = append(errs, fmt.Sprintf("socket.receive_buffer must be between 8 B and 64 KiB, got %s", c.Socket.ReceiveBuffer))
	}
	if c.Socket.TTL < 0 || c.Socket.TTL > 255 {
		errs = append(errs, fmt.Sprintf("socket.ttl must be between 0 and 255, got %d", c.Socket.TTL))
	}

	if c.Client.Timeout < 0 {
		errs = append(errs, "client.timeout must not be negative")
	}
	if c.Client.Interval < 0 {
		errs = append(errs, "client.interval must not be negative")
	}
	if c.Client.Count < 0 {
		errs = append(errs, "client.count must not be negative")
	}
	if _, err := ParseIdentifier(c.Client.Identifier); err != nil {
		errs = append(errs, fmt.Sprintf("invalid client.identifier: %v", err))
	}

	if c.Health.Enabled && c.Health.Address == "" {
		errs = append(errs, "health.address is required when health is enabled")
	}

	if c.Store.Enabled {
		if c.Store.Driver != "sqlite" && c.Store.Driver != "postgres" {
			errs = append(errs, fmt.Sprintf("invalid store.driver: %s (must be sqlite or postgres)", c.Store.Driver))
		}
		if c.Store.DSN == "" {
			errs = append(errs, "store.dsn is required when store is enabled")
		}
	}

	if c.Chaos.Enabled {
		for _, f := range []struct {
			name string
			p    float64
		}{
			{"drop", c.Chaos.Drop},
			{"corrupt", c.Chaos.Corrupt},
			{"truncate", c.Chaos.Truncate},
			{"delay", c.Chaos.Delay},
		} {
			if f.p < 0 || f.p > 1 {
				errs = append(errs, fmt.Sprintf("chaos.%s must be between 0 and 1, got %v", f.name, f.p))
			}
		}
		if c.Chaos.MaxDelay < c.Chaos.MinDelay {
			errs = append(errs, "chaos.max_delay must not be less than chaos.min_delay")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// ParseIdentifier resolves an identifier setting. "auto" and "" yield the
// process id truncated to 16 bits.
func ParseIdentifier(s string) (uint16, error) {
	if s == "" || s == "auto" {
		return uint16(os.Getpid()), nil
	}
	n, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("%q is not auto or a 16-bit number", s)
	}
	return uint16(n), nil
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

func isValidNetwork(network string) bool {
	switch network {
	case "ip4:icmp", "udp4":
		return true
	default:
		return false
	}
}

// String returns the configuration as YAML. The store DSN may carry a
// password and is redacted.
func (c *Config) String() string {
	data, _ := yaml.Marshal(c.Redacted())
	return string(data)
}

// redactedValue is the placeholder for sensitive values.
const redactedValue = "[REDACTED]"

// Redacted returns a copy of the config with sensitive values redacted.
func (c *Config) Redacted() *Config {
	redacted := *c
	if c.Store.Driver == "postgres" && c.Store.DSN != "" {
		redacted.Store.DSN = redactedValue
	}
	return &redacted
}
