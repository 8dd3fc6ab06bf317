// ABOUTME: Configuration loading and parsing for lynx-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/2389/lynx-gateway/internal/auth"
)

// Defaults applied to optional fields.
const (
	DefaultTokenTTL       = 8760 * time.Hour
	DefaultMetricsPath    = "/metrics"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "text"
	DefaultMaxMessageSize = 64 * 1024
	DefaultWriteTimeout   = 10 * time.Second
	DefaultSendBuffer     = 32
)

// Config represents the complete lynx-gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Sessions SessionsConfig `yaml:"sessions"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds credential signing configuration
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"-"`

	TokenTTLRaw string `yaml:"token_ttl"`
}

// SessionsConfig holds limits for duplex connections
type SessionsConfig struct {
	MaxMessageSize  int64         `yaml:"max_message_size"`
	WriteTimeout    time.Duration `yaml:"-"`
	SendBuffer      int           `yaml:"send_buffer"`
	ReadBufferSize  int           `yaml:"read_buffer_size"`
	WriteBufferSize int           `yaml:"write_buffer_size"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`

	WriteTimeoutRaw string `yaml:"write_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Config from raw YAML, applying env expansion, defaults and validation.
func Parse(data []byte) (*Config, error) {
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = DefaultTokenTTL
	}
	if c.Sessions.MaxMessageSize == 0 {
		c.Sessions.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.Sessions.WriteTimeout == 0 {
		c.Sessions.WriteTimeout = DefaultWriteTimeout
	}
	if c.Sessions.SendBuffer == 0 {
		c.Sessions.SendBuffer = DefaultSendBuffer
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if len(c.Auth.JWTSecret) < auth.MinSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", auth.MinSecretLength)
	}
	if c.Auth.TokenTTL < 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}

	if c.Sessions.MaxMessageSize < 0 {
		return fmt.Errorf("sessions.max_message_size must be positive")
	}
	if c.Sessions.SendBuffer < 0 {
		return fmt.Errorf("sessions.send_buffer must be positive")
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Auth.TokenTTLRaw != "" {
		cfg.Auth.TokenTTL, err = time.ParseDuration(cfg.Auth.TokenTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing token_ttl %q: %w", cfg.Auth.TokenTTLRaw, err)
		}
	}

	if cfg.Sessions.WriteTimeoutRaw != "" {
		cfg.Sessions.WriteTimeout, err = time.ParseDuration(cfg.Sessions.WriteTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing write_timeout %q: %w", cfg.Sessions.WriteTimeoutRaw, err)
		}
	}

	return nil
}

// ResolvePath picks the config file to load: an explicit path wins, then the
// LYNX_CONFIG environment variable, then ./config.yaml, then
// ~/.config/lynx/gateway.yaml. The first candidate that exists is returned.
func ResolvePath(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if env := os.Getenv("LYNX_CONFIG"); env != "" {
		return env, nil
	}

	candidates := []string{"config.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "lynx", "gateway.yaml"))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", fmt.Errorf("no config file found (tried %v; set LYNX_CONFIG or pass --config)", candidates)
}
