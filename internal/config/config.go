package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Failure policies for the upstream fetch step.
const (
	FailurePolicyShared  = "shared"
	FailurePolicyPerKind = "per_kind"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Upstream UpstreamConfig `toml:"upstream"`
	Database DatabaseConfig `toml:"database"`
	Logging  LoggingConfig  `toml:"logging"`
	MCP      MCPConfig      `toml:"mcp"`
	Ngrok    NgrokConfig    `toml:"ngrok"`
	Watch    WatchConfig    `toml:"watch"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Port           string   `toml:"port"`
	Host           string   `toml:"host"`
	EnableCORS     bool     `toml:"enable_cors"`
	AllowedOrigins []string `toml:"allowed_origins"`
	ReadTimeout    int      `toml:"read_timeout_seconds"`
	WriteTimeout   int      `toml:"write_timeout_seconds"`
	IdleTimeout    int      `toml:"idle_timeout_seconds"`
}

// UpstreamConfig describes the Themes & Authors catalog service
type UpstreamConfig struct {
	BaseURL        string  `toml:"base_url"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
	RatePerSecond  float64 `toml:"rate_per_second"`
	RateBurst      int     `toml:"rate_burst"`
	FailurePolicy  string  `toml:"failure_policy"`
}

// DatabaseConfig contains the aggregation run log settings
type DatabaseConfig struct {
	Enabled        bool   `toml:"enabled"`
	Path           string `toml:"path"`
	MaxConnections int    `toml:"max_connections"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level          string `toml:"level"`
	Format         string `toml:"format"`
	File           string `toml:"file"`
	RequestLogging bool   `toml:"request_logging"`
}

// MCPConfig toggles the MCP tool endpoint
type MCPConfig struct {
	Enabled bool `toml:"enabled"`
}

// NgrokConfig contains ngrok tunnel configuration
type NgrokConfig struct {
	Enabled   bool   `toml:"enabled"`
	AuthToken string `toml:"auth_token"`
	Domain    string `toml:"domain"`
}

// WatchConfig controls config file hot reload
type WatchConfig struct {
	Enabled bool `toml:"enabled"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           "8080",
			Host:           "0.0.0.0",
			EnableCORS:     true,
			AllowedOrigins: []string{"*"},
			ReadTimeout:    30,
			WriteTimeout:   60,
			IdleTimeout:    120,
		},
		Upstream: UpstreamConfig{
			BaseURL:        "http://localhost:8081",
			TimeoutSeconds: 5,
			RatePerSecond:  20,
			RateBurst:      6,
			FailurePolicy:  FailurePolicyShared,
		},
		Database: DatabaseConfig{
			Enabled:        true,
			Path:           "./oversounds.db",
			MaxConnections: 5,
		},
		Logging: LoggingConfig{
			Level:          "info",
			Format:         "text",
			File:           "",
			RequestLogging: true,
		},
		MCP: MCPConfig{
			Enabled: false,
		},
		Ngrok: NgrokConfig{
			Enabled: false,
		},
		Watch: WatchConfig{
			Enabled: true,
		},
	}
}

// LoadConfig loads configuration from a TOML file, then applies environment
// overrides (a .env file next to the binary is loaded first when present).
func LoadConfig(configPath string) (*Config, error) {
	// Start with defaults
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		// Config file doesn't exist, create it with defaults
		if err := cfg.SaveToFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config file: %w", err)
		}
		fmt.Printf("Created default configuration file at: %s\n", configPath)
	} else if _, err := toml.DecodeFile(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Silently ignored if missing
	_ = godotenv.Load()
	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overrides file settings from environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("TYA_SERVICE_URL"); v != "" {
		c.Upstream.BaseURL = v
	}
	if v := os.Getenv("STORE_PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("STORE_LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("NGROK_AUTHTOKEN"); v != "" && c.Ngrok.AuthToken == "" {
		c.Ngrok.AuthToken = v
	}
}

// SaveToFile saves the configuration to a TOML file
func (c *Config) SaveToFile(configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	header := `# OverSounds Storefront Configuration
# upstream.base_url points at the Themes & Authors service and can be
# overridden with the TYA_SERVICE_URL environment variable.
# upstream.failure_policy is "shared" (any upstream failure empties the whole
# storefront) or "per_kind" (only the failing kind is emptied).

`
	if _, err := file.WriteString(header); err != nil {
		return fmt.Errorf("failed to write config header: %w", err)
	}

	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config to TOML: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port cannot be empty")
	}
	if c.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 || c.Server.IdleTimeout < 0 {
		return fmt.Errorf("server timeouts must not be negative")
	}

	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream base url cannot be empty")
	}
	if !strings.HasPrefix(c.Upstream.BaseURL, "http://") && !strings.HasPrefix(c.Upstream.BaseURL, "https://") {
		return fmt.Errorf("upstream base url must use http or https: %s", c.Upstream.BaseURL)
	}
	if c.Upstream.TimeoutSeconds < 1 {
		return fmt.Errorf("upstream timeout must be at least 1 second")
	}
	if c.Upstream.RatePerSecond < 0 {
		return fmt.Errorf("upstream rate must not be negative")
	}
	if c.Upstream.RatePerSecond > 0 && c.Upstream.RateBurst < 1 {
		return fmt.Errorf("upstream rate burst must be at least 1 when rate limiting is enabled")
	}
	switch c.Upstream.FailurePolicy {
	case FailurePolicyShared, FailurePolicyPerKind:
	default:
		return fmt.Errorf("invalid failure policy: %s (must be %s or %s)", c.Upstream.FailurePolicy, FailurePolicyShared, FailurePolicyPerKind)
	}

	if c.Database.Enabled {
		if c.Database.Path == "" {
			return fmt.Errorf("database path cannot be empty")
		}
		if c.Database.MaxConnections < 1 {
			return fmt.Errorf("database max connections must be at least 1")
		}
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"text": true, "json": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	return nil
}

// GetAddress returns the full server address
func (c *Config) GetAddress() string {
	return c.Server.Host + ":" + c.Server.Port
}

// UpstreamTimeout returns the per-request upstream timeout.
func (c *Config) UpstreamTimeout() time.Duration {
	return time.Duration(c.Upstream.TimeoutSeconds) * time.Second
}
