package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LogConfig       `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Cookies   CookieConfig    `yaml:"cookies"`
	Session   SessionConfig   `yaml:"session"`
}

// ServerConfig holds bridge API server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8010" yaml:"port"`
	Host string `envconfig:"HOST" default:"127.0.0.1" yaml:"host"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info" yaml:"level"`
	Development bool   `envconfig:"LOG_DEV" default:"false" yaml:"development"`
	// Components overrides Level per component, e.g. "fetch=debug,cookies=warn".
	Components  string `envconfig:"LOG_COMPONENTS" default:"" yaml:"components"`
}

// RateLimitConfig holds per-IP rate limiting for the bridge API.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"200" yaml:"requests_per_second"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"400" yaml:"burst"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true" yaml:"enabled"`
}

// FetchConfig holds outbound request settings.
type FetchConfig struct {
	UserAgent string `envconfig:"FETCH_USER_AGENT" default:"AgentOS-Fetch/1.0" yaml:"user_agent"`
	// RequestsPerSecond of 0 disables outbound throttling.
	RequestsPerSecond float64 `envconfig:"FETCH_RPS" default:"0" yaml:"requests_per_second"`
	Burst             int     `envconfig:"FETCH_BURST" default:"0" yaml:"burst"`
	ChunkSize         int     `envconfig:"FETCH_CHUNK_SIZE" default:"65536" yaml:"chunk_size"`
}

// CookieConfig holds cookie jar persistence settings.
type CookieConfig struct {
	Path    string `envconfig:"COOKIE_JAR_PATH" default:"" yaml:"path"`
	Enabled bool   `envconfig:"COOKIE_JAR_ENABLED" default:"true" yaml:"enabled"`
}

// SessionConfig holds client session settings.
type SessionConfig struct {
	IdleTTL time.Duration `envconfig:"SESSION_IDLE_TTL" default:"30m" yaml:"idle_ttl"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// LoadFile loads the environment configuration and overlays the YAML file
// at path on top of it. Keys absent from the file keep their env value.
func LoadFile(path string) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8010",
			Host: "127.0.0.1",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 200,
			Burst:             400,
			Enabled:           true,
		},
		Fetch: FetchConfig{
			UserAgent: "AgentOS-Fetch/1.0",
			ChunkSize: 64 * 1024,
		},
		Cookies: CookieConfig{
			Enabled: true,
		},
		Session: SessionConfig{
			IdleTTL: 30 * time.Minute,
		},
	}
}
