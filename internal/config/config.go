// ABOUTME: Configuration loading and parsing for todovex
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/2389/todovex/internal/apperr"
)

// Defaults applied when the corresponding field is left empty.
const (
	DefaultChatModel           = "gpt-3.5-turbo"
	DefaultEmbeddingModel      = "text-embedding-ada-002"
	DefaultEmbeddingDimensions = 1536
	DefaultAIBaseURL           = "https://api.openai.com/v1"
	DefaultConcurrency         = 4
	DefaultRequestTimeout      = 60 * time.Second
	DefaultSessionMaxAge       = 30 * 24 * time.Hour
	DefaultSessionUpdateAge    = 24 * time.Hour
	DefaultVerificationTTL     = 24 * time.Hour
	DefaultSignInThrottle      = time.Minute
)

// Config represents the complete todovex configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Backend   BackendConfig   `yaml:"backend" toml:"backend"`
	AI        AIConfig        `yaml:"ai" toml:"ai"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig holds listener addresses. GRPCAddr serves the backend store
// surface, HTTPAddr serves the app API.
type ServerConfig struct {
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"`
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	// BaseURL is the public URL browsers use. It sets the passkey relying
	// party and, when https, the secure session cookie.
	BaseURL string `yaml:"base_url" toml:"base_url"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`
	Funnel    bool   `yaml:"funnel" toml:"funnel"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// AuthConfig holds the adapter secret and session timing.
type AuthConfig struct {
	AdapterSecret string `yaml:"adapter_secret" toml:"adapter_secret"`

	SessionMaxAge        time.Duration `yaml:"-" toml:"-"`
	SessionUpdateAge     time.Duration `yaml:"-" toml:"-"`
	VerificationTokenTTL time.Duration `yaml:"-" toml:"-"`
	// SignInThrottle spaces sign-in links to one address. "0s" disables it.
	SignInThrottle time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	SessionMaxAgeRaw        string `yaml:"session_max_age" toml:"session_max_age"`
	SessionUpdateAgeRaw     string `yaml:"session_update_age" toml:"session_update_age"`
	VerificationTokenTTLRaw string `yaml:"verification_token_ttl" toml:"verification_token_ttl"`
	SignInThrottleRaw       string `yaml:"signin_throttle" toml:"signin_throttle"`
}

// BackendConfig points clients (the app server, todovex-admin) at the backend surface.
type BackendConfig struct {
	Addr string `yaml:"addr" toml:"addr"`
}

// AIConfig holds model provider settings for the suggestion pipeline
type AIConfig struct {
	APIKey              string `yaml:"api_key" toml:"api_key"`
	BaseURL             string `yaml:"base_url" toml:"base_url"`
	ChatModel           string `yaml:"chat_model" toml:"chat_model"`
	EmbeddingModel      string `yaml:"embedding_model" toml:"embedding_model"`
	EmbeddingDimensions int    `yaml:"embedding_dimensions" toml:"embedding_dimensions"`
	AILabelID           string `yaml:"ai_label_id" toml:"ai_label_id"`
	Concurrency         int    `yaml:"suggestion_concurrency" toml:"suggestion_concurrency"`

	RequestTimeout    time.Duration `yaml:"-" toml:"-"`
	RequestTimeoutRaw string        `yaml:"request_timeout" toml:"request_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded before decoding.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
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
	if c.Backend.Addr == "" {
		c.Backend.Addr = c.Server.GRPCAddr
	}
	if c.Auth.SessionMaxAge == 0 {
		c.Auth.SessionMaxAge = DefaultSessionMaxAge
	}
	if c.Auth.SessionUpdateAge == 0 {
		c.Auth.SessionUpdateAge = DefaultSessionUpdateAge
	}
	if c.Auth.VerificationTokenTTL == 0 {
		c.Auth.VerificationTokenTTL = DefaultVerificationTTL
	}
	if c.Auth.SignInThrottleRaw == "" {
		c.Auth.SignInThrottle = DefaultSignInThrottle
	}
	if c.AI.BaseURL == "" {
		c.AI.BaseURL = DefaultAIBaseURL
	}
	if c.AI.ChatModel == "" {
		c.AI.ChatModel = DefaultChatModel
	}
	if c.AI.EmbeddingModel == "" {
		c.AI.EmbeddingModel = DefaultEmbeddingModel
	}
	if c.AI.EmbeddingDimensions == 0 {
		c.AI.EmbeddingDimensions = DefaultEmbeddingDimensions
	}
	if c.AI.Concurrency <= 0 {
		c.AI.Concurrency = DefaultConcurrency
	}
	if c.AI.RequestTimeout == 0 {
		c.AI.RequestTimeout = DefaultRequestTimeout
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Missing secrets are reported as apperr.Configuration so the server refuses to start.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled {
		if c.Server.GRPCAddr == "" {
			return fmt.Errorf("server.grpc_addr is required (or enable tailscale)")
		}
		if c.Server.HTTPAddr == "" {
			return fmt.Errorf("server.http_addr is required (or enable tailscale)")
		}
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if strings.TrimSpace(c.Auth.AdapterSecret) == "" {
		return apperr.New(apperr.Configuration, "config", "auth.adapter_secret is required")
	}

	if strings.TrimSpace(c.AI.APIKey) == "" {
		return apperr.New(apperr.Configuration, "config", "ai.api_key is required")
	}

	if c.Server.BaseURL != "" {
		if _, err := url.ParseRequestURI(c.Server.BaseURL); err != nil {
			return fmt.Errorf("server.base_url is invalid: %w", err)
		}
	}

	if c.AI.BaseURL != "" {
		if _, err := url.ParseRequestURI(c.AI.BaseURL); err != nil {
			return fmt.Errorf("ai.base_url is invalid: %w", err)
		}
	}

	if c.AI.EmbeddingDimensions < 0 {
		return fmt.Errorf("ai.embedding_dimensions must be positive")
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"session_max_age", cfg.Auth.SessionMaxAgeRaw, &cfg.Auth.SessionMaxAge},
		{"session_update_age", cfg.Auth.SessionUpdateAgeRaw, &cfg.Auth.SessionUpdateAge},
		{"verification_token_ttl", cfg.Auth.VerificationTokenTTLRaw, &cfg.Auth.VerificationTokenTTL},
		{"signin_throttle", cfg.Auth.SignInThrottleRaw, &cfg.Auth.SignInThrottle},
		{"request_timeout", cfg.AI.RequestTimeoutRaw, &cfg.AI.RequestTimeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
