// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the immutable configuration of the agent execution
// core. The surrounding application loads it once at startup and injects it
// into each request; nothing in the core mutates it.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. AGENTCORE_AUTH_JWT_SECRET.
const EnvPrefix = "AGENTCORE"

// Config is the root configuration.
type Config struct {
	Server          ServerConfig              `mapstructure:"server"`
	APIURL          string                    `mapstructure:"api_url"`
	Auth            AuthConfig                `mapstructure:"auth"`
	DefaultProvider string                    `mapstructure:"default_provider"`
	Providers       map[string]ProviderConfig `mapstructure:"providers"`
	Retry           RetryConfig               `mapstructure:"retry"`
	Timeouts        TimeoutConfig             `mapstructure:"timeouts"`
	MCP             MCPConfig                 `mapstructure:"mcp"`
	Webhook         WebhookConfig             `mapstructure:"webhook"`
	Database        DatabaseConfig            `mapstructure:"database"`
	Agents          AgentsConfig              `mapstructure:"agents"`
	RateLimit       RateLimitConfig           `mapstructure:"rate_limit"`
	Cleanup         CleanupConfig             `mapstructure:"cleanup"`
	Lifecycle       LifecycleConfig           `mapstructure:"lifecycle"`
	Log             LogConfig                 `mapstructure:"log"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	H2C             bool          `mapstructure:"h2c"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// Organization and OrganizationURL are published as the agent card's provider.
	Organization    string `mapstructure:"organization"`
	OrganizationURL string `mapstructure:"organization_url"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	JWTIssuer      string `mapstructure:"jwt_issuer"`
	JWTSecret      string `mapstructure:"jwt_secret"`
	AllowAnonymous bool   `mapstructure:"allow_anonymous"`
}

// ProviderConfig configures one model backend.
type ProviderConfig struct {
	APIKey       string `mapstructure:"api_key"`
	BaseURL      string `mapstructure:"base_url"`
	DefaultModel string `mapstructure:"default_model"`
}

// RetryConfig is the provider retry budget.
type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
}

// TimeoutConfig bounds upstream calls.
type TimeoutConfig struct {
	Connect       time.Duration `mapstructure:"connect"`
	Execution     time.Duration `mapstructure:"execution"`
	SessionLookup time.Duration `mapstructure:"session_lookup"`
}

// MCPServerConfig is one MCP tool server endpoint.
type MCPServerConfig struct {
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
}

// MCPConfig configures the MCP client pool.
type MCPConfig struct {
	Servers            map[string]MCPServerConfig `mapstructure:"servers"`
	ConnectTimeoutMs   int                        `mapstructure:"connect_timeout_ms"`
	ExecutionTimeoutMs int                        `mapstructure:"execution_timeout_ms"`
	RetryAttempts      int                        `mapstructure:"retry_attempts"`
}

// ConnectTimeout returns ConnectTimeoutMs as a duration.
func (c MCPConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMs) * time.Millisecond
}

// ExecutionTimeout returns ExecutionTimeoutMs as a duration.
func (c MCPConfig) ExecutionTimeout() time.Duration {
	return time.Duration(c.ExecutionTimeoutMs) * time.Millisecond
}

// WebhookConfig configures push notification delivery.
type WebhookConfig struct {
	Secret          string        `mapstructure:"secret"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxResponseBody int64         `mapstructure:"max_response_body"`
}

// DatabaseConfig selects the gorm dialector.
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	AutoMigrate  bool   `mapstructure:"auto_migrate"`
}

// AgentsConfig points at the agent definitions file.
type AgentsConfig struct {
	File         string `mapstructure:"file"`
	MaxToolTurns int    `mapstructure:"max_tool_turns"`
}

// RateLimitConfig configures the per-user limiter on the A2A endpoint.
type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	Burst             int `mapstructure:"burst"`
}

// CleanupConfig configures the empty-context sweep.
type CleanupConfig struct {
	Horizon  time.Duration `mapstructure:"horizon"`
	Interval time.Duration `mapstructure:"interval"`
}

// LifecycleConfig configures agent process management.
type LifecycleConfig struct {
	BinaryDir      string        `mapstructure:"binary_dir"`
	VerifyAttempts int           `mapstructure:"verify_attempts"`
	VerifyInterval time.Duration `mapstructure:"verify_interval"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
}

// LogConfig configures the slog handler built by the bootstrap.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.h2c", true)
	v.SetDefault("server.max_body_bytes", 4<<20)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("default_provider", "anthropic")
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_interval", 500*time.Millisecond)
	v.SetDefault("retry.max_interval", 10*time.Second)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("timeouts.connect", 10*time.Second)
	v.SetDefault("timeouts.execution", 120*time.Second)
	v.SetDefault("timeouts.session_lookup", 500*time.Millisecond)
	v.SetDefault("mcp.connect_timeout_ms", 5000)
	v.SetDefault("mcp.execution_timeout_ms", 60000)
	v.SetDefault("mcp.retry_attempts", 2)
	v.SetDefault("webhook.timeout", 30*time.Second)
	v.SetDefault("webhook.max_response_body", 4096)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "file:agentcore.db?_pragma=busy_timeout(5000)")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("agents.file", "agents.yaml")
	v.SetDefault("agents.max_tool_turns", 10)
	v.SetDefault("rate_limit.requests_per_minute", 120)
	v.SetDefault("rate_limit.burst", 20)
	v.SetDefault("cleanup.horizon", 30*24*time.Hour)
	v.SetDefault("cleanup.interval", time.Hour)
	v.SetDefault("lifecycle.verify_attempts", 5)
	v.SetDefault("lifecycle.verify_interval", time.Second)
	v.SetDefault("lifecycle.dial_timeout", 2*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Default returns the configuration produced by the defaults alone.
func Default() *Config {
	cfg, err := decode(newViper())
	if err != nil {
		panic(fmt.Sprintf("config: defaults do not decode: %v", err))
	}
	return cfg
}

// Load reads path (if non-empty) and applies environment overrides.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Validate reports every problem with c at once.
func (c *Config) Validate() error {
	var errs []error
	if c.DefaultProvider == "" {
		errs = append(errs, errors.New("default_provider must be set"))
	} else if len(c.Providers) > 0 {
		if _, ok := c.Providers[c.DefaultProvider]; !ok {
			errs = append(errs, fmt.Errorf("default_provider %q has no providers entry", c.DefaultProvider))
		}
	}
	if c.Auth.JWTSecret == "" && !c.Auth.AllowAnonymous {
		errs = append(errs, errors.New("auth.jwt_secret is required unless auth.allow_anonymous is set"))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry.max_attempts must be at least 1"))
	}
	if c.Timeouts.SessionLookup <= 0 {
		errs = append(errs, errors.New("timeouts.session_lookup must be positive"))
	}
	if c.MCP.ExecutionTimeoutMs <= 0 || c.MCP.ConnectTimeoutMs <= 0 {
		errs = append(errs, errors.New("mcp timeouts must be positive"))
	}
	if c.MCP.RetryAttempts < 0 {
		errs = append(errs, errors.New("mcp.retry_attempts must not be negative"))
	}
	for name, s := range c.MCP.Servers {
		if s.URL == "" {
			errs = append(errs, fmt.Errorf("mcp.servers.%s.url must be set", name))
		}
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not supported", c.Database.Driver))
	}
	return errors.Join(errs...)
}
