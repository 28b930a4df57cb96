// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/agent-router/config.toml",
	"configs/config.toml",
}

// Method policies for non-GET requests.
const (
	MethodPolicyAny  = "any"
	MethodPolicyPost = "post"
)

// Registry kinds.
const (
	RegistryHTTP   = "http"
	RegistryConsul = "consul"
)

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config           string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host             string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port             int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	RootDomain       string `kong:"help='Root domain served by the router (overrides config).',env='ROOT_DOMAIN'"`
	RegistryURL      string `kong:"help='Registry base URL (overrides config).',env='REGISTRY_URL'"`
	CredentialHeader string `kong:"help='Header carrying the agent credential to backends (overrides config).',env='CREDENTIAL_HEADER'"`
	LogLevel         string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Domain   DomainConfig   `toml:"domain"`
	Registry RegistryConfig `toml:"registry"`
	Forward  ForwardConfig  `toml:"forward"`
	Site     SiteConfig     `toml:"site"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Reload   ReloadConfig   `toml:"reload"`

	filePath string // resolved config file path (unexported)
	cli      *CLI
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (8000); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// DomainConfig describes the wildcard domain the router sits in front of.
type DomainConfig struct {
	Root        string `toml:"root"`
	LocalSuffix string `toml:"local_suffix"`
}

// RegistryConfig selects and configures the agent/device registry.
type RegistryConfig struct {
	Kind            string       `toml:"kind"`
	BaseURL         string       `toml:"base_url"`
	EntryPath       string       `toml:"entry_path"`
	BackendPath     string       `toml:"backend_path"`
	TimeoutSeconds  int          `toml:"timeout_seconds"`
	IdleConnections int          `toml:"idle_connections"`
	Consul          ConsulConfig `toml:"consul"`
}

// ConsulConfig holds settings for the Consul KV registry.
type ConsulConfig struct {
	Address string `toml:"address"`
	Token   string `toml:"token"`
	Prefix  string `toml:"prefix"`
}

// ForwardConfig holds settings for forwarding requests to agent backends.
type ForwardConfig struct {
	CredentialHeader string `toml:"credential_header"`
	MethodPolicy     string `toml:"method_policy"`
	TimeoutSeconds   int    `toml:"timeout_seconds"`
	IdleConnections  int    `toml:"idle_connections"`
	// DisableFallback turns off the rewrite fallback after a failed direct forward.
	DisableFallback bool `toml:"disable_fallback"`
}

// SiteConfig holds the pass-through target for the root domain.
type SiteConfig struct {
	Origin string `toml:"origin"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// ReloadConfig controls watching the config file for changes.
type ReloadConfig struct {
	Enabled bool `toml:"enabled"`
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/agent-router/config.toml then configs/config.toml.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path == "" {
		return nil, fmt.Errorf("config: no config file found (searched %v)", configSearchPaths)
	}
	return LoadFile(path, cli)
}

// LoadFile reads, validates and defaults the config at path. A nil cli applies no overrides.
func LoadFile(path string, cli *CLI) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.filePath = path
	cfg.cli = cli
	cfg.applyCLI(cli)
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	return &cfg, nil
}

// FilePath returns the path the config was loaded from.
func (c *Config) FilePath() string {
	return c.filePath
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli == nil {
		return
	}
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.RootDomain != "" {
		c.Domain.Root = cli.RootDomain
	}
	if cli.RegistryURL != "" {
		c.Registry.BaseURL = cli.RegistryURL
	}
	if cli.CredentialHeader != "" {
		c.Forward.CredentialHeader = cli.CredentialHeader
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	if strings.ContainsAny(c.Domain.Root, ":/ ") || strings.HasPrefix(c.Domain.Root, ".") {
		return fmt.Errorf("domain.root must be a bare host name; got %q", c.Domain.Root)
	}

	switch c.Registry.Kind {
	case RegistryHTTP:
		u, err := url.Parse(c.Registry.BaseURL)
		if err != nil {
			return fmt.Errorf("registry.base_url is not a valid URL: %w", err)
		}
		if u.Scheme != "https" && u.Scheme != "http" {
			return fmt.Errorf("registry.base_url must use http or https; got %q", c.Registry.BaseURL)
		}
		for name, p := range map[string]string{"registry.entry_path": c.Registry.EntryPath, "registry.backend_path": c.Registry.BackendPath} {
			if !strings.HasPrefix(p, "/") {
				return fmt.Errorf("%s must start with '/'; got %q", name, p)
			}
		}
	case RegistryConsul:
		if c.Registry.Consul.Prefix == "" || strings.HasPrefix(c.Registry.Consul.Prefix, "/") {
			return fmt.Errorf("registry.consul.prefix must be a relative KV path; got %q", c.Registry.Consul.Prefix)
		}
	default:
		return fmt.Errorf("registry.kind must be one of: http, consul; got %q", c.Registry.Kind)
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Registry.TimeoutSeconds < 0 {
		return fmt.Errorf("registry.timeout_seconds must be non-negative; got %d", c.Registry.TimeoutSeconds)
	}
	if c.Forward.TimeoutSeconds < 0 {
		return fmt.Errorf("forward.timeout_seconds must be non-negative; got %d", c.Forward.TimeoutSeconds)
	}
	if c.Registry.IdleConnections < 0 || c.Forward.IdleConnections < 0 {
		return fmt.Errorf("idle_connections must be non-negative")
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	if !validHeaderName(c.Forward.CredentialHeader) {
		return fmt.Errorf("forward.credential_header is not a valid header name; got %q", c.Forward.CredentialHeader)
	}
	switch strings.ToLower(c.Forward.MethodPolicy) {
	case MethodPolicyAny, MethodPolicyPost:
	default:
		return fmt.Errorf("forward.method_policy must be one of: any, post; got %q", c.Forward.MethodPolicy)
	}

	if c.Site.Origin != "" {
		u, err := url.Parse(c.Site.Origin)
		if err != nil || u.Host == "" {
			return fmt.Errorf("site.origin must be an absolute URL; got %q", c.Site.Origin)
		}
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}
	if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 || c.Log.MaxAgeDays < 0 {
		return fmt.Errorf("log rotation settings must be non-negative")
	}

	if c.Metrics.Enabled {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range []string{"/healthz", "/router/status"} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields, zero means "unset" because TOML cannot distinguish
// between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Domain.Root == "" {
		c.Domain.Root = "frankyagent.xyz"
	}
	c.Domain.Root = strings.ToLower(c.Domain.Root)
	if c.Domain.LocalSuffix == "" {
		c.Domain.LocalSuffix = "localhost"
	}
	if c.Registry.Kind == "" {
		c.Registry.Kind = RegistryHTTP
	}
	if c.Registry.Kind == RegistryHTTP && c.Registry.BaseURL == "" {
		c.Registry.BaseURL = "https://franky-hedera.vercel.app"
	}
	if c.Registry.EntryPath == "" {
		c.Registry.EntryPath = "/api/db/agents"
	}
	if c.Registry.BackendPath == "" {
		c.Registry.BackendPath = "/api/db/devices"
	}
	if c.Registry.TimeoutSeconds == 0 {
		c.Registry.TimeoutSeconds = 10
	}
	if c.Registry.IdleConnections == 0 {
		c.Registry.IdleConnections = 20
	}
	if c.Registry.Consul.Prefix == "" {
		c.Registry.Consul.Prefix = "agent-router"
	}
	if c.Forward.CredentialHeader == "" {
		c.Forward.CredentialHeader = "agent-address"
	}
	if c.Forward.MethodPolicy == "" {
		c.Forward.MethodPolicy = MethodPolicyAny
	}
	c.Forward.MethodPolicy = strings.ToLower(c.Forward.MethodPolicy)
	if c.Forward.TimeoutSeconds == 0 {
		c.Forward.TimeoutSeconds = 120
	}
	if c.Forward.IdleConnections == 0 {
		c.Forward.IdleConnections = 100
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 100
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// validHeaderName reports whether s is a non-empty RFC 7230 token.
func validHeaderName(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case strings.ContainsRune("!#$%&'*+-.^_`|~", r):
		default:
			return false
		}
	}
	return true
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
