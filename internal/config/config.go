// Package config handles TOML/YAML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"mask-proxy-go/internal/cookie"
	"mask-proxy-go/internal/model"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/mask-proxy/config.toml",
	"configs/config.toml",
}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config         string `kong:"short='c',help='Path to TOML or YAML config file.',env='CONFIG_PATH'"`
	Host           string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port           int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	UpstreamOrigin string `kong:"help='Upstream origin, scheme://host[:port] (overrides config).',env='UPSTREAM_ORIGIN'"`
	MaskOrigin     string `kong:"help='Public mask origin, scheme://host (overrides config).',env='MASK_ORIGIN'"`
	BasePath       string `kong:"help='Path prefix the mask serves the site under (overrides config).',env='BASE_PATH'"`
	SEOSnippet     string `kong:"name='seo-snippet',help='Markup injected before </head> (overrides config).',env='SEO_SNIPPET'"`
	LogLevel       string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server" yaml:"server"`
	Upstream UpstreamConfig `toml:"upstream" yaml:"upstream"`
	Mask     MaskConfig     `toml:"mask" yaml:"mask"`
	Rewrite  RewriteConfig  `toml:"rewrite" yaml:"rewrite"`
	SEO      SEOConfig      `toml:"seo" yaml:"seo"`
	CORS     CORSConfig     `toml:"cors" yaml:"cors"`
	Health   HealthConfig   `toml:"health" yaml:"health"`
	Log      LogConfig      `toml:"log" yaml:"log"`
	Metrics  MetricsConfig  `toml:"metrics" yaml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `toml:"host" yaml:"host"`
	Port         int    `toml:"port" yaml:"port"` // 0 means "use default" (3000)
	BodyMaxBytes int64  `toml:"body_max_bytes" yaml:"body_max_bytes"`
	// RequestTimeoutSeconds bounds a whole proxied request; 0 disables the
	// bound so long media streams are never cut off.
	RequestTimeoutSeconds int             `toml:"request_timeout_seconds" yaml:"request_timeout_seconds"`
	TrustForwardedHeaders bool            `toml:"trust_forwarded_headers" yaml:"trust_forwarded_headers"`
	SecurityHeaders       bool            `toml:"security_headers" yaml:"security_headers"`
	ReservedPaths         []string        `toml:"reserved_paths" yaml:"reserved_paths"`
	RateLimit             RateLimitConfig `toml:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled" yaml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second" yaml:"requests_per_second"`
}

// UpstreamConfig holds upstream connection settings.
type UpstreamConfig struct {
	Origin                string `toml:"origin" yaml:"origin"`
	TimeoutSeconds        int    `toml:"timeout_seconds" yaml:"timeout_seconds"`
	ConnectTimeoutSeconds int    `toml:"connect_timeout_seconds" yaml:"connect_timeout_seconds"`
	IdleConnections       int    `toml:"idle_connections" yaml:"idle_connections"`
	// EgressProxy routes upstream traffic through socks5://, http:// or https://.
	EgressProxy string `toml:"egress_proxy" yaml:"egress_proxy"`
}

// MaskConfig holds the public identity the upstream is presented under.
type MaskConfig struct {
	Origin   string `toml:"origin" yaml:"origin"`
	BasePath string `toml:"base_path" yaml:"base_path"`
}

// RewriteConfig holds content rewriting settings.
type RewriteConfig struct {
	SEOSnippet   string   `toml:"seo_snippet" yaml:"seo_snippet"`
	APIPrefixes  []string `toml:"api_prefixes" yaml:"api_prefixes"`
	MaxBodyBytes int64    `toml:"max_body_bytes" yaml:"max_body_bytes"`
	CookieDomain string   `toml:"cookie_domain" yaml:"cookie_domain"`
}

// SEOConfig holds the robots.txt and sitemap.xml settings.
type SEOConfig struct {
	SitemapPaths []string `toml:"sitemap_paths" yaml:"sitemap_paths"`
}

// CORSConfig holds cross-origin settings for the mask.
type CORSConfig struct {
	Enabled          bool     `toml:"enabled" yaml:"enabled"`
	AllowOrigins     []string `toml:"allow_origins" yaml:"allow_origins"`
	AllowCredentials bool     `toml:"allow_credentials" yaml:"allow_credentials"`
}

// HealthConfig holds the health and info endpoint settings.
type HealthConfig struct {
	Path           string `toml:"path" yaml:"path"`
	InfoPath       string `toml:"info_path" yaml:"info_path"`
	TimeoutSeconds int    `toml:"timeout_seconds" yaml:"timeout_seconds"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Path    string `toml:"path" yaml:"path"`
}

// Load reads the config file, if any, and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/mask-proxy/config.toml then configs/config.toml. Without a file the
// configuration comes from flags and environment alone.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path != "" {
		if err := parseFile(path, &cfg); err != nil {
			return nil, err
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

func parseFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = toml.Unmarshal(data, cfg)
	}
	if err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.UpstreamOrigin != "" {
		c.Upstream.Origin = cli.UpstreamOrigin
	}
	if cli.MaskOrigin != "" {
		c.Mask.Origin = cli.MaskOrigin
	}
	if cli.BasePath != "" {
		c.Mask.BasePath = cli.BasePath
	}
	if cli.SEOSnippet != "" {
		c.Rewrite.SEOSnippet = cli.SEOSnippet
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	// Origins: required, and the mask must not contain the upstream so that
	// origin replacement stays idempotent.
	if c.Upstream.Origin == "" {
		return fmt.Errorf("upstream.origin is required")
	}
	if c.Mask.Origin == "" {
		return fmt.Errorf("mask.origin is required")
	}
	rc, err := c.RewriteContext()
	if err != nil {
		return err
	}
	if strings.Contains(rc.PublicURL(), rc.UpstreamOrigin) {
		return fmt.Errorf("mask origin %q must not contain upstream origin %q", rc.PublicURL(), rc.UpstreamOrigin)
	}

	if c.Upstream.EgressProxy != "" {
		u, err := url.Parse(c.Upstream.EgressProxy)
		if err != nil {
			return fmt.Errorf("upstream.egress_proxy is not a valid URL: %w", err)
		}
		switch u.Scheme {
		case "socks5", "http", "https":
		default:
			return fmt.Errorf("upstream.egress_proxy scheme must be socks5, http or https; got %q", u.Scheme)
		}
		if u.Host == "" {
			return fmt.Errorf("upstream.egress_proxy host is required; got %q", c.Upstream.EgressProxy)
		}
	}

	if _, err := cookie.ParseDomainMode(c.Rewrite.CookieDomain); err != nil {
		return fmt.Errorf("rewrite.cookie_domain: %w", err)
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Server.RequestTimeoutSeconds < 0 {
		return fmt.Errorf("server.request_timeout_seconds must be non-negative; got %d", c.Server.RequestTimeoutSeconds)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.ConnectTimeoutSeconds < 0 {
		return fmt.Errorf("upstream.connect_timeout_seconds must be non-negative; got %d", c.Upstream.ConnectTimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Rewrite.MaxBodyBytes < 0 {
		return fmt.Errorf("rewrite.max_body_bytes must be non-negative; got %d", c.Rewrite.MaxBodyBytes)
	}
	if c.Health.TimeoutSeconds < 0 {
		return fmt.Errorf("health.timeout_seconds must be non-negative; got %d", c.Health.TimeoutSeconds)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	for _, p := range c.Server.ReservedPaths {
		if p == "" || p[0] != '/' {
			return fmt.Errorf("server.reserved_paths entries must start with '/'; got %q", p)
		}
	}

	return c.validateRoutes()
}

// validateRoutes rejects endpoint paths that are malformed or collide with
// each other or with the fixed SEO routes.
func (c *Config) validateRoutes() error {
	routes := []struct {
		name string
		path string
		on   bool
	}{
		{"health.path", c.Health.Path, true},
		{"health.info_path", c.Health.InfoPath, true},
		{"metrics.path", c.Metrics.Path, c.Metrics.Enabled},
	}

	seen := map[string]string{
		"/robots.txt":  "robots.txt",
		"/sitemap.xml": "sitemap.xml",
	}
	for _, r := range routes {
		if !r.on || r.path == "" {
			continue
		}
		if r.path[0] != '/' {
			return fmt.Errorf("%s must start with '/'; got %q", r.name, r.path)
		}
		if other, ok := seen[r.path]; ok {
			return fmt.Errorf("%s %q conflicts with reserved route %q", r.name, r.path, other)
		}
		seen[r.path] = r.name
	}
	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields, zero means "unset" because TOML cannot distinguish
// between an explicit 0 and an omitted key. RequestTimeoutSeconds is the
// exception: its zero value means "no bound".
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 50 * 1024 * 1024 // 50 MB
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 60
	}
	if c.Upstream.ConnectTimeoutSeconds == 0 {
		c.Upstream.ConnectTimeoutSeconds = 10
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Rewrite.MaxBodyBytes == 0 {
		c.Rewrite.MaxBodyBytes = 16 * 1024 * 1024 // 16 MB
	}
	if c.Rewrite.APIPrefixes == nil {
		c.Rewrite.APIPrefixes = []string{"/api/"}
	}
	if c.Rewrite.CookieDomain == "" {
		c.Rewrite.CookieDomain = string(cookie.DomainMask)
	}
	if len(c.SEO.SitemapPaths) == 0 {
		c.SEO.SitemapPaths = []string{"/"}
	}
	if len(c.CORS.AllowOrigins) == 0 {
		c.CORS.AllowOrigins = []string{"*"}
	}
	if c.Health.Path == "" {
		c.Health.Path = "/healthz"
	}
	if c.Health.InfoPath == "" {
		c.Health.InfoPath = "/proxy/info"
	}
	if c.Health.TimeoutSeconds == 0 {
		c.Health.TimeoutSeconds = 5
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// RewriteContext builds the immutable rewrite context from the origins,
// base path and SEO snippet.
func (c *Config) RewriteContext() (model.RewriteContext, error) {
	rc, err := model.NewRewriteContext(c.Upstream.Origin, c.Mask.Origin, c.Mask.BasePath, c.Rewrite.SEOSnippet)
	if err != nil {
		return model.RewriteContext{}, fmt.Errorf("rewrite context: %w", err)
	}
	return rc, nil
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
