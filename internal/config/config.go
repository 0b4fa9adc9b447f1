// Package config handles command-line and TOML/YAML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/tcp-upload-bridge/config.toml",
	"configs/config.toml",
}

// Defaults for the bridge itself.
const (
	DefaultListenHost       = "0.0.0.0"
	DefaultListenPort       = 9999
	DefaultTimeoutSeconds   = 10
	DefaultFormField        = "file"
	DefaultFilename         = "file"
	DefaultChunkBytes       = 64 * 1024
	DefaultMaxResponseBytes = 64 * 1024 * 1024
)

// timeoutUnset marks the --timeout flag as not given on the command line.
const timeoutUnset = -1

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config       string `kong:"short='c',help='Path to TOML or YAML config file.',env='CONFIG_PATH'"`
	ListenIP     string `kong:"short='l',name='listen-ip',help='Listen address (default 0.0.0.0).',env='LISTEN_IP'"`
	Port         int    `kong:"short='p',help='Listen port (default 9999).',env='PORT'"`
	Timeout      int    `kong:"short='t',default='-1',help='Per-connection idle timeout in seconds; 0 disables (default 10).',env='CONNECTION_TIMEOUT'"`
	FormField    string `kong:"short='f',name='form-field',help='Multipart form field name (default file).'"`
	Filename     string `kong:"short='n',help='Multipart filename (default file).'"`
	TimeoutIsEOF bool   `kong:"name='timeout-is-eof',help='Treat a receive timeout as the end of the upload instead of an error.'"`
	LogLevel     string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
	LogFormat    string `kong:"help='Log format: json|text (overrides config).',env='LOG_FORMAT'"`
	UpstreamURL  string `kong:"arg,optional,name='upstream-url',help='Upstream URL receiving the multipart POST.',env='UPSTREAM_URL'"`
}

// Config is the top-level application configuration. It is built once at
// startup and shared read-only by every connection worker.
type Config struct {
	Listen   ListenConfig   `toml:"listen" yaml:"listen"`
	Upstream UpstreamConfig `toml:"upstream" yaml:"upstream"`
	Log      LogConfig      `toml:"log" yaml:"log"`
	Admin    AdminConfig    `toml:"admin" yaml:"admin"`

	filePath string // resolved config file path (unexported)
}

// ListenConfig holds the client-facing TCP listener settings.
type ListenConfig struct {
	Host string `toml:"host" yaml:"host"`
	Port int    `toml:"port" yaml:"port"` // 0 means "use default" (9999)
	// TimeoutSeconds is a pointer because 0 is meaningful (no timeout).
	TimeoutSeconds *int `toml:"timeout_seconds" yaml:"timeout_seconds"`
	TimeoutIsEOF   bool `toml:"timeout_is_eof" yaml:"timeout_is_eof"`
}

// UpstreamConfig holds the upstream upload target and HTTP client settings.
type UpstreamConfig struct {
	URL              string `toml:"url" yaml:"url"`
	FormField        string `toml:"form_field" yaml:"form_field"`
	Filename         string `toml:"filename" yaml:"filename"`
	ChunkBytes       int    `toml:"chunk_bytes" yaml:"chunk_bytes"`
	MaxResponseBytes int64  `toml:"max_response_bytes" yaml:"max_response_bytes"`
	TimeoutSeconds   int    `toml:"timeout_seconds" yaml:"timeout_seconds"` // 0 means no overall limit
	IdleConnections  int    `toml:"idle_connections" yaml:"idle_connections"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

// AdminConfig holds the optional health/metrics HTTP server settings.
type AdminConfig struct {
	Enabled     bool   `toml:"enabled" yaml:"enabled"`
	Host        string `toml:"host" yaml:"host"`
	Port        int    `toml:"port" yaml:"port"`
	MetricsPath string `toml:"metrics_path" yaml:"metrics_path"`
}

// Load reads the optional config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/tcp-upload-bridge/config.toml then configs/config.toml; finding
// nothing is not an error since the command line alone is sufficient.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := decode(path, data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
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

// decode picks the file format from the extension; TOML is the default.
func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return toml.Unmarshal(data, cfg)
	}
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.ListenIP != "" {
		c.Listen.Host = cli.ListenIP
	}
	if cli.Port != 0 {
		c.Listen.Port = cli.Port
	}
	if cli.Timeout != timeoutUnset {
		t := cli.Timeout
		c.Listen.TimeoutSeconds = &t
	}
	if cli.TimeoutIsEOF {
		c.Listen.TimeoutIsEOF = true
	}
	if cli.FormField != "" {
		c.Upstream.FormField = cli.FormField
	}
	if cli.Filename != "" {
		c.Upstream.Filename = cli.Filename
	}
	if cli.UpstreamURL != "" {
		c.Upstream.URL = cli.UpstreamURL
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		c.Log.Format = cli.LogFormat
	}
}

func (c *Config) validate() error {
	// Upstream URL: required, http or https with a host.
	if c.Upstream.URL == "" {
		return fmt.Errorf("upstream url is required (positional argument or upstream.url)")
	}
	u, err := url.Parse(c.Upstream.URL)
	if err != nil {
		return fmt.Errorf("upstream.url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("upstream.url must use http or https; got %q", c.Upstream.URL)
	}
	if u.Host == "" {
		return fmt.Errorf("upstream.url has no host; got %q", c.Upstream.URL)
	}

	// Numeric bounds.
	if c.Listen.Port < 0 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port must be 0–65535; got %d", c.Listen.Port)
	}
	if c.Listen.TimeoutSeconds != nil && *c.Listen.TimeoutSeconds < 0 {
		return fmt.Errorf("listen.timeout_seconds must be non-negative; got %d", *c.Listen.TimeoutSeconds)
	}
	if c.Upstream.ChunkBytes < 0 {
		return fmt.Errorf("upstream.chunk_bytes must be non-negative; got %d", c.Upstream.ChunkBytes)
	}
	if c.Upstream.MaxResponseBytes < 0 {
		return fmt.Errorf("upstream.max_response_bytes must be non-negative; got %d", c.Upstream.MaxResponseBytes)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Admin.Port < 0 || c.Admin.Port > 65535 {
		return fmt.Errorf("admin.port must be 0–65535; got %d", c.Admin.Port)
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

	// Metrics path validation (only when the admin server is enabled).
	if c.Admin.Enabled && c.Admin.MetricsPath != "" {
		p := c.Admin.MetricsPath
		if p[0] != '/' {
			return fmt.Errorf("admin.metrics_path must start with '/'; got %q", p)
		}
		for _, reserved := range []string{"/healthz", "/bridge/status"} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("admin.metrics_path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For most integer fields zero means "unset" because TOML cannot distinguish
// between an explicit 0 and an omitted key. listen.timeout_seconds is the
// exception: it is a pointer so an explicit 0 disables timeouts.
func (c *Config) setDefaults() {
	if c.Listen.Host == "" {
		c.Listen.Host = DefaultListenHost
	}
	if c.Listen.Port == 0 {
		c.Listen.Port = DefaultListenPort
	}
	if c.Listen.TimeoutSeconds == nil {
		t := DefaultTimeoutSeconds
		c.Listen.TimeoutSeconds = &t
	}
	if c.Upstream.FormField == "" {
		c.Upstream.FormField = DefaultFormField
	}
	if c.Upstream.Filename == "" {
		c.Upstream.Filename = DefaultFilename
	}
	if c.Upstream.ChunkBytes == 0 {
		c.Upstream.ChunkBytes = DefaultChunkBytes
	}
	if c.Upstream.MaxResponseBytes == 0 {
		c.Upstream.MaxResponseBytes = DefaultMaxResponseBytes
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Admin.Host == "" {
		c.Admin.Host = "127.0.0.1"
	}
	if c.Admin.Port == 0 {
		c.Admin.Port = 9100
	}
	if c.Admin.MetricsPath == "" {
		c.Admin.MetricsPath = "/metrics"
	}
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

// Addr returns the bridge listen address as host:port.
func (c *ListenConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Timeout returns the per-connection idle timeout; zero means none.
func (c *ListenConfig) Timeout() time.Duration {
	if c.TimeoutSeconds == nil {
		return DefaultTimeoutSeconds * time.Second
	}
	return time.Duration(*c.TimeoutSeconds) * time.Second
}

// Addr returns the admin server listen address as host:port.
func (c *AdminConfig) Addr() string {
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
