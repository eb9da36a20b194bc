// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/mitchellh/mapstructure"
	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/contents-proxy/config.toml",
	"configs/config.toml",
}

// reservedRoutes are served by the front server itself and cannot be reused.
var reservedRoutes = []string{"/healthz", "/proxy/status"}

// DefaultBackendPort is the loopback port of the bundled static backend.
const DefaultBackendPort = 13000

func init() {
	// Report validation errors with the TOML key names users actually write.
	validation.ErrorTag = "toml"
}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Version     kong.VersionFlag `kong:"short='v',help='Print version and exit.'"`
	Config      string           `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host        string           `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port        int              `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	MountPath   string           `kong:"help='Mount path the proxy answers under (overrides config).',env='MOUNT_PATH'"`
	BackendPort int              `kong:"help='Loopback port of the backend (overrides config).',env='BACKEND_PORT'"`
	StaticRoot  string           `kong:"help='Directory served by the bundled static backend (overrides config).',env='STATIC_ROOT'"`
	LogLevel    string           `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Mount   MountConfig   `toml:"mount"`
	Backend BackendConfig `toml:"backend"`
	Static  StaticConfig  `toml:"static"`
	Log     LogConfig     `toml:"log"`
	Metrics MetricsConfig `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds settings of the front HTTP server.
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

// MountConfig describes where the proxy is mounted and how it rewrites paths.
//
// rewrite_rule may be a single table or an array of tables; either form is
// normalized into RewriteRules by Load.
type MountConfig struct {
	Path           string        `toml:"path"`
	RawRewriteRule any           `toml:"rewrite_rule"`
	RewriteRules   []RewriteRule `toml:"-"`
}

// RewriteRule is one {source, dest} definition as written in the config.
type RewriteRule struct {
	Source string `toml:"source" mapstructure:"source"`
	Dest   string `toml:"dest"   mapstructure:"dest"`
}

// BackendConfig holds settings for the loopback backend connection.
type BackendConfig struct {
	Port            int `toml:"port"`
	TimeoutSeconds  int `toml:"timeout_seconds"`
	IdleConnections int `toml:"idle_connections"`
}

// StaticConfig controls the bundled static file backend.
type StaticConfig struct {
	Disabled bool   `toml:"disabled"`
	Root     string `toml:"root"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/contents-proxy/config.toml then configs/config.toml.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path == "" {
		return nil, fmt.Errorf("config: no config file found (searched %v)", configSearchPaths)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	rules, err := NormalizeRewriteRules(cfg.Mount.RawRewriteRule)
	if err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Mount.RewriteRules = rules

	cfg.filePath = path
	cfg.applyCLI(cli)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// NormalizeRewriteRules turns the loosely typed rewrite_rule value (absent,
// one table, or a list of tables) into an ordered list of rules.
func NormalizeRewriteRules(raw any) ([]RewriteRule, error) {
	var defs []any
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []any:
		defs = v
	case []map[string]any:
		for _, m := range v {
			defs = append(defs, m)
		}
	default:
		defs = []any{v}
	}

	rules := make([]RewriteRule, 0, len(defs))
	for i, def := range defs {
		var r RewriteRule
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			ErrorUnused: true,
			Result:      &r,
		})
		if err != nil {
			return nil, err
		}
		if err := dec.Decode(def); err != nil {
			return nil, fmt.Errorf("mount.rewrite_rule[%d]: %w", i, err)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.MountPath != "" {
		c.Mount.Path = cli.MountPath
	}
	if cli.BackendPort != 0 {
		c.Backend.Port = cli.BackendPort
	}
	if cli.StaticRoot != "" {
		c.Static.Root = cli.StaticRoot
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

// Validate checks every section. Zero values are accepted where a default exists.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server),
		validation.Field(&c.Mount),
		validation.Field(&c.Backend),
		validation.Field(&c.Log),
		validation.Field(&c.Metrics, validation.By(c.metricsRouteFree)),
	)
}

// Validate implements validation.Validatable.
func (s ServerConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Host, is.Host),
		validation.Field(&s.Port, validation.Min(0), validation.Max(65535)),
		validation.Field(&s.BodyMaxBytes, validation.Min(int64(0))),
		validation.Field(&s.RateLimit),
	)
}

// Validate implements validation.Validatable.
func (r RateLimitConfig) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.RequestsPerSecond,
			validation.When(r.Enabled,
				validation.Required.Error("must be > 0 when rate limiting is enabled"),
				validation.Min(0.0).Exclusive().Error("must be > 0 when rate limiting is enabled"),
			),
		),
	)
}

var leadingSlash = regexp.MustCompile(`^/`)

// Validate implements validation.Validatable.
func (m MountConfig) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Path,
			validation.Required,
			validation.Match(leadingSlash).Error("must start with '/'"),
			validation.By(func(any) error {
				for _, reserved := range reservedRoutes {
					if routeOverlaps(m.Path, reserved) {
						return fmt.Errorf("conflicts with reserved route %q", reserved)
					}
				}
				return nil
			}),
		),
	)
}

// Validate implements validation.Validatable.
func (b BackendConfig) Validate() error {
	return validation.ValidateStruct(&b,
		validation.Field(&b.Port, validation.Min(0), validation.Max(65535)),
		validation.Field(&b.TimeoutSeconds, validation.Min(0)),
		validation.Field(&b.IdleConnections, validation.Min(0)),
	)
}

// Validate implements validation.Validatable.
func (l LogConfig) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Level, validation.By(oneOfFold("debug", "info", "warn", "error"))),
		validation.Field(&l.Format, validation.By(oneOfFold("json", "text"))),
	)
}

// Validate implements validation.Validatable.
func (m MetricsConfig) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Path,
			validation.When(m.Enabled,
				validation.Match(leadingSlash).Error("must start with '/'"),
			),
		),
	)
}

// metricsRouteFree rejects a metrics path that shadows another route.
func (c *Config) metricsRouteFree(any) error {
	p := c.Metrics.Path
	if !c.Metrics.Enabled || p == "" {
		return nil
	}
	for _, reserved := range append([]string{c.Mount.Path}, reservedRoutes...) {
		if reserved != "" && routeOverlaps(p, reserved) {
			return fmt.Errorf("path %q conflicts with reserved route %q", p, reserved)
		}
	}
	return nil
}

// routeOverlaps reports whether either path is the other or lies beneath it.
func routeOverlaps(a, b string) bool {
	a = strings.TrimSuffix(a, "/")
	b = strings.TrimSuffix(b, "/")
	if a == "" || b == "" {
		return a == b
	}
	return a == b || strings.HasPrefix(a, b+"/") || strings.HasPrefix(b, a+"/")
}

func oneOfFold(allowed ...string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s == "" {
			return nil
		}
		for _, a := range allowed {
			if strings.EqualFold(s, a) {
				return nil
			}
		}
		return fmt.Errorf("must be one of: %s", strings.Join(allowed, ", "))
	}
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, BodyMaxBytes, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key.
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
	if c.Backend.Port == 0 {
		c.Backend.Port = DefaultBackendPort
	}
	if c.Backend.TimeoutSeconds == 0 {
		c.Backend.TimeoutSeconds = 120
	}
	if c.Backend.IdleConnections == 0 {
		c.Backend.IdleConnections = 100
	}
	if c.Static.Root == "" {
		c.Static.Root = "public"
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
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Addr returns the loopback address the backend listens on.
func (b BackendConfig) Addr() string {
	return fmt.Sprintf("127.0.0.1:%d", b.Port)
}

// Timeout returns the per-request backend timeout.
func (b BackendConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSeconds) * time.Second
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
