// ABOUTME: Configuration loading and parsing for convo-console
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the complete convo-console configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Session   SessionConfig   `yaml:"session" toml:"session"`
	Widget    WidgetConfig    `yaml:"widget" toml:"widget"`
	Capture   CaptureConfig   `yaml:"capture" toml:"capture"`
	Report    ReportConfig    `yaml:"report" toml:"report"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig holds the HTTP listener address
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`   // tailnet-only HTTPS on :443
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // public Funnel, implies HTTPS
}

// Permanent tier backends
const (
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// DatabaseConfig selects the permanent tier
type DatabaseConfig struct {
	Backend string `yaml:"backend" toml:"backend"` // sqlite | bolt | memory
	Path    string `yaml:"path" toml:"path"`
}

// SessionConfig selects the session tier
type SessionConfig struct {
	Backend string      `yaml:"backend" toml:"backend"` // memory | redis
	Redis   RedisConfig `yaml:"redis" toml:"redis"`

	IdleTTL    time.Duration `yaml:"-" toml:"-"`
	IdleTTLRaw string        `yaml:"idle_ttl" toml:"idle_ttl"`
}

// RedisConfig holds the Redis session tier connection
type RedisConfig struct {
	Addr     string `yaml:"addr" toml:"addr"`
	Password string `yaml:"password" toml:"password"`
	DB       int    `yaml:"db" toml:"db"`
	Prefix   string `yaml:"prefix" toml:"prefix"`
}

// WidgetConfig is the endpoint identity of the embedded messenger widget
type WidgetConfig struct {
	ProjectID      string `yaml:"project_id" toml:"project_id"`
	AgentID        string `yaml:"agent_id" toml:"agent_id"`
	LanguageCode   string `yaml:"language_code" toml:"language_code"`
	MaxQueryLength string `yaml:"max_query_length" toml:"max_query_length"`
	ChatTitle      string `yaml:"chat_title" toml:"chat_title"`
	ScriptURL      string `yaml:"script_url" toml:"script_url"`
	StylesheetURL  string `yaml:"stylesheet_url" toml:"stylesheet_url"`
}

// CaptureConfig tunes turn capture and the widget lifecycle
type CaptureConfig struct {
	TitleMaxLen int `yaml:"title_max_len" toml:"title_max_len"`
	LedgerSize  int `yaml:"ledger_size" toml:"ledger_size"`

	PollInterval    time.Duration `yaml:"-" toml:"-"`
	ArmTimeout      time.Duration `yaml:"-" toml:"-"`
	IdleTimeout     time.Duration `yaml:"-" toml:"-"`
	PollIntervalRaw string        `yaml:"poll_interval" toml:"poll_interval"`
	ArmTimeoutRaw   string        `yaml:"arm_timeout" toml:"arm_timeout"`
	IdleTimeoutRaw  string        `yaml:"idle_timeout" toml:"idle_timeout"`
}

// ReportConfig locates the report generation collaborator
type ReportConfig struct {
	Endpoint string `yaml:"endpoint" toml:"endpoint"`

	// Zero means no client-side timeout
	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
}

// AuthConfig holds session token signing configuration
type AuthConfig struct {
	SessionSecret string `yaml:"session_secret" toml:"session_secret"`

	TokenTTL    time.Duration `yaml:"-" toml:"-"`
	TokenTTLRaw string        `yaml:"token_ttl" toml:"token_ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Defaults
const (
	DefaultHTTPAddr       = "127.0.0.1:8080"
	DefaultLanguageCode   = "pt-br"
	DefaultMaxQueryLength = "-1"
	DefaultChatTitle      = "Faça perguntas sobre os projetos"
	DefaultScriptURL      = "https://www.gstatic.com/dialogflow-console/fast/df-messenger/prod/v1/df-messenger.js"
	DefaultStylesheetURL  = "https://www.gstatic.com/dialogflow-console/fast/df-messenger/prod/v1/themes/df-messenger-default.css"
	DefaultRedisPrefix    = "convo-console"
	DefaultSessionIdleTTL = 12 * time.Hour
	DefaultPollInterval   = 200 * time.Millisecond
	DefaultArmTimeout     = 5 * time.Second
	DefaultConsoleIdle    = 30 * time.Minute
	DefaultTitleMaxLen    = 50
	DefaultTokenTTL       = 24 * time.Hour
	minSecretLength       = 16
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, anything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
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
	} else if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.ApplyDefaults()

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

// ApplyDefaults fills unset fields
func (c *Config) ApplyDefaults() {
	if c.Server.HTTPAddr == "" && !c.Tailscale.Enabled {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Database.Backend == "" {
		c.Database.Backend = BackendSQLite
	}
	if c.Session.Backend == "" {
		c.Session.Backend = BackendMemory
	}
	if c.Session.IdleTTL == 0 {
		c.Session.IdleTTL = DefaultSessionIdleTTL
	}
	if c.Session.Redis.Prefix == "" {
		c.Session.Redis.Prefix = DefaultRedisPrefix
	}

	if c.Widget.LanguageCode == "" {
		c.Widget.LanguageCode = DefaultLanguageCode
	}
	if c.Widget.MaxQueryLength == "" {
		c.Widget.MaxQueryLength = DefaultMaxQueryLength
	}
	if c.Widget.ChatTitle == "" {
		c.Widget.ChatTitle = DefaultChatTitle
	}
	if c.Widget.ScriptURL == "" {
		c.Widget.ScriptURL = DefaultScriptURL
	}
	if c.Widget.StylesheetURL == "" {
		c.Widget.StylesheetURL = DefaultStylesheetURL
	}

	if c.Capture.PollInterval == 0 {
		c.Capture.PollInterval = DefaultPollInterval
	}
	if c.Capture.ArmTimeout == 0 {
		c.Capture.ArmTimeout = DefaultArmTimeout
	}
	if c.Capture.IdleTimeout == 0 {
		c.Capture.IdleTimeout = DefaultConsoleIdle
	}
	if c.Capture.TitleMaxLen == 0 {
		c.Capture.TitleMaxLen = DefaultTitleMaxLen
	}

	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = DefaultTokenTTL
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	switch c.Database.Backend {
	case BackendSQLite, BackendBolt:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the %s backend", c.Database.Backend)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("database.backend %q is not one of sqlite, bolt, memory", c.Database.Backend)
	}

	switch c.Session.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Session.Redis.Addr == "" {
			return fmt.Errorf("session.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("session.backend %q is not one of memory, redis", c.Session.Backend)
	}

	if c.Widget.ProjectID == "" {
		return fmt.Errorf("widget.project_id is required")
	}
	if c.Widget.AgentID == "" {
		return fmt.Errorf("widget.agent_id is required")
	}

	if c.Capture.PollInterval < 0 || c.Capture.ArmTimeout < 0 {
		return fmt.Errorf("capture timings must be positive")
	}
	if c.Capture.PollInterval > c.Capture.ArmTimeout {
		return fmt.Errorf("capture.poll_interval (%s) must not exceed capture.arm_timeout (%s)",
			c.Capture.PollInterval, c.Capture.ArmTimeout)
	}
	if c.Capture.TitleMaxLen < 0 || c.Capture.LedgerSize < 0 {
		return fmt.Errorf("capture.title_max_len and capture.ledger_size must not be negative")
	}

	if len(c.Auth.SessionSecret) < minSecretLength {
		return fmt.Errorf("auth.session_secret must be at least %d characters", minSecretLength)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
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
		{"session.idle_ttl", cfg.Session.IdleTTLRaw, &cfg.Session.IdleTTL},
		{"capture.poll_interval", cfg.Capture.PollIntervalRaw, &cfg.Capture.PollInterval},
		{"capture.arm_timeout", cfg.Capture.ArmTimeoutRaw, &cfg.Capture.ArmTimeout},
		{"capture.idle_timeout", cfg.Capture.IdleTimeoutRaw, &cfg.Capture.IdleTimeout},
		{"report.timeout", cfg.Report.TimeoutRaw, &cfg.Report.Timeout},
		{"auth.token_ttl", cfg.Auth.TokenTTLRaw, &cfg.Auth.TokenTTL},
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

// DefaultPath returns the config file location.
// Priority: CONVO_CONSOLE_CONFIG env var > XDG_CONFIG_HOME/convo-console/config.yaml > ~/.config/convo-console/config.yaml
func DefaultPath() string {
	if p := os.Getenv("CONVO_CONSOLE_CONFIG"); p != "" {
		return p
	}
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			homeDir = "."
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "convo-console", "config.yaml")
}
