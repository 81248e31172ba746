// ABOUTME: Configuration loading and parsing for the meetup chat client
// ABOUTME: Supports YAML or TOML files, ${VAR} expansion, env overrides and duration parsing

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
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g.
// MEETUP_CHAT_SESSION_MEETUP_ID.
const EnvPrefix = "MEETUP_CHAT_"

// Defaults applied to unset fields.
const (
	DefaultReconnectInitialDelay = time.Second
	DefaultReconnectMaxDelay     = 30 * time.Second
	DefaultMaxReconnectAttempts  = 5
	DefaultHeartbeatInterval     = 30 * time.Second
	DefaultQueueCapacity         = 50
	DefaultQueueMaxAge           = 5 * time.Minute
	DefaultTypingIdle            = 2 * time.Second
	DefaultReceiptTTL            = time.Hour
	DefaultReceiptCapacity       = 10000
	DefaultLogLevel              = "info"
	DefaultLogFormat             = "text"
)

// Config represents the complete meetup chat configuration
type Config struct {
	Server  ServerConfig  `yaml:"server" toml:"server" envPrefix:"SERVER_"`
	Session SessionConfig `yaml:"session" toml:"session" envPrefix:"SESSION_"`
	Chat    ChatConfig    `yaml:"chat" toml:"chat" envPrefix:"CHAT_"`
	Auth    AuthConfig    `yaml:"auth" toml:"auth" envPrefix:"AUTH_"`
	Store   StoreConfig   `yaml:"store" toml:"store" envPrefix:"STORE_"`
	Logging LoggingConfig `yaml:"logging" toml:"logging" envPrefix:"LOGGING_"`
}

// ServerConfig holds the chat server endpoints
type ServerConfig struct {
	// WSURL is the STOMP-over-WebSocket endpoint, e.g. wss://host/ws.
	WSURL string `yaml:"ws_url" toml:"ws_url" env:"WS_URL"`
	// APIURL is the REST base URL. Empty disables history loading.
	APIURL string `yaml:"api_url" toml:"api_url" env:"API_URL"`
}

// SessionConfig holds the meetup binding and connection tuning
type SessionConfig struct {
	MeetupID             int64 `yaml:"meetup_id" toml:"meetup_id" env:"MEETUP_ID"`
	MaxReconnectAttempts int   `yaml:"max_reconnect_attempts" toml:"max_reconnect_attempts" env:"MAX_RECONNECT_ATTEMPTS"`
	QueueCapacity        int   `yaml:"queue_capacity" toml:"queue_capacity" env:"QUEUE_CAPACITY"`

	ReconnectInitialDelay time.Duration `yaml:"-" toml:"-"`
	ReconnectMaxDelay     time.Duration `yaml:"-" toml:"-"`
	HeartbeatInterval     time.Duration `yaml:"-" toml:"-"`
	QueueMaxAge           time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	ReconnectInitialDelayRaw string `yaml:"reconnect_initial_delay" toml:"reconnect_initial_delay" env:"RECONNECT_INITIAL_DELAY"`
	ReconnectMaxDelayRaw     string `yaml:"reconnect_max_delay" toml:"reconnect_max_delay" env:"RECONNECT_MAX_DELAY"`
	HeartbeatIntervalRaw     string `yaml:"heartbeat_interval" toml:"heartbeat_interval" env:"HEARTBEAT_INTERVAL"`
	QueueMaxAgeRaw           string `yaml:"queue_max_age" toml:"queue_max_age" env:"QUEUE_MAX_AGE"`
}

// ChatConfig holds conversation behaviour settings
type ChatConfig struct {
	ReceiptCapacity int `yaml:"receipt_capacity" toml:"receipt_capacity" env:"RECEIPT_CAPACITY"`

	TypingIdle time.Duration `yaml:"-" toml:"-"`
	ReceiptTTL time.Duration `yaml:"-" toml:"-"`

	TypingIdleRaw string `yaml:"typing_idle" toml:"typing_idle" env:"TYPING_IDLE"`
	ReceiptTTLRaw string `yaml:"receipt_ttl" toml:"receipt_ttl" env:"RECEIPT_TTL"`
}

// AuthConfig holds the user's credentials
type AuthConfig struct {
	// Token is the bearer token issued by the chat server.
	Token string `yaml:"token" toml:"token" env:"TOKEN"`
	// JWTSecret, when set, verifies the token's HS256 signature locally.
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret" env:"JWT_SECRET"`
}

// StoreConfig holds local state storage configuration
type StoreConfig struct {
	Path string `yaml:"path" toml:"path" env:"PATH"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level" env:"LEVEL"`
	Format string `yaml:"format" toml:"format" env:"FORMAT"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, anything else as YAML. Environment
// variables in the format ${VAR_NAME} are expanded, then MEETUP_CHAT_*
// variables override file values. An empty path loads from the environment
// only.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		expanded := expandEnvVars(string(data))

		if strings.EqualFold(filepath.Ext(path), ".toml") {
			if _, err := toml.Decode(expanded, &cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		} else if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
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

// DefaultPath returns $XDG_CONFIG_HOME/meetup-chat/config.yaml, falling back
// to ~/.config.
func DefaultPath() string {
	return filepath.Join(xdgDir("XDG_CONFIG_HOME", ".config"), "meetup-chat", "config.yaml")
}

// DefaultStorePath returns $XDG_DATA_HOME/meetup-chat/chat.db, falling back
// to ~/.local/share.
func DefaultStorePath() string {
	return filepath.Join(xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share")), "meetup-chat", "chat.db")
}

func xdgDir(envVar, homeRel string) string {
	if dir := os.Getenv(envVar); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return homeRel
	}
	return filepath.Join(home, homeRel)
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func (c *Config) applyDefaults() {
	s := &c.Session
	if s.ReconnectInitialDelay == 0 {
		s.ReconnectInitialDelay = DefaultReconnectInitialDelay
	}
	if s.ReconnectMaxDelay == 0 {
		s.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if s.MaxReconnectAttempts == 0 {
		s.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if s.HeartbeatInterval == 0 {
		s.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if s.QueueCapacity == 0 {
		s.QueueCapacity = DefaultQueueCapacity
	}
	if s.QueueMaxAge == 0 {
		s.QueueMaxAge = DefaultQueueMaxAge
	}

	if c.Chat.TypingIdle == 0 {
		c.Chat.TypingIdle = DefaultTypingIdle
	}
	if c.Chat.ReceiptTTL == 0 {
		c.Chat.ReceiptTTL = DefaultReceiptTTL
	}
	if c.Chat.ReceiptCapacity == 0 {
		c.Chat.ReceiptCapacity = DefaultReceiptCapacity
	}

	if c.Store.Path == "" {
		c.Store.Path = DefaultStorePath()
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.WSURL == "" {
		return fmt.Errorf("server.ws_url is required")
	}
	u, err := url.Parse(c.Server.WSURL)
	if err != nil {
		return fmt.Errorf("server.ws_url is not a valid URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("server.ws_url must use ws or wss scheme")
	}

	if c.Server.APIURL != "" {
		u, err := url.Parse(c.Server.APIURL)
		if err != nil {
			return fmt.Errorf("server.api_url is not a valid URL: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("server.api_url must use http or https scheme")
		}
	}

	if c.Session.MeetupID <= 0 {
		return fmt.Errorf("session.meetup_id must be positive")
	}
	if c.Auth.Token == "" {
		return fmt.Errorf("auth.token is required")
	}

	if c.Session.MaxReconnectAttempts < 0 {
		return fmt.Errorf("session.max_reconnect_attempts must not be negative")
	}
	if c.Session.QueueCapacity < 0 {
		return fmt.Errorf("session.queue_capacity must not be negative")
	}
	if c.Session.ReconnectMaxDelay < c.Session.ReconnectInitialDelay {
		return fmt.Errorf("session.reconnect_max_delay must not be less than reconnect_initial_delay")
	}
	if c.Chat.ReceiptCapacity < 0 {
		return fmt.Errorf("chat.receipt_capacity must not be negative")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
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
		{"session.reconnect_initial_delay", cfg.Session.ReconnectInitialDelayRaw, &cfg.Session.ReconnectInitialDelay},
		{"session.reconnect_max_delay", cfg.Session.ReconnectMaxDelayRaw, &cfg.Session.ReconnectMaxDelay},
		{"session.heartbeat_interval", cfg.Session.HeartbeatIntervalRaw, &cfg.Session.HeartbeatInterval},
		{"session.queue_max_age", cfg.Session.QueueMaxAgeRaw, &cfg.Session.QueueMaxAge},
		{"chat.typing_idle", cfg.Chat.TypingIdleRaw, &cfg.Chat.TypingIdle},
		{"chat.receipt_ttl", cfg.Chat.ReceiptTTLRaw, &cfg.Chat.ReceiptTTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %q", f.name, f.raw)
		}
		*f.dst = d
	}

	return nil
}
