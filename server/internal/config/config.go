package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AlertsConfig holds alerting rules and webhook delivery targets.
type AlertsConfig struct {
	Rules    []AlertRule     `yaml:"rules"`
	Webhooks []WebhookConfig `yaml:"webhooks"`

	// Interval between sweeps that re-evaluate rules for recently active
	// users (default 1m). Changes take effect on restart.
	Interval time.Duration `yaml:"interval"`
}

// AlertRule defines one threshold-based alert condition evaluated against a
// user's caffeine report.
type AlertRule struct {
	// Name is the human-readable alert identifier, used as the deduplication key.
	Name string `yaml:"name"`

	// Condition is a simple expression: "current_mg > 300", "peak_mg >= 400",
	// "doses_24h > 5", "status == overloaded".
	Condition string `yaml:"condition"`

	// Severity is one of: critical | warning | info.
	Severity string `yaml:"severity"`

	// Cooldown suppresses re-fires for this duration after an alert fires.
	// Defaults to 15 minutes if zero.
	Cooldown time.Duration `yaml:"cooldown"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// Default values for the server configuration.
const (
	DefaultHTTPPort       = 8080
	DefaultStorageDriver  = "sqlite"
	DefaultSQLitePath     = "caffeine.db"
	DefaultTokenTTL       = 72 * time.Hour
	DefaultStreamInterval = 30 * time.Second
	DefaultAlertInterval  = time.Minute
	DefaultLogLevel       = "info"
)

// Config is the top-level configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig holds all server-side settings.
type ServerConfig struct {
	// HTTPPort is the port the REST API and WebSocket hub listen on (default 8080).
	HTTPPort int `yaml:"http_port"`

	// Auth configures how the server authenticates REST and WebSocket clients.
	Auth AuthConfig `yaml:"auth"`

	// Storage selects and configures the relational store.
	Storage StorageConfig `yaml:"storage"`

	// Level bounds how much dose history feeds each level computation.
	Level LevelConfig `yaml:"level"`

	// Stream controls the WebSocket level push.
	Stream StreamConfig `yaml:"stream"`

	// Alerts holds rule definitions and webhook delivery targets.
	Alerts AlertsConfig `yaml:"alerts"`
}

// AuthConfig controls client authentication.
type AuthConfig struct {
	// Mode is one of: none | apikey | jwt.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected API key.
	// Used when Mode == "apikey".
	KeyEnv string `yaml:"key_env"`

	// Header is the HTTP header name to read the key from.
	// Defaults to "x-api-key" if empty.
	Header string `yaml:"header"`

	// JWTSecretEnv names the environment variable holding the HS256 signing
	// secret. Used when Mode == "jwt".
	JWTSecretEnv string `yaml:"jwt_secret_env"`

	// TokenTTL is the lifetime of issued tokens (default 72h).
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// JWTSecret returns the token signing secret resolved from the environment.
func (a AuthConfig) JWTSecret() string {
	if a.JWTSecretEnv == "" {
		return ""
	}
	return os.Getenv(a.JWTSecretEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// StorageConfig configures the relational store.
type StorageConfig struct {
	// Driver selects the database: sqlite | mysql.
	Driver string `yaml:"driver"`

	// Path is the SQLite database file. ":memory:" keeps everything in RAM.
	Path string `yaml:"path"`

	// DSNEnv names the environment variable holding the MySQL DSN.
	DSNEnv string `yaml:"dsn_env"`

	// Retention purges purchases older than this. Zero keeps everything.
	Retention time.Duration `yaml:"retention"`
}

// DSN returns the MySQL DSN resolved from the environment.
func (s StorageConfig) DSN() string {
	if s.DSNEnv == "" {
		return ""
	}
	return os.Getenv(s.DSNEnv)
}

// LevelConfig bounds the input of level computations.
type LevelConfig struct {
	// HistoryWindow limits the doses considered to those newer than
	// now-HistoryWindow. Zero, or anything above 30 days, means 30 days.
	HistoryWindow time.Duration `yaml:"history_window"`
}

// StreamConfig controls the WebSocket push of level updates.
type StreamConfig struct {
	// Interval between pushes to connected clients (default 30s).
	Interval time.Duration `yaml:"interval"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	// Level is one of: debug | info | warn | error.
	Level string `yaml:"level"`
}

// SlogLevel converts Level to a slog.Level. Unknown values map to info.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Load reads and parses the config file at path.
// Missing fields are filled with sensible defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server config: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML config data, applying defaults and validation.
func Parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with every default applied, for running without
// a config file.
func Default() *Config {
	return defaults()
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort: DefaultHTTPPort,
			Auth: AuthConfig{
				Mode:     "none",
				TokenTTL: DefaultTokenTTL,
			},
			Storage: StorageConfig{
				Driver: DefaultStorageDriver,
				Path:   DefaultSQLitePath,
			},
			Stream: StreamConfig{
				Interval: DefaultStreamInterval,
			},
			Alerts: AlertsConfig{
				Interval: DefaultAlertInterval,
			},
		},
		Log: LogConfig{Level: DefaultLogLevel},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	s := cfg.Server
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", s.HTTPPort)
	}
	switch s.Auth.Mode {
	case "apikey", "jwt", "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|jwt|none", s.Auth.Mode)
	}
	if s.Auth.Mode == "jwt" && s.Auth.JWTSecretEnv == "" {
		return fmt.Errorf("server.auth.jwt_secret_env is required when mode is jwt")
	}
	if s.Auth.TokenTTL <= 0 {
		return fmt.Errorf("server.auth.token_ttl must be positive")
	}
	switch s.Storage.Driver {
	case "sqlite":
		if s.Storage.Path == "" {
			return fmt.Errorf("server.storage.path is required for sqlite")
		}
	case "mysql":
		if s.Storage.DSNEnv == "" {
			return fmt.Errorf("server.storage.dsn_env is required for mysql")
		}
	default:
		return fmt.Errorf("server.storage.driver %q unknown: want sqlite|mysql", s.Storage.Driver)
	}
	if s.Storage.Retention < 0 {
		return fmt.Errorf("server.storage.retention must not be negative")
	}
	if s.Level.HistoryWindow < 0 {
		return fmt.Errorf("server.level.history_window must not be negative")
	}
	if s.Stream.Interval <= 0 {
		return fmt.Errorf("server.stream.interval must be positive")
	}
	if s.Alerts.Interval <= 0 {
		return fmt.Errorf("server.alerts.interval must be positive")
	}
	for _, wh := range s.Alerts.Webhooks {
		switch wh.Type {
		case "slack", "teams", "http":
		default:
			return fmt.Errorf("server.alerts.webhooks: type %q unknown: want slack|teams|http", wh.Type)
		}
	}
	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "warning", "error", "":
	default:
		return fmt.Errorf("log.level %q unknown: want debug|info|warn|error", cfg.Log.Level)
	}
	return nil
}
