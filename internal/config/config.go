// Package config provides application configuration loading and validation.
// Configuration is read from a YAML file, overridden by NOTIFYQ_-prefixed
// environment variables, and rejected at load time when malformed.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// envPrefix prefixes environment overrides. Nested keys use double
// underscores: NOTIFYQ_SERVER__PORT overrides server.port.
const envPrefix = "NOTIFYQ_"

// Config is the root application configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Log      LogConfig      `koanf:"log"`
	Storage  StorageConfig  `koanf:"storage"`
	Queue    QueueConfig    `koanf:"queue"`
	Dispatch DispatchConfig `koanf:"dispatch"`
	Sender   SenderConfig   `koanf:"sender"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port" validate:"required"`
	MetricsPort       string        `koanf:"metrics_port" validate:"required,nefield=Port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json text"`
}

// StorageConfig selects and configures the key-value backend.
type StorageConfig struct {
	Backend  string         `koanf:"backend" validate:"required,oneof=memory badger postgres"`
	Badger   BadgerConfig   `koanf:"badger"`
	Postgres PostgresConfig `koanf:"postgres"`
}

// BadgerConfig contains embedded store settings.
type BadgerConfig struct {
	Dir string `koanf:"dir"`
}

// PostgresConfig contains PostgreSQL store settings.
type PostgresConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	ConnectAttempts int           `koanf:"connect_attempts"`
}

// QueueConfig contains queue core settings.
type QueueConfig struct {
	MaxTier    int `koanf:"max_tier" validate:"min=1"`
	MaxRetries int `koanf:"max_retries" validate:"min=0"`
}

// DispatchConfig contains dispatch scheduling settings.
type DispatchConfig struct {
	TickInterval time.Duration `koanf:"tick_interval" validate:"required"`
	BatchSize    int           `koanf:"batch_size" validate:"min=1"`
	MinInterval  time.Duration `koanf:"min_interval" validate:"min=0"`
	Tenants      []string      `koanf:"tenants" validate:"min=1,dive,required"`
}

// SenderConfig selects and configures the outbound transport.
type SenderConfig struct {
	Kind     string         `koanf:"kind" validate:"required,oneof=telegram webhook"`
	Telegram TelegramConfig `koanf:"telegram"`
	Webhook  WebhookConfig  `koanf:"webhook"`
}

// TelegramConfig contains Telegram Bot API settings.
type TelegramConfig struct {
	BotToken      string        `koanf:"bot_token"`
	DefaultChatID string        `koanf:"default_chat_id"`
	RateLimit     float64       `koanf:"rate_limit" validate:"min=0"`
	Timeout       time.Duration `koanf:"timeout"`
}

// WebhookConfig contains webhook transport settings.
type WebhookConfig struct {
	URL       string        `koanf:"url"`
	AuthToken string        `koanf:"auth_token"`
	Timeout   time.Duration `koanf:"timeout"`
}

// Default returns the configuration defaults applied before file and
// environment loading.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 2 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Storage: StorageConfig{
			Backend: "badger",
			Badger: BadgerConfig{
				Dir: "/var/lib/notifyq",
			},
			Postgres: PostgresConfig{
				MaxOpenConns:    10,
				MaxIdleConns:    2,
				ConnMaxLifetime: 30 * time.Minute,
				ConnectTimeout:  30 * time.Second,
				ConnectAttempts: 5,
			},
		},
		Queue: QueueConfig{
			MaxTier:    4,
			MaxRetries: 3,
		},
		Dispatch: DispatchConfig{
			TickInterval: time.Minute,
			BatchSize:    10,
			MinInterval:  time.Minute,
			Tenants:      []string{"default"},
		},
		Sender: SenderConfig{
			Kind: "webhook",
			Telegram: TelegramConfig{
				RateLimit: 25,
				Timeout:   10 * time.Second,
			},
			Webhook: WebhookConfig{
				Timeout: 10 * time.Second,
			},
		},
	}
}

// Load reads configuration from the given YAML file (optional) and the
// environment, validates it and returns the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks field constraints plus the cross-field requirements of the
// selected storage backend and sender.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	switch c.Storage.Backend {
	case "badger":
		if c.Storage.Badger.Dir == "" {
			return fmt.Errorf("validate config: storage.badger.dir is required for the badger backend")
		}
	case "postgres":
		if c.Storage.Postgres.URL == "" {
			return fmt.Errorf("validate config: storage.postgres.url is required for the postgres backend")
		}
	}

	switch c.Sender.Kind {
	case "telegram":
		if c.Sender.Telegram.BotToken == "" {
			return fmt.Errorf("validate config: sender.telegram.bot_token is required for the telegram sender")
		}
	case "webhook":
		if c.Sender.Webhook.URL == "" {
			return fmt.Errorf("validate config: sender.webhook.url is required for the webhook sender")
		}
	}

	return nil
}
