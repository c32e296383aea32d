package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfigFile(t, `
sender:
  webhook:
    url: https://hooks.example.com/notify
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "9090", cfg.Server.MetricsPort)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "badger", cfg.Storage.Backend)
	assert.Equal(t, 4, cfg.Queue.MaxTier)
	assert.Equal(t, 3, cfg.Queue.MaxRetries)
	assert.Equal(t, time.Minute, cfg.Dispatch.TickInterval)
	assert.Equal(t, 10, cfg.Dispatch.BatchSize)
	assert.Equal(t, []string{"default"}, cfg.Dispatch.Tenants)
	assert.Equal(t, "webhook", cfg.Sender.Kind)
}

func TestLoad_FileOverrides(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: "9000"
storage:
  backend: memory
queue:
  max_tier: 6
  max_retries: 1
dispatch:
  tick_interval: 30s
  batch_size: 25
  tenants:
    - team-a
    - team-b
sender:
  kind: telegram
  telegram:
    bot_token: tok
    default_chat_id: "123"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, 6, cfg.Queue.MaxTier)
	assert.Equal(t, 1, cfg.Queue.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.Dispatch.TickInterval)
	assert.Equal(t, 25, cfg.Dispatch.BatchSize)
	assert.Equal(t, []string{"team-a", "team-b"}, cfg.Dispatch.Tenants)
	assert.Equal(t, "telegram", cfg.Sender.Kind)
	assert.Equal(t, "tok", cfg.Sender.Telegram.BotToken)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfigFile(t, `
storage:
  backend: memory
sender:
  webhook:
    url: https://hooks.example.com/notify
`)

	t.Setenv("NOTIFYQ_SERVER__PORT", "7777")
	t.Setenv("NOTIFYQ_LOG__LEVEL", "debug")
	t.Setenv("NOTIFYQ_SENDER__WEBHOOK__AUTH_TOKEN", "env-secret")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "7777", cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "env-secret", cfg.Sender.Webhook.AuthToken)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := Default()
		cfg.Storage.Backend = "memory"
		cfg.Sender.Webhook.URL = "https://hooks.example.com/notify"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(*Config) {},
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Log.Level = "verbose" },
			wantErr: "validate config",
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Storage.Backend = "etcd" },
			wantErr: "validate config",
		},
		{
			name:    "metrics port must differ",
			mutate:  func(c *Config) { c.Server.MetricsPort = c.Server.Port },
			wantErr: "validate config",
		},
		{
			name:    "zero max tier",
			mutate:  func(c *Config) { c.Queue.MaxTier = 0 },
			wantErr: "validate config",
		},
		{
			name:    "no tenants",
			mutate:  func(c *Config) { c.Dispatch.Tenants = nil },
			wantErr: "validate config",
		},
		{
			name: "badger backend needs dir",
			mutate: func(c *Config) {
				c.Storage.Backend = "badger"
				c.Storage.Badger.Dir = ""
			},
			wantErr: "storage.badger.dir",
		},
		{
			name: "postgres backend needs url",
			mutate: func(c *Config) {
				c.Storage.Backend = "postgres"
			},
			wantErr: "storage.postgres.url",
		},
		{
			name: "telegram sender needs token",
			mutate: func(c *Config) {
				c.Sender.Kind = "telegram"
			},
			wantErr: "sender.telegram.bot_token",
		},
		{
			name: "webhook sender needs url",
			mutate: func(c *Config) {
				c.Sender.Webhook.URL = ""
			},
			wantErr: "sender.webhook.url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
