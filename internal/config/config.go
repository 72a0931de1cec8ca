// Package config loads Hive's environment-driven configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Config is the root configuration for the Hive server. All values come from
// the environment; the Postgres DSN is a secret and is never logged.
type Config struct {
	Addr    string `env:"HIVE_ADDR" envDefault:":8800"`
	BaseURL string `env:"HIVE_BASE_URL"`

	SuperuserName        string `env:"SUPERUSER_NAME"`
	SuperuserToken       string `env:"SUPERUSER_TOKEN"`
	SuperuserDisplayName string `env:"SUPERUSER_DISPLAY_NAME"`

	PostgresDSN string `env:"HIVE_POSTGRES_DSN"`
	PGHost      string `env:"PGHOST" envDefault:"localhost"`
	PGPort      string `env:"PGPORT" envDefault:"5432"`
	PGUser      string `env:"PGUSER" envDefault:"hive"`
	PGPassword  string `env:"PGPASSWORD"`
	PGDatabase  string `env:"PGDATABASE" envDefault:"hive"`

	BroadcastCooldownMinutes int      `env:"BROADCAST_ALERT_COOLDOWN_MINUTES" envDefault:"180"`
	WebhookAllowedHosts      []string `env:"HIVE_WEBHOOK_ALLOWED_HOSTS" envSeparator:","`

	AttachmentDir string `env:"ATTACHMENT_DIR" envDefault:"data/attachments"`
	AvatarDir     string `env:"AVATAR_DIR" envDefault:"data/avatars"`

	MigrationsDir string `env:"HIVE_MIGRATIONS_DIR" envDefault:"migrations"`
}

const placeholderToken = "change-me"

// Load parses the environment into a Config and validates it.
// Validation failures that would leave the server unable to authenticate
// anyone are fatal; operational gaps only warn.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.SuperuserToken == placeholderToken {
		return fmt.Errorf("SUPERUSER_TOKEN is the placeholder value; set a real secret")
	}
	if c.SuperuserToken != "" && len(c.SuperuserToken) < 24 {
		slog.Warn("SUPERUSER_TOKEN is short; 24+ characters recommended")
	}
	if c.SuperuserToken != "" && c.SuperuserName == "" {
		return fmt.Errorf("SUPERUSER_TOKEN is set but SUPERUSER_NAME is empty")
	}
	if c.BaseURL == "" {
		slog.Warn("HIVE_BASE_URL not set; skill doc links will be relative")
	}
	if c.BroadcastCooldownMinutes <= 0 {
		c.BroadcastCooldownMinutes = 180
	}
	return nil
}

// DSN returns the Postgres connection string, assembling one from the
// PG* variables when HIVE_POSTGRES_DSN is not set.
func (c *Config) DSN() string {
	if c.PostgresDSN != "" {
		return c.PostgresDSN
	}
	parts := []string{
		"host=" + c.PGHost,
		"port=" + c.PGPort,
		"user=" + c.PGUser,
		"dbname=" + c.PGDatabase,
		"sslmode=disable",
	}
	if c.PGPassword != "" {
		parts = append(parts, "password="+c.PGPassword)
	}
	return strings.Join(parts, " ")
}

// EnsureBlobDirs creates the attachment and avatar roots if missing.
func (c *Config) EnsureBlobDirs() error {
	for _, dir := range []string{c.AttachmentDir, c.AvatarDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create blob dir %s: %w", dir, err)
		}
	}
	return nil
}
