// Package config loads the environment configuration shared by the auth,
// email, and streaming layers. A .env file is honored when present so local
// development does not need exported variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config is the full environment surface of the module.
type Config struct {
	Email        string `env:"AXIOM_EMAIL"`
	Password     string `env:"AXIOM_PASSWORD"`
	AccessToken  string `env:"AXIOM_ACCESS_TOKEN"`
	RefreshToken string `env:"AXIOM_REFRESH_TOKEN"`
	SessionPath  string `env:"AXIOM_SESSION_PATH" env-default:".axiom_session.json"`

	InboxEmail    string `env:"INBOX_LV_EMAIL"`
	InboxPassword string `env:"INBOX_LV_PASSWORD"`

	LogLevel    string        `env:"AXIOM_LOG_LEVEL" env-default:"info"`
	HTTPTimeout time.Duration `env:"AXIOM_HTTP_TIMEOUT" env-default:"30s"`
	OTPTimeout  time.Duration `env:"AXIOM_OTP_TIMEOUT" env-default:"2m"`
	OTPInterval time.Duration `env:"AXIOM_OTP_POLL_INTERVAL" env-default:"5s"`
}

// Load reads configuration from the environment, first overlaying any of the
// given .env files. Missing files are skipped; defaults to ".env" when no
// path is given.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: loading %s: %w", file, err)
		}
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config: reading environment: %w", err)
	}
	return &cfg, nil
}

// HasCredentials reports whether a login email/password pair is configured.
func (c *Config) HasCredentials() bool {
	return c.Email != "" && c.Password != ""
}

// HasTokens reports whether a pre-provisioned token pair is configured.
func (c *Config) HasTokens() bool {
	return c.AccessToken != "" && c.RefreshToken != ""
}

// HasMailbox reports whether IMAP credentials for OTP fetching are
// configured.
func (c *Config) HasMailbox() bool {
	return c.InboxEmail != "" && c.InboxPassword != ""
}

// NewLogger builds a production logger at the configured level.
func (c *Config) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("config: invalid log level %q: %w", c.LogLevel, err)
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("config: building logger: %w", err)
	}
	return logger, nil
}
