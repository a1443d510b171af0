// config.go

// Environment variable loading and validation.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Mail queue backends.
const (
	MailQueueMemory = "memory"
	MailQueueRedis  = "redis"
)

// Config holds all env configuration vars for linkvault.
type Config struct {
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`
	Port        string `env:"PORT" env-default:"7865"`
	LogLevel    string `env:"LOG_LEVEL" env-default:"info"`

	// SMTP configuration for outbound email. Empty Host disables sending.
	SMTPHost            string `env:"SMTP_HOST"`
	SMTPPort            string `env:"SMTP_PORT" env-default:"587"`
	SMTPUsername        string `env:"SMTP_USERNAME"`
	SMTPPassword        string `env:"SMTP_PASSWORD"`
	SMTPFromAddress     string `env:"SMTP_FROM"`
	SMTPVerifyURLBase   string `env:"SMTP_VERIFY_URL"`
	SMTPRecoveryURLBase string `env:"SMTP_RECOVERY_URL"`

	// Outbound mail queue. "memory" keeps jobs in process; "redis" needs REDIS_URL.
	MailQueue           string        `env:"MAIL_QUEUE" env-default:"memory"`
	MailQueueSize       int           `env:"MAIL_QUEUE_SIZE" env-default:"1000"`
	MailShutdownTimeout time.Duration `env:"MAIL_SHUTDOWN_TIMEOUT" env-default:"10s"`

	// Argon2id cost for new hashes.
	Argon2MemoryKiB uint32 `env:"ARGON2_MEMORY_KIB" env-default:"65536"`
	Argon2Time      uint32 `env:"ARGON2_TIME" env-default:"3"`
	Argon2Threads   uint8  `env:"ARGON2_THREADS" env-default:"2"`

	// Requests per minute per client IP on login and recovery endpoints.
	RateRecoveryPerMinute int `env:"RATE_RECOVERY_PER_MINUTE" env-default:"5"`
	RateLoginPerMinute    int `env:"RATE_LOGIN_PER_MINUTE" env-default:"10"`
}

// LoadConfig reads environment variables and returns a validated Config.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("reading env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}

	c.MailQueue = strings.ToLower(c.MailQueue)
	switch c.MailQueue {
	case MailQueueMemory:
	case MailQueueRedis:
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required when MAIL_QUEUE=redis")
		}
	default:
		return fmt.Errorf("MAIL_QUEUE must be %q or %q, got %q", MailQueueMemory, MailQueueRedis, c.MailQueue)
	}

	if c.MailQueueSize <= 0 {
		return errors.New("MAIL_QUEUE_SIZE must be positive")
	}
	if c.MailShutdownTimeout <= 0 {
		return errors.New("MAIL_SHUTDOWN_TIMEOUT must be positive")
	}
	if c.RateRecoveryPerMinute <= 0 || c.RateLoginPerMinute <= 0 {
		return errors.New("rate limits must be positive")
	}

	// Tokens in verify/recovery links must not travel over plain HTTP.
	if c.SMTPHost != "" {
		if !strings.HasPrefix(c.SMTPVerifyURLBase, "https://") {
			return errors.New("SMTP_VERIFY_URL must be set and start with https://")
		}
		if !strings.HasPrefix(c.SMTPRecoveryURLBase, "https://") {
			return errors.New("SMTP_RECOVERY_URL must be set and start with https://")
		}
	}
	return nil
}

// SlogLevel maps LOG_LEVEL to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
