// Package config reads process configuration from the environment,
// optionally preloaded from .env files.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Prefix is prepended to every variable name.
const Prefix = "RESITRACK_"

// DefaultEnvFiles are loaded, when present, before parsing.
var DefaultEnvFiles = []string{".env", ".env.local"}

type Config struct {
	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":8080"`
	UpstreamURL     string        `env:"UPSTREAM_URL"`
	UpstreamTimeout time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"15s"`
	Token           string        `env:"TOKEN"`

	PGDSN     string        `env:"PG_DSN"`
	RedisAddr string        `env:"REDIS_ADDR"`
	RedisDB   int           `env:"REDIS_DB" envDefault:"0"`
	CacheTTL  time.Duration `env:"CACHE_TTL" envDefault:"5m"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	RateBurst    int      `env:"RATE_BURST" envDefault:"40"`
	RatePerSec   float64  `env:"RATE_PER_SEC" envDefault:"20"`
	MaxBodyBytes int64    `env:"MAX_BODY_BYTES" envDefault:"1048576"`
	CORSOrigins  []string `env:"CORS_ORIGINS" envSeparator:","`

	SearchDebounce  time.Duration `env:"SEARCH_DEBOUNCE" envDefault:"500ms"`
	SearchMinLength int           `env:"SEARCH_MIN_LENGTH" envDefault:"3"`

	ArchiveCron      string        `env:"ARCHIVE_CRON"`
	ArchiveAfterDays int           `env:"ARCHIVE_AFTER_DAYS" envDefault:"365"`
	ArchiveToken     string        `env:"ARCHIVE_TOKEN"`
	AuditRetention   time.Duration `env:"AUDIT_RETENTION" envDefault:"0s"`

	StreamBuffer int `env:"STREAM_BUFFER" envDefault:"16"`
}

// LoadEnv loads the files that exist and returns how many were loaded.
// Variables already set in the environment win.
func LoadEnv(files []string) (int, error) {
	existing := make([]string, 0, len(files))
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	return len(existing), godotenv.Load(existing...)
}

// Load preloads DefaultEnvFiles and parses the environment.
func Load() (Config, error) {
	if _, err := LoadEnv(DefaultEnvFiles); err != nil {
		return Config{}, fmt.Errorf("load env files: %w", err)
	}
	return Parse()
}

// Parse reads the current environment only.
func Parse() (Config, error) {
	var c Config
	if err := env.ParseWithOptions(&c, env.Options{Prefix: Prefix}); err != nil {
		return Config{}, err
	}
	return c, c.Validate()
}

// Validate checks ranges. The upstream URL is checked by RequireUpstream
// since migrations do not need it.
func (c Config) Validate() error {
	var errs []error
	if c.UpstreamTimeout <= 0 {
		errs = append(errs, errors.New("UPSTREAM_TIMEOUT must be positive"))
	}
	if c.RateBurst < 0 || c.RatePerSec < 0 {
		errs = append(errs, errors.New("rate limit values must be non-negative"))
	}
	if c.SearchMinLength < 1 {
		errs = append(errs, errors.New("SEARCH_MIN_LENGTH must be >= 1"))
	}
	if c.ArchiveCron != "" && c.ArchiveAfterDays < 1 {
		errs = append(errs, errors.New("ARCHIVE_AFTER_DAYS must be >= 1 when ARCHIVE_CRON is set"))
	}
	if c.CacheTTL < 0 {
		errs = append(errs, errors.New("CACHE_TTL must be non-negative"))
	}
	return errors.Join(errs...)
}

// RequireUpstream fails when no backend URL is configured.
func (c Config) RequireUpstream() error {
	if c.UpstreamURL == "" {
		return errors.New(Prefix + "UPSTREAM_URL is required")
	}
	return nil
}
