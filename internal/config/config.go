// Package config loads process configuration from the environment and an
// optional .env file.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Log struct {
		Level  string `envconfig:"LOG_LEVEL" default:"info"`
		Format string `envconfig:"LOG_FORMAT" default:"json"`
	}

	HTTP struct {
		Addr            string        `envconfig:"HTTP_ADDR" default:":8080"`
		ShutdownTimeout time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"10s"`
		AllowedOrigins  []string      `envconfig:"CORS_ALLOWED_ORIGINS"`
	}

	DB struct {
		// URL selects the postgres store; empty runs on the in-memory store.
		URL      string `envconfig:"DATABASE_URL"`
		MaxConns int32  `envconfig:"DB_MAX_CONNS" default:"10"`
	}

	Ledger struct {
		Currency     string `envconfig:"LEDGER_CURRENCY" default:"PKR"`
		CashCode     string `envconfig:"CASH_ACCOUNT_CODE" default:"cash"`
		CashName     string `envconfig:"CASH_ACCOUNT_NAME" default:"Cash Account"`
		LegacyMarker string `envconfig:"LEGACY_CASH_MARKER" default:"Cash"`
	}

	Tx struct {
		MaxConcurrent int64         `envconfig:"TX_MAX_CONCURRENT" default:"8"`
		MaxWait       time.Duration `envconfig:"TX_MAX_WAIT" default:"5s"`
		Timeout       time.Duration `envconfig:"TX_TIMEOUT" default:"20s"`
	}

	Reconcile struct {
		Parallelism int           `envconfig:"RECONCILE_PARALLELISM" default:"4"`
		Cron        string        `envconfig:"RECONCILE_CRON" default:"@every 6h"`
		LockTTL     time.Duration `envconfig:"RECONCILE_LOCK_TTL" default:"30m"`
	}

	Auth struct {
		// JWTSecret enables bearer auth; empty means every request is the dev admin.
		JWTSecret string `envconfig:"JWT_HS256_SECRET"`
	}

	Redis struct {
		Addr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
		Password string `envconfig:"REDIS_PASSWORD"`
		DB       int    `envconfig:"REDIS_DB" default:"0"`
	}

	Worker struct {
		Concurrency int `envconfig:"WORKER_CONCURRENCY" default:"2"`
	}
}

// Load reads envPath (or ./.env when empty, if present) and then the
// process environment. Variables already set win over the file.
func Load(envPath string) (*Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", envPath, err)
		}
	} else {
		_ = godotenv.Load()
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	c.Ledger.Currency = strings.ToUpper(strings.TrimSpace(c.Ledger.Currency))
	if c.Ledger.CashCode == "" {
		return fmt.Errorf("CASH_ACCOUNT_CODE must not be empty")
	}
	if c.Tx.MaxConcurrent <= 0 {
		return fmt.Errorf("TX_MAX_CONCURRENT must be positive, got %d", c.Tx.MaxConcurrent)
	}
	if c.Tx.Timeout <= 0 {
		return fmt.Errorf("TX_TIMEOUT must be positive, got %s", c.Tx.Timeout)
	}
	if c.Reconcile.Parallelism <= 0 {
		c.Reconcile.Parallelism = 1
	}
	return nil
}

// ParseLogLevel maps LOG_LEVEL values to a slog level; unknown values are info.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "err":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds the process logger: JSON unless LOG_FORMAT=text.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLogLevel(c.Log.Level)}
	if strings.EqualFold(strings.TrimSpace(c.Log.Format), "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
