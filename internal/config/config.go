// Package config loads process settings from FINSTREAM_* environment
// variables, optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

const prefix = "FINSTREAM_"

// Backends accepted by Store.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreBolt     = "bolt"
)

type Config struct {
	Store    string `env:"STORE" envDefault:"memory"`
	PGDSN    string `env:"PG_DSN"`
	BoltPath string `env:"BOLT_PATH" envDefault:"finstream.db"`

	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":8080"`
	GRPCAddr        string        `env:"GRPC_ADDR" envDefault:":9090"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	MaxBodyBytes    int64         `env:"MAX_BODY_BYTES" envDefault:"1048576"`

	RateLimitRPS   int `env:"RATE_LIMIT_RPS" envDefault:"50"`
	RateLimitBurst int `env:"RATE_LIMIT_BURST" envDefault:"100"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// OverdueSweep is a robfig/cron spec; empty disables the scheduler.
	OverdueSweep string `env:"OVERDUE_SWEEP" envDefault:"@hourly"`
	// StrictArchive refuses to archive accounts with a non-zero balance.
	StrictArchive bool `env:"STRICT_ARCHIVE" envDefault:"true"`
	SeedChart     bool `env:"SEED_CHART" envDefault:"false"`
}

// Load reads dotenv files (missing files are ignored) and then the
// environment. Variables already set in the environment win over dotenv.
func Load(dotenv ...string) (Config, error) {
	if len(dotenv) == 0 {
		dotenv = []string{".env"}
	}
	for _, name := range dotenv {
		if err := godotenv.Load(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", name, err)
		}
	}
	var cfg Config
	if err := env.Parse(&cfg, env.Options{Prefix: prefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))
	if cfg.Store == "pg" {
		cfg.Store = StorePostgres
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.Store {
	case StoreMemory, StoreBolt:
	case StorePostgres:
		if c.PGDSN == "" {
			return fmt.Errorf("%sPG_DSN is required for the postgres store", prefix)
		}
	default:
		return fmt.Errorf("%sSTORE %q: want memory, postgres or bolt", prefix, c.Store)
	}
	if c.Store == StoreBolt && c.BoltPath == "" {
		return fmt.Errorf("%sBOLT_PATH is required for the bolt store", prefix)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("rate limit must be positive")
	}
	return nil
}
