package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/park285/chess-arena/internal/obslog"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

type AppConfig struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`

	Store       string        `env:"STORE" envDefault:"memory"`
	RedisURL    string        `env:"REDIS_URL"`
	DatabaseURL string        `env:"DATABASE_URL"`
	SessionTTL  time.Duration `env:"SESSION_TTL" envDefault:"168h"`
	MigrateDB   bool          `env:"DB_MIGRATE" envDefault:"true"`

	JWTSecret string `env:"JWT_SECRET"`

	WebhookURL     string        `env:"WEBHOOK_URL"`
	WebhookTimeout time.Duration `env:"WEBHOOK_TIMEOUT" envDefault:"5s"`
	WebhookRetries int           `env:"WEBHOOK_RETRIES" envDefault:"3"`

	AbandonGrace   time.Duration `env:"ABANDON_GRACE" envDefault:"60s"`
	ActorIdleTTL   time.Duration `env:"ACTOR_IDLE_TTL" envDefault:"5m"`
	ActorQueueSize int           `env:"ACTOR_QUEUE_SIZE" envDefault:"64"`
	PersistRetries int           `env:"PERSIST_RETRIES" envDefault:"3"`
	PersistBackoff time.Duration `env:"PERSIST_BACKOFF" envDefault:"50ms"`

	OutboxSize     int           `env:"OUTBOX_SIZE" envDefault:"256"`
	InboundRate    float64       `env:"INBOUND_RATE" envDefault:"10"`
	InboundBurst   int           `env:"INBOUND_BURST" envDefault:"20"`
	PingInterval   time.Duration `env:"WS_PING_INTERVAL" envDefault:"30s"`
	AllowedOrigins []string      `env:"ALLOWED_ORIGINS" envSeparator:","`

	MessagesDir string `env:"MESSAGES_DIR"`

	Log obslog.Options
}

// Load parses the environment and validates the result.
func Load() (*AppConfig, error) {
	cfg := &AppConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) Validate() error {
	c.Store = strings.ToLower(strings.TrimSpace(c.Store))
	switch c.Store {
	case StoreMemory:
	case StoreRedis:
		if strings.TrimSpace(c.RedisURL) == "" {
			return errors.New("REDIS_URL is required when STORE=redis")
		}
	case StorePostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return errors.New("DATABASE_URL is required when STORE=postgres")
		}
	default:
		return fmt.Errorf("unknown STORE %q", c.Store)
	}
	if strings.TrimSpace(c.JWTSecret) == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.ActorQueueSize <= 0 || c.OutboxSize <= 0 {
		return errors.New("ACTOR_QUEUE_SIZE and OUTBOX_SIZE must be positive")
	}
	if c.PersistRetries < 1 {
		c.PersistRetries = 1
	}
	if c.InboundRate <= 0 {
		return errors.New("INBOUND_RATE must be positive")
	}
	if c.InboundBurst <= 0 {
		c.InboundBurst = 1
	}
	return nil
}
