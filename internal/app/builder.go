// Package app wires the store, coordinator, clock and transports from configuration.
package app

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/park285/chess-arena/internal/auth"
	"github.com/park285/chess-arena/internal/board"
	"github.com/park285/chess-arena/internal/broadcast"
	"github.com/park285/chess-arena/internal/clock"
	"github.com/park285/chess-arena/internal/config"
	"github.com/park285/chess-arena/internal/coordinator"
	"github.com/park285/chess-arena/internal/game"
	"github.com/park285/chess-arena/internal/msgcat"
	"github.com/park285/chess-arena/internal/notify"
	"github.com/park285/chess-arena/internal/obslog"
	"github.com/park285/chess-arena/internal/registry"
	"github.com/park285/chess-arena/internal/rules"
	"github.com/park285/chess-arena/internal/store"
	"github.com/park285/chess-arena/internal/transport/httpapi"
	"github.com/park285/chess-arena/internal/transport/ws"
)

type Deps struct {
	Store       store.Store
	Registry    *registry.Registry
	Hub         *broadcast.Hub
	Coordinator *coordinator.Coordinator
	Watchdog    *clock.Watchdog
	Webhook     *notify.Webhook
	WS          *ws.Server
	Handler     http.Handler
}

func New(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (*Deps, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if logger == nil {
		logger = obslog.L()
	}

	catalog, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}

	st, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	reg := registry.New()
	hub := broadcast.NewHub(reg, logger.Named("hub"))
	watchdog := clock.New(cfg.AbandonGrace, clock.WithLogger(logger.Named("clock")))

	var hook *notify.Webhook
	var onEnded func(store.Terminal)
	if cfg.WebhookURL != "" {
		hook = notify.NewWebhook(cfg.WebhookURL,
			notify.WithTimeout(cfg.WebhookTimeout),
			notify.WithRetries(cfg.WebhookRetries),
			notify.WithLogger(logger.Named("webhook")),
		)
		hook.Start()
		onEnded = hook.Enqueue
	}

	coord := coordinator.New(st, game.NewPipeline(rules.NewChess()), reg, hub, coordinator.Options{
		QueueSize:      cfg.ActorQueueSize,
		IdleTTL:        cfg.ActorIdleTTL,
		PersistRetries: cfg.PersistRetries,
		PersistBackoff: cfg.PersistBackoff,
		AbandonGrace:   cfg.AbandonGrace,
		Logger:         logger.Named("coordinator"),
		Clock:          watchdog,
		OnEnded:        onEnded,
	})
	watchdog.Bind(coord)
	if n, err := coord.Resume(ctx); err != nil {
		logger.Warn("resume_incomplete", zap.Int("resumed", n), zap.Error(err))
	} else if n > 0 {
		logger.Info("sessions_resumed", zap.Int("count", n))
	}

	verifier := auth.NewVerifier(cfg.JWTSecret)
	wsrv := ws.NewServer(coord, hub, reg, verifier, catalog, ws.Options{
		OutboxSize:     cfg.OutboxSize,
		Rate:           cfg.InboundRate,
		Burst:          cfg.InboundBurst,
		PingInterval:   cfg.PingInterval,
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         logger.Named("ws"),
	})
	api := httpapi.New(coord, verifier, catalog, httpapi.Options{
		WS:       wsrv,
		Renderer: board.NewRenderer(board.DefaultSquareSize),
		Logger:   logger.Named("http"),
	})

	return &Deps{
		Store:       st,
		Registry:    reg,
		Hub:         hub,
		Coordinator: coord,
		Watchdog:    watchdog,
		Webhook:     hook,
		WS:          wsrv,
		Handler:     api.Router(),
	}, nil
}

// OpenStore picks the durable backend named by STORE.
func OpenStore(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (store.Store, error) {
	switch cfg.Store {
	case config.StoreRedis:
		st, err := store.OpenRedis(ctx, cfg.RedisURL, store.WithSessionTTL(cfg.SessionTTL))
		if err != nil {
			return nil, fmt.Errorf("open redis store: %w", err)
		}
		logger.Info("store_ready", zap.String("backend", "redis"))
		return st, nil
	case config.StorePostgres:
		st, err := store.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		if cfg.MigrateDB {
			if err := st.Migrate(ctx); err != nil {
				_ = st.Close()
				return nil, err
			}
		}
		logger.Info("store_ready", zap.String("backend", "postgres"), zap.Bool("migrated", cfg.MigrateDB))
		return st, nil
	default:
		logger.Info("store_ready", zap.String("backend", "memory"))
		return store.NewMemory(), nil
	}
}

// Shutdown stops timers first so no synthetic op races the close. Connections are dropped
// while the coordinator can still record the disconnects.
func (d *Deps) Shutdown() error {
	d.Watchdog.Stop()
	d.WS.Close()
	d.Coordinator.Close()
	if d.Webhook != nil {
		d.Webhook.Close()
	}
	return d.Store.Close()
}
