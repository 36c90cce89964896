package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/thupa-pro/lipo-sub001/internal/consent/metrics"
	"github.com/thupa-pro/lipo-sub001/internal/consent/policy"
	"github.com/thupa-pro/lipo-sub001/internal/consent/service"
	"github.com/thupa-pro/lipo-sub001/internal/consent/store"
	"github.com/thupa-pro/lipo-sub001/internal/platform/config"
	"github.com/thupa-pro/lipo-sub001/internal/platform/database"
	"github.com/thupa-pro/lipo-sub001/internal/platform/health"
	"github.com/thupa-pro/lipo-sub001/internal/platform/redis"
)

const redisStatsInterval = 15 * time.Second

// consentSlot is the browsing-context storage selected by configuration.
type consentSlot struct {
	slot    store.Slot
	file    *store.FileSlot
	cs      *store.ConsentStore
	closeFn func()
}

func openSlot(ctx context.Context, g *errgroup.Group, cfg *config.Config, reg prometheus.Registerer, h *health.Handler, log *slog.Logger) (*consentSlot, error) {
	switch cfg.Storage.Backend {
	case config.StorageFile:
		fs, err := store.NewFileSlot(cfg.Storage.Dir, log)
		if err != nil {
			return nil, fmt.Errorf("file slot: %w", err)
		}
		return &consentSlot{slot: fs, file: fs}, nil
	case config.StorageRedis:
		client, err := redis.New(ctx, cfg.Redis, redis.NewPoolMetrics(reg))
		if err != nil {
			return nil, err
		}
		h.RegisterCheck("redis", client.Health)
		g.Go(func() error {
			return client.ReportPoolStats(ctx, redisStatsInterval, log)
		})
		return &consentSlot{
			slot: store.NewRedisSlot(client, cfg.Consent.Retention),
			closeFn: func() {
				if err := client.Close(); err != nil {
					log.Warn("redis close failed", "error", err)
				}
			},
		}, nil
	default:
		return &consentSlot{slot: store.NewMemorySlot()}, nil
	}
}

func (c *consentSlot) store(p policy.Policy, m *metrics.Metrics, namespace string, log *slog.Logger) *store.ConsentStore {
	c.cs = store.NewConsentStore(c.slot, p,
		store.WithNamespace(namespace),
		store.WithLogger(log),
		store.WithMetrics(m),
	)
	return c.cs
}

// watch refreshes visitors whose consent file changed outside this process,
// such as through consentctl. Only the file backend is shared that way.
func (c *consentSlot) watch(ctx context.Context, g *errgroup.Group, consent *service.Service, log *slog.Logger) {
	if c.file == nil || c.cs == nil {
		return
	}
	g.Go(func() error {
		log.Info("watching consent directory", "dir", c.file.Dir())
		return c.file.Watch(ctx, func(key string) {
			visitorID, ok := c.cs.SubjectFromKey(key)
			if !ok || visitorID == "" {
				return
			}
			if _, changed := consent.Refresh(ctx, visitorID); changed {
				log.DebugContext(ctx, "consent changed on disk", "key", key)
			}
		})
	})
}

func (c *consentSlot) close() {
	if c.closeFn != nil {
		c.closeFn()
	}
}

func openUserStore(ctx context.Context, cfg *config.Config, h *health.Handler, log *slog.Logger) (service.UserConsentStore, func(), error) {
	pool, err := database.New(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	if pool == nil {
		log.Warn("no database configured; user consent is kept in memory")
		return store.NewUserInMemory(), func() {}, nil
	}
	if err := pool.Migrate(ctx); err != nil {
		pool.Close() //nolint:errcheck // best-effort cleanup on init failure
		return nil, nil, err
	}
	h.RegisterCheck("postgres", pool.Health)
	return store.NewUserPostgres(pool.DB()), func() {
		if err := pool.Close(); err != nil {
			log.Warn("database close failed", "error", err)
		}
	}, nil
}
