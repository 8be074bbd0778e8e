package infra

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/paperlogin/paperlogin/internal/config"
	"github.com/paperlogin/paperlogin/internal/kvstore"
)

// Resources holds the store selected by configuration and the connections
// behind it. Cache and DB are nil unless their backend is in use.
type Resources struct {
	Store kvstore.Store
	Cache *redis.Client
	DB    *pgxpool.Pool

	closers []func()
}

// Close releases every connection and stops background sweeping, newest
// first.
func (r *Resources) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}

// OpenStore connects the backend named by cfg.StoreBackend. Postgres schema
// is created if missing. Memory and Postgres get an expired-record sweeper
// running every cfg.SweepInterval.
func OpenStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Resources, error) {
	res := &Resources{}
	switch cfg.StoreBackend {
	case config.BackendRedis:
		cache, err := NewRedisClient(ctx, cfg.RedisURL, cfg.StoreTimeout)
		if err != nil {
			return nil, err
		}
		res.Cache = cache
		res.Store = kvstore.NewRedis(cache, cfg.StoreTimeout)
		res.closers = append(res.closers, func() {
			if err := cache.Close(); err != nil {
				logger.Warn("close redis", slog.Any("error", err))
			}
		})

	case config.BackendPostgres:
		db, err := NewPostgresPool(ctx, cfg.DatabaseURL, cfg.AppName)
		if err != nil {
			return nil, err
		}
		res.DB = db
		res.closers = append(res.closers, db.Close)

		pg := kvstore.NewPostgres(db, cfg.StoreTimeout)
		if err := pg.EnsureSchema(ctx); err != nil {
			res.Close()
			return nil, fmt.Errorf("ensure kv schema: %w", err)
		}
		res.Store = pg
		if cfg.SweepInterval > 0 {
			res.closers = append(res.closers, sweepPostgres(pg, cfg.SweepInterval, logger))
		}

	case config.BackendMemory:
		mem := kvstore.NewMemory()
		if cfg.SweepInterval > 0 {
			mem.StartSweeper(cfg.SweepInterval)
		}
		res.Store = mem
		res.closers = append(res.closers, func() { _ = mem.Close() })
		logger.Warn("using in-memory store; codes do not survive restarts")

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
	return res, nil
}

// sweepPostgres deletes expired rows every interval and returns a function
// that stops it and waits for the running sweep to finish.
func sweepPostgres(pg *kvstore.Postgres, interval time.Duration, logger *slog.Logger) func() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				n, err := pg.Sweep(ctx)
				if err != nil {
					logger.Warn("sweep expired records", slog.Any("error", err))
					continue
				}
				if n > 0 {
					logger.Debug("swept expired records", slog.Int64("removed", n))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
