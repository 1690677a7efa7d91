package main

import (
	"context"
	"fmt"

	"github.com/oriys/quasar/internal/cache"
	"github.com/oriys/quasar/internal/codec"
	"github.com/oriys/quasar/internal/config"
	"github.com/oriys/quasar/internal/export"
	"github.com/oriys/quasar/internal/logging"
	"github.com/oriys/quasar/internal/store"
)

// openFunctionTable opens the export function table selected by
// cfg.Export.Table. The returned function releases it.
func openFunctionTable(ctx context.Context, cfg *config.Config) (store.FunctionTable, func(), error) {
	cdc := codec.MustCBOR()

	switch cfg.Export.Table {
	case "postgres":
		pg, err := store.NewPostgresStore(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, nil, err
		}
		return pg, func() { pg.Close() }, nil

	case "redis":
		rc := cache.NewRedisCache(redisCacheConfig(cfg))
		if err := rc.Ping(ctx); err != nil {
			rc.Close()
			return nil, nil, fmt.Errorf("redis %s: %w", cfg.Redis.Addr, err)
		}
		return export.NewCacheTable(rc, cdc, cfg.Export.TTL), func() { rc.Close() }, nil

	case "tiered":
		rc := cache.NewRedisCache(redisCacheConfig(cfg))
		if err := rc.Ping(ctx); err != nil {
			rc.Close()
			return nil, nil, fmt.Errorf("redis %s: %w", cfg.Redis.Addr, err)
		}
		l1 := cache.NewInMemoryCache()
		tiered := cache.NewTieredCache(l1, rc, cfg.Export.L1TTL)
		inv := cache.NewInvalidator(l1, rc.Client(), "")
		if err := inv.Start(ctx); err != nil {
			logging.Op().Warn("cache invalidation disabled", "error", err)
		} else {
			tiered.OnWrite(inv.Publish)
		}
		return export.NewCacheTable(tiered, cdc, cfg.Export.TTL), func() {
			inv.Close()
			tiered.Close()
		}, nil

	default:
		mem := cache.NewInMemoryCache()
		return export.NewCacheTable(mem, cdc, cfg.Export.TTL), func() { mem.Close() }, nil
	}
}

func redisCacheConfig(cfg *config.Config) cache.RedisCacheConfig {
	return cache.RedisCacheConfig{
		Addr:      cfg.Redis.Addr,
		Password:  cfg.Redis.Password,
		DB:        cfg.Redis.DB,
		KeyPrefix: cfg.Redis.KeyPrefix,
	}
}
