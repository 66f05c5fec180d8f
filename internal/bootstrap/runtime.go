// Package bootstrap connects the runtime collaborators the server needs.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"dealroom/internal/cache"
	"dealroom/internal/config"
	"dealroom/internal/conversation"
	"dealroom/internal/database"
	"dealroom/internal/directory"
	"dealroom/internal/observability"
	"dealroom/internal/persist"
	"dealroom/internal/realtime"
	"dealroom/internal/seed"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// replyTimeout bounds how long a redis reply request waits for an answer.
const replyTimeout = 30 * time.Second

// Options control runtime initialization behavior.
type Options struct {
	SeedDemoData bool
	// StartResponder answers redis reply requests from this process.
	StartResponder bool
}

// Runtime holds the connected collaborators.
type Runtime struct {
	DB          *gorm.DB
	Redis       *redis.Client
	Directory   directory.Directory
	Storage     persist.Factory
	ReplySource conversation.ReplySource
}

// InitRuntime connects to DB and Redis, builds the directory and storage,
// and optionally seeds demo data.
func InitRuntime(ctx context.Context, cfg *config.Config, opts Options) (*Runtime, error) {
	rt := &Runtime{}

	rdb, err := cache.Connect(ctx, cfg.RedisURL)
	if err != nil {
		if cfg.IsProduction() || cfg.StorageDriver == "redis" || cfg.ReplySource == "redis" {
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		slog.Warn("redis unavailable, continuing without it", slog.String("error", err.Error()))
		rdb = nil
	}
	rt.Redis = rdb

	driver, err := dbDriver(cfg)
	if err != nil {
		return nil, err
	}
	if driver != "" {
		db, err := database.Connect(cfg, driver)
		if err != nil {
			return nil, fmt.Errorf("database connection failed: %w", err)
		}
		rt.DB = db
	}

	var writer seed.Writer
	switch cfg.DirectoryDriver {
	case "sqlite", "postgres":
		gd, err := directory.NewGormDirectory(rt.DB)
		if err != nil {
			return nil, fmt.Errorf("directory: %w", err)
		}
		writer = gd
		rt.Directory = gd
		if rdb != nil {
			rt.Directory = directory.NewCachedDirectory(gd, cache.NewJSONCache(rdb))
		}
	default:
		md := directory.NewMemoryDirectory()
		writer = md
		rt.Directory = md
	}

	if opts.SeedDemoData {
		res, err := seed.SeedDirectory(ctx, writer, seed.DefaultOptions())
		if err != nil {
			return nil, fmt.Errorf("failed to seed demo data: %w", err)
		}
		slog.Info("demo data seeded",
			slog.Int("participants", len(res.Participants)),
			slog.Int("deals", len(res.Deals)),
		)
	}

	rt.Storage, err = persist.NewFactory(cfg, rdb, rt.DB)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	if cfg.ReplySource == "redis" && rdb != nil {
		rt.ReplySource = realtime.NewRedisReplySource(rdb, replyTimeout)
		if opts.StartResponder {
			responder := realtime.NewResponder(rdb, realtime.CyclingAnswerer(conversation.DefaultReplyPool))
			if err := responder.Start(ctx); err != nil {
				return nil, fmt.Errorf("reply responder: %w", err)
			}
			observability.GlobalLogger.Info("reply responder started")
		}
	}

	return rt, nil
}

// dbDriver returns the single SQL driver the directory and storage share, or
// "" when neither needs one.
func dbDriver(cfg *config.Config) (string, error) {
	var driver string
	for _, d := range []string{cfg.DirectoryDriver, cfg.StorageDriver} {
		if d != "sqlite" && d != "postgres" {
			continue
		}
		if driver != "" && driver != d {
			return "", fmt.Errorf("directory driver %q and storage driver %q must share one database", cfg.DirectoryDriver, cfg.StorageDriver)
		}
		driver = d
	}
	return driver, nil
}

// Close releases the connections.
func (rt *Runtime) Close() error {
	var errs []error
	if rt.Redis != nil {
		if err := rt.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if rt.DB != nil {
		if sqlDB, err := rt.DB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				errs = append(errs, fmt.Errorf("database: %w", err))
			}
		}
	}
	return errors.Join(errs...)
}
