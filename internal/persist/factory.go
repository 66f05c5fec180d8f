package persist

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"dealroom/internal/config"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Factory returns the storage for one namespace, typically a user id. Two
// calls with the same namespace address the same underlying data.
type Factory func(namespace string) Storage

// NewFactory builds a Factory for cfg.StorageDriver. rdb is required for the
// redis driver and db for the sqlite and postgres drivers.
func NewFactory(cfg *config.Config, rdb *redis.Client, db *gorm.DB) (Factory, error) {
	switch cfg.StorageDriver {
	case "memory":
		var mu sync.Mutex
		stores := make(map[string]*MemoryStorage)
		return func(ns string) Storage {
			mu.Lock()
			defer mu.Unlock()
			s, ok := stores[ns]
			if !ok {
				s = NewMemoryStorage()
				stores[ns] = s
			}
			return s
		}, nil
	case "file":
		base := cfg.StoragePath
		return func(ns string) Storage {
			return NewFileStorage(namespacedPath(base, ns))
		}, nil
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("storage driver redis requires a redis client")
		}
		return func(ns string) Storage {
			return NewRedisStorage(rdb, "dealroom:state:"+ns+":")
		}, nil
	case "sqlite", "postgres":
		if db == nil {
			return nil, fmt.Errorf("storage driver %s requires a database", cfg.StorageDriver)
		}
		base, err := NewSQLStorage(db, "")
		if err != nil {
			return nil, err
		}
		return func(ns string) Storage {
			return base.WithNamespace(ns)
		}, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func namespacedPath(base, ns string) string {
	if ns == "" {
		return base
	}
	ext := filepath.Ext(base)
	safe := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == '.' {
			return '_'
		}
		return r
	}, ns)
	return strings.TrimSuffix(base, ext) + "." + safe + ext
}
