package persistence

import (
	"fmt"

	"github.com/tcriess/walkingbuddy/config"
)

// NewStore creates the store configured in cfg.CacheConfig. An empty type selects the in-memory store.
func NewStore(cfg *config.Config) (Store, error) {
	cc := cfg.CacheConfig
	if cc.Type != "memory" && cc.Type != "" && cc.DSN == "" {
		return nil, fmt.Errorf("cache type %s requires a dsn", cc.Type)
	}
	switch cc.Type {
	case "", "memory":
		return NewMemoryStore(), nil
	case "buntdb":
		return NewBuntDBStore(cc.DSN, cc.LockPath)
	case "sqlite":
		return NewSQLiteStore(cc.DSN, cc.LockPath)
	case "postgres":
		return NewPostgresStore(cc.DSN)
	case "gorm-sqlite":
		return NewGormStore("sqlite", cc.DSN)
	case "gorm-postgres":
		return NewGormStore("postgres", cc.DSN)
	case "redis":
		return NewRedisStore(cc.DSN, cc.KeyPrefix)
	}
	return nil, fmt.Errorf("unknown cache type %q", cc.Type)
}
