// Package store keeps the relay bot's transient state (conversation ids,
// duplicate-event guards, category history) behind a small key-value
// interface so it can live in memory, Redis or Postgres.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ops-euc-admin/ops-app-repo/internal/config"
)

// KV is a string key-value store with optional per-key expiry. A zero ttl
// means the key does not expire.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX stores value only when key is absent (or expired) and reports
	// whether it did.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

// Sweeper is implemented by stores that need expired keys purged explicitly.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// New opens the store selected by cfg.Type.
func New(ctx context.Context, cfg config.StoreConfig) (KV, error) {
	switch cfg.Type {
	case "", "memory":
		logrus.Info("Using in-memory state store")
		return NewMemoryKV(), nil
	case "redis":
		logrus.Infof("Using Redis state store at %s (db %d)", cfg.RedisAddr, cfg.RedisDB)
		kv, err := NewRedisKV(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		return kv, nil
	case "postgres":
		logrus.Info("Using Postgres state store")
		kv, err := NewPostgresKV(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return kv, nil
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}
}
