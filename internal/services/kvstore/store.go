package kvstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/milhy545/adaptive-router/internal/models"
)

// ErrNotFound is returned when a key has no stored record.
var ErrNotFound = errors.New("kvstore: key not found")

// Store is the durable key-value store backing rate limiter persistence.
// Keys are provider ids; values are small JSON records.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// New builds the store selected by cfg. An empty type defaults to the file
// store so a bare config still survives restarts.
func New(cfg models.StoreConfig) (Store, error) {
	switch cfg.Type {
	case models.StoreRedis:
		return NewRedisStore(cfg)
	case models.StoreFile, "":
		dir := cfg.Dir
		if dir == "" {
			dir = "data/ratelimit"
		}
		return NewFileStore(dir)
	default:
		return nil, fmt.Errorf("unsupported store type: %s", cfg.Type)
	}
}
