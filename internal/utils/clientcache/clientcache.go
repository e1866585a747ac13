package clientcache

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// Cache memoizes provider SDK clients by configuration key. Construction is
// deduplicated with singleflight so concurrent route calls for the same
// provider share one client.
type Cache[T any] struct {
	cache   sync.Map
	sfGroup singleflight.Group
}

// NewCache creates an empty client cache.
func NewCache[T any]() *Cache[T] {
	return &Cache[T]{}
}

// GetOrCreate returns the cached client for key, building it with factory at
// most once even under concurrent load.
func (c *Cache[T]) GetOrCreate(key string, factory func() (T, error)) (T, error) {
	if cached, ok := c.cache.Load(key); ok {
		return cached.(T), nil
	}

	v, err, _ := c.sfGroup.Do(key, func() (any, error) {
		if cached, ok := c.cache.Load(key); ok {
			return cached.(T), nil
		}

		client, err := factory()
		if err != nil {
			var zero T
			return zero, err
		}

		c.cache.Store(key, client)
		return client, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}

	return v.(T), nil
}

// Delete evicts the client for key, forcing the next GetOrCreate to rebuild.
// Used when a provider's configuration changes.
func (c *Cache[T]) Delete(key string) {
	c.cache.Delete(key)
}
