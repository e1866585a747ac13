package clientcache

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreateBuildsOnce(t *testing.T) {
	cache := NewCache[*int]()
	var builds atomic.Int32

	factory := func() (*int, error) {
		n := int(builds.Add(1))
		return &n, nil
	}

	first, err := cache.GetOrCreate("key", factory)
	require.NoError(t, err)
	second, err := cache.GetOrCreate("key", factory)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), builds.Load())
}

func TestGetOrCreateConcurrent(t *testing.T) {
	cache := NewCache[*int]()
	var builds atomic.Int32

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.GetOrCreate("shared", func() (*int, error) {
				n := int(builds.Add(1))
				return &n, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), builds.Load())
}

func TestGetOrCreateFactoryError(t *testing.T) {
	cache := NewCache[*int]()
	boom := errors.New("boom")

	_, err := cache.GetOrCreate("key", func() (*int, error) { return nil, boom })
	require.ErrorIs(t, err, boom)

	// A failed build is not cached; the next call retries the factory.
	n := 7
	client, err := cache.GetOrCreate("key", func() (*int, error) { return &n, nil })
	require.NoError(t, err)
	assert.Same(t, &n, client)
}

func TestDeleteForcesRebuild(t *testing.T) {
	cache := NewCache[*int]()
	var builds atomic.Int32

	factory := func() (*int, error) {
		n := int(builds.Add(1))
		return &n, nil
	}

	_, err := cache.GetOrCreate("key", factory)
	require.NoError(t, err)
	cache.Delete("key")
	_, err = cache.GetOrCreate("key", factory)
	require.NoError(t, err)

	assert.Equal(t, int32(2), builds.Load())
}
