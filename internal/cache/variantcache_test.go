package cache_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-unifiedpush/internal/cache"
	"github.com/tinywideclouds/go-unifiedpush/internal/store/memory"
	"github.com/tinywideclouds/go-unifiedpush/pkg/upmodel"
)

// fakeCacheClient is an in-memory CacheClient tracking hit/miss traffic.
type fakeCacheClient struct {
	data map[string][]byte
	sets int
	gets int
}

func newFakeCacheClient() *fakeCacheClient {
	return &fakeCacheClient{data: make(map[string][]byte)}
}

func (f *fakeCacheClient) Get(_ context.Context, key string, dest interface{}) error {
	f.gets++
	raw, ok := f.data[key]
	if !ok {
		return errors.New("cache miss")
	}
	return json.Unmarshal(raw, dest)
}

func (f *fakeCacheClient) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	f.sets++
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	f.data[key] = raw
	return nil
}

func (f *fakeCacheClient) Del(_ context.Context, key string) error {
	delete(f.data, key)
	return nil
}

func TestCachedVariantStore_ReadAside(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	mem.AddApplication(upmodel.PushApplication{
		ID:       "app-1",
		Variants: []upmodel.Variant{{ID: "v1", Type: upmodel.VariantTypeAndroid, Name: "droid"}},
	})
	fc := newFakeCacheClient()
	cached := cache.NewCachedVariantStore(mem, fc, time.Minute)

	// First lookup misses the cache and populates it.
	v, err := cached.FindVariantByID(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, "droid", v.Name)
	assert.Equal(t, 1, fc.sets)

	// Second lookup is served from the cache.
	v, err = cached.FindVariantByID(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, "droid", v.Name)
	assert.Equal(t, 1, fc.sets)
	assert.Equal(t, 2, fc.gets)
}

func TestCachedVariantStore_Invalidate(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	mem.AddApplication(upmodel.PushApplication{
		ID:       "app-1",
		Variants: []upmodel.Variant{{ID: "v1", Name: "before"}},
	})
	fc := newFakeCacheClient()
	cached := cache.NewCachedVariantStore(mem, fc, time.Minute)

	_, err := cached.FindVariantByID(ctx, "v1")
	require.NoError(t, err)

	// Update behind the cache, then invalidate.
	mem.AddApplication(upmodel.PushApplication{
		ID:       "app-1",
		Variants: []upmodel.Variant{{ID: "v1", Name: "after"}},
	})
	require.NoError(t, cached.Invalidate(ctx, "v1"))

	v, err := cached.FindVariantByID(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, "after", v.Name)
}

func TestCachedVariantStore_StoreErrorPassesThrough(t *testing.T) {
	ctx := context.Background()
	cached := cache.NewCachedVariantStore(memory.New(), newFakeCacheClient(), time.Minute)
	_, err := cached.FindVariantByID(ctx, "ghost")
	assert.Error(t, err)
}
