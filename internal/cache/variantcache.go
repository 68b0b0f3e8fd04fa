package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/tinywideclouds/go-unifiedpush/internal/store"
	"github.com/tinywideclouds/go-unifiedpush/pkg/upmodel"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns the value or a specific error if not found.
	Get(ctx context.Context, key string, dest interface{}) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Del removes the key.
	Del(ctx context.Context, key string) error
}

// CachedVariantStore is a decorator that adds read-aside caching to any
// VariantStore. The dispatcher resolves variant credentials once per batch,
// which makes the variant document the hottest read in the pipeline.
type CachedVariantStore struct {
	realStore store.VariantStore
	cache     CacheClient
	ttl       time.Duration
}

func NewCachedVariantStore(realStore store.VariantStore, cache CacheClient, ttl time.Duration) *CachedVariantStore {
	return &CachedVariantStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
	}
}

func (s *CachedVariantStore) FindVariantByID(ctx context.Context, variantID string) (*upmodel.Variant, error) {
	key := s.cacheKey(variantID)
	var cached upmodel.Variant

	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return &cached, nil
	}

	fresh, err := s.realStore.FindVariantByID(ctx, variantID)
	if err != nil {
		return nil, err
	}

	// Caching is an optimization, not a transaction; if Redis is down we just
	// serve from the store.
	_ = s.cache.Set(ctx, key, fresh, s.ttl)

	return fresh, nil
}

// FindVariantsForApplication is only called at split time, once per
// submission; it always goes to the store.
func (s *CachedVariantStore) FindVariantsForApplication(ctx context.Context, appID string) ([]upmodel.Variant, error) {
	return s.realStore.FindVariantsForApplication(ctx, appID)
}

// Invalidate drops the cached document so the next lookup re-reads fresh
// credentials. Called by the (external) variant administration path.
func (s *CachedVariantStore) Invalidate(ctx context.Context, variantID string) error {
	return s.cache.Del(ctx, s.cacheKey(variantID))
}

func (s *CachedVariantStore) cacheKey(variantID string) string {
	return fmt.Sprintf("ups:variant:%s", variantID)
}
