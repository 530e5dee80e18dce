package cache

import (
	"fmt"
	"time"

	cachekey "github.com/always-cache/rulecache/pkg/cache-key"

	"github.com/viccon/sturdyc"
)

// MemoryConfig configures the in-memory provider.
type MemoryConfig struct {
	// Capacity is the maximum number of entries held.
	Capacity int
	// NumShards is the number of shards the entries are spread over.
	NumShards int
	// TTL is the upper bound on how long any entry is held,
	// regardless of its own expiry.
	TTL time.Duration
	// EvictionPercentage is the share of entries dropped when the cache is full.
	EvictionPercentage int
}

func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		Capacity:           10000,
		NumShards:          64,
		TTL:                24 * time.Hour,
		EvictionPercentage: 10,
	}
}

// MemCache is a CacheProvider keeping entries in a sharded in-memory cache.
type MemCache struct {
	client *sturdyc.Client[CacheEntry]
}

func NewMemCache(cfg MemoryConfig) (MemCache, error) {
	switch {
	case cfg.Capacity <= 0:
		return MemCache{}, fmt.Errorf("cache: capacity must be greater than 0")
	case cfg.NumShards <= 0:
		return MemCache{}, fmt.Errorf("cache: number of shards must be greater than 0")
	case cfg.TTL <= 0:
		return MemCache{}, fmt.Errorf("cache: ttl must be greater than 0")
	case cfg.EvictionPercentage < 1 || cfg.EvictionPercentage > 100:
		return MemCache{}, fmt.Errorf("cache: eviction percentage must be between 1 and 100")
	}
	return MemCache{
		client: sturdyc.New[CacheEntry](cfg.Capacity, cfg.NumShards, cfg.TTL, cfg.EvictionPercentage),
	}, nil
}

func (m MemCache) Get(key cachekey.Key) (CacheEntry, bool, error) {
	entry, ok := m.client.Get(string(key))
	if !ok {
		return CacheEntry{}, false, nil
	}
	if entry.Expired(time.Now()) {
		m.client.Delete(string(key))
		return CacheEntry{}, false, nil
	}
	return entry, true, nil
}

func (m MemCache) Put(ce CacheEntry) error {
	m.client.Set(string(ce.Key), ce)
	return nil
}

func (m MemCache) Purge(key cachekey.Key) error {
	m.client.Delete(string(key))
	return nil
}

func (m MemCache) Has(key cachekey.Key) bool {
	_, ok, _ := m.Get(key)
	return ok
}

// Len returns the number of entries held.
func (m MemCache) Len() int {
	return m.client.Size()
}
