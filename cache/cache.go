// Package cache holds caller-owned project context (build instructions,
// conventions, repository notes) keyed by working directory, so handoff
// documents can carry it without reloading it for every handoff.
package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// Default sizing used when NewTTL receives zero values.
const (
	DefaultSize = 128
	DefaultTTL  = 10 * time.Minute
)

// LoaderFunc loads the value for key on a cache miss.
type LoaderFunc[V any] func(ctx context.Context, key string) (V, error)

// TTL is a bounded LRU cache whose entries expire after a fixed duration.
// Concurrent misses for the same key share one load.
type TTL[V any] struct {
	lru   *expirable.LRU[string, V]
	group singleflight.Group
}

// NewTTL creates a cache holding at most size entries for ttl each.
func NewTTL[V any](size int, ttl time.Duration) *TTL[V] {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &TTL[V]{lru: expirable.NewLRU[string, V](size, nil, ttl)}
}

// Get returns the cached value for key.
func (c *TTL[V]) Get(key string) (V, bool) {
	return c.lru.Get(key)
}

// Set stores value under key, evicting the least recently used entry when full.
func (c *TTL[V]) Set(key string, value V) {
	c.lru.Add(key, value)
}

// Delete removes key.
func (c *TTL[V]) Delete(key string) {
	c.lru.Remove(key)
}

// Len returns the number of entries, including expired ones not yet purged.
func (c *TTL[V]) Len() int {
	return c.lru.Len()
}

// GetOrLoad returns the cached value or calls load once for all concurrent
// callers asking for the same key. Errors are not cached.
func (c *TTL[V]) GetOrLoad(ctx context.Context, key string, load LoaderFunc[V]) (V, error) {
	if v, ok := c.lru.Get(key); ok {
		return v, nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		if v, ok := c.lru.Get(key); ok {
			return v, nil
		}
		v, err := load(ctx, key)
		if err != nil {
			return v, err
		}
		c.lru.Add(key, v)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return v.(V), nil
}
