// Package entitycache provides a bounded, store-backed lookup cache for
// resolved graph entities.
package entitycache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/lobbygraph/backend/pkg/store"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Loader queries the store for key. It returns false when no entity exists,
// which is not an error.
type Loader[K comparable, V any] func(ctx context.Context, q store.Querier, key K) (V, bool, error)

// Event is reported to an Observer for every cache interaction.
type Event int

const (
	EventHit Event = iota
	EventMiss
	EventLoad
	EventEviction
)

func (e Event) String() string {
	switch e {
	case EventHit:
		return "hit"
	case EventMiss:
		return "miss"
	case EventLoad:
		return "load"
	case EventEviction:
		return "eviction"
	default:
		return "unknown"
	}
}

// Observer receives cache events, typically to feed metrics.
type Observer func(cache string, event Event)

type Stats struct {
	Hits      uint64
	Misses    uint64
	Loads     uint64
	Evictions uint64
}

type options struct {
	observer Observer
}

type Option func(*options)

func WithObserver(o Observer) Option {
	return func(opts *options) {
		opts.observer = o
	}
}

// Cache is a least-recently-used key to entity map in front of a Loader.
// Lookups that find nothing in the store are not cached, so a later miss
// for the same key queries the store again.
//
// Capacity is a trade-off against dedup correctness: an evicted entity is
// re-read from the store on its next use. That is safe only while the
// loader observes every earlier write, which holds for a single writer
// reading inside its own transaction. A store with stale reads would let
// the caller create a duplicate.
type Cache[K comparable, V any] struct {
	name string
	lru  *lru.Cache[K, V]
	load Loader[K, V]
	obs  Observer

	mu       sync.Mutex
	removing bool

	hits      atomic.Uint64
	misses    atomic.Uint64
	loads     atomic.Uint64
	evictions atomic.Uint64
}

func New[K comparable, V any](name string, size int, load Loader[K, V], opts ...Option) (*Cache[K, V], error) {
	if size <= 0 {
		return nil, fmt.Errorf("entity cache %q: size must be positive, got %d", name, size)
	}
	if load == nil {
		return nil, fmt.Errorf("entity cache %q: loader is nil", name)
	}
	o := options{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&o)
	}

	c := &Cache[K, V]{name: name, load: load, obs: o.observer}
	l, err := lru.NewWithEvict(size, func(K, V) {
		if c.removing {
			return
		}
		c.evictions.Add(1)
		c.notify(EventEviction)
	})
	if err != nil {
		return nil, err
	}
	c.lru = l
	return c, nil
}

func (c *Cache[K, V]) Name() string {
	return c.name
}

func (c *Cache[K, V]) notify(e Event) {
	if c.obs != nil {
		c.obs(c.name, e)
	}
}

// Get returns the cached entity for key. On a miss the loader is called
// once with q and a found entity is installed.
func (c *Cache[K, V]) Get(ctx context.Context, q store.Querier, key K) (V, bool, error) {
	c.mu.Lock()
	v, ok := c.lru.Get(key)
	c.mu.Unlock()
	if ok {
		c.hits.Add(1)
		c.notify(EventHit)
		return v, true, nil
	}

	c.misses.Add(1)
	c.notify(EventMiss)

	v, found, err := c.load(ctx, q, key)
	if err != nil {
		var zero V
		return zero, false, err
	}
	if !found {
		var zero V
		return zero, false, nil
	}

	c.loads.Add(1)
	c.notify(EventLoad)
	c.Put(key, v)
	return v, true, nil
}

// Put installs or overwrites the entry for key.
func (c *Cache[K, V]) Put(key K, v V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, v)
}

// Remove drops key without counting it as an eviction.
func (c *Cache[K, V]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removing = true
	c.lru.Remove(key)
	c.removing = false
}

// Contains reports whether key is cached without touching recency.
func (c *Cache[K, V]) Contains(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Contains(key)
}

func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *Cache[K, V]) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Loads:     c.loads.Load(),
		Evictions: c.evictions.Load(),
	}
}
