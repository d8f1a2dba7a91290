package caste

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/tphakala/voterimport/internal/errors"
)

// DefaultCacheTTL bounds how stale a worker's snapshot can get without an
// explicit invalidation.
const DefaultCacheTTL = time.Hour

const snapshotKey = "surname_caste_mapping"

// Cache provides the active surname → category snapshot.
type Cache interface {
	Get(ctx context.Context) (map[string]Category, error)
	Reload(ctx context.Context) error
	Invalidate()
}

// MappingSource loads every active mapping in one query.
type MappingSource interface {
	ActiveMappings(ctx context.Context) (map[string]Category, error)
}

// LoadRecorder receives snapshot reload outcomes.
type LoadRecorder interface {
	RecordCacheLoad(err error)
}

// TTLCache keeps the whole snapshot under a single go-cache key. Concurrent
// misses collapse into one load. Returned maps are shared and must not be
// modified.
//
// Every Invalidate and Reload starts a new generation. A load only stores its
// snapshot if no newer generation began while it ran, and callers never join
// a load from an older generation.
type TTLCache struct {
	source  MappingSource
	store   *cache.Cache
	group   singleflight.Group
	metrics LoadRecorder

	mu  sync.Mutex // guards gen and snapshot writes
	gen uint64
}

// NewTTLCache creates a cache over source. A non-positive ttl means
// DefaultCacheTTL.
func NewTTLCache(source MappingSource, ttl time.Duration, metrics LoadRecorder) *TTLCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &TTLCache{
		source:  source,
		store:   cache.New(ttl, 2*ttl),
		metrics: metrics,
	}
}

// Get returns the current snapshot, loading it on miss or expiry.
func (c *TTLCache) Get(ctx context.Context) (map[string]Category, error) {
	if m, ok := c.cached(); ok {
		return m, nil
	}

	gen := c.generation()
	v, err, _ := c.group.Do(flightKey(gen), func() (any, error) {
		if m, ok := c.cached(); ok {
			return m, nil
		}
		return c.load(ctx, gen)
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]Category), nil
}

// Reload replaces the snapshot immediately. It never joins a load that
// started before the call.
func (c *TTLCache) Reload(ctx context.Context) error {
	gen := c.advance(false)
	_, err, _ := c.group.Do(flightKey(gen), func() (any, error) {
		return c.load(ctx, gen)
	})
	return err
}

// Invalidate drops the snapshot; the next Get reloads.
func (c *TTLCache) Invalidate() {
	c.advance(true)
}

func (c *TTLCache) generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

func (c *TTLCache) advance(drop bool) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	if drop {
		c.store.Delete(snapshotKey)
	}
	return c.gen
}

func flightKey(gen uint64) string {
	return snapshotKey + "@" + strconv.FormatUint(gen, 10)
}

func (c *TTLCache) cached() (map[string]Category, bool) {
	v, ok := c.store.Get(snapshotKey)
	if !ok {
		return nil, false
	}
	m, ok := v.(map[string]Category)
	return m, ok
}

func (c *TTLCache) load(ctx context.Context, gen uint64) (map[string]Category, error) {
	m, err := c.source.ActiveMappings(ctx)
	if c.metrics != nil {
		c.metrics.RecordCacheLoad(err)
	}
	if err != nil {
		return nil, errors.New(err).
			Component("caste").
			Category(errors.CategoryCache).
			Context("operation", "load_surname_mappings").
			Build()
	}
	if m == nil {
		m = map[string]Category{}
	}
	c.mu.Lock()
	if c.gen == gen {
		c.store.Set(snapshotKey, m, cache.DefaultExpiration)
	}
	c.mu.Unlock()
	return m, nil
}
