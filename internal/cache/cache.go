// Package cache is the in-process response cache for read endpoints.
// Entries are invalidated by TTL and by prefix deletion on writes: a publish
// in tenant T drops every cached response whose key names T.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	hitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentdex_cache_hits_total",
		Help: "Cache hits by endpoint class.",
	}, []string{"endpoint"})

	missesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentdex_cache_misses_total",
		Help: "Cache misses by endpoint class.",
	}, []string{"endpoint"})
)

// Key builds the canonical cache key. tenant and principal may be empty for
// endpoint classes that are not scoped by them; params is the serialized
// request parameters.
func Key(endpoint, tenant, principal, params string) string {
	sum := sha256.Sum256([]byte(params))
	return "cache:" + endpoint + ":" + orStar(tenant) + ":" + orStar(principal) + ":" + hex.EncodeToString(sum[:8])
}

// TenantPrefix matches every key scoped to a tenant, across endpoints and
// principals, for write invalidation.
func TenantPrefix(endpoint, tenant string) string {
	return "cache:" + endpoint + ":" + orStar(tenant) + ":"
}

func orStar(s string) string {
	if s == "" {
		return "*"
	}
	return s
}

type entry struct {
	value   []byte
	expires time.Time
}

// Cache is a TTL map with background expiry. The zero value is not usable;
// call New.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	stop    chan struct{}
	once    sync.Once
}

// New creates a Cache whose janitor evicts expired entries every interval.
func New(interval time.Duration) *Cache {
	c := &Cache{
		entries: make(map[string]entry),
		stop:    make(chan struct{}),
	}
	go c.janitor(interval)
	return c
}

// Get returns the cached value for key, if present and fresh. The endpoint
// class is taken from the key for metrics.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || time.Now().After(e.expires) {
		missesTotal.WithLabelValues(endpointOf(key)).Inc()
		return nil, false
	}
	hitsTotal.WithLabelValues(endpointOf(key)).Inc()
	return e.value, true
}

// Set stores value under key for ttl.
func (c *Cache) Set(key string, value []byte, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = entry{value: value, expires: time.Now().Add(ttl)}
	c.mu.Unlock()
}

// DeletePrefix drops every entry whose key starts with prefix and returns
// how many were removed.
func (c *Cache) DeletePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// InvalidateTenant drops every entry scoped to tenant, plus unscoped
// entries (cross-tenant listings and well-known indexes), after a write in
// that tenant.
func (c *Cache) InvalidateTenant(tenant string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k := range c.entries {
		parts := strings.SplitN(k, ":", 4)
		if len(parts) < 3 {
			continue
		}
		if parts[2] == tenant || parts[2] == "*" {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Flush empties the cache.
func (c *Cache) Flush() {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.mu.Unlock()
}

// Len returns the number of entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the janitor.
func (c *Cache) Close() {
	c.once.Do(func() { close(c.stop) })
}

func (c *Cache) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for k, e := range c.entries {
				if now.After(e.expires) {
					delete(c.entries, k)
				}
			}
			c.mu.Unlock()
		}
	}
}

func endpointOf(key string) string {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 2 {
		return "unknown"
	}
	return parts[1]
}
