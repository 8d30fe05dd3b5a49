// Package cache implements LinkCache: a TTL-bounded cache of
// (content key -> direct stream URL) that verifies liveness on read.
// Entries expire opportunistically on access rather than via
// an interval timer, so a cold cache never pays for a sweep nobody asked for.
package cache

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/domain"
)

// Backend is the persistence layer LinkCache writes through to. The
// in-memory map below is always consulted first (read-mostly, no network
// round trip); Backend is optional and lets multiple replicas share state.
type Backend interface {
	Get(ctx context.Context, key string) (domain.LinkCacheEntry, bool, error)
	Set(ctx context.Context, key string, entry domain.LinkCacheEntry, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// LivenessProbe checks whether a cached stream URL is still servable. The
// production implementation issues a HEAD or ranged-byte GET; tests supply
// a fake.
type LivenessProbe func(ctx context.Context, streamURL string) bool

// LinkCache is the read-mostly cache in front of the debrid CDN. Writes are
// idempotent upserts; verification happens outside any write lock so a slow
// liveness probe never blocks writers.
type LinkCache struct {
	mu      sync.RWMutex
	entries map[string]domain.LinkCacheEntry

	backend Backend
	probe   LivenessProbe
}

func New(backend Backend, probe LivenessProbe) *LinkCache {
	if probe == nil {
		probe = HTTPLivenessProbe(http.DefaultClient)
	}
	return &LinkCache{
		entries: make(map[string]domain.LinkCacheEntry),
		backend: backend,
		probe:   probe,
	}
}

// Lookup returns a live URL or a miss; it never returns a dead URL (
// property 3). On a cache hit that fails the liveness probe, the entry is
// deleted and a miss is reported.
func (c *LinkCache) Lookup(ctx context.Context, contentKey string) (domain.LinkCacheEntry, bool) {
	entry, ok := c.lookupLocal(contentKey)
	if !ok && c.backend != nil {
		if remote, found, err := c.backend.Get(ctx, contentKey); err == nil && found {
			entry, ok = remote, true
		}
	}
	if !ok {
		return domain.LinkCacheEntry{}, false
	}
	if entry.Expired(time.Now()) {
		c.delete(ctx, contentKey)
		return domain.LinkCacheEntry{}, false
	}
	if !c.probe(ctx, entry.StreamURL) {
		c.delete(ctx, contentKey)
		return domain.LinkCacheEntry{}, false
	}
	return entry, true
}

func (c *LinkCache) lookupLocal(contentKey string) (domain.LinkCacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[contentKey]
	return entry, ok
}

// Insert upserts an entry. Only ever called by the engine when the final
// streamUrl is a direct debrid URL, never a local proxy URL.
func (c *LinkCache) Insert(ctx context.Context, entry domain.LinkCacheEntry) {
	entry.InsertedAt = time.Now()
	c.mu.Lock()
	c.entries[entry.ContentKey] = entry
	c.mu.Unlock()

	if c.backend != nil {
		_ = c.backend.Set(ctx, entry.ContentKey, entry, domain.LinkCacheTTL)
	}
}

func (c *LinkCache) delete(ctx context.Context, contentKey string) {
	c.mu.Lock()
	delete(c.entries, contentKey)
	c.mu.Unlock()
	if c.backend != nil {
		_ = c.backend.Delete(ctx, contentKey)
	}
}

// HTTPLivenessProbe builds a LivenessProbe that issues a cheap ranged GET
// (bytes=0-0) against the cached stream URL and treats 200 or 206 as live;
// no HEAD request is made.
func HTTPLivenessProbe(client *http.Client) LivenessProbe {
	return func(ctx context.Context, streamURL string) bool {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
		if err != nil {
			return false
		}
		req.Header.Set("Range", "bytes=0-0")
		resp, err := client.Do(req)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusPartialContent || resp.StatusCode == http.StatusOK
	}
}
