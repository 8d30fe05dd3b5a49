package cache

import (
	"context"
	"testing"
	"time"

	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/domain"
)

func alwaysLive(ctx context.Context, streamURL string) bool { return true }
func neverLive(ctx context.Context, streamURL string) bool  { return false }

func TestLookupMissOnEmptyCache(t *testing.T) {
	c := New(nil, alwaysLive)
	if _, ok := c.Lookup(context.Background(), "movie:278"); ok {
		t.Fatalf("expected miss on empty cache")
	}
}

func TestLookupHitOnLiveEntry(t *testing.T) {
	c := New(nil, alwaysLive)
	c.Insert(context.Background(), domain.LinkCacheEntry{ContentKey: "movie:278", StreamURL: "https://cdn/a"})

	entry, ok := c.Lookup(context.Background(), "movie:278")
	if !ok {
		t.Fatalf("expected hit")
	}
	if entry.StreamURL != "https://cdn/a" {
		t.Fatalf("streamUrl = %q", entry.StreamURL)
	}
}

func TestLookupDeletesOnFailedLivenessProbe(t *testing.T) {
	c := New(nil, neverLive)
	c.Insert(context.Background(), domain.LinkCacheEntry{ContentKey: "movie:278", StreamURL: "https://cdn/dead"})

	if _, ok := c.Lookup(context.Background(), "movie:278"); ok {
		t.Fatalf("expected miss for a dead URL (never return a dead URL)")
	}
	// Second lookup confirms the entry was actually evicted, not just skipped.
	if _, ok := c.lookupLocal("movie:278"); ok {
		t.Fatalf("expected entry to be evicted after failed liveness probe")
	}
}

func TestLookupMissOnExpiredEntry(t *testing.T) {
	c := New(nil, alwaysLive)
	c.mu.Lock()
	c.entries["movie:278"] = domain.LinkCacheEntry{
		ContentKey: "movie:278",
		StreamURL:  "https://cdn/a",
		InsertedAt: time.Now().Add(-25 * time.Hour),
	}
	c.mu.Unlock()

	if _, ok := c.Lookup(context.Background(), "movie:278"); ok {
		t.Fatalf("expected miss for an entry past the 24h TTL")
	}
}
