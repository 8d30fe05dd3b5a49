package domain

import "time"

// LinkCacheTTL is the fixed TTL for cached stream URLs.
const LinkCacheTTL = 24 * time.Hour

// LinkCacheEntry is one cached (content key -> direct stream URL) mapping.
type LinkCacheEntry struct {
	ContentKey       string    `json:"contentKey"`
	StreamURL        string    `json:"streamUrl"`
	FileName         string    `json:"fileName"`
	ResolutionHeight int       `json:"resolutionHeight,omitempty"`
	SizeBytes        *int64    `json:"sizeBytes,omitempty"`
	InsertedAt       time.Time `json:"insertedAt"`
}

// Expired reports whether the entry has outlived LinkCacheTTL as of now.
func (e LinkCacheEntry) Expired(now time.Time) bool {
	return now.Sub(e.InsertedAt) >= LinkCacheTTL
}
