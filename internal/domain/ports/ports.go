// Package ports defines the narrow interfaces through which the core
// consumes external collaborators: Zurg, Prowlarr, the debrid API, ffprobe,
// the remux tool, user/bandwidth/session directories, and the live-TV
// catalog. This package only carries the contracts; reference
// implementations live in internal/collaborators, internal/directory and
// internal/remux, and tests use their own per-package fakes.
package ports

import (
	"context"
	"time"

	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/domain"
)

// ZurgCatalog is the fast, local debrid-backed file catalog.
type ZurgCatalog interface {
	Search(ctx context.Context, ref domain.ContentRef) ([]domain.CandidateSource, error)
	// Resolve turns a zurg file path into a direct debrid CDN URL. Returns
	// domain.ErrUnsupported if the file cannot be promoted directly (the
	// engine then falls back to the range proxy).
	Resolve(ctx context.Context, filePath string) (directURL string, fileName string, err error)
}

// ProwlarrSearch is the slower indexer search collaborator. It streams
// partial result batches on the returned channel and closes it when done.
type ProwlarrSearch interface {
	Search(ctx context.Context, ref domain.ContentRef) (<-chan []domain.CandidateSource, error)
}

// TorrentHandle is an opaque reference to a magnet handed to the debrid
// client; the concrete type is owned by the DebridClient implementation.
type TorrentHandle interface{}

// DebridState mirrors the state machine the debrid collaborator reports
// while converting/downloading a magnet.
type DebridState string

const (
	DebridStateMagnetConversion DebridState = "magnet_conversion"
	DebridStateDownloading      DebridState = "downloading"
	DebridStateDownloaded       DebridState = "downloaded"
	DebridStateError            DebridState = "error"
	DebridStateDMCA             DebridState = "dmca"
)

// DebridStatus is one status tick from the debrid client while a magnet is
// being converted/downloaded.
type DebridStatus struct {
	State      DebridState
	Progress   float64 // 0..1
	Seeders    int
	SpeedBytes int64
	DirectURL  string // populated once State == DebridStateDownloaded
	FileName   string
}

// DebridClient drives one magnet through the debrid provider's conversion
// and download pipeline.
type DebridClient interface {
	AddMagnet(ctx context.Context, magnet string) (TorrentHandle, error)
	Status(ctx context.Context, handle TorrentHandle) (DebridStatus, error)
	Cancel(ctx context.Context, handle TorrentHandle) error
}

// Prober probes a candidate URL for codec/track metadata (ffprobe-like).
type Prober interface {
	Probe(ctx context.Context, url string) (domain.MediaInfo, error)
}

// RemuxPlan describes the work the Remuxer collaborator must do.
type RemuxPlan struct {
	SourceURL        string
	AudioProcessing  domain.AudioProcessingKind
	ChosenAudioIndex int
	TranscodeTarget  string
	HEVCTag          bool
	SubtitleCleanup  bool
	OutputDir        string
}

// Remuxer executes the audio remux/transcode and optional subtitle
// cleanup decided by the Validator, producing a local file.
type Remuxer interface {
	Remux(ctx context.Context, plan RemuxPlan) (localPath string, err error)
}

// BandwidthMeasurement is the user's last measured downstream bandwidth.
type BandwidthMeasurement struct {
	Mbps       float64
	MeasuredAt time.Time
}

// UserDirectory resolves per-user debrid keys, bandwidth measurements, and
// sub-account-to-parent mapping (for session arbitration inheritance).
type UserDirectory interface {
	DebridKey(ctx context.Context, userID string) (string, error)
	Bandwidth(ctx context.Context, userID string) (BandwidthMeasurement, error)
	ParentOf(ctx context.Context, userID string) (parentUserID string, ok bool, err error)
}

// LiveTVCatalog resolves the ordered list of upstream source URLs for a
// live-TV channel.
type LiveTVCatalog interface {
	SourceURLs(ctx context.Context, channelID string) ([]string, error)
}

// SubtitleProvider is the external subtitle search/download API.
type SubtitleProvider interface {
	Find(ctx context.Context, ref domain.ContentRef, language string) (downloadURL string, err error)
}

// SubtitleSyncer aligns a subtitle file's timing against the stream.
type SubtitleSyncer interface {
	Sync(ctx context.Context, subtitleURL, streamURL string) (syncedURL string, err error)
}

// SubtitleCacheEntry is a previously acquired subtitle file, keyed by
// (contentRef, language, videoHash) by the collaborator.
type SubtitleCacheEntry struct {
	URL    string
	Synced bool
}

// SubtitleCache is the external keyed subtitle store consulted first by the
// subtitle enricher, ahead of the external subtitle API.
type SubtitleCache interface {
	Lookup(ctx context.Context, ref domain.ContentRef, language, videoHash string) (SubtitleCacheEntry, bool, error)
	Store(ctx context.Context, ref domain.ContentRef, language, videoHash string, entry SubtitleCacheEntry) error
}

// SkipMarkerSource supplies intro/credits boundaries from chapters and/or
// an external skip-marker database.
type SkipMarkerSource interface {
	Lookup(ctx context.Context, ref domain.ContentRef, info domain.MediaInfo) (*domain.SkipMarkers, error)
}

// NextEpisodeResolver finds the next episode (or a recommended movie) for
// autoplay/prefetch chaining.
type NextEpisodeResolver interface {
	Next(ctx context.Context, ref domain.ContentRef, mode NextMode) (domain.ContentRef, bool, error)
}

// NextMode selects the prefetch strategy.
type NextMode string

const (
	NextSequential NextMode = "sequential"
	NextRandom     NextMode = "random"
)

// PlaybackTracker records a playback-start event; failures are swallowed
// by the caller, never surfaced to the client.
type PlaybackTracker interface {
	TrackStart(ctx context.Context, userID string, ref domain.ContentRef) error
}
