// Package enrich implements the background enrichers that run once a job
// reaches completed: next-episode lookup, skip-markers, subtitle
// acquisition/sync, and a playback-tracking event . Every step is
// independent and swallows its own failures — enrichment never touches a
// job's terminal status or streamUrl, and JobRegistry.Update already
// enforces that invariant centrally.
package enrich

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strconv"

	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/domain"
	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/domain/ports"
	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/registry"
)

// DefaultSubtitleLanguage is used when the caller configured none; chosen
// consistently with the validator's own English-track special-casing.
const DefaultSubtitleLanguage = "eng"

// Enrichers collects the optional collaborators; a nil collaborator just
// skips its step silently.
type Enrichers struct {
	Registry         *registry.Registry
	NextResolver     ports.NextEpisodeResolver
	Prober           ports.Prober
	SkipMarkers      ports.SkipMarkerSource
	SubtitleCache    ports.SubtitleCache
	SubtitleProvider ports.SubtitleProvider
	SubtitleSyncer   ports.SubtitleSyncer
	PlaybackTracker  ports.PlaybackTracker

	SubtitleLanguage string
	Logger           *slog.Logger
}

func New(reg *registry.Registry, logger *slog.Logger) *Enrichers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enrichers{Registry: reg, SubtitleLanguage: DefaultSubtitleLanguage, Logger: logger}
}

// Run executes every enricher for one completed job. Intended to be wired
// as engine.Engine.Enrich, which already calls it in its own goroutine.
func (e *Enrichers) Run(ctx context.Context, jobID string, ref domain.ContentRef, userRef string) {
	job, ok := e.Registry.Get(jobID)
	if !ok {
		return
	}

	e.trackPlayback(ctx, userRef, ref)
	e.nextEpisode(ctx, jobID, ref)
	e.skipMarkers(ctx, jobID, ref, job)
	e.subtitles(ctx, jobID, ref, job)
}

func (e *Enrichers) language() string {
	if e.SubtitleLanguage == "" {
		return DefaultSubtitleLanguage
	}
	return e.SubtitleLanguage
}

func (e *Enrichers) trackPlayback(ctx context.Context, userRef string, ref domain.ContentRef) {
	if e.PlaybackTracker == nil {
		return
	}
	if err := e.PlaybackTracker.TrackStart(ctx, userRef, ref); err != nil {
		e.Logger.Debug("playback tracking failed", slog.String("error", err.Error()))
	}
}

func (e *Enrichers) nextEpisode(ctx context.Context, jobID string, ref domain.ContentRef) {
	if e.NextResolver == nil {
		return
	}
	next, ok, err := e.NextResolver.Next(ctx, ref, ports.NextSequential)
	if err != nil {
		e.Logger.Debug("next episode lookup failed", slog.String("error", err.Error()))
		return
	}
	if !ok {
		return
	}
	if _, err := e.Registry.Update(jobID, func(j *domain.Job) {
		j.NextEpisode = &domain.NextEpisodeHint{ContentRef: next}
	}); err != nil {
		e.Logger.Debug("next episode write failed", slog.String("error", err.Error()))
	}
}

func (e *Enrichers) skipMarkers(ctx context.Context, jobID string, ref domain.ContentRef, job domain.Job) {
	if e.SkipMarkers == nil || e.Prober == nil || job.StreamURL == "" {
		return
	}
	info, err := e.Prober.Probe(ctx, job.StreamURL)
	if err != nil {
		e.Logger.Debug("skip marker probe failed", slog.String("error", err.Error()))
		return
	}
	markers, err := e.SkipMarkers.Lookup(ctx, ref, info)
	if err != nil {
		e.Logger.Debug("skip marker lookup failed", slog.String("error", err.Error()))
		return
	}
	if markers == nil {
		return
	}
	if _, err := e.Registry.Update(jobID, func(j *domain.Job) {
		j.SkipMarkers = markers
	}); err != nil {
		e.Logger.Debug("skip marker write failed", slog.String("error", err.Error()))
	}
}

// subtitles implements the 4-step acquisition order: cache, English track
// already on the container, external provider, embedded-track fallback.
func (e *Enrichers) subtitles(ctx context.Context, jobID string, ref domain.ContentRef, job domain.Job) {
	language := e.language()
	videoHash := videoHashFor(job)

	if e.SubtitleCache != nil {
		entry, found, err := e.SubtitleCache.Lookup(ctx, ref, language, videoHash)
		if err != nil {
			e.Logger.Debug("subtitle cache lookup failed", slog.String("error", err.Error()))
		} else if found {
			if !entry.Synced {
				entry = e.syncEntry(ctx, ref, language, videoHash, entry, job.StreamURL)
			}
			e.appendSubtitle(jobID, language, entry.URL, entry.Synced)
			return
		}
	}

	if hasEnglishKeptSubtitle(job.EmbeddedSubtitleTracks) {
		return
	}

	if e.SubtitleProvider == nil {
		return
	}
	downloadURL, err := e.SubtitleProvider.Find(ctx, ref, language)
	if err != nil {
		e.extractEmbedded(jobID, language, job)
		return
	}

	entry := ports.SubtitleCacheEntry{URL: downloadURL}
	entry = e.syncEntry(ctx, ref, language, videoHash, entry, job.StreamURL)
	if e.SubtitleCache != nil {
		if err := e.SubtitleCache.Store(ctx, ref, language, videoHash, entry); err != nil {
			e.Logger.Debug("subtitle cache store failed", slog.String("error", err.Error()))
		}
	}
	e.appendSubtitle(jobID, language, entry.URL, entry.Synced)
}

func (e *Enrichers) syncEntry(ctx context.Context, ref domain.ContentRef, language, videoHash string, entry ports.SubtitleCacheEntry, streamURL string) ports.SubtitleCacheEntry {
	if e.SubtitleSyncer == nil || streamURL == "" {
		return entry
	}
	synced, err := e.SubtitleSyncer.Sync(ctx, entry.URL, streamURL)
	if err != nil {
		e.Logger.Debug("subtitle sync failed", slog.String("error", err.Error()))
		return entry
	}
	entry.URL = synced
	entry.Synced = true
	if e.SubtitleCache != nil {
		if err := e.SubtitleCache.Store(ctx, ref, language, videoHash, entry); err != nil {
			e.Logger.Debug("subtitle cache store failed", slog.String("error", err.Error()))
		}
	}
	return entry
}

// extractEmbedded falls back to the embedded subtitle track the validator
// already recommended, addressed by track index rather than producing a new
// sidecar file.
func (e *Enrichers) extractEmbedded(jobID, language string, job domain.Job) {
	if job.RecommendedSubtitleIndex == nil || job.StreamURL == "" {
		e.Logger.Debug("no embedded subtitle available to extract", slog.String("jobId", jobID))
		return
	}
	url := fmt.Sprintf("%s#subtitle=%d", job.StreamURL, *job.RecommendedSubtitleIndex)
	e.appendSubtitle(jobID, language, url, true)
}

func (e *Enrichers) appendSubtitle(jobID, language, url string, synced bool) {
	if _, err := e.Registry.Update(jobID, func(j *domain.Job) {
		j.Subtitles = append(j.Subtitles, domain.ExternalSubtitle{Language: language, URL: url, Synced: synced})
	}); err != nil {
		e.Logger.Debug("subtitle write failed", slog.String("error", err.Error()))
	}
}

func hasEnglishKeptSubtitle(tracks []domain.SubtitleTrack) bool {
	for _, t := range tracks {
		if t.Keep && !t.Forced && t.Language == "eng" {
			return true
		}
	}
	return false
}

func videoHashFor(job domain.Job) string {
	h := fnv.New64a()
	h.Write([]byte(job.ContentRef.CacheKey()))
	h.Write([]byte(job.FileName))
	return strconv.FormatUint(h.Sum64(), 16)
}
