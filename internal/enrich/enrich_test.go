package enrich

import (
	"context"
	"strings"
	"testing"

	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/domain"
	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/domain/ports"
	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/registry"
)

type nextResolverFunc func(ctx context.Context, ref domain.ContentRef, mode ports.NextMode) (domain.ContentRef, bool, error)

func (f nextResolverFunc) Next(ctx context.Context, ref domain.ContentRef, mode ports.NextMode) (domain.ContentRef, bool, error) {
	return f(ctx, ref, mode)
}

type fakeProber struct {
	info domain.MediaInfo
	err  error
}

func (f fakeProber) Probe(ctx context.Context, url string) (domain.MediaInfo, error) {
	return f.info, f.err
}

type fakeSkipMarkers struct {
	markers *domain.SkipMarkers
	err     error
}

func (f fakeSkipMarkers) Lookup(ctx context.Context, ref domain.ContentRef, info domain.MediaInfo) (*domain.SkipMarkers, error) {
	return f.markers, f.err
}

type mapSubtitleCache struct {
	entries map[string]ports.SubtitleCacheEntry
}

func newMapSubtitleCache() *mapSubtitleCache {
	return &mapSubtitleCache{entries: make(map[string]ports.SubtitleCacheEntry)}
}

func (c *mapSubtitleCache) key(ref domain.ContentRef, language, videoHash string) string {
	return ref.CacheKey() + "|" + language + "|" + videoHash
}

func (c *mapSubtitleCache) Lookup(ctx context.Context, ref domain.ContentRef, language, videoHash string) (ports.SubtitleCacheEntry, bool, error) {
	entry, ok := c.entries[c.key(ref, language, videoHash)]
	return entry, ok, nil
}

func (c *mapSubtitleCache) Store(ctx context.Context, ref domain.ContentRef, language, videoHash string, entry ports.SubtitleCacheEntry) error {
	c.entries[c.key(ref, language, videoHash)] = entry
	return nil
}

type fakeSubtitleProvider struct {
	url string
	err error
}

func (f fakeSubtitleProvider) Find(ctx context.Context, ref domain.ContentRef, language string) (string, error) {
	return f.url, f.err
}

type fakeSyncer struct {
	called bool
}

func (f *fakeSyncer) Sync(ctx context.Context, subtitleURL, streamURL string) (string, error) {
	f.called = true
	return subtitleURL + "&synced=1", nil
}

type failingSubtitleProvider struct{}

func (failingSubtitleProvider) Find(ctx context.Context, ref domain.ContentRef, language string) (string, error) {
	return "", domain.ErrNotFound
}

func newCompletedJob(reg *registry.Registry, ref domain.ContentRef) domain.Job {
	job := reg.Create(ref, "user1", false)
	updated, _ := reg.Update(job.ID, func(j *domain.Job) {
		j.Status = domain.StatusCompleted
		j.StreamURL = "https://cdn.example/movie.mkv"
		j.FileName = "movie.mkv"
	})
	return updated
}

func TestRunAddsNextEpisodeHint(t *testing.T) {
	reg := registry.New()
	ref := domain.ContentRef{ExternalID: "show1", Kind: domain.KindTV}
	job := newCompletedJob(reg, ref)

	next := domain.ContentRef{ExternalID: "show1", Kind: domain.KindTV}
	e := New(reg, nil)
	e.NextResolver = nextResolverFunc(func(ctx context.Context, r domain.ContentRef, mode ports.NextMode) (domain.ContentRef, bool, error) {
		return next, true, nil
	})

	e.Run(context.Background(), job.ID, ref, "user1")

	updated, _ := reg.Get(job.ID)
	if updated.NextEpisode == nil {
		t.Fatal("expected NextEpisode to be set")
	}
}

func TestRunAddsSkipMarkers(t *testing.T) {
	reg := registry.New()
	ref := domain.ContentRef{ExternalID: "show1", Kind: domain.KindTV}
	job := newCompletedJob(reg, ref)

	introEnd := 90.0
	e := New(reg, nil)
	e.Prober = fakeProber{info: domain.MediaInfo{HasChapters: true}}
	e.SkipMarkers = fakeSkipMarkers{markers: &domain.SkipMarkers{IntroEnd: &introEnd}}

	e.Run(context.Background(), job.ID, ref, "user1")

	updated, _ := reg.Get(job.ID)
	if updated.SkipMarkers == nil || updated.SkipMarkers.IntroEnd == nil || *updated.SkipMarkers.IntroEnd != introEnd {
		t.Fatalf("SkipMarkers = %+v", updated.SkipMarkers)
	}
}

func TestSubtitlesSkippedWhenEnglishTrackAlreadyKept(t *testing.T) {
	reg := registry.New()
	ref := domain.ContentRef{ExternalID: "show1", Kind: domain.KindTV}
	job := reg.Create(ref, "user1", false)
	job, _ = reg.Update(job.ID, func(j *domain.Job) {
		j.Status = domain.StatusCompleted
		j.StreamURL = "https://cdn.example/movie.mkv"
		j.EmbeddedSubtitleTracks = []domain.SubtitleTrack{{Language: "eng", Keep: true}}
	})

	provider := fakeSubtitleProvider{url: "https://subs.example/a.srt"}
	e := New(reg, nil)
	e.SubtitleProvider = provider

	e.Run(context.Background(), job.ID, ref, "user1")

	updated, _ := reg.Get(job.ID)
	if len(updated.Subtitles) != 0 {
		t.Fatalf("expected no external subtitles fetched, got %+v", updated.Subtitles)
	}
}

func TestSubtitlesFetchedAndSyncedWhenNoEnglishTrack(t *testing.T) {
	reg := registry.New()
	ref := domain.ContentRef{ExternalID: "show1", Kind: domain.KindTV}
	job := newCompletedJob(reg, ref)

	e := New(reg, nil)
	e.SubtitleProvider = fakeSubtitleProvider{url: "https://subs.example/a.srt"}
	syncer := &fakeSyncer{}
	e.SubtitleSyncer = syncer
	subCache := newMapSubtitleCache()
	e.SubtitleCache = subCache

	e.Run(context.Background(), job.ID, ref, "user1")

	updated, _ := reg.Get(job.ID)
	if len(updated.Subtitles) != 1 {
		t.Fatalf("expected one subtitle entry, got %+v", updated.Subtitles)
	}
	if !updated.Subtitles[0].Synced {
		t.Fatal("expected subtitle to be synced")
	}
	if !syncer.called {
		t.Fatal("expected syncer to be called")
	}
	if len(subCache.entries) != 1 {
		t.Fatalf("expected subtitle cache to be populated, got %d entries", len(subCache.entries))
	}
}

func TestSubtitlesReusesCacheEntry(t *testing.T) {
	reg := registry.New()
	ref := domain.ContentRef{ExternalID: "show1", Kind: domain.KindTV}
	job := newCompletedJob(reg, ref)

	subCache := newMapSubtitleCache()
	videoHash := videoHashFor(job)
	subCache.entries[subCache.key(ref, DefaultSubtitleLanguage, videoHash)] = ports.SubtitleCacheEntry{URL: "https://cache.example/a.srt", Synced: true}

	e := New(reg, nil)
	e.SubtitleCache = subCache
	e.SubtitleProvider = fakeSubtitleProvider{err: domain.ErrNotFound} // must not be called

	e.Run(context.Background(), job.ID, ref, "user1")

	updated, _ := reg.Get(job.ID)
	if len(updated.Subtitles) != 1 || updated.Subtitles[0].URL != "https://cache.example/a.srt" {
		t.Fatalf("Subtitles = %+v", updated.Subtitles)
	}
}

func TestSubtitlesFallsBackToEmbeddedOnProviderFailure(t *testing.T) {
	reg := registry.New()
	ref := domain.ContentRef{ExternalID: "show1", Kind: domain.KindTV}
	job := reg.Create(ref, "user1", false)
	idx := 2
	job, _ = reg.Update(job.ID, func(j *domain.Job) {
		j.Status = domain.StatusCompleted
		j.StreamURL = "https://cdn.example/movie.mkv"
		j.RecommendedSubtitleIndex = &idx
	})

	e := New(reg, nil)
	e.SubtitleProvider = failingSubtitleProvider{}

	e.Run(context.Background(), job.ID, ref, "user1")

	updated, _ := reg.Get(job.ID)
	if len(updated.Subtitles) != 1 {
		t.Fatalf("expected embedded fallback subtitle, got %+v", updated.Subtitles)
	}
	if !strings.Contains(updated.Subtitles[0].URL, "subtitle=2") {
		t.Fatalf("URL = %q, want embedded track reference", updated.Subtitles[0].URL)
	}
	if !updated.Subtitles[0].Synced {
		t.Fatal("embedded subtitle should be marked synced")
	}
}
