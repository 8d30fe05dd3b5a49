package prefetch

import (
	"context"
	"testing"
	"time"

	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/cache"
	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/domain"
	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/domain/ports"
	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/engine"
	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/registry"
	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/resolver"
	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/validator"
)

type noSourceZurg struct{}

func (noSourceZurg) Search(ctx context.Context, ref domain.ContentRef) ([]domain.CandidateSource, error) {
	return nil, nil
}
func (noSourceZurg) Resolve(ctx context.Context, filePath string) (string, string, error) {
	return "", "", domain.ErrUnsupported
}

type noSourceProwlarr struct{}

func (noSourceProwlarr) Search(ctx context.Context, ref domain.ContentRef) (<-chan []domain.CandidateSource, error) {
	ch := make(chan []domain.CandidateSource)
	close(ch)
	return ch, nil
}

type fakeProber struct{}

func (fakeProber) Probe(ctx context.Context, url string) (domain.MediaInfo, error) {
	return domain.MediaInfo{}, domain.ErrUnsupported
}

type nextResolverFunc func(ctx context.Context, ref domain.ContentRef, mode ports.NextMode) (domain.ContentRef, bool, error)

func (f nextResolverFunc) Next(ctx context.Context, ref domain.ContentRef, mode ports.NextMode) (domain.ContentRef, bool, error) {
	return f(ctx, ref, mode)
}

func season(n int) *int { return &n }

func newTestEngine() *engine.Engine {
	reg := registry.New()
	linkCache := cache.New(nil, func(ctx context.Context, url string) bool { return false })
	res := resolver.New(noSourceZurg{}, noSourceProwlarr{}, nil)
	val := validator.New(fakeProber{}, validator.Config{})
	eng := engine.New(reg, linkCache, res, val, nil, noSourceZurg{}, nil, "/tmp/processed", nil)
	eng.Timeouts.FirstSourcesWait = 5 * time.Millisecond
	eng.Timeouts.FirstSourcesSlowWait = 5 * time.Millisecond
	eng.Timeouts.JobMaxDuration = 200 * time.Millisecond
	return eng
}

func TestPrefetchNextStartsNewJobWhenNoneActive(t *testing.T) {
	eng := newTestEngine()
	current := domain.ContentRef{ExternalID: "show1", Kind: domain.KindTV, Season: season(1), Episode: season(1)}
	next := domain.ContentRef{ExternalID: "show1", Kind: domain.KindTV, Season: season(1), Episode: season(2)}

	resolveNext := nextResolverFunc(func(ctx context.Context, ref domain.ContentRef, mode ports.NextMode) (domain.ContentRef, bool, error) {
		return next, true, nil
	})

	p := New(eng, eng.Registry, resolveNext, nil)
	jobID, err := p.PrefetchNext(context.Background(), current, "user1", ports.NextSequential)
	if err != nil {
		t.Fatalf("PrefetchNext: %v", err)
	}
	if jobID == "" {
		t.Fatal("expected a job id")
	}

	job, ok := eng.Registry.Get(jobID)
	if !ok {
		t.Fatal("expected job to exist in registry")
	}
	if !job.IsPrefetch {
		t.Fatal("expected job to be marked as prefetch")
	}
	if job.ContentRef.CacheKey() != next.CacheKey() {
		t.Fatalf("job content ref = %v, want %v", job.ContentRef, next)
	}
}

func TestPrefetchNextDedupsAgainstActiveJob(t *testing.T) {
	eng := newTestEngine()
	current := domain.ContentRef{ExternalID: "show1", Kind: domain.KindTV, Season: season(1), Episode: season(1)}
	next := domain.ContentRef{ExternalID: "show1", Kind: domain.KindTV, Season: season(1), Episode: season(2)}

	existing := eng.Registry.Create(next, "user1", true)

	resolveNext := nextResolverFunc(func(ctx context.Context, ref domain.ContentRef, mode ports.NextMode) (domain.ContentRef, bool, error) {
		return next, true, nil
	})

	p := New(eng, eng.Registry, resolveNext, nil)
	jobID, err := p.PrefetchNext(context.Background(), current, "user1", ports.NextSequential)
	if err != nil {
		t.Fatalf("PrefetchNext: %v", err)
	}
	if jobID != existing.ID {
		t.Fatalf("jobID = %s, want dedup to existing %s", jobID, existing.ID)
	}
}

func TestPrefetchNextReturnsNotFoundWhenNoNextEpisode(t *testing.T) {
	eng := newTestEngine()
	current := domain.ContentRef{ExternalID: "movie1", Kind: domain.KindMovie}

	resolveNext := nextResolverFunc(func(ctx context.Context, ref domain.ContentRef, mode ports.NextMode) (domain.ContentRef, bool, error) {
		return domain.ContentRef{}, false, nil
	})

	p := New(eng, eng.Registry, resolveNext, nil)
	_, err := p.PrefetchNext(context.Background(), current, "user1", ports.NextSequential)
	if err != domain.ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestPromoteClearsPrefetchFlagAndChainsNextEpisode(t *testing.T) {
	eng := newTestEngine()
	ref := domain.ContentRef{ExternalID: "show1", Kind: domain.KindTV, Season: season(1), Episode: season(1)}
	job := eng.Registry.Create(ref, "user1", true)

	next := domain.ContentRef{ExternalID: "show1", Kind: domain.KindTV, Season: season(1), Episode: season(2)}
	resolveNext := nextResolverFunc(func(ctx context.Context, r domain.ContentRef, mode ports.NextMode) (domain.ContentRef, bool, error) {
		return next, true, nil
	})

	p := New(eng, eng.Registry, resolveNext, nil)
	updated, err := p.Promote(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if updated.IsPrefetch {
		t.Fatal("expected prefetch flag cleared")
	}
	if updated.NextEpisode == nil || updated.NextEpisode.ContentRef.CacheKey() != next.CacheKey() {
		t.Fatalf("NextEpisode = %v, want %v", updated.NextEpisode, next)
	}
}
