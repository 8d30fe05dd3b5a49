package resolver

import (
	"context"
	"testing"

	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/domain"
	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/domain/ports"
)

type fakeZurg struct {
	candidates []domain.CandidateSource
}

func (f *fakeZurg) Search(ctx context.Context, ref domain.ContentRef) ([]domain.CandidateSource, error) {
	return f.candidates, nil
}

func (f *fakeZurg) Resolve(ctx context.Context, filePath string) (string, string, error) {
	return "", "", domain.ErrUnsupported
}

type fakeProwlarr struct {
	batches [][]domain.CandidateSource
}

func (f *fakeProwlarr) Search(ctx context.Context, ref domain.ContentRef) (<-chan []domain.CandidateSource, error) {
	ch := make(chan []domain.CandidateSource, len(f.batches))
	for _, b := range f.batches {
		ch <- b
	}
	close(ch)
	return ch, nil
}

func TestResolveMergesBothProvidersAndSignalsCompletion(t *testing.T) {
	zurg := &fakeZurg{candidates: []domain.CandidateSource{
		{Provenance: domain.ProvenanceZurg, StableKey: "/lib/a.mkv", Score: 10},
	}}
	prowlarr := &fakeProwlarr{batches: [][]domain.CandidateSource{
		{{Provenance: domain.ProvenanceProwlarr, StableKey: "hash-b", Score: 20}},
	}}

	var pushes [][]domain.CandidateSource
	var completeCalls int

	r := New(zurg, prowlarr, nil)
	r.Resolve(context.Background(), domain.ContentRef{ExternalID: "550", Kind: domain.KindMovie}, 0, domain.NewExcludedSet(), func(batch []domain.CandidateSource, isComplete bool) {
		if isComplete {
			completeCalls++
			return
		}
		pushes = append(pushes, batch)
	})

	if completeCalls != 1 {
		t.Fatalf("completion pushed %d times, want exactly 1", completeCalls)
	}
	total := 0
	for _, b := range pushes {
		total += len(b)
	}
	if total != 2 {
		t.Fatalf("pushed %d candidates total, want 2", total)
	}
}

func TestResolveFiltersExcludedKeys(t *testing.T) {
	zurg := &fakeZurg{candidates: []domain.CandidateSource{
		{Provenance: domain.ProvenanceZurg, StableKey: "/lib/a.mkv", Score: 10},
		{Provenance: domain.ProvenanceZurg, StableKey: "/lib/b.mkv", Score: 5},
	}}
	excluded := domain.NewExcludedSet()
	excluded.Add(domain.CandidateSource{Provenance: domain.ProvenanceZurg, StableKey: "/lib/a.mkv"})

	var pushed []domain.CandidateSource
	r := New(zurg, nil, nil)
	r.Resolve(context.Background(), domain.ContentRef{ExternalID: "1", Kind: domain.KindMovie}, 0, excluded, func(batch []domain.CandidateSource, isComplete bool) {
		pushed = append(pushed, batch...)
	})

	if len(pushed) != 1 || pushed[0].StableKey != "/lib/b.mkv" {
		t.Fatalf("pushed = %+v, want only /lib/b.mkv", pushed)
	}
}

func TestResolveMarksOverBandwidth(t *testing.T) {
	zurg := &fakeZurg{candidates: []domain.CandidateSource{
		{Provenance: domain.ProvenanceZurg, StableKey: "/lib/4k.mkv", ResolutionHeight: 2160, Score: 10},
	}}
	var pushed []domain.CandidateSource
	r := New(zurg, nil, nil)
	r.Resolve(context.Background(), domain.ContentRef{ExternalID: "1", Kind: domain.KindMovie}, 5, domain.NewExcludedSet(), func(batch []domain.CandidateSource, isComplete bool) {
		pushed = append(pushed, batch...)
	})

	if len(pushed) != 1 || !pushed[0].OverBandwidth {
		t.Fatalf("expected candidate to be flagged overBandwidth, got %+v", pushed)
	}
}

func TestResolveSurvivesSingleProviderFailure(t *testing.T) {
	var failing ports.ProwlarrSearch = failingProwlarr{}
	zurg := &fakeZurg{candidates: []domain.CandidateSource{
		{Provenance: domain.ProvenanceZurg, StableKey: "/lib/a.mkv", Score: 10},
	}}

	var pushed []domain.CandidateSource
	completion := false
	r := New(zurg, failing, nil)
	r.Resolve(context.Background(), domain.ContentRef{ExternalID: "1", Kind: domain.KindMovie}, 0, domain.NewExcludedSet(), func(batch []domain.CandidateSource, isComplete bool) {
		if isComplete {
			completion = true
			return
		}
		pushed = append(pushed, batch...)
	})

	if !completion {
		t.Fatalf("expected completion signal even though one provider failed")
	}
	if len(pushed) != 1 {
		t.Fatalf("expected surviving provider's candidates, got %+v", pushed)
	}
}

type failingProwlarr struct{}

func (failingProwlarr) Search(ctx context.Context, ref domain.ContentRef) (<-chan []domain.CandidateSource, error) {
	return nil, context.DeadlineExceeded
}
