package registry

import (
	"testing"
	"time"

	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/domain"
)

func TestUpdateNoopAfterTerminal(t *testing.T) {
	r := New()
	job := r.Create(domain.ContentRef{ExternalID: "550", Kind: domain.KindMovie}, "user-1", false)

	if _, err := r.Update(job.ID, func(j *domain.Job) {
		j.Status = domain.StatusCompleted
		j.StreamURL = "https://cdn.example/first"
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := r.Update(job.ID, func(j *domain.Job) {
		j.Status = domain.StatusError
		j.StreamURL = "https://cdn.example/orphan"
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	if got.Status != domain.StatusCompleted {
		t.Fatalf("status = %q, want completed (orphan write must be a no-op)", got.Status)
	}
	if got.StreamURL != "https://cdn.example/first" {
		t.Fatalf("streamUrl = %q, want unchanged", got.StreamURL)
	}
}

func TestAttemptSourceDedupsAndGrows(t *testing.T) {
	r := New()
	job := r.Create(domain.ContentRef{ExternalID: "278", Kind: domain.KindMovie}, "user-1", false)

	a := domain.AttemptedSource{StableKey: "hashA", Provenance: domain.ProvenanceProwlarr}
	b := domain.AttemptedSource{StableKey: "hashB", Provenance: domain.ProvenanceZurg}

	if _, err := r.AttemptSource(job.ID, a); err != nil {
		t.Fatalf("attempt a: %v", err)
	}
	if _, err := r.AttemptSource(job.ID, a); err != nil {
		t.Fatalf("attempt a again: %v", err)
	}
	got, err := r.AttemptSource(job.ID, b)
	if err != nil {
		t.Fatalf("attempt b: %v", err)
	}

	if len(got.AttemptedSources) != 2 {
		t.Fatalf("attemptedSources = %d entries, want 2 (no duplicate for repeated key)", len(got.AttemptedSources))
	}
}

func TestSweepMovesTerminalJobsToHistory(t *testing.T) {
	r := New()
	r.retention = time.Millisecond
	job := r.Create(domain.ContentRef{ExternalID: "1", Kind: domain.KindMovie}, "user-1", false)
	if _, err := r.Update(job.ID, func(j *domain.Job) { j.Status = domain.StatusCompleted; j.StreamURL = "u" }); err != nil {
		t.Fatalf("update: %v", err)
	}

	time.Sleep(2 * time.Millisecond)
	r.Sweep(time.Now())

	if _, ok := r.Get(job.ID); !ok {
		t.Fatalf("expected job still retrievable from history after sweep")
	}
	active := r.GetAllActive()
	for _, a := range active {
		if a.ID == job.ID {
			t.Fatalf("job should have been moved out of the active map")
		}
	}
}

func TestFindActivePrefetchReturnsExistingJob(t *testing.T) {
	r := New()
	ref := domain.ContentRef{ExternalID: "42", Kind: domain.KindMovie}
	job := r.Create(ref, "user-1", true)

	got, ok := r.FindActivePrefetch("user-1", ref)
	if !ok {
		t.Fatalf("expected to find active prefetch job")
	}
	if got.ID != job.ID {
		t.Fatalf("jobId = %s, want %s", got.ID, job.ID)
	}
}
