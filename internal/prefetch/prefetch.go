// Package prefetch implements Prefetcher: speculative job creation for the
// next episode (or a recommended movie), deduplicated against any prefetch
// already in flight for the same (user, contentRef), plus promotion handoff
// that chains autoplay with a freshly-resolved next-episode hint.
package prefetch

import (
	"context"
	"log/slog"

	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/domain"
	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/domain/ports"
	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/engine"
	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/registry"
)

// Prefetcher wraps the same Engine/Registry the main VOD path uses — a
// prefetch job is an ordinary job with isPrefetch set, not a separate
// pipeline.
type Prefetcher struct {
	Engine       *engine.Engine
	Registry     *registry.Registry
	NextResolver ports.NextEpisodeResolver
	Logger       *slog.Logger
}

func New(eng *engine.Engine, reg *registry.Registry, next ports.NextEpisodeResolver, logger *slog.Logger) *Prefetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Prefetcher{Engine: eng, Registry: reg, NextResolver: next, Logger: logger}
}

// PrefetchNext derives the next ContentRef, reuses an in-flight prefetch
// job for the same (user, contentRef) if one exists, and otherwise starts a
// new prefetch job.
func (p *Prefetcher) PrefetchNext(ctx context.Context, currentRef domain.ContentRef, userRef string, mode ports.NextMode) (string, error) {
	nextRef, ok, err := p.NextResolver.Next(ctx, currentRef, mode)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", domain.ErrNotFound
	}

	if job, found := p.Registry.FindActivePrefetch(userRef, nextRef); found {
		return job.ID, nil
	}

	jobID := p.Engine.Start(nextRef, userRef, engine.StartOpts{Prefetch: true})
	return jobID, nil
}

// Promote clears a job's prefetch flag and resolves a fresh nextEpisode
// hint for the new current job, so the client can chain autoplay again
// without a round trip.
func (p *Prefetcher) Promote(ctx context.Context, jobID string) (domain.Job, error) {
	job, err := p.Engine.Promote(jobID)
	if err != nil {
		return domain.Job{}, err
	}

	next, ok, err := p.NextResolver.Next(ctx, job.ContentRef, ports.NextSequential)
	if err != nil {
		p.Logger.Debug("next episode resolve on promote failed", slog.String("error", err.Error()))
		return job, nil
	}
	if !ok {
		return job, nil
	}

	updated, err := p.Registry.Update(jobID, func(j *domain.Job) {
		j.NextEpisode = &domain.NextEpisodeHint{ContentRef: next}
	})
	if err != nil {
		return job, nil
	}
	return updated, nil
}
