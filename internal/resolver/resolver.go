// Package resolver fans a content lookup out to the Zurg catalog and the
// Prowlarr indexer search concurrently, streaming newly discovered
// candidates to a push callback as they arrive.
package resolver

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/domain"
	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/domain/ports"
)

// maxConcurrentProviders caps how many provider queries run simultaneously;
// today there are exactly two (zurg, prowlarr) but the cap protects against
// a future provider list the way the search-service aggregator does.
const maxConcurrentProviders = 10

// PushFunc receives a batch of freshly-discovered, non-excluded candidates.
// isComplete is true exactly once, on the final call, once every provider
// has finished (regardless of whether any candidates were found).
type PushFunc func(batch []domain.CandidateSource, isComplete bool)

// Resolver fans a single content lookup out to Zurg and Prowlarr.
type Resolver struct {
	Zurg     ports.ZurgCatalog
	Prowlarr ports.ProwlarrSearch
	Logger   *slog.Logger
}

func New(zurg ports.ZurgCatalog, prowlarr ports.ProwlarrSearch, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{Zurg: zurg, Prowlarr: prowlarr, Logger: logger}
}

// Resolve runs both providers concurrently, filters excluded stable keys,
// marks over-ceiling candidates, and pushes batches as they arrive. It
// returns once both providers have finished; push([], true) is guaranteed
// to be called exactly once before Resolve returns, even if both providers
// fail.
func (r *Resolver) Resolve(ctx context.Context, ref domain.ContentRef, bandwidthCeilingMbps float64, excluded domain.ExcludedSet, push PushFunc) {
	sem := semaphore.NewWeighted(maxConcurrentProviders)
	var wg sync.WaitGroup
	var pushMu sync.Mutex

	filterAndPush := func(batch []domain.CandidateSource) {
		if len(batch) == 0 {
			return
		}
		filtered := make([]domain.CandidateSource, 0, len(batch))
		for _, c := range batch {
			if excluded.Contains(c) {
				continue
			}
			filtered = append(filtered, markOverBandwidth(c, bandwidthCeilingMbps))
		}
		if len(filtered) == 0 {
			return
		}
		pushMu.Lock()
		push(filtered, false)
		pushMu.Unlock()
	}

	if r.Zurg != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer sem.Release(1)

			var candidates []domain.CandidateSource
			err := RetryWithBackoff(ctx, DefaultRetryConfig(), func() error {
				var searchErr error
				candidates, searchErr = r.Zurg.Search(ctx, ref)
				return searchErr
			})
			if err != nil {
				r.Logger.Warn("zurg search failed", slog.String("error", err.Error()))
				return
			}
			filterAndPush(candidates)
		}()
	}

	if r.Prowlarr != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer sem.Release(1)

			stream, err := r.Prowlarr.Search(ctx, ref)
			if err != nil {
				r.Logger.Warn("prowlarr search failed", slog.String("error", err.Error()))
				return
			}
			for batch := range stream {
				filterAndPush(batch)
			}
		}()
	}

	wg.Wait()

	pushMu.Lock()
	push(nil, true)
	pushMu.Unlock()
}

// markOverBandwidth flags a candidate whose quality implies a bitrate over
// the user's measured ceiling. Height-based heuristic: the engine ranks
// over-ceiling candidates after the in-budget set but still tries them.
func markOverBandwidth(c domain.CandidateSource, ceilingMbps float64) domain.CandidateSource {
	if ceilingMbps <= 0 {
		return c
	}
	estimatedMbps := estimateBitrateMbps(c.ResolutionHeight)
	if estimatedMbps > ceilingMbps {
		c.OverBandwidth = true
	}
	return c
}

// estimateBitrateMbps is a coarse resolution -> bitrate table used only to
// decide ordering preference, never to reject a candidate outright.
func estimateBitrateMbps(height int) float64 {
	switch {
	case height >= 2160:
		return 25
	case height >= 1440:
		return 16
	case height >= 1080:
		return 8
	case height >= 720:
		return 5
	default:
		return 2.5
	}
}
