// Package engine implements JobEngine, the orchestration pipeline that
// turns a ContentRef into a playable stream URL: cache probe, multi-provider
// resolve, adaptive per-candidate promotion, container validation, optional
// remux, and cache write — the heart of the system.
package engine

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/cache"
	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/domain"
	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/domain/ports"
	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/queue"
	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/registry"
	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/resolver"
	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/validator"
)

// Timeouts collects every tunable deadline in the pipeline.
type Timeouts struct {
	FirstSourcesWait     time.Duration
	FirstSourcesSlowWait time.Duration
	JobMaxDuration       time.Duration
	DeadTorrentTimeout   time.Duration
	SlowStartTimeout     time.Duration
	ActiveStartTimeout   time.Duration
	StallTimeout         time.Duration
	StatusPollInterval   time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		FirstSourcesWait:     15 * time.Second,
		FirstSourcesSlowWait: 35 * time.Second,
		JobMaxDuration:       5 * time.Minute,
		DeadTorrentTimeout:   10 * time.Second,
		SlowStartTimeout:     12 * time.Second,
		ActiveStartTimeout:   30 * time.Second,
		StallTimeout:         60 * time.Second,
		StatusPollInterval:   1 * time.Second,
	}
}

// RangeProxyURLPrefix marks a streamUrl as an internal RangeProxy endpoint
// rather than a direct debrid CDN URL; such URLs are never cache-written
// never written back to the link cache.
const RangeProxyURLPrefix = "/vod/stream/"

// ProcessedFileURL returns the client-facing endpoint for a job's remuxed
// output file.
func ProcessedFileURL(jobID string) string {
	return "/vod/stream-processed/" + jobID
}

// StartOpts carries the optional parameters to Start.
type StartOpts struct {
	Prefetch             bool
	Excluded             domain.ExcludedSet
	BandwidthCeilingMbps float64
	BandwidthMeasuredAt  *time.Time
	PreferredLanguage    string
}

// Engine wires every collaborator the pipeline needs.
type Engine struct {
	Registry  *registry.Registry
	Cache     *cache.LinkCache
	Resolver  *resolver.Resolver
	Validator *validator.Validator
	Remuxer   ports.Remuxer
	Zurg      ports.ZurgCatalog
	Debrid    ports.DebridClient
	Enrich    func(ctx context.Context, jobID string, ref domain.ContentRef, userRef string)

	ProcessedFileRoot string
	Timeouts          Timeouts
	Logger            *slog.Logger
}

func New(reg *registry.Registry, linkCache *cache.LinkCache, res *resolver.Resolver, val *validator.Validator, remuxer ports.Remuxer, zurg ports.ZurgCatalog, debrid ports.DebridClient, processedFileRoot string, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		Registry:          reg,
		Cache:             linkCache,
		Resolver:          res,
		Validator:         val,
		Remuxer:           remuxer,
		Zurg:              zurg,
		Debrid:            debrid,
		ProcessedFileRoot: processedFileRoot,
		Timeouts:          DefaultTimeouts(),
		Logger:            logger,
	}
}

// Start creates a job and begins its pipeline in the background, returning
// immediately with the new job's id.
func (e *Engine) Start(ref domain.ContentRef, userRef string, opts StartOpts) string {
	job := e.Registry.Create(ref, userRef, opts.Prefetch)
	if opts.BandwidthMeasuredAt != nil {
		e.Registry.Update(job.ID, func(j *domain.Job) {
			j.BandwidthMeasuredAt = opts.BandwidthMeasuredAt
		})
	}
	go e.run(job.ID, ref, userRef, opts)
	return job.ID
}

// Progress returns a read-only snapshot of a job.
func (e *Engine) Progress(jobID string) (domain.Job, bool) {
	return e.Registry.Get(jobID)
}

// Cancel removes a job from the live registry; any in-flight work for it is
// allowed to finish and its results are simply dropped on arrival because
// the registry no longer knows the job (Update returns ErrNotFound).
func (e *Engine) Cancel(jobID string) {
	e.Registry.Delete(jobID)
}

// ReportBad excludes the job's current stream and every attempted source,
// then starts a fresh job for the same content.
func (e *Engine) ReportBad(jobID string) (string, error) {
	job, ok := e.Registry.Get(jobID)
	if !ok {
		return "", domain.ErrNotFound
	}
	excluded := domain.NewExcludedSet()
	for _, a := range job.AttemptedSources {
		excluded.Add(domain.CandidateSource{Provenance: a.Provenance, StableKey: a.StableKey})
	}
	return e.Start(job.ContentRef, job.UserRef, StartOpts{Excluded: excluded}), nil
}

// Promote clears a job's prefetch flag so it surfaces in user-facing
// "continue watching" aggregations, returning the updated snapshot.
func (e *Engine) Promote(jobID string) (domain.Job, error) {
	return e.Registry.Update(jobID, func(j *domain.Job) {
		j.IsPrefetch = false
	})
}

func (e *Engine) run(jobID string, ref domain.ContentRef, userRef string, opts StartOpts) {
	ctx, cancel := context.WithTimeout(context.Background(), e.Timeouts.JobMaxDuration)
	defer cancel()

	excluded := opts.Excluded
	if excluded.Hashes == nil {
		excluded = domain.NewExcludedSet()
	}

	if e.tryCacheHit(ctx, jobID, ref, opts) {
		e.runEnrichers(ref, userRef, jobID)
		return
	}

	q := queue.New()
	go e.Resolver.Resolve(ctx, ref, opts.BandwidthCeilingMbps, excluded, func(batch []domain.CandidateSource, isComplete bool) {
		q.Push(batch, isComplete)
	})

	if !e.awaitFirstCandidates(ctx, q) {
		e.fail(jobID, domain.KindNoSources)
		return
	}

	lastKind := domain.KindAllSourcesExhausted
	for {
		cand, searchDone := q.Pop(ctx)
		if searchDone {
			break
		}

		e.Registry.Update(jobID, func(j *domain.Job) {
			j.Status = domain.StatusSearching
			j.HumanMessage = fmt.Sprintf("Trying %s source (%s)...", cand.Provenance, cand.QualityLabel)
		})
		e.Registry.AttemptSource(jobID, domain.AttemptedSource{
			StableKey:    cand.StableKey,
			Provenance:   cand.Provenance,
			QualityLabel: cand.QualityLabel,
		})

		streamURL, fileName, isDirect, err := e.promote(ctx, jobID, cand)
		if err != nil {
			lastKind = e.recordAttemptFailure(jobID, cand, err)
			continue
		}

		plan, err := e.Validator.Validate(ctx, streamURL, ref.PlatformHint, opts.PreferredLanguage)
		if err != nil {
			lastKind = e.recordAttemptFailure(jobID, cand, err)
			continue
		}
		if !plan.Accepted {
			lastKind = plan.Reason
			e.recordAttemptReason(jobID, cand, plan.Reason)
			continue
		}

		e.Registry.Update(jobID, func(j *domain.Job) {
			j.Status = domain.StatusProcessing
			j.HumanMessage = "Preparing stream..."
		})
		finalURL, processedPath, err := e.applyRemuxIfNeeded(ctx, jobID, streamURL, ref.PlatformHint, plan)
		if err != nil {
			lastKind = e.recordAttemptFailure(jobID, cand, err)
			continue
		}

		// Only a genuine direct debrid CDN URL that survived unremuxed is
		// cache-worthy; a RangeProxy fallback or a processed-file URL is
		// internal to this deployment and never belongs in the shared cache.
		if isDirect && finalURL == streamURL {
			e.Cache.Insert(ctx, domain.LinkCacheEntry{
				ContentKey:       ref.CacheKey(),
				StreamURL:        streamURL,
				FileName:         fileName,
				ResolutionHeight: cand.ResolutionHeight,
				SizeBytes:        cand.SizeBytes,
			})
		}

		e.complete(jobID, finalURL, fileName, cand, plan, processedPath)
		e.runEnrichers(ref, userRef, jobID)
		return
	}

	e.fail(jobID, lastKind)
}

// tryCacheHit looks up LinkCache and, on a live hit that also validates,
// completes the job directly.
func (e *Engine) tryCacheHit(ctx context.Context, jobID string, ref domain.ContentRef, opts StartOpts) bool {
	entry, ok := e.Cache.Lookup(ctx, ref.CacheKey())
	if !ok {
		return false
	}
	plan, err := e.Validator.Validate(ctx, entry.StreamURL, ref.PlatformHint, opts.PreferredLanguage)
	if err != nil || !plan.Accepted {
		return false
	}

	finalURL, processedPath, err := e.applyRemuxIfNeeded(ctx, jobID, entry.StreamURL, ref.PlatformHint, plan)
	if err != nil {
		return false
	}

	e.Registry.Update(jobID, func(j *domain.Job) {
		j.Status = domain.StatusCompleted
		j.StreamURL = finalURL
		j.FileName = entry.FileName
		j.Quality = qualityLabel(entry.ResolutionHeight)
		j.ProgressPercent = 100
		j.ProcessedFilePath = processedPath
		j.EmbeddedSubtitleTracks = plan.EmbeddedSubtitleTracks
		j.RecommendedSubtitleIndex = plan.RecommendedSubtitleIndex
	})
	return true
}

// awaitFirstCandidates blocks up to FirstSourcesWait, then FirstSourcesSlowWait,
// for the queue to receive at least one candidate. It polls
// Len/Complete directly rather than Pop, since Pop would consume (and mark
// tried) the very first candidate it finds.
func (e *Engine) awaitFirstCandidates(ctx context.Context, q *queue.ScoredQueue) bool {
	if ok, done := pollForCandidates(ctx, q, e.Timeouts.FirstSourcesWait); ok {
		return true
	} else if done {
		return false
	}

	ok, _ := pollForCandidates(ctx, q, e.Timeouts.FirstSourcesSlowWait)
	return ok
}

// pollForCandidates polls the queue until it has an untried candidate, the
// search completes with none available, the deadline elapses, or ctx is
// done. done is true when the search itself completed empty-handed or ctx
// is done, not merely when the deadline expired.
func pollForCandidates(ctx context.Context, q *queue.ScoredQueue, deadline time.Duration) (found bool, done bool) {
	timer := time.NewTimer(deadline)
	defer timer.Stop()
	ticker := time.NewTicker(queue.PollInterval)
	defer ticker.Stop()

	for {
		if q.Len() > 0 {
			return true, false
		}
		if q.Complete() {
			return false, true
		}
		select {
		case <-ctx.Done():
			return false, true
		case <-timer.C:
			return false, false
		case <-ticker.C:
		}
	}
}

// promote turns a candidate into a direct or proxied stream URL. The bool
// return is true only when the URL is a genuine direct debrid CDN link,
// never an internal RangeProxy fallback (cache-write guard).
func (e *Engine) promote(ctx context.Context, jobID string, cand domain.CandidateSource) (string, string, bool, error) {
	switch cand.Provenance {
	case domain.ProvenanceZurg:
		url, fileName, err := e.Zurg.Resolve(ctx, cand.StableKey)
		if err != nil {
			return e.rangeProxyURL(cand.StableKey), fileNameFromPath(cand.StableKey), false, nil
		}
		return url, fileName, true, nil
	case domain.ProvenanceProwlarr:
		url, fileName, err := e.promoteViaDebrid(ctx, jobID, cand)
		return url, fileName, true, err
	default:
		return "", "", false, domain.ErrUnsupported
	}
}

func (e *Engine) rangeProxyURL(filePath string) string {
	return RangeProxyURLPrefix + base64.URLEncoding.EncodeToString([]byte(filePath))
}

// promoteViaDebrid hands the magnet to the debrid client and drives it with
// the adaptive timeout policy below.
func (e *Engine) promoteViaDebrid(ctx context.Context, jobID string, cand domain.CandidateSource) (string, string, error) {
	handle, err := e.Debrid.AddMagnet(ctx, cand.MagnetOrPath)
	if err != nil {
		return "", "", err
	}

	e.Registry.Update(jobID, func(j *domain.Job) {
		j.Status = domain.StatusDownloading
		j.ProgressPercent = 0
		j.HumanMessage = fmt.Sprintf("Downloading %s source (%s)...", cand.Provenance, cand.QualityLabel)
	})

	pollInterval := e.Timeouts.StatusPollInterval
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	lastProgressTime := time.Now()
	lastProgress := 0.0

	for {
		select {
		case <-ctx.Done():
			e.cleanupOrphan(handle)
			return "", "", ctx.Err()
		case <-ticker.C:
		}

		status, err := e.Debrid.Status(ctx, handle)
		if err != nil {
			e.cleanupOrphan(handle)
			return "", "", err
		}

		switch status.State {
		case ports.DebridStateDMCA:
			e.cleanupOrphan(handle)
			return "", "", domain.ErrSourceDMCA
		case ports.DebridStateError:
			e.cleanupOrphan(handle)
			return "", "", domain.ErrSourceDead
		case ports.DebridStateDownloaded:
			return status.DirectURL, status.FileName, nil
		}

		e.Registry.Update(jobID, func(j *domain.Job) {
			j.Status = domain.StatusDownloading
			j.ProgressPercent = int(status.Progress * 100)
		})

		if status.Progress > lastProgress {
			lastProgress = status.Progress
			lastProgressTime = time.Now()
		}
		stuck := time.Since(lastProgressTime)

		hasActivity := status.Seeders > 0 || status.SpeedBytes > 0
		switch {
		case status.State == ports.DebridStateDownloading && !hasActivity && stuck > e.Timeouts.DeadTorrentTimeout:
			e.cleanupOrphan(handle)
			return "", "", domain.ErrSourceDead
		case status.State == ports.DebridStateMagnetConversion && stuck > e.Timeouts.DeadTorrentTimeout:
			e.cleanupOrphan(handle)
			return "", "", domain.ErrSourceDead
		case lastProgress < 0.01 && !hasActivity && stuck > e.Timeouts.SlowStartTimeout:
			e.cleanupOrphan(handle)
			return "", "", domain.ErrSourceTimeout
		case lastProgress < 0.01 && hasActivity && stuck > e.Timeouts.ActiveStartTimeout:
			e.cleanupOrphan(handle)
			return "", "", domain.ErrSourceTimeout
		case stuck > e.Timeouts.StallTimeout:
			e.cleanupOrphan(handle)
			return "", "", domain.ErrSourceTimeout
		}
	}
}

// cleanupOrphan fires a best-effort cancel in the background; its result is
// never observed because the engine has already moved on to the next
// candidate. Status updates from the orphan are dropped.
func (e *Engine) cleanupOrphan(handle ports.TorrentHandle) {
	go func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Debrid.Cancel(cleanupCtx, handle); err != nil {
			e.Logger.Warn("orphan torrent cleanup failed", slog.String("error", err.Error()))
		}
	}()
}

// applyRemuxIfNeeded runs the Remuxer when the validator decided the
// container or audio track needs it.
func (e *Engine) applyRemuxIfNeeded(ctx context.Context, jobID, sourceURL string, platform domain.PlatformHint, plan domain.ValidationPlan) (finalURL, processedPath string, err error) {
	needsRemux := (platform == domain.PlatformWeb && plan.NeedsContainerRemux) || plan.AudioProcessing != domain.AudioProcessingNone
	if !needsRemux {
		return sourceURL, "", nil
	}

	outputDir := e.ProcessedFileRoot + "/" + jobID
	localPath, err := e.Remuxer.Remux(ctx, ports.RemuxPlan{
		SourceURL:        sourceURL,
		AudioProcessing:  plan.AudioProcessing,
		ChosenAudioIndex: plan.ChosenAudioIndex,
		TranscodeTarget:  plan.TranscodeTarget,
		HEVCTag:          plan.HEVCTag,
		SubtitleCleanup:  plan.NeedsSubtitleCleanup,
		OutputDir:        outputDir,
	})
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", domain.ErrRemuxFailed, err)
	}
	return ProcessedFileURL(jobID), localPath, nil
}

func (e *Engine) complete(jobID, streamURL, fileName string, cand domain.CandidateSource, plan domain.ValidationPlan, processedPath string) {
	e.Registry.Update(jobID, func(j *domain.Job) {
		j.Status = domain.StatusCompleted
		j.StreamURL = streamURL
		j.FileName = fileName
		j.Quality = cand.QualityLabel
		j.ProgressPercent = 100
		j.HumanMessage = "Ready to play."
		j.UsedOverBandwidthFallback = cand.OverBandwidth
		j.ProcessedFilePath = processedPath
		j.EmbeddedSubtitleTracks = plan.EmbeddedSubtitleTracks
		j.RecommendedSubtitleIndex = plan.RecommendedSubtitleIndex
	})
}

func (e *Engine) fail(jobID string, kind domain.ErrorKind) {
	e.Registry.Update(jobID, func(j *domain.Job) {
		j.Status = domain.StatusError
		j.ErrorKind = kind
	})
}

func (e *Engine) recordAttemptFailure(jobID string, cand domain.CandidateSource, err error) domain.ErrorKind {
	kind := domain.KindFromError(err)
	e.recordAttemptReason(jobID, cand, kind)
	return kind
}

func (e *Engine) recordAttemptReason(jobID string, cand domain.CandidateSource, kind domain.ErrorKind) {
	e.Registry.Update(jobID, func(j *domain.Job) {
		for i := range j.AttemptedSources {
			if j.AttemptedSources[i].StableKey == cand.StableKey {
				j.AttemptedSources[i].Reason = kind
				return
			}
		}
	})
}

func (e *Engine) runEnrichers(ref domain.ContentRef, userRef, jobID string) {
	if e.Enrich == nil {
		return
	}
	go e.Enrich(context.Background(), jobID, ref, userRef)
}

func qualityLabel(height int) string {
	switch {
	case height >= 2160:
		return "4K"
	case height >= 1440:
		return "1440p"
	case height >= 1080:
		return "1080p"
	case height >= 720:
		return "720p"
	case height > 0:
		return fmt.Sprintf("%dp", height)
	default:
		return ""
	}
}

func fileNameFromPath(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}
