// Package registry implements JobRegistry: the process-wide, single-writer-
// per-job map of jobId -> Job, plus a bounded completion-history ring
// buffer for jobs that have gone terminal. This is the sole synchronizer
// for per-job state — every job field write in the system goes
// through Update, which enforces that terminal-state data is never
// overwritten.
package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/domain"
)

// DefaultHistorySize bounds the completion-history ring to 256 entries.
const DefaultHistorySize = 256

// DefaultRetention is how long a terminal job stays in the live map before
// it is moved to history, so a client mid-poll doesn't 404 on a fallback.
const DefaultRetention = 10 * time.Second

type jobEntry struct {
	job       domain.Job
	mu        sync.Mutex // serializes updates to this one job
	terminalAt time.Time
}

// Registry is the JobRegistry. Safe for concurrent use; reads may be
// concurrent, writes to a single job are serialized via its own mutex so
// concurrent jobs never block each other.
type Registry struct {
	mu      sync.RWMutex
	active  map[string]*jobEntry
	history []domain.Job // ring buffer, oldest overwritten first
	histPos int
	histLen int
	histCap int
	retention time.Duration

	subsMu sync.Mutex
	subs   map[string][]chan domain.Job
}

func New() *Registry {
	return &Registry{
		active:    make(map[string]*jobEntry),
		history:   make([]domain.Job, DefaultHistorySize),
		histCap:   DefaultHistorySize,
		retention: DefaultRetention,
		subs:      make(map[string][]chan domain.Job),
	}
}

// Create allocates a new job in the searching state and inserts it into
// the active map.
func (r *Registry) Create(ref domain.ContentRef, userRef string, isPrefetch bool) domain.Job {
	job := domain.Job{
		ID:         uuid.NewString(),
		ContentRef: ref,
		UserRef:    userRef,
		CreatedAt:  time.Now(),
		Status:     domain.StatusSearching,
		IsPrefetch: isPrefetch,
		UpdatedAt:  time.Now(),
	}

	r.mu.Lock()
	r.active[job.ID] = &jobEntry{job: job}
	r.mu.Unlock()
	return job.Snapshot()
}

// Get returns a snapshot of a job, checking the active map then history.
func (r *Registry) Get(id string) (domain.Job, bool) {
	r.mu.RLock()
	entry, ok := r.active[id]
	r.mu.RUnlock()
	if ok {
		entry.mu.Lock()
		snap := entry.job.Snapshot()
		entry.mu.Unlock()
		return snap, true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := 0; i < r.histLen; i++ {
		idx := (r.histPos - 1 - i + r.histCap) % r.histCap
		if r.history[idx].ID == id {
			return r.history[idx].Snapshot(), true
		}
	}
	return domain.Job{}, false
}

// UpdateFunc mutates a job in place; it must not retain the pointer beyond
// the call. Returning without modification is fine (no-op update).
type UpdateFunc func(job *domain.Job)

// Update applies fn to the job under its own lock. If the job has already
// reached a terminal state, fn still runs but any attempt to change
// StreamURL or move Status away from/within a terminal value is reverted
// (ErrTerminal-safe no-op).
// Returns the post-update snapshot, or domain.ErrNotFound if the job is
// unknown (e.g. it was already purged from history).
func (r *Registry) Update(id string, fn UpdateFunc) (domain.Job, error) {
	r.mu.RLock()
	entry, ok := r.active[id]
	r.mu.RUnlock()
	if !ok {
		return domain.Job{}, domain.ErrNotFound
	}

	entry.mu.Lock()
	before := entry.job
	wasTerminal := before.Status.IsTerminal()

	candidate := entry.job
	fn(&candidate)

	if wasTerminal {
		// Terminal jobs accept no further mutation of client-visible
		// outcome fields; background enrichers are the one exception and
		// add fields (subtitles, skip markers, next episode) without
		// touching status/streamUrl, so only guard those two here.
		candidate.Status = before.Status
		candidate.StreamURL = before.StreamURL
	} else if !domain.CanTransition(before.Status, candidate.Status) {
		candidate.Status = before.Status
	}

	candidate.UpdatedAt = time.Now()
	entry.job = candidate
	if candidate.Status.IsTerminal() && entry.terminalAt.IsZero() {
		entry.terminalAt = candidate.UpdatedAt
	}
	snap := candidate.Snapshot()
	entry.mu.Unlock()

	r.publish(snap)
	return snap, nil
}

// AttemptSource appends a new attempted source, guarding against duplicate
// stable keys so AttemptedSources stays non-decreasing with no duplicates.
func (r *Registry) AttemptSource(id string, src domain.AttemptedSource) (domain.Job, error) {
	return r.Update(id, func(j *domain.Job) {
		for _, existing := range j.AttemptedSources {
			if existing.StableKey == src.StableKey {
				return
			}
		}
		j.AttemptedSources = append(j.AttemptedSources, src)
	})
}

// Delete removes a job from the active map without moving it to history;
// used by Cancel, where the client explicitly abandoned the job.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	delete(r.active, id)
	r.mu.Unlock()
}

// GetAllActive returns snapshots of every job in the live map.
func (r *Registry) GetAllActive() []domain.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Job, 0, len(r.active))
	for _, e := range r.active {
		e.mu.Lock()
		out = append(out, e.job.Snapshot())
		e.mu.Unlock()
	}
	return out
}

// GetCompletedHistory returns a snapshot of the completion-history ring,
// newest first.
func (r *Registry) GetCompletedHistory() []domain.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Job, 0, r.histLen)
	for i := 0; i < r.histLen; i++ {
		idx := (r.histPos - 1 - i + r.histCap) % r.histCap
		out = append(out, r.history[idx].Snapshot())
	}
	return out
}

// FindActivePrefetch scans active jobs for a prefetch job matching
// (user, contentRef) in a non-terminal-or-completed state.
func (r *Registry) FindActivePrefetch(userRef string, ref domain.ContentRef) (domain.Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.active {
		e.mu.Lock()
		j := e.job
		e.mu.Unlock()
		if !j.IsPrefetch || j.UserRef != userRef || j.ContentRef.CacheKey() != ref.CacheKey() {
			continue
		}
		switch j.Status {
		case domain.StatusSearching, domain.StatusDownloading, domain.StatusProcessing, domain.StatusCompleted:
			return j.Snapshot(), true
		}
	}
	return domain.Job{}, false
}

// Sweep moves jobs that have been terminal for longer than retention into
// the history ring and removes them from the active map. Call
// periodically (e.g. from a background ticker in cmd/server).
func (r *Registry) Sweep(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.active {
		e.mu.Lock()
		terminal := e.job.Status.IsTerminal()
		terminalAt := e.terminalAt
		job := e.job
		e.mu.Unlock()

		if !terminal || terminalAt.IsZero() || now.Sub(terminalAt) < r.retention {
			continue
		}
		r.history[r.histPos] = job
		r.histPos = (r.histPos + 1) % r.histCap
		if r.histLen < r.histCap {
			r.histLen++
		}
		delete(r.active, id)
	}
}

// Subscribe registers a channel that receives every Update snapshot for the
// given job id, for the websocket progress-push hub. The
// channel is unbuffered-safe: sends are non-blocking and drop on a full
// channel rather than stall the registry writer.
func (r *Registry) Subscribe(id string) <-chan domain.Job {
	ch := make(chan domain.Job, 8)
	r.subsMu.Lock()
	r.subs[id] = append(r.subs[id], ch)
	r.subsMu.Unlock()
	return ch
}

// Unsubscribe removes a previously-subscribed channel.
func (r *Registry) Unsubscribe(id string, ch <-chan domain.Job) {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	list := r.subs[id]
	for i, c := range list {
		if c == ch {
			r.subs[id] = append(list[:i], list[i+1:]...)
			break
		}
	}
}

func (r *Registry) publish(job domain.Job) {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	for _, ch := range r.subs[job.ID] {
		select {
		case ch <- job:
		default:
		}
	}
}
