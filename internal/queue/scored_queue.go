// Package queue implements the per-job candidate priority queue that sits
// between SourceResolver's streaming push and JobEngine's candidate loop.
package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/domain"
)

// PollInterval bounds how long Pop blocks before re-checking for newly
// pushed candidates when the queue is empty but the search is not yet
// complete.
const PollInterval = 150 * time.Millisecond

type entry struct {
	candidate domain.CandidateSource
	seq       int // insertion order, for the earliest-first tie-break
	tried     bool
}

// ScoredQueue merges provider pushes by stable key, keeps the result sorted
// by score descending (insertion order breaks ties), and lets a single
// consumer pop candidates while producers are still streaming results in.
type ScoredQueue struct {
	mu       sync.Mutex
	byKey    map[string]*entry
	ordered  []*entry
	seq      int
	complete bool
	waiters  chan struct{}
}

func New() *ScoredQueue {
	return &ScoredQueue{
		byKey:   make(map[string]*entry),
		waiters: make(chan struct{}),
	}
}

// Push merges a batch of candidates into the queue, dropping duplicates by
// stable key, and re-sorts by score descending. isFinal signals that no
// provider will push again; it is idempotent and terminal.
func (q *ScoredQueue) Push(candidates []domain.CandidateSource, isFinal bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, c := range candidates {
		if _, ok := q.byKey[c.StableKey]; ok {
			continue
		}
		e := &entry{candidate: c, seq: q.seq}
		q.seq++
		q.byKey[c.StableKey] = e
		q.ordered = append(q.ordered, e)
	}

	if len(candidates) > 0 {
		sort.SliceStable(q.ordered, func(i, j int) bool {
			a, b := q.ordered[i], q.ordered[j]
			// Over-bandwidth candidates always rank after the in-budget
			// set, regardless of score.
			if a.candidate.OverBandwidth != b.candidate.OverBandwidth {
				return !a.candidate.OverBandwidth
			}
			if a.candidate.Score != b.candidate.Score {
				return a.candidate.Score > b.candidate.Score
			}
			return a.seq < b.seq
		})
	}

	if isFinal {
		q.complete = true
	}

	q.notifyWaitersLocked()
}

// notifyWaitersLocked wakes any goroutine blocked in Pop. Caller must hold mu.
func (q *ScoredQueue) notifyWaitersLocked() {
	close(q.waiters)
	q.waiters = make(chan struct{})
}

// MarkTried prevents re-selection of a stable key, even if a later provider
// push re-surfaces it.
func (q *ScoredQueue) MarkTried(stableKey string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e, ok := q.byKey[stableKey]; ok {
		e.tried = true
	}
}

// Pop returns the highest-scored untried candidate. If the queue is empty
// and the search is not complete, it blocks (subject to ctx) and retries on
// a short bounded interval. Returns (zero, true) once the queue is empty
// and the search has completed.
func (q *ScoredQueue) Pop(ctx context.Context) (domain.CandidateSource, bool) {
	for {
		q.mu.Lock()
		for _, e := range q.ordered {
			if e.tried {
				continue
			}
			e.tried = true
			c := e.candidate
			q.mu.Unlock()
			return c, false
		}
		done := q.complete
		waitCh := q.waiters
		q.mu.Unlock()

		if done {
			return domain.CandidateSource{}, true
		}

		select {
		case <-ctx.Done():
			return domain.CandidateSource{}, true
		case <-waitCh:
		case <-time.After(PollInterval):
		}
	}
}

// Len reports the number of untried candidates currently queued.
func (q *ScoredQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, e := range q.ordered {
		if !e.tried {
			n++
		}
	}
	return n
}

// Complete reports whether the resolver has signalled completion.
func (q *ScoredQueue) Complete() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.complete
}
